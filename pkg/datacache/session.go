package datacache

import (
	"time"

	"github.com/vnykmshr/datacache-go/pkg/record"
)

// Admission is the arbiter's verdict on a stored record
type Admission int

const (
	// AdmitFresh means no live session was recorded
	AdmitFresh Admission = iota
	// AdmitOwn means the session already belongs to this process
	AdmitOwn
	// AdmitTakeover means a foreign session expired and may be claimed
	AdmitTakeover
	// Reject means a foreign session is live
	Reject
)

func (a Admission) String() string {
	switch a {
	case AdmitFresh:
		return "fresh"
	case AdmitOwn:
		return "own"
	case AdmitTakeover:
		return "takeover"
	case Reject:
		return "reject"
	default:
		return "unknown"
	}
}

// Admitted reports whether the verdict allows loading
func (a Admission) Admitted() bool {
	return a != Reject
}

// sessionAge returns how long ago the session was last renewed
func sessionAge(s *record.Session, now time.Time) time.Duration {
	return now.Sub(time.Unix(s.Timestamp, 0))
}

// Arbitrate decides whether owner may admit stored at now
func Arbitrate(stored *record.Record, owner string, now time.Time, timeout time.Duration) Admission {
	if !stored.SessionActive() {
		return AdmitFresh
	}
	if stored.Session.Owner == owner {
		return AdmitOwn
	}
	if sessionAge(stored.Session, now) >= timeout {
		return AdmitTakeover
	}
	return Reject
}

// foreignClaim reports whether latest carries a live session of another owner
func foreignClaim(latest *record.Record, owner string, now time.Time, timeout time.Duration) bool {
	return Arbitrate(latest, owner, now, timeout) == Reject
}

// claim stamps an active session for owner
func claim(r *record.Record, owner string, now time.Time) {
	r.Session = &record.Session{Active: true, Owner: owner, Timestamp: now.Unix()}
}

// release clears the session and bumps the version
func release(r *record.Record, now time.Time) {
	r.Session = &record.Session{Active: false}
	r.Version++
	r.LastLeft = now.Unix()
}

// casCheck validates the store's latest record against the version the entity
// was loaded at. A live foreign claim is reported before a version mismatch.
// A missing record is accepted.
func casCheck(latest *record.Record, version int64, owner string, now time.Time, timeout time.Duration) error {
	if latest == nil {
		return nil
	}
	if foreignClaim(latest, owner, now, timeout) {
		return ErrSessionLocked
	}
	if latest.Version != version {
		return ErrVersionConflict
	}
	return nil
}
