package datacache

import (
	"errors"
	"testing"
	"time"

	"github.com/vnykmshr/datacache-go/pkg/record"
)

func TestArbitrate(t *testing.T) {
	now := time.Unix(10_000, 0)
	timeout := 30 * time.Minute

	withSession := func(active bool, owner string, age time.Duration) *record.Record {
		r := record.New(nil)
		r.Session = &record.Session{Active: active, Owner: owner, Timestamp: now.Add(-age).Unix()}
		return r
	}

	tests := []struct {
		name   string
		stored *record.Record
		want   Admission
	}{
		{"absent", nil, AdmitFresh},
		{"never claimed", record.New(nil), AdmitFresh},
		{"released", withSession(false, "other", time.Minute), AdmitFresh},
		{"own", withSession(true, "me", time.Minute), AdmitOwn},
		{"foreign live", withSession(true, "other", 29*time.Minute), Reject},
		{"foreign at timeout", withSession(true, "other", 30*time.Minute), AdmitTakeover},
		{"foreign stale", withSession(true, "other", 40*time.Minute), AdmitTakeover},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Arbitrate(tt.stored, "me", now, timeout); got != tt.want {
				t.Fatalf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestSessionTransitions(t *testing.T) {
	now := time.Unix(5000, 0)
	r := record.New(record.Data{"Coins": 1})

	claim(r, "me", now)
	if !r.OwnedBy("me") || r.Session.Timestamp != 5000 || r.Version != 1 {
		t.Fatalf("Unexpected claim %+v %+v", r, r.Session)
	}

	release(r, now.Add(time.Minute))
	if r.SessionActive() || r.Session.Owner != "" {
		t.Fatalf("Expected cleared session, got %+v", r.Session)
	}
	if r.Version != 2 || r.LastLeft != 5060 {
		t.Fatalf("Expected version 2 and lastLeft 5060, got %d %d", r.Version, r.LastLeft)
	}
}

func TestCASCheck(t *testing.T) {
	now := time.Unix(10_000, 0)
	timeout := 30 * time.Minute

	if err := casCheck(nil, 1, "me", now, timeout); err != nil {
		t.Fatalf("Missing record should pass, got %v", err)
	}

	latest := record.New(nil)
	latest.Version = 3
	if err := casCheck(latest, 2, "me", now, timeout); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("Expected ErrVersionConflict, got %v", err)
	}

	claim(latest, "other", now.Add(-time.Minute))
	if err := casCheck(latest, 3, "me", now, timeout); !errors.Is(err, ErrSessionLocked) {
		t.Fatalf("Expected ErrSessionLocked, got %v", err)
	}

	claim(latest, "other", now.Add(-time.Hour))
	if err := casCheck(latest, 3, "me", now, timeout); err != nil {
		t.Fatalf("Stale foreign claim should pass, got %v", err)
	}
}
