// Package entry holds the in-memory state of one admitted entity.
package entry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vnykmshr/datacache-go/pkg/record"
)

// State is the process-local lifecycle state of an entity
type State int32

const (
	StateUnloaded State = iota
	StateLoading
	StateAdmitted
	StateSaving
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateAdmitted:
		return "admitted"
	case StateSaving:
		return "saving"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Entry represents one entity's cached record. Data returned by Data is the
// live map; every other accessor copies.
type Entry struct {
	ID  int64
	Key string

	// mu guards record and snapshot
	mu       sync.RWMutex
	record   *record.Record
	snapshot record.Data

	state  atomic.Int32
	kicked atomic.Bool

	// write is a one-slot semaphore serializing store writes for the entity
	write   chan struct{}
	writing atomic.Int32

	// Scheduler bookkeeping, guarded by schedMu
	schedMu        sync.Mutex
	joinedAt       time.Time
	lastAutosave   time.Time
	lastLockCheck  time.Time
	deferrals      int
	departing      bool
	autosaveCancel context.CancelFunc
}

// New creates an entry in the Loading state
func New(id int64, key string) *Entry {
	e := &Entry{
		ID:    id,
		Key:   key,
		write: make(chan struct{}, 1),
	}
	e.state.Store(int32(StateLoading))
	return e
}

// Admit installs the admitted record and moves the entry to Admitted
func (e *Entry) Admit(r *record.Record, now time.Time) {
	e.mu.Lock()
	e.record = r
	e.snapshot = record.Clone(r.Data)
	e.mu.Unlock()

	e.schedMu.Lock()
	e.joinedAt = now
	e.lastAutosave = now
	e.lastLockCheck = now
	e.schedMu.Unlock()

	e.state.Store(int32(StateAdmitted))
}

// State returns the current lifecycle state
func (e *Entry) State() State {
	return State(e.state.Load())
}

// SetState moves the entry to s
func (e *Entry) SetState(s State) {
	e.state.Store(int32(s))
}

// Admitted reports whether the entry is fully admitted
func (e *Entry) Admitted() bool {
	return e.State() == StateAdmitted
}

// Data returns the live payload map
func (e *Entry) Data() record.Data {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.record == nil {
		return nil
	}
	return e.record.Data
}

// Record returns a deep copy of the full record
func (e *Entry) Record() *record.Record {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.record.Clone()
}

// Update runs fn with the live record while holding the entry lock
func (e *Entry) Update(fn func(r *record.Record)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.record != nil {
		fn(e.record)
	}
}

// Replace swaps the payload for data, keeping the session block
func (e *Entry) Replace(data record.Data) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.record != nil {
		e.record.Data = data
	}
}

// Diff compares the live data with the last observed snapshot. When they
// differ it returns copies of both and advances the snapshot.
func (e *Entry) Diff() (old, cur record.Data, changed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.record == nil || record.Equal(e.snapshot, e.record.Data) {
		return nil, nil, false
	}
	old = e.snapshot
	e.snapshot = record.Clone(e.record.Data)
	return old, record.Clone(e.snapshot), true
}

// Kick marks the entry as forcibly removed; pending writes must abort
func (e *Entry) Kick() {
	e.kicked.Store(true)
}

// Kicked reports whether Kick was called
func (e *Entry) Kicked() bool {
	return e.kicked.Load()
}

// AcquireWrite takes the entity's write slot, waiting until it is free or
// ctx is done
func (e *Entry) AcquireWrite(ctx context.Context) error {
	e.writing.Add(1)
	select {
	case e.write <- struct{}{}:
		return nil
	case <-ctx.Done():
		e.writing.Add(-1)
		return ctx.Err()
	}
}

// ReleaseWrite frees the write slot
func (e *Entry) ReleaseWrite() {
	<-e.write
	e.writing.Add(-1)
}

// Writing reports whether a write holds or awaits the slot
func (e *Entry) Writing() bool {
	return e.writing.Load() > 0
}

// JoinedAt returns when the entity was admitted
func (e *Entry) JoinedAt() time.Time {
	e.schedMu.Lock()
	defer e.schedMu.Unlock()
	return e.joinedAt
}

// AutosaveDue reports whether interval has elapsed since the last autosave
func (e *Entry) AutosaveDue(now time.Time, interval time.Duration) bool {
	e.schedMu.Lock()
	defer e.schedMu.Unlock()
	return now.Sub(e.lastAutosave) >= interval
}

// ScheduleAutosave records now as the last autosave and stores cancel for
// the trigger, cancelling the one it replaces
func (e *Entry) ScheduleAutosave(now time.Time, cancel context.CancelFunc) {
	e.schedMu.Lock()
	prev := e.autosaveCancel
	e.autosaveCancel = cancel
	e.lastAutosave = now
	e.schedMu.Unlock()

	if prev != nil {
		prev()
	}
}

// CancelAutosave cancels the pending autosave trigger, if any
func (e *Entry) CancelAutosave() {
	e.schedMu.Lock()
	cancel := e.autosaveCancel
	e.autosaveCancel = nil
	e.schedMu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// LockCheckDue reports whether a cross-instance lock check should run and,
// if so, records now as the time of the check
func (e *Entry) LockCheckDue(now time.Time, interval time.Duration) bool {
	e.schedMu.Lock()
	defer e.schedMu.Unlock()
	if now.Sub(e.lastLockCheck) < interval {
		return false
	}
	e.lastLockCheck = now
	return true
}

// Defer counts one postponed eviction and returns the new total
func (e *Entry) Defer() int {
	e.schedMu.Lock()
	defer e.schedMu.Unlock()
	e.deferrals++
	return e.deferrals
}

// Deferred reports whether an eviction is currently postponed
func (e *Entry) Deferred() bool {
	e.schedMu.Lock()
	defer e.schedMu.Unlock()
	return e.deferrals > 0
}

// ResetDeferrals clears the postponed eviction count
func (e *Entry) ResetDeferrals() {
	e.schedMu.Lock()
	e.deferrals = 0
	e.schedMu.Unlock()
}

// StartDeparting marks the entry as waiting out its grace period. It
// returns false if a wait is already running.
func (e *Entry) StartDeparting() bool {
	e.schedMu.Lock()
	defer e.schedMu.Unlock()
	if e.departing {
		return false
	}
	e.departing = true
	return true
}

// StopDeparting clears the departing flag
func (e *Entry) StopDeparting() {
	e.schedMu.Lock()
	e.departing = false
	e.schedMu.Unlock()
}
