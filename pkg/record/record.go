// Package record defines the persisted per-entity record and the structural
// helpers (clone, equality, reconciliation) that operate on its payload.
package record

// Data is the application payload of a record. Values are scalars (string,
// bool, any integer or float type), sequences ([]any) or nested Data /
// map[string]any values.
type Data = map[string]any

// Session is the lock triple used to arbitrate single-writer access to a
// record across process instances sharing one backing store.
type Session struct {
	Active    bool   `json:"active" msgpack:"active"`
	Owner     string `json:"owner,omitempty" msgpack:"owner,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty" msgpack:"timestamp,omitempty"`
}

// Record is the persisted unit for one entity
type Record struct {
	// Data is the application payload
	Data Data `json:"data" msgpack:"data"`

	// Version increases by one on every release write and is used for
	// optimistic-concurrency conflict detection
	Version int64 `json:"version" msgpack:"version"`

	// Session is nil when the record was never claimed
	Session *Session `json:"session,omitempty" msgpack:"session,omitempty"`

	// LastJoined and LastLeft are informational unix timestamps
	LastJoined int64 `json:"lastJoined" msgpack:"lastJoined"`
	LastLeft   int64 `json:"lastLeft,omitempty" msgpack:"lastLeft,omitempty"`
}

// InitialVersion is the version of a record that has never been released
const InitialVersion int64 = 1

// New returns a fresh record holding data at the initial version
func New(data Data) *Record {
	if data == nil {
		data = Data{}
	}
	return &Record{Data: data, Version: InitialVersion}
}

// Clone returns a deep copy of the record
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Data = Clone(r.Data)
	if r.Session != nil {
		s := *r.Session
		c.Session = &s
	}
	return &c
}

// SessionActive reports whether the record carries an active session lock
func (r *Record) SessionActive() bool {
	return r != nil && r.Session != nil && r.Session.Active
}

// OwnedBy reports whether the record's active session belongs to owner
func (r *Record) OwnedBy(owner string) bool {
	return r.SessionActive() && r.Session.Owner == owner
}
