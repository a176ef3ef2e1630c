package memory

import (
	"context"
	"sync"

	"github.com/vnykmshr/datacache-go/internal/store"
	"github.com/vnykmshr/datacache-go/pkg/record"
)

// Store implements an in-process backing store. Records are deep-copied on
// the way in and out so callers never share memory with the store.
// A single Store may be shared by several registries to simulate multiple
// server instances in one process.
type Store struct {
	mu      sync.Mutex
	records map[string]*record.Record
	closed  bool
}

// New creates an empty memory store
func New() *Store {
	return &Store{records: make(map[string]*record.Record)}
}

// Get returns a copy of the stored record
func (s *Store) Get(ctx context.Context, key string) (*record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, store.ErrClosed
	}
	return s.records[key].Clone(), nil
}

// Set stores a copy of r
func (s *Store) Set(ctx context.Context, key string, r *record.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}
	s.records[key] = r.Clone()
	return nil
}

// Update runs fn while holding the store lock, which makes the
// read-modify-write atomic for every key
func (s *Store) Update(ctx context.Context, key string, fn store.UpdateFunc) (*record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, store.ErrClosed
	}

	next, err := fn(s.records[key].Clone())
	if err != nil {
		return nil, err
	}
	s.records[key] = next.Clone()
	return next, nil
}

// Delete removes a key; used by tooling and tests
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
}

// Len returns the number of stored records
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Close marks the store closed; later calls fail with store.ErrClosed
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ store.Store = (*Store)(nil)
