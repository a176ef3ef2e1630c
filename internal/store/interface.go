package store

import (
	"context"
	"errors"

	"github.com/vnykmshr/datacache-go/pkg/record"
)

// ErrConflict is returned by Update when the store detected a concurrent
// modification of the key and discarded the write
var ErrConflict = errors.New("store: concurrent modification")

// ErrClosed is returned by operations on a closed store
var ErrClosed = errors.New("store: closed")

// UpdateFunc receives the latest stored record (nil if absent) and returns
// the record to write. Returning an error aborts the update and leaves the
// stored value untouched.
type UpdateFunc func(latest *record.Record) (*record.Record, error)

// Store defines the interface for backing key-value stores
// Implementations are shared across process instances and must provide
// per-key atomicity for Update.
type Store interface {
	// Get returns the stored record, or nil and no error when the key is absent
	Get(ctx context.Context, key string) (*record.Record, error)

	// Set unconditionally overwrites the record stored at key
	Set(ctx context.Context, key string, r *record.Record) error

	// Update performs an atomic compare-and-swap driven by fn and returns
	// the record that was written
	Update(ctx context.Context, key string, fn UpdateFunc) (*record.Record, error)

	// Close releases resources held by the store
	Close() error
}
