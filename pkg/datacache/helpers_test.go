package datacache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vnykmshr/datacache-go/internal/store/memory"
	"github.com/vnykmshr/datacache-go/pkg/record"
	"github.com/vnykmshr/datacache-go/pkg/roster"
)

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeClock is a manually advanced clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: testEpoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	reg    *Registry
	clock  *fakeClock
	store  *memory.Store
	roster *roster.Static
}

func newTestEnv(t *testing.T, owner string, s *memory.Store, configure ...func(*Options)) *testEnv {
	t.Helper()
	if s == nil {
		s = memory.New()
	}
	env := &testEnv{
		clock:  newFakeClock(),
		store:  s,
		roster: roster.NewStatic(),
	}

	opts := NewDefaultOptions().
		WithOwnerID(owner).
		WithRoster(env.roster).
		WithClock(env.clock.Now).
		WithLogger(NewNoOpLogger())
	for _, fn := range configure {
		fn(opts)
	}

	reg, err := NewRegistry(opts)
	if err != nil {
		t.Fatalf("Failed to create registry: %v", err)
	}
	env.reg = reg
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = reg.Shutdown(ctx)
	})
	return env
}

func testConfig(s Store) *Config {
	return NewDefaultConfig().
		WithTemplate(record.Data{"Coins": 0, "Inventory": []any{}}).
		WithStore(s).
		WithoutRetry()
}

func (env *testEnv) cache(t *testing.T, name string, configure ...func(*Config)) *Cache {
	t.Helper()
	cfg := testConfig(env.store)
	for _, fn := range configure {
		fn(cfg)
	}
	c, err := env.reg.CreateCache(name, cfg)
	if err != nil {
		t.Fatalf("Failed to create cache %s: %v", name, err)
	}
	return c
}

// join loads id after marking it present in the roster
func (env *testEnv) join(t *testing.T, c *Cache, id int64) record.Data {
	t.Helper()
	env.roster.Join(id)
	data, err := c.Load(context.Background(), id, nil)
	if err != nil {
		t.Fatalf("Load(%d) failed: %v", id, err)
	}
	return data
}

func seedRecord(t *testing.T, s Store, key string, r *record.Record) {
	t.Helper()
	if err := s.Set(context.Background(), key, r); err != nil {
		t.Fatalf("Failed to seed %s: %v", key, err)
	}
}

func storedRecord(t *testing.T, s Store, key string) *record.Record {
	t.Helper()
	r, err := s.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Failed to read %s: %v", key, err)
	}
	return r
}

// eventually polls cond until it holds or the deadline passes
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

var errStoreDown = errors.New("store unavailable")

// flakyStore wraps a memory store and fails selected calls
type flakyStore struct {
	*memory.Store
	failGets    atomic.Bool
	failUpdates atomic.Bool
	gets        atomic.Int64
	updates     atomic.Int64
}

func newFlakyStore() *flakyStore {
	return &flakyStore{Store: memory.New()}
}

func (f *flakyStore) Get(ctx context.Context, key string) (*record.Record, error) {
	f.gets.Add(1)
	if f.failGets.Load() {
		return nil, errStoreDown
	}
	return f.Store.Get(ctx, key)
}

func (f *flakyStore) Update(ctx context.Context, key string, fn UpdateFunc) (*record.Record, error) {
	f.updates.Add(1)
	if f.failUpdates.Load() {
		return nil, errStoreDown
	}
	return f.Store.Update(ctx, key, fn)
}

// interferingStore runs before ahead of the next Update, standing in for
// another instance writing between a read and a write
type interferingStore struct {
	*memory.Store
	before func(s *memory.Store)
}

func (s *interferingStore) Update(ctx context.Context, key string, fn UpdateFunc) (*record.Record, error) {
	if before := s.before; before != nil {
		s.before = nil
		before(s.Store)
	}
	return s.Store.Update(ctx, key, fn)
}
