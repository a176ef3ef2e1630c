package datacache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vnykmshr/datacache-go/internal/budget"
)

// storeSetupTimeout bounds connecting a cache's backing store
const storeSetupTimeout = 5 * time.Second

// Registry owns every named cache of a process, the shared store budget and
// the scheduler that drives autosaves and eviction checks.
type Registry struct {
	opts   *Options
	logger Logger
	budget *budget.Budget

	mu         sync.Mutex
	caches     map[string]*Cache
	order      []string
	registered chan struct{}
	draining   bool
	entities   int
	lastDrain  *DrainReport

	// ticking guards against overlapping scheduler passes
	ticking      atomic.Bool
	droppedTicks atomic.Int64

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	tickWg sync.WaitGroup
}

// NewRegistry creates a registry; nil opts uses NewDefaultOptions
func NewRegistry(opts *Options) (*Registry, error) {
	if opts == nil {
		opts = NewDefaultOptions()
	}
	o := *opts
	o.normalize()

	r := &Registry{
		opts:   &o,
		logger: o.Logger,
		budget: budget.New(budget.Config{
			Base:      o.BudgetBase,
			PerEntity: o.BudgetPerEntity,
			Window:    o.BudgetWindow,
		}),
		caches:     make(map[string]*Cache),
		registered: make(chan struct{}),
	}

	r.logger.Debug("Registry created",
		F("owner", o.OwnerID),
		F("tick_interval", o.TickInterval.String()),
		F("session_lock_timeout", o.SessionLockTimeout.String()))
	return r, nil
}

// OwnerID returns the identity written into session claims
func (r *Registry) OwnerID() string {
	return r.opts.OwnerID
}

// Options returns a copy of the effective options
func (r *Registry) Options() Options {
	return *r.opts
}

// CreateCache registers a cache called name. A nil config uses
// NewDefaultConfig.
func (r *Registry) CreateCache(name string, config *Config) (*Cache, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: cache name is required", ErrInvalidConfig)
	}
	if config == nil {
		config = NewDefaultConfig()
	}
	cfg := *config
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.draining {
		r.mu.Unlock()
		return nil, ErrDraining
	}
	if _, exists := r.caches[name]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrCacheExists, name)
	}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), storeSetupTimeout)
	defer cancel()
	s, err := cfg.newStore(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("cache %s: failed to create store: %w", name, err)
	}

	c := newCache(r, name, &cfg, s)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.caches[name]; exists || r.draining {
		_ = c.close()
		if r.draining {
			return nil, ErrDraining
		}
		return nil, fmt.Errorf("%w: %s", ErrCacheExists, name)
	}
	r.caches[name] = c
	r.order = append(r.order, name)
	close(r.registered)
	r.registered = make(chan struct{})

	r.logger.Info("Cache created", F("cache", name), F("store", cfg.StoreType.String()))
	return c, nil
}

// Cache returns the cache called name if it is registered
func (r *Registry) Cache(name string) (*Cache, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.caches[name]
	return c, ok
}

// GetCache waits until a cache called name is registered or ctx is done
func (r *Registry) GetCache(ctx context.Context, name string) (*Cache, error) {
	for {
		r.mu.Lock()
		c, ok := r.caches[name]
		wait := r.registered
		r.mu.Unlock()
		if ok {
			return c, nil
		}

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrCacheNotFound, name, ctx.Err())
		}
	}
}

// Caches returns every registered cache in creation order
func (r *Registry) Caches() []*Cache {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Cache, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.caches[name])
	}
	return out
}

// Entities returns the number of admitted entities across all caches
func (r *Registry) Entities() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entities
}

// Budget returns the per-window token budget for the current entity count
func (r *Registry) Budget() int {
	return r.budget.Limit()
}

// DroppedTicks returns how many scheduler ticks were skipped because the
// previous pass was still running
func (r *Registry) DroppedTicks() int64 {
	return r.droppedTicks.Load()
}

// entitiesChanged adjusts the admitted count and resizes the budget
func (r *Registry) entitiesChanged(delta int) {
	if delta == 0 {
		return
	}
	r.mu.Lock()
	r.entities += delta
	n := r.entities
	r.mu.Unlock()
	r.budget.Resize(n)
}

// Start runs the scheduler until ctx is done or Stop is called. Calling
// Start on a running registry does nothing.
func (r *Registry) Start(ctx context.Context) {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.run(ctx, r.done)
}

func (r *Registry) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.tickWg.Wait()
			return
		case <-ticker.C:
			if !r.ticking.CompareAndSwap(false, true) {
				r.droppedTicks.Add(1)
				continue
			}
			r.tickWg.Add(1)
			go func() {
				defer r.tickWg.Done()
				defer r.ticking.Store(false)
				r.pass(ctx)
			}()
		}
	}
}

// Stop halts the scheduler and waits for a running pass to finish
func (r *Registry) Stop() {
	r.runMu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Tick runs one scheduler pass synchronously. It returns false when another
// pass was already running.
func (r *Registry) Tick(ctx context.Context) bool {
	if !r.ticking.CompareAndSwap(false, true) {
		r.droppedTicks.Add(1)
		return false
	}
	defer r.ticking.Store(false)
	r.pass(ctx)
	return true
}

func (r *Registry) pass(ctx context.Context) {
	now := r.opts.Now()
	for _, c := range r.Caches() {
		if ctx.Err() != nil {
			return
		}
		c.tick(ctx, now)
	}
}
