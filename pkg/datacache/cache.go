package datacache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vnykmshr/datacache-go/internal/entry"
	"github.com/vnykmshr/datacache-go/internal/retry"
	"github.com/vnykmshr/datacache-go/internal/singleflight"
	"github.com/vnykmshr/datacache-go/pkg/filter"
	"github.com/vnykmshr/datacache-go/pkg/metrics"
	"github.com/vnykmshr/datacache-go/pkg/record"
)

// Cache holds the admitted records of one named dataset. Each entity is
// written by at most one operation at a time.
type Cache struct {
	name   string
	reg    *Registry
	config *Config
	store  Store
	hooks  *Hooks
	logger Logger
	stats  *Stats
	sf     singleflight.Group[int64, *record.Record]

	// ownStore is false when the caller supplied Config.Store
	ownStore bool

	mu        sync.Mutex
	entries   map[int64]*entry.Entry
	releasing map[int64]chan struct{}
	draining  bool
	admitted  int

	loading  sync.WaitGroup
	inflight sync.WaitGroup
	stop     chan struct{}

	// ctx scopes background work and is cancelled by close
	ctx    context.Context
	cancel context.CancelFunc

	// Metrics
	metricsExporter metrics.Exporter
	metricsLabels   metrics.Labels
	metricsStop     chan struct{}
	metricsWg       sync.WaitGroup
}

func newCache(reg *Registry, name string, config *Config, s Store) *Cache {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		name:      name,
		reg:       reg,
		config:    config,
		store:     s,
		hooks:     config.Hooks,
		logger:    reg.logger.With(F("cache", name)),
		stats:     &Stats{},
		ownStore:  config.Store == nil,
		entries:   make(map[int64]*entry.Entry),
		releasing: make(map[int64]chan struct{}),
		stop:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	c.initializeMetrics()
	return c
}

// Name returns the registered cache name
func (c *Cache) Name() string {
	return c.name
}

// Key returns the store key of id
func (c *Cache) Key(id int64) string {
	return c.config.KeyTemplate.Key(id)
}

// Stats returns the cache counters
func (c *Cache) Stats() *Stats {
	return c.stats
}

// Hooks returns the cache event hooks
func (c *Cache) Hooks() *Hooks {
	return c.hooks
}

// Len returns the number of admitted entities
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.admitted
}

// Admitted returns the ids of admitted entities in ascending order
func (c *Cache) Admitted() []int64 {
	entries := c.admittedEntries()
	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

func (c *Cache) admittedEntries() []*entry.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*entry.Entry, 0, len(c.entries))
	for _, e := range c.entries {
		if e.Admitted() {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Cache) lookup(id int64) *entry.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e := c.entries[id]; e != nil && e.Admitted() {
		return e
	}
	return nil
}

// remove drops e from the entry map if it is still the registered entry. It
// reports whether e was removed while admitted.
func (c *Cache) remove(e *entry.Entry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries[e.ID] != e {
		return false
	}
	delete(c.entries, e.ID)
	if !e.Admitted() {
		return false
	}
	c.setAdmittedLocked(c.admitted - 1)
	return true
}

func (c *Cache) setAdmittedLocked(n int) {
	delta := n - c.admitted
	c.admitted = n
	c.stats.setAdmitted(n)
	c.reg.entitiesChanged(delta)
}

func (c *Cache) isDraining() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draining
}

func (c *Cache) now() time.Time {
	return c.reg.opts.Now()
}

func (c *Cache) owner() string {
	return c.reg.opts.OwnerID
}

// Load admits id into the cache and returns its live data map.
//
// The stored record is fetched with retry. If every attempt fails, the entity
// is admitted with seed (or the template when seed is nil) reconciled
// against the template. A live session held by another instance rejects the
// load with ErrSessionLocked and kicks the entity through the roster.
// The session claim is persisted before Load returns.
func (c *Cache) Load(ctx context.Context, id int64, seed record.Data) (record.Data, error) {
	start := time.Now()

	c.mu.Lock()
	if c.draining {
		c.mu.Unlock()
		return nil, ErrDraining
	}
	if _, ok := c.entries[id]; ok {
		c.mu.Unlock()
		return nil, ErrAlreadyLoaded
	}
	e := entry.New(id, c.Key(id))
	c.entries[id] = e
	pending := c.releasing[id]
	c.loading.Add(1)
	c.mu.Unlock()
	defer c.loading.Done()

	if pending != nil {
		select {
		case <-pending:
		case <-ctx.Done():
			c.abandon(e)
			return nil, ctx.Err()
		}
	}

	stored, err := c.fetch(ctx, e.Key)
	fetchFailed := err != nil
	if fetchFailed {
		if ctx.Err() != nil {
			c.abandon(e)
			return nil, ctx.Err()
		}
		c.logger.Error("Failed to fetch record, loading from seed",
			F("entity", id), F("key", e.Key), F("error", err))
		stored = nil
	}

	now := c.now()
	switch verdict := Arbitrate(stored, c.owner(), now, c.reg.opts.SessionLockTimeout); verdict {
	case Reject:
		c.reject(e, stored, now)
		c.recordOperation(metrics.OperationLoad, metrics.ResultRejected, time.Since(start))
		return nil, ErrSessionLocked
	case AdmitTakeover:
		c.stats.inc(&c.stats.takeovers)
		c.logger.Info("Taking over stale session lock",
			F("entity", id),
			F("previous_owner", stored.Session.Owner),
			F("age", sessionAge(stored.Session, now).String()))
	}

	var r *record.Record
	if stored != nil {
		r = stored.Clone()
	} else {
		r = record.New(record.Clone(seed))
	}
	if r.Data == nil {
		r.Data = record.Data{}
	}
	if r.Version < record.InitialVersion {
		r.Version = record.InitialVersion
	}

	if c.config.FilterStrings {
		filter.Apply(ctx, c.config.Filter, id, r.Data, filter.Options{
			Mode:        c.config.FilterMode,
			Keys:        c.config.FilterKeys,
			Placeholder: c.config.FilterPlaceholder,
			OnError: func(key string, err error) {
				c.logger.Warn("String filtering failed", F("entity", id), F("field", key), F("error", err))
			},
		})
	}

	r.Data = c.reconcile(r.Data)
	claim(r, c.owner(), now)
	r.LastJoined = now.Unix()

	c.mu.Lock()
	e.Admit(r, now)
	c.setAdmittedLocked(c.admitted + 1)
	c.mu.Unlock()

	c.stats.inc(&c.stats.loads)
	c.hooks.invokeOnLoaded(id, e.Record().Data)

	if _, err := c.write(ctx, e, writeClaim, nil); err != nil {
		switch {
		case errors.Is(err, ErrSessionLocked):
			// another instance claimed the record between our read and write
			c.stats.inc(&c.stats.rejections)
			c.kick(e, "session claimed by another instance")
			c.recordOperation(metrics.OperationLoad, metrics.ResultRejected, time.Since(start))
			return nil, ErrSessionLocked
		case errors.Is(err, ErrVersionConflict) && fetchFailed:
			// the fallback data is older than the stored record; the CAS keeps
			// the stored record and the entity stays admitted
			c.logger.Error("Stored record is newer than fallback data, claim not persisted",
				F("entity", id), F("key", e.Key), F("error", err))
		case errors.Is(err, ErrVersionConflict):
			// the record was rewritten between our read and write
			c.abandon(e)
			c.recordOperation(metrics.OperationLoad, metrics.ResultRejected, time.Since(start))
			return nil, fmt.Errorf("claim %s: %w", e.Key, err)
		default:
			c.logger.Error("Failed to persist session claim", F("entity", id), F("error", err))
		}
	}

	c.recordOperation(metrics.OperationLoad, metrics.ResultSuccess, time.Since(start))
	return e.Data(), nil
}

func (c *Cache) reconcile(data record.Data) record.Data {
	if c.config.ReplaceTypes {
		return record.ReconcileReplacingTypes(data, c.config.Template)
	}
	return record.Reconcile(data, c.config.Template)
}

// abandon removes an entry whose load did not complete
func (c *Cache) abandon(e *entry.Entry) {
	c.remove(e)
	e.SetState(entry.StateUnloaded)
}

func (c *Cache) reject(e *entry.Entry, stored *record.Record, now time.Time) {
	c.remove(e)
	e.Kick()
	e.SetState(entry.StateRejected)
	c.stats.inc(&c.stats.rejections)

	c.logger.Warn("Session active on another instance, rejecting load",
		F("entity", e.ID),
		F("owner", stored.Session.Owner),
		F("age", sessionAge(stored.Session, now).String()))

	if r := c.reg.opts.Roster; r != nil {
		r.Kick(e.ID, c.reg.opts.KickMessage)
	}
	c.hooks.invokeOnKicked(e.ID, "session locked")
}

// SaveOption customizes Save
type SaveOption func(*saveOptions)

type saveOptions struct {
	autosave bool
	mutate   func(*record.Record)
}

// WithAutosave keeps the entity admitted and refreshes its session claim
// instead of releasing it
func WithAutosave() SaveOption {
	return func(o *saveOptions) { o.autosave = true }
}

// WithMutator applies fn to the outgoing snapshot before it is written. The
// in-memory record is not changed.
func WithMutator(fn func(*record.Record)) SaveOption {
	return func(o *saveOptions) { o.mutate = fn }
}

// Save writes id back to the store. Without WithAutosave the entity is
// released: it leaves the cache before the write starts, and the write
// clears its session and increments its version.
func (c *Cache) Save(ctx context.Context, id int64, opts ...SaveOption) error {
	var o saveOptions
	for _, opt := range opts {
		opt(&o)
	}
	start := time.Now()

	if o.autosave {
		e := c.lookup(id)
		if e == nil {
			return ErrNotLoaded
		}
		_, err := c.write(ctx, e, writeAutosave, o.mutate)
		c.recordOperation(metrics.OperationAutosave, resultOf(err), time.Since(start))
		return err
	}

	c.mu.Lock()
	e := c.entries[id]
	if e == nil || !e.Admitted() {
		c.mu.Unlock()
		return ErrNotLoaded
	}
	delete(c.entries, id)
	c.setAdmittedLocked(c.admitted - 1)
	e.SetState(entry.StateSaving)
	done := make(chan struct{})
	c.releasing[id] = done
	c.mu.Unlock()

	e.CancelAutosave()
	written, err := c.write(ctx, e, writeRelease, o.mutate)
	e.SetState(entry.StateUnloaded)

	c.mu.Lock()
	delete(c.releasing, id)
	close(done)
	c.mu.Unlock()

	c.recordOperation(metrics.OperationSave, resultOf(err), time.Since(start))
	if err != nil {
		c.logger.Error("Failed to release entity", F("entity", id), F("error", err))
		return fmt.Errorf("release %s: %w", e.Key, err)
	}

	c.stats.inc(&c.stats.releases)
	c.hooks.invokeOnReleased(id, written)
	return nil
}

type writeMode int

const (
	// writeClaim persists the session claimed by Load and notifies AutoSave
	// listeners
	writeClaim writeMode = iota
	// writeAutosave refreshes the claim and notifies AutoSave listeners
	writeAutosave
	// writeRelease clears the session and bumps the version
	writeRelease
)

// write persists a snapshot of e through a compare-and-swap update. The
// snapshot is taken after the entity's write slot is acquired.
func (c *Cache) write(ctx context.Context, e *entry.Entry, mode writeMode, mutate func(*record.Record)) (*record.Record, error) {
	if err := e.AcquireWrite(ctx); err != nil {
		return nil, err
	}
	defer e.ReleaseWrite()

	if e.Kicked() {
		return nil, ErrKicked
	}
	if mode != writeRelease && !e.Admitted() {
		return nil, ErrNotLoaded
	}

	snap := e.Record()
	if snap == nil {
		return nil, ErrNotLoaded
	}
	loaded := snap.Version
	if c.config.CompressFloats {
		record.RoundFloats(snap.Data, c.config.FloatPlaces)
	}
	if mutate != nil {
		mutate(snap)
	}

	now := c.now()
	owner := c.owner()
	if mode == writeRelease {
		release(snap, now)
	} else {
		claim(snap, owner, now)
		c.hooks.invokeOnAutoSave(e.ID, snap)
	}

	var written *record.Record
	err := c.withRetry(ctx, "update", e.Key, func() error {
		if err := c.reg.budget.WaitWrite(ctx); err != nil {
			return retry.Permanent(err)
		}
		c.stats.inc(&c.stats.storeWrites)
		w, err := c.store.Update(ctx, e.Key, func(latest *record.Record) (*record.Record, error) {
			if e.Kicked() {
				return nil, ErrKicked
			}
			if err := casCheck(latest, loaded, owner, now, c.reg.opts.SessionLockTimeout); err != nil {
				return nil, err
			}
			return snap.Clone(), nil
		})
		if errors.Is(err, ErrKicked) {
			return retry.Permanent(err)
		}
		written = w
		return err
	})

	if err != nil {
		c.stats.inc(&c.stats.saveFailures)
		if errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrSessionLocked) {
			c.stats.inc(&c.stats.conflicts)
		}
		return nil, err
	}

	if mode == writeAutosave {
		c.stats.inc(&c.stats.autosaves)
	}
	if mode != writeRelease {
		session := *written.Session
		e.Update(func(r *record.Record) { r.Session = &session })
	}
	return written, nil
}

// fetch reads key from the store within the read budget
func (c *Cache) fetch(ctx context.Context, key string) (*record.Record, error) {
	var out *record.Record
	err := c.withRetry(ctx, "get", key, func() error {
		if err := c.reg.budget.WaitRead(ctx); err != nil {
			return retry.Permanent(err)
		}
		c.stats.inc(&c.stats.storeReads)
		r, err := c.store.Get(ctx, key)
		if err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

// put overwrites key within the write budget
func (c *Cache) put(ctx context.Context, key string, r *record.Record) error {
	return c.withRetry(ctx, "set", key, func() error {
		if err := c.reg.budget.WaitWrite(ctx); err != nil {
			return retry.Permanent(err)
		}
		c.stats.inc(&c.stats.storeWrites)
		return c.store.Set(ctx, key, r)
	})
}

func (c *Cache) withRetry(ctx context.Context, op, key string, fn func() error) error {
	attempts := c.config.attempts()
	err := retry.Do(ctx, attempts, c.config.RetryDelay, fn, func(err error, delay time.Duration) {
		c.logger.Debug("Retrying store call", F("op", op), F("key", key), F("delay", delay.String()), F("error", err))
	})
	if err != nil && attempts > 1 && ctx.Err() == nil && !errors.Is(err, ErrKicked) {
		c.logger.Error("Store call failed after retries", F("op", op), F("key", key), F("attempts", attempts), F("error", err))
	}
	return err
}

// Get returns the live data map of an admitted entity. Callers may mutate
// it between Load and Save; concurrent mutation from several goroutines
// must go through Update instead.
func (c *Cache) Get(id int64) (record.Data, bool) {
	e := c.lookup(id)
	if e == nil {
		return nil, false
	}
	return e.Data(), true
}

// GetRaw returns a deep copy of the full record, including version and
// session
func (c *Cache) GetRaw(id int64) (*record.Record, bool) {
	e := c.lookup(id)
	if e == nil {
		return nil, false
	}
	return e.Record(), true
}

// Update runs fn on the live data while holding the entity's data lock
func (c *Cache) Update(id int64, fn func(data record.Data)) bool {
	e := c.lookup(id)
	if e == nil {
		return false
	}
	e.Update(func(r *record.Record) { fn(r.Data) })
	return true
}

// Wipe resets id to a fresh copy of the template, keeps its session and
// overwrites the stored record
func (c *Cache) Wipe(ctx context.Context, id int64) error {
	start := time.Now()
	e := c.lookup(id)
	if e == nil {
		return ErrNotLoaded
	}

	if err := e.AcquireWrite(ctx); err != nil {
		return err
	}
	defer e.ReleaseWrite()

	e.Replace(record.Clone(c.config.Template))
	snap := e.Record()
	if c.config.CompressFloats {
		record.RoundFloats(snap.Data, c.config.FloatPlaces)
	}

	err := c.put(ctx, e.Key, snap)
	c.recordOperation(metrics.OperationWipe, resultOf(err), time.Since(start))
	if err != nil {
		c.stats.inc(&c.stats.saveFailures)
		return fmt.Errorf("wipe %s: %w", e.Key, err)
	}

	c.stats.inc(&c.stats.wipes)
	c.hooks.invokeOnWiped(id)
	return nil
}

// GetDataAsync returns the authoritative record of id: a copy of the
// in-memory record if admitted here, otherwise the stored record (nil if
// absent). Concurrent reads of the same id share one store call.
func (c *Cache) GetDataAsync(ctx context.Context, id int64) (*record.Record, error) {
	start := time.Now()
	if e := c.lookup(id); e != nil {
		c.recordOperation(metrics.OperationGetData, metrics.ResultSuccess, time.Since(start))
		return e.Record(), nil
	}

	key := c.Key(id)
	r, err, _ := c.sf.DoContext(ctx, id, func() (*record.Record, error) {
		return c.fetch(context.WithoutCancel(ctx), key)
	})
	c.recordOperation(metrics.OperationGetData, resultOf(err), time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return r.Clone(), nil
}

// SaveDataAsync overwrites the stored record of id. Unless force is set it
// refuses with ErrSessionActive while the stored session is active; the
// check runs inside the store's compare-and-swap update.
func (c *Cache) SaveDataAsync(ctx context.Context, id int64, r *record.Record, force bool) error {
	if r == nil {
		return fmt.Errorf("save data: nil record")
	}
	start := time.Now()
	key := c.Key(id)

	out := r.Clone()
	if out.Version < record.InitialVersion {
		out.Version = record.InitialVersion
	}
	if out.Data == nil {
		out.Data = record.Data{}
	}

	err := c.withRetry(ctx, "update", key, func() error {
		if err := c.reg.budget.WaitWrite(ctx); err != nil {
			return retry.Permanent(err)
		}
		c.stats.inc(&c.stats.storeWrites)
		_, err := c.store.Update(ctx, key, func(latest *record.Record) (*record.Record, error) {
			if !force && latest.SessionActive() {
				return nil, ErrSessionActive
			}
			return out.Clone(), nil
		})
		if errors.Is(err, ErrSessionActive) {
			return retry.Permanent(err)
		}
		return err
	})
	c.recordOperation(metrics.OperationSaveData, resultOf(err), time.Since(start))
	switch {
	case errors.Is(err, ErrSessionActive):
		return ErrSessionActive
	case err != nil:
		return fmt.Errorf("save data %s: %w", key, err)
	}
	return nil
}

// OnChanged registers a change listener. Changes are detected once per
// scheduler tick while EnableListeners is set.
func (c *Cache) OnChanged(fn OnChangedHook) (disconnect func()) {
	return c.hooks.AddOnChanged(fn)
}

// OnLoaded registers a load listener
func (c *Cache) OnLoaded(fn OnLoadedHook) (disconnect func()) {
	return c.hooks.AddOnLoaded(fn)
}

// OnReleased registers a release listener
func (c *Cache) OnReleased(fn OnReleasedHook) (disconnect func()) {
	return c.hooks.AddOnReleased(fn)
}

// OnAutoSave registers an autosave listener
func (c *Cache) OnAutoSave(fn OnAutoSaveHook) (disconnect func()) {
	return c.hooks.AddOnAutoSave(fn)
}

// OnWiped registers a wipe listener
func (c *Cache) OnWiped(fn OnWipedHook) (disconnect func()) {
	return c.hooks.AddOnWiped(fn)
}

// OnKicked registers a kick listener
func (c *Cache) OnKicked(fn OnKickedHook) (disconnect func()) {
	return c.hooks.AddOnKicked(fn)
}

// kick evicts e without writing; any write still in flight aborts
func (c *Cache) kick(e *entry.Entry, reason string) {
	start := time.Now()
	c.remove(e)
	e.Kick()
	e.SetState(entry.StateRejected)
	e.CancelAutosave()
	c.stats.inc(&c.stats.kicks)

	c.logger.Warn("Kicking entity", F("entity", e.ID), F("reason", reason))
	if r := c.reg.opts.Roster; r != nil {
		r.Kick(e.ID, c.reg.opts.KickMessage)
	}
	c.hooks.invokeOnKicked(e.ID, reason)
	c.recordOperation(metrics.OperationKick, metrics.ResultSuccess, time.Since(start))
}

// beginDrain refuses new loads and stops background waits
func (c *Cache) beginDrain() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.draining {
		return
	}
	c.draining = true
	close(c.stop)
}

// close releases resources once the cache has been drained
func (c *Cache) close() error {
	c.stopMetrics()
	c.cancel()
	if c.ownStore {
		return c.store.Close()
	}
	return nil
}

func resultOf(err error) metrics.Result {
	switch {
	case err == nil:
		return metrics.ResultSuccess
	case errors.Is(err, ErrSessionLocked), errors.Is(err, ErrVersionConflict),
		errors.Is(err, ErrKicked), errors.Is(err, ErrSessionActive):
		return metrics.ResultRejected
	default:
		return metrics.ResultError
	}
}
