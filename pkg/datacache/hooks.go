package datacache

import (
	"sync"

	"github.com/vnykmshr/datacache-go/pkg/record"
)

// Hook function type definitions
type (
	// OnLoadedHook receives a deep copy of the admitted data
	OnLoadedHook func(id int64, data record.Data)

	// OnReleasedHook receives the record written by a successful release
	OnReleasedHook func(id int64, r *record.Record)

	// OnAutoSaveHook receives the snapshot about to be autosaved
	OnAutoSaveHook func(id int64, r *record.Record)

	// OnWipedHook is called after an entity's data was reset and persisted
	OnWipedHook func(id int64)

	// OnChangedHook receives copies of the previous and current data
	OnChangedHook func(id int64, old, cur record.Data)

	// OnKickedHook is called when an entity is removed by session arbitration
	OnKickedHook func(id int64, reason string)
)

// Hooks holds event listeners for a cache. The zero value is ready to use.
// Every Add method returns a function that disconnects the listener.
//
// Dispatch is synchronous: the operation waits until every listener has
// returned. With FireAndForget set each listener runs on its own goroutine
// instead. AutoSave listeners are always fire-and-forget.
type Hooks struct {
	FireAndForget bool

	loaded   listeners[OnLoadedHook]
	released listeners[OnReleasedHook]
	autosave listeners[OnAutoSaveHook]
	wiped    listeners[OnWipedHook]
	changed  listeners[OnChangedHook]
	kicked   listeners[OnKickedHook]
}

type listener[F any] struct {
	id uint64
	fn F
}

type listeners[F any] struct {
	mu    sync.RWMutex
	next  uint64
	items []listener[F]
}

func (l *listeners[F]) add(fn F) func() {
	l.mu.Lock()
	l.next++
	id := l.next
	l.items = append(l.items, listener[F]{id: id, fn: fn})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			for i, item := range l.items {
				if item.id == id {
					l.items = append(l.items[:i:i], l.items[i+1:]...)
					return
				}
			}
		})
	}
}

func (l *listeners[F]) snapshot() []F {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.items) == 0 {
		return nil
	}
	fns := make([]F, len(l.items))
	for i, item := range l.items {
		fns[i] = item.fn
	}
	return fns
}

func (l *listeners[F]) len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// AddOnLoaded adds an OnLoaded hook
func (h *Hooks) AddOnLoaded(hook OnLoadedHook) func() { return h.loaded.add(hook) }

// AddOnReleased adds an OnReleased hook
func (h *Hooks) AddOnReleased(hook OnReleasedHook) func() { return h.released.add(hook) }

// AddOnAutoSave adds an OnAutoSave hook
func (h *Hooks) AddOnAutoSave(hook OnAutoSaveHook) func() { return h.autosave.add(hook) }

// AddOnWiped adds an OnWiped hook
func (h *Hooks) AddOnWiped(hook OnWipedHook) func() { return h.wiped.add(hook) }

// AddOnChanged adds an OnChanged hook
func (h *Hooks) AddOnChanged(hook OnChangedHook) func() { return h.changed.add(hook) }

// AddOnKicked adds an OnKicked hook
func (h *Hooks) AddOnKicked(hook OnKickedHook) func() { return h.kicked.add(hook) }

// Merge copies every listener of other into h
func (h *Hooks) Merge(other *Hooks) *Hooks {
	if other == nil {
		return h
	}
	for _, fn := range other.loaded.snapshot() {
		h.AddOnLoaded(fn)
	}
	for _, fn := range other.released.snapshot() {
		h.AddOnReleased(fn)
	}
	for _, fn := range other.autosave.snapshot() {
		h.AddOnAutoSave(fn)
	}
	for _, fn := range other.wiped.snapshot() {
		h.AddOnWiped(fn)
	}
	for _, fn := range other.changed.snapshot() {
		h.AddOnChanged(fn)
	}
	for _, fn := range other.kicked.snapshot() {
		h.AddOnKicked(fn)
	}
	return h
}

func (h *Hooks) hasChanged() bool {
	return h.changed.len() > 0
}

func (h *Hooks) dispatch(async bool, calls []func()) {
	for _, call := range calls {
		if async {
			go call()
		} else {
			call()
		}
	}
}

func (h *Hooks) invokeOnLoaded(id int64, data record.Data) {
	fns := h.loaded.snapshot()
	calls := make([]func(), len(fns))
	for i, fn := range fns {
		fn := fn
		calls[i] = func() { fn(id, record.Clone(data)) }
	}
	h.dispatch(h.FireAndForget, calls)
}

func (h *Hooks) invokeOnReleased(id int64, r *record.Record) {
	fns := h.released.snapshot()
	calls := make([]func(), len(fns))
	for i, fn := range fns {
		fn := fn
		calls[i] = func() { fn(id, r.Clone()) }
	}
	h.dispatch(h.FireAndForget, calls)
}

func (h *Hooks) invokeOnAutoSave(id int64, r *record.Record) {
	fns := h.autosave.snapshot()
	calls := make([]func(), len(fns))
	for i, fn := range fns {
		fn := fn
		calls[i] = func() { fn(id, r.Clone()) }
	}
	h.dispatch(true, calls)
}

func (h *Hooks) invokeOnWiped(id int64) {
	fns := h.wiped.snapshot()
	calls := make([]func(), len(fns))
	for i, fn := range fns {
		fn := fn
		calls[i] = func() { fn(id) }
	}
	h.dispatch(h.FireAndForget, calls)
}

func (h *Hooks) invokeOnChanged(id int64, old, cur record.Data) {
	fns := h.changed.snapshot()
	calls := make([]func(), len(fns))
	for i, fn := range fns {
		fn := fn
		calls[i] = func() { fn(id, record.Clone(old), record.Clone(cur)) }
	}
	h.dispatch(h.FireAndForget, calls)
}

func (h *Hooks) invokeOnKicked(id int64, reason string) {
	fns := h.kicked.snapshot()
	calls := make([]func(), len(fns))
	for i, fn := range fns {
		fn := fn
		calls[i] = func() { fn(id, reason) }
	}
	h.dispatch(h.FireAndForget, calls)
}
