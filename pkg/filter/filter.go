// Package filter applies a content-filtering service to the string leaves of
// a record payload.
package filter

import (
	"context"
	"fmt"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultPlaceholder replaces a string whose filtering failed
const DefaultPlaceholder = "###"

// Mode selects which string leaves are filtered
type Mode int

const (
	// ModeAll filters every string leaf
	ModeAll Mode = iota
	// ModeAllowList filters only leaves under a listed key
	ModeAllowList
	// ModeDenyList filters every leaf except those under a listed key
	ModeDenyList
)

func (m Mode) String() string {
	switch m {
	case ModeAll:
		return "all"
	case ModeAllowList:
		return "allowlist"
	case ModeDenyList:
		return "denylist"
	default:
		return "Mode(" + strconv.Itoa(int(m)) + ")"
	}
}

// ParseMode converts a configuration string to a Mode
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "all":
		return ModeAll, nil
	case "allowlist", "allow":
		return ModeAllowList, nil
	case "denylist", "deny":
		return ModeDenyList, nil
	}
	return ModeAll, fmt.Errorf("unknown filter mode %q", s)
}

// Service filters user-provided text on behalf of an entity
type Service interface {
	Filter(ctx context.Context, entityID int64, text string) (string, error)
}

// Func adapts a function to Service
type Func func(ctx context.Context, entityID int64, text string) (string, error)

// Filter implements Service
func (f Func) Filter(ctx context.Context, entityID int64, text string) (string, error) {
	return f(ctx, entityID, text)
}

// Options control Apply
type Options struct {
	Mode        Mode
	Keys        []string
	Placeholder string

	// OnError is called for every leaf whose filtering failed
	OnError func(key string, err error)
}

// Apply filters the string leaves of data in place. Leaves inside sequences
// are governed by the closest enclosing map key. Failures never propagate:
// the leaf is replaced with the placeholder.
func Apply(ctx context.Context, svc Service, entityID int64, data map[string]any, opts Options) int {
	if svc == nil || data == nil {
		return 0
	}
	placeholder := opts.Placeholder
	if placeholder == "" {
		placeholder = DefaultPlaceholder
	}
	keys := make(map[string]struct{}, len(opts.Keys))
	for _, k := range opts.Keys {
		keys[k] = struct{}{}
	}

	w := &walker{
		ctx:         ctx,
		svc:         svc,
		entityID:    entityID,
		mode:        opts.Mode,
		keys:        keys,
		placeholder: placeholder,
		onError:     opts.OnError,
	}
	w.walkMap(data)
	return w.filtered
}

type walker struct {
	ctx         context.Context
	svc         Service
	entityID    int64
	mode        Mode
	keys        map[string]struct{}
	placeholder string
	onError     func(string, error)
	filtered    int
}

func (w *walker) selected(key string) bool {
	_, listed := w.keys[key]
	switch w.mode {
	case ModeAllowList:
		return listed
	case ModeDenyList:
		return !listed
	default:
		return true
	}
}

func (w *walker) walkMap(m map[string]any) {
	for k, v := range m {
		m[k] = w.walk(k, v)
	}
}

func (w *walker) walk(key string, v any) any {
	switch val := v.(type) {
	case string:
		if !w.selected(key) {
			return val
		}
		return w.filter(key, val)
	case map[string]any:
		w.walkMap(val)
		return val
	case []any:
		for i, item := range val {
			val[i] = w.walk(key, item)
		}
		return val
	case []string:
		for i, item := range val {
			if w.selected(key) {
				val[i] = w.filter(key, item)
			}
		}
		return val
	default:
		return v
	}
}

func (w *walker) filter(key, text string) string {
	out, err := w.svc.Filter(w.ctx, w.entityID, text)
	if err != nil {
		if w.onError != nil {
			w.onError(key, err)
		}
		return w.placeholder
	}
	w.filtered++
	return out
}

type cacheKey struct {
	entityID int64
	text     string
}

// Cached memoizes successful results of an underlying Service
type Cached struct {
	next  Service
	cache *lru.Cache[cacheKey, string]
}

// NewCached wraps svc with an LRU of the given size
func NewCached(svc Service, size int) (*Cached, error) {
	if size <= 0 {
		size = 1024
	}
	c, err := lru.New[cacheKey, string](size)
	if err != nil {
		return nil, err
	}
	return &Cached{next: svc, cache: c}, nil
}

// Filter implements Service
func (c *Cached) Filter(ctx context.Context, entityID int64, text string) (string, error) {
	k := cacheKey{entityID: entityID, text: text}
	if out, ok := c.cache.Get(k); ok {
		return out, nil
	}
	out, err := c.next.Filter(ctx, entityID, text)
	if err != nil {
		return "", err
	}
	c.cache.Add(k, out)
	return out, nil
}

// Len returns the number of memoized results
func (c *Cached) Len() int {
	return c.cache.Len()
}

var (
	_ Service = Func(nil)
	_ Service = (*Cached)(nil)
)
