// Package singleflight wraps golang.org/x/sync/singleflight with typed keys
// and values and a context-aware wait. It deduplicates concurrent store reads
// for the same entity.
package singleflight

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Group deduplicates calls by key
type Group[K comparable, V any] struct {
	g        singleflight.Group
	inflight atomic.Int64
}

// Do executes fn once per key at a time. Duplicate callers wait for the
// first call and receive its results; shared reports whether that happened.
func (g *Group[K, V]) Do(key K, fn func() (V, error)) (v V, err error, shared bool) {
	res, err, shared := g.g.Do(keyString(key), g.wrap(fn))
	if res != nil {
		v = res.(V)
	}
	return v, err, shared
}

// DoContext is like Do but stops waiting when ctx is done. The underlying
// call keeps running for the remaining callers.
func (g *Group[K, V]) DoContext(ctx context.Context, key K, fn func() (V, error)) (v V, err error, shared bool) {
	if err := ctx.Err(); err != nil {
		return v, err, false
	}

	ch := g.g.DoChan(keyString(key), g.wrap(fn))
	select {
	case <-ctx.Done():
		return v, ctx.Err(), false
	case res := <-ch:
		if res.Val != nil {
			v = res.Val.(V)
		}
		return v, res.Err, res.Shared
	}
}

// Forget drops an in-flight key so the next call runs fn again
func (g *Group[K, V]) Forget(key K) {
	g.g.Forget(keyString(key))
}

// InFlight returns the number of calls currently executing
func (g *Group[K, V]) InFlight() int {
	return int(g.inflight.Load())
}

func (g *Group[K, V]) wrap(fn func() (V, error)) func() (interface{}, error) {
	return func() (interface{}, error) {
		g.inflight.Add(1)
		defer g.inflight.Add(-1)
		return fn()
	}
}

func keyString[K comparable](key K) string {
	if s, ok := any(key).(string); ok {
		return s
	}
	return fmt.Sprint(key)
}
