package singleflight

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSingleflightBasic(t *testing.T) {
	g := &Group[int64, string]{}

	v, err, shared := g.Do(7, func() (string, error) { return "seven", nil })
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if v != "seven" {
		t.Fatalf("Expected seven, got %s", v)
	}
	if shared {
		t.Fatal("Expected shared to be false for single call")
	}
}

func TestSingleflightDeduplication(t *testing.T) {
	g := &Group[int64, int]{}

	var calls int32
	release := make(chan struct{})
	fn := func() (int, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return 123, nil
	}

	var wg sync.WaitGroup
	results := make([]int, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx], _, _ = g.Do(1, fn)
		}(i)
	}

	// Let every goroutine join the in-flight call before releasing it.
	time.Sleep(50 * time.Millisecond)
	if g.InFlight() != 1 {
		t.Fatalf("Expected 1 call in flight, got %d", g.InFlight())
	}
	close(release)
	wg.Wait()

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("Expected function to be called once, got %d", n)
	}
	for i, r := range results {
		if r != 123 {
			t.Fatalf("Result %d: expected 123, got %d", i, r)
		}
	}
	if g.InFlight() != 0 {
		t.Fatalf("Expected no calls in flight, got %d", g.InFlight())
	}
}

func TestSingleflightError(t *testing.T) {
	g := &Group[int64, *int]{}
	boom := errors.New("boom")

	v, err, _ := g.Do(1, func() (*int, error) { return nil, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}
	if v != nil {
		t.Fatalf("Expected nil value, got %v", v)
	}
}

func TestSingleflightDoContextCancelled(t *testing.T) {
	g := &Group[int64, int]{}
	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err, _ := g.DoContext(ctx, 1, func() (int, error) {
		<-release
		return 1, nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline exceeded, got %v", err)
	}
}

func TestSingleflightDoContextAlreadyCancelled(t *testing.T) {
	g := &Group[int64, int]{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err, _ := g.DoContext(ctx, 1, func() (int, error) {
		called = true
		return 1, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected canceled, got %v", err)
	}
	if called {
		t.Fatal("Function should not run for a cancelled context")
	}
}

func TestSingleflightForget(t *testing.T) {
	g := &Group[string, int]{}
	release := make(chan struct{})

	var calls int32
	go g.Do("k", func() (int, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return 1, nil
	})
	time.Sleep(20 * time.Millisecond)
	g.Forget("k")

	v, _, shared := g.Do("k", func() (int, error) {
		atomic.AddInt32(&calls, 1)
		return 2, nil
	})
	close(release)

	if v != 2 || shared {
		t.Fatalf("Expected fresh call after Forget, got %d shared=%v", v, shared)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("Expected 2 calls, got %d", n)
	}
}
