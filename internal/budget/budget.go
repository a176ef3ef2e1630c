// Package budget enforces the process-wide request budget for the backing
// store: Base + PerEntity × admitted requests per Window, tracked separately
// for reads and writes.
package budget

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config sizes the budget
type Config struct {
	Base      int
	PerEntity int
	Window    time.Duration
}

// DefaultConfig returns 60 + 10 × n requests per minute
func DefaultConfig() Config {
	return Config{Base: 60, PerEntity: 10, Window: time.Minute}
}

// Budget holds one token bucket per direction. Waiters block until a token
// is available; requests are never dropped.
type Budget struct {
	mu       sync.Mutex
	cfg      Config
	entities int
	read     *rate.Limiter
	write    *rate.Limiter
}

// New creates a budget sized for zero admitted entities
func New(cfg Config) *Budget {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Base <= 0 {
		cfg.Base = 1
	}
	if cfg.PerEntity < 0 {
		cfg.PerEntity = 0
	}

	b := &Budget{cfg: cfg}
	limit, burst := b.size(0)
	b.read = rate.NewLimiter(limit, burst)
	b.write = rate.NewLimiter(limit, burst)
	return b
}

func (b *Budget) size(n int) (rate.Limit, int) {
	tokens := b.cfg.Base + b.cfg.PerEntity*n
	return rate.Limit(float64(tokens) / b.cfg.Window.Seconds()), tokens
}

// Resize adjusts both buckets to n admitted entities
func (b *Budget) Resize(n int) {
	if n < 0 {
		n = 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if n == b.entities {
		return
	}
	b.entities = n
	limit, burst := b.size(n)
	now := time.Now()
	b.read.SetLimitAt(now, limit)
	b.read.SetBurstAt(now, burst)
	b.write.SetLimitAt(now, limit)
	b.write.SetBurstAt(now, burst)
}

// Limit reports the current per-window allowance
func (b *Budget) Limit() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, burst := b.size(b.entities)
	return burst
}

// WaitRead blocks until a read token is available or ctx is done
func (b *Budget) WaitRead(ctx context.Context) error {
	return b.read.Wait(ctx)
}

// WaitWrite blocks until a write token is available or ctx is done
func (b *Budget) WaitWrite(ctx context.Context) error {
	return b.write.Wait(ctx)
}
