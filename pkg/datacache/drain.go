package datacache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// drainConcurrency bounds the release saves Drain runs at once
const drainConcurrency = 32

// DrainReport summarizes a drain
type DrainReport struct {
	// Issued is the number of release saves started
	Issued int

	// Completed is the number of release saves that returned, successfully
	// or not
	Completed int

	// Failed is the number of release saves that returned an error
	Failed int

	Duration time.Duration
}

// Drain stops the scheduler, refuses new loads and releases every admitted
// entity of every cache. It returns once every release save has completed
// or ctx is done; failures are combined into the returned error.
func (r *Registry) Drain(ctx context.Context) (DrainReport, error) {
	start := time.Now()
	r.Stop()

	r.mu.Lock()
	r.draining = true
	r.mu.Unlock()

	caches := r.Caches()
	for _, c := range caches {
		c.beginDrain()
	}

	for _, c := range caches {
		if err := waitGroup(ctx, &c.loading); err != nil {
			return r.finishDrain(DrainReport{Duration: time.Since(start)}, fmt.Errorf("waiting for loads: %w", err))
		}
	}

	var (
		issued, completed, failed atomic.Int64
		mu                        sync.Mutex
		errs                      error
	)

	g := new(errgroup.Group)
	g.SetLimit(drainConcurrency)
	for _, c := range caches {
		c := c
		for _, id := range c.Admitted() {
			id := id
			issued.Add(1)
			g.Go(func() error {
				err := c.Save(ctx, id)
				completed.Add(1)
				if err != nil && !errors.Is(err, ErrNotLoaded) {
					failed.Add(1)
					mu.Lock()
					errs = multierr.Append(errs, fmt.Errorf("cache %s entity %d: %w", c.name, id, err))
					mu.Unlock()
				}
				return nil
			})
		}
	}
	_ = g.Wait()

	for _, c := range caches {
		if err := waitGroup(ctx, &c.inflight); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("waiting for background writes: %w", err))
			break
		}
	}

	report := DrainReport{
		Issued:    int(issued.Load()),
		Completed: int(completed.Load()),
		Failed:    int(failed.Load()),
		Duration:  time.Since(start),
	}
	return r.finishDrain(report, errs)
}

func (r *Registry) finishDrain(report DrainReport, err error) (DrainReport, error) {
	r.mu.Lock()
	r.lastDrain = &report
	r.mu.Unlock()

	fields := []Field{
		F("issued", report.Issued),
		F("completed", report.Completed),
		F("failed", report.Failed),
		F("duration", report.Duration.String()),
	}
	if err != nil {
		r.logger.Error("Drain finished with errors", append(fields, F("error", err))...)
	} else {
		r.logger.Info("Drain finished", fields...)
	}
	return report, err
}

// LastDrain returns the report of the most recent drain
func (r *Registry) LastDrain() (DrainReport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastDrain == nil {
		return DrainReport{}, false
	}
	return *r.lastDrain, true
}

// Shutdown drains the registry and closes every cache. Stores supplied
// through Config.Store are left open.
func (r *Registry) Shutdown(ctx context.Context) error {
	_, err := r.Drain(ctx)
	for _, c := range r.Caches() {
		err = multierr.Append(err, c.close())
	}
	return err
}

// waitGroup waits for wg or ctx, whichever comes first
func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
