package datacache

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vnykmshr/datacache-go/internal/entry"
	"github.com/vnykmshr/datacache-go/pkg/metrics"
)

// lockCheckConcurrency bounds the store reads a single tick issues for
// foreign-lock checks
const lockCheckConcurrency = 8

// tick runs one scheduler pass over the admitted entities of c
func (c *Cache) tick(ctx context.Context, now time.Time) {
	if c.isDraining() {
		return
	}

	opts := c.reg.opts
	diff := c.config.EnableListeners && c.hooks.hasChanged()

	var checks []*entry.Entry
	for _, e := range c.admittedEntries() {
		if diff {
			if old, cur, changed := e.Diff(); changed {
				c.hooks.invokeOnChanged(e.ID, old, cur)
			}
		}

		if e.AutosaveDue(now, c.config.AutoSaveInterval) {
			c.triggerAutosave(e, now)
		}

		if r := opts.Roster; r != nil && !r.IsPresent(e.ID) {
			c.startDeparture(e)
		}

		if e.Deferred() || e.LockCheckDue(now, opts.LockCheckInterval) {
			checks = append(checks, e)
		}
	}

	if len(checks) == 0 {
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lockCheckConcurrency)
	for _, e := range checks {
		e := e
		g.Go(func() error {
			c.checkLock(gctx, e, now)
			return nil
		})
	}
	_ = g.Wait()
}

// triggerAutosave starts an autosave of e, replacing any trigger still
// pending for it
func (c *Cache) triggerAutosave(e *entry.Entry, now time.Time) {
	ctx, cancel := context.WithCancel(c.ctx)
	e.ScheduleAutosave(now, cancel)

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		defer cancel()

		start := time.Now()
		_, err := c.write(ctx, e, writeAutosave, nil)
		if errors.Is(err, context.Canceled) {
			return
		}
		c.recordOperation(metrics.OperationAutosave, resultOf(err), time.Since(start))
		if err != nil {
			c.logger.Warn("Autosave failed", F("entity", e.ID), F("error", err))
		}
	}()
}

// checkLock reads the stored session of e and kicks e if another instance
// holds a live claim on it
func (c *Cache) checkLock(ctx context.Context, e *entry.Entry, now time.Time) {
	stored, err := c.fetch(ctx, e.Key)
	if err != nil {
		c.logger.Debug("Lock check read failed", F("entity", e.ID), F("error", err))
		return
	}

	opts := c.reg.opts
	if !foreignClaim(stored, c.owner(), now, opts.SessionLockTimeout) {
		e.ResetDeferrals()
		return
	}

	if e.Writing() || !e.Admitted() {
		n := e.Defer()
		c.stats.inc(&c.stats.deferrals)
		if n <= opts.MaxEvictionDeferrals {
			c.logger.Debug("Deferring eviction", F("entity", e.ID), F("deferrals", n))
			return
		}
		c.logger.Warn("Forcing deferred eviction", F("entity", e.ID), F("deferrals", n))
	}

	c.kick(e, "session claimed by "+stored.Session.Owner)
}

// startDeparture force-releases e after the grace period unless it leaves
// cleanly or rejoins first
func (c *Cache) startDeparture(e *entry.Entry) {
	if !e.StartDeparting() {
		return
	}

	grace := c.reg.opts.GracePeriod
	c.logger.Debug("Entity left roster, waiting grace period", F("entity", e.ID), F("grace", grace.String()))

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		defer e.StopDeparting()

		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-c.stop:
			return
		case <-c.ctx.Done():
			return
		}

		if c.lookup(e.ID) != e {
			return
		}
		if r := c.reg.opts.Roster; r != nil && r.IsPresent(e.ID) {
			return
		}

		c.logger.Info("Releasing departed entity", F("entity", e.ID))
		if err := c.Save(c.ctx, e.ID); err != nil && !errors.Is(err, ErrNotLoaded) {
			c.logger.Warn("Departure release failed", F("entity", e.ID), F("error", err))
		}
	}()
}
