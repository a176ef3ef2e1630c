// Package datacache keeps per-entity records in memory for the duration of
// an entity's session on one server instance and persists them to a shared
// backing store.
//
// # Overview
//
// A Registry owns a set of named caches. Each Cache maps entity ids to store
// keys through a KeyTemplate and guarantees that at most one instance holds
// an entity's record at a time: loading writes a session claim into the
// stored record, releasing clears it, and every write is a compare-and-swap
// that refuses stale versions and foreign claims.
//
// # Key Features
//
//   - Session locking with stale-lock takeover after SessionLockTimeout
//   - Template reconciliation of stored data on load
//   - Periodic autosave, foreign-lock detection and departure handling
//   - Store calls shared under one rate budget that grows with the number of
//     admitted entities
//   - Drain on shutdown that releases every admitted entity
//   - Memory, Redis and MySQL backing stores
//   - Event hooks, structured logging with zap, Prometheus and OpenTelemetry
//     metrics
//
// # Basic Usage
//
//	reg, err := datacache.NewRegistry(datacache.NewDefaultOptions().
//	    WithRoster(roster))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	reg.Start(ctx)
//	defer reg.Shutdown(context.Background())
//
//	players, err := reg.CreateCache("PlayerData", datacache.NewDefaultConfig().
//	    WithTemplate(record.Data{"Coins": 0, "Inventory": []any{}}))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	data, err := players.Load(ctx, userID, nil)
//	if errors.Is(err, datacache.ErrSessionLocked) {
//	    // another server holds the session; the entity was kicked
//	}
//	players.Update(userID, func(d record.Data) { d["Coins"] = 10 })
//	err = players.Save(ctx, userID)
//
// # Hooks
//
// Listeners are registered on a cache and disconnected with the returned
// function:
//
//	disconnect := players.OnChanged(func(id int64, old, cur record.Data) {
//	    log.Printf("entity %d changed", id)
//	})
//	defer disconnect()
//
// Change detection runs once per scheduler tick and only while
// Config.EnableListeners is set.
//
// # Draining
//
// Registry.Shutdown stops the scheduler, refuses new loads, waits for loads
// in progress and releases every admitted entity before closing the stores.
// Registry.Drain does the same without closing and returns a DrainReport.
package datacache
