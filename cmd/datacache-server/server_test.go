package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vnykmshr/datacache-go/pkg/datacache"
	"github.com/vnykmshr/datacache-go/pkg/record"
	"github.com/vnykmshr/datacache-go/pkg/roster"
)

func newTestServer(t *testing.T, owner string, store datacache.Store) (*server, http.Handler) {
	t.Helper()
	players := roster.NewStatic()
	reg, err := datacache.NewRegistry(datacache.NewDefaultOptions().
		WithOwnerID(owner).
		WithRoster(players).
		WithLogger(datacache.NewNoOpLogger()))
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = reg.Shutdown(ctx)
	})

	for _, name := range []string{"PlayerData", "QuestData"} {
		cfg := datacache.NewDefaultConfig().
			WithKeyTemplate(datacache.KeyTemplate(name + "_%i")).
			WithTemplate(record.Data{"Coins": 0}).
			WithStore(store).
			WithoutRetry()
		if name == "PlayerData" {
			cfg.WithClientRead("")
		}
		if _, err := reg.CreateCache(name, cfg); err != nil {
			t.Fatalf("CreateCache failed: %v", err)
		}
	}

	srv := &server{reg: reg, roster: players, logger: zap.NewNop()}
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("metrics"))
	})
	return srv, srv.routes("/metrics", metricsHandler)
}

func do(handler http.Handler, method, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestServerJoinAndLeave(t *testing.T) {
	store := datacache.NewMemoryStore()
	srv, handler := newTestServer(t, "A", store)

	rec := do(handler, http.MethodPost, "/sessions/12", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp joinResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode join response: %v", err)
	}
	if resp.Entity != 12 || len(resp.Caches) != 2 {
		t.Fatalf("Unexpected join response %+v", resp)
	}
	if !srv.roster.IsPresent(12) {
		t.Fatal("Expected entity in the roster")
	}

	// a second join is idempotent
	if rec := do(handler, http.MethodPost, "/sessions/12", nil); rec.Code != http.StatusOK {
		t.Fatalf("Expected repeated join to succeed, got %d", rec.Code)
	}

	rec = do(handler, http.MethodGet, "/client/data/PlayerData", map[string]string{"X-Entity-Id": "12"})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected client read through the fallback router, got %d", rec.Code)
	}

	if rec := do(handler, http.MethodDelete, "/sessions/12", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d", rec.Code)
	}
	if srv.roster.IsPresent(12) {
		t.Fatal("Expected entity to leave the roster")
	}

	r, err := store.Get(context.Background(), "PlayerData_12")
	if err != nil || r == nil {
		t.Fatalf("Expected stored record, got %v, %v", r, err)
	}
	if r.SessionActive() || r.Version != 2 {
		t.Fatalf("Expected released record at version 2, got %+v", r)
	}
}

func TestServerJoinConflict(t *testing.T) {
	store := datacache.NewMemoryStore()
	_, a := newTestServer(t, "A", store)
	srvB, b := newTestServer(t, "B", store)

	if rec := do(a, http.MethodPost, "/sessions/3", nil); rec.Code != http.StatusOK {
		t.Fatalf("Join on A failed with %d", rec.Code)
	}

	rec := do(b, http.MethodPost, "/sessions/3", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("Expected status 409 on B, got %d", rec.Code)
	}
	if srvB.roster.IsPresent(3) {
		t.Fatal("Rejected entity must not stay in B's roster")
	}
	for _, c := range srvB.reg.Caches() {
		if c.Len() != 0 {
			t.Fatalf("Expected cache %s on B to be empty, got %d", c.Name(), c.Len())
		}
	}
}

func TestServerRoutes(t *testing.T) {
	_, handler := newTestServer(t, "A", datacache.NewMemoryStore())

	tests := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{"bad id", http.MethodPost, "/sessions/abc", http.StatusBadRequest},
		{"negative id", http.MethodPost, "/sessions/-1", http.StatusBadRequest},
		{"leave unknown", http.MethodDelete, "/sessions/99", http.StatusNoContent},
		{"metrics", http.MethodGet, "/metrics", http.StatusOK},
		{"debug", http.MethodGet, "/debug/caches", http.StatusOK},
		{"unknown", http.MethodGet, "/nope", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(handler, tt.method, tt.path, nil); rec.Code != tt.status {
				t.Fatalf("Expected status %d, got %d", tt.status, rec.Code)
			}
		})
	}
}

func TestServerJoinWhileDraining(t *testing.T) {
	srv, handler := newTestServer(t, "A", datacache.NewMemoryStore())
	if _, err := srv.reg.Drain(context.Background()); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}

	if rec := do(handler, http.MethodPost, "/sessions/1", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected status 503, got %d", rec.Code)
	}
}
