package sql

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/vnykmshr/datacache-go/pkg/record"
)

// TestSQLStoreOperations runs against a real MySQL when DATACACHE_MYSQL_DSN is set
func TestSQLStoreOperations(t *testing.T) {
	dsn := os.Getenv("DATACACHE_MYSQL_DSN")
	if dsn == "" {
		t.Skip("DATACACHE_MYSQL_DSN not set, skipping MySQL integration test")
	}

	s, err := New(&Config{DSN: dsn})
	if err != nil {
		t.Skipf("MySQL not available, skipping test: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	key := fmt.Sprintf("Player_%d", time.Now().UnixNano())

	got, err := s.Get(ctx, key)
	if err != nil || got != nil {
		t.Fatalf("Expected missing record, got %v, %v", got, err)
	}

	if err := s.Set(ctx, key, record.New(record.Data{"Coins": 1})); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	_, err = s.Update(ctx, key, func(latest *record.Record) (*record.Record, error) {
		latest.Version++
		latest.Data["Coins"] = 2
		return latest, nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	reject := errors.New("reject")
	if _, err := s.Update(ctx, key, func(*record.Record) (*record.Record, error) { return nil, reject }); !errors.Is(err, reject) {
		t.Fatalf("Expected reject error, got %v", err)
	}

	got, err = s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Version != 2 || !record.Equal(got.Data["Coins"], 2) {
		t.Fatalf("Unexpected record %+v", got)
	}
}

func TestNewRequiresDSN(t *testing.T) {
	if _, err := New(&Config{}); err == nil {
		t.Fatal("Expected error without DB or DSN")
	}
}
