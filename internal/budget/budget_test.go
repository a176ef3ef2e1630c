package budget

import (
	"context"
	"testing"
	"time"
)

func TestBudgetSize(t *testing.T) {
	b := New(DefaultConfig())
	if b.Limit() != 60 {
		t.Fatalf("Expected 60, got %d", b.Limit())
	}

	b.Resize(3)
	if b.Limit() != 90 {
		t.Fatalf("Expected 90, got %d", b.Limit())
	}

	b.Resize(-1)
	if b.Limit() != 60 {
		t.Fatalf("Expected negative count to clamp to 60, got %d", b.Limit())
	}
}

func TestBudgetBurstThenWait(t *testing.T) {
	b := New(Config{Base: 2, PerEntity: 0, Window: time.Hour})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := b.WaitWrite(ctx); err != nil {
			t.Fatalf("Write %d should pass within the burst: %v", i, err)
		}
	}

	// The third write would wait ~30 minutes.
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := b.WaitWrite(short); err == nil {
		t.Fatal("Expected third write to exceed the budget")
	}

	// Reads have their own bucket.
	if err := b.WaitRead(ctx); err != nil {
		t.Fatalf("Read should not share the write bucket: %v", err)
	}
}

func TestBudgetResizeGrowsBurst(t *testing.T) {
	b := New(Config{Base: 1, PerEntity: 1, Window: time.Hour})
	ctx := context.Background()
	_ = b.WaitRead(ctx)

	b.Resize(10)
	if b.Limit() != 11 {
		t.Fatalf("Expected 11, got %d", b.Limit())
	}
}
