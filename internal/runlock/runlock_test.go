package runlock

import (
	"context"
	"errors"
	"testing"
	"time"

	"horse.fit/jobdedup/internal/posting"
)

func TestMemoryExcludesSecondHolder(t *testing.T) {
	t.Parallel()

	locks := NewMemory()
	ctx := context.Background()

	first, err := locks.Acquire(ctx, DefaultName, time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := locks.Acquire(ctx, DefaultName, time.Minute); !errors.Is(err, posting.ErrRunLocked) {
		t.Fatalf("expected ErrRunLocked, got %v", err)
	}
	if _, err := locks.Acquire(ctx, "other", time.Minute); err != nil {
		t.Fatalf("expected independent names to lock independently, got %v", err)
	}

	if err := first.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := first.Release(ctx); err != nil {
		t.Fatalf("second release: %v", err)
	}
	if _, err := locks.Acquire(ctx, DefaultName, time.Minute); err != nil {
		t.Fatalf("expected lock to be free after release, got %v", err)
	}
}

func TestMemoryLeaseExpires(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	locks := NewMemory()
	locks.now = func() time.Time { return now }
	ctx := context.Background()

	stale, err := locks.Acquire(ctx, DefaultName, time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	now = now.Add(2 * time.Minute)
	fresh, err := locks.Acquire(ctx, DefaultName, time.Minute)
	if err != nil {
		t.Fatalf("expected expired lease to be replaced, got %v", err)
	}

	// Releasing the stale lease must not free the successor.
	if err := stale.Release(ctx); err != nil {
		t.Fatalf("release stale: %v", err)
	}
	if _, err := locks.Acquire(ctx, DefaultName, time.Minute); !errors.Is(err, posting.ErrRunLocked) {
		t.Fatalf("expected successor to keep the lock, got %v", err)
	}
	if fresh.Token() == stale.Token() {
		t.Fatalf("expected distinct tokens")
	}
}

func TestMemoryExtendKeepsLease(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	locks := NewMemory()
	locks.now = func() time.Time { return now }
	ctx := context.Background()

	held, err := locks.Acquire(ctx, DefaultName, time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	for range 3 {
		now = now.Add(40 * time.Second)
		if err := held.Extend(ctx, time.Minute); err != nil {
			t.Fatalf("extend: %v", err)
		}
	}
	if _, err := locks.Acquire(ctx, DefaultName, time.Minute); !errors.Is(err, posting.ErrRunLocked) {
		t.Fatalf("expected extended lease to hold past its first ttl, got %v", err)
	}
}

func TestMemoryExtendAfterTakeoverReportsLost(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	locks := NewMemory()
	locks.now = func() time.Time { return now }
	ctx := context.Background()

	stale, err := locks.Acquire(ctx, DefaultName, time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := locks.Acquire(ctx, DefaultName, time.Minute); err != nil {
		t.Fatalf("acquire successor: %v", err)
	}

	if err := stale.Extend(ctx, time.Minute); !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost, got %v", err)
	}
	if err := stale.Release(ctx); err != nil {
		t.Fatalf("release stale: %v", err)
	}
}
