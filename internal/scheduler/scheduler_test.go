package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	for _, spec := range []string{"@every 24h", "0 3 * * *", "@daily"} {
		if err := Validate(spec); err != nil {
			t.Fatalf("Validate(%q) = %v", spec, err)
		}
	}
	for _, spec := range []string{"", "every day", "61 * * * *"} {
		if err := Validate(spec); err == nil {
			t.Fatalf("Validate(%q) accepted an invalid spec", spec)
		}
	}
}

func TestNewRejectsNilJob(t *testing.T) {
	t.Parallel()

	if _, err := New("@every 1h", nil, zerolog.Nop()); err == nil {
		t.Fatalf("expected error for nil job")
	}
}

func TestRunFiresImmediatelyAndStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	s, err := New("@every 1h", func(context.Context) error {
		calls.Add(1)
		cancel()
		return errors.New("logged, not fatal")
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected one startup run, got %d", got)
	}
}
