package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"horse.fit/jobdedup/internal/posting"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "serialization failure", err: &pgconn.PgError{Code: "40001"}, want: posting.ErrPersistenceConflict},
		{name: "deadlock", err: fmt.Errorf("update: %w", &pgconn.PgError{Code: "40P01"}), want: posting.ErrPersistenceConflict},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}, want: posting.ErrPersistenceConflict},
		{name: "connection failure", err: &pgconn.PgError{Code: "08006"}, want: posting.ErrStoreUnavailable},
		{name: "admin shutdown", err: &pgconn.PgError{Code: "57P01"}, want: posting.ErrStoreUnavailable},
		{name: "deadline", err: context.DeadlineExceeded, want: posting.ErrStoreUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Classify(tc.err); !errors.Is(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestClassifyPassesThroughOtherErrors(t *testing.T) {
	t.Parallel()

	syntax := &pgconn.PgError{Code: "42601"}
	if got := Classify(syntax); got != error(syntax) {
		t.Fatalf("expected syntax error to pass through, got %v", got)
	}
	if Classify(nil) != nil {
		t.Fatalf("expected nil")
	}
	plain := errors.New("boom")
	if got := Classify(plain); got != plain {
		t.Fatalf("expected plain error unchanged")
	}
}
