// Package store is the persistence layer: an append-only raw log, the
// canonical record set with its provenance index, company profiles and run
// bookkeeping.
package store

import (
	"context"
	"time"

	"horse.fit/jobdedup/internal/db"
	"horse.fit/jobdedup/internal/posting"
)

type (
	CanonicalFilter = db.CanonicalFilter
	RawFilter       = db.RawFilter
	Stats           = db.Stats
)

// LowTrustCutoff is the score under which the stats count a posting as low trust.
const LowTrustCutoff = 0.5

type Page[T any] struct {
	Items    []T   `json:"items"`
	Total    int64 `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
}

// Tx is the write surface available inside WithinTx. Everything done through
// one Tx commits or rolls back together.
type Tx interface {
	// AppendRaw is idempotent on (source key, fetched at, payload hash) and
	// reports whether a row was written.
	AppendRaw(ctx context.Context, obs posting.Observation) (bool, error)
	// LockCanonical reads a canonical posting and holds its row lock until the
	// transaction ends. Missing ids yield posting.ErrNotFound.
	LockCanonical(ctx context.Context, id string) (posting.CanonicalPosting, error)
	// InsertCanonical fails with posting.ErrPersistenceConflict when the id
	// already exists.
	InsertCanonical(ctx context.Context, c posting.CanonicalPosting) error
	// UpsertCanonical writes a canonical posting, replacing any stored version.
	UpsertCanonical(ctx context.Context, c posting.CanonicalPosting) error
}

type Store interface {
	FindBySource(ctx context.Context, sourceKey string) (posting.CanonicalPosting, bool, error)
	QueryCandidates(ctx context.Context, bucketKey string, limit int) ([]posting.CanonicalPosting, error)
	CompaniesForURL(ctx context.Context, urlHash []byte) ([]string, error)

	AppendRaw(ctx context.Context, obs posting.Observation) (bool, error)
	UpsertCanonical(ctx context.Context, c posting.CanonicalPosting) error
	WithinTx(ctx context.Context, fn func(Tx) error) error

	BeginRun(ctx context.Context, run posting.ReconcileRun) error
	FinishRun(ctx context.Context, run posting.ReconcileRun) error

	UpsertCompany(ctx context.Context, c posting.Company) error
	GetCompany(ctx context.Context, key string) (posting.Company, error)

	MarkInactive(ctx context.Context, lastSeenBefore time.Time) (int64, error)

	ListCanonical(ctx context.Context, f CanonicalFilter) (Page[posting.CanonicalPosting], error)
	GetCanonical(ctx context.Context, id string) (posting.CanonicalPosting, error)
	ListRaw(ctx context.Context, f RawFilter) (Page[posting.RawRecord], error)
	Stats(ctx context.Context) (*Stats, error)

	Ping(ctx context.Context) error
}
