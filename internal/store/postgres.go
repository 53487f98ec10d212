package store

import (
	"context"
	"errors"
	"time"

	"horse.fit/jobdedup/internal/db"
	"horse.fit/jobdedup/internal/posting"
)

// Postgres is the Store backed by the gorm pool.
type Postgres struct {
	pool *db.Pool
	now  func() time.Time
}

func NewPostgres(pool *db.Pool) *Postgres {
	return &Postgres{pool: pool, now: time.Now}
}

func (p *Postgres) FindBySource(ctx context.Context, sourceKey string) (posting.CanonicalPosting, bool, error) {
	return db.SelectCanonicalBySource(ctx, p.pool, sourceKey)
}

func (p *Postgres) QueryCandidates(ctx context.Context, bucketKey string, limit int) ([]posting.CanonicalPosting, error) {
	return db.SelectBucket(ctx, p.pool, bucketKey, limit)
}

func (p *Postgres) CompaniesForURL(ctx context.Context, urlHash []byte) ([]string, error) {
	return db.SelectURLCompanies(ctx, p.pool, urlHash)
}

func (p *Postgres) AppendRaw(ctx context.Context, obs posting.Observation) (bool, error) {
	return db.InsertRaw(ctx, p.pool, obs)
}

func (p *Postgres) UpsertCanonical(ctx context.Context, c posting.CanonicalPosting) error {
	return p.WithinTx(ctx, func(tx Tx) error {
		return tx.UpsertCanonical(ctx, c)
	})
}

func (p *Postgres) WithinTx(ctx context.Context, fn func(Tx) error) error {
	return p.pool.WithinTx(ctx, func(tx db.Tx) error {
		return fn(&postgresTx{q: tx, now: p.now})
	})
}

func (p *Postgres) BeginRun(ctx context.Context, run posting.ReconcileRun) error {
	return db.InsertRun(ctx, p.pool, run)
}

func (p *Postgres) FinishRun(ctx context.Context, run posting.ReconcileRun) error {
	return db.FinishRun(ctx, p.pool, run)
}

func (p *Postgres) UpsertCompany(ctx context.Context, c posting.Company) error {
	return db.UpsertCompany(ctx, p.pool, c)
}

func (p *Postgres) GetCompany(ctx context.Context, key string) (posting.Company, error) {
	return db.SelectCompany(ctx, p.pool, key)
}

func (p *Postgres) MarkInactive(ctx context.Context, lastSeenBefore time.Time) (int64, error) {
	return db.MarkInactive(ctx, p.pool, lastSeenBefore, p.now())
}

func (p *Postgres) ListCanonical(ctx context.Context, f CanonicalFilter) (Page[posting.CanonicalPosting], error) {
	page, pageSize, _ := f.Paging()
	items, total, err := db.ListCanonical(ctx, p.pool, f)
	if err != nil {
		return Page[posting.CanonicalPosting]{}, err
	}
	return Page[posting.CanonicalPosting]{Items: items, Total: total, Page: page, PageSize: pageSize}, nil
}

func (p *Postgres) GetCanonical(ctx context.Context, id string) (posting.CanonicalPosting, error) {
	return db.SelectCanonical(ctx, p.pool, id, false)
}

func (p *Postgres) ListRaw(ctx context.Context, f RawFilter) (Page[posting.RawRecord], error) {
	page, pageSize, _ := f.Paging()
	items, total, err := db.ListRaw(ctx, p.pool, f)
	if err != nil {
		return Page[posting.RawRecord]{}, err
	}
	return Page[posting.RawRecord]{Items: items, Total: total, Page: page, PageSize: pageSize}, nil
}

func (p *Postgres) Stats(ctx context.Context) (*Stats, error) {
	return db.QueryStats(ctx, p.pool, LowTrustCutoff)
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

type postgresTx struct {
	q   db.Querier
	now func() time.Time
}

func (t *postgresTx) AppendRaw(ctx context.Context, obs posting.Observation) (bool, error) {
	return db.InsertRaw(ctx, t.q, obs)
}

func (t *postgresTx) LockCanonical(ctx context.Context, id string) (posting.CanonicalPosting, error) {
	return db.SelectCanonical(ctx, t.q, id, true)
}

func (t *postgresTx) InsertCanonical(ctx context.Context, c posting.CanonicalPosting) error {
	return db.InsertCanonical(ctx, t.q, c, t.now())
}

func (t *postgresTx) UpsertCanonical(ctx context.Context, c posting.CanonicalPosting) error {
	err := db.UpdateCanonical(ctx, t.q, c, t.now())
	if err == nil {
		return nil
	}
	if !errors.Is(err, posting.ErrNotFound) {
		return err
	}
	return db.InsertCanonical(ctx, t.q, c, t.now())
}
