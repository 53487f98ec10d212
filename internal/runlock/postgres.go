package runlock

import (
	"context"
	"time"

	"github.com/google/uuid"

	"horse.fit/jobdedup/internal/db"
	"horse.fit/jobdedup/internal/posting"
)

// Postgres keeps leases in the jobs.run_locks table, for deployments without redis.
type Postgres struct {
	pool *db.Pool
	now  func() time.Time
}

func NewPostgres(pool *db.Pool) *Postgres {
	return &Postgres{pool: pool, now: time.Now}
}

func (p *Postgres) Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, error) {
	token := uuid.NewString()
	ok, err := db.AcquireRunLock(ctx, p.pool, name, token, ttl, p.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, posting.ErrRunLocked
	}
	return &lease{
		token: token,
		extend: func(ctx context.Context, ttl time.Duration) error {
			ok, err := db.ExtendRunLock(ctx, p.pool, name, token, ttl, p.now())
			if err != nil {
				return err
			}
			if !ok {
				return ErrLeaseLost
			}
			return nil
		},
		release: func(ctx context.Context) error {
			return db.ReleaseRunLock(ctx, p.pool, name, token)
		},
	}, nil
}
