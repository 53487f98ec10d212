package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"horse.fit/jobdedup/internal/posting"
)

func InsertRun(ctx context.Context, q Querier, run posting.ReconcileRun) error {
	counts, err := json.Marshal(run.Counts)
	if err != nil {
		return fmt.Errorf("encode run counts: %w", err)
	}

	const query = `
INSERT INTO jobs.reconcile_runs (run_id, source, started_at, status, counts)
VALUES ($1::uuid, $2, $3, $4::jobs.run_status, $5::jsonb)`

	if _, err := q.Exec(ctx, query, run.ID, run.Source, run.StartedAt.UTC(), run.Status, string(counts)); err != nil {
		return Classify(fmt.Errorf("insert run %s: %w", run.ID, err))
	}
	return nil
}

func FinishRun(ctx context.Context, q Querier, run posting.ReconcileRun) error {
	counts, err := json.Marshal(run.Counts)
	if err != nil {
		return fmt.Errorf("encode run counts: %w", err)
	}

	const query = `
UPDATE jobs.reconcile_runs
SET finished_at = $2,
	status = $3::jobs.run_status,
	counts = $4::jsonb,
	error = $5
WHERE run_id = $1::uuid`

	affected, err := q.Exec(ctx, query, run.ID, run.FinishedAt, run.Status, string(counts), run.Error)
	if err != nil {
		return Classify(fmt.Errorf("finish run %s: %w", run.ID, err))
	}
	if affected == 0 {
		return fmt.Errorf("finish run %s: %w", run.ID, posting.ErrNotFound)
	}
	return nil
}

// SelectLatestRun returns the most recently started run.
func SelectLatestRun(ctx context.Context, q Querier) (*posting.ReconcileRun, error) {
	const query = `
SELECT run_id::text, source, started_at, finished_at, status::text, counts::text, error
FROM jobs.reconcile_runs
ORDER BY started_at DESC
LIMIT 1`

	var (
		run    posting.ReconcileRun
		counts string
	)
	err := q.QueryRow(ctx, query).Scan(&run.ID, &run.Source, &run.StartedAt, &run.FinishedAt, &run.Status, &counts, &run.Error)
	if err != nil {
		if IsNoRows(err) {
			return nil, nil
		}
		return nil, Classify(fmt.Errorf("select latest run: %w", err))
	}
	if err := json.Unmarshal([]byte(counts), &run.Counts); err != nil {
		return nil, fmt.Errorf("decode run counts: %w", err)
	}
	return &run, nil
}

// AcquireRunLock takes the named lease when it is free or expired.
func AcquireRunLock(ctx context.Context, q Querier, name, token string, ttl time.Duration, now time.Time) (bool, error) {
	const query = `
INSERT INTO jobs.run_locks (name, token, expires_at)
VALUES ($1, $2, $3)
ON CONFLICT (name) DO UPDATE
SET token = EXCLUDED.token, expires_at = EXCLUDED.expires_at
WHERE jobs.run_locks.expires_at <= $4`

	affected, err := q.Exec(ctx, query, name, token, now.Add(ttl).UTC(), now.UTC())
	if err != nil {
		return false, Classify(fmt.Errorf("acquire run lock %s: %w", name, err))
	}
	return affected > 0, nil
}

// ExtendRunLock moves the lease expiry to now+ttl while it still carries
// token. It reports false when the lease belongs to someone else or is gone.
func ExtendRunLock(ctx context.Context, q Querier, name, token string, ttl time.Duration, now time.Time) (bool, error) {
	const query = `UPDATE jobs.run_locks SET expires_at = $3 WHERE name = $1 AND token = $2`
	affected, err := q.Exec(ctx, query, name, token, now.Add(ttl).UTC())
	if err != nil {
		return false, Classify(fmt.Errorf("extend run lock %s: %w", name, err))
	}
	return affected > 0, nil
}

// ReleaseRunLock drops the lease only while it still carries token.
func ReleaseRunLock(ctx context.Context, q Querier, name, token string) error {
	const query = `DELETE FROM jobs.run_locks WHERE name = $1 AND token = $2`
	if _, err := q.Exec(ctx, query, name, token); err != nil {
		return Classify(fmt.Errorf("release run lock %s: %w", name, err))
	}
	return nil
}
