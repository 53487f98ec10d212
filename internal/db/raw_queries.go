package db

import (
	"context"
	"fmt"
	"strings"

	"horse.fit/jobdedup/internal/posting"
)

// InsertRaw appends one observation to the raw log. Re-appending the same
// observation is a no-op; the result reports whether a row was written.
func InsertRaw(ctx context.Context, q Querier, obs posting.Observation) (bool, error) {
	raw := obs.Raw

	const query = `
INSERT INTO jobs.raw_postings (
	source, source_id, source_key, fetched_at, payload, payload_hash,
	decision, canonical_id, score, reason, trust_score, run_id
) VALUES (
	$1, $2, $3, $4, $5::jsonb, $6,
	$7::jobs.match_decision, $8::uuid, $9, $10, $11, $12::uuid
)
ON CONFLICT (source_key, fetched_at, payload_hash) DO NOTHING`

	affected, err := q.Exec(ctx, query,
		raw.Source,
		raw.SourceID,
		raw.SourceKey(),
		raw.FetchedAt.UTC(),
		string(raw.Payload),
		raw.PayloadHash,
		string(obs.Decision.Kind),
		stringOrNil(obs.CanonicalID),
		obs.Decision.Score,
		obs.Decision.Reason,
		obs.TrustScore,
		stringOrNil(obs.RunID),
	)
	if err != nil {
		return false, Classify(fmt.Errorf("insert raw posting %s: %w", raw.SourceKey(), err))
	}
	return affected > 0, nil
}

// ListRaw returns one page of raw log rows, newest first, and the total count.
func ListRaw(ctx context.Context, q Querier, f RawFilter) ([]posting.RawRecord, int64, error) {
	_, pageSize, offset := f.Paging()

	const where = `
WHERE ($1::text = '' OR r.source = $1)
  AND ($2::text = '' OR r.source_id = $2)
  AND ($3::timestamptz IS NULL OR r.fetched_at >= $3)
  AND ($4::timestamptz IS NULL OR r.fetched_at < $4)`

	args := []any{
		strings.TrimSpace(f.Source),
		strings.TrimSpace(f.SourceID),
		timeOrNil(f.FetchedFrom),
		timeOrNil(f.FetchedTo),
	}

	var total int64
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM jobs.raw_postings r`+where, args...).Scan(&total); err != nil {
		return nil, 0, Classify(fmt.Errorf("count raw postings: %w", err))
	}
	if total == 0 {
		return []posting.RawRecord{}, 0, nil
	}

	query := `
SELECT
	r.raw_id,
	r.source,
	r.source_id,
	r.fetched_at,
	r.payload::text,
	r.decision::text,
	COALESCE(r.canonical_id::text, ''),
	r.score,
	r.reason,
	r.trust_score,
	COALESCE(r.run_id::text, '')
FROM jobs.raw_postings r` + where + `
ORDER BY r.fetched_at DESC, r.raw_id DESC
LIMIT $5 OFFSET $6`

	rows, err := q.Query(ctx, query, append(args, pageSize, offset)...)
	if err != nil {
		return nil, 0, Classify(fmt.Errorf("query raw postings: %w", err))
	}
	defer rows.Close()

	out := make([]posting.RawRecord, 0, pageSize)
	for rows.Next() {
		var (
			rec      posting.RawRecord
			payload  string
			decision string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.Source,
			&rec.SourceID,
			&rec.FetchedAt,
			&payload,
			&decision,
			&rec.CanonicalID,
			&rec.Score,
			&rec.Reason,
			&rec.TrustScore,
			&rec.RunID,
		); err != nil {
			return nil, 0, fmt.Errorf("scan raw posting row: %w", err)
		}
		rec.FetchedAt = rec.FetchedAt.UTC()
		rec.Payload = []byte(payload)
		rec.Decision = posting.DecisionKind(decision)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, Classify(fmt.Errorf("iterate raw posting rows: %w", err))
	}
	return out, total, nil
}

func stringOrNil(v string) *string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return &v
}
