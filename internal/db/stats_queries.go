package db

import (
	"context"
	"fmt"

	"horse.fit/jobdedup/internal/posting"
)

// Stats is the read model behind the stats endpoint.
type Stats struct {
	Canonical      int64                          `json:"canonical"`
	Active         int64                          `json:"active"`
	Inactive       int64                          `json:"inactive"`
	MultiSource    int64                          `json:"multi_source"`
	LowTrust       int64                          `json:"low_trust"`
	AverageTrust   float64                        `json:"average_trust"`
	RawPostings    int64                          `json:"raw_postings"`
	Decisions      map[posting.DecisionKind]int64 `json:"decisions"`
	Companies      int64                          `json:"companies"`
	LatestRun      *posting.ReconcileRun          `json:"latest_run,omitempty"`
	LowTrustCutoff float64                        `json:"low_trust_cutoff"`
}

// QueryStats counts canonical postings, raw observations and decisions.
func QueryStats(ctx context.Context, q Querier, lowTrustCutoff float64) (*Stats, error) {
	stats := &Stats{
		Decisions:      make(map[posting.DecisionKind]int64, 3),
		LowTrustCutoff: lowTrustCutoff,
	}

	const canonicalQuery = `
SELECT
	COUNT(*)::BIGINT,
	COUNT(*) FILTER (WHERE c.status = 'active')::BIGINT,
	COUNT(*) FILTER (WHERE c.status = 'inactive')::BIGINT,
	COUNT(*) FILTER (WHERE jsonb_array_length(c.sources) > 1)::BIGINT,
	COUNT(*) FILTER (WHERE c.trust_score < $1)::BIGINT,
	COALESCE(AVG(c.trust_score), 0)::float8,
	(SELECT COUNT(*) FROM jobs.companies)::BIGINT
FROM jobs.canonical_postings c`

	if err := q.QueryRow(ctx, canonicalQuery, lowTrustCutoff).Scan(
		&stats.Canonical,
		&stats.Active,
		&stats.Inactive,
		&stats.MultiSource,
		&stats.LowTrust,
		&stats.AverageTrust,
		&stats.Companies,
	); err != nil {
		return nil, Classify(fmt.Errorf("query canonical stats: %w", err))
	}

	const decisionQuery = `
SELECT r.decision::text, COUNT(*)::BIGINT
FROM jobs.raw_postings r
GROUP BY r.decision`

	rows, err := q.Query(ctx, decisionQuery)
	if err != nil {
		return nil, Classify(fmt.Errorf("query decision stats: %w", err))
	}
	defer rows.Close()

	for rows.Next() {
		var (
			kind  string
			count int64
		)
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("scan decision stats row: %w", err)
		}
		stats.Decisions[posting.DecisionKind(kind)] = count
		stats.RawPostings += count
	}
	if err := rows.Err(); err != nil {
		return nil, Classify(fmt.Errorf("iterate decision stats rows: %w", err))
	}

	latest, err := SelectLatestRun(ctx, q)
	if err != nil {
		return nil, err
	}
	stats.LatestRun = latest
	return stats, nil
}
