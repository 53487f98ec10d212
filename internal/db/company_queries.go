package db

import (
	"context"
	"fmt"

	"horse.fit/jobdedup/internal/posting"
)

func UpsertCompany(ctx context.Context, q Querier, c posting.Company) error {
	const query = `
INSERT INTO jobs.companies (company_key, name, summary, industry, size, website, enriched_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (company_key) DO UPDATE
SET name = EXCLUDED.name,
	summary = COALESCE(NULLIF(EXCLUDED.summary, ''), jobs.companies.summary),
	industry = COALESCE(NULLIF(EXCLUDED.industry, ''), jobs.companies.industry),
	size = COALESCE(NULLIF(EXCLUDED.size, ''), jobs.companies.size),
	website = COALESCE(NULLIF(EXCLUDED.website, ''), jobs.companies.website),
	enriched_at = EXCLUDED.enriched_at`

	if _, err := q.Exec(ctx, query, c.Key, c.Name, c.Summary, c.Industry, c.Size, c.Website, c.EnrichedAt.UTC()); err != nil {
		return Classify(fmt.Errorf("upsert company %s: %w", c.Key, err))
	}
	return nil
}

func SelectCompany(ctx context.Context, q Querier, key string) (posting.Company, error) {
	const query = `
SELECT company_key, name, summary, industry, size, website, enriched_at
FROM jobs.companies
WHERE company_key = $1`

	var c posting.Company
	err := q.QueryRow(ctx, query, key).Scan(&c.Key, &c.Name, &c.Summary, &c.Industry, &c.Size, &c.Website, &c.EnrichedAt)
	if err != nil {
		if IsNoRows(err) {
			return posting.Company{}, fmt.Errorf("company %s: %w", key, posting.ErrNotFound)
		}
		return posting.Company{}, Classify(fmt.Errorf("select company %s: %w", key, err))
	}
	c.EnrichedAt = c.EnrichedAt.UTC()
	return c, nil
}
