package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"horse.fit/jobdedup/internal/posting"
)

// CanonicalFilter selects canonical postings for the read surface. Zero values
// leave a dimension unfiltered.
type CanonicalFilter struct {
	// From and To bound LastSeenAt, half-open.
	From      time.Time
	To        time.Time
	MinTrust  *float64
	Query     string
	Company   string
	Location  string
	MinSalary float64
	Remote    *bool
	Status    string
	Page      int
	PageSize  int
}

// RawFilter selects raw log rows.
type RawFilter struct {
	Source      string
	SourceID    string
	FetchedFrom time.Time
	FetchedTo   time.Time
	Page        int
	PageSize    int
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// normalizePage clamps paging to sane bounds and returns the row offset.
func normalizePage(page, pageSize int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize, (page - 1) * pageSize
}

func (f CanonicalFilter) Paging() (page, pageSize, offset int) {
	return normalizePage(f.Page, f.PageSize)
}

func (f RawFilter) Paging() (page, pageSize, offset int) {
	return normalizePage(f.Page, f.PageSize)
}

const canonicalColumns = `
	c.id::text,
	c.sources::text,
	c.title,
	c.title_key,
	c.company,
	c.company_key,
	c.location,
	c.metro_key,
	c.description,
	c.job_type,
	c.salary_min,
	c.salary_max,
	c.salary_currency,
	c.salary_period,
	c.remote,
	c.url,
	c.url_hash,
	c.posted_at,
	c.language,
	c.trust_score,
	c.trust_reasons::text,
	c.classifier_skipped,
	c.bucket_key,
	c.content_hash,
	c.simhash,
	c.first_seen_at,
	c.last_seen_at,
	c.status::text`

type scanner interface {
	Scan(dest ...any) error
}

func scanCanonical(row scanner) (posting.CanonicalPosting, error) {
	var (
		c         posting.CanonicalPosting
		sources   string
		reasons   string
		salaryMin *float64
		salaryMax *float64
		simhash   int64
	)
	dest := []any{
		&c.ID,
		&sources,
		&c.Title,
		&c.TitleKey,
		&c.Company,
		&c.CompanyKey,
		&c.Location,
		&c.MetroKey,
		&c.Description,
		&c.JobType,
		&salaryMin,
		&salaryMax,
		&c.Salary.Currency,
		&c.Salary.Period,
		&c.Remote,
		&c.URL,
		&c.URLHash,
		&c.PostedAt,
		&c.Language,
		&c.TrustScore,
		&reasons,
		&c.ClassifierSkipped,
		&c.Fingerprint.BucketKey,
		&c.Fingerprint.ContentHash,
		&simhash,
		&c.FirstSeenAt,
		&c.LastSeenAt,
		&c.Status,
	}
	if err := row.Scan(dest...); err != nil {
		return posting.CanonicalPosting{}, err
	}

	if err := json.Unmarshal([]byte(sources), &c.Sources); err != nil {
		return posting.CanonicalPosting{}, fmt.Errorf("decode sources of %s: %w", c.ID, err)
	}
	if err := json.Unmarshal([]byte(reasons), &c.TrustReasons); err != nil {
		return posting.CanonicalPosting{}, fmt.Errorf("decode trust reasons of %s: %w", c.ID, err)
	}
	if salaryMin != nil {
		c.Salary.Min = *salaryMin
	}
	if salaryMax != nil {
		c.Salary.Max = *salaryMax
	}
	c.Fingerprint.SimHash = uint64(simhash)
	c.FirstSeenAt = c.FirstSeenAt.UTC()
	c.LastSeenAt = c.LastSeenAt.UTC()
	if c.PostedAt != nil {
		utc := c.PostedAt.UTC()
		c.PostedAt = &utc
	}
	return c, nil
}

// SelectCanonical loads one canonical posting. With forUpdate the row stays
// locked until the surrounding transaction ends.
func SelectCanonical(ctx context.Context, q Querier, id string, forUpdate bool) (posting.CanonicalPosting, error) {
	query := `SELECT ` + canonicalColumns + `
FROM jobs.canonical_postings c
WHERE c.id = $1::uuid`
	if forUpdate {
		query += "\nFOR UPDATE"
	}

	c, err := scanCanonical(q.QueryRow(ctx, query, id))
	if err != nil {
		if IsNoRows(err) {
			return posting.CanonicalPosting{}, fmt.Errorf("canonical %s: %w", id, posting.ErrNotFound)
		}
		return posting.CanonicalPosting{}, Classify(fmt.Errorf("select canonical %s: %w", id, err))
	}
	return c, nil
}

func SelectCanonicalBySource(ctx context.Context, q Querier, sourceKey string) (posting.CanonicalPosting, bool, error) {
	const query = `SELECT ` + canonicalColumns + `
FROM jobs.canonical_sources s
JOIN jobs.canonical_postings c
	ON c.id = s.canonical_id
WHERE s.source_key = $1`

	c, err := scanCanonical(q.QueryRow(ctx, query, sourceKey))
	if err != nil {
		if IsNoRows(err) {
			return posting.CanonicalPosting{}, false, nil
		}
		return posting.CanonicalPosting{}, false, Classify(fmt.Errorf("select canonical by source %s: %w", sourceKey, err))
	}
	return c, true, nil
}

// SelectBucket returns the most recently seen postings of a bucket.
func SelectBucket(ctx context.Context, q Querier, bucketKey string, limit int) ([]posting.CanonicalPosting, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}

	const query = `SELECT ` + canonicalColumns + `
FROM jobs.canonical_postings c
WHERE c.bucket_key = $1
ORDER BY c.last_seen_at DESC, c.id
LIMIT $2`

	rows, err := q.Query(ctx, query, bucketKey, limit)
	if err != nil {
		return nil, Classify(fmt.Errorf("query bucket %s: %w", bucketKey, err))
	}
	defer rows.Close()

	out := make([]posting.CanonicalPosting, 0, 8)
	for rows.Next() {
		c, err := scanCanonical(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bucket row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, Classify(fmt.Errorf("iterate bucket rows: %w", err))
	}
	return out, nil
}

func canonicalArgs(c posting.CanonicalPosting) ([]any, error) {
	sources, err := json.Marshal(nonNil(c.Sources))
	if err != nil {
		return nil, fmt.Errorf("encode sources: %w", err)
	}
	reasons, err := json.Marshal(nonNil(c.TrustReasons))
	if err != nil {
		return nil, fmt.Errorf("encode trust reasons: %w", err)
	}
	status := c.Status
	if status == "" {
		status = posting.StatusActive
	}
	return []any{
		c.ID,
		string(sources),
		c.Title,
		c.TitleKey,
		c.Company,
		c.CompanyKey,
		c.Location,
		c.MetroKey,
		c.Description,
		c.JobType,
		positiveOrNil(c.Salary.Min),
		positiveOrNil(c.Salary.Max),
		c.Salary.Currency,
		c.Salary.Period,
		c.Remote,
		c.URL,
		c.URLHash,
		c.PostedAt,
		c.Language,
		c.TrustScore,
		string(reasons),
		c.ClassifierSkipped,
		c.Fingerprint.BucketKey,
		c.Fingerprint.ContentHash,
		int64(c.Fingerprint.SimHash),
		c.FirstSeenAt.UTC(),
		c.LastSeenAt.UTC(),
		status,
	}, nil
}

// InsertCanonical creates a canonical posting and indexes its provenance keys.
// An existing id or an already indexed source key is a persistence conflict.
func InsertCanonical(ctx context.Context, q Querier, c posting.CanonicalPosting, now time.Time) error {
	args, err := canonicalArgs(c)
	if err != nil {
		return err
	}

	const query = `
INSERT INTO jobs.canonical_postings (
	id, sources, title, title_key, company, company_key, location, metro_key,
	description, job_type, salary_min, salary_max, salary_currency, salary_period,
	remote, url, url_hash, posted_at, language, trust_score, trust_reasons,
	classifier_skipped, bucket_key, content_hash, simhash, first_seen_at,
	last_seen_at, status, created_at, updated_at
) VALUES (
	$1::uuid, $2::jsonb, $3, $4, $5, $6, $7, $8,
	$9, $10, $11, $12, $13, $14,
	$15, $16, $17, $18, $19, $20, $21::jsonb,
	$22, $23, $24, $25, $26,
	$27, $28::jobs.posting_status, $29, $29
)
ON CONFLICT (id) DO NOTHING`

	affected, err := q.Exec(ctx, query, append(args, now.UTC())...)
	if err != nil {
		return Classify(fmt.Errorf("insert canonical %s: %w", c.ID, err))
	}
	if affected == 0 {
		return fmt.Errorf("insert canonical %s: %w", c.ID, posting.ErrPersistenceConflict)
	}
	return insertSources(ctx, q, c.ID, c.Sources, now)
}

// UpdateCanonical overwrites a canonical posting that the caller holds locked.
func UpdateCanonical(ctx context.Context, q Querier, c posting.CanonicalPosting, now time.Time) error {
	args, err := canonicalArgs(c)
	if err != nil {
		return err
	}

	const query = `
UPDATE jobs.canonical_postings SET
	sources = $2::jsonb,
	title = $3,
	title_key = $4,
	company = $5,
	company_key = $6,
	location = $7,
	metro_key = $8,
	description = $9,
	job_type = $10,
	salary_min = $11,
	salary_max = $12,
	salary_currency = $13,
	salary_period = $14,
	remote = $15,
	url = $16,
	url_hash = $17,
	posted_at = $18,
	language = $19,
	trust_score = $20,
	trust_reasons = $21::jsonb,
	classifier_skipped = $22,
	bucket_key = $23,
	content_hash = $24,
	simhash = $25,
	first_seen_at = $26,
	last_seen_at = $27,
	status = $28::jobs.posting_status,
	updated_at = $29
WHERE id = $1::uuid`

	affected, err := q.Exec(ctx, query, append(args, now.UTC())...)
	if err != nil {
		return Classify(fmt.Errorf("update canonical %s: %w", c.ID, err))
	}
	if affected == 0 {
		return fmt.Errorf("update canonical %s: %w", c.ID, posting.ErrNotFound)
	}
	return insertSources(ctx, q, c.ID, c.Sources, now)
}

func insertSources(ctx context.Context, q Querier, canonicalID string, sources []string, now time.Time) error {
	const query = `
INSERT INTO jobs.canonical_sources (source_key, canonical_id, created_at)
VALUES ($1, $2::uuid, $3)
ON CONFLICT (source_key) DO NOTHING`

	for _, key := range sources {
		if _, err := q.Exec(ctx, query, key, canonicalID, now.UTC()); err != nil {
			return Classify(fmt.Errorf("index source %s: %w", key, err))
		}
	}
	return nil
}

// SelectURLCompanies returns the distinct company keys stored under a posting URL hash.
func SelectURLCompanies(ctx context.Context, q Querier, urlHash []byte) ([]string, error) {
	if len(urlHash) == 0 {
		return nil, nil
	}

	const query = `
SELECT DISTINCT c.company_key
FROM jobs.canonical_postings c
WHERE c.url_hash = $1
  AND c.company_key <> ''
ORDER BY 1`

	rows, err := q.Query(ctx, query, urlHash)
	if err != nil {
		return nil, Classify(fmt.Errorf("query url companies: %w", err))
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan url company: %w", err)
		}
		out = append(out, key)
	}
	if err := rows.Err(); err != nil {
		return nil, Classify(fmt.Errorf("iterate url companies: %w", err))
	}
	return out, nil
}

// MarkInactive flips active postings last seen before the cutoff.
func MarkInactive(ctx context.Context, q Querier, lastSeenBefore, now time.Time) (int64, error) {
	const query = `
UPDATE jobs.canonical_postings
SET status = 'inactive', updated_at = $2
WHERE status = 'active'
  AND last_seen_at < $1`

	affected, err := q.Exec(ctx, query, lastSeenBefore.UTC(), now.UTC())
	if err != nil {
		return 0, Classify(fmt.Errorf("mark inactive: %w", err))
	}
	return affected, nil
}

const canonicalFilterWhere = `
WHERE ($1::timestamptz IS NULL OR c.last_seen_at >= $1)
  AND ($2::timestamptz IS NULL OR c.last_seen_at < $2)
  AND ($3::float8 IS NULL OR c.trust_score >= $3)
  AND ($4::text = '' OR c.title ILIKE '%' || $4 || '%' OR c.description ILIKE '%' || $4 || '%')
  AND ($5::text = '' OR c.company ILIKE '%' || $5 || '%' OR c.company_key = lower($5))
  AND ($6::text = '' OR c.location ILIKE '%' || $6 || '%' OR c.metro_key = lower($6))
  AND ($7::float8 = 0 OR GREATEST(COALESCE(c.salary_min, 0), COALESCE(c.salary_max, 0)) *
		CASE c.salary_period
			WHEN 'hour' THEN 2080
			WHEN 'day' THEN 260
			WHEN 'week' THEN 52
			WHEN 'month' THEN 12
			ELSE 1
		END >= $7)
  AND ($8::boolean IS NULL OR c.remote = $8)
  AND ($9::text = '' OR c.status::text = $9)`

// ListCanonical returns one page of canonical postings and the total match count.
func ListCanonical(ctx context.Context, q Querier, f CanonicalFilter) ([]posting.CanonicalPosting, int64, error) {
	_, pageSize, offset := f.Paging()
	args := []any{
		timeOrNil(f.From),
		timeOrNil(f.To),
		f.MinTrust,
		strings.TrimSpace(f.Query),
		strings.TrimSpace(f.Company),
		strings.TrimSpace(f.Location),
		f.MinSalary,
		f.Remote,
		strings.TrimSpace(f.Status),
	}

	var total int64
	countQuery := `SELECT COUNT(*) FROM jobs.canonical_postings c` + canonicalFilterWhere
	if err := q.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, Classify(fmt.Errorf("count canonical postings: %w", err))
	}
	if total == 0 {
		return []posting.CanonicalPosting{}, 0, nil
	}

	listQuery := `SELECT ` + canonicalColumns + `
FROM jobs.canonical_postings c` + canonicalFilterWhere + `
ORDER BY c.last_seen_at DESC, c.id
LIMIT $10 OFFSET $11`

	rows, err := q.Query(ctx, listQuery, append(args, pageSize, offset)...)
	if err != nil {
		return nil, 0, Classify(fmt.Errorf("query canonical postings: %w", err))
	}
	defer rows.Close()

	out := make([]posting.CanonicalPosting, 0, pageSize)
	for rows.Next() {
		c, err := scanCanonical(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan canonical row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, Classify(fmt.Errorf("iterate canonical rows: %w", err))
	}
	return out, total, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func positiveOrNil(v float64) *float64 {
	if v <= 0 {
		return nil
	}
	return &v
}

func timeOrNil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}
