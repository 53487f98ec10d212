package db

import (
	"encoding/json"
	"time"
)

// RawPostingRow maps jobs.raw_postings. Rows are append-only.
type RawPostingRow struct {
	RawID       int64           `gorm:"column:raw_id;primaryKey;autoIncrement"`
	Source      string          `gorm:"column:source;type:text;not null"`
	SourceID    string          `gorm:"column:source_id;type:text;not null"`
	SourceKey   string          `gorm:"column:source_key;type:text;not null"`
	FetchedAt   time.Time       `gorm:"column:fetched_at;type:timestamptz;not null"`
	Payload     json.RawMessage `gorm:"column:payload;type:jsonb;not null"`
	PayloadHash []byte          `gorm:"column:payload_hash;type:bytea;not null"`
	Decision    string          `gorm:"column:decision;type:jobs.match_decision;not null"`
	CanonicalID *string         `gorm:"column:canonical_id;type:uuid"`
	Score       float64         `gorm:"column:score;type:double precision;not null;default:0"`
	Reason      string          `gorm:"column:reason;type:text;not null;default:''"`
	TrustScore  float64         `gorm:"column:trust_score;type:double precision;not null;default:0"`
	RunID       *string         `gorm:"column:run_id;type:uuid"`
	CreatedAt   time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (RawPostingRow) TableName() string { return "jobs.raw_postings" }

// CanonicalPostingRow maps jobs.canonical_postings. Rows are never deleted.
type CanonicalPostingRow struct {
	ID                string          `gorm:"column:id;type:uuid;primaryKey"`
	Sources           json.RawMessage `gorm:"column:sources;type:jsonb;not null"`
	Title             string          `gorm:"column:title;type:text;not null;default:''"`
	TitleKey          string          `gorm:"column:title_key;type:text;not null;default:''"`
	Company           string          `gorm:"column:company;type:text;not null;default:''"`
	CompanyKey        string          `gorm:"column:company_key;type:text;not null;default:''"`
	Location          string          `gorm:"column:location;type:text;not null;default:''"`
	MetroKey          string          `gorm:"column:metro_key;type:text;not null;default:''"`
	Description       string          `gorm:"column:description;type:text;not null;default:''"`
	JobType           string          `gorm:"column:job_type;type:text;not null;default:'UNKNOWN'"`
	SalaryMin         *float64        `gorm:"column:salary_min;type:double precision"`
	SalaryMax         *float64        `gorm:"column:salary_max;type:double precision"`
	SalaryCurrency    string          `gorm:"column:salary_currency;type:text;not null;default:''"`
	SalaryPeriod      string          `gorm:"column:salary_period;type:text;not null;default:''"`
	Remote            *bool           `gorm:"column:remote;type:boolean"`
	URL               string          `gorm:"column:url;type:text;not null;default:''"`
	URLHash           []byte          `gorm:"column:url_hash;type:bytea"`
	PostedAt          *time.Time      `gorm:"column:posted_at;type:timestamptz"`
	Language          string          `gorm:"column:language;type:text;not null;default:''"`
	TrustScore        float64         `gorm:"column:trust_score;type:double precision;not null"`
	TrustReasons      json.RawMessage `gorm:"column:trust_reasons;type:jsonb;not null"`
	ClassifierSkipped bool            `gorm:"column:classifier_skipped;type:boolean;not null;default:false"`
	BucketKey         string          `gorm:"column:bucket_key;type:text;not null"`
	ContentHash       []byte          `gorm:"column:content_hash;type:bytea;not null"`
	SimHash           int64           `gorm:"column:simhash;type:bigint;not null"`
	FirstSeenAt       time.Time       `gorm:"column:first_seen_at;type:timestamptz;not null"`
	LastSeenAt        time.Time       `gorm:"column:last_seen_at;type:timestamptz;not null"`
	Status            string          `gorm:"column:status;type:jobs.posting_status;not null;default:active"`
	CreatedAt         time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt         time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (CanonicalPostingRow) TableName() string { return "jobs.canonical_postings" }

// CanonicalSourceRow maps jobs.canonical_sources, the unique index from a
// provenance key to the canonical record holding it.
type CanonicalSourceRow struct {
	SourceKey   string    `gorm:"column:source_key;type:text;primaryKey"`
	CanonicalID string    `gorm:"column:canonical_id;type:uuid;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (CanonicalSourceRow) TableName() string { return "jobs.canonical_sources" }

// CompanyRow maps jobs.companies.
type CompanyRow struct {
	CompanyKey string    `gorm:"column:company_key;type:text;primaryKey"`
	Name       string    `gorm:"column:name;type:text;not null"`
	Summary    string    `gorm:"column:summary;type:text;not null;default:''"`
	Industry   string    `gorm:"column:industry;type:text;not null;default:''"`
	Size       string    `gorm:"column:size;type:text;not null;default:''"`
	Website    string    `gorm:"column:website;type:text;not null;default:''"`
	EnrichedAt time.Time `gorm:"column:enriched_at;type:timestamptz;not null"`
}

func (CompanyRow) TableName() string { return "jobs.companies" }

// ReconcileRunRow maps jobs.reconcile_runs.
type ReconcileRunRow struct {
	RunID      string          `gorm:"column:run_id;type:uuid;primaryKey"`
	Source     string          `gorm:"column:source;type:text;not null;default:''"`
	StartedAt  time.Time       `gorm:"column:started_at;type:timestamptz;not null"`
	FinishedAt *time.Time      `gorm:"column:finished_at;type:timestamptz"`
	Status     string          `gorm:"column:status;type:jobs.run_status;not null;default:running"`
	Counts     json.RawMessage `gorm:"column:counts;type:jsonb;not null"`
	Error      string          `gorm:"column:error;type:text;not null;default:''"`
}

func (ReconcileRunRow) TableName() string { return "jobs.reconcile_runs" }

// RunLockRow maps jobs.run_locks, the lease table behind the postgres run lock.
type RunLockRow struct {
	Name      string    `gorm:"column:name;type:text;primaryKey"`
	Token     string    `gorm:"column:token;type:text;not null"`
	ExpiresAt time.Time `gorm:"column:expires_at;type:timestamptz;not null"`
}

func (RunLockRow) TableName() string { return "jobs.run_locks" }

func autoMigrateModels() []any {
	return []any{
		&RawPostingRow{},
		&CanonicalPostingRow{},
		&CanonicalSourceRow{},
		&CompanyRow{},
		&ReconcileRunRow{},
		&RunLockRow{},
	}
}
