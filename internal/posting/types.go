package posting

import (
	"encoding/json"
	"slices"
	"time"
)

const (
	StatusActive   = "active"
	StatusInactive = "inactive"

	JobTypeUnknown = "UNKNOWN"
)

// RawPosting is one as-fetched observation. It is never mutated after append.
type RawPosting struct {
	Source      string          `json:"source" validate:"required,max=64"`
	SourceID    string          `json:"source_id" validate:"required,max=256"`
	FetchedAt   time.Time       `json:"fetched_at" validate:"required"`
	Payload     json.RawMessage `json:"payload" validate:"required"`
	PayloadHash []byte          `json:"payload_hash" validate:"len=32"`

	Title       string     `json:"title" validate:"max=1000"`
	Company     string     `json:"company" validate:"max=500"`
	CompanyURL  string     `json:"company_url,omitempty" validate:"omitempty,url"`
	Location    string     `json:"location" validate:"max=1000"`
	Description string     `json:"description"`
	SalaryText  string     `json:"salary_text,omitempty" validate:"max=500"`
	URL         string     `json:"url,omitempty" validate:"omitempty,url"`
	PostedAt    *time.Time `json:"posted_at,omitempty"`
	JobType     string     `json:"job_type" validate:"required"`
	RemoteHint  *bool      `json:"remote_hint,omitempty"`
}

// SourceKey identifies the posting at its origin. Provenance sets hold these keys.
func (r RawPosting) SourceKey() string {
	return SourceKey(r.Source, r.SourceID)
}

func SourceKey(source, sourceID string) string {
	return source + ":" + sourceID
}

// Salary is a parsed salary range. Zero bounds mean unknown.
type Salary struct {
	Min      float64 `json:"min,omitempty"`
	Max      float64 `json:"max,omitempty"`
	Currency string  `json:"currency,omitempty"`
	Period   string  `json:"period,omitempty"`
}

func (s Salary) IsZero() bool {
	return s.Min == 0 && s.Max == 0
}

func (s Salary) bounds() int {
	n := 0
	if s.Min > 0 {
		n++
	}
	if s.Max > 0 {
		n++
	}
	return n
}

// Annual returns the yearly low and high bounds, zero when unknown.
func (s Salary) Annual() (float64, float64) {
	if s.IsZero() {
		return 0, 0
	}
	low, high := s.Min, s.Max
	if low == 0 {
		low = high
	}
	if high == 0 {
		high = low
	}
	factor := periodFactor(s.Period)
	return low * factor, high * factor
}

func periodFactor(period string) float64 {
	switch period {
	case PeriodHour:
		return 2080
	case PeriodDay:
		return 260
	case PeriodWeek:
		return 52
	case PeriodMonth:
		return 12
	default:
		return 1
	}
}

// Fingerprint is a candidate filter. Two postings sharing a fingerprint are only
// candidates; equality is always decided by the matcher.
type Fingerprint struct {
	BucketKey   string `json:"bucket_key"`
	ContentHash []byte `json:"content_hash"`
	SimHash     uint64 `json:"simhash"`
}

// Normalized holds the comparable form of a posting.
type Normalized struct {
	Title       string
	TitleTokens []string
	Company     string
	CompanyKey  string
	Location    string
	MetroKey    string
	Description string
	JobType     string
	Salary      Salary
	Remote      *bool
	URL         string
	URLHash     []byte
	PostedAt    *time.Time
}

// CanonicalPosting is the reconciled record for one real-world opportunity.
type CanonicalPosting struct {
	ID                string      `json:"id"`
	Sources           []string    `json:"sources"`
	Title             string      `json:"title"`
	TitleKey          string      `json:"-"`
	Company           string      `json:"company"`
	CompanyKey        string      `json:"company_key"`
	Location          string      `json:"location"`
	MetroKey          string      `json:"metro_key"`
	Description       string      `json:"description"`
	JobType           string      `json:"job_type"`
	Salary            Salary      `json:"salary"`
	Remote            *bool       `json:"remote,omitempty"`
	URL               string      `json:"url,omitempty"`
	URLHash           []byte      `json:"-"`
	PostedAt          *time.Time  `json:"posted_at,omitempty"`
	Language          string      `json:"language,omitempty"`
	TrustScore        float64     `json:"trust_score"`
	TrustReasons      []string    `json:"trust_reasons"`
	ClassifierSkipped bool        `json:"classifier_skipped"`
	Fingerprint       Fingerprint `json:"fingerprint"`
	FirstSeenAt       time.Time   `json:"first_seen_at"`
	LastSeenAt        time.Time   `json:"last_seen_at"`
	Status            string      `json:"status"`
}

func (c CanonicalPosting) HasSource(key string) bool {
	return slices.Contains(c.Sources, key)
}

// Clone returns a deep copy so a merge never aliases the stored record.
func (c CanonicalPosting) Clone() CanonicalPosting {
	out := c
	out.Sources = slices.Clone(c.Sources)
	out.TrustReasons = slices.Clone(c.TrustReasons)
	out.URLHash = slices.Clone(c.URLHash)
	out.Fingerprint.ContentHash = slices.Clone(c.Fingerprint.ContentHash)
	if c.Remote != nil {
		v := *c.Remote
		out.Remote = &v
	}
	if c.PostedAt != nil {
		v := *c.PostedAt
		out.PostedAt = &v
	}
	return out
}

type DecisionKind string

const (
	DecisionNew    DecisionKind = "NEW"
	DecisionMerge  DecisionKind = "MERGE"
	DecisionReject DecisionKind = "REJECT"
	// DecisionFailed marks a raw row whose posting could not be reconciled.
	// No canonical record references it.
	DecisionFailed DecisionKind = "FAILED"
)

// Decision is produced once per incoming posting per run and never persisted
// on its own; the raw log row records its outcome.
type Decision struct {
	Kind     DecisionKind
	TargetID string
	Score    float64
	Reason   string
}

// TrustAssessment is the output of the fake-posting filter.
type TrustAssessment struct {
	Score             float64
	Reasons           []string
	Escalated         bool
	ClassifierSkipped bool
	SkipReason        string
	Rationale         string
}

// Company is the enrichment profile stored per company key.
type Company struct {
	Key        string    `json:"key"`
	Name       string    `json:"name"`
	Summary    string    `json:"summary,omitempty"`
	Industry   string    `json:"industry,omitempty"`
	Size       string    `json:"size,omitempty"`
	Website    string    `json:"website,omitempty"`
	EnrichedAt time.Time `json:"enriched_at"`
}

// RawRecord is a raw log row as read back from the store.
type RawRecord struct {
	ID          int64           `json:"id"`
	Source      string          `json:"source"`
	SourceID    string          `json:"source_id"`
	FetchedAt   time.Time       `json:"fetched_at"`
	Payload     json.RawMessage `json:"payload"`
	Decision    DecisionKind    `json:"decision"`
	CanonicalID string          `json:"canonical_id,omitempty"`
	Score       float64         `json:"score"`
	Reason      string          `json:"reason,omitempty"`
	TrustScore  float64         `json:"trust_score"`
	RunID       string          `json:"run_id,omitempty"`
}

// Observation is what the engine appends to the raw log for one record.
// CanonicalID is the record the observation landed in, empty on REJECT and
// FAILED.
type Observation struct {
	Raw         RawPosting
	RunID       string
	Decision    Decision
	CanonicalID string
	TrustScore  float64
}

const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// RunCounts are the per-outcome record counters of one reconciliation run.
type RunCounts struct {
	Received  int `json:"received"`
	Invalid   int `json:"invalid"`
	New       int `json:"new"`
	Merged    int `json:"merged"`
	Unchanged int `json:"unchanged"`
	Rejected  int `json:"rejected"`
	Failed    int `json:"failed"`
}

// ReconcileRun is the bookkeeping row of one batch.
type ReconcileRun struct {
	ID         string     `json:"id"`
	Source     string     `json:"source"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     string     `json:"status"`
	Counts     RunCounts  `json:"counts"`
	Error      string     `json:"error,omitempty"`
}
