// Package match scores incoming postings against stored canonical postings and
// decides whether they describe the same opening.
package match

import (
	"bytes"
	"container/heap"
	"context"
	"fmt"
	"iter"
	"math"
	"strings"

	"horse.fit/jobdedup/internal/posting"
)

const (
	ExactNone    = ""
	ExactSource  = "source"
	ExactContent = "content"
)

const (
	ReasonNoCandidates      = "no_candidates"
	ReasonEmptyTitle        = "empty_title"
	ReasonSameSource        = "same_source"
	ReasonHighConfidence    = "high_confidence"
	ReasonExactFields       = "ambiguous_exact_fields"
	ReasonAmbiguousRejected = "ambiguous_rejected"
	ReasonBelowThreshold    = "below_threshold"
)

type Weights struct {
	Title    float64 `yaml:"title" validate:"gte=0,lte=1"`
	Company  float64 `yaml:"company" validate:"gte=0,lte=1"`
	Location float64 `yaml:"location" validate:"gte=0,lte=1"`
}

type Config struct {
	Weights Weights `yaml:"weights"`
	// MergeThreshold is exclusive: a score must exceed it to merge.
	MergeThreshold float64 `yaml:"merge_threshold" validate:"gt=0,lte=1"`
	// AmbiguousMin is the inclusive lower edge of the ambiguous band.
	AmbiguousMin float64 `yaml:"ambiguous_min" validate:"gte=0,lte=1"`
	// AmbiguousTitleThreshold is the title score accepted in the ambiguous band
	// when company and metro match exactly.
	AmbiguousTitleThreshold float64 `yaml:"ambiguous_title_threshold" validate:"gte=0,lte=1"`
	// CompanyFloor blocks merges between two known companies that are not
	// at least this similar.
	CompanyFloor   float64 `yaml:"company_floor" validate:"gte=0,lte=1"`
	CandidateLimit int     `yaml:"candidate_limit" validate:"gte=1,lte=5000"`
}

func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			Title:    0.5,
			Company:  0.35,
			Location: 0.15,
		},
		MergeThreshold:          0.8,
		AmbiguousMin:            0.6,
		AmbiguousTitleThreshold: 0.6,
		CompanyFloor:            0.85,
		CandidateLimit:          200,
	}
}

// Index is the read side of the store the matcher needs.
type Index interface {
	FindBySource(ctx context.Context, sourceKey string) (posting.CanonicalPosting, bool, error)
	QueryCandidates(ctx context.Context, bucketKey string, limit int) ([]posting.CanonicalPosting, error)
}

// Incoming is the matcher's view of one fingerprinted posting.
type Incoming struct {
	SourceKey   string
	Normalized  posting.Normalized
	Fingerprint posting.Fingerprint
}

type Breakdown struct {
	Title    float64
	Company  float64
	Location float64
	Exact    string
}

type Candidate struct {
	Posting   posting.CanonicalPosting
	Score     float64
	Breakdown Breakdown
}

type Matcher struct {
	cfg Config
}

func New(cfg Config) *Matcher {
	return &Matcher{cfg: cfg}
}

func (m *Matcher) Config() Config {
	return m.cfg
}

// FindCandidates gathers the bucket of the incoming fingerprint plus any record
// already holding the incoming source key, scores them, and returns them as a
// sequence ordered by descending score.
func (m *Matcher) FindCandidates(ctx context.Context, in Incoming, idx Index) (*Candidates, error) {
	pool := make(map[string]posting.CanonicalPosting)

	if in.SourceKey != "" {
		existing, found, err := idx.FindBySource(ctx, in.SourceKey)
		if err != nil {
			return nil, fmt.Errorf("find by source %s: %w", in.SourceKey, err)
		}
		if found {
			pool[existing.ID] = existing
		}
	}

	bucket, err := idx.QueryCandidates(ctx, in.Fingerprint.BucketKey, m.cfg.CandidateLimit)
	if err != nil {
		return nil, fmt.Errorf("query candidates for %s: %w", in.Fingerprint.BucketKey, err)
	}
	for _, c := range bucket {
		pool[c.ID] = c
	}

	h := make(candidateHeap, 0, len(pool))
	for _, c := range pool {
		h = append(h, m.Score(in, c))
	}
	heap.Init(&h)
	return &Candidates{items: h}, nil
}

// Score computes the weighted similarity of an incoming posting and one
// canonical posting.
func (m *Matcher) Score(in Incoming, c posting.CanonicalPosting) Candidate {
	if in.SourceKey != "" && c.HasSource(in.SourceKey) {
		return Candidate{Posting: c, Score: 1, Breakdown: Breakdown{Title: 1, Company: 1, Location: 1, Exact: ExactSource}}
	}

	b := Breakdown{
		Title:    tokenJaccard(in.Normalized.TitleTokens, strings.Fields(c.TitleKey)),
		Company:  companySimilarity(in.Normalized.CompanyKey, c.CompanyKey),
		Location: locationSimilarity(in.Normalized.MetroKey, c.MetroKey),
	}
	// Equal content hashes are recorded for diagnostics only; the fingerprint
	// never decides a merge on its own.
	if len(in.Fingerprint.ContentHash) > 0 && bytes.Equal(in.Fingerprint.ContentHash, c.Fingerprint.ContentHash) {
		b.Exact = ExactContent
	}

	w := m.cfg.Weights
	score := w.Title*b.Title + w.Company*b.Company + w.Location*b.Location
	return Candidate{Posting: c, Score: clamp01(roundScore(score)), Breakdown: b}
}

// Decide walks the candidate sequence from the best score down and returns
// the first acceptable merge target. It prefers creating a duplicate over a
// wrong merge: anything short of a confident match becomes NEW.
func (m *Matcher) Decide(in Incoming, candidates *Candidates) posting.Decision {
	if len(in.Normalized.TitleTokens) == 0 {
		return posting.Decision{Kind: posting.DecisionReject, Reason: ReasonEmptyTitle}
	}

	best := 0.0
	seen := false
	ambiguous := false
	for c := range candidates.All() {
		if !seen {
			best = c.Score
			seen = true
		}
		if c.Breakdown.Exact == ExactSource {
			return merge(c, ReasonSameSource)
		}
		if c.Score < m.cfg.AmbiguousMin {
			break
		}
		if m.companiesConflict(in, c) {
			continue
		}
		if c.Score > m.cfg.MergeThreshold {
			return merge(c, ReasonHighConfidence)
		}
		if m.exactFields(in, c) && c.Breakdown.Title >= m.cfg.AmbiguousTitleThreshold {
			return merge(c, ReasonExactFields)
		}
		ambiguous = true
	}

	switch {
	case !seen:
		return posting.Decision{Kind: posting.DecisionNew, Reason: ReasonNoCandidates}
	case ambiguous:
		return posting.Decision{Kind: posting.DecisionNew, Score: best, Reason: ReasonAmbiguousRejected}
	default:
		return posting.Decision{Kind: posting.DecisionNew, Score: best, Reason: ReasonBelowThreshold}
	}
}

func (m *Matcher) companiesConflict(in Incoming, c Candidate) bool {
	if in.Normalized.CompanyKey == "" || c.Posting.CompanyKey == "" {
		return false
	}
	return c.Breakdown.Company < m.cfg.CompanyFloor
}

func (m *Matcher) exactFields(in Incoming, c Candidate) bool {
	return in.Normalized.CompanyKey != "" &&
		in.Normalized.CompanyKey == c.Posting.CompanyKey &&
		in.Normalized.MetroKey != "" &&
		in.Normalized.MetroKey == c.Posting.MetroKey
}

func merge(c Candidate, reason string) posting.Decision {
	return posting.Decision{
		Kind:     posting.DecisionMerge,
		TargetID: c.Posting.ID,
		Score:    c.Score,
		Reason:   reason,
	}
}

// roundScore keeps threshold comparisons stable against float noise.
func roundScore(v float64) float64 {
	return math.Round(v*1e9) / 1e9
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// Candidates is a finite sequence of scored candidates. Each Next pops the
// current best; a drained sequence stays drained.
type Candidates struct {
	items candidateHeap
}

func (c *Candidates) Len() int {
	if c == nil {
		return 0
	}
	return c.items.Len()
}

func (c *Candidates) Next() (Candidate, bool) {
	if c == nil || c.items.Len() == 0 {
		return Candidate{}, false
	}
	return heap.Pop(&c.items).(Candidate), true
}

// All drains the sequence.
func (c *Candidates) All() iter.Seq[Candidate] {
	return func(yield func(Candidate) bool) {
		for {
			next, ok := c.Next()
			if !ok || !yield(next) {
				return
			}
		}
	}
}

// candidateHeap orders by score, then a source re-observation, then most
// recent LastSeenAt, then ID.
type candidateHeap []Candidate

func (h candidateHeap) Len() int { return len(h) }

func (h candidateHeap) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score > h[j].Score
	}
	leftSource := h[i].Breakdown.Exact == ExactSource
	rightSource := h[j].Breakdown.Exact == ExactSource
	if leftSource != rightSource {
		return leftSource
	}
	if !h[i].Posting.LastSeenAt.Equal(h[j].Posting.LastSeenAt) {
		return h[i].Posting.LastSeenAt.After(h[j].Posting.LastSeenAt)
	}
	return h[i].Posting.ID < h[j].Posting.ID
}

func (h candidateHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *candidateHeap) Push(x any) { *h = append(*h, x.(Candidate)) }

func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
