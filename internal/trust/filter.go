// Package trust scores how likely a posting is genuine. Cheap deterministic
// heuristics run first; only scores in the ambiguous band reach the external
// classifier.
package trust

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"horse.fit/jobdedup/internal/cache"
	"horse.fit/jobdedup/internal/langdetect"
	"horse.fit/jobdedup/internal/posting"
)

const (
	ReasonMissingCompany     = "missing_company"
	ReasonMissingDescription = "missing_description"
	ReasonSalaryOutOfRange   = "salary_out_of_range"
	ReasonURLReused          = "url_reused"
	ReasonPostedBeforeWindow = "posted_before_window"
	ReasonPostedInFuture     = "posted_in_future"
	ReasonRedFlag            = "red_flag_keywords"
	ReasonLanguageMismatch   = "language_mismatch"
)

const (
	SkipTimeout   = "classifier_timeout"
	SkipError     = "classifier_error"
	SkipCancelled = "classifier_cancelled"
)

const (
	defaultClassifierTimeout = 15 * time.Second
	defaultCacheTTL          = 30 * 24 * time.Hour
	classifyKeyPrefix        = "classify:"
)

// Input is everything the filter looks at for one posting.
type Input struct {
	Raw         posting.RawPosting
	Normalized  posting.Normalized
	Fingerprint posting.Fingerprint
	Language    string
	// URLCompanies lists the company keys already seen with the same posting URL.
	URLCompanies []string
	// Now anchors the posting-age checks; the engine passes the run start.
	Now time.Time
}

type Options struct {
	Classifier  Classifier
	Cache       cache.Cache
	CacheTTL    time.Duration
	Timeout     time.Duration
	Concurrency int64
}

type Filter struct {
	cfg        Config
	classifier Classifier
	cache      cache.Cache
	cacheTTL   time.Duration
	timeout    time.Duration
	gate       *semaphore.Weighted
	logger     zerolog.Logger

	redFlags []string
	combos   [][]string
}

func NewFilter(cfg Config, opts Options, logger zerolog.Logger) *Filter {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultClassifierTimeout
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	f := &Filter{
		cfg:        cfg,
		classifier: opts.Classifier,
		cache:      opts.Cache,
		cacheTTL:   opts.CacheTTL,
		timeout:    opts.Timeout,
		gate:       semaphore.NewWeighted(opts.Concurrency),
		logger:     logger,
	}
	for _, flag := range cfg.RedFlags {
		if folded := posting.FoldText(flag); folded != "" {
			f.redFlags = append(f.redFlags, folded)
		}
	}
	for _, combo := range cfg.RedFlagCombos {
		terms := make([]string, 0, len(combo))
		for _, term := range combo {
			if folded := posting.FoldText(term); folded != "" {
				terms = append(terms, folded)
			}
		}
		if len(terms) > 0 {
			f.combos = append(f.combos, terms)
		}
	}
	return f
}

// Assess scores a posting in [0,1] and lists the heuristics it triggered, in
// evaluation order. Classifier failures never surface as errors: the
// heuristic score stands and the assessment records the skip.
func (f *Filter) Assess(ctx context.Context, in Input) posting.TrustAssessment {
	reasons := f.heuristics(in)

	score := 1.0
	for _, reason := range reasons {
		score -= f.penalty(reason)
	}
	score = clamp01(roundScore(score))

	out := posting.TrustAssessment{Score: score, Reasons: reasons}
	if f.classifier == nil || score < f.cfg.AmbiguousMin || score > f.cfg.AmbiguousMax {
		return out
	}

	out.Escalated = true
	verdict, err := f.classify(ctx, in)
	if err != nil {
		out.ClassifierSkipped = true
		out.SkipReason = skipReason(err)
		f.logger.Warn().
			Err(err).
			Str("source_id", in.Raw.SourceKey()).
			Str("skip_reason", out.SkipReason).
			Msg("classifier unavailable, keeping heuristic trust score")
		return out
	}

	out.Score = clamp01(roundScore(score + verdict.Adjustment))
	out.Rationale = verdict.Rationale
	return out
}

func (f *Filter) heuristics(in Input) []string {
	reasons := make([]string, 0, 4)
	norm := in.Normalized

	if norm.CompanyKey == "" {
		reasons = append(reasons, ReasonMissingCompany)
	}
	if f.isPlaceholderDescription(norm.Description) {
		reasons = append(reasons, ReasonMissingDescription)
	}
	if f.salaryOutOfRange(norm.Salary) {
		reasons = append(reasons, ReasonSalaryOutOfRange)
	}
	if urlReused(norm.CompanyKey, in.URLCompanies) {
		reasons = append(reasons, ReasonURLReused)
	}
	if reason := f.postingAge(norm.PostedAt, in.Now); reason != "" {
		reasons = append(reasons, reason)
	}
	if f.hasRedFlag(norm.Title + " " + norm.Company + " " + norm.Description) {
		reasons = append(reasons, ReasonRedFlag)
	}
	expected := langdetect.PrimaryCode(f.cfg.ExpectedLanguage)
	if got := langdetect.PrimaryCode(in.Language); expected != "" && got != "" && got != expected {
		reasons = append(reasons, ReasonLanguageMismatch)
	}
	return reasons
}

func (f *Filter) penalty(reason string) float64 {
	p := f.cfg.Penalties
	switch reason {
	case ReasonMissingCompany:
		return p.MissingCompany
	case ReasonMissingDescription:
		return p.MissingDescription
	case ReasonSalaryOutOfRange:
		return p.SalaryOutOfRange
	case ReasonURLReused:
		return p.URLReused
	case ReasonPostedBeforeWindow, ReasonPostedInFuture:
		return p.PostingAge
	case ReasonRedFlag:
		return p.RedFlag
	case ReasonLanguageMismatch:
		return p.LanguageMismatch
	default:
		return 0
	}
}

func (f *Filter) isPlaceholderDescription(description string) bool {
	folded := posting.FoldText(description)
	if len([]rune(folded)) < f.cfg.MinDescriptionLength {
		return true
	}
	for _, placeholder := range f.cfg.PlaceholderDescriptions {
		p := posting.FoldText(placeholder)
		if p == "" {
			continue
		}
		if folded == p || strings.HasPrefix(folded, p+" ") {
			return true
		}
	}
	return false
}

func (f *Filter) salaryOutOfRange(s posting.Salary) bool {
	if s.IsZero() {
		return false
	}
	low, high := s.Annual()
	return low < f.cfg.AnnualSalaryMin || high > f.cfg.AnnualSalaryMax
}

func urlReused(companyKey string, urlCompanies []string) bool {
	if companyKey == "" {
		return false
	}
	for _, other := range urlCompanies {
		if other != "" && other != companyKey {
			return true
		}
	}
	return false
}

func (f *Filter) postingAge(postedAt *time.Time, now time.Time) string {
	if postedAt == nil || now.IsZero() {
		return ""
	}
	windowStart := now.AddDate(0, 0, -f.cfg.SearchWindowDays)
	if postedAt.Before(windowStart) {
		return ReasonPostedBeforeWindow
	}
	if postedAt.After(now.Add(time.Duration(f.cfg.FutureSkewHours) * time.Hour)) {
		return ReasonPostedInFuture
	}
	return ""
}

func (f *Filter) hasRedFlag(text string) bool {
	folded := posting.FoldText(text)
	if folded == "" {
		return false
	}
	for _, flag := range f.redFlags {
		if strings.Contains(folded, flag) {
			return true
		}
	}
	for _, combo := range f.combos {
		all := true
		for _, term := range combo {
			if !strings.Contains(folded, term) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

func (f *Filter) classify(ctx context.Context, in Input) (Verdict, error) {
	key := classifyKeyPrefix + hex.EncodeToString(in.Fingerprint.ContentHash)

	if f.cache != nil {
		var cached Verdict
		hit, err := f.cache.GetJSON(ctx, key, &cached)
		if err != nil {
			f.logger.Debug().Err(err).Str("key", key).Msg("classification cache read failed")
		}
		if hit {
			return cached, nil
		}
	}

	if err := f.gate.Acquire(ctx, 1); err != nil {
		return Verdict{}, fmt.Errorf("wait for classifier slot: %w", err)
	}
	defer f.gate.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	verdict, err := f.classifier.Classify(callCtx, PromptText(in.Raw))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return Verdict{}, fmt.Errorf("%w: %v", posting.ErrCollaboratorTimeout, err)
		}
		return Verdict{}, err
	}
	if math.IsNaN(verdict.Adjustment) || math.IsInf(verdict.Adjustment, 0) {
		return Verdict{}, fmt.Errorf("%w: non-finite score adjustment", posting.ErrCollaboratorError)
	}
	verdict.Adjustment = math.Max(-1, math.Min(1, verdict.Adjustment))

	if f.cache != nil {
		if err := f.cache.SetJSON(ctx, key, verdict, f.cacheTTL); err != nil {
			f.logger.Debug().Err(err).Str("key", key).Msg("classification cache write failed")
		}
	}
	return verdict, nil
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, posting.ErrCollaboratorTimeout), errors.Is(err, context.DeadlineExceeded):
		return SkipTimeout
	case errors.Is(err, context.Canceled):
		return SkipCancelled
	default:
		return SkipError
	}
}

func roundScore(v float64) float64 {
	return math.Round(v*1e9) / 1e9
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
