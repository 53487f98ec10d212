package reconcile

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"horse.fit/jobdedup/internal/enrich"
	"horse.fit/jobdedup/internal/feed"
	"horse.fit/jobdedup/internal/fingerprint"
	"horse.fit/jobdedup/internal/intake"
	"horse.fit/jobdedup/internal/match"
	"horse.fit/jobdedup/internal/posting"
	"horse.fit/jobdedup/internal/runlock"
	"horse.fit/jobdedup/internal/store"
	"horse.fit/jobdedup/internal/trust"
)

type State string

const (
	StateReceived        State = "RECEIVED"
	StateFingerprinted   State = "FINGERPRINTED"
	StateCandidatesFound State = "CANDIDATES_FOUND"
	StateDecided         State = "DECIDED"
	StatePersisted       State = "PERSISTED"
	StateRejected        State = "REJECTED"
	StateFailed          State = "FAILED"
)

const (
	DefaultWorkers    = 4
	DefaultMaxRetries = 3
	DefaultLockTTL    = 30 * time.Minute
)

// canonicalNamespace seeds the deterministic ids of new canonical postings.
var canonicalNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://horse.fit/jobdedup/canonical"))

// CanonicalID is the id a canonical posting gets when sourceKey creates it.
// Two runs racing to create the same record therefore collide on insert.
func CanonicalID(sourceKey string) string {
	return uuid.NewSHA1(canonicalNamespace, []byte(sourceKey)).String()
}

// LanguageDetector returns an ISO 639-1 code, or "" when unsure.
type LanguageDetector interface {
	DetectISO6391(text string) string
}

type Options struct {
	Workers    int
	MaxRetries int
	LockName   string
	LockTTL    time.Duration
	// LockRenewEvery is how often the run lock is extended while a batch
	// runs. It defaults to a third of LockTTL.
	LockRenewEvery time.Duration
	Now            func() time.Time
}

type Deps struct {
	Store      store.Store
	Matcher    *match.Matcher
	Normalizer *posting.Normalizer
	Filter     *trust.Filter
	Locker     runlock.Locker
	// Detector and Enrichment are optional.
	Detector   LanguageDetector
	Enrichment *enrich.Dispatcher
	Decoder    *intake.Decoder
	Logger     zerolog.Logger
}

type Engine struct {
	store      store.Store
	matcher    *match.Matcher
	normalizer *posting.Normalizer
	filter     *trust.Filter
	locker     runlock.Locker
	detector   LanguageDetector
	enrichment *enrich.Dispatcher
	decoder    *intake.Decoder
	opts       Options
	logger     zerolog.Logger
}

func NewEngine(deps Deps, opts Options) (*Engine, error) {
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("reconcile engine requires a store")
	case deps.Matcher == nil:
		return nil, fmt.Errorf("reconcile engine requires a matcher")
	case deps.Normalizer == nil:
		return nil, fmt.Errorf("reconcile engine requires a normalizer")
	case deps.Filter == nil:
		return nil, fmt.Errorf("reconcile engine requires a trust filter")
	case deps.Locker == nil:
		return nil, fmt.Errorf("reconcile engine requires a run locker")
	}
	if deps.Decoder == nil {
		deps.Decoder = intake.NewDecoder()
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if strings.TrimSpace(opts.LockName) == "" {
		opts.LockName = runlock.DefaultName
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = DefaultLockTTL
	}
	if opts.LockRenewEvery <= 0 || opts.LockRenewEvery >= opts.LockTTL {
		opts.LockRenewEvery = opts.LockTTL / 3
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Engine{
		store:      deps.Store,
		matcher:    deps.Matcher,
		normalizer: deps.Normalizer,
		filter:     deps.Filter,
		locker:     deps.Locker,
		detector:   deps.Detector,
		enrichment: deps.Enrichment,
		decoder:    deps.Decoder,
		opts:       opts,
		logger:     deps.Logger,
	}, nil
}

// Summary reports one finished run.
type Summary struct {
	RunID      string
	Source     string
	Status     string
	Counts     posting.RunCounts
	Enrichment enrich.Result
	Failures   []*posting.ReconciliationFailure
	Duration   time.Duration
}

// Ingest pulls every payload from fetcher, validates it at the boundary and
// reconciles the valid ones as one batch. Invalid payloads are counted and
// skipped. A fetch error ends the batch early: the payloads read before it are
// still reconciled and the fetch error is returned with the summary.
func (e *Engine) Ingest(ctx context.Context, rc *RunContext, fetcher feed.Fetcher) (Summary, error) {
	var fetchErr error
	batch := make([]posting.RawPosting, 0, 64)
	for item, err := range fetcher.Fetch(ctx) {
		if err != nil {
			fetchErr = fmt.Errorf("fetch batch: %w", err)
			e.logger.Warn().
				Err(err).
				Str("run_id", rc.ID).
				Int("fetched", len(batch)).
				Msg("fetch ended early, reconciling partial batch")
			break
		}
		source := item.Source
		if source == "" {
			source = rc.Source
		}
		raw, err := e.decoder.Decode(source, item.FetchedAt, item.Payload)
		if err != nil {
			rc.counters.received.Add(1)
			rc.counters.invalid.Add(1)
			e.logInvalid(rc, err, item.Position)
			continue
		}
		batch = append(batch, raw)
	}

	summary, err := e.Run(ctx, rc, batch)
	return summary, errors.Join(err, fetchErr)
}

// Run reconciles batch under the run lock. Per-record failures are counted
// and never abort the batch; an unavailable store does, and the returned
// error wraps posting.ErrStoreUnavailable. A failed batch is safe to re-run.
func (e *Engine) Run(ctx context.Context, rc *RunContext, batch []posting.RawPosting) (Summary, error) {
	if rc == nil {
		return Summary{}, fmt.Errorf("run context is required")
	}
	if !rc.started.CompareAndSwap(false, true) {
		return Summary{}, fmt.Errorf("run context %s was already used", rc.ID)
	}
	began := e.opts.Now()

	lease, err := e.locker.Acquire(ctx, e.opts.LockName, e.opts.LockTTL)
	if err != nil {
		return Summary{RunID: rc.ID, Source: rc.Source, Status: posting.RunFailed}, fmt.Errorf("acquire run lock: %w", err)
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			e.logger.Warn().Err(err).Str("run_id", rc.ID).Msg("release run lock failed")
		}
	}()

	rc.counters.received.Add(int64(len(batch)))
	run := posting.ReconcileRun{
		ID:        rc.ID,
		Source:    rc.Source,
		StartedAt: rc.StartedAt,
		Status:    posting.RunRunning,
		Counts:    rc.Counts(),
	}
	if err := e.store.BeginRun(ctx, run); err != nil {
		return Summary{RunID: rc.ID, Source: rc.Source, Status: posting.RunFailed}, fmt.Errorf("record run start: %w", err)
	}

	if e.enrichment != nil {
		rc.enrichment = e.enrichment.Begin(ctx)
	}

	lanes := e.partition(rc, batch)
	e.logger.Info().
		Str("run_id", rc.ID).
		Str("source", rc.Source).
		Int("records", len(batch)).
		Int("lanes", len(lanes)).
		Msg("reconciliation started")

	runCtx, cancelRun := context.WithCancelCause(ctx)
	defer cancelRun(nil)
	stopRenewal := e.keepLease(runCtx, cancelRun, rc, lease)

	group, groupCtx := errgroup.WithContext(runCtx)
	group.SetLimit(e.opts.Workers)
	for _, lane := range lanes {
		group.Go(func() error {
			for _, rec := range lane {
				if err := e.process(groupCtx, rc, rec); err != nil {
					return err
				}
			}
			return nil
		})
	}
	runErr := group.Wait()
	stopRenewal()
	if cause := context.Cause(runCtx); errors.Is(cause, runlock.ErrLeaseLost) {
		runErr = cause
	}

	enrichment := rc.enrichment.Wait()

	finishedAt := e.opts.Now().UTC()
	run.FinishedAt = &finishedAt
	run.Counts = rc.Counts()
	run.Status = posting.RunCompleted
	if runErr != nil {
		run.Status = posting.RunFailed
		run.Error = runErr.Error()
	}
	if err := e.store.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		e.logger.Warn().Err(err).Str("run_id", rc.ID).Msg("record run finish failed")
	}

	summary := Summary{
		RunID:      rc.ID,
		Source:     rc.Source,
		Status:     run.Status,
		Counts:     run.Counts,
		Enrichment: enrichment,
		Failures:   rc.Failures(),
		Duration:   e.opts.Now().Sub(began),
	}

	event := e.logger.Info()
	if runErr != nil {
		event = e.logger.Error().Err(runErr)
	}
	event.
		Str("run_id", rc.ID).
		Str("status", run.Status).
		Int("received", run.Counts.Received).
		Int("invalid", run.Counts.Invalid).
		Int("new", run.Counts.New).
		Int("merged", run.Counts.Merged).
		Int("unchanged", run.Counts.Unchanged).
		Int("rejected", run.Counts.Rejected).
		Int("failed", run.Counts.Failed).
		Dur("duration", summary.Duration).
		Msg("reconciliation finished")

	if runErr != nil {
		return summary, fmt.Errorf("reconcile run %s: %w", rc.ID, runErr)
	}
	return summary, nil
}

// keepLease extends lease every LockRenewEvery until the returned stop is
// called. A lost lease, or one that could not be renewed before it would
// expire, cancels the run with runlock.ErrLeaseLost.
func (e *Engine) keepLease(ctx context.Context, cancel context.CancelCauseFunc, rc *RunContext, lease runlock.Lease) (stop func()) {
	done := make(chan struct{})
	finished := make(chan struct{})

	go func() {
		defer close(finished)
		ticker := time.NewTicker(e.opts.LockRenewEvery)
		defer ticker.Stop()

		renewed := time.Now()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			err := lease.Extend(ctx, e.opts.LockTTL)
			switch {
			case err == nil:
				renewed = time.Now()
				continue
			case ctx.Err() != nil:
				return
			case errors.Is(err, runlock.ErrLeaseLost):
			case time.Since(renewed)+e.opts.LockRenewEvery < e.opts.LockTTL:
				e.logger.Warn().Err(err).Str("run_id", rc.ID).Msg("run lock renewal failed, retrying")
				continue
			default:
				err = fmt.Errorf("%w: %w", runlock.ErrLeaseLost, err)
			}

			e.logger.Error().Err(err).Str("run_id", rc.ID).Msg("run lock lost, aborting batch")
			cancel(err)
			return
		}
	}()

	return func() {
		close(done)
		<-finished
	}
}

// record is one validated posting with its derived values.
type record struct {
	raw  posting.RawPosting
	norm posting.Normalized
	fp   posting.Fingerprint
}

// partition fingerprints the batch and splits it into lanes by bucket key.
// Records sharing a bucket stay in one lane in batch order; lanes run in
// parallel because no two lanes can target the same canonical bucket.
func (e *Engine) partition(rc *RunContext, batch []posting.RawPosting) [][]record {
	order := make([]string, 0)
	lanes := make(map[string][]record)

	for _, raw := range batch {
		e.trace(raw, StateReceived)
		if err := e.decoder.Check(raw); err != nil {
			rc.counters.invalid.Add(1)
			e.logInvalid(rc, err, -1)
			continue
		}

		norm := e.normalizer.Normalize(raw)
		rec := record{raw: raw, norm: norm, fp: fingerprint.Of(norm)}
		e.trace(raw, StateFingerprinted)

		rc.urls.add(norm.URLHash, norm.CompanyKey)

		key := rec.fp.BucketKey
		if _, ok := lanes[key]; !ok {
			order = append(order, key)
		}
		lanes[key] = append(lanes[key], rec)
	}

	out := make([][]record, 0, len(order))
	for _, key := range order {
		out = append(out, lanes[key])
	}
	return out
}

type outcome int

const (
	outcomeNew outcome = iota
	outcomeMerged
	outcomeUnchanged
	outcomeRejected
)

// process runs one record to a terminal state. Only an unavailable store or a
// cancelled run is returned; everything else is counted on rc.
func (e *Engine) process(ctx context.Context, rc *RunContext, rec record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	language := ""
	if e.detector != nil {
		language = e.detector.DetectISO6391(rec.norm.Title + "\n" + rec.norm.Description)
	}

	urlCompanies, err := e.store.CompaniesForURL(ctx, rec.norm.URLHash)
	if err != nil {
		if fatal(err) {
			return err
		}
		e.logger.Warn().Err(err).Str("source_id", rec.raw.SourceKey()).Msg("url lookup failed, checking batch only")
	}
	urlCompanies = append(urlCompanies, rc.urls.lookup(rec.norm.URLHash)...)
	slices.Sort(urlCompanies)
	urlCompanies = slices.Compact(urlCompanies)

	assessment := e.filter.Assess(ctx, trust.Input{
		Raw:          rec.raw,
		Normalized:   rec.norm,
		Fingerprint:  rec.fp,
		Language:     language,
		URLCompanies: urlCompanies,
		Now:          rc.StartedAt,
	})

	incoming := match.Incoming{
		SourceKey:   rec.raw.SourceKey(),
		Normalized:  rec.norm,
		Fingerprint: rec.fp,
	}

	var (
		lastErr  error
		attempts int
	)
	for attempt := 1; attempt <= e.opts.MaxRetries; attempt++ {
		attempts = attempt
		candidates, err := e.matcher.FindCandidates(ctx, incoming, e.store)
		if err != nil {
			if fatal(err) {
				return err
			}
			lastErr = err
			break
		}
		e.trace(rec.raw, StateCandidatesFound)

		decision := e.matcher.Decide(incoming, candidates)
		e.logger.Debug().
			Str("source_id", incoming.SourceKey).
			Str("state", string(StateDecided)).
			Str("decision", string(decision.Kind)).
			Str("target_id", decision.TargetID).
			Float64("score", decision.Score).
			Str("reason", decision.Reason).
			Int("attempt", attempt).
			Msg("record decided")

		result, err := e.persist(ctx, rc, rec, decision, assessment, language)
		if err == nil {
			e.count(rc, result)
			if result == outcomeRejected {
				e.trace(rec.raw, StateRejected)
			} else {
				e.trace(rec.raw, StatePersisted)
				e.submitEnrichment(rc, rec)
			}
			return nil
		}
		if fatal(err) {
			return err
		}
		lastErr = err
		if !errors.Is(err, posting.ErrPersistenceConflict) {
			break
		}
		e.logger.Debug().
			Err(err).
			Str("source_id", incoming.SourceKey).
			Int("attempt", attempt).
			Msg("persistence conflict, re-deciding")
	}

	failure := &posting.ReconciliationFailure{
		SourceKey: incoming.SourceKey,
		Attempts:  attempts,
		Err:       lastErr,
	}
	rc.addFailure(failure)
	e.logger.Warn().
		Err(failure).
		Str("source_id", incoming.SourceKey).
		Str("state", string(StateFailed)).
		Msg("record not reconciled")

	return e.recordFailure(ctx, rc, rec, failure, assessment)
}

// recordFailure keeps the observation in the raw log with a FAILED decision
// so the posting is not lost when it could not be reconciled.
func (e *Engine) recordFailure(
	ctx context.Context,
	rc *RunContext,
	rec record,
	failure *posting.ReconciliationFailure,
	assessment posting.TrustAssessment,
) error {
	reason := "reconcile_error"
	if errors.Is(failure.Err, posting.ErrPersistenceConflict) {
		reason = "persistence_conflict"
	}
	_, err := e.store.AppendRaw(ctx, posting.Observation{
		Raw:        rec.raw,
		RunID:      rc.ID,
		Decision:   posting.Decision{Kind: posting.DecisionFailed, Reason: reason},
		TrustScore: assessment.Score,
	})
	if err == nil {
		return nil
	}
	if fatal(err) {
		return err
	}
	e.logger.Warn().
		Err(err).
		Str("source_id", failure.SourceKey).
		Msg("append failed observation failed")
	return nil
}

// persist applies a decision in one transaction: the raw observation and the
// canonical write commit together or not at all.
func (e *Engine) persist(
	ctx context.Context,
	rc *RunContext,
	rec record,
	decision posting.Decision,
	assessment posting.TrustAssessment,
	language string,
) (outcome, error) {
	var result outcome
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		obs := posting.Observation{
			Raw:        rec.raw,
			RunID:      rc.ID,
			Decision:   decision,
			TrustScore: assessment.Score,
		}

		var canonicalID string
		switch decision.Kind {
		case posting.DecisionReject:
			result = outcomeRejected

		case posting.DecisionNew:
			canonicalID = CanonicalID(rec.raw.SourceKey())
			created := posting.NewCanonical(canonicalID, rec.raw, rec.norm, rec.fp, assessment, language)
			if err := tx.InsertCanonical(ctx, created); err != nil {
				return err
			}
			result = outcomeNew

		case posting.DecisionMerge:
			current, err := tx.LockCanonical(ctx, decision.TargetID)
			if err != nil {
				if errors.Is(err, posting.ErrNotFound) {
					return fmt.Errorf("merge target %s vanished: %w", decision.TargetID, posting.ErrPersistenceConflict)
				}
				return err
			}
			canonicalID = current.ID
			incoming := posting.NewCanonical(current.ID, rec.raw, rec.norm, rec.fp, assessment, language)
			merged := posting.Merge(current, incoming)
			if posting.SameContent(current, merged) {
				result = outcomeUnchanged
				break
			}
			if err := tx.UpsertCanonical(ctx, merged); err != nil {
				return err
			}
			result = outcomeMerged

		default:
			return fmt.Errorf("unknown decision %q", decision.Kind)
		}

		obs.CanonicalID = canonicalID
		if _, err := tx.AppendRaw(ctx, obs); err != nil {
			return err
		}
		return nil
	})
	return result, err
}

func (e *Engine) count(rc *RunContext, result outcome) {
	switch result {
	case outcomeNew:
		rc.counters.created.Add(1)
	case outcomeMerged:
		rc.counters.merged.Add(1)
	case outcomeUnchanged:
		rc.counters.unchanged.Add(1)
	case outcomeRejected:
		rc.counters.rejected.Add(1)
	}
}

func (e *Engine) submitEnrichment(rc *RunContext, rec record) {
	if rc.enrichment == nil || rec.norm.CompanyKey == "" {
		return
	}
	rc.enrichment.Submit(posting.Company{
		Key:     rec.norm.CompanyKey,
		Name:    rec.norm.Company,
		Website: rec.raw.CompanyURL,
	})
}

func (e *Engine) trace(raw posting.RawPosting, state State) {
	e.logger.Debug().
		Str("source_id", raw.SourceKey()).
		Str("state", string(state)).
		Msg("record state")
}

func (e *Engine) logInvalid(rc *RunContext, err error, position int) {
	event := e.logger.Warn().
		Err(err).
		Str("run_id", rc.ID).
		Str("state", string(StateRejected))
	var verr *posting.ValidationError
	if errors.As(err, &verr) && verr.SourceID != "" {
		event = event.Str("source_id", verr.SourceID)
	}
	if position >= 0 {
		event = event.Int("position", position)
	}
	event.Msg("invalid posting skipped")
}

// fatal reports errors that end the whole batch.
func fatal(err error) bool {
	return errors.Is(err, posting.ErrStoreUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
