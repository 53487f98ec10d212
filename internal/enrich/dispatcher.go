package enrich

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"horse.fit/jobdedup/internal/posting"
)

const defaultTimeout = 20 * time.Second

// CompanyStore is where enriched profiles end up.
type CompanyStore interface {
	UpsertCompany(ctx context.Context, c posting.Company) error
	GetCompany(ctx context.Context, key string) (posting.Company, error)
}

type DispatcherOptions struct {
	Concurrency int64
	Timeout     time.Duration
	// FreshFor skips companies whose stored profile is younger than this.
	FreshFor time.Duration
	Now      func() time.Time
}

// Dispatcher bounds enrichment concurrency across runs. Each run opens its
// own Batch.
type Dispatcher struct {
	enricher Enricher
	store    CompanyStore
	gate     *semaphore.Weighted
	timeout  time.Duration
	freshFor time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

func NewDispatcher(enricher Enricher, store CompanyStore, opts DispatcherOptions, logger zerolog.Logger) *Dispatcher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Dispatcher{
		enricher: enricher,
		store:    store,
		gate:     semaphore.NewWeighted(opts.Concurrency),
		timeout:  opts.Timeout,
		freshFor: opts.FreshFor,
		now:      opts.Now,
		logger:   logger,
	}
}

// Result counts what one batch did.
type Result struct {
	Submitted int64
	Enriched  int64
	Skipped   int64
	Failed    int64
}

// Batch deduplicates submissions by company key within one run. Lookups run
// under the context the batch was opened with.
type Batch struct {
	d    *Dispatcher
	ctx  context.Context
	wg   sync.WaitGroup
	mu   sync.Mutex
	seen map[string]struct{}

	submitted atomic.Int64
	enriched  atomic.Int64
	skipped   atomic.Int64
	failed    atomic.Int64
}

func (d *Dispatcher) Begin(ctx context.Context) *Batch {
	return &Batch{d: d, ctx: ctx, seen: make(map[string]struct{})}
}

// Submit schedules one company and returns at once. It reports false when
// the company was already submitted in this batch or has no key.
func (b *Batch) Submit(company posting.Company) bool {
	if b == nil || validate(company) != nil {
		return false
	}

	b.mu.Lock()
	if _, dup := b.seen[company.Key]; dup {
		b.mu.Unlock()
		return false
	}
	b.seen[company.Key] = struct{}{}
	b.mu.Unlock()

	b.submitted.Add(1)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		switch err := b.d.enrich(b.ctx, company); {
		case err == nil:
			b.enriched.Add(1)
		case errors.Is(err, errFresh):
			b.skipped.Add(1)
		default:
			b.failed.Add(1)
			b.d.logger.Warn().
				Err(err).
				Str("company_key", company.Key).
				Msg("company enrichment failed")
		}
	}()
	return true
}

// Wait blocks until every submitted company finished.
func (b *Batch) Wait() Result {
	if b == nil {
		return Result{}
	}
	b.wg.Wait()
	return Result{
		Submitted: b.submitted.Load(),
		Enriched:  b.enriched.Load(),
		Skipped:   b.skipped.Load(),
		Failed:    b.failed.Load(),
	}
}

var errFresh = errors.New("stored profile is fresh")

func (d *Dispatcher) enrich(ctx context.Context, company posting.Company) error {
	if d.freshFor > 0 {
		existing, err := d.store.GetCompany(ctx, company.Key)
		switch {
		case err == nil && !existing.EnrichedAt.IsZero() && d.now().Sub(existing.EnrichedAt) < d.freshFor:
			return errFresh
		case err != nil && !errors.Is(err, posting.ErrNotFound):
			return fmt.Errorf("load company %s: %w", company.Key, err)
		}
	}

	if err := d.gate.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("wait for enrichment slot: %w", err)
	}
	defer d.gate.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	profile, err := d.enricher.Enrich(callCtx, company)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", posting.ErrCollaboratorTimeout, err)
		}
		return err
	}

	if err := d.store.UpsertCompany(ctx, ToCompany(company, profile, d.now())); err != nil {
		return fmt.Errorf("store company %s: %w", company.Key, err)
	}
	return nil
}
