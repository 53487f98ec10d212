// Package reconcile drives a batch of raw postings through fingerprinting,
// matching, trust scoring and persistence.
package reconcile

import (
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"horse.fit/jobdedup/internal/enrich"
	"horse.fit/jobdedup/internal/posting"
)

// RunContext carries everything scoped to one reconciliation run. It is
// created per batch and must not be reused.
type RunContext struct {
	ID        string
	Source    string
	StartedAt time.Time

	started  atomic.Bool
	counters counters
	urls     urlIndex

	enrichment *enrich.Batch

	mu       sync.Mutex
	failures []*posting.ReconciliationFailure
}

// NewRunContext starts a run for source at startedAt. The start time anchors
// every posting-age check in the run.
func NewRunContext(source string, startedAt time.Time) *RunContext {
	return &RunContext{
		ID:        uuid.NewString(),
		Source:    source,
		StartedAt: startedAt.UTC(),
		urls:      urlIndex{companies: make(map[string]map[string]struct{})},
	}
}

// Counts snapshots the run counters.
func (rc *RunContext) Counts() posting.RunCounts {
	return rc.counters.snapshot()
}

// Failures lists the records whose persistence retries ran out.
func (rc *RunContext) Failures() []*posting.ReconciliationFailure {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]*posting.ReconciliationFailure, len(rc.failures))
	copy(out, rc.failures)
	return out
}

func (rc *RunContext) addFailure(f *posting.ReconciliationFailure) {
	rc.mu.Lock()
	rc.failures = append(rc.failures, f)
	rc.mu.Unlock()
	rc.counters.failed.Add(1)
}

type counters struct {
	received  atomic.Int64
	invalid   atomic.Int64
	created   atomic.Int64
	merged    atomic.Int64
	unchanged atomic.Int64
	rejected  atomic.Int64
	failed    atomic.Int64
}

func (c *counters) snapshot() posting.RunCounts {
	return posting.RunCounts{
		Received:  int(c.received.Load()),
		Invalid:   int(c.invalid.Load()),
		New:       int(c.created.Load()),
		Merged:    int(c.merged.Load()),
		Unchanged: int(c.unchanged.Load()),
		Rejected:  int(c.rejected.Load()),
		Failed:    int(c.failed.Load()),
	}
}

// urlIndex remembers which companies posted each URL within the batch. It is
// filled before any lane starts, so lookups do not depend on lane order.
type urlIndex struct {
	mu        sync.RWMutex
	companies map[string]map[string]struct{}
}

func (u *urlIndex) add(urlHash []byte, companyKey string) {
	if len(urlHash) == 0 || companyKey == "" {
		return
	}
	key := hex.EncodeToString(urlHash)
	u.mu.Lock()
	defer u.mu.Unlock()
	set, ok := u.companies[key]
	if !ok {
		set = make(map[string]struct{})
		u.companies[key] = set
	}
	set[companyKey] = struct{}{}
}

func (u *urlIndex) lookup(urlHash []byte) []string {
	if len(urlHash) == 0 {
		return nil
	}
	u.mu.RLock()
	defer u.mu.RUnlock()
	set := u.companies[hex.EncodeToString(urlHash)]
	out := make([]string, 0, len(set))
	for key := range set {
		out = append(out, key)
	}
	return out
}
