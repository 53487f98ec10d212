package store

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"horse.fit/jobdedup/internal/posting"
)

// Memory is an in-process Store. Transactions buffer their writes and apply
// them atomically on commit; LockCanonical holds a per-record lock for the
// life of the transaction, mirroring SELECT ... FOR UPDATE.
type Memory struct {
	mu        sync.RWMutex
	canonical map[string]posting.CanonicalPosting
	bySource  map[string]string
	buckets   map[string][]string
	raw       []posting.RawRecord
	rawKeys   map[string]struct{}
	companies map[string]posting.Company
	runs      map[string]posting.ReconcileRun
	latestRun string

	locksMu  sync.Mutex
	rowLocks map[string]chan struct{}

	unavailable atomic.Bool
	hookMu      sync.Mutex
	commitHook  func() error

	now func() time.Time
}

func NewMemory() *Memory {
	return NewMemoryWithClock(time.Now)
}

func NewMemoryWithClock(now func() time.Time) *Memory {
	return &Memory{
		canonical: make(map[string]posting.CanonicalPosting),
		bySource:  make(map[string]string),
		buckets:   make(map[string][]string),
		rawKeys:   make(map[string]struct{}),
		companies: make(map[string]posting.Company),
		runs:      make(map[string]posting.ReconcileRun),
		rowLocks:  make(map[string]chan struct{}),
		now:       now,
	}
}

// SetUnavailable makes every call fail with posting.ErrStoreUnavailable.
func (m *Memory) SetUnavailable(down bool) {
	m.unavailable.Store(down)
}

// SetCommitHook installs a function that runs before each commit applies.
// A non-nil error aborts the commit with that error.
func (m *Memory) SetCommitHook(hook func() error) {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	m.commitHook = hook
}

func (m *Memory) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.unavailable.Load() {
		return posting.ErrStoreUnavailable
	}
	return nil
}

func (m *Memory) FindBySource(ctx context.Context, sourceKey string) (posting.CanonicalPosting, bool, error) {
	if err := m.check(ctx); err != nil {
		return posting.CanonicalPosting{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.bySource[sourceKey]
	if !ok {
		return posting.CanonicalPosting{}, false, nil
	}
	return m.canonical[id].Clone(), true, nil
}

func (m *Memory) QueryCandidates(ctx context.Context, bucketKey string, limit int) ([]posting.CanonicalPosting, error) {
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]posting.CanonicalPosting, 0, len(m.buckets[bucketKey]))
	for _, id := range m.buckets[bucketKey] {
		out = append(out, m.canonical[id].Clone())
	}
	sortBySeen(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CompaniesForURL(ctx context.Context, urlHash []byte) ([]string, error) {
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	if len(urlHash) == 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := make(map[string]struct{})
	for _, c := range m.canonical {
		if c.CompanyKey != "" && bytes.Equal(c.URLHash, urlHash) {
			set[c.CompanyKey] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for key := range set {
		out = append(out, key)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) AppendRaw(ctx context.Context, obs posting.Observation) (bool, error) {
	var written bool
	err := m.WithinTx(ctx, func(tx Tx) error {
		var err error
		written, err = tx.AppendRaw(ctx, obs)
		return err
	})
	return written, err
}

func (m *Memory) UpsertCanonical(ctx context.Context, c posting.CanonicalPosting) error {
	return m.WithinTx(ctx, func(tx Tx) error {
		return tx.UpsertCanonical(ctx, c)
	})
}

func (m *Memory) WithinTx(ctx context.Context, fn func(Tx) error) error {
	if err := m.check(ctx); err != nil {
		return err
	}

	tx := &memoryTx{store: m}
	defer tx.unlockAll()

	if err := fn(tx); err != nil {
		return err
	}
	return m.commit(ctx, tx)
}

func (m *Memory) commit(ctx context.Context, tx *memoryTx) error {
	if err := m.check(ctx); err != nil {
		return err
	}
	m.hookMu.Lock()
	hook := m.commitHook
	m.hookMu.Unlock()
	if hook != nil {
		if err := hook(); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range tx.writes {
		if w.insert {
			if _, exists := m.canonical[w.posting.ID]; exists {
				return fmt.Errorf("insert canonical %s: %w", w.posting.ID, posting.ErrPersistenceConflict)
			}
		}
	}

	for _, w := range tx.writes {
		m.putCanonical(w.posting)
	}
	for _, obs := range tx.raws {
		key := rawKey(obs.Raw)
		if _, dup := m.rawKeys[key]; dup {
			continue
		}
		m.rawKeys[key] = struct{}{}
		m.raw = append(m.raw, posting.RawRecord{
			ID:          int64(len(m.raw) + 1),
			Source:      obs.Raw.Source,
			SourceID:    obs.Raw.SourceID,
			FetchedAt:   obs.Raw.FetchedAt.UTC(),
			Payload:     slices.Clone(obs.Raw.Payload),
			Decision:    obs.Decision.Kind,
			CanonicalID: obs.CanonicalID,
			Score:       obs.Decision.Score,
			Reason:      obs.Decision.Reason,
			TrustScore:  obs.TrustScore,
			RunID:       obs.RunID,
		})
	}
	return nil
}

// putCanonical stores c and indexes its sources and bucket. The caller holds m.mu.
func (m *Memory) putCanonical(c posting.CanonicalPosting) {
	c = c.Clone()
	previous, existed := m.canonical[c.ID]
	m.canonical[c.ID] = c

	for _, key := range c.Sources {
		if _, taken := m.bySource[key]; !taken {
			m.bySource[key] = c.ID
		}
	}

	bucket := c.Fingerprint.BucketKey
	if existed && previous.Fingerprint.BucketKey != bucket {
		m.buckets[previous.Fingerprint.BucketKey] = slices.DeleteFunc(m.buckets[previous.Fingerprint.BucketKey], func(id string) bool {
			return id == c.ID
		})
	}
	if !slices.Contains(m.buckets[bucket], c.ID) {
		m.buckets[bucket] = append(m.buckets[bucket], c.ID)
	}
}

func (m *Memory) lockRow(ctx context.Context, id string) error {
	m.locksMu.Lock()
	ch, ok := m.rowLocks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		m.rowLocks[id] = ch
	}
	m.locksMu.Unlock()

	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Memory) unlockRow(id string) {
	m.locksMu.Lock()
	ch := m.rowLocks[id]
	m.locksMu.Unlock()
	<-ch
}

func (m *Memory) BeginRun(ctx context.Context, run posting.ReconcileRun) error {
	if err := m.check(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.runs[run.ID]; exists {
		return fmt.Errorf("begin run %s: %w", run.ID, posting.ErrPersistenceConflict)
	}
	m.runs[run.ID] = run
	m.latestRun = run.ID
	return nil
}

func (m *Memory) FinishRun(ctx context.Context, run posting.ReconcileRun) error {
	if err := m.check(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.runs[run.ID]; !exists {
		return fmt.Errorf("finish run %s: %w", run.ID, posting.ErrNotFound)
	}
	m.runs[run.ID] = run
	return nil
}

// Run returns a recorded run by id.
func (m *Memory) Run(id string) (posting.ReconcileRun, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	return run, ok
}

func (m *Memory) UpsertCompany(ctx context.Context, c posting.Company) error {
	if err := m.check(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.companies[c.Key]; ok {
		c.Name = keep(c.Name, existing.Name)
		c.Summary = keep(c.Summary, existing.Summary)
		c.Industry = keep(c.Industry, existing.Industry)
		c.Size = keep(c.Size, existing.Size)
		c.Website = keep(c.Website, existing.Website)
	}
	if c.EnrichedAt.IsZero() {
		c.EnrichedAt = m.now().UTC()
	}
	m.companies[c.Key] = c
	return nil
}

func (m *Memory) GetCompany(ctx context.Context, key string) (posting.Company, error) {
	if err := m.check(ctx); err != nil {
		return posting.Company{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.companies[key]
	if !ok {
		return posting.Company{}, fmt.Errorf("company %s: %w", key, posting.ErrNotFound)
	}
	return c, nil
}

func (m *Memory) MarkInactive(ctx context.Context, lastSeenBefore time.Time) (int64, error) {
	if err := m.check(ctx); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, c := range m.canonical {
		if c.Status == posting.StatusActive && c.LastSeenAt.Before(lastSeenBefore) {
			c.Status = posting.StatusInactive
			m.canonical[id] = c
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListCanonical(ctx context.Context, f CanonicalFilter) (Page[posting.CanonicalPosting], error) {
	if err := m.check(ctx); err != nil {
		return Page[posting.CanonicalPosting]{}, err
	}
	page, pageSize, offset := f.Paging()

	m.mu.RLock()
	matched := make([]posting.CanonicalPosting, 0, len(m.canonical))
	for _, c := range m.canonical {
		if matchesCanonical(c, f) {
			matched = append(matched, c.Clone())
		}
	}
	m.mu.RUnlock()

	sortBySeen(matched)
	return Page[posting.CanonicalPosting]{
		Items:    window(matched, offset, pageSize),
		Total:    int64(len(matched)),
		Page:     page,
		PageSize: pageSize,
	}, nil
}

func (m *Memory) GetCanonical(ctx context.Context, id string) (posting.CanonicalPosting, error) {
	if err := m.check(ctx); err != nil {
		return posting.CanonicalPosting{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.canonical[id]
	if !ok {
		return posting.CanonicalPosting{}, fmt.Errorf("canonical %s: %w", id, posting.ErrNotFound)
	}
	return c.Clone(), nil
}

func (m *Memory) ListRaw(ctx context.Context, f RawFilter) (Page[posting.RawRecord], error) {
	if err := m.check(ctx); err != nil {
		return Page[posting.RawRecord]{}, err
	}
	page, pageSize, offset := f.Paging()
	source := strings.TrimSpace(f.Source)
	sourceID := strings.TrimSpace(f.SourceID)

	m.mu.RLock()
	matched := make([]posting.RawRecord, 0, len(m.raw))
	for _, rec := range m.raw {
		switch {
		case source != "" && rec.Source != source:
			continue
		case sourceID != "" && rec.SourceID != sourceID:
			continue
		case !f.FetchedFrom.IsZero() && rec.FetchedAt.Before(f.FetchedFrom):
			continue
		case !f.FetchedTo.IsZero() && !rec.FetchedAt.Before(f.FetchedTo):
			continue
		}
		matched = append(matched, rec)
	}
	m.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].FetchedAt.Equal(matched[j].FetchedAt) {
			return matched[i].FetchedAt.After(matched[j].FetchedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	return Page[posting.RawRecord]{
		Items:    window(matched, offset, pageSize),
		Total:    int64(len(matched)),
		Page:     page,
		PageSize: pageSize,
	}, nil
}

func (m *Memory) Stats(ctx context.Context) (*Stats, error) {
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &Stats{
		Decisions:      make(map[posting.DecisionKind]int64, 3),
		LowTrustCutoff: LowTrustCutoff,
		Companies:      int64(len(m.companies)),
		RawPostings:    int64(len(m.raw)),
	}
	var trustSum float64
	for _, c := range m.canonical {
		stats.Canonical++
		switch c.Status {
		case posting.StatusActive:
			stats.Active++
		case posting.StatusInactive:
			stats.Inactive++
		}
		if len(c.Sources) > 1 {
			stats.MultiSource++
		}
		if c.TrustScore < LowTrustCutoff {
			stats.LowTrust++
		}
		trustSum += c.TrustScore
	}
	if stats.Canonical > 0 {
		stats.AverageTrust = trustSum / float64(stats.Canonical)
	}
	for _, rec := range m.raw {
		stats.Decisions[rec.Decision]++
	}
	if run, ok := m.runs[m.latestRun]; ok {
		stats.LatestRun = &run
	}
	return stats, nil
}

func (m *Memory) Ping(ctx context.Context) error {
	return m.check(ctx)
}

type canonicalWrite struct {
	posting posting.CanonicalPosting
	insert  bool
}

type memoryTx struct {
	store  *Memory
	raws   []posting.Observation
	writes []canonicalWrite
	locked []string
}

func (t *memoryTx) AppendRaw(ctx context.Context, obs posting.Observation) (bool, error) {
	if err := t.store.check(ctx); err != nil {
		return false, err
	}
	key := rawKey(obs.Raw)
	for _, pending := range t.raws {
		if rawKey(pending.Raw) == key {
			return false, nil
		}
	}
	t.store.mu.RLock()
	_, dup := t.store.rawKeys[key]
	t.store.mu.RUnlock()
	if dup {
		return false, nil
	}
	t.raws = append(t.raws, obs)
	return true, nil
}

func (t *memoryTx) LockCanonical(ctx context.Context, id string) (posting.CanonicalPosting, error) {
	if err := t.store.check(ctx); err != nil {
		return posting.CanonicalPosting{}, err
	}
	if !slices.Contains(t.locked, id) {
		if err := t.store.lockRow(ctx, id); err != nil {
			return posting.CanonicalPosting{}, err
		}
		t.locked = append(t.locked, id)
	}
	if pending, ok := t.pending(id); ok {
		return pending.Clone(), nil
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	c, ok := t.store.canonical[id]
	if !ok {
		return posting.CanonicalPosting{}, fmt.Errorf("canonical %s: %w", id, posting.ErrNotFound)
	}
	return c.Clone(), nil
}

func (t *memoryTx) InsertCanonical(ctx context.Context, c posting.CanonicalPosting) error {
	if err := t.store.check(ctx); err != nil {
		return err
	}
	if _, ok := t.pending(c.ID); ok {
		return fmt.Errorf("insert canonical %s: %w", c.ID, posting.ErrPersistenceConflict)
	}
	t.store.mu.RLock()
	_, exists := t.store.canonical[c.ID]
	t.store.mu.RUnlock()
	if exists {
		return fmt.Errorf("insert canonical %s: %w", c.ID, posting.ErrPersistenceConflict)
	}
	t.writes = append(t.writes, canonicalWrite{posting: c.Clone(), insert: true})
	return nil
}

func (t *memoryTx) UpsertCanonical(ctx context.Context, c posting.CanonicalPosting) error {
	if err := t.store.check(ctx); err != nil {
		return err
	}
	t.writes = append(t.writes, canonicalWrite{posting: c.Clone()})
	return nil
}

func (t *memoryTx) pending(id string) (posting.CanonicalPosting, bool) {
	for i := len(t.writes) - 1; i >= 0; i-- {
		if t.writes[i].posting.ID == id {
			return t.writes[i].posting, true
		}
	}
	return posting.CanonicalPosting{}, false
}

func (t *memoryTx) unlockAll() {
	for _, id := range t.locked {
		t.store.unlockRow(id)
	}
	t.locked = nil
}

func rawKey(raw posting.RawPosting) string {
	return raw.SourceKey() + "|" + raw.FetchedAt.UTC().Format(time.RFC3339Nano) + "|" + hex.EncodeToString(raw.PayloadHash)
}

func sortBySeen(items []posting.CanonicalPosting) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].LastSeenAt.Equal(items[j].LastSeenAt) {
			return items[i].LastSeenAt.After(items[j].LastSeenAt)
		}
		return items[i].ID < items[j].ID
	})
}

func window[T any](items []T, offset, size int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := min(offset+size, len(items))
	return items[offset:end]
}

func matchesCanonical(c posting.CanonicalPosting, f CanonicalFilter) bool {
	if !f.From.IsZero() && c.LastSeenAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !c.LastSeenAt.Before(f.To) {
		return false
	}
	if f.MinTrust != nil && c.TrustScore < *f.MinTrust {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		if !strings.Contains(strings.ToLower(c.Title), q) && !strings.Contains(strings.ToLower(c.Description), q) {
			return false
		}
	}
	if company := strings.ToLower(strings.TrimSpace(f.Company)); company != "" {
		if !strings.Contains(strings.ToLower(c.Company), company) && c.CompanyKey != company {
			return false
		}
	}
	if location := strings.ToLower(strings.TrimSpace(f.Location)); location != "" {
		if !strings.Contains(strings.ToLower(c.Location), location) && c.MetroKey != location {
			return false
		}
	}
	if f.MinSalary > 0 {
		_, high := c.Salary.Annual()
		if high < f.MinSalary {
			return false
		}
	}
	if f.Remote != nil && (c.Remote == nil || *c.Remote != *f.Remote) {
		return false
	}
	if status := strings.TrimSpace(f.Status); status != "" && c.Status != status {
		return false
	}
	return true
}

func keep(incoming, existing string) string {
	if strings.TrimSpace(incoming) == "" {
		return existing
	}
	return incoming
}
