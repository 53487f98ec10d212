package match

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"horse.fit/jobdedup/internal/fingerprint"
	"horse.fit/jobdedup/internal/posting"
)

type stubIndex struct {
	bySource map[string]posting.CanonicalPosting
	buckets  map[string][]posting.CanonicalPosting
	err      error
}

func (s *stubIndex) FindBySource(_ context.Context, key string) (posting.CanonicalPosting, bool, error) {
	if s.err != nil {
		return posting.CanonicalPosting{}, false, s.err
	}
	c, ok := s.bySource[key]
	return c, ok, nil
}

func (s *stubIndex) QueryCandidates(_ context.Context, bucket string, limit int) ([]posting.CanonicalPosting, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := s.buckets[bucket]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *stubIndex) add(c posting.CanonicalPosting) {
	if s.buckets == nil {
		s.buckets = map[string][]posting.CanonicalPosting{}
	}
	if s.bySource == nil {
		s.bySource = map[string]posting.CanonicalPosting{}
	}
	s.buckets[c.Fingerprint.BucketKey] = append(s.buckets[c.Fingerprint.BucketKey], c)
	for _, key := range c.Sources {
		s.bySource[key] = c
	}
}

var testNormalizer = posting.NewNormalizer(posting.DefaultVocabulary())

func incoming(sourceKey, title, company, location string) Incoming {
	norm := testNormalizer.Normalize(posting.RawPosting{Title: title, Company: company, Location: location})
	return Incoming{SourceKey: sourceKey, Normalized: norm, Fingerprint: fingerprint.Of(norm)}
}

func incomingWithDescription(sourceKey, title, company, location, description string) Incoming {
	norm := testNormalizer.Normalize(posting.RawPosting{Title: title, Company: company, Location: location, Description: description})
	return Incoming{SourceKey: sourceKey, Normalized: norm, Fingerprint: fingerprint.Of(norm)}
}

func stored(id string, in Incoming, seen time.Time) posting.CanonicalPosting {
	raw := posting.RawPosting{Source: "board", SourceID: strings.TrimPrefix(in.SourceKey, "board:"), FetchedAt: seen}
	return posting.NewCanonical(id, raw, in.Normalized, in.Fingerprint, posting.TrustAssessment{Score: 1}, "en")
}

func TestNearDuplicateMergesAboveThreshold(t *testing.T) {
	t.Parallel()

	m := New(DefaultConfig())
	idx := &stubIndex{}
	a := incoming("board:a", "Software Engineering Intern", "Acme Corp", "NYC")
	idx.add(stored("canon-a", a, time.Now()))

	b := incoming("board:b", "Software Engineer Intern", "Acme Corp", "New York City")
	candidates, err := m.FindCandidates(context.Background(), b, idx)
	if err != nil {
		t.Fatalf("find candidates: %v", err)
	}
	decision := m.Decide(b, candidates)
	if decision.Kind != posting.DecisionMerge || decision.TargetID != "canon-a" {
		t.Fatalf("expected merge into canon-a, got %+v", decision)
	}
	if decision.Score <= DefaultConfig().MergeThreshold {
		t.Fatalf("expected score above threshold, got %v", decision.Score)
	}
}

func TestDistinctCompaniesNeverMerge(t *testing.T) {
	t.Parallel()

	m := New(DefaultConfig())
	acme := incoming("board:a", "Security Intern", "Acme Corp", "NYC")
	zenith := incoming("board:z", "Security Intern", "Zenith Inc", "Austin")

	// Force both into one index bucket to exercise scoring, not bucketing.
	target := stored("canon-a", acme, time.Now())
	target.Fingerprint.BucketKey = zenith.Fingerprint.BucketKey
	idx := &stubIndex{}
	idx.add(target)

	candidates, err := m.FindCandidates(context.Background(), zenith, idx)
	if err != nil {
		t.Fatalf("find candidates: %v", err)
	}
	if candidates.Len() != 1 {
		t.Fatalf("expected one candidate, got %d", candidates.Len())
	}
	decision := m.Decide(zenith, candidates)
	if decision.Kind != posting.DecisionNew {
		t.Fatalf("expected NEW, got %+v", decision)
	}
}

func TestAmbiguousBandPrefersNew(t *testing.T) {
	t.Parallel()

	m := New(DefaultConfig())
	idx := &stubIndex{}
	existing := incoming("board:a", "Backend Engineer Intern", "Acme", "NYC")
	idx.add(stored("canon-a", existing, time.Now()))

	// title overlap 2/4 => 0.25 + 0.35 + 0.15 = 0.75, in band, title below 0.6
	in := incoming("board:b", "Frontend Engineer Intern", "Acme", "NYC")
	candidates, err := m.FindCandidates(context.Background(), in, idx)
	if err != nil {
		t.Fatalf("find candidates: %v", err)
	}
	decision := m.Decide(in, candidates)
	if decision.Kind != posting.DecisionNew || decision.Reason != ReasonAmbiguousRejected {
		t.Fatalf("expected ambiguous NEW, got %+v", decision)
	}
}

func TestAmbiguousBandMergesOnExactCompanyAndMetro(t *testing.T) {
	t.Parallel()

	m := New(DefaultConfig())
	idx := &stubIndex{}
	existing := incoming("board:a", "Data Platform Engineer Intern", "Acme", "NYC")
	idx.add(stored("canon-a", existing, time.Now()))

	// title overlap 3/5 => 0.3 + 0.35 + 0.15 = 0.8, not above the threshold
	in := incoming("board:b", "Data Analytics Engineer Intern", "Acme", "Manhattan")
	candidates, err := m.FindCandidates(context.Background(), in, idx)
	if err != nil {
		t.Fatalf("find candidates: %v", err)
	}
	decision := m.Decide(in, candidates)
	if decision.Kind != posting.DecisionMerge || decision.Reason != ReasonExactFields {
		t.Fatalf("expected exact-field merge, got %+v", decision)
	}
}

func TestSameSourceAlwaysMerges(t *testing.T) {
	t.Parallel()

	m := New(DefaultConfig())
	idx := &stubIndex{}
	first := incoming("board:a", "Data Intern", "Acme", "NYC")
	idx.add(stored("canon-a", first, time.Now()))

	// The board rewrote the posting; the source key still ties it to canon-a.
	again := incoming("board:a", "Quant Research Intern", "Acme Capital", "Chicago")
	candidates, err := m.FindCandidates(context.Background(), again, idx)
	if err != nil {
		t.Fatalf("find candidates: %v", err)
	}
	decision := m.Decide(again, candidates)
	if decision.Kind != posting.DecisionMerge || decision.Reason != ReasonSameSource || decision.TargetID != "canon-a" {
		t.Fatalf("expected same-source merge, got %+v", decision)
	}
}

func TestTieBreakPrefersMostRecentlySeen(t *testing.T) {
	t.Parallel()

	m := New(DefaultConfig())
	idx := &stubIndex{}
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	older := incoming("board:old", "Data Intern", "Acme", "NYC")
	newer := incoming("board:new", "Data Intern", "Acme", "NYC")
	idx.add(stored("canon-old", older, base))
	idx.add(stored("canon-new", newer, base.Add(48*time.Hour)))

	in := incoming("board:x", "Data Intern", "Acme", "NYC")
	candidates, err := m.FindCandidates(context.Background(), in, idx)
	if err != nil {
		t.Fatalf("find candidates: %v", err)
	}
	decision := m.Decide(in, candidates)
	if decision.TargetID != "canon-new" {
		t.Fatalf("expected most recent candidate, got %+v", decision)
	}
}

func TestCandidatesAreOrderedAndNotRestartable(t *testing.T) {
	t.Parallel()

	m := New(DefaultConfig())
	idx := &stubIndex{}
	now := time.Now()
	idx.add(stored("c1", incoming("board:1", "Data Intern", "Acme", "NYC"), now))
	idx.add(stored("c2", incoming("board:2", "Data Science Intern", "Acme", "Boston"), now))
	idx.add(stored("c3", incoming("board:3", "Legal Counsel", "Acme", "Austin"), now))

	in := incoming("board:x", "Data Intern", "Acme", "NYC")
	candidates, err := m.FindCandidates(context.Background(), in, idx)
	if err != nil {
		t.Fatalf("find candidates: %v", err)
	}

	prev := 2.0
	count := 0
	for c := range candidates.All() {
		if c.Score > prev {
			t.Fatalf("sequence not descending: %v after %v", c.Score, prev)
		}
		prev = c.Score
		count++
	}
	if count != 3 {
		t.Fatalf("expected 3 candidates, got %d", count)
	}
	if _, ok := candidates.Next(); ok {
		t.Fatalf("expected drained sequence to stay drained")
	}
}

func TestEmptyTitleIsRejected(t *testing.T) {
	t.Parallel()

	m := New(DefaultConfig())
	in := incoming("board:x", "Summer 2025", "Acme", "NYC")
	decision := m.Decide(in, &Candidates{})
	if decision.Kind != posting.DecisionReject || decision.Reason != ReasonEmptyTitle {
		t.Fatalf("expected reject, got %+v", decision)
	}
}

func TestNoCandidatesIsNew(t *testing.T) {
	t.Parallel()

	m := New(DefaultConfig())
	in := incoming("board:x", "Data Intern", "Acme", "NYC")
	candidates, err := m.FindCandidates(context.Background(), in, &stubIndex{})
	if err != nil {
		t.Fatalf("find candidates: %v", err)
	}
	decision := m.Decide(in, candidates)
	if decision.Kind != posting.DecisionNew || decision.Reason != ReasonNoCandidates {
		t.Fatalf("expected NEW, got %+v", decision)
	}
}

func TestFindCandidatesPropagatesIndexErrors(t *testing.T) {
	t.Parallel()

	m := New(DefaultConfig())
	boom := errors.New("boom")
	_, err := m.FindCandidates(context.Background(), incoming("board:x", "Data Intern", "Acme", "NYC"), &stubIndex{err: boom})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped index error, got %v", err)
	}
}

func TestEditRatio(t *testing.T) {
	t.Parallel()

	if got := editRatio("acme", "acme"); got != 1 {
		t.Fatalf("expected 1, got %v", got)
	}
	if got := editRatio("acme", "zenith"); got >= 0.5 {
		t.Fatalf("expected low ratio, got %v", got)
	}
	if got := editRatio("microsoft", "mircosoft"); got < 0.75 {
		t.Fatalf("expected transposition to stay similar, got %v", got)
	}
}

func TestEqualContentHashDoesNotForceMerge(t *testing.T) {
	t.Parallel()

	prefix := strings.Repeat("analyze retail sales data with the planning team ", 12)
	existing := incomingWithDescription("board:a", "Data Intern", "", "NYC", prefix+"Remote friendly role in our Brooklyn office.")
	in := incomingWithDescription("board:b", "Data Intern", "", "NYC", prefix+"Hybrid role based at the Queens warehouse.")
	if !bytes.Equal(existing.Fingerprint.ContentHash, in.Fingerprint.ContentHash) {
		t.Fatalf("descriptions sharing a long prefix should share a content hash")
	}

	m := New(DefaultConfig())
	idx := &stubIndex{}
	idx.add(stored("canon-a", existing, time.Now()))

	candidates, err := m.FindCandidates(context.Background(), in, idx)
	if err != nil {
		t.Fatalf("find candidates: %v", err)
	}
	if candidates.Len() != 1 {
		t.Fatalf("expected the shared bucket to yield one candidate, got %d", candidates.Len())
	}

	top := m.Score(in, idx.buckets[in.Fingerprint.BucketKey][0])
	if top.Breakdown.Exact != ExactContent {
		t.Fatalf("expected content match to be recorded, got %q", top.Breakdown.Exact)
	}
	if top.Score != 0.65 {
		t.Fatalf("expected weighted score 0.65, got %v", top.Score)
	}

	decision := m.Decide(in, candidates)
	if decision.Kind != posting.DecisionNew {
		t.Fatalf("expected NEW for company-less postings, got %+v", decision)
	}
}

func TestTokenJaccard(t *testing.T) {
	t.Parallel()

	if got := tokenJaccard([]string{"data", "intern"}, []string{"intern", "data"}); got != 1 {
		t.Fatalf("expected 1 for equal sets, got %v", got)
	}
	if got := tokenJaccard([]string{"backend", "engineer", "intern"}, []string{"frontend", "engineer", "intern"}); got != 0.5 {
		t.Fatalf("expected 0.5, got %v", got)
	}
	if got := tokenJaccard([]string{"data", "data", "intern"}, []string{"data"}); got != 0.5 {
		t.Fatalf("expected duplicates to collapse, got %v", got)
	}
	if got := tokenJaccard(nil, []string{"data"}); got != 0 {
		t.Fatalf("expected 0 for an empty side, got %v", got)
	}
}
