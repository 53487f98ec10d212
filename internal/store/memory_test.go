package store

import (
	"context"
	"crypto/sha256"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"horse.fit/jobdedup/internal/posting"
)

var seenAt = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func canonical(id, source string, seen time.Time) posting.CanonicalPosting {
	return posting.CanonicalPosting{
		ID:          id,
		Sources:     []string{source},
		Title:       "Data Intern",
		TitleKey:    "data intern",
		Company:     "Acme",
		CompanyKey:  "acme",
		Location:    "NYC",
		MetroKey:    "new york",
		JobType:     posting.JobTypeUnknown,
		TrustScore:  1,
		Fingerprint: posting.Fingerprint{BucketKey: "c:acme", ContentHash: []byte{1}},
		FirstSeenAt: seen,
		LastSeenAt:  seen,
		Status:      posting.StatusActive,
	}
}

func observation(sourceID string, payload string) posting.Observation {
	sum := sha256.Sum256([]byte(payload))
	return posting.Observation{
		Raw: posting.RawPosting{
			Source:      "board",
			SourceID:    sourceID,
			FetchedAt:   seenAt,
			Payload:     []byte(payload),
			PayloadHash: sum[:],
		},
		Decision: posting.Decision{Kind: posting.DecisionNew},
	}
}

func TestMemoryAppendRawIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemory()

	written, err := s.AppendRaw(ctx, observation("1", `{"id":"1"}`))
	require.NoError(t, err)
	assert.True(t, written)

	written, err = s.AppendRaw(ctx, observation("1", `{"id":"1"}`))
	require.NoError(t, err)
	assert.False(t, written)

	written, err = s.AppendRaw(ctx, observation("1", `{"id":"1","title":"x"}`))
	require.NoError(t, err)
	assert.True(t, written, "a changed payload is a new observation")

	page, err := s.ListRaw(ctx, RawFilter{Source: "board"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, page.Total)
}

func TestMemoryInsertConflictsOnExistingID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemory()
	c := canonical("id-1", "board:1", seenAt)

	require.NoError(t, s.WithinTx(ctx, func(tx Tx) error {
		return tx.InsertCanonical(ctx, c)
	}))
	err := s.WithinTx(ctx, func(tx Tx) error {
		return tx.InsertCanonical(ctx, c)
	})
	require.ErrorIs(t, err, posting.ErrPersistenceConflict)

	found, ok, err := s.FindBySource(ctx, "board:1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "id-1", found.ID)
}

func TestMemoryRollbackDiscardsWrites(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemory()
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(tx Tx) error {
		if _, err := tx.AppendRaw(ctx, observation("1", `{}`)); err != nil {
			return err
		}
		if err := tx.InsertCanonical(ctx, canonical("id-1", "board:1", seenAt)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetCanonical(ctx, "id-1")
	require.ErrorIs(t, err, posting.ErrNotFound)
	page, err := s.ListRaw(ctx, RawFilter{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestMemoryCommitHookAbortsCommit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemory()
	s.SetCommitHook(func() error { return posting.ErrPersistenceConflict })

	err := s.UpsertCanonical(ctx, canonical("id-1", "board:1", seenAt))
	require.ErrorIs(t, err, posting.ErrPersistenceConflict)

	s.SetCommitHook(nil)
	require.NoError(t, s.UpsertCanonical(ctx, canonical("id-1", "board:1", seenAt)))
}

func TestMemoryUnavailable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemory()
	s.SetUnavailable(true)

	_, _, err := s.FindBySource(ctx, "board:1")
	require.ErrorIs(t, err, posting.ErrStoreUnavailable)
	require.ErrorIs(t, s.Ping(ctx), posting.ErrStoreUnavailable)

	s.SetUnavailable(false)
	require.NoError(t, s.Ping(ctx))
}

func TestMemoryLockSerializesConcurrentMerges(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.UpsertCanonical(ctx, canonical("id-1", "board:0", seenAt)))

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := range writers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.WithinTx(ctx, func(tx Tx) error {
				current, err := tx.LockCanonical(ctx, "id-1")
				if err != nil {
					return err
				}
				incoming := canonical("id-1", posting.SourceKey("board", string(rune('a'+i))), seenAt.Add(time.Duration(i)*time.Minute))
				return tx.UpsertCanonical(ctx, posting.Merge(current, incoming))
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.GetCanonical(ctx, "id-1")
	require.NoError(t, err)
	assert.Len(t, got.Sources, writers+1, "no merge may overwrite another")
	assert.Equal(t, seenAt.Add((writers-1)*time.Minute), got.LastSeenAt)
}

func TestMemoryLockHonorsContext(t *testing.T) {
	t.Parallel()

	s := NewMemory()
	require.NoError(t, s.UpsertCanonical(context.Background(), canonical("id-1", "board:0", seenAt)))

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = s.WithinTx(context.Background(), func(tx Tx) error {
			if _, err := tx.LockCanonical(context.Background(), "id-1"); err != nil {
				return err
			}
			close(held)
			<-done
			return nil
		})
	}()
	<-held
	defer close(done)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.WithinTx(ctx, func(tx Tx) error {
		_, err := tx.LockCanonical(ctx, "id-1")
		return err
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryCandidatesAndListing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemory()

	older := canonical("id-old", "board:1", seenAt)
	newer := canonical("id-new", "board:2", seenAt.Add(time.Hour))
	newer.TrustScore = 0.3
	newer.URLHash = []byte{9}
	other := canonical("id-other", "board:3", seenAt)
	other.Fingerprint.BucketKey = "c:zenith"
	other.Company, other.CompanyKey = "Zenith", "zenith"
	other.URLHash = []byte{9}
	for _, c := range []posting.CanonicalPosting{older, newer, other} {
		require.NoError(t, s.UpsertCanonical(ctx, c))
	}

	bucket, err := s.QueryCandidates(ctx, "c:acme", 10)
	require.NoError(t, err)
	require.Len(t, bucket, 2)
	assert.Equal(t, "id-new", bucket[0].ID)

	limited, err := s.QueryCandidates(ctx, "c:acme", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	companies, err := s.CompaniesForURL(ctx, []byte{9})
	require.NoError(t, err)
	assert.Equal(t, []string{"acme", "zenith"}, companies)

	minTrust := 0.5
	page, err := s.ListCanonical(ctx, CanonicalFilter{MinTrust: &minTrust})
	require.NoError(t, err)
	assert.EqualValues(t, 2, page.Total)

	page, err = s.ListCanonical(ctx, CanonicalFilter{Company: "zenith"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "id-other", page.Items[0].ID)

	page, err = s.ListCanonical(ctx, CanonicalFilter{PageSize: 2, Page: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, page.Total)
	assert.Len(t, page.Items, 1)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.Canonical)
	assert.EqualValues(t, 1, stats.LowTrust)
}

func TestMemoryMarkInactive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.UpsertCanonical(ctx, canonical("stale", "board:1", seenAt.AddDate(0, 0, -90))))
	require.NoError(t, s.UpsertCanonical(ctx, canonical("fresh", "board:2", seenAt)))

	n, err := s.MarkInactive(ctx, seenAt.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	stale, err := s.GetCanonical(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, posting.StatusInactive, stale.Status)
}

func TestMemoryCompanyUpsertKeepsKnownFields(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.UpsertCompany(ctx, posting.Company{Key: "acme", Name: "Acme", Industry: "Robotics"}))
	require.NoError(t, s.UpsertCompany(ctx, posting.Company{Key: "acme", Summary: "Builds robots."}))

	got, err := s.GetCompany(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.Name)
	assert.Equal(t, "Robotics", got.Industry)
	assert.Equal(t, "Builds robots.", got.Summary)

	_, err = s.GetCompany(ctx, "zenith")
	require.ErrorIs(t, err, posting.ErrNotFound)
}
