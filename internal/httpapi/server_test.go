package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"horse.fit/jobdedup/internal/posting"
	"horse.fit/jobdedup/internal/store"
)

var seen = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

const (
	acmeID  = "3f0d5a52-8c1e-5b7a-9d2f-6a4e1c0b7d31"
	shadyID = "9b27e4c8-1f6d-5a03-8e5b-2c7f9d4a1e60"
)

type response struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func seeded(t *testing.T) *store.Memory {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemory()

	acme := posting.CanonicalPosting{
		ID:          acmeID,
		Sources:     []string{"board:1", "board:2"},
		Title:       "Data Intern",
		Company:     "Acme",
		CompanyKey:  "acme",
		Location:    "NYC",
		MetroKey:    "new york",
		Salary:      posting.Salary{Min: 30, Max: 45, Currency: "USD", Period: posting.PeriodHour},
		TrustScore:  0.9,
		Fingerprint: posting.Fingerprint{BucketKey: "c:acme", ContentHash: []byte{1}},
		FirstSeenAt: seen,
		LastSeenAt:  seen.Add(time.Hour),
		Status:      posting.StatusActive,
	}
	shady := posting.CanonicalPosting{
		ID:          shadyID,
		Sources:     []string{"board:3"},
		Title:       "Work From Home Intern",
		TrustScore:  0.2,
		Fingerprint: posting.Fingerprint{BucketKey: "h:00", ContentHash: []byte{2}},
		FirstSeenAt: seen,
		LastSeenAt:  seen,
		Status:      posting.StatusActive,
	}
	require.NoError(t, s.UpsertCanonical(ctx, acme))
	require.NoError(t, s.UpsertCanonical(ctx, shady))
	require.NoError(t, s.UpsertCompany(ctx, posting.Company{Key: "acme", Name: "Acme", Industry: "Robotics"}))

	payload := []byte(`{"id":"1"}`)
	sum := sha256.Sum256(payload)
	_, err := s.AppendRaw(ctx, posting.Observation{
		Raw: posting.RawPosting{
			Source:      "board",
			SourceID:    "1",
			FetchedAt:   seen,
			Payload:     payload,
			PayloadHash: sum[:],
		},
		Decision:    posting.Decision{Kind: posting.DecisionNew},
		CanonicalID: acmeID,
	})
	require.NoError(t, err)
	return s
}

func get(t *testing.T, s store.Store, target string) (int, response) {
	t.Helper()
	srv := NewServer(s, zerolog.Nop(), Options{Now: func() time.Time { return seen }})

	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var body response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec.Code, body
}

func TestHealthReportsStore(t *testing.T) {
	t.Parallel()

	s := store.NewMemory()
	code, body := get(t, s, "/api/v1/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", body.Status)
	assert.Contains(t, string(body.Data), `"store":"ok"`)

	s.SetUnavailable(true)
	code, body = get(t, s, "/api/v1/health")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, string(body.Data), `"store":"degraded"`)
}

func TestListPostingsFilters(t *testing.T) {
	t.Parallel()

	s := seeded(t)

	code, body := get(t, s, "/api/v1/postings")
	require.Equal(t, http.StatusOK, code)
	var all struct {
		Items      []posting.CanonicalPosting `json:"items"`
		Pagination struct {
			TotalItems int64 `json:"total_items"`
			TotalPages int   `json:"total_pages"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &all))
	assert.EqualValues(t, 2, all.Pagination.TotalItems)
	assert.Equal(t, 1, all.Pagination.TotalPages)

	code, body = get(t, s, "/api/v1/postings?min_trust=0.5&min_salary=60000&location=new+york")
	require.Equal(t, http.StatusOK, code)
	var filtered struct {
		Items []posting.CanonicalPosting `json:"items"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &filtered))
	require.Len(t, filtered.Items, 1)
	assert.Equal(t, acmeID, filtered.Items[0].ID)
	assert.Equal(t, []string{"board:1", "board:2"}, filtered.Items[0].Sources)
}

func TestListPostingsRejectsBadParams(t *testing.T) {
	t.Parallel()

	s := seeded(t)
	for _, target := range []string{
		"/api/v1/postings?min_trust=2",
		"/api/v1/postings?page_size=0",
		"/api/v1/postings?remote=maybe",
		"/api/v1/postings?status=deleted",
		"/api/v1/postings?from=2025-06-02&to=2025-06-01",
		"/api/v1/raw?fetched_from=yesterday",
	} {
		code, body := get(t, s, target)
		assert.Equal(t, http.StatusBadRequest, code, target)
		assert.Equal(t, "fail", body.Status, target)
	}
}

func TestPostingDetailIncludesCompany(t *testing.T) {
	t.Parallel()

	s := seeded(t)
	code, body := get(t, s, "/api/v1/postings/"+acmeID)
	require.Equal(t, http.StatusOK, code)

	var detail postingDetail
	require.NoError(t, json.Unmarshal(body.Data, &detail))
	assert.Equal(t, acmeID, detail.Posting.ID)
	require.NotNil(t, detail.Company)
	assert.Equal(t, "Robotics", detail.Company.Industry)

	code, body = get(t, s, "/api/v1/postings/"+shadyID)
	require.Equal(t, http.StatusOK, code)
	detail = postingDetail{}
	require.NoError(t, json.Unmarshal(body.Data, &detail))
	assert.Nil(t, detail.Company)

	code, body = get(t, s, "/api/v1/postings/"+strings.ToUpper(acmeID))
	require.Equal(t, http.StatusOK, code)
	detail = postingDetail{}
	require.NoError(t, json.Unmarshal(body.Data, &detail))
	assert.Equal(t, acmeID, detail.Posting.ID)

	for _, id := range []string{"0c6d8e2a-4b1f-5c3d-9e7a-8f2b1d0c4e95", "missing", "not-a-uuid"} {
		code, body = get(t, s, "/api/v1/postings/"+id)
		assert.Equal(t, http.StatusNotFound, code, id)
		assert.Equal(t, "fail", body.Status, id)
	}
}

func TestRawAndStats(t *testing.T) {
	t.Parallel()

	s := seeded(t)
	code, body := get(t, s, "/api/v1/raw?source=board&source_id=1")
	require.Equal(t, http.StatusOK, code)
	var raw struct {
		Items []posting.RawRecord `json:"items"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &raw))
	require.Len(t, raw.Items, 1)
	assert.Equal(t, acmeID, raw.Items[0].CanonicalID)

	code, body = get(t, s, "/api/v1/stats")
	require.Equal(t, http.StatusOK, code)
	var stats store.Stats
	require.NoError(t, json.Unmarshal(body.Data, &stats))
	assert.EqualValues(t, 2, stats.Canonical)
	assert.EqualValues(t, 1, stats.MultiSource)
	assert.EqualValues(t, 1, stats.LowTrust)
	assert.EqualValues(t, 1, stats.RawPostings)
}

func TestStoreFailureIsJSendError(t *testing.T) {
	t.Parallel()

	s := seeded(t)
	s.SetUnavailable(true)
	code, body := get(t, s, "/api/v1/postings")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "error", body.Status)
}

func TestUnknownRouteIsJSendFail(t *testing.T) {
	t.Parallel()

	code, body := get(t, store.NewMemory(), "/api/v1/nope")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "fail", body.Status)
}
