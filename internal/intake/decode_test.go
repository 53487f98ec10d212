package intake

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"horse.fit/jobdedup/internal/posting"
)

var fetchedAt = time.Date(2025, 6, 1, 9, 30, 0, 0, time.FixedZone("EDT", -4*3600))

func TestDecodeBuildsTypedPosting(t *testing.T) {
	t.Parallel()

	payload := json.RawMessage(`{
		"id": "9001",
		"title": "  Software Engineering Intern ",
		"organization": "Acme Corp",
		"location": "New York, NY",
		"description_html": "<p>Ship <b>features</b> with the platform team.</p><ul><li>Go</li></ul>",
		"salary": "$30 - $45 per hour",
		"url": "https://jobs.example.com/9001?utm_source=feed",
		"date_posted": "2025-05-28",
		"employment_type": ["intern"],
		"remote_derived": true
	}`)

	raw, err := NewDecoder().Decode("linkedin", fetchedAt, payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if raw.SourceKey() != "linkedin:9001" {
		t.Fatalf("unexpected source key %q", raw.SourceKey())
	}
	if raw.Title != "Software Engineering Intern" || raw.Company != "Acme Corp" {
		t.Fatalf("unexpected fields %+v", raw)
	}
	if raw.Description != "Ship features with the platform team.\n\nGo" {
		t.Fatalf("unexpected description %q", raw.Description)
	}
	if raw.JobType != "INTERN" {
		t.Fatalf("expected INTERN, got %q", raw.JobType)
	}
	if raw.RemoteHint == nil || !*raw.RemoteHint {
		t.Fatalf("expected remote hint")
	}
	if raw.PostedAt == nil || !raw.PostedAt.Equal(time.Date(2025, 5, 28, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected posted at %v", raw.PostedAt)
	}
	if raw.FetchedAt.Location() != time.UTC || !raw.FetchedAt.Equal(fetchedAt) {
		t.Fatalf("expected fetched at in UTC, got %v", raw.FetchedAt)
	}
	if len(raw.PayloadHash) != 32 {
		t.Fatalf("expected sha256 payload hash")
	}
}

func TestDecodeHashIgnoresFormatting(t *testing.T) {
	t.Parallel()

	d := NewDecoder()
	a, err := d.Decode("board", fetchedAt, json.RawMessage(`{"id":"1","title":"Data Intern","company":"Acme"}`))
	if err != nil {
		t.Fatalf("decode a: %v", err)
	}
	b, err := d.Decode("board", fetchedAt, json.RawMessage("{\n \"company\": \"Acme\",\n \"title\": \"Data Intern\",\n \"id\": \"1\"\n}"))
	if err != nil {
		t.Fatalf("decode b: %v", err)
	}
	if string(a.PayloadHash) != string(b.PayloadHash) {
		t.Fatalf("expected equal payload hashes")
	}
	if a.JobType != posting.JobTypeUnknown {
		t.Fatalf("expected UNKNOWN job type, got %q", a.JobType)
	}
}

func TestDecodeRejectsWithValidationError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		source   string
		payload  string
		sourceID string
	}{
		{name: "not json", source: "board", payload: `{"id":`, sourceID: ""},
		{name: "schema", source: "board", payload: `{"id": "7", "title": 12}`, sourceID: "7"},
		{name: "missing source", source: " ", payload: `{"id": "8", "title": "Data Intern"}`, sourceID: "8"},
	}

	d := NewDecoder()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := d.Decode(tc.source, fetchedAt, json.RawMessage(tc.payload))
			var verr *posting.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *posting.ValidationError, got %T %v", err, err)
			}
			if verr.SourceID != tc.sourceID {
				t.Fatalf("expected source id %q, got %q", tc.sourceID, verr.SourceID)
			}
			if len(verr.Problems) == 0 {
				t.Fatalf("expected at least one field problem")
			}
		})
	}
}

func TestDecodeAllowsSparsePostings(t *testing.T) {
	t.Parallel()

	raw, err := NewDecoder().Decode("board", fetchedAt, json.RawMessage(`{"id": "sparse"}`))
	if err != nil {
		t.Fatalf("expected sparse posting to pass the boundary, got %v", err)
	}
	if raw.Title != "" || raw.Company != "" || raw.Description != "" {
		t.Fatalf("expected empty fields, got %+v", raw)
	}
}
