package payloadschema

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestValidatePostingPayload_Valid(t *testing.T) {
	payload := json.RawMessage(`{
		"id": "li-9001",
		"title": "Software Engineering Intern",
		"organization": "Acme Corp",
		"organization_url": "https://acme.example.com",
		"locations_raw": [
			{"address": {"addressLocality": "New York", "addressRegion": "NY", "addressCountry": "US"}},
			{"address": {"addressLocality": "New York", "addressRegion": "NY", "addressCountry": "US"}}
		],
		"description_html": "<p>Build things</p>",
		"salary_raw": {"currency": "USD", "value": {"minValue": 30, "maxValue": 45, "unitText": "HOUR"}},
		"url": "https://jobs.example.com/li-9001",
		"date_posted": "2025-05-20T08:00:00",
		"employment_type": ["INTERN", "FULL_TIME"],
		"remote_derived": false,
		"board_specific": {"kept": true}
	}`)

	item, err := ValidatePostingPayload(payload)
	if err != nil {
		t.Fatalf("expected payload to be valid, got error: %v", err)
	}

	if item.SourceID() != "li-9001" {
		t.Fatalf("expected id li-9001, got %q", item.SourceID())
	}
	if item.CompanyName() != "Acme Corp" {
		t.Fatalf("unexpected company %q", item.CompanyName())
	}
	if got := item.LocationText(); got != "New York, NY, US" {
		t.Fatalf("unexpected location %q", got)
	}
	if got := item.SalaryText(); got != "USD 30 - 45 per hour" {
		t.Fatalf("unexpected salary text %q", got)
	}
	if types := item.EmploymentTypes(); len(types) != 2 || types[0] != "INTERN" {
		t.Fatalf("unexpected employment types %v", types)
	}
	desc, isHTML := item.DescriptionSource()
	if desc != "<p>Build things</p>" || !isHTML {
		t.Fatalf("expected html description, got %q html=%v", desc, isHTML)
	}
	posted, err := item.PostedAt()
	if err != nil || posted == nil || !posted.Equal(time.Date(2025, 5, 20, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected posted at %v (%v)", posted, err)
	}
}

func TestValidatePostingPayload_NumericID(t *testing.T) {
	item, err := ValidatePostingPayload(json.RawMessage(`{"id": 1234567890123, "title": "Data Intern", "employment_type": "INTERN"}`))
	if err != nil {
		t.Fatalf("expected numeric id to be accepted, got %v", err)
	}
	if item.SourceID() != "1234567890123" {
		t.Fatalf("expected decimal id, got %q", item.SourceID())
	}
	if types := item.EmploymentTypes(); len(types) != 1 || types[0] != "INTERN" {
		t.Fatalf("unexpected employment types %v", types)
	}
}

func TestValidatePostingPayload_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr string
	}{
		{name: "missing id", payload: `{"title": "Data Intern"}`, wantErr: "schema validation failed"},
		{name: "blank id", payload: `{"id": "   "}`, wantErr: "id must not be empty"},
		{name: "wrong title type", payload: `{"id": "1", "title": 42}`, wantErr: "schema validation failed"},
		{name: "relative url", payload: `{"id": "1", "url": "/jobs/1"}`, wantErr: "url must"},
		{name: "ftp url", payload: `{"id": "1", "url": "ftp://jobs.example.com/1"}`, wantErr: "http or https"},
		{name: "bad date", payload: `{"id": "1", "date_posted": "last tuesday"}`, wantErr: "date_posted"},
		{name: "inverted salary", payload: `{"id": "1", "salary_raw": {"value": {"minValue": 50, "maxValue": 10}}}`, wantErr: "minValue exceeds maxValue"},
		{name: "trailing content", payload: `{"id": "1"} {"id": "2"}`, wantErr: "trailing content"},
		{name: "empty", payload: `   `, wantErr: "payload is empty"},
		{name: "array", payload: `[{"id": "1"}]`, wantErr: "schema validation failed"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ValidatePostingPayload(json.RawMessage(tc.payload))
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestPostingPayloadFallbacks(t *testing.T) {
	item, err := ValidatePostingPayload(json.RawMessage(`{
		"id": "x1",
		"company": "Zenith Inc",
		"location": "Austin, TX",
		"description": "Plain description",
		"salary": "$4,000 per month",
		"employment_type": null
	}`))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if item.CompanyName() != "Zenith Inc" || item.LocationText() != "Austin, TX" {
		t.Fatalf("unexpected fallbacks %+v", item)
	}
	if item.SalaryText() != "$4,000 per month" {
		t.Fatalf("unexpected salary %q", item.SalaryText())
	}
	if desc, isHTML := item.DescriptionSource(); desc != "Plain description" || isHTML {
		t.Fatalf("unexpected description %q html=%v", desc, isHTML)
	}
	if item.EmploymentTypes() != nil {
		t.Fatalf("expected no employment types")
	}
	if posted, err := item.PostedAt(); posted != nil || err != nil {
		t.Fatalf("expected nil posted at, got %v %v", posted, err)
	}
}

func TestCanonicalizeSortsKeys(t *testing.T) {
	left, err := Canonicalize(json.RawMessage(`{"b": 1, "a": {"d": 2, "c": 3}}`))
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	right, err := Canonicalize(json.RawMessage("{\n  \"a\": {\"c\": 3, \"d\": 2},\n  \"b\": 1\n}"))
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if string(left) != string(right) {
		t.Fatalf("expected equal canonical forms, got %s and %s", left, right)
	}
}
