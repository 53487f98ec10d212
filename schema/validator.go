package payloadschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed posting.schema.json
var postingSchemaJSON string

// Address is one entry of a board's structured location list.
type Address struct {
	Locality string `json:"addressLocality"`
	Region   string `json:"addressRegion"`
	Country  string `json:"addressCountry"`
}

type RawLocation struct {
	Address Address `json:"address"`
}

type SalaryValue struct {
	MinValue *float64 `json:"minValue,omitempty"`
	MaxValue *float64 `json:"maxValue,omitempty"`
	Value    *float64 `json:"value,omitempty"`
	UnitText string   `json:"unitText,omitempty"`
}

type SalaryRaw struct {
	Currency string       `json:"currency,omitempty"`
	Value    *SalaryValue `json:"value,omitempty"`
}

// PostingPayload is the job-board payload after schema validation.
type PostingPayload struct {
	ID              json.RawMessage `json:"id"`
	Title           string          `json:"title"`
	Organization    string          `json:"organization"`
	Company         string          `json:"company"`
	OrganizationURL string          `json:"organization_url"`
	Location        string          `json:"location"`
	LocationsRaw    []RawLocation   `json:"locations_raw"`
	Description     string          `json:"description"`
	DescriptionText string          `json:"description_text"`
	DescriptionHTML string          `json:"description_html"`
	Salary          string          `json:"salary"`
	SalaryRaw       *SalaryRaw      `json:"salary_raw"`
	URL             string          `json:"url"`
	DatePosted      string          `json:"date_posted"`
	EmploymentType  json.RawMessage `json:"employment_type"`
	RemoteDerived   *bool           `json:"remote_derived"`
}

// SourceID returns the board's posting id as text; numeric ids keep their
// decimal form.
func (p *PostingPayload) SourceID() string {
	trimmed := bytes.TrimSpace(p.ID)
	if len(trimmed) == 0 {
		return ""
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return ""
		}
		return strings.TrimSpace(s)
	}
	return string(trimmed)
}

// EmploymentTypes returns the declared employment types in payload order.
func (p *PostingPayload) EmploymentTypes() []string {
	trimmed := bytes.TrimSpace(p.EmploymentType)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil
	}

	var single string
	if err := json.Unmarshal(trimmed, &single); err == nil {
		if single = strings.TrimSpace(single); single != "" {
			return []string{single}
		}
		return nil
	}

	var many []string
	if err := json.Unmarshal(trimmed, &many); err != nil {
		return nil
	}
	out := make([]string, 0, len(many))
	for _, v := range many {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// CompanyName prefers organization over company.
func (p *PostingPayload) CompanyName() string {
	if v := strings.TrimSpace(p.Organization); v != "" {
		return v
	}
	return strings.TrimSpace(p.Company)
}

// LocationText returns the plain location, or the structured locations
// flattened into "Locality, Region, Country" joined by " / ".
func (p *PostingPayload) LocationText() string {
	if v := strings.TrimSpace(p.Location); v != "" {
		return v
	}

	seen := make(map[string]struct{}, len(p.LocationsRaw))
	parts := make([]string, 0, len(p.LocationsRaw))
	for _, loc := range p.LocationsRaw {
		fields := make([]string, 0, 3)
		for _, v := range []string{loc.Address.Locality, loc.Address.Region, loc.Address.Country} {
			if v = strings.TrimSpace(v); v != "" {
				fields = append(fields, v)
			}
		}
		if len(fields) == 0 {
			continue
		}
		joined := strings.Join(fields, ", ")
		if _, dup := seen[joined]; dup {
			continue
		}
		seen[joined] = struct{}{}
		parts = append(parts, joined)
	}
	return strings.Join(parts, " / ")
}

// SalaryText renders the salary as free text for the salary parser.
func (p *PostingPayload) SalaryText() string {
	if v := strings.TrimSpace(p.Salary); v != "" {
		return v
	}
	if p.SalaryRaw == nil || p.SalaryRaw.Value == nil {
		return ""
	}

	v := p.SalaryRaw.Value
	var amounts []string
	switch {
	case v.MinValue != nil && v.MaxValue != nil:
		amounts = []string{formatAmount(*v.MinValue), formatAmount(*v.MaxValue)}
	case v.Value != nil:
		amounts = []string{formatAmount(*v.Value)}
	case v.MinValue != nil:
		amounts = []string{formatAmount(*v.MinValue)}
	case v.MaxValue != nil:
		amounts = []string{formatAmount(*v.MaxValue)}
	default:
		return ""
	}

	text := strings.Join(amounts, " - ")
	if currency := strings.TrimSpace(p.SalaryRaw.Currency); currency != "" {
		text = currency + " " + text
	}
	if unit := strings.TrimSpace(v.UnitText); unit != "" {
		text += " per " + strings.ToLower(unit)
	}
	return text
}

// DescriptionSource returns the richest description field and whether it is HTML.
func (p *PostingPayload) DescriptionSource() (string, bool) {
	if v := strings.TrimSpace(p.DescriptionText); v != "" {
		return v, false
	}
	if v := strings.TrimSpace(p.DescriptionHTML); v != "" {
		return v, true
	}
	return strings.TrimSpace(p.Description), false
}

// PostedAt parses date_posted. Empty yields nil.
func (p *PostingPayload) PostedAt() (*time.Time, error) {
	raw := strings.TrimSpace(p.DatePosted)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			utc := t.UTC()
			return &utc, nil
		}
	}
	return nil, fmt.Errorf("date_posted %q is not a recognized date", raw)
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.DateOnly,
}

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

// ValidatePostingPayload decodes a single JSON object, checks it against the
// embedded schema and the semantic rules, and returns the typed payload.
func ValidatePostingPayload(payload json.RawMessage) (*PostingPayload, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize payload JSON: %w", err)
	}

	var item PostingPayload
	if err := json.Unmarshal(normalized, &item); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	if err := validateSemantics(&item); err != nil {
		return nil, err
	}
	return &item, nil
}

// Canonicalize re-encodes a payload with sorted keys and no insignificant
// whitespace, so equal payloads hash equally.
func Canonicalize(payload json.RawMessage) (json.RawMessage, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource("posting.schema.json", strings.NewReader(postingSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("posting.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}

		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}
	return value, nil
}

func validateSemantics(item *PostingPayload) error {
	if item == nil {
		return fmt.Errorf("payload is nil")
	}

	if item.SourceID() == "" {
		return fmt.Errorf("id must not be empty")
	}
	if strings.TrimSpace(item.URL) != "" {
		if err := validateHTTPURL("url", item.URL); err != nil {
			return err
		}
	}
	if strings.TrimSpace(item.OrganizationURL) != "" {
		if err := validateHTTPURL("organization_url", item.OrganizationURL); err != nil {
			return err
		}
	}
	if _, err := item.PostedAt(); err != nil {
		return err
	}
	if raw := item.SalaryRaw; raw != nil && raw.Value != nil && raw.Value.MinValue != nil && raw.Value.MaxValue != nil {
		if *raw.Value.MinValue > *raw.Value.MaxValue {
			return fmt.Errorf("salary_raw.value.minValue exceeds maxValue")
		}
	}
	return nil
}

func validateHTTPURL(fieldName, value string) error {
	trimmed := strings.TrimSpace(value)
	parsed, err := url.ParseRequestURI(trimmed)
	if err != nil {
		return fmt.Errorf("%s is not a valid URI: %w", fieldName, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s must use http or https", fieldName)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s must be absolute", fieldName)
	}
	return nil
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
