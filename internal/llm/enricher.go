package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"horse.fit/jobdedup/internal/enrich"
	"horse.fit/jobdedup/internal/posting"
)

const enrichPrompt = `Describe the company below for a student reading internship listings.
Answer with a single JSON object and nothing else:
{"name": "...", "summary": "<two sentences>", "industry": "...", "size": "startup|small|medium|large|enterprise", "website": "https://..."}
Use an empty string for anything you do not know. Do not guess websites.

Company: %s
`

// Enricher asks the model for a company profile.
type Enricher struct {
	gen Generator
}

func NewEnricher(gen Generator) *Enricher {
	return &Enricher{gen: gen}
}

var _ enrich.Enricher = (*Enricher)(nil)

func (e *Enricher) Enrich(ctx context.Context, company posting.Company) (enrich.Profile, error) {
	name := strings.TrimSpace(company.Name)
	if name == "" {
		name = company.Key
	}
	if company.Website != "" {
		name += " (" + company.Website + ")"
	}

	answer, err := e.gen.GenerateJSON(ctx, fmt.Sprintf(enrichPrompt, name))
	if err != nil {
		return enrich.Profile{}, err
	}
	return ParseProfile(answer)
}

func ParseProfile(answer string) (enrich.Profile, error) {
	var p enrich.Profile
	if err := json.Unmarshal([]byte(CleanJSONBlock(answer)), &p); err != nil {
		return enrich.Profile{}, fmt.Errorf("%w: decode profile: %v", posting.ErrCollaboratorError, err)
	}
	if p.IsZero() {
		return enrich.Profile{}, fmt.Errorf("%w: empty profile", posting.ErrCollaboratorError)
	}
	if p.Website != "" && !strings.HasPrefix(p.Website, "http://") && !strings.HasPrefix(p.Website, "https://") {
		p.Website = ""
	}
	return p, nil
}
