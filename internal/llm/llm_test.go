package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"horse.fit/jobdedup/internal/posting"
)

type stubGenerator struct {
	answer string
	err    error
	prompt string
}

func (s *stubGenerator) GenerateJSON(_ context.Context, prompt string) (string, error) {
	s.prompt = prompt
	return s.answer, s.err
}

func TestCleanJSONBlock(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"one line fence", "```{\"a\":1}```", `{"a":1}`},
		{"padded", "  \n{\"a\":1}\n ", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := CleanJSONBlock(tt.in); got != tt.want {
				t.Fatalf("CleanJSONBlock(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestClassifierParsesVerdict(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{answer: "```json\n{\"score_adjustment\": -0.25, \"rationale\": \" asks for a fee \"}\n```"}
	got, err := NewClassifier(gen).Classify(context.Background(), "Title: Intern")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if got.Adjustment != -0.25 || got.Rationale != "asks for a fee" {
		t.Fatalf("unexpected verdict %+v", got)
	}
	if !strings.HasSuffix(gen.prompt, "Title: Intern") {
		t.Fatalf("expected posting text at the end of the prompt, got %q", gen.prompt)
	}
}

func TestParseVerdictRejectsMalformedAnswers(t *testing.T) {
	t.Parallel()

	for _, answer := range []string{
		`not json`,
		`{"rationale": "missing score"}`,
		`{"score_adjustment": "high"}`,
	} {
		if _, err := ParseVerdict(answer); !errors.Is(err, posting.ErrCollaboratorError) {
			t.Fatalf("ParseVerdict(%q): expected collaborator error, got %v", answer, err)
		}
	}
}

func TestClassifierPassesThroughGeneratorErrors(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{err: posting.ErrCollaboratorTimeout}
	if _, err := NewClassifier(gen).Classify(context.Background(), "x"); !errors.Is(err, posting.ErrCollaboratorTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if _, err := NewClassifier(gen).Classify(context.Background(), " "); !errors.Is(err, posting.ErrCollaboratorError) {
		t.Fatalf("expected empty text to be rejected, got %v", err)
	}
}

func TestEnricherParsesProfile(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{answer: `{"name":"Acme","summary":"Builds robots.","industry":"Robotics","size":"large","website":"acme.example"}`}
	got, err := NewEnricher(gen).Enrich(context.Background(), posting.Company{Key: "acme", Name: "Acme Corp"})
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if got.Industry != "Robotics" || got.Website != "" {
		t.Fatalf("unexpected profile %+v", got)
	}
	if !strings.Contains(gen.prompt, "Company: Acme Corp") {
		t.Fatalf("expected company name in prompt, got %q", gen.prompt)
	}

	if _, err := ParseProfile(`{}`); !errors.Is(err, posting.ErrCollaboratorError) {
		t.Fatalf("expected empty profile to be rejected, got %v", err)
	}
}
