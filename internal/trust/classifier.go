package trust

import (
	"context"
	"fmt"
	"strings"

	"horse.fit/jobdedup/internal/posting"
)

const promptTextLimit = 4000

// Verdict is the classifier's answer: a signed adjustment to the heuristic
// score and a free-text rationale.
type Verdict struct {
	Adjustment float64 `json:"score_adjustment"`
	Rationale  string  `json:"rationale"`
}

// Classifier is the fake-detection collaborator consulted for ambiguous scores.
type Classifier interface {
	Classify(ctx context.Context, text string) (Verdict, error)
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(ctx context.Context, text string) (Verdict, error)

func (f ClassifierFunc) Classify(ctx context.Context, text string) (Verdict, error) {
	return f(ctx, text)
}

type scamPattern struct {
	terms      []string
	adjustment float64
	rationale  string
}

var scamPatterns = []scamPattern{
	{[]string{"work from home", "no experience", "immediate start"}, -0.3, "work-from-home posting promising immediate start without experience"},
	{[]string{"fee"}, -0.2, "asks the applicant to pay a fee"},
	{[]string{"whatsapp"}, -0.15, "moves the conversation to a messaging app"},
	{[]string{"gmail.com"}, -0.1, "recruiter uses a free mailbox"},
}

var substanceMarkers = []string{"responsibilities", "qualifications", "requirements", "you will"}

// HeuristicClassifier is a deterministic stand-in for the LLM classifier. It
// needs no network and returns the same verdict for the same text.
type HeuristicClassifier struct{}

func (HeuristicClassifier) Classify(_ context.Context, text string) (Verdict, error) {
	folded := posting.FoldText(text)
	if folded == "" {
		return Verdict{}, fmt.Errorf("%w: empty classification text", posting.ErrCollaboratorError)
	}

	adjustment := 0.0
	notes := make([]string, 0, 2)
	for _, pattern := range scamPatterns {
		matched := true
		for _, term := range pattern.terms {
			if !strings.Contains(folded, term) {
				matched = false
				break
			}
		}
		if matched {
			adjustment += pattern.adjustment
			notes = append(notes, pattern.rationale)
		}
	}

	if len(notes) == 0 {
		for _, marker := range substanceMarkers {
			if strings.Contains(folded, marker) {
				return Verdict{Adjustment: 0.1, Rationale: "describes concrete responsibilities"}, nil
			}
		}
		return Verdict{Rationale: "no decisive signal"}, nil
	}
	return Verdict{Adjustment: adjustment, Rationale: strings.Join(notes, "; ")}, nil
}

// PromptText renders the posting as the plain text sent to a classifier.
func PromptText(raw posting.RawPosting) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", strings.TrimSpace(raw.Title))
	fmt.Fprintf(&b, "Company: %s\n", strings.TrimSpace(raw.Company))
	fmt.Fprintf(&b, "Location: %s\n", strings.TrimSpace(raw.Location))
	if raw.SalaryText != "" {
		fmt.Fprintf(&b, "Salary: %s\n", strings.TrimSpace(raw.SalaryText))
	}
	if raw.URL != "" {
		fmt.Fprintf(&b, "URL: %s\n", strings.TrimSpace(raw.URL))
	}
	b.WriteString("Description:\n")
	b.WriteString(strings.TrimSpace(raw.Description))

	text := b.String()
	if runes := []rune(text); len(runes) > promptTextLimit {
		text = string(runes[:promptTextLimit])
	}
	return text
}
