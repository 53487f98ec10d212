package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"horse.fit/jobdedup/internal/posting"
	"horse.fit/jobdedup/internal/trust"
)

const classifyPrompt = `You review internship job postings for signs that they are fake or scams.
Answer with a single JSON object and nothing else:
{"score_adjustment": <number between -1 and 1>, "rationale": "<one sentence>"}
Negative adjustments mean the posting looks fake, positive ones mean it looks genuine.

Posting:
`

// Classifier asks the model for a trust adjustment.
type Classifier struct {
	gen Generator
}

func NewClassifier(gen Generator) *Classifier {
	return &Classifier{gen: gen}
}

var _ trust.Classifier = (*Classifier)(nil)

func (c *Classifier) Classify(ctx context.Context, text string) (trust.Verdict, error) {
	if strings.TrimSpace(text) == "" {
		return trust.Verdict{}, fmt.Errorf("%w: empty classification text", posting.ErrCollaboratorError)
	}
	answer, err := c.gen.GenerateJSON(ctx, classifyPrompt+text)
	if err != nil {
		return trust.Verdict{}, err
	}
	return ParseVerdict(answer)
}

// ParseVerdict decodes the classifier answer. A missing or non-numeric
// adjustment is a malformed response.
func ParseVerdict(answer string) (trust.Verdict, error) {
	var raw struct {
		Adjustment *json.Number `json:"score_adjustment"`
		Rationale  string       `json:"rationale"`
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(CleanJSONBlock(answer))))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return trust.Verdict{}, fmt.Errorf("%w: decode verdict: %v", posting.ErrCollaboratorError, err)
	}
	if raw.Adjustment == nil {
		return trust.Verdict{}, fmt.Errorf("%w: verdict has no score_adjustment", posting.ErrCollaboratorError)
	}
	adjustment, err := raw.Adjustment.Float64()
	if err != nil || math.IsNaN(adjustment) || math.IsInf(adjustment, 0) {
		return trust.Verdict{}, fmt.Errorf("%w: invalid score_adjustment %q", posting.ErrCollaboratorError, raw.Adjustment.String())
	}
	return trust.Verdict{
		Adjustment: adjustment,
		Rationale:  strings.TrimSpace(raw.Rationale),
	}, nil
}
