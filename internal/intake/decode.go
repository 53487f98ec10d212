// Package intake is the boundary between fetched payloads and the core. Every
// payload is validated into a typed posting.RawPosting or rejected with a
// *posting.ValidationError.
package intake

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"horse.fit/jobdedup/internal/posting"
	"horse.fit/jobdedup/internal/textclean"
	payloadschema "horse.fit/jobdedup/schema"
)

type Decoder struct {
	validate *validator.Validate
}

func NewDecoder() *Decoder {
	return &Decoder{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Decode validates one payload fetched from source at fetchedAt.
func (d *Decoder) Decode(source string, fetchedAt time.Time, payload json.RawMessage) (posting.RawPosting, error) {
	canonical, err := payloadschema.Canonicalize(payload)
	if err != nil {
		return posting.RawPosting{}, invalid("", "payload", err)
	}

	item, err := payloadschema.ValidatePostingPayload(canonical)
	if err != nil {
		return posting.RawPosting{}, invalid(peekID(canonical), "payload", err)
	}

	sum := sha256.Sum256(canonical)
	raw := posting.RawPosting{
		Source:      strings.TrimSpace(source),
		SourceID:    item.SourceID(),
		FetchedAt:   fetchedAt.UTC(),
		Payload:     canonical,
		PayloadHash: sum[:],
		Title:       strings.TrimSpace(item.Title),
		Company:     item.CompanyName(),
		CompanyURL:  strings.TrimSpace(item.OrganizationURL),
		Location:    item.LocationText(),
		SalaryText:  item.SalaryText(),
		URL:         strings.TrimSpace(item.URL),
		JobType:     jobType(item.EmploymentTypes()),
		RemoteHint:  item.RemoteDerived,
	}

	if raw.PostedAt, err = item.PostedAt(); err != nil {
		return posting.RawPosting{}, invalid(raw.SourceID, "date_posted", err)
	}

	description, isHTML := item.DescriptionSource()
	if isHTML || textclean.LooksLikeHTML(description) {
		text, err := textclean.FromHTML(description, raw.URL)
		if err != nil {
			return posting.RawPosting{}, invalid(raw.SourceID, "description", err)
		}
		raw.Description = text
	} else {
		raw.Description = textclean.CleanText(description)
	}

	if err := d.validate.Struct(raw); err != nil {
		return posting.RawPosting{}, structProblems(raw.SourceID, err)
	}
	return raw, nil
}

// Check runs the typed field checks on a posting that did not come through
// Decode.
func (d *Decoder) Check(raw posting.RawPosting) error {
	if err := d.validate.Struct(raw); err != nil {
		return structProblems(raw.SourceID, err)
	}
	return nil
}

func jobType(types []string) string {
	if len(types) == 0 {
		return posting.JobTypeUnknown
	}
	return strings.ToUpper(types[0])
}

func invalid(sourceID, field string, err error) *posting.ValidationError {
	return &posting.ValidationError{
		SourceID: sourceID,
		Problems: []posting.FieldProblem{{Field: field, Message: "rejected"}},
		Err:      err,
	}
}

func structProblems(sourceID string, err error) *posting.ValidationError {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return invalid(sourceID, "posting", err)
	}

	problems := make([]posting.FieldProblem, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		problems = append(problems, posting.FieldProblem{
			Field:   fe.Field(),
			Message: "failed " + fe.Tag() + " check",
		})
	}
	return &posting.ValidationError{SourceID: sourceID, Problems: problems}
}

// peekID pulls the id out of a payload that failed validation so the log line
// can still name the record.
func peekID(payload json.RawMessage) string {
	var idOnly struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(payload, &idOnly); err != nil {
		return ""
	}
	item := payloadschema.PostingPayload{ID: idOnly.ID}
	return item.SourceID()
}
