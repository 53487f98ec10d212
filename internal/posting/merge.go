package posting

import (
	"bytes"
	"encoding/json"
	"slices"
	"strings"
	"time"
)

// NewCanonical builds the first version of a canonical record from one observation.
func NewCanonical(id string, raw RawPosting, norm Normalized, fp Fingerprint, trust TrustAssessment, language string) CanonicalPosting {
	seen := raw.FetchedAt.UTC()
	return CanonicalPosting{
		ID:                id,
		Sources:           []string{raw.SourceKey()},
		Title:             norm.Title,
		TitleKey:          strings.Join(norm.TitleTokens, " "),
		Company:           norm.Company,
		CompanyKey:        norm.CompanyKey,
		Location:          norm.Location,
		MetroKey:          norm.MetroKey,
		Description:       norm.Description,
		JobType:           norm.JobType,
		Salary:            norm.Salary,
		Remote:            norm.Remote,
		URL:               norm.URL,
		URLHash:           norm.URLHash,
		PostedAt:          norm.PostedAt,
		Language:          language,
		TrustScore:        trust.Score,
		TrustReasons:      slices.Clone(trust.Reasons),
		ClassifierSkipped: trust.ClassifierSkipped,
		Fingerprint:       fp,
		FirstSeenAt:       seen,
		LastSeenAt:        seen,
		Status:            StatusActive,
	}
}

// Merge folds an incoming observation into the current canonical record.
//
// Populated fields are never cleared: an incoming value only fills an empty
// field or replaces a less complete one. The fingerprint stays with the record
// it was created with so the bucket key never moves. Trust follows the newest
// observation. Merge is idempotent: merging the same observation twice yields
// the same record.
func Merge(current, incoming CanonicalPosting) CanonicalPosting {
	out := current.Clone()

	out.Title = fill(out.Title, incoming.Title)
	out.TitleKey = fill(out.TitleKey, incoming.TitleKey)
	if out.Company == "" && incoming.Company != "" {
		out.Company = incoming.Company
		out.CompanyKey = incoming.CompanyKey
	}
	if out.Location == "" && incoming.Location != "" {
		out.Location = incoming.Location
		out.MetroKey = incoming.MetroKey
	}
	if len(incoming.Description) > len(out.Description) {
		out.Description = incoming.Description
	}
	if out.JobType == "" || (out.JobType == JobTypeUnknown && incoming.JobType != "") {
		out.JobType = incoming.JobType
	}
	if incoming.Salary.bounds() > out.Salary.bounds() {
		out.Salary = incoming.Salary
	}
	if out.Remote == nil && incoming.Remote != nil {
		v := *incoming.Remote
		out.Remote = &v
	}
	if out.URL == "" && incoming.URL != "" {
		out.URL = incoming.URL
		out.URLHash = slices.Clone(incoming.URLHash)
	}
	if out.PostedAt == nil && incoming.PostedAt != nil {
		v := *incoming.PostedAt
		out.PostedAt = &v
	}
	out.Language = fill(out.Language, incoming.Language)

	for _, key := range incoming.Sources {
		if !out.HasSource(key) {
			out.Sources = append(out.Sources, key)
		}
	}
	slices.Sort(out.Sources)

	if !incoming.LastSeenAt.Before(current.LastSeenAt) {
		out.TrustScore = incoming.TrustScore
		out.TrustReasons = slices.Clone(incoming.TrustReasons)
		out.ClassifierSkipped = incoming.ClassifierSkipped
	}
	out.FirstSeenAt = earliest(current.FirstSeenAt, incoming.FirstSeenAt)
	out.LastSeenAt = latest(current.LastSeenAt, incoming.LastSeenAt)
	out.Status = StatusActive

	return out
}

// SameContent reports whether two canonical records would persist identically.
func SameContent(a, b CanonicalPosting) bool {
	left, errLeft := json.Marshal(a)
	right, errRight := json.Marshal(b)
	if errLeft != nil || errRight != nil {
		return false
	}
	return bytes.Equal(left, right)
}

func fill(current, incoming string) string {
	if strings.TrimSpace(current) != "" {
		return current
	}
	return incoming
}

func earliest(a, b time.Time) time.Time {
	if a.IsZero() {
		return b
	}
	if !b.IsZero() && b.Before(a) {
		return b
	}
	return a
}

func latest(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
