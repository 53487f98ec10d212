package posting

import (
	"slices"
	"testing"
)

func TestTitleTokensFoldEngineeringVariants(t *testing.T) {
	t.Parallel()

	n := NewNormalizer(DefaultVocabulary())
	left := n.TitleTokens("Software Engineering Intern")
	right := n.TitleTokens("Software Engineer Intern")
	if !slices.Equal(left, right) {
		t.Fatalf("expected equal tokens, got %v and %v", left, right)
	}
	if !slices.Equal(left, []string{"engineer", "intern", "software"}) {
		t.Fatalf("unexpected tokens: %v", left)
	}
}

func TestTitleTokensDropSeasonAndStopWords(t *testing.T) {
	t.Parallel()

	n := NewNormalizer(DefaultVocabulary())
	got := n.TitleTokens("The Summer 2025 Internship in Data Science")
	want := []string{"data", "intern", "science"}
	if !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestCompanyKeyStripsSuffixesAndAliases(t *testing.T) {
	t.Parallel()

	n := NewNormalizer(DefaultVocabulary())
	cases := map[string]string{
		"Acme Corp":         "acme",
		"ACME Corporation":  "acme",
		"The Acme Company":  "acme",
		"Zenith Inc.":       "zenith",
		"Amazon.com, Inc.":  "amazon",
		"Meta Platforms":    "meta",
		"":                  "",
	}
	for input, want := range cases {
		if got := n.CompanyKey(input); got != want {
			t.Fatalf("CompanyKey(%q): expected %q, got %q", input, want, got)
		}
	}
}

func TestMetroKeyResolvesAliases(t *testing.T) {
	t.Parallel()

	n := NewNormalizer(DefaultVocabulary())
	cases := map[string]string{
		"NYC":                "new york",
		"New York City":      "new york",
		"New York, NY":       "new york",
		"Brooklyn, NY, USA":  "new york",
		"Austin":             "austin",
		"Austin, TX":         "austin",
		"Palo Alto, CA":      "san francisco",
		"Albany, NY":         "albany",
		"":                   "",
	}
	for input, want := range cases {
		if got := n.MetroKey(input); got != want {
			t.Fatalf("MetroKey(%q): expected %q, got %q", input, want, got)
		}
	}
}

func TestNormalizeURLDropsTracking(t *testing.T) {
	t.Parallel()

	got := NormalizeURL("HTTPS://www.Example.com:443/jobs/42/?utm_source=x&b=2&a=1&gclid=z#apply")
	want := "https://example.com/jobs/42?a=1&b=2"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if NormalizeURL("not a url") != "" {
		t.Fatalf("expected empty canonical URL for relative input")
	}

	escaped := map[string]string{
		"https://example.com/jobs/a%20b":       "https://example.com/jobs/a%20b",
		"https://example.com/jobs/a%20b/?x=1":  "https://example.com/jobs/a%20b?x=1",
		"https://example.com/jobs/r%26d%2Fml/": "https://example.com/jobs/r%26d%2Fml",
	}
	for in, want := range escaped {
		if got := NormalizeURL(in); got != want {
			t.Fatalf("NormalizeURL(%q) = %q, want %q", in, got, want)
		}
		if again := NormalizeURL(want); again != want {
			t.Fatalf("expected %q to be a fixed point, got %q", want, again)
		}
	}
}

func TestNormalizeSubstitutesEmptyFields(t *testing.T) {
	t.Parallel()

	n := NewNormalizer(DefaultVocabulary())
	got := n.Normalize(RawPosting{Title: "Data Intern"})
	if got.CompanyKey != "" || got.MetroKey != "" || got.Description != "" {
		t.Fatalf("expected empty placeholders, got %+v", got)
	}
	if got.JobType != JobTypeUnknown {
		t.Fatalf("expected job type %q, got %q", JobTypeUnknown, got.JobType)
	}
	if got.URLHash != nil {
		t.Fatalf("expected nil url hash")
	}
}

func TestNormalizeDetectsRemote(t *testing.T) {
	t.Parallel()

	n := NewNormalizer(DefaultVocabulary())
	got := n.Normalize(RawPosting{Title: "Backend Intern", Location: "Remote, US"})
	if got.Remote == nil || !*got.Remote {
		t.Fatalf("expected remote flag, got %v", got.Remote)
	}

	hint := false
	got = n.Normalize(RawPosting{Title: "Backend Intern (Remote)", RemoteHint: &hint})
	if got.Remote == nil || *got.Remote {
		t.Fatalf("expected explicit hint to win")
	}
}
