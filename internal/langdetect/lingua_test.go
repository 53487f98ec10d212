package langdetect

import (
	"testing"

	lingua "github.com/pemistahl/lingua-go"
)

func TestDetectISO6391(t *testing.T) {
	t.Parallel()

	d := New(lingua.English, lingua.German, lingua.French, lingua.Spanish)

	if got := d.DetectISO6391("We are looking for a curious software engineering intern to join our team this summer."); got != "en" {
		t.Fatalf("expected en, got %q", got)
	}
	if got := d.DetectISO6391("Wir suchen einen motivierten Praktikanten für unser Entwicklungsteam in Berlin."); got != "de" {
		t.Fatalf("expected de, got %q", got)
	}
}

func TestDetectISO6391ShortSample(t *testing.T) {
	t.Parallel()

	d := New(lingua.English, lingua.German)
	if got := d.DetectISO6391("  ok 12 "); got != "" {
		t.Fatalf("expected empty code for short sample, got %q", got)
	}
}
