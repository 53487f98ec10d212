package langdetect

import "testing"

func TestPrimaryCode(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		" EN_us ": "en",
		"pt-BR":   "pt",
		"zh":      "zh",
		"en--US":  "en",
		"en_123":  "",
		" ":       "",
	}
	for in, want := range cases {
		if got := PrimaryCode(in); got != want {
			t.Fatalf("PrimaryCode(%q) = %q, want %q", in, got, want)
		}
	}
}
