// Package langdetect guesses the language of posting descriptions.
package langdetect

import (
	"strings"
	"sync"
	"unicode"

	lingua "github.com/pemistahl/lingua-go"
)

const minLetters = 6

// Detector wraps a lingua detector that is built on first use. Building one
// loads language models, so a process should share a single Detector.
type Detector struct {
	once      sync.Once
	languages []lingua.Language
	detector  lingua.LanguageDetector
}

// New returns a detector limited to the given languages, or covering all
// languages when none are passed.
func New(languages ...lingua.Language) *Detector {
	return &Detector{languages: languages}
}

// DetectISO6391 returns the lower-case ISO 639-1 code of text, or "" when the
// sample is too short or the language cannot be told.
func (d *Detector) DetectISO6391(text string) string {
	sample := strings.TrimSpace(text)
	if sample == "" {
		return ""
	}

	letterCount := 0
	for _, r := range sample {
		if unicode.IsLetter(r) {
			letterCount++
		}
	}
	if letterCount < minLetters {
		return ""
	}

	language, exists := d.get().DetectLanguageOf(sample)
	if !exists {
		return ""
	}

	code := strings.ToLower(language.IsoCode639_1().String())
	if len(code) != 2 {
		return ""
	}
	return code
}

func (d *Detector) get() lingua.LanguageDetector {
	d.once.Do(func() {
		builder := lingua.NewLanguageDetectorBuilder()
		if len(d.languages) > 1 {
			builder = builder.FromLanguages(d.languages...)
		} else {
			builder = builder.FromAllLanguages()
		}
		d.detector = builder.WithPreloadedLanguageModels().Build()
	})
	return d.detector
}
