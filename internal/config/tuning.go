package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"horse.fit/jobdedup/internal/match"
	"horse.fit/jobdedup/internal/posting"
	"horse.fit/jobdedup/internal/trust"
)

// Tuning holds the matcher and filter knobs that can change without a code
// change. It is read from TUNING_FILE when set.
type Tuning struct {
	Matcher    match.Config       `yaml:"matcher"`
	Trust      trust.Config       `yaml:"trust"`
	Vocabulary posting.Vocabulary `yaml:"vocabulary"`
}

func DefaultTuning() Tuning {
	return Tuning{
		Matcher:    match.DefaultConfig(),
		Trust:      trust.DefaultConfig(),
		Vocabulary: posting.DefaultVocabulary(),
	}
}

// LoadTuning returns the defaults overlaid with the YAML document at path.
// Alias tables in the file extend the built-in ones.
func LoadTuning(path string) (Tuning, error) {
	tuning := DefaultTuning()
	path = strings.TrimSpace(path)
	if path == "" {
		return tuning, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Tuning{}, fmt.Errorf("read tuning file %s: %w", path, err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&tuning); err != nil && !errors.Is(err, io.EOF) {
		return Tuning{}, fmt.Errorf("parse tuning file %s: %w", path, err)
	}

	if err := tuning.Validate(); err != nil {
		return Tuning{}, fmt.Errorf("tuning file %s: %w", path, err)
	}
	return tuning, nil
}

var tuningValidator = validator.New(validator.WithRequiredStructEnabled())

func (t Tuning) Validate() error {
	if err := tuningValidator.Struct(t); err != nil {
		return fmt.Errorf("invalid tuning: %w", err)
	}

	w := t.Matcher.Weights
	if sum := w.Title + w.Company + w.Location; math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("matcher weights must sum to 1, got %.4f", sum)
	}
	if t.Matcher.AmbiguousMin > t.Matcher.MergeThreshold {
		return fmt.Errorf("matcher ambiguous_min (%.2f) cannot exceed merge_threshold (%.2f)", t.Matcher.AmbiguousMin, t.Matcher.MergeThreshold)
	}
	for metro, variants := range t.Vocabulary.Metros {
		if strings.TrimSpace(metro) == "" {
			return fmt.Errorf("metro key cannot be empty")
		}
		if len(variants) == 0 {
			return fmt.Errorf("metro %q has no spellings", metro)
		}
	}
	return nil
}
