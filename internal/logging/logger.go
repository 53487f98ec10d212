// Package logging builds the process-wide zerolog logger.
package logging

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New returns a logger writing to w. The "local" environment gets a
// human-readable console writer; everything else logs JSON lines.
// Summary lines go to stdout, so callers pass stderr here.
func New(w io.Writer, environment, level string) (zerolog.Logger, error) {
	parsedLevel, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("parse LOG_LEVEL=%q: %w", level, err)
	}
	if parsedLevel == zerolog.NoLevel {
		parsedLevel = zerolog.InfoLevel
	}

	if strings.EqualFold(strings.TrimSpace(environment), "local") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	return zerolog.New(w).
		Level(parsedLevel).
		With().
		Timestamp().
		Str("service", "jobdedup").
		Str("env", strings.TrimSpace(environment)).
		Logger(), nil
}
