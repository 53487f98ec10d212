// Package cli holds flag helpers shared by the jobdedup subcommands.
package cli

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Variables that name an env file and win over the --env flag, in order.
var overrideVars = []string{"JOBDEDUP_ENV_FILE", "HORSE_ENV_FILE"}

// ErrNoEnvFile is returned when none of the candidate env files exist.
var ErrNoEnvFile = errors.New("no env file found")

// EnvLoader loads a .env file chosen by the --env flag.
type EnvLoader struct {
	value       *string
	defaultPath string
}

// AddEnvFlag registers an --env flag on fs and returns its loader.
func AddEnvFlag(fs *flag.FlagSet, defaultPath, description string) *EnvLoader {
	if defaultPath == "" {
		defaultPath = ".env"
	}
	if description == "" {
		description = "Path to the .env file"
	}
	return &EnvLoader{
		value:       fs.String("env", defaultPath, description),
		defaultPath: defaultPath,
	}
}

// Load overloads the process environment from the first candidate file that
// parses and returns its path.
func (l *EnvLoader) Load() (string, error) {
	if l == nil {
		return "", fmt.Errorf("env loader is nil")
	}

	var lastErr error
	for _, path := range l.candidates() {
		err := godotenv.Overload(path)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			lastErr = fmt.Errorf("load %s: %w", path, err)
		}
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", ErrNoEnvFile
}

// candidates lists env file paths in priority order without duplicates.
func (l *EnvLoader) candidates() []string {
	var out []string
	seen := map[string]bool{}
	add := func(path string) {
		path = strings.TrimSpace(path)
		if path == "" || seen[path] {
			return
		}
		seen[path] = true
		out = append(out, path)
	}

	for _, name := range overrideVars {
		add(os.Getenv(name))
	}
	requested := l.defaultPath
	if l.value != nil && strings.TrimSpace(*l.value) != "" {
		requested = *l.value
	}
	add(requested)
	add(filepath.Base(requested))
	add(l.defaultPath)
	return out
}
