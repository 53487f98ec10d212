package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewWritesJSONWithServiceFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := New(&buf, "production", "info")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Debug().Msg("hidden")
	logger.Info().Str("run_id", "r1").Msg("run finished")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected a single JSON line, got %q: %v", buf.String(), err)
	}
	if entry["service"] != "jobdedup" || entry["env"] != "production" || entry["run_id"] != "r1" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	if _, err := New(&bytes.Buffer{}, "local", "chatty"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
