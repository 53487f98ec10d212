package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"horse.fit/jobdedup/internal/intake"
)

func TestCollectJSONFilesRecursive(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "a.json"), `{"id":"1"}`)
	mustWriteFile(t, filepath.Join(root, "b.txt"), `x`)
	mustWriteFile(t, filepath.Join(root, ".hidden.json"), `{}`)
	mustWriteFile(t, filepath.Join(root, "nested", "c.jsonl"), `{"id":"2"}`)

	files, err := collectJSONFiles(root, true)
	if err != nil {
		t.Fatalf("collectJSONFiles failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 payload files, got %d (%v)", len(files), files)
	}
}

func TestCollectJSONFilesNonRecursive(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "a.json"), `{"id":"1"}`)
	mustWriteFile(t, filepath.Join(root, "nested", "c.json"), `{"id":"2"}`)

	files, err := collectJSONFiles(root, false)
	if err != nil {
		t.Fatalf("collectJSONFiles failed: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 payload file, got %d (%v)", len(files), files)
	}
}

func TestValidateFileReportsEachRejection(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "batch.jsonl")
	mustWriteFile(t, path, strings.Join([]string{
		`{"id":"1","title":"Data Intern","organization":"Acme","location":"NYC"}`,
		`{"title":"missing id"}`,
		``,
		`{"id":"3","title":"Data Intern","url":"not a url"}`,
		`{"id":4,"title":"Security Intern","date_posted":"2025-05-30"}`,
	}, "\n"))

	var report bytes.Buffer
	result, err := validateFile(context.Background(), intake.NewDecoder(), path, &report)
	if err != nil {
		t.Fatalf("validateFile failed: %v", err)
	}
	if result.Scanned != 4 || result.Valid != 2 || result.Invalid != 2 {
		t.Fatalf("unexpected result %+v\n%s", result, report.String())
	}
	if !strings.Contains(report.String(), "#1") || !strings.Contains(report.String(), "#2") {
		t.Fatalf("report should name positions 1 and 2, got:\n%s", report.String())
	}
}

func TestValidateFileMissing(t *testing.T) {
	t.Parallel()

	_, err := validateFile(context.Background(), intake.NewDecoder(), filepath.Join(t.TempDir(), "nope.json"), &bytes.Buffer{})
	if err == nil {
		t.Fatalf("expected error for a missing file")
	}
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	t.Parallel()

	if code := Run([]string{"frobnicate"}); code != exitUsage {
		t.Fatalf("expected exit %d, got %d", exitUsage, code)
	}
	if code := Run(nil); code != exitUsage {
		t.Fatalf("expected exit %d for no args, got %d", exitUsage, code)
	}
}

func TestReconcileRequiresFileAndSource(t *testing.T) {
	t.Parallel()

	if code := Run([]string{"reconcile", "--source", "board"}); code != exitUsage {
		t.Fatalf("expected usage exit without --file, got %d", code)
	}
	if code := Run([]string{"schedule", "--file", "x.json", "--source", "board", "--spec", "whenever"}); code != exitUsage {
		t.Fatalf("expected usage exit for a bad spec, got %d", code)
	}
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}
