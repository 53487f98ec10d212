package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"horse.fit/jobdedup/internal/feed"
	"horse.fit/jobdedup/internal/intake"
)

type validateResult struct {
	Files   int
	Scanned int
	Valid   int
	Invalid int
}

func (r *validateResult) add(other validateResult) {
	r.Files += other.Files
	r.Scanned += other.Scanned
	r.Valid += other.Valid
	r.Invalid += other.Invalid
}

func runValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	payload := fs.String("payload", "", "JSON array or JSON-lines file of posting payloads")
	dir := fs.String("dir", "", "Directory of .json payload files (alternative to --payload)")
	recursive := fs.Bool("recursive", true, "Recursively scan subdirectories with --dir")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	payloadPath := strings.TrimSpace(*payload)
	dirPath := strings.TrimSpace(*dir)
	if (payloadPath == "") == (dirPath == "") {
		fmt.Fprintln(os.Stderr, "exactly one of --payload or --dir is required")
		return exitUsage
	}

	files := []string{payloadPath}
	if dirPath != "" {
		var err error
		files, err = collectJSONFiles(dirPath, *recursive)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Validation setup failed: %v\n", err)
			return exitFailure
		}
	}

	decoder := intake.NewDecoder()
	result := validateResult{}
	for _, path := range files {
		fileResult, err := validateFile(context.Background(), decoder, path, os.Stderr)
		result.add(fileResult)
		if err != nil {
			result.Invalid++
			fmt.Fprintf(os.Stderr, "INVALID %s: %v\n", path, err)
		}
	}

	fmt.Printf(
		"validate files=%d scanned=%d valid=%d invalid=%d\n",
		result.Files,
		result.Scanned,
		result.Valid,
		result.Invalid,
	)

	if result.Scanned == 0 {
		fmt.Fprintln(os.Stderr, "Validation failed: no payloads found")
		return exitFailure
	}
	if result.Invalid > 0 {
		return exitFailure
	}
	return exitOK
}

// validateFile runs every payload in path through the intake boundary and
// reports each rejection to report. The error is a read failure of the file
// itself.
func validateFile(ctx context.Context, decoder *intake.Decoder, path string, report io.Writer) (validateResult, error) {
	result := validateResult{Files: 1}
	source := &feed.File{Path: path, Source: "validate"}

	for item, err := range source.Fetch(ctx) {
		if err != nil {
			return result, err
		}
		result.Scanned++
		if _, err := decoder.Decode(item.Source, item.FetchedAt, item.Payload); err != nil {
			result.Invalid++
			fmt.Fprintf(report, "INVALID %s#%d: %v\n", path, item.Position, err)
			continue
		}
		result.Valid++
	}
	return result, nil
}

func collectJSONFiles(root string, recursive bool) ([]string, error) {
	cleanRoot := strings.TrimSpace(root)
	if cleanRoot == "" {
		return nil, fmt.Errorf("directory path is empty")
	}

	info, err := os.Stat(cleanRoot)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", cleanRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", cleanRoot)
	}

	var files []string
	if !recursive {
		entries, err := os.ReadDir(cleanRoot)
		if err != nil {
			return nil, fmt.Errorf("read directory %s: %w", cleanRoot, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
				continue
			}
			if isPayloadFile(entry.Name()) {
				files = append(files, filepath.Join(cleanRoot, entry.Name()))
			}
		}
		sort.Strings(files)
		return files, nil
	}

	err = filepath.WalkDir(cleanRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != cleanRoot {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasPrefix(d.Name(), ".") && isPayloadFile(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory %s: %w", cleanRoot, err)
	}

	sort.Strings(files)
	return files, nil
}

func isPayloadFile(name string) bool {
	ext := filepath.Ext(name)
	return strings.EqualFold(ext, ".json") || strings.EqualFold(ext, ".jsonl")
}
