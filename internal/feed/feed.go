// Package feed provides the lazy sources of raw payloads the engine ingests.
package feed

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"os"
	"time"
)

// Item is one fetched payload.
type Item struct {
	Source    string
	FetchedAt time.Time
	Payload   json.RawMessage
	// Position is the zero-based index of the payload in its source.
	Position int
}

// Fetcher yields a finite sequence of payloads. A fetch error ends the
// sequence; items already yielded stay valid.
type Fetcher interface {
	Fetch(ctx context.Context) iter.Seq2[Item, error]
}

// File reads a JSON array or a JSON-lines file of payloads.
type File struct {
	Path   string
	Source string
	// Limit caps the number of yielded payloads; zero means no limit.
	Limit int
	Now   func() time.Time
}

func (f *File) Fetch(ctx context.Context) iter.Seq2[Item, error] {
	return func(yield func(Item, error) bool) {
		fh, err := os.Open(f.Path)
		if err != nil {
			yield(Item{}, fmt.Errorf("open feed %s: %w", f.Path, err))
			return
		}
		defer fh.Close()

		fetchedAt := time.Now().UTC()
		if f.Now != nil {
			fetchedAt = f.Now().UTC()
		}
		Decode(ctx, fh, f.Source, fetchedAt, f.Limit)(yield)
	}
}

// Decode streams payloads out of r. A leading '[' selects JSON-array mode;
// anything else is read as one JSON value per line, skipping blank lines.
func Decode(ctx context.Context, r io.Reader, source string, fetchedAt time.Time, limit int) iter.Seq2[Item, error] {
	return func(yield func(Item, error) bool) {
		br := bufio.NewReader(r)
		first, err := peekNonSpace(br)
		if err == io.EOF {
			return
		}
		if err != nil {
			yield(Item{}, fmt.Errorf("read feed: %w", err))
			return
		}

		emit := func(position int, payload json.RawMessage) bool {
			return yield(Item{Source: source, FetchedAt: fetchedAt, Payload: payload, Position: position}, nil)
		}

		if first == '[' {
			decodeArray(ctx, br, limit, emit, yield)
			return
		}
		decodeLines(ctx, br, limit, emit, yield)
	}
}

func decodeArray(ctx context.Context, r io.Reader, limit int, emit func(int, json.RawMessage) bool, yield func(Item, error) bool) {
	dec := json.NewDecoder(r)
	if _, err := dec.Token(); err != nil {
		yield(Item{}, fmt.Errorf("read feed array: %w", err))
		return
	}

	for position := 0; dec.More(); position++ {
		if limit > 0 && position >= limit {
			return
		}
		if err := ctx.Err(); err != nil {
			yield(Item{}, err)
			return
		}
		var payload json.RawMessage
		if err := dec.Decode(&payload); err != nil {
			yield(Item{}, fmt.Errorf("decode feed element %d: %w", position, err))
			return
		}
		if !emit(position, payload) {
			return
		}
	}
}

func decodeLines(ctx context.Context, r *bufio.Reader, limit int, emit func(int, json.RawMessage) bool, yield func(Item, error) bool) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	position := 0
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if limit > 0 && position >= limit {
			return
		}
		if err := ctx.Err(); err != nil {
			yield(Item{}, err)
			return
		}
		// Invalid lines are still yielded; the boundary validator rejects them
		// one record at a time.
		payload := make(json.RawMessage, len(line))
		copy(payload, line)
		if !emit(position, payload) {
			return
		}
		position++
	}
	if err := scanner.Err(); err != nil {
		yield(Item{}, fmt.Errorf("scan feed: %w", err))
	}
}

// peekNonSpace skips whitespace and a UTF-8 byte order mark.
func peekNonSpace(r *bufio.Reader) (byte, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n', 0xEF, 0xBB, 0xBF:
			continue
		}
		if err := r.UnreadByte(); err != nil {
			return 0, err
		}
		return b, nil
	}
}

// Slice is a Fetcher over payloads already in memory.
type Slice struct {
	Source    string
	FetchedAt time.Time
	Payloads  []json.RawMessage
}

func (s *Slice) Fetch(ctx context.Context) iter.Seq2[Item, error] {
	return func(yield func(Item, error) bool) {
		for i, payload := range s.Payloads {
			if err := ctx.Err(); err != nil {
				yield(Item{}, err)
				return
			}
			if !yield(Item{Source: s.Source, FetchedAt: s.FetchedAt, Payload: payload, Position: i}, nil) {
				return
			}
		}
	}
}
