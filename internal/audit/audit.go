// Package audit appends one JSON line per finished run to a local trail
// file. The trail is an operational record, not a control surface: writes
// are best-effort from the engine's point of view, and readers tolerate
// corrupt lines so a crash mid-append never poisons the whole file.
package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/forged/internal/state"
)

// ErrClosed is returned when appending to a closed trail.
var ErrClosed = errors.New("audit: trail closed")

// maxRecordBytes bounds a single trail line when reading. Records carry
// query text, facts, and summaries, so they can be large.
const maxRecordBytes = 1024 * 1024

// Record is one finished run. It never contains draft content or secret
// values, only run metadata and the exported state.
type Record struct {
	At         time.Time    `json:"at"`
	Kind       string       `json:"kind"`
	Score      float64      `json:"score,omitempty"`
	DurationMs int64        `json:"duration_ms"`
	Output     string       `json:"output,omitempty"`
	Error      string       `json:"error,omitempty"`
	Run        state.Export `json:"run"`
}

// Trail records finished runs.
type Trail interface {
	Append(rec Record) error
	Close() error
}

// FileTrail appends records to a JSONL file, one line per run.
type FileTrail struct {
	mu     sync.Mutex
	f      *os.File
	closed bool
}

// NewFileTrail opens (or creates) the trail file at path. Parent
// directories are created with owner-only permissions since records carry
// user queries.
func NewFileTrail(path string) (*FileTrail, error) {
	if path == "" {
		return nil, fmt.Errorf("audit: trail path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating audit dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening audit trail: %w", err)
	}
	return &FileTrail{f: f}, nil
}

// Append writes rec as a single JSON line and syncs it to disk. The
// record's timestamp is set here if the caller left it zero.
func (t *FileTrail) Append(rec Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding audit record: %w", err)
	}
	data = append(data, '\n')
	if _, err := t.f.Write(data); err != nil {
		return fmt.Errorf("writing audit record: %w", err)
	}
	if err := t.f.Sync(); err != nil {
		return fmt.Errorf("syncing audit trail: %w", err)
	}
	return nil
}

// Close stops the trail. Further appends return ErrClosed.
func (t *FileTrail) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.f.Close()
}

// Records reads every record from the trail at path. Blank and corrupt
// lines are skipped so a truncated final line (crash mid-append) does not
// fail the read. A missing file yields no records and no error.
func Records(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening audit trail: %w", err)
	}
	defer f.Close()

	var recs []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, maxRecordBytes), maxRecordBytes)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		recs = append(recs, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning audit trail: %w", err)
	}
	return recs, nil
}

// NopTrail discards records. It stands in when auditing is disabled.
type NopTrail struct{}

func (NopTrail) Append(Record) error { return nil }
func (NopTrail) Close() error        { return nil }

var (
	_ Trail = (*FileTrail)(nil)
	_ Trail = NopTrail{}
)
