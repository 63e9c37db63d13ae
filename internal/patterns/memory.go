package patterns

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/forged/internal/pipeline"
)

// MemoryConfig configures the in-process pattern store.
type MemoryConfig struct {
	// Path is an optional JSONL journal. When set, appends are written
	// through and existing rows are loaded on open.
	Path string
}

// MemoryStore keeps patterns in memory with term-overlap similarity,
// optionally journaled to an append-only JSONL file. Suitable for single
// node deployments and tests; the vector backends cover everything else.
type MemoryStore struct {
	mu      sync.RWMutex
	rows    []pipeline.Pattern
	journal *os.File
	closed  bool
	logger  *zap.Logger
}

// NewMemoryStore creates a MemoryStore, loading the journal if configured.
func NewMemoryStore(cfg MemoryConfig, logger *zap.Logger) (*MemoryStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &MemoryStore{logger: logger}

	if cfg.Path == "" {
		return s, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}

	if err := s.load(cfg.Path); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening pattern journal: %w", err)
	}
	s.journal = f

	logger.Info("pattern journal opened",
		zap.String("path", cfg.Path),
		zap.Int("patterns", len(s.rows)),
	)
	return s, nil
}

// load reads existing journal rows. Malformed rows are skipped with a
// warning; a missing file is a fresh store.
func (s *MemoryStore) load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("opening pattern journal: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		var p pipeline.Pattern
		if err := json.Unmarshal(scanner.Bytes(), &p); err != nil {
			s.logger.Warn("skipping malformed journal row",
				zap.String("path", path),
				zap.Int("line", line),
				zap.Error(err),
			)
			continue
		}
		if err := p.Validate(); err != nil {
			s.logger.Warn("skipping invalid journal row",
				zap.String("path", path),
				zap.Int("line", line),
				zap.Error(err),
			)
			continue
		}
		s.rows = append(s.rows, p)
	}
	return scanner.Err()
}

// Append stores a validated pattern. With a journal configured the row is
// durable before Append returns; an in-memory row is never added for a
// failed journal write, keeping writes all-or-nothing.
func (s *MemoryStore) Append(ctx context.Context, p *pipeline.Pattern) error {
	if p == nil {
		return ErrNilPattern
	}
	if err := p.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	if s.journal != nil {
		row, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encoding pattern: %w", err)
		}
		if _, err := s.journal.Write(append(row, '\n')); err != nil {
			return fmt.Errorf("appending pattern to journal: %w", err)
		}
	}

	s.rows = append(s.rows, *p)
	return nil
}

// Lookup returns patterns for the query's workflow and domain, ranked by
// term-overlap similarity, effectiveness, then recency.
func (s *MemoryStore) Lookup(ctx context.Context, q LookupQuery) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var matches []Match
	for _, p := range s.rows {
		if p.Workflow != q.Workflow || p.Domain != q.Domain {
			continue
		}
		sim := Jaccard(q.Text, p.Signature)
		if sim < MinSimilarity {
			continue
		}
		matches = append(matches, Match{Pattern: p, Similarity: sim})
	}

	return rank(matches, q.Limit), nil
}

// List returns stored patterns for one workflow and domain, newest
// first.
func (s *MemoryStore) List(ctx context.Context, workflow pipeline.WorkflowType, domain string, limit int) ([]pipeline.Pattern, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var out []pipeline.Pattern
	for _, p := range s.rows {
		if p.Workflow != workflow || p.Domain != domain {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of stored patterns.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// Close closes the journal. Further operations fail with ErrStoreClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.journal != nil {
		return s.journal.Close()
	}
	return nil
}
