package patterns

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/forged/internal/pipeline"
)

func mustPattern(t *testing.T, sig, strategy string, eff float64) *pipeline.Pattern {
	t.Helper()
	p, err := pipeline.NewPattern(sig, strategy, eff, pipeline.WorkflowExplain, "golang")
	require.NoError(t, err)
	return p
}

func TestMemoryStore_AppendAndLookup(t *testing.T) {
	s, err := NewMemoryStore(MemoryConfig{}, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Append(ctx, mustPattern(t, "goroutine scheduler explain", "lead with the m:n model", 0.9)))
	require.NoError(t, s.Append(ctx, mustPattern(t, "channel buffering explain", "start from unbuffered", 0.8)))

	matches, err := s.Lookup(ctx, LookupQuery{
		Text:     "explain the goroutine scheduler",
		Workflow: pipeline.WorkflowExplain,
		Domain:   "golang",
	})
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "goroutine scheduler explain", matches[0].Pattern.Signature)
	assert.GreaterOrEqual(t, matches[0].Similarity, MinSimilarity)
}

func TestMemoryStore_LookupScopedByWorkflowAndDomain(t *testing.T) {
	s, err := NewMemoryStore(MemoryConfig{}, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	p, err := pipeline.NewPattern("goroutine scheduler explain", "strategy", 0.9, pipeline.WorkflowReview, "golang")
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, p))

	matches, err := s.Lookup(ctx, LookupQuery{
		Text:     "explain the goroutine scheduler",
		Workflow: pipeline.WorkflowExplain,
		Domain:   "golang",
	})
	require.NoError(t, err)
	assert.Empty(t, matches, "patterns from other workflows must not match")
}

func TestMemoryStore_RankingOrder(t *testing.T) {
	s, err := NewMemoryStore(MemoryConfig{}, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()

	// Same signature, different effectiveness and age.
	older := mustPattern(t, "goroutine scheduler explain", "older and stronger", 0.9)
	older.CreatedAt = time.Now().Add(-time.Hour)
	weaker := mustPattern(t, "goroutine scheduler explain", "weaker", 0.5)
	newest := mustPattern(t, "goroutine scheduler explain", "newest equal strength", 0.9)

	require.NoError(t, s.Append(ctx, older))
	require.NoError(t, s.Append(ctx, weaker))
	require.NoError(t, s.Append(ctx, newest))

	matches, err := s.Lookup(ctx, LookupQuery{
		Text:     "explain goroutine scheduler",
		Workflow: pipeline.WorkflowExplain,
		Domain:   "golang",
	})
	require.NoError(t, err)
	require.Len(t, matches, 3)

	// Equal similarity: effectiveness decides, then recency.
	assert.Equal(t, "newest equal strength", matches[0].Pattern.Strategy)
	assert.Equal(t, "older and stronger", matches[1].Pattern.Strategy)
	assert.Equal(t, "weaker", matches[2].Pattern.Strategy)
}

func TestMemoryStore_LookupLimit(t *testing.T) {
	s, err := NewMemoryStore(MemoryConfig{}, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	for i := 0; i < 6; i++ {
		require.NoError(t, s.Append(ctx, mustPattern(t, "goroutine scheduler explain", fmt.Sprintf("strategy %d", i), 0.5)))
	}

	matches, err := s.Lookup(ctx, LookupQuery{
		Text:     "explain goroutine scheduler",
		Workflow: pipeline.WorkflowExplain,
		Domain:   "golang",
	})
	require.NoError(t, err)
	assert.Len(t, matches, DefaultLookupLimit)

	matches, err = s.Lookup(ctx, LookupQuery{
		Text:     "explain goroutine scheduler",
		Workflow: pipeline.WorkflowExplain,
		Domain:   "golang",
		Limit:    5,
	})
	require.NoError(t, err)
	assert.Len(t, matches, 5)
}

func TestMemoryStore_JournalRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.jsonl")

	s, err := NewMemoryStore(MemoryConfig{Path: path}, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, mustPattern(t, "goroutine scheduler explain", "persisted", 0.7)))
	require.NoError(t, s.Close())

	reopened, err := NewMemoryStore(MemoryConfig{Path: path}, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, 1, reopened.Len())

	matches, err := reopened.Lookup(ctx, LookupQuery{
		Text:     "explain goroutine scheduler",
		Workflow: pipeline.WorkflowExplain,
		Domain:   "golang",
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "persisted", matches[0].Pattern.Strategy)
}

func TestMemoryStore_JournalSkipsMalformedRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("not json\n"), 0o600))

	s, err := NewMemoryStore(MemoryConfig{Path: path}, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, 0, s.Len())
}

func TestMemoryStore_AppendValidates(t *testing.T) {
	s, err := NewMemoryStore(MemoryConfig{}, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	assert.ErrorIs(t, s.Append(ctx, nil), ErrNilPattern)

	bad := &pipeline.Pattern{Signature: "sig", Strategy: "s", Effectiveness: 2, Workflow: pipeline.WorkflowExplain, Domain: "d"}
	assert.ErrorIs(t, s.Append(ctx, bad), pipeline.ErrInvalidEffectiveness)
}

func TestMemoryStore_ClosedStoreRejectsOperations(t *testing.T) {
	s, err := NewMemoryStore(MemoryConfig{}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	ctx := context.Background()
	assert.ErrorIs(t, s.Append(ctx, mustPattern(t, "sig term", "strategy", 0.5)), ErrStoreClosed)
	_, err = s.Lookup(ctx, LookupQuery{Text: "sig", Workflow: pipeline.WorkflowExplain, Domain: "golang"})
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestMemoryStore_ConcurrentAppendsAndLookups(t *testing.T) {
	s, err := NewMemoryStore(MemoryConfig{}, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = s.Append(ctx, mustPattern(t, "goroutine scheduler explain", fmt.Sprintf("s%d", i), 0.5))
		}(i)
		go func() {
			defer wg.Done()
			_, _ = s.Lookup(ctx, LookupQuery{Text: "goroutine scheduler", Workflow: pipeline.WorkflowExplain, Domain: "golang"})
		}()
	}
	wg.Wait()
	assert.Equal(t, 8, s.Len())
}

func TestMemoryStore_ListNewestFirst(t *testing.T) {
	s, err := NewMemoryStore(MemoryConfig{}, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	older := mustPattern(t, "goroutine scheduler explain", "lead with the m:n model", 0.9)
	older.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, s.Append(ctx, older))
	require.NoError(t, s.Append(ctx, mustPattern(t, "channel buffering explain", "start from unbuffered", 0.8)))

	other, err := pipeline.NewPattern("mutex contention explain", "profile first", 0.7, pipeline.WorkflowExplain, "rust")
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, other))

	rows, err := s.List(ctx, pipeline.WorkflowExplain, "golang", 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "start from unbuffered", rows[0].Strategy)
	assert.Equal(t, "lead with the m:n model", rows[1].Strategy)

	limited, err := s.List(ctx, pipeline.WorkflowExplain, "golang", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "start from unbuffered", limited[0].Strategy)
}
