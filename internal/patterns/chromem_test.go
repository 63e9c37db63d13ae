package patterns

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/forged/internal/pipeline"
)

// axisEmbedder maps a fixed vocabulary onto orthogonal axes so tests can
// predict cosine similarity: shared words raise it, disjoint words zero it.
type axisEmbedder struct {
	vocab map[string]int
}

func newAxisEmbedder(words ...string) *axisEmbedder {
	vocab := make(map[string]int, len(words))
	for i, w := range words {
		vocab[w] = i
	}
	return &axisEmbedder{vocab: vocab}
}

func (e *axisEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v := make([]float32, len(e.vocab))
	var sumSq float32
	for _, w := range strings.Fields(strings.ToLower(text)) {
		if i, ok := e.vocab[w]; ok && v[i] == 0 {
			v[i] = 1
			sumSq++
		}
	}
	if sumSq > 0 {
		norm := 1 / sqrt32(sumSq)
		for i := range v {
			v[i] *= norm
		}
	}
	return v, nil
}

func sqrt32(x float32) float32 {
	if x <= 0 {
		return 0
	}
	z := x / 2
	for i := 0; i < 10; i++ {
		z = (z + x/z) / 2
	}
	return z
}

func newTestChromemStore(t *testing.T) *ChromemStore {
	t.Helper()
	embedder := newAxisEmbedder("goroutine", "scheduler", "channel", "buffering", "explain", "mutex")
	s, err := NewChromemStore(ChromemConfig{}, embedder, zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestChromemStore_RequiresEmbedder(t *testing.T) {
	_, err := NewChromemStore(ChromemConfig{}, nil, zap.NewNop())
	assert.ErrorIs(t, err, ErrEmbedderNil)
}

func TestChromemStore_AppendAndLookup(t *testing.T) {
	s := newTestChromemStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, mustPattern(t, "goroutine scheduler", "lead with the m:n model", 0.9)))
	require.NoError(t, s.Append(ctx, mustPattern(t, "channel buffering", "start from unbuffered", 0.8)))

	matches, err := s.Lookup(ctx, LookupQuery{
		Text:     "explain goroutine scheduler",
		Workflow: pipeline.WorkflowExplain,
		Domain:   "golang",
	})
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "goroutine scheduler", matches[0].Pattern.Signature)
	assert.Equal(t, "lead with the m:n model", matches[0].Pattern.Strategy)
	assert.Equal(t, 0.9, matches[0].Pattern.Effectiveness)
	assert.GreaterOrEqual(t, matches[0].Similarity, MinSimilarity)
}

func TestChromemStore_ColdStartReturnsNoMatches(t *testing.T) {
	s := newTestChromemStore(t)

	matches, err := s.Lookup(context.Background(), LookupQuery{
		Text:     "explain goroutine scheduler",
		Workflow: pipeline.WorkflowExplain,
		Domain:   "golang",
	})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestChromemStore_CollectionsScopeWorkflowAndDomain(t *testing.T) {
	s := newTestChromemStore(t)
	ctx := context.Background()

	p, err := pipeline.NewPattern("goroutine scheduler", "strategy", 0.9, pipeline.WorkflowReview, "golang")
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, p))

	matches, err := s.Lookup(ctx, LookupQuery{
		Text:     "goroutine scheduler",
		Workflow: pipeline.WorkflowExplain,
		Domain:   "golang",
	})
	require.NoError(t, err)
	assert.Empty(t, matches, "review patterns must not serve explain lookups")

	matches, err = s.Lookup(ctx, LookupQuery{
		Text:     "goroutine scheduler",
		Workflow: pipeline.WorkflowReview,
		Domain:   "python",
	})
	require.NoError(t, err)
	assert.Empty(t, matches, "golang patterns must not serve python lookups")
}

func TestChromemStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	embedder := newAxisEmbedder("goroutine", "scheduler")
	ctx := context.Background()

	s, err := NewChromemStore(ChromemConfig{Path: dir}, embedder, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, mustPattern(t, "goroutine scheduler", "persisted", 0.7)))
	require.NoError(t, s.Close())

	reopened, err := NewChromemStore(ChromemConfig{Path: dir}, embedder, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()

	matches, err := reopened.Lookup(ctx, LookupQuery{
		Text:     "goroutine scheduler",
		Workflow: pipeline.WorkflowExplain,
		Domain:   "golang",
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "persisted", matches[0].Pattern.Strategy)
}

func TestChromemStore_AppendValidates(t *testing.T) {
	s := newTestChromemStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.Append(ctx, nil), ErrNilPattern)

	bad := &pipeline.Pattern{ID: "x", Signature: "", Strategy: "s", Workflow: pipeline.WorkflowExplain, Domain: "d"}
	assert.ErrorIs(t, s.Append(ctx, bad), pipeline.ErrEmptySignature)
}
