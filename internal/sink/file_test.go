package sink

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/forged/internal/pipeline"
)

func testMeta() Meta {
	return Meta{
		RunID:    "0f2c9a4e-d1b7-4a0a-9a63-1c2d3e4f5a6b",
		Query:    "Explain the Goroutine Scheduler!",
		Workflow: pipeline.WorkflowExplain,
		Domain:   "golang",
		Score:    9.4,
	}
}

func TestNewFileSink(t *testing.T) {
	t.Run("requires directory", func(t *testing.T) {
		_, err := NewFileSink("", nil)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("creates nested directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "out", "drafts")
		_, err := NewFileSink(dir, nil)
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})
}

func TestFileSink_Write(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(dir, nil)
	require.NoError(t, err)

	draft := &pipeline.Draft{
		Content:   "# Scheduler\n\nRun queues are per-P.",
		Citations: []string{"sched.md", "runtime.md"},
		Iteration: 2,
	}

	ref, err := s.Write(context.Background(), draft, testMeta())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(ref.ID, "explain_explain-the-goroutine-scheduler_"))
	assert.True(t, strings.HasSuffix(ref.ID, "_0f2c9a4e.md"))
	assert.Equal(t, filepath.Join(dir, ref.ID), ref.Location)

	data, err := os.ReadFile(ref.Location)
	require.NoError(t, err)
	content := string(data)

	assert.Contains(t, content, "run_id: 0f2c9a4e-d1b7-4a0a-9a63-1c2d3e4f5a6b")
	assert.Contains(t, content, "workflow: explain")
	assert.Contains(t, content, "score: 9.4")
	assert.Contains(t, content, "citations: sched.md, runtime.md")
	assert.Contains(t, content, "# Scheduler")
	assert.True(t, strings.HasSuffix(content, "\n"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.Contains(e.Name(), ".tmp"), "no temp files may remain")
	}
}

func TestFileSink_Write_NilDraft(t *testing.T) {
	s, err := NewFileSink(t.TempDir(), nil)
	require.NoError(t, err)

	_, err = s.Write(context.Background(), nil, testMeta())
	assert.ErrorIs(t, err, ErrNilDraft)
}

func TestFileSink_Write_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(dir, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = s.Write(ctx, &pipeline.Draft{Content: "x"}, testMeta())
	assert.ErrorIs(t, err, context.Canceled)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "cancelled write must leave nothing behind")
}

func TestFileSink_DistinctRunsDistinctFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(dir, nil)
	require.NoError(t, err)

	draft := &pipeline.Draft{Content: "content"}

	meta := testMeta()
	first, err := s.Write(context.Background(), draft, meta)
	require.NoError(t, err)

	meta.RunID = "ffffffff-0000-0000-0000-000000000000"
	second, err := s.Write(context.Background(), draft, meta)
	require.NoError(t, err)

	assert.NotEqual(t, first.Location, second.Location)
}

func TestNewSinkFactory(t *testing.T) {
	t.Run("defaults to file", func(t *testing.T) {
		s, err := New(context.Background(), Config{OutputDir: t.TempDir()}, nil)
		require.NoError(t, err)
		assert.IsType(t, &FileSink{}, s)
	})

	t.Run("github requires credentials", func(t *testing.T) {
		_, err := New(context.Background(), Config{Type: TypeGitHub}, nil)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := New(context.Background(), Config{Type: "pastebin"}, nil)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}
