package patterns

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignature(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"sorted unique terms", "explain the goroutine scheduler, the scheduler!", "explain goroutine scheduler"},
		{"stopwords removed", "what is the difference between mutex and channel", "between channel difference mutex"},
		{"short fragments dropped", "go vs js io", ""},
		{"case folded", "Explain GOROUTINE Scheduling", "explain goroutine scheduling"},
		{"empty query", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Signature(tt.query))
		})
	}
}

func TestSignature_PhrasingOrderInsensitive(t *testing.T) {
	a := Signature("compaction under budget pressure")
	b := Signature("budget pressure under compaction")
	assert.Equal(t, a, b)
}

func TestJaccard(t *testing.T) {
	t.Run("identical texts", func(t *testing.T) {
		assert.InDelta(t, 1.0, Jaccard("goroutine scheduler design", "goroutine scheduler design"), 1e-9)
	})

	t.Run("disjoint texts", func(t *testing.T) {
		assert.Equal(t, 0.0, Jaccard("goroutine scheduler", "database migrations"))
	})

	t.Run("partial overlap", func(t *testing.T) {
		// terms: {goroutine, scheduler} vs {goroutine, leaks}: 1 shared of 3.
		sim := Jaccard("goroutine scheduler", "goroutine leaks")
		assert.InDelta(t, 1.0/3.0, sim, 1e-9)
	})

	t.Run("empty side", func(t *testing.T) {
		assert.Equal(t, 0.0, Jaccard("", "goroutine scheduler"))
	})
}
