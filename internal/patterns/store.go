// Package patterns persists learned strategies and serves them back as
// warm starts. The store is append-only: strategies are never updated in
// place, and concurrent reads and appends are safe on every backend.
package patterns

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/forged/internal/pipeline"
)

// Lookup tuning shared by all backends.
const (
	// MinSimilarity is the floor below which a pattern is not considered
	// a match for the request.
	MinSimilarity = 0.1

	// DefaultLookupLimit is how many patterns a lookup returns when the
	// query does not say.
	DefaultLookupLimit = 3
)

var (
	ErrInvalidConfig = errors.New("invalid pattern store config")
	ErrNilPattern    = errors.New("pattern cannot be nil")
	ErrStoreClosed   = errors.New("pattern store is closed")
	ErrEmbedderNil   = errors.New("embedder is required")
)

// LookupQuery asks for patterns relevant to a request.
type LookupQuery struct {
	Text     string
	Workflow pipeline.WorkflowType
	Domain   string
	Limit    int
}

// Match pairs a stored pattern with its similarity to the query.
type Match struct {
	Pattern    pipeline.Pattern
	Similarity float64
}

// Store is the pattern persistence contract. Append is durable and
// keyed by workflow + domain + trigger signature; Lookup returns matches
// ranked by similarity, then effectiveness, then recency.
type Store interface {
	Append(ctx context.Context, p *pipeline.Pattern) error
	Lookup(ctx context.Context, q LookupQuery) ([]Match, error)
	Close() error
}

// Lister is implemented by stores that can enumerate patterns without a
// query. The chromem backend cannot; its index has no document scan.
type Lister interface {
	List(ctx context.Context, workflow pipeline.WorkflowType, domain string, limit int) ([]pipeline.Pattern, error)
}

// Embedder turns text into a vector. Satisfied by embeddings.Provider.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config selects and configures a pattern store backend.
type Config struct {
	// Provider is "memory" (default), "chromem", or "qdrant".
	Provider string
	Memory   MemoryConfig
	Chromem  ChromemConfig
	Qdrant   QdrantConfig
}

// NewStore creates a pattern store from the configuration. The embedder
// is only required for the vector backends.
func NewStore(cfg Config, embedder Embedder, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Provider {
	case "memory", "":
		return NewMemoryStore(cfg.Memory, logger)
	case "chromem":
		if embedder == nil {
			return nil, fmt.Errorf("%w: chromem backend", ErrEmbedderNil)
		}
		return NewChromemStore(cfg.Chromem, embedder, logger)
	case "qdrant":
		if embedder == nil {
			return nil, fmt.Errorf("%w: qdrant backend", ErrEmbedderNil)
		}
		return NewQdrantStore(cfg.Qdrant, embedder, logger)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q (supported: memory, chromem, qdrant)", ErrInvalidConfig, cfg.Provider)
	}
}

// rank orders matches by similarity descending, then effectiveness
// descending, ties broken by most recent, and truncates to limit.
func rank(matches []Match, limit int) []Match {
	if limit <= 0 {
		limit = DefaultLookupLimit
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		if matches[i].Pattern.Effectiveness != matches[j].Pattern.Effectiveness {
			return matches[i].Pattern.Effectiveness > matches[j].Pattern.Effectiveness
		}
		return matches[i].Pattern.CreatedAt.After(matches[j].Pattern.CreatedAt)
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}
