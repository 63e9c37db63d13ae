package patterns

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/forged/internal/pipeline"
	"github.com/fyrsmithlabs/forged/internal/sanitize"
)

// ChromemConfig configures the embedded vector backend.
type ChromemConfig struct {
	// Path is the persistence directory. Empty means in-memory only.
	Path string

	// Compress enables gzip compression of persisted collections.
	Compress bool
}

// ChromemStore persists patterns in an embedded chromem-go database, one
// collection per workflow+domain pair. No external service is needed;
// similarity comes from the configured embedder.
type ChromemStore struct {
	db       *chromem.DB
	embedder Embedder
	logger   *zap.Logger

	// collections caches GetOrCreateCollection results.
	collections sync.Map
}

// NewChromemStore opens (or creates) the embedded database.
func NewChromemStore(cfg ChromemConfig, embedder Embedder, logger *zap.Logger) (*ChromemStore, error) {
	if embedder == nil {
		return nil, ErrEmbedderNil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("creating chromem directory: %w", err)
		}
		var err error
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("opening chromem db: %w", err)
		}
	}

	logger.Info("chromem pattern store opened",
		zap.String("path", cfg.Path),
		zap.Bool("compress", cfg.Compress),
	)

	return &ChromemStore{db: db, embedder: embedder, logger: logger}, nil
}

func (s *ChromemStore) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.Embed(ctx, text)
	}
}

func (s *ChromemStore) collection(workflow pipeline.WorkflowType, domain string) (*chromem.Collection, error) {
	name := sanitize.Collection(string(workflow), domain)
	if c, ok := s.collections.Load(name); ok {
		return c.(*chromem.Collection), nil
	}

	c, err := s.db.GetOrCreateCollection(name, nil, s.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("getting collection %s: %w", name, err)
	}
	s.collections.Store(name, c)
	return c, nil
}

// Append embeds the pattern's signature and strategy and adds a document
// to the collection for its workflow and domain.
func (s *ChromemStore) Append(ctx context.Context, p *pipeline.Pattern) error {
	if p == nil {
		return ErrNilPattern
	}
	if err := p.Validate(); err != nil {
		return err
	}

	col, err := s.collection(p.Workflow, p.Domain)
	if err != nil {
		return err
	}

	doc := chromem.Document{
		ID:      p.ID,
		Content: p.Signature + "\n" + p.Strategy,
		Metadata: map[string]string{
			"signature":     p.Signature,
			"strategy":      p.Strategy,
			"effectiveness": strconv.FormatFloat(p.Effectiveness, 'f', -1, 64),
			"workflow":      string(p.Workflow),
			"domain":        p.Domain,
			"created_at":    p.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}

	if err := col.AddDocuments(ctx, []chromem.Document{doc}, 1); err != nil {
		return fmt.Errorf("appending pattern: %w", err)
	}

	s.logger.Debug("pattern appended",
		zap.String("id", p.ID),
		zap.String("key", p.Key()),
	)
	return nil
}

// Lookup embeds the query text and runs a similarity search scoped to the
// workflow+domain collection.
func (s *ChromemStore) Lookup(ctx context.Context, q LookupQuery) ([]Match, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLookupLimit
	}

	name := sanitize.Collection(string(q.Workflow), q.Domain)
	col := s.db.GetCollection(name, s.embeddingFunc())
	if col == nil {
		return nil, nil
	}

	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if limit > count {
		limit = count
	}

	results, err := col.Query(ctx, q.Text, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying patterns: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		sim := float64(r.Similarity)
		if sim < MinSimilarity {
			continue
		}
		p, err := patternFromMetadata(r.ID, r.Metadata)
		if err != nil {
			s.logger.Warn("skipping undecodable pattern", zap.String("id", r.ID), zap.Error(err))
			continue
		}
		matches = append(matches, Match{Pattern: p, Similarity: sim})
	}

	return rank(matches, limit), nil
}

// Close is a no-op; chromem persists on write.
func (s *ChromemStore) Close() error { return nil }

// patternFromMetadata rebuilds a Pattern from stored document metadata.
func patternFromMetadata(id string, md map[string]string) (pipeline.Pattern, error) {
	eff, err := strconv.ParseFloat(md["effectiveness"], 64)
	if err != nil {
		return pipeline.Pattern{}, fmt.Errorf("parsing effectiveness: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, md["created_at"])
	if err != nil {
		return pipeline.Pattern{}, fmt.Errorf("parsing created_at: %w", err)
	}
	p := pipeline.Pattern{
		ID:            id,
		Signature:     md["signature"],
		Strategy:      md["strategy"],
		Effectiveness: eff,
		Workflow:      pipeline.WorkflowType(md["workflow"]),
		Domain:        md["domain"],
		CreatedAt:     createdAt,
	}
	if err := p.Validate(); err != nil {
		return pipeline.Pattern{}, err
	}
	return p, nil
}
