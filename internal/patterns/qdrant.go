package patterns

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/forged/internal/pipeline"
	"github.com/fyrsmithlabs/forged/internal/sanitize"
)

// QdrantConfig configures the remote vector backend.
type QdrantConfig struct {
	Host       string
	Port       int
	UseTLS     bool
	APIKey     string
	Collection string
	// VectorSize must match the embedder's output dimension.
	VectorSize int
	// MaxMessageSize caps gRPC message sizes in bytes.
	MaxMessageSize int
}

// ApplyDefaults fills unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "forged_patterns"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 32 * 1024 * 1024
	}
}

// Validate checks the configuration.
func (c *QdrantConfig) Validate() error {
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	return nil
}

// QdrantStore keeps all patterns in one qdrant collection, scoped at
// query time by workflow and domain payload filters.
type QdrantStore struct {
	client     *qdrant.Client
	embedder   Embedder
	config     QdrantConfig
	logger     *zap.Logger
	ensureOnce sync.Once
	ensureErr  error
}

// NewQdrantStore connects to qdrant and verifies it is reachable.
func NewQdrantStore(cfg QdrantConfig, embedder Embedder, logger *zap.Logger) (*QdrantStore, error) {
	if embedder == nil {
		return nil, ErrEmbedderNil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Collection = sanitize.Identifier(cfg.Collection)

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
		APIKey: cfg.APIKey,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}

	s := &QdrantStore{client: client, embedder: embedder, config: cfg, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("qdrant health check: %w", err)
	}

	logger.Info("qdrant pattern store connected",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("collection", cfg.Collection),
	)
	return s, nil
}

// ensureCollection creates the collection once if it does not exist.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	s.ensureOnce.Do(func() {
		_, err := s.client.GetCollectionInfo(ctx, s.config.Collection)
		if err == nil {
			return
		}
		if st, ok := status.FromError(err); !ok || st.Code() != grpccodes.NotFound {
			s.ensureErr = fmt.Errorf("checking collection %s: %w", s.config.Collection, err)
			return
		}
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.config.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(s.config.VectorSize),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			s.ensureErr = fmt.Errorf("creating collection %s: %w", s.config.Collection, err)
		}
	})
	return s.ensureErr
}

// Append embeds the pattern and upserts one point, waiting for durability.
func (s *QdrantStore) Append(ctx context.Context, p *pipeline.Pattern) error {
	if p == nil {
		return ErrNilPattern
	}
	if err := p.Validate(); err != nil {
		return err
	}
	if err := s.ensureCollection(ctx); err != nil {
		return err
	}

	vector, err := s.embedder.Embed(ctx, p.Signature+"\n"+p.Strategy)
	if err != nil {
		return fmt.Errorf("embedding pattern: %w", err)
	}

	payload := map[string]*qdrant.Value{
		"signature":     {Kind: &qdrant.Value_StringValue{StringValue: p.Signature}},
		"strategy":      {Kind: &qdrant.Value_StringValue{StringValue: p.Strategy}},
		"effectiveness": {Kind: &qdrant.Value_DoubleValue{DoubleValue: p.Effectiveness}},
		"workflow":      {Kind: &qdrant.Value_StringValue{StringValue: string(p.Workflow)}},
		"domain":        {Kind: &qdrant.Value_StringValue{StringValue: p.Domain}},
		"created_at":    {Kind: &qdrant.Value_StringValue{StringValue: p.CreatedAt.UTC().Format(time.RFC3339Nano)}},
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.config.Collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(p.ID),
			Vectors: qdrant.NewVectors(vector...),
			Payload: payload,
		}},
	})
	if err != nil {
		return fmt.Errorf("upserting pattern: %w", err)
	}

	s.logger.Debug("pattern appended",
		zap.String("id", p.ID),
		zap.String("key", p.Key()),
	)
	return nil
}

// Lookup embeds the query and runs a filtered similarity search.
func (s *QdrantStore) Lookup(ctx context.Context, q LookupQuery) ([]Match, error) {
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLookupLimit
	}

	vector, err := s.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	filter := &qdrant.Filter{Must: []*qdrant.Condition{
		keywordCondition("workflow", string(q.Workflow)),
		keywordCondition("domain", q.Domain),
	}}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.config.Collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         filter,
	})
	if err != nil {
		return nil, fmt.Errorf("querying patterns: %w", err)
	}

	matches := make([]Match, 0, len(points))
	for _, pt := range points {
		sim := float64(pt.GetScore())
		if sim < MinSimilarity {
			continue
		}
		p, err := patternFromPayload(pt.GetId(), pt.GetPayload())
		if err != nil {
			s.logger.Warn("skipping undecodable pattern", zap.Error(err))
			continue
		}
		matches = append(matches, Match{Pattern: p, Similarity: sim})
	}

	return rank(matches, limit), nil
}

// List scrolls the collection with a workflow + domain filter, newest
// first.
func (s *QdrantStore) List(ctx context.Context, workflow pipeline.WorkflowType, domain string, limit int) ([]pipeline.Pattern, error) {
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLookupLimit
	}

	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.config.Collection,
		Filter: &qdrant.Filter{Must: []*qdrant.Condition{
			keywordCondition("workflow", string(workflow)),
			keywordCondition("domain", domain),
		}},
		Limit:       qdrant.PtrOf(uint32(limit)),
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("scrolling patterns: %w", err)
	}

	out := make([]pipeline.Pattern, 0, len(points))
	for _, pt := range points {
		p, err := patternFromPayload(pt.GetId(), pt.GetPayload())
		if err != nil {
			s.logger.Warn("skipping undecodable pattern", zap.Error(err))
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func keywordCondition(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

// patternFromPayload rebuilds a Pattern from a point's id and payload.
func patternFromPayload(id *qdrant.PointId, payload map[string]*qdrant.Value) (pipeline.Pattern, error) {
	get := func(key string) string { return payload[key].GetStringValue() }

	createdAt, err := time.Parse(time.RFC3339Nano, get("created_at"))
	if err != nil {
		return pipeline.Pattern{}, fmt.Errorf("parsing created_at: %w", err)
	}

	pointID := id.GetUuid()
	if pointID == "" {
		pointID = strconv.FormatUint(id.GetNum(), 10)
	}

	p := pipeline.Pattern{
		ID:            pointID,
		Signature:     get("signature"),
		Strategy:      get("strategy"),
		Effectiveness: payload["effectiveness"].GetDoubleValue(),
		Workflow:      pipeline.WorkflowType(get("workflow")),
		Domain:        get("domain"),
		CreatedAt:     createdAt,
	}
	if err := p.Validate(); err != nil {
		return pipeline.Pattern{}, err
	}
	return p, nil
}
