// Package config loads and validates the forged configuration from a
// YAML file and FORGED_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/forged/internal/pipeline"
)

// Validation errors.
var (
	ErrInvalidIterations = errors.New("iteration ceiling must be at least 1")
	ErrInvalidThreshold  = errors.New("threshold out of range")
	ErrInvalidCapacity   = errors.New("budget capacity must be positive")
	ErrInvalidRatio      = errors.New("budget threshold ratio must be in (0, 1]")
	ErrInvalidPort       = errors.New("port must be between 1 and 65535")
	ErrInvalidProvider   = errors.New("unknown provider")
	ErrMissingValue      = errors.New("required value missing")
)

// Config is the complete forged configuration.
type Config struct {
	Engine    EngineConfig    `koanf:"engine"`
	Budget    BudgetConfig    `koanf:"budget"`
	Patterns  PatternsConfig  `koanf:"patterns"`
	Embed     EmbedConfig     `koanf:"embeddings"`
	Knowledge KnowledgeConfig `koanf:"knowledge"`
	Backend   BackendConfig   `koanf:"backend"`
	Sink      SinkConfig      `koanf:"sink"`
	Events    EventsConfig    `koanf:"events"`
	Secrets   SecretsConfig   `koanf:"secrets"`
	HTTP      HTTPConfig      `koanf:"http"`
	Durable   DurableConfig   `koanf:"durable"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Logging   LoggingConfig   `koanf:"logging"`
	Audit     AuditConfig     `koanf:"audit"`
	Classify  ClassifyConfig  `koanf:"classify"`
}

// EngineConfig bounds the pipeline loops.
type EngineConfig struct {
	ReasoningMaxIterations  int     `koanf:"reasoning_max_iterations"`
	ValidationMaxIterations int     `koanf:"validation_max_iterations"`
	PassThreshold           float64 `koanf:"pass_threshold"`
	LearningThreshold       float64 `koanf:"learning_threshold"`
}

// BudgetConfig sizes the per-run state budget.
type BudgetConfig struct {
	Capacity       int     `koanf:"capacity"`
	ThresholdRatio float64 `koanf:"threshold_ratio"`
	KeepFeedback   int     `koanf:"keep_feedback"`
}

// PatternsConfig selects the pattern store backend.
type PatternsConfig struct {
	Provider string `koanf:"provider"`
	// Path persists the memory backend's journal; empty keeps it in RAM.
	Path string `koanf:"path"`
	// Dir is the chromem persistence directory.
	Dir string `koanf:"dir"`
	// Host/Port/APIKey reach a qdrant deployment.
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	APIKey Secret `koanf:"api_key"`
	UseTLS bool   `koanf:"use_tls"`
}

// EmbedConfig selects the embedding provider for vector backends.
type EmbedConfig struct {
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	APIKey   Secret `koanf:"api_key"`
	CacheDir string `koanf:"cache_dir"`
}

// KnowledgeConfig locates the domain knowledge tree.
type KnowledgeConfig struct {
	Root  string `koanf:"root"`
	Watch bool   `koanf:"watch"`
}

// BackendConfig selects the capability backend driving the four stages.
type BackendConfig struct {
	// Provider is "heuristic" (offline, default) or "llm".
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	APIKey   Secret `koanf:"api_key"`
	// RequestsPerMinute throttles the llm backend; 0 means unlimited.
	RequestsPerMinute int `koanf:"requests_per_minute"`

	PlanTimeout      Duration `koanf:"plan_timeout"`
	ImplementTimeout Duration `koanf:"implement_timeout"`
	VerifyTimeout    Duration `koanf:"verify_timeout"`
	ValidateTimeout  Duration `koanf:"validate_timeout"`
}

// SinkConfig selects where approved drafts land.
type SinkConfig struct {
	Type      string   `koanf:"type"`
	OutputDir string   `koanf:"output_dir"`
	Owner     string   `koanf:"owner"`
	Repo      string   `koanf:"repo"`
	Token     Secret   `koanf:"token"`
	Labels    []string `koanf:"labels"`
}

// EventsConfig wires the NATS lifecycle emitter.
type EventsConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
	// Embedded starts an in-process NATS server for dev mode.
	Embedded bool `koanf:"embedded"`
}

// SecretsConfig controls draft scrubbing before publication.
type SecretsConfig struct {
	Enabled       bool     `koanf:"enabled"`
	AllowlistPath string   `koanf:"allowlist_path"`
	AllowRules    []string `koanf:"allow_rules"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Enabled         bool     `koanf:"enabled"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	// RecentRuns caps the in-memory run registry behind GET /api/v1/runs.
	RecentRuns int `koanf:"recent_runs"`
}

// DurableConfig configures the temporal worker mode.
type DurableConfig struct {
	Enabled   bool   `koanf:"enabled"`
	HostPort  string `koanf:"host_port"`
	Namespace string `koanf:"namespace"`
	TaskQueue string `koanf:"task_queue"`
}

// TelemetryConfig configures the OTLP exporters.
type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
	Endpoint    string `koanf:"endpoint"`
	// Protocol is "grpc" or "http".
	Protocol string `koanf:"protocol"`
	Insecure bool   `koanf:"insecure"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level string `koanf:"level"`
	// Format is "json" or "console".
	Format string `koanf:"format"`
}

// AuditConfig configures the finished-run trail.
type AuditConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// ClassifyConfig carries extra classification rules; each rule is a
// regex matched against the lowercased query.
type ClassifyConfig struct {
	Rules []ClassifyRule `koanf:"rules"`
}

// ClassifyRule is one data-defined classification rule.
type ClassifyRule struct {
	Pattern    string  `koanf:"pattern"`
	Workflow   string  `koanf:"workflow"`
	Confidence float64 `koanf:"confidence"`
}

// applyDefaults fills every unset field with its documented default.
func applyDefaults(cfg *Config) {
	if cfg.Engine.ReasoningMaxIterations == 0 {
		cfg.Engine.ReasoningMaxIterations = 5
	}
	if cfg.Engine.ValidationMaxIterations == 0 {
		cfg.Engine.ValidationMaxIterations = 2
	}
	if cfg.Engine.PassThreshold == 0 {
		cfg.Engine.PassThreshold = 9.0
	}
	if cfg.Engine.LearningThreshold == 0 {
		cfg.Engine.LearningThreshold = 8.0
	}

	if cfg.Budget.Capacity == 0 {
		cfg.Budget.Capacity = 8192
	}
	if cfg.Budget.ThresholdRatio == 0 {
		cfg.Budget.ThresholdRatio = 0.70
	}
	if cfg.Budget.KeepFeedback == 0 {
		cfg.Budget.KeepFeedback = 1
	}

	if cfg.Patterns.Provider == "" {
		cfg.Patterns.Provider = "memory"
	}
	if cfg.Patterns.Port == 0 {
		cfg.Patterns.Port = 6334
	}

	if cfg.Embed.Provider == "" {
		cfg.Embed.Provider = "fastembed"
	}

	if cfg.Knowledge.Root == "" {
		cfg.Knowledge.Root = "./knowledge"
	}

	if cfg.Backend.Provider == "" {
		cfg.Backend.Provider = "heuristic"
	}
	if cfg.Backend.PlanTimeout == 0 {
		cfg.Backend.PlanTimeout = Duration(60 * time.Second)
	}
	if cfg.Backend.ImplementTimeout == 0 {
		cfg.Backend.ImplementTimeout = Duration(120 * time.Second)
	}
	if cfg.Backend.VerifyTimeout == 0 {
		cfg.Backend.VerifyTimeout = Duration(60 * time.Second)
	}
	if cfg.Backend.ValidateTimeout == 0 {
		cfg.Backend.ValidateTimeout = Duration(60 * time.Second)
	}

	if cfg.Sink.Type == "" {
		cfg.Sink.Type = "file"
	}
	if cfg.Sink.OutputDir == "" {
		cfg.Sink.OutputDir = "./out"
	}

	if cfg.Events.URL == "" {
		cfg.Events.URL = "nats://127.0.0.1:4222"
	}

	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8712
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = Duration(10 * time.Second)
	}
	if cfg.HTTP.RecentRuns == 0 {
		cfg.HTTP.RecentRuns = 100
	}

	if cfg.Durable.HostPort == "" {
		cfg.Durable.HostPort = "127.0.0.1:7233"
	}
	if cfg.Durable.Namespace == "" {
		cfg.Durable.Namespace = "default"
	}
	if cfg.Durable.TaskQueue == "" {
		cfg.Durable.TaskQueue = "forged-pipeline"
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "forged"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "127.0.0.1:4317"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Audit.Path == "" {
		cfg.Audit.Path = "./forged-audit.jsonl"
	}
}

// Validate checks every configured range and enum.
func (c *Config) Validate() error {
	if c.Engine.ReasoningMaxIterations < 1 {
		return fmt.Errorf("%w: engine.reasoning_max_iterations", ErrInvalidIterations)
	}
	if c.Engine.ValidationMaxIterations < 1 {
		return fmt.Errorf("%w: engine.validation_max_iterations", ErrInvalidIterations)
	}
	if c.Engine.PassThreshold < 0 || c.Engine.PassThreshold > 10 {
		return fmt.Errorf("%w: engine.pass_threshold %f", ErrInvalidThreshold, c.Engine.PassThreshold)
	}
	if c.Engine.LearningThreshold < 0 || c.Engine.LearningThreshold > 10 {
		return fmt.Errorf("%w: engine.learning_threshold %f", ErrInvalidThreshold, c.Engine.LearningThreshold)
	}

	if c.Budget.Capacity <= 0 {
		return fmt.Errorf("%w: budget.capacity %d", ErrInvalidCapacity, c.Budget.Capacity)
	}
	if c.Budget.ThresholdRatio <= 0 || c.Budget.ThresholdRatio > 1 {
		return fmt.Errorf("%w: budget.threshold_ratio %f", ErrInvalidRatio, c.Budget.ThresholdRatio)
	}

	switch c.Patterns.Provider {
	case "memory", "chromem", "qdrant":
	default:
		return fmt.Errorf("%w: patterns.provider %q", ErrInvalidProvider, c.Patterns.Provider)
	}
	if c.Patterns.Provider == "qdrant" {
		if c.Patterns.Host == "" {
			return fmt.Errorf("%w: patterns.host", ErrMissingValue)
		}
		if c.Patterns.Port < 1 || c.Patterns.Port > 65535 {
			return fmt.Errorf("%w: patterns.port %d", ErrInvalidPort, c.Patterns.Port)
		}
	}

	switch c.Embed.Provider {
	case "fastembed", "openai":
	default:
		return fmt.Errorf("%w: embeddings.provider %q", ErrInvalidProvider, c.Embed.Provider)
	}

	switch c.Backend.Provider {
	case "heuristic":
	case "llm":
		if c.Backend.Model == "" {
			return fmt.Errorf("%w: backend.model", ErrMissingValue)
		}
	default:
		return fmt.Errorf("%w: backend.provider %q", ErrInvalidProvider, c.Backend.Provider)
	}

	switch c.Sink.Type {
	case "file":
	case "github":
		if c.Sink.Owner == "" || c.Sink.Repo == "" {
			return fmt.Errorf("%w: sink.owner and sink.repo", ErrMissingValue)
		}
		if !c.Sink.Token.IsSet() {
			return fmt.Errorf("%w: sink.token", ErrMissingValue)
		}
	default:
		return fmt.Errorf("%w: sink.type %q", ErrInvalidProvider, c.Sink.Type)
	}

	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("%w: http.port %d", ErrInvalidPort, c.HTTP.Port)
	}

	switch c.Telemetry.Protocol {
	case "grpc", "http":
	default:
		return fmt.Errorf("%w: telemetry.protocol %q", ErrInvalidProvider, c.Telemetry.Protocol)
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("%w: logging.format %q", ErrInvalidProvider, c.Logging.Format)
	}

	for _, r := range c.Classify.Rules {
		if r.Pattern == "" {
			return fmt.Errorf("%w: classify rule pattern", ErrMissingValue)
		}
		if !pipeline.WorkflowType(r.Workflow).Valid() {
			return fmt.Errorf("%w: classify rule workflow %q", ErrInvalidProvider, r.Workflow)
		}
		if r.Confidence < 0 || r.Confidence > 1 {
			return fmt.Errorf("%w: classify rule confidence %f", ErrInvalidThreshold, r.Confidence)
		}
	}

	return nil
}
