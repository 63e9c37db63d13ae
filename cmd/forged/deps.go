package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/forged/internal/audit"
	"github.com/fyrsmithlabs/forged/internal/budget"
	"github.com/fyrsmithlabs/forged/internal/classify"
	"github.com/fyrsmithlabs/forged/internal/config"
	"github.com/fyrsmithlabs/forged/internal/embeddings"
	"github.com/fyrsmithlabs/forged/internal/engine"
	"github.com/fyrsmithlabs/forged/internal/events"
	"github.com/fyrsmithlabs/forged/internal/knowledge"
	"github.com/fyrsmithlabs/forged/internal/logging"
	"github.com/fyrsmithlabs/forged/internal/patterns"
	"github.com/fyrsmithlabs/forged/internal/pipeline"
	"github.com/fyrsmithlabs/forged/internal/secrets"
	"github.com/fyrsmithlabs/forged/internal/sink"
	"github.com/fyrsmithlabs/forged/internal/stages"
	"github.com/fyrsmithlabs/forged/internal/telemetry"
)

// shutdownFlushTimeout bounds the final telemetry flush on Close.
const shutdownFlushTimeout = 10 * time.Second

// runtime holds every wired component for one process. Commands build
// the parts they need and Close tears them down in reverse order.
type runtime struct {
	cfg        *config.Config
	tel        *telemetry.Telemetry
	logger     *logging.Logger
	engine     *engine.Engine
	backend    stages.Backend
	store      patterns.Store
	sink       sink.Sink
	know       *knowledge.DirProvider
	watcher    *knowledge.Watcher
	classifier *classify.TableClassifier
	scrubber   secrets.Scrubber
	trail      audit.Trail
	embedder   embeddings.Provider
	nc         *nats.Conn
	natsSrv    *natsserver.Server
}

// buildRuntime assembles the full engine stack from configuration.
// On error everything built so far is torn down before returning.
func buildRuntime(ctx context.Context, cfg *config.Config) (rt *runtime, err error) {
	rt = &runtime{cfg: cfg}
	defer func() {
		if err != nil {
			rt.Close(context.Background())
		}
	}()

	rt.tel, err = telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	rt.logger, err = logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}, rt.tel.LoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	zl := rt.logger.Underlying()

	rt.scrubber = secrets.NoopScrubber{}
	if cfg.Secrets.Enabled {
		rt.scrubber, err = secrets.New(secrets.Config{
			Enabled:       true,
			AllowlistPath: cfg.Secrets.AllowlistPath,
			AllowRules:    cfg.Secrets.AllowRules,
		}, zl)
		if err != nil {
			return nil, fmt.Errorf("initializing scrubber: %w", err)
		}
	}

	if err = os.MkdirAll(cfg.Knowledge.Root, 0o755); err != nil {
		return nil, fmt.Errorf("creating knowledge root: %w", err)
	}
	rt.know, err = knowledge.NewDirProvider(cfg.Knowledge.Root, zl)
	if err != nil {
		return nil, fmt.Errorf("initializing knowledge provider: %w", err)
	}
	if cfg.Knowledge.Watch {
		rt.watcher, err = knowledge.NewWatcher(rt.know, zl)
		if err != nil {
			return nil, fmt.Errorf("initializing knowledge watcher: %w", err)
		}
		if err = rt.watcher.Start(ctx); err != nil {
			return nil, fmt.Errorf("starting knowledge watcher: %w", err)
		}
	}

	rt.store, err = buildPatternStore(cfg, rt, zl)
	if err != nil {
		return nil, err
	}

	rt.sink, err = buildSink(ctx, cfg.Sink, zl)
	if err != nil {
		return nil, err
	}

	emitter, err := buildEmitter(cfg.Events, rt, zl)
	if err != nil {
		return nil, err
	}

	rt.trail = audit.NopTrail{}
	if cfg.Audit.Enabled {
		rt.trail, err = audit.NewFileTrail(cfg.Audit.Path)
		if err != nil {
			return nil, fmt.Errorf("initializing audit trail: %w", err)
		}
	}

	rt.backend, err = buildBackend(cfg.Backend, zl)
	if err != nil {
		return nil, err
	}

	guard, err := budget.NewGuard(budget.Config{
		Capacity:     cfg.Budget.Capacity,
		Threshold:    cfg.Budget.ThresholdRatio,
		KeepFeedback: cfg.Budget.KeepFeedback,
	}, zl)
	if err != nil {
		return nil, fmt.Errorf("initializing budget guard: %w", err)
	}

	rt.classifier, err = buildClassifier(cfg.Classify)
	if err != nil {
		return nil, err
	}

	rt.engine, err = engine.New(engine.Config{
		ReasoningMaxIterations:  cfg.Engine.ReasoningMaxIterations,
		ValidationMaxIterations: cfg.Engine.ValidationMaxIterations,
		PassThreshold:           cfg.Engine.PassThreshold,
		LearningThreshold:       cfg.Engine.LearningThreshold,
	}, engine.Deps{
		Backend:   rt.backend,
		Guard:     guard,
		Knowledge: rt.know,
		Sink:      rt.sink,
		Patterns:  rt.store,
		Emitter:   emitter,
		Scrubber:  rt.scrubber,
		Trail:     rt.trail,
		Logger:    zl,
		Metrics:   engine.NewMetrics(zl),
	})
	if err != nil {
		return nil, fmt.Errorf("initializing engine: %w", err)
	}

	return rt, nil
}

// buildPatternStore wires the configured store backend, creating an
// embedding provider for the vector backends.
func buildPatternStore(cfg *config.Config, rt *runtime, zl *zap.Logger) (patterns.Store, error) {
	var embedder patterns.Embedder
	switch cfg.Patterns.Provider {
	case "chromem", "qdrant":
		provider, err := embeddings.NewProvider(embeddings.Config{
			Provider: cfg.Embed.Provider,
			Model:    cfg.Embed.Model,
			CacheDir: cfg.Embed.CacheDir,
			BaseURL:  cfg.Embed.BaseURL,
			APIKey:   cfg.Embed.APIKey.Value(),
		})
		if err != nil {
			return nil, fmt.Errorf("initializing embedding provider: %w", err)
		}
		rt.embedder = provider
		embedder = provider
	}

	store, err := patterns.NewStore(patterns.Config{
		Provider: cfg.Patterns.Provider,
		Memory:   patterns.MemoryConfig{Path: cfg.Patterns.Path},
		Chromem:  patterns.ChromemConfig{Path: cfg.Patterns.Dir},
		Qdrant: patterns.QdrantConfig{
			Host:   cfg.Patterns.Host,
			Port:   cfg.Patterns.Port,
			UseTLS: cfg.Patterns.UseTLS,
			APIKey: cfg.Patterns.APIKey.Value(),
		},
	}, embedder, zl)
	if err != nil {
		return nil, fmt.Errorf("initializing pattern store: %w", err)
	}
	return store, nil
}

// buildSink wires the configured publication target.
func buildSink(ctx context.Context, cfg config.SinkConfig, zl *zap.Logger) (sink.Sink, error) {
	switch cfg.Type {
	case "github":
		s, err := sink.NewGitHubSink(ctx, sink.GitHubConfig{
			Owner:  cfg.Owner,
			Repo:   cfg.Repo,
			Token:  cfg.Token.Value(),
			Labels: cfg.Labels,
		}, zl)
		if err != nil {
			return nil, fmt.Errorf("initializing github sink: %w", err)
		}
		return s, nil
	case "file", "":
		s, err := sink.NewFileSink(cfg.OutputDir, zl)
		if err != nil {
			return nil, fmt.Errorf("initializing file sink: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown sink type %q", cfg.Type)
	}
}

// buildEmitter connects NATS when events are enabled, starting an
// in-process server first in embedded mode.
func buildEmitter(cfg config.EventsConfig, rt *runtime, zl *zap.Logger) (events.Emitter, error) {
	if !cfg.Enabled {
		return events.Noop{}, nil
	}

	url := cfg.URL
	if cfg.Embedded {
		srv, clientURL, err := events.StartEmbedded()
		if err != nil {
			return nil, fmt.Errorf("starting embedded nats: %w", err)
		}
		rt.natsSrv = srv
		url = clientURL
	}

	nc, err := events.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	rt.nc = nc

	emitter, err := events.NewNATSEmitter(nc, zl)
	if err != nil {
		return nil, fmt.Errorf("initializing event emitter: %w", err)
	}
	return emitter, nil
}

// buildBackend wires the capability backend plus per-stage timeouts.
func buildBackend(cfg config.BackendConfig, zl *zap.Logger) (stages.Backend, error) {
	var backend stages.Backend
	switch cfg.Provider {
	case "llm":
		b, err := stages.NewLLMBackend(stages.LLMConfig{
			BaseURL:           cfg.BaseURL,
			Model:             cfg.Model,
			APIKey:            cfg.APIKey.Value(),
			RequestsPerSecond: float64(cfg.RequestsPerMinute) / 60.0,
		}, zl)
		if err != nil {
			return nil, fmt.Errorf("initializing llm backend: %w", err)
		}
		backend = b
	case "heuristic", "":
		backend = stages.NewHeuristicBackend(zl)
	default:
		return nil, fmt.Errorf("unknown backend provider %q", cfg.Provider)
	}

	wrapped, err := stages.WithTimeout(backend, stages.Timeouts{
		Plan:      cfg.PlanTimeout.Duration(),
		Implement: cfg.ImplementTimeout.Duration(),
		Verify:    cfg.VerifyTimeout.Duration(),
		Validate:  cfg.ValidateTimeout.Duration(),
	})
	if err != nil {
		return nil, fmt.Errorf("wrapping backend timeouts: %w", err)
	}
	return wrapped, nil
}

// buildClassifier compiles configured rules, falling back to the
// built-in table when none are set.
func buildClassifier(cfg config.ClassifyConfig) (*classify.TableClassifier, error) {
	if len(cfg.Rules) == 0 {
		return classify.NewDefaultClassifier(), nil
	}

	rules := make([]classify.Rule, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		rules = append(rules, classify.Rule{
			Pattern:    r.Pattern,
			Workflow:   pipeline.WorkflowType(r.Workflow),
			Confidence: r.Confidence,
		})
	}

	classifier, err := classify.NewTableClassifier(rules)
	if err != nil {
		return nil, fmt.Errorf("compiling classification rules: %w", err)
	}
	return classifier, nil
}

// Close tears the runtime down. Safe on a partially built runtime.
func (r *runtime) Close(ctx context.Context) {
	if r.watcher != nil {
		r.watcher.Stop()
	}
	if r.store != nil {
		_ = r.store.Close()
	}
	if r.embedder != nil {
		_ = r.embedder.Close()
	}
	if r.nc != nil {
		r.nc.Close()
	}
	if r.natsSrv != nil {
		r.natsSrv.Shutdown()
	}
	if r.trail != nil {
		_ = r.trail.Close()
	}
	if r.logger != nil {
		_ = r.logger.Sync()
	}
	if r.tel != nil {
		flushCtx, cancel := context.WithTimeout(ctx, shutdownFlushTimeout)
		defer cancel()
		if err := r.tel.Shutdown(flushCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			fmt.Fprintf(os.Stderr, "telemetry shutdown: %v\n", err)
		}
	}
}
