package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/forged/internal/engine"

// Metrics holds the engine's instruments. All record methods are
// nil-receiver safe so an unconfigured engine stays quiet.
type Metrics struct {
	meter          metric.Meter
	logger         *zap.Logger
	runs           metric.Int64Counter
	iterations     metric.Int64Histogram
	stageDuration  metric.Float64Histogram
	compactions    metric.Int64Counter
	patternLookups metric.Int64Counter
}

// NewMetrics creates the engine instruments on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{
		meter:  otel.Meter(instrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.runs, err = m.meter.Int64Counter(
		"forged.engine.runs_total",
		metric.WithDescription("Finished runs by result kind"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		m.logger.Warn("failed to create runs counter", zap.Error(err))
	}

	m.iterations, err = m.meter.Int64Histogram(
		"forged.engine.run_iterations",
		metric.WithDescription("Reasoning iterations used per run"),
		metric.WithUnit("{iteration}"),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 4, 5, 7, 10),
	)
	if err != nil {
		m.logger.Warn("failed to create iterations histogram", zap.Error(err))
	}

	m.stageDuration, err = m.meter.Float64Histogram(
		"forged.engine.stage.duration_seconds",
		metric.WithDescription("Stage call duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 15.0, 60.0, 120.0),
	)
	if err != nil {
		m.logger.Warn("failed to create stage duration histogram", zap.Error(err))
	}

	m.compactions, err = m.meter.Int64Counter(
		"forged.engine.compactions_total",
		metric.WithDescription("Budget-triggered state compactions"),
		metric.WithUnit("{compaction}"),
	)
	if err != nil {
		m.logger.Warn("failed to create compactions counter", zap.Error(err))
	}

	m.patternLookups, err = m.meter.Int64Counter(
		"forged.engine.pattern_lookups_total",
		metric.WithDescription("Warm-start pattern lookups by hit/miss"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		m.logger.Warn("failed to create pattern lookups counter", zap.Error(err))
	}
}

// RunFinished records a completed run.
func (m *Metrics) RunFinished(ctx context.Context, kind Kind, reasoningIters int) {
	if m == nil {
		return
	}
	if m.runs != nil {
		m.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
	}
	if m.iterations != nil {
		m.iterations.Record(ctx, int64(reasoningIters), metric.WithAttributes(attribute.String("kind", string(kind))))
	}
}

// StageCompleted records one stage call.
func (m *Metrics) StageCompleted(ctx context.Context, stage string, took time.Duration) {
	if m == nil || m.stageDuration == nil {
		return
	}
	m.stageDuration.Record(ctx, took.Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
}

// Compaction records one budget-triggered compaction.
func (m *Metrics) Compaction(ctx context.Context) {
	if m == nil || m.compactions == nil {
		return
	}
	m.compactions.Add(ctx, 1)
}

// PatternLookup records a warm-start lookup outcome.
func (m *Metrics) PatternLookup(ctx context.Context, hit bool) {
	if m == nil || m.patternLookups == nil {
		return
	}
	m.patternLookups.Add(ctx, 1, metric.WithAttributes(attribute.Bool("hit", hit)))
}
