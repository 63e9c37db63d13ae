// Package budget monitors the estimated resource footprint of a run's
// shared state and compacts it under pressure. The guard never loops:
// one reconstruction attempt per check, and anything still over the
// threshold after compaction is an overflow the engine must abort on.
package budget

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/forged/internal/state"
)

// Defaults for the guard configuration.
const (
	DefaultCapacity  = 8192
	DefaultThreshold = 0.70
)

var (
	ErrInvalidCapacity  = errors.New("capacity must be positive")
	ErrInvalidThreshold = errors.New("threshold must be in (0, 1]")
)

// Action tells the engine what the guard decided.
type Action string

const (
	// ActionNone means usage is under the threshold.
	ActionNone Action = "none"
	// ActionReconstruct means usage crossed the threshold and the state
	// should be compacted before the next stage call.
	ActionReconstruct Action = "reconstruct"
	// ActionOverflow means compaction could not bring usage back under
	// the threshold; the run must abort with ResourceExhausted.
	ActionOverflow Action = "overflow"
)

// Decision is the outcome of a guard check.
type Decision struct {
	UsageRatio float64
	Action     Action
}

// Config configures a Guard.
type Config struct {
	// Capacity is the estimated token budget for one run's state.
	Capacity int
	// Threshold is the usage ratio at which compaction triggers.
	Threshold float64
	// KeepFeedback is how many recent feedback entries compaction keeps.
	KeepFeedback int
}

// DefaultConfig returns the default guard configuration.
func DefaultConfig() Config {
	return Config{
		Capacity:     DefaultCapacity,
		Threshold:    DefaultThreshold,
		KeepFeedback: state.DefaultKeepFeedback,
	}
}

// Guard watches state usage against a fixed capacity. Guards are
// stateless across runs and safe to share.
type Guard struct {
	capacity     int
	threshold    float64
	keepFeedback int
	logger       *zap.Logger
}

// NewGuard creates a Guard. A nil logger defaults to no-op.
func NewGuard(cfg Config, logger *zap.Logger) (*Guard, error) {
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, cfg.Capacity)
	}
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("%w: %f", ErrInvalidThreshold, cfg.Threshold)
	}
	if cfg.KeepFeedback < 1 {
		cfg.KeepFeedback = state.DefaultKeepFeedback
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{
		capacity:     cfg.Capacity,
		threshold:    cfg.Threshold,
		keepFeedback: cfg.KeepFeedback,
		logger:       logger,
	}, nil
}

// Ratio returns the current usage ratio for the state.
func (g *Guard) Ratio(s *state.State) float64 {
	return float64(s.EstimateUsage()) / float64(g.capacity)
}

// Monitor checks usage without mutating the state. At or over the
// threshold it asks for reconstruction; it never reports overflow, since
// overflow is only known after a compaction attempt.
func (g *Guard) Monitor(s *state.State) Decision {
	ratio := g.Ratio(s)
	if ratio >= g.threshold {
		return Decision{UsageRatio: ratio, Action: ActionReconstruct}
	}
	return Decision{UsageRatio: ratio, Action: ActionNone}
}

// Reconstruct compacts the state and re-evaluates. The compaction keeps
// the current plan, current draft, most recent feedback, and the full
// citation list; reapplying to an already-compacted state is a no-op and
// yields the same ratio. If the post-compaction ratio is still at or over
// the threshold the decision is ActionOverflow.
func (g *Guard) Reconstruct(s *state.State) Decision {
	before := g.Ratio(s)
	changed := s.Compact(g.keepFeedback)
	after := g.Ratio(s)

	g.logger.Info("state compacted",
		zap.String("request_id", s.Request().ID),
		zap.Float64("ratio_before", before),
		zap.Float64("ratio_after", after),
		zap.Bool("changed", changed),
	)

	if after >= g.threshold {
		g.logger.Warn("compaction could not relieve pressure",
			zap.String("request_id", s.Request().ID),
			zap.Float64("ratio", after),
			zap.Float64("threshold", g.threshold),
		)
		return Decision{UsageRatio: after, Action: ActionOverflow}
	}
	return Decision{UsageRatio: after, Action: ActionNone}
}
