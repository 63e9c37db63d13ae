// Package stages defines the capability contracts the engine drives:
// plan, implement, verify, validate. Backends supply the intelligence;
// the engine owns iteration, budgets, and termination.
//
// Backends never retry themselves. A failure, timeout, or malformed
// output surfaces as a capability error and ends the run.
package stages

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/forged/internal/knowledge"
	"github.com/fyrsmithlabs/forged/internal/pipeline"
	"github.com/fyrsmithlabs/forged/internal/state"
)

var (
	// ErrCapability marks failures inside a stage backend: transport
	// errors, timeouts, or outputs that don't conform to the contract.
	ErrCapability = errors.New("capability stage failure")

	// ErrNilBackend indicates a missing backend.
	ErrNilBackend = errors.New("stage backend cannot be nil")
)

// Stage names used in errors, logs, and metrics.
const (
	StagePlan      = "plan"
	StageImplement = "implement"
	StageVerify    = "verify"
	StageValidate  = "validate"
)

// Input carries the read-only context every stage call receives.
type Input struct {
	Request   *pipeline.Request
	View      state.View
	Knowledge *knowledge.Snapshot
}

// Planner decomposes the request into an ordered plan.
type Planner interface {
	Plan(ctx context.Context, in Input) (*pipeline.Plan, error)
}

// Implementer produces a draft that follows the plan.
type Implementer interface {
	Implement(ctx context.Context, in Input, plan *pipeline.Plan) (*pipeline.Draft, error)
}

// Verifier scores a draft for grounding, coherence, and query fit.
type Verifier interface {
	Verify(ctx context.Context, in Input, draft *pipeline.Draft, plan *pipeline.Plan) (*pipeline.ScoreReport, error)
}

// Validator renders the final accept/reject judgment on a draft.
type Validator interface {
	Validate(ctx context.Context, in Input, draft *pipeline.Draft, score *pipeline.ScoreReport) (*pipeline.ValidationReport, error)
}

// Backend bundles the four capabilities a run needs.
type Backend interface {
	Planner
	Implementer
	Verifier
	Validator
}

// Timeouts holds the per-stage deadlines. Zero means no deadline for
// that stage.
type Timeouts struct {
	Plan      time.Duration
	Implement time.Duration
	Verify    time.Duration
	Validate  time.Duration
}

// DefaultTimeouts are generous enough for remote backends while still
// bounding a stuck stage.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Plan:      60 * time.Second,
		Implement: 120 * time.Second,
		Verify:    60 * time.Second,
		Validate:  60 * time.Second,
	}
}

// WithTimeout wraps a backend so every stage call runs under its own
// deadline and every output passes conformance checks. Violations come
// back as ErrCapability; the caller decides what the run becomes.
func WithTimeout(backend Backend, timeouts Timeouts) (Backend, error) {
	if backend == nil {
		return nil, ErrNilBackend
	}
	return &timeoutBackend{inner: backend, timeouts: timeouts}, nil
}

type timeoutBackend struct {
	inner    Backend
	timeouts Timeouts
}

func stageContext(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// capabilityErr normalizes a stage failure. Parent-context cancellation
// passes through untouched so the engine can classify it as Cancelled
// rather than a stage fault.
func capabilityErr(ctx context.Context, stage string, err error) error {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return err
	}
	if errors.Is(err, ErrCapability) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrCapability, stage, err)
}

func (b *timeoutBackend) Plan(ctx context.Context, in Input) (*pipeline.Plan, error) {
	sctx, cancel := stageContext(ctx, b.timeouts.Plan)
	defer cancel()

	plan, err := b.inner.Plan(sctx, in)
	if err != nil {
		return nil, capabilityErr(ctx, StagePlan, err)
	}
	if err := conformPlan(plan, in.Knowledge); err != nil {
		return nil, err
	}
	return plan, nil
}

func (b *timeoutBackend) Implement(ctx context.Context, in Input, plan *pipeline.Plan) (*pipeline.Draft, error) {
	sctx, cancel := stageContext(ctx, b.timeouts.Implement)
	defer cancel()

	draft, err := b.inner.Implement(sctx, in, plan)
	if err != nil {
		return nil, capabilityErr(ctx, StageImplement, err)
	}
	if err := conformDraft(draft, in.Knowledge); err != nil {
		return nil, err
	}
	return draft, nil
}

func (b *timeoutBackend) Verify(ctx context.Context, in Input, draft *pipeline.Draft, plan *pipeline.Plan) (*pipeline.ScoreReport, error) {
	sctx, cancel := stageContext(ctx, b.timeouts.Verify)
	defer cancel()

	score, err := b.inner.Verify(sctx, in, draft, plan)
	if err != nil {
		return nil, capabilityErr(ctx, StageVerify, err)
	}
	if err := conformScore(score); err != nil {
		return nil, err
	}
	return score, nil
}

func (b *timeoutBackend) Validate(ctx context.Context, in Input, draft *pipeline.Draft, score *pipeline.ScoreReport) (*pipeline.ValidationReport, error) {
	sctx, cancel := stageContext(ctx, b.timeouts.Validate)
	defer cancel()

	report, err := b.inner.Validate(sctx, in, draft, score)
	if err != nil {
		return nil, capabilityErr(ctx, StageValidate, err)
	}
	if err := conformValidation(report); err != nil {
		return nil, err
	}
	return report, nil
}

// conformPlan checks the planner honored the output contract: a valid
// plan whose citations all point at sources the run was actually given.
func conformPlan(plan *pipeline.Plan, snap *knowledge.Snapshot) error {
	if plan == nil {
		return fmt.Errorf("%w: %s: nil plan", ErrCapability, StagePlan)
	}
	if err := plan.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCapability, StagePlan, err)
	}
	for _, id := range plan.Citations {
		if snap == nil || !snap.HasSource(id) {
			return fmt.Errorf("%w: %s: citation %q not in knowledge snapshot", ErrCapability, StagePlan, id)
		}
	}
	return nil
}

// conformDraft checks content is present and every citation points at a
// source the run was actually given.
func conformDraft(draft *pipeline.Draft, snap *knowledge.Snapshot) error {
	if draft == nil {
		return fmt.Errorf("%w: %s: nil draft", ErrCapability, StageImplement)
	}
	if draft.Content == "" {
		return fmt.Errorf("%w: %s: empty draft content", ErrCapability, StageImplement)
	}
	for _, id := range draft.Citations {
		if snap == nil || !snap.HasSource(id) {
			return fmt.Errorf("%w: %s: citation %q not in knowledge snapshot", ErrCapability, StageImplement, id)
		}
	}
	return nil
}

func conformScore(score *pipeline.ScoreReport) error {
	if score == nil {
		return fmt.Errorf("%w: %s: nil score report", ErrCapability, StageVerify)
	}
	if err := score.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCapability, StageVerify, err)
	}
	return nil
}

func conformValidation(report *pipeline.ValidationReport) error {
	if report == nil {
		return fmt.Errorf("%w: %s: nil validation report", ErrCapability, StageValidate)
	}
	if err := report.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCapability, StageValidate, err)
	}
	return nil
}
