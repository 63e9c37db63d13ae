package durable

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/forged/internal/knowledge"
	"github.com/fyrsmithlabs/forged/internal/patterns"
	"github.com/fyrsmithlabs/forged/internal/pipeline"
	"github.com/fyrsmithlabs/forged/internal/sink"
	"github.com/fyrsmithlabs/forged/internal/stages"
	"github.com/fyrsmithlabs/forged/internal/state"
)

// Activities wraps the stage backend and stores for workflow use. Each
// stage activity rebuilds the run state from its serialized input, so
// activities stay stateless between calls.
type Activities struct {
	backend stages.Backend
	know    knowledge.Provider
	sink    sink.Sink
	store   patterns.Store
	logger  *zap.Logger
}

// NewActivities wires the capability backend and stores. The pattern
// store may be nil; warm starts and learning are then skipped.
func NewActivities(backend stages.Backend, know knowledge.Provider, snk sink.Sink, store patterns.Store, logger *zap.Logger) (*Activities, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if know == nil {
		return nil, fmt.Errorf("knowledge provider is required")
	}
	if snk == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Activities{backend: backend, know: know, sink: snk, store: store, logger: logger}, nil
}

// rebuild reconstitutes the stage input the backend expects from the
// workflow's serialized view of the run.
func (a *Activities) rebuild(ctx context.Context, in StageInput) (stages.Input, error) {
	req := &pipeline.Request{
		ID:          in.RequestID,
		Query:       in.Query,
		Workflow:    in.Workflow,
		Domain:      in.Domain,
		Attachments: in.Attachments,
	}
	st := state.New(req)
	if in.WarmStart != "" {
		st.SetWarmStart(in.WarmStart)
	}
	for _, fb := range in.Feedback {
		st.AppendFeedback(state.FeedbackSource(fb.Source), fb.Text)
	}
	for i := 1; i < in.Iteration; i++ {
		st.IncrementReasoning()
	}

	snap, err := a.know.Snapshot(ctx, in.Domain)
	if err != nil {
		return stages.Input{}, fmt.Errorf("knowledge snapshot: %w", err)
	}
	st.AttachKnowledge(snap.Version, snap.Chars())

	return stages.Input{Request: req, View: st.View(), Knowledge: snap}, nil
}

// PlanActivity runs the planning stage.
func (a *Activities) PlanActivity(ctx context.Context, in StageInput) (*pipeline.Plan, error) {
	input, err := a.rebuild(ctx, in)
	if err != nil {
		return nil, err
	}
	return a.backend.Plan(ctx, input)
}

// ImplementActivity runs the implementation stage.
func (a *Activities) ImplementActivity(ctx context.Context, in ImplementInput) (*pipeline.Draft, error) {
	input, err := a.rebuild(ctx, in.Stage)
	if err != nil {
		return nil, err
	}
	return a.backend.Implement(ctx, input, in.Plan)
}

// VerifyActivity runs the verification stage.
func (a *Activities) VerifyActivity(ctx context.Context, in VerifyInput) (*pipeline.ScoreReport, error) {
	input, err := a.rebuild(ctx, in.Stage)
	if err != nil {
		return nil, err
	}
	return a.backend.Verify(ctx, input, in.Draft, in.Plan)
}

// ValidateActivity runs the validation stage.
func (a *Activities) ValidateActivity(ctx context.Context, in ValidateInput) (*pipeline.ValidationReport, error) {
	input, err := a.rebuild(ctx, in.Stage)
	if err != nil {
		return nil, err
	}
	return a.backend.Validate(ctx, input, in.Draft, in.Score)
}

// WarmStartActivity looks up the strongest matching pattern's strategy.
// Lookup failures return an empty seed, never an error; a cold start is
// always acceptable.
func (a *Activities) WarmStartActivity(ctx context.Context, in WarmStartInput) (string, error) {
	if a.store == nil {
		return "", nil
	}
	matches, err := a.store.Lookup(ctx, patterns.LookupQuery{
		Text:     in.Query,
		Workflow: in.Workflow,
		Domain:   in.Domain,
		Limit:    1,
	})
	if err != nil {
		a.logger.Warn("warm start lookup failed", zap.Error(err))
		return "", nil
	}
	if len(matches) == 0 {
		return "", nil
	}
	return matches[0].Pattern.Strategy, nil
}

// PublishActivity writes the approved draft to the sink.
func (a *Activities) PublishActivity(ctx context.Context, in PublishInput) (*sink.Ref, error) {
	ref, err := a.sink.Write(ctx, in.Draft, sink.Meta{
		RunID:    in.RequestID,
		Query:    in.Query,
		Workflow: in.Workflow,
		Domain:   in.Domain,
		Score:    in.Score,
	})
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

// LearnActivity appends the winning strategy as a pattern. Failures are
// swallowed; learning never fails a published run.
func (a *Activities) LearnActivity(ctx context.Context, in LearnInput) error {
	if a.store == nil {
		return nil
	}
	sig := patterns.Signature(in.Query)
	p, err := pipeline.NewPattern(sig, in.Strategy, in.Effectiveness, in.Workflow, in.Domain)
	if err != nil {
		a.logger.Warn("pattern construction failed", zap.Error(err))
		return nil
	}
	if err := a.store.Append(ctx, p); err != nil {
		a.logger.Warn("pattern append failed", zap.Error(err))
	}
	return nil
}
