package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/forged/internal/audit"
	"github.com/fyrsmithlabs/forged/internal/budget"
	"github.com/fyrsmithlabs/forged/internal/events"
	"github.com/fyrsmithlabs/forged/internal/knowledge"
	"github.com/fyrsmithlabs/forged/internal/patterns"
	"github.com/fyrsmithlabs/forged/internal/pipeline"
	"github.com/fyrsmithlabs/forged/internal/secrets"
	"github.com/fyrsmithlabs/forged/internal/sink"
	"github.com/fyrsmithlabs/forged/internal/stages"
	"github.com/fyrsmithlabs/forged/internal/state"
)

var (
	ErrNilBackend   = errors.New("stage backend is required")
	ErrNilGuard     = errors.New("budget guard is required")
	ErrNilKnowledge = errors.New("knowledge provider is required")
	ErrNilSink      = errors.New("sink is required")
	ErrNilRequest   = errors.New("request cannot be nil")
)

// Deps wires the engine's collaborators. Backend, Guard, Knowledge, and
// Sink are required; the rest degrade to no-ops when absent.
type Deps struct {
	Backend   stages.Backend
	Guard     *budget.Guard
	Knowledge knowledge.Provider
	Sink      sink.Sink
	Patterns  patterns.Store
	Emitter   events.Emitter
	Scrubber  secrets.Scrubber
	Trail     audit.Trail
	Logger    *zap.Logger
	Metrics   *Metrics
}

// Engine runs requests through the pipeline. It is safe for concurrent
// Run calls: each run owns its state, and the only shared collaborator,
// the pattern store, supports concurrent reads and append-only writes.
type Engine struct {
	cfg      Config
	backend  stages.Backend
	guard    *budget.Guard
	know     knowledge.Provider
	sink     sink.Sink
	store    patterns.Store
	emitter  events.Emitter
	scrubber secrets.Scrubber
	trail    audit.Trail
	logger   *zap.Logger
	metrics  *Metrics
}

// New creates an Engine, validating the config and required deps.
func New(cfg Config, deps Deps) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Backend == nil {
		return nil, ErrNilBackend
	}
	if deps.Guard == nil {
		return nil, ErrNilGuard
	}
	if deps.Knowledge == nil {
		return nil, ErrNilKnowledge
	}
	if deps.Sink == nil {
		return nil, ErrNilSink
	}
	if deps.Emitter == nil {
		deps.Emitter = events.Noop{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Engine{
		cfg:      cfg,
		backend:  deps.Backend,
		guard:    deps.Guard,
		know:     deps.Knowledge,
		sink:     deps.Sink,
		store:    deps.Patterns,
		emitter:  deps.Emitter,
		scrubber: deps.Scrubber,
		trail:    deps.Trail,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
	}, nil
}

// run carries one request's working set through the FSM.
type run struct {
	req  *pipeline.Request
	st   *state.State
	snap *knowledge.Snapshot

	plan   *pipeline.Plan
	draft  *pipeline.Draft
	score  *pipeline.ScoreReport
	report *pipeline.ValidationReport

	bestDraft *pipeline.Draft
	bestScore *pipeline.ScoreReport

	res    *Result
	logger *zap.Logger
}

func (r *run) input() stages.Input {
	return stages.Input{Request: r.req, View: r.st.View(), Knowledge: r.snap}
}

func (r *run) diag(format string, args ...any) {
	r.res.Diagnostics = append(r.res.Diagnostics, fmt.Sprintf(format, args...))
}

func (r *run) terminate(kind Kind, err error) Outcome {
	r.res.Kind = kind
	r.res.Err = err
	return OutcomeTerminate
}

// Run executes one request through the pipeline and always returns a
// Result; the Kind says what happened. Requests never share state.
func (e *Engine) Run(ctx context.Context, req *pipeline.Request) *Result {
	start := time.Now()

	if req == nil {
		return &Result{Kind: KindCapabilityError, Err: ErrNilRequest, Duration: time.Since(start)}
	}

	r := &run{
		req: req,
		st:  state.New(req),
		res: &Result{RunID: req.ID},
		logger: e.logger.With(
			zap.String("run_id", req.ID),
			zap.String("workflow", string(req.Workflow)),
			zap.String("domain", req.Domain),
		),
	}

	snap, err := e.know.Snapshot(ctx, req.Domain)
	if err != nil {
		r.terminate(KindCapabilityError, fmt.Errorf("knowledge snapshot: %w", err))
		return e.finish(ctx, r, start)
	}
	r.snap = snap
	r.st.AttachKnowledge(snap.Version, snap.Chars())

	e.warmStart(ctx, r)
	e.emitter.RunStarted(req.ID, req.Workflow, req.Domain)
	r.logger.Info("run started",
		zap.Int("knowledge_sources", len(snap.Sources)),
		zap.String("knowledge_version", snap.Version),
	)

	for phase := PhasePlanning; phase != PhaseTerminated; {
		var outcome Outcome
		switch phase {
		case PhasePlanning:
			outcome = e.planning(ctx, r)
		case PhaseImplementing:
			outcome = e.implementing(ctx, r)
		case PhaseVerifying:
			outcome = e.verifying(ctx, r)
		case PhaseValidating:
			outcome = e.validating(ctx, r)
		case PhaseLearning:
			outcome = e.learning(ctx, r)
		default:
			outcome = r.terminate(KindCapabilityError, fmt.Errorf("unknown phase %q", phase))
		}
		phase = Next(phase, outcome)
	}

	return e.finish(ctx, r, start)
}

// warmStart seeds the state from the pattern store. Misses and errors
// are a cold start, never a failure.
func (e *Engine) warmStart(ctx context.Context, r *run) {
	if e.store == nil {
		return
	}
	matches, err := e.store.Lookup(ctx, patterns.LookupQuery{
		Text:     r.req.Query,
		Workflow: r.req.Workflow,
		Domain:   r.req.Domain,
	})
	if err != nil {
		r.logger.Warn("pattern lookup failed, cold start", zap.Error(err))
		r.diag("pattern lookup failed: %v", err)
		e.metrics.PatternLookup(ctx, false)
		return
	}
	if len(matches) == 0 {
		e.metrics.PatternLookup(ctx, false)
		return
	}
	best := matches[0]
	r.st.SetWarmStart(best.Pattern.Strategy)
	r.diag("warm start from pattern %s (similarity %.2f)", best.Pattern.ID, best.Similarity)
	e.metrics.PatternLookup(ctx, true)
}

// gate runs the checks owed before every state-growing stage call:
// external cancellation, then the budget guard. A false return means the
// run terminated and the outcome is final.
func (e *Engine) gate(ctx context.Context, r *run) (Outcome, bool) {
	if ctx.Err() != nil {
		return r.terminate(KindCancelled, ctx.Err()), false
	}

	d := e.guard.Monitor(r.st)
	if d.Action != budget.ActionReconstruct {
		return "", true
	}

	before := d.UsageRatio
	d = e.guard.Reconstruct(r.st)
	e.emitter.Compacted(r.req.ID, r.req.Workflow, before, d.UsageRatio)
	e.metrics.Compaction(ctx)
	r.diag("compacted state: usage %.2f -> %.2f", before, d.UsageRatio)

	if d.Action == budget.ActionOverflow {
		r.diag("compaction left usage at %.2f, over threshold", d.UsageRatio)
		return r.terminate(KindResourceExhausted,
			fmt.Errorf("state usage %.2f still over budget after compaction", d.UsageRatio)), false
	}
	return "", true
}

// fail classifies a stage error: parent cancellation becomes Cancelled,
// everything else is a CapabilityError. Stage errors are never retried.
func (r *run) fail(ctx context.Context, stage string, err error) Outcome {
	if ctx.Err() != nil {
		return r.terminate(KindCancelled, ctx.Err())
	}
	return r.terminate(KindCapabilityError, fmt.Errorf("%s: %w", stage, err))
}

func (e *Engine) planning(ctx context.Context, r *run) Outcome {
	// Cumulative ceiling: reached either by straight verify failures or
	// by validation rejections routing back here.
	if r.st.ReasoningIterations() >= e.cfg.ReasoningMaxIterations {
		r.res.Draft = r.bestDraft
		r.res.Score = r.bestScore
		r.diag("reasoning ceiling %d reached without passing score", e.cfg.ReasoningMaxIterations)
		return r.terminate(KindQualityThresholdNotMet, nil)
	}

	if out, ok := e.gate(ctx, r); !ok {
		return out
	}

	began := time.Now()
	plan, err := e.backend.Plan(ctx, r.input())
	if err != nil {
		return r.fail(ctx, stages.StagePlan, err)
	}
	r.plan = plan
	r.st.RecordPlan(*plan)
	e.stageDone(ctx, r, stages.StagePlan, began)
	return OutcomeAdvance
}

func (e *Engine) implementing(ctx context.Context, r *run) Outcome {
	if out, ok := e.gate(ctx, r); !ok {
		return out
	}

	began := time.Now()
	draft, err := e.backend.Implement(ctx, r.input(), r.plan)
	if err != nil {
		return r.fail(ctx, stages.StageImplement, err)
	}
	r.draft = draft
	r.st.RecordDraft(*draft)
	e.stageDone(ctx, r, stages.StageImplement, began)
	return OutcomeAdvance
}

func (e *Engine) verifying(ctx context.Context, r *run) Outcome {
	if out, ok := e.gate(ctx, r); !ok {
		return out
	}

	began := time.Now()
	score, err := e.backend.Verify(ctx, r.input(), r.draft, r.plan)
	if err != nil {
		return r.fail(ctx, stages.StageVerify, err)
	}

	// The gate decision belongs to the engine, not the backend.
	score.Pass = score.Overall >= e.cfg.PassThreshold
	r.score = score
	if r.bestScore == nil || score.Overall > r.bestScore.Overall {
		r.bestScore = score
		r.bestDraft = r.draft
	}

	r.st.IncrementReasoning()
	r.res.Iterations.Reasoning = r.st.ReasoningIterations()
	e.stageDone(ctx, r, stages.StageVerify, began)

	if score.Pass {
		r.logger.Info("draft passed verification",
			zap.Float64("overall", score.Overall),
			zap.Int("iteration", r.st.ReasoningIterations()),
		)
		return OutcomeAdvance
	}

	r.st.AppendFeedback(state.FeedbackVerifier, score.Feedback)
	r.logger.Info("draft failed verification",
		zap.Float64("overall", score.Overall),
		zap.Float64("threshold", e.cfg.PassThreshold),
		zap.Int("iteration", r.st.ReasoningIterations()),
	)
	return OutcomeRetry
}

func (e *Engine) validating(ctx context.Context, r *run) Outcome {
	if out, ok := e.gate(ctx, r); !ok {
		return out
	}

	began := time.Now()
	report, err := e.backend.Validate(ctx, r.input(), r.draft, r.score)
	if err != nil {
		return r.fail(ctx, stages.StageValidate, err)
	}
	r.report = report
	r.st.IncrementValidation()
	r.res.Iterations.Validation = r.st.ValidationIterations()
	e.stageDone(ctx, r, stages.StageValidate, began)

	if report.Approved {
		return OutcomeAdvance
	}

	r.st.AppendFeedback(state.FeedbackValidator, report.Feedback)
	r.logger.Info("draft rejected by validation",
		zap.Int("issues", len(report.Issues)),
		zap.Int("iteration", r.st.ValidationIterations()),
	)

	if r.st.ValidationIterations() >= e.cfg.ValidationMaxIterations {
		r.diag("validation ceiling %d exhausted", e.cfg.ValidationMaxIterations)
		return r.terminate(KindValidationRejected, nil)
	}
	return OutcomeRetry
}

// learning publishes the approved draft and records the learned pattern.
// The sink write is all-or-nothing; the pattern append and audit record
// are best-effort and follow only a successful write.
func (e *Engine) learning(ctx context.Context, r *run) Outcome {
	if ctx.Err() != nil {
		return r.terminate(KindCancelled, ctx.Err())
	}

	draft := r.draft
	if e.scrubber != nil && e.scrubber.IsEnabled() {
		if sr := e.scrubber.Scrub(draft.Content); sr.TotalFindings > 0 {
			scrubbed := *draft
			scrubbed.Content = sr.Scrubbed
			draft = &scrubbed
			r.diag("scrubbed %d secret(s) before publish", sr.TotalFindings)
		}
	}

	ref, err := e.sink.Write(ctx, draft, sink.Meta{
		RunID:    r.req.ID,
		Query:    r.req.Query,
		Workflow: r.req.Workflow,
		Domain:   r.req.Domain,
		Score:    r.score.Overall,
	})
	if err != nil {
		return r.fail(ctx, "sink", err)
	}
	r.res.OutputRef = &ref
	r.res.Draft = draft
	r.res.Kind = KindSuccess

	e.learn(ctx, r)
	return OutcomeAdvance
}

// learn appends a pattern when the run is worth remembering: a strong
// score, or a success that needed more than one reasoning pass (the
// recovery itself is the lesson). Failures never change the Result.
func (e *Engine) learn(ctx context.Context, r *run) {
	if e.store == nil {
		return
	}
	if r.score.Overall < e.cfg.LearningThreshold && r.st.ReasoningIterations() <= 1 {
		return
	}

	sig := patterns.Signature(r.req.Query)
	p, err := pipeline.NewPattern(sig, strategyOf(r.plan), r.score.Overall/pipeline.MaxScore, r.req.Workflow, r.req.Domain)
	if err != nil {
		r.logger.Warn("pattern construction failed", zap.Error(err))
		return
	}
	if err := e.store.Append(ctx, p); err != nil {
		r.logger.Warn("pattern append failed", zap.Error(err))
		r.diag("pattern append failed: %v", err)
		return
	}
	r.diag("learned pattern %s", p.ID)
}

// strategyOf summarizes the winning plan as a stored strategy.
func strategyOf(plan *pipeline.Plan) string {
	var parts []string
	for _, step := range plan.Steps {
		parts = append(parts, step.Objective+": "+step.Approach)
	}
	return strings.Join(parts, "; ")
}

func (e *Engine) stageDone(ctx context.Context, r *run, stage string, began time.Time) {
	took := time.Since(began)
	e.emitter.StageCompleted(r.req.ID, r.req.Workflow, stage, r.st.ReasoningIterations(), took)
	e.metrics.StageCompleted(ctx, stage, took)
}

// finish settles the Result, emits the terminal event, and appends the
// audit record.
func (e *Engine) finish(ctx context.Context, r *run, start time.Time) *Result {
	res := r.res
	res.Duration = time.Since(start)

	if res.Draft == nil {
		res.Draft = r.draft
	}
	if res.Score == nil {
		res.Score = r.score
	}
	if res.Report == nil {
		res.Report = r.report
	}

	var overall float64
	if res.Score != nil {
		overall = res.Score.Overall
	}

	e.emitter.RunFinished(r.req.ID, r.req.Workflow, string(res.Kind), overall, res.Iterations.Reasoning)
	e.metrics.RunFinished(ctx, res.Kind, res.Iterations.Reasoning)

	if e.trail != nil {
		rec := audit.Record{
			Kind:       string(res.Kind),
			Score:      overall,
			DurationMs: res.Duration.Milliseconds(),
			Run:        r.st.Export(),
		}
		if res.OutputRef != nil {
			rec.Output = res.OutputRef.Location
		}
		if res.Err != nil {
			rec.Error = res.Err.Error()
		}
		if err := e.trail.Append(rec); err != nil {
			r.logger.Warn("audit append failed", zap.Error(err))
		}
	}

	r.logger.Info("run finished",
		zap.String("kind", string(res.Kind)),
		zap.Float64("score", overall),
		zap.Int("reasoning_iterations", res.Iterations.Reasoning),
		zap.Int("validation_iterations", res.Iterations.Validation),
		zap.Duration("took", res.Duration),
	)
	return res
}
