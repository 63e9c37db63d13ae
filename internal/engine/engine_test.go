package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/forged/internal/audit"
	"github.com/fyrsmithlabs/forged/internal/budget"
	"github.com/fyrsmithlabs/forged/internal/knowledge"
	"github.com/fyrsmithlabs/forged/internal/patterns"
	"github.com/fyrsmithlabs/forged/internal/pipeline"
	"github.com/fyrsmithlabs/forged/internal/sink"
	"github.com/fyrsmithlabs/forged/internal/stages"
	"github.com/fyrsmithlabs/forged/internal/state"
)

// fakeBackend scripts the four stages with call counting. Unset
// functions fall back to conforming defaults.
type fakeBackend struct {
	mu sync.Mutex

	planFn      func(ctx context.Context, in stages.Input) (*pipeline.Plan, error)
	implementFn func(ctx context.Context, in stages.Input, plan *pipeline.Plan) (*pipeline.Draft, error)
	verifyFn    func(ctx context.Context, in stages.Input, draft *pipeline.Draft, plan *pipeline.Plan) (*pipeline.ScoreReport, error)
	validateFn  func(ctx context.Context, in stages.Input, draft *pipeline.Draft, score *pipeline.ScoreReport) (*pipeline.ValidationReport, error)

	planCalls, implementCalls, verifyCalls, validateCalls int
}

func (b *fakeBackend) Plan(ctx context.Context, in stages.Input) (*pipeline.Plan, error) {
	b.mu.Lock()
	b.planCalls++
	b.mu.Unlock()
	if b.planFn != nil {
		return b.planFn(ctx, in)
	}
	return &pipeline.Plan{
		Steps:      []pipeline.PlanStep{{Objective: "answer the query", Approach: "summarize the top source"}},
		Citations:  []string{"guide.md"},
		Confidence: 0.8,
		Iteration:  in.View.Iteration(),
	}, nil
}

func (b *fakeBackend) Implement(ctx context.Context, in stages.Input, plan *pipeline.Plan) (*pipeline.Draft, error) {
	b.mu.Lock()
	b.implementCalls++
	b.mu.Unlock()
	if b.implementFn != nil {
		return b.implementFn(ctx, in, plan)
	}
	return &pipeline.Draft{
		Content:   "A goroutine is a lightweight thread managed by the Go runtime.",
		Citations: []string{"guide.md"},
		Iteration: in.View.Iteration(),
	}, nil
}

func (b *fakeBackend) Verify(ctx context.Context, in stages.Input, draft *pipeline.Draft, plan *pipeline.Plan) (*pipeline.ScoreReport, error) {
	b.mu.Lock()
	b.verifyCalls++
	b.mu.Unlock()
	if b.verifyFn != nil {
		return b.verifyFn(ctx, in, draft, plan)
	}
	return scored(9.5), nil
}

func (b *fakeBackend) Validate(ctx context.Context, in stages.Input, draft *pipeline.Draft, score *pipeline.ScoreReport) (*pipeline.ValidationReport, error) {
	b.mu.Lock()
	b.validateCalls++
	b.mu.Unlock()
	if b.validateFn != nil {
		return b.validateFn(ctx, in, draft, score)
	}
	return &pipeline.ValidationReport{Approved: true, PublishReady: true}, nil
}

func scored(overall float64) *pipeline.ScoreReport {
	return &pipeline.ScoreReport{
		Grounding: overall,
		Coherence: overall,
		QueryFit:  overall,
		Overall:   overall,
		Feedback:  "tighten the citations",
	}
}

type stubKnowledge struct {
	snap *knowledge.Snapshot
	err  error
}

func (s *stubKnowledge) Snapshot(_ context.Context, domain string) (*knowledge.Snapshot, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.snap, nil
}

func (s *stubKnowledge) Domains(context.Context) ([]string, error) {
	return []string{s.snap.Domain}, nil
}

type recordSink struct {
	writes []sink.Meta
	drafts []*pipeline.Draft
	err    error
}

func (s *recordSink) Write(_ context.Context, draft *pipeline.Draft, meta sink.Meta) (sink.Ref, error) {
	if s.err != nil {
		return sink.Ref{}, s.err
	}
	s.writes = append(s.writes, meta)
	s.drafts = append(s.drafts, draft)
	return sink.Ref{ID: meta.RunID, Location: "/tmp/out.md"}, nil
}

type recordStore struct {
	appended  []*pipeline.Pattern
	matches   []patterns.Match
	lookupErr error
	appendErr error
}

func (s *recordStore) Append(_ context.Context, p *pipeline.Pattern) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	s.appended = append(s.appended, p)
	return nil
}

func (s *recordStore) Lookup(context.Context, patterns.LookupQuery) ([]patterns.Match, error) {
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	return s.matches, nil
}

func (s *recordStore) Close() error { return nil }

// recordEmitter captures compaction events for the budget scenarios.
type recordEmitter struct {
	mu          sync.Mutex
	compactions [][2]float64
	finished    []string
}

func (e *recordEmitter) RunStarted(string, pipeline.WorkflowType, string) {}
func (e *recordEmitter) StageCompleted(string, pipeline.WorkflowType, string, int, time.Duration) {
}
func (e *recordEmitter) Compacted(_ string, _ pipeline.WorkflowType, before, after float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compactions = append(e.compactions, [2]float64{before, after})
}
func (e *recordEmitter) RunFinished(_ string, _ pipeline.WorkflowType, kind string, _ float64, _ int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finished = append(e.finished, kind)
}

func testSnapshot() *knowledge.Snapshot {
	return &knowledge.Snapshot{
		Domain: "golang",
		Sources: []knowledge.Source{
			{ID: "guide.md", Content: "Goroutines are lightweight threads.", PriorityRank: 1},
		},
		Version: "abc123",
		TakenAt: time.Now().UTC(),
	}
}

type testDeps struct {
	backend *fakeBackend
	sink    *recordSink
	store   *recordStore
	emitter *recordEmitter
	guard   *budget.Guard
}

func newTestEngine(t *testing.T, cfg Config, d *testDeps) *Engine {
	t.Helper()
	if d.backend == nil {
		d.backend = &fakeBackend{}
	}
	if d.sink == nil {
		d.sink = &recordSink{}
	}
	if d.emitter == nil {
		d.emitter = &recordEmitter{}
	}
	if d.guard == nil {
		g, err := budget.NewGuard(budget.Config{Capacity: 1 << 20, Threshold: 0.99}, nil)
		require.NoError(t, err)
		d.guard = g
	}
	deps := Deps{
		Backend:   d.backend,
		Guard:     d.guard,
		Knowledge: &stubKnowledge{snap: testSnapshot()},
		Sink:      d.sink,
		Emitter:   d.emitter,
	}
	if d.store != nil {
		deps.Patterns = d.store
	}
	eng, err := New(cfg, deps)
	require.NoError(t, err)
	return eng
}

func testRequest(t *testing.T) *pipeline.Request {
	t.Helper()
	req, err := pipeline.NewRequest("explain the goroutine scheduler", pipeline.WorkflowExplain, "golang")
	require.NoError(t, err)
	return req
}

func TestNew_Validation(t *testing.T) {
	guard, err := budget.NewGuard(budget.DefaultConfig(), nil)
	require.NoError(t, err)
	know := &stubKnowledge{snap: testSnapshot()}

	tests := []struct {
		name    string
		cfg     Config
		deps    Deps
		wantErr error
	}{
		{
			name:    "missing backend",
			cfg:     DefaultConfig(),
			deps:    Deps{Guard: guard, Knowledge: know, Sink: &recordSink{}},
			wantErr: ErrNilBackend,
		},
		{
			name:    "missing guard",
			cfg:     DefaultConfig(),
			deps:    Deps{Backend: &fakeBackend{}, Knowledge: know, Sink: &recordSink{}},
			wantErr: ErrNilGuard,
		},
		{
			name:    "missing knowledge",
			cfg:     DefaultConfig(),
			deps:    Deps{Backend: &fakeBackend{}, Guard: guard, Sink: &recordSink{}},
			wantErr: ErrNilKnowledge,
		},
		{
			name:    "missing sink",
			cfg:     DefaultConfig(),
			deps:    Deps{Backend: &fakeBackend{}, Guard: guard, Knowledge: know},
			wantErr: ErrNilSink,
		},
		{
			name:    "zero reasoning ceiling",
			cfg:     Config{ValidationMaxIterations: 2, PassThreshold: 9, LearningThreshold: 8},
			deps:    Deps{Backend: &fakeBackend{}, Guard: guard, Knowledge: know, Sink: &recordSink{}},
			wantErr: ErrInvalidIterations,
		},
		{
			name:    "threshold out of range",
			cfg:     Config{ReasoningMaxIterations: 5, ValidationMaxIterations: 2, PassThreshold: 11, LearningThreshold: 8},
			deps:    Deps{Backend: &fakeBackend{}, Guard: guard, Knowledge: know, Sink: &recordSink{}},
			wantErr: ErrInvalidThreshold,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, tt.deps)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

// Scenario A: a 9.5 on the first verify call succeeds in one iteration.
func TestRun_PassFirstIteration(t *testing.T) {
	d := &testDeps{}
	eng := newTestEngine(t, DefaultConfig(), d)

	res := eng.Run(context.Background(), testRequest(t))

	assert.Equal(t, KindSuccess, res.Kind)
	assert.Equal(t, 1, res.Iterations.Reasoning)
	assert.Equal(t, 1, res.Iterations.Validation)
	require.NotNil(t, res.OutputRef)
	assert.Len(t, d.sink.writes, 1)
	assert.Equal(t, 1, d.backend.verifyCalls)
	assert.True(t, res.Score.Pass)
}

// Scenario B: five straight 5.0 scores against a ceiling of 5 end the
// run with the best draft and exactly five verify calls.
func TestRun_QualityCeiling(t *testing.T) {
	d := &testDeps{backend: &fakeBackend{
		verifyFn: func(context.Context, stages.Input, *pipeline.Draft, *pipeline.Plan) (*pipeline.ScoreReport, error) {
			return scored(5.0), nil
		},
	}}
	eng := newTestEngine(t, DefaultConfig(), d)

	res := eng.Run(context.Background(), testRequest(t))

	assert.Equal(t, KindQualityThresholdNotMet, res.Kind)
	assert.Equal(t, 5, res.Iterations.Reasoning)
	assert.Equal(t, 5, d.backend.verifyCalls)
	assert.Equal(t, 5, d.backend.planCalls)
	assert.Nil(t, res.OutputRef)
	assert.Empty(t, d.sink.writes)
	require.NotNil(t, res.Draft, "best draft must be carried")
	require.NotNil(t, res.Score)
	assert.InDelta(t, 5.0, res.Score.Overall, 0.001)
	assert.False(t, res.Score.Pass)
}

// If verify passes on iteration k, the loop exits at exactly k.
func TestRun_ExactIterationExit(t *testing.T) {
	calls := 0
	d := &testDeps{backend: &fakeBackend{
		verifyFn: func(context.Context, stages.Input, *pipeline.Draft, *pipeline.Plan) (*pipeline.ScoreReport, error) {
			calls++
			if calls < 3 {
				return scored(6.0), nil
			}
			return scored(9.2), nil
		},
	}}
	eng := newTestEngine(t, DefaultConfig(), d)

	res := eng.Run(context.Background(), testRequest(t))

	assert.Equal(t, KindSuccess, res.Kind)
	assert.Equal(t, 3, res.Iterations.Reasoning)
	assert.Equal(t, 3, d.backend.verifyCalls, "no extra verify call after the pass")
	assert.Equal(t, 3, d.backend.planCalls)
}

// The best-scoring draft wins even when a later iteration scores worse.
func TestRun_BestDraftRetained(t *testing.T) {
	overall := []float64{4.0, 7.5, 3.0}
	calls := 0
	d := &testDeps{backend: &fakeBackend{
		verifyFn: func(context.Context, stages.Input, *pipeline.Draft, *pipeline.Plan) (*pipeline.ScoreReport, error) {
			s := scored(overall[calls%len(overall)])
			calls++
			return s, nil
		},
	}}
	cfg := DefaultConfig()
	cfg.ReasoningMaxIterations = 3
	eng := newTestEngine(t, cfg, d)

	res := eng.Run(context.Background(), testRequest(t))

	assert.Equal(t, KindQualityThresholdNotMet, res.Kind)
	require.NotNil(t, res.Score)
	assert.InDelta(t, 7.5, res.Score.Overall, 0.001)
}

// Scenario C: two validation rejections against a ceiling of 2.
func TestRun_ValidationRejected(t *testing.T) {
	d := &testDeps{backend: &fakeBackend{
		validateFn: func(context.Context, stages.Input, *pipeline.Draft, *pipeline.ScoreReport) (*pipeline.ValidationReport, error) {
			return &pipeline.ValidationReport{
				Approved: false,
				Issues:   []pipeline.Issue{{Description: "missing source attribution", Severity: pipeline.SeverityMajor}},
				Feedback: "attribute every claim",
			}, nil
		},
	}}
	eng := newTestEngine(t, DefaultConfig(), d)

	res := eng.Run(context.Background(), testRequest(t))

	assert.Equal(t, KindValidationRejected, res.Kind)
	assert.Equal(t, 2, res.Iterations.Validation)
	assert.Equal(t, 2, d.backend.validateCalls)
	assert.Empty(t, d.sink.writes)
	require.NotNil(t, res.Report, "last validation report must be carried")
	assert.Len(t, res.Report.Issues, 1)
}

// A validation rejection re-enters the reasoning loop without resetting
// the reasoning counter, so the cumulative ceiling still binds.
func TestRun_CumulativeReasoningCeiling(t *testing.T) {
	d := &testDeps{backend: &fakeBackend{
		validateFn: func(context.Context, stages.Input, *pipeline.Draft, *pipeline.ScoreReport) (*pipeline.ValidationReport, error) {
			return &pipeline.ValidationReport{Approved: false, Feedback: "not yet"}, nil
		},
	}}
	cfg := DefaultConfig()
	cfg.ReasoningMaxIterations = 2
	cfg.ValidationMaxIterations = 5
	eng := newTestEngine(t, cfg, d)

	res := eng.Run(context.Background(), testRequest(t))

	// Two passing reasoning passes, two rejections, then the cumulative
	// reasoning ceiling ends the run before a third pass.
	assert.Equal(t, KindQualityThresholdNotMet, res.Kind)
	assert.Equal(t, 2, res.Iterations.Reasoning)
	assert.Equal(t, 2, d.backend.validateCalls)
	assert.Empty(t, d.sink.writes)
}

// Termination bound: an always-failing verify ends the run after
// exactly the configured ceiling, whatever it is.
func TestRun_AlwaysTerminates(t *testing.T) {
	for _, ceiling := range []int{1, 2, 5, 8} {
		d := &testDeps{backend: &fakeBackend{
			verifyFn: func(context.Context, stages.Input, *pipeline.Draft, *pipeline.Plan) (*pipeline.ScoreReport, error) {
				return scored(0.0), nil
			},
		}}
		cfg := DefaultConfig()
		cfg.ReasoningMaxIterations = ceiling
		eng := newTestEngine(t, cfg, d)

		res := eng.Run(context.Background(), testRequest(t))

		assert.Equal(t, KindQualityThresholdNotMet, res.Kind)
		assert.Equal(t, ceiling, res.Iterations.Reasoning)
		assert.Equal(t, ceiling, d.backend.verifyCalls)
	}
}

// Scenario E: a cancel observed mid-implement ends the run as Cancelled
// with no sink write and no pattern write.
func TestRun_CancelMidImplement(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := &testDeps{
		store: &recordStore{},
		backend: &fakeBackend{
			implementFn: func(ctx context.Context, in stages.Input, plan *pipeline.Plan) (*pipeline.Draft, error) {
				cancel()
				return nil, ctx.Err()
			},
		},
	}
	eng := newTestEngine(t, DefaultConfig(), d)

	res := eng.Run(ctx, testRequest(t))

	assert.Equal(t, KindCancelled, res.Kind)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Empty(t, d.sink.writes, "cancelled run must not write to the sink")
	assert.Empty(t, d.store.appended, "cancelled run must not write a pattern")
}

// A cancel raised between verify and validate is observed at the next
// stage boundary.
func TestRun_CancelBetweenStages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := &testDeps{backend: &fakeBackend{
		verifyFn: func(context.Context, stages.Input, *pipeline.Draft, *pipeline.Plan) (*pipeline.ScoreReport, error) {
			cancel()
			return scored(9.5), nil
		},
	}}
	eng := newTestEngine(t, DefaultConfig(), d)

	res := eng.Run(ctx, testRequest(t))

	assert.Equal(t, KindCancelled, res.Kind)
	assert.Equal(t, 0, d.backend.validateCalls, "no stage call after the cancel")
	assert.Empty(t, d.sink.writes)
}

func TestRun_CapabilityError(t *testing.T) {
	d := &testDeps{backend: &fakeBackend{
		planFn: func(context.Context, stages.Input) (*pipeline.Plan, error) {
			return nil, errors.New("backend unreachable")
		},
	}}
	eng := newTestEngine(t, DefaultConfig(), d)

	res := eng.Run(context.Background(), testRequest(t))

	assert.Equal(t, KindCapabilityError, res.Kind)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "backend unreachable")
	assert.Equal(t, 1, d.backend.planCalls, "stage errors are never retried")
	assert.Empty(t, d.sink.writes)
}

func TestRun_KnowledgeFailureIsCapabilityError(t *testing.T) {
	guard, err := budget.NewGuard(budget.DefaultConfig(), nil)
	require.NoError(t, err)
	eng, err := New(DefaultConfig(), Deps{
		Backend:   &fakeBackend{},
		Guard:     guard,
		Knowledge: &stubKnowledge{snap: testSnapshot(), err: errors.New("knowledge dir missing")},
		Sink:      &recordSink{},
	})
	require.NoError(t, err)

	res := eng.Run(context.Background(), testRequest(t))

	assert.Equal(t, KindCapabilityError, res.Kind)
	assert.Contains(t, res.Err.Error(), "knowledge dir missing")
}

// Scenario D: crossing the budget threshold triggers a compaction before
// the next stage call and brings usage back under it.
func TestRun_CompactionRelievesPressure(t *testing.T) {
	// Feedback-heavy iterations against a small capacity: one pass's
	// working set fits, but the accumulated history of superseded drafts
	// and old feedback crosses the threshold, and dropping them brings
	// usage back down.
	draftText := strings.Repeat("expand the draft with runtime scheduler detail. ", 21)
	feedbackText := strings.Repeat("cover the preemption path and cite the guide. ", 20)
	d := &testDeps{
		emitter: &recordEmitter{},
		backend: &fakeBackend{
			implementFn: func(ctx context.Context, in stages.Input, plan *pipeline.Plan) (*pipeline.Draft, error) {
				return &pipeline.Draft{Content: draftText, Citations: []string{"guide.md"}, Iteration: in.View.Iteration()}, nil
			},
			verifyFn: func(context.Context, stages.Input, *pipeline.Draft, *pipeline.Plan) (*pipeline.ScoreReport, error) {
				s := scored(5.0)
				s.Feedback = feedbackText
				return s, nil
			},
		},
	}
	guard, err := budget.NewGuard(budget.Config{Capacity: 1000, Threshold: 0.70}, nil)
	require.NoError(t, err)
	d.guard = guard

	eng := newTestEngine(t, DefaultConfig(), d)
	res := eng.Run(context.Background(), testRequest(t))

	// The run ends on quality, not on resources: compaction worked.
	assert.Equal(t, KindQualityThresholdNotMet, res.Kind)
	require.NotEmpty(t, d.emitter.compactions, "guard must compact before a stage call")
	for _, c := range d.emitter.compactions {
		assert.GreaterOrEqual(t, c[0], 0.70, "compaction only triggers at the threshold")
		assert.Less(t, c[1], 0.70, "post-compaction usage must be under the threshold")
	}
}

// When compaction cannot relieve pressure, the run aborts instead of
// looping.
func TestRun_ResourceExhausted(t *testing.T) {
	know := &stubKnowledge{snap: &knowledge.Snapshot{
		Domain: "golang",
		Sources: []knowledge.Source{
			// Snapshot content is not compactable; a tiny capacity can
			// never recover.
			{ID: "guide.md", Content: strings.Repeat("x", 4000), PriorityRank: 1},
		},
		TakenAt: time.Now().UTC(),
	}}
	guard, err := budget.NewGuard(budget.Config{Capacity: 100, Threshold: 0.70}, nil)
	require.NoError(t, err)
	backend := &fakeBackend{}
	eng, err := New(DefaultConfig(), Deps{
		Backend:   backend,
		Guard:     guard,
		Knowledge: know,
		Sink:      &recordSink{},
	})
	require.NoError(t, err)

	res := eng.Run(context.Background(), testRequest(t))

	assert.Equal(t, KindResourceExhausted, res.Kind)
	assert.Equal(t, 0, backend.planCalls, "no stage call after overflow")
}

// Idempotence: a second guard pass over an already-compacted state is a
// no-op with the same ratio.
func TestGuard_CompactionIdempotent(t *testing.T) {
	guard, err := budget.NewGuard(budget.Config{Capacity: 1000, Threshold: 0.70}, nil)
	require.NoError(t, err)

	req := testRequest(t)
	st := stateWithBulk(t, req)

	first := guard.Reconstruct(st)
	second := guard.Reconstruct(st)
	assert.InDelta(t, first.UsageRatio, second.UsageRatio, 0.0001)
	assert.Equal(t, first.Action, second.Action)
}

func TestRun_WarmStartSeedsPlanner(t *testing.T) {
	pat, err := pipeline.NewPattern("goroutine scheduler", "lead with the runtime model", 0.9, pipeline.WorkflowExplain, "golang")
	require.NoError(t, err)

	var seen string
	d := &testDeps{
		store: &recordStore{matches: []patterns.Match{{Pattern: *pat, Similarity: 0.8}}},
		backend: &fakeBackend{
			planFn: func(ctx context.Context, in stages.Input) (*pipeline.Plan, error) {
				seen = in.View.WarmStart()
				return &pipeline.Plan{
					Steps:      []pipeline.PlanStep{{Objective: "answer", Approach: "follow the warm start"}},
					Confidence: 0.9,
					Iteration:  in.View.Iteration(),
				}, nil
			},
		},
	}
	eng := newTestEngine(t, DefaultConfig(), d)

	res := eng.Run(context.Background(), testRequest(t))

	assert.Equal(t, KindSuccess, res.Kind)
	assert.Equal(t, "lead with the runtime model", seen)
}

func TestRun_PatternLookupFailureNonFatal(t *testing.T) {
	d := &testDeps{store: &recordStore{lookupErr: errors.New("store offline")}}
	eng := newTestEngine(t, DefaultConfig(), d)

	res := eng.Run(context.Background(), testRequest(t))

	assert.Equal(t, KindSuccess, res.Kind)
	assert.NotEmpty(t, res.Diagnostics)
}

func TestRun_LearnPolicy(t *testing.T) {
	tests := []struct {
		name       string
		overall    []float64
		wantStored bool
	}{
		{
			// First-try success over the learning threshold is stored.
			name:       "strong first pass",
			overall:    []float64{9.5},
			wantStored: true,
		},
		{
			// First-try success under the learning threshold is not.
			name:       "weak first pass",
			overall:    []float64{7.5},
			wantStored: false,
		},
		{
			// A recovery is stored even when the final score is modest.
			name:       "multi-iteration recovery",
			overall:    []float64{5.0, 7.5},
			wantStored: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			d := &testDeps{
				store: &recordStore{},
				backend: &fakeBackend{
					verifyFn: func(context.Context, stages.Input, *pipeline.Draft, *pipeline.Plan) (*pipeline.ScoreReport, error) {
						s := scored(tt.overall[calls])
						calls++
						return s, nil
					},
				},
			}
			cfg := DefaultConfig()
			cfg.PassThreshold = 7.0
			eng := newTestEngine(t, cfg, d)

			res := eng.Run(context.Background(), testRequest(t))
			require.Equal(t, KindSuccess, res.Kind)

			if tt.wantStored {
				require.Len(t, d.store.appended, 1)
				p := d.store.appended[0]
				assert.Equal(t, pipeline.WorkflowExplain, p.Workflow)
				assert.Equal(t, "golang", p.Domain)
				assert.InDelta(t, tt.overall[len(tt.overall)-1]/10, p.Effectiveness, 0.001)
			} else {
				assert.Empty(t, d.store.appended)
			}
		})
	}
}

func TestRun_PatternAppendFailureNonFatal(t *testing.T) {
	d := &testDeps{store: &recordStore{appendErr: errors.New("store offline")}}
	eng := newTestEngine(t, DefaultConfig(), d)

	res := eng.Run(context.Background(), testRequest(t))

	assert.Equal(t, KindSuccess, res.Kind, "learn failure never changes the result")
	require.NotNil(t, res.OutputRef)
}

func TestRun_AuditTrailRecordsRun(t *testing.T) {
	path := t.TempDir() + "/trail.jsonl"
	trail, err := audit.NewFileTrail(path)
	require.NoError(t, err)
	defer trail.Close()

	guard, err := budget.NewGuard(budget.DefaultConfig(), nil)
	require.NoError(t, err)
	eng, err := New(DefaultConfig(), Deps{
		Backend:   &fakeBackend{},
		Guard:     guard,
		Knowledge: &stubKnowledge{snap: testSnapshot()},
		Sink:      &recordSink{},
		Trail:     trail,
	})
	require.NoError(t, err)

	res := eng.Run(context.Background(), testRequest(t))
	require.Equal(t, KindSuccess, res.Kind)

	records, err := audit.Records(path)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, string(KindSuccess), records[0].Kind)
	assert.Equal(t, 1, records[0].Run.ReasoningIters)
}

func TestRun_ConcurrentRunsIndependent(t *testing.T) {
	d := &testDeps{}
	eng := newTestEngine(t, DefaultConfig(), d)

	const n = 8
	results := make(chan *Result, n)
	for i := 0; i < n; i++ {
		go func() {
			results <- eng.Run(context.Background(), testRequest(t))
		}()
	}
	for i := 0; i < n; i++ {
		res := <-results
		assert.Equal(t, KindSuccess, res.Kind)
		assert.Equal(t, 1, res.Iterations.Reasoning)
	}
}

// stateWithBulk builds a state heavy enough to cross a 0.70 ratio at
// capacity 1000.
func stateWithBulk(t *testing.T, req *pipeline.Request) *state.State {
	t.Helper()
	st := state.New(req)
	filler := strings.Repeat("feedback about citation coverage and structure. ", 30)
	for i := 0; i < 3; i++ {
		st.RecordPlan(pipeline.Plan{
			Steps:     []pipeline.PlanStep{{Objective: "answer", Approach: filler}},
			Iteration: i + 1,
		})
		st.RecordDraft(pipeline.Draft{Content: filler, Iteration: i + 1})
		st.AppendFeedback(state.FeedbackVerifier, filler)
		st.IncrementReasoning()
	}
	return st
}
