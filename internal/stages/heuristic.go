package stages

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/forged/internal/knowledge"
	"github.com/fyrsmithlabs/forged/internal/patterns"
	"github.com/fyrsmithlabs/forged/internal/pipeline"
)

// Heuristic tuning.
const (
	// maxPlanCitations bounds how many sources a plan leans on.
	maxPlanCitations = 3

	// minUsefulDraftChars is the validator's floor for a publishable draft.
	minUsefulDraftChars = 200

	// maxUsefulDraftChars is the ceiling above which coherence suffers.
	maxUsefulDraftChars = 20000

	// excerptChars is how much of a source the implementer quotes per
	// section, grown per iteration so revisions add substance.
	excerptChars = 240

	// publishFloor is the verification score below which the validator
	// refuses to approve regardless of other checks.
	publishFloor = 6.0
)

// HeuristicBackend is a deterministic, fully offline backend. It builds
// plans from the ranked knowledge sources, assembles drafts that cite
// them, scores drafts with measurable proxies, and validates with fixed
// checks. Revisions deepen source coverage, so iteration makes measurable
// progress without any model in the loop.
type HeuristicBackend struct {
	logger *zap.Logger
}

// NewHeuristicBackend creates the offline backend.
func NewHeuristicBackend(logger *zap.Logger) *HeuristicBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HeuristicBackend{logger: logger}
}

// planShapes gives each workflow its section skeleton.
var planShapes = map[pipeline.WorkflowType][]string{
	pipeline.WorkflowExplain: {
		"Define the core concept",
		"Walk through the mechanics",
		"Give a concrete example",
		"Note common pitfalls",
	},
	pipeline.WorkflowReview: {
		"Restate what is under review",
		"Assess strengths",
		"Identify issues ordered by severity",
		"Recommend next actions",
	},
	pipeline.WorkflowGuide: {
		"State the goal and prerequisites",
		"Lay out the steps in order",
		"Call out verification checkpoints",
		"List troubleshooting hints",
	},
	pipeline.WorkflowResearch: {
		"Frame the question",
		"Survey the evidence",
		"Compare alternatives",
		"Summarize findings and open questions",
	},
}

// Plan builds an ordered plan from the workflow shape and the top-ranked
// knowledge sources.
func (h *HeuristicBackend) Plan(ctx context.Context, in Input) (*pipeline.Plan, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	shape := planShapes[in.Request.Workflow]
	if shape == nil {
		shape = planShapes[pipeline.WorkflowExplain]
	}

	citations := topSourceIDs(in.Knowledge, maxPlanCitations)

	approach := "reason from the request itself"
	if len(citations) > 0 {
		approach = "ground in " + strings.Join(citations, ", ")
	}
	if ws := in.View.WarmStart(); ws != "" {
		approach += "; apply prior strategy: " + firstLine(ws)
	}
	if fb := in.View.LastFeedback(); fb != nil {
		approach += "; address feedback: " + firstLine(fb.Text)
	}

	steps := make([]pipeline.PlanStep, len(shape))
	for i, objective := range shape {
		steps[i] = pipeline.PlanStep{Objective: objective, Approach: approach}
	}

	confidence := 0.5
	if len(citations) > 0 {
		confidence = 0.9
	}

	return &pipeline.Plan{
		Steps:      steps,
		Citations:  citations,
		Confidence: confidence,
		NeedsWeb:   in.Knowledge == nil || len(in.Knowledge.Sources) == 0,
		Iteration:  in.View.Iteration(),
	}, nil
}

// Implement assembles a sectioned draft following the plan, quoting the
// ranked sources. Each iteration widens and deepens source coverage.
func (h *HeuristicBackend) Implement(ctx context.Context, in Input, plan *pipeline.Plan) (*pipeline.Draft, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	iter := in.View.Iteration()
	sources := rankedSources(in.Knowledge)

	// Coverage grows with iteration: revisions cite more of the corpus.
	useN := maxPlanCitations + (iter - 1)
	if useN > len(sources) {
		useN = len(sources)
	}
	quote := excerptChars * iter

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", strings.TrimSpace(in.Request.Query))

	if fb := in.View.LastFeedback(); fb != nil {
		fmt.Fprintf(&b, "_Revision %d, addressing: %s_\n\n", iter, firstLine(fb.Text))
	}

	cited := make([]string, 0, useN)
	for i, step := range plan.Steps {
		fmt.Fprintf(&b, "## %s\n\n", step.Objective)
		if len(sources) > 0 {
			src := sources[i%len(sources)]
			fmt.Fprintf(&b, "%s\n\n[source: %s]\n\n", excerpt(src.Content, quote), src.ID)
			if !containsString(cited, src.ID) && len(cited) < useN {
				cited = append(cited, src.ID)
			}
		} else {
			fmt.Fprintf(&b, "%s.\n\n", step.Approach)
		}
	}

	// Deepen coverage beyond the plan's sections on later iterations.
	for _, src := range sources {
		if len(cited) >= useN {
			break
		}
		if containsString(cited, src.ID) {
			continue
		}
		fmt.Fprintf(&b, "## Further reading: %s\n\n%s\n\n[source: %s]\n\n",
			src.ID, excerpt(src.Content, quote), src.ID)
		cited = append(cited, src.ID)
	}

	return &pipeline.Draft{
		Content:   b.String(),
		Citations: cited,
		Iteration: iter,
	}, nil
}

// Verify scores the draft on measurable proxies: grounding is source
// coverage, coherence is structural shape, query fit is term coverage.
func (h *HeuristicBackend) Verify(ctx context.Context, in Input, draft *pipeline.Draft, plan *pipeline.Plan) (*pipeline.ScoreReport, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	report := &pipeline.ScoreReport{
		Grounding: groundingScore(draft, in.Knowledge),
		Coherence: coherenceScore(draft.Content),
		QueryFit:  queryFitScore(in.Request.Query, draft.Content),
	}
	report.Weigh()
	report.Clamp()
	report.Pass = report.Overall >= pipeline.DefaultPassThreshold
	report.Feedback = verifyFeedback(report)

	h.logger.Debug("heuristic verification",
		zap.Float64("grounding", report.Grounding),
		zap.Float64("coherence", report.Coherence),
		zap.Float64("query_fit", report.QueryFit),
		zap.Float64("overall", report.Overall),
	)
	return report, nil
}

// Validate applies fixed publishability checks. Blocking issues (major
// or critical) reject the draft.
func (h *HeuristicBackend) Validate(ctx context.Context, in Input, draft *pipeline.Draft, score *pipeline.ScoreReport) (*pipeline.ValidationReport, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var issues []pipeline.Issue

	if len(draft.Content) < minUsefulDraftChars {
		issues = append(issues, pipeline.Issue{
			Description: fmt.Sprintf("draft is %d chars, below the %d char floor", len(draft.Content), minUsefulDraftChars),
			Severity:    pipeline.SeverityMajor,
		})
	}
	if in.Knowledge != nil && len(in.Knowledge.Sources) > 0 && len(draft.Citations) == 0 {
		issues = append(issues, pipeline.Issue{
			Description: "knowledge sources were provided but the draft cites none",
			Severity:    pipeline.SeverityMajor,
		})
	}
	if score != nil && score.Overall < publishFloor {
		issues = append(issues, pipeline.Issue{
			Description: fmt.Sprintf("verification score %.1f is below the publish floor %.1f", score.Overall, publishFloor),
			Severity:    pipeline.SeverityMajor,
		})
	}
	for _, marker := range []string{"TODO", "FIXME", "[placeholder]"} {
		if strings.Contains(draft.Content, marker) {
			issues = append(issues, pipeline.Issue{
				Description: fmt.Sprintf("unresolved %s marker in draft", marker),
				Severity:    pipeline.SeverityMinor,
			})
		}
	}

	report := &pipeline.ValidationReport{Issues: issues}
	report.Approved = len(report.BlockingIssues()) == 0
	report.PublishReady = report.Approved && len(issues) == 0

	if report.Approved {
		report.Feedback = "approved for delivery"
	} else {
		descs := make([]string, 0, len(issues))
		for _, is := range report.BlockingIssues() {
			descs = append(descs, is.Description)
		}
		report.Feedback = strings.Join(descs, "; ")
	}
	return report, nil
}

func topSourceIDs(snap *knowledge.Snapshot, n int) []string {
	if snap == nil {
		return nil
	}
	ids := snap.IDs()
	if len(ids) > n {
		ids = ids[:n]
	}
	return ids
}

func rankedSources(snap *knowledge.Snapshot) []knowledge.Source {
	if snap == nil {
		return nil
	}
	return snap.Sources
}

func groundingScore(draft *pipeline.Draft, snap *knowledge.Snapshot) float64 {
	if snap == nil || len(snap.Sources) == 0 {
		// Nothing to ground in; middling by construction.
		return pipeline.MaxScore * 0.6
	}
	covered := 0
	for _, src := range snap.Sources {
		if containsString(draft.Citations, src.ID) {
			covered++
		}
	}
	coverage := float64(covered) / float64(len(snap.Sources))
	return pipeline.MaxScore * coverage
}

func coherenceScore(content string) float64 {
	score := 0.0
	if strings.HasPrefix(content, "# ") {
		score += 2.5
	}
	if strings.Count(content, "\n## ") >= 2 {
		score += 2.5
	}
	if strings.Count(content, "\n\n") >= 3 {
		score += 2.5
	}
	if n := len(content); n >= minUsefulDraftChars && n <= maxUsefulDraftChars {
		score += 2.5
	}
	return score
}

func queryFitScore(query, content string) float64 {
	terms := patterns.KeyTerms(query)
	if len(terms) == 0 {
		return pipeline.MaxScore
	}
	lower := strings.ToLower(content)
	matched := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			matched++
		}
	}
	return pipeline.MaxScore * float64(matched) / float64(len(terms))
}

func verifyFeedback(r *pipeline.ScoreReport) string {
	var weak []string
	if r.Grounding < 8 {
		weak = append(weak, "cite more of the provided sources")
	}
	if r.Coherence < 8 {
		weak = append(weak, "tighten structure: title, sections, paragraphs")
	}
	if r.QueryFit < 8 {
		weak = append(weak, "cover the query's key terms directly")
	}
	if len(weak) == 0 {
		return "meets the quality bar"
	}
	return strings.Join(weak, "; ")
}

func excerpt(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	if i := strings.LastIndexByte(cut, ' '); i > n/2 {
		cut = cut[:i]
	}
	return cut + "…"
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
