// Package state holds the per-request mutable context threaded through
// every stage of a run. A State has exactly one writer, the engine;
// stages see it only through the read-only View.
package state

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fyrsmithlabs/forged/internal/pipeline"
)

// CharsPerToken approximates token usage from character counts.
const CharsPerToken = 4

// Compaction limits.
const (
	// DefaultKeepFeedback is how many recent feedback entries compaction
	// retains verbatim.
	DefaultKeepFeedback = 1

	// summaryEntryChars is the per-entry excerpt length folded into the
	// compaction summary.
	summaryEntryChars = 80

	// maxSummaryChars caps the rolling compaction summary.
	maxSummaryChars = 500
)

// FeedbackSource identifies which stage produced a feedback entry.
type FeedbackSource string

const (
	FeedbackVerifier  FeedbackSource = "verifier"
	FeedbackValidator FeedbackSource = "validator"
)

// Feedback is one entry in the append-only feedback history.
type Feedback struct {
	Source    FeedbackSource `json:"source"`
	Text      string         `json:"text"`
	Iteration int            `json:"iteration"`
	At        time.Time      `json:"at"`
}

// State is the shared mutable context for one request. It is not safe for
// concurrent mutation; the engine mutates it sequentially between stage
// calls, and stages only read it.
type State struct {
	req *pipeline.Request

	warmStart string
	facts     []string
	feedback  []Feedback
	plans     []pipeline.Plan
	drafts    []pipeline.Draft

	// citations is the union of every citation made across all plans and
	// drafts; it survives compaction in full.
	citations []string
	citedSet  map[string]struct{}

	knowledgeVersion string
	knowledgeChars   int

	reasoningIters  int
	validationIters int

	summary string
}

// New creates a State for the given request.
func New(req *pipeline.Request) *State {
	return &State{
		req:      req,
		citedSet: make(map[string]struct{}),
	}
}

// Request returns the request this state belongs to.
func (s *State) Request() *pipeline.Request { return s.req }

// AttachKnowledge records the size and version of the knowledge snapshot
// taken for this run. The snapshot content counts toward usage but lives
// with the snapshot itself.
func (s *State) AttachKnowledge(version string, approxChars int) {
	s.knowledgeVersion = version
	s.knowledgeChars = approxChars
}

// SetWarmStart seeds the state with a learned strategy.
func (s *State) SetWarmStart(strategy string) { s.warmStart = strategy }

// AddFact appends an accumulated fact.
func (s *State) AddFact(fact string) {
	if strings.TrimSpace(fact) == "" {
		return
	}
	s.facts = append(s.facts, fact)
}

// AppendFeedback appends to the feedback history, stamped with the current
// reasoning iteration. The history is append-only; compaction may fold old
// entries into the summary but never rewrites surviving ones.
func (s *State) AppendFeedback(source FeedbackSource, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	s.feedback = append(s.feedback, Feedback{
		Source:    source,
		Text:      text,
		Iteration: s.reasoningIters,
		At:        time.Now().UTC(),
	})
}

// RecordPlan appends a plan to the retained history and merges its
// citations into the run-wide citation list.
func (s *State) RecordPlan(p pipeline.Plan) {
	s.plans = append(s.plans, p)
	s.mergeCitations(p.Citations)
}

// RecordDraft appends a draft to the retained history and merges its
// citations into the run-wide citation list.
func (s *State) RecordDraft(d pipeline.Draft) {
	s.drafts = append(s.drafts, d)
	s.mergeCitations(d.Citations)
}

func (s *State) mergeCitations(cites []string) {
	for _, c := range cites {
		if _, ok := s.citedSet[c]; ok {
			continue
		}
		s.citedSet[c] = struct{}{}
		s.citations = append(s.citations, c)
	}
}

// IncrementReasoning bumps the reasoning counter and returns the new value.
func (s *State) IncrementReasoning() int {
	s.reasoningIters++
	return s.reasoningIters
}

// IncrementValidation bumps the validation counter and returns the new value.
func (s *State) IncrementValidation() int {
	s.validationIters++
	return s.validationIters
}

// ReasoningIterations returns the completed reasoning iteration count.
func (s *State) ReasoningIterations() int { return s.reasoningIters }

// ValidationIterations returns the completed validation iteration count.
func (s *State) ValidationIterations() int { return s.validationIters }

// CurrentPlan returns the newest plan, or nil before the first pass.
func (s *State) CurrentPlan() *pipeline.Plan {
	if len(s.plans) == 0 {
		return nil
	}
	p := s.plans[len(s.plans)-1]
	return &p
}

// CurrentDraft returns the newest draft, or nil before the first pass.
func (s *State) CurrentDraft() *pipeline.Draft {
	if len(s.drafts) == 0 {
		return nil
	}
	d := s.drafts[len(s.drafts)-1]
	return &d
}

// Citations returns the run-wide citation list in first-seen order.
func (s *State) Citations() []string { return s.citations }

// LastFeedback returns the most recent feedback entry, or nil.
func (s *State) LastFeedback() *Feedback {
	if len(s.feedback) == 0 {
		return nil
	}
	f := s.feedback[len(s.feedback)-1]
	return &f
}

// FeedbackTail returns up to n most recent feedback entries, oldest first.
func (s *State) FeedbackTail(n int) []Feedback {
	if n <= 0 || len(s.feedback) == 0 {
		return nil
	}
	if n > len(s.feedback) {
		n = len(s.feedback)
	}
	tail := make([]Feedback, n)
	copy(tail, s.feedback[len(s.feedback)-n:])
	return tail
}

// FeedbackLen returns the current feedback history length.
func (s *State) FeedbackLen() int { return len(s.feedback) }

// Summary returns the rolling compaction summary, empty if never compacted.
func (s *State) Summary() string { return s.summary }

// EstimateUsage returns the estimated token footprint of the state,
// including the knowledge snapshot block carried for the run.
func (s *State) EstimateUsage() int {
	chars := s.knowledgeChars + len(s.warmStart) + len(s.summary)
	for _, f := range s.facts {
		chars += len(f)
	}
	for _, fb := range s.feedback {
		chars += len(fb.Text)
	}
	for _, p := range s.plans {
		for _, st := range p.Steps {
			chars += len(st.Objective) + len(st.Approach)
		}
		for _, c := range p.Citations {
			chars += len(c)
		}
	}
	for _, d := range s.drafts {
		chars += len(d.Content)
		for _, c := range d.Citations {
			chars += len(c)
		}
	}
	for _, c := range s.citations {
		chars += len(c)
	}
	return chars / CharsPerToken
}

// Compact reduces the state's footprint while preserving the current plan,
// the current draft, the most recent keepFeedback feedback entries, and the
// full citation list. Older feedback is folded into the rolling summary;
// superseded plans and drafts are dropped. Reapplying to an
// already-compacted state is a no-op. Returns true if anything changed.
func (s *State) Compact(keepFeedback int) bool {
	if keepFeedback < 1 {
		keepFeedback = DefaultKeepFeedback
	}

	changed := false

	if n := len(s.plans); n > 1 {
		s.plans = s.plans[n-1:]
		changed = true
	}
	if n := len(s.drafts); n > 1 {
		s.drafts = s.drafts[n-1:]
		changed = true
	}

	if len(s.feedback) > keepFeedback {
		dropped := s.feedback[:len(s.feedback)-keepFeedback]
		s.feedback = s.feedback[len(s.feedback)-keepFeedback:]
		s.foldIntoSummary(dropped)
		changed = true
	}

	return changed
}

// foldIntoSummary appends truncated excerpts of dropped feedback to the
// rolling summary, keeping it under maxSummaryChars.
func (s *State) foldIntoSummary(dropped []Feedback) {
	var b strings.Builder
	b.WriteString(s.summary)
	for _, f := range dropped {
		text := truncateRunes(f.Text, summaryEntryChars)
		if b.Len() > 0 {
			b.WriteString(" | ")
		}
		b.WriteString(text)
	}
	summary := b.String()
	if len(summary) > maxSummaryChars {
		cut := len(summary) - maxSummaryChars
		// Advance to the next rune boundary so the tail stays valid UTF-8.
		for cut < len(summary) && !utf8.RuneStart(summary[cut]) {
			cut++
		}
		summary = summary[cut:]
	}
	s.summary = summary
}

// truncateRunes caps text at n bytes without splitting a rune.
func truncateRunes(text string, n int) string {
	if len(text) <= n {
		return text
	}
	for n > 0 && !utf8.RuneStart(text[n]) {
		n--
	}
	return text[:n]
}

// Export is a point-in-time account of a finished run's state, used for
// the audit trail.
type Export struct {
	RequestID        string                `json:"request_id"`
	Query            string                `json:"query"`
	Workflow         pipeline.WorkflowType `json:"workflow"`
	Domain           string                `json:"domain"`
	KnowledgeVersion string                `json:"knowledge_version,omitempty"`
	Facts            []string              `json:"facts,omitempty"`
	FeedbackCount    int                   `json:"feedback_count"`
	Citations        []string              `json:"citations,omitempty"`
	ReasoningIters   int                   `json:"reasoning_iterations"`
	ValidationIters  int                   `json:"validation_iterations"`
	EstimatedTokens  int                   `json:"estimated_tokens"`
	Summary          string                `json:"summary,omitempty"`
}

// Export captures the state for the audit trail.
func (s *State) Export() Export {
	return Export{
		RequestID:        s.req.ID,
		Query:            s.req.Query,
		Workflow:         s.req.Workflow,
		Domain:           s.req.Domain,
		KnowledgeVersion: s.knowledgeVersion,
		Facts:            s.facts,
		FeedbackCount:    len(s.feedback),
		Citations:        s.citations,
		ReasoningIters:   s.reasoningIters,
		ValidationIters:  s.validationIters,
		EstimatedTokens:  s.EstimateUsage(),
		Summary:          s.summary,
	}
}
