package state

import "github.com/fyrsmithlabs/forged/internal/pipeline"

// View is the read-only window stages receive. It exposes no mutators;
// stages hand feedback back through their typed outputs and the engine
// alone appends it to the State.
type View struct {
	s *State
}

// View returns a read-only view of the state.
func (s *State) View() View { return View{s: s} }

// RequestID returns the owning request's ID.
func (v View) RequestID() string { return v.s.req.ID }

// Query returns the request query text.
func (v View) Query() string { return v.s.req.Query }

// Workflow returns the request workflow type.
func (v View) Workflow() pipeline.WorkflowType { return v.s.req.Workflow }

// Domain returns the request domain id.
func (v View) Domain() string { return v.s.req.Domain }

// Attachments returns the request attachment references.
func (v View) Attachments() []string { return v.s.req.Attachments }

// WarmStart returns the seeded strategy, empty on a cold start.
func (v View) WarmStart() string { return v.s.warmStart }

// Facts returns the accumulated facts.
func (v View) Facts() []string { return v.s.facts }

// Iteration returns the current 1-based reasoning iteration.
func (v View) Iteration() int { return v.s.reasoningIters + 1 }

// CurrentPlan returns the newest plan, or nil before the first pass.
func (v View) CurrentPlan() *pipeline.Plan { return v.s.CurrentPlan() }

// CurrentDraft returns the newest draft, or nil before the first pass.
func (v View) CurrentDraft() *pipeline.Draft { return v.s.CurrentDraft() }

// LastFeedback returns the most recent feedback entry, or nil.
func (v View) LastFeedback() *Feedback { return v.s.LastFeedback() }

// FeedbackTail returns up to n most recent feedback entries, oldest first.
func (v View) FeedbackTail(n int) []Feedback { return v.s.FeedbackTail(n) }

// Summary returns the rolling compaction summary.
func (v View) Summary() string { return v.s.summary }
