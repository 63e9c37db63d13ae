// Package events publishes run lifecycle notifications for external
// observers. Emission is best-effort: a lost event never fails a run.
package events

import (
	"time"

	"github.com/fyrsmithlabs/forged/internal/pipeline"
)

// Event types.
const (
	TypeRunStarted     = "run_started"
	TypeStageCompleted = "stage_completed"
	TypeCompacted      = "compacted"
	TypeRunFinished    = "run_finished"
)

// Event is the wire payload for every lifecycle notification.
type Event struct {
	Type      string    `json:"type"`
	RunID     string    `json:"run_id"`
	Workflow  string    `json:"workflow"`
	Domain    string    `json:"domain,omitempty"`
	Stage     string    `json:"stage,omitempty"`
	Iteration int       `json:"iteration,omitempty"`
	TookMs    int64     `json:"took_ms,omitempty"`
	Before    float64   `json:"before,omitempty"`
	After     float64   `json:"after,omitempty"`
	Kind      string    `json:"kind,omitempty"`
	Score     float64   `json:"score,omitempty"`
	At        time.Time `json:"at"`
}

// Emitter receives run lifecycle events. Implementations must be safe
// for concurrent use and must never block the run.
type Emitter interface {
	RunStarted(runID string, workflow pipeline.WorkflowType, domain string)
	StageCompleted(runID string, workflow pipeline.WorkflowType, stage string, iteration int, took time.Duration)
	Compacted(runID string, workflow pipeline.WorkflowType, beforeRatio, afterRatio float64)
	RunFinished(runID string, workflow pipeline.WorkflowType, kind string, score float64, iterations int)
}

// Noop discards every event.
type Noop struct{}

func (Noop) RunStarted(string, pipeline.WorkflowType, string)                         {}
func (Noop) StageCompleted(string, pipeline.WorkflowType, string, int, time.Duration) {}
func (Noop) Compacted(string, pipeline.WorkflowType, float64, float64)                {}
func (Noop) RunFinished(string, pipeline.WorkflowType, string, float64, int)          {}

var _ Emitter = Noop{}
