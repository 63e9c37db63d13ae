// Package durable runs the pipeline as a Temporal workflow. Stage calls
// become activities so a worker crash resumes mid-run instead of losing
// it. Retry authority stays with the workflow loop: activities never
// self-retry.
package durable

import (
	"github.com/fyrsmithlabs/forged/internal/pipeline"
	"github.com/fyrsmithlabs/forged/internal/sink"
)

// WorkflowName identifies the pipeline workflow on the task queue.
const WorkflowName = "PipelineWorkflow"

// RunInput is the serialized request handed to PipelineWorkflow.
type RunInput struct {
	RequestID   string                `json:"request_id"`
	Query       string                `json:"query"`
	Workflow    pipeline.WorkflowType `json:"workflow"`
	Domain      string                `json:"domain"`
	Attachments []string              `json:"attachments,omitempty"`

	ReasoningMaxIterations  int     `json:"reasoning_max_iterations"`
	ValidationMaxIterations int     `json:"validation_max_iterations"`
	PassThreshold           float64 `json:"pass_threshold"`
	LearningThreshold       float64 `json:"learning_threshold"`
}

// StageInput reconstructs enough run state for one stage activity.
// Feedback is the accumulated verifier and validator feedback, oldest
// first; Iteration is the 1-based reasoning pass being attempted.
type StageInput struct {
	RequestID   string                `json:"request_id"`
	Query       string                `json:"query"`
	Workflow    pipeline.WorkflowType `json:"workflow"`
	Domain      string                `json:"domain"`
	Attachments []string              `json:"attachments,omitempty"`
	WarmStart   string                `json:"warm_start,omitempty"`
	Iteration   int                   `json:"iteration"`
	Feedback    []FeedbackEntry       `json:"feedback,omitempty"`
}

// FeedbackEntry is one piece of accumulated stage feedback.
type FeedbackEntry struct {
	Source string `json:"source"`
	Text   string `json:"text"`
}

// ImplementInput carries the plan into the implement activity.
type ImplementInput struct {
	Stage StageInput     `json:"stage"`
	Plan  *pipeline.Plan `json:"plan"`
}

// VerifyInput carries the draft and plan into the verify activity.
type VerifyInput struct {
	Stage StageInput      `json:"stage"`
	Draft *pipeline.Draft `json:"draft"`
	Plan  *pipeline.Plan  `json:"plan"`
}

// ValidateInput carries the draft and score into the validate activity.
type ValidateInput struct {
	Stage StageInput            `json:"stage"`
	Draft *pipeline.Draft       `json:"draft"`
	Score *pipeline.ScoreReport `json:"score"`
}

// PublishInput carries the approved draft into the publish activity.
type PublishInput struct {
	RequestID string                `json:"request_id"`
	Query     string                `json:"query"`
	Workflow  pipeline.WorkflowType `json:"workflow"`
	Domain    string                `json:"domain"`
	Draft     *pipeline.Draft       `json:"draft"`
	Score     float64               `json:"score"`
}

// LearnInput carries the winning strategy into the learn activity.
type LearnInput struct {
	Query         string                `json:"query"`
	Strategy      string                `json:"strategy"`
	Effectiveness float64               `json:"effectiveness"`
	Workflow      pipeline.WorkflowType `json:"workflow"`
	Domain        string                `json:"domain"`
}

// WarmStartInput asks the lookup activity for a seed strategy.
type WarmStartInput struct {
	Query    string                `json:"query"`
	Workflow pipeline.WorkflowType `json:"workflow"`
	Domain   string                `json:"domain"`
}

// RunOutput is the workflow's terminal result.
type RunOutput struct {
	RequestID   string    `json:"request_id"`
	Kind        string    `json:"kind"`
	OutputRef   *sink.Ref `json:"output_ref,omitempty"`
	Output      string    `json:"output,omitempty"`
	Score       float64   `json:"score,omitempty"`
	Reasoning   int       `json:"reasoning_iterations"`
	Validation  int       `json:"validation_iterations"`
	Diagnostics []string  `json:"diagnostics,omitempty"`
}
