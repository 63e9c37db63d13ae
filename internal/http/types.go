package http

import (
	"time"

	"github.com/fyrsmithlabs/forged/internal/engine"
	"github.com/fyrsmithlabs/forged/internal/pipeline"
)

// RunRequest is the body for POST /api/v1/runs. Workflow may be empty,
// in which case the server classifies the query.
type RunRequest struct {
	Query       string   `json:"query"`
	Workflow    string   `json:"workflow,omitempty"`
	Domain      string   `json:"domain"`
	Attachments []string `json:"attachments,omitempty"`
}

// RunResponse is the Result DTO returned for run endpoints.
type RunResponse struct {
	RunID       string    `json:"run_id"`
	Query       string    `json:"query"`
	Workflow    string    `json:"workflow"`
	Domain      string    `json:"domain"`
	Kind        string    `json:"kind"`
	Score       float64   `json:"score,omitempty"`
	Output      string    `json:"output,omitempty"`
	OutputID    string    `json:"output_id,omitempty"`
	OutputPath  string    `json:"output_path,omitempty"`
	Reasoning   int       `json:"reasoning_iterations"`
	Validation  int       `json:"validation_iterations"`
	Diagnostics []string  `json:"diagnostics,omitempty"`
	DurationMS  int64     `json:"duration_ms"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// RunListResponse is the body for GET /api/v1/runs.
type RunListResponse struct {
	Runs []RunResponse `json:"runs"`
}

// PatternMatch is one ranked pattern in a lookup response.
type PatternMatch struct {
	Signature     string  `json:"signature"`
	Strategy      string  `json:"strategy"`
	Effectiveness float64 `json:"effectiveness"`
	Workflow      string  `json:"workflow"`
	Domain        string  `json:"domain"`
	Similarity    float64 `json:"similarity"`
}

// PatternListResponse is the body for GET /api/v1/patterns.
type PatternListResponse struct {
	Patterns []PatternMatch `json:"patterns"`
}

// StatsResponse feeds the monitor TUI.
type StatsResponse struct {
	TotalRuns     int            `json:"total_runs"`
	ByKind        map[string]int `json:"by_kind"`
	AvgDurationMS int64          `json:"avg_duration_ms"`
	AvgIterations float64        `json:"avg_iterations"`
	// Recent lists the newest-last outcome kinds of the retained runs.
	Recent  []string `json:"recent"`
	Domains []string `json:"domains,omitempty"`
}

// HealthResponse is the body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func resultDTO(req *pipeline.Request, res *engine.Result) RunResponse {
	out := RunResponse{
		RunID:       res.RunID,
		Kind:        string(res.Kind),
		Reasoning:   res.Iterations.Reasoning,
		Validation:  res.Iterations.Validation,
		Diagnostics: res.Diagnostics,
		DurationMS:  res.Duration.Milliseconds(),
	}
	if req != nil {
		out.Query = req.Query
		out.Workflow = string(req.Workflow)
		out.Domain = req.Domain
		out.CreatedAt = req.CreatedAt
	}
	if res.Score != nil {
		out.Score = res.Score.Overall
	}
	if res.Kind == engine.KindSuccess && res.Draft != nil {
		out.Output = res.Draft.Content
	}
	if res.OutputRef != nil {
		out.OutputID = res.OutputRef.ID
		out.OutputPath = res.OutputRef.Location
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out
}
