package engine

import (
	"time"

	"github.com/fyrsmithlabs/forged/internal/pipeline"
	"github.com/fyrsmithlabs/forged/internal/sink"
)

// Kind classifies how a run ended.
type Kind string

const (
	// KindSuccess means the draft was approved and written to the sink.
	KindSuccess Kind = "success"

	// KindQualityThresholdNotMet means the reasoning ceiling was reached
	// without a passing score. The Result carries the best-scoring draft.
	KindQualityThresholdNotMet Kind = "quality_threshold_not_met"

	// KindValidationRejected means the validation ceiling was exhausted.
	// The Result carries the last validation report.
	KindValidationRejected Kind = "validation_rejected"

	// KindResourceExhausted means compaction could not bring state usage
	// back under the budget threshold.
	KindResourceExhausted Kind = "resource_exhausted"

	// KindCancelled means an external cancel signal stopped the run
	// between stage boundaries. Nothing was written anywhere.
	KindCancelled Kind = "cancelled"

	// KindCapabilityError means a stage backend failed, timed out, or
	// returned output violating its contract.
	KindCapabilityError Kind = "capability_error"
)

// Fatal reports whether the kind indicates an abnormal abort rather than
// an expected quality outcome.
func (k Kind) Fatal() bool {
	switch k {
	case KindCapabilityError, KindResourceExhausted, KindCancelled:
		return true
	}
	return false
}

// Iterations counts completed loop passes for one run.
type Iterations struct {
	Reasoning  int `json:"reasoning"`
	Validation int `json:"validation"`
}

// Result is the engine's answer for one request. Every run, however it
// ends, returns enough diagnostics to explain why nothing was published.
type Result struct {
	RunID       string                     `json:"run_id"`
	Kind        Kind                       `json:"kind"`
	OutputRef   *sink.Ref                  `json:"output_ref,omitempty"`
	Draft       *pipeline.Draft            `json:"draft,omitempty"`
	Score       *pipeline.ScoreReport      `json:"score,omitempty"`
	Report      *pipeline.ValidationReport `json:"report,omitempty"`
	Iterations  Iterations                 `json:"iterations"`
	Diagnostics []string                   `json:"diagnostics,omitempty"`
	Duration    time.Duration              `json:"duration"`
	Err         error                      `json:"-"`
}

// Error implements error for fatal results so callers can surface them
// directly.
func (r *Result) Error() string {
	if r.Err != nil {
		return string(r.Kind) + ": " + r.Err.Error()
	}
	return string(r.Kind)
}
