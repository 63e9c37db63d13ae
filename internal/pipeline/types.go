// Package pipeline defines the core data model shared by the drafting
// engine: requests, plans, drafts, score and validation reports, and
// learned patterns.
package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Common validation errors.
var (
	ErrEmptyQuery           = errors.New("query cannot be empty")
	ErrEmptyDomain          = errors.New("domain cannot be empty")
	ErrInvalidWorkflow      = errors.New("invalid workflow type")
	ErrInvalidConfidence    = errors.New("confidence must be between 0 and 1")
	ErrInvalidScore         = errors.New("score must be between 0 and 10")
	ErrInvalidEffectiveness = errors.New("effectiveness must be between 0 and 1")
	ErrEmptyStrategy        = errors.New("strategy cannot be empty")
	ErrEmptySignature       = errors.New("signature cannot be empty")
)

// WorkflowType categorizes what kind of output a request wants.
type WorkflowType string

const (
	WorkflowExplain  WorkflowType = "explain"
	WorkflowReview   WorkflowType = "review"
	WorkflowGuide    WorkflowType = "guide"
	WorkflowResearch WorkflowType = "research"
)

// Valid reports whether w is a known workflow type.
func (w WorkflowType) Valid() bool {
	switch w {
	case WorkflowExplain, WorkflowReview, WorkflowGuide, WorkflowResearch:
		return true
	}
	return false
}

// WorkflowTypes returns all known workflow types in a stable order.
func WorkflowTypes() []WorkflowType {
	return []WorkflowType{WorkflowExplain, WorkflowReview, WorkflowGuide, WorkflowResearch}
}

// Request is one unit of work entering the engine. Immutable once created.
type Request struct {
	ID          string
	Query       string
	Workflow    WorkflowType
	Domain      string
	Attachments []string
	CreatedAt   time.Time
}

// NewRequest creates a validated Request with a fresh ID.
func NewRequest(query string, workflow WorkflowType, domain string, attachments ...string) (*Request, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if strings.TrimSpace(domain) == "" {
		return nil, ErrEmptyDomain
	}
	if !workflow.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidWorkflow, workflow)
	}
	return &Request{
		ID:          uuid.New().String(),
		Query:       query,
		Workflow:    workflow,
		Domain:      domain,
		Attachments: attachments,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// PlanStep is one objective/approach pair within a Plan.
type PlanStep struct {
	Objective string `json:"objective"`
	Approach  string `json:"approach"`
}

// Plan is the output of the planning stage. A new Plan supersedes the
// previous one each reasoning pass; history is retained until compaction.
type Plan struct {
	Steps      []PlanStep `json:"steps"`
	Citations  []string   `json:"citations"`
	Confidence float64    `json:"confidence"`
	NeedsWeb   bool       `json:"needs_web"`
	Iteration  int        `json:"iteration"`
}

// Validate checks the Plan's structural invariants.
func (p *Plan) Validate() error {
	if len(p.Steps) == 0 {
		return errors.New("plan must contain at least one step")
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("%w: %f", ErrInvalidConfidence, p.Confidence)
	}
	return nil
}

// Draft is the output of the implementation stage.
type Draft struct {
	Content   string   `json:"content"`
	Citations []string `json:"citations"`
	Iteration int      `json:"iteration"`
}

// Scoring weights for the overall verification score.
const (
	WeightGrounding = 0.40
	WeightCoherence = 0.30
	WeightQueryFit  = 0.30

	// MaxScore is the upper bound of every subscore and the overall score.
	MaxScore = 10.0

	// DefaultPassThreshold is the overall score at which a draft clears
	// verification.
	DefaultPassThreshold = 9.0

	// DefaultLearningThreshold is the overall score at which a first-try
	// success is still worth learning from.
	DefaultLearningThreshold = 8.0
)

// ScoreReport is the output of the verification stage.
type ScoreReport struct {
	Grounding float64 `json:"grounding"`
	Coherence float64 `json:"coherence"`
	QueryFit  float64 `json:"query_fit"`
	Overall   float64 `json:"overall"`
	Pass      bool    `json:"pass"`
	Feedback  string  `json:"feedback"`
}

// Weigh recomputes Overall from the subscores using the fixed weights.
func (r *ScoreReport) Weigh() {
	r.Overall = r.Grounding*WeightGrounding + r.Coherence*WeightCoherence + r.QueryFit*WeightQueryFit
}

// Clamp forces every score into [0, MaxScore].
func (r *ScoreReport) Clamp() {
	r.Grounding = clampScore(r.Grounding)
	r.Coherence = clampScore(r.Coherence)
	r.QueryFit = clampScore(r.QueryFit)
	r.Overall = clampScore(r.Overall)
}

// Validate checks that every score is in range.
func (r *ScoreReport) Validate() error {
	for _, s := range []float64{r.Grounding, r.Coherence, r.QueryFit, r.Overall} {
		if s < 0 || s > MaxScore {
			return fmt.Errorf("%w: %f", ErrInvalidScore, s)
		}
	}
	return nil
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > MaxScore {
		return MaxScore
	}
	return s
}

// Severity grades a validation issue.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityMinor    Severity = "minor"
	SeverityMajor    Severity = "major"
	SeverityCritical Severity = "critical"
)

// Blocking reports whether the severity prevents approval on its own.
func (s Severity) Blocking() bool {
	return s == SeverityMajor || s == SeverityCritical
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityMinor, SeverityMajor, SeverityCritical:
		return true
	}
	return false
}

// Issue is a single problem found during validation.
type Issue struct {
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
}

// ValidationReport is the output of the validation stage.
type ValidationReport struct {
	Approved     bool    `json:"approved"`
	PublishReady bool    `json:"publish_ready"`
	Issues       []Issue `json:"issues"`
	Feedback     string  `json:"feedback"`
}

// Validate checks that every issue carries a known severity.
func (r *ValidationReport) Validate() error {
	for _, is := range r.Issues {
		if !is.Severity.Valid() {
			return fmt.Errorf("unknown issue severity %q", is.Severity)
		}
	}
	return nil
}

// BlockingIssues returns the issues severe enough to reject on their own.
func (r *ValidationReport) BlockingIssues() []Issue {
	var out []Issue
	for _, is := range r.Issues {
		if is.Severity.Blocking() {
			out = append(out, is)
		}
	}
	return out
}

// Pattern is a learned strategy persisted for warm starts. Patterns are
// append-only: a refined strategy is a new Pattern, never an update.
type Pattern struct {
	ID            string       `json:"id"`
	Signature     string       `json:"signature"`
	Strategy      string       `json:"strategy"`
	Effectiveness float64      `json:"effectiveness"`
	Workflow      WorkflowType `json:"workflow"`
	Domain        string       `json:"domain"`
	CreatedAt     time.Time    `json:"created_at"`
}

// NewPattern creates a validated Pattern with a fresh ID.
func NewPattern(signature, strategy string, effectiveness float64, workflow WorkflowType, domain string) (*Pattern, error) {
	p := &Pattern{
		ID:            uuid.New().String(),
		Signature:     signature,
		Strategy:      strategy,
		Effectiveness: effectiveness,
		Workflow:      workflow,
		Domain:        domain,
		CreatedAt:     time.Now().UTC(),
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the Pattern's invariants.
func (p *Pattern) Validate() error {
	if strings.TrimSpace(p.Signature) == "" {
		return ErrEmptySignature
	}
	if strings.TrimSpace(p.Strategy) == "" {
		return ErrEmptyStrategy
	}
	if p.Effectiveness < 0 || p.Effectiveness > 1 {
		return fmt.Errorf("%w: %f", ErrInvalidEffectiveness, p.Effectiveness)
	}
	if !p.Workflow.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidWorkflow, p.Workflow)
	}
	if strings.TrimSpace(p.Domain) == "" {
		return ErrEmptyDomain
	}
	return nil
}

// Key returns the storage key: workflow + domain + trigger signature.
func (p *Pattern) Key() string {
	return fmt.Sprintf("%s:%s:%s", p.Workflow, p.Domain, p.Signature)
}
