package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/forged/internal/pipeline"
)

// LLMConfig configures the model-backed stage backend. Any
// OpenAI-compatible endpoint works, including local servers.
type LLMConfig struct {
	// BaseURL is the chat completions endpoint base.
	BaseURL string

	// Model is the chat model name.
	Model string

	// APIKey authenticates requests. Optional for local servers.
	APIKey string

	// Temperature defaults to 0.2; drafting wants mostly-deterministic
	// output.
	Temperature float64

	// MaxTokens caps each completion. Zero means provider default.
	MaxTokens int

	// RequestsPerSecond throttles calls across all runs sharing this
	// backend. Zero disables throttling.
	RequestsPerSecond float64

	// Burst is the limiter burst size, minimum 1 when throttled.
	Burst int
}

// Validate checks required fields.
func (c LLMConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: llm: base URL required", ErrCapability)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: llm: model required", ErrCapability)
	}
	return nil
}

// LLMBackend drives the four stages through a chat model. Every stage
// prompt demands a single JSON object; anything else is a capability
// error, never retried here.
type LLMBackend struct {
	llm         llms.Model
	limiter     *rate.Limiter
	temperature float64
	maxTokens   int
	logger      *zap.Logger
}

// NewLLMBackend creates a model-backed stage backend.
func NewLLMBackend(cfg LLMConfig, logger *zap.Logger) (*LLMBackend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "placeholder"
	}

	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(cfg.Model),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("creating chat client: %w", err)
	}

	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = 0.2
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &LLMBackend{
		llm:         llm,
		limiter:     limiter,
		temperature: temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      logger,
	}, nil
}

func (b *LLMBackend) generate(ctx context.Context, stage, prompt string) (string, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	opts := []llms.CallOption{llms.WithTemperature(b.temperature)}
	if b.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(b.maxTokens))
	}

	out, err := llms.GenerateFromSinglePrompt(ctx, b.llm, prompt, opts...)
	if err != nil {
		return "", fmt.Errorf("%s completion: %w", stage, err)
	}

	b.logger.Debug("stage completion",
		zap.String("stage", stage),
		zap.Int("prompt_chars", len(prompt)),
		zap.Int("response_chars", len(out)),
	)
	return out, nil
}

// Plan asks the model for an ordered plan as JSON.
func (b *LLMBackend) Plan(ctx context.Context, in Input) (*pipeline.Plan, error) {
	prompt := promptHeader(in) + `
Produce a plan for answering the request. Respond with exactly one JSON object:
{"steps":[{"objective":"...","approach":"..."}],"citations":["source-id"],"confidence":0.0,"needs_web":false}
Cite only source ids listed above. Confidence is 0..1.`

	out, err := b.generate(ctx, StagePlan, prompt)
	if err != nil {
		return nil, err
	}

	var dto struct {
		Steps []struct {
			Objective string `json:"objective"`
			Approach  string `json:"approach"`
		} `json:"steps"`
		Citations  []string `json:"citations"`
		Confidence float64  `json:"confidence"`
		NeedsWeb   bool     `json:"needs_web"`
	}
	if err := decodeJSON(out, &dto); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCapability, StagePlan, err)
	}

	steps := make([]pipeline.PlanStep, len(dto.Steps))
	for i, s := range dto.Steps {
		steps[i] = pipeline.PlanStep{Objective: s.Objective, Approach: s.Approach}
	}
	return &pipeline.Plan{
		Steps:      steps,
		Citations:  dto.Citations,
		Confidence: clamp01(dto.Confidence),
		NeedsWeb:   dto.NeedsWeb,
		Iteration:  in.View.Iteration(),
	}, nil
}

// Implement asks the model for a cited draft as JSON.
func (b *LLMBackend) Implement(ctx context.Context, in Input, plan *pipeline.Plan) (*pipeline.Draft, error) {
	var planText strings.Builder
	for i, s := range plan.Steps {
		fmt.Fprintf(&planText, "%d. %s (%s)\n", i+1, s.Objective, s.Approach)
	}

	prompt := promptHeader(in) + fmt.Sprintf(`
Follow this plan:
%s
Write the full answer in markdown with a title and sections. Cite sources
inline as [source: id]. Respond with exactly one JSON object:
{"content":"...","citations":["source-id"]}
List in citations every source id the content actually uses.`, planText.String())

	out, err := b.generate(ctx, StageImplement, prompt)
	if err != nil {
		return nil, err
	}

	var dto struct {
		Content   string   `json:"content"`
		Citations []string `json:"citations"`
	}
	if err := decodeJSON(out, &dto); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCapability, StageImplement, err)
	}

	return &pipeline.Draft{
		Content:   dto.Content,
		Citations: dto.Citations,
		Iteration: in.View.Iteration(),
	}, nil
}

// Verify asks the model to score the draft; the weighted overall is
// recomputed locally so the weighting stays fixed.
func (b *LLMBackend) Verify(ctx context.Context, in Input, draft *pipeline.Draft, plan *pipeline.Plan) (*pipeline.ScoreReport, error) {
	prompt := promptHeader(in) + fmt.Sprintf(`
Score this draft on three axes, each 0..10:
- grounding: claims traceable to the listed sources
- coherence: structure, flow, completeness
- query_fit: addresses the request directly
Draft:
%s
Respond with exactly one JSON object:
{"grounding":0.0,"coherence":0.0,"query_fit":0.0,"feedback":"one concrete improvement"}`, draft.Content)

	out, err := b.generate(ctx, StageVerify, prompt)
	if err != nil {
		return nil, err
	}

	var dto struct {
		Grounding float64 `json:"grounding"`
		Coherence float64 `json:"coherence"`
		QueryFit  float64 `json:"query_fit"`
		Feedback  string  `json:"feedback"`
	}
	if err := decodeJSON(out, &dto); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCapability, StageVerify, err)
	}

	report := &pipeline.ScoreReport{
		Grounding: dto.Grounding,
		Coherence: dto.Coherence,
		QueryFit:  dto.QueryFit,
		Feedback:  dto.Feedback,
	}
	report.Clamp()
	report.Weigh()
	report.Pass = report.Overall >= pipeline.DefaultPassThreshold
	return report, nil
}

// Validate asks the model for the final accept/reject judgment.
func (b *LLMBackend) Validate(ctx context.Context, in Input, draft *pipeline.Draft, score *pipeline.ScoreReport) (*pipeline.ValidationReport, error) {
	prompt := promptHeader(in) + fmt.Sprintf(`
The draft below scored %.1f/10 in verification. Judge whether it is fit to
deliver. Severities: info, minor, major, critical. Major or critical issues
must reject.
Draft:
%s
Respond with exactly one JSON object:
{"approved":false,"publish_ready":false,"issues":[{"description":"...","severity":"minor"}],"feedback":"..."}`,
		score.Overall, draft.Content)

	out, err := b.generate(ctx, StageValidate, prompt)
	if err != nil {
		return nil, err
	}

	var dto struct {
		Approved     bool   `json:"approved"`
		PublishReady bool   `json:"publish_ready"`
		Issues       []struct {
			Description string `json:"description"`
			Severity    string `json:"severity"`
		} `json:"issues"`
		Feedback string `json:"feedback"`
	}
	if err := decodeJSON(out, &dto); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCapability, StageValidate, err)
	}

	report := &pipeline.ValidationReport{
		Approved:     dto.Approved,
		PublishReady: dto.PublishReady,
		Feedback:     dto.Feedback,
	}
	for _, is := range dto.Issues {
		report.Issues = append(report.Issues, pipeline.Issue{
			Description: is.Description,
			Severity:    parseSeverity(is.Severity),
		})
	}

	// The model cannot approve past blocking issues it reported itself.
	if len(report.BlockingIssues()) > 0 {
		report.Approved = false
		report.PublishReady = false
	}
	return report, nil
}

// promptHeader assembles the shared request context: query, knowledge
// sources, warm start, and the recent feedback tail.
func promptHeader(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task type: %s. Domain: %s.\nRequest: %s\n",
		in.Request.Workflow, in.Request.Domain, in.Request.Query)

	if in.Knowledge != nil && len(in.Knowledge.Sources) > 0 {
		b.WriteString("\nKnowledge sources (cite by id):\n")
		for _, src := range in.Knowledge.Sources {
			fmt.Fprintf(&b, "--- id: %s ---\n%s\n", src.ID, excerpt(src.Content, 2000))
		}
	}

	if ws := in.View.WarmStart(); ws != "" {
		fmt.Fprintf(&b, "\nA strategy that worked for similar requests:\n%s\n", ws)
	}

	if tail := in.View.FeedbackTail(3); len(tail) > 0 {
		b.WriteString("\nFeedback from earlier passes, oldest first:\n")
		for _, fb := range tail {
			fmt.Fprintf(&b, "- (%s) %s\n", fb.Source, fb.Text)
		}
	}

	if sum := in.View.Summary(); sum != "" {
		fmt.Fprintf(&b, "\nCondensed history: %s\n", sum)
	}
	return b.String()
}

// decodeJSON extracts the first JSON object from a model response and
// decodes it. Models wrap JSON in prose or fences often enough that
// trimming is part of the contract.
func decodeJSON(out string, v any) error {
	start := strings.IndexByte(out, '{')
	end := strings.LastIndexByte(out, '}')
	if start < 0 || end <= start {
		return fmt.Errorf("no JSON object in response")
	}
	if err := json.Unmarshal([]byte(out[start:end+1]), v); err != nil {
		return fmt.Errorf("decoding response: %v", err)
	}
	return nil
}

func parseSeverity(s string) pipeline.Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(pipeline.SeverityInfo):
		return pipeline.SeverityInfo
	case string(pipeline.SeverityMinor):
		return pipeline.SeverityMinor
	case string(pipeline.SeverityMajor):
		return pipeline.SeverityMajor
	case string(pipeline.SeverityCritical):
		return pipeline.SeverityCritical
	default:
		return pipeline.SeverityMinor
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
