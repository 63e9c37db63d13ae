// Package classify maps request queries to workflow types using an
// ordered, data-defined rule table. Adding a category is a rule change,
// not a code change.
package classify

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/forged/internal/pipeline"
)

// maxQueryLength bounds the input fed to the regex engine.
const maxQueryLength = 2048

// Fallback classification when no rule matches.
const (
	FallbackWorkflow   = pipeline.WorkflowExplain
	FallbackConfidence = 0.5
)

// Rule is one classification rule as it appears in configuration.
// Pattern is compiled at construction time.
type Rule struct {
	Pattern    string
	Workflow   pipeline.WorkflowType
	Confidence float64
}

// workflowRule pairs a compiled regex with the workflow it detects and a
// base confidence. Rules are evaluated in order; the first match wins.
type workflowRule struct {
	regex      *regexp.Regexp
	workflow   pipeline.WorkflowType
	confidence float64
}

// TableClassifier classifies request queries using ordered regex rules.
// Thread-safe: all patterns are compiled at construction time.
type TableClassifier struct {
	rules []*workflowRule
}

// NewTableClassifier creates a classifier from the given rules, appending
// the built-in table after them so custom rules take priority. Invalid
// patterns or workflows fail construction.
func NewTableClassifier(custom []Rule) (*TableClassifier, error) {
	compiled := make([]*workflowRule, 0, len(custom))
	for i, r := range custom {
		if !r.Workflow.Valid() {
			return nil, fmt.Errorf("rule %d: %w: %q", i, pipeline.ErrInvalidWorkflow, r.Workflow)
		}
		if r.Confidence < 0 || r.Confidence > 1 {
			return nil, fmt.Errorf("rule %d: confidence %f out of range", i, r.Confidence)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %d: invalid pattern %q: %w", i, r.Pattern, err)
		}
		compiled = append(compiled, &workflowRule{regex: re, workflow: r.Workflow, confidence: r.Confidence})
	}
	return &TableClassifier{rules: append(compiled, builtinRules()...)}, nil
}

// NewDefaultClassifier creates a classifier with only the built-in table.
func NewDefaultClassifier() *TableClassifier {
	return &TableClassifier{rules: builtinRules()}
}

// builtinRules returns the ordered built-in rule table. More specific
// patterns are listed first to avoid shadowing.
func builtinRules() []*workflowRule {
	return []*workflowRule{
		// --- Review (overlaps with explain verbs, so highest priority) ---
		{
			regex:      regexp.MustCompile(`(?i)\b(?:review|critique|assess|evaluate|audit|feedback\s+on|what(?:'s| is)\s+wrong\s+with)\b`),
			workflow:   pipeline.WorkflowReview,
			confidence: 0.9,
		},

		// --- Guide (procedural phrasing) ---
		{
			regex:      regexp.MustCompile(`(?i)\b(?:how\s+(?:do|can|should|would)\s+i|how\s+to|walk\s+me\s+through|step[-\s]by[-\s]step|steps\s+(?:to|for)|guide\s+(?:me|to|for)|set(?:ting)?\s+up|getting\s+started)\b`),
			workflow:   pipeline.WorkflowGuide,
			confidence: 0.85,
		},

		// --- Research (investigative, comparative) ---
		{
			regex:      regexp.MustCompile(`(?i)\b(?:research|investigate|survey|compare\b.*\b(?:with|against|to|vs\.?)|trade[-\s]?offs?|state\s+of\s+the\s+art|literature|sources?\s+(?:for|on)|pros\s+and\s+cons)\b`),
			workflow:   pipeline.WorkflowResearch,
			confidence: 0.85,
		},

		// --- Explain (definitional) ---
		{
			regex:      regexp.MustCompile(`(?i)\b(?:what\s+(?:is|are|does)|why\s+(?:is|are|does|do)|explain|describe|define|meaning\s+of|difference\s+between)\b`),
			workflow:   pipeline.WorkflowExplain,
			confidence: 0.8,
		},

		// Broader fallbacks with lower confidence.
		{
			regex:      regexp.MustCompile(`(?i)\b(?:compare|versus|vs\.?|alternatives?)\b`),
			workflow:   pipeline.WorkflowResearch,
			confidence: 0.6,
		},
		{
			regex:      regexp.MustCompile(`(?i)\b(?:tutorial|instructions?|checklist|recipe)\b`),
			workflow:   pipeline.WorkflowGuide,
			confidence: 0.6,
		},
	}
}

// Classify returns the best-matching workflow type and confidence for the
// query. If no rule matches, returns FallbackWorkflow with
// FallbackConfidence.
func (c *TableClassifier) Classify(query string) (pipeline.WorkflowType, float64) {
	q := strings.TrimSpace(query)
	if len(q) > maxQueryLength {
		q = q[:maxQueryLength]
	}

	for _, rule := range c.rules {
		if rule.regex.MatchString(q) {
			return rule.workflow, rule.confidence
		}
	}

	return FallbackWorkflow, FallbackConfidence
}
