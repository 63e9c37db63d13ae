// Package secrets scrubs credentials out of approved drafts before they
// reach a sink. Detection runs on the Gitleaks ruleset; redaction keeps
// rule IDs and a short prefix so the output stays readable.
package secrets

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zricethezav/gitleaks/v8/detect"
	"go.uber.org/zap"
)

// previewChars is how much of a secret a redaction marker reveals.
const previewChars = 4

// Scrubber detects and redacts secrets from content.
type Scrubber interface {
	// Scrub redacts secrets from the content.
	Scrub(content string) *Result

	// Check detects secrets without redacting.
	Check(content string) *Result

	// IsEnabled returns whether scrubbing is enabled.
	IsEnabled() bool
}

// Finding describes one detected secret. The value itself stays
// unexported; only metadata safe to log leaves the package.
type Finding struct {
	RuleID      string `json:"rule_id"`
	Description string `json:"description"`
	Line        int    `json:"line"`
	Preview     string `json:"preview"`
	Length      int    `json:"length"`

	secret string
}

// Result contains the scrubbing outcome for one document.
type Result struct {
	// Original is the input content, never serialized.
	Original string `json:"-"`

	// Scrubbed is the content with secrets replaced by markers.
	Scrubbed string `json:"scrubbed"`

	// Findings lists the detected secrets without their values.
	Findings []Finding `json:"findings,omitempty"`

	// ByRule maps rule IDs to finding counts.
	ByRule map[string]int `json:"by_rule,omitempty"`

	// TotalFindings is the count of secrets found.
	TotalFindings int `json:"total_findings"`

	// Duration is how long scrubbing took.
	Duration time.Duration `json:"duration"`
}

// HasFindings returns true if any secrets were found.
func (r *Result) HasFindings() bool { return r.TotalFindings > 0 }

// RuleIDs returns the matched rule IDs, sorted.
func (r *Result) RuleIDs() []string {
	ids := make([]string, 0, len(r.ByRule))
	for id := range r.ByRule {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Config locates the optional allowlists and toggles scrubbing.
type Config struct {
	// Enabled toggles detection. Disabled scrubbers pass content through.
	Enabled bool

	// ProjectDir is searched for a .gitleaks.toml. Empty skips it.
	ProjectDir string

	// AllowlistPath points at a user allowlist TOML file. Empty skips it.
	AllowlistPath string

	// AllowRules lists Gitleaks rule IDs whose findings are ignored.
	AllowRules []string
}

// DefaultConfig enables scrubbing with no allowlists.
func DefaultConfig() Config {
	return Config{Enabled: true}
}

// gitleaksScrubber backs the Scrubber interface with the Gitleaks
// detector. The detector is built once and shared; DetectString is
// serialized under the mutex.
type gitleaksScrubber struct {
	mu         sync.Mutex
	detector   *detect.Detector
	enabled    bool
	allowRules map[string]struct{}
	logger     *zap.Logger
}

// New creates a Scrubber on the default Gitleaks ruleset, extended by
// whatever allowlists the config points at.
func New(cfg Config, logger *zap.Logger) (Scrubber, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("creating secret detector: %w", err)
	}

	allow, err := LoadAllowlists(cfg.ProjectDir, cfg.AllowlistPath)
	if err != nil {
		return nil, err
	}
	if len(allow.Paths) > 0 || len(allow.Regexes) > 0 {
		applyAllowlist(&detector.Config, allow)
	}

	allowRules := make(map[string]struct{}, len(cfg.AllowRules))
	for _, id := range cfg.AllowRules {
		allowRules[id] = struct{}{}
	}

	return &gitleaksScrubber{
		detector:   detector,
		enabled:    cfg.Enabled,
		allowRules: allowRules,
		logger:     logger,
	}, nil
}

// Scrub replaces every detected secret with a [REDACTED:rule:prefix]
// marker. Markers keep enough context for a reader without the value.
func (s *gitleaksScrubber) Scrub(content string) *Result {
	result := s.Check(content)
	if result.TotalFindings > 0 {
		result.Scrubbed = redact(content, result.Findings)
		s.logger.Info("redacted secrets",
			zap.Int("findings", result.TotalFindings),
			zap.Strings("rules", result.RuleIDs()),
		)
	}
	return result
}

// Check detects secrets without touching the content.
func (s *gitleaksScrubber) Check(content string) *Result {
	start := time.Now()
	result := &Result{
		Original: content,
		Scrubbed: content,
		ByRule:   make(map[string]int),
	}
	if !s.enabled {
		result.Duration = time.Since(start)
		return result
	}

	s.mu.Lock()
	raw := s.detector.DetectString(content)
	s.mu.Unlock()

	for _, f := range raw {
		if _, ok := s.allowRules[f.RuleID]; ok {
			continue
		}
		result.Findings = append(result.Findings, Finding{
			RuleID:      f.RuleID,
			Description: f.Description,
			Line:        f.StartLine,
			Preview:     preview(f.Secret),
			Length:      len(f.Secret),
			secret:      f.Secret,
		})
		result.ByRule[f.RuleID]++
	}
	result.TotalFindings = len(result.Findings)
	result.Duration = time.Since(start)
	return result
}

// IsEnabled returns whether scrubbing is enabled.
func (s *gitleaksScrubber) IsEnabled() bool { return s.enabled }

// redact replaces secrets by value, longest first so a secret that is a
// substring of another cannot clip the longer match. Value replacement
// also covers multi-line secrets like private keys.
func redact(content string, findings []Finding) string {
	ordered := make([]Finding, len(findings))
	copy(ordered, findings)
	sort.Slice(ordered, func(i, j int) bool {
		return len(ordered[i].secret) > len(ordered[j].secret)
	})

	for _, f := range ordered {
		if f.secret == "" {
			continue
		}
		marker := fmt.Sprintf("[REDACTED:%s:%s]", f.RuleID, f.Preview)
		content = strings.ReplaceAll(content, f.secret, marker)
	}
	return content
}

func preview(secret string) string {
	if len(secret) <= previewChars {
		return secret
	}
	return secret[:previewChars]
}

// NoopScrubber passes content through untouched.
type NoopScrubber struct{}

// Scrub returns content unchanged.
func (NoopScrubber) Scrub(content string) *Result {
	return &Result{Original: content, Scrubbed: content, ByRule: map[string]int{}}
}

// Check returns content unchanged.
func (n NoopScrubber) Check(content string) *Result { return n.Scrub(content) }

// IsEnabled returns false.
func (NoopScrubber) IsEnabled() bool { return false }

var (
	_ Scrubber = (*gitleaksScrubber)(nil)
	_ Scrubber = NoopScrubber{}
)
