package sink

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/forged/internal/pipeline"
)

const (
	// issueTitleChars caps the query excerpt in the issue title.
	issueTitleChars = 80

	// issueBodyLimit stays under GitHub's 65536-char body cap.
	issueBodyLimit = 65000
)

// GitHubConfig configures the GitHub issue sink.
type GitHubConfig struct {
	Owner  string
	Repo   string
	Token  string
	Labels []string
}

// Validate checks required fields.
func (c GitHubConfig) Validate() error {
	if c.Owner == "" || c.Repo == "" {
		return fmt.Errorf("%w: github owner and repo required", ErrInvalidConfig)
	}
	if c.Token == "" {
		return fmt.Errorf("%w: github token required", ErrInvalidConfig)
	}
	return nil
}

// GitHubSink files each approved draft as a GitHub issue.
type GitHubSink struct {
	client *github.Client
	owner  string
	repo   string
	labels []string
	logger *zap.Logger
}

// NewGitHubSink creates the sink with a static-token OAuth2 client.
func NewGitHubSink(ctx context.Context, cfg GitHubConfig, logger *zap.Logger) (*GitHubSink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	tc := oauth2.NewClient(ctx, ts)

	return &GitHubSink{
		client: github.NewClient(tc),
		owner:  cfg.Owner,
		repo:   cfg.Repo,
		labels: cfg.Labels,
		logger: logger,
	}, nil
}

// Write creates one issue carrying the draft and its provenance header.
func (s *GitHubSink) Write(ctx context.Context, draft *pipeline.Draft, meta Meta) (Ref, error) {
	if draft == nil {
		return Ref{}, ErrNilDraft
	}

	title := fmt.Sprintf("[%s] %s", meta.Workflow, truncate(meta.Query, issueTitleChars))
	body := issueBody(draft, meta)

	req := &github.IssueRequest{
		Title: github.String(title),
		Body:  github.String(body),
	}
	if len(s.labels) > 0 {
		labels := s.labels
		req.Labels = &labels
	}

	issue, _, err := s.client.Issues.Create(ctx, s.owner, s.repo, req)
	if err != nil {
		return Ref{}, fmt.Errorf("creating issue: %w", err)
	}

	s.logger.Info("draft filed as issue",
		zap.Int("number", issue.GetNumber()),
		zap.String("url", issue.GetHTMLURL()),
	)
	return Ref{
		ID:       strconv.Itoa(issue.GetNumber()),
		Location: issue.GetHTMLURL(),
	}, nil
}

func issueBody(draft *pipeline.Draft, meta Meta) string {
	var b strings.Builder
	fmt.Fprintf(&b, "> run `%s` | domain `%s` | score %.1f\n", meta.RunID, meta.Domain, meta.Score)
	if len(draft.Citations) > 0 {
		fmt.Fprintf(&b, "> sources: %s\n", strings.Join(draft.Citations, ", "))
	}
	b.WriteString("\n")
	b.WriteString(draft.Content)

	body := b.String()
	if len(body) > issueBodyLimit {
		body = body[:issueBodyLimit] + "\n\n_truncated_"
	}
	return body
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n]) + "…"
}
