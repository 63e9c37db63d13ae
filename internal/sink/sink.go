// Package sink delivers approved drafts to their destination: a markdown
// file on disk or a GitHub issue. Writes are all-or-nothing; a failed
// write leaves nothing behind.
package sink

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/forged/internal/pipeline"
)

var (
	// ErrNilDraft indicates a nil draft was handed to a sink.
	ErrNilDraft = errors.New("draft cannot be nil")

	// ErrInvalidConfig indicates a sink cannot be built from the config.
	ErrInvalidConfig = errors.New("invalid sink config")
)

// Sink types selectable in config.
const (
	TypeFile   = "file"
	TypeGitHub = "github"
)

// Meta carries run identity alongside the draft being written.
type Meta struct {
	RunID    string
	Query    string
	Workflow pipeline.WorkflowType
	Domain   string
	Score    float64
}

// Ref identifies where a written draft landed.
type Ref struct {
	// ID is sink-local: a file name or an issue number.
	ID string `json:"id"`

	// Location is the full path or URL.
	Location string `json:"location"`
}

// Sink writes one approved draft per call.
type Sink interface {
	Write(ctx context.Context, draft *pipeline.Draft, meta Meta) (Ref, error)
}

// Config selects and parameterizes the deployment's sink.
type Config struct {
	// Type is "file" or "github". Empty means file.
	Type string

	// OutputDir receives markdown files for the file sink.
	OutputDir string

	// Owner, Repo, Token, and Labels configure the GitHub sink.
	Owner  string
	Repo   string
	Token  string
	Labels []string
}

// New builds the configured sink.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (Sink, error) {
	switch cfg.Type {
	case "", TypeFile:
		return NewFileSink(cfg.OutputDir, logger)
	case TypeGitHub:
		return NewGitHubSink(ctx, GitHubConfig{
			Owner:  cfg.Owner,
			Repo:   cfg.Repo,
			Token:  cfg.Token,
			Labels: cfg.Labels,
		}, logger)
	default:
		return nil, fmt.Errorf("%w: unknown sink type %q", ErrInvalidConfig, cfg.Type)
	}
}
