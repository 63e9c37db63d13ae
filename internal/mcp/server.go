// Package mcp exposes the pipeline to MCP clients over stdio.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/forged/internal/engine"
	"github.com/fyrsmithlabs/forged/internal/knowledge"
	"github.com/fyrsmithlabs/forged/internal/patterns"
	"github.com/fyrsmithlabs/forged/internal/pipeline"
	"github.com/fyrsmithlabs/forged/internal/secrets"
)

// Runner executes one pipeline request. Satisfied by *engine.Engine.
type Runner interface {
	Run(ctx context.Context, req *pipeline.Request) *engine.Result
}

// Server registers the forge tools on an MCP stdio server.
type Server struct {
	mcp      *mcp.Server
	runner   Runner
	store    patterns.Store
	know     knowledge.Provider
	scrubber secrets.Scrubber
	logger   *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "forged").
	Name string

	// Version is the server version (default: "1.0.0").
	Version string

	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "forged",
		Version: "1.0.0",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates an MCP server wired to the engine and its stores.
func NewServer(cfg *Config, runner Runner, store patterns.Store, know knowledge.Provider, scrubber secrets.Scrubber) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if scrubber == nil {
		scrubber = secrets.NoopScrubber{}
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:      mcpServer,
		runner:   runner,
		store:    store,
		know:     know,
		scrubber: scrubber,
		logger:   cfg.Logger,
	}
	s.registerTools()
	return s, nil
}

// Run serves on the stdio transport until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	transport := &mcp.StdioTransport{}
	if err := s.mcp.Run(ctx, transport); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}
