package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/forged/internal/engine"
	"github.com/fyrsmithlabs/forged/internal/patterns"
	"github.com/fyrsmithlabs/forged/internal/pipeline"
)

type runInput struct {
	Query       string   `json:"query" jsonschema:"required,The request to run through the pipeline"`
	Workflow    string   `json:"workflow" jsonschema:"required,Workflow type: explain, review, guide, or research"`
	Domain      string   `json:"domain" jsonschema:"required,Knowledge domain the run draws on"`
	Attachments []string `json:"attachments,omitempty" jsonschema:"Optional attachment references"`
}

type runOutput struct {
	RunID       string   `json:"run_id" jsonschema:"Engine run identifier"`
	Kind        string   `json:"kind" jsonschema:"Terminal result kind"`
	Score       float64  `json:"score,omitempty" jsonschema:"Overall verification score of the final draft"`
	Output      string   `json:"output,omitempty" jsonschema:"Published draft content, present only on success"`
	Reasoning   int      `json:"reasoning_iterations" jsonschema:"Completed reasoning passes"`
	Validation  int      `json:"validation_iterations" jsonschema:"Completed validation passes"`
	Diagnostics []string `json:"diagnostics,omitempty" jsonschema:"Why the run ended the way it did"`
}

type patternsSearchInput struct {
	Query    string `json:"query" jsonschema:"required,Text to match against stored pattern signatures"`
	Workflow string `json:"workflow,omitempty" jsonschema:"Restrict matches to one workflow type"`
	Domain   string `json:"domain,omitempty" jsonschema:"Restrict matches to one domain"`
	Limit    int    `json:"limit,omitempty" jsonschema:"Maximum results to return (default: 3)"`
}

type patternsSearchOutput struct {
	Patterns []patternEntry `json:"patterns" jsonschema:"Matches ranked by similarity, then effectiveness"`
	Count    int            `json:"count" jsonschema:"Number of matches returned"`
}

type patternEntry struct {
	Signature     string  `json:"signature"`
	Strategy      string  `json:"strategy"`
	Effectiveness float64 `json:"effectiveness"`
	Workflow      string  `json:"workflow"`
	Domain        string  `json:"domain"`
	Similarity    float64 `json:"similarity"`
}

type knowledgeDomainsInput struct{}

type knowledgeDomainsOutput struct {
	Domains []string `json:"domains" jsonschema:"Domains the knowledge base can snapshot"`
	Count   int      `json:"count" jsonschema:"Number of domains"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "forge_run",
		Description: "Run a request through the quality-gated pipeline. Returns the published output on success, or diagnostics explaining why nothing was published.",
	}, s.handleRun)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "forge_patterns_search",
		Description: "Search learned strategy patterns by signature text, optionally filtered by workflow and domain.",
	}, s.handlePatternsSearch)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "forge_knowledge_domains",
		Description: "List the knowledge domains runs can draw on.",
	}, s.handleKnowledgeDomains)
}

func (s *Server) handleRun(ctx context.Context, _ *mcp.CallToolRequest, args runInput) (*mcp.CallToolResult, runOutput, error) {
	req, err := pipeline.NewRequest(args.Query, pipeline.WorkflowType(args.Workflow), args.Domain, args.Attachments...)
	if err != nil {
		return nil, runOutput{}, err
	}

	res := s.runner.Run(ctx, req)
	s.logger.Debug("mcp run finished",
		zap.String("run_id", res.RunID),
		zap.String("kind", string(res.Kind)),
	)

	out := runOutput{
		RunID:       res.RunID,
		Kind:        string(res.Kind),
		Reasoning:   res.Iterations.Reasoning,
		Validation:  res.Iterations.Validation,
		Diagnostics: res.Diagnostics,
	}
	if res.Score != nil {
		out.Score = res.Score.Overall
	}
	if res.Kind == engine.KindSuccess && res.Draft != nil {
		out.Output = s.scrubber.Scrub(res.Draft.Content).Scrubbed
	}
	return nil, out, nil
}

func (s *Server) handlePatternsSearch(ctx context.Context, _ *mcp.CallToolRequest, args patternsSearchInput) (*mcp.CallToolResult, patternsSearchOutput, error) {
	if s.store == nil {
		return nil, patternsSearchOutput{}, fmt.Errorf("pattern store not configured")
	}
	if args.Query == "" {
		return nil, patternsSearchOutput{}, fmt.Errorf("query is required")
	}
	workflow := pipeline.WorkflowType(args.Workflow)
	if args.Workflow != "" && !workflow.Valid() {
		return nil, patternsSearchOutput{}, fmt.Errorf("unknown workflow %q", args.Workflow)
	}

	matches, err := s.store.Lookup(ctx, patterns.LookupQuery{
		Text:     args.Query,
		Workflow: workflow,
		Domain:   args.Domain,
		Limit:    args.Limit,
	})
	if err != nil {
		return nil, patternsSearchOutput{}, fmt.Errorf("pattern lookup: %w", err)
	}

	out := patternsSearchOutput{Patterns: make([]patternEntry, 0, len(matches)), Count: len(matches)}
	for _, m := range matches {
		out.Patterns = append(out.Patterns, patternEntry{
			Signature:     m.Pattern.Signature,
			Strategy:      m.Pattern.Strategy,
			Effectiveness: m.Pattern.Effectiveness,
			Workflow:      string(m.Pattern.Workflow),
			Domain:        m.Pattern.Domain,
			Similarity:    m.Similarity,
		})
	}
	return nil, out, nil
}

func (s *Server) handleKnowledgeDomains(ctx context.Context, _ *mcp.CallToolRequest, _ knowledgeDomainsInput) (*mcp.CallToolResult, knowledgeDomainsOutput, error) {
	if s.know == nil {
		return nil, knowledgeDomainsOutput{}, fmt.Errorf("knowledge provider not configured")
	}
	domains, err := s.know.Domains(ctx)
	if err != nil {
		return nil, knowledgeDomainsOutput{}, fmt.Errorf("listing domains: %w", err)
	}
	return nil, knowledgeDomainsOutput{Domains: domains, Count: len(domains)}, nil
}
