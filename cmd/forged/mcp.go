package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/forged/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the engine over MCP stdio",
	Long: `Expose the pipeline as Model Context Protocol tools on stdin/stdout
for use by MCP clients. Tools: forge_run, forge_patterns_search,
forge_knowledge_domains.`,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	srvCfg := mcp.DefaultConfig()
	srvCfg.Version = version
	srvCfg.Logger = rt.logger.Underlying()

	srv, err := mcp.NewServer(srvCfg, rt.engine, rt.store, rt.know, rt.scrubber)
	if err != nil {
		return fmt.Errorf("initializing mcp server: %w", err)
	}
	return srv.Run(ctx)
}
