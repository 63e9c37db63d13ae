package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/forged/internal/durable"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the Temporal pipeline worker",
	Long: `Register the pipeline workflow and its stage activities on the
configured Temporal task queue and process durable runs until
interrupted.

Examples:
  # Run against the configured Temporal cluster
  forged worker

  # Point at a different cluster
  FORGED_DURABLE_HOST_PORT=temporal.internal:7233 forged worker`,
	RunE: runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	rt, err := buildRuntime(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())
	zl := rt.logger.Underlying()

	acts, err := durable.NewActivities(rt.backend, rt.know, rt.sink, rt.store, zl)
	if err != nil {
		return fmt.Errorf("initializing activities: %w", err)
	}

	c, err := durable.Dial(cfg.Durable)
	if err != nil {
		return fmt.Errorf("dialing temporal: %w", err)
	}
	defer c.Close()

	w := durable.NewWorker(c, cfg.Durable, acts)

	zl.Info("worker starting",
		zap.String("task_queue", cfg.Durable.TaskQueue),
		zap.String("host_port", cfg.Durable.HostPort),
	)
	if err := w.Run(worker.InterruptCh()); err != nil {
		return fmt.Errorf("running worker: %w", err)
	}
	return nil
}
