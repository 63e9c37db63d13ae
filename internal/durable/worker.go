package durable

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/fyrsmithlabs/forged/internal/config"
)

// Dial connects a Temporal client using the durable config.
func Dial(cfg config.DurableConfig) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("dialing temporal at %s: %w", cfg.HostPort, err)
	}
	return c, nil
}

// NewWorker registers the pipeline workflow and its activities on the
// configured task queue.
func NewWorker(c client.Client, cfg config.DurableConfig, acts *Activities) worker.Worker {
	w := worker.New(c, cfg.TaskQueue, worker.Options{})
	w.RegisterWorkflow(PipelineWorkflow)
	w.RegisterActivity(acts.PlanActivity)
	w.RegisterActivity(acts.ImplementActivity)
	w.RegisterActivity(acts.VerifyActivity)
	w.RegisterActivity(acts.ValidateActivity)
	w.RegisterActivity(acts.WarmStartActivity)
	w.RegisterActivity(acts.PublishActivity)
	w.RegisterActivity(acts.LearnActivity)
	return w
}

// Execute starts a pipeline workflow and blocks until it completes.
func Execute(ctx context.Context, c client.Client, cfg config.DurableConfig, input RunInput) (*RunOutput, error) {
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "pipeline-" + input.RequestID,
		TaskQueue: cfg.TaskQueue,
	}, PipelineWorkflow, input)
	if err != nil {
		return nil, fmt.Errorf("starting workflow: %w", err)
	}

	var out RunOutput
	if err := run.Get(ctx, &out); err != nil {
		return nil, fmt.Errorf("workflow result: %w", err)
	}
	return &out, nil
}
