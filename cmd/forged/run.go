package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/forged/internal/config"
	"github.com/fyrsmithlabs/forged/internal/durable"
	"github.com/fyrsmithlabs/forged/internal/engine"
	"github.com/fyrsmithlabs/forged/internal/pipeline"
)

var (
	runWorkflow    string
	runDomain      string
	runAttachments []string
	runDurable     bool
	runJSON        bool
)

var runCmd = &cobra.Command{
	Use:   "run <query>",
	Short: "Execute one request through the pipeline",
	Long: `Run a single request end to end and print the outcome. The workflow
is classified from the query unless --workflow is given.

Examples:
  # Explain something in the payments domain
  forged run --domain payments "how does the retry backoff work"

  # Read the query from stdin
  echo "explain the ledger reconciliation" | forged run --domain billing -

  # Force a workflow and attach context files
  forged run --domain billing --workflow review --attach notes.md "review the invoice rounding"

  # Route through the Temporal worker instead of running in-process
  forged run --domain payments --durable "how does settlement batching work"`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runWorkflow, "workflow", "", "workflow type (explain, review, guide, research); classified when empty")
	runCmd.Flags().StringVar(&runDomain, "domain", "", "knowledge domain for the request")
	runCmd.Flags().StringSliceVar(&runAttachments, "attach", nil, "attachment paths recorded with the request")
	runCmd.Flags().BoolVar(&runDurable, "durable", false, "execute on the Temporal task queue instead of in-process")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the full result as JSON")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	query := args[0]
	if query == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading query from stdin: %w", err)
		}
		query = strings.TrimSpace(string(data))
	}

	workflow := pipeline.WorkflowType(runWorkflow)
	if runWorkflow == "" {
		classifier, err := buildClassifier(cfg.Classify)
		if err != nil {
			return err
		}
		workflow, _ = classifier.Classify(query)
	}

	req, err := pipeline.NewRequest(query, workflow, runDomain, runAttachments...)
	if err != nil {
		return err
	}

	if runDurable {
		return runDurably(ctx, cfg, req)
	}

	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	res := rt.engine.Run(ctx, req)
	return printResult(res)
}

// runDurably hands the request to the Temporal task queue and waits for
// the workflow result.
func runDurably(ctx context.Context, cfg *config.Config, req *pipeline.Request) error {
	c, err := durable.Dial(cfg.Durable)
	if err != nil {
		return fmt.Errorf("dialing temporal: %w", err)
	}
	defer c.Close()

	out, err := durable.Execute(ctx, c, cfg.Durable, durable.RunInput{
		RequestID:               req.ID,
		Query:                   req.Query,
		Workflow:                req.Workflow,
		Domain:                  req.Domain,
		Attachments:             req.Attachments,
		ReasoningMaxIterations:  cfg.Engine.ReasoningMaxIterations,
		ValidationMaxIterations: cfg.Engine.ValidationMaxIterations,
		PassThreshold:           cfg.Engine.PassThreshold,
		LearningThreshold:       cfg.Engine.LearningThreshold,
	})
	if err != nil {
		return fmt.Errorf("executing durable run: %w", err)
	}

	if runJSON {
		return printJSON(out)
	}
	fmt.Printf("run %s finished: %s\n", out.RequestID, out.Kind)
	fmt.Printf("  score:      %.1f\n", out.Score)
	fmt.Printf("  iterations: %d reasoning, %d validation\n", out.Reasoning, out.Validation)
	if out.OutputRef != nil {
		fmt.Printf("  output:     %s\n", out.OutputRef.Location)
	}
	for _, d := range out.Diagnostics {
		fmt.Printf("  diagnostic: %s\n", d)
	}
	return nil
}

func printResult(res *engine.Result) error {
	if runJSON {
		return printJSON(res)
	}

	fmt.Printf("run %s finished: %s\n", res.RunID, res.Kind)
	if res.Score != nil {
		fmt.Printf("  score:      %.1f\n", res.Score.Overall)
	}
	fmt.Printf("  iterations: %d reasoning, %d validation\n", res.Iterations.Reasoning, res.Iterations.Validation)
	fmt.Printf("  took:       %s\n", res.Duration)
	if res.OutputRef != nil {
		fmt.Printf("  output:     %s\n", res.OutputRef.Location)
	}
	for _, d := range res.Diagnostics {
		fmt.Printf("  diagnostic: %s\n", d)
	}

	if res.Kind == engine.KindSuccess && res.Draft != nil {
		fmt.Println(strings.Repeat("-", 40))
		fmt.Println(res.Draft.Content)
	}
	if res.Kind.Fatal() {
		return res
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
