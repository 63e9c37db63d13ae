package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpapi "github.com/fyrsmithlabs/forged/internal/http"
	"github.com/fyrsmithlabs/forged/internal/patterns"
	"github.com/fyrsmithlabs/forged/internal/pipeline"
)

var (
	patternsWorkflow string
	patternsDomain   string
	patternsLimit    int

	listWorkflow string
	listDomain   string
	listLimit    int
)

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Inspect the learned pattern store",
}

var patternsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored patterns from the local store",
	Long: `Enumerate the configured pattern store directly, newest first.
Requires a backend that supports listing (memory or qdrant).

Examples:
  # List patterns learned for explain runs in the payments domain
  forged patterns list --workflow explain --domain payments`,
	RunE: runPatternsList,
}

var patternsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search learned patterns on a running server",
	Long: `Search the pattern store of a running forged server by query
similarity.

Examples:
  # Find strategies for similar requests
  forged patterns search "retry backoff"

  # Narrow to one workflow and domain
  forged patterns search --workflow explain --domain payments "retry backoff"`,
	Args: cobra.ExactArgs(1),
	RunE: runPatternsSearch,
}

func init() {
	patternsSearchCmd.Flags().StringVar(&patternsWorkflow, "workflow", "", "restrict matches to one workflow type")
	patternsSearchCmd.Flags().StringVar(&patternsDomain, "domain", "", "restrict matches to one domain")
	patternsSearchCmd.Flags().IntVar(&patternsLimit, "limit", 5, "maximum matches to return")
	patternsListCmd.Flags().StringVar(&listWorkflow, "workflow", "explain", "workflow type to list")
	patternsListCmd.Flags().StringVar(&listDomain, "domain", "", "domain to list")
	patternsListCmd.Flags().IntVar(&listLimit, "limit", 20, "maximum patterns to return")
	patternsCmd.AddCommand(patternsListCmd)
	patternsCmd.AddCommand(patternsSearchCmd)
}

func runPatternsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	rt := &runtime{cfg: cfg}
	defer rt.Close(cmd.Context())
	store, err := buildPatternStore(cfg, rt, zap.NewNop())
	if err != nil {
		return err
	}
	rt.store = store

	lister, ok := store.(patterns.Lister)
	if !ok {
		return fmt.Errorf("the %s pattern backend does not support listing", cfg.Patterns.Provider)
	}

	workflow := pipeline.WorkflowType(listWorkflow)
	if !workflow.Valid() {
		return fmt.Errorf("invalid workflow %q", listWorkflow)
	}

	rows, err := lister.List(cmd.Context(), workflow, listDomain, listLimit)
	if err != nil {
		return fmt.Errorf("listing patterns: %w", err)
	}
	if len(rows) == 0 {
		fmt.Println("no stored patterns")
		return nil
	}

	for _, p := range rows {
		fmt.Printf("%s  [%s/%s]  effectiveness %.1f\n", p.CreatedAt.Format("2006-01-02 15:04"), p.Workflow, p.Domain, p.Effectiveness)
		fmt.Printf("      %s\n", p.Strategy)
	}
	return nil
}

func runPatternsSearch(cmd *cobra.Command, args []string) error {
	params := url.Values{}
	params.Set("q", args[0])
	params.Set("limit", strconv.Itoa(patternsLimit))
	if patternsWorkflow != "" {
		params.Set("workflow", patternsWorkflow)
	}
	if patternsDomain != "" {
		params.Set("domain", patternsDomain)
	}

	endpoint := serverURL + "/api/v1/patterns?" + params.Encode()
	client := &http.Client{Timeout: 10 * time.Second}

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("reaching server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}

	var list httpapi.PatternListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	if len(list.Patterns) == 0 {
		fmt.Println("no matching patterns")
		return nil
	}

	for _, p := range list.Patterns {
		fmt.Printf("%.2f  [%s/%s]  effectiveness %.1f\n", p.Similarity, p.Workflow, p.Domain, p.Effectiveness)
		fmt.Printf("      %s\n", p.Strategy)
	}
	return nil
}
