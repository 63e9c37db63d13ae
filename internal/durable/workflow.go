package durable

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/fyrsmithlabs/forged/internal/pipeline"
	"github.com/fyrsmithlabs/forged/internal/sink"
	"github.com/fyrsmithlabs/forged/internal/state"
)

// PipelineWorkflow drives the bounded quality loop with stage calls as
// activities. Activities run with MaximumAttempts 1: a failed stage
// fails the run, and only the loop itself decides what to retry.
func PipelineWorkflow(ctx workflow.Context, input RunInput) (*RunOutput, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("pipeline workflow starting",
		"request_id", input.RequestID,
		"workflow_type", input.Workflow,
		"domain", input.Domain)

	applyInputDefaults(&input)

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})

	out := &RunOutput{RequestID: input.RequestID, Kind: "capability_error"}

	var acts *Activities

	var warmStart string
	if err := workflow.ExecuteActivity(ctx, acts.WarmStartActivity, WarmStartInput{
		Query:    input.Query,
		Workflow: input.Workflow,
		Domain:   input.Domain,
	}).Get(ctx, &warmStart); err != nil {
		// Cold start; the lookup is advisory.
		logger.Warn("warm start activity failed", "error", err)
		warmStart = ""
	}

	stage := StageInput{
		RequestID:   input.RequestID,
		Query:       input.Query,
		Workflow:    input.Workflow,
		Domain:      input.Domain,
		Attachments: input.Attachments,
		WarmStart:   warmStart,
	}

	var (
		reasoning  int
		validation int
		plan       *pipeline.Plan
		draft      *pipeline.Draft
		score      *pipeline.ScoreReport
		bestDraft  *pipeline.Draft
		bestScore  *pipeline.ScoreReport
	)

	for {
		// Cumulative ceiling: validation rejections route back here
		// without resetting the counter.
		if reasoning >= input.ReasoningMaxIterations {
			out.Kind = "quality_threshold_not_met"
			out.Reasoning = reasoning
			out.Validation = validation
			if bestDraft != nil {
				out.Output = bestDraft.Content
			}
			if bestScore != nil {
				out.Score = bestScore.Overall
			}
			out.Diagnostics = append(out.Diagnostics,
				fmt.Sprintf("reasoning ceiling %d reached without passing score", input.ReasoningMaxIterations))
			return out, nil
		}
		stage.Iteration = reasoning + 1

		if err := workflow.ExecuteActivity(ctx, acts.PlanActivity, stage).Get(ctx, &plan); err != nil {
			return failOutput(out, reasoning, validation, "plan", err), nil
		}

		if err := workflow.ExecuteActivity(ctx, acts.ImplementActivity, ImplementInput{
			Stage: stage, Plan: plan,
		}).Get(ctx, &draft); err != nil {
			return failOutput(out, reasoning, validation, "implement", err), nil
		}

		if err := workflow.ExecuteActivity(ctx, acts.VerifyActivity, VerifyInput{
			Stage: stage, Draft: draft, Plan: plan,
		}).Get(ctx, &score); err != nil {
			return failOutput(out, reasoning, validation, "verify", err), nil
		}
		reasoning++

		score.Pass = score.Overall >= input.PassThreshold
		if bestScore == nil || score.Overall > bestScore.Overall {
			bestScore = score
			bestDraft = draft
		}

		if !score.Pass {
			stage.Feedback = append(stage.Feedback, FeedbackEntry{
				Source: string(state.FeedbackVerifier),
				Text:   score.Feedback,
			})
			continue
		}

		var report *pipeline.ValidationReport
		if err := workflow.ExecuteActivity(ctx, acts.ValidateActivity, ValidateInput{
			Stage: stage, Draft: draft, Score: score,
		}).Get(ctx, &report); err != nil {
			return failOutput(out, reasoning, validation, "validate", err), nil
		}
		validation++

		if !report.Approved {
			if validation >= input.ValidationMaxIterations {
				out.Kind = "validation_rejected"
				out.Reasoning = reasoning
				out.Validation = validation
				out.Score = score.Overall
				out.Diagnostics = append(out.Diagnostics,
					fmt.Sprintf("validation ceiling %d exhausted", input.ValidationMaxIterations))
				return out, nil
			}
			stage.Feedback = append(stage.Feedback, FeedbackEntry{
				Source: string(state.FeedbackValidator),
				Text:   report.Feedback,
			})
			continue
		}

		var ref *sink.Ref
		if err := workflow.ExecuteActivity(ctx, acts.PublishActivity, PublishInput{
			RequestID: input.RequestID,
			Query:     input.Query,
			Workflow:  input.Workflow,
			Domain:    input.Domain,
			Draft:     draft,
			Score:     score.Overall,
		}).Get(ctx, &ref); err != nil {
			return failOutput(out, reasoning, validation, "publish", err), nil
		}

		if score.Overall >= input.LearningThreshold || reasoning > 1 {
			if err := workflow.ExecuteActivity(ctx, acts.LearnActivity, LearnInput{
				Query:         input.Query,
				Strategy:      strategyOf(plan),
				Effectiveness: score.Overall / pipeline.MaxScore,
				Workflow:      input.Workflow,
				Domain:        input.Domain,
			}).Get(ctx, nil); err != nil {
				logger.Warn("learn activity failed", "error", err)
			}
		}

		out.Kind = "success"
		out.OutputRef = ref
		out.Output = draft.Content
		out.Score = score.Overall
		out.Reasoning = reasoning
		out.Validation = validation
		return out, nil
	}
}

func applyInputDefaults(in *RunInput) {
	if in.ReasoningMaxIterations <= 0 {
		in.ReasoningMaxIterations = 5
	}
	if in.ValidationMaxIterations <= 0 {
		in.ValidationMaxIterations = 2
	}
	if in.PassThreshold <= 0 {
		in.PassThreshold = pipeline.DefaultPassThreshold
	}
	if in.LearningThreshold <= 0 {
		in.LearningThreshold = pipeline.DefaultLearningThreshold
	}
}

func failOutput(out *RunOutput, reasoning, validation int, stage string, err error) *RunOutput {
	out.Kind = "capability_error"
	out.Reasoning = reasoning
	out.Validation = validation
	out.Diagnostics = append(out.Diagnostics, fmt.Sprintf("%s stage failed: %v", stage, err))
	return out
}

func strategyOf(plan *pipeline.Plan) string {
	var parts []string
	for _, step := range plan.Steps {
		parts = append(parts, step.Objective+": "+step.Approach)
	}
	return strings.Join(parts, "; ")
}
