package durable

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"github.com/fyrsmithlabs/forged/internal/pipeline"
	"github.com/fyrsmithlabs/forged/internal/sink"
)

func testInput() RunInput {
	return RunInput{
		RequestID:               "req-1",
		Query:                   "explain goroutines",
		Workflow:                pipeline.WorkflowExplain,
		Domain:                  "go",
		ReasoningMaxIterations:  5,
		ValidationMaxIterations: 2,
		PassThreshold:           9.0,
		LearningThreshold:       8.0,
	}
}

func testPlan() *pipeline.Plan {
	return &pipeline.Plan{
		Steps:      []pipeline.PlanStep{{Objective: "explain", Approach: "examples"}},
		Confidence: 0.9,
	}
}

func newEnv(t *testing.T) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(PipelineWorkflow)

	var acts *Activities
	env.RegisterActivity(acts.PlanActivity)
	env.RegisterActivity(acts.ImplementActivity)
	env.RegisterActivity(acts.VerifyActivity)
	env.RegisterActivity(acts.ValidateActivity)
	env.RegisterActivity(acts.WarmStartActivity)
	env.RegisterActivity(acts.PublishActivity)
	env.RegisterActivity(acts.LearnActivity)
	return env
}

func TestPipelineWorkflow_PassFirstIteration(t *testing.T) {
	env := newEnv(t)
	var acts *Activities

	env.OnActivity(acts.WarmStartActivity, mock.Anything, mock.Anything).Return("", nil)
	env.OnActivity(acts.PlanActivity, mock.Anything, mock.Anything).Return(testPlan(), nil)
	env.OnActivity(acts.ImplementActivity, mock.Anything, mock.Anything).
		Return(&pipeline.Draft{Content: "the draft"}, nil)
	env.OnActivity(acts.VerifyActivity, mock.Anything, mock.Anything).
		Return(&pipeline.ScoreReport{Overall: 9.5}, nil)
	env.OnActivity(acts.ValidateActivity, mock.Anything, mock.Anything).
		Return(&pipeline.ValidationReport{Approved: true, PublishReady: true}, nil)
	env.OnActivity(acts.PublishActivity, mock.Anything, mock.Anything).
		Return(&sink.Ref{ID: "out-1", Location: "/tmp/out-1.md"}, nil)
	env.OnActivity(acts.LearnActivity, mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(PipelineWorkflow, testInput())

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out RunOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.Equal(t, "success", out.Kind)
	assert.Equal(t, "the draft", out.Output)
	assert.Equal(t, 9.5, out.Score)
	assert.Equal(t, 1, out.Reasoning)
	require.NotNil(t, out.OutputRef)
	assert.Equal(t, "out-1", out.OutputRef.ID)

	env.AssertNumberOfCalls(t, "PlanActivity", 1)
	env.AssertNumberOfCalls(t, "VerifyActivity", 1)
}

func TestPipelineWorkflow_QualityCeiling(t *testing.T) {
	env := newEnv(t)
	var acts *Activities

	env.OnActivity(acts.WarmStartActivity, mock.Anything, mock.Anything).Return("", nil)
	env.OnActivity(acts.PlanActivity, mock.Anything, mock.Anything).Return(testPlan(), nil)
	env.OnActivity(acts.ImplementActivity, mock.Anything, mock.Anything).
		Return(&pipeline.Draft{Content: "weak draft"}, nil)
	env.OnActivity(acts.VerifyActivity, mock.Anything, mock.Anything).
		Return(&pipeline.ScoreReport{Overall: 5.0, Feedback: "not grounded"}, nil)

	env.ExecuteWorkflow(PipelineWorkflow, testInput())

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out RunOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.Equal(t, "quality_threshold_not_met", out.Kind)
	assert.Equal(t, 5, out.Reasoning)
	assert.Equal(t, "weak draft", out.Output, "best draft carried into the result")
	assert.Equal(t, 5.0, out.Score)

	env.AssertNumberOfCalls(t, "VerifyActivity", 5)
	env.AssertNumberOfCalls(t, "PublishActivity", 0)
}

func TestPipelineWorkflow_ValidationRejected(t *testing.T) {
	env := newEnv(t)
	var acts *Activities

	env.OnActivity(acts.WarmStartActivity, mock.Anything, mock.Anything).Return("", nil)
	env.OnActivity(acts.PlanActivity, mock.Anything, mock.Anything).Return(testPlan(), nil)
	env.OnActivity(acts.ImplementActivity, mock.Anything, mock.Anything).
		Return(&pipeline.Draft{Content: "polished draft"}, nil)
	env.OnActivity(acts.VerifyActivity, mock.Anything, mock.Anything).
		Return(&pipeline.ScoreReport{Overall: 9.2}, nil)
	env.OnActivity(acts.ValidateActivity, mock.Anything, mock.Anything).
		Return(&pipeline.ValidationReport{Approved: false, Feedback: "tone is off"}, nil)

	env.ExecuteWorkflow(PipelineWorkflow, testInput())

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out RunOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.Equal(t, "validation_rejected", out.Kind)
	assert.Equal(t, 2, out.Validation)

	env.AssertNumberOfCalls(t, "ValidateActivity", 2)
	env.AssertNumberOfCalls(t, "PublishActivity", 0)
}

func TestPipelineWorkflow_StageFailureEndsRun(t *testing.T) {
	env := newEnv(t)
	var acts *Activities

	env.OnActivity(acts.WarmStartActivity, mock.Anything, mock.Anything).Return("", nil)
	env.OnActivity(acts.PlanActivity, mock.Anything, mock.Anything).
		Return(nil, errors.New("model unavailable"))

	env.ExecuteWorkflow(PipelineWorkflow, testInput())

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out RunOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.Equal(t, "capability_error", out.Kind)
	require.NotEmpty(t, out.Diagnostics)
	assert.Contains(t, out.Diagnostics[0], "plan stage failed")

	env.AssertNumberOfCalls(t, "PlanActivity", 1)
	env.AssertNumberOfCalls(t, "ImplementActivity", 0)
}

func TestPipelineWorkflow_LearnSkippedBelowThreshold(t *testing.T) {
	env := newEnv(t)
	var acts *Activities

	input := testInput()
	input.PassThreshold = 7.0

	env.OnActivity(acts.WarmStartActivity, mock.Anything, mock.Anything).Return("", nil)
	env.OnActivity(acts.PlanActivity, mock.Anything, mock.Anything).Return(testPlan(), nil)
	env.OnActivity(acts.ImplementActivity, mock.Anything, mock.Anything).
		Return(&pipeline.Draft{Content: "ok draft"}, nil)
	env.OnActivity(acts.VerifyActivity, mock.Anything, mock.Anything).
		Return(&pipeline.ScoreReport{Overall: 7.5}, nil)
	env.OnActivity(acts.ValidateActivity, mock.Anything, mock.Anything).
		Return(&pipeline.ValidationReport{Approved: true}, nil)
	env.OnActivity(acts.PublishActivity, mock.Anything, mock.Anything).
		Return(&sink.Ref{ID: "out-2"}, nil)

	env.ExecuteWorkflow(PipelineWorkflow, input)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out RunOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.Equal(t, "success", out.Kind)

	// First-pass success below the learning threshold stores nothing.
	env.AssertNumberOfCalls(t, "LearnActivity", 0)
}
