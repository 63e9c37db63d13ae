package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/forged/internal/config"
	"github.com/fyrsmithlabs/forged/internal/events"
	"github.com/fyrsmithlabs/forged/internal/pipeline"
)

func TestBuildBackend_DefaultsToHeuristic(t *testing.T) {
	backend, err := buildBackend(config.BackendConfig{
		PlanTimeout:      config.Duration(time.Minute),
		ImplementTimeout: config.Duration(time.Minute),
		VerifyTimeout:    config.Duration(time.Minute),
		ValidateTimeout:  config.Duration(time.Minute),
	}, zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, backend)
}

func TestBuildBackend_UnknownProvider(t *testing.T) {
	_, err := buildBackend(config.BackendConfig{Provider: "quantum"}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quantum")
}

func TestBuildClassifier_Default(t *testing.T) {
	classifier, err := buildClassifier(config.ClassifyConfig{})
	require.NoError(t, err)

	workflow, _ := classifier.Classify("explain the settlement batching")
	assert.Equal(t, pipeline.WorkflowExplain, workflow)
}

func TestBuildClassifier_CustomRules(t *testing.T) {
	classifier, err := buildClassifier(config.ClassifyConfig{
		Rules: []config.ClassifyRule{
			{Pattern: `\btriage\b`, Workflow: "research", Confidence: 0.9},
		},
	})
	require.NoError(t, err)

	workflow, confidence := classifier.Classify("triage the flaky checkout test")
	assert.Equal(t, pipeline.WorkflowResearch, workflow)
	assert.InDelta(t, 0.9, confidence, 0.2)
}

func TestBuildClassifier_BadPattern(t *testing.T) {
	_, err := buildClassifier(config.ClassifyConfig{
		Rules: []config.ClassifyRule{{Pattern: `(unclosed`, Workflow: "explain"}},
	})
	require.Error(t, err)
}

func TestBuildSink_File(t *testing.T) {
	s, err := buildSink(context.Background(), config.SinkConfig{
		Type:      "file",
		OutputDir: t.TempDir(),
	}, zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestBuildSink_UnknownType(t *testing.T) {
	_, err := buildSink(context.Background(), config.SinkConfig{Type: "carrier-pigeon"}, zap.NewNop())
	require.Error(t, err)
}

func TestBuildEmitter_DisabledIsNoop(t *testing.T) {
	emitter, err := buildEmitter(config.EventsConfig{}, &runtime{}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, events.Noop{}, emitter)
}
