package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observedLogger(t *testing.T) (*Logger, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	return &Logger{zap: zap.New(core)}, logs
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"debug", zapcore.DebugLevel, false},
		{"info", zapcore.InfoLevel, false},
		{"", zapcore.InfoLevel, false},
		{"WARN", zapcore.WarnLevel, false},
		{"warning", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"verbose", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestNew_RejectsUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "verbose", Format: "json"}, nil)
	require.Error(t, err)
}

func TestLogger_ContextFields(t *testing.T) {
	logger, logs := observedLogger(t)

	ctx := WithRun(context.Background(), Run{ID: "run-1", Workflow: "explain", Domain: "golang"})
	logger.Info(ctx, "stage completed", zap.String("stage", "plan"))

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "run-1", fields["run_id"])
	assert.Equal(t, "explain", fields["workflow"])
	assert.Equal(t, "golang", fields["domain"])
	assert.Equal(t, "plan", fields["stage"])
}

func TestLogger_NoRunNoFields(t *testing.T) {
	logger, logs := observedLogger(t)

	logger.Info(context.Background(), "startup")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Empty(t, entries[0].Context)
}

func TestRunFromContext_Zero(t *testing.T) {
	assert.Equal(t, Run{}, RunFromContext(context.Background()))
	assert.Nil(t, ContextFields(context.Background()))
}

func TestWithLogger_RoundTrip(t *testing.T) {
	logger := NewNop()
	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, FromContext(ctx))
}

func TestFromContext_Fallback(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))
}

func TestLogger_WithAndNamed(t *testing.T) {
	logger, logs := observedLogger(t)

	child := logger.With(zap.String("component", "engine")).Named("engine")
	child.Info(context.Background(), "ready")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "engine", entries[0].LoggerName)
	assert.Equal(t, "engine", entries[0].ContextMap()["component"])
}

func TestSync_IgnoresTerminalErrors(t *testing.T) {
	logger, err := New(DefaultConfig(), nil)
	require.NoError(t, err)
	assert.NoError(t, logger.Sync())
}
