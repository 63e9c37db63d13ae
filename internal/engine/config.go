package engine

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/forged/internal/pipeline"
)

// Loop defaults.
const (
	DefaultReasoningMaxIterations  = 5
	DefaultValidationMaxIterations = 2
)

var (
	ErrInvalidIterations = errors.New("iteration ceiling must be at least 1")
	ErrInvalidThreshold  = errors.New("threshold must be between 0 and 10")
)

// Config bounds the engine's loops and gates.
type Config struct {
	// ReasoningMaxIterations caps plan/implement/verify passes. The
	// counter is cumulative: validation rejections do not reset it.
	ReasoningMaxIterations int

	// ValidationMaxIterations caps validate calls per run.
	ValidationMaxIterations int

	// PassThreshold is the overall score required to exit the reasoning
	// loop.
	PassThreshold float64

	// LearningThreshold is the overall score at which a one-pass success
	// is still stored as a pattern. Multi-pass successes are always
	// stored; the extra iterations are the lesson.
	LearningThreshold float64
}

// DefaultConfig returns the documented loop defaults.
func DefaultConfig() Config {
	return Config{
		ReasoningMaxIterations:  DefaultReasoningMaxIterations,
		ValidationMaxIterations: DefaultValidationMaxIterations,
		PassThreshold:           pipeline.DefaultPassThreshold,
		LearningThreshold:       pipeline.DefaultLearningThreshold,
	}
}

// Validate checks every ceiling and threshold range.
func (c Config) Validate() error {
	if c.ReasoningMaxIterations < 1 {
		return fmt.Errorf("%w: reasoning_max_iterations %d", ErrInvalidIterations, c.ReasoningMaxIterations)
	}
	if c.ValidationMaxIterations < 1 {
		return fmt.Errorf("%w: validation_max_iterations %d", ErrInvalidIterations, c.ValidationMaxIterations)
	}
	if c.PassThreshold < 0 || c.PassThreshold > pipeline.MaxScore {
		return fmt.Errorf("%w: pass_threshold %f", ErrInvalidThreshold, c.PassThreshold)
	}
	if c.LearningThreshold < 0 || c.LearningThreshold > pipeline.MaxScore {
		return fmt.Errorf("%w: learning_threshold %f", ErrInvalidThreshold, c.LearningThreshold)
	}
	return nil
}
