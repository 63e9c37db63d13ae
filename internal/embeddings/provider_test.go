package embeddings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectDimension(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{"BAAI/bge-small-en-v1.5", 384},
		{"BAAI/bge-base-en-v1.5", 768},
		{"BAAI/bge-small-zh-v1.5", 512},
		{"sentence-transformers/all-MiniLM-L6-v2", 384},
		{"text-embedding-3-small", 1536},
		{"text-embedding-3-large", 3072},
		{"some-unknown-base-model", 768},
		{"some-unknown-large-model", 1024},
		{"mystery", 384},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectDimension(tt.model))
		})
	}
}

func TestNewProvider_UnknownProvider(t *testing.T) {
	_, err := NewProvider(Config{Provider: "cohere"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestOpenAIConfig_Validate(t *testing.T) {
	assert.NoError(t, OpenAIConfig{BaseURL: "http://localhost:8080/v1", Model: "BAAI/bge-small-en-v1.5"}.Validate())
	assert.ErrorIs(t, OpenAIConfig{Model: "m"}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, OpenAIConfig{BaseURL: "http://localhost:8080/v1"}.Validate(), ErrInvalidConfig)
}

func TestNewOpenAIProvider_DimensionFromModel(t *testing.T) {
	p, err := NewOpenAIProvider(OpenAIConfig{
		BaseURL: "http://localhost:8080/v1",
		Model:   "text-embedding-3-small",
	})
	assert.NoError(t, err)
	assert.Equal(t, 1536, p.Dimension())
	assert.NoError(t, p.Close())
}
