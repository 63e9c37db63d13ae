package embeddings

import "strings"

// DetectDimension returns the embedding dimension for a model name,
// falling back to common naming patterns for unknown models.
func DetectDimension(model string) int {
	switch model {
	case "BAAI/bge-small-en-v1.5", "BAAI/bge-small-en", "fast-bge-small-en-v1.5", "fast-bge-small-en":
		return 384
	case "sentence-transformers/all-MiniLM-L6-v2", "fast-all-MiniLM-L6-v2":
		return 384
	case "BAAI/bge-base-en-v1.5", "BAAI/bge-base-en", "fast-bge-base-en-v1.5", "fast-bge-base-en":
		return 768
	case "BAAI/bge-small-zh-v1.5", "fast-bge-small-zh-v1.5":
		return 512
	case "text-embedding-3-small", "text-embedding-ada-002":
		return 1536
	case "text-embedding-3-large":
		return 3072
	}
	switch {
	case strings.Contains(model, "large"):
		return 1024
	case strings.Contains(model, "base"):
		return 768
	default:
		// bge-small class; safe default
		return 384
	}
}
