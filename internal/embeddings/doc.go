// Package embeddings provides embedding generation via multiple providers.
//
// Supports FastEmbed (local ONNX, no external service) and OpenAI-compatible
// HTTP endpoints (OpenAI or TEI). Factory pattern enables provider selection
// at runtime with automatic dimension detection for common models.
//
// Embedding is symmetric: stored pattern text and lookup queries go through
// the same path so cosine similarities stay comparable.
package embeddings
