// Package sanitize normalizes user-supplied names into identifiers safe
// for vector-store collections and output file names.
//
// Collection names must match ^[a-z0-9_]{1,64}$ across both chromem and
// qdrant, so everything funnels through that shape.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// MaxLength is the identifier length cap shared by chromem and qdrant
	// collection names.
	MaxLength = 64

	// hashSuffixLength is "_" plus an 8-char hash.
	hashSuffixLength = 9

	// DefaultIdentifier replaces inputs that sanitize to nothing.
	DefaultIdentifier = "default"
)

// Identifier lowercases s, replaces anything outside [a-z0-9_] with an
// underscore, collapses runs, trims the ends, and caps the length with a
// hash suffix so distinct long inputs stay distinct. Empty results become
// DefaultIdentifier.
func Identifier(s string) string {
	return normalize(s, '_')
}

// Slug is Identifier with hyphens, for output file names.
func Slug(s string) string {
	return normalize(s, '-')
}

func normalize(s string, sep rune) string {
	if s == "" {
		return DefaultIdentifier
	}

	s = strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune(sep)
		}
	}

	sepStr := string(sep)
	out := b.String()
	for strings.Contains(out, sepStr+sepStr) {
		out = strings.ReplaceAll(out, sepStr+sepStr, sepStr)
	}
	out = strings.Trim(out, sepStr)

	if out == "" {
		return DefaultIdentifier
	}
	if len(out) > MaxLength {
		out = truncateWithHash(out, sepStr)
	}
	return out
}

// truncateWithHash shortens s to MaxLength, appending an 8-char hash of
// the original so collisions between long names stay unlikely.
func truncateWithHash(s, sep string) string {
	hash := sha256.Sum256([]byte(s))
	suffix := sep + hex.EncodeToString(hash[:])[:8]

	truncated := strings.TrimRight(s[:MaxLength-hashSuffixLength], sep)
	return truncated + suffix
}

// Collection builds a pattern-store collection name from workflow and
// domain components, e.g. Collection("explain", "Go Internals") ->
// "patterns_explain_go_internals".
func Collection(workflow, domain string) string {
	name := "patterns_" + Identifier(workflow) + "_" + Identifier(domain)
	if len(name) > MaxLength {
		name = truncateWithHash(name, "_")
	}
	return name
}
