// Package knowledge loads domain reference material for grounding runs.
//
// A knowledge snapshot is an immutable, ranked set of sources for one
// domain. Runs cite source IDs from the snapshot they were given, so a
// snapshot never changes under a run in flight; cache invalidation only
// affects later runs.
package knowledge

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnknownDomain indicates no knowledge exists for the domain.
	ErrUnknownDomain = errors.New("unknown knowledge domain")

	// ErrInvalidDomain indicates a domain name that cannot be a directory.
	ErrInvalidDomain = errors.New("invalid knowledge domain")

	// ErrRootNotFound indicates the knowledge root does not exist.
	ErrRootNotFound = errors.New("knowledge root not found")
)

// Source is one reference document inside a snapshot.
type Source struct {
	// ID is the document name, unique within the domain.
	ID string `json:"id"`

	// Content is the normalized document text.
	Content string `json:"content"`

	// PriorityRank orders sources, 1 is most authoritative.
	PriorityRank int `json:"priority_rank"`
}

// Snapshot is the read-only knowledge view handed to a run.
type Snapshot struct {
	Domain  string    `json:"domain"`
	Name    string    `json:"name,omitempty"`
	Voice   string    `json:"voice,omitempty"`
	Sources []Source  `json:"sources"`
	Version string    `json:"version,omitempty"`
	TakenAt time.Time `json:"taken_at"`
}

// IDs returns the source IDs in rank order, for citation checks.
func (s *Snapshot) IDs() []string {
	ids := make([]string, len(s.Sources))
	for i, src := range s.Sources {
		ids[i] = src.ID
	}
	return ids
}

// HasSource reports whether id names a source in the snapshot.
func (s *Snapshot) HasSource(id string) bool {
	for _, src := range s.Sources {
		if src.ID == id {
			return true
		}
	}
	return false
}

// Chars is the total content size, used for budget estimation.
func (s *Snapshot) Chars() int {
	n := 0
	for _, src := range s.Sources {
		n += len(src.Content)
	}
	return n
}

// Provider serves knowledge snapshots by domain.
type Provider interface {
	Snapshot(ctx context.Context, domain string) (*Snapshot, error)
	Domains(ctx context.Context) ([]string, error)
}
