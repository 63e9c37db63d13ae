package http

import (
	"sync"

	"github.com/fyrsmithlabs/forged/internal/engine"
	"github.com/fyrsmithlabs/forged/internal/pipeline"
)

type runEntry struct {
	req *pipeline.Request
	res *engine.Result
}

// runRegistry retains the most recent runs for the read endpoints.
// Oldest entries are evicted once the cap is reached.
type runRegistry struct {
	mu      sync.RWMutex
	cap     int
	order   []string
	entries map[string]runEntry

	totalRuns      int
	byKind         map[string]int
	totalDuration  int64
	totalReasoning int
}

func newRunRegistry(capacity int) *runRegistry {
	return &runRegistry{
		cap:     capacity,
		entries: make(map[string]runEntry),
		byKind:  make(map[string]int),
	}
}

func (r *runRegistry) add(req *pipeline.Request, res *engine.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := res.RunID
	if _, exists := r.entries[id]; !exists {
		r.order = append(r.order, id)
	}
	r.entries[id] = runEntry{req: req, res: res}

	for len(r.order) > r.cap {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.entries, oldest)
	}

	// Aggregates cover every run ever seen, not only the retained ones.
	r.totalRuns++
	r.byKind[string(res.Kind)]++
	r.totalDuration += res.Duration.Milliseconds()
	r.totalReasoning += res.Iterations.Reasoning
}

func (r *runRegistry) get(id string) (runEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// list returns retained entries newest first.
func (r *runRegistry) list() []runEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]runEntry, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		out = append(out, r.entries[r.order[i]])
	}
	return out
}

func (r *runRegistry) stats() StatsResponse {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := StatsResponse{
		TotalRuns: r.totalRuns,
		ByKind:    make(map[string]int, len(r.byKind)),
		Recent:    make([]string, 0, len(r.order)),
	}
	for k, v := range r.byKind {
		stats.ByKind[k] = v
	}
	if r.totalRuns > 0 {
		stats.AvgDurationMS = r.totalDuration / int64(r.totalRuns)
		stats.AvgIterations = float64(r.totalReasoning) / float64(r.totalRuns)
	}
	for _, id := range r.order {
		stats.Recent = append(stats.Recent, string(r.entries[id].res.Kind))
	}
	return stats
}
