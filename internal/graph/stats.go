package graph

import (
	"context"
	"time"

	"github.com/shingi-ai/shingi/internal/cache"
	"github.com/shingi-ai/shingi/internal/worker"
)

// Stats summarizes graph size and storage footprint.
type Stats struct {
	Nodes       int    `json:"nodes"`
	Stances     int    `json:"stances"`
	Edges       int    `json:"edges"`
	DBSizeBytes int64  `json:"db_size_bytes"`
	DBPath      string `json:"db_path"`
	Error       string `json:"error,omitempty"`
}

// Metrics extends Stats with cache and worker observability.
type Metrics struct {
	Stats   Stats          `json:"stats"`
	Caches  cache.Snapshot `json:"caches"`
	Worker  *worker.Stats  `json:"worker,omitempty"`
	Backend string         `json:"similarity_backend"`
}

// Health reports whether the graph database answers a ping.
type Health struct {
	Healthy   bool      `json:"healthy"`
	CheckedAt time.Time `json:"checked_at"`
	Error     string    `json:"error,omitempty"`
}

// GraphStats returns current counts. Failures are reported in the value,
// never as an error; stats are observation, not control flow.
func (g *Graph) GraphStats(ctx context.Context) Stats {
	s := Stats{DBPath: g.store.Path(), DBSizeBytes: g.store.DBSizeBytes()}

	var err error
	if s.Nodes, err = g.store.CountNodes(ctx); err != nil {
		s.Error = err.Error()
		return s
	}
	if s.Stances, err = g.store.CountStances(ctx); err != nil {
		s.Error = err.Error()
		return s
	}
	if s.Edges, err = g.store.CountEdges(ctx); err != nil {
		s.Error = err.Error()
	}
	return s
}

// GraphMetrics returns the full observability snapshot.
func (g *Graph) GraphMetrics(ctx context.Context) Metrics {
	m := Metrics{
		Stats:   g.GraphStats(ctx),
		Caches:  g.stats.Snapshot(),
		Backend: g.backend.Name(),
	}
	if g.worker != nil {
		ws := g.worker.Stats()
		m.Worker = &ws
	}
	return m
}

// HealthCheck pings the database.
func (g *Graph) HealthCheck(ctx context.Context) Health {
	h := Health{CheckedAt: time.Now().UTC()}
	if err := g.store.Ping(ctx); err != nil {
		h.Error = err.Error()
		return h
	}
	h.Healthy = true
	return h
}
