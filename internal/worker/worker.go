// Package worker runs background similarity edge computation so that
// deliberation responses never wait on graph maintenance.
//
// Jobs arrive on two bounded channels (high and low priority); the drain
// loop always prefers high. A full queue rejects the job rather than
// blocking the producer, and a stopped worker drops silently.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shingi-ai/shingi/internal/config"
	"github.com/shingi-ai/shingi/internal/model"
	"github.com/shingi-ai/shingi/internal/similarity"
	"github.com/shingi-ai/shingi/internal/storage"
	"github.com/shingi-ai/shingi/internal/telemetry"
)

// ErrQueueFull is returned by Enqueue when the target priority channel is
// at capacity.
var ErrQueueFull = errors.New("worker: queue full")

// Priority selects which queue a job lands on.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityHigh
)

// Job asks the worker to compute similarity edges from one node to the
// rest of the graph. A non-zero Delay defers the enqueue by that long.
type Job struct {
	NodeID   string
	Question string
	Priority Priority
	Delay    time.Duration
}

// Stats is a snapshot of worker counters.
type Stats struct {
	Running       bool  `json:"running"`
	Processed     int64 `json:"processed"`
	Failed        int64 `json:"failed"`
	Dropped       int64 `json:"dropped"`
	EdgesWritten  int64 `json:"edges_written"`
	HighQueueSize int   `json:"high_queue_size"`
	LowQueueSize  int   `json:"low_queue_size"`
}

// Worker consumes similarity jobs and writes edges to storage.
type Worker struct {
	store   *storage.Store
	backend similarity.Backend
	cfg     config.WorkerConfig
	logger  *slog.Logger

	// onEdges is invoked after a job writes at least one edge, so the
	// owner can invalidate query caches.
	onEdges func()

	high chan Job
	low  chan Job

	running atomic.Bool
	quit    chan struct{}
	wg      sync.WaitGroup

	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	edges     atomic.Int64
}

// New creates a stopped worker. Each priority channel is bounded at the
// configured queue size.
func New(store *storage.Store, backend similarity.Backend, cfg config.WorkerConfig, onEdges func(), logger *slog.Logger) *Worker {
	per := cfg.MaxQueueSize
	if per < 1 {
		per = 1
	}
	return &Worker{
		store:   store,
		backend: backend,
		cfg:     cfg,
		logger:  logger,
		onEdges: onEdges,
		high:    make(chan Job, per),
		low:     make(chan Job, per),
	}
}

// Start launches the drain loop. Idempotent; a second call is a no-op.
func (w *Worker) Start(ctx context.Context) {
	if !w.running.CompareAndSwap(false, true) {
		return
	}
	w.quit = make(chan struct{})
	w.wg.Add(1)
	go w.run(ctx)
	w.logger.Info("worker: started", "queue_size", cap(w.high))
}

// Stop flips the worker to stopped, then waits up to timeout for the
// drain loop to finish its current job. Jobs still queued are abandoned.
func (w *Worker) Stop(timeout time.Duration) {
	if !w.running.CompareAndSwap(true, false) {
		return
	}
	close(w.quit)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		w.logger.Info("worker: stopped", "processed", w.processed.Load())
	case <-time.After(timeout):
		w.logger.Warn("worker: stop timed out", "timeout", timeout)
	}
}

// Enqueue submits a job without blocking. A stopped worker drops the job
// silently (the graph degrades, it never breaks a deliberation); a full
// queue returns ErrQueueFull. A delayed job is re-submitted by a timer
// and any late rejection is only logged.
func (w *Worker) Enqueue(job Job) error {
	if !w.running.Load() {
		w.dropped.Add(1)
		w.logger.Debug("worker: not running, job dropped", "node_id", job.NodeID)
		return nil
	}

	var ch chan Job
	switch job.Priority {
	case PriorityHigh:
		ch = w.high
	case PriorityLow:
		ch = w.low
	default:
		return fmt.Errorf("worker: unknown priority %d", job.Priority)
	}

	if job.Delay > 0 {
		delayed := job
		delayed.Delay = 0
		time.AfterFunc(job.Delay, func() {
			if err := w.Enqueue(delayed); err != nil {
				w.logger.Warn("worker: delayed enqueue rejected", "node_id", delayed.NodeID, "error", err)
			}
		})
		return nil
	}

	select {
	case ch <- job:
		return nil
	default:
		w.dropped.Add(1)
		return fmt.Errorf("%w: node %s", ErrQueueFull, job.NodeID)
	}
}

// Stats returns a snapshot of the worker's counters and queue depths.
func (w *Worker) Stats() Stats {
	return Stats{
		Running:       w.running.Load(),
		Processed:     w.processed.Load(),
		Failed:        w.failed.Load(),
		Dropped:       w.dropped.Load(),
		EdgesWritten:  w.edges.Load(),
		HighQueueSize: len(w.high),
		LowQueueSize:  len(w.low),
	}
}

// run drains jobs until the worker stops or the context ends. High
// priority is always tried first.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		// Biased receive: empty the high queue before touching low.
		select {
		case job := <-w.high:
			w.process(ctx, job)
			continue
		default:
		}

		select {
		case <-w.quit:
			return
		case <-ctx.Done():
			return
		case job := <-w.high:
			w.process(ctx, job)
		case job := <-w.low:
			w.process(ctx, job)
		}
	}
}

// process computes similarity edges from the job's node to a recent batch
// of other nodes and upserts those at or above the threshold.
func (w *Worker) process(ctx context.Context, job Job) {
	start := time.Now()

	nodes, err := w.store.ListNodes(ctx, w.cfg.BatchSize, 0)
	if err != nil {
		w.failed.Add(1)
		w.logger.Warn("worker: list nodes", "node_id", job.NodeID, "error", err)
		return
	}

	candidates := make([]similarity.Candidate, 0, len(nodes))
	for _, n := range nodes {
		if n.ID == job.NodeID {
			continue
		}
		candidates = append(candidates, similarity.Candidate{ID: n.ID, Question: n.Question})
	}

	simStart := time.Now()
	matches := w.backend.FindSimilar(ctx, job.Question, candidates, w.cfg.SimilarityThreshold)
	telemetry.RecordSimilarity(ctx, time.Since(simStart).Seconds(), w.backend.Name())

	var written int64
	for _, m := range matches {
		edge := model.DecisionSimilarity{
			SourceID:        job.NodeID,
			TargetID:        m.ID,
			SimilarityScore: m.Score,
			ComputedAt:      time.Now().UTC(),
		}
		// Edge persistence failures degrade the graph, not the job.
		if err := w.store.SaveSimilarity(ctx, edge); err != nil {
			w.logger.Warn("worker: save edge", "source", job.NodeID, "target", m.ID, "error", err)
			continue
		}
		written++
	}

	w.processed.Add(1)
	w.edges.Add(written)
	if written > 0 && w.onEdges != nil {
		w.onEdges()
	}
	w.logger.Debug("worker: job done",
		"node_id", job.NodeID,
		"candidates", len(candidates),
		"edges", written,
		"duration_ms", time.Since(start).Milliseconds())
}
