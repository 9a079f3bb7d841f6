// Package pool provides an in-memory worker pool for single-node
// deployments. Real container-backed pools implement the same
// orchestrator.WorkerPool contract.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/on-par/agent-ops/internal/domain"
	"github.com/on-par/agent-ops/internal/orchestrator"
)

// StaticPool tracks a fixed roster of workers plus any spawned at runtime.
// The embedding application releases workers from its post-execution and
// error hooks via Release.
type StaticPool struct {
	maxWorkers int

	mu      sync.Mutex
	workers map[string]*domain.Worker
}

var _ orchestrator.WorkerPool = (*StaticPool)(nil)

// Option configures a StaticPool.
type Option func(*StaticPool)

// WithMaxWorkers caps the pool size for CanSpawnMore.
func WithMaxWorkers(n int) Option {
	return func(p *StaticPool) { p.maxWorkers = n }
}

// New creates a pool seeded with the given workers.
func New(workers []domain.Worker, opts ...Option) *StaticPool {
	p := &StaticPool{
		maxWorkers: 10,
		workers:    make(map[string]*domain.Worker, len(workers)),
	}
	for _, opt := range opts {
		opt(p)
	}
	for _, w := range workers {
		worker := w
		p.workers[w.ID] = &worker
	}
	return p
}

// AvailableWorkers returns snapshots of the idle workers.
func (p *StaticPool) AvailableWorkers(ctx context.Context) ([]domain.Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []domain.Worker
	for _, w := range p.workers {
		if w.Status == domain.WorkerStatusIdle {
			out = append(out, *w)
		}
	}
	return out, nil
}

// AssignWork marks the worker busy with the given item.
func (p *StaticPool) AssignWork(ctx context.Context, workerID, itemID string, role domain.Role) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.workers[workerID]
	if !ok {
		return fmt.Errorf("unknown worker %s", workerID)
	}
	if w.Status != domain.WorkerStatusIdle {
		return fmt.Errorf("worker %s is not idle (status %s)", workerID, w.Status)
	}

	w.Status = domain.WorkerStatusWorking
	w.CurrentWorkItemID = itemID
	w.CurrentRole = role
	return nil
}

// Release returns a worker to the idle set and folds the execution's
// resource usage into its counters.
func (p *StaticPool) Release(workerID string, result orchestrator.ExecutionResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.workers[workerID]
	if !ok {
		return
	}

	w.Status = domain.WorkerStatusIdle
	w.CurrentWorkItemID = ""
	w.CurrentRole = ""
	w.TokensUsed += result.TokensUsed
	w.CostUSD += result.CostUSD
	w.ToolCallsCount += result.ToolCallsCount
}

// ReportError increments the worker's error counter.
func (p *StaticPool) ReportError(ctx context.Context, workerID, message string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.workers[workerID]
	if !ok {
		return fmt.Errorf("unknown worker %s", workerID)
	}

	w.ErrorCount++
	slog.WarnContext(ctx, "worker error reported",
		"worker_id", workerID,
		"error_count", w.ErrorCount,
		"message", message)
	return nil
}

// CanSpawnMore reports whether the pool is below its size cap.
func (p *StaticPool) CanSpawnMore(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers) < p.maxWorkers
}

// Spawn adds a new idle worker built from the template.
func (p *StaticPool) Spawn(ctx context.Context, templateID, sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.workers) >= p.maxWorkers {
		return fmt.Errorf("pool is at capacity (%d workers)", p.maxWorkers)
	}

	worker := &domain.Worker{
		ID:           uuid.NewString(),
		TemplateID:   templateID,
		Status:       domain.WorkerStatusIdle,
		ContextLimit: 200000,
	}
	p.workers[worker.ID] = worker

	slog.InfoContext(ctx, "worker spawned",
		"worker_id", worker.ID,
		"template_id", templateID,
		"session_id", sessionID)
	return nil
}

// Size returns the current roster size.
func (p *StaticPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}
