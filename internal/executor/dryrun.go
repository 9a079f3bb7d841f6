// Package executor holds executor implementations usable out of the box.
// Production deployments plug in their own agent runtime behind the
// orchestrator.Executor contract.
package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/on-par/agent-ops/internal/orchestrator"
)

// DryRun is an executor that performs no agent work: it logs the dispatch,
// waits the configured duration, and reports success. Used for smoke
// testing a deployment's scheduling path end to end.
type DryRun struct {
	delay time.Duration
}

var _ orchestrator.Executor = (*DryRun)(nil)

// NewDryRun creates a dry-run executor. A zero delay completes immediately.
func NewDryRun(delay time.Duration) *DryRun {
	return &DryRun{delay: delay}
}

// Execute simulates one execution.
func (e *DryRun) Execute(ctx context.Context, ec orchestrator.ExecutionContext) (orchestrator.ExecutionResult, error) {
	slog.InfoContext(ctx, "dry-run execution",
		"execution_id", ec.ExecutionID,
		"work_item_id", ec.WorkItem.ID,
		"worker_id", ec.WorkerID,
		"role", ec.Role)

	if e.delay > 0 {
		timer := time.NewTimer(e.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return orchestrator.ExecutionResult{
				ExecutionID: ec.ExecutionID,
				Status:      orchestrator.ExecutionCancelled,
			}, nil
		case <-timer.C:
		}
	}

	return orchestrator.ExecutionResult{
		ExecutionID: ec.ExecutionID,
		Status:      orchestrator.ExecutionSuccess,
	}, nil
}
