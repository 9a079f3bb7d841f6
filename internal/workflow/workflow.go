// Package workflow applies work-item state changes through the work store.
// It is the single write path the orchestrator uses for status, startedAt,
// and completedAt.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/on-par/agent-ops/internal/domain"
	"github.com/on-par/agent-ops/internal/orchestrator"
)

// Workflow is a store-backed implementation of orchestrator.Workflow.
type Workflow struct {
	store orchestrator.WorkStore
	now   func() time.Time
}

var _ orchestrator.Workflow = (*Workflow)(nil)

// New creates a workflow over the given store.
func New(store orchestrator.WorkStore) *Workflow {
	return &Workflow{
		store: store,
		now:   time.Now,
	}
}

// AssignWorkToAgent records that a worker was assigned to the item. The
// item must exist; the actual worker-side bookkeeping belongs to the pool.
func (w *Workflow) AssignWorkToAgent(ctx context.Context, itemID, workerID string, role domain.Role) error {
	item, err := w.store.FindByID(ctx, itemID)
	if err != nil {
		return fmt.Errorf("failed to resolve work item %s for assignment: %w", itemID, err)
	}

	slog.InfoContext(ctx, "work assigned",
		"work_item_id", item.ID,
		"worker_id", workerID,
		"role", role)
	return nil
}

// CompleteWork stamps the item's completion time.
func (w *Workflow) CompleteWork(ctx context.Context, itemID, workerID string) error {
	completedAt := w.now().UTC()
	if err := w.store.Update(ctx, itemID, domain.WorkItemUpdate{CompletedAt: &completedAt}); err != nil {
		return fmt.Errorf("failed to record completion for %s: %w", itemID, err)
	}

	slog.InfoContext(ctx, "work completed",
		"work_item_id", itemID,
		"worker_id", workerID)
	return nil
}

// Transition moves the item to the target status, stamping startedAt on
// entry to in_progress and completedAt on entry to review.
func (w *Workflow) Transition(ctx context.Context, itemID string, target domain.WorkItemStatus) error {
	if !target.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidStatus, target)
	}

	update := domain.WorkItemUpdate{Status: &target}
	switch target {
	case domain.WorkItemStatusInProgress:
		startedAt := w.now().UTC()
		update.StartedAt = &startedAt
	case domain.WorkItemStatusReview:
		completedAt := w.now().UTC()
		update.CompletedAt = &completedAt
	}

	if err := w.store.Update(ctx, itemID, update); err != nil {
		return fmt.Errorf("failed to transition %s to %s: %w", itemID, target, err)
	}
	return nil
}
