package orchestrator

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/on-par/agent-ops/internal/domain"
)

// Tracker converts agent-lifecycle events into work-item state changes and
// an outbound event stream. Tracking is best-effort: a failed store write is
// logged and swallowed so it never breaks an execution.
type Tracker struct {
	workflow  Workflow
	sink      UpdateSink
	publisher ProgressPublisher

	mu        sync.Mutex
	history   map[string][]domain.ProgressEvent
	listeners []ProgressListener

	now func() time.Time
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithUpdateSink attaches an observability sink for work-item updates.
func WithUpdateSink(sink UpdateSink) TrackerOption {
	return func(t *Tracker) { t.sink = sink }
}

// WithPublisher attaches an external progress-event publisher.
func WithPublisher(p ProgressPublisher) TrackerOption {
	return func(t *Tracker) { t.publisher = p }
}

// NewTracker creates a progress tracker that applies status transitions
// through the given workflow.
func NewTracker(workflow Workflow, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		workflow: workflow,
		history:  make(map[string][]domain.ProgressEvent),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// AddListener registers a listener. Listeners run synchronously in
// registration order; a panicking listener does not stop the others.
func (t *Tracker) AddListener(l ProgressListener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, l)
}

// MarkStarted records the start of an execution and moves the work item to
// in_progress.
func (t *Tracker) MarkStarted(ctx context.Context, itemID, workerID, executionID string) {
	t.record(ctx, domain.ProgressEvent{
		WorkItemID:  itemID,
		WorkerID:    workerID,
		ExecutionID: executionID,
		Status:      domain.ProgressStarted,
		Timestamp:   t.now(),
	})
}

// UpdateProgress records intermediate progress. The value is clamped to
// [0, 99]; 100 is reserved for completion.
func (t *Tracker) UpdateProgress(ctx context.Context, itemID, workerID, executionID, message string, progress int) {
	if progress < 0 {
		progress = 0
	}
	if progress > 99 {
		progress = 99
	}
	t.record(ctx, domain.ProgressEvent{
		WorkItemID:  itemID,
		WorkerID:    workerID,
		ExecutionID: executionID,
		Status:      domain.ProgressInProgress,
		Message:     message,
		Progress:    progress,
		Timestamp:   t.now(),
	})
}

// RecordMilestone records a named milestone without changing workflow state.
func (t *Tracker) RecordMilestone(ctx context.Context, itemID, workerID, executionID, milestone string) {
	t.record(ctx, domain.ProgressEvent{
		WorkItemID:  itemID,
		WorkerID:    workerID,
		ExecutionID: executionID,
		Status:      domain.ProgressMilestone,
		Message:     milestone,
		Timestamp:   t.now(),
	})
}

// MarkBlocked records that the execution is waiting on something external.
func (t *Tracker) MarkBlocked(ctx context.Context, itemID, workerID, executionID, reason string) {
	t.record(ctx, domain.ProgressEvent{
		WorkItemID:  itemID,
		WorkerID:    workerID,
		ExecutionID: executionID,
		Status:      domain.ProgressBlocked,
		Message:     reason,
		Timestamp:   t.now(),
	})
}

// MarkCompleted records a successful execution, moves the item to review,
// and clears its progress history.
func (t *Tracker) MarkCompleted(ctx context.Context, itemID, workerID, executionID string) {
	t.record(ctx, domain.ProgressEvent{
		WorkItemID:  itemID,
		WorkerID:    workerID,
		ExecutionID: executionID,
		Status:      domain.ProgressCompleted,
		Progress:    100,
		Timestamp:   t.now(),
	})
}

// MarkFailed records a failed execution. The item's workflow status is left
// untouched; retry handling decides what happens next.
func (t *Tracker) MarkFailed(ctx context.Context, itemID, workerID, executionID, errorMessage string) {
	t.record(ctx, domain.ProgressEvent{
		WorkItemID:  itemID,
		WorkerID:    workerID,
		ExecutionID: executionID,
		Status:      domain.ProgressFailed,
		Message:     errorMessage,
		Timestamp:   t.now(),
	})
}

// record appends the event to the item's history, applies the workflow
// transition the event implies, and fans out to listeners and sinks,
// in that order.
func (t *Tracker) record(ctx context.Context, event domain.ProgressEvent) {
	t.mu.Lock()
	t.history[event.WorkItemID] = append(t.history[event.WorkItemID], event)
	listeners := make([]ProgressListener, len(t.listeners))
	copy(listeners, t.listeners)
	t.mu.Unlock()

	t.applyTransition(ctx, event)

	for _, l := range listeners {
		t.invokeListener(ctx, l, event)
	}
	if t.sink != nil {
		if err := t.sink.RecordUpdate(ctx, event.WorkItemID, domain.WorkItemUpdate{}); err != nil {
			slog.WarnContext(ctx, "progress sink write failed",
				"work_item_id", event.WorkItemID,
				"error", err)
		}
	}
	if t.publisher != nil {
		t.publisher.Publish(event)
	}
}

// applyTransition maps event kinds to workflow transitions. Only started
// and completed change the item's status; everything else just advances
// updatedAt via the sink.
func (t *Tracker) applyTransition(ctx context.Context, event domain.ProgressEvent) {
	var target domain.WorkItemStatus
	switch event.Status {
	case domain.ProgressStarted:
		target = domain.WorkItemStatusInProgress
	case domain.ProgressCompleted:
		target = domain.WorkItemStatusReview
	default:
		return
	}

	if err := t.workflow.Transition(ctx, event.WorkItemID, target); err != nil {
		slog.WarnContext(ctx, "progress transition failed",
			"work_item_id", event.WorkItemID,
			"target_status", target,
			"error", err)
	}

	if event.Status == domain.ProgressCompleted {
		t.Clear(event.WorkItemID)
	}
}

func (t *Tracker) invokeListener(ctx context.Context, l ProgressListener, event domain.ProgressEvent) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "progress listener panicked",
				"work_item_id", event.WorkItemID,
				"panic_value", r)
		}
	}()
	l(event)
}

// History returns a copy of the recorded events for a work item, oldest
// first.
func (t *Tracker) History(itemID string) []domain.ProgressEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	events := t.history[itemID]
	out := make([]domain.ProgressEvent, len(events))
	copy(out, events)
	return out
}

// Current returns the most recent event for a work item, or nil.
func (t *Tracker) Current(itemID string) *domain.ProgressEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	events := t.history[itemID]
	if len(events) == 0 {
		return nil
	}
	last := events[len(events)-1]
	return &last
}

// InProgress lists work items whose latest event is not terminal.
func (t *Tracker) InProgress() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var ids []string
	for id, events := range t.history {
		if len(events) == 0 {
			continue
		}
		switch events[len(events)-1].Status {
		case domain.ProgressCompleted, domain.ProgressFailed:
		default:
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Clear drops the recorded history for a work item.
func (t *Tracker) Clear(itemID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.history, itemID)
}
