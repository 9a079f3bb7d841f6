package orchestrator

import (
	"context"
	"time"

	"github.com/on-par/agent-ops/internal/domain"
)

// WorkStore is the orchestrator's read/write view of the work-item store.
// Errors from the store are returned to the caller, never swallowed.
type WorkStore interface {
	FindByStatus(ctx context.Context, status domain.WorkItemStatus) ([]domain.WorkItem, error)
	FindByID(ctx context.Context, id string) (*domain.WorkItem, error)
	FindByIDs(ctx context.Context, ids []string) ([]domain.WorkItem, error)
	Update(ctx context.Context, id string, update domain.WorkItemUpdate) error
}

// TemplateSource resolves worker templates. Templates are read-only to the
// orchestrator.
type TemplateSource interface {
	FindTemplate(ctx context.Context, id string) (*domain.Template, error)
}

// WorkerPool enumerates workers and carries mutations back to their owner.
type WorkerPool interface {
	// AvailableWorkers returns workers whose status permits a new assignment.
	AvailableWorkers(ctx context.Context) ([]domain.Worker, error)
	AssignWork(ctx context.Context, workerID, itemID string, role domain.Role) error
	ReportError(ctx context.Context, workerID, message string) error
	CanSpawnMore(ctx context.Context) bool
	Spawn(ctx context.Context, templateID, sessionID string) error
}

// Workflow applies work-item state changes. It is the only path through
// which the orchestrator writes status, startedAt, or completedAt.
type Workflow interface {
	AssignWorkToAgent(ctx context.Context, itemID, workerID string, role domain.Role) error
	CompleteWork(ctx context.Context, itemID, workerID string) error
	Transition(ctx context.Context, itemID string, target domain.WorkItemStatus) error
}

// ExecutionStatus is the terminal outcome reported by the executor.
type ExecutionStatus string

const (
	ExecutionSuccess   ExecutionStatus = "success"
	ExecutionError     ExecutionStatus = "error"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// ExecutionContext is everything the executor needs to run one assignment.
type ExecutionContext struct {
	ExecutionID string
	WorkItem    domain.WorkItem
	WorkerID    string
	Role        domain.Role
	StartedAt   time.Time
}

// ExecutionResult is the structured outcome of one execution.
type ExecutionResult struct {
	ExecutionID    string
	Status         ExecutionStatus
	Error          string // set when Status is ExecutionError
	TokensUsed     int64
	CostUSD        float64
	ToolCallsCount int
}

// Executor runs agent code against a work item. The call blocks until the
// execution finishes; the driver loop submits it on its own goroutine so a
// scheduling cycle never waits on an execution.
type Executor interface {
	Execute(ctx context.Context, ec ExecutionContext) (ExecutionResult, error)
}

// UpdateSink records work-item updates for observability. Best-effort:
// failures are logged by the caller and never propagated.
type UpdateSink interface {
	RecordUpdate(ctx context.Context, itemID string, update domain.WorkItemUpdate) error
}

// ProgressPublisher fans progress events out to external subscribers.
// Best-effort: implementations must not block the caller.
type ProgressPublisher interface {
	Publish(event domain.ProgressEvent)
}

// ProgressListener receives progress events synchronously, in registration
// order. A panicking listener does not prevent later listeners from running.
type ProgressListener func(event domain.ProgressEvent)

// EscalationHook is invoked when a work item is escalated. A panicking hook
// is logged and does not abort other hooks.
type EscalationHook func(ctx context.Context, event domain.EscalationEvent)

// PreExecutionHook runs before an execution is submitted. Returning false
// blocks the dispatch; the item is then failed with a validation category.
type PreExecutionHook func(ctx context.Context, ec ExecutionContext) (allow bool, err error)

// PostExecutionHook runs after a successful execution.
type PostExecutionHook func(ctx context.Context, ec ExecutionContext, result ExecutionResult)

// ErrorHook runs when an execution fails, before retry scheduling.
type ErrorHook func(ctx context.Context, ec ExecutionContext, execErr error)
