package domain

import "time"

// WorkItemType classifies a unit of work. The type drives base scheduling
// priority and which workers may accept the item.
type WorkItemType string

const (
	WorkItemTypeBug      WorkItemType = "bug"
	WorkItemTypeFeature  WorkItemType = "feature"
	WorkItemTypeTask     WorkItemType = "task"
	WorkItemTypeResearch WorkItemType = "research"
)

// Valid reports whether t is a known work-item type.
func (t WorkItemType) Valid() bool {
	switch t {
	case WorkItemTypeBug, WorkItemTypeFeature, WorkItemTypeTask, WorkItemTypeResearch:
		return true
	}
	return false
}

// WorkItemStatus is the lifecycle state of a work item:
// backlog -> ready -> in_progress -> review -> done.
type WorkItemStatus string

const (
	WorkItemStatusBacklog    WorkItemStatus = "backlog"
	WorkItemStatusReady      WorkItemStatus = "ready"
	WorkItemStatusInProgress WorkItemStatus = "in_progress"
	WorkItemStatusReview     WorkItemStatus = "review"
	WorkItemStatusDone       WorkItemStatus = "done"
)

// Valid reports whether s is a known work-item status.
func (s WorkItemStatus) Valid() bool {
	switch s {
	case WorkItemStatusBacklog, WorkItemStatusReady, WorkItemStatusInProgress,
		WorkItemStatusReview, WorkItemStatusDone:
		return true
	}
	return false
}

// Role is the phase a worker plays on a given item.
type Role string

const (
	RoleRefiner     Role = "refiner"
	RoleImplementer Role = "implementer"
	RoleTester      Role = "tester"
	RoleReviewer    Role = "reviewer"
)

// WorkItem is an atomic unit of work pulled from the work store.
// The orchestrator treats instances as snapshots: status changes go back
// through the workflow interface, never by mutating a fetched item.
type WorkItem struct {
	ID              string
	Type            WorkItemType
	Status          WorkItemStatus
	RepositoryID    string // empty when the item is not tied to a repository
	CreatedBy       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	SuccessCriteria []string
	LinkedFiles     []string
	BlockedBy       []string // item IDs that must reach done first
	ChildIDs        []string // dependents, used for priority boosting
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// WorkItemUpdate is a partial update applied through the work store.
// Nil fields are left untouched.
type WorkItemUpdate struct {
	Status      *WorkItemStatus
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// WorkerStatus is the lifecycle state of a compute worker.
type WorkerStatus string

const (
	WorkerStatusIdle       WorkerStatus = "idle"
	WorkerStatusWorking    WorkerStatus = "working"
	WorkerStatusPaused     WorkerStatus = "paused"
	WorkerStatusError      WorkerStatus = "error"
	WorkerStatusTerminated WorkerStatus = "terminated"
)

// Worker is a long-lived compute agent owned by the external worker pool.
// The orchestrator reads these fields and asks the pool to mutate them.
type Worker struct {
	ID                string
	TemplateID        string
	Status            WorkerStatus
	ContextUsed       int64
	ContextLimit      int64
	TokensUsed        int64
	CostUSD           float64
	ToolCallsCount    int
	ErrorCount        int
	CurrentWorkItemID string
	CurrentRole       Role
}

// TemplateTypeWildcard in a template's allowed types matches every work-item type.
const TemplateTypeWildcard = "*"

// Template is a capability descriptor constraining which work-item types a
// worker can accept and the role it plays by default. Read-only to the
// orchestrator.
type Template struct {
	ID           string
	AllowedTypes []string // work-item types or TemplateTypeWildcard
	DefaultRole  Role     // empty when the template has no default
}

// Accepts reports whether the template allows items of the given type.
func (t *Template) Accepts(typ WorkItemType) bool {
	for _, allowed := range t.AllowedTypes {
		if allowed == TemplateTypeWildcard || allowed == string(typ) {
			return true
		}
	}
	return false
}
