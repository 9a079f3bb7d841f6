package orchestrator

import (
	"context"
	"errors"
	"sync"

	"github.com/on-par/agent-ops/internal/domain"
)

// mockStore implements WorkStore for testing.
type mockStore struct {
	findByStatusFunc func(ctx context.Context, status domain.WorkItemStatus) ([]domain.WorkItem, error)
	findByIDFunc     func(ctx context.Context, id string) (*domain.WorkItem, error)
	findByIDsFunc    func(ctx context.Context, ids []string) ([]domain.WorkItem, error)
	updateFunc       func(ctx context.Context, id string, update domain.WorkItemUpdate) error
}

func (m *mockStore) FindByStatus(ctx context.Context, status domain.WorkItemStatus) ([]domain.WorkItem, error) {
	if m.findByStatusFunc != nil {
		return m.findByStatusFunc(ctx, status)
	}
	return nil, nil
}

func (m *mockStore) FindByID(ctx context.Context, id string) (*domain.WorkItem, error) {
	if m.findByIDFunc != nil {
		return m.findByIDFunc(ctx, id)
	}
	return nil, domain.ErrWorkItemNotFound
}

func (m *mockStore) FindByIDs(ctx context.Context, ids []string) ([]domain.WorkItem, error) {
	if m.findByIDsFunc != nil {
		return m.findByIDsFunc(ctx, ids)
	}
	return nil, nil
}

func (m *mockStore) Update(ctx context.Context, id string, update domain.WorkItemUpdate) error {
	if m.updateFunc != nil {
		return m.updateFunc(ctx, id, update)
	}
	return nil
}

// mockPool implements WorkerPool for testing.
type mockPool struct {
	mu sync.Mutex

	availableWorkersFunc func(ctx context.Context) ([]domain.Worker, error)
	assignWorkFunc       func(ctx context.Context, workerID, itemID string, role domain.Role) error
	reportErrorFunc      func(ctx context.Context, workerID, message string) error
	canSpawnMoreFunc     func(ctx context.Context) bool
	spawnFunc            func(ctx context.Context, templateID, sessionID string) error

	assignments    []assignment
	reportedErrors []string
	spawned        []string
}

type assignment struct {
	WorkerID string
	ItemID   string
	Role     domain.Role
}

func (m *mockPool) AvailableWorkers(ctx context.Context) ([]domain.Worker, error) {
	if m.availableWorkersFunc != nil {
		return m.availableWorkersFunc(ctx)
	}
	return nil, nil
}

func (m *mockPool) AssignWork(ctx context.Context, workerID, itemID string, role domain.Role) error {
	m.mu.Lock()
	m.assignments = append(m.assignments, assignment{WorkerID: workerID, ItemID: itemID, Role: role})
	m.mu.Unlock()
	if m.assignWorkFunc != nil {
		return m.assignWorkFunc(ctx, workerID, itemID, role)
	}
	return nil
}

func (m *mockPool) ReportError(ctx context.Context, workerID, message string) error {
	m.mu.Lock()
	m.reportedErrors = append(m.reportedErrors, message)
	m.mu.Unlock()
	if m.reportErrorFunc != nil {
		return m.reportErrorFunc(ctx, workerID, message)
	}
	return nil
}

func (m *mockPool) CanSpawnMore(ctx context.Context) bool {
	if m.canSpawnMoreFunc != nil {
		return m.canSpawnMoreFunc(ctx)
	}
	return false
}

func (m *mockPool) Spawn(ctx context.Context, templateID, sessionID string) error {
	m.mu.Lock()
	m.spawned = append(m.spawned, templateID)
	m.mu.Unlock()
	if m.spawnFunc != nil {
		return m.spawnFunc(ctx, templateID, sessionID)
	}
	return nil
}

// mockTemplates implements TemplateSource for testing.
type mockTemplates struct {
	templates map[string]*domain.Template
}

func (m *mockTemplates) FindTemplate(ctx context.Context, id string) (*domain.Template, error) {
	if tmpl, ok := m.templates[id]; ok {
		return tmpl, nil
	}
	return nil, domain.ErrTemplateNotFound
}

// mockWorkflow implements Workflow and records every call.
type mockWorkflow struct {
	mu sync.Mutex

	assignFunc     func(ctx context.Context, itemID, workerID string, role domain.Role) error
	completeFunc   func(ctx context.Context, itemID, workerID string) error
	transitionFunc func(ctx context.Context, itemID string, target domain.WorkItemStatus) error

	assigned    []assignment
	completed   []string
	transitions []transition
}

type transition struct {
	ItemID string
	Target domain.WorkItemStatus
}

func (m *mockWorkflow) AssignWorkToAgent(ctx context.Context, itemID, workerID string, role domain.Role) error {
	m.mu.Lock()
	m.assigned = append(m.assigned, assignment{WorkerID: workerID, ItemID: itemID, Role: role})
	m.mu.Unlock()
	if m.assignFunc != nil {
		return m.assignFunc(ctx, itemID, workerID, role)
	}
	return nil
}

func (m *mockWorkflow) CompleteWork(ctx context.Context, itemID, workerID string) error {
	m.mu.Lock()
	m.completed = append(m.completed, itemID)
	m.mu.Unlock()
	if m.completeFunc != nil {
		return m.completeFunc(ctx, itemID, workerID)
	}
	return nil
}

func (m *mockWorkflow) Transition(ctx context.Context, itemID string, target domain.WorkItemStatus) error {
	m.mu.Lock()
	m.transitions = append(m.transitions, transition{ItemID: itemID, Target: target})
	m.mu.Unlock()
	if m.transitionFunc != nil {
		return m.transitionFunc(ctx, itemID, target)
	}
	return nil
}

func (m *mockWorkflow) transitionsTo(target domain.WorkItemStatus) []transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []transition
	for _, tr := range m.transitions {
		if tr.Target == target {
			out = append(out, tr)
		}
	}
	return out
}

// mockExecutor implements Executor with a scripted result.
type mockExecutor struct {
	mu          sync.Mutex
	executeFunc func(ctx context.Context, ec ExecutionContext) (ExecutionResult, error)
	executions  []ExecutionContext
}

func (m *mockExecutor) Execute(ctx context.Context, ec ExecutionContext) (ExecutionResult, error) {
	m.mu.Lock()
	m.executions = append(m.executions, ec)
	m.mu.Unlock()
	if m.executeFunc != nil {
		return m.executeFunc(ctx, ec)
	}
	return ExecutionResult{ExecutionID: ec.ExecutionID, Status: ExecutionSuccess}, nil
}

func (m *mockExecutor) executionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.executions)
}

// errStoreUnavailable is a reusable infrastructure failure.
var errStoreUnavailable = errors.New("store unavailable")
