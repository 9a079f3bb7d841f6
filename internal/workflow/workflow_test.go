package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/on-par/agent-ops/internal/domain"
)

type fakeStore struct {
	items   map[string]*domain.WorkItem
	updates []domain.WorkItemUpdate
	err     error
}

func (s *fakeStore) FindByStatus(ctx context.Context, status domain.WorkItemStatus) ([]domain.WorkItem, error) {
	return nil, nil
}

func (s *fakeStore) FindByID(ctx context.Context, id string) (*domain.WorkItem, error) {
	if item, ok := s.items[id]; ok {
		return item, nil
	}
	return nil, domain.ErrWorkItemNotFound
}

func (s *fakeStore) FindByIDs(ctx context.Context, ids []string) ([]domain.WorkItem, error) {
	return nil, nil
}

func (s *fakeStore) Update(ctx context.Context, id string, update domain.WorkItemUpdate) error {
	if s.err != nil {
		return s.err
	}
	if _, ok := s.items[id]; !ok {
		return domain.ErrWorkItemNotFound
	}
	s.updates = append(s.updates, update)
	return nil
}

func newFakeStore(ids ...string) *fakeStore {
	s := &fakeStore{items: make(map[string]*domain.WorkItem)}
	for _, id := range ids {
		s.items[id] = &domain.WorkItem{ID: id, Status: domain.WorkItemStatusReady}
	}
	return s
}

func TestAssignWorkToAgentRequiresExistingItem(t *testing.T) {
	wf := New(newFakeStore("w1"))

	require.NoError(t, wf.AssignWorkToAgent(context.Background(), "w1", "a1", domain.RoleImplementer))

	err := wf.AssignWorkToAgent(context.Background(), "ghost", "a1", domain.RoleImplementer)
	assert.ErrorIs(t, err, domain.ErrWorkItemNotFound)
}

func TestTransitionStampsTimestamps(t *testing.T) {
	store := newFakeStore("w1")
	wf := New(store)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	wf.now = func() time.Time { return now }

	require.NoError(t, wf.Transition(context.Background(), "w1", domain.WorkItemStatusInProgress))
	require.NoError(t, wf.Transition(context.Background(), "w1", domain.WorkItemStatusReview))
	require.NoError(t, wf.Transition(context.Background(), "w1", domain.WorkItemStatusBacklog))

	require.Len(t, store.updates, 3)

	inProgress := store.updates[0]
	require.NotNil(t, inProgress.StartedAt)
	assert.True(t, inProgress.StartedAt.Equal(now))
	assert.Nil(t, inProgress.CompletedAt)

	review := store.updates[1]
	require.NotNil(t, review.CompletedAt)
	assert.Nil(t, review.StartedAt)

	backlog := store.updates[2]
	assert.Nil(t, backlog.StartedAt)
	assert.Nil(t, backlog.CompletedAt)
	assert.Equal(t, domain.WorkItemStatusBacklog, *backlog.Status)
}

func TestTransitionRejectsUnknownStatus(t *testing.T) {
	wf := New(newFakeStore("w1"))

	err := wf.Transition(context.Background(), "w1", domain.WorkItemStatus("limbo"))
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestCompleteWorkPropagatesStoreErrors(t *testing.T) {
	store := newFakeStore("w1")
	store.err = errors.New("store down")
	wf := New(store)

	err := wf.CompleteWork(context.Background(), "w1", "a1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store down")
}
