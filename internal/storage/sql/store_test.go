package sql

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/on-par/agent-ops/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "agentops.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestWorkItemRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	item := &domain.WorkItem{
		ID:              "w1",
		Type:            domain.WorkItemTypeBug,
		Status:          domain.WorkItemStatusReady,
		RepositoryID:    "repo-a",
		CreatedBy:       "user-1",
		CreatedAt:       created,
		SuccessCriteria: []string{"tests pass", "no regressions"},
		LinkedFiles:     []string{"internal/app/main.go"},
		BlockedBy:       []string{"w0"},
		ChildIDs:        []string{"w2"},
	}
	require.NoError(t, store.CreateWorkItem(ctx, item))

	got, err := store.FindByID(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, domain.WorkItemTypeBug, got.Type)
	assert.Equal(t, domain.WorkItemStatusReady, got.Status)
	assert.Equal(t, "repo-a", got.RepositoryID)
	assert.Equal(t, "user-1", got.CreatedBy)
	assert.Equal(t, []string{"tests pass", "no regressions"}, got.SuccessCriteria)
	assert.Equal(t, []string{"w0"}, got.BlockedBy)
	assert.Equal(t, []string{"w2"}, got.ChildIDs)
	assert.Nil(t, got.StartedAt)
	assert.True(t, got.CreatedAt.Equal(created))
}

func TestFindByIDNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.FindByID(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrWorkItemNotFound)
}

func TestFindByStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	for i, status := range []domain.WorkItemStatus{
		domain.WorkItemStatusReady,
		domain.WorkItemStatusReady,
		domain.WorkItemStatusBacklog,
	} {
		require.NoError(t, store.CreateWorkItem(ctx, &domain.WorkItem{
			ID:        string(rune('a' + i)),
			Type:      domain.WorkItemTypeTask,
			Status:    status,
			CreatedBy: "user-1",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	ready, err := store.FindByStatus(ctx, domain.WorkItemStatusReady)
	require.NoError(t, err)
	require.Len(t, ready, 2)
	assert.Equal(t, "a", ready[0].ID, "oldest first")
}

func TestFindByIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"w1", "w2"} {
		require.NoError(t, store.CreateWorkItem(ctx, &domain.WorkItem{
			ID:        id,
			Type:      domain.WorkItemTypeTask,
			Status:    domain.WorkItemStatusReady,
			CreatedBy: "user-1",
		}))
	}

	items, err := store.FindByIDs(ctx, []string{"w1", "w2", "missing"})
	require.NoError(t, err)
	assert.Len(t, items, 2)

	items, err = store.FindByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestUpdatePartial(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateWorkItem(ctx, &domain.WorkItem{
		ID:        "w1",
		Type:      domain.WorkItemTypeBug,
		Status:    domain.WorkItemStatusReady,
		CreatedBy: "user-1",
	}))

	status := domain.WorkItemStatusInProgress
	started := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.Update(ctx, "w1", domain.WorkItemUpdate{
		Status:    &status,
		StartedAt: &started,
	}))

	got, err := store.FindByID(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, domain.WorkItemStatusInProgress, got.Status)
	require.NotNil(t, got.StartedAt)
	assert.True(t, got.StartedAt.Equal(started))
	assert.Nil(t, got.CompletedAt)

	// A status-only update leaves timestamps alone.
	done := domain.WorkItemStatusReview
	require.NoError(t, store.Update(ctx, "w1", domain.WorkItemUpdate{Status: &done}))
	got, err = store.FindByID(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, got.StartedAt)
}

func TestUpdateMissingItem(t *testing.T) {
	store := newTestStore(t)

	status := domain.WorkItemStatusDone
	err := store.Update(context.Background(), "ghost", domain.WorkItemUpdate{Status: &status})
	assert.ErrorIs(t, err, domain.ErrWorkItemNotFound)
}

func TestTemplateRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateTemplate(ctx, &domain.Template{
		ID:           "tmpl-1",
		AllowedTypes: []string{"bug", "feature"},
		DefaultRole:  domain.RoleImplementer,
	}))

	got, err := store.FindTemplate(ctx, "tmpl-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"bug", "feature"}, got.AllowedTypes)
	assert.Equal(t, domain.RoleImplementer, got.DefaultRole)

	_, err = store.FindTemplate(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrTemplateNotFound)
}
