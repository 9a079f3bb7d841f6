package compliance

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/on-par/agent-ops/internal/domain"
	"github.com/on-par/agent-ops/internal/storage"
)

func testEvent(workItemID string, at time.Time) domain.EscalationEvent {
	return domain.EscalationEvent{
		ID:            uuid.New().String(),
		WorkItemID:    workItemID,
		WorkerID:      "worker-1",
		Category:      domain.ErrorCategoryTransient,
		TotalFailures: 4,
		History: []domain.ErrorRecord{
			{Timestamp: at, Category: domain.ErrorCategoryTransient, Message: "503 Service Unavailable", WorkerID: "worker-1"},
		},
		Timestamp: at,
		Reason:    "retries exhausted after 4 failures (transient): 503 Service Unavailable",
	}
}

// RunArchiverComplianceTest runs a standard set of tests against an Archiver
// implementation. setup returns a fresh (clean) archive for the test;
// its cleanup func is called after the test to release resources.
func RunArchiverComplianceTest(t *testing.T, setup func() (storage.Archiver, func())) {
	t.Run("ArchiveAndList", func(t *testing.T) {
		archive, teardown := setup()
		defer teardown()
		ctx := context.Background()

		event := testEvent("w1", time.Now().UTC().Truncate(time.Second))
		require.NoError(t, archive.Archive(ctx, event))

		events, err := archive.List(ctx, 10)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, event.ID, events[0].ID)
		assert.Equal(t, event.WorkItemID, events[0].WorkItemID)
		assert.Equal(t, event.Category, events[0].Category)
		assert.Equal(t, event.TotalFailures, events[0].TotalFailures)
		require.Len(t, events[0].History, 1)
		assert.Equal(t, event.History[0].Message, events[0].History[0].Message)
	})

	t.Run("ListNewestFirst", func(t *testing.T) {
		archive, teardown := setup()
		defer teardown()
		ctx := context.Background()

		base := time.Now().UTC().Truncate(time.Second)
		old := testEvent("old", base.Add(-time.Hour))
		recent := testEvent("recent", base)
		require.NoError(t, archive.Archive(ctx, old))
		require.NoError(t, archive.Archive(ctx, recent))

		events, err := archive.List(ctx, 10)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "recent", events[0].WorkItemID)
		assert.Equal(t, "old", events[1].WorkItemID)
	})

	t.Run("ListHonorsLimit", func(t *testing.T) {
		archive, teardown := setup()
		defer teardown()
		ctx := context.Background()

		base := time.Now().UTC().Truncate(time.Second)
		for i := 0; i < 5; i++ {
			require.NoError(t, archive.Archive(ctx, testEvent("w", base.Add(time.Duration(i)*time.Minute))))
		}

		events, err := archive.List(ctx, 3)
		require.NoError(t, err)
		assert.Len(t, events, 3)
	})

	t.Run("ListEmptyArchive", func(t *testing.T) {
		archive, teardown := setup()
		defer teardown()

		events, err := archive.List(context.Background(), 10)
		require.NoError(t, err)
		assert.Empty(t, events)
	})
}
