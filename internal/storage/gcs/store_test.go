package gcs

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/api/iterator"

	"github.com/on-par/agent-ops/internal/storage"
	"github.com/on-par/agent-ops/internal/storage/compliance"
)

func TestGCSArchive_Compliance(t *testing.T) {
	bucket := os.Getenv("TEST_GCS_BUCKET")
	if bucket == "" {
		t.Skip("TEST_GCS_BUCKET not set, skipping GCS tests")
	}

	compliance.RunArchiverComplianceTest(t, func() (storage.Archiver, func()) {
		// Assumes Application Default Credentials with access to the bucket.
		ctx := context.Background()

		store, err := NewStore(ctx, bucket)
		require.NoError(t, err)

		cleanup := func() {
			cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			it := store.client.Bucket(bucket).Objects(cleanupCtx, nil)
			for {
				attrs, err := it.Next()
				if err == iterator.Done {
					break
				}
				if err != nil {
					t.Logf("cleanup: failed to list objects: %v", err)
					break
				}
				if err := store.client.Bucket(bucket).Object(attrs.Name).Delete(cleanupCtx); err != nil {
					t.Logf("cleanup: failed to delete %s: %v", attrs.Name, err)
				}
			}
			_ = store.Close()
		}

		return store, cleanup
	})
}
