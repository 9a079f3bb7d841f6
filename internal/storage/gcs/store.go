package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/on-par/agent-ops/internal/domain"
)

const objectPrefix = "escalations/"

// Store is a GCS-based escalation archive: one JSON object per event.
type Store struct {
	client *storage.Client
	bucket string
}

// NewStore creates a new GCS archive.
// It assumes the client is authenticated (e.g. via GOOGLE_APPLICATION_CREDENTIALS).
func NewStore(ctx context.Context, bucketName string) (*Store, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &Store{
		client: client,
		bucket: bucketName,
	}, nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) objectName(event domain.EscalationEvent) string {
	return fmt.Sprintf("%s%s-%s.json", objectPrefix,
		event.Timestamp.UTC().Format("20060102T150405.000000000"), event.ID)
}

// Archive writes the event as a JSON object.
func (s *Store) Archive(ctx context.Context, event domain.EscalationEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal escalation event: %w", err)
	}

	w := s.client.Bucket(s.bucket).Object(s.objectName(event)).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("failed to write escalation object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize escalation object: %w", err)
	}
	return nil
}

// List returns up to limit archived events, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]domain.EscalationEvent, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: objectPrefix})

	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list escalation objects: %w", err)
		}
		names = append(names, attrs.Name)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}

	events := make([]domain.EscalationEvent, 0, len(names))
	for _, name := range names {
		r, err := s.client.Bucket(s.bucket).Object(name).NewReader(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read escalation object %s: %w", name, err)
		}
		var event domain.EscalationEvent
		err = json.NewDecoder(r).Decode(&event)
		r.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to decode escalation object %s: %w", name, err)
		}
		events = append(events, event)
	}
	return events, nil
}
