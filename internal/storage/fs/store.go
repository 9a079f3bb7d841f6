package fs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/on-par/agent-ops/internal/domain"
)

// Store is a filesystem-based escalation archive: one JSON file per event.
type Store struct {
	baseDir string
	mu      sync.RWMutex
}

// NewStore creates a new filesystem archive.
func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

// fileName orders events lexicographically by time, newest last.
func (s *Store) fileName(event domain.EscalationEvent) string {
	return fmt.Sprintf("%s-%s.json", event.Timestamp.UTC().Format("20060102T150405.000000000"), event.ID)
}

// Archive writes the event as a JSON file.
func (s *Store) Archive(ctx context.Context, event domain.EscalationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(event, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal escalation event: %w", err)
	}

	path := filepath.Join(s.baseDir, s.fileName(event))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write escalation file: %w", err)
	}
	return nil
}

// List returns up to limit archived events, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]domain.EscalationEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}

	events := make([]domain.EscalationEvent, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(s.baseDir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read escalation file %s: %w", name, err)
		}
		var event domain.EscalationEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, fmt.Errorf("failed to decode escalation file %s: %w", name, err)
		}
		events = append(events, event)
	}
	return events, nil
}
