// Package storage defines the escalation archive contract shared by its
// filesystem and GCS implementations.
package storage

import (
	"context"

	"github.com/on-par/agent-ops/internal/domain"
)

// Archiver persists escalation events for later review. Writes are
// best-effort from the orchestrator's perspective: the registered
// escalation hook logs failures and never propagates them.
type Archiver interface {
	// Archive stores one escalation event.
	Archive(ctx context.Context, event domain.EscalationEvent) error

	// List returns up to limit archived events, newest first.
	List(ctx context.Context, limit int) ([]domain.EscalationEvent, error)
}
