package domain

import "errors"

// Domain errors - these are returned by store implementations
// and checked by the orchestrator.

var (
	// ErrWorkItemNotFound indicates the requested work item does not exist.
	ErrWorkItemNotFound = errors.New("work item not found")

	// ErrTemplateNotFound indicates the specified worker template does not exist.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrInvalidID indicates the provided ID format is invalid.
	ErrInvalidID = errors.New("invalid ID format")

	// ErrInvalidStatus indicates an unknown work-item status was requested.
	ErrInvalidStatus = errors.New("invalid work item status")
)
