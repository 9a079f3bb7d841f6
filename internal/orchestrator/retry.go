package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/on-par/agent-ops/internal/domain"
)

const (
	// errorHistoryCapacity bounds the per-item ring of failure records.
	errorHistoryCapacity = 10

	// retryLogCapacity bounds the engine's observational log ring.
	retryLogCapacity = 1000

	// retryJitterFraction perturbs each computed delay by up to this much
	// in either direction.
	retryJitterFraction = 0.2
)

// categoryKeywords maps error categories to their matching substrings.
// Matching is case-insensitive and evaluated in categoryOrder; the first
// category with a hit wins, so "503 rate limit" is rate_limited and
// "500 internal error" is system.
var categoryKeywords = map[domain.ErrorCategory][]string{
	domain.ErrorCategoryRateLimited: {
		"rate limit", "429", "too many requests", "quota exceeded", "throttl",
	},
	domain.ErrorCategoryTransient: {
		"timeout", "timed out", "network", "connection", "econnrefused",
		"econnreset", "enotfound", "temporarily", "unavailable", "503",
		"502", "504", "retry", "socket hang up",
	},
	domain.ErrorCategoryResource: {
		"memory", "context window", "token limit", "max tokens",
		"resource exhausted", "out of resource", "insufficient",
		"limit exceeded", "heap", "allocation",
	},
	domain.ErrorCategoryValidation: {
		"invalid", "validation", "not found", "does not exist", "400",
		"401", "403", "404", "malformed", "missing required",
		"unauthorized", "forbidden", "permission denied",
	},
	domain.ErrorCategorySystem: {
		"internal", "500", "system", "unexpected", "fatal", "crash",
		"segfault", "exception",
	},
}

var categoryOrder = []domain.ErrorCategory{
	domain.ErrorCategoryRateLimited,
	domain.ErrorCategoryTransient,
	domain.ErrorCategoryResource,
	domain.ErrorCategoryValidation,
	domain.ErrorCategorySystem,
}

// RetryContext is a scheduled future retry for a work item. At most one
// live retry exists per work item.
type RetryContext struct {
	WorkItemID  string
	Category    domain.ErrorCategory
	RetryCount  int
	NextRetryAt time.Time
	LastError   string
}

// ErrorHistorySnapshot is a copy of the failure history for one work item.
type ErrorHistorySnapshot struct {
	WorkItemID    string
	Records       []domain.ErrorRecord
	TotalFailures int
	LastFailureAt time.Time
	Escalated     bool
}

type errorHistory struct {
	records       []domain.ErrorRecord // ring, capacity errorHistoryCapacity
	totalFailures int
	lastFailureAt time.Time
	escalated     bool
}

// RetryLogEntry is one observational log record emitted by the engine.
type RetryLogEntry struct {
	Timestamp  time.Time
	Level      slog.Level
	WorkItemID string
	WorkerID   string
	Category   domain.ErrorCategory
	Message    string
	RetryCount int
	WillRetry  bool
}

// RetryLogFilter selects log entries. Zero-valued fields match everything.
type RetryLogFilter struct {
	Level      *slog.Level
	Category   domain.ErrorCategory
	WorkItemID string
	WorkerID   string
	Limit      int
}

// RetryStats summarizes the engine's activity since start.
type RetryStats struct {
	PendingRetries int
	TotalErrors    int
	Escalations    int
	ByCategory     map[domain.ErrorCategory]int
}

// RetryEngine classifies failures, schedules bounded retries with
// exponential backoff, preserves per-item failure history, and escalates
// work items whose retries are exhausted. Pure in-memory apart from the
// outbound escalation hooks.
type RetryEngine struct {
	mu          sync.Mutex
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration

	pending     map[string]RetryContext
	history     map[string]*errorHistory
	hooks       []EscalationHook
	logs        []RetryLogEntry // ring, capacity retryLogCapacity
	logStart    int
	totalErrors int
	escalations int
	byCategory  map[domain.ErrorCategory]int

	now    func() time.Time
	jitter func() float64 // uniform in [0, 1)
}

// NewRetryEngine creates a retry engine with the given policy.
func NewRetryEngine(maxAttempts int, baseDelay, maxDelay time.Duration) *RetryEngine {
	return &RetryEngine{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		pending:     make(map[string]RetryContext),
		history:     make(map[string]*errorHistory),
		byCategory:  make(map[domain.ErrorCategory]int),
		now:         time.Now,
		jitter:      rand.Float64,
	}
}

// SetPolicy replaces the retry policy. Pending retries keep their already
// computed wake times.
func (e *RetryEngine) SetPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.maxAttempts = maxAttempts
	e.baseDelay = baseDelay
	e.maxDelay = maxDelay
}

// Categorize classifies an error message by keyword matching. Categories
// are tried in a fixed order and the first match wins.
func (e *RetryEngine) Categorize(message string) domain.ErrorCategory {
	lower := strings.ToLower(message)
	for _, cat := range categoryOrder {
		for _, keyword := range categoryKeywords[cat] {
			if strings.Contains(lower, keyword) {
				return cat
			}
		}
	}
	return domain.ErrorCategoryUnknown
}

// ShouldRetry reports whether a failure in the given category with
// retryCount prior retries is eligible for another attempt.
func (e *RetryEngine) ShouldRetry(category domain.ErrorCategory, retryCount int) bool {
	e.mu.Lock()
	maxAttempts := e.maxAttempts
	e.mu.Unlock()
	return retryCount < maxRetriesFor(category, maxAttempts)
}

// maxRetriesFor returns the retry ceiling for a category:
// validation never retries, rate-limited and transient failures get the
// full budget, everything else at most two retries.
func maxRetriesFor(category domain.ErrorCategory, maxAttempts int) int {
	switch category {
	case domain.ErrorCategoryValidation:
		return 0
	case domain.ErrorCategoryRateLimited, domain.ErrorCategoryTransient:
		return maxAttempts
	default:
		if maxAttempts < 2 {
			return maxAttempts
		}
		return 2
	}
}

// RetryDelay computes the backoff before the next attempt: a per-category
// base, doubled per prior retry, capped, then jittered by ±20%.
func (e *RetryEngine) RetryDelay(category domain.ErrorCategory, retryCount int) time.Duration {
	e.mu.Lock()
	baseDelay := e.baseDelay
	maxDelay := e.maxDelay
	jitter := e.jitter
	e.mu.Unlock()

	base := baseDelay
	switch category {
	case domain.ErrorCategoryRateLimited:
		base = 5 * baseDelay
	case domain.ErrorCategoryResource:
		base = 3 * baseDelay
	case domain.ErrorCategorySystem:
		base = 2 * baseDelay
	}

	delay := base
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= maxDelay {
			break
		}
	}
	if delay > maxDelay {
		delay = maxDelay
	}

	// Uniform jitter in ±retryJitterFraction.
	factor := 1 + retryJitterFraction*(2*jitter()-1)
	return time.Duration(float64(delay) * factor)
}

// ScheduleRetry computes the next attempt for a failed work item and stores
// its retry context, overwriting any existing one for the same item.
// Returns false when the policy forbids another attempt.
func (e *RetryEngine) ScheduleRetry(workItemID string, errorMessage string, retryCount int) (RetryContext, bool) {
	category := e.Categorize(errorMessage)
	if !e.ShouldRetry(category, retryCount) {
		e.appendLog(RetryLogEntry{
			Timestamp:  e.now(),
			Level:      slog.LevelWarn,
			WorkItemID: workItemID,
			Category:   category,
			Message:    errorMessage,
			RetryCount: retryCount,
			WillRetry:  false,
		})
		return RetryContext{}, false
	}

	delay := e.RetryDelay(category, retryCount)
	rctx := RetryContext{
		WorkItemID:  workItemID,
		Category:    category,
		RetryCount:  retryCount + 1,
		NextRetryAt: e.now().Add(delay),
		LastError:   errorMessage,
	}

	e.mu.Lock()
	e.pending[workItemID] = rctx
	e.mu.Unlock()

	e.appendLog(RetryLogEntry{
		Timestamp:  e.now(),
		Level:      slog.LevelInfo,
		WorkItemID: workItemID,
		Category:   category,
		Message:    errorMessage,
		RetryCount: rctx.RetryCount,
		WillRetry:  true,
	})

	return rctx, true
}

// ReadyRetries atomically returns and removes all retries whose wake time
// has passed. Order is unspecified.
func (e *RetryEngine) ReadyRetries() []RetryContext {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	var ready []RetryContext
	for id, rctx := range e.pending {
		if !rctx.NextRetryAt.After(now) {
			ready = append(ready, rctx)
			delete(e.pending, id)
		}
	}
	return ready
}

// CancelRetry drops any pending retry for the work item.
func (e *RetryEngine) CancelRetry(workItemID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pending, workItemID)
}

// PendingRetries returns the number of scheduled retries.
func (e *RetryEngine) PendingRetries() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// RecordError appends a failure to the work item's history ring and updates
// its counters. Returns the category assigned to the failure.
func (e *RetryEngine) RecordError(workItemID, workerID, errorMessage string) domain.ErrorCategory {
	category := e.Categorize(errorMessage)
	record := domain.ErrorRecord{
		Timestamp: e.now(),
		Category:  category,
		Message:   errorMessage,
		WorkerID:  workerID,
	}

	e.mu.Lock()
	hist, ok := e.history[workItemID]
	if !ok {
		hist = &errorHistory{}
		e.history[workItemID] = hist
	}
	hist.records = append(hist.records, record)
	if len(hist.records) > errorHistoryCapacity {
		hist.records = hist.records[len(hist.records)-errorHistoryCapacity:]
	}
	hist.totalFailures++
	hist.lastFailureAt = record.Timestamp
	e.totalErrors++
	e.byCategory[category]++
	e.mu.Unlock()

	e.appendLog(RetryLogEntry{
		Timestamp:  record.Timestamp,
		Level:      slog.LevelError,
		WorkItemID: workItemID,
		WorkerID:   workerID,
		Category:   category,
		Message:    errorMessage,
	})

	return category
}

// ErrorHistory returns a copy of the failure history for a work item.
func (e *RetryEngine) ErrorHistory(workItemID string) (ErrorHistorySnapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	hist, ok := e.history[workItemID]
	if !ok {
		return ErrorHistorySnapshot{}, false
	}
	return snapshotHistory(workItemID, hist), true
}

// ClearErrorHistory drops the failure history after a successful
// completion.
func (e *RetryEngine) ClearErrorHistory(workItemID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.history, workItemID)
}

func snapshotHistory(workItemID string, hist *errorHistory) ErrorHistorySnapshot {
	records := make([]domain.ErrorRecord, len(hist.records))
	copy(records, hist.records)
	return ErrorHistorySnapshot{
		WorkItemID:    workItemID,
		Records:       records,
		TotalFailures: hist.totalFailures,
		LastFailureAt: hist.lastFailureAt,
		Escalated:     hist.escalated,
	}
}

// RegisterEscalationHook adds a hook invoked on every escalation.
func (e *RetryEngine) RegisterEscalationHook(hook EscalationHook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hooks = append(e.hooks, hook)
}

// Escalate marks the work item's history as escalated, builds the
// escalation event, and invokes every registered hook. A panicking hook is
// logged and does not abort the others.
func (e *RetryEngine) Escalate(ctx context.Context, workItemID, workerID, errorMessage string, category domain.ErrorCategory) domain.EscalationEvent {
	e.mu.Lock()
	hist, ok := e.history[workItemID]
	if !ok {
		hist = &errorHistory{}
		e.history[workItemID] = hist
	}
	hist.escalated = true
	snapshot := snapshotHistory(workItemID, hist)
	hooks := make([]EscalationHook, len(e.hooks))
	copy(hooks, e.hooks)
	e.escalations++
	e.mu.Unlock()

	event := domain.EscalationEvent{
		ID:            uuid.NewString(),
		WorkItemID:    workItemID,
		WorkerID:      workerID,
		Category:      category,
		TotalFailures: snapshot.TotalFailures,
		History:       snapshot.Records,
		Timestamp:     e.now(),
		Reason:        escalationReason(category, snapshot.TotalFailures, errorMessage),
	}

	e.appendLog(RetryLogEntry{
		Timestamp:  event.Timestamp,
		Level:      slog.LevelError,
		WorkItemID: workItemID,
		WorkerID:   workerID,
		Category:   category,
		Message:    event.Reason,
	})

	for _, hook := range hooks {
		e.invokeHook(ctx, hook, event)
	}

	return event
}

func (e *RetryEngine) invokeHook(ctx context.Context, hook EscalationHook, event domain.EscalationEvent) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "escalation hook panicked",
				"work_item_id", event.WorkItemID,
				"panic_value", r)
		}
	}()
	hook(ctx, event)
}

func escalationReason(category domain.ErrorCategory, totalFailures int, lastError string) string {
	if category == domain.ErrorCategoryValidation {
		return "validation failure requires human intervention: " + lastError
	}
	return fmt.Sprintf("retries exhausted after %d failures (%s): %s", totalFailures, category, lastError)
}

// appendLog adds an entry to the observational ring, dropping the oldest
// once the ring is full.
func (e *RetryEngine) appendLog(entry RetryLogEntry) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.logs) < retryLogCapacity {
		e.logs = append(e.logs, entry)
		return
	}
	e.logs[e.logStart] = entry
	e.logStart = (e.logStart + 1) % retryLogCapacity
}

// RecentLogs returns log entries matching the filter, oldest first.
func (e *RetryEngine) RecentLogs(filter RetryLogFilter) []RetryLogEntry {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []RetryLogEntry
	for i := 0; i < len(e.logs); i++ {
		entry := e.logs[(e.logStart+i)%len(e.logs)]
		if filter.Level != nil && entry.Level != *filter.Level {
			continue
		}
		if filter.Category != "" && entry.Category != filter.Category {
			continue
		}
		if filter.WorkItemID != "" && entry.WorkItemID != filter.WorkItemID {
			continue
		}
		if filter.WorkerID != "" && entry.WorkerID != filter.WorkerID {
			continue
		}
		out = append(out, entry)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out
}

// Stats summarizes engine activity.
func (e *RetryEngine) Stats() RetryStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	byCategory := make(map[domain.ErrorCategory]int, len(e.byCategory))
	for cat, n := range e.byCategory {
		byCategory[cat] = n
	}
	return RetryStats{
		PendingRetries: len(e.pending),
		TotalErrors:    e.totalErrors,
		Escalations:    e.escalations,
		ByCategory:     byCategory,
	}
}
