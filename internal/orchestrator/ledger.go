package orchestrator

import (
	"fmt"
	"sync"

	"github.com/on-par/agent-ops/internal/domain"
)

// Admission is the outcome of a ledger capacity check.
type Admission struct {
	Allowed bool
	Reason  string // first violated limit, empty when allowed
}

// Ledger tracks which worker occupies which (repo, user) slot and enforces
// the global, per-repository, and per-creator caps. Pure in-memory. The
// caller must pair every RegisterStart with a RegisterComplete on a
// guaranteed-exit path.
type Ledger struct {
	mu         sync.Mutex
	maxGlobal  int
	maxPerRepo int
	maxPerUser int

	global map[string]struct{}            // worker IDs executing now
	byRepo map[string]map[string]struct{} // repository ID -> worker IDs
	byUser map[string]map[string]struct{} // creator ID -> worker IDs
}

// LedgerStatus is an observational snapshot of the ledger.
type LedgerStatus struct {
	Global     int
	ByRepo     map[string]int
	ByUser     map[string]int
	MaxGlobal  int
	MaxPerRepo int
	MaxPerUser int
}

// NewLedger creates a ledger with the given caps.
func NewLedger(maxGlobal, maxPerRepo, maxPerUser int) *Ledger {
	return &Ledger{
		maxGlobal:  maxGlobal,
		maxPerRepo: maxPerRepo,
		maxPerUser: maxPerUser,
		global:     make(map[string]struct{}),
		byRepo:     make(map[string]map[string]struct{}),
		byUser:     make(map[string]map[string]struct{}),
	}
}

// MayStart checks the three caps in order: global, per-repository (when the
// item has one), per-user. The first violated limit is reported as the
// reason. The check is snapshot-accurate: the caller must RegisterStart
// before yielding the scheduling thread, or two dispatches may both see an
// allowed state.
func (l *Ledger) MayStart(item domain.WorkItem) Admission {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.global) >= l.maxGlobal {
		return Admission{Reason: fmt.Sprintf(
			"Global worker limit reached (%d/%d)", len(l.global), l.maxGlobal)}
	}

	if item.RepositoryID != "" {
		if n := len(l.byRepo[item.RepositoryID]); n >= l.maxPerRepo {
			return Admission{Reason: fmt.Sprintf(
				"Per-repository limit reached for %s (%d/%d)", item.RepositoryID, n, l.maxPerRepo)}
		}
	}

	if n := len(l.byUser[item.CreatedBy]); n >= l.maxPerUser {
		return Admission{Reason: fmt.Sprintf(
			"Per-user limit reached for %s (%d/%d)", item.CreatedBy, n, l.maxPerUser)}
	}

	return Admission{Allowed: true}
}

// RegisterStart records the worker as occupying the item's slots.
func (l *Ledger) RegisterStart(item domain.WorkItem, workerID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.global[workerID] = struct{}{}

	if item.RepositoryID != "" {
		bucket, ok := l.byRepo[item.RepositoryID]
		if !ok {
			bucket = make(map[string]struct{})
			l.byRepo[item.RepositoryID] = bucket
		}
		bucket[workerID] = struct{}{}
	}

	bucket, ok := l.byUser[item.CreatedBy]
	if !ok {
		bucket = make(map[string]struct{})
		l.byUser[item.CreatedBy] = bucket
	}
	bucket[workerID] = struct{}{}
}

// RegisterComplete releases the slots taken by RegisterStart. Empty buckets
// are removed to keep the indices compact.
func (l *Ledger) RegisterComplete(item domain.WorkItem, workerID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.global, workerID)

	if item.RepositoryID != "" {
		if bucket, ok := l.byRepo[item.RepositoryID]; ok {
			delete(bucket, workerID)
			if len(bucket) == 0 {
				delete(l.byRepo, item.RepositoryID)
			}
		}
	}

	if bucket, ok := l.byUser[item.CreatedBy]; ok {
		delete(bucket, workerID)
		if len(bucket) == 0 {
			delete(l.byUser, item.CreatedBy)
		}
	}
}

// UpdateLimits atomically replaces any subset of the three caps. Nil fields
// keep their current value; in-flight counts are unaffected.
func (l *Ledger) UpdateLimits(maxGlobal, maxPerRepo, maxPerUser *int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if maxGlobal != nil {
		l.maxGlobal = *maxGlobal
	}
	if maxPerRepo != nil {
		l.maxPerRepo = *maxPerRepo
	}
	if maxPerUser != nil {
		l.maxPerUser = *maxPerUser
	}
}

// GlobalCount returns the number of workers currently executing.
func (l *Ledger) GlobalCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.global)
}

// Status returns an observational snapshot of the three indices.
func (l *Ledger) Status() LedgerStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	status := LedgerStatus{
		Global:     len(l.global),
		ByRepo:     make(map[string]int, len(l.byRepo)),
		ByUser:     make(map[string]int, len(l.byUser)),
		MaxGlobal:  l.maxGlobal,
		MaxPerRepo: l.maxPerRepo,
		MaxPerUser: l.maxPerUser,
	}
	for repo, bucket := range l.byRepo {
		status.ByRepo[repo] = len(bucket)
	}
	for user, bucket := range l.byUser {
		status.ByUser[user] = len(bucket)
	}
	return status
}
