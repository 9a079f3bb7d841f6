package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/on-par/agent-ops/internal/domain"
)

// Priority weights per work-item type. Higher dispatches earlier.
const (
	priorityWeightBug      = 100
	priorityWeightFeature  = 50
	priorityWeightTask     = 30
	priorityWeightResearch = 10

	// ageBonusCapHours saturates the age bonus so ancient items cannot
	// starve everything else.
	ageBonusCapHours = 48

	// dependentsBonusPerChild boosts items other items are waiting on.
	dependentsBonusPerChild = 5

	// retryPromotionPriority is the fixed priority retries re-enter with.
	retryPromotionPriority = 50
)

// QueueItem is a work item waiting for (or undergoing) dispatch, together
// with its scheduling state.
type QueueItem struct {
	Item          domain.WorkItem
	Priority      int
	QueuedAt      time.Time
	RetryCount    int
	LastError     string
	LastAttemptAt time.Time

	seq uint64 // insertion order, breaks priority ties
}

// Queue orders ready work items by priority. It owns the queued set and the
// processing set; an item ID is in at most one of the two. Pure in-memory;
// only Refresh touches the store.
type Queue struct {
	store WorkStore

	mu         sync.Mutex
	queued     map[string]*QueueItem
	processing map[string]*QueueItem
	nextSeq    uint64

	now func() time.Time
}

// NewQueue creates an empty queue backed by the given store.
func NewQueue(store WorkStore) *Queue {
	return &Queue{
		store:      store,
		queued:     make(map[string]*QueueItem),
		processing: make(map[string]*QueueItem),
		now:        time.Now,
	}
}

// Refresh pulls all ready work items from the store and enqueues the ones
// that are not blocked and not already tracked. Store errors abort the
// refresh and are returned to the caller.
func (q *Queue) Refresh(ctx context.Context) error {
	items, err := q.store.FindByStatus(ctx, domain.WorkItemStatusReady)
	if err != nil {
		return fmt.Errorf("failed to fetch ready work items: %w", err)
	}

	for _, item := range items {
		if q.Contains(item.ID) {
			continue
		}

		blocked, err := q.isBlocked(ctx, item)
		if err != nil {
			return err
		}
		if blocked {
			continue
		}

		q.Insert(item, q.computePriority(item), 0)
	}

	return nil
}

// isBlocked resolves the item's blockedBy list against the store. An item is
// blocked while any blocker has not reached done. Unknown blocker IDs count
// as unresolved.
func (q *Queue) isBlocked(ctx context.Context, item domain.WorkItem) (bool, error) {
	if len(item.BlockedBy) == 0 {
		return false, nil
	}

	blockers, err := q.store.FindByIDs(ctx, item.BlockedBy)
	if err != nil {
		return false, fmt.Errorf("failed to resolve blockers for %s: %w", item.ID, err)
	}

	done := make(map[string]bool, len(blockers))
	for _, b := range blockers {
		done[b.ID] = b.Status == domain.WorkItemStatusDone
	}
	for _, id := range item.BlockedBy {
		if !done[id] {
			return true, nil
		}
	}
	return false, nil
}

// computePriority derives the insertion priority:
// type weight + age bonus (hours, capped) + dependents bonus.
func (q *Queue) computePriority(item domain.WorkItem) int {
	priority := 0
	switch item.Type {
	case domain.WorkItemTypeBug:
		priority = priorityWeightBug
	case domain.WorkItemTypeFeature:
		priority = priorityWeightFeature
	case domain.WorkItemTypeTask:
		priority = priorityWeightTask
	case domain.WorkItemTypeResearch:
		priority = priorityWeightResearch
	}

	ageHours := int(q.now().Sub(item.CreatedAt).Hours())
	if ageHours < 0 {
		ageHours = 0
	}
	if ageHours > ageBonusCapHours {
		ageHours = ageBonusCapHours
	}
	priority += ageHours

	priority += dependentsBonusPerChild * len(item.ChildIDs)

	return priority
}

// Insert enqueues an item with an explicit priority and retry count. Used by
// Refresh and by the driver when promoting ready retries. An item already
// tracked (queued or processing) is left untouched.
func (q *Queue) Insert(item domain.WorkItem, priority, retryCount int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.queued[item.ID]; ok {
		return
	}
	if _, ok := q.processing[item.ID]; ok {
		return
	}

	q.nextSeq++
	q.queued[item.ID] = &QueueItem{
		Item:       item,
		Priority:   priority,
		QueuedAt:   q.now(),
		RetryCount: retryCount,
		seq:        q.nextSeq,
	}
}

// Next returns the highest-priority queue item and atomically moves it to
// the processing set. Ties break by insertion order. Returns nil when the
// queue is empty.
func (q *Queue) Next() *QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	var best *QueueItem
	for _, qi := range q.queued {
		if best == nil || qi.Priority > best.Priority ||
			(qi.Priority == best.Priority && qi.seq < best.seq) {
			best = qi
		}
	}
	if best == nil {
		return nil
	}

	delete(q.queued, best.Item.ID)
	q.processing[best.Item.ID] = best
	return best
}

// Requeue puts a dispatched item back in the queue after a refusal or
// failure, with a reduced priority and an incremented retry count.
func (q *Queue) Requeue(qi *QueueItem, errorMessage string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.processing, qi.Item.ID)

	qi.Priority -= 10 * (qi.RetryCount + 1)
	qi.RetryCount++
	qi.LastError = errorMessage
	qi.LastAttemptAt = q.now()

	q.nextSeq++
	qi.seq = q.nextSeq
	q.queued[qi.Item.ID] = qi
}

// Complete removes an item from the processing set without reinsertion.
func (q *Queue) Complete(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.processing, id)
}

// Remove drops an item from both sets.
func (q *Queue) Remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.queued, id)
	delete(q.processing, id)
}

// Len returns the number of queued (not yet dispatched) items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queued)
}

// ProcessingCount returns the number of items with a dispatch in flight.
func (q *Queue) ProcessingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.processing)
}

// Contains reports whether the item is tracked in either set.
func (q *Queue) Contains(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, queued := q.queued[id]
	_, processing := q.processing[id]
	return queued || processing
}

// Snapshot returns a copy of the queued items ordered by descending
// priority (insertion order within a priority). Observational only.
func (q *Queue) Snapshot() []QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]QueueItem, 0, len(q.queued))
	for _, qi := range q.queued {
		out = append(out, *qi)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].seq < out[j].seq
	})
	return out
}
