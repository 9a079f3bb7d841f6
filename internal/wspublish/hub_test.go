package wspublish

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/on-par/agent-ops/internal/domain"
)

// fakeConn records written events and can be scripted to fail or stall.
type fakeConn struct {
	mu      sync.Mutex
	events  []domain.ProgressEvent
	failErr error
	block   chan struct{} // when set, WriteJSON waits for it
	closed  bool
}

func (c *fakeConn) WriteJSON(v any) error {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failErr != nil {
		return c.failErr
	}
	c.events = append(c.events, v.(domain.ProgressEvent))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) eventCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func event(id, message string) domain.ProgressEvent {
	return domain.ProgressEvent{
		WorkItemID: id,
		WorkerID:   "a1",
		Status:     domain.ProgressInProgress,
		Message:    message,
		Timestamp:  time.Now().UTC(),
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	h := NewHub()
	defer h.Close()

	first := &fakeConn{}
	second := &fakeConn{}
	h.Subscribe(first)
	h.Subscribe(second)

	h.Publish(event("w1", "hello"))

	waitFor(t, func() bool { return first.eventCount() == 1 && second.eventCount() == 1 })
	assert.Equal(t, 2, h.SubscriberCount())
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	h := NewHub(WithBufferSize(2))
	defer h.Close()

	gate := make(chan struct{})
	slow := &fakeConn{block: gate}
	h.Subscribe(slow)

	// First publish is picked up by the writer and stalls on the gate;
	// the next two fill the queue, the fourth sheds the oldest queued one.
	h.Publish(event("w1", "e1"))
	waitFor(t, func() bool { return queueLen(h) == 0 })
	h.Publish(event("w1", "e2"))
	h.Publish(event("w1", "e3"))
	h.Publish(event("w1", "e4"))

	close(gate)
	waitFor(t, func() bool { return slow.eventCount() == 3 })

	slow.mu.Lock()
	defer slow.mu.Unlock()
	messages := make([]string, 0, len(slow.events))
	for _, ev := range slow.events {
		messages = append(messages, ev.Message)
	}
	assert.Equal(t, []string{"e1", "e3", "e4"}, messages, "e2 was shed as the oldest queued event")
}

// queueLen reports the sole subscriber's pending-event count.
func queueLen(h *Hub) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		return len(c.send)
	}
	return 0
}

func TestWriteFailureUnsubscribes(t *testing.T) {
	h := NewHub()
	defer h.Close()

	broken := &fakeConn{failErr: errors.New("connection reset")}
	h.Subscribe(broken)
	require.Equal(t, 1, h.SubscriberCount())

	h.Publish(event("w1", "boom"))

	waitFor(t, func() bool { return h.SubscriberCount() == 0 })
	assert.True(t, broken.isClosed())
}

func TestCloseDisconnectsAndRejectsNewSubscribers(t *testing.T) {
	h := NewHub()

	conn := &fakeConn{}
	h.Subscribe(conn)

	h.Close()
	waitFor(t, func() bool { return conn.isClosed() })
	assert.Equal(t, 0, h.SubscriberCount())

	late := &fakeConn{}
	h.Subscribe(late)
	assert.True(t, late.isClosed())
	assert.Equal(t, 0, h.SubscriberCount())
}
