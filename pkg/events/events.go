// Package events carries task log and status events from running tasks to
// whichever observers are attached to a task id.
package events

import (
	"sync"
	"time"

	"github.com/guido-cesarano/looprelay/pkg/logger"
)

// Event types.
const (
	TypeLog    = "log"
	TypeStatus = "status"
)

// Event is a single notification emitted by a task.
type Event struct {
	Type      string    `json:"type"`
	TaskID    string    `json:"taskId"`
	Message   string    `json:"message,omitempty"`
	Severity  string    `json:"severity,omitempty"`
	State     string    `json:"state,omitempty"`
	Running   bool      `json:"running"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub fans events out to subscribers keyed by task id. Publish never blocks:
// a subscriber whose buffer is full misses the event.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
}

// Subscription receives the events of one task until Close is called.
type Subscription struct {
	TaskID string
	C      <-chan Event

	ch     chan Event
	hub    *Hub
	once   sync.Once
	mu     sync.Mutex
	closed bool
}

// NewHub creates a Hub whose subscriptions buffer up to buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscribe attaches a new observer to taskID.
func (h *Hub) Subscribe(taskID string) *Subscription {
	ch := make(chan Event, h.buffer)
	s := &Subscription{TaskID: taskID, C: ch, ch: ch, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[taskID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[taskID] = set
	}
	set[s] = struct{}{}
	return s
}

// Publish delivers e to every subscriber of e.TaskID.
func (h *Hub) Publish(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[e.TaskID] {
		s.deliver(e)
	}
}

// Subscribers returns the number of observers attached to taskID.
func (h *Hub) Subscribers(taskID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[taskID])
}

func (s *Subscription) deliver(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- e:
	default:
		logger.Log.Debug().Str("task_id", e.TaskID).Msg("Subscriber buffer full, dropping event")
	}
}

// Close detaches the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		if set, ok := s.hub.subs[s.TaskID]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(s.hub.subs, s.TaskID)
			}
		}
		s.hub.mu.Unlock()

		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
}
