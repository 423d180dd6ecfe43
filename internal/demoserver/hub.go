package demoserver

import (
	"sync"

	"github.com/raysh454/capwatch/internal/backend"
)

// topic is the append-only event log of one job.
type topic struct {
	events   []backend.StreamEvent
	finished bool
	changed  chan struct{}
}

// hub keeps each job's event log. Readers pull from an offset, so a slow
// WebSocket never loses events and never holds up the simulator.
type hub struct {
	mu     sync.Mutex
	topics map[string]*topic
}

func newHub() *hub {
	return &hub{topics: make(map[string]*topic)}
}

func (h *hub) topicLocked(jobID string) *topic {
	t, ok := h.topics[jobID]
	if !ok {
		t = &topic{changed: make(chan struct{})}
		h.topics[jobID] = t
	}
	return t
}

func (t *topic) notifyLocked() {
	close(t.changed)
	t.changed = make(chan struct{})
}

// publish appends ev to the job's log and wakes its readers.
func (h *hub) publish(jobID string, ev backend.StreamEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t := h.topicLocked(jobID)
	if t.finished {
		return
	}
	t.events = append(t.events, ev)
	t.notifyLocked()
}

// finish marks the log complete. Later publishes are ignored.
func (h *hub) finish(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t := h.topicLocked(jobID)
	if t.finished {
		return
	}
	t.finished = true
	t.notifyLocked()
}

// since returns the events after the first offset ones, whether the log is
// complete, and a channel closed on the next change.
func (h *hub) since(jobID string, offset int) (events []backend.StreamEvent, finished bool, changed <-chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t := h.topicLocked(jobID)
	if offset < len(t.events) {
		events = append([]backend.StreamEvent(nil), t.events[offset:]...)
	}
	return events, t.finished, t.changed
}

// closeAll finishes every topic.
func (h *hub) closeAll() {
	h.mu.Lock()
	ids := make([]string, 0, len(h.topics))
	for id := range h.topics {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	for _, id := range ids {
		h.finish(id)
	}
}
