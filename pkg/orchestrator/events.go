package orchestrator

import "sync"

// eventHub fans step events out to websocket subscribers. Slow subscribers
// drop events rather than block executions.
type eventHub struct {
	mu   sync.Mutex
	next int
	subs map[int]chan StepEvent
}

func newEventHub() *eventHub {
	return &eventHub{
		subs: make(map[int]chan StepEvent),
	}
}

// subscribe registers a listener for all step events. The returned function
// cancels the subscription and closes the channel.
func (h *eventHub) subscribe() (<-chan StepEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++

	ch := make(chan StepEvent, 64)
	h.subs[id] = ch

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
	return ch, unsubscribe
}

func (h *eventHub) publish(event StepEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs {
		select {
		case ch <- event:
		default:
		}
	}
}
