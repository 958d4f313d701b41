package api

import (
	"sync"
)

// SSEEvent is one job event fanned out to stream subscribers.
type SSEEvent struct {
	Type string
	Data map[string]any
}

// EventBroker fans job events out to the SSE and websocket streams of that job.
type EventBroker interface {
	Subscribe(jobID string) chan SSEEvent
	Unsubscribe(jobID string, ch chan SSEEvent)
	Publish(jobID string, evt SSEEvent)
}

// Broker is the in-process EventBroker used when REDIS_URL is unset.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan SSEEvent]struct{} // jobId -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan SSEEvent]struct{}{}}
}

func (b *Broker) Subscribe(jobID string) chan SSEEvent {
	ch := make(chan SSEEvent, 32)
	b.mu.Lock()
	if b.subs[jobID] == nil {
		b.subs[jobID] = map[chan SSEEvent]struct{}{}
	}
	b.subs[jobID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(jobID string, ch chan SSEEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[jobID]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, jobID)
	}
	close(ch)
}

// Publish drops the event for subscribers whose buffer is full.
func (b *Broker) Publish(jobID string, evt SSEEvent) {
	b.mu.Lock()
	for ch := range b.subs[jobID] {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.Unlock()
}
