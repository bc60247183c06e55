package relay

import (
	"sync"
)

// EventBroker decouples event producers from the fan-out loop. The in-memory
// implementation serves a single relay instance; RedisBroker lets several
// instances share one viewer population.
type EventBroker interface {
	Subscribe(topic string) chan Event
	Unsubscribe(topic string, ch chan Event)
	Publish(topic string, evt Event)
}

// Broker is the in-memory EventBroker.
type Broker struct {
	mu     sync.Mutex
	buffer int
	subs   map[string]map[chan Event]struct{} // topic -> set of channels
}

func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broker{buffer: buffer, subs: map[string]map[chan Event]struct{}{}}
}

func (b *Broker) Subscribe(topic string) chan Event {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = map[chan Event]struct{}{}
	}
	b.subs[topic][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(topic string, ch chan Event) {
	b.mu.Lock()
	if m := b.subs[topic]; m != nil {
		if _, ok := m[ch]; ok {
			delete(m, ch)
			close(ch)
		}
		if len(m) == 0 {
			delete(b.subs, topic)
		}
	}
	b.mu.Unlock()
}

// Publish delivers evt to every subscriber of topic. Sends are non-blocking;
// a lagging subscriber loses the event, not the stream.
func (b *Broker) Publish(topic string, evt Event) {
	b.mu.Lock()
	for ch := range b.subs[topic] {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.Unlock()
}
