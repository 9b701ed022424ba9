package manager

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// EventServerStarted fires after initialize completes and capabilities are discovered.
	EventServerStarted EventKind = "server.started"

	// EventServerStopped fires after an explicit stop.
	EventServerStopped EventKind = "server.stopped"

	// EventServerError fires when a transport dies underneath a running server.
	EventServerError EventKind = "server.error"

	// EventCapabilitiesUpdated fires whenever a server's capability lists are replaced.
	EventCapabilitiesUpdated EventKind = "capabilities.updated"

	// EventServerMessage fires for notifications/message log output from a server.
	EventServerMessage EventKind = "server.message"
)

// EventKind names a class of lifecycle event.
type EventKind string

// Event is one lifecycle occurrence, delivered to subscribers in publish order.
type Event struct {
	ID       string         `json:"id"`
	ServerID string         `json:"server_id"`
	Kind     EventKind      `json:"kind"`
	Payload  map[string]any `json:"payload,omitempty"`
	Time     time.Time      `json:"time"`
}

// subscriberBuffer sizes each subscriber channel. A slow subscriber loses events
// rather than blocking the manager.
const subscriberBuffer = 64

type eventBus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel of future events and a cancel func that must be
// called to release the subscription.
func (b *eventBus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// publish fans the event out without blocking; full subscribers drop it.
func (b *eventBus) publish(serverID string, kind EventKind, payload map[string]any) {
	ev := Event{
		ID:       uuid.NewString(),
		ServerID: serverID,
		Kind:     kind,
		Payload:  payload,
		Time:     time.Now(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
