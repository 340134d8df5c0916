package arduino

import (
	"sync"
)

// EventType classifies a connection event.
type EventType uint8

const (
	// EventConnect signals the serial link is open and ready.
	EventConnect EventType = iota
	// EventDisconnect signals the serial link was lost or closed.
	EventDisconnect
	// EventData carries one inbound decoded message.
	EventData
	// EventError carries a transport, integrity or delivery error.
	EventError
	// EventDiscard signals a low priority message was dropped before send.
	EventDiscard
)

// String returns string representation of the event type.
func (t EventType) String() string {
	switch t {
	case EventConnect:
		return "connect"
	case EventDisconnect:
		return "disconnect"
	case EventData:
		return "data"
	case EventError:
		return "error"
	case EventDiscard:
		return "discard"
	default:
		return "unknown"
	}
}

// Event is one observable connection occurrence delivered to subscribers.
type Event struct {
	// Type tags which fields below are meaningful.
	Type EventType

	// Port is the device path the event refers to, when known.
	Port string

	// Data is the inbound payload for EventData and the dropped payload for
	// EventDiscard. The slice is owned by the subscriber.
	Data []byte

	// Err is set for EventError.
	Err error
}

// eventHub fans events out to subscribers over buffered channels. Slow
// subscribers lose events rather than stall the read loop.
type eventHub struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	nextID  uint64
	bufSize int
	closed  bool
	onDrop  func()
}

func newEventHub(bufSize int, onDrop func()) *eventHub {
	return &eventHub{
		subs:    make(map[uint64]chan Event),
		bufSize: bufSize,
		onDrop:  onDrop,
	}
}

// subscribe registers a new subscriber. The returned cancel function
// unregisters it and closes the channel; calling it more than once is safe.
// Subscribing to a closed hub returns an already closed channel.
func (h *eventHub) subscribe() (<-chan Event, func()) {
	ch := make(chan Event, h.bufSize)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)

		return ch, func() {}
	}
	h.nextID++
	id := h.nextID
	h.subs[id] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}

	return ch, cancel
}

// publish delivers ev to every subscriber with buffer room. Channels are
// only closed under the write lock, so sending under the read lock never
// races a close.
func (h *eventHub) publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}

	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			if h.onDrop != nil {
				h.onDrop()
			}
		}
	}
}

// close closes every subscriber channel and makes publish a no-op.
func (h *eventHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}

// count returns the current subscriber count.
func (h *eventHub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.subs)
}
