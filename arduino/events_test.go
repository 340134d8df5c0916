package arduino

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventHub_FanOut(t *testing.T) {
	h := newEventHub(8, nil)

	ch1, cancel1 := h.subscribe()
	ch2, cancel2 := h.subscribe()
	defer cancel1()
	defer cancel2()

	require.Equal(t, 2, h.count())

	h.publish(Event{Type: EventData, Data: []byte{0x01}})

	for _, ch := range []<-chan Event{ch1, ch2} {
		ev := waitEvent(t, ch, EventData)
		assert.Equal(t, []byte{0x01}, ev.Data)
	}
}

func TestEventHub_SlowSubscriberDrops(t *testing.T) {
	var drops atomic.Int32
	h := newEventHub(2, func() { drops.Add(1) })

	ch, cancel := h.subscribe()
	defer cancel()

	h.publish(Event{Type: EventData, Data: []byte{1}})
	h.publish(Event{Type: EventData, Data: []byte{2}})
	h.publish(Event{Type: EventData, Data: []byte{3}})

	assert.Equal(t, int32(1), drops.Load(), "a full buffer drops instead of blocking")
	assert.Equal(t, []byte{1}, (<-ch).Data)
	assert.Equal(t, []byte{2}, (<-ch).Data)
}

func TestEventHub_CancelIsIdempotent(t *testing.T) {
	h := newEventHub(4, nil)

	ch, cancel := h.subscribe()
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok, "cancel closes the subscriber channel")
	assert.Zero(t, h.count())

	// publishing to a hub with no subscribers is harmless
	h.publish(Event{Type: EventConnect})
}

func TestEventHub_Close(t *testing.T) {
	h := newEventHub(4, nil)

	ch, cancel := h.subscribe()
	defer cancel()

	h.close()

	_, ok := <-ch
	assert.False(t, ok, "close closes every subscriber channel")

	h.publish(Event{Type: EventConnect})
	h.close()

	late, lateCancel := h.subscribe()
	defer lateCancel()
	_, ok = <-late
	assert.False(t, ok, "subscribing after close yields a closed channel")
}
