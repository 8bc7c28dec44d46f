package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freegie/freegie/pkg/types"
)

func TestPublishSubscribe(t *testing.T) {
	h := NewEventHub()
	ch := h.Subscribe()
	defer h.Unsubscribe(ch)

	h.Publish(PhaseChange, types.PhaseChange{From: "idle", To: "scanning"})
	ev := <-ch
	assert.Equal(t, PhaseChange, ev.Name)
	pc, err := DecodeAs[types.PhaseChange](ev)
	require.NoError(t, err)
	assert.Equal(t, "scanning", pc.To)
}

func TestSubscribeReplaysLatest(t *testing.T) {
	h := NewEventHub()
	h.Publish(StatusUpdate, types.Status{Phase: "idle"})
	h.Publish(StatusUpdate, types.Status{Phase: "scanning"})

	ch := h.Subscribe()
	defer h.Unsubscribe(ch)
	ev := <-ch
	st, err := DecodeAs[types.Status](ev)
	require.NoError(t, err)
	assert.Equal(t, "scanning", st.Phase)
	assert.Len(t, ch, 0)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewEventHub()
	ch := h.Subscribe()
	for i := 0; i < subscriberBuffer*2; i++ {
		h.Publish(StatusUpdate, types.Status{ChargeMax: i})
	}
	assert.Len(t, ch, subscriberBuffer)

	h.Unsubscribe(ch)
	h.Unsubscribe(ch)
	_, open := <-drain(ch)
	assert.False(t, open)
	assert.Equal(t, 0, h.Subscribers())
}

func drain(ch chan Event) chan Event {
	for range ch {
	}
	return ch
}

func TestNilHubPublish(t *testing.T) {
	var h *EventHub
	h.Publish(StatusUpdate, types.Status{})
}

func TestDecodeEmpty(t *testing.T) {
	st, err := DecodeAs[types.Status](Event{Name: StatusUpdate})
	require.NoError(t, err)
	assert.Equal(t, types.Status{}, st)
}
