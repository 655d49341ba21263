package gateway

import (
	"testing"

	"github.com/stretchr/testify/require"

	"gesture-bridge/internal/media"
)

func TestHubSubscribePublish(t *testing.T) {
	hub := NewHub()

	first := hub.Subscribe("a")
	second := hub.Subscribe("b")
	require.Equal(t, 2, hub.Subscribers())

	hub.Publish(&media.Frame{Seq: 1})
	hub.Publish(&media.Frame{Seq: 2})

	frame, ok := first.Take()
	require.True(t, ok)
	require.Equal(t, uint64(2), frame.Seq, "latest frame wins")

	frame, ok = second.Take()
	require.True(t, ok)
	require.Equal(t, uint64(2), frame.Seq)
}

func TestHubSubscribeSameIDReturnsSameSlot(t *testing.T) {
	hub := NewHub()

	first := hub.Subscribe("a")
	second := hub.Subscribe("a")
	require.Same(t, first, second)
	require.Equal(t, 1, hub.Subscribers())
}

func TestHubUnsubscribeIdempotent(t *testing.T) {
	hub := NewHub()

	slot := hub.Subscribe("a")
	hub.Unsubscribe("a")
	hub.Unsubscribe("a")
	require.Equal(t, 0, hub.Subscribers())

	hub.Publish(&media.Frame{Seq: 1})
	_, ok := slot.Take()
	require.False(t, ok, "unsubscribed slot must not receive frames")
}

func TestHubSingleProducerSeat(t *testing.T) {
	hub := NewHub()

	require.NoError(t, hub.AttachProducer("p1"))
	require.ErrorIs(t, hub.AttachProducer("p2"), ErrProducerBusy)
	require.True(t, hub.ProducerConnected())

	// Detaching a non-holder must not release the seat.
	hub.DetachProducer("p2")
	require.True(t, hub.ProducerConnected())

	hub.DetachProducer("p1")
	require.False(t, hub.ProducerConnected())
	require.NoError(t, hub.AttachProducer("p2"))
}

func TestHubDetachClearsSubscriberSlots(t *testing.T) {
	hub := NewHub()
	slot := hub.Subscribe("a")

	require.NoError(t, hub.AttachProducer("p1"))
	hub.Publish(&media.Frame{Seq: 9})
	hub.DetachProducer("p1")

	_, ok := slot.Take()
	require.False(t, ok, "stale producer frames must not survive disconnect")
}
