package gateway

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"gesture-bridge/internal/logger"
	"gesture-bridge/internal/media"
)

var ErrProducerBusy = errors.New("a frame producer is already connected")

// Hub fans accepted producer frames out to subscribed sessions. Each
// subscriber owns a latest-frame-wins slot, so a slow session can never
// block the producer or another session. The subscriber set and the
// current producer are mutated only under the hub's own mutex.
type Hub struct {
	log *logrus.Entry

	mu       sync.Mutex
	subs     map[string]*media.LatestSlot
	producer string
}

func NewHub() *Hub {
	return &Hub{
		log:  logger.Logger.WithField("operator", "gateway-hub"),
		subs: make(map[string]*media.LatestSlot),
	}
}

// Subscribe registers id and returns its frame slot. Subscribing the
// same id twice returns the existing slot.
func (h *Hub) Subscribe(id string) *media.LatestSlot {
	h.mu.Lock()
	defer h.mu.Unlock()

	if slot, ok := h.subs[id]; ok {
		return slot
	}
	slot := &media.LatestSlot{}
	h.subs[id] = slot
	h.log.WithField("id", id).Info("Subscriber added")
	return slot
}

// Unsubscribe removes id. Unknown ids are a no-op, which keeps Session
// close idempotent.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	_, ok := h.subs[id]
	delete(h.subs, id)
	h.mu.Unlock()

	if ok {
		h.log.WithField("id", id).Info("Subscriber removed")
	}
}

// Publish delivers f to every current subscriber, replacing unconsumed
// frames.
func (h *Hub) Publish(f *media.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, slot := range h.subs {
		slot.Put(f)
	}
}

// AttachProducer claims the single producer seat for id.
func (h *Hub) AttachProducer(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.producer != "" {
		return ErrProducerBusy
	}
	h.producer = id
	h.log.WithField("id", id).Info("Producer attached")
	return nil
}

// DetachProducer releases the producer seat and clears every
// subscriber's slot so sessions fall back to synthetic frames instead
// of serving a stale producer frame.
func (h *Hub) DetachProducer(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.producer != id {
		return
	}
	h.producer = ""
	for _, slot := range h.subs {
		slot.Clear()
	}
	h.log.WithField("id", id).Info("Producer detached")
}

// ProducerConnected reports whether a producer currently holds the seat.
func (h *Hub) ProducerConnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.producer != ""
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
