// Package realtime fans database change signals out to subscribers and
// coalesces bursts of them into single recomputations.
package realtime

import (
	"context"
	"iter"
	"sync"
	"sync/atomic"

	"github.com/ldi/sprintboard/pkg/models"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 64

// Hub broadcasts changes. Publish never blocks: a subscriber whose queue is
// full misses the signal, which is safe because signals carry no state a
// recompute depends on.
type Hub struct {
	mu      sync.Mutex
	subs    map[uint64]chan models.Change
	nextID  uint64
	buffer  int
	dropped atomic.Int64
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		subs:   make(map[uint64]chan models.Change),
		buffer: buffer,
	}
}

// Publish delivers c to every current subscriber.
func (h *Hub) Publish(c models.Change) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs {
		select {
		case ch <- c:
		default:
			h.dropped.Add(1)
		}
	}
}

// Hook adapts Publish to the database change hook signature.
func (h *Hub) Hook(_ context.Context, c models.Change) {
	h.Publish(c)
}

// Subscribe returns a sequence of changes. Nothing is registered until the
// sequence is ranged over, each range gets its own subscription, and the
// range ends when ctx is done.
func (h *Hub) Subscribe(ctx context.Context) iter.Seq[models.Change] {
	return func(yield func(models.Change) bool) {
		id, ch := h.register()
		defer h.unregister(id)

		for {
			select {
			case <-ctx.Done():
				return
			case c := <-ch:
				if !yield(c) {
					return
				}
			}
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped returns how many signals were discarded for full queues.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

func (h *Hub) register() (uint64, chan models.Change) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	ch := make(chan models.Change, h.buffer)
	h.subs[h.nextID] = ch
	return h.nextID, ch
}

func (h *Hub) unregister(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
}
