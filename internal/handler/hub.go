package handler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/character-chat/internal/model"
	"github.com/capitalize-ai/character-chat/internal/registry"
	"github.com/capitalize-ai/character-chat/internal/service"
	"github.com/capitalize-ai/character-chat/pkg/logger"
	"github.com/capitalize-ai/character-chat/pkg/metrics"
)

// subscriberBufferSize is the channel buffer for each event stream client.
const subscriberBufferSize = 64

var _ service.Renderer = (*Hub)(nil)

// Hub renders the chat list as a stream of list events. It is the list
// controller's renderer: every mounted entry's summary changes are fanned out
// to all subscribed clients.
type Hub struct {
	logger *logger.Logger

	mu          sync.RWMutex
	subscribers map[string]chan model.ListEvent
	mounted     map[*registry.Entry]func()
	order       []*registry.Entry
	closed      bool
}

// NewHub creates an empty hub.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		logger:      logger.OrGlobal(log).Component("hub"),
		subscribers: make(map[string]chan model.ListEvent),
		mounted:     make(map[*registry.Entry]func()),
	}
}

// Mount starts forwarding e's summary refreshes.
func (h *Hub) Mount(e *registry.Entry) {
	h.mu.Lock()
	if _, ok := h.mounted[e]; ok {
		h.mu.Unlock()
		return
	}
	h.mounted[e] = e.View.OnRefreshed(func(s model.Summary) {
		h.publish(model.EventTypeRefreshed, s)
	})
	h.order = append(h.order, e)
	h.mu.Unlock()

	h.publish(model.EventTypeMounted, e.View.Snapshot())
}

// Unmount stops forwarding e's refreshes and tells clients it is gone.
func (h *Hub) Unmount(e *registry.Entry) {
	h.mu.Lock()
	unsub, ok := h.mounted[e]
	if !ok {
		h.mu.Unlock()
		return
	}
	unsub()
	delete(h.mounted, e)
	for i, m := range h.order {
		if m == e {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	h.mu.Unlock()

	h.publish(model.EventTypeUnmounted, e.View.Snapshot())
}

// Activated tells clients which entry is selected.
func (h *Hub) Activated(e *registry.Entry) {
	h.publish(model.EventTypeSelected, e.View.Snapshot())
}

// Snapshot returns one mounted event per rendered entry, in display order.
func (h *Hub) Snapshot() []model.ListEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()

	now := time.Now()
	out := make([]model.ListEvent, len(h.order))
	for i, e := range h.order {
		out[i] = model.ListEvent{Type: model.EventTypeMounted, Summary: e.View.Snapshot(), CreatedAt: now}
	}
	return out
}

// Subscribe registers a client. The subscription ends when ctx is done.
func (h *Hub) Subscribe(ctx context.Context) (<-chan model.ListEvent, string) {
	id := uuid.New().String()
	ch := make(chan model.ListEvent, subscriberBufferSize)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, id
	}
	h.subscribers[id] = ch
	h.mu.Unlock()

	h.logger.Debug("subscriber added", zap.String("sub_id", id))

	go func() {
		<-ctx.Done()
		h.Unsubscribe(id)
	}()

	return ch, id
}

// Unsubscribe removes a client and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.subscribers[id]
	if !ok {
		return
	}
	delete(h.subscribers, id)
	close(ch)

	h.logger.Debug("subscriber removed", zap.String("sub_id", id))
}

// Subscribers returns the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close disconnects every client and forgets every mounted entry.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for e, unsub := range h.mounted {
		unsub()
		delete(h.mounted, e)
	}
	h.order = nil
	for id, ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, id)
	}
	h.closed = true
}

// publish never blocks: a slow client loses events rather than stalling the
// session that produced them.
func (h *Hub) publish(t model.EventType, s model.Summary) {
	ev := model.ListEvent{Type: t, Summary: s, CreatedAt: time.Now()}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
			metrics.SSEEventsDropped.Inc()
			h.logger.Debug("dropped event for slow subscriber",
				zap.String("sub_id", id),
				zap.String("event", string(t)),
			)
		}
	}
}
