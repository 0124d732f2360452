package handler

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/character-chat/internal/middleware"
	"github.com/capitalize-ai/character-chat/internal/model"
	"github.com/capitalize-ai/character-chat/pkg/logger"
	"github.com/capitalize-ai/character-chat/pkg/metrics"
)

// DefaultHeartbeatInterval keeps idle event streams open through proxies.
const DefaultHeartbeatInterval = 30 * time.Second

// StreamHandler handles SSE streaming endpoints.
type StreamHandler struct {
	hub       *Hub
	logger    *logger.Logger
	heartbeat time.Duration
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(hub *Hub, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		hub:       hub,
		logger:    logger.OrGlobal(log).Component("stream"),
		heartbeat: DefaultHeartbeatInterval,
	}
}

// Events handles GET /api/v1/chats/events
// The stream opens with one mounted event per chat, then follows live
// list changes.
func (h *StreamHandler) Events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Subscribe before the snapshot so nothing is missed between the two.
	events, subID := h.hub.Subscribe(ctx)
	defer h.hub.Unsubscribe(subID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	log := h.logger.WithContext(middleware.GetCorrelationID(ctx), "")
	log.Info("event stream opened", zap.String("sub_id", subID))

	sendSSEEvent(w, flusher, "connected", map[string]string{"subscription_id": subID})
	for _, ev := range h.hub.Snapshot() {
		sendSSEEvent(w, flusher, string(ev.Type), ev)
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("event stream closed", zap.String("sub_id", subID))
			return

		case ev, ok := <-events:
			if !ok {
				sendSSEEvent(w, flusher, "error", &model.ErrorEvent{
					Code:    "shutdown",
					Message: "server is shutting down",
				})
				return
			}
			sendSSEEvent(w, flusher, string(ev.Type), ev)

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", &model.HeartbeatEvent{
				Timestamp: time.Now(),
			})
		}
	}
}
