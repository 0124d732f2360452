package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/character-chat/internal/middleware"
	"github.com/capitalize-ai/character-chat/internal/model"
	"github.com/capitalize-ai/character-chat/internal/service"
	"github.com/capitalize-ai/character-chat/pkg/logger"
)

// MessageHandler handles message endpoints.
type MessageHandler struct {
	controller *service.ListController
	logger     *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(ctrl *service.ListController, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		controller: ctrl,
		logger:     logger.OrGlobal(log).Component("messages"),
	}
}

// List handles GET /api/v1/chats/{name}/messages
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	e, ok := findChat(h.controller, w, r)
	if !ok {
		return
	}

	s := e.Session
	writeJSON(w, http.StatusOK, model.ListMessagesResponse{
		Character: s.Name(),
		Messages:  s.History(),
		Visible:   s.Visible(),
		Pending:   s.Pending(),
	})
}

// Send handles POST /api/v1/chats/{name}/messages
// The reply arrives asynchronously and is announced on the event stream.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	e, ok := findChat(h.controller, w, r)
	if !ok {
		return
	}

	var req model.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	log := h.logger.WithContext(middleware.GetCorrelationID(r.Context()), e.Session.Name())

	msg, err := h.controller.Send(e.Character(), req.Content)
	if err != nil {
		log.Warn("send failed", zap.Error(err))
		writeError(w, statusFor(err), err.Error())
		return
	}

	log.Debug("message accepted", zap.Uint64("sequence", msg.Sequence))
	writeJSON(w, http.StatusAccepted, model.SendMessageResponse{
		Message:  &msg,
		Sequence: msg.Sequence,
	})
}
