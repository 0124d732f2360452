package handler

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/character-chat/internal/middleware"
	"github.com/capitalize-ai/character-chat/internal/model"
	"github.com/capitalize-ai/character-chat/internal/registry"
	"github.com/capitalize-ai/character-chat/internal/service"
	"github.com/capitalize-ai/character-chat/pkg/logger"
)

// ChatHandler handles chat list endpoints.
type ChatHandler struct {
	controller *service.ListController
	logger     *logger.Logger

	// Serializes name checks with adds so names stay unique.
	createMu sync.Mutex
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(ctrl *service.ListController, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		controller: ctrl,
		logger:     logger.OrGlobal(log).Component("chats"),
	}
}

// List handles GET /api/v1/chats
func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	summaries := h.controller.Summaries()
	resp := model.ListChatsResponse{
		Chats: summaries,
		Total: len(summaries),
	}
	if active := h.controller.Active(); active != nil {
		resp.Active = active.Session.Name()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Create handles POST /api/v1/chats
func (h *ChatHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateCharacterName(req.Name); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateSystemPrompt(req.SystemPrompt); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.createMu.Lock()
	defer h.createMu.Unlock()

	if _, exists := h.controller.FindByName(req.Name); exists {
		writeError(w, http.StatusConflict, "chat already exists")
		return
	}

	character := model.NewCharacter(req.Name, req.Avatar, req.Model, req.SystemPrompt)
	e, _, err := h.controller.Add(character)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	h.logger.WithContext(middleware.GetCorrelationID(r.Context()), req.Name).
		Info("chat added", zap.String("session_id", e.Session.ID()))

	writeJSON(w, http.StatusCreated, e.View.Snapshot())
}

// Remove handles DELETE /api/v1/chats/{name}
func (h *ChatHandler) Remove(w http.ResponseWriter, r *http.Request) {
	e, ok := h.lookup(w, r)
	if !ok {
		return
	}

	if !h.controller.Remove(e.Character()) {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Select handles POST /api/v1/chats/{name}/select
func (h *ChatHandler) Select(w http.ResponseWriter, r *http.Request) {
	e, ok := h.lookup(w, r)
	if !ok {
		return
	}

	// The list entry is activated the same way a click would; the controller
	// selects the session from its OnSelected subscription.
	e.View.Select()

	if h.controller.Active() != e {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}

	writeJSON(w, http.StatusOK, e.View.Snapshot())
}

// Hide handles POST /api/v1/chats/{name}/hide
func (h *ChatHandler) Hide(w http.ResponseWriter, r *http.Request) {
	e, ok := h.lookup(w, r)
	if !ok {
		return
	}

	if err := h.controller.Hide(e.Character()); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// lookup resolves the {name} URL parameter, writing a 404 when absent.
func (h *ChatHandler) lookup(w http.ResponseWriter, r *http.Request) (*registry.Entry, bool) {
	return findChat(h.controller, w, r)
}

func findChat(ctrl *service.ListController, w http.ResponseWriter, r *http.Request) (*registry.Entry, bool) {
	name := chi.URLParam(r, "name")
	e, ok := ctrl.FindByName(name)
	if !ok {
		writeError(w, http.StatusNotFound, "chat not found")
		return nil, false
	}
	return e, true
}
