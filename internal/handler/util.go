package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/capitalize-ai/character-chat/internal/model"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var cfgErr *model.ConfigurationError
	var trErr *model.TransportError
	switch {
	case model.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, model.ErrEmptyMessage), errors.As(err, &cfgErr):
		return http.StatusBadRequest
	case errors.As(err, &trErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// sendSSEEvent writes one server-sent event and flushes it.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	flusher.Flush()
}
