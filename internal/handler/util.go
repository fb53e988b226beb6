// Package handler provides HTTP handlers for the API.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bitrepository/reference-sub015/internal/client"
	"github.com/bitrepository/reference-sub015/internal/conversation"
	"github.com/bitrepository/reference-sub015/internal/mediator"
	"github.com/bitrepository/reference-sub015/internal/service"
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

// statusFor maps an error from starting or looking up an operation to an
// HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, client.ErrUnknownCollection), errors.Is(err, service.ErrOperationNotFound):
		return http.StatusNotFound
	case errors.Is(err, client.ErrUnknownContributor), errors.Is(err, conversation.ErrInvalidContext):
		return http.StatusBadRequest
	case errors.Is(err, conversation.ErrSendFailed):
		return http.StatusBadGateway
	case errors.Is(err, mediator.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
