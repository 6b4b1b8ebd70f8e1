// Helper functions for sending standardized JSON responses.

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vrsandeep/mvidarr-go/internal/bulk"
	"github.com/vrsandeep/mvidarr-go/internal/logger"
)

// RespondWithJSON writes a JSON response with the given status code and payload.
func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		// If marshaling fails, return an error response
		RespondWithError(w, http.StatusInternalServerError, "Failed to marshal response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// RespondWithError writes a standardized JSON error response.
func RespondWithError(w http.ResponseWriter, code int, message string) {
	RespondWithJSON(w, code, map[string]string{"error": message})
}

// RespondWithEngineError maps an engine error to its HTTP status.
func RespondWithEngineError(w http.ResponseWriter, err error) {
	code := statusForError(err)
	if code == http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
		RespondWithError(w, code, "Internal server error")
		return
	}
	RespondWithError(w, code, err.Error())
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, bulk.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, bulk.ErrAlreadyRunning),
		errors.Is(err, bulk.ErrNotPending),
		errors.Is(err, bulk.ErrAlreadyUndone),
		errors.Is(err, bulk.ErrNotUndoable):
		return http.StatusConflict
	case errors.Is(err, bulk.ErrValidation),
		errors.Is(err, bulk.ErrUnknownType):
		return http.StatusUnprocessableEntity
	case errors.Is(err, bulk.ErrAtCapacity):
		return http.StatusTooManyRequests
	case errors.Is(err, bulk.ErrShuttingDown),
		errors.Is(err, bulk.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
