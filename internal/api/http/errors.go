package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/taskcast/taskcast/internal/logging"
	"github.com/taskcast/taskcast/internal/taskerr"
)

// errorResponse is the {"error": ...} shape every failed request returns.
type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// mapTaskError translates a taskerr sentinel into an HTTP status code. It
// checks the sentinels in order of specificity with errors.Is rather than
// switching on concrete types, matching the teacher's mapDomainError
// convention in error_mapper.go. Returns (0, "") for an error it does not
// recognize, letting the caller fall back to 500.
func mapTaskError(err error) (status int, message string) {
	if err == nil {
		return 0, ""
	}
	switch {
	case errors.Is(err, taskerr.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, taskerr.ErrInvalidTransition):
		return http.StatusConflict, err.Error()
	case errors.Is(err, taskerr.ErrTerminalTask):
		return http.StatusConflict, err.Error()
	case errors.Is(err, taskerr.ErrSchemaInvalid):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, taskerr.ErrUnauthorized):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, taskerr.ErrForbidden):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, taskerr.ErrStorageError), errors.Is(err, taskerr.ErrBroadcastError):
		return http.StatusInternalServerError, "internal error"
	default:
		return 0, ""
	}
}

func writeMappedError(w http.ResponseWriter, logger logging.Logger, err error, defaultMsg string) {
	if status, msg := mapTaskError(err); status != 0 {
		writeJSONError(w, status, msg)
		return
	}
	logger.Error("unmapped error: %v", err)
	writeJSONError(w, http.StatusInternalServerError, defaultMsg)
}
