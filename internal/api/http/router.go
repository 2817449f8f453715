package http

import (
	"net/http"

	"github.com/taskcast/taskcast/internal/logging"
)

// NewRouter wires a TaskHandler's endpoints onto a ServeMux using Go
// 1.22+ method-specific patterns, grounded on the teacher's NewRouter in
// router.go (mux.Handle with method-prefixed patterns, middleware chain
// applied outside-in).
func NewRouter(h *TaskHandler, logger logging.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /tasks", h.HandleCreateTask)
	mux.HandleFunc("GET /tasks/{id}", h.HandleGetTask)
	mux.HandleFunc("PATCH /tasks/{id}/status", h.HandlePatchStatus)
	mux.HandleFunc("POST /tasks/{id}/events", h.HandlePublishEvent)
	mux.HandleFunc("GET /tasks/{id}/events/history", h.HandleGetHistory)
	mux.HandleFunc("GET /tasks/{id}/events", h.HandleStream)
	mux.HandleFunc("GET /health", h.HandleHealth)

	var handler http.Handler = mux
	handler = RecoveryMiddleware(logger)(handler)
	handler = LoggingMiddleware(logger)(handler)
	return handler
}
