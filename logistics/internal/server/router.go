// Package server exposes the logistics task API over HTTP.
package server

import (
	"net/http"

	"github.com/telhawk-systems/logistics-bridge/common/middleware"
	"github.com/telhawk-systems/logistics-bridge/common/tokens"
)

// NewRouter constructs a ServeMux with the task routes registered.
func NewRouter(h *TaskHandler, signer *tokens.Signer) *http.ServeMux {
	mux := http.NewServeMux()
	Register(mux, h, signer)
	return mux
}

// Register adds the task routes to mux. Confirmation uploads require a
// service token when signer is not nil.
func Register(mux *http.ServeMux, h *TaskHandler, signer *tokens.Signer) {
	mux.HandleFunc("GET /api/v1/tasks", h.List)
	mux.HandleFunc("POST /api/v1/tasks", h.Create)
	mux.HandleFunc("GET /api/v1/tasks/{id}", h.Get)
	mux.HandleFunc("POST /api/v1/tasks/{id}/accept", h.Accept)
	mux.HandleFunc("POST /api/v1/tasks/{id}/transit", h.Transit)
	mux.HandleFunc("POST /api/v1/tasks/{id}/exception", h.Exception)

	requireToken := middleware.RequireServiceToken(signer)
	mux.Handle("POST /api/v1/tasks/{id}/confirmations", requireToken(http.HandlerFunc(h.Confirm)))
}
