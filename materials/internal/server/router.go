// Package server exposes the material request API over HTTP.
package server

import "net/http"

// NewRouter constructs a ServeMux with the request routes registered.
func NewRouter(h *RequestHandler) *http.ServeMux {
	mux := http.NewServeMux()
	Register(mux, h)
	return mux
}

// Register adds the request routes to mux.
func Register(mux *http.ServeMux, h *RequestHandler) {
	mux.HandleFunc("GET /api/v1/requests", h.List)
	mux.HandleFunc("POST /api/v1/requests", h.Create)
	mux.HandleFunc("GET /api/v1/requests/{id}", h.Get)
	mux.HandleFunc("POST /api/v1/requests/{id}/ready", h.Ready)
	mux.HandleFunc("POST /api/v1/requests/{id}/update", h.Update)
	mux.HandleFunc("POST /api/v1/requests/{id}/cancel", h.Cancel)
	mux.HandleFunc("POST /api/v1/requests/{id}/hold", h.Hold)
}
