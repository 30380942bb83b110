package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/telhawk-systems/logistics-bridge/common/httputil"
	"github.com/telhawk-systems/logistics-bridge/common/logging"
	"github.com/telhawk-systems/logistics-bridge/materials/internal/requests"
	"github.com/telhawk-systems/logistics-bridge/materials/internal/service"
)

// RequestHandler serves the material request API.
type RequestHandler struct {
	svc    *service.Service
	logger *logging.Logger
}

func NewRequestHandler(svc *service.Service, logger *logging.Logger) *RequestHandler {
	return &RequestHandler{svc: svc, logger: logger}
}

type cancelRequest struct {
	Reason      string `json:"reason"`
	CancelledBy string `json:"cancelled_by"`
}

type holdRequest struct {
	Reason         string     `json:"reason"`
	HeldBy         string     `json:"held_by"`
	ExpectedResume *time.Time `json:"expected_resume,omitempty"`
}

func (h *RequestHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	views, err := h.svc.List(r.Context(), requests.Filter{
		Status:      requests.Status(q.Get("status")),
		RequestedBy: q.Get("requested_by"),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit := httputil.ParseLimit(r, 100, 1000)
	if len(views) > limit {
		views = views[:limit]
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"requests": views, "count": len(views)})
}

func (h *RequestHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.NewRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := h.svc.Create(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *RequestHandler) Get(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, v)
}

// Ready releases the request for collection. It takes no body.
func (h *RequestHandler) Ready(w http.ResponseWriter, r *http.Request) {
	req, err := h.svc.Release(r.Context(), r.PathValue("id"))
	h.respond(w, r, req, err)
}

func (h *RequestHandler) Update(w http.ResponseWriter, r *http.Request) {
	var c service.Changes
	if err := httputil.DecodeJSON(w, r, &c); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := h.svc.Update(r.Context(), r.PathValue("id"), c)
	h.respond(w, r, req, err)
}

func (h *RequestHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var c cancelRequest
	if err := httputil.DecodeJSON(w, r, &c); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := h.svc.Cancel(r.Context(), r.PathValue("id"), c.Reason, c.CancelledBy)
	h.respond(w, r, req, err)
}

func (h *RequestHandler) Hold(w http.ResponseWriter, r *http.Request) {
	var c holdRequest
	if err := httputil.DecodeJSON(w, r, &c); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := h.svc.Hold(r.Context(), r.PathValue("id"), c.Reason, c.HeldBy, c.ExpectedResume)
	h.respond(w, r, req, err)
}

func (h *RequestHandler) respond(w http.ResponseWriter, r *http.Request, req requests.Request, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, req)
}

func (h *RequestHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, requests.ErrNotFound):
		httputil.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, requests.ErrInvalidTransition):
		httputil.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrInvalidInput):
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrPublish):
		h.logger.ErrorContext(r.Context(), "request event not published", logging.MaterialRequestID(r.PathValue("id")), logging.Error(err))
		httputil.WriteError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "request failed", logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
