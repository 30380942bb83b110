package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/telhawk-systems/logistics-bridge/common/events"
	"github.com/telhawk-systems/logistics-bridge/common/httputil"
	"github.com/telhawk-systems/logistics-bridge/common/logging"
	"github.com/telhawk-systems/logistics-bridge/logistics/internal/remote"
	"github.com/telhawk-systems/logistics-bridge/logistics/internal/service"
	"github.com/telhawk-systems/logistics-bridge/logistics/internal/tasks"
)

// TaskHandler serves the task API.
type TaskHandler struct {
	svc    *service.Service
	logger *logging.Logger
}

func NewTaskHandler(svc *service.Service, logger *logging.Logger) *TaskHandler {
	return &TaskHandler{svc: svc, logger: logger}
}

type acceptRequest struct {
	Driver string `json:"driver"`
}

type transitRequest struct {
	ETA      *time.Time       `json:"eta,omitempty"`
	Location *events.GeoPoint `json:"location,omitempty"`
}

type exceptionRequest struct {
	Kind        events.ExceptionKind `json:"kind"`
	Description string               `json:"description"`
	ReportedBy  string               `json:"reported_by"`
}

func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := tasks.Filter{
		Status:     tasks.Status(q.Get("status")),
		AssignedTo: q.Get("assigned_to"),
	}
	if v := q.Get("open"); v != "" {
		open, err := strconv.ParseBool(v)
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "open must be a boolean")
			return
		}
		f.OpenOnly = open
	}

	views, err := h.svc.List(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit := httputil.ParseLimit(r, 100, 1000)
	if len(views) > limit {
		views = views[:limit]
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"tasks": views, "count": len(views)})
}

func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.NewTask
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, err := h.svc.Create(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, t)
}

func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, v)
}

func (h *TaskHandler) Accept(w http.ResponseWriter, r *http.Request) {
	var req acceptRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, err := h.svc.Accept(r.Context(), r.PathValue("id"), req.Driver)
	h.respond(w, r, t, err)
}

func (h *TaskHandler) Transit(w http.ResponseWriter, r *http.Request) {
	var req transitRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, err := h.svc.Depart(r.Context(), r.PathValue("id"), req.ETA, req.Location)
	h.respond(w, r, t, err)
}

func (h *TaskHandler) Exception(w http.ResponseWriter, r *http.Request) {
	var req exceptionRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, err := h.svc.ReportException(r.Context(), r.PathValue("id"), req.Kind, req.Description, req.ReportedBy)
	h.respond(w, r, t, err)
}

// Confirm accepts a multipart delivery confirmation from a driver device.
// Repeats of the same local ID answer 200 with the current task.
func (h *TaskHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	form, err := remote.DecodeForm(w, r)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	t, created, err := h.svc.ConfirmDelivery(r.Context(), r.PathValue("id"), tasks.Confirmation{
		LocalID:      form.LocalID,
		ReceivedBy:   form.ReceivedBy,
		DeliveredAt:  form.DeliveredAt,
		PhotoCount:   len(form.Photos),
		HasSignature: form.Signature != nil,
		Location:     form.Location,
		Notes:        form.Notes,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httputil.WriteJSON(w, status, t)
}

func (h *TaskHandler) respond(w http.ResponseWriter, r *http.Request, t tasks.Task, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, t)
}

func (h *TaskHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, tasks.ErrNotFound):
		httputil.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, tasks.ErrInvalidTransition), errors.Is(err, tasks.ErrExists):
		httputil.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrInvalidInput):
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrPublish):
		h.logger.ErrorContext(r.Context(), "task event not published", logging.TaskID(r.PathValue("id")), logging.Error(err))
		httputil.WriteError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "task request failed", logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
