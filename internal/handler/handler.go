// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
//
// The verified user identifier arrives in the X-User-ID header, set by
// the upstream authentication layer; handlers trust it as-is.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"rsvpd/internal/model"
	"rsvpd/internal/repository"
	"rsvpd/internal/service"
)

const userIDHeader = "X-User-ID"

// EventHandler holds all HTTP handlers for the RSVP API.
type EventHandler struct {
	svc *service.EventService
}

// NewEventHandler constructs an EventHandler.
func NewEventHandler(svc *service.EventService) *EventHandler {
	return &EventHandler{svc: svc}
}

// Routes mounts all event endpoints on r.
func (h *EventHandler) Routes(r chi.Router) {
	r.Post("/", h.CreateEvent)
	r.Get("/", h.ListUpcoming)
	r.Get("/mine", h.ListMine)
	r.Get("/attending", h.ListAttending)
	r.Get("/{id}", h.GetEvent)
	r.Delete("/{id}", h.DeleteEvent)
	r.Post("/{id}/register", h.Register)
	r.Delete("/{id}/register", h.Cancel)
	r.Get("/{id}/attendees", h.ListAttendees)
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// userID extracts the authenticated user id, or writes 401 and returns "".
func userID(w http.ResponseWriter, r *http.Request) string {
	id := r.Header.Get(userIDHeader)
	if id == "" {
		writeError(w, http.StatusUnauthorized, "missing "+userIDHeader+" header")
	}
	return id
}

// ─── Handlers ─────────────────────────────────────────────────────────────────

// CreateEvent handles POST /events
func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	creator := userID(w, r)
	if creator == "" {
		return
	}

	var req model.CreateEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	event, err := h.svc.CreateEvent(r.Context(), req, creator)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, event)
}

// ListUpcoming handles GET /events
func (h *EventHandler) ListUpcoming(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.ListUpcoming(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	writeEvents(w, events)
}

// ListMine handles GET /events/mine
func (h *EventHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	uid := userID(w, r)
	if uid == "" {
		return
	}
	events, err := h.svc.ListByCreator(r.Context(), uid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	writeEvents(w, events)
}

// ListAttending handles GET /events/attending
func (h *EventHandler) ListAttending(w http.ResponseWriter, r *http.Request) {
	uid := userID(w, r)
	if uid == "" {
		return
	}
	events, err := h.svc.ListByAttendee(r.Context(), uid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	writeEvents(w, events)
}

func writeEvents(w http.ResponseWriter, events []model.Event) {
	// Return an empty array rather than null for better client compatibility.
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// GetEvent handles GET /events/{id}
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	event, err := h.svc.GetEvent(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get event")
		return
	}

	writeJSON(w, http.StatusOK, event)
}

// DeleteEvent handles DELETE /events/{id}
func (h *EventHandler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	uid := userID(w, r)
	if uid == "" {
		return
	}
	id := chi.URLParam(r, "id")

	err := h.svc.DeleteEvent(r.Context(), id, uid)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, http.StatusNotFound, "event not found")
		case errors.Is(err, repository.ErrForbidden):
			writeError(w, http.StatusForbidden, "only the event creator can delete it")
		default:
			writeError(w, http.StatusInternalServerError, "failed to delete event")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Register handles POST /events/{id}/register
// Performs a concurrency-safe registration for the specified event.
func (h *EventHandler) Register(w http.ResponseWriter, r *http.Request) {
	uid := userID(w, r)
	if uid == "" {
		return
	}
	id := chi.URLParam(r, "id")

	view, err := h.svc.Register(r.Context(), id, uid, time.Now().UTC())
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, http.StatusNotFound, "event not found")
		case errors.Is(err, repository.ErrEventFull):
			writeError(w, http.StatusConflict, "event is full")
		case errors.Is(err, repository.ErrAlreadyRegistered):
			writeError(w, http.StatusConflict, "you are already registered for this event")
		case errors.Is(err, repository.ErrEventEnded):
			writeError(w, http.StatusGone, "event has already started")
		case errors.Is(err, service.ErrUnavailable):
			writeError(w, http.StatusServiceUnavailable, "try again shortly")
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusCreated, view)
}

// Cancel handles DELETE /events/{id}/register
func (h *EventHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	uid := userID(w, r)
	if uid == "" {
		return
	}
	id := chi.URLParam(r, "id")

	view, err := h.svc.Cancel(r.Context(), id, uid)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, http.StatusNotFound, "event not found")
		case errors.Is(err, repository.ErrNotRegistered):
			writeError(w, http.StatusConflict, "you are not registered for this event")
		case errors.Is(err, service.ErrUnavailable):
			writeError(w, http.StatusServiceUnavailable, "try again shortly")
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// ListAttendees handles GET /events/{id}/attendees
func (h *EventHandler) ListAttendees(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	view, err := h.svc.Attendees(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to list attendees")
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
