// Package api provides HTTP handlers for the supervisor-facing API and
// the voice agent escalation gateway.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/containerd/errdefs"
	"github.com/frontdesk/hitl/internal/domain"
	"github.com/frontdesk/hitl/internal/escalation"
	"github.com/frontdesk/hitl/internal/knowledge"
	"github.com/frontdesk/hitl/internal/notify"
	"github.com/go-chi/chi/v5"
)

// Handler serves the request and knowledge base endpoints.
type Handler struct {
	svc *escalation.Service
	kb  *knowledge.Manager
	hub *notify.Hub
}

// NewHandler creates a new Handler.
func NewHandler(svc *escalation.Service, kb *knowledge.Manager, hub *notify.Hub) *Handler {
	return &Handler{svc: svc, kb: kb, hub: hub}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// Fail maps a service error to its HTTP status and writes it out.
func Fail(w http.ResponseWriter, err error) {
	switch {
	case errdefs.IsNotFound(err):
		Error(w, http.StatusNotFound, err.Error())
	case errdefs.IsConflict(err):
		Error(w, http.StatusConflict, err.Error())
	case errdefs.IsInvalidArgument(err):
		Error(w, http.StatusBadRequest, err.Error())
	case errdefs.IsUnavailable(err):
		Error(w, http.StatusServiceUnavailable, err.Error())
	default:
		Error(w, http.StatusInternalServerError, err.Error())
	}
}

// RegisterRoutes mounts all API routes on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/help-requests", func(r chi.Router) {
		r.Get("/", h.listRequests)
		r.Post("/", h.createRequest)
		r.Get("/stats/summary", h.summary)
		r.Get("/{id}", h.getRequest)
		r.Put("/{id}/answer", h.answerRequest)
	})

	r.Route("/api/knowledge-base", func(r chi.Router) {
		r.Get("/", h.listKB)
		r.Post("/", h.createKBEntry)
	})

	r.Post("/api/escalate", h.escalate)
}

type createRequestPayload struct {
	Question   string `json:"question"`
	CallerInfo string `json:"caller_info"`
	SessionID  string `json:"session_id"`
}

type answerPayload struct {
	Answer         string `json:"answer"`
	SupervisorName string `json:"supervisor_name"`
}

type kbEntryPayload struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

func (h *Handler) listRequests(w http.ResponseWriter, r *http.Request) {
	status := domain.RequestStatus(r.URL.Query().Get("status"))
	requests, err := h.svc.List(r.Context(), status)
	if err != nil {
		Fail(w, err)
		return
	}
	if requests == nil {
		requests = []*domain.HelpRequest{}
	}
	JSON(w, http.StatusOK, requests)
}

func (h *Handler) createRequest(w http.ResponseWriter, r *http.Request) {
	var payload createRequestPayload
	if err := decode(r, &payload); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	req, err := h.svc.Create(r.Context(), payload.Question, payload.CallerInfo, payload.SessionID)
	if err != nil {
		Fail(w, err)
		return
	}
	JSON(w, http.StatusCreated, req)
}

func (h *Handler) getRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		Fail(w, err)
		return
	}
	JSON(w, http.StatusOK, req)
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.Summary(r.Context())
	if err != nil {
		Fail(w, err)
		return
	}
	JSON(w, http.StatusOK, summary)
}

func (h *Handler) answerRequest(w http.ResponseWriter, r *http.Request) {
	var payload answerPayload
	if err := decode(r, &payload); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	req, err := h.svc.Resolve(r.Context(), chi.URLParam(r, "id"), payload.Answer, payload.SupervisorName)
	if err != nil {
		Fail(w, err)
		return
	}
	JSON(w, http.StatusOK, req)
}

func (h *Handler) listKB(w http.ResponseWriter, r *http.Request) {
	entries, err := h.kb.List(r.Context())
	if err != nil {
		Fail(w, err)
		return
	}
	if entries == nil {
		entries = []*domain.KnowledgeBaseEntry{}
	}
	JSON(w, http.StatusOK, entries)
}

func (h *Handler) createKBEntry(w http.ResponseWriter, r *http.Request) {
	var payload kbEntryPayload
	if err := decode(r, &payload); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	entry, err := h.kb.Upsert(r.Context(), payload.Question, payload.Answer, domain.SourceManual)
	if err != nil {
		Fail(w, err)
		return
	}

	h.hub.Broadcast(notify.NewEvent(notify.EventKBUpdated, entry))
	JSON(w, http.StatusCreated, entry)
}

func (h *Handler) escalate(w http.ResponseWriter, r *http.Request) {
	var payload createRequestPayload
	if err := decode(r, &payload); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.svc.Escalate(r.Context(), payload.Question, payload.CallerInfo, payload.SessionID)
	if err != nil {
		Fail(w, err)
		return
	}
	JSON(w, http.StatusOK, result)
}
