// Package handler exposes group administration over HTTP.
package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-graph/domains/groups/be/service"
	"github.com/zenGate-Global/palmyra-graph/platform/go/httpx"
	"github.com/zenGate-Global/palmyra-graph/platform/go/logging"
	"github.com/zenGate-Global/palmyra-graph/platform/go/persistence"
)

// Handler wires the groups service to chi routes.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("groups service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the group endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/groups", h.list)
	r.Post("/groups", h.create)
	r.Get("/groups/{groupID}", h.get)
	r.Get("/groups/{groupID}/members", h.listMembers)
	r.Post("/groups/{groupID}/members", h.addMember)
	r.Delete("/groups/{groupID}/members", h.removeMember)
}

type createRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type memberRequest struct {
	MemberType string `json:"member_type"`
	MemberID   string `json:"member_id"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var body createRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.RespondError(w, r, http.StatusBadRequest, httpx.CodeValidation, err.Error(), nil)
		return
	}

	record, err := h.svc.Create(r.Context(), body.Name, body.Description)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	httpx.RespondData(w, http.StatusCreated, record)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.groupID(w, r)
	if !ok {
		return
	}

	detail, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	httpx.RespondData(w, http.StatusOK, detail)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.List(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if records == nil {
		records = []persistence.GroupRecord{}
	}

	httpx.RespondData(w, http.StatusOK, records)
}

func (h *Handler) listMembers(w http.ResponseWriter, r *http.Request) {
	id, ok := h.groupID(w, r)
	if !ok {
		return
	}

	members, err := h.svc.ListMembers(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	httpx.RespondData(w, http.StatusOK, members)
}

func (h *Handler) addMember(w http.ResponseWriter, r *http.Request) {
	id, ok := h.groupID(w, r)
	if !ok {
		return
	}

	var body memberRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.RespondError(w, r, http.StatusBadRequest, httpx.CodeValidation, err.Error(), nil)
		return
	}

	if err := h.svc.AddMember(r.Context(), id, body.MemberType, body.MemberID); err != nil {
		h.respondError(w, r, err)
		return
	}

	httpx.RespondMessage(w, http.StatusCreated, nil, "member added")
}

func (h *Handler) removeMember(w http.ResponseWriter, r *http.Request) {
	id, ok := h.groupID(w, r)
	if !ok {
		return
	}

	var body memberRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.RespondError(w, r, http.StatusBadRequest, httpx.CodeValidation, err.Error(), nil)
		return
	}

	if err := h.svc.RemoveMember(r.Context(), id, body.MemberType, body.MemberID); err != nil {
		h.respondError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) groupID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "groupID"))
	if err != nil {
		httpx.RespondError(w, r, http.StatusBadRequest, httpx.CodeValidation, "invalid group id", nil)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		httpx.RespondError(w, r, http.StatusBadRequest, httpx.CodeValidation, validationErr.Reason, nil)
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrMemberNotFound):
		httpx.RespondError(w, r, http.StatusNotFound, httpx.CodeNotFound, err.Error(), nil)
	case errors.Is(err, service.ErrConflict):
		httpx.RespondError(w, r, http.StatusConflict, httpx.CodeConflict, "group already exists", nil)
	case errors.Is(err, service.ErrCycle):
		httpx.RespondError(w, r, http.StatusConflict, httpx.CodeConflict, "membership edge would create a cycle", nil)
	default:
		logging.FromRequest(r, h.logger).Error("groups handler", zap.Error(err))
		httpx.RespondError(w, r, http.StatusInternalServerError, httpx.CodeInternal, "unexpected error", nil)
	}
}
