// Package handler exposes type administration over HTTP.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-graph/domains/types/be/service"
	"github.com/zenGate-Global/palmyra-graph/platform/go/httpx"
	"github.com/zenGate-Global/palmyra-graph/platform/go/logging"
	"github.com/zenGate-Global/palmyra-graph/platform/go/persistence"
)

// Handler wires the types service to chi routes.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("types service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the type endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/types", h.list)
	r.Post("/types", h.create)
	r.Get("/types/{typeID}", h.get)
}

type createRequest struct {
	Name        string          `json:"name"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	JSONSchema  json.RawMessage `json:"json_schema"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var body createRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.RespondError(w, r, http.StatusBadRequest, httpx.CodeValidation, err.Error(), nil)
		return
	}

	record, err := h.svc.Create(r.Context(), service.CreateParams{
		Name:        body.Name,
		Category:    body.Category,
		Description: body.Description,
		JSONSchema:  body.JSONSchema,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	httpx.RespondData(w, http.StatusCreated, record)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "typeID"))
	if err != nil {
		httpx.RespondError(w, r, http.StatusBadRequest, httpx.CodeValidation, "invalid type id", nil)
		return
	}

	record, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	httpx.RespondData(w, http.StatusOK, record)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.List(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if records == nil {
		records = []persistence.TypeRecord{}
	}

	httpx.RespondData(w, http.StatusOK, records)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		httpx.RespondError(w, r, http.StatusBadRequest, httpx.CodeValidation, validationErr.Reason, nil)
	case errors.Is(err, service.ErrNotFound):
		httpx.RespondError(w, r, http.StatusNotFound, httpx.CodeNotFound, "type not found", nil)
	case errors.Is(err, service.ErrConflict):
		httpx.RespondError(w, r, http.StatusConflict, httpx.CodeConflict, "type already exists", nil)
	default:
		logging.FromRequest(r, h.logger).Error("types handler", zap.Error(err))
		httpx.RespondError(w, r, http.StatusInternalServerError, httpx.CodeInternal, "unexpected error", nil)
	}
}
