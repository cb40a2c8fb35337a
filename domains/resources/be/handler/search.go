package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-graph/domains/resources/be/service"
	"github.com/zenGate-Global/palmyra-graph/platform/go/httpx"
	"github.com/zenGate-Global/palmyra-graph/platform/go/logging"
	"github.com/zenGate-Global/palmyra-graph/platform/go/persistence"
)

// SearchHandler serves the rich property-filter search across both resource
// kinds.
type SearchHandler struct {
	entities service.Service
	links    service.Service
	logger   *zap.Logger
}

// NewSearch constructs the search handler.
func NewSearch(entities, links service.Service, logger *zap.Logger) *SearchHandler {
	if entities == nil || links == nil {
		panic("entity and link services are required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &SearchHandler{entities: entities, links: links, logger: logger}
}

// Routes mounts the search endpoint.
func (h *SearchHandler) Routes(r chi.Router) {
	r.Post("/search", h.search)
}

type searchRequest struct {
	Kind            string                       `json:"kind"`
	TypeID          *uuid.UUID                   `json:"type_id"`
	CreatedBy       *string                      `json:"created_by"`
	CreatedAfter    *int64                       `json:"created_after"`
	CreatedBefore   *int64                       `json:"created_before"`
	IncludeDeleted  bool                         `json:"include_deleted"`
	ShowAllVersions bool                         `json:"show_all_versions"`
	PropertyFilters []persistence.PropertyFilter `json:"property_filters"`
	Cursor          *string                      `json:"cursor"`
	Limit           int                          `json:"limit"`
	SortBy          string                       `json:"sort_by"`
	SortOrder       string                       `json:"sort_order"`
}

func (h *SearchHandler) search(w http.ResponseWriter, r *http.Request) {
	var body searchRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.RespondError(w, r, http.StatusBadRequest, httpx.CodeValidation, err.Error(), nil)
		return
	}

	var svc service.Service
	switch body.Kind {
	case "", "entity":
		svc = h.entities
	case "link":
		svc = h.links
	default:
		httpx.RespondError(w, r, http.StatusBadRequest, httpx.CodeValidation, "kind must be entity or link", nil)
		return
	}

	if body.SortOrder != "" && body.SortOrder != "asc" && body.SortOrder != "desc" {
		httpx.RespondError(w, r, http.StatusBadRequest, httpx.CodeValidation, "sort_order must be asc or desc", nil)
		return
	}

	params := service.SearchParams{
		TypeID:          body.TypeID,
		CreatedBy:       body.CreatedBy,
		CreatedAfter:    body.CreatedAfter,
		CreatedBefore:   body.CreatedBefore,
		IncludeDeleted:  body.IncludeDeleted,
		ShowAllVersions: body.ShowAllVersions,
		PropertyFilters: body.PropertyFilters,
		Limit:           body.Limit,
		SortColumn:      body.SortBy,
		SortAscending:   body.SortOrder == "asc",
	}

	if body.Cursor != nil && *body.Cursor != "" {
		cursor, err := persistence.ParseCursor(*body.Cursor)
		if err != nil {
			logging.FromRequest(r, h.logger).Warn("ignoring malformed cursor", zap.String("cursor", *body.Cursor))
		} else {
			params.Cursor = &cursor
		}
	}

	result, err := svc.Search(r.Context(), params)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if result.Items == nil {
		result.Items = []persistence.ResourceRecord{}
	}

	httpx.RespondPage(w, http.StatusOK, result.Items, result.NextCursor, result.HasMore)
}

func (h *SearchHandler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		httpx.RespondError(w, r, http.StatusBadRequest, httpx.CodeValidation, validationErr.Reason, validationErr.Details)
	default:
		logging.FromRequest(r, h.logger).Error("search handler", zap.Error(err))
		httpx.RespondError(w, r, http.StatusInternalServerError, httpx.CodeInternal, "unexpected error", nil)
	}
}
