// Package handler exposes the versioned resource surface over HTTP. One
// Handler instance serves either /entities or /links; the search endpoint
// spans both kinds.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-graph/domains/resources/be/service"
	"github.com/zenGate-Global/palmyra-graph/platform/go/httpx"
	"github.com/zenGate-Global/palmyra-graph/platform/go/logging"
	"github.com/zenGate-Global/palmyra-graph/platform/go/persistence"
)

// Handler wires one resource kind's service to chi routes.
type Handler struct {
	svc    service.Service
	kind   persistence.ResourceKind
	prefix string
	logger *zap.Logger
}

// New constructs a Handler for the given kind. Entities mount under
// /entities, links under /links.
func New(svc service.Service, kind persistence.ResourceKind, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("resources service is required")
	}
	if logger == nil {
		panic("logger is required")
	}

	prefix := "/entities"
	if kind == persistence.KindLink {
		prefix = "/links"
	}
	return &Handler{svc: svc, kind: kind, prefix: prefix, logger: logger}
}

// Routes mounts the resource endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Route(h.prefix, func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)

		r.Route("/{resourceID}", func(r chi.Router) {
			r.Get("/", h.get)
			r.Put("/", h.update)
			r.Delete("/", h.remove)
			r.Post("/restore", h.restore)
			r.Get("/versions", h.versions)
			r.Get("/versions/{version}", h.getVersion)
			r.Get("/history", h.history)
			r.Get("/outbound", h.traversal(persistence.DirectionOutbound))
			r.Get("/inbound", h.traversal(persistence.DirectionInbound))
			r.Get("/neighbors", h.neighbors)
			r.Get("/acl", h.getACL)
			r.Put("/acl", h.setACL)
		})
	})
}

type aclEntryPayload struct {
	PrincipalType string `json:"principal_type"`
	PrincipalID   string `json:"principal_id"`
	Permission    string `json:"permission"`
}

type createRequest struct {
	TypeID     uuid.UUID         `json:"type_id"`
	Properties json.RawMessage   `json:"properties"`
	ACL        []aclEntryPayload `json:"acl"`
	SourceID   *uuid.UUID        `json:"source_id,omitempty"`
	TargetID   *uuid.UUID        `json:"target_id,omitempty"`
}

type updateRequest struct {
	Properties json.RawMessage `json:"properties"`
}

type setACLRequest struct {
	Entries []aclEntryPayload `json:"entries"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var body createRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.RespondError(w, r, http.StatusBadRequest, httpx.CodeValidation, err.Error(), nil)
		return
	}

	entries, err := convertACLEntries(body.ACL)
	if err != nil {
		httpx.RespondError(w, r, http.StatusBadRequest, httpx.CodeValidation, err.Error(), nil)
		return
	}

	record, err := h.svc.Create(r.Context(), service.CreateParams{
		TypeID:     body.TypeID,
		Properties: body.Properties,
		ACLEntries: entries,
		SourceID:   body.SourceID,
		TargetID:   body.TargetID,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	httpx.RespondData(w, http.StatusCreated, record)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.resourceID(w, r)
	if !ok {
		return
	}

	record, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	data, err := project(record, r.URL.Query().Get("fields"))
	if err != nil {
		httpx.RespondError(w, r, http.StatusBadRequest, httpx.CodeValidation, err.Error(), nil)
		return
	}
	httpx.RespondData(w, http.StatusOK, data)
}

func (h *Handler) getVersion(w http.ResponseWriter, r *http.Request) {
	id, ok := h.resourceID(w, r)
	if !ok {
		return
	}

	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil || version < 1 {
		httpx.RespondError(w, r, http.StatusBadRequest, httpx.CodeValidation, "invalid version number", nil)
		return
	}

	record, err := h.svc.GetVersion(r.Context(), id, version)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	httpx.RespondData(w, http.StatusOK, record)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	params, fields, err := h.listParams(r)
	if err != nil {
		httpx.RespondError(w, r, http.StatusBadRequest, httpx.CodeValidation, err.Error(), nil)
		return
	}

	result, err := h.svc.List(r.Context(), params)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	data, err := projectAll(result.Items, fields)
	if err != nil {
		httpx.RespondError(w, r, http.StatusBadRequest, httpx.CodeValidation, err.Error(), nil)
		return
	}
	httpx.RespondPage(w, http.StatusOK, data, result.NextCursor, result.HasMore)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.resourceID(w, r)
	if !ok {
		return
	}

	var body updateRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.RespondError(w, r, http.StatusBadRequest, httpx.CodeValidation, err.Error(), nil)
		return
	}

	record, err := h.svc.Update(r.Context(), id, body.Properties)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	httpx.RespondData(w, http.StatusOK, record)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	id, ok := h.resourceID(w, r)
	if !ok {
		return
	}

	if _, err := h.svc.Delete(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) restore(w http.ResponseWriter, r *http.Request) {
	id, ok := h.resourceID(w, r)
	if !ok {
		return
	}

	record, err := h.svc.Restore(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	httpx.RespondData(w, http.StatusOK, record)
}

func (h *Handler) versions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.resourceID(w, r)
	if !ok {
		return
	}

	chain, err := h.svc.Versions(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	httpx.RespondData(w, http.StatusOK, chain)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, ok := h.resourceID(w, r)
	if !ok {
		return
	}

	entries, err := h.svc.History(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	httpx.RespondData(w, http.StatusOK, entries)
}

func (h *Handler) traversal(direction persistence.Direction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.resourceID(w, r)
		if !ok {
			return
		}

		params, err := traverseParams(r)
		if err != nil {
			httpx.RespondError(w, r, http.StatusBadRequest, httpx.CodeValidation, err.Error(), nil)
			return
		}

		items, err := h.svc.Traverse(r.Context(), id, direction, params)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		if items == nil {
			items = []service.TraversalItem{}
		}

		httpx.RespondData(w, http.StatusOK, items)
	}
}

func (h *Handler) neighbors(w http.ResponseWriter, r *http.Request) {
	id, ok := h.resourceID(w, r)
	if !ok {
		return
	}

	params, err := traverseParams(r)
	if err != nil {
		httpx.RespondError(w, r, http.StatusBadRequest, httpx.CodeValidation, err.Error(), nil)
		return
	}

	neighbors, err := h.svc.Neighbors(r.Context(), id, params)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if neighbors == nil {
		neighbors = []service.Neighbor{}
	}

	httpx.RespondData(w, http.StatusOK, neighbors)
}

func (h *Handler) getACL(w http.ResponseWriter, r *http.Request) {
	id, ok := h.resourceID(w, r)
	if !ok {
		return
	}

	entries, err := h.svc.GetACL(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	httpx.RespondData(w, http.StatusOK, entries)
}

func (h *Handler) setACL(w http.ResponseWriter, r *http.Request) {
	id, ok := h.resourceID(w, r)
	if !ok {
		return
	}

	var body setACLRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.RespondError(w, r, http.StatusBadRequest, httpx.CodeValidation, err.Error(), nil)
		return
	}

	entries, err := convertACLEntries(body.Entries)
	if err != nil {
		httpx.RespondError(w, r, http.StatusBadRequest, httpx.CodeValidation, err.Error(), nil)
		return
	}

	record, err := h.svc.SetACL(r.Context(), id, entries)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	httpx.RespondData(w, http.StatusOK, record)
}

func (h *Handler) resourceID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "resourceID"))
	if err != nil {
		httpx.RespondError(w, r, http.StatusBadRequest, httpx.CodeValidation, "invalid resource id", nil)
		return uuid.Nil, false
	}
	return id, true
}

// listParams parses the GET query string. Malformed cursors are logged and
// ignored; everything else malformed is a validation error.
func (h *Handler) listParams(r *http.Request) (service.ListParams, []string, error) {
	query := r.URL.Query()
	params := service.ListParams{}

	if raw := query.Get("cursor"); raw != "" {
		cursor, err := persistence.ParseCursor(raw)
		if err != nil {
			logging.FromRequest(r, h.logger).Warn("ignoring malformed cursor", zap.String("cursor", raw))
		} else {
			params.Cursor = &cursor
		}
	}

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return service.ListParams{}, nil, errors.New("limit must be a positive integer")
		}
		params.Limit = limit
	}

	if raw := query.Get("type_id"); raw != "" {
		typeID, err := uuid.Parse(raw)
		if err != nil {
			return service.ListParams{}, nil, errors.New("invalid type_id")
		}
		params.TypeID = &typeID
	}

	if raw := query.Get("created_by"); raw != "" {
		params.CreatedBy = &raw
	}

	var err error
	if params.CreatedAfter, err = unixParam(query.Get("created_after"), "created_after"); err != nil {
		return service.ListParams{}, nil, err
	}
	if params.CreatedBefore, err = unixParam(query.Get("created_before"), "created_before"); err != nil {
		return service.ListParams{}, nil, err
	}

	params.IncludeDeleted = boolParam(query.Get("include_deleted"))
	params.ShowAllVersions = boolParam(query.Get("show_all_versions"))

	for key, values := range query {
		name, ok := strings.CutPrefix(key, "property_")
		if !ok || name == "" || len(values) == 0 {
			continue
		}
		if params.PropertyEquals == nil {
			params.PropertyEquals = map[string]string{}
		}
		params.PropertyEquals[name] = values[0]
	}

	fields, err := parseFields(query.Get("fields"))
	if err != nil {
		return service.ListParams{}, nil, err
	}
	return params, fields, nil
}

func traverseParams(r *http.Request) (service.TraverseParams, error) {
	query := r.URL.Query()
	params := service.TraverseParams{}

	if raw := query.Get("link_type_id"); raw != "" {
		typeID, err := uuid.Parse(raw)
		if err != nil {
			return service.TraverseParams{}, errors.New("invalid link_type_id")
		}
		params.LinkTypeID = &typeID
	}
	if raw := query.Get("type_id"); raw != "" {
		typeID, err := uuid.Parse(raw)
		if err != nil {
			return service.TraverseParams{}, errors.New("invalid type_id")
		}
		params.EntityTypeID = &typeID
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return service.TraverseParams{}, errors.New("limit must be a positive integer")
		}
		params.Limit = limit
	}
	params.IncludeDeleted = boolParam(query.Get("include_deleted"))

	return params, nil
}

func unixParam(raw, name string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, errors.New(name + " must be a unix timestamp")
	}
	return &value, nil
}

func boolParam(raw string) bool {
	return raw == "true" || raw == "1"
}

func convertACLEntries(payload []aclEntryPayload) ([]persistence.ACLEntry, error) {
	entries := make([]persistence.ACLEntry, 0, len(payload))
	for _, entry := range payload {
		principalType := persistence.PrincipalType(entry.PrincipalType)
		if principalType != persistence.PrincipalUser && principalType != persistence.PrincipalGroup {
			return nil, errors.New("principal_type must be user or group")
		}
		permission := persistence.Permission(entry.Permission)
		if permission != persistence.PermissionRead && permission != persistence.PermissionWrite {
			return nil, errors.New("permission must be read or write")
		}
		if strings.TrimSpace(entry.PrincipalID) == "" {
			return nil, errors.New("principal_id is required")
		}
		entries = append(entries, persistence.ACLEntry{
			PrincipalType: principalType,
			PrincipalID:   entry.PrincipalID,
			Permission:    permission,
		})
	}
	return entries, nil
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		httpx.RespondError(w, r, http.StatusBadRequest, httpx.CodeValidation, validationErr.Reason, validationErr.Details)
	case errors.Is(err, service.ErrInvalidPrincipals):
		httpx.RespondError(w, r, http.StatusBadRequest, httpx.CodeValidation, err.Error(), nil)
	case errors.Is(err, service.ErrUnauthorized):
		httpx.RespondError(w, r, http.StatusUnauthorized, httpx.CodeUnauthorized, "authentication required", nil)
	case errors.Is(err, service.ErrForbidden):
		httpx.RespondError(w, r, http.StatusForbidden, httpx.CodeForbidden, "permission denied", nil)
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrTypeNotFound), errors.Is(err, service.ErrInvalidVersion):
		httpx.RespondError(w, r, http.StatusNotFound, httpx.CodeNotFound, err.Error(), nil)
	case errors.Is(err, service.ErrAlreadyDeleted), errors.Is(err, service.ErrNotDeleted), errors.Is(err, service.ErrDeleted):
		httpx.RespondError(w, r, http.StatusConflict, httpx.CodeConflict, err.Error(), nil)
	case errors.Is(err, service.ErrWriteConflict):
		httpx.RespondError(w, r, http.StatusConflict, httpx.CodeWriteConflict, "resource was modified concurrently, retry", nil)
	default:
		logging.FromRequest(r, h.logger).Error("resources handler", zap.Error(err))
		httpx.RespondError(w, r, http.StatusInternalServerError, httpx.CodeInternal, "unexpected error", nil)
	}
}
