// Package service manages entity and link types. Types are immutable once
// created; schema evolution happens by creating a new type.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/zenGate-Global/palmyra-graph/platform/go/persistence"
)

// ValidationError captures input problems surfaced to the API as 400s.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// Domain-level errors surfaced by the service.
var (
	ErrNotFound = errors.New("type not found")
	ErrConflict = errors.New("type already exists")
)

// Store is the persistence slice the service needs.
type Store interface {
	Create(ctx context.Context, params persistence.CreateTypeParams) (persistence.TypeRecord, error)
	Get(ctx context.Context, id uuid.UUID) (persistence.TypeRecord, error)
	List(ctx context.Context, category *persistence.TypeCategory) ([]persistence.TypeRecord, error)
}

// CreateParams is the API-facing shape of a new type.
type CreateParams struct {
	Name        string
	Category    string
	Description string
	JSONSchema  json.RawMessage
}

// Service exposes type operations.
type Service interface {
	Create(ctx context.Context, params CreateParams) (persistence.TypeRecord, error)
	Get(ctx context.Context, id uuid.UUID) (persistence.TypeRecord, error)
	List(ctx context.Context, category string) ([]persistence.TypeRecord, error)
}

type service struct {
	store Store
}

// New constructs a Service instance.
func New(store Store) Service {
	if store == nil {
		panic("types store is required")
	}
	return &service{store: store}
}

func (s *service) Create(ctx context.Context, params CreateParams) (persistence.TypeRecord, error) {
	if strings.TrimSpace(params.Name) == "" {
		return persistence.TypeRecord{}, &ValidationError{Reason: "name is required"}
	}

	category := persistence.TypeCategory(params.Category)
	if category != persistence.CategoryEntity && category != persistence.CategoryLink {
		return persistence.TypeRecord{}, &ValidationError{Reason: "category must be entity or link"}
	}

	if len(params.JSONSchema) > 0 {
		if err := compileCheck(params.JSONSchema); err != nil {
			return persistence.TypeRecord{}, &ValidationError{Reason: "json_schema is not a valid Draft-07 schema: " + err.Error()}
		}
	}

	record, err := s.store.Create(ctx, persistence.CreateTypeParams{
		Name:        params.Name,
		Category:    category,
		Description: params.Description,
		JSONSchema:  params.JSONSchema,
	})
	if err != nil {
		return persistence.TypeRecord{}, translateError(err)
	}
	return record, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (persistence.TypeRecord, error) {
	if id == uuid.Nil {
		return persistence.TypeRecord{}, &ValidationError{Reason: "type id is required"}
	}

	record, err := s.store.Get(ctx, id)
	if err != nil {
		return persistence.TypeRecord{}, translateError(err)
	}
	return record, nil
}

func (s *service) List(ctx context.Context, category string) ([]persistence.TypeRecord, error) {
	var filter *persistence.TypeCategory
	if category != "" {
		c := persistence.TypeCategory(category)
		if c != persistence.CategoryEntity && c != persistence.CategoryLink {
			return nil, &ValidationError{Reason: "category must be entity or link"}
		}
		filter = &c
	}

	records, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, translateError(err)
	}
	return records, nil
}

// compileCheck rejects schemas the validator would later fail to compile, so
// the error surfaces at type creation instead of first document write.
func compileCheck(schema json.RawMessage) error {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7
	const url = "memory://typecheck"
	if err := compiler.AddResource(url, bytes.NewReader(schema)); err != nil {
		return err
	}
	_, err := compiler.Compile(url)
	return err
}

func translateError(err error) error {
	switch {
	case errors.Is(err, persistence.ErrTypeNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrTypeConflict):
		return ErrConflict
	default:
		return err
	}
}
