// Package service implements the versioned resource operations shared by
// entities and links: create, read (latest and historical), update, soft
// delete, restore, ACL management, listing, search, history and graph
// traversal. One Service instance handles one resource kind.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	aclservice "github.com/zenGate-Global/palmyra-graph/domains/acl/be/service"
	"github.com/zenGate-Global/palmyra-graph/platform/go/kv"
	"github.com/zenGate-Global/palmyra-graph/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-graph/platform/go/requesttrace"
)

// ValidationError captures input problems surfaced to the API as 400s.
// Details carries per-field information such as schema issues.
type ValidationError struct {
	Reason  string
	Details any
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// Domain-level errors surfaced by the service.
var (
	ErrNotFound          = errors.New("resource not found")
	ErrForbidden         = errors.New("permission denied")
	ErrUnauthorized      = errors.New("authentication required")
	ErrTypeNotFound      = errors.New("type not found")
	ErrInvalidVersion    = errors.New("version does not exist")
	ErrAlreadyDeleted    = errors.New("resource already deleted")
	ErrNotDeleted        = errors.New("resource is not deleted")
	ErrDeleted           = errors.New("resource is deleted")
	ErrWriteConflict     = errors.New("concurrent write conflict")
	ErrInvalidPrincipals = aclservice.ErrInvalidPrincipals
)

// Store is the persistence slice for one resource kind.
type Store interface {
	Kind() persistence.ResourceKind
	Create(ctx context.Context, params persistence.CreateResourceParams) (persistence.ResourceRecord, error)
	Update(ctx context.Context, chainID uuid.UUID, properties json.RawMessage, actor string) (persistence.ResourceRecord, error)
	SoftDelete(ctx context.Context, chainID uuid.UUID, actor string) (persistence.ResourceRecord, error)
	Restore(ctx context.Context, chainID uuid.UUID, actor string) (persistence.ResourceRecord, error)
	SetACL(ctx context.Context, chainID uuid.UUID, aclID *int64, actor string) (persistence.ResourceRecord, error)
	FindLatest(ctx context.Context, id uuid.UUID) (persistence.ResourceRecord, error)
	FindVersion(ctx context.Context, chainID uuid.UUID, version int) (persistence.ResourceRecord, error)
	ListChain(ctx context.Context, chainID uuid.UUID) ([]persistence.ResourceRecord, error)
	ListFiltered(ctx context.Context, filter persistence.ListFilter, acl persistence.ACLFilter) ([]persistence.ResourceRecord, int, error)
}

// TypeStore resolves type records for schema validation.
type TypeStore interface {
	Get(ctx context.Context, id uuid.UUID) (persistence.TypeRecord, error)
}

// Validator checks property bags against a type's JSON schema.
type Validator interface {
	Validate(typeRecord persistence.TypeRecord, document json.RawMessage) error
}

// Traverser runs the link-entity join queries behind graph traversal.
type Traverser interface {
	Traverse(ctx context.Context, chainIDs []uuid.UUID, direction persistence.Direction, filter persistence.TraversalFilter, linkACL, entityACL persistence.ACLFilter) ([]persistence.TraversalRow, error)
}

// CreateParams is the API-facing shape of a new resource.
type CreateParams struct {
	TypeID     uuid.UUID
	Properties json.RawMessage
	ACLEntries []persistence.ACLEntry
	// Link endpoints; ignored for entities.
	SourceID *uuid.UUID
	TargetID *uuid.UUID
}

// ListParams describes a list request.
type ListParams struct {
	TypeID          *uuid.UUID
	CreatedBy       *string
	CreatedAfter    *int64
	CreatedBefore   *int64
	IncludeDeleted  bool
	ShowAllVersions bool
	PropertyEquals  map[string]string
	Cursor          *persistence.Cursor
	Limit           int
}

// SearchParams describes a rich property-filter search.
type SearchParams struct {
	TypeID          *uuid.UUID
	CreatedBy       *string
	CreatedAfter    *int64
	CreatedBefore   *int64
	IncludeDeleted  bool
	ShowAllVersions bool
	PropertyFilters []persistence.PropertyFilter
	Cursor          *persistence.Cursor
	Limit           int
	SortColumn      string
	SortAscending   bool
}

// ListResult is one page of resources.
type ListResult struct {
	Items      []persistence.ResourceRecord
	NextCursor *string
	HasMore    bool
}

// HistoryEntry pairs one chain row with the diff against its predecessor.
type HistoryEntry struct {
	Record  persistence.ResourceRecord `json:"record"`
	Summary string                     `json:"summary,omitempty"`
	Diff    *persistence.PropertyDiff  `json:"diff,omitempty"`
}

// TraverseParams narrows traversal queries.
type TraverseParams struct {
	LinkTypeID     *uuid.UUID
	EntityTypeID   *uuid.UUID
	IncludeDeleted bool
	Limit          int
}

// Connection describes one link between a resource and a neighbor.
type Connection struct {
	Link      persistence.ResourceRecord `json:"link"`
	Direction persistence.Direction      `json:"direction"`
}

// TraversalItem is one row of an outbound or inbound traversal.
type TraversalItem struct {
	Link   persistence.ResourceRecord `json:"link"`
	Entity persistence.ResourceRecord `json:"entity"`
}

// Neighbor is one deduplicated far-side entity with every link connecting it.
type Neighbor struct {
	Entity      persistence.ResourceRecord `json:"entity"`
	Connections []Connection               `json:"connections"`
}

// Service exposes the resource operations for one kind.
type Service interface {
	Create(ctx context.Context, params CreateParams) (persistence.ResourceRecord, error)
	Get(ctx context.Context, id uuid.UUID) (persistence.ResourceRecord, error)
	GetVersion(ctx context.Context, id uuid.UUID, version int) (persistence.ResourceRecord, error)
	List(ctx context.Context, params ListParams) (ListResult, error)
	Search(ctx context.Context, params SearchParams) (ListResult, error)
	Update(ctx context.Context, id uuid.UUID, properties json.RawMessage) (persistence.ResourceRecord, error)
	Delete(ctx context.Context, id uuid.UUID) (persistence.ResourceRecord, error)
	Restore(ctx context.Context, id uuid.UUID) (persistence.ResourceRecord, error)
	SetACL(ctx context.Context, id uuid.UUID, entries []persistence.ACLEntry) (persistence.ResourceRecord, error)
	GetACL(ctx context.Context, id uuid.UUID) ([]persistence.ACLEntry, error)
	Versions(ctx context.Context, id uuid.UUID) ([]persistence.ResourceRecord, error)
	History(ctx context.Context, id uuid.UUID) ([]HistoryEntry, error)
	Traverse(ctx context.Context, id uuid.UUID, direction persistence.Direction, params TraverseParams) ([]TraversalItem, error)
	Neighbors(ctx context.Context, id uuid.UUID, params TraverseParams) ([]Neighbor, error)
}

// Config tunes the service.
type Config struct {
	// ResourceTTL bounds cached read responses. Default 60s.
	ResourceTTL time.Duration
}

type service struct {
	store     Store
	entities  Store // link endpoint resolution; same as store for entities
	types     TypeStore
	validator Validator
	acl       aclservice.Service
	traverser Traverser
	cache     kv.Store
	logger    *zap.Logger

	resourceTTL time.Duration
}

// New constructs a Service for one resource kind. For the link kind, entities
// must be the entity-kind store so link endpoints can be resolved; for the
// entity kind, pass the store itself. traverser may be nil for the link kind.
func New(store, entities Store, types TypeStore, validator Validator, acl aclservice.Service, traverser Traverser, cache kv.Store, logger *zap.Logger, cfg Config) Service {
	if store == nil {
		panic("resource store is required")
	}
	if entities == nil {
		panic("entity store is required")
	}
	if types == nil {
		panic("type store is required")
	}
	if validator == nil {
		panic("schema validator is required")
	}
	if acl == nil {
		panic("acl service is required")
	}
	if cache == nil {
		panic("kv cache is required")
	}
	if logger == nil {
		panic("logger is required")
	}

	ttl := cfg.ResourceTTL
	if ttl <= 0 {
		ttl = 60 * time.Second
	}

	return &service{
		store:       store,
		entities:    entities,
		types:       types,
		validator:   validator,
		acl:         acl,
		traverser:   traverser,
		cache:       cache,
		logger:      logger,
		resourceTTL: ttl,
	}
}

func (s *service) Create(ctx context.Context, params CreateParams) (persistence.ResourceRecord, error) {
	audit := requesttrace.FromContextOrAnonymous(ctx)
	if !audit.Authenticated() {
		return persistence.ResourceRecord{}, ErrUnauthorized
	}
	if params.TypeID == uuid.Nil {
		return persistence.ResourceRecord{}, &ValidationError{Reason: "type_id is required"}
	}

	typeRecord, err := s.types.Get(ctx, params.TypeID)
	if err != nil {
		return persistence.ResourceRecord{}, translateStoreError(err)
	}
	if err := s.checkTypeCategory(typeRecord); err != nil {
		return persistence.ResourceRecord{}, err
	}
	if err := s.validateProperties(typeRecord, params.Properties); err != nil {
		return persistence.ResourceRecord{}, err
	}

	aclID, err := s.acl.GetOrCreate(ctx, params.ACLEntries)
	if err != nil {
		if errors.Is(err, ErrInvalidPrincipals) {
			return persistence.ResourceRecord{}, err
		}
		return persistence.ResourceRecord{}, fmt.Errorf("resolve acl: %w", err)
	}

	create := persistence.CreateResourceParams{
		TypeID:     params.TypeID,
		Properties: params.Properties,
		CreatedBy:  audit.Actor(),
		ACLID:      aclID,
	}

	if s.store.Kind() == persistence.KindLink {
		source, target, err := s.resolveEndpoints(ctx, params.SourceID, params.TargetID)
		if err != nil {
			return persistence.ResourceRecord{}, err
		}
		create.Source = source
		create.Target = target
	}

	record, err := s.store.Create(ctx, create)
	if err != nil {
		return persistence.ResourceRecord{}, translateStoreError(err)
	}
	return record, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (persistence.ResourceRecord, error) {
	record, cached, err := s.findLatestCached(ctx, id)
	if err != nil {
		return persistence.ResourceRecord{}, err
	}

	if err := s.requireRead(ctx, record); err != nil {
		return persistence.ResourceRecord{}, err
	}

	if !cached {
		s.cachePut(ctx, id, record)
	}
	return record, nil
}

func (s *service) GetVersion(ctx context.Context, id uuid.UUID, version int) (persistence.ResourceRecord, error) {
	record, err := s.store.FindVersion(ctx, id, version)
	if err != nil {
		return persistence.ResourceRecord{}, translateStoreError(err)
	}

	if err := s.requireRead(ctx, record); err != nil {
		return persistence.ResourceRecord{}, err
	}
	return record, nil
}

func (s *service) List(ctx context.Context, params ListParams) (ListResult, error) {
	filter := persistence.ListFilter{
		TypeID:          params.TypeID,
		CreatedBy:       params.CreatedBy,
		CreatedAfter:    params.CreatedAfter,
		CreatedBefore:   params.CreatedBefore,
		IncludeDeleted:  params.IncludeDeleted,
		ShowAllVersions: params.ShowAllVersions,
		PropertyEquals:  params.PropertyEquals,
		Cursor:          params.Cursor,
		Limit:           params.Limit,
	}
	return s.runList(ctx, filter)
}

func (s *service) Search(ctx context.Context, params SearchParams) (ListResult, error) {
	filter := persistence.ListFilter{
		TypeID:          params.TypeID,
		CreatedBy:       params.CreatedBy,
		CreatedAfter:    params.CreatedAfter,
		CreatedBefore:   params.CreatedBefore,
		IncludeDeleted:  params.IncludeDeleted,
		ShowAllVersions: params.ShowAllVersions,
		PropertyFilters: params.PropertyFilters,
		Cursor:          params.Cursor,
		Limit:           params.Limit,
		SortColumn:      params.SortColumn,
		SortAscending:   params.SortAscending,
	}
	return s.runList(ctx, filter)
}

func (s *service) runList(ctx context.Context, filter persistence.ListFilter) (ListResult, error) {
	audit := requesttrace.FromContextOrAnonymous(ctx)
	aclFilter, err := s.acl.BuildFilter(ctx, audit, persistence.PermissionRead)
	if err != nil {
		return ListResult{}, err
	}

	records, limit, err := s.store.ListFiltered(ctx, filter, aclFilter)
	if err != nil {
		return ListResult{}, translateListError(err)
	}

	if !aclFilter.Unrestricted && !aclFilter.InQuery {
		filtered := records[:0]
		for _, record := range records {
			if aclFilter.Allows(record.ACLID) {
				filtered = append(filtered, record)
			}
		}
		records = filtered
	}

	result := ListResult{HasMore: len(records) > limit}
	if result.HasMore {
		records = records[:limit]
	}
	result.Items = records

	if result.HasMore && len(records) > 0 {
		last := records[len(records)-1]
		if key, ok := persistence.CursorKey(filter.SortColumn, last); ok {
			cursor := persistence.Cursor{Key: key, ID: last.ID}.Encode()
			result.NextCursor = &cursor
		}
	}
	return result, nil
}

func (s *service) Update(ctx context.Context, id uuid.UUID, properties json.RawMessage) (persistence.ResourceRecord, error) {
	latest, err := s.requireWrite(ctx, id)
	if err != nil {
		return persistence.ResourceRecord{}, err
	}

	typeRecord, err := s.types.Get(ctx, latest.TypeID)
	if err != nil {
		return persistence.ResourceRecord{}, translateStoreError(err)
	}
	if err := s.validateProperties(typeRecord, properties); err != nil {
		return persistence.ResourceRecord{}, err
	}

	audit := requesttrace.FromContextOrAnonymous(ctx)
	record, err := s.store.Update(ctx, id, properties, audit.Actor())
	if err != nil {
		return persistence.ResourceRecord{}, translateStoreError(err)
	}

	s.cacheInvalidate(ctx, id, latest.ID, record.ID)
	return record, nil
}

func (s *service) Delete(ctx context.Context, id uuid.UUID) (persistence.ResourceRecord, error) {
	latest, err := s.requireWrite(ctx, id)
	if err != nil {
		return persistence.ResourceRecord{}, err
	}

	audit := requesttrace.FromContextOrAnonymous(ctx)
	record, err := s.store.SoftDelete(ctx, id, audit.Actor())
	if err != nil {
		return persistence.ResourceRecord{}, translateStoreError(err)
	}

	s.cacheInvalidate(ctx, id, latest.ID, record.ID)
	return record, nil
}

func (s *service) Restore(ctx context.Context, id uuid.UUID) (persistence.ResourceRecord, error) {
	latest, err := s.requireWrite(ctx, id)
	if err != nil {
		return persistence.ResourceRecord{}, err
	}

	audit := requesttrace.FromContextOrAnonymous(ctx)
	record, err := s.store.Restore(ctx, id, audit.Actor())
	if err != nil {
		return persistence.ResourceRecord{}, translateStoreError(err)
	}

	s.cacheInvalidate(ctx, id, latest.ID, record.ID)
	return record, nil
}

func (s *service) SetACL(ctx context.Context, id uuid.UUID, entries []persistence.ACLEntry) (persistence.ResourceRecord, error) {
	latest, err := s.requireWrite(ctx, id)
	if err != nil {
		return persistence.ResourceRecord{}, err
	}
	if latest.IsDeleted {
		return persistence.ResourceRecord{}, ErrDeleted
	}

	aclID, err := s.acl.GetOrCreate(ctx, entries)
	if err != nil {
		if errors.Is(err, ErrInvalidPrincipals) {
			return persistence.ResourceRecord{}, err
		}
		return persistence.ResourceRecord{}, fmt.Errorf("resolve acl: %w", err)
	}

	audit := requesttrace.FromContextOrAnonymous(ctx)
	record, err := s.store.SetACL(ctx, id, aclID, audit.Actor())
	if err != nil {
		return persistence.ResourceRecord{}, translateStoreError(err)
	}

	s.cacheInvalidate(ctx, id, latest.ID, record.ID)
	return record, nil
}

func (s *service) GetACL(ctx context.Context, id uuid.UUID) ([]persistence.ACLEntry, error) {
	record, err := s.store.FindLatest(ctx, id)
	if err != nil {
		return nil, translateStoreError(err)
	}
	if err := s.requireRead(ctx, record); err != nil {
		return nil, err
	}

	if record.ACLID == nil {
		return []persistence.ACLEntry{}, nil
	}

	entries, err := s.acl.Entries(ctx, *record.ACLID)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []persistence.ACLEntry{}
	}
	return entries, nil
}

func (s *service) Versions(ctx context.Context, id uuid.UUID) ([]persistence.ResourceRecord, error) {
	chain, err := s.chainWithReadCheck(ctx, id)
	if err != nil {
		return nil, err
	}
	return chain, nil
}

func (s *service) History(ctx context.Context, id uuid.UUID) ([]HistoryEntry, error) {
	chain, err := s.chainWithReadCheck(ctx, id)
	if err != nil {
		return nil, err
	}

	entries := make([]HistoryEntry, 0, len(chain))
	for i, record := range chain {
		entry := HistoryEntry{Record: record}
		if i == 0 {
			entry.Summary = "Initial version"
		} else {
			diff, err := persistence.DiffProperties(chain[i-1].Properties, record.Properties)
			if err != nil {
				return nil, fmt.Errorf("diff versions %d..%d: %w", chain[i-1].Version, record.Version, err)
			}
			entry.Diff = &diff
			entry.Summary = summarize(chain[i-1], record, diff)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *service) Traverse(ctx context.Context, id uuid.UUID, direction persistence.Direction, params TraverseParams) ([]TraversalItem, error) {
	rows, err := s.traverse(ctx, id, direction, params)
	if err != nil {
		return nil, err
	}

	items := make([]TraversalItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, TraversalItem{Link: row.Link, Entity: row.Neighbor})
	}
	return items, nil
}

func (s *service) Neighbors(ctx context.Context, id uuid.UUID, params TraverseParams) ([]Neighbor, error) {
	outbound, err := s.traverse(ctx, id, persistence.DirectionOutbound, params)
	if err != nil {
		return nil, err
	}
	inbound, err := s.traverse(ctx, id, persistence.DirectionInbound, params)
	if err != nil {
		return nil, err
	}

	// Deduplicate by neighbor row id while accumulating one connection per
	// link, keeping first-seen order.
	var neighbors []Neighbor
	index := map[uuid.UUID]int{}
	for _, row := range append(outbound, inbound...) {
		i, ok := index[row.Neighbor.ID]
		if !ok {
			i = len(neighbors)
			index[row.Neighbor.ID] = i
			neighbors = append(neighbors, Neighbor{Entity: row.Neighbor})
		}
		neighbors[i].Connections = append(neighbors[i].Connections, Connection{
			Link:      row.Link,
			Direction: row.Direction,
		})
	}
	return neighbors, nil
}

func (s *service) traverse(ctx context.Context, id uuid.UUID, direction persistence.Direction, params TraverseParams) ([]persistence.TraversalRow, error) {
	if s.traverser == nil {
		return nil, errors.New("traversal is not supported for this resource kind")
	}

	chain, err := s.chainWithReadCheck(ctx, id)
	if err != nil {
		return nil, err
	}

	// Link endpoints may reference any historical row of this chain.
	chainIDs := make([]uuid.UUID, len(chain))
	for i, row := range chain {
		chainIDs[i] = row.ID
	}

	audit := requesttrace.FromContextOrAnonymous(ctx)
	aclFilter, err := s.acl.BuildFilter(ctx, audit, persistence.PermissionRead)
	if err != nil {
		return nil, err
	}

	return s.traverser.Traverse(ctx, chainIDs, direction, persistence.TraversalFilter{
		LinkTypeID:     params.LinkTypeID,
		EntityTypeID:   params.EntityTypeID,
		IncludeDeleted: params.IncludeDeleted,
		Limit:          params.Limit,
	}, aclFilter, aclFilter)
}

// --- shared helpers ---

func (s *service) chainWithReadCheck(ctx context.Context, id uuid.UUID) ([]persistence.ResourceRecord, error) {
	latest, err := s.store.FindLatest(ctx, id)
	if err != nil {
		return nil, translateStoreError(err)
	}
	if err := s.requireRead(ctx, latest); err != nil {
		return nil, err
	}

	chain, err := s.store.ListChain(ctx, id)
	if err != nil {
		return nil, translateStoreError(err)
	}
	return chain, nil
}

func (s *service) requireRead(ctx context.Context, record persistence.ResourceRecord) error {
	audit := requesttrace.FromContextOrAnonymous(ctx)
	ok, err := s.acl.HasPermission(ctx, audit, record.ACLID, persistence.PermissionRead)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}

// requireWrite resolves the chain's latest row and checks write access. A
// null acl_id denies write to everyone except the resource creator, who would
// otherwise lock themselves out of anything created without an ACL.
func (s *service) requireWrite(ctx context.Context, id uuid.UUID) (persistence.ResourceRecord, error) {
	latest, err := s.store.FindLatest(ctx, id)
	if err != nil {
		return persistence.ResourceRecord{}, translateStoreError(err)
	}

	audit := requesttrace.FromContextOrAnonymous(ctx)
	if latest.ACLID == nil {
		if audit.Authenticated() && latest.CreatedBy == audit.Actor() {
			return latest, nil
		}
		return persistence.ResourceRecord{}, ErrForbidden
	}

	ok, err := s.acl.HasPermission(ctx, audit, latest.ACLID, persistence.PermissionWrite)
	if err != nil {
		return persistence.ResourceRecord{}, err
	}
	if !ok {
		return persistence.ResourceRecord{}, ErrForbidden
	}
	return latest, nil
}

func (s *service) checkTypeCategory(typeRecord persistence.TypeRecord) error {
	want := persistence.CategoryEntity
	if s.store.Kind() == persistence.KindLink {
		want = persistence.CategoryLink
	}
	if typeRecord.Category != want {
		return &ValidationError{Reason: fmt.Sprintf("type %s is a %s type", typeRecord.ID, typeRecord.Category)}
	}
	return nil
}

func (s *service) validateProperties(typeRecord persistence.TypeRecord, properties json.RawMessage) error {
	err := s.validator.Validate(typeRecord, properties)
	if err == nil {
		return nil
	}

	var schemaErr *persistence.SchemaValidationError
	if errors.As(err, &schemaErr) {
		return &ValidationError{Reason: "properties failed schema validation", Details: schemaErr.Issues}
	}
	return &ValidationError{Reason: err.Error()}
}

func (s *service) resolveEndpoints(ctx context.Context, sourceID, targetID *uuid.UUID) (*uuid.UUID, *uuid.UUID, error) {
	if sourceID == nil || targetID == nil {
		return nil, nil, &ValidationError{Reason: "source_id and target_id are required"}
	}

	source, err := s.entities.FindLatest(ctx, *sourceID)
	if err != nil {
		if errors.Is(err, persistence.ErrResourceNotFound) {
			return nil, nil, &ValidationError{Reason: fmt.Sprintf("source entity %s does not exist", sourceID)}
		}
		return nil, nil, translateStoreError(err)
	}
	target, err := s.entities.FindLatest(ctx, *targetID)
	if err != nil {
		if errors.Is(err, persistence.ErrResourceNotFound) {
			return nil, nil, &ValidationError{Reason: fmt.Sprintf("target entity %s does not exist", targetID)}
		}
		return nil, nil, translateStoreError(err)
	}

	return &source.ID, &target.ID, nil
}

func (s *service) cacheKey(id uuid.UUID) string {
	return fmt.Sprintf("%s:%s", s.store.Kind(), id)
}

func (s *service) findLatestCached(ctx context.Context, id uuid.UUID) (persistence.ResourceRecord, bool, error) {
	key := s.cacheKey(id)
	if raw, ok, err := s.cache.Get(ctx, key); err != nil {
		s.logger.Warn("resource cache read", zap.Error(err))
	} else if ok {
		var record persistence.ResourceRecord
		if err := json.Unmarshal(raw, &record); err == nil {
			return record, true, nil
		}
		s.logger.Warn("resource cache entry corrupt", zap.String("key", key))
	}

	record, err := s.store.FindLatest(ctx, id)
	if err != nil {
		return persistence.ResourceRecord{}, false, translateStoreError(err)
	}
	return record, false, nil
}

func (s *service) cachePut(ctx context.Context, id uuid.UUID, record persistence.ResourceRecord) {
	encoded, err := json.Marshal(record)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, s.cacheKey(id), encoded, s.resourceTTL); err != nil {
		s.logger.Warn("resource cache write", zap.Error(err))
	}
}

// cacheInvalidate drops every key a reader may have used for this chain: the
// id the caller passed, the demoted latest row and the freshly inserted row.
// Failures are logged; the TTL bounds staleness either way.
func (s *service) cacheInvalidate(ctx context.Context, ids ...uuid.UUID) {
	keys := make([]string, 0, len(ids))
	seen := map[uuid.UUID]struct{}{}
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		keys = append(keys, s.cacheKey(id))
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.Warn("resource cache invalidate", zap.Error(err))
	}
}

func summarize(previous, current persistence.ResourceRecord, diff persistence.PropertyDiff) string {
	switch {
	case current.IsDeleted && !previous.IsDeleted:
		return "Deleted"
	case !current.IsDeleted && previous.IsDeleted:
		return "Restored"
	case aclChanged(previous.ACLID, current.ACLID):
		return "ACL changed"
	case diff.Empty():
		return "No property changes"
	default:
		return fmt.Sprintf("%d added, %d removed, %d changed", len(diff.Added), len(diff.Removed), len(diff.Changed))
	}
}

func aclChanged(old, current *int64) bool {
	if old == nil || current == nil {
		return (old == nil) != (current == nil)
	}
	return *old != *current
}

func translateStoreError(err error) error {
	switch {
	case errors.Is(err, persistence.ErrResourceNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrTypeNotFound):
		return ErrTypeNotFound
	case errors.Is(err, persistence.ErrInvalidVersion):
		return ErrInvalidVersion
	case errors.Is(err, persistence.ErrAlreadyDeleted):
		return ErrAlreadyDeleted
	case errors.Is(err, persistence.ErrNotDeleted):
		return ErrNotDeleted
	case errors.Is(err, persistence.ErrResourceDeleted):
		return ErrDeleted
	case errors.Is(err, persistence.ErrWriteConflict):
		return ErrWriteConflict
	default:
		return err
	}
}

// translateListError maps query-builder validation failures (bad property
// keys, paths, sort columns, filter values) onto ValidationError; execution
// failures pass through as internal errors.
func translateListError(err error) error {
	if errors.Is(err, persistence.ErrInvalidFilter) {
		return &ValidationError{Reason: err.Error()}
	}
	return err
}
