package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so chain resolution
// can run inside a mutation transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ResourceStore persists one kind of versioned resource (entities or links).
// Rows are immutable: every mutation demotes the current latest row and
// appends a new one with a fresh id chained via previous_version_id.
type ResourceStore struct {
	pool  *pgxpool.Pool
	kind  ResourceKind
	table string
	now   func() time.Time
	newID func() uuid.UUID
}

// NewResourceStore returns a store for the given resource kind.
func NewResourceStore(pool *pgxpool.Pool, kind ResourceKind) *ResourceStore {
	if pool == nil {
		panic("postgres pool is required")
	}
	if kind != KindEntity && kind != KindLink {
		panic(fmt.Sprintf("invalid resource kind %q", kind))
	}
	return &ResourceStore{
		pool:  pool,
		kind:  kind,
		table: kind.Table(),
		now:   time.Now,
		newID: uuid.New,
	}
}

// Kind returns the resource kind this store manages.
func (s *ResourceStore) Kind() ResourceKind { return s.kind }

func (s *ResourceStore) columns(prefix string) string {
	base := fmt.Sprintf(
		"%[1]sid, %[1]stype_id, %[1]sproperties, %[1]sversion, %[1]sprevious_version_id, %[1]screated_at, %[1]screated_by, %[1]sis_deleted, %[1]sis_latest, %[1]sacl_id",
		prefix,
	)
	if s.kind == KindLink {
		base += fmt.Sprintf(", %[1]ssource_entity_id, %[1]starget_entity_id", prefix)
	}
	return base
}

func (s *ResourceStore) scan(scanner rowScanner) (ResourceRecord, error) {
	var (
		record     ResourceRecord
		properties []byte
	)
	dest := []any{
		&record.ID, &record.TypeID, &properties, &record.Version,
		&record.PreviousVersionID, &record.CreatedAt, &record.CreatedBy,
		&record.IsDeleted, &record.IsLatest, &record.ACLID,
	}
	if s.kind == KindLink {
		dest = append(dest, &record.SourceEntityID, &record.TargetEntityID)
	}
	if err := scanner.Scan(dest...); err != nil {
		return ResourceRecord{}, err
	}
	record.Properties = json.RawMessage(properties)
	return record, nil
}

// CreateResourceParams defines a v1 row. Source and Target are required for
// links and must be nil for entities; endpoint resolution happens in the
// service layer, which passes chain identifiers here verbatim.
type CreateResourceParams struct {
	TypeID     uuid.UUID
	Properties json.RawMessage
	CreatedBy  string
	ACLID      *int64
	Source     *uuid.UUID
	Target     *uuid.UUID
}

// Create inserts the version-1 row of a new chain.
func (s *ResourceStore) Create(ctx context.Context, params CreateResourceParams) (ResourceRecord, error) {
	properties := params.Properties
	if len(properties) == 0 {
		properties = json.RawMessage(`{}`)
	}

	record := ResourceRecord{
		ID:         s.newID(),
		TypeID:     params.TypeID,
		Properties: properties,
		Version:    1,
		CreatedAt:  s.now().Unix(),
		CreatedBy:  params.CreatedBy,
		IsLatest:   true,
		ACLID:      params.ACLID,
	}

	if s.kind == KindLink {
		if params.Source == nil || params.Target == nil {
			return ResourceRecord{}, errors.New("link source and target are required")
		}
		record.SourceEntityID = params.Source
		record.TargetEntityID = params.Target
	}

	if err := s.insert(ctx, s.pool, record); err != nil {
		return ResourceRecord{}, err
	}
	return record, nil
}

// Update appends a new version with fresh properties, preserving the acl_id
// of the demoted row. Fails with ErrResourceDeleted when the chain's latest
// row is soft-deleted.
func (s *ResourceStore) Update(ctx context.Context, chainID uuid.UUID, properties json.RawMessage, actor string) (ResourceRecord, error) {
	return s.appendVersion(ctx, chainID, actor, func(latest ResourceRecord, next *ResourceRecord) error {
		if latest.IsDeleted {
			return ErrResourceDeleted
		}
		if len(properties) == 0 {
			properties = json.RawMessage(`{}`)
		}
		next.Properties = properties
		return nil
	})
}

// SoftDelete appends a new version flagged deleted.
func (s *ResourceStore) SoftDelete(ctx context.Context, chainID uuid.UUID, actor string) (ResourceRecord, error) {
	return s.appendVersion(ctx, chainID, actor, func(latest ResourceRecord, next *ResourceRecord) error {
		if latest.IsDeleted {
			return ErrAlreadyDeleted
		}
		next.IsDeleted = true
		return nil
	})
}

// Restore appends a new version clearing the deleted flag.
func (s *ResourceStore) Restore(ctx context.Context, chainID uuid.UUID, actor string) (ResourceRecord, error) {
	return s.appendVersion(ctx, chainID, actor, func(latest ResourceRecord, next *ResourceRecord) error {
		if !latest.IsDeleted {
			return ErrNotDeleted
		}
		next.IsDeleted = false
		return nil
	})
}

// SetACL appends a new version whose acl_id is replaced. This is the only
// mutation that changes a chain's acl_id.
func (s *ResourceStore) SetACL(ctx context.Context, chainID uuid.UUID, aclID *int64, actor string) (ResourceRecord, error) {
	return s.appendVersion(ctx, chainID, actor, func(latest ResourceRecord, next *ResourceRecord) error {
		if latest.IsDeleted {
			return ErrResourceDeleted
		}
		next.ACLID = aclID
		return nil
	})
}

// appendVersion runs the demote+insert pair under one transaction. The new
// row starts as a copy of the current latest (carrying properties, acl_id and
// link endpoints forward) and mutate adjusts it for the specific operation.
// The demote is conditional: losing a concurrent race surfaces as
// ErrWriteConflict instead of silently branching the chain.
func (s *ResourceStore) appendVersion(ctx context.Context, chainID uuid.UUID, actor string, mutate func(latest ResourceRecord, next *ResourceRecord) error) (ResourceRecord, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return ResourceRecord{}, fmt.Errorf("begin %s tx: %w", s.table, err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	latest, err := s.findLatest(ctx, tx, chainID)
	if err != nil {
		return ResourceRecord{}, err
	}

	previousID := latest.ID
	next := latest
	next.ID = s.newID()
	next.Version = latest.Version + 1
	next.PreviousVersionID = &previousID
	next.CreatedAt = s.now().Unix()
	next.CreatedBy = actor
	next.IsLatest = true

	if err := mutate(latest, &next); err != nil {
		return ResourceRecord{}, err
	}

	demote := fmt.Sprintf(`UPDATE %s SET is_latest = FALSE WHERE id = $1 AND is_latest = TRUE`, s.table)
	tag, err := tx.Exec(ctx, demote, previousID)
	if err != nil {
		return ResourceRecord{}, fmt.Errorf("demote latest %s: %w", s.table, err)
	}
	if tag.RowsAffected() != 1 {
		return ResourceRecord{}, ErrWriteConflict
	}

	// A lost race in some earlier write may have branched the chain, leaving
	// a stale sibling still flagged latest. Sweep the chain so the invariant
	// of exactly one latest row is restored by the next successful write.
	sweep := s.chainCTE() + fmt.Sprintf(`
		UPDATE %s SET is_latest = FALSE
		WHERE is_latest = TRUE AND id IN (SELECT id FROM chain)
	`, s.table)
	if _, err := tx.Exec(ctx, sweep, previousID); err != nil {
		return ResourceRecord{}, fmt.Errorf("sweep stale latest %s: %w", s.table, err)
	}

	if err := s.insert(ctx, tx, next); err != nil {
		return ResourceRecord{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return ResourceRecord{}, fmt.Errorf("commit %s tx: %w", s.table, err)
	}
	return next, nil
}

func (s *ResourceStore) insert(ctx context.Context, q querier, record ResourceRecord) error {
	if s.kind == KindLink {
		_, err := q.Exec(ctx, `
			INSERT INTO links (
				id, type_id, properties, version, previous_version_id,
				created_at, created_by, is_deleted, is_latest, acl_id,
				source_entity_id, target_entity_id
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, record.ID, record.TypeID, []byte(record.Properties), record.Version,
			record.PreviousVersionID, record.CreatedAt, record.CreatedBy,
			record.IsDeleted, record.IsLatest, record.ACLID,
			record.SourceEntityID, record.TargetEntityID)
		if err != nil {
			return fmt.Errorf("insert link row: %w", err)
		}
		return nil
	}

	_, err := q.Exec(ctx, `
		INSERT INTO entities (
			id, type_id, properties, version, previous_version_id,
			created_at, created_by, is_deleted, is_latest, acl_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, record.ID, record.TypeID, []byte(record.Properties), record.Version,
		record.PreviousVersionID, record.CreatedAt, record.CreatedBy,
		record.IsDeleted, record.IsLatest, record.ACLID)
	if err != nil {
		return fmt.Errorf("insert entity row: %w", err)
	}
	return nil
}

// ListFiltered composes and executes a list query. It returns the fetched
// rows (up to limit+1, oversampled when the ACL filter is post-query) and the
// effective page limit; the caller handles has_more detection and slicing.
func (s *ResourceStore) ListFiltered(ctx context.Context, filter ListFilter, acl ACLFilter) ([]ResourceRecord, int, error) {
	query, args, limit, err := BuildListQuery(s, filter, acl)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s", ErrInvalidFilter, err)
	}
	records, err := s.List(ctx, query, args)
	if err != nil {
		return nil, 0, err
	}
	return records, limit, nil
}

// List executes a built list query and scans the result rows.
func (s *ResourceStore) List(ctx context.Context, query string, args []any) ([]ResourceRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.table, err)
	}
	defer rows.Close()

	var records []ResourceRecord
	for rows.Next() {
		record, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
