package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const typeColumns = `id, name, category, description, json_schema, created_at`

// TypeStore persists entity and link types. Types are immutable once created.
type TypeStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewTypeStore returns a store backed by the shared pool.
func NewTypeStore(pool *pgxpool.Pool) *TypeStore {
	if pool == nil {
		panic("postgres pool is required")
	}
	return &TypeStore{pool: pool, now: time.Now}
}

// CreateTypeParams defines a new type. JSONSchema may be nil, in which case
// documents of this type are accepted unconditionally.
type CreateTypeParams struct {
	Name        string
	Category    TypeCategory
	Description string
	JSONSchema  json.RawMessage
}

// Create inserts a new type row. Name+category pairs are unique.
func (s *TypeStore) Create(ctx context.Context, params CreateTypeParams) (TypeRecord, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return TypeRecord{}, errors.New("type name is required")
	}
	if params.Category != CategoryEntity && params.Category != CategoryLink {
		return TypeRecord{}, fmt.Errorf("invalid type category %q", params.Category)
	}

	record := TypeRecord{
		ID:          uuid.New(),
		Name:        name,
		Category:    params.Category,
		Description: strings.TrimSpace(params.Description),
		JSONSchema:  params.JSONSchema,
		CreatedAt:   s.now().Unix(),
	}

	var schemaParam any
	if len(record.JSONSchema) > 0 {
		schemaParam = []byte(record.JSONSchema)
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO graph_types (id, name, category, description, json_schema, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, record.ID, record.Name, string(record.Category), record.Description, schemaParam, record.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return TypeRecord{}, ErrTypeConflict
		}
		return TypeRecord{}, fmt.Errorf("insert type: %w", err)
	}

	return record, nil
}

// Get fetches a type by id.
func (s *TypeStore) Get(ctx context.Context, id uuid.UUID) (TypeRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+typeColumns+` FROM graph_types WHERE id = $1`, id)
	record, err := scanTypeRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TypeRecord{}, ErrTypeNotFound
		}
		return TypeRecord{}, fmt.Errorf("fetch type: %w", err)
	}
	return record, nil
}

// List returns all types, optionally restricted to one category, ordered by name.
func (s *TypeStore) List(ctx context.Context, category *TypeCategory) ([]TypeRecord, error) {
	query := `SELECT ` + typeColumns + ` FROM graph_types`
	args := []any{}
	if category != nil {
		query += ` WHERE category = $1`
		args = append(args, string(*category))
	}
	query += ` ORDER BY name, category`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list types: %w", err)
	}
	defer rows.Close()

	var records []TypeRecord
	for rows.Next() {
		record, err := scanTypeRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func scanTypeRecord(scanner rowScanner) (TypeRecord, error) {
	var (
		record   TypeRecord
		category string
		schema   []byte
	)
	if err := scanner.Scan(&record.ID, &record.Name, &category, &record.Description, &schema, &record.CreatedAt); err != nil {
		return TypeRecord{}, err
	}
	record.Category = TypeCategory(category)
	if len(schema) > 0 {
		record.JSONSchema = json.RawMessage(schema)
	}
	return record, nil
}
