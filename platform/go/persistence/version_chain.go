package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// chainDepthLimit bounds recursive chain walks. Chains are linear linked
// lists; anything deeper than this indicates corrupted inserts.
const chainDepthLimit = 1000

// chainCTE builds the recursive scaffolding shared by the chain queries. It
// resolves the queried id to the chain's root by walking previous_version_id
// back-pointers, then enumerates the whole chain forward from that root. The
// queried id may belong to any historical row; mid-chain lookups always see
// the full chain.
func (s *ResourceStore) chainCTE() string {
	return fmt.Sprintf(`
		WITH RECURSIVE ancestors AS (
			SELECT id, previous_version_id, 1 AS depth
			FROM %[1]s
			WHERE id = $1
			UNION ALL
			SELECT r.id, r.previous_version_id, a.depth + 1
			FROM %[1]s r
			JOIN ancestors a ON r.id = a.previous_version_id
			WHERE a.depth < %[2]d
		),
		root AS (
			SELECT id FROM ancestors WHERE previous_version_id IS NULL
		),
		chain AS (
			SELECT %[3]s, 1 AS depth
			FROM %[1]s
			WHERE id IN (SELECT id FROM root)
			UNION ALL
			SELECT %[4]s, c.depth + 1
			FROM %[1]s r
			JOIN chain c ON r.previous_version_id = c.id
			WHERE c.depth < %[2]d
		)
	`, s.table, chainDepthLimit, s.columns(""), s.columns("r."))
}

// FindLatest resolves any row id of a chain to the chain's authoritative
// latest row. The fast path hits the (id, is_latest) lookup directly; on a
// miss the chain is reconstructed through the recursive CTE. When a transient
// write race leaves zero or two rows flagged latest, the row with the maximum
// version wins.
func (s *ResourceStore) FindLatest(ctx context.Context, id uuid.UUID) (ResourceRecord, error) {
	return s.findLatest(ctx, s.pool, id)
}

func (s *ResourceStore) findLatest(ctx context.Context, q querier, id uuid.UUID) (ResourceRecord, error) {
	direct := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1 AND is_latest = TRUE`, s.columns(""), s.table)
	record, err := s.scan(q.QueryRow(ctx, direct, id))
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return ResourceRecord{}, fmt.Errorf("find latest: %w", err)
	}

	query := s.chainCTE() + `
		SELECT ` + s.columns("") + `
		FROM chain
		ORDER BY version DESC, created_at DESC, id DESC
		LIMIT 1
	`
	record, err = s.scan(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ResourceRecord{}, ErrResourceNotFound
		}
		return ResourceRecord{}, fmt.Errorf("find latest via chain: %w", err)
	}
	return record, nil
}

// FindVersion returns the row with the given version number in the chain
// containing chainID.
func (s *ResourceStore) FindVersion(ctx context.Context, chainID uuid.UUID, version int) (ResourceRecord, error) {
	if version < 1 {
		return ResourceRecord{}, ErrInvalidVersion
	}

	query := s.chainCTE() + `
		SELECT ` + s.columns("") + `
		FROM chain
		WHERE version = $2
	`
	record, err := s.scan(s.pool.QueryRow(ctx, query, chainID, version))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// distinguish an unknown chain from a version past the end
			if _, chainErr := s.FindLatest(ctx, chainID); chainErr != nil {
				return ResourceRecord{}, chainErr
			}
			return ResourceRecord{}, ErrInvalidVersion
		}
		return ResourceRecord{}, fmt.Errorf("find version: %w", err)
	}
	return record, nil
}

// ListChain returns every row of the chain containing chainID, ascending by
// version.
func (s *ResourceStore) ListChain(ctx context.Context, chainID uuid.UUID) ([]ResourceRecord, error) {
	query := s.chainCTE() + `
		SELECT ` + s.columns("") + `
		FROM chain
		ORDER BY version ASC
	`
	rows, err := s.pool.Query(ctx, query, chainID)
	if err != nil {
		return nil, fmt.Errorf("list chain: %w", err)
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
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrResourceNotFound
	}
	return records, nil
}
