package persistence

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Direction selects which side of a link to follow during traversal.
type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// TraversalFilter narrows a traversal query.
type TraversalFilter struct {
	LinkTypeID     *uuid.UUID
	EntityTypeID   *uuid.UUID
	IncludeDeleted bool
	Limit          int
}

// TraversalRow pairs one link with the entity on its far side.
type TraversalRow struct {
	Link      ResourceRecord
	Neighbor  ResourceRecord
	Direction Direction
}

// TraversalStore runs the link⋈entity joins behind outbound, inbound and
// neighbor queries. Link endpoints store chain identifiers, so rows join
// through the chain scaffolding rather than direct id equality.
type TraversalStore struct {
	pool     *pgxpool.Pool
	links    *ResourceStore
	entities *ResourceStore
}

// NewTraversalStore wires the traversal queries over the shared stores.
func NewTraversalStore(pool *pgxpool.Pool, entities, links *ResourceStore) *TraversalStore {
	if pool == nil {
		panic("postgres pool is required")
	}
	return &TraversalStore{pool: pool, links: links, entities: entities}
}

// Traverse returns the links touching the chain identified by chainIDs in
// the given direction, each joined with the latest row of the far-side
// entity chain. chainIDs must contain every row id of the source chain,
// because historical link endpoints may reference any of them. ACL filtering
// is applied by the caller row by row via ACLFilter.Allows on both the link
// and the neighbor.
func (s *TraversalStore) Traverse(ctx context.Context, chainIDs []uuid.UUID, direction Direction, filter TraversalFilter, linkACL, entityACL ACLFilter) ([]TraversalRow, error) {
	nearColumn, farColumn := "source_entity_id", "target_entity_id"
	if direction == DirectionInbound {
		nearColumn, farColumn = farColumn, nearColumn
	}

	var (
		clauses []string
		args    []any
	)
	arg := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	clauses = append(clauses, fmt.Sprintf("l.%s = ANY(%s)", nearColumn, arg(chainIDs)))
	clauses = append(clauses, "l.is_latest = TRUE", "e.is_latest = TRUE")
	if !filter.IncludeDeleted {
		clauses = append(clauses, "l.is_deleted = FALSE", "e.is_deleted = FALSE")
	}
	if filter.LinkTypeID != nil {
		clauses = append(clauses, "l.type_id = "+arg(*filter.LinkTypeID))
	}
	if filter.EntityTypeID != nil {
		clauses = append(clauses, "e.type_id = "+arg(*filter.EntityTypeID))
	}
	if linkACL.InQuery && !linkACL.Unrestricted {
		clauses = append(clauses, aclClause("l.acl_id", linkACL, arg))
	}
	if entityACL.InQuery && !entityACL.Unrestricted {
		clauses = append(clauses, aclClause("e.acl_id", entityACL, arg))
	}

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 200
	}

	// The far-side endpoint holds a chain id that may be any historical row
	// of the neighbor chain, so the join walks from that row to the chain's
	// latest via the ancestor/successor scaffolding inlined here as a LATERAL.
	query := fmt.Sprintf(`
		SELECT %s, %s
		FROM links l
		JOIN LATERAL (
			WITH RECURSIVE ancestors AS (
				SELECT id, previous_version_id, 1 AS depth
				FROM entities WHERE id = l.%s
				UNION ALL
				SELECT p.id, p.previous_version_id, a.depth + 1
				FROM entities p JOIN ancestors a ON p.id = a.previous_version_id
				WHERE a.depth < %d
			),
			chain AS (
				SELECT %s, 1 AS depth
				FROM entities
				WHERE id IN (SELECT id FROM ancestors WHERE previous_version_id IS NULL)
				UNION ALL
				SELECT %s, c.depth + 1
				FROM entities n JOIN chain c ON n.previous_version_id = c.id
				WHERE c.depth < %d
			)
			SELECT %s FROM chain ORDER BY version DESC, created_at DESC, id DESC LIMIT 1
		) e ON TRUE
		WHERE %s
		ORDER BY l.created_at DESC, l.id DESC
		LIMIT %s
	`,
		s.links.columns("l."), s.entities.columns("e."),
		farColumn, chainDepthLimit,
		s.entities.columns(""), s.entities.columns("n."), chainDepthLimit,
		s.entities.columns(""),
		joinClauses(clauses),
		arg(limit),
	)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("traverse %s: %w", direction, err)
	}
	defer rows.Close()

	var result []TraversalRow
	for rows.Next() {
		link, neighbor, err := s.scanPair(rows)
		if err != nil {
			return nil, err
		}
		if !linkACL.InQuery && !linkACL.Allows(link.ACLID) {
			continue
		}
		if !entityACL.InQuery && !entityACL.Allows(neighbor.ACLID) {
			continue
		}
		result = append(result, TraversalRow{Link: link, Neighbor: neighbor, Direction: direction})
	}
	return result, rows.Err()
}

func (s *TraversalStore) scanPair(scanner rowScanner) (ResourceRecord, ResourceRecord, error) {
	var (
		link, neighbor ResourceRecord
		linkProps      []byte
		neighborProps  []byte
	)

	dest := []any{
		&link.ID, &link.TypeID, &linkProps, &link.Version,
		&link.PreviousVersionID, &link.CreatedAt, &link.CreatedBy,
		&link.IsDeleted, &link.IsLatest, &link.ACLID,
		&link.SourceEntityID, &link.TargetEntityID,
		&neighbor.ID, &neighbor.TypeID, &neighborProps, &neighbor.Version,
		&neighbor.PreviousVersionID, &neighbor.CreatedAt, &neighbor.CreatedBy,
		&neighbor.IsDeleted, &neighbor.IsLatest, &neighbor.ACLID,
	}
	if err := scanner.Scan(dest...); err != nil {
		return ResourceRecord{}, ResourceRecord{}, err
	}
	link.Properties = linkProps
	neighbor.Properties = neighborProps
	return link, neighbor, nil
}

func aclClause(column string, filter ACLFilter, arg func(any) string) string {
	idsParam := arg(filter.IDs)
	if filter.IncludeNull {
		return fmt.Sprintf("(%s IS NULL OR %s = ANY(%s))", column, column, idsParam)
	}
	return fmt.Sprintf("%s = ANY(%s)", column, idsParam)
}

func joinClauses(clauses []string) string {
	out := clauses[0]
	for _, c := range clauses[1:] {
		out += " AND " + c
	}
	return out
}
