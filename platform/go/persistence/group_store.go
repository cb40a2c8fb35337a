package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// closureDepthLimit bounds recursive membership walks so a buggy insert can
// never send a query spinning.
const closureDepthLimit = 1000

// addMemberRetries bounds the retry loop for group-typed edge inserts that
// lose a serialization conflict.
const addMemberRetries = 3

// GroupStore persists groups and their membership DAG.
type GroupStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewGroupStore returns a store backed by the shared pool.
func NewGroupStore(pool *pgxpool.Pool) *GroupStore {
	if pool == nil {
		panic("postgres pool is required")
	}
	return &GroupStore{pool: pool, now: time.Now}
}

// CreateGroupParams defines a new group.
type CreateGroupParams struct {
	Name        string
	Description string
}

// Create inserts a new group. Names are unique.
func (s *GroupStore) Create(ctx context.Context, params CreateGroupParams) (GroupRecord, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return GroupRecord{}, errors.New("group name is required")
	}

	record := GroupRecord{
		ID:          uuid.New(),
		Name:        name,
		Description: strings.TrimSpace(params.Description),
		CreatedAt:   s.now().Unix(),
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO groups (id, name, description, created_at)
		VALUES ($1, $2, $3, $4)
	`, record.ID, record.Name, record.Description, record.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return GroupRecord{}, ErrGroupConflict
		}
		return GroupRecord{}, fmt.Errorf("insert group: %w", err)
	}

	return record, nil
}

// Get fetches a group by id.
func (s *GroupStore) Get(ctx context.Context, id uuid.UUID) (GroupRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, description, created_at FROM groups WHERE id = $1
	`, id)

	var record GroupRecord
	if err := row.Scan(&record.ID, &record.Name, &record.Description, &record.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return GroupRecord{}, ErrGroupNotFound
		}
		return GroupRecord{}, fmt.Errorf("fetch group: %w", err)
	}
	return record, nil
}

// List returns all groups ordered by name.
func (s *GroupStore) List(ctx context.Context) ([]GroupRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, description, created_at FROM groups ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var records []GroupRecord
	for rows.Next() {
		var record GroupRecord
		if err := rows.Scan(&record.ID, &record.Name, &record.Description, &record.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Members returns the direct members of a group.
func (s *GroupStore) Members(ctx context.Context, groupID uuid.UUID) ([]GroupMember, error) {
	if _, err := s.Get(ctx, groupID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT group_id, member_type, member_id
		FROM group_members
		WHERE group_id = $1
		ORDER BY member_type, member_id
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list group members: %w", err)
	}
	defer rows.Close()

	var members []GroupMember
	for rows.Next() {
		var (
			member     GroupMember
			memberType string
		)
		if err := rows.Scan(&member.GroupID, &memberType, &member.MemberID); err != nil {
			return nil, err
		}
		member.MemberType = PrincipalType(memberType)
		members = append(members, member)
	}
	return members, rows.Err()
}

// AddMember inserts one membership edge. Group-typed members are checked for
// cycles first: the edge is refused when the member's transitive member set
// already contains (or is) the parent group.
func (s *GroupStore) AddMember(ctx context.Context, member GroupMember) error {
	if _, err := s.Get(ctx, member.GroupID); err != nil {
		return err
	}
	if member.MemberType != PrincipalUser && member.MemberType != PrincipalGroup {
		return fmt.Errorf("invalid member type %q", member.MemberType)
	}
	if strings.TrimSpace(member.MemberID) == "" {
		return errors.New("member id is required")
	}

	if member.MemberType == PrincipalGroup {
		memberGroupID, err := uuid.Parse(member.MemberID)
		if err != nil {
			return fmt.Errorf("invalid member group id %q: %w", member.MemberID, err)
		}
		if _, err := s.Get(ctx, memberGroupID); err != nil {
			return err
		}
		if memberGroupID == member.GroupID {
			return ErrGroupCycle
		}

		for attempt := 0; ; attempt++ {
			err := s.insertGroupEdge(ctx, member, memberGroupID)
			if err == nil || !isSerializationFailure(err) || attempt >= addMemberRetries {
				return err
			}
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO group_members (group_id, member_type, member_id)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`, member.GroupID, string(member.MemberType), member.MemberID)
	if err != nil {
		return fmt.Errorf("insert group member: %w", err)
	}
	return nil
}

// insertGroupEdge runs the cycle check and the edge insert in one
// serializable transaction: two concurrent inserts whose checks each passed
// in isolation cannot jointly close a cycle, because the read-write conflict
// aborts one of them with a serialization failure, which the caller retries.
func (s *GroupStore) insertGroupEdge(ctx context.Context, member GroupMember, memberGroupID uuid.UUID) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin group member tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	cyclic, err := s.reachableFrom(ctx, tx, memberGroupID, member.GroupID)
	if err != nil {
		return err
	}
	if cyclic {
		return ErrGroupCycle
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO group_members (group_id, member_type, member_id)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`, member.GroupID, string(member.MemberType), member.MemberID); err != nil {
		return fmt.Errorf("insert group member: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit group member tx: %w", err)
	}
	return nil
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

// RemoveMember deletes one membership edge.
func (s *GroupStore) RemoveMember(ctx context.Context, member GroupMember) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM group_members
		WHERE group_id = $1 AND member_type = $2 AND member_id = $3
	`, member.GroupID, string(member.MemberType), member.MemberID)
	if err != nil {
		return fmt.Errorf("delete group member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMemberNotFound
	}
	return nil
}

// MembershipClosure returns every group the user belongs to, directly or
// through nested groups, via a breadth-first walk up the membership DAG.
func (s *GroupStore) MembershipClosure(ctx context.Context, userID string) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		WITH RECURSIVE membership AS (
			SELECT group_id, 1 AS depth
			FROM group_members
			WHERE member_type = 'user' AND member_id = $1
			UNION
			SELECT gm.group_id, m.depth + 1
			FROM group_members gm
			JOIN membership m
			  ON gm.member_type = 'group' AND gm.member_id = m.group_id::text
			WHERE m.depth < $2
		)
		SELECT DISTINCT group_id FROM membership
	`, userID, closureDepthLimit)
	if err != nil {
		return nil, fmt.Errorf("membership closure: %w", err)
	}
	defer rows.Close()

	var groups []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		groups = append(groups, id)
	}
	return groups, rows.Err()
}

// Exists reports whether every listed group id names an existing group.
func (s *GroupStore) Exists(ctx context.Context, ids []uuid.UUID) (bool, error) {
	if len(ids) == 0 {
		return true, nil
	}
	var count int
	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT id) FROM groups WHERE id = ANY($1)
	`, ids).Scan(&count); err != nil {
		return false, fmt.Errorf("check groups: %w", err)
	}
	return count == len(ids), nil
}

// reachableFrom reports whether target is contained (transitively) in the
// member set of start, walking downward through group-typed members.
func (s *GroupStore) reachableFrom(ctx context.Context, q querier, start, target uuid.UUID) (bool, error) {
	var reachable bool
	err := q.QueryRow(ctx, `
		WITH RECURSIVE descendants AS (
			SELECT member_id, 1 AS depth
			FROM group_members
			WHERE group_id = $1 AND member_type = 'group'
			UNION
			SELECT gm.member_id, d.depth + 1
			FROM group_members gm
			JOIN descendants d ON gm.group_id::text = d.member_id
			WHERE gm.member_type = 'group' AND d.depth < $3
		)
		SELECT EXISTS (SELECT 1 FROM descendants WHERE member_id = $2::text)
	`, start, target, closureDepthLimit).Scan(&reachable)
	if err != nil {
		return false, fmt.Errorf("membership reachability: %w", err)
	}
	return reachable, nil
}
