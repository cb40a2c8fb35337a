package persistence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ACLStore persists content-addressed ACL records: two ACLs with the same
// canonical entry set share a single row, keyed by fingerprint.
type ACLStore struct {
	pool *pgxpool.Pool
}

// NewACLStore returns a store backed by the shared pool.
func NewACLStore(pool *pgxpool.Pool) *ACLStore {
	if pool == nil {
		panic("postgres pool is required")
	}
	return &ACLStore{pool: pool}
}

// CanonicalizeEntries sorts entries by (principal_type, principal_id,
// permission) and removes duplicates. The result is the canonical form used
// for fingerprinting and storage.
func CanonicalizeEntries(entries []ACLEntry) []ACLEntry {
	canonical := make([]ACLEntry, 0, len(entries))
	seen := make(map[ACLEntry]struct{}, len(entries))
	for _, entry := range entries {
		if _, ok := seen[entry]; ok {
			continue
		}
		seen[entry] = struct{}{}
		canonical = append(canonical, entry)
	}

	sort.Slice(canonical, func(i, j int) bool {
		a, b := canonical[i], canonical[j]
		if a.PrincipalType != b.PrincipalType {
			return a.PrincipalType < b.PrincipalType
		}
		if a.PrincipalID != b.PrincipalID {
			return a.PrincipalID < b.PrincipalID
		}
		return a.Permission < b.Permission
	})

	return canonical
}

// FingerprintEntries computes the stable content address of a canonical entry
// set.
func FingerprintEntries(canonical []ACLEntry) string {
	var builder strings.Builder
	for _, entry := range canonical {
		builder.WriteString(string(entry.PrincipalType))
		builder.WriteByte(0)
		builder.WriteString(entry.PrincipalID)
		builder.WriteByte(0)
		builder.WriteString(string(entry.Permission))
		builder.WriteByte(0)
	}
	sum := sha256.Sum256([]byte(builder.String()))
	return hex.EncodeToString(sum[:])
}

// GetOrCreate resolves the ACL id for the given entries, inserting a new row
// only when no ACL with the same canonical entry set exists. An empty entry
// set returns nil: the resource stores a null acl_id and is public.
func (s *ACLStore) GetOrCreate(ctx context.Context, entries []ACLEntry) (*int64, error) {
	canonical := CanonicalizeEntries(entries)
	if len(canonical) == 0 {
		return nil, nil
	}
	for _, entry := range canonical {
		if entry.PrincipalType != PrincipalUser && entry.PrincipalType != PrincipalGroup {
			return nil, fmt.Errorf("invalid principal type %q", entry.PrincipalType)
		}
		if entry.Permission != PermissionRead && entry.Permission != PermissionWrite {
			return nil, fmt.Errorf("invalid permission %q", entry.Permission)
		}
		if strings.TrimSpace(entry.PrincipalID) == "" {
			return nil, errors.New("principal id is required")
		}
	}

	fingerprint := FingerprintEntries(canonical)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin acl tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	var aclID int64
	inserted := true
	err = tx.QueryRow(ctx, `
		INSERT INTO acls (fingerprint) VALUES ($1)
		ON CONFLICT (fingerprint) DO NOTHING
		RETURNING id
	`, fingerprint).Scan(&aclID)
	if errors.Is(err, pgx.ErrNoRows) {
		// lost the race or the ACL already existed; the entries are already
		// in place for that row
		inserted = false
		err = tx.QueryRow(ctx, `SELECT id FROM acls WHERE fingerprint = $1`, fingerprint).Scan(&aclID)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve acl by fingerprint: %w", err)
	}

	if inserted {
		for _, entry := range canonical {
			if _, err := tx.Exec(ctx, `
				INSERT INTO acl_entries (acl_id, principal_type, principal_id, permission)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT DO NOTHING
			`, aclID, string(entry.PrincipalType), entry.PrincipalID, string(entry.Permission)); err != nil {
				return nil, fmt.Errorf("insert acl entry: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit acl tx: %w", err)
	}

	return &aclID, nil
}

// Entries returns the canonical entry set of an ACL.
func (s *ACLStore) Entries(ctx context.Context, aclID int64) ([]ACLEntry, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM acls WHERE id = $1)`, aclID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check acl: %w", err)
	}
	if !exists {
		return nil, ErrACLNotFound
	}

	rows, err := s.pool.Query(ctx, `
		SELECT principal_type, principal_id, permission
		FROM acl_entries
		WHERE acl_id = $1
		ORDER BY principal_type, principal_id, permission
	`, aclID)
	if err != nil {
		return nil, fmt.Errorf("list acl entries: %w", err)
	}
	defer rows.Close()

	var entries []ACLEntry
	for rows.Next() {
		var principalType, permission string
		var entry ACLEntry
		if err := rows.Scan(&principalType, &entry.PrincipalID, &permission); err != nil {
			return nil, err
		}
		entry.PrincipalType = PrincipalType(principalType)
		entry.Permission = Permission(permission)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// AccessibleACLIDs returns the distinct ACL ids whose entries grant at least
// the required permission to the user or any of their groups. Write entries
// satisfy a read requirement.
func (s *ACLStore) AccessibleACLIDs(ctx context.Context, userID string, groupIDs []uuid.UUID, required Permission) ([]int64, error) {
	permissions := []string{string(PermissionWrite)}
	if required == PermissionRead {
		permissions = append(permissions, string(PermissionRead))
	}

	groups := make([]string, len(groupIDs))
	for i, id := range groupIDs {
		groups[i] = id.String()
	}

	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT acl_id
		FROM acl_entries
		WHERE permission = ANY($1)
		  AND (
			(principal_type = 'user' AND principal_id = $2)
			OR (principal_type = 'group' AND principal_id = ANY($3))
		  )
		ORDER BY acl_id
	`, permissions, userID, groups)
	if err != nil {
		return nil, fmt.Errorf("accessible acl ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
