package persistence

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Bootstrap creates the graph store tables and indexes when they do not
// exist. Statements are idempotent so repeated startups are safe.
func Bootstrap(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS graph_types (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			category TEXT NOT NULL CHECK (category IN ('entity', 'link')),
			description TEXT NOT NULL DEFAULT '',
			json_schema JSONB,
			created_at BIGINT NOT NULL,
			UNIQUE (name, category)
		);`,

		`CREATE TABLE IF NOT EXISTS acls (
			id BIGSERIAL PRIMARY KEY,
			fingerprint TEXT NOT NULL UNIQUE
		);`,

		`CREATE INDEX IF NOT EXISTS acls_fingerprint_hash_idx
			ON acls USING hash (fingerprint);`,

		`CREATE TABLE IF NOT EXISTS acl_entries (
			acl_id BIGINT NOT NULL REFERENCES acls(id),
			principal_type TEXT NOT NULL CHECK (principal_type IN ('user', 'group')),
			principal_id TEXT NOT NULL,
			permission TEXT NOT NULL CHECK (permission IN ('read', 'write')),
			PRIMARY KEY (acl_id, principal_type, principal_id, permission)
		);`,

		`CREATE INDEX IF NOT EXISTS acl_entries_principal_idx
			ON acl_entries (principal_type, principal_id);`,

		`CREATE TABLE IF NOT EXISTS groups (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL
		);`,

		`CREATE TABLE IF NOT EXISTS group_members (
			group_id UUID NOT NULL REFERENCES groups(id),
			member_type TEXT NOT NULL CHECK (member_type IN ('user', 'group')),
			member_id TEXT NOT NULL,
			PRIMARY KEY (group_id, member_type, member_id)
		);`,

		`CREATE INDEX IF NOT EXISTS group_members_member_idx
			ON group_members (member_type, member_id);`,

		`CREATE TABLE IF NOT EXISTS entities (
			id UUID PRIMARY KEY,
			type_id UUID NOT NULL REFERENCES graph_types(id),
			properties JSONB NOT NULL DEFAULT '{}',
			version INTEGER NOT NULL CHECK (version >= 1),
			previous_version_id UUID,
			created_at BIGINT NOT NULL,
			created_by TEXT NOT NULL DEFAULT '',
			is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
			is_latest BOOLEAN NOT NULL DEFAULT TRUE,
			acl_id BIGINT REFERENCES acls(id),
			CHECK ((version = 1) = (previous_version_id IS NULL))
		);`,

		`CREATE TABLE IF NOT EXISTS links (
			id UUID PRIMARY KEY,
			type_id UUID NOT NULL REFERENCES graph_types(id),
			properties JSONB NOT NULL DEFAULT '{}',
			version INTEGER NOT NULL CHECK (version >= 1),
			previous_version_id UUID,
			created_at BIGINT NOT NULL,
			created_by TEXT NOT NULL DEFAULT '',
			is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
			is_latest BOOLEAN NOT NULL DEFAULT TRUE,
			acl_id BIGINT REFERENCES acls(id),
			source_entity_id UUID NOT NULL,
			target_entity_id UUID NOT NULL,
			CHECK ((version = 1) = (previous_version_id IS NULL))
		);`,
	}

	for _, table := range []string{"entities", "links"} {
		statements = append(statements,
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_latest_idx ON %[1]s (is_latest, is_deleted);`, table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_type_idx ON %[1]s (type_id);`, table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_previous_idx ON %[1]s (previous_version_id);`, table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_acl_idx ON %[1]s (acl_id);`, table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_page_idx ON %[1]s (created_at DESC, id DESC);`, table),
		)
	}
	statements = append(statements,
		`CREATE INDEX IF NOT EXISTS links_source_idx ON links (source_entity_id, is_latest);`,
		`CREATE INDEX IF NOT EXISTS links_target_idx ON links (target_entity_id, is_latest);`,
	)

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap graph schema: %w", err)
		}
	}

	return nil
}
