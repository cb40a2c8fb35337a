package persistence

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestResourceStorePostgresChainLifecycle(t *testing.T) {
	t.Parallel()

	pool := startTestPool(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	entityType := createTestType(t, ctx, pool, CategoryEntity)
	store := NewResourceStore(pool, KindEntity)

	aclID, err := NewACLStore(pool).GetOrCreate(ctx, []ACLEntry{
		{PrincipalType: PrincipalUser, PrincipalID: "user-1", Permission: PermissionWrite},
	})
	require.NoError(t, err)
	require.NotNil(t, aclID)

	created, err := store.Create(ctx, CreateResourceParams{
		TypeID:     entityType.ID,
		Properties: json.RawMessage(`{"name":"a"}`),
		CreatedBy:  "user-1",
		ACLID:      aclID,
	})
	require.NoError(t, err)
	require.Equal(t, 1, created.Version)
	require.True(t, created.IsLatest)
	require.False(t, created.IsDeleted)
	require.Nil(t, created.PreviousVersionID)

	v2, err := store.Update(ctx, created.ID, json.RawMessage(`{"name":"b"}`), "user-1")
	require.NoError(t, err)
	require.Equal(t, 2, v2.Version)
	require.Equal(t, created.ID, *v2.PreviousVersionID)
	// the update carries the acl forward onto the new latest row
	require.NotNil(t, v2.ACLID)
	require.Equal(t, *aclID, *v2.ACLID)

	v3, err := store.Update(ctx, v2.ID, json.RawMessage(`{"name":"c"}`), "user-1")
	require.NoError(t, err)
	require.Equal(t, 3, v3.Version)

	// any historical row id is a valid handle onto the chain's latest
	for _, handle := range []uuid.UUID{created.ID, v2.ID, v3.ID} {
		latest, err := store.FindLatest(ctx, handle)
		require.NoError(t, err)
		require.Equal(t, v3.ID, latest.ID)
	}

	chain, err := store.ListChain(ctx, v2.ID)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	latestRows := 0
	for i, row := range chain {
		require.Equal(t, i+1, row.Version)
		if row.IsLatest {
			latestRows++
		}
	}
	require.Equal(t, 1, latestRows)

	middle, err := store.FindVersion(ctx, v3.ID, 2)
	require.NoError(t, err)
	require.Equal(t, v2.ID, middle.ID)

	_, err = store.FindVersion(ctx, v3.ID, 9)
	require.ErrorIs(t, err, ErrInvalidVersion)

	deleted, err := store.SoftDelete(ctx, created.ID, "user-1")
	require.NoError(t, err)
	require.True(t, deleted.IsDeleted)
	require.Equal(t, 4, deleted.Version)

	_, err = store.SoftDelete(ctx, created.ID, "user-1")
	require.ErrorIs(t, err, ErrAlreadyDeleted)

	_, err = store.Update(ctx, created.ID, json.RawMessage(`{}`), "user-1")
	require.ErrorIs(t, err, ErrResourceDeleted)

	restored, err := store.Restore(ctx, created.ID, "user-1")
	require.NoError(t, err)
	require.False(t, restored.IsDeleted)
	require.Equal(t, 5, restored.Version)

	// a writer whose latest row was demoted underneath it loses the
	// conditional demote and reports the conflict instead of branching
	_, err = pool.Exec(ctx, `UPDATE entities SET is_latest = FALSE WHERE id = $1`, restored.ID)
	require.NoError(t, err)
	_, err = store.Update(ctx, created.ID, json.RawMessage(`{"name":"d"}`), "user-1")
	require.ErrorIs(t, err, ErrWriteConflict)

	_, err = store.FindLatest(ctx, uuid.New())
	require.ErrorIs(t, err, ErrResourceNotFound)
}

func TestResourceStorePostgresCursorPages(t *testing.T) {
	t.Parallel()

	pool := startTestPool(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	entityType := createTestType(t, ctx, pool, CategoryEntity)
	store := NewResourceStore(pool, KindEntity)

	for range 5 {
		_, err := store.Create(ctx, CreateResourceParams{
			TypeID:    entityType.ID,
			CreatedBy: "user-1",
		})
		require.NoError(t, err)
	}

	// rows share a created_at second, so paging leans on the id tiebreaker
	var (
		seen   []uuid.UUID
		cursor *Cursor
	)
	for {
		records, limit, err := store.ListFiltered(ctx, ListFilter{Limit: 2, Cursor: cursor}, ACLFilter{Unrestricted: true})
		require.NoError(t, err)

		page := records
		hasMore := len(records) > limit
		if hasMore {
			page = records[:limit]
		}
		for _, row := range page {
			seen = append(seen, row.ID)
		}
		if !hasMore {
			break
		}

		last := page[len(page)-1]
		key, ok := CursorKey("", last)
		require.True(t, ok)
		cursor = &Cursor{Key: key, ID: last.ID}
	}

	require.Len(t, seen, 5)
	unique := map[uuid.UUID]struct{}{}
	for _, id := range seen {
		unique[id] = struct{}{}
	}
	require.Len(t, unique, 5)
}

func TestTraversalStorePostgres(t *testing.T) {
	t.Parallel()

	pool := startTestPool(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	entityType := createTestType(t, ctx, pool, CategoryEntity)
	linkType := createTestType(t, ctx, pool, CategoryLink)

	entities := NewResourceStore(pool, KindEntity)
	links := NewResourceStore(pool, KindLink)
	traversal := NewTraversalStore(pool, entities, links)

	source, err := entities.Create(ctx, CreateResourceParams{TypeID: entityType.ID, CreatedBy: "user-1"})
	require.NoError(t, err)
	target, err := entities.Create(ctx, CreateResourceParams{TypeID: entityType.ID, CreatedBy: "user-1"})
	require.NoError(t, err)

	link, err := links.Create(ctx, CreateResourceParams{
		TypeID:    linkType.ID,
		CreatedBy: "user-1",
		Source:    &source.ID,
		Target:    &target.ID,
	})
	require.NoError(t, err)

	// updating the target moves its latest row id away from the endpoint
	// stored on the link; traversal must still resolve the new latest
	updatedTarget, err := entities.Update(ctx, target.ID, json.RawMessage(`{"renamed":true}`), "user-1")
	require.NoError(t, err)

	outbound, err := traversal.Traverse(ctx, []uuid.UUID{source.ID}, DirectionOutbound, TraversalFilter{},
		ACLFilter{Unrestricted: true}, ACLFilter{Unrestricted: true})
	require.NoError(t, err)
	require.Len(t, outbound, 1)
	require.Equal(t, link.ID, outbound[0].Link.ID)
	require.Equal(t, updatedTarget.ID, outbound[0].Neighbor.ID)

	inbound, err := traversal.Traverse(ctx, []uuid.UUID{target.ID, updatedTarget.ID}, DirectionInbound, TraversalFilter{},
		ACLFilter{Unrestricted: true}, ACLFilter{Unrestricted: true})
	require.NoError(t, err)
	require.Len(t, inbound, 1)
	require.Equal(t, source.ID, inbound[0].Neighbor.ID)
}
