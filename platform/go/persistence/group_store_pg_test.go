package persistence

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestGroupStorePostgresMembershipDAG(t *testing.T) {
	t.Parallel()

	pool := startTestPool(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	store := NewGroupStore(pool)

	groupA, err := store.Create(ctx, CreateGroupParams{Name: "alpha"})
	require.NoError(t, err)
	groupB, err := store.Create(ctx, CreateGroupParams{Name: "beta"})
	require.NoError(t, err)
	groupC, err := store.Create(ctx, CreateGroupParams{Name: "gamma"})
	require.NoError(t, err)

	_, err = store.Create(ctx, CreateGroupParams{Name: "alpha"})
	require.ErrorIs(t, err, ErrGroupConflict)

	require.NoError(t, store.AddMember(ctx, GroupMember{GroupID: groupA.ID, MemberType: PrincipalGroup, MemberID: groupB.ID.String()}))
	require.NoError(t, store.AddMember(ctx, GroupMember{GroupID: groupB.ID, MemberType: PrincipalGroup, MemberID: groupC.ID.String()}))
	require.NoError(t, store.AddMember(ctx, GroupMember{GroupID: groupC.ID, MemberType: PrincipalUser, MemberID: "user-1"}))

	// closing the loop is refused and leaves no edge behind
	err = store.AddMember(ctx, GroupMember{GroupID: groupC.ID, MemberType: PrincipalGroup, MemberID: groupA.ID.String()})
	require.ErrorIs(t, err, ErrGroupCycle)
	err = store.AddMember(ctx, GroupMember{GroupID: groupA.ID, MemberType: PrincipalGroup, MemberID: groupA.ID.String()})
	require.ErrorIs(t, err, ErrGroupCycle)

	members, err := store.Members(ctx, groupC.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	require.Equal(t, PrincipalUser, members[0].MemberType)

	closure, err := store.MembershipClosure(ctx, "user-1")
	require.NoError(t, err)
	require.ElementsMatch(t, []uuid.UUID{groupA.ID, groupB.ID, groupC.ID}, closure)

	require.NoError(t, store.RemoveMember(ctx, GroupMember{GroupID: groupB.ID, MemberType: PrincipalGroup, MemberID: groupC.ID.String()}))

	closure, err = store.MembershipClosure(ctx, "user-1")
	require.NoError(t, err)
	require.ElementsMatch(t, []uuid.UUID{groupC.ID}, closure)

	err = store.RemoveMember(ctx, GroupMember{GroupID: groupB.ID, MemberType: PrincipalGroup, MemberID: groupC.ID.String()})
	require.ErrorIs(t, err, ErrMemberNotFound)
}

func TestGroupStorePostgresConcurrentCycle(t *testing.T) {
	t.Parallel()

	pool := startTestPool(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	store := NewGroupStore(pool)

	// Two writers racing to insert x->y and y->x must never both commit:
	// the serializable check+insert aborts one side, and its retry sees the
	// other edge and reports the cycle.
	for i := range 10 {
		groupX, err := store.Create(ctx, CreateGroupParams{Name: fmt.Sprintf("x-%d", i)})
		require.NoError(t, err)
		groupY, err := store.Create(ctx, CreateGroupParams{Name: fmt.Sprintf("y-%d", i)})
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = store.AddMember(ctx, GroupMember{GroupID: groupX.ID, MemberType: PrincipalGroup, MemberID: groupY.ID.String()})
		}()
		go func() {
			defer wg.Done()
			_ = store.AddMember(ctx, GroupMember{GroupID: groupY.ID, MemberType: PrincipalGroup, MemberID: groupX.ID.String()})
		}()
		wg.Wait()

		var edges int
		require.NoError(t, pool.QueryRow(ctx, `
			SELECT COUNT(*) FROM group_members
			WHERE (group_id = $1 AND member_id = $2)
			   OR (group_id = $3 AND member_id = $4)
		`, groupX.ID, groupY.ID.String(), groupY.ID, groupX.ID.String()).Scan(&edges))
		require.LessOrEqual(t, edges, 1)
	}
}
