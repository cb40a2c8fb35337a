package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startTestPool launches a disposable Postgres container, applies the graph
// schema and returns a pool bound to it. Tests that call it skip in short
// mode so the suite stays runnable without Docker.
func startTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("palmyra"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp").WithStartupTimeout(2*time.Minute)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = pgContainer.Terminate(context.Background())
	})

	connString, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, PoolConfig{ConnString: connString})
	require.NoError(t, err)
	t.Cleanup(func() {
		ClosePool(pool)
	})

	require.NoError(t, Bootstrap(ctx, pool))
	return pool
}

// createTestType inserts a type row so resource tests satisfy the type_id
// foreign key.
func createTestType(t *testing.T, ctx context.Context, pool *pgxpool.Pool, category TypeCategory) TypeRecord {
	t.Helper()

	record, err := NewTypeStore(pool).Create(ctx, CreateTypeParams{
		Name:     "it-" + uuid.NewString(),
		Category: category,
	})
	require.NoError(t, err)
	return record
}
