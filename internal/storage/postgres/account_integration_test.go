package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pgstore "github.com/tank2d/masterserver/internal/storage/postgres"
	"github.com/tank2d/masterserver/internal/testutil"
)

// TestAccountLifecycleAgainstContainer runs the full account flow against
// a disposable PostgreSQL container. Gated on an env var because it needs
// a working Docker daemon.
func TestAccountLifecycleAgainstContainer(t *testing.T) {
	if os.Getenv("TEST_CONTAINERS") == "" {
		t.Skip("TEST_CONTAINERS not set; skipping container test")
	}

	ctx := context.Background()
	pc := testutil.NewPostgresContainer(t)
	pc.ApplyMigrations(t)

	accounts := pgstore.NewAccountRepository(pc.RawPool)

	created, err := accounts.Create(ctx, "alice", "secret123")
	require.NoError(t, err)
	assert.Equal(t, "alice", created.Username)
	assert.Equal(t, 1000, created.Gold)

	_, err = accounts.Create(ctx, "alice", "other")
	assert.ErrorIs(t, err, pgstore.ErrAccountExists)

	authed, err := accounts.Authenticate(ctx, "alice", "secret123")
	require.NoError(t, err)
	assert.Equal(t, created.ID, authed.ID)

	_, err = accounts.Authenticate(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, pgstore.ErrInvalidCredentials)

	_, err = accounts.Authenticate(ctx, "nobody", "x")
	assert.ErrorIs(t, err, pgstore.ErrAccountNotFound)

	gold, err := accounts.Gold(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 1000, gold)

	tx, err := pc.RawPool.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, pgstore.AddGold(ctx, tx, created.ID, -250))
	require.NoError(t, tx.Commit(ctx))

	gold, err = accounts.Gold(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 750, gold)
}
