package postgres_test

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pgstore "github.com/tank2d/masterserver/internal/storage/postgres"
)

func seedTank(t *testing.T, pool *pgxpool.Pool, price int) int {
	t.Helper()
	ctx := context.Background()

	var id int
	err := pool.QueryRow(ctx,
		`INSERT INTO tanks (name, price) VALUES ($1, $2) RETURNING id`,
		fmt.Sprintf("tank-%d-%d", os.Getpid(), seedSeq.Add(1)), price,
	).Scan(&id)
	require.NoError(t, err)
	t.Cleanup(func() {
		pool.Exec(ctx, `DELETE FROM tanks WHERE id = $1`, id)
	})
	return id
}

func TestTankBuyThenRepeatIsAlreadyOwned(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	tanks := pgstore.NewTankRepository(pool)

	buyer := seedAccount(t, pool, 1000)
	tank := seedTank(t, pool, 400)

	result, err := tanks.Buy(ctx, buyer, tank)
	require.NoError(t, err)
	assert.Equal(t, pgstore.BuyOK, result.Status)
	assert.Equal(t, 600, result.RemainingGold)

	// A second purchase fails before any gold moves.
	result, err = tanks.Buy(ctx, buyer, tank)
	require.NoError(t, err)
	assert.Equal(t, pgstore.BuyAlreadyOwned, result.Status)
	assert.Equal(t, 600, accountGold(t, pool, buyer))
}

func TestTankBuyUnknownTank(t *testing.T) {
	pool := testPool(t)
	tanks := pgstore.NewTankRepository(pool)

	buyer := seedAccount(t, pool, 1000)

	result, err := tanks.Buy(context.Background(), buyer, -1)
	require.NoError(t, err)
	assert.Equal(t, pgstore.BuyTankNotFound, result.Status)
}

func TestTankEquipSwitchesLoadout(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	tanks := pgstore.NewTankRepository(pool)

	buyer := seedAccount(t, pool, 2000)
	first := seedTank(t, pool, 100)
	second := seedTank(t, pool, 200)

	for _, id := range []int{first, second} {
		result, err := tanks.Buy(ctx, buyer, id)
		require.NoError(t, err)
		require.Equal(t, pgstore.BuyOK, result.Status)
	}

	require.NoError(t, tanks.Equip(ctx, buyer, first))
	require.NoError(t, tanks.Equip(ctx, buyer, second))

	owned, err := tanks.ListOwned(ctx, buyer)
	require.NoError(t, err)
	require.Len(t, owned, 2)
	for _, ot := range owned {
		assert.Equal(t, ot.ID == second, ot.Equipped, "tank %d equip state", ot.ID)
	}
}

func TestTankEquipNotOwned(t *testing.T) {
	pool := testPool(t)
	tanks := pgstore.NewTankRepository(pool)

	buyer := seedAccount(t, pool, 1000)
	tank := seedTank(t, pool, 100)

	err := tanks.Equip(context.Background(), buyer, tank)
	assert.ErrorIs(t, err, pgstore.ErrTankNotOwned)
}
