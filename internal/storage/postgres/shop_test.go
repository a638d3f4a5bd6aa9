package postgres_test

import (
	"context"
	"fmt"
	"math"
	"os"
	"sync/atomic"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	pgstore "github.com/tank2d/masterserver/internal/storage/postgres"
)

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_DSN")
	if dsn == "" {
		t.Skip("TEST_DSN not set; skipping integration test")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("connecting to test DB: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

var seedSeq atomic.Int64

// seedAccount creates a throwaway account with the given balance.
func seedAccount(t *testing.T, pool *pgxpool.Pool, gold int) int64 {
	t.Helper()
	ctx := context.Background()

	var id int64
	err := pool.QueryRow(ctx,
		`INSERT INTO accounts (username, password_hash, gold)
		 VALUES ($1, 'x', $2) RETURNING id`,
		fmt.Sprintf("buyer-%d-%d", os.Getpid(), seedSeq.Add(1)), gold,
	).Scan(&id)
	require.NoError(t, err)
	t.Cleanup(func() {
		pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	})
	return id
}

// seedShopItem creates an item listed in the shop with the given price and stock.
func seedShopItem(t *testing.T, pool *pgxpool.Pool, price, stock int) int {
	t.Helper()
	ctx := context.Background()

	var id int
	err := pool.QueryRow(ctx,
		`INSERT INTO items (name, base_price) VALUES ($1, $2) RETURNING id`,
		fmt.Sprintf("item-%d-%d", os.Getpid(), seedSeq.Add(1)), price,
	).Scan(&id)
	require.NoError(t, err)
	_, err = pool.Exec(ctx,
		`INSERT INTO shop (item_id, discount, stock, available) VALUES ($1, 0, $2, TRUE)`,
		id, stock,
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		pool.Exec(ctx, `DELETE FROM items WHERE id = $1`, id)
	})
	return id
}

func accountGold(t *testing.T, pool *pgxpool.Pool, id int64) int {
	t.Helper()
	var gold int
	require.NoError(t, pool.QueryRow(context.Background(),
		`SELECT gold FROM accounts WHERE id = $1`, id).Scan(&gold))
	return gold
}

func TestShopPurchaseDebitsGoldAndStock(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	shop := pgstore.NewShopRepository(pool)

	buyer := seedAccount(t, pool, 1000)
	item := seedShopItem(t, pool, 100, 10)

	result, err := shop.Purchase(ctx, buyer, item, 3)
	require.NoError(t, err)
	assert.Equal(t, pgstore.BuyOK, result.Status)
	assert.Equal(t, 700, result.RemainingGold)
	assert.Equal(t, 700, accountGold(t, pool, buyer))

	var stock int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT stock FROM shop WHERE item_id = $1`, item).Scan(&stock))
	assert.Equal(t, 7, stock)

	var qty int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT quantity FROM user_items WHERE account_id = $1 AND item_id = $2`,
		buyer, item).Scan(&qty))
	assert.Equal(t, 3, qty)
}

func TestShopPurchaseOutOfStockLeavesGoldUnchanged(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	shop := pgstore.NewShopRepository(pool)

	buyer := seedAccount(t, pool, 1000)
	item := seedShopItem(t, pool, 100, 3)

	result, err := shop.Purchase(ctx, buyer, item, 5)
	require.NoError(t, err)
	assert.Equal(t, pgstore.BuyOutOfStock, result.Status)
	assert.Equal(t, 1000, accountGold(t, pool, buyer))

	var stock int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT stock FROM shop WHERE item_id = $1`, item).Scan(&stock))
	assert.Equal(t, 3, stock)
}

func TestShopPurchaseNotEnoughGold(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	shop := pgstore.NewShopRepository(pool)

	buyer := seedAccount(t, pool, 50)
	item := seedShopItem(t, pool, 100, 10)

	result, err := shop.Purchase(ctx, buyer, item, 1)
	require.NoError(t, err)
	assert.Equal(t, pgstore.BuyNotEnoughGold, result.Status)
	assert.Equal(t, 50, accountGold(t, pool, buyer))
}

func TestShopPurchaseUnknownItem(t *testing.T) {
	pool := testPool(t)
	shop := pgstore.NewShopRepository(pool)

	buyer := seedAccount(t, pool, 1000)

	result, err := shop.Purchase(context.Background(), buyer, -1, 1)
	require.NoError(t, err)
	assert.Equal(t, pgstore.BuyItemNotFound, result.Status)
}

// Property: the discounted price never exceeds the base price, never goes
// negative, and a zero discount changes nothing. No DB required.
func TestPropertyFinalPrice(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		base := rapid.IntRange(0, 1_000_000).Draw(rt, "base")
		discount := rapid.Float64Range(0, 0.99).Draw(rt, "discount")

		item := pgstore.CatalogItem{BasePrice: base, Discount: discount}
		final := item.FinalPrice()

		if final < 0 || final > base {
			rt.Fatalf("FinalPrice(%d, %f) = %d out of range", base, discount, final)
		}
		if discount == 0 && final != base {
			rt.Fatalf("zero discount changed price: %d -> %d", base, final)
		}
		want := int(math.Floor(float64(base) * (1 - discount)))
		if final != want {
			rt.Fatalf("FinalPrice(%d, %f) = %d, want %d", base, discount, final, want)
		}
	})
}
