package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// BuyStatus is the outcome of a purchase attempt. Failures are status
// values, not errors: the caller reports them to the client verbatim.
type BuyStatus string

// Purchase outcomes.
const (
	BuyOK            BuyStatus = "SUCCESS"
	BuyItemNotFound  BuyStatus = "ITEM_NOT_FOUND"
	BuyOutOfStock    BuyStatus = "OUT_OF_STOCK"
	BuyNotEnoughGold BuyStatus = "NOT_ENOUGH_GOLD"
	BuyTankNotFound  BuyStatus = "TANK_NOT_FOUND"
	BuyAlreadyOwned  BuyStatus = "ALREADY_OWNED"
)

// BuyResult reports a purchase outcome and the buyer's remaining balance.
// RemainingGold is only meaningful when Status is BuyOK.
type BuyResult struct {
	Status        BuyStatus
	RemainingGold int
}

// CatalogItem is one purchasable shop entry with its dynamic attributes.
type CatalogItem struct {
	ID          int
	Name        string
	Description string
	BasePrice   int
	Discount    float64
	Stock       int
	Attributes  map[string]float64
}

// FinalPrice applies the discount to the base price, rounding down.
func (c CatalogItem) FinalPrice() int {
	return int(math.Floor(float64(c.BasePrice) * (1 - c.Discount)))
}

// ShopRepository provides the item catalog and atomic purchases.
type ShopRepository struct {
	db *pgxpool.Pool
}

// NewShopRepository creates a ShopRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewShopRepository(db *pgxpool.Pool) *ShopRepository {
	return &ShopRepository{db: db}
}

// ListAvailable returns every shop item currently offered for sale.
func (r *ShopRepository) ListAvailable(ctx context.Context) ([]CatalogItem, error) {
	rows, err := r.db.Query(ctx,
		`SELECT i.id, i.name, i.description, i.base_price, i.attributes,
		        s.discount, s.stock
		 FROM shop s
		 JOIN items i ON i.id = s.item_id
		 WHERE s.available
		 ORDER BY i.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying shop items: %w", err)
	}
	defer rows.Close()

	var items []CatalogItem
	for rows.Next() {
		var item CatalogItem
		if err := rows.Scan(
			&item.ID, &item.Name, &item.Description, &item.BasePrice,
			&item.Attributes, &item.Discount, &item.Stock,
		); err != nil {
			return nil, fmt.Errorf("scanning shop item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating shop items: %w", err)
	}
	return items, nil
}

// Purchase buys quantity units of one item for the given account. The
// whole operation runs in one transaction with the shop row locked:
// validation, gold debit, stock decrement, inventory upsert, and the
// transaction record either all apply or none do.
//
// Precondition: quantity must be >= 1.
// Postcondition: Returns a BuyResult whose failure statuses leave every
// row untouched, or a non-nil error (also fully rolled back).
func (r *ShopRepository) Purchase(ctx context.Context, accountID int64, itemID, quantity int) (BuyResult, error) {
	if quantity < 1 {
		return BuyResult{}, fmt.Errorf("quantity must be >= 1, got %d", quantity)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return BuyResult{}, fmt.Errorf("beginning purchase: %w", err)
	}
	defer tx.Rollback(ctx)

	var basePrice, stock int
	var discount float64
	err = tx.QueryRow(ctx,
		`SELECT i.base_price, s.discount, s.stock
		 FROM shop s
		 JOIN items i ON i.id = s.item_id
		 WHERE i.id = $1 AND s.available
		 FOR UPDATE`,
		itemID,
	).Scan(&basePrice, &discount, &stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BuyResult{Status: BuyItemNotFound}, nil
		}
		return BuyResult{}, fmt.Errorf("locking shop item: %w", err)
	}

	if stock < quantity {
		return BuyResult{Status: BuyOutOfStock}, nil
	}

	totalCost := CatalogItem{BasePrice: basePrice, Discount: discount}.FinalPrice() * quantity

	var gold int
	err = tx.QueryRow(ctx,
		`SELECT gold FROM accounts WHERE id = $1 FOR UPDATE`,
		accountID,
	).Scan(&gold)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BuyResult{}, ErrAccountNotFound
		}
		return BuyResult{}, fmt.Errorf("locking account: %w", err)
	}
	if gold < totalCost {
		return BuyResult{Status: BuyNotEnoughGold}, nil
	}

	if err := AddGold(ctx, tx, accountID, -totalCost); err != nil {
		return BuyResult{}, err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE shop SET stock = stock - $1 WHERE item_id = $2`,
		quantity, itemID,
	); err != nil {
		return BuyResult{}, fmt.Errorf("updating stock: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO user_items (account_id, item_id, quantity)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (account_id, item_id)
		 DO UPDATE SET quantity = user_items.quantity + EXCLUDED.quantity`,
		accountID, itemID, quantity,
	); err != nil {
		return BuyResult{}, fmt.Errorf("updating inventory: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO shop_transactions (account_id, item_id, quantity, total_cost)
		 VALUES ($1, $2, $3, $4)`,
		accountID, itemID, quantity, totalCost,
	); err != nil {
		return BuyResult{}, fmt.Errorf("recording transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return BuyResult{}, fmt.Errorf("committing purchase: %w", err)
	}

	return BuyResult{Status: BuyOK, RemainingGold: gold - totalCost}, nil
}
