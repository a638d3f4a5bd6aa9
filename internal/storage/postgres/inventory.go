package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// InventoryEntry is one stack of a purchased item in an account's
// inventory.
type InventoryEntry struct {
	ItemID     int
	Name       string
	Quantity   int
	Attributes map[string]float64
}

// InventoryRepository reads accounts' accumulated item stacks.
type InventoryRepository struct {
	db *pgxpool.Pool
}

// NewInventoryRepository creates an InventoryRepository backed by the
// given pool.
func NewInventoryRepository(db *pgxpool.Pool) *InventoryRepository {
	return &InventoryRepository{db: db}
}

// ListByUser returns every item stack the account owns.
func (r *InventoryRepository) ListByUser(ctx context.Context, accountID int64) ([]InventoryEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT ui.item_id, i.name, ui.quantity, i.attributes
		 FROM user_items ui
		 JOIN items i ON i.id = ui.item_id
		 WHERE ui.account_id = $1
		 ORDER BY ui.item_id`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying inventory: %w", err)
	}
	defer rows.Close()

	var entries []InventoryEntry
	for rows.Next() {
		var e InventoryEntry
		if err := rows.Scan(&e.ItemID, &e.Name, &e.Quantity, &e.Attributes); err != nil {
			return nil, fmt.Errorf("scanning inventory entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating inventory: %w", err)
	}
	return entries, nil
}
