package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrTankNotOwned is returned when equipping a tank the account has not
// purchased.
var ErrTankNotOwned = errors.New("tank not owned")

// Tank is one hull model from the tank catalog.
type Tank struct {
	ID          int
	Name        string
	Description string
	Price       int
	Attributes  map[string]float64
}

// OwnedTank is a catalog tank together with its per-account state.
type OwnedTank struct {
	Tank
	Equipped bool
}

// TankRepository provides the tank catalog, purchases, and loadout
// selection.
type TankRepository struct {
	db *pgxpool.Pool
}

// NewTankRepository creates a TankRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewTankRepository(db *pgxpool.Pool) *TankRepository {
	return &TankRepository{db: db}
}

// ListAvailable returns every tank offered for sale.
func (r *TankRepository) ListAvailable(ctx context.Context) ([]Tank, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, name, description, price, attributes
		 FROM tanks
		 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying tanks: %w", err)
	}
	defer rows.Close()

	var tanks []Tank
	for rows.Next() {
		var t Tank
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.Price, &t.Attributes); err != nil {
			return nil, fmt.Errorf("scanning tank: %w", err)
		}
		tanks = append(tanks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tanks: %w", err)
	}
	return tanks, nil
}

// ListOwned returns the tanks the account has purchased, with their
// equipped state.
func (r *TankRepository) ListOwned(ctx context.Context, accountID int64) ([]OwnedTank, error) {
	rows, err := r.db.Query(ctx,
		`SELECT t.id, t.name, t.description, t.price, t.attributes, ut.equipped
		 FROM user_tanks ut
		 JOIN tanks t ON t.id = ut.tank_id
		 WHERE ut.account_id = $1
		 ORDER BY t.id`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying owned tanks: %w", err)
	}
	defer rows.Close()

	var tanks []OwnedTank
	for rows.Next() {
		var t OwnedTank
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.Price, &t.Attributes, &t.Equipped); err != nil {
			return nil, fmt.Errorf("scanning owned tank: %w", err)
		}
		tanks = append(tanks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating owned tanks: %w", err)
	}
	return tanks, nil
}

// Buy purchases a tank for the account. Each tank can be owned at most
// once, so a repeat purchase fails with BuyAlreadyOwned before any gold
// moves. Runs in one transaction with the account row locked.
//
// Postcondition: Returns a BuyResult whose failure statuses leave every
// row untouched, or a non-nil error (also fully rolled back).
func (r *TankRepository) Buy(ctx context.Context, accountID int64, tankID int) (BuyResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return BuyResult{}, fmt.Errorf("beginning tank purchase: %w", err)
	}
	defer tx.Rollback(ctx)

	var price int
	err = tx.QueryRow(ctx, `SELECT price FROM tanks WHERE id = $1`, tankID).Scan(&price)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BuyResult{Status: BuyTankNotFound}, nil
		}
		return BuyResult{}, fmt.Errorf("querying tank: %w", err)
	}

	var owned bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM user_tanks WHERE account_id = $1 AND tank_id = $2)`,
		accountID, tankID,
	).Scan(&owned)
	if err != nil {
		return BuyResult{}, fmt.Errorf("checking tank ownership: %w", err)
	}
	if owned {
		return BuyResult{Status: BuyAlreadyOwned}, nil
	}

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
	if gold < price {
		return BuyResult{Status: BuyNotEnoughGold}, nil
	}

	if err := AddGold(ctx, tx, accountID, -price); err != nil {
		return BuyResult{}, err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO user_tanks (account_id, tank_id, equipped) VALUES ($1, $2, FALSE)`,
		accountID, tankID,
	); err != nil {
		return BuyResult{}, fmt.Errorf("recording tank ownership: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return BuyResult{}, fmt.Errorf("committing tank purchase: %w", err)
	}

	return BuyResult{Status: BuyOK, RemainingGold: gold - price}, nil
}

// Equip marks one owned tank as the account's active loadout, clearing
// any previously equipped tank in the same transaction.
//
// Postcondition: At most one user_tanks row per account has equipped set.
func (r *TankRepository) Equip(ctx context.Context, accountID int64, tankID int) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning equip: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE user_tanks SET equipped = FALSE WHERE account_id = $1 AND equipped`,
		accountID,
	); err != nil {
		return fmt.Errorf("clearing equipped tank: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE user_tanks SET equipped = TRUE WHERE account_id = $1 AND tank_id = $2`,
		accountID, tankID,
	)
	if err != nil {
		return fmt.Errorf("equipping tank: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTankNotOwned
	}

	return tx.Commit(ctx)
}
