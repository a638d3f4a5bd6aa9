// Package testutil provides test helpers including container management
// and test client utilities.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tank2d/masterserver/internal/config"
	"github.com/tank2d/masterserver/internal/storage/postgres"
)

// PostgresContainer wraps a testcontainers PostgreSQL instance.
type PostgresContainer struct {
	container testcontainers.Container
	Pool      *postgres.Pool
	RawPool   *pgxpool.Pool
	Config    config.DatabaseConfig
}

// NewPostgresContainer starts a PostgreSQL test container and returns
// a connected Pool.
//
// Precondition: Docker must be available.
// Postcondition: Returns a running container with a connected pool,
// or fails the test.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()
	ctx := context.Background()
	start := time.Now()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(30 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("starting postgres container: %v [%s]", err, time.Since(start))
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("getting container host: %v", err)
	}

	mappedPort, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("getting mapped port: %v", err)
	}

	dbCfg := config.DatabaseConfig{
		Host:            host,
		Port:            mappedPort.Int(),
		User:            "test",
		Password:        "test",
		Name:            "test",
		SSLMode:         "disable",
		MaxConns:        5,
		MinConns:        1,
		MaxConnLifetime: 5 * time.Minute,
	}

	pool, err := postgres.NewPool(ctx, dbCfg)
	if err != nil {
		t.Fatalf("connecting to test postgres: %v [%s]", err, time.Since(start))
	}

	t.Logf("postgres container started [%s]", time.Since(start))

	pc := &PostgresContainer{
		container: container,
		Pool:      pool,
		RawPool:   pool.DB(),
		Config:    dbCfg,
	}

	t.Cleanup(func() {
		pool.Close()
		_ = container.Terminate(ctx)
	})

	return pc
}

// ApplyMigrations runs the schema creation SQL directly for tests.
// This avoids requiring the migrate tool in the test environment.
//
// Precondition: Pool must be connected.
// Postcondition: All master-server tables exist in the test database.
func (pc *PostgresContainer) ApplyMigrations(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	start := time.Now()

	schema := `
		CREATE TABLE IF NOT EXISTS accounts (
			id            BIGSERIAL   PRIMARY KEY,
			username      TEXT        NOT NULL UNIQUE,
			password_hash TEXT        NOT NULL,
			gold          INTEGER     NOT NULL DEFAULT 1000 CHECK (gold >= 0),
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS items (
			id          SERIAL  PRIMARY KEY,
			name        TEXT    NOT NULL UNIQUE,
			description TEXT    NOT NULL DEFAULT '',
			base_price  INTEGER NOT NULL CHECK (base_price >= 0),
			attributes  JSONB   NOT NULL DEFAULT '{}'::jsonb
		);
		CREATE TABLE IF NOT EXISTS shop (
			item_id   INTEGER PRIMARY KEY REFERENCES items (id) ON DELETE CASCADE,
			discount  DOUBLE PRECISION NOT NULL DEFAULT 0,
			stock     INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
			available BOOLEAN NOT NULL DEFAULT TRUE
		);
		CREATE TABLE IF NOT EXISTS user_items (
			account_id BIGINT  NOT NULL REFERENCES accounts (id) ON DELETE CASCADE,
			item_id    INTEGER NOT NULL REFERENCES items (id) ON DELETE CASCADE,
			quantity   INTEGER NOT NULL CHECK (quantity > 0),
			PRIMARY KEY (account_id, item_id)
		);
		CREATE TABLE IF NOT EXISTS shop_transactions (
			id         BIGSERIAL   PRIMARY KEY,
			account_id BIGINT      NOT NULL REFERENCES accounts (id) ON DELETE CASCADE,
			item_id    INTEGER     NOT NULL REFERENCES items (id),
			quantity   INTEGER     NOT NULL CHECK (quantity > 0),
			total_cost INTEGER     NOT NULL CHECK (total_cost >= 0),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS tanks (
			id          SERIAL  PRIMARY KEY,
			name        TEXT    NOT NULL UNIQUE,
			description TEXT    NOT NULL DEFAULT '',
			price       INTEGER NOT NULL CHECK (price >= 0),
			attributes  JSONB   NOT NULL DEFAULT '{}'::jsonb
		);
		CREATE TABLE IF NOT EXISTS user_tanks (
			account_id BIGINT  NOT NULL REFERENCES accounts (id) ON DELETE CASCADE,
			tank_id    INTEGER NOT NULL REFERENCES tanks (id) ON DELETE CASCADE,
			equipped   BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (account_id, tank_id)
		);
	`

	_, err := pc.RawPool.Exec(ctx, schema)
	if err != nil {
		t.Fatalf("applying migrations: %v", err)
	}
	t.Logf("migrations applied [%s]", time.Since(start))
}

// DSN returns the connection string for the test database.
func (pc *PostgresContainer) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		pc.Config.User, pc.Config.Password,
		pc.Config.Host, pc.Config.Port,
		pc.Config.Name, pc.Config.SSLMode,
	)
}
