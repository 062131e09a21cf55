package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/stapelberg/postgrestest"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
)

// SetupEphemeralPostgresDatabase starts a throwaway PostgreSQL server and
// returns a migrated repository backed by it. The server lives in a temporary
// directory and is torn down by Close.
func SetupEphemeralPostgresDatabase() (*BunDB, error) {
	Logger.Info("Starting ephemeral PostgreSQL server...")

	ctx := context.Background()

	pgt, err := postgrestest.Start(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start ephemeral postgres: %w", err)
	}

	// Create a new database for the application
	dsn, err := pgt.CreateDatabase(ctx)
	if err != nil {
		pgt.Cleanup()
		return nil, fmt.Errorf("failed to create goview database: %w", err)
	}
	Logger.Info("Created ephemeral database", "dsn", dsn)

	sqlDB := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	if err := sqlDB.Ping(); err != nil {
		pgt.Cleanup()
		return nil, fmt.Errorf("failed to ping ephemeral database: %w", err)
	}

	db := bun.NewDB(sqlDB, pgdialect.New())
	db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(false)))

	result := &BunDB{
		db:      db,
		dbType:  "postgres",
		cleanup: pgt.Cleanup,
	}

	Logger.Info("Running database migrations on ephemeral server...")
	if err := result.runMigrations(ctx); err != nil {
		db.Close()
		pgt.Cleanup()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	Logger.Info("Ephemeral PostgreSQL database ready")
	return result, nil
}
