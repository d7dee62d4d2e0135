package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// DB is a global database connection pool.
var DB *sql.DB

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// InitDB initializes the database connection pool.
func InitDB(cfg DBConfig) error {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	var err error
	DB, err = sql.Open("postgres", psqlInfo)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	err = DB.Ping()
	if err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to the PostgreSQL database!")
	return nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		log.Info().Msg("Closing database connection...")
		if err := DB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
	}
}

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
func EnsureSchema() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	schemaSQL := `
		CREATE TABLE IF NOT EXISTS vault_snapshots (
			snapshot_id SERIAL PRIMARY KEY,
			vault_id VARCHAR(255) NOT NULL,
			snapshot_timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			status VARCHAR(32) NOT NULL,
			total_shares NUMERIC(40, 0) NOT NULL,
			total_value NUMERIC(40, 0) NOT NULL,
			valuation_fresh BOOLEAN NOT NULL,
			free_principal NUMERIC(40, 0) NOT NULL,
			escrowed_principal NUMERIC(40, 0) NOT NULL,
			epoch_loss NUMERIC(40, 0) NOT NULL,
			epoch_loss_base NUMERIC(40, 0) NOT NULL,
			tolerance_bps INTEGER NOT NULL,
			pending_deposits INTEGER NOT NULL,
			pending_withdrawals INTEGER NOT NULL,
			receipts INTEGER NOT NULL,
			asset_values JSONB
		);
		CREATE INDEX IF NOT EXISTS idx_vault_snapshots_timestamp ON vault_snapshots(snapshot_timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_vault_snapshots_vault ON vault_snapshots(vault_id, snapshot_timestamp DESC);

		CREATE TABLE IF NOT EXISTS operation_log (
			log_id SERIAL PRIMARY KEY,
			operation_id UUID NOT NULL,
			vault_id VARCHAR(255) NOT NULL,
			borrowed_assets TEXT[],
			value_before NUMERIC(40, 0) NOT NULL,
			value_after NUMERIC(40, 0),
			loss NUMERIC(40, 0),
			outcome VARCHAR(32) NOT NULL,
			detail TEXT,
			started_at TIMESTAMPTZ NOT NULL,
			finalized_at TIMESTAMPTZ,
			CONSTRAINT uq_operation_log_operation UNIQUE (operation_id)
		);
		CREATE INDEX IF NOT EXISTS idx_operation_log_vault ON operation_log(vault_id, started_at DESC);
		CREATE INDEX IF NOT EXISTS idx_operation_log_outcome ON operation_log(outcome);
	`
	_, err := DB.Exec(schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema DDL: %w", err)
	}
	log.Info().Msg("Database schema ensured.")
	return nil
}

// TestDBConnection tests if the database connection is healthy
func TestDBConnection() error {
	if DB == nil {
		return fmt.Errorf("database connection is nil")
	}

	// Use a short timeout context for health checks
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := DB.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	return nil
}
