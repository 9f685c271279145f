package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/rsk-balance-reconciler/pkg/utils"
)

// Migration represents a database migration
type Migration struct {
	ID          int       `db:"id"`
	Version     string    `db:"version"`
	Description string    `db:"description"`
	SQL         string    `db:"sql"`
	AppliedAt   time.Time `db:"applied_at"`
	Checksum    string    `db:"checksum"`
}

func (m *Migration) checksum() string {
	sum := sha256.Sum256([]byte(m.SQL))
	return hex.EncodeToString(sum[:])
}

const sqliteMigrationTable = `
	CREATE TABLE IF NOT EXISTS migrations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		version TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL,
		checksum TEXT NOT NULL,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
`

const postgresMigrationTable = `
	CREATE TABLE IF NOT EXISTS migrations (
		id SERIAL PRIMARY KEY,
		version TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL,
		checksum TEXT NOT NULL,
		applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);
`

// GetSQLiteMigrations returns SQLite migration scripts
func GetSQLiteMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create tracked_accounts table",
			SQL: `
				CREATE TABLE IF NOT EXISTS tracked_accounts (
					address TEXT PRIMARY KEY,
					owning_user_id TEXT,
					recorded_balance TEXT NOT NULL DEFAULT '0',
					asset_snapshot TEXT NOT NULL DEFAULT '[]', -- JSON
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					last_synced_at DATETIME,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_tracked_accounts_active ON tracked_accounts(is_active, created_at);
				CREATE INDEX IF NOT EXISTS idx_tracked_accounts_user ON tracked_accounts(owning_user_id);
			`,
		},
		{
			Version:     "002",
			Description: "Create assets and balances tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS assets (
					id TEXT PRIMARY KEY,
					symbol TEXT NOT NULL UNIQUE,
					decimals INTEGER NOT NULL DEFAULT 18,
					price_usd TEXT NOT NULL DEFAULT '0',
					is_native BOOLEAN NOT NULL DEFAULT FALSE,
					updated_at DATETIME NOT NULL
				);

				CREATE TABLE IF NOT EXISTS balances (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					asset_id TEXT NOT NULL,
					amount TEXT NOT NULL DEFAULT '0',
					valuation TEXT NOT NULL DEFAULT '0',
					updated_at DATETIME NOT NULL,
					FOREIGN KEY (asset_id) REFERENCES assets (id)
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_balances_user_asset ON balances(user_id, asset_id);
			`,
		},
		{
			Version:     "003",
			Description: "Create notifications table",
			SQL: `
				CREATE TABLE IF NOT EXISTS notifications (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					type TEXT NOT NULL,
					title TEXT NOT NULL,
					body TEXT NOT NULL,
					read BOOLEAN NOT NULL DEFAULT FALSE,
					created_at DATETIME NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at);
			`,
		},
		{
			Version:     "004",
			Description: "Create reconciliation_reports table",
			SQL: `
				CREATE TABLE IF NOT EXISTS reconciliation_reports (
					id TEXT PRIMARY KEY,
					run_trigger TEXT NOT NULL,
					started_at DATETIME NOT NULL,
					finished_at DATETIME NOT NULL,
					duration_ms INTEGER NOT NULL,
					total_accounts INTEGER NOT NULL,
					ok_count INTEGER NOT NULL,
					corrected_count INTEGER NOT NULL,
					flagged_count INTEGER NOT NULL,
					major_count INTEGER NOT NULL,
					skipped_count INTEGER NOT NULL,
					error_count INTEGER NOT NULL,
					app_balance_corrections INTEGER NOT NULL,
					details TEXT NOT NULL, -- JSON
					errors TEXT NOT NULL -- JSON
				);

				CREATE INDEX IF NOT EXISTS idx_reports_started_at ON reconciliation_reports(started_at);
			`,
		},
	}
}

// GetPostgresMigrations returns PostgreSQL migration scripts
func GetPostgresMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create tracked_accounts table",
			SQL: `
				CREATE TABLE IF NOT EXISTS tracked_accounts (
					address TEXT PRIMARY KEY,
					owning_user_id TEXT,
					recorded_balance NUMERIC(38, 18) NOT NULL DEFAULT 0,
					asset_snapshot JSONB NOT NULL DEFAULT '[]',
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					last_synced_at TIMESTAMP WITH TIME ZONE,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL,
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_tracked_accounts_active ON tracked_accounts(is_active, created_at);
				CREATE INDEX IF NOT EXISTS idx_tracked_accounts_user ON tracked_accounts(owning_user_id);
			`,
		},
		{
			Version:     "002",
			Description: "Create assets and balances tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS assets (
					id TEXT PRIMARY KEY,
					symbol TEXT NOT NULL UNIQUE,
					decimals INTEGER NOT NULL DEFAULT 18,
					price_usd NUMERIC(38, 18) NOT NULL DEFAULT 0,
					is_native BOOLEAN NOT NULL DEFAULT FALSE,
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL
				);

				CREATE TABLE IF NOT EXISTS balances (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					asset_id TEXT NOT NULL REFERENCES assets (id),
					amount NUMERIC(38, 18) NOT NULL DEFAULT 0,
					valuation NUMERIC(38, 18) NOT NULL DEFAULT 0,
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_balances_user_asset ON balances(user_id, asset_id);
			`,
		},
		{
			Version:     "003",
			Description: "Create notifications table",
			SQL: `
				CREATE TABLE IF NOT EXISTS notifications (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					type TEXT NOT NULL,
					title TEXT NOT NULL,
					body TEXT NOT NULL,
					read BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at);
			`,
		},
		{
			Version:     "004",
			Description: "Create reconciliation_reports table",
			SQL: `
				CREATE TABLE IF NOT EXISTS reconciliation_reports (
					id TEXT PRIMARY KEY,
					run_trigger TEXT NOT NULL,
					started_at TIMESTAMP WITH TIME ZONE NOT NULL,
					finished_at TIMESTAMP WITH TIME ZONE NOT NULL,
					duration_ms BIGINT NOT NULL,
					total_accounts INTEGER NOT NULL,
					ok_count INTEGER NOT NULL,
					corrected_count INTEGER NOT NULL,
					flagged_count INTEGER NOT NULL,
					major_count INTEGER NOT NULL,
					skipped_count INTEGER NOT NULL,
					error_count INTEGER NOT NULL,
					app_balance_corrections INTEGER NOT NULL,
					details JSONB NOT NULL,
					errors JSONB NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_reports_started_at ON reconciliation_reports(started_at DESC);
			`,
		},
	}
}

// applyMigrations runs every migration not yet recorded in the migrations table
func (s *sqlStore) applyMigrations(ctx context.Context, tableSQL string, migrations []*Migration) error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	if _, err := s.db.ExecContext(ctx, tableSQL); err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to create migrations table", err)
	}

	applied := make(map[string]bool)
	rows, err := s.db.QueryContext(ctx, "SELECT version FROM migrations")
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to read applied migrations", err)
	}
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to scan migration", err)
		}
		applied[version] = true
	}
	rows.Close()

	for _, migration := range migrations {
		if applied[migration.Version] {
			continue
		}

		s.logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("Applying migration")

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to begin migration", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return utils.WrapAppError(utils.ErrCodeDatabase, "Migration "+migration.Version+" failed", err)
		}

		_, err = tx.ExecContext(ctx, s.rebind(
			"INSERT INTO migrations (version, description, checksum) VALUES (?, ?, ?)"),
			migration.Version, migration.Description, migration.checksum())
		if err != nil {
			tx.Rollback()
			return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to record migration "+migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to commit migration "+migration.Version, err)
		}
	}

	s.logger.Info("Database migrations completed")
	return nil
}
