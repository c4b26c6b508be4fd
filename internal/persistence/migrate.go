package persistence

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations[i] upgrades the schema from user_version i to i+1.
var migrations = [][]string{
	{
		`CREATE TABLE readings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			taken_at INTEGER NOT NULL,
			channel INTEGER NOT NULL,
			set_voltage REAL,
			set_current REAL,
			output_voltage REAL,
			output_current REAL
		);`,
		`CREATE INDEX idx_readings_channel_taken_at ON readings(channel, taken_at);`,
		`CREATE TABLE statuses (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			taken_at INTEGER NOT NULL,
			raw INTEGER NOT NULL,
			channel1 TEXT NOT NULL,
			channel2 TEXT NOT NULL,
			tracking TEXT NOT NULL,
			beep_on INTEGER NOT NULL,
			lock_on INTEGER NOT NULL,
			output_on INTEGER NOT NULL
		);`,
		`CREATE INDEX idx_statuses_taken_at ON statuses(taken_at);`,
	},
}

func migrate(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > len(migrations) {
		return fmt.Errorf("schema version %d is newer than supported %d", version, len(migrations))
	}

	for v := version; v < len(migrations); v++ {
		if err := applyMigration(ctx, db, v); err != nil {
			return err
		}
	}

	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, from int) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %d tx: %w", from+1, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, stmt := range migrations[from] {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration %d: %w", from+1, err)
		}
	}
	// PRAGMA does not accept bound parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d;`, from+1)); err != nil {
		return fmt.Errorf("set schema version %d: %w", from+1, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", from+1, err)
	}

	return nil
}
