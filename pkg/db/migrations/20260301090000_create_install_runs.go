package migrations

import (
	"database/sql"

	"github.com/jingkaihe/primforge/pkg/db"
	"github.com/pkg/errors"
)

// Migration20260301090000CreateInstallRuns creates one row per install invocation
func Migration20260301090000CreateInstallRuns() db.Migration {
	return db.Migration{
		Version:     20260301090000,
		Description: "Create install_runs table",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS install_runs (
					id TEXT PRIMARY KEY,
					provider TEXT NOT NULL,
					scope TEXT NOT NULL,
					target_dir TEXT NOT NULL,
					mode TEXT NOT NULL,
					build_id TEXT,
					created INTEGER NOT NULL DEFAULT 0,
					updated INTEGER NOT NULL DEFAULT 0,
					unchanged INTEGER NOT NULL DEFAULT 0,
					skipped INTEGER NOT NULL DEFAULT 0,
					conflicts INTEGER NOT NULL DEFAULT 0,
					started_at DATETIME NOT NULL
				)
			`); err != nil {
				return errors.Wrap(err, "failed to create install_runs table")
			}
			if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_install_runs_started_at ON install_runs(started_at DESC)`); err != nil {
				return errors.Wrap(err, "failed to index install_runs")
			}
			return nil
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec("DROP TABLE IF EXISTS install_runs")
			return errors.Wrap(err, "failed to drop install_runs table")
		},
	}
}
