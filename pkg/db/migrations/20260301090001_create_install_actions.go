package migrations

import (
	"database/sql"

	"github.com/jingkaihe/primforge/pkg/db"
	"github.com/pkg/errors"
)

// Migration20260301090001CreateInstallActions creates one row per file an install touched or considered
func Migration20260301090001CreateInstallActions() db.Migration {
	return db.Migration{
		Version:     20260301090001,
		Description: "Create install_actions table",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS install_actions (
					run_id TEXT NOT NULL REFERENCES install_runs(id) ON DELETE CASCADE,
					path TEXT NOT NULL,
					action TEXT NOT NULL,
					primitive TEXT,
					version INTEGER,
					PRIMARY KEY (run_id, path)
				)
			`); err != nil {
				return errors.Wrap(err, "failed to create install_actions table")
			}
			return nil
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec("DROP TABLE IF EXISTS install_actions")
			return errors.Wrap(err, "failed to drop install_actions table")
		},
	}
}
