package db

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// Migration is one schema change. Version is a YYYYMMDDHHmmss timestamp.
type Migration struct {
	Version     int64
	Description string
	Up          func(*sql.Tx) error
	Down        func(*sql.Tx) error
}

// MigrationRunner applies migrations and records them in schema_migrations
type MigrationRunner struct {
	db *sqlx.DB
}

// NewMigrationRunner creates a runner for conn
func NewMigrationRunner(conn *sqlx.DB) *MigrationRunner {
	return &MigrationRunner{db: conn}
}

// Run applies every migration not yet recorded, oldest first
func (r *MigrationRunner) Run(ctx context.Context, migrations []Migration) error {
	applied, err := r.AppliedVersions(ctx)
	if err != nil {
		return err
	}
	done := make(map[int64]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	pending := make([]Migration, 0, len(migrations))
	for _, m := range migrations {
		if !done[m.Version] {
			pending = append(pending, m)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Version < pending[j].Version })

	for _, m := range pending {
		err := r.inTx(ctx, func(tx *sqlx.Tx) error {
			if err := m.Up(tx.Tx); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
				m.Version, time.Now().UTC(), m.Description)
			return errors.Wrap(err, "failed to record migration")
		})
		if err != nil {
			return errors.Wrapf(err, "migration %d (%s) failed", m.Version, m.Description)
		}
	}
	return nil
}

// Rollback reverts the most recently applied migration
func (r *MigrationRunner) Rollback(ctx context.Context, migrations []Migration) error {
	applied, err := r.AppliedVersions(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return nil
	}
	latest := applied[len(applied)-1]

	for _, m := range migrations {
		if m.Version != latest {
			continue
		}
		if m.Down == nil {
			return errors.Errorf("migration %d cannot be rolled back", latest)
		}
		return r.inTx(ctx, func(tx *sqlx.Tx) error {
			if err := m.Down(tx.Tx); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", m.Version)
			return errors.Wrap(err, "failed to remove migration record")
		})
	}
	return errors.Errorf("migration %d is applied but unknown", latest)
}

// AppliedVersions lists applied migration versions in ascending order
func (r *MigrationRunner) AppliedVersions(ctx context.Context) ([]int64, error) {
	if _, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME NOT NULL,
			description TEXT
		)
	`); err != nil {
		return nil, errors.Wrap(err, "failed to create schema_migrations table")
	}

	var versions []int64
	if err := r.db.SelectContext(ctx, &versions, "SELECT version FROM schema_migrations ORDER BY version"); err != nil {
		return nil, errors.Wrap(err, "failed to list applied migrations")
	}
	return versions, nil
}

func (r *MigrationRunner) inTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "failed to commit transaction")
}
