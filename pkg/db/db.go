// Package db opens the SQLite database that records install history and
// applies its schema migrations.
package db

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=ON",
}

// Open opens or creates the database at path, creating parent directories
func Open(ctx context.Context, path string) (*sqlx.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create database directory")
	}

	conn, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}
	if err := Configure(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// OpenMigrated opens path and applies every pending migration
func OpenMigrated(ctx context.Context, path string, migrations []Migration) (*sqlx.DB, error) {
	conn, err := Open(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := NewMigrationRunner(conn).Run(ctx, migrations); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// Configure applies the WAL pragmas and limits the pool to one connection,
// which SQLite needs for writes from a single process
func Configure(ctx context.Context, conn *sqlx.DB) error {
	for _, pragma := range pragmas {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			return errors.Wrapf(err, "failed to execute %s", pragma)
		}
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	var mode string
	if err := conn.GetContext(ctx, &mode, "PRAGMA journal_mode"); err != nil {
		return errors.Wrap(err, "failed to query journal mode")
	}
	if strings.ToLower(mode) != "wal" {
		return errors.Errorf("expected WAL journal mode, got %s", mode)
	}
	return nil
}
