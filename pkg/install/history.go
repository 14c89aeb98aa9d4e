package install

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jingkaihe/primforge/pkg/db"
	"github.com/jingkaihe/primforge/pkg/db/migrations"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// HistoryStore records completed installs
type HistoryStore interface {
	Record(ctx context.Context, s *Summary) error
}

// Run is one recorded install
type Run struct {
	ID        string    `db:"id"`
	Provider  string    `db:"provider"`
	Scope     string    `db:"scope"`
	TargetDir string    `db:"target_dir"`
	Mode      string    `db:"mode"`
	BuildID   string    `db:"build_id"`
	Created   int       `db:"created"`
	Updated   int       `db:"updated"`
	Unchanged int       `db:"unchanged"`
	Skipped   int       `db:"skipped"`
	Conflicts int       `db:"conflicts"`
	StartedAt time.Time `db:"started_at"`
}

// RunAction is one recorded file action
type RunAction struct {
	RunID     string `db:"run_id"`
	Path      string `db:"path"`
	Action    string `db:"action"`
	Primitive string `db:"primitive"`
	Version   int    `db:"version"`
}

// History is the SQLite backed HistoryStore
type History struct {
	db *sqlx.DB
}

// OpenHistory opens the history database at path and migrates it
func OpenHistory(ctx context.Context, path string) (*History, error) {
	conn, err := db.OpenMigrated(ctx, path, migrations.All())
	if err != nil {
		return nil, errors.Wrap(err, "failed to open install history")
	}
	return &History{db: conn}, nil
}

// Close closes the database
func (h *History) Close() error {
	return h.db.Close()
}

// Record stores the run and its file actions in one transaction
func (h *History) Record(ctx context.Context, s *Summary) error {
	tx, err := h.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	run := Run{
		ID:        s.RunID,
		Provider:  s.Provider,
		Scope:     string(s.Scope),
		TargetDir: s.TargetDir,
		Mode:      string(s.Mode),
		BuildID:   s.BuildID,
		Created:   s.Created,
		Updated:   s.Updated,
		Unchanged: s.Unchanged,
		Skipped:   s.Skipped,
		Conflicts: len(s.Conflicts),
		StartedAt: s.StartedAt,
	}
	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO install_runs (id, provider, scope, target_dir, mode, build_id, created, updated, unchanged, skipped, conflicts, started_at)
		VALUES (:id, :provider, :scope, :target_dir, :mode, :build_id, :created, :updated, :unchanged, :skipped, :conflicts, :started_at)
	`, run)
	if err != nil {
		return errors.Wrap(err, "failed to record install run")
	}

	for _, a := range s.Actions {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO install_actions (run_id, path, action, primitive, version)
			VALUES (:run_id, :path, :action, :primitive, :version)
		`, RunAction{RunID: s.RunID, Path: a.Path, Action: string(a.Action), Primitive: a.Primitive, Version: a.Version})
		if err != nil {
			return errors.Wrapf(err, "failed to record action for %s", a.Path)
		}
	}

	return errors.Wrap(tx.Commit(), "failed to commit install history")
}

// Recent returns the latest runs, newest first
func (h *History) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []Run
	err := h.db.SelectContext(ctx, &runs, `
		SELECT id, provider, scope, target_dir, mode, COALESCE(build_id, '') AS build_id,
			created, updated, unchanged, skipped, conflicts, started_at
		FROM install_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list install runs")
	}
	return runs, nil
}

// Actions returns the file actions of a run in path order
func (h *History) Actions(ctx context.Context, runID string) ([]RunAction, error) {
	var actions []RunAction
	err := h.db.SelectContext(ctx, &actions, `
		SELECT run_id, path, action, COALESCE(primitive, '') AS primitive, COALESCE(version, 0) AS version
		FROM install_actions
		WHERE run_id = ?
		ORDER BY path
	`, runID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list actions of run %s", runID)
	}
	return actions, nil
}

func newRunID() string {
	return uuid.NewString()
}
