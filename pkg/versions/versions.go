// Package versions implements the version lifecycle of a primitive:
// draft -> active -> deprecated -> archived. Every operation is a locked
// read-modify-write of the primitive's meta.yaml; a refused transition leaves
// the document untouched.
package versions

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jingkaihe/primforge/pkg/logger"
	"github.com/jingkaihe/primforge/pkg/primitive"
	"github.com/pkg/errors"
)

// ErrLastActive is returned when deprecating would leave no active version
var ErrLastActive = errors.New("refusing to deprecate the only active version")

// TransitionError reports a status change the state machine does not allow
type TransitionError struct {
	Version int
	From    primitive.Status
	To      primitive.Status
	Reason  string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("cannot move version %d from %s to %s", e.Version, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// HashIntegrityError reports content that no longer matches its recorded hash
type HashIntegrityError struct {
	Version int
	Stored  string
	Actual  string
}

func (e *HashIntegrityError) Error() string {
	return fmt.Sprintf("content of version %d does not match its recorded hash (recorded %s, actual %s); rehash the draft after editing",
		e.Version, primitive.ShortHash(e.Stored), primitive.ShortHash(e.Actual))
}

// Manager performs lifecycle transitions on primitive directories
type Manager struct {
	now func() time.Time
}

// Option configures a Manager
type Option func(*Manager)

// WithClock overrides the clock used for created dates
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a Manager
func NewManager(opts ...Option) *Manager {
	m := &Manager{now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Entry is a version as reported by List
type Entry struct {
	primitive.VersionEntry
	Default    bool
	HashOK     bool
	HasContent bool
}

// List returns every version of the primitive in dir, ascending
func (m *Manager) List(_ context.Context, dir string) ([]Entry, error) {
	meta, err := primitive.LoadMetadata(dir)
	if err != nil {
		return nil, err
	}
	meta.SortVersions()

	entries := make([]Entry, 0, len(meta.Versions))
	for _, v := range meta.Versions {
		e := Entry{VersionEntry: v, Default: meta.DefaultVersion == v.Version}
		if content, err := primitive.ReadContent(dir, meta.ID, v.Version); err == nil {
			e.HasContent = true
			e.HashOK = primitive.ComputeHash(content) == v.Hash
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Bump copies the content of the highest version into a new draft and
// records its hash. The new draft's hash equals its source's until edited.
func (m *Manager) Bump(ctx context.Context, dir string) (*primitive.VersionEntry, error) {
	var created primitive.VersionEntry

	_, err := primitive.UpdateMetadata(dir, func(meta *primitive.Metadata) error {
		latest, ok := meta.LatestVersion()
		if !ok {
			return errors.New("primitive has no versions to bump")
		}
		if latest.Status == primitive.StatusDraft {
			return &TransitionError{
				Version: latest.Version,
				From:    latest.Status,
				To:      latest.Status,
				Reason:  "the newest version is still a draft; edit it or promote it first",
			}
		}

		content, err := primitive.ReadContent(dir, meta.ID, latest.Version)
		if err != nil {
			return err
		}

		next := latest.Version + 1
		path := filepath.Join(dir, primitive.ContentFileName(meta.ID, next))
		if _, err := os.Stat(path); err == nil {
			return errors.Errorf("%s already exists", filepath.Base(path))
		}
		if err := os.WriteFile(path, content, 0o644); err != nil {
			return errors.Wrapf(err, "failed to write %s", filepath.Base(path))
		}

		created = primitive.VersionEntry{
			Version: next,
			Status:  primitive.StatusDraft,
			Hash:    primitive.ComputeHash(content),
			Created: m.now().Format(time.DateOnly),
			Notes:   fmt.Sprintf("bumped from v%d", latest.Version),
		}
		meta.Versions = append(meta.Versions, created)
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.G(ctx).WithField("dir", dir).WithField("version", created.Version).Info("created draft version")
	return &created, nil
}

// Promote flips a draft to active after checking its content still matches
// the recorded hash
func (m *Manager) Promote(ctx context.Context, dir string, version int) (*primitive.VersionEntry, error) {
	entry, err := m.transition(dir, version, func(meta *primitive.Metadata, e *primitive.VersionEntry) error {
		if e.Status != primitive.StatusDraft {
			return &TransitionError{Version: version, From: e.Status, To: primitive.StatusActive, Reason: "only drafts can be promoted"}
		}
		if err := verifyHash(dir, meta.ID, e); err != nil {
			return err
		}
		e.Status = primitive.StatusActive
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.G(ctx).WithField("dir", dir).WithField("version", version).Info("promoted version to active")
	return entry, nil
}

// Deprecate flips an active version to deprecated. It refuses to remove the
// last active version.
func (m *Manager) Deprecate(ctx context.Context, dir string, version int) (*primitive.VersionEntry, error) {
	entry, err := m.transition(dir, version, func(meta *primitive.Metadata, e *primitive.VersionEntry) error {
		if e.Status != primitive.StatusActive {
			return &TransitionError{Version: version, From: e.Status, To: primitive.StatusDeprecated, Reason: "only active versions can be deprecated"}
		}
		if len(meta.VersionsWithStatus(primitive.StatusActive)) == 1 {
			return ErrLastActive
		}
		e.Status = primitive.StatusDeprecated
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.G(ctx).WithField("dir", dir).WithField("version", version).Info("deprecated version")
	return entry, nil
}

// Archive retires a deprecated version or abandons a draft. Archived is terminal.
func (m *Manager) Archive(ctx context.Context, dir string, version int) (*primitive.VersionEntry, error) {
	entry, err := m.transition(dir, version, func(meta *primitive.Metadata, e *primitive.VersionEntry) error {
		switch e.Status {
		case primitive.StatusDeprecated:
		case primitive.StatusDraft:
			if err := verifyHash(dir, meta.ID, e); err != nil {
				return err
			}
		default:
			return &TransitionError{Version: version, From: e.Status, To: primitive.StatusArchived, Reason: "only deprecated or draft versions can be archived"}
		}
		if meta.DefaultVersion == version {
			return &TransitionError{Version: version, From: e.Status, To: primitive.StatusArchived, Reason: "version is the default_version"}
		}
		e.Status = primitive.StatusArchived
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.G(ctx).WithField("dir", dir).WithField("version", version).Info("archived version")
	return entry, nil
}

// Rehash records the current content hash of a draft after it was edited
func (m *Manager) Rehash(ctx context.Context, dir string, version int) (*primitive.VersionEntry, error) {
	entry, err := m.transition(dir, version, func(meta *primitive.Metadata, e *primitive.VersionEntry) error {
		if e.Status != primitive.StatusDraft {
			return errors.Errorf("version %d is %s; only draft content may change", version, e.Status)
		}
		content, err := primitive.ReadContent(dir, meta.ID, version)
		if err != nil {
			return err
		}
		e.Hash = primitive.ComputeHash(content)
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.G(ctx).WithField("dir", dir).WithField("version", version).WithField("hash", primitive.ShortHash(entry.Hash)).Info("refreshed draft hash")
	return entry, nil
}

// SetDefault points default_version at an active or deprecated version.
// Version 0 clears the default.
func (m *Manager) SetDefault(ctx context.Context, dir string, version int) error {
	_, err := primitive.UpdateMetadata(dir, func(meta *primitive.Metadata) error {
		if version == 0 {
			meta.DefaultVersion = 0
			return nil
		}
		e, ok := meta.FindVersion(version)
		if !ok {
			return errors.Errorf("version %d does not exist", version)
		}
		if !e.Status.Buildable() {
			return errors.Errorf("version %d is %s; default_version must be active or deprecated", version, e.Status)
		}
		meta.DefaultVersion = version
		return nil
	})
	if err != nil {
		return err
	}
	logger.G(ctx).WithField("dir", dir).WithField("version", version).Info("set default version")
	return nil
}

// transition locates version in dir/meta.yaml and applies fn to it under the
// metadata lock
func (m *Manager) transition(dir string, version int, fn func(*primitive.Metadata, *primitive.VersionEntry) error) (*primitive.VersionEntry, error) {
	var result primitive.VersionEntry
	_, err := primitive.UpdateMetadata(dir, func(meta *primitive.Metadata) error {
		e, ok := meta.FindVersion(version)
		if !ok {
			return errors.Errorf("version %d does not exist", version)
		}
		if err := fn(meta, e); err != nil {
			return err
		}
		result = *e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func verifyHash(dir, id string, e *primitive.VersionEntry) error {
	content, err := primitive.ReadContent(dir, id, e.Version)
	if err != nil {
		return err
	}
	if actual := primitive.ComputeHash(content); actual != e.Hash {
		return &HashIntegrityError{Version: e.Version, Stored: e.Hash, Actual: actual}
	}
	return nil
}
