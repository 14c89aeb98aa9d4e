// Package install syncs a build output directory into a provider's install
// target. Every file is compared three ways (new build, last install, on
// disk) so local edits are never overwritten silently.
package install

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jingkaihe/primforge/pkg/build"
	"github.com/jingkaihe/primforge/pkg/logger"
	"github.com/jingkaihe/primforge/pkg/manifest"
	"github.com/jingkaihe/primforge/pkg/primitive"
	"github.com/jingkaihe/primforge/pkg/telemetry"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// Mode controls how conflicts are handled
type Mode string

// Install modes
const (
	ModeSkip        Mode = "skip"
	ModeForce       Mode = "force"
	ModeInteractive Mode = "interactive"
	ModeDryRun      Mode = "dry-run"
)

// Scope selects the install target of a provider
type Scope string

// Install scopes
const (
	ScopeProject Scope = "project"
	ScopeGlobal  Scope = "global"
)

// Action is what happened, or would happen in a dry run, to one file
type Action string

// File actions
const (
	ActionCreate    Action = "create"
	ActionUpdate    Action = "update"
	ActionUnchanged Action = "unchanged"
	ActionSkip      Action = "skip"
)

// FileAction records the outcome for one file
type FileAction struct {
	Path      string
	Action    Action
	Primitive string
	Version   int
	// Reason explains unchanged and skipped outcomes
	Reason string
	// Backup is the copy taken before an overwrite
	Backup string
}

// Conflict is a file changed on disk since it was last installed, or never
// installed by primforge, whose content differs from the new build
type Conflict struct {
	Path      string
	Primitive string
	// LastHash is empty when the file was never installed
	LastHash string
	DiskHash string
	NewHash  string
	// Resolution is the action finally taken
	Resolution Action
}

func (c *Conflict) Error() string {
	origin := ""
	if c.Primitive != "" {
		origin = " (" + c.Primitive + ")"
	}
	if c.LastHash == "" {
		return fmt.Sprintf("%s%s exists and was not installed by primforge", c.Path, origin)
	}
	return fmt.Sprintf("%s%s was modified since the last install", c.Path, origin)
}

// Options configures an install
type Options struct {
	BuildDir  string
	TargetDir string
	Scope     Scope
	Mode      Mode
	Selection build.Selection
	// Backup copies every overwritten file under .primforge-backups
	Backup   bool
	Resolver ConflictResolver
	History  HistoryStore
	Now      func() time.Time
}

// Summary is the outcome of an install
type Summary struct {
	RunID     string
	Provider  string
	BuildID   string
	TargetDir string
	Scope     Scope
	Mode      Mode
	StartedAt time.Time
	Created   int
	Updated   int
	Unchanged int
	Skipped   int
	Conflicts []*Conflict
	Actions   []FileAction
}

// Install syncs the selected entries of the build manifest into the target
func Install(ctx context.Context, opts Options) (*Summary, error) {
	if opts.Mode == "" {
		opts.Mode = ModeSkip
	}
	switch opts.Mode {
	case ModeSkip, ModeForce, ModeDryRun:
	case ModeInteractive:
		if opts.Resolver == nil {
			return nil, errors.New("interactive install requires a conflict resolver")
		}
	default:
		return nil, errors.Errorf("unknown install mode %q", opts.Mode)
	}
	if opts.Scope == "" {
		opts.Scope = ScopeProject
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	m, err := manifest.Load(opts.BuildDir)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		RunID:     newRunID(),
		Provider:  m.Provider,
		BuildID:   m.BuildID,
		TargetDir: opts.TargetDir,
		Scope:     opts.Scope,
		Mode:      opts.Mode,
		StartedAt: now().UTC(),
	}
	ctx = logger.WithFields(logger.WithProvider(ctx, m.Provider), logrus.Fields{
		"target": opts.TargetDir,
		"mode":   string(opts.Mode),
	})

	err = telemetry.WithSpan(ctx, "install", func(ctx context.Context) error {
		return (&installer{opts: opts, manifest: m, summary: summary}).run(ctx)
	}, attribute.String("provider", m.Provider), attribute.String("mode", string(opts.Mode)))
	if err != nil {
		return summary, err
	}

	if opts.History != nil && opts.Mode != ModeDryRun {
		if err := opts.History.Record(ctx, summary); err != nil {
			logger.G(ctx).WithError(err).Warn("failed to record install history")
		}
	}

	logger.G(ctx).WithFields(logrus.Fields{
		"created":   summary.Created,
		"updated":   summary.Updated,
		"unchanged": summary.Unchanged,
		"skipped":   summary.Skipped,
		"conflicts": len(summary.Conflicts),
	}).Info("install finished")
	return summary, nil
}

type installer struct {
	opts     Options
	manifest *manifest.Manifest
	summary  *Summary
	state    *State
	resolver *sticky
	stamp    string
}

// planned is the three-way comparison of one file
type planned struct {
	path    string
	entry   manifest.Entry
	content []byte
	mode    os.FileMode
	last    *Record
	disk    []byte
	exists  bool
}

func (in *installer) run(ctx context.Context) error {
	dryRun := in.opts.Mode == ModeDryRun
	if !dryRun {
		unlock, err := lockTarget(in.opts.TargetDir)
		if err != nil {
			return err
		}
		defer unlock()
	}

	state, err := LoadState(in.opts.TargetDir)
	if err != nil {
		return err
	}
	in.state = state
	in.stamp = in.summary.StartedAt.Format("20060102T150405Z")
	if in.opts.Resolver != nil {
		in.resolver = &sticky{resolver: in.opts.Resolver}
	}

	files, err := in.plan()
	if err != nil {
		return err
	}

	changed := false
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		wrote, err := in.apply(ctx, f)
		if err != nil {
			return err
		}
		changed = changed || wrote
	}

	if dryRun || !changed {
		return nil
	}
	in.state.Provider = in.manifest.Provider
	return in.state.Save(in.opts.TargetDir)
}

// plan reads the build output and the target for every selected entry. Build
// files whose content no longer matches the manifest abort the install.
func (in *installer) plan() ([]*planned, error) {
	var out []*planned
	for _, p := range in.manifest.Paths() {
		entry := in.manifest.Entries[p]
		if !in.opts.Selection.MatchesPath(entry.Primitive, entry.Sources) {
			continue
		}

		src := filepath.Join(in.opts.BuildDir, filepath.FromSlash(p))
		info, err := os.Stat(src)
		if err != nil {
			return nil, errors.Wrapf(err, "build output is missing %s", p)
		}
		content, err := os.ReadFile(src)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read %s", src)
		}
		if primitive.ComputeHash(content) != entry.Hash {
			return nil, errors.Errorf("build output %s does not match its manifest hash; rebuild before installing", p)
		}

		f := &planned{path: p, entry: entry, content: content, mode: info.Mode().Perm()}
		if rec, ok := in.state.Files[p]; ok {
			f.last = &rec
		}
		disk, err := os.ReadFile(filepath.Join(in.opts.TargetDir, filepath.FromSlash(p)))
		switch {
		case err == nil:
			f.disk, f.exists = disk, true
		case !os.IsNotExist(err):
			return nil, errors.Wrapf(err, "failed to read installed %s", p)
		}
		out = append(out, f)
	}
	return out, nil
}

// apply carries out the three-way decision for one file and reports whether
// the persisted state changed
func (in *installer) apply(ctx context.Context, f *planned) (bool, error) {
	newHash := f.entry.Hash
	action := FileAction{Path: f.path, Primitive: f.entry.Origin(), Version: f.entry.Version}
	log := logger.G(ctx).WithField(logger.FieldPath, f.path)

	if !f.exists {
		action.Action = ActionCreate
		return in.write(f, action, false)
	}

	diskHash := primitive.ComputeHash(f.disk)
	switch {
	case f.last != nil && f.last.Hash == newHash:
		if diskHash != newHash {
			// edited locally but nothing new to install
			action.Reason = "modified locally, build unchanged"
		}
		action.Action = ActionUnchanged
		in.record(action)
		return false, nil

	case f.last != nil && diskHash == f.last.Hash:
		action.Action = ActionUpdate
		return in.write(f, action, true)

	case diskHash == newHash:
		action.Action = ActionUnchanged
		action.Reason = "already up to date"
		if f.last == nil {
			action.Reason = "adopted existing file"
		}
		in.record(action)
		if in.opts.Mode == ModeDryRun {
			return false, nil
		}
		in.remember(f)
		return true, nil
	}

	conflict := &Conflict{Path: f.path, Primitive: action.Primitive, DiskHash: diskHash, NewHash: newHash}
	if f.last != nil {
		conflict.LastHash = f.last.Hash
	}
	in.summary.Conflicts = append(in.summary.Conflicts, conflict)
	log.WithField("reason", conflict.Error()).Debug("conflict")

	overwrite := false
	switch in.opts.Mode {
	case ModeForce:
		overwrite = true
	case ModeInteractive:
		var err error
		if overwrite, err = in.resolver.resolve(ctx, conflict, f.disk, f.content); err != nil {
			return false, errors.Wrapf(err, "failed to resolve conflict on %s", f.path)
		}
	}

	if !overwrite {
		conflict.Resolution = ActionSkip
		action.Action = ActionSkip
		action.Reason = conflict.Error()
		in.record(action)
		return false, nil
	}

	conflict.Resolution = ActionUpdate
	action.Action = ActionUpdate
	action.Reason = "overwrote local changes"
	return in.write(f, action, true)
}

// write installs the new content, backing up the file it replaces
func (in *installer) write(f *planned, action FileAction, replaces bool) (bool, error) {
	if in.opts.Mode == ModeDryRun {
		in.record(action)
		return false, nil
	}

	if replaces && in.opts.Backup {
		dst, err := backup(in.opts.TargetDir, in.stamp, f.path)
		if err != nil {
			return false, err
		}
		action.Backup = dst
	}

	if err := atomicWrite(filepath.Join(in.opts.TargetDir, filepath.FromSlash(f.path)), f.content, f.mode); err != nil {
		return false, err
	}
	in.remember(f)
	in.record(action)
	return true, nil
}

func (in *installer) remember(f *planned) {
	in.state.Files[f.path] = Record{
		Hash:        f.entry.Hash,
		Primitive:   f.entry.Origin(),
		Version:     f.entry.Version,
		BuildID:     in.manifest.BuildID,
		InstalledAt: in.summary.StartedAt.Format(time.RFC3339),
	}
}

func (in *installer) record(a FileAction) {
	switch a.Action {
	case ActionCreate:
		in.summary.Created++
	case ActionUpdate:
		in.summary.Updated++
	case ActionUnchanged:
		in.summary.Unchanged++
	case ActionSkip:
		in.summary.Skipped++
	}
	in.summary.Actions = append(in.summary.Actions, a)
}
