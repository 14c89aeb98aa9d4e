package install

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jingkaihe/primforge/pkg/build"
	"github.com/jingkaihe/primforge/pkg/config"
	"github.com/jingkaihe/primforge/pkg/manifest"
	"github.com/jingkaihe/primforge/pkg/primitive"
	"github.com/jingkaihe/primforge/pkg/primitive/primitivetest"
	"github.com/jingkaihe/primforge/pkg/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeBuild creates a build output directory holding command files laid out
// as commands/<category>/<id>.md and a matching manifest
func writeBuild(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	m := manifest.New("claude", filepath.Base(dir), time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	for p, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(p))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		parts := strings.Split(strings.TrimSuffix(p, ".md"), "/")
		m.Entries[p] = manifest.Entry{
			Primitive:   "command/" + parts[1] + "/" + parts[2],
			Version:     1,
			Provider:    "claude",
			Transformer: "claude/command",
			Hash:        primitive.ComputeHash([]byte(content)),
			BuiltAt:     m.GeneratedAt,
		}
	}
	require.NoError(t, m.Save(dir))
	return dir
}

func fixedNow() time.Time {
	return time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
}

func install(t *testing.T, buildDir, target string, mode Mode, mutate ...func(*Options)) *Summary {
	t.Helper()
	opts := Options{BuildDir: buildDir, TargetDir: target, Mode: mode, Backup: true, Now: fixedNow}
	for _, fn := range mutate {
		fn(&opts)
	}
	s, err := Install(context.Background(), opts)
	require.NoError(t, err)
	return s
}

func readTarget(t *testing.T, target, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(target, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func writeTarget(t *testing.T, target, rel, content string) {
	t.Helper()
	path := filepath.Join(target, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func counts(s *Summary) [4]int {
	return [4]int{s.Created, s.Updated, s.Unchanged, s.Skipped}
}

func TestInstallIsIdempotent(t *testing.T) {
	b := writeBuild(t, map[string]string{
		"commands/qa/review.md": "review v1\n",
		"commands/qa/triage.md": "triage v1\n",
	})
	target := t.TempDir()

	first := install(t, b, target, ModeSkip)
	assert.Equal(t, [4]int{2, 0, 0, 0}, counts(first))
	assert.Equal(t, "review v1\n", readTarget(t, target, "commands/qa/review.md"))

	second := install(t, b, target, ModeSkip)
	assert.Equal(t, [4]int{0, 0, 2, 0}, counts(second))
	assert.Empty(t, second.Conflicts)

	state, err := LoadState(target)
	require.NoError(t, err)
	assert.Equal(t, "claude", state.Provider)
	assert.Equal(t, primitive.ComputeHash([]byte("review v1\n")), state.Files["commands/qa/review.md"].Hash)
	assert.Equal(t, "command/qa/review", state.Files["commands/qa/review.md"].Primitive)
}

func TestInstallThreeWay(t *testing.T) {
	const path = "commands/qa/review.md"

	tests := []struct {
		name string
		// disk is written after the v1 install; "" leaves it as installed, "-" removes it
		disk       string
		newContent string
		mode       Mode
		want       [4]int
		conflicts  int
		final      string
		recorded   string
	}{
		{name: "absent on disk", disk: "-", newContent: "v2\n", mode: ModeSkip, want: [4]int{1, 0, 0, 0}, final: "v2\n", recorded: "v2\n"},
		{name: "build unchanged", newContent: "v1\n", mode: ModeSkip, want: [4]int{0, 0, 1, 0}, final: "v1\n", recorded: "v1\n"},
		{name: "local edit, build unchanged", disk: "mine\n", newContent: "v1\n", mode: ModeSkip, want: [4]int{0, 0, 1, 0}, final: "mine\n", recorded: "v1\n"},
		{name: "clean update", newContent: "v2\n", mode: ModeSkip, want: [4]int{0, 1, 0, 0}, final: "v2\n", recorded: "v2\n"},
		{name: "disk already matches new", disk: "v2\n", newContent: "v2\n", mode: ModeSkip, want: [4]int{0, 0, 1, 0}, final: "v2\n", recorded: "v2\n"},
		{name: "conflict skipped", disk: "mine\n", newContent: "v2\n", mode: ModeSkip, want: [4]int{0, 0, 0, 1}, conflicts: 1, final: "mine\n", recorded: "v1\n"},
		{name: "conflict forced", disk: "mine\n", newContent: "v2\n", mode: ModeForce, want: [4]int{0, 1, 0, 0}, conflicts: 1, final: "v2\n", recorded: "v2\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := t.TempDir()
			install(t, writeBuild(t, map[string]string{path: "v1\n"}), target, ModeSkip)

			switch tt.disk {
			case "":
			case "-":
				require.NoError(t, os.Remove(filepath.Join(target, filepath.FromSlash(path))))
			default:
				writeTarget(t, target, path, tt.disk)
			}

			s := install(t, writeBuild(t, map[string]string{path: tt.newContent}), target, tt.mode)
			assert.Equal(t, tt.want, counts(s))
			assert.Len(t, s.Conflicts, tt.conflicts)
			assert.Equal(t, tt.final, readTarget(t, target, path))

			state, err := LoadState(target)
			require.NoError(t, err)
			assert.Equal(t, primitive.ComputeHash([]byte(tt.recorded)), state.Files[path].Hash)
		})
	}
}

func TestInstallBacksUpOverwrittenFiles(t *testing.T) {
	const path = "commands/qa/review.md"
	target := t.TempDir()
	install(t, writeBuild(t, map[string]string{path: "v1\n"}), target, ModeSkip)
	writeTarget(t, target, path, "mine\n")

	s := install(t, writeBuild(t, map[string]string{path: "v2\n"}), target, ModeForce)
	require.Len(t, s.Actions, 1)

	backupPath := filepath.Join(target, BackupDir, "20260302T080000Z", "commands", "qa", "review.md")
	assert.Equal(t, backupPath, s.Actions[0].Backup)
	data, err := os.ReadFile(backupPath)
	require.NoError(t, err)
	assert.Equal(t, "mine\n", string(data))
}

func TestInstallWithoutBackup(t *testing.T) {
	const path = "commands/qa/review.md"
	target := t.TempDir()
	install(t, writeBuild(t, map[string]string{path: "v1\n"}), target, ModeSkip)

	install(t, writeBuild(t, map[string]string{path: "v2\n"}), target, ModeSkip, func(o *Options) { o.Backup = false })
	assert.NoDirExists(t, filepath.Join(target, BackupDir))
}

func TestInstallUntrackedFiles(t *testing.T) {
	target := t.TempDir()
	writeTarget(t, target, "commands/qa/same.md", "same\n")
	writeTarget(t, target, "commands/qa/other.md", "hand written\n")

	s := install(t, writeBuild(t, map[string]string{
		"commands/qa/same.md":  "same\n",
		"commands/qa/other.md": "generated\n",
	}), target, ModeSkip)

	assert.Equal(t, [4]int{0, 0, 1, 1}, counts(s))
	require.Len(t, s.Conflicts, 1)
	assert.Equal(t, "commands/qa/other.md", s.Conflicts[0].Path)
	assert.Empty(t, s.Conflicts[0].LastHash)
	assert.Contains(t, s.Conflicts[0].Error(), "not installed by primforge")
	assert.Equal(t, "hand written\n", readTarget(t, target, "commands/qa/other.md"))

	state, err := LoadState(target)
	require.NoError(t, err)
	assert.Contains(t, state.Files, "commands/qa/same.md", "identical file is adopted")
	assert.NotContains(t, state.Files, "commands/qa/other.md")
}

func TestInstallDryRunTouchesNothing(t *testing.T) {
	const path = "commands/qa/review.md"
	target := t.TempDir()
	install(t, writeBuild(t, map[string]string{path: "v1\n"}), target, ModeSkip)
	stateBefore := readTarget(t, target, StateFile)
	writeTarget(t, target, path, "mine\n")

	s := install(t, writeBuild(t, map[string]string{
		path:                    "v2\n",
		"commands/qa/triage.md": "triage\n",
	}), target, ModeDryRun)

	assert.Equal(t, [4]int{1, 0, 0, 1}, counts(s))
	assert.Len(t, s.Conflicts, 1)
	assert.Equal(t, "mine\n", readTarget(t, target, path))
	assert.NoFileExists(t, filepath.Join(target, "commands", "qa", "triage.md"))
	assert.Equal(t, stateBefore, readTarget(t, target, StateFile))
	assert.NoDirExists(t, filepath.Join(target, BackupDir))

	fresh := t.TempDir()
	install(t, writeBuild(t, map[string]string{path: "v1\n"}), fresh, ModeDryRun)
	entries, err := os.ReadDir(fresh)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

type scriptedResolver struct {
	answers []Choice
	asked   []string
	diffs   []string
}

func (r *scriptedResolver) Resolve(_ context.Context, c *Conflict) (Choice, error) {
	r.asked = append(r.asked, c.Path)
	answer := r.answers[0]
	r.answers = r.answers[1:]
	return answer, nil
}

func (r *scriptedResolver) ShowDiff(_ *Conflict, diff string) {
	r.diffs = append(r.diffs, diff)
}

func TestInstallInteractive(t *testing.T) {
	files := []string{"commands/qa/a.md", "commands/qa/b.md", "commands/qa/c.md", "commands/qa/d.md"}
	target := t.TempDir()
	v1 := make(map[string]string)
	v2 := make(map[string]string)
	for _, f := range files {
		v1[f] = "v1\n"
		v2[f] = "v2\n"
	}
	install(t, writeBuild(t, v1), target, ModeSkip)
	for _, f := range files {
		writeTarget(t, target, f, "mine\n")
	}

	resolver := &scriptedResolver{answers: []Choice{ChoiceDiff, ChoiceUpdate, ChoiceSkip, ChoiceUpdateAll}}
	s := install(t, writeBuild(t, v2), target, ModeInteractive, func(o *Options) { o.Resolver = resolver })

	assert.Equal(t, []string{"commands/qa/a.md", "commands/qa/a.md", "commands/qa/b.md", "commands/qa/c.md"}, resolver.asked)
	require.Len(t, resolver.diffs, 1)
	assert.Contains(t, resolver.diffs[0], "-mine")
	assert.Contains(t, resolver.diffs[0], "+v2")

	assert.Equal(t, [4]int{0, 3, 0, 1}, counts(s))
	assert.Equal(t, "v2\n", readTarget(t, target, "commands/qa/a.md"))
	assert.Equal(t, "mine\n", readTarget(t, target, "commands/qa/b.md"))
	assert.Equal(t, "v2\n", readTarget(t, target, "commands/qa/d.md"), "update-all applies to later conflicts")
	assert.Equal(t, ActionSkip, s.Conflicts[1].Resolution)
}

func TestInstallInteractiveRequiresResolver(t *testing.T) {
	_, err := Install(context.Background(), Options{BuildDir: t.TempDir(), TargetDir: t.TempDir(), Mode: ModeInteractive})
	require.Error(t, err)
}

func TestInstallSelection(t *testing.T) {
	b := writeBuild(t, map[string]string{
		"commands/qa/review.md":   "review\n",
		"commands/docs/review.md": "docs\n",
	})
	sel, err := build.ParseSelection("qa/*")
	require.NoError(t, err)
	target := t.TempDir()

	s := install(t, b, target, ModeSkip, func(o *Options) { o.Selection = sel })
	assert.Equal(t, 1, s.Created)
	assert.NoFileExists(t, filepath.Join(target, "commands", "docs", "review.md"))
}

func TestInstallRejectsTamperedBuild(t *testing.T) {
	b := writeBuild(t, map[string]string{"commands/qa/review.md": "review\n"})
	require.NoError(t, os.WriteFile(filepath.Join(b, "commands", "qa", "review.md"), []byte("edited\n"), 0o644))
	target := t.TempDir()

	_, err := Install(context.Background(), Options{BuildDir: b, TargetDir: target})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match its manifest hash")
	assert.NoFileExists(t, filepath.Join(target, "commands", "qa", "review.md"))
}

func TestBuildThenInstall(t *testing.T) {
	f := primitivetest.New(t)
	f.Add(primitivetest.Spec{Ref: "command/qa/review"})
	f.Add(primitivetest.Spec{
		Ref:        "hook/security/bash-guard",
		Middleware: primitivetest.Middleware(primitive.EventPreToolUse, "Bash", "check_bash"),
		Validators: map[string]string{"check_bash.py": "import sys\n"},
	})
	cfg := config.Default(f.Repo)

	built, err := build.Build(context.Background(), build.Options{Provider: "claude", Config: cfg})
	require.NoError(t, err)

	target := filepath.Join(f.Repo, ".claude")
	first := install(t, built.OutputDir, target, ModeSkip)
	assert.Equal(t, built.Files, first.Created)

	info, err := os.Stat(filepath.Join(target, "hooks", "bash-guard", "pre_tool_use.sh"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode().Perm()&0o100, "entry point stays executable")

	second := install(t, built.OutputDir, target, ModeSkip)
	assert.Equal(t, [4]int{0, 0, built.Files, 0}, counts(second))
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	h, err := OpenHistory(ctx, filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer h.Close()

	b := writeBuild(t, map[string]string{"commands/qa/review.md": "review\n"})
	target := t.TempDir()
	s := install(t, b, target, ModeSkip, func(o *Options) { o.History = h })
	install(t, b, target, ModeDryRun, func(o *Options) { o.History = h })

	runs, err := h.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1, "dry runs are not recorded")
	assert.Equal(t, s.RunID, runs[0].ID)
	assert.Equal(t, "claude", runs[0].Provider)
	assert.Equal(t, 1, runs[0].Created)
	assert.Equal(t, string(ModeSkip), runs[0].Mode)

	actions, err := h.Actions(ctx, s.RunID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "commands/qa/review.md", actions[0].Path)
	assert.Equal(t, string(ActionCreate), actions[0].Action)
}

func TestTargetDir(t *testing.T) {
	repo := t.TempDir()
	cfg := config.Default(repo)
	p := &providers.Provider{Name: "claude", ProjectDir: ".claude", GlobalDir: "/opt/claude"}

	dir, err := TargetDir(p, ScopeProject, cfg)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(repo, ".claude"), dir)

	dir, err = TargetDir(p, ScopeGlobal, cfg)
	require.NoError(t, err)
	assert.Equal(t, "/opt/claude", dir)

	cfg.Providers = map[string]config.ProviderDirs{"claude": {ProjectDir: "agents-out"}}
	dir, err = TargetDir(p, ScopeProject, cfg)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(repo, "agents-out"), dir)

	_, err = ParseScope("team")
	assert.Error(t, err)
}
