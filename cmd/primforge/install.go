package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/jingkaihe/primforge/pkg/build"
	"github.com/jingkaihe/primforge/pkg/config"
	"github.com/jingkaihe/primforge/pkg/install"
	"github.com/jingkaihe/primforge/pkg/logger"
	"github.com/jingkaihe/primforge/pkg/manifest"
	"github.com/jingkaihe/primforge/pkg/presenter"
	"github.com/jingkaihe/primforge/pkg/providers/claude"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// InstallConfig holds the flags of the install command
type InstallConfig struct {
	Provider    string
	Only        string
	Target      string
	From        string
	Global      bool
	DryRun      bool
	Force       bool
	Interactive bool
	// Backup and Strict are nil when the flag was not given and the project
	// configuration decides
	Backup *bool
	Strict *bool
}

// NewInstallConfig returns the install defaults
func NewInstallConfig() *InstallConfig {
	return &InstallConfig{}
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install a build into the provider's directory",
	Long: `Sync the last build of a provider into its project (.claude, .kodelet) or
global (~/.claude, ~/.kodelet) directory.

Every file is compared with what primforge installed last time and with what
is on disk. Files you edited locally are reported as conflicts and skipped
unless --force or --interactive is given.

Examples:
  primforge install --provider claude
  primforge install --provider claude --dry-run
  primforge install --provider kodelet --global --interactive
  primforge install --provider claude --only "qa/*" --force --backup=false`,
	Args: cobra.NoArgs,
	RunE: traced(func(cmd *cobra.Command, _ []string) error {
		return runInstall(cmd.Context(), presenter.Default(), projectFrom(cmd), getInstallConfigFromFlags(cmd))
	}),
}

func init() {
	defaults := NewInstallConfig()
	flags := installCmd.Flags()
	flags.StringP("provider", "p", defaults.Provider, "Provider whose build to install (claude, kodelet)")
	flags.String("only", defaults.Only, "Comma-separated selection patterns limiting which files are installed")
	flags.String("target", defaults.Target, "Install into this directory instead of the provider's default")
	flags.String("from", defaults.From, "Build output directory (default <build_dir>/<provider>)")
	flags.BoolP("global", "g", defaults.Global, "Install into the provider's global directory")
	flags.Bool("dry-run", defaults.DryRun, "Report what would change without writing anything")
	flags.Bool("force", defaults.Force, "Overwrite conflicting files")
	flags.BoolP("interactive", "i", defaults.Interactive, "Ask what to do with each conflicting file")
	flags.Bool("backup", true, "Back up files before overwriting them (default from install.backup)")
	flags.Bool("strict", false, "Exit non-zero when any conflict was skipped (default from install.strict)")
	installCmd.MarkFlagRequired("provider")
	installCmd.MarkFlagsMutuallyExclusive("dry-run", "force", "interactive")
	installCmd.MarkFlagsMutuallyExclusive("global", "target")
	rootCmd.AddCommand(installCmd)
}

func getInstallConfigFromFlags(cmd *cobra.Command) *InstallConfig {
	c := NewInstallConfig()
	flags := cmd.Flags()
	c.Provider, _ = flags.GetString("provider")
	c.Only, _ = flags.GetString("only")
	c.Target, _ = flags.GetString("target")
	c.From, _ = flags.GetString("from")
	c.Global, _ = flags.GetBool("global")
	c.DryRun, _ = flags.GetBool("dry-run")
	c.Force, _ = flags.GetBool("force")
	c.Interactive, _ = flags.GetBool("interactive")
	if flags.Changed("backup") {
		backup, _ := flags.GetBool("backup")
		c.Backup = &backup
	}
	if flags.Changed("strict") {
		strict, _ := flags.GetBool("strict")
		c.Strict = &strict
	}
	return c
}

func (c *InstallConfig) mode() install.Mode {
	switch {
	case c.DryRun:
		return install.ModeDryRun
	case c.Force:
		return install.ModeForce
	case c.Interactive:
		return install.ModeInteractive
	default:
		return install.ModeSkip
	}
}

func runInstall(ctx context.Context, out presenter.Presenter, cfg *config.Project, c *InstallConfig) error {
	prov, err := build.DefaultRegistry().Provider(c.Provider)
	if err != nil {
		return err
	}
	selection, err := build.ParseSelection(c.Only)
	if err != nil {
		return err
	}

	buildDir := cfg.BuildDirFor(prov.Name)
	if c.From != "" {
		if buildDir, err = filepath.Abs(c.From); err != nil {
			return errors.Wrap(err, "failed to resolve build directory")
		}
	}
	m, err := manifest.Load(buildDir)
	if err != nil {
		return err
	}
	if m.Provider != prov.Name {
		return errors.Errorf("%s holds a %s build, not %s", buildDir, m.Provider, prov.Name)
	}

	scope := install.ScopeProject
	if c.Global {
		scope = install.ScopeGlobal
	}
	target := c.Target
	if target != "" {
		if target, err = filepath.Abs(target); err != nil {
			return errors.Wrap(err, "failed to resolve target directory")
		}
	} else if target, err = install.TargetDir(prov, scope, cfg); err != nil {
		return err
	}

	opts := install.Options{
		BuildDir:  buildDir,
		TargetDir: target,
		Scope:     scope,
		Mode:      c.mode(),
		Selection: selection,
		Backup:    cfg.Install.Backup,
		Resolver:  &promptResolver{out: out},
	}
	if c.Backup != nil {
		opts.Backup = *c.Backup
	}
	strict := cfg.Install.Strict
	if c.Strict != nil {
		strict = *c.Strict
	}

	if cfg.History.Enabled && opts.Mode != install.ModeDryRun {
		history, err := install.OpenHistory(ctx, cfg.HistoryPath())
		if err != nil {
			logger.G(ctx).WithError(err).Warn("install history disabled for this run")
		} else {
			defer history.Close()
			opts.History = history
		}
	}

	if path, ok := projectRelativeHooks(prov.Name, scope, m, selection); ok {
		out.Warning(fmt.Sprintf("%s runs hooks from \"$CLAUDE_PROJECT_DIR\"/.claude; the scripts installed under %s will not be found from a global install", path, target))
	}

	summary, err := install.Install(ctx, opts)
	if err != nil {
		return err
	}

	printInstall(out, summary)
	if skipped := countSkipped(summary); strict && skipped > 0 {
		out.Error(errors.Errorf("%d conflicting file(s) were not installed", skipped), "strict")
		return errReported
	}
	return nil
}

// projectRelativeHooks reports the claude settings file when a global install
// would carry hook commands rooted in the project directory
func projectRelativeHooks(provider string, scope install.Scope, m *manifest.Manifest, selection build.Selection) (string, bool) {
	if provider != claude.Name || scope != install.ScopeGlobal {
		return "", false
	}
	entry, ok := m.Entries[claude.SettingsFile]
	if !ok || !selection.MatchesPath(entry.Primitive, entry.Sources) {
		return "", false
	}
	return claude.SettingsFile, true
}

func countSkipped(s *install.Summary) int {
	n := 0
	for _, c := range s.Conflicts {
		if c.Resolution == install.ActionSkip {
			n++
		}
	}
	return n
}

func printInstall(out presenter.Presenter, s *install.Summary) {
	var rows [][]string
	for _, a := range s.Actions {
		if a.Action == install.ActionUnchanged && a.Reason == "" {
			continue
		}
		version := ""
		if a.Version > 0 {
			version = "v" + strconv.Itoa(a.Version)
		}
		rows = append(rows, []string{string(a.Action), a.Path, a.Primitive, version, a.Reason})
	}
	if len(rows) > 0 {
		title := "Changes"
		if s.Mode == install.ModeDryRun {
			title = "Planned changes (dry run)"
		}
		out.Section(title)
		out.Table([]string{"ACTION", "PATH", "PRIMITIVE", "VERSION", "NOTE"}, rows)
	}

	for _, c := range s.Conflicts {
		if c.Resolution == install.ActionSkip {
			out.Warning(c.Error() + "; skipped")
		}
	}

	verb := "installed"
	if s.Mode == install.ModeDryRun {
		verb = "would install"
	}
	out.Success(fmt.Sprintf("%s %s build into %s: %d created, %d updated, %d unchanged, %d skipped",
		verb, s.Provider, s.TargetDir, s.Created, s.Updated, s.Unchanged, s.Skipped))
}

// promptResolver asks on the terminal what to do with each conflict
type promptResolver struct {
	out presenter.Presenter
}

func (r *promptResolver) Resolve(ctx context.Context, c *install.Conflict) (install.Choice, error) {
	r.out.Warning(c.Error())
	for {
		if err := ctx.Err(); err != nil {
			return install.ChoiceSkip, err
		}
		switch r.out.Prompt("Overwrite "+c.Path+"? (u)pdate, (s)kip, (d)iff, (U)pdate all, (S)kip all", "u", "s", "d", "U", "S") {
		case "u", "update":
			return install.ChoiceUpdate, nil
		case "s", "skip", "":
			return install.ChoiceSkip, nil
		case "d", "diff":
			return install.ChoiceDiff, nil
		case "U", "update-all":
			return install.ChoiceUpdateAll, nil
		case "S", "skip-all":
			return install.ChoiceSkipAll, nil
		}
		r.out.Info("please answer u, s, d, U or S")
	}
}

func (r *promptResolver) ShowDiff(_ *install.Conflict, diff string) {
	r.out.Diff(diff)
}
