package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jingkaihe/primforge/pkg/config"
	"github.com/jingkaihe/primforge/pkg/presenter"
	"github.com/jingkaihe/primforge/pkg/primitive"
	"github.com/jingkaihe/primforge/pkg/versions"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Manage the version lifecycle of a primitive",
	Long: `Move primitive versions through draft -> active -> deprecated -> archived.

A primitive is named by its directory or by its kind/category/id reference.

Examples:
  primforge version list command/qa/review
  primforge version bump primitives/v1/commands/qa/review
  primforge version rehash command/qa/review 2
  primforge version promote command/qa/review 2
  primforge version deprecate command/qa/review 1`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

// versionAction is a lifecycle operation taking an explicit version number
type versionAction func(m *versions.Manager, ctx context.Context, dir string, version int) (*primitive.VersionEntry, error)

func newTransitionCmd(use, short, verb string, action versionAction) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <primitive> <version>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: traced(func(cmd *cobra.Command, args []string) error {
			return runTransition(cmd.Context(), presenter.Default(), projectFrom(cmd), args[0], args[1], verb, action)
		}),
	}
}

var versionListCmd = &cobra.Command{
	Use:   "list <primitive>",
	Short: "List the versions of a primitive",
	Args:  cobra.ExactArgs(1),
	RunE: traced(func(cmd *cobra.Command, args []string) error {
		return runVersionList(cmd.Context(), presenter.Default(), projectFrom(cmd), args[0])
	}),
}

var versionBumpCmd = &cobra.Command{
	Use:   "bump <primitive>",
	Short: "Copy the newest version into a new draft",
	Args:  cobra.ExactArgs(1),
	RunE: traced(func(cmd *cobra.Command, args []string) error {
		return runVersionBump(cmd.Context(), presenter.Default(), projectFrom(cmd), args[0])
	}),
}

var versionDefaultCmd = &cobra.Command{
	Use:   "default <primitive> <version>",
	Short: "Set default_version (0 clears it)",
	Args:  cobra.ExactArgs(2),
	RunE: traced(func(cmd *cobra.Command, args []string) error {
		return runVersionDefault(cmd.Context(), presenter.Default(), projectFrom(cmd), args[0], args[1])
	}),
}

func init() {
	versionCmd.AddCommand(versionListCmd)
	versionCmd.AddCommand(versionBumpCmd)
	versionCmd.AddCommand(newTransitionCmd("promote", "Promote a draft to active", "promoted", (*versions.Manager).Promote))
	versionCmd.AddCommand(newTransitionCmd("deprecate", "Deprecate an active version", "deprecated", (*versions.Manager).Deprecate))
	versionCmd.AddCommand(newTransitionCmd("archive", "Archive a deprecated version or abandon a draft", "archived", (*versions.Manager).Archive))
	versionCmd.AddCommand(newTransitionCmd("rehash", "Record the current content hash of an edited draft", "rehashed", (*versions.Manager).Rehash))
	versionCmd.AddCommand(versionDefaultCmd)
	rootCmd.AddCommand(versionCmd)
}

// primitiveDir accepts a primitive directory or a kind/category/id reference
func primitiveDir(cfg *config.Project, arg string) (string, error) {
	if info, err := os.Stat(arg); err == nil && info.IsDir() {
		return arg, nil
	}
	ref, err := primitive.ParseRef(strings.Trim(arg, "/"))
	if err != nil {
		return "", errors.Errorf("%s is neither a primitive directory nor a kind/category/id reference", arg)
	}
	dir := primitive.Dir(cfg.SpecRootDir(), ref)
	if _, err := os.Stat(dir); err != nil {
		return "", errors.Errorf("primitive %s not found under %s", ref, cfg.SpecRootDir())
	}
	return dir, nil
}

func parseVersion(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(s, "v"))
	if err != nil || n < 0 {
		return 0, errors.Errorf("invalid version %q", s)
	}
	return n, nil
}

func runVersionList(ctx context.Context, out presenter.Presenter, cfg *config.Project, arg string) error {
	dir, err := primitiveDir(cfg, arg)
	if err != nil {
		return err
	}
	entries, err := versions.NewManager().List(ctx, dir)
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		def := ""
		if e.Default {
			def = "*"
		}
		hash := primitive.ShortHash(e.Hash)
		switch {
		case !e.HasContent:
			hash += " (content missing)"
		case !e.HashOK:
			hash += " (modified)"
		}
		rows = append(rows, []string{"v" + strconv.Itoa(e.Version), string(e.Status), def, hash, e.Created, e.Notes})
	}
	out.Table([]string{"VERSION", "STATUS", "DEFAULT", "HASH", "CREATED", "NOTES"}, rows)
	return nil
}

func runVersionBump(ctx context.Context, out presenter.Presenter, cfg *config.Project, arg string) error {
	dir, err := primitiveDir(cfg, arg)
	if err != nil {
		return err
	}
	entry, err := versions.NewManager().Bump(ctx, dir)
	if err != nil {
		return err
	}
	out.Success(fmt.Sprintf("created draft v%d (%s)", entry.Version, entry.Notes))
	out.Info(fmt.Sprintf("edit the draft, then run: primforge version rehash %s %d", arg, entry.Version))
	return nil
}

func runTransition(ctx context.Context, out presenter.Presenter, cfg *config.Project, arg, version, verb string, action versionAction) error {
	dir, err := primitiveDir(cfg, arg)
	if err != nil {
		return err
	}
	n, err := parseVersion(version)
	if err != nil {
		return err
	}
	entry, err := action(versions.NewManager(), ctx, dir, n)
	if err != nil {
		return err
	}
	out.Success(fmt.Sprintf("%s v%d (%s, %s)", verb, entry.Version, entry.Status, primitive.ShortHash(entry.Hash)))
	return nil
}

func runVersionDefault(ctx context.Context, out presenter.Presenter, cfg *config.Project, arg, version string) error {
	dir, err := primitiveDir(cfg, arg)
	if err != nil {
		return err
	}
	n, err := parseVersion(version)
	if err != nil {
		return err
	}
	if err := versions.NewManager().SetDefault(ctx, dir, n); err != nil {
		return err
	}
	if n == 0 {
		out.Success("cleared default_version")
		return nil
	}
	out.Success(fmt.Sprintf("default_version set to v%d", n))
	return nil
}
