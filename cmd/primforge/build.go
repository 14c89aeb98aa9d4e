package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/jingkaihe/primforge/pkg/build"
	"github.com/jingkaihe/primforge/pkg/config"
	"github.com/jingkaihe/primforge/pkg/presenter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// BuildConfig holds the flags of the build command
type BuildConfig struct {
	Provider string
	Only     string
	Out      string
	Clean    bool
	Watch    bool
}

// NewBuildConfig returns the build defaults
func NewBuildConfig() *BuildConfig {
	return &BuildConfig{}
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Compile primitives for a provider",
	Long: `Validate the selected primitives and render them into the provider's native
layout under <build_dir>/<provider>. Nothing is written unless every selected
primitive validates and renders.

Examples:
  primforge build --provider claude
  primforge build --provider claude --only "qa/*,hook/**"
  primforge build --provider kodelet --only "agent/**,command/**" --clean
  primforge build --provider claude --watch`,
	Args: cobra.NoArgs,
	RunE: traced(func(cmd *cobra.Command, _ []string) error {
		return runBuild(cmd.Context(), presenter.Default(), projectFrom(cmd), getBuildConfigFromFlags(cmd))
	}),
}

func init() {
	defaults := NewBuildConfig()
	buildCmd.Flags().StringP("provider", "p", defaults.Provider, "Provider to build for (claude, kodelet)")
	buildCmd.Flags().String("only", defaults.Only, "Comma-separated selection patterns (category/id or kind/category/id, globs allowed)")
	buildCmd.Flags().String("out", defaults.Out, "Output directory (default <build_dir>/<provider>)")
	buildCmd.Flags().Bool("clean", defaults.Clean, "Drop files of the previous build that this build does not produce")
	buildCmd.Flags().BoolP("watch", "w", defaults.Watch, "Rebuild whenever the spec root changes")
	buildCmd.MarkFlagRequired("provider")
	rootCmd.AddCommand(buildCmd)
}

func getBuildConfigFromFlags(cmd *cobra.Command) *BuildConfig {
	c := NewBuildConfig()
	if provider, err := cmd.Flags().GetString("provider"); err == nil {
		c.Provider = provider
	}
	if only, err := cmd.Flags().GetString("only"); err == nil {
		c.Only = only
	}
	if out, err := cmd.Flags().GetString("out"); err == nil {
		c.Out = out
	}
	if clean, err := cmd.Flags().GetBool("clean"); err == nil {
		c.Clean = clean
	}
	if watch, err := cmd.Flags().GetBool("watch"); err == nil {
		c.Watch = watch
	}
	return c
}

func runBuild(ctx context.Context, out presenter.Presenter, cfg *config.Project, c *BuildConfig) error {
	selection, err := build.ParseSelection(c.Only)
	if err != nil {
		return err
	}

	opts := build.Options{
		Provider:  c.Provider,
		Selection: selection,
		Clean:     c.Clean,
		Config:    cfg,
	}
	if c.Out != "" {
		if opts.OutputDir, err = filepath.Abs(c.Out); err != nil {
			return errors.Wrap(err, "failed to resolve output directory")
		}
	}

	once := func(ctx context.Context) error {
		summary, err := build.Build(ctx, opts)
		return reportBuild(out, summary, err)
	}
	if !c.Watch {
		return once(ctx)
	}

	outDir := opts.OutputDir
	if outDir == "" {
		outDir = cfg.BuildDirFor(c.Provider)
	}
	out.Info(fmt.Sprintf("watching %s (ctrl-c to stop)", cfg.SpecRootDir()))
	return build.Watch(ctx, build.WatchOptions{
		Root:   cfg.SpecRootDir(),
		Ignore: []string{outDir},
	}, once)
}

func reportBuild(out presenter.Presenter, summary *build.Summary, err error) error {
	if summary == nil {
		return err
	}

	printReport(out, summary.Report)
	if err != nil {
		if errors.Is(err, build.ErrValidationFailed) {
			return errReported
		}
		if len(summary.Errors) == 0 {
			return err
		}
		for _, e := range summary.Errors {
			out.Error(e, "build")
		}
		return errReported
	}

	for _, s := range summary.Skipped {
		out.Warning(fmt.Sprintf("skipped %s: %s", s.Ref, s.Reason))
	}
	out.Success(fmt.Sprintf("built %d primitive(s) for %s into %s (%d files)",
		len(summary.Primitives), summary.Provider, summary.OutputDir, summary.Files))
	return nil
}
