package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/jingkaihe/primforge/pkg/config"
	"github.com/jingkaihe/primforge/pkg/logger"
	"github.com/jingkaihe/primforge/pkg/presenter"
	"github.com/jingkaihe/primforge/pkg/telemetry"
	"github.com/jingkaihe/primforge/pkg/version"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// errReported is returned by commands that already printed why they failed
var errReported = errors.New("command failed")

type projectKey struct{}

var shutdownTracing telemetry.ShutdownFunc

var rootCmd = &cobra.Command{
	Use:   "primforge",
	Short: "Compile versioned agent primitives into provider-native configuration",
	Long: `primforge validates a repository of versioned agent primitives (agents,
commands, skills, tools and hooks), compiles them into the native layout of an
AI coding assistant, and installs the result without clobbering local edits.`,
	Version:           version.Get().String(),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Path to primforge.yaml (default: ./primforge.yaml)")
	flags.String("log-level", "", "Log level (panic, fatal, error, warn, info, debug, trace)")
	flags.String("log-format", "", "Log format (fmt or json)")
	flags.BoolP("quiet", "q", false, "Only print errors and prompts")
	flags.Bool("tracing-enabled", false, "Export OpenTelemetry traces over OTLP/HTTP")
}

// setup loads the project configuration and configures logging and tracing
// before any subcommand runs
func setup(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadProject(cmd)
	if err != nil {
		return err
	}
	if err := logger.Configure(cfg.LogLevel, cfg.LogFormat); err != nil {
		return errors.Wrapf(err, "invalid log level %q", cfg.LogLevel)
	}
	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		presenter.SetQuiet(true)
	}

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Tracing.Enabled,
		ServiceVersion: version.Get().Version,
		Sampler:        cfg.Tracing.Sampler,
		Ratio:          cfg.Tracing.Ratio,
	})
	if err != nil {
		return errors.Wrap(err, "failed to initialise tracing")
	}
	shutdownTracing = shutdown

	cmd.SetContext(context.WithValue(ctx, projectKey{}, cfg))
	return nil
}

// loadProject reads primforge.yaml from --config or the working directory.
// Relative paths in the file resolve against the directory holding it.
func loadProject(cmd *cobra.Command) (*config.Project, error) {
	repoDir, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get working directory")
	}

	configPath, _ := cmd.Flags().GetString("config")
	if configPath != "" {
		if configPath, err = filepath.Abs(configPath); err != nil {
			return nil, errors.Wrap(err, "failed to resolve config path")
		}
		repoDir = filepath.Dir(configPath)
	}

	v := config.NewViper(repoDir)
	if configPath != "" {
		v.SetConfigFile(configPath)
	}
	flags := cmd.Root().PersistentFlags()
	for key, flag := range map[string]string{
		"log_level":       "log-level",
		"log_format":      "log-format",
		"tracing.enabled": "tracing-enabled",
	} {
		if f := flags.Lookup(flag); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, errors.Wrapf(err, "failed to bind --%s", flag)
			}
		}
	}

	return config.Load(v, repoDir)
}

func projectFrom(cmd *cobra.Command) *config.Project {
	if cfg, ok := cmd.Context().Value(projectKey{}).(*config.Project); ok {
		return cfg
	}
	return config.Default("")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)
	cancel()

	if shutdownTracing != nil {
		if serr := shutdownTracing(context.Background()); serr != nil {
			logger.G(ctx).WithError(serr).Warn("failed to flush traces")
		}
	}

	if err != nil {
		if !errors.Is(err, errReported) {
			presenter.Error(err, "")
		}
		os.Exit(1)
	}
}
