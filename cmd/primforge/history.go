package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/jingkaihe/primforge/pkg/config"
	"github.com/jingkaihe/primforge/pkg/install"
	"github.com/jingkaihe/primforge/pkg/presenter"
	"github.com/spf13/cobra"
)

// HistoryConfig holds the flags of the history command
type HistoryConfig struct {
	Limit int
	Run   string
}

// NewHistoryConfig returns the history defaults
func NewHistoryConfig() *HistoryConfig {
	return &HistoryConfig{Limit: 20}
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent installs",
	Long: `List recent install runs recorded in the history database, newest first.
With --run, list the file actions of one run.`,
	Args: cobra.NoArgs,
	RunE: traced(func(cmd *cobra.Command, _ []string) error {
		return runHistory(cmd.Context(), presenter.Default(), projectFrom(cmd), getHistoryConfigFromFlags(cmd))
	}),
}

func init() {
	defaults := NewHistoryConfig()
	historyCmd.Flags().IntP("limit", "n", defaults.Limit, "Number of runs to show")
	historyCmd.Flags().String("run", defaults.Run, "Show the file actions of this run ID")
	rootCmd.AddCommand(historyCmd)
}

func getHistoryConfigFromFlags(cmd *cobra.Command) *HistoryConfig {
	c := NewHistoryConfig()
	if limit, err := cmd.Flags().GetInt("limit"); err == nil {
		c.Limit = limit
	}
	if run, err := cmd.Flags().GetString("run"); err == nil {
		c.Run = run
	}
	return c
}

func runHistory(ctx context.Context, out presenter.Presenter, cfg *config.Project, c *HistoryConfig) error {
	path := cfg.HistoryPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		out.Info("no installs recorded yet")
		return nil
	}

	history, err := install.OpenHistory(ctx, path)
	if err != nil {
		return err
	}
	defer history.Close()

	if c.Run != "" {
		actions, err := history.Actions(ctx, c.Run)
		if err != nil {
			return err
		}
		if len(actions) == 0 {
			out.Info("no actions recorded for run " + c.Run)
			return nil
		}
		rows := make([][]string, 0, len(actions))
		for _, a := range actions {
			version := ""
			if a.Version > 0 {
				version = "v" + strconv.Itoa(a.Version)
			}
			rows = append(rows, []string{a.Action, a.Path, a.Primitive, version})
		}
		out.Table([]string{"ACTION", "PATH", "PRIMITIVE", "VERSION"}, rows)
		return nil
	}

	runs, err := history.Recent(ctx, c.Limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		out.Info("no installs recorded yet")
		return nil
	}

	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.ID,
			r.StartedAt.Local().Format(time.DateTime),
			r.Provider,
			r.Scope,
			r.Mode,
			strconv.Itoa(r.Created),
			strconv.Itoa(r.Updated),
			strconv.Itoa(r.Unchanged),
			strconv.Itoa(r.Skipped),
			strconv.Itoa(r.Conflicts),
			r.TargetDir,
		})
	}
	out.Table([]string{"RUN", "STARTED", "PROVIDER", "SCOPE", "MODE", "CREATED", "UPDATED", "UNCHANGED", "SKIPPED", "CONFLICTS", "TARGET"}, rows)
	return nil
}
