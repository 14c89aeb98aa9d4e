package main

import (
	"context"
	"fmt"

	"github.com/jingkaihe/primforge/pkg/config"
	"github.com/jingkaihe/primforge/pkg/presenter"
	"github.com/jingkaihe/primforge/pkg/validator"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// ValidateConfig holds the flags of the validate command
type ValidateConfig struct {
	All bool
}

// NewValidateConfig returns the validate defaults
func NewValidateConfig() *ValidateConfig {
	return &ValidateConfig{All: false}
}

var validateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Validate primitive sources",
	Long: `Validate a single primitive directory or the whole spec root.

Validation runs three layers in order (structural, schema, semantic). Every
issue of a failing layer is reported and later layers are skipped.

Examples:
  primforge validate --all
  primforge validate primitives/v1/commands/qa/review`,
	Args: cobra.MaximumNArgs(1),
	RunE: traced(func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		}
		return runValidate(cmd.Context(), presenter.Default(), projectFrom(cmd), path, getValidateConfigFromFlags(cmd))
	}),
}

func init() {
	defaults := NewValidateConfig()
	validateCmd.Flags().Bool("all", defaults.All, "Validate the whole spec root")
	rootCmd.AddCommand(validateCmd)
}

func getValidateConfigFromFlags(cmd *cobra.Command) *ValidateConfig {
	c := NewValidateConfig()
	if all, err := cmd.Flags().GetBool("all"); err == nil {
		c.All = all
	}
	return c
}

func runValidate(ctx context.Context, out presenter.Presenter, cfg *config.Project, path string, c *ValidateConfig) error {
	if c.All && path != "" {
		return errors.New("--all validates the whole spec root and takes no path")
	}
	if path == "" {
		path = cfg.SpecRootDir()
	}

	report, err := validator.ValidatePath(ctx, path, cfg)
	if err != nil {
		return err
	}

	printReport(out, report)
	if report.HasErrors() {
		return errReported
	}
	out.Success(fmt.Sprintf("%d primitive(s) valid", report.Primitives))
	return nil
}

// printReport lists warnings, then errors grouped by file
func printReport(out presenter.Presenter, report *validator.Report) {
	if report == nil {
		return
	}
	for _, w := range report.Warnings {
		out.Warning(w.Error())
	}
	if !report.HasErrors() {
		return
	}

	out.Section(fmt.Sprintf("%d validation error(s) in the %s layer", len(report.Issues), report.Layer))
	byFile := report.ByFile()
	for _, file := range report.Files() {
		name := file
		if name == "" {
			name = "(spec root)"
		}
		out.Info(name)
		for _, issue := range byFile[file] {
			line := fmt.Sprintf("  %s: %s", issue.Code, issue.Message)
			if issue.Ref != "" {
				line += " (" + issue.Ref + ")"
			}
			out.Info(line)
		}
	}
	out.Error(errors.Errorf("validation failed with %d error(s)", len(report.Issues)), "")
}
