package main

import (
	"context"

	"github.com/jingkaihe/primforge/pkg/telemetry"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel/attribute"
)

type runE func(cmd *cobra.Command, args []string) error

// traced runs a command inside a cli.command span carrying its path and the
// flags the user set
func traced(fn runE) runE {
	return func(cmd *cobra.Command, args []string) error {
		attrs := []attribute.KeyValue{
			attribute.String("command.name", cmd.Name()),
			attribute.String("command.path", cmd.CommandPath()),
			attribute.Int("args.count", len(args)),
		}
		cmd.Flags().Visit(func(flag *pflag.Flag) {
			attrs = append(attrs, attribute.String("flag."+flag.Name, flag.Value.String()))
		})

		return telemetry.WithSpan(cmd.Context(), "cli.command", func(ctx context.Context) error {
			cmd.SetContext(ctx)
			return fn(cmd, args)
		}, attrs...)
	}
}
