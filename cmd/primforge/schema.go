package main

import (
	"io"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/jingkaihe/primforge/pkg/primitive"
	"github.com/jingkaihe/primforge/pkg/schema"
	"github.com/spf13/cobra"
)

const toolSpecSchema = "tool-spec"

var schemaCmd = &cobra.Command{
	Use:   "schema <kind|tool-spec>",
	Short: "Print the JSON Schema of a metadata document",
	Long: `Print the JSON Schema that meta.yaml of a kind (agent, command, skill, tool,
hook) or tool.yaml (tool-spec) must satisfy.

Examples:
  primforge schema hook
  primforge schema tool-spec --spec-version v1`,
	Args: cobra.ExactArgs(1),
	RunE: traced(func(cmd *cobra.Command, args []string) error {
		specVersion, _ := cmd.Flags().GetString("spec-version")
		if specVersion == "" {
			specVersion = projectFrom(cmd).SpecVersion
		}
		return runSchema(cmd.OutOrStdout(), specVersion, args[0])
	}),
}

func init() {
	schemaCmd.Flags().String("spec-version", "", "Spec version (default from spec_version)")
	rootCmd.AddCommand(schemaCmd)
}

func runSchema(w io.Writer, specVersion, name string) error {
	var (
		s   *jsonschema.Schema
		err error
	)
	if strings.EqualFold(name, toolSpecSchema) {
		s, err = schema.ForToolSpec(specVersion)
	} else {
		var kind primitive.Kind
		if kind, err = primitive.ParseKind(name); err != nil {
			return err
		}
		s, err = schema.ForKind(specVersion, kind)
	}
	if err != nil {
		return err
	}

	data, err := schema.Marshal(s)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
