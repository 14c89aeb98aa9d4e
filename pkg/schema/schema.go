// Package schema publishes the JSON Schema documents primitive metadata and
// tool specifications are checked against, keyed by spec version.
package schema

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/invopop/jsonschema"
	"github.com/jingkaihe/primforge/pkg/primitive"
	"github.com/pkg/errors"
)

// BaseID prefixes the $id of every published schema
const BaseID = "https://primforge.dev/schemas"

var supported = map[string]bool{
	"v1": true,
}

// Supported reports whether a spec version has published schemas
func Supported(specVersion string) bool {
	return supported[specVersion]
}

// SupportedVersions lists every published spec version
func SupportedVersions() []string {
	out := make([]string, 0, len(supported))
	for v := range supported {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

var commonFields = []string{
	"spec_version", "id", "kind", "category", "domain", "summary",
	"tags", "default_version", "versions",
}

var kindFields = map[primitive.Kind][]string{
	primitive.KindAgent:   {"model", "tools", "skills"},
	primitive.KindCommand: {"tools"},
	primitive.KindSkill:   {"tools"},
	primitive.KindTool:    {},
	primitive.KindHook:    {"middleware", "safety"},
}

var kindRequired = map[primitive.Kind][]string{
	primitive.KindHook: {"middleware"},
}

// AllowedFields returns the metadata keys a kind may use
func AllowedFields(kind primitive.Kind) map[string]bool {
	out := make(map[string]bool)
	for _, f := range commonFields {
		out[f] = true
	}
	for _, f := range kindFields[kind] {
		out[f] = true
	}
	return out
}

// RequiredFields returns the kind-specific keys a kind must set beyond the common ones
func RequiredFields(kind primitive.Kind) []string {
	return kindRequired[kind]
}

func reflector() *jsonschema.Reflector {
	return &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
}

// ForKind returns the metadata schema of a kind
func ForKind(specVersion string, kind primitive.Kind) (*jsonschema.Schema, error) {
	if !Supported(specVersion) {
		return nil, errors.Errorf("no published schema for spec version %q", specVersion)
	}
	if !kind.Valid() {
		return nil, errors.Errorf("unknown kind %q", kind)
	}

	s := reflector().Reflect(&primitive.Metadata{})
	s.ID = jsonschema.ID(fmt.Sprintf("%s/%s/%s.json", BaseID, specVersion, kind))
	s.Title = fmt.Sprintf("%s metadata (%s)", kind, specVersion)

	allowed := AllowedFields(kind)
	var drop []string
	for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
		if !allowed[pair.Key] {
			drop = append(drop, pair.Key)
		}
	}
	for _, key := range drop {
		s.Properties.Delete(key)
	}

	if kindProp, ok := s.Properties.Get("kind"); ok {
		kindProp.Enum = []any{string(kind)}
	}
	s.Required = append(s.Required, RequiredFields(kind)...)

	return s, nil
}

// ForToolSpec returns the schema of tool.yaml
func ForToolSpec(specVersion string) (*jsonschema.Schema, error) {
	if !Supported(specVersion) {
		return nil, errors.Errorf("no published schema for spec version %q", specVersion)
	}
	s := reflector().Reflect(&primitive.ToolSpec{})
	s.ID = jsonschema.ID(fmt.Sprintf("%s/%s/tool-spec.json", BaseID, specVersion))
	s.Title = fmt.Sprintf("tool specification (%s)", specVersion)
	return s, nil
}

// ToolParameters builds the JSON Schema of a tool's input object. Property
// order follows the declaration order in tool.yaml.
func ToolParameters(args []primitive.ToolArg) *jsonschema.Schema {
	props := jsonschema.NewProperties()
	var required []string

	for _, arg := range args {
		prop := &jsonschema.Schema{
			Type:        arg.Type,
			Description: arg.Description,
			Default:     arg.Default,
			Enum:        arg.Enum,
		}
		props.Set(arg.Name, prop)
		if arg.Required {
			required = append(required, arg.Name)
		}
	}

	return &jsonschema.Schema{
		Type:                 "object",
		Properties:           props,
		Required:             required,
		AdditionalProperties: jsonschema.FalseSchema,
	}
}

// Marshal encodes a schema as indented JSON with a trailing newline
func Marshal(s *jsonschema.Schema) ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode schema")
	}
	return append(data, '\n'), nil
}
