package claude

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/jingkaihe/primforge/pkg/primitive"
	"github.com/jingkaihe/primforge/pkg/providers"
	"github.com/jingkaihe/primforge/pkg/schema"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/pkg/errors"
)

type toolRenderer struct{}

func (toolRenderer) Name() string { return Name + "/tool" }

func (toolRenderer) Plan(p *primitive.Resolved) ([]string, error) {
	if p.Tool == nil {
		return nil, missingToolSpec(p)
	}
	base := toolDir(p)
	paths := []string{path.Join(base, primitive.ReadmeFile), path.Join(base, "schema.json")}
	if p.Tool.Adapter.MCP {
		paths = append(paths, path.Join(base, "tool.json"))
	}
	return append(paths, providers.AssetPaths(base, p.Assets)...), nil
}

func (toolRenderer) Render(p *primitive.Resolved) (*providers.Output, error) {
	if p.Tool == nil {
		return nil, missingToolSpec(p)
	}
	base := toolDir(p)

	readme, err := execute(toolReadmeTemplate, readmeData{
		Ref:        p.Ref.String(),
		Version:    p.Version.Version,
		Tool:       p.Tool,
		Entrypoint: path.Join(primitive.ImplDir, p.Tool.Adapter.Entrypoint),
		Safety:     safetyLines(p.Tool.Safety),
		Body:       strings.TrimSpace(p.Body),
	})
	if err != nil {
		return nil, err
	}

	params := schema.ToolParameters(p.Tool.Parameters)
	schemaJSON, err := schema.Marshal(params)
	if err != nil {
		return nil, err
	}

	files := []providers.File{
		{Path: path.Join(base, primitive.ReadmeFile), Content: readme, Mode: 0o644},
		{Path: path.Join(base, "schema.json"), Content: schemaJSON, Mode: 0o644},
	}

	if p.Tool.Adapter.MCP {
		def, err := mcpDefinition(p.Tool, schemaJSON)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to build MCP definition for %s", p.Ref)
		}
		files = append(files, providers.File{Path: path.Join(base, "tool.json"), Content: def, Mode: 0o644})
	}

	files = append(files, providers.AssetFiles(base, p.Assets)...)
	return &providers.Output{Files: files}, nil
}

type readmeData struct {
	Ref        string
	Version    int
	Tool       *primitive.ToolSpec
	Entrypoint string
	Safety     []string
	Body       string
}

// mcpDefinition renders the tool as an MCP tools/list entry
func mcpDefinition(spec *primitive.ToolSpec, schemaJSON []byte) ([]byte, error) {
	safety := spec.Safety
	if safety == nil {
		safety = &primitive.SafetyConfig{}
	}

	tool := mcp.NewTool(spec.Name,
		mcp.WithDescription(spec.Description),
		mcp.WithReadOnlyHintAnnotation(safety.ReadOnly),
		mcp.WithDestructiveHintAnnotation(safety.Destructive),
		mcp.WithOpenWorldHintAnnotation(safety.Network),
	)

	var input mcp.ToolInputSchema
	if err := json.Unmarshal(schemaJSON, &input); err != nil {
		return nil, errors.Wrap(err, "failed to convert parameter schema")
	}
	tool.InputSchema = input

	data, err := json.MarshalIndent(tool, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode tool definition")
	}
	return append(data, '\n'), nil
}

func safetyLines(s *primitive.SafetyConfig) []string {
	if s == nil {
		return nil
	}
	var lines []string
	if s.TimeoutSeconds > 0 {
		lines = append(lines, fmt.Sprintf("Timeout: %ds", s.TimeoutSeconds))
	}
	if s.MaxOutputBytes > 0 {
		lines = append(lines, fmt.Sprintf("Max output: %d bytes", s.MaxOutputBytes))
	}
	return append(lines,
		fmt.Sprintf("Read only: %t", s.ReadOnly),
		fmt.Sprintf("Network: %t", s.Network),
		fmt.Sprintf("Destructive: %t", s.Destructive),
	)
}

func toolDir(p *primitive.Resolved) string {
	return path.Join("tools", p.Ref.Category, p.Ref.ID)
}

func missingToolSpec(p *primitive.Resolved) error {
	return &providers.TransformError{Provider: Name, Kind: p.Ref.Kind, Ref: p.Ref.String(), Reason: "tool specification not loaded"}
}
