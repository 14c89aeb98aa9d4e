// Package claude renders primitives into the Claude Code directory layout:
// markdown agents, commands and skills, tool bundles with JSON schemas, and
// hook entry points registered through settings.json.
package claude

import (
	"embed"
	"strings"
	"text/template"

	"github.com/jingkaihe/primforge/pkg/primitive"
	"github.com/jingkaihe/primforge/pkg/providers"
	"github.com/pkg/errors"
)

//go:embed templates/*
var templateFS embed.FS

const (
	// Name is the provider name used on the command line and in manifests
	Name = "claude"

	// SettingsFile is the central document hook fragments are merged into
	SettingsFile = "settings.json"

	// MCPServer is the server name tool references are exposed under
	MCPServer = "primforge"

	toolReadmeTemplate = "tool_readme.tmpl"
	hookScriptTemplate = "hook.sh.tmpl"
)

var templates = template.Must(template.New("claude").ParseFS(templateFS, "templates/*.tmpl"))

// Provider describes the claude target
func Provider() *providers.Provider {
	return &providers.Provider{
		Name:       Name,
		ProjectDir: ".claude",
		GlobalDir:  "~/.claude",
		Documents:  []string{SettingsFile},
		Assembler:  Name + "/settings",
		Assemble:   assembleSettings,
	}
}

// Register adds the claude provider and one renderer per kind to r
func Register(r *providers.Registry) {
	r.AddProvider(Provider())
	r.Register(Name, primitive.KindAgent, agentRenderer{})
	r.Register(Name, primitive.KindCommand, commandRenderer{})
	r.Register(Name, primitive.KindSkill, skillRenderer{})
	r.Register(Name, primitive.KindTool, toolRenderer{})
	r.Register(Name, primitive.KindHook, hookRenderer{})
}

// ToolName maps a tool primitive's name to the name Claude exposes it under
func ToolName(name string) string {
	return "mcp__" + MCPServer + "__" + name
}

func tools(p *primitive.Resolved) string {
	return strings.Join(providers.ToolList(p, ToolName), ", ")
}

func execute(name string, data any) ([]byte, error) {
	var buf strings.Builder
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, errors.Wrapf(err, "failed to execute template %s", name)
	}
	return []byte(buf.String()), nil
}
