// Package kodelet renders primitives for the kodelet agent runtime. Agents,
// recipes and skills become markdown documents; hooks become standalone
// executables that answer the "hook" and "run" protocol.
package kodelet

import (
	"embed"
	"fmt"
	"path"
	"strings"
	"text/template"

	"github.com/jingkaihe/primforge/pkg/primitive"
	"github.com/jingkaihe/primforge/pkg/providers"
	"github.com/pkg/errors"
)

//go:embed templates/*
var templateFS embed.FS

var templates = template.Must(template.New("kodelet").ParseFS(templateFS, "templates/*.tmpl"))

// Name is the provider name used on the command line and in manifests
const Name = "kodelet"

// HookTypes maps neutral hook events to kodelet hook types. Events missing
// here cannot be rendered.
var HookTypes = map[primitive.Event]string{
	primitive.EventPreToolUse:       "before_tool_call",
	primitive.EventPostToolUse:      "after_tool_call",
	primitive.EventUserPromptSubmit: "user_message_send",
	primitive.EventStop:             "agent_stop",
}

// blocking hook types may veto the action with {"blocked": true}
var blocking = map[string]bool{
	"before_tool_call":  true,
	"user_message_send": true,
}

// Provider describes the kodelet target
func Provider() *providers.Provider {
	return &providers.Provider{
		Name:       Name,
		ProjectDir: ".kodelet",
		GlobalDir:  "~/.kodelet",
	}
}

// Register adds the kodelet provider and its renderers to r. Tools have no
// kodelet equivalent and are left unregistered.
func Register(r *providers.Registry) {
	r.AddProvider(Provider())
	r.Register(Name, primitive.KindAgent, markdownRenderer{kind: "agent", path: agentPath})
	r.Register(Name, primitive.KindCommand, markdownRenderer{kind: "recipe", path: recipePath})
	r.Register(Name, primitive.KindSkill, markdownRenderer{kind: "skill", path: skillPath})
	r.Register(Name, primitive.KindHook, hookRenderer{})
}

// ToolName maps a tool primitive's name to the name kodelet exposes MCP tools under
func ToolName(name string) string {
	return "mcp_" + name
}

type markdownRenderer struct {
	kind string
	path func(p *primitive.Resolved) string
}

func (r markdownRenderer) Name() string { return Name + "/" + r.kind }

func (r markdownRenderer) Plan(p *primitive.Resolved) ([]string, error) {
	return []string{r.path(p)}, nil
}

func (r markdownRenderer) Render(p *primitive.Resolved) (*providers.Output, error) {
	fields := []providers.Field{
		{Key: "name", Value: p.Ref.ID},
		{Key: "description", Value: p.Description()},
	}
	if p.Ref.Kind == primitive.KindAgent && p.Meta.Model != "inherit" {
		fields = append(fields, providers.Field{Key: "model", Value: p.Meta.Model})
	}
	fields = append(fields, providers.Field{Key: "allowed_tools", Value: providers.ToolList(p, ToolName)})

	content, err := providers.Document(fields, p.Body)
	if err != nil {
		return nil, err
	}
	return &providers.Output{Files: []providers.File{{Path: r.path(p), Content: content, Mode: 0o644}}}, nil
}

func agentPath(p *primitive.Resolved) string {
	return path.Join("agents", p.Ref.ID+".md")
}

func recipePath(p *primitive.Resolved) string {
	return path.Join("recipes", p.Ref.Category, p.Ref.ID+".md")
}

func skillPath(p *primitive.Resolved) string {
	return path.Join("skills", p.Ref.ID, "SKILL.md")
}

type hookRenderer struct{}

func (hookRenderer) Name() string { return Name + "/hook" }

func (hookRenderer) Plan(p *primitive.Resolved) ([]string, error) {
	bindings, err := hookBindings(p)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, b := range bindings {
		paths = append(paths, b.file)
	}
	return append(paths, providers.AssetPaths(hookDir(p), p.Assets)...), nil
}

func (hookRenderer) Render(p *primitive.Resolved) (*providers.Output, error) {
	bindings, err := hookBindings(p)
	if err != nil {
		return nil, err
	}

	out := &providers.Output{}
	for _, b := range bindings {
		validators, err := providers.ValidatorCalls(Name, p, b.Validators)
		if err != nil {
			return nil, err
		}

		var buf strings.Builder
		err = templates.ExecuteTemplate(&buf, "hook.sh.tmpl", hookData{
			Ref:        p.Ref.String(),
			Version:    p.Version.Version,
			ID:         p.Ref.ID,
			HookType:   b.hookType,
			Matcher:    b.Matcher,
			Blocking:   blocking[b.hookType],
			Validators: validators,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "failed to render hook %s", b.file)
		}
		out.Files = append(out.Files, providers.File{Path: b.file, Content: []byte(buf.String()), Mode: 0o755})
	}

	out.Files = append(out.Files, providers.AssetFiles(hookDir(p), p.Assets)...)
	return out, nil
}

type hookData struct {
	Ref        string
	Version    int
	ID         string
	HookType   string
	Matcher    string
	Blocking   bool
	Validators []providers.ValidatorCall
}

type binding struct {
	primitive.EventBinding
	hookType string
	file     string
}

// hookBindings names one executable per binding directly under hooks/, which
// is the only level kodelet scans. Validators live in hooks/<id>/.
func hookBindings(p *primitive.Resolved) ([]binding, error) {
	if p.Meta.Middleware == nil {
		return nil, &providers.TransformError{Provider: Name, Kind: p.Ref.Kind, Ref: p.Ref.String(), Reason: "hook has no middleware"}
	}

	seen := make(map[primitive.Event]int)
	var out []binding
	for _, b := range p.Meta.Middleware.Events {
		hookType, ok := HookTypes[b.Event]
		if !ok {
			return nil, &providers.TransformError{
				Provider: Name, Kind: p.Ref.Kind, Ref: p.Ref.String(),
				Reason: fmt.Sprintf("event %q has no kodelet hook type", b.Event),
			}
		}
		seen[b.Event]++
		name := p.Ref.ID + "-" + string(b.Event)
		if n := seen[b.Event]; n > 1 {
			name = fmt.Sprintf("%s-%d", name, n)
		}
		out = append(out, binding{EventBinding: b, hookType: hookType, file: path.Join("hooks", name)})
	}
	return out, nil
}

func hookDir(p *primitive.Resolved) string {
	return path.Join("hooks", p.Ref.ID)
}
