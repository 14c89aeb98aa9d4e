package claude

import (
	"path"

	"github.com/jingkaihe/primforge/pkg/primitive"
	"github.com/jingkaihe/primforge/pkg/providers"
)

type agentRenderer struct{}

func (agentRenderer) Name() string { return Name + "/agent" }

func (agentRenderer) Plan(p *primitive.Resolved) ([]string, error) {
	return []string{agentPath(p)}, nil
}

func (agentRenderer) Render(p *primitive.Resolved) (*providers.Output, error) {
	content, err := providers.Document([]providers.Field{
		{Key: "name", Value: p.Ref.ID},
		{Key: "description", Value: p.Description()},
		{Key: "tools", Value: tools(p)},
		{Key: "model", Value: p.Meta.Model},
	}, p.Body)
	if err != nil {
		return nil, err
	}
	return &providers.Output{Files: []providers.File{{Path: agentPath(p), Content: content, Mode: 0o644}}}, nil
}

func agentPath(p *primitive.Resolved) string {
	return path.Join("agents", p.Ref.ID+".md")
}

type commandRenderer struct{}

func (commandRenderer) Name() string { return Name + "/command" }

func (commandRenderer) Plan(p *primitive.Resolved) ([]string, error) {
	return []string{commandPath(p)}, nil
}

func (commandRenderer) Render(p *primitive.Resolved) (*providers.Output, error) {
	content, err := providers.Document([]providers.Field{
		{Key: "description", Value: p.Description()},
		{Key: "allowed-tools", Value: tools(p)},
		{Key: "argument-hint", Value: primitive.FrontmatterString(p.Frontmatter, "argument-hint")},
	}, p.Body)
	if err != nil {
		return nil, err
	}
	return &providers.Output{Files: []providers.File{{Path: commandPath(p), Content: content, Mode: 0o644}}}, nil
}

// commandPath nests commands under their category, invoked as /<category>:<id>
func commandPath(p *primitive.Resolved) string {
	return path.Join("commands", p.Ref.Category, p.Ref.ID+".md")
}

type skillRenderer struct{}

func (skillRenderer) Name() string { return Name + "/skill" }

func (skillRenderer) Plan(p *primitive.Resolved) ([]string, error) {
	return []string{skillPath(p)}, nil
}

func (skillRenderer) Render(p *primitive.Resolved) (*providers.Output, error) {
	content, err := providers.Document([]providers.Field{
		{Key: "name", Value: p.Ref.ID},
		{Key: "description", Value: p.Description()},
		{Key: "allowed-tools", Value: tools(p)},
	}, p.Body)
	if err != nil {
		return nil, err
	}
	return &providers.Output{Files: []providers.File{{Path: skillPath(p), Content: content, Mode: 0o644}}}, nil
}

func skillPath(p *primitive.Resolved) string {
	return path.Join("skills", p.Ref.ID, "SKILL.md")
}
