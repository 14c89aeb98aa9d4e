package claude

import (
	"encoding/json"
	"fmt"
	"path"

	"github.com/jingkaihe/primforge/pkg/primitive"
	"github.com/jingkaihe/primforge/pkg/providers"
	"github.com/pkg/errors"
)

// Events maps neutral hook events to Claude hook event names
var Events = map[primitive.Event]string{
	primitive.EventPreToolUse:       "PreToolUse",
	primitive.EventPostToolUse:      "PostToolUse",
	primitive.EventUserPromptSubmit: "UserPromptSubmit",
	primitive.EventStop:             "Stop",
	primitive.EventSubagentStop:     "SubagentStop",
	primitive.EventSessionStart:     "SessionStart",
	primitive.EventNotification:     "Notification",
}

// hookEntry is the settings.json fragment a hook binding contributes
type hookEntry struct {
	Event   string
	Matcher string
	Command string
	Timeout int
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
		paths = append(paths, b.script)
	}
	return append(paths, providers.AssetPaths(hookDir(p), p.Assets)...), nil
}

func (hookRenderer) Render(p *primitive.Resolved) (*providers.Output, error) {
	bindings, err := hookBindings(p)
	if err != nil {
		return nil, err
	}

	timeout := 0
	if p.Meta.Safety != nil {
		timeout = p.Meta.Safety.TimeoutSeconds
	}

	out := &providers.Output{}
	for _, b := range bindings {
		validators, err := providers.ValidatorCalls(Name, p, b.Validators)
		if err != nil {
			return nil, err
		}

		script, err := execute(hookScriptTemplate, hookScriptData{
			Ref:        p.Ref.String(),
			Version:    p.Version.Version,
			Event:      b.claudeEvent,
			Validators: validators,
		})
		if err != nil {
			return nil, err
		}

		out.Files = append(out.Files, providers.File{Path: b.script, Content: script, Mode: 0o755})
		out.Fragments = append(out.Fragments, providers.Fragment{
			Document: SettingsFile,
			Source:   p.Ref,
			Data: hookEntry{
				Event:   b.claudeEvent,
				Matcher: b.Matcher,
				Command: `"$CLAUDE_PROJECT_DIR"/.claude/` + b.script,
				Timeout: timeout,
			},
		})
	}

	out.Files = append(out.Files, providers.AssetFiles(hookDir(p), p.Assets)...)
	return out, nil
}

type binding struct {
	primitive.EventBinding
	claudeEvent string
	script      string
}

// hookBindings names one entry point per binding. A second binding of the
// same event gets a numeric suffix.
func hookBindings(p *primitive.Resolved) ([]binding, error) {
	if p.Meta.Middleware == nil {
		return nil, &providers.TransformError{Provider: Name, Kind: p.Ref.Kind, Ref: p.Ref.String(), Reason: "hook has no middleware"}
	}

	seen := make(map[primitive.Event]int)
	var out []binding
	for _, b := range p.Meta.Middleware.Events {
		event, ok := Events[b.Event]
		if !ok {
			return nil, &providers.TransformError{
				Provider: Name, Kind: p.Ref.Kind, Ref: p.Ref.String(),
				Reason: fmt.Sprintf("event %q has no Claude equivalent", b.Event),
			}
		}
		seen[b.Event]++
		name := string(b.Event)
		if n := seen[b.Event]; n > 1 {
			name = fmt.Sprintf("%s-%d", name, n)
		}
		out = append(out, binding{
			EventBinding: b,
			claudeEvent:  event,
			script:       path.Join(hookDir(p), name+".sh"),
		})
	}
	return out, nil
}

func hookDir(p *primitive.Resolved) string {
	return path.Join("hooks", p.Ref.ID)
}

type hookScriptData struct {
	Ref        string
	Version    int
	Event      string
	Validators []providers.ValidatorCall
}

type settingsCommand struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Timeout int    `json:"timeout,omitempty"`
}

type settingsMatcher struct {
	Matcher string            `json:"matcher,omitempty"`
	Hooks   []settingsCommand `json:"hooks"`
}

type settings struct {
	Hooks map[string][]settingsMatcher `json:"hooks"`
}

// assembleSettings merges hook fragments into settings.json. Entries sharing
// an event and matcher are grouped under one matcher, in fragment order.
func assembleSettings(fragments []providers.Fragment) ([]providers.File, error) {
	doc := settings{Hooks: make(map[string][]settingsMatcher)}
	for _, f := range fragments {
		if f.Document != SettingsFile {
			continue
		}
		entry, ok := f.Data.(hookEntry)
		if !ok {
			return nil, errors.Errorf("unexpected %s fragment from %s: %T", SettingsFile, f.Source, f.Data)
		}

		cmd := settingsCommand{Type: "command", Command: entry.Command, Timeout: entry.Timeout}
		matchers := doc.Hooks[entry.Event]
		merged := false
		for i := range matchers {
			if matchers[i].Matcher == entry.Matcher {
				matchers[i].Hooks = append(matchers[i].Hooks, cmd)
				merged = true
				break
			}
		}
		if !merged {
			matchers = append(matchers, settingsMatcher{Matcher: entry.Matcher, Hooks: []settingsCommand{cmd}})
		}
		doc.Hooks[entry.Event] = matchers
	}

	if len(doc.Hooks) == 0 {
		return nil, nil
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode settings")
	}
	return []providers.File{{Path: SettingsFile, Content: append(data, '\n'), Mode: 0o644}}, nil
}
