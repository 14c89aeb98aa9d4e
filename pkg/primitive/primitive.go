// Package primitive models versioned agent-configuration primitives (agents,
// commands, skills, tools and hooks) as they are authored on disk: a
// metadata document per primitive, one content file per version, and
// kind-specific assets such as tool implementations or hook validators.
package primitive

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Kind is the type of a primitive
type Kind string

// Primitive kinds
const (
	KindAgent   Kind = "agent"
	KindCommand Kind = "command"
	KindSkill   Kind = "skill"
	KindTool    Kind = "tool"
	KindHook    Kind = "hook"
)

// Kinds lists every supported kind in source layout order
var Kinds = []Kind{KindAgent, KindCommand, KindSkill, KindTool, KindHook}

// Dir returns the plural directory name used for the kind in the source tree
func (k Kind) Dir() string {
	return string(k) + "s"
}

// Valid reports whether k is a known kind
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// KindFromDir maps a source directory name (e.g. "agents") back to its kind
func KindFromDir(dir string) (Kind, bool) {
	for _, k := range Kinds {
		if k.Dir() == dir {
			return k, true
		}
	}
	return "", false
}

// ParseKind parses either the singular or the plural form of a kind
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if k.Valid() {
		return k, nil
	}
	if k, ok := KindFromDir(string(k)); ok {
		return k, nil
	}
	return "", errors.Errorf("unknown primitive kind %q", s)
}

// Status is the lifecycle state of a single version
type Status string

// Version statuses
const (
	StatusDraft      Status = "draft"
	StatusActive     Status = "active"
	StatusDeprecated Status = "deprecated"
	StatusArchived   Status = "archived"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusActive, StatusDeprecated, StatusArchived:
		return true
	}
	return false
}

// Buildable reports whether a version in this state may be compiled.
// Deprecated versions stay buildable for consumers pinned to them.
func (s Status) Buildable() bool {
	return s == StatusActive || s == StatusDeprecated
}

// Immutable reports whether the content of a version in this state is pinned by its hash
func (s Status) Immutable() bool {
	return s == StatusActive || s == StatusDeprecated || s == StatusArchived
}

// Ref identifies a primitive. (Kind, Category, ID) is unique in a repository.
type Ref struct {
	Kind     Kind
	Category string
	ID       string
}

// String returns the canonical "kind/category/id" form
func (r Ref) String() string {
	return string(r.Kind) + "/" + r.Category + "/" + r.ID
}

// Selector returns the "category/id" form matched by selection patterns
func (r Ref) Selector() string {
	return r.Category + "/" + r.ID
}

// ParseRef parses the canonical "kind/category/id" form
func ParseRef(s string) (Ref, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return Ref{}, errors.Errorf("invalid primitive reference %q: expected kind/category/id", s)
	}
	kind, err := ParseKind(parts[0])
	if err != nil {
		return Ref{}, errors.Wrapf(err, "invalid primitive reference %q", s)
	}
	return Ref{Kind: kind, Category: parts[1], ID: parts[2]}, nil
}

// SortRefs sorts refs by their canonical string form
func SortRefs(refs []Ref) {
	sort.Slice(refs, func(i, j int) bool {
		return refs[i].String() < refs[j].String()
	})
}

// VersionEntry records one version of a primitive's content
type VersionEntry struct {
	Version int    `yaml:"version" json:"version" jsonschema:"required,minimum=1"`
	Status  Status `yaml:"status" json:"status" jsonschema:"required,enum=draft,enum=active,enum=deprecated,enum=archived"`
	Hash    string `yaml:"hash" json:"hash" jsonschema:"required,pattern=^blake2b-256:[0-9a-f]{64}$"`
	Created string `yaml:"created" json:"created" jsonschema:"required,format=date"`
	Notes   string `yaml:"notes,omitempty" json:"notes,omitempty"`
}

// Metadata is the content of a primitive's meta.yaml document
type Metadata struct {
	SpecVersion    string            `yaml:"spec_version" json:"spec_version" jsonschema:"required"`
	ID             string            `yaml:"id" json:"id" jsonschema:"required,pattern=^[a-z0-9]+(-[a-z0-9]+)*$"`
	Kind           Kind              `yaml:"kind" json:"kind" jsonschema:"required,enum=agent,enum=command,enum=skill,enum=tool,enum=hook"`
	Category       string            `yaml:"category" json:"category" jsonschema:"required,pattern=^[a-z0-9]+(-[a-z0-9]+)*$"`
	Domain         string            `yaml:"domain,omitempty" json:"domain,omitempty"`
	Summary        string            `yaml:"summary" json:"summary" jsonschema:"required"`
	Tags           []string          `yaml:"tags,omitempty" json:"tags,omitempty"`
	DefaultVersion int               `yaml:"default_version,omitempty" json:"default_version,omitempty" jsonschema:"minimum=1"`
	Model          string            `yaml:"model,omitempty" json:"model,omitempty"`
	Tools          []string          `yaml:"tools,omitempty" json:"tools,omitempty"`
	Skills         []string          `yaml:"skills,omitempty" json:"skills,omitempty"`
	Middleware     *MiddlewareConfig `yaml:"middleware,omitempty" json:"middleware,omitempty"`
	Safety         *SafetyConfig     `yaml:"safety,omitempty" json:"safety,omitempty"`
	Versions       []VersionEntry    `yaml:"versions" json:"versions" jsonschema:"required,minItems=1"`
}

// Ref returns the reference declared by the metadata
func (m *Metadata) Ref() Ref {
	return Ref{Kind: m.Kind, Category: m.Category, ID: m.ID}
}

// FindVersion returns the entry for version v
func (m *Metadata) FindVersion(v int) (*VersionEntry, bool) {
	for i := range m.Versions {
		if m.Versions[i].Version == v {
			return &m.Versions[i], true
		}
	}
	return nil, false
}

// LatestVersion returns the entry with the highest version number
func (m *Metadata) LatestVersion() (*VersionEntry, bool) {
	var latest *VersionEntry
	for i := range m.Versions {
		if latest == nil || m.Versions[i].Version > latest.Version {
			latest = &m.Versions[i]
		}
	}
	return latest, latest != nil
}

// VersionsWithStatus returns the version numbers in the given status, ascending
func (m *Metadata) VersionsWithStatus(status Status) []int {
	var out []int
	for _, v := range m.Versions {
		if v.Status == status {
			out = append(out, v.Version)
		}
	}
	sort.Ints(out)
	return out
}

// DraftOnly reports whether every version is still a draft
func (m *Metadata) DraftOnly() bool {
	for _, v := range m.Versions {
		if v.Status != StatusDraft {
			return false
		}
	}
	return len(m.Versions) > 0
}

// Retired reports whether every version has been archived
func (m *Metadata) Retired() bool {
	for _, v := range m.Versions {
		if v.Status != StatusArchived {
			return false
		}
	}
	return len(m.Versions) > 0
}

// SortVersions orders the version list ascending
func (m *Metadata) SortVersions() {
	sort.Slice(m.Versions, func(i, j int) bool {
		return m.Versions[i].Version < m.Versions[j].Version
	})
}

// Event is a provider-neutral lifecycle event a hook can bind to
type Event string

// Hook events
const (
	EventPreToolUse       Event = "pre_tool_use"
	EventPostToolUse      Event = "post_tool_use"
	EventUserPromptSubmit Event = "user_prompt_submit"
	EventStop             Event = "stop"
	EventSubagentStop     Event = "subagent_stop"
	EventSessionStart     Event = "session_start"
	EventNotification     Event = "notification"
)

// Events lists every known hook event
var Events = []Event{
	EventPreToolUse,
	EventPostToolUse,
	EventUserPromptSubmit,
	EventStop,
	EventSubagentStop,
	EventSessionStart,
	EventNotification,
}

// Valid reports whether e is a known event
func (e Event) Valid() bool {
	for _, known := range Events {
		if e == known {
			return true
		}
	}
	return false
}

// MiddlewareConfig binds a hook primitive to lifecycle events
type MiddlewareConfig struct {
	Events []EventBinding `yaml:"events" json:"events" jsonschema:"required,minItems=1"`
}

// EventBinding runs the named validator functions when Event fires
type EventBinding struct {
	Event      Event    `yaml:"event" json:"event" jsonschema:"required,enum=pre_tool_use,enum=post_tool_use,enum=user_prompt_submit,enum=stop,enum=subagent_stop,enum=session_start,enum=notification"`
	Matcher    string   `yaml:"matcher,omitempty" json:"matcher,omitempty"`
	Validators []string `yaml:"validators" json:"validators" jsonschema:"required,minItems=1"`
}

// ValidatorNames returns every validator referenced by the middleware, deduplicated and sorted
func (m *MiddlewareConfig) ValidatorNames() []string {
	if m == nil {
		return nil
	}
	seen := make(map[string]bool)
	var names []string
	for _, b := range m.Events {
		for _, v := range b.Validators {
			if !seen[v] {
				seen[v] = true
				names = append(names, v)
			}
		}
	}
	sort.Strings(names)
	return names
}

// SafetyConfig limits how a tool or hook may execute
type SafetyConfig struct {
	TimeoutSeconds int  `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty" jsonschema:"minimum=1"`
	MaxOutputBytes int  `yaml:"max_output_bytes,omitempty" json:"max_output_bytes,omitempty" jsonschema:"minimum=0"`
	ReadOnly       bool `yaml:"read_only,omitempty" json:"read_only,omitempty"`
	Network        bool `yaml:"network,omitempty" json:"network,omitempty"`
	Destructive    bool `yaml:"destructive,omitempty" json:"destructive,omitempty"`
}

// ToolSpec is the content of a tool primitive's tool.yaml document
type ToolSpec struct {
	Name        string        `yaml:"name" json:"name" jsonschema:"required,pattern=^[a-z][a-z0-9_]*$"`
	Description string        `yaml:"description" json:"description" jsonschema:"required"`
	Parameters  []ToolArg     `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	Returns     *ToolReturn   `yaml:"returns,omitempty" json:"returns,omitempty"`
	Safety      *SafetyConfig `yaml:"safety,omitempty" json:"safety,omitempty"`
	Adapter     ToolAdapter   `yaml:"adapter" json:"adapter" jsonschema:"required"`
}

// ToolArg describes one tool parameter
type ToolArg struct {
	Name        string `yaml:"name" json:"name" jsonschema:"required,pattern=^[a-z][a-z0-9_]*$"`
	Type        string `yaml:"type" json:"type" jsonschema:"required,enum=string,enum=integer,enum=number,enum=boolean,enum=array,enum=object"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Required    bool   `yaml:"required,omitempty" json:"required,omitempty"`
	Default     any    `yaml:"default,omitempty" json:"default,omitempty"`
	Enum        []any  `yaml:"enum,omitempty" json:"enum,omitempty"`
}

// ToolReturn describes the shape of a tool's result
type ToolReturn struct {
	Type        string `yaml:"type" json:"type" jsonschema:"required"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// ToolAdapter carries adapter-generation hints for a tool implementation
type ToolAdapter struct {
	Runtime    string `yaml:"runtime" json:"runtime" jsonschema:"required,enum=python,enum=node,enum=shell,enum=binary"`
	Entrypoint string `yaml:"entrypoint" json:"entrypoint" jsonschema:"required"`
	MCP        bool   `yaml:"mcp,omitempty" json:"mcp,omitempty"`
}

// ArgTypes lists the accepted ToolArg types
var ArgTypes = []string{"string", "integer", "number", "boolean", "array", "object"}

// Runtimes lists the accepted adapter runtimes
var Runtimes = []string{"python", "node", "shell", "binary"}
