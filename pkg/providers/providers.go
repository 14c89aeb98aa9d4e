// Package providers defines how validated primitives are turned into the
// native files of an agent runtime. Rendering is dispatched through a
// Registry keyed by (provider, kind); a provider package adds support for a
// kind by registering a Renderer, never by changing an existing one.
package providers

import (
	"fmt"
	"io/fs"
	"sort"
	"sync"

	"github.com/jingkaihe/primforge/pkg/primitive"
	"github.com/pkg/errors"
)

// File is one rendered output file. Path is slash-separated and relative to
// the provider's output root.
type File struct {
	Path    string
	Content []byte
	Mode    fs.FileMode
}

// Fragment is a piece of a central provider document (such as an event
// registry) contributed by one primitive. Data is provider specific.
type Fragment struct {
	Document string
	Source   primitive.Ref
	Data     any
}

// Output is everything a renderer produced for one primitive
type Output struct {
	Files     []File
	Fragments []Fragment
}

// Renderer renders primitives of one kind for one provider. Implementations
// are pure: they read only the Resolved value and return bytes.
type Renderer interface {
	// Name identifies the renderer in manifests, e.g. "claude/agent"
	Name() string
	// Plan returns the output paths Render will produce without rendering
	Plan(p *primitive.Resolved) ([]string, error)
	// Render produces the output files and fragments of p
	Render(p *primitive.Resolved) (*Output, error)
}

// AssembleFunc merges the fragments of every primitive into central
// documents. Fragments arrive sorted by source ref.
type AssembleFunc func(fragments []Fragment) ([]File, error)

// Provider describes a target runtime
type Provider struct {
	Name string
	// ProjectDir is the install directory relative to the repository for project scope
	ProjectDir string
	// GlobalDir is the install directory for global scope; ~ is expanded by the caller
	GlobalDir string
	// Documents lists the central document paths Assemble may produce
	Documents []string
	// Assembler names Assemble in manifests, e.g. "claude/settings"
	Assembler string
	Assemble  AssembleFunc
}

// TransformError reports a primitive a provider cannot render
type TransformError struct {
	Provider string
	Kind     primitive.Kind
	Ref      string
	Reason   string
}

func (e *TransformError) Error() string {
	msg := fmt.Sprintf("provider %s cannot render %s", e.Provider, e.Kind)
	if e.Ref != "" {
		msg += " " + e.Ref
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

type registryKey struct {
	provider string
	kind     primitive.Kind
}

// Registry maps (provider, kind) to renderers
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*Provider
	renderers map[registryKey]Renderer
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]*Provider),
		renderers: make(map[registryKey]Renderer),
	}
}

// AddProvider registers a provider description
func (r *Registry) AddProvider(p *Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name] = p
}

// Register binds a renderer to (provider, kind)
func (r *Registry) Register(provider string, kind primitive.Kind, renderer Renderer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.renderers[registryKey{provider: provider, kind: kind}] = renderer
}

// Provider looks up a provider by name
func (r *Registry) Provider(name string) (*Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, errors.Errorf("unknown provider %q (available: %v)", name, r.namesLocked())
	}
	return p, nil
}

// Renderer looks up the renderer for (provider, kind)
func (r *Registry) Renderer(provider string, kind primitive.Kind) (Renderer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	renderer, ok := r.renderers[registryKey{provider: provider, kind: kind}]
	if !ok {
		return nil, &TransformError{Provider: provider, Kind: kind, Reason: "no renderer registered for this kind"}
	}
	return renderer, nil
}

// Names lists the registered providers
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

// Kinds lists the kinds a provider can render
func (r *Registry) Kinds(provider string) []primitive.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var kinds []primitive.Kind
	for _, k := range primitive.Kinds {
		if _, ok := r.renderers[registryKey{provider: provider, kind: k}]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
