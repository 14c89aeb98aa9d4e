// Package primitivetest builds primitive source trees in temporary
// directories for tests.
package primitivetest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jingkaihe/primforge/pkg/primitive"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// Version describes one version to write. Hash is computed from Content
// unless set explicitly.
type Version struct {
	N       int
	Status  primitive.Status
	Content string
	Hash    string
}

// Spec describes a primitive to write
type Spec struct {
	Ref            string // kind/category/id
	Summary        string
	Domain         string
	Tags           []string
	Model          string
	Tools          []string
	Skills         []string
	DefaultVersion int
	Middleware     *primitive.MiddlewareConfig
	Safety         *primitive.SafetyConfig
	Versions       []Version
	Tool           *primitive.ToolSpec
	Impl           map[string]string // files under impl/
	Validators     map[string]string // files under validators/
	Extra          map[string]string // any other file, relative to the primitive directory
}

// Fixture is a spec root inside a test's temporary directory
type Fixture struct {
	t    testing.TB
	Repo string
	Root string
}

// New creates an empty repository with a v1 spec root
func New(t testing.TB) *Fixture {
	t.Helper()
	repo := t.TempDir()
	root := filepath.Join(repo, "primitives", "v1")
	require.NoError(t, os.MkdirAll(root, 0o755))
	return &Fixture{t: t, Repo: repo, Root: root}
}

// Add writes a primitive and returns its directory
func (f *Fixture) Add(spec Spec) string {
	f.t.Helper()

	ref, err := primitive.ParseRef(spec.Ref)
	require.NoError(f.t, err)

	dir := primitive.Dir(f.Root, ref)
	require.NoError(f.t, os.MkdirAll(dir, 0o755))

	versions := spec.Versions
	if len(versions) == 0 {
		versions = []Version{{N: 1, Status: primitive.StatusActive, Content: "# " + ref.ID + "\n\nDo the thing.\n"}}
	}

	summary := spec.Summary
	if summary == "" {
		summary = "Summary of " + ref.ID
	}

	meta := &primitive.Metadata{
		SpecVersion:    "v1",
		ID:             ref.ID,
		Kind:           ref.Kind,
		Category:       ref.Category,
		Domain:         spec.Domain,
		Summary:        summary,
		Tags:           spec.Tags,
		DefaultVersion: spec.DefaultVersion,
		Model:          spec.Model,
		Tools:          spec.Tools,
		Skills:         spec.Skills,
		Middleware:     spec.Middleware,
		Safety:         spec.Safety,
	}

	for _, v := range versions {
		hash := v.Hash
		if hash == "" {
			hash = primitive.ComputeHash([]byte(v.Content))
		}
		meta.Versions = append(meta.Versions, primitive.VersionEntry{
			Version: v.N,
			Status:  v.Status,
			Hash:    hash,
			Created: "2026-01-15",
		})
		f.write(dir, primitive.ContentFileName(ref.ID, v.N), v.Content, 0o644)
	}

	data, err := primitive.MarshalMetadata(meta)
	require.NoError(f.t, err)
	f.write(dir, primitive.MetadataFile, string(data), 0o644)

	if spec.Tool != nil {
		data, err := yaml.Marshal(spec.Tool)
		require.NoError(f.t, err)
		f.write(dir, primitive.ToolSpecFile, string(data), 0o644)
	}
	for name, content := range spec.Impl {
		f.write(dir, filepath.Join(primitive.ImplDir, name), content, 0o755)
	}
	for name, content := range spec.Validators {
		f.write(dir, filepath.Join(primitive.ValidatorsDir, name), content, 0o755)
	}
	for name, content := range spec.Extra {
		f.write(dir, name, content, 0o644)
	}

	return dir
}

// Write creates or replaces a file relative to the spec root
func (f *Fixture) Write(rel, content string) {
	f.t.Helper()
	f.write(f.Root, rel, content, 0o644)
}

func (f *Fixture) write(dir, rel, content string, mode os.FileMode) {
	f.t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(f.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(f.t, os.WriteFile(path, []byte(content), mode))
}

// Tool returns a minimal valid tool spec
func Tool(name string) *primitive.ToolSpec {
	return &primitive.ToolSpec{
		Name:        name,
		Description: "Runs " + name,
		Parameters: []primitive.ToolArg{
			{Name: "path", Type: "string", Description: "Target path", Required: true},
			{Name: "limit", Type: "integer", Default: 10},
		},
		Returns: &primitive.ToolReturn{Type: "object", Description: "Result payload"},
		Adapter: primitive.ToolAdapter{Runtime: "python", Entrypoint: "main.py", MCP: true},
	}
}

// Middleware returns a single-binding middleware config
func Middleware(event primitive.Event, matcher string, validators ...string) *primitive.MiddlewareConfig {
	return &primitive.MiddlewareConfig{
		Events: []primitive.EventBinding{{Event: event, Matcher: matcher, Validators: validators}},
	}
}
