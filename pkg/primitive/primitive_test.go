package primitive_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jingkaihe/primforge/pkg/primitive"
	"github.com/jingkaihe/primforge/pkg/primitive/primitivetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    primitive.Kind
		wantErr bool
	}{
		{in: "agent", want: primitive.KindAgent},
		{in: "commands", want: primitive.KindCommand},
		{in: " Skill ", want: primitive.KindSkill},
		{in: "hooks", want: primitive.KindHook},
		{in: "widget", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := primitive.ParseKind(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRef(t *testing.T) {
	ref, err := primitive.ParseRef("command/qa/review")
	require.NoError(t, err)
	assert.Equal(t, primitive.Ref{Kind: primitive.KindCommand, Category: "qa", ID: "review"}, ref)
	assert.Equal(t, "command/qa/review", ref.String())
	assert.Equal(t, "qa/review", ref.Selector())

	_, err = primitive.ParseRef("qa/review")
	assert.Error(t, err)
	_, err = primitive.ParseRef("command//review")
	assert.Error(t, err)
}

func TestComputeHash(t *testing.T) {
	h1 := primitive.ComputeHash([]byte("line one\nline two\n"))
	h2 := primitive.ComputeHash([]byte("line one\r\nline two\r\n"))
	h3 := primitive.ComputeHash([]byte("line one\nline 2\n"))

	assert.True(t, primitive.ValidHash(h1))
	assert.Equal(t, h1, h2, "line endings must not change the hash")
	assert.NotEqual(t, h1, h3)
	assert.Len(t, primitive.ShortHash(h1), 12)
	assert.False(t, primitive.ValidHash("sha256:abc"))
}

func TestContentFileName(t *testing.T) {
	assert.Equal(t, "review.v3.md", primitive.ContentFileName("review", 3))

	id, v, ok := primitive.ParseContentFileName("code-review.v12.md")
	require.True(t, ok)
	assert.Equal(t, "code-review", id)
	assert.Equal(t, 12, v)

	_, _, ok = primitive.ParseContentFileName("review.v0.md")
	assert.False(t, ok)
	_, _, ok = primitive.ParseContentFileName("review.md")
	assert.False(t, ok)
}

func TestSplitFrontmatter(t *testing.T) {
	content := "---\ndescription: Review a diff\nargument-hint: <pr>\n---\n\n# Review\n\nLook closely.\n"
	fm, body, err := primitive.SplitFrontmatter([]byte(content))
	require.NoError(t, err)
	assert.Equal(t, "Review a diff", primitive.FrontmatterString(fm, "description"))
	assert.Equal(t, "<pr>", primitive.FrontmatterString(fm, "argument-hint"))
	assert.Equal(t, "# Review\n\nLook closely.\n", body)

	fm, body, err = primitive.SplitFrontmatter([]byte("# Plain\n"))
	require.NoError(t, err)
	assert.Empty(t, fm)
	assert.Equal(t, "# Plain\n", body)
}

func TestMetadataRoundTrip(t *testing.T) {
	dir := t.TempDir()
	meta := &primitive.Metadata{
		SpecVersion: "v1",
		ID:          "review",
		Kind:        primitive.KindCommand,
		Category:    "qa",
		Summary:     "Review code",
		Versions: []primitive.VersionEntry{
			{Version: 1, Status: primitive.StatusActive, Hash: primitive.ComputeHash([]byte("x")), Created: "2026-01-15"},
		},
	}
	require.NoError(t, primitive.SaveMetadata(dir, meta))

	loaded, err := primitive.LoadMetadata(dir)
	require.NoError(t, err)
	assert.Equal(t, meta, loaded)

	require.NoError(t, os.WriteFile(filepath.Join(dir, primitive.MetadataFile), []byte("id: x\nbogus: 1\n"), 0o644))
	_, err = primitive.LoadMetadata(dir)
	assert.Error(t, err)
}

func TestUpdateMetadataLeavesFileOnError(t *testing.T) {
	f := primitivetest.New(t)
	dir := f.Add(primitivetest.Spec{Ref: "command/qa/review"})

	before, err := os.ReadFile(filepath.Join(dir, primitive.MetadataFile))
	require.NoError(t, err)

	_, err = primitive.UpdateMetadata(dir, func(m *primitive.Metadata) error {
		m.Summary = "changed"
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	after, err := os.ReadFile(filepath.Join(dir, primitive.MetadataFile))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestDiscover(t *testing.T) {
	f := primitivetest.New(t)
	f.Add(primitivetest.Spec{Ref: "command/qa/review"})
	f.Add(primitivetest.Spec{Ref: "agent/eng/reviewer"})
	f.Add(primitivetest.Spec{Ref: "command/qa/triage"})
	f.Write("notes/readme.txt", "not a kind")

	candidates, err := primitive.Discover(f.Root)
	require.NoError(t, err)

	var refs []string
	for _, c := range candidates {
		refs = append(refs, c.Ref.String())
	}
	assert.Equal(t, []string{"agent/eng/reviewer", "command/qa/review", "command/qa/triage"}, refs)

	none, err := primitive.Discover(filepath.Join(f.Repo, "missing"))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestLocatePrimitive(t *testing.T) {
	f := primitivetest.New(t)
	dir := f.Add(primitivetest.Spec{Ref: "skill/docs/style"})

	root, ref, ok := primitive.LocatePrimitive(dir)
	require.True(t, ok)
	expectedRoot, _ := filepath.Abs(f.Root)
	assert.Equal(t, expectedRoot, root)
	assert.Equal(t, "skill/docs/style", ref.String())

	_, _, ok = primitive.LocatePrimitive(f.Root)
	assert.False(t, ok)
}

func TestResolveVersion(t *testing.T) {
	meta := &primitive.Metadata{Versions: []primitive.VersionEntry{
		{Version: 1, Status: primitive.StatusDeprecated},
		{Version: 2, Status: primitive.StatusActive},
		{Version: 3, Status: primitive.StatusActive},
		{Version: 4, Status: primitive.StatusDraft},
	}}

	_, err := primitive.ResolveVersion(meta, 0)
	assert.ErrorIs(t, err, primitive.ErrAmbiguousVersion)

	v, err := primitive.ResolveVersion(meta, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, v.Version)

	_, err = primitive.ResolveVersion(meta, 4)
	assert.Error(t, err, "drafts are not buildable")

	meta.DefaultVersion = 3
	v, err = primitive.ResolveVersion(meta, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, v.Version)

	v, err = primitive.ResolveVersion(meta, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, v.Version, "pin wins over default_version")

	single := &primitive.Metadata{Versions: []primitive.VersionEntry{{Version: 1, Status: primitive.StatusActive}}}
	v, err = primitive.ResolveVersion(single, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, v.Version)

	drafts := &primitive.Metadata{Versions: []primitive.VersionEntry{{Version: 1, Status: primitive.StatusDraft}}}
	_, err = primitive.ResolveVersion(drafts, 0)
	assert.ErrorIs(t, err, primitive.ErrNoBuildableVersion)
	assert.True(t, drafts.DraftOnly())
	assert.False(t, drafts.Retired())

	retired := &primitive.Metadata{Versions: []primitive.VersionEntry{
		{Version: 1, Status: primitive.StatusArchived},
		{Version: 2, Status: primitive.StatusArchived},
	}}
	_, err = primitive.ResolveVersion(retired, 0)
	assert.ErrorIs(t, err, primitive.ErrNoBuildableVersion)
	assert.True(t, retired.Retired())
	assert.False(t, retired.DraftOnly())
	assert.False(t, single.Retired())
}

func TestLoadHookAssets(t *testing.T) {
	f := primitivetest.New(t)
	f.Add(primitivetest.Spec{
		Ref:        "hook/security/bash-guard",
		Middleware: primitivetest.Middleware(primitive.EventPreToolUse, "Bash", "deny_rm"),
		Validators: map[string]string{
			"deny_rm.py": "#!/usr/bin/env python3\n",
			"unused.py":  "#!/usr/bin/env python3\n",
		},
	})

	candidates, err := primitive.Discover(f.Root)
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	r, err := primitive.Load(candidates[0], 0)
	require.NoError(t, err)
	require.Len(t, r.Assets, 1)
	assert.Equal(t, "validators/deny_rm.py", r.Assets[0].Path)
	assert.Equal(t, os.FileMode(0o755), r.Assets[0].Mode)
	assert.Equal(t, "Summary of bash-guard", r.Description())
}

func TestLoadTool(t *testing.T) {
	f := primitivetest.New(t)
	f.Add(primitivetest.Spec{
		Ref:  "tool/fs/read-tree",
		Tool: primitivetest.Tool("read_tree"),
		Impl: map[string]string{"main.py": "print('hi')\n", "lib/util.py": "X = 1\n"},
	})

	candidates, err := primitive.Discover(f.Root)
	require.NoError(t, err)

	r, err := primitive.Load(candidates[0], 0)
	require.NoError(t, err)
	require.NotNil(t, r.Tool)
	assert.Equal(t, "read_tree", r.Tool.Name)
	require.Len(t, r.Assets, 2)
	assert.Equal(t, "impl/lib/util.py", r.Assets[0].Path)
	assert.Equal(t, "impl/main.py", r.Assets[1].Path)
}
