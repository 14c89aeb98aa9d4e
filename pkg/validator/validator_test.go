package validator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jingkaihe/primforge/pkg/config"
	"github.com/jingkaihe/primforge/pkg/primitive"
	"github.com/jingkaihe/primforge/pkg/primitive/primitivetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRepository(t *testing.T) *primitivetest.Fixture {
	t.Helper()
	f := primitivetest.New(t)
	f.Add(primitivetest.Spec{Ref: "agent/qa/reviewer", Model: "sonnet", Tools: []string{"Read", "search/grep-docs"}, Skills: []string{"writing/style-guide"}})
	f.Add(primitivetest.Spec{Ref: "command/qa/review", Tools: []string{"Bash"}})
	f.Add(primitivetest.Spec{Ref: "skill/writing/style-guide"})
	f.Add(primitivetest.Spec{
		Ref:  "tool/search/grep-docs",
		Tool: primitivetest.Tool("grep_docs"),
		Impl: map[string]string{"main.py": "print('ok')\n"},
	})
	f.Add(primitivetest.Spec{
		Ref:        "hook/security/bash-guard",
		Middleware: primitivetest.Middleware(primitive.EventPreToolUse, "Bash", "check_bash"),
		Validators: map[string]string{"check_bash.py": "import sys\n"},
	})
	return f
}

func validate(t *testing.T, f *primitivetest.Fixture, cfg *config.Project) *Report {
	t.Helper()
	if cfg == nil {
		cfg = config.Default(f.Repo)
	}
	report, err := Validate(context.Background(), Request{Root: f.Root, Config: cfg})
	require.NoError(t, err)
	return report
}

func codes(issues []*Issue) []string {
	out := make([]string, 0, len(issues))
	for _, i := range issues {
		out = append(out, i.Code)
	}
	return out
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestValidateCleanRepository(t *testing.T) {
	report := validate(t, validRepository(t), nil)

	assert.False(t, report.HasErrors(), "unexpected issues: %v", report.Err())
	assert.NoError(t, report.Err())
	assert.Empty(t, report.Warnings)
	assert.Equal(t, 5, report.Primitives)
	assert.Equal(t, LayerSemantic, report.Layer)
}

func TestValidateEmptyRoot(t *testing.T) {
	t.Run("empty spec root", func(t *testing.T) {
		report := validate(t, primitivetest.New(t), nil)
		assert.False(t, report.HasErrors())
		assert.Equal(t, 0, report.Primitives)
	})

	t.Run("missing spec root", func(t *testing.T) {
		report, err := Validate(context.Background(), Request{Root: filepath.Join(t.TempDir(), "nope")})
		require.NoError(t, err)
		assert.False(t, report.HasErrors())
	})
}

func TestStructuralLayer(t *testing.T) {
	f := validRepository(t)
	f.Write("widgets/misc/thing/meta.yaml", "id: thing\n")
	f.Write("agents/notes.txt", "stray\n")
	f.Write("agents/qa/reviewer/scratch.txt", "orphan\n")
	require.NoError(t, os.MkdirAll(filepath.Join(f.Root, "commands", "QA", "Bad_Name"), 0o755))
	// schema violation that must not be reported while structure is broken
	f.Write("skills/writing/style-guide/meta.yaml", "bogus: true\n")

	report := validate(t, f, nil)

	require.True(t, report.HasErrors())
	assert.Equal(t, LayerStructural, report.Layer)
	for _, issue := range report.Issues {
		assert.Equal(t, LayerStructural, issue.Layer, issue.Error())
	}
	got := codes(report.Issues)
	assert.Contains(t, got, CodeUnknownKindDir)
	assert.Contains(t, got, CodeStrayFile)
	assert.Contains(t, got, CodeOrphanFile)
	assert.Contains(t, got, CodeInvalidName)
	assert.Contains(t, got, CodeMissingMetadata)
}

func TestToolStructure(t *testing.T) {
	f := primitivetest.New(t)
	f.Add(primitivetest.Spec{Ref: "tool/search/grep-docs"})

	report := validate(t, f, nil)

	got := codes(report.Issues)
	assert.Contains(t, got, CodeMissingToolSpec)
	assert.Contains(t, got, CodeMissingImpl)
}

func TestSchemaLayerCollectsEveryViolation(t *testing.T) {
	f := primitivetest.New(t)
	dir := f.Add(primitivetest.Spec{Ref: "command/qa/review"})
	writeFile(t, filepath.Join(dir, primitive.MetadataFile), `spec_version: v1
id: review
kind: command
category: qa
model: sonnet
colour: blue
tags: not-a-list
versions:
  - version: one
    status: active
    hash: x
    created: "2026-01-15"
`)

	report := validate(t, f, nil)

	require.True(t, report.HasErrors())
	assert.Equal(t, LayerSchema, report.Layer)
	got := codes(report.Issues)
	assert.Contains(t, got, CodeFieldNotAllowed, "model is an agent-only field")
	assert.Contains(t, got, CodeInvalidField, "colour is unknown")
	assert.Contains(t, got, CodeMissingField, "summary is required")
	assert.GreaterOrEqual(t, len(report.ByFile()["commands/qa/review/meta.yaml"]), 4)
}

func TestSchemaLayerFieldChecks(t *testing.T) {
	tests := []struct {
		name string
		spec primitivetest.Spec
		edit func(t *testing.T, dir string)
		code string
	}{
		{
			name: "identity mismatch",
			spec: primitivetest.Spec{Ref: "agent/qa/reviewer"},
			edit: func(t *testing.T, dir string) {
				meta, err := primitive.LoadMetadata(dir)
				require.NoError(t, err)
				meta.ID = "other"
				require.NoError(t, primitive.SaveMetadata(dir, meta))
			},
			code: CodeMismatch,
		},
		{
			name: "unsupported spec version",
			spec: primitivetest.Spec{Ref: "agent/qa/reviewer"},
			edit: func(t *testing.T, dir string) {
				meta, err := primitive.LoadMetadata(dir)
				require.NoError(t, err)
				meta.SpecVersion = "v9"
				require.NoError(t, primitive.SaveMetadata(dir, meta))
			},
			code: CodeUnsupportedVersion,
		},
		{
			name: "bad hash format",
			spec: primitivetest.Spec{Ref: "agent/qa/reviewer", Versions: []primitivetest.Version{
				{N: 1, Status: primitive.StatusActive, Content: "x", Hash: "sha256:abc"},
			}},
			code: CodeInvalidField,
		},
		{
			name: "duplicate version number",
			spec: primitivetest.Spec{Ref: "agent/qa/reviewer", Versions: []primitivetest.Version{
				{N: 1, Status: primitive.StatusActive, Content: "x"},
				{N: 1, Status: primitive.StatusDraft, Content: "x"},
			}},
			code: CodeDuplicate,
		},
		{
			name: "unknown frontmatter key",
			spec: primitivetest.Spec{Ref: "command/qa/review", Versions: []primitivetest.Version{
				{N: 1, Status: primitive.StatusActive, Content: "---\ndescription: Review\nauthor: me\n---\n\nBody\n"},
			}},
			code: CodeInvalidField,
		},
		{
			name: "hook without middleware",
			spec: primitivetest.Spec{Ref: "hook/security/bash-guard"},
			code: CodeMissingField,
		},
		{
			name: "unknown event",
			spec: primitivetest.Spec{
				Ref:        "hook/security/bash-guard",
				Middleware: primitivetest.Middleware("before_everything", "", "check"),
				Validators: map[string]string{"check.sh": "exit 0\n"},
			},
			code: CodeInvalidField,
		},
		{
			name: "bad tool runtime",
			spec: primitivetest.Spec{
				Ref: "tool/search/grep-docs",
				Tool: func() *primitive.ToolSpec {
					spec := primitivetest.Tool("grep_docs")
					spec.Adapter.Runtime = "cobol"
					return spec
				}(),
				Impl: map[string]string{"main.py": "\n"},
			},
			code: CodeInvalidField,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := primitivetest.New(t)
			dir := f.Add(tt.spec)
			if tt.edit != nil {
				tt.edit(t, dir)
			}

			report := validate(t, f, nil)

			require.True(t, report.HasErrors())
			assert.Equal(t, LayerSchema, report.Layer)
			assert.Contains(t, codes(report.Issues), tt.code, "%v", report.Err())
		})
	}
}

func TestHandWrittenMetadata(t *testing.T) {
	const content = "# review\n\nReview the diff.\n"
	metaFor := func(created string) string {
		return `spec_version: v1
id: review
kind: command
category: qa
summary: Review the working tree
versions:
  - version: 1
    status: active
    hash: ` + primitive.ComputeHash([]byte(content)) + `
    created: ` + created + `
`
	}

	tests := []struct {
		name    string
		created string
		valid   bool
	}{
		{"unquoted date", "2026-01-15", true},
		{"quoted date", `"2026-01-15"`, true},
		{"timestamp with a clock", "2026-01-15T10:30:00Z", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := primitivetest.New(t)
			f.Write("commands/qa/review/meta.yaml", metaFor(tt.created))
			f.Write("commands/qa/review/review.v1.md", content)

			report := validate(t, f, nil)

			if tt.valid {
				assert.False(t, report.HasErrors(), "%v", report.Err())
				return
			}
			require.True(t, report.HasErrors())
			assert.Equal(t, LayerSchema, report.Layer)
			assert.Contains(t, codes(report.Issues), CodeInvalidField)
			assert.Contains(t, report.Err().Error(), "must be a YYYY-MM-DD date")
		})
	}
}

func TestSafetyTimeout(t *testing.T) {
	toolYAML := func(safety string) string {
		return `name: grep_docs
description: 2026-01-15
adapter:
  runtime: python
  entrypoint: main.py
` + safety
	}

	tests := []struct {
		name   string
		safety string
		valid  bool
	}{
		{"absent", "", true},
		{"positive", "safety:\n  timeout_seconds: 30\n", true},
		{"explicit zero", "safety:\n  timeout_seconds: 0\n", false},
		{"negative", "safety:\n  timeout_seconds: -5\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := primitivetest.New(t)
			f.Add(primitivetest.Spec{
				Ref:   "tool/search/grep-docs",
				Impl:  map[string]string{"main.py": "print('ok')\n"},
				Extra: map[string]string{primitive.ToolSpecFile: toolYAML(tt.safety)},
			})

			report := validate(t, f, nil)

			if tt.valid {
				assert.False(t, report.HasErrors(), "%v", report.Err())
				return
			}
			require.True(t, report.HasErrors())
			assert.Equal(t, LayerSchema, report.Layer)
			assert.Contains(t, report.Err().Error(), "safety.timeout_seconds must be > 0")
		})
	}
}

func TestSemanticLayer(t *testing.T) {
	active := func(content string) primitivetest.Version {
		return primitivetest.Version{N: 1, Status: primitive.StatusActive, Content: content}
	}

	tests := []struct {
		name string
		add  func(t *testing.T, f *primitivetest.Fixture)
		code string
	}{
		{
			name: "dangling tool reference",
			add: func(t *testing.T, f *primitivetest.Fixture) {
				f.Add(primitivetest.Spec{Ref: "agent/qa/reviewer", Tools: []string{"search/missing"}})
			},
			code: CodeDanglingReference,
		},
		{
			name: "unknown builtin tool",
			add: func(t *testing.T, f *primitivetest.Fixture) {
				f.Add(primitivetest.Spec{Ref: "command/qa/review", Tools: []string{"Teleport"}})
			},
			code: CodeDanglingReference,
		},
		{
			name: "dangling skill reference",
			add: func(t *testing.T, f *primitivetest.Fixture) {
				f.Add(primitivetest.Spec{Ref: "agent/qa/reviewer", Skills: []string{"writing/missing"}})
			},
			code: CodeDanglingReference,
		},
		{
			name: "unknown model",
			add: func(t *testing.T, f *primitivetest.Fixture) {
				f.Add(primitivetest.Spec{Ref: "agent/qa/reviewer", Model: "gpt-9"})
			},
			code: CodeDanglingReference,
		},
		{
			name: "duplicate agent id across categories",
			add: func(t *testing.T, f *primitivetest.Fixture) {
				f.Add(primitivetest.Spec{Ref: "agent/qa/reviewer"})
				f.Add(primitivetest.Spec{Ref: "agent/ops/reviewer"})
			},
			code: CodeDuplicateID,
		},
		{
			name: "duplicate tool name",
			add: func(t *testing.T, f *primitivetest.Fixture) {
				f.Add(primitivetest.Spec{Ref: "tool/search/a", Tool: primitivetest.Tool("grep"), Impl: map[string]string{"main.py": "\n"}})
				f.Add(primitivetest.Spec{Ref: "tool/search/b", Tool: primitivetest.Tool("grep"), Impl: map[string]string{"main.py": "\n"}})
			},
			code: CodeDuplicateID,
		},
		{
			name: "missing tool entrypoint",
			add: func(t *testing.T, f *primitivetest.Fixture) {
				f.Add(primitivetest.Spec{Ref: "tool/search/grep-docs", Tool: primitivetest.Tool("grep_docs"), Impl: map[string]string{"other.py": "\n"}})
			},
			code: CodeDanglingReference,
		},
		{
			name: "missing hook validator",
			add: func(t *testing.T, f *primitivetest.Fixture) {
				f.Add(primitivetest.Spec{
					Ref:        "hook/security/bash-guard",
					Middleware: primitivetest.Middleware(primitive.EventPreToolUse, "Bash", "check_bash"),
					Validators: map[string]string{"other.py": "\n"},
				})
			},
			code: CodeDanglingReference,
		},
		{
			name: "ambiguous hook validator",
			add: func(t *testing.T, f *primitivetest.Fixture) {
				f.Add(primitivetest.Spec{
					Ref:        "hook/security/bash-guard",
					Middleware: primitivetest.Middleware(primitive.EventPreToolUse, "Bash", "check_bash"),
					Validators: map[string]string{"check_bash.py": "\n", "check_bash.sh": "\n"},
				})
			},
			code: CodeAmbiguousValidator,
		},
		{
			name: "active hash mismatch",
			add: func(t *testing.T, f *primitivetest.Fixture) {
				dir := f.Add(primitivetest.Spec{Ref: "command/qa/review", Versions: []primitivetest.Version{active("original\n")}})
				require.NoError(t, os.WriteFile(filepath.Join(dir, "review.v1.md"), []byte("tampered\n"), 0o644))
			},
			code: CodeHashMismatch,
		},
		{
			name: "missing content",
			add: func(t *testing.T, f *primitivetest.Fixture) {
				dir := f.Add(primitivetest.Spec{Ref: "command/qa/review"})
				require.NoError(t, os.Remove(filepath.Join(dir, "review.v1.md")))
			},
			code: CodeMissingContent,
		},
		{
			name: "orphan content",
			add: func(t *testing.T, f *primitivetest.Fixture) {
				f.Add(primitivetest.Spec{Ref: "command/qa/review", Extra: map[string]string{"review.v7.md": "stray\n"}})
			},
			code: CodeOrphanContent,
		},
		{
			name: "no active version",
			add: func(t *testing.T, f *primitivetest.Fixture) {
				f.Add(primitivetest.Spec{Ref: "command/qa/review", Versions: []primitivetest.Version{
					{N: 1, Status: primitive.StatusDeprecated, Content: "x"},
					{N: 2, Status: primitive.StatusDraft, Content: "y"},
				}})
			},
			code: CodeMissingActive,
		},
		{
			name: "several active versions",
			add: func(t *testing.T, f *primitivetest.Fixture) {
				f.Add(primitivetest.Spec{Ref: "command/qa/review", Versions: []primitivetest.Version{
					{N: 1, Status: primitive.StatusActive, Content: "x"},
					{N: 2, Status: primitive.StatusActive, Content: "y"},
				}})
			},
			code: CodeAmbiguousActive,
		},
		{
			name: "default version is a draft",
			add: func(t *testing.T, f *primitivetest.Fixture) {
				f.Add(primitivetest.Spec{Ref: "command/qa/review", DefaultVersion: 2, Versions: []primitivetest.Version{
					{N: 1, Status: primitive.StatusActive, Content: "x"},
					{N: 2, Status: primitive.StatusDraft, Content: "y"},
				}})
			},
			code: CodeInvalidDefault,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := primitivetest.New(t)
			tt.add(t, f)

			report := validate(t, f, nil)

			require.True(t, report.HasErrors())
			assert.Equal(t, LayerSemantic, report.Layer)
			assert.Contains(t, codes(report.Issues), tt.code, "%v", report.Err())
		})
	}
}

func TestSemanticWarnings(t *testing.T) {
	f := primitivetest.New(t)
	dir := f.Add(primitivetest.Spec{Ref: "command/qa/review", Versions: []primitivetest.Version{
		{N: 1, Status: primitive.StatusActive, Content: "v1\n"},
		{N: 2, Status: primitive.StatusDraft, Content: "v2\n"},
	}})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "review.v2.md"), []byte("v2 edited\n"), 0o644))
	f.Add(primitivetest.Spec{Ref: "agent/qa/drafting", Versions: []primitivetest.Version{
		{N: 1, Status: primitive.StatusDraft, Content: "wip\n"},
	}})
	f.Add(primitivetest.Spec{Ref: "skill/writing/retired", Versions: []primitivetest.Version{
		{N: 1, Status: primitive.StatusArchived, Content: "old\n"},
		{N: 2, Status: primitive.StatusArchived, Content: "abandoned\n"},
	}})
	f.Add(primitivetest.Spec{
		Ref:        "hook/security/bash-guard",
		Middleware: primitivetest.Middleware(primitive.EventPreToolUse, "Bash", "check_bash"),
		Validators: map[string]string{"check_bash.py": "\n", "leftover.py": "\n"},
	})

	report := validate(t, f, nil)

	assert.False(t, report.HasErrors(), "%v", report.Err())
	got := codes(report.Warnings)
	assert.ElementsMatch(t, []string{CodeDraftOnly, CodeArchivedOnly, CodeStaleDraftHash, CodeUnusedValidatorFile}, got)
}

func TestDeprecatedWithoutActiveIsAnError(t *testing.T) {
	f := primitivetest.New(t)
	f.Add(primitivetest.Spec{Ref: "skill/writing/retired", Versions: []primitivetest.Version{
		{N: 1, Status: primitive.StatusDeprecated, Content: "old\n"},
		{N: 2, Status: primitive.StatusArchived, Content: "abandoned\n"},
	}})

	report := validate(t, f, nil)

	require.True(t, report.HasErrors())
	assert.Contains(t, codes(report.Issues), CodeMissingActive)
}

func TestAmbiguityResolvedByDefaultOrPin(t *testing.T) {
	versions := []primitivetest.Version{
		{N: 1, Status: primitive.StatusActive, Content: "x"},
		{N: 2, Status: primitive.StatusActive, Content: "y"},
	}

	t.Run("default_version", func(t *testing.T) {
		f := primitivetest.New(t)
		f.Add(primitivetest.Spec{Ref: "command/qa/review", DefaultVersion: 2, Versions: versions})
		assert.False(t, validate(t, f, nil).HasErrors())
	})

	t.Run("pin", func(t *testing.T) {
		f := primitivetest.New(t)
		f.Add(primitivetest.Spec{Ref: "command/qa/review", Versions: versions})
		writeFile(t, filepath.Join(f.Repo, config.FileName), "pins:\n  command/qa/review: 1\n")
		cfg, err := config.Load(config.NewViper(f.Repo), f.Repo)
		require.NoError(t, err)

		assert.False(t, validate(t, f, cfg).HasErrors())
	})

	t.Run("pin to unknown primitive", func(t *testing.T) {
		f := primitivetest.New(t)
		f.Add(primitivetest.Spec{Ref: "command/qa/review"})
		writeFile(t, filepath.Join(f.Repo, config.FileName), "pins:\n  command/qa/gone: 1\n")
		cfg, err := config.Load(config.NewViper(f.Repo), f.Repo)
		require.NoError(t, err)

		report := validate(t, f, cfg)
		assert.Equal(t, []string{CodeInvalidPin}, codes(report.Issues))
	})
}

func TestValidatePathSinglePrimitive(t *testing.T) {
	f := validRepository(t)
	// break an unrelated primitive
	f.Write("commands/qa/review/meta.yaml", "nonsense: [\n")

	agentDir := primitive.Dir(f.Root, primitive.Ref{Kind: primitive.KindAgent, Category: "qa", ID: "reviewer"})
	report, err := ValidatePath(context.Background(), agentDir, config.Default(f.Repo))
	require.NoError(t, err)

	assert.False(t, report.HasErrors(), "%v", report.Err())
	assert.Equal(t, 1, report.Primitives)

	report, err = ValidatePath(context.Background(), f.Root, config.Default(f.Repo))
	require.NoError(t, err)
	assert.True(t, report.HasErrors())
	assert.Equal(t, LayerSchema, report.Layer)
}

func TestReportGrouping(t *testing.T) {
	f := primitivetest.New(t)
	f.Add(primitivetest.Spec{Ref: "agent/qa/reviewer", Model: "gpt-9", Tools: []string{"search/missing"}})

	report := validate(t, f, nil)

	ref := primitive.Ref{Kind: primitive.KindAgent, Category: "qa", ID: "reviewer"}
	assert.Len(t, report.IssuesFor(ref), 2)
	assert.Len(t, report.ByLayer()[LayerSemantic], 2)
	assert.Equal(t, []string{"agents/qa/reviewer/meta.yaml"}, report.Files())

	err := report.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 validation error(s)")
	assert.Contains(t, err.Error(), "[semantic] agents/qa/reviewer/meta.yaml")
}
