package presenter

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTest() (*TerminalPresenter, *bytes.Buffer, *bytes.Buffer) {
	var output, errorOutput bytes.Buffer
	return NewWithOptions(&output, &errorOutput, ColorNever), &output, &errorOutput
}

func TestDetectColorMode(t *testing.T) {
	tests := []struct {
		name     string
		noColor  string
		pfColor  string
		expected ColorMode
	}{
		{"NO_COLOR set", "1", "always", ColorNever},
		{"PRIMFORGE_COLOR always", "", "always", ColorAlways},
		{"PRIMFORGE_COLOR force", "", "force", ColorAlways},
		{"PRIMFORGE_COLOR never", "", "never", ColorNever},
		{"PRIMFORGE_COLOR off", "", "off", ColorNever},
		{"default", "", "", ColorAuto},
		{"invalid value", "", "sometimes", ColorAuto},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("NO_COLOR", tt.noColor)
			t.Setenv("PRIMFORGE_COLOR", tt.pfColor)
			assert.Equal(t, tt.expected, detectColorMode())
		})
	}
}

func TestError(t *testing.T) {
	p, _, errorOutput := newTest()

	p.Error(errors.New("test error"), "build")
	assert.Equal(t, "[ERROR] build: test error\n", errorOutput.String())

	errorOutput.Reset()
	p.Error(errors.New("test error"), "")
	assert.Equal(t, "[ERROR] test error\n", errorOutput.String())

	errorOutput.Reset()
	p.Error(nil, "build")
	assert.Empty(t, errorOutput.String())
}

func TestErrorIgnoresQuietMode(t *testing.T) {
	p, _, errorOutput := newTest()
	p.SetQuiet(true)

	p.Error(errors.New("boom"), "")
	assert.Contains(t, errorOutput.String(), "boom")
}

func TestMessages(t *testing.T) {
	tests := []struct {
		name     string
		call     func(p *TerminalPresenter)
		expected string
	}{
		{"success", func(p *TerminalPresenter) { p.Success("built 3 primitives") }, "✓ built 3 primitives\n"},
		{"warning", func(p *TerminalPresenter) { p.Warning("draft hash changed") }, "⚠ draft hash changed\n"},
		{"info", func(p *TerminalPresenter) { p.Info("nothing to do") }, "nothing to do\n"},
		{"section", func(p *TerminalPresenter) { p.Section("Conflicts") }, "Conflicts\n---------\n"},
		{"separator", func(p *TerminalPresenter) { p.Separator() }, strings.Repeat("-", 60) + "\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, output, _ := newTest()
			tt.call(p)
			assert.Equal(t, tt.expected, output.String())

			output.Reset()
			p.SetQuiet(true)
			tt.call(p)
			assert.Empty(t, output.String())
		})
	}
}

func TestPrompt(t *testing.T) {
	p, output, _ := newTest()
	p.SetInput(strings.NewReader("d\n  u  \n"))

	assert.Equal(t, "d", p.Prompt("Overwrite agents/reviewer.md?", "s", "u", "d"))
	assert.Equal(t, "Overwrite agents/reviewer.md? [s/u/d]: ", output.String())
	assert.Equal(t, "u", p.Prompt("Again"))
	assert.Equal(t, "", p.Prompt("Exhausted"))
}

func TestPromptWithoutTrailingNewline(t *testing.T) {
	p, _, _ := newTest()
	p.SetInput(strings.NewReader("skip"))

	assert.Equal(t, "skip", p.Prompt("Choice"))
}

func TestTable(t *testing.T) {
	p, output, _ := newTest()

	p.Table([]string{"VERSION", "STATUS"}, [][]string{{"1", "active"}, {"2", "draft"}})

	lines := strings.Split(strings.TrimRight(output.String(), "\n"), "\n")
	require.GreaterOrEqual(t, len(lines), 3)
	assert.Contains(t, lines[0], "VERSION")
	assert.Contains(t, lines[0], "STATUS")
	assert.Contains(t, output.String(), "active")
	assert.Contains(t, output.String(), "draft")

	output.Reset()
	p.Table([]string{"VERSION"}, nil)
	assert.Empty(t, output.String())
}

func TestDiff(t *testing.T) {
	p, output, _ := newTest()
	diff := "--- installed/a.md\n+++ build/a.md\n@@ -1 +1 @@\n-old\n+new\n"

	p.Diff(diff)
	assert.Equal(t, diff, output.String())

	output.Reset()
	p.Diff("-old")
	assert.Equal(t, "-old\n", output.String())
}

func TestQuietMode(t *testing.T) {
	p, _, _ := newTest()
	assert.False(t, p.IsQuiet())

	p.SetQuiet(true)
	assert.True(t, p.IsQuiet())

	p.SetQuiet(false)
	assert.False(t, p.IsQuiet())
}

func TestDefaultPresenter(t *testing.T) {
	original := defaultPresenter
	t.Cleanup(func() { defaultPresenter = original })

	p, output, errorOutput := newTest()
	defaultPresenter = p
	assert.Same(t, p, Default())

	Error(errors.New("test error"), "install")
	assert.Equal(t, "[ERROR] install: test error\n", errorOutput.String())

	SetQuiet(true)
	assert.True(t, Default().IsQuiet())
	Default().Info("hidden")
	assert.Empty(t, output.String())
}
