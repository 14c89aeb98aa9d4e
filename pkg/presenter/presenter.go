// Package presenter writes primforge's human-facing output: status lines,
// tables, diffs and conflict prompts.
package presenter

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/fatih/color"
)

// Presenter is what commands print through
type Presenter interface {
	Error(err error, context string)
	Success(message string)
	Warning(message string)
	Info(message string)
	Section(title string)
	Prompt(question string, options ...string) string
	Table(headers []string, rows [][]string)
	Diff(diff string)
	Separator()
	SetQuiet(quiet bool)
	IsQuiet() bool
}

// TerminalPresenter writes to a terminal, honouring NO_COLOR and quiet mode
type TerminalPresenter struct {
	output      io.Writer
	errorOutput io.Writer
	input       *bufio.Reader
	colorMode   ColorMode
	quiet       bool
}

// ColorMode selects whether output is colored
type ColorMode int

const (
	// ColorAuto leaves the decision to fatih/color's tty detection
	ColorAuto ColorMode = iota
	// ColorAlways forces color on
	ColorAlways
	// ColorNever forces color off
	ColorNever
)

// New returns a presenter on stdout and stderr
func New() *TerminalPresenter {
	return NewWithOptions(os.Stdout, os.Stderr, detectColorMode())
}

// NewWithOptions returns a presenter on the given writers
func NewWithOptions(output, errorOutput io.Writer, colorMode ColorMode) *TerminalPresenter {
	p := &TerminalPresenter{
		output:      output,
		errorOutput: errorOutput,
		input:       bufio.NewReader(os.Stdin),
		colorMode:   colorMode,
	}

	switch colorMode {
	case ColorAlways:
		color.NoColor = false
	case ColorNever:
		color.NoColor = true
	case ColorAuto:
	}

	return p
}

// SetInput replaces the reader prompts are answered from
func (p *TerminalPresenter) SetInput(r io.Reader) {
	p.input = bufio.NewReader(r)
}

func detectColorMode() ColorMode {
	if os.Getenv("NO_COLOR") != "" {
		return ColorNever
	}

	switch os.Getenv("PRIMFORGE_COLOR") {
	case "always", "force":
		return ColorAlways
	case "never", "off":
		return ColorNever
	default:
		return ColorAuto
	}
}

// Error prints err to the error stream, even in quiet mode
func (p *TerminalPresenter) Error(err error, context string) {
	if err == nil {
		return
	}

	msg := err.Error()
	if context != "" {
		msg = context + ": " + msg
	}
	color.New(color.FgRed, color.Bold).Fprintf(p.errorOutput, "[ERROR] %s\n", msg)
}

// Success prints a check-marked line
func (p *TerminalPresenter) Success(message string) {
	if p.quiet {
		return
	}
	color.New(color.FgGreen, color.Bold).Fprintf(p.output, "✓ %s\n", message)
}

// Warning prints a yellow warning line
func (p *TerminalPresenter) Warning(message string) {
	if p.quiet {
		return
	}
	color.New(color.FgYellow, color.Bold).Fprintf(p.output, "⚠ %s\n", message)
}

// Info prints a plain line
func (p *TerminalPresenter) Info(message string) {
	if p.quiet {
		return
	}
	fmt.Fprintf(p.output, "%s\n", message)
}

// Section prints an underlined heading
func (p *TerminalPresenter) Section(title string) {
	if p.quiet {
		return
	}

	color.New(color.Bold).Fprintf(p.output, "%s\n%s\n", title, strings.Repeat("-", len(title)))
}

// Prompt displays a prompt and reads one line of input. Prompts are shown
// in quiet mode too.
func (p *TerminalPresenter) Prompt(question string, options ...string) string {
	promptColor := color.New(color.FgCyan)
	if len(options) > 0 {
		promptColor.Fprintf(p.output, "%s [%s]: ", question, strings.Join(options, "/"))
	} else {
		promptColor.Fprintf(p.output, "%s: ", question)
	}

	response, err := p.input.ReadString('\n')
	if err != nil && response == "" {
		return ""
	}
	return strings.TrimSpace(response)
}

// Table renders rows under a bold header
func (p *TerminalPresenter) Table(headers []string, rows [][]string) {
	if p.quiet || len(rows) == 0 {
		return
	}

	header := lipgloss.NewStyle().Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)
	if !color.NoColor {
		header = header.Bold(true)
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderColumn(false).
		BorderLeft(false).
		BorderRight(false).
		BorderTop(false).
		BorderBottom(false).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		})
	fmt.Fprintln(p.output, t.String())
}

// Diff prints a unified diff, coloring added and removed lines
func (p *TerminalPresenter) Diff(diff string) {
	if diff == "" {
		return
	}

	added := color.New(color.FgGreen)
	removed := color.New(color.FgRed)
	hunk := color.New(color.FgCyan)
	for _, line := range strings.SplitAfter(diff, "\n") {
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			color.New(color.Bold).Fprint(p.output, line)
		case strings.HasPrefix(line, "@@"):
			hunk.Fprint(p.output, line)
		case strings.HasPrefix(line, "+"):
			added.Fprint(p.output, line)
		case strings.HasPrefix(line, "-"):
			removed.Fprint(p.output, line)
		default:
			fmt.Fprint(p.output, line)
		}
	}
	if !strings.HasSuffix(diff, "\n") {
		fmt.Fprintln(p.output)
	}
}

// Separator prints a faint rule
func (p *TerminalPresenter) Separator() {
	if p.quiet {
		return
	}
	color.New(color.Faint).Fprintf(p.output, "%s\n", strings.Repeat("-", 60))
}

// SetQuiet suppresses everything but errors and prompts
func (p *TerminalPresenter) SetQuiet(quiet bool) {
	p.quiet = quiet
}

// IsQuiet reports whether quiet mode is on
func (p *TerminalPresenter) IsQuiet() bool {
	return p.quiet
}

var defaultPresenter = New()

// Default returns the process-wide presenter the CLI writes through
func Default() *TerminalPresenter {
	return defaultPresenter
}

// Error reports err on the process-wide presenter
func Error(err error, context string) {
	defaultPresenter.Error(err, context)
}

// SetQuiet toggles quiet mode on the process-wide presenter
func SetQuiet(quiet bool) {
	defaultPresenter.SetQuiet(quiet)
}
