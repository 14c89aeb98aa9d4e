// Package validator proves primitive sources are well formed before they are
// built. Validation runs three ordered layers (structural, schema, semantic);
// every issue within a layer is collected, and a layer with errors stops the
// layers after it.
package validator

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/jingkaihe/primforge/pkg/config"
	"github.com/jingkaihe/primforge/pkg/logger"
	"github.com/jingkaihe/primforge/pkg/primitive"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Layer is one validation pass
type Layer int

// Validation layers in execution order
const (
	LayerStructural Layer = iota + 1
	LayerSchema
	LayerSemantic
)

func (l Layer) String() string {
	switch l {
	case LayerStructural:
		return "structural"
	case LayerSchema:
		return "schema"
	case LayerSemantic:
		return "semantic"
	default:
		return "unknown"
	}
}

// Issue codes
const (
	CodeUnknownKindDir      = "unknown-kind-dir"
	CodeStrayFile           = "stray-file"
	CodeInvalidName         = "invalid-name"
	CodeMissingMetadata     = "missing-metadata"
	CodeOrphanFile          = "orphan-file"
	CodeMissingToolSpec     = "missing-tool-spec"
	CodeMissingImpl         = "missing-impl"
	CodeParseError          = "parse-error"
	CodeInvalidField        = "invalid-field"
	CodeMissingField        = "missing-field"
	CodeMismatch            = "identity-mismatch"
	CodeUnsupportedVersion  = "unsupported-spec-version"
	CodeDuplicate           = "duplicate"
	CodeFieldNotAllowed     = "field-not-allowed"
	CodeDuplicateID         = "duplicate-id"
	CodeDanglingReference   = "dangling-reference"
	CodeAmbiguousValidator  = "ambiguous-validator"
	CodeMissingActive       = "missing-active-version"
	CodeMissingContent      = "missing-content"
	CodeOrphanContent       = "orphan-content"
	CodeHashMismatch        = "hash-mismatch"
	CodeInvalidDefault      = "invalid-default-version"
	CodeInvalidPin          = "invalid-pin"
	CodeAmbiguousActive     = "ambiguous-active-versions"
	CodeStaleDraftHash      = "stale-draft-hash"
	CodeDraftOnly           = "draft-only"
	CodeArchivedOnly        = "archived-only"
	CodeUnusedValidatorFile = "unused-validator-file"
)

// Issue is a single validation finding
type Issue struct {
	Layer   Layer
	Code    string
	Path    string
	Ref     string
	Message string
}

func (i *Issue) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] ", i.Layer)
	if i.Path != "" {
		b.WriteString(i.Path)
		b.WriteString(": ")
	}
	b.WriteString(i.Message)
	if i.Ref != "" {
		fmt.Fprintf(&b, " (%s)", i.Ref)
	}
	return b.String()
}

// Report is the outcome of a validation run
type Report struct {
	Root       string
	Layer      Layer // last layer that ran
	Primitives int
	Issues     []*Issue
	Warnings   []*Issue
}

// HasErrors reports whether any layer produced an error
func (r *Report) HasErrors() bool {
	return len(r.Issues) > 0
}

// Err aggregates every issue into a single error, or nil
func (r *Report) Err() error {
	if !r.HasErrors() {
		return nil
	}
	var result *multierror.Error
	for _, issue := range r.Issues {
		result = multierror.Append(result, issue)
	}
	result.ErrorFormat = func(errs []error) string {
		lines := make([]string, 0, len(errs)+1)
		lines = append(lines, fmt.Sprintf("%d validation error(s):", len(errs)))
		for _, err := range errs {
			lines = append(lines, "  "+err.Error())
		}
		return strings.Join(lines, "\n")
	}
	return result
}

// ByLayer groups issues by layer
func (r *Report) ByLayer() map[Layer][]*Issue {
	out := make(map[Layer][]*Issue)
	for _, issue := range r.Issues {
		out[issue.Layer] = append(out[issue.Layer], issue)
	}
	return out
}

// ByFile groups issues by file path
func (r *Report) ByFile() map[string][]*Issue {
	out := make(map[string][]*Issue)
	for _, issue := range r.Issues {
		out[issue.Path] = append(out[issue.Path], issue)
	}
	return out
}

// Files returns the sorted set of files with issues
func (r *Report) Files() []string {
	byFile := r.ByFile()
	files := make([]string, 0, len(byFile))
	for f := range byFile {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// IssuesFor returns the issues attached to a primitive ref
func (r *Report) IssuesFor(ref primitive.Ref) []*Issue {
	var out []*Issue
	for _, issue := range r.Issues {
		if issue.Ref == ref.String() {
			out = append(out, issue)
		}
	}
	return out
}

// Request describes what to validate
type Request struct {
	// Root is the spec root, e.g. primitives/v1
	Root string
	// Targets restricts validation to these primitives; nil validates the
	// whole root including its top-level layout. References always resolve
	// against every primitive under Root.
	Targets []primitive.Ref
	Config  *config.Project
}

// Validate runs the three layers over the requested primitives. The error
// return is reserved for failures to read the tree; validation findings are
// reported through the Report.
func Validate(ctx context.Context, req Request) (*Report, error) {
	cfg := req.Config
	if cfg == nil {
		cfg = config.Default("")
	}

	root, err := filepath.Abs(req.Root)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve spec root")
	}

	universe, err := primitive.Discover(root)
	if err != nil {
		return nil, err
	}

	targets := universe
	if req.Targets != nil {
		targets = filterCandidates(universe, req.Targets)
	}

	v := &run{
		root:     root,
		cfg:      cfg,
		universe: universe,
		targets:  targets,
		report:   &Report{Root: root, Primitives: len(targets)},
	}
	log := logger.G(ctx).WithField("root", root)

	v.report.Layer = LayerStructural
	if req.Targets == nil {
		v.add(v.checkLayout()...)
	}
	v.add(v.forEach(ctx, v.checkStructure)...)
	if v.report.HasErrors() {
		log.WithField("errors", len(v.report.Issues)).Debug("structural validation failed")
		return v.finish(), nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v.report.Layer = LayerSchema
	v.docs = make([]*documents, len(targets))
	v.add(v.forEachIndexed(ctx, func(i int, c primitive.Candidate) []*Issue {
		docs, issues := v.checkSchema(c)
		v.docs[i] = docs
		return issues
	})...)
	if v.report.HasErrors() {
		log.WithField("errors", len(v.report.Issues)).Debug("schema validation failed")
		return v.finish(), nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v.report.Layer = LayerSemantic
	v.add(v.checkDuplicates()...)
	v.add(v.forEachIndexed(ctx, func(i int, c primitive.Candidate) []*Issue {
		return v.checkSemantics(c, v.docs[i])
	})...)
	if req.Targets == nil {
		v.add(v.checkPins()...)
	}

	log.WithField("errors", len(v.report.Issues)).
		WithField("warnings", len(v.report.Warnings)).
		Debug("validation finished")
	return v.finish(), nil
}

// ValidatePath validates either a whole spec root or a single primitive directory
func ValidatePath(ctx context.Context, path string, cfg *config.Project) (*Report, error) {
	if root, ref, ok := primitive.LocatePrimitive(path); ok {
		return Validate(ctx, Request{Root: root, Targets: []primitive.Ref{ref}, Config: cfg})
	}
	return Validate(ctx, Request{Root: path, Config: cfg})
}

type run struct {
	root     string
	cfg      *config.Project
	universe []primitive.Candidate
	targets  []primitive.Candidate
	docs     []*documents
	idx      index
	report   *Report
}

func (v *run) add(issues ...*Issue) {
	for _, issue := range issues {
		if issue.Layer == 0 {
			issue.Layer = v.report.Layer
		}
		if isWarning(issue.Code) {
			v.report.Warnings = append(v.report.Warnings, issue)
			continue
		}
		v.report.Issues = append(v.report.Issues, issue)
	}
}

func (v *run) finish() *Report {
	sortIssues(v.report.Issues)
	sortIssues(v.report.Warnings)
	return v.report
}

// rel returns path relative to the spec root for display
func (v *run) rel(path string) string {
	if rel, err := filepath.Rel(v.root, path); err == nil {
		return filepath.ToSlash(rel)
	}
	return path
}

func (v *run) forEach(ctx context.Context, fn func(primitive.Candidate) []*Issue) []*Issue {
	return v.forEachIndexed(ctx, func(_ int, c primitive.Candidate) []*Issue { return fn(c) })
}

// forEachIndexed fans fn out over the targets on a bounded pool. Results are
// collected per index so the order never depends on scheduling.
func (v *run) forEachIndexed(ctx context.Context, fn func(int, primitive.Candidate) []*Issue) []*Issue {
	results := make([][]*Issue, len(v.targets))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(v.cfg.Workers)
	for i, c := range v.targets {
		g.Go(func() error {
			results[i] = fn(i, c)
			return nil
		})
	}
	_ = g.Wait()

	var out []*Issue
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}

func filterCandidates(all []primitive.Candidate, refs []primitive.Ref) []primitive.Candidate {
	want := make(map[primitive.Ref]bool, len(refs))
	for _, r := range refs {
		want[r] = true
	}
	var out []primitive.Candidate
	for _, c := range all {
		if want[c.Ref] {
			out = append(out, c)
		}
	}
	return out
}

func isWarning(code string) bool {
	switch code {
	case CodeStaleDraftHash, CodeDraftOnly, CodeArchivedOnly, CodeUnusedValidatorFile:
		return true
	}
	return false
}

func sortIssues(issues []*Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		a, b := issues[i], issues[j]
		if a.Layer != b.Layer {
			return a.Layer < b.Layer
		}
		if a.Ref != b.Ref {
			return a.Ref < b.Ref
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.Message < b.Message
	})
}
