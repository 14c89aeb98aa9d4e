// Package build compiles a validated set of primitives into one provider's
// native layout. A build either writes its complete output together with a
// manifest or writes nothing at all.
package build

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/jingkaihe/primforge/pkg/config"
	"github.com/jingkaihe/primforge/pkg/logger"
	"github.com/jingkaihe/primforge/pkg/manifest"
	"github.com/jingkaihe/primforge/pkg/primitive"
	"github.com/jingkaihe/primforge/pkg/providers"
	"github.com/jingkaihe/primforge/pkg/telemetry"
	"github.com/jingkaihe/primforge/pkg/validator"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// ErrValidationFailed is returned when the selected primitives do not validate
var ErrValidationFailed = errors.New("validation failed")

// Options configures a build
type Options struct {
	Provider  string
	Selection Selection
	// OutputDir defaults to <build_dir>/<provider>
	OutputDir string
	// Clean discards files of a previous build that this build does not produce
	Clean    bool
	Config   *config.Project
	Workers  int
	Registry *providers.Registry
	Now      func() time.Time
}

// Built is one rendered primitive
type Built struct {
	Ref     primitive.Ref
	Version int
	Files   []string
}

// Skip is a selected primitive that was not built
type Skip struct {
	Ref    primitive.Ref
	Reason string
}

// Summary is the outcome of a build
type Summary struct {
	BuildID    string
	Provider   string
	OutputDir  string
	Primitives []Built
	Files      int
	Skipped    []Skip
	Errors     []error
	Report     *validator.Report
	Manifest   *manifest.Manifest
}

type rendered struct {
	job    *job
	output *providers.Output
	err    error
}

// Build runs discovery, selection, validation, rendering and the final write.
// On error the returned Summary still carries the validation report and every
// collected failure; the output directory is left untouched.
func Build(ctx context.Context, opts Options) (*Summary, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default("")
	}
	reg := opts.Registry
	if reg == nil {
		reg = DefaultRegistry()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	workers := opts.Workers
	if workers < 1 {
		workers = cfg.Workers
	}

	prov, err := reg.Provider(opts.Provider)
	if err != nil {
		return nil, err
	}

	outDir := opts.OutputDir
	if outDir == "" {
		outDir = cfg.BuildDirFor(prov.Name)
	}

	summary := &Summary{
		BuildID:   uuid.NewString(),
		Provider:  prov.Name,
		OutputDir: outDir,
	}
	ctx = logger.WithFields(logger.WithProvider(ctx, prov.Name), logrus.Fields{logger.FieldBuildID: summary.BuildID})
	log := logger.G(ctx)

	err = telemetry.WithSpan(ctx, "build", func(ctx context.Context) error {
		return run(ctx, &builder{
			opts:     opts,
			cfg:      cfg,
			reg:      reg,
			prov:     prov,
			root:     cfg.SpecRootDir(),
			outDir:   outDir,
			workers:  workers,
			now:      now,
			summary:  summary,
			toolName: make(map[string]string),
		})
	}, attribute.String("provider", prov.Name), attribute.String("build_id", summary.BuildID))
	if err != nil {
		return summary, err
	}

	log.WithFields(logrus.Fields{
		"primitives": len(summary.Primitives),
		"files":      summary.Files,
		"skipped":    len(summary.Skipped),
		"output":     outDir,
	}).Info("build finished")
	return summary, nil
}

type builder struct {
	opts     Options
	cfg      *config.Project
	reg      *providers.Registry
	prov     *providers.Provider
	root     string
	outDir   string
	workers  int
	now      func() time.Time
	summary  *Summary
	toolName map[string]string
}

func run(ctx context.Context, b *builder) error {
	var selected []primitive.Candidate
	err := telemetry.WithSpan(ctx, "build.select", func(ctx context.Context) error {
		var err error
		selected, err = b.selectCandidates(ctx)
		return err
	})
	if err != nil {
		return err
	}

	if err := telemetry.WithSpan(ctx, "build.validate", func(ctx context.Context) error {
		return b.validate(ctx, selected)
	}); err != nil {
		return err
	}

	var jobs []*job
	if err := telemetry.WithSpan(ctx, "build.resolve", func(ctx context.Context) error {
		var err error
		jobs, err = b.resolve(ctx, selected)
		return err
	}); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := telemetry.WithSpan(ctx, "build.plan", func(ctx context.Context) error {
		return planOutputs(b.prov, jobs)
	}); err != nil {
		return b.fail(err)
	}

	var results []rendered
	if err := telemetry.WithSpan(ctx, "build.render", func(ctx context.Context) error {
		var err error
		results, err = b.render(ctx, jobs)
		return err
	}); err != nil {
		return b.fail(err)
	}

	files, m, err := b.collect(results)
	if err != nil {
		return b.fail(err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	return telemetry.WithSpan(ctx, "build.write", func(ctx context.Context) error {
		if err := writeOutput(ctx, b.outDir, files, m, b.opts.Clean); err != nil {
			return err
		}
		b.summary.Manifest = m
		b.summary.Files = len(files)
		return nil
	})
}

// fail records every error aggregated in err on the summary
func (b *builder) fail(err error) error {
	var merr *multierror.Error
	if errors.As(err, &merr) {
		b.summary.Errors = append(b.summary.Errors, merr.Errors...)
	} else {
		b.summary.Errors = append(b.summary.Errors, err)
	}
	return err
}

func (b *builder) selectCandidates(ctx context.Context) ([]primitive.Candidate, error) {
	all, err := primitive.Discover(b.root)
	if err != nil {
		return nil, err
	}

	var selected []primitive.Candidate
	for _, c := range all {
		if !b.opts.Selection.Matches(c.Ref) {
			continue
		}
		if b.cfg.Excluded(c.Ref) {
			logger.G(ctx).WithField(logger.FieldPrimitive, c.Ref.String()).Debug("excluded by configuration")
			continue
		}
		selected = append(selected, c)
	}
	telemetry.SetAttributes(ctx, attribute.Int("primitives.discovered", len(all)), attribute.Int("primitives.selected", len(selected)))
	return selected, nil
}

func (b *builder) validate(ctx context.Context, selected []primitive.Candidate) error {
	req := validator.Request{Root: b.root, Config: b.cfg}
	if len(b.opts.Selection) > 0 || len(b.cfg.Exclude) > 0 {
		req.Targets = make([]primitive.Ref, 0, len(selected))
		for _, c := range selected {
			req.Targets = append(req.Targets, c.Ref)
		}
	}

	report, err := validator.Validate(ctx, req)
	if err != nil {
		return err
	}
	b.summary.Report = report
	if report.HasErrors() {
		b.summary.Errors = append(b.summary.Errors, report.Err())
		return errors.Wrapf(ErrValidationFailed, "%d issue(s) in the %s layer", len(report.Issues), report.Layer)
	}
	return nil
}

func (b *builder) resolve(ctx context.Context, selected []primitive.Candidate) ([]*job, error) {
	var jobs []*job
	var result *multierror.Error

	for _, c := range selected {
		log := logger.G(ctx).WithField(logger.FieldPrimitive, c.Ref.String())

		meta, err := primitive.LoadMetadata(c.Dir)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if meta.DraftOnly() {
			log.Info("skipping primitive with only draft versions")
			b.summary.Skipped = append(b.summary.Skipped, Skip{Ref: c.Ref, Reason: "draft only"})
			continue
		}
		if meta.Retired() {
			log.Info("skipping primitive with only archived versions")
			b.summary.Skipped = append(b.summary.Skipped, Skip{Ref: c.Ref, Reason: "archived"})
			continue
		}

		renderer, err := b.reg.Renderer(b.prov.Name, c.Ref.Kind)
		if err != nil {
			var transform *providers.TransformError
			if errors.As(err, &transform) {
				transform.Ref = c.Ref.String()
			}
			result = multierror.Append(result, err)
			continue
		}

		r, err := primitive.Load(c, b.cfg.Pin(c.Ref))
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if r.ToolNames, err = b.toolNames(r.Meta.Tools); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "failed to resolve tools of %s", c.Ref))
			continue
		}

		log.WithField(logger.FieldVersion, r.Version.Version).Debug("resolved version")
		jobs = append(jobs, &job{resolved: r, renderer: renderer})
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, b.fail(err)
	}
	return jobs, nil
}

// toolNames maps category/id tool references to the referenced tool's name
func (b *builder) toolNames(tools []string) (map[string]string, error) {
	out := make(map[string]string)
	for _, t := range tools {
		if !strings.Contains(t, "/") {
			continue
		}
		if name, ok := b.toolName[t]; ok {
			out[t] = name
			continue
		}
		category, id, _ := strings.Cut(t, "/")
		spec, err := primitive.LoadToolSpec(primitive.Dir(b.root, primitive.Ref{Kind: primitive.KindTool, Category: category, ID: id}))
		if err != nil {
			return nil, err
		}
		b.toolName[t] = spec.Name
		out[t] = spec.Name
	}
	return out, nil
}

func (b *builder) render(ctx context.Context, jobs []*job) ([]rendered, error) {
	results := make([]rendered, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for i, j := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = rendered{job: j, err: err}
				return nil
			}
			out, err := j.renderer.Render(j.resolved)
			if err != nil {
				err = errors.Wrapf(err, "failed to render %s", j.resolved.Ref)
			}
			results[i] = rendered{job: j, output: out, err: err}
			logger.G(logger.WithPrimitive(gctx, j.resolved.Ref.String())).
				WithField("renderer", j.renderer.Name()).
				Debug("rendered")
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(i, k int) bool {
		return results[i].job.resolved.Ref.String() < results[k].job.resolved.Ref.String()
	})

	var result *multierror.Error
	for _, r := range results {
		if r.err != nil {
			result = multierror.Append(result, r.err)
		}
	}
	return results, result.ErrorOrNil()
}

// collect turns render results into the final file set and manifest. Central
// documents are assembled from fragments in primitive order.
func (b *builder) collect(results []rendered) ([]providers.File, *manifest.Manifest, error) {
	at := b.now()
	builtAt := at.UTC().Format(time.RFC3339)
	m := manifest.New(b.prov.Name, b.summary.BuildID, at)

	var files []providers.File
	var fragments []providers.Fragment
	var result *multierror.Error
	owner := make(map[string]string)

	add := func(f providers.File, entry manifest.Entry, by string) {
		if prev, ok := owner[f.Path]; ok {
			result = multierror.Append(result, &CollisionError{Path: f.Path, Refs: []string{prev, by}})
			return
		}
		owner[f.Path] = by
		entry.Provider = b.prov.Name
		entry.Hash = primitive.ComputeHash(f.Content)
		entry.BuiltAt = builtAt
		m.Entries[f.Path] = entry
		files = append(files, f)
	}

	for _, r := range results {
		res := r.job.resolved
		built := Built{Ref: res.Ref, Version: res.Version.Version}
		for _, f := range r.output.Files {
			add(f, manifest.Entry{
				Primitive:   res.Ref.String(),
				Kind:        string(res.Ref.Kind),
				Version:     res.Version.Version,
				Transformer: r.job.renderer.Name(),
			}, res.Ref.String())
			built.Files = append(built.Files, f.Path)
		}
		fragments = append(fragments, r.output.Fragments...)
		b.summary.Primitives = append(b.summary.Primitives, built)
	}

	if b.prov.Assemble != nil {
		docs, err := b.prov.Assemble(fragments)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "failed to assemble %s documents", b.prov.Name)
		}
		for _, f := range docs {
			add(f, manifest.Entry{
				Sources:     fragmentSources(fragments, f.Path),
				Transformer: b.prov.Assembler,
			}, b.prov.Assembler)
		}
	} else if len(fragments) > 0 {
		return nil, nil, errors.Errorf("provider %s produced fragments but has no assembler", b.prov.Name)
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, nil, err
	}
	providers.SortFiles(files)
	return files, m, nil
}

func fragmentSources(fragments []providers.Fragment, doc string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range fragments {
		ref := f.Source.String()
		if f.Document == doc && !seen[ref] {
			seen[ref] = true
			out = append(out, ref)
		}
	}
	sort.Strings(out)
	return out
}
