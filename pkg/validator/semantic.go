package validator

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/jingkaihe/primforge/pkg/primitive"
)

// index is the reference universe: every primitive under the spec root,
// whether or not it is a validation target
type index struct {
	once      sync.Once
	byRef     map[primitive.Ref]primitive.Candidate
	declared  map[primitive.Ref][]primitive.Ref // declared identity -> directories claiming it
	ids       map[string][]primitive.Ref        // "agent:id" / "skill:id" -> refs
	toolNames map[string][]primitive.Ref
}

func (v *run) buildIndex() *index {
	v.idx.once.Do(func() {
		idx := &v.idx
		idx.byRef = make(map[primitive.Ref]primitive.Candidate, len(v.universe))
		idx.declared = make(map[primitive.Ref][]primitive.Ref)
		idx.ids = make(map[string][]primitive.Ref)
		idx.toolNames = make(map[string][]primitive.Ref)

		docs := make(map[primitive.Ref]*documents, len(v.targets))
		for i, c := range v.targets {
			if i < len(v.docs) && v.docs[i] != nil {
				docs[c.Ref] = v.docs[i]
			}
		}

		for _, c := range v.universe {
			idx.byRef[c.Ref] = c

			d, ok := docs[c.Ref]
			if !ok {
				d = &documents{}
				d.meta, _ = primitive.LoadMetadata(c.Dir)
				if c.Ref.Kind == primitive.KindTool {
					d.tool, _ = primitive.LoadToolSpec(c.Dir)
				}
			}

			declared := c.Ref
			if d.meta != nil && d.meta.Kind.Valid() {
				declared = d.meta.Ref()
			}
			idx.declared[declared] = append(idx.declared[declared], c.Ref)

			switch c.Ref.Kind {
			case primitive.KindAgent, primitive.KindSkill:
				key := string(c.Ref.Kind) + ":" + c.Ref.ID
				idx.ids[key] = append(idx.ids[key], c.Ref)
			case primitive.KindTool:
				if d.tool != nil && d.tool.Name != "" {
					idx.toolNames[d.tool.Name] = append(idx.toolNames[d.tool.Name], c.Ref)
				}
			}
		}
	})
	return &v.idx
}

// checkDuplicates reports identities claimed by more than one primitive
// directory. Agents and skills are addressed by bare id at runtime, so their
// ids must be unique across categories; tool names likewise.
func (v *run) checkDuplicates() []*Issue {
	idx := v.buildIndex()
	var issues []*Issue

	for _, c := range v.targets {
		ref := c.Ref
		metaPath := v.rel(filepath.Join(c.Dir, primitive.MetadataFile))

		if d := v.docFor(ref); d != nil && d.meta != nil {
			if others := without(idx.declared[d.meta.Ref()], ref); len(others) > 0 {
				issues = append(issues, &Issue{
					Code: CodeDuplicate, Path: metaPath, Ref: ref.String(),
					Message: fmt.Sprintf("identity %s is also declared by %s", d.meta.Ref(), joinRefs(others)),
				})
			}
		}

		switch ref.Kind {
		case primitive.KindAgent, primitive.KindSkill:
			if others := without(idx.ids[string(ref.Kind)+":"+ref.ID], ref); len(others) > 0 {
				issues = append(issues, &Issue{
					Code: CodeDuplicateID, Path: metaPath, Ref: ref.String(),
					Message: fmt.Sprintf("%s id %q is also used by %s", ref.Kind, ref.ID, joinRefs(others)),
				})
			}
		case primitive.KindTool:
			d := v.docFor(ref)
			if d == nil || d.tool == nil {
				continue
			}
			if others := without(idx.toolNames[d.tool.Name], ref); len(others) > 0 {
				issues = append(issues, &Issue{
					Code: CodeDuplicateID, Path: v.rel(filepath.Join(c.Dir, primitive.ToolSpecFile)), Ref: ref.String(),
					Message: fmt.Sprintf("tool name %q is also used by %s", d.tool.Name, joinRefs(others)),
				})
			}
		}
	}
	return issues
}

// checkSemantics checks references, content files, hashes and version
// invariants of one primitive whose documents decoded cleanly
func (v *run) checkSemantics(c primitive.Candidate, docs *documents) []*Issue {
	if docs == nil || docs.meta == nil {
		return nil
	}
	idx := v.buildIndex()
	meta := docs.meta
	ref := c.Ref.String()
	metaPath := v.rel(filepath.Join(c.Dir, primitive.MetadataFile))

	var issues []*Issue
	at := func(code, path, format string, args ...any) {
		issues = append(issues, &Issue{Code: code, Path: path, Ref: ref, Message: fmt.Sprintf(format, args...)})
	}

	if meta.Model != "" && !v.cfg.IsModel(meta.Model) {
		at(CodeDanglingReference, metaPath, "model %q is not a configured model (%s)", meta.Model, strings.Join(v.cfg.Models, ", "))
	}
	for _, name := range meta.Tools {
		if v.cfg.IsBuiltinTool(name) {
			continue
		}
		if !toolRefPattern.MatchString(name) {
			at(CodeDanglingReference, metaPath, "tool %q is neither a builtin tool nor a category/id tool reference", name)
			continue
		}
		target := refFromSelector(primitive.KindTool, name)
		if _, ok := idx.byRef[target]; !ok {
			at(CodeDanglingReference, metaPath, "tool %q does not exist", target)
		}
	}
	for _, name := range meta.Skills {
		target := refFromSelector(primitive.KindSkill, name)
		if _, ok := idx.byRef[target]; !ok {
			at(CodeDanglingReference, metaPath, "skill %q does not exist", target)
		}
	}

	switch c.Ref.Kind {
	case primitive.KindHook:
		issues = append(issues, v.checkHookValidators(c, meta)...)
	case primitive.KindTool:
		if docs.tool != nil {
			entry := filepath.Join(c.Dir, primitive.ImplDir, filepath.FromSlash(docs.tool.Adapter.Entrypoint))
			if info, err := os.Stat(entry); err != nil || info.IsDir() {
				at(CodeDanglingReference, v.rel(filepath.Join(c.Dir, primitive.ToolSpecFile)),
					"adapter entrypoint %q does not exist under %s/", docs.tool.Adapter.Entrypoint, primitive.ImplDir)
			}
		}
	}

	issues = append(issues, v.checkVersions(c, meta)...)
	return issues
}

func (v *run) checkHookValidators(c primitive.Candidate, meta *primitive.Metadata) []*Issue {
	ref := c.Ref.String()
	dir := filepath.Join(c.Dir, primitive.ValidatorsDir)

	byStem := make(map[string][]string)
	entries, _ := os.ReadDir(dir)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		stem := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		byStem[stem] = append(byStem[stem], entry.Name())
	}

	var issues []*Issue
	referenced := make(map[string]bool)
	for _, name := range meta.Middleware.ValidatorNames() {
		referenced[name] = true
		files := byStem[name]
		switch len(files) {
		case 0:
			issues = append(issues, &Issue{
				Code: CodeDanglingReference, Path: v.rel(dir), Ref: ref,
				Message: fmt.Sprintf("validator %q has no file under %s/", name, primitive.ValidatorsDir),
			})
		case 1:
		default:
			issues = append(issues, &Issue{
				Code: CodeAmbiguousValidator, Path: v.rel(dir), Ref: ref,
				Message: fmt.Sprintf("validator %q matches several files: %s", name, strings.Join(files, ", ")),
			})
		}
	}

	stems := make([]string, 0, len(byStem))
	for stem := range byStem {
		stems = append(stems, stem)
	}
	sort.Strings(stems)
	for _, stem := range stems {
		if referenced[stem] {
			continue
		}
		for _, name := range byStem[stem] {
			issues = append(issues, &Issue{
				Code: CodeUnusedValidatorFile, Path: v.rel(filepath.Join(dir, name)), Ref: ref,
				Message: "validator file is not referenced by any middleware event",
			})
		}
	}
	return issues
}

func (v *run) checkVersions(c primitive.Candidate, meta *primitive.Metadata) []*Issue {
	ref := c.Ref.String()
	metaPath := v.rel(filepath.Join(c.Dir, primitive.MetadataFile))
	var issues []*Issue
	at := func(code, path, format string, args ...any) {
		issues = append(issues, &Issue{Code: code, Path: path, Ref: ref, Message: fmt.Sprintf(format, args...)})
	}

	listed := make(map[int]bool, len(meta.Versions))
	for _, entry := range meta.Versions {
		listed[entry.Version] = true
		contentPath := filepath.Join(c.Dir, primitive.ContentFileName(c.Ref.ID, entry.Version))

		content, err := os.ReadFile(contentPath)
		if err != nil {
			at(CodeMissingContent, v.rel(contentPath), "content for version %d (%s) is missing", entry.Version, entry.Status)
			continue
		}

		actual := primitive.ComputeHash(content)
		if actual == entry.Hash {
			continue
		}
		if entry.Status.Immutable() {
			at(CodeHashMismatch, v.rel(contentPath), "version %d is %s but its content hash %s does not match the recorded %s",
				entry.Version, entry.Status, primitive.ShortHash(actual), primitive.ShortHash(entry.Hash))
		} else {
			at(CodeStaleDraftHash, v.rel(contentPath), "draft version %d has changed since its hash was recorded", entry.Version)
		}
	}

	entries, _ := os.ReadDir(c.Dir)
	for _, entry := range entries {
		id, n, ok := primitive.ParseContentFileName(entry.Name())
		if !ok || id != c.Ref.ID || listed[n] {
			continue
		}
		at(CodeOrphanContent, v.rel(filepath.Join(c.Dir, entry.Name())), "content file has no version entry in %s", primitive.MetadataFile)
	}

	active := meta.VersionsWithStatus(primitive.StatusActive)
	if meta.DraftOnly() {
		at(CodeDraftOnly, metaPath, "every version is a draft; nothing will be built")
	} else if meta.Retired() {
		at(CodeArchivedOnly, metaPath, "every version is archived; nothing will be built")
	} else if len(active) == 0 {
		at(CodeMissingActive, metaPath, "at least one version must be active")
	}

	if meta.DefaultVersion > 0 {
		if msg := buildableProblem(meta, meta.DefaultVersion); msg != "" {
			at(CodeInvalidDefault, metaPath, "default_version %s", msg)
		}
	}

	pin := v.cfg.Pin(c.Ref)
	if pin > 0 {
		if msg := buildableProblem(meta, pin); msg != "" {
			at(CodeInvalidPin, metaPath, "pinned version %s", msg)
		}
	}

	if len(active) > 1 && meta.DefaultVersion == 0 && pin == 0 {
		at(CodeAmbiguousActive, metaPath, "versions %s are all active; set default_version or pin one", joinInts(active))
	}

	return issues
}

// checkPins reports configured pins whose primitive does not exist
func (v *run) checkPins() []*Issue {
	idx := v.buildIndex()
	var issues []*Issue
	for _, ref := range v.cfg.PinnedRefs() {
		if _, ok := idx.byRef[ref]; ok {
			continue
		}
		issues = append(issues, &Issue{
			Code:    CodeInvalidPin,
			Ref:     ref.String(),
			Message: fmt.Sprintf("pin %s=%d names a primitive that does not exist", ref, v.cfg.Pin(ref)),
		})
	}
	return issues
}

func (v *run) docFor(ref primitive.Ref) *documents {
	for i, c := range v.targets {
		if c.Ref == ref && i < len(v.docs) {
			return v.docs[i]
		}
	}
	return nil
}

func buildableProblem(meta *primitive.Metadata, n int) string {
	entry, ok := meta.FindVersion(n)
	if !ok {
		return fmt.Sprintf("%d does not exist", n)
	}
	if !entry.Status.Buildable() {
		return fmt.Sprintf("%d is %s; it must be active or deprecated", n, entry.Status)
	}
	return ""
}

func refFromSelector(kind primitive.Kind, selector string) primitive.Ref {
	category, id, _ := strings.Cut(selector, "/")
	return primitive.Ref{Kind: kind, Category: category, ID: id}
}

func without(refs []primitive.Ref, self primitive.Ref) []primitive.Ref {
	var out []primitive.Ref
	for _, r := range refs {
		if r != self {
			out = append(out, r)
		}
	}
	return out
}

func joinRefs(refs []primitive.Ref) string {
	parts := make([]string, len(refs))
	for i, r := range refs {
		parts[i] = r.String()
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = fmt.Sprintf("v%d", n)
	}
	return strings.Join(parts, ", ")
}
