package validator

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/jingkaihe/primforge/pkg/primitive"
)

var namePattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// checkLayout inspects the top three levels of the spec root for anything
// that is not a kind, category or primitive directory
func (v *run) checkLayout() []*Issue {
	var issues []*Issue

	entries, err := os.ReadDir(v.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return []*Issue{{Code: CodeParseError, Path: v.root, Message: err.Error()}}
	}

	for _, entry := range entries {
		path := filepath.Join(v.root, entry.Name())
		if !entry.IsDir() {
			if !isDoc(entry.Name()) {
				issues = append(issues, &Issue{Code: CodeStrayFile, Path: v.rel(path), Message: "file outside any primitive directory"})
			}
			continue
		}
		if _, ok := primitive.KindFromDir(entry.Name()); !ok {
			issues = append(issues, &Issue{
				Code:    CodeUnknownKindDir,
				Path:    v.rel(path),
				Message: fmt.Sprintf("unknown kind directory %q", entry.Name()),
			})
			continue
		}
		issues = append(issues, v.checkStrayFiles(path, 2)...)
	}

	return issues
}

// checkStrayFiles reports regular files in dir and, for depth > 1, in each of
// its subdirectories. Names are checked per primitive by checkStructure.
func (v *run) checkStrayFiles(dir string, depth int) []*Issue {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return []*Issue{{Code: CodeParseError, Path: v.rel(dir), Message: err.Error()}}
	}

	var issues []*Issue
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			if depth > 1 {
				issues = append(issues, v.checkStrayFiles(path, depth-1)...)
			}
			continue
		}
		if !isDoc(entry.Name()) {
			issues = append(issues, &Issue{Code: CodeStrayFile, Path: v.rel(path), Message: "file outside any primitive directory"})
		}
	}
	return issues
}

// checkStructure verifies the file layout inside one primitive directory
func (v *run) checkStructure(c primitive.Candidate) []*Issue {
	ref := c.Ref.String()
	issue := func(code, path, format string, args ...any) *Issue {
		return &Issue{Code: code, Path: v.rel(path), Ref: ref, Message: fmt.Sprintf(format, args...)}
	}

	var issues []*Issue
	if !namePattern.MatchString(c.Ref.Category) {
		issues = append(issues, issue(CodeInvalidName, filepath.Dir(c.Dir), "category %q must be lowercase kebab-case", c.Ref.Category))
	}
	if !namePattern.MatchString(c.Ref.ID) {
		issues = append(issues, issue(CodeInvalidName, c.Dir, "id %q must be lowercase kebab-case", c.Ref.ID))
	}

	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		return append(issues, issue(CodeParseError, c.Dir, "%v", err))
	}

	var hasMeta, hasToolSpec, hasImpl bool
	for _, entry := range entries {
		name := entry.Name()
		path := filepath.Join(c.Dir, name)

		if entry.IsDir() {
			switch {
			case c.Ref.Kind == primitive.KindTool && name == primitive.ImplDir:
				hasImpl = dirHasFiles(path)
			case c.Ref.Kind == primitive.KindHook && name == primitive.ValidatorsDir:
			default:
				issues = append(issues, issue(CodeOrphanFile, path, "unexpected directory for a %s primitive", c.Ref.Kind))
			}
			continue
		}

		switch {
		case name == primitive.MetadataFile:
			hasMeta = true
		case name == primitive.ReadmeFile:
		case c.Ref.Kind == primitive.KindTool && name == primitive.ToolSpecFile:
			hasToolSpec = true
		default:
			id, _, ok := primitive.ParseContentFileName(name)
			if !ok {
				issues = append(issues, issue(CodeOrphanFile, path, "unexpected file for a %s primitive", c.Ref.Kind))
			} else if id != c.Ref.ID {
				issues = append(issues, issue(CodeOrphanFile, path, "content file belongs to %q, not %q", id, c.Ref.ID))
			}
		}
	}

	if !hasMeta {
		issues = append(issues, issue(CodeMissingMetadata, filepath.Join(c.Dir, primitive.MetadataFile), "metadata document is missing"))
	}
	if c.Ref.Kind == primitive.KindTool {
		if !hasToolSpec {
			issues = append(issues, issue(CodeMissingToolSpec, filepath.Join(c.Dir, primitive.ToolSpecFile), "tool specification is missing"))
		}
		if !hasImpl {
			issues = append(issues, issue(CodeMissingImpl, filepath.Join(c.Dir, primitive.ImplDir), "tool has no implementation assets"))
		}
	}

	return issues
}

func dirHasFiles(dir string) bool {
	found := false
	_ = filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			found = true
			return filepath.SkipAll
		}
		return nil
	})
	return found
}

func isDoc(name string) bool {
	return name == primitive.ReadmeFile || name == ".gitkeep"
}
