package build

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/jingkaihe/primforge/pkg/manifest"
	"github.com/jingkaihe/primforge/pkg/primitive"
	"github.com/jingkaihe/primforge/pkg/providers"
	"github.com/pkg/errors"
)

// CollisionError reports an output path claimed by more than one producer
type CollisionError struct {
	Path string
	Refs []string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("output path %s is produced by %s", e.Path, strings.Join(e.Refs, ", "))
}

// job is one primitive scheduled for rendering
type job struct {
	resolved *primitive.Resolved
	renderer providers.Renderer
	paths    []string
}

// planOutputs asks every renderer for its output paths and fails on any path
// claimed twice, on a central provider document or the manifest, or outside
// the output root.
func planOutputs(prov *providers.Provider, jobs []*job) error {
	owners := make(map[string][]string)
	reserved := map[string]string{manifest.FileName: "build manifest"}
	for _, doc := range prov.Documents {
		reserved[doc] = prov.Assembler
	}

	var result *multierror.Error
	for _, j := range jobs {
		paths, err := j.renderer.Plan(j.resolved)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		j.paths = paths
		for _, p := range paths {
			if !safePath(p) {
				result = multierror.Append(result, errors.Errorf("%s: output path %q escapes the output directory", j.resolved.Ref, p))
				continue
			}
			owners[p] = append(owners[p], j.resolved.Ref.String())
		}
	}

	paths := make([]string, 0, len(owners))
	for p := range owners {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		refs := owners[p]
		if owner, ok := reserved[p]; ok {
			refs = append([]string{owner}, refs...)
		}
		if len(refs) > 1 {
			result = multierror.Append(result, &CollisionError{Path: p, Refs: refs})
		}
	}
	return result.ErrorOrNil()
}

func safePath(p string) bool {
	if p == "" || path.IsAbs(p) {
		return false
	}
	clean := path.Clean(p)
	return clean == p && clean != "." && !strings.HasPrefix(clean, "../") && clean != ".."
}
