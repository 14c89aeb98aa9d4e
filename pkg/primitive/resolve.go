package primitive

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Version resolution errors
var (
	ErrNoBuildableVersion = errors.New("no active or deprecated version to build")
	ErrAmbiguousVersion   = errors.New("multiple active versions and no default_version or pin")
)

// Asset is a file shipped alongside a primitive's content, such as a tool
// implementation or a hook validator. Path is relative to the primitive directory.
type Asset struct {
	Path    string
	Content []byte
	Mode    fs.FileMode
}

// Resolved is a primitive with the version to build selected and every input
// a renderer needs already loaded, so rendering never touches the filesystem.
type Resolved struct {
	Ref         Ref
	Dir         string
	Meta        *Metadata
	Version     VersionEntry
	Content     []byte
	Body        string
	Frontmatter map[string]any
	Tool        *ToolSpec
	Assets      []Asset
	// ToolNames maps category/id tool references in Meta.Tools to the
	// referenced tool's name. Filled in by the build before rendering.
	ToolNames map[string]string
}

// Description returns the content frontmatter description, falling back to the summary
func (r *Resolved) Description() string {
	if d := FrontmatterString(r.Frontmatter, "description"); d != "" {
		return d
	}
	return r.Meta.Summary
}

// ResolveVersion picks the version to build. A pin wins over default_version;
// without either, exactly one active version must exist. The newest active
// version is never chosen implicitly.
func ResolveVersion(meta *Metadata, pin int) (VersionEntry, error) {
	pick := func(v int, source string) (VersionEntry, error) {
		entry, ok := meta.FindVersion(v)
		if !ok {
			return VersionEntry{}, errors.Errorf("%s points at unknown version %d", source, v)
		}
		if !entry.Status.Buildable() {
			return VersionEntry{}, errors.Errorf("%s points at version %d which is %s", source, v, entry.Status)
		}
		return *entry, nil
	}

	if pin > 0 {
		return pick(pin, "pin")
	}
	if meta.DefaultVersion > 0 {
		return pick(meta.DefaultVersion, "default_version")
	}

	active := meta.VersionsWithStatus(StatusActive)
	switch len(active) {
	case 0:
		return VersionEntry{}, ErrNoBuildableVersion
	case 1:
		entry, _ := meta.FindVersion(active[0])
		return *entry, nil
	default:
		return VersionEntry{}, ErrAmbiguousVersion
	}
}

// Load reads a candidate's metadata, resolves its version and loads the
// content and assets needed to render it
func Load(c Candidate, pin int) (*Resolved, error) {
	meta, err := LoadMetadata(c.Dir)
	if err != nil {
		return nil, err
	}

	version, err := ResolveVersion(meta, pin)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot resolve version of %s", c.Ref)
	}

	content, err := ReadContent(c.Dir, c.Ref.ID, version.Version)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load %s", c.Ref)
	}

	fm, body, err := SplitFrontmatter(content)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse content of %s", c.Ref)
	}

	r := &Resolved{
		Ref:         c.Ref,
		Dir:         c.Dir,
		Meta:        meta,
		Version:     version,
		Content:     content,
		Body:        body,
		Frontmatter: fm,
	}

	switch c.Ref.Kind {
	case KindTool:
		if r.Tool, err = LoadToolSpec(c.Dir); err != nil {
			return nil, err
		}
		if r.Assets, err = loadAssets(c.Dir, ImplDir, nil); err != nil {
			return nil, err
		}
	case KindHook:
		wanted := make(map[string]bool)
		for _, name := range meta.Middleware.ValidatorNames() {
			wanted[name] = true
		}
		if r.Assets, err = loadAssets(c.Dir, ValidatorsDir, wanted); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// loadAssets reads every regular file under dir/sub. When only is non-nil a
// file is kept only if its name without extension is in the set.
func loadAssets(dir, sub string, only map[string]bool) ([]Asset, error) {
	base := filepath.Join(dir, sub)
	var assets []Asset

	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if only != nil {
			stem := strings.TrimSuffix(d.Name(), filepath.Ext(d.Name()))
			if !only[stem] {
				return nil
			}
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		assets = append(assets, Asset{
			Path:    filepath.ToSlash(rel),
			Content: content,
			Mode:    info.Mode().Perm(),
		})
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "failed to load assets from %s", base)
	}

	sort.Slice(assets, func(i, j int) bool { return assets[i].Path < assets[j].Path })
	return assets, nil
}
