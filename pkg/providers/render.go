package providers

import (
	"bytes"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jingkaihe/primforge/pkg/primitive"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Field is one frontmatter key; a slice of fields keeps declaration order
type Field struct {
	Key   string
	Value any
}

// Document renders body behind a YAML frontmatter block. Fields with empty
// values are dropped.
func Document(fields []Field, body string) ([]byte, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, f := range fields {
		if isEmpty(f.Value) {
			continue
		}
		var value yaml.Node
		if err := value.Encode(f.Value); err != nil {
			return nil, errors.Wrapf(err, "failed to encode frontmatter field %s", f.Key)
		}
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: f.Key}, &value)
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	if len(node.Content) > 0 {
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(node); err != nil {
			return nil, errors.Wrap(err, "failed to encode frontmatter")
		}
		if err := enc.Close(); err != nil {
			return nil, errors.Wrap(err, "failed to encode frontmatter")
		}
	}
	buf.WriteString("---\n\n")
	buf.WriteString(strings.TrimLeft(body, "\n"))
	if !bytes.HasSuffix(buf.Bytes(), []byte("\n")) {
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case []string:
		return len(x) == 0
	case int:
		return x == 0
	}
	return false
}

// ToolList splits a primitive's tools into runtime names. Builtins are kept
// as-is; category/id references are mapped through ToolNames and then
// through name.
func ToolList(p *primitive.Resolved, name func(toolName string) string) []string {
	out := make([]string, 0, len(p.Meta.Tools))
	for _, t := range p.Meta.Tools {
		if resolved, ok := p.ToolNames[t]; ok {
			out = append(out, name(resolved))
			continue
		}
		out = append(out, t)
	}
	return out
}

// AssetFiles places a primitive's assets under dir, preserving their
// relative paths and modes
func AssetFiles(dir string, assets []primitive.Asset) []File {
	files := make([]File, 0, len(assets))
	for _, a := range assets {
		files = append(files, File{
			Path:    path.Join(dir, a.Path),
			Content: a.Content,
			Mode:    normalizeMode(a.Mode),
		})
	}
	return files
}

// AssetPaths returns the output paths AssetFiles would produce
func AssetPaths(dir string, assets []primitive.Asset) []string {
	paths := make([]string, 0, len(assets))
	for _, a := range assets {
		paths = append(paths, path.Join(dir, a.Path))
	}
	return paths
}

// normalizeMode keeps only the executable bit so output does not depend on
// the author's umask
func normalizeMode(mode fs.FileMode) fs.FileMode {
	if mode&0o111 != 0 {
		return 0o755
	}
	return 0o644
}

// ValidatorFile returns the asset implementing validator name
func ValidatorFile(p *primitive.Resolved, name string) (primitive.Asset, bool) {
	for _, a := range p.Assets {
		base := path.Base(a.Path)
		if strings.TrimSuffix(base, filepath.Ext(base)) == name {
			return a, true
		}
	}
	return primitive.Asset{}, false
}

// Interpreter returns the command prefix that runs a validator file
func Interpreter(file string) string {
	switch filepath.Ext(file) {
	case ".py":
		return "python3"
	case ".sh", ".bash":
		return "bash"
	case ".js", ".mjs", ".cjs":
		return "node"
	case ".rb":
		return "ruby"
	default:
		return ""
	}
}

// SortFiles orders files by path
func SortFiles(files []File) {
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
}

// ValidatorCall is one validator invocation inside a generated hook entry point
type ValidatorCall struct {
	Name        string
	File        string
	Interpreter string
}

// ValidatorCalls resolves validator names to their files under validators/
func ValidatorCalls(provider string, p *primitive.Resolved, names []string) ([]ValidatorCall, error) {
	calls := make([]ValidatorCall, 0, len(names))
	for _, name := range names {
		asset, ok := ValidatorFile(p, name)
		if !ok {
			return nil, &TransformError{
				Provider: provider, Kind: p.Ref.Kind, Ref: p.Ref.String(),
				Reason: "validator " + name + " has no implementation",
			}
		}
		file := path.Base(asset.Path)
		calls = append(calls, ValidatorCall{Name: name, File: file, Interpreter: Interpreter(file)})
	}
	return calls, nil
}
