package primitive

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Candidate is a primitive directory found under a spec root. Its identity
// comes from the directory layout; the metadata has not been read yet.
type Candidate struct {
	Ref Ref
	Dir string
}

// Discover walks root/<kinds>/<category>/<id> and returns every primitive
// directory in ref order. Anything that does not fit the layout is ignored
// here and reported by structural validation instead.
func Discover(root string) ([]Candidate, error) {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to stat spec root %s", root)
	}
	if !info.IsDir() {
		return nil, errors.Errorf("spec root %s is not a directory", root)
	}

	var candidates []Candidate
	for _, kind := range Kinds {
		kindDir := filepath.Join(root, kind.Dir())
		categories, err := readSubdirs(kindDir)
		if err != nil {
			return nil, err
		}
		for _, category := range categories {
			ids, err := readSubdirs(filepath.Join(kindDir, category))
			if err != nil {
				return nil, err
			}
			for _, id := range ids {
				candidates = append(candidates, Candidate{
					Ref: Ref{Kind: kind, Category: category, ID: id},
					Dir: filepath.Join(kindDir, category, id),
				})
			}
		}
	}

	return candidates, nil
}

func readSubdirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to read directory %s", dir)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// LocatePrimitive interprets path as a primitive directory and returns its
// spec root and ref. ok is false when path does not sit at
// root/<kinds>/<category>/<id> or has no metadata document.
func LocatePrimitive(path string) (root string, ref Ref, ok bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", Ref{}, false
	}
	if _, err := os.Stat(filepath.Join(abs, MetadataFile)); err != nil {
		return "", Ref{}, false
	}

	id := filepath.Base(abs)
	categoryDir := filepath.Dir(abs)
	kindDir := filepath.Dir(categoryDir)
	kind, known := KindFromDir(filepath.Base(kindDir))
	if !known {
		return "", Ref{}, false
	}

	return filepath.Dir(kindDir), Ref{Kind: kind, Category: filepath.Base(categoryDir), ID: id}, true
}

// Dir returns the source directory of ref under root
func Dir(root string, ref Ref) string {
	return filepath.Join(root, ref.Kind.Dir(), ref.Category, ref.ID)
}
