package build

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/jingkaihe/primforge/pkg/logger"
	"github.com/jingkaihe/primforge/pkg/manifest"
	"github.com/jingkaihe/primforge/pkg/providers"
	"github.com/pkg/errors"
)

// writeOutput stages the build next to outDir and swaps it into place, so
// readers see either the previous output or the complete new one. Unless
// clean is set, files of the previous output that this build does not
// produce are carried over.
func writeOutput(ctx context.Context, outDir string, files []providers.File, m *manifest.Manifest, clean bool) error {
	parent := filepath.Dir(outDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create %s", parent)
	}

	staging, err := os.MkdirTemp(parent, "."+filepath.Base(outDir)+".staging-")
	if err != nil {
		return errors.Wrap(err, "failed to create staging directory")
	}
	defer os.RemoveAll(staging)
	if err := os.Chmod(staging, 0o755); err != nil {
		return errors.Wrap(err, "failed to set mode of staging directory")
	}

	produced := make(map[string]bool, len(files))
	for _, f := range files {
		produced[f.Path] = true
		if err := writeFile(staging, f.Path, f.Content, f.Mode); err != nil {
			return err
		}
	}
	if err := m.Save(staging); err != nil {
		return err
	}

	if !clean {
		carried, err := carryOver(outDir, staging, produced)
		if err != nil {
			return err
		}
		if carried > 0 {
			logger.G(ctx).WithField("files", carried).Debug("carried over files from the previous build")
		}
	}

	return swap(staging, outDir)
}

func writeFile(root, rel string, content []byte, mode fs.FileMode) error {
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", rel)
	}
	if mode == 0 {
		mode = 0o644
	}
	if err := os.WriteFile(path, content, mode); err != nil {
		return errors.Wrapf(err, "failed to write %s", rel)
	}
	// WriteFile applies the umask; generated executables must stay executable
	if err := os.Chmod(path, mode); err != nil {
		return errors.Wrapf(err, "failed to set mode of %s", rel)
	}
	return nil
}

// carryOver copies files from a previous output that were not produced again
func carryOver(prev, staging string, produced map[string]bool) (int, error) {
	if _, err := os.Stat(prev); os.IsNotExist(err) {
		return 0, nil
	}

	carried := 0
	err := filepath.WalkDir(prev, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(prev, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == manifest.FileName || produced[rel] {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		carried++
		return writeFile(staging, rel, content, info.Mode().Perm())
	})
	if err != nil {
		return 0, errors.Wrapf(err, "failed to carry over files from %s", prev)
	}
	return carried, nil
}

// swap replaces outDir with staging. The previous output is moved aside
// first and restored if the final rename fails.
func swap(staging, outDir string) error {
	backup := ""
	if _, err := os.Stat(outDir); err == nil {
		backup = staging + ".previous"
		if err := os.Rename(outDir, backup); err != nil {
			return errors.Wrapf(err, "failed to move previous output %s aside", outDir)
		}
	}

	if err := os.Rename(staging, outDir); err != nil {
		if backup != "" {
			_ = os.Rename(backup, outDir)
		}
		return errors.Wrapf(err, "failed to move build output into %s", outDir)
	}

	if backup != "" {
		if err := os.RemoveAll(backup); err != nil {
			return errors.Wrapf(err, "failed to remove previous output %s", backup)
		}
	}
	return nil
}
