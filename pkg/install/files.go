package install

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"
)

// atomicWrite writes content to a temp file next to path and renames it into
// place, retrying the rename
func atomicWrite(path string, content []byte, mode fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create %s", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return errors.Wrapf(err, "failed to create temp file for %s", path)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "failed to write %s", tmpName)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %s", tmpName)
	}
	if mode == 0 {
		mode = 0o644
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return errors.Wrapf(err, "failed to set mode of %s", tmpName)
	}

	err = retry.Do(
		func() error { return os.Rename(tmpName, path) },
		retry.Attempts(3),
		retry.Delay(50*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to move %s into place", path)
	}
	return nil
}

// backup copies target/rel into the run's backup directory
func backup(target, stamp, rel string) (string, error) {
	src := filepath.Join(target, filepath.FromSlash(rel))
	info, err := os.Stat(src)
	if err != nil {
		return "", errors.Wrapf(err, "failed to stat %s", src)
	}
	content, err := os.ReadFile(src)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read %s", src)
	}

	dst := filepath.Join(target, BackupDir, stamp, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", errors.Wrapf(err, "failed to create backup directory for %s", rel)
	}
	if err := os.WriteFile(dst, content, info.Mode().Perm()); err != nil {
		return "", errors.Wrapf(err, "failed to back up %s", rel)
	}
	return dst, nil
}
