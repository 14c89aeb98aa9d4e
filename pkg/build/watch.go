package build

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jingkaihe/primforge/pkg/logger"
	"github.com/pkg/errors"
)

// WatchOptions configures Watch
type WatchOptions struct {
	// Root is the directory tree to watch
	Root string
	// Ignore lists directories whose changes never trigger a rebuild, such as
	// the build output
	Ignore []string
	// Debounce collapses bursts of events into one rebuild
	Debounce time.Duration
}

// Watch calls fn once immediately and again after every debounced change
// under Root, until ctx is cancelled. Errors from fn are logged, not returned.
func Watch(ctx context.Context, opts WatchOptions, fn func(context.Context) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create file watcher")
	}
	defer watcher.Close()

	ignored := make([]string, 0, len(opts.Ignore))
	for _, dir := range opts.Ignore {
		if abs, err := filepath.Abs(dir); err == nil {
			ignored = append(ignored, abs)
		}
	}
	isIgnored := func(path string) bool {
		abs, err := filepath.Abs(path)
		if err != nil {
			return false
		}
		for _, dir := range ignored {
			if abs == dir || strings.HasPrefix(abs, dir+string(os.PathSeparator)) {
				return true
			}
		}
		return false
	}

	addTree := func(root string) error {
		return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				return nil
			}
			if isIgnored(path) {
				return filepath.SkipDir
			}
			return watcher.Add(path)
		})
	}
	if err := addTree(opts.Root); err != nil {
		return errors.Wrapf(err, "failed to watch %s", opts.Root)
	}

	log := logger.G(ctx).WithField("root", opts.Root)
	rebuild := func() {
		if err := fn(ctx); err != nil {
			log.WithError(err).Warn("rebuild failed")
		}
	}
	rebuild()

	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}
	timer := time.NewTimer(debounce)
	timer.Stop()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if isIgnored(event.Name) {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := addTree(event.Name); err != nil {
						log.WithError(err).WithField(logger.FieldPath, event.Name).Warn("failed to watch new directory")
					}
				}
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			log.WithField(logger.FieldPath, event.Name).WithField("op", event.Op.String()).Debug("change detected")
			timer.Reset(debounce)
		case <-timer.C:
			rebuild()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Error("error watching files")
		case <-ctx.Done():
			return nil
		}
	}
}
