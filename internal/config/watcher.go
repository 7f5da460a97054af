package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the config file when it changes on disk and applies the
// reloadable values to Settings. Invalid, empty or missing files are logged
// and ignored, so a half-written edit keeps the previous settings.
type Watcher struct {
	path     string
	settings *Settings
	logger   *slog.Logger
}

func NewWatcher(path string, settings *Settings, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     path,
		settings: settings,
		logger:   logger.With("component", "config"),
	}
}

// Run blocks until ctx is done. The parent directory is watched rather than
// the file itself because editors commonly replace files via rename.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "creating config watcher")
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return errors.Wrapf(err, "watching %s", dir)
	}
	target := filepath.Clean(w.path)
	w.logger.Info("watching config for changes", "path", target)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.reload()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadExisting(w.path)
	if err != nil {
		w.logger.Warn("config reload failed, keeping previous settings", "error", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		w.logger.Warn("reloaded config is invalid, keeping previous settings", "error", err)
		return
	}
	w.settings.Apply(cfg)
	w.logger.Info("config reloaded", "poll_interval", cfg.Poll.Interval, "query", cfg.Search.Query)
}
