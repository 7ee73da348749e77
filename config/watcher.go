package config

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the config file on change and hands the result to a
// callback. The engine uses it for training-mode live parameter mutation;
// outside training mode the callback is expected to ignore the update.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	onLoad  func(*Config)
	logger  *slog.Logger
}

// NewWatcher watches path for writes.
func NewWatcher(path string, onLoad func(*Config), logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := fw.Add(path); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}

	return &Watcher{
		path:    path,
		watcher: fw,
		onLoad:  onLoad,
		logger:  logger,
	}, nil
}

// Run processes file events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	defer func() { _ = w.watcher.Close() }()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := LoadFromFile(w.path)
			if err != nil {
				w.logger.Warn("Ignoring unparseable config update",
					"path", w.path,
					"error", err)
				continue
			}
			if err := cfg.Validate(); err != nil {
				w.logger.Warn("Ignoring invalid config update",
					"path", w.path,
					"error", err)
				continue
			}
			w.logger.Info("Config file changed", "path", w.path)
			w.onLoad(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error", "error", err)
		}
	}
}
