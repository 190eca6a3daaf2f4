package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// reloadDebounce coalesces the burst of events an editor save produces
const reloadDebounce = 200 * time.Millisecond

// Watcher reloads a configuration file when it changes on disk and hands
// every valid result to a callback. Invalid files are logged and ignored so
// the running configuration stays in effect.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onChange func(*Configuration)
	logger   *zap.Logger
}

// NewWatcher creates a watcher for the config file at path
func NewWatcher(path string, onChange func(*Configuration), logger *zap.Logger) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is required")
	}
	if onChange == nil {
		return nil, fmt.Errorf("onChange callback is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &Watcher{
		path:     filepath.Clean(path),
		watcher:  watcher,
		onChange: onChange,
		logger:   logger.Named("config-watcher"),
	}, nil
}

// Run watches until ctx is cancelled. The parent directory is watched
// rather than the file because editors replace files on save.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	w.logger.Debug("watching config file", zap.String("path", w.path))

	var debounce *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(reloadDebounce)
			} else {
				debounce.Reset(reloadDebounce)
			}
			fire = debounce.C

		case <-fire:
			fire = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", zap.Error(err))

		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil
		}
	}
}

func (w *Watcher) reload() {
	if _, err := os.Stat(w.path); err != nil {
		w.logger.Debug("config file not readable, keeping current config", zap.Error(err))
		return
	}
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("ignoring invalid config change", zap.String("path", w.path), zap.Error(err))
		return
	}
	w.logger.Info("config file changed", zap.String("path", w.path))
	w.onChange(cfg)
}
