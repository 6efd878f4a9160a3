package config

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const reloadDebounce = 100 * time.Millisecond

// Watcher reloads the config file behind v whenever it changes on disk and
// hands the result to onChange. Flags and env bound to v keep overriding the
// file on every reload. Invalid files are logged and skipped.
type Watcher struct {
	path     string
	v        *viper.Viper
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
	onChange func(*Config)
}

// NewWatcher watches the directory holding v's config file; editors often
// replace the file rather than writing it in place.
func NewWatcher(v *viper.Viper, logger *slog.Logger, onChange func(*Config)) (*Watcher, error) {
	path := v.ConfigFileUsed()
	if path == "" {
		return nil, errors.New("config: no config file to watch")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		_ = fw.Close()
		return nil, err
	}
	return &Watcher{path: filepath.Clean(path), v: v, logger: logger, watcher: fw, onChange: onChange}, nil
}

// Run processes events until ctx is cancelled, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	debounce := time.NewTimer(0)
	<-debounce.C
	pending := false

	for {
		select {
		case <-ctx.Done():
			debounce.Stop()
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = true
			debounce.Reset(reloadDebounce)
		case <-debounce.C:
			if !pending {
				continue
			}
			pending = false
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", "err", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadViper(w.v)
	if err != nil {
		w.logger.Warn("config reload failed", "path", w.path, "err", err)
		return
	}
	w.logger.Info("config reloaded", "path", w.path, "stream", cfg.StreamName)
	w.onChange(cfg)
}
