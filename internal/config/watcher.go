package config

import (
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"qservworker/internal/logging"
)

// Watcher holds the live, possibly-reloaded configuration. Grounded on
// cert.Manager's fsnotify-driven reload: an atomic.Pointer swap means
// readers never block on the watcher goroutine and never observe a
// partially-applied update.
type Watcher struct {
	path   string
	logger *slog.Logger

	live    atomic.Pointer[Reloadable]
	watcher *fsnotify.Watcher
	stop    chan struct{}
}

// NewWatcher seeds the live snapshot from cfg and, if cfg.ConfigReload is
// set, starts watching path for changes. path is the file cfg was loaded
// from; it may be empty when cfg wasn't loaded from disk, in which case
// reload is silently disabled regardless of ConfigReload.
func NewWatcher(path string, cfg *Config, logger *slog.Logger) *Watcher {
	w := &Watcher{
		path:   path,
		logger: logging.Default(logger).With("component", "config.watcher"),
	}
	live := cfg.reloadable()
	w.live.Store(&live)

	if cfg.ConfigReload && path != "" {
		w.start()
	}
	return w
}

// Live returns the current reloadable configuration.
func (w *Watcher) Live() Reloadable {
	return *w.live.Load()
}

func (w *Watcher) start() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("fsnotify start failed", "err", err)
		return
	}
	if err := watcher.Add(w.path); err != nil {
		w.logger.Warn("watch config file failed", "path", w.path, "err", err)
		watcher.Close()
		return
	}
	w.watcher = watcher
	w.stop = make(chan struct{})

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-w.stop:
				return
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn("watcher error", "err", err)
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				w.reload()
			}
		}
	}()
}

func (w *Watcher) reload() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		w.logger.Warn("reload config read failed", "path", w.path, "err", err)
		return
	}
	cfg, err := Load(data)
	if err != nil {
		w.logger.Warn("reload config parse failed", "path", w.path, "err", err)
		return
	}
	live := cfg.reloadable()
	w.live.Store(&live)
	w.logger.Info("config reloaded", "max_active_chunks", live.MaxActiveChunks, "flexible_lock_by_default", live.FlexibleLockByDefault)
}

// Close stops the background watch goroutine, if running.
func (w *Watcher) Close() {
	if w.stop != nil {
		close(w.stop)
		w.stop = nil
	}
}
