package config

import (
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DebounceDelay collapses bursts of filesystem events (editors often write
// a file twice in quick succession) into a single reload.
const DebounceDelay = 150 * time.Millisecond

// Watcher reloads config.yaml whenever it changes on disk and notifies
// subscribers with the freshly-parsed Config.
type Watcher struct {
	path   string
	fw     *fsnotify.Watcher
	logger *slog.Logger
	notify chan *Config
}

// NewWatcher prepares a watcher for changes to path. Watching begins when
// Run is called, which watches path's parent directory (fsnotify watches
// directories, not atomic-rename targets, reliably).
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{path: path, fw: fw, logger: logger, notify: make(chan *Config, 1)}
	return w, nil
}

// Notify returns the channel on which reloaded configs are delivered.
func (w *Watcher) Notify() <-chan *Config { return w.notify }

// Run watches until stop is closed, debouncing successive events.
func (w *Watcher) Run(stop <-chan struct{}) {
	defer w.fw.Close()

	dir := parentDir(w.path)
	if err := w.fw.Add(dir); err != nil {
		w.logger.Warn("config watch failed to start", "dir", dir, "err", err)
		return
	}

	var timer *time.Timer
	for {
		select {
		case <-stop:
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if ev.Name != w.path {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(DebounceDelay, w.reload)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", "err", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload failed, keeping previous config", "err", err)
		return
	}
	select {
	case w.notify <- cfg:
	default:
		// drop if nobody has consumed the previous reload yet
	}
}

func parentDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
