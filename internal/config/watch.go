package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchSettleDelay absorbs the write+rename burst most editors and
// provisioning tools produce for a single logical save.
const watchSettleDelay = 250 * time.Millisecond

// Watcher reloads the config file when it changes on disk and swaps the
// new contents into the live Config via ReplaceFrom, so components holding
// the pointer observe updated policy/tuning without a restart.
type Watcher struct {
	path     string
	cfg      *Config
	onReload func(*Config)
	fsw      *fsnotify.Watcher
}

// NewWatcher creates a watcher for the config file at path. onReload (may
// be nil) runs after each successful swap.
func NewWatcher(path string, cfg *Config, onReload func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory, not the file: atomic-rename saves replace the
	// inode, and a file watch dies with the old inode.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{path: path, cfg: cfg, onReload: onReload, fsw: fsw}, nil
}

// Start runs the watch loop until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	go w.loop(ctx)
}

// Stop closes the underlying filesystem watcher.
func (w *Watcher) Stop() {
	w.fsw.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	var settle *time.Timer
	target := filepath.Clean(w.path)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if settle != nil {
				settle.Stop()
			}
			settle = time.AfterFunc(watchSettleDelay, w.reload)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	fresh, err := Load(w.path)
	if err != nil {
		slog.Warn("config reload failed, keeping previous config", "path", w.path, "error", err)
		return
	}
	w.cfg.ReplaceFrom(fresh)
	slog.Info("config reloaded", "path", w.path, "hash", w.cfg.Hash())
	if w.onReload != nil {
		w.onReload(w.cfg)
	}
}
