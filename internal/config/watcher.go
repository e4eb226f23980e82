package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchInterval is how often a [Watcher] stats its file.
const DefaultWatchInterval = 2 * time.Second

// settleDelay is how long a notification waits for the writer to finish
// before the file is read.
const settleDelay = 50 * time.Millisecond

// Watcher polls a config file and hands every valid edit to a callback.
// File system notifications on the file's directory trigger an early poll
// once the writer settles; the ticker catches what they miss.
//
// A poll only reads the file when its size or modification time moved, and
// only reloads when the content hash differs, so saving an unchanged file
// is silent. An edit that fails to parse or validate is reported to the
// error handler and the last good config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)
	onError  func(error)

	mu      sync.Mutex
	current *Config
	seen    fileState
	missing bool // poll goroutine only

	notify *fsnotify.Watcher // nil when notifications are unavailable
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// fileState identifies one version of the file on disk.
type fileState struct {
	size  int64
	mtime time.Time
	sum   [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values are ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithErrorHandler is called with every reload that was rejected.
func WithErrorHandler(fn func(error)) WatcherOption {
	return func(w *Watcher) { w.onError = fn }
}

// NewWatcher loads path and starts polling it. onChange runs on the polling
// goroutine, never concurrently with itself; it may be nil.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     filepath.Clean(path),
		interval: DefaultWatchInterval,
		onChange: onChange,
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, state, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current, w.seen = cfg, state
	w.notify = watchDir(filepath.Dir(w.path))

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.wg.Go(func() { w.loop(ctx) })
	return w, nil
}

// Current returns the last config that loaded successfully.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling and waits for an in-flight callback to return. It is
// safe to call more than once.
func (w *Watcher) Stop() {
	w.cancel()
	w.wg.Wait()
}

// watchDir subscribes to changes in dir. The directory is watched rather
// than the file so saves that replace the file keep being seen.
func watchDir(dir string) *fsnotify.Watcher {
	nw, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Debug("config: file notifications unavailable, polling only", "err", err)
		return nil
	}
	if err := nw.Add(dir); err != nil {
		slog.Debug("config: file notifications unavailable, polling only", "dir", dir, "err", err)
		_ = nw.Close()
		return nil
	}
	return nw
}

func (w *Watcher) loop(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
		settle <-chan time.Time
	)
	if w.notify != nil {
		defer w.notify.Close()
		events, errs = w.notify.Events, w.notify.Errors
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.poll()
		case <-settle:
			settle = nil
			w.poll()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			// Remove and Rename open the gap of a rename-save; the Create
			// that follows does the reload.
			if filepath.Clean(ev.Name) == w.path && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				settle = time.After(settleDelay)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Debug("config: file notification error", "path", w.path, "err", err)
		}
	}
}

func (w *Watcher) poll() {
	info, err := os.Stat(w.path)
	if err != nil {
		// Editors that save by rename leave a short gap; report it once.
		if !w.missing {
			w.missing = true
			w.fail(err)
		}
		return
	}
	w.missing = false
	w.mu.Lock()
	seen := w.seen
	w.mu.Unlock()
	if info.Size() == seen.size && info.ModTime().Equal(seen.mtime) {
		return
	}

	cfg, state, err := w.read()
	w.mu.Lock()
	w.seen = state
	if err != nil {
		w.mu.Unlock()
		// A rejected version is reported once, not on every tick until
		// it is fixed.
		if state.sum != seen.sum {
			w.fail(err)
		}
		return
	}
	if state.sum == seen.sum {
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current = cfg
	w.mu.Unlock()

	slog.Info("config: reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

// read loads the file. The returned state is filled whenever the file could
// be read, even if the content is invalid.
func (w *Watcher) read() (*Config, fileState, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	state := fileState{size: info.Size(), mtime: info.ModTime(), sum: sha256.Sum256(data)}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, state, err
	}
	return cfg, state, nil
}

func (w *Watcher) fail(err error) {
	slog.Warn("config: reload rejected, keeping previous config", "path", w.path, "err", err)
	if w.onError != nil {
		w.onError(err)
	}
}
