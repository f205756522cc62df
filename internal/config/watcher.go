package config

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of events an editor save produces.
const DefaultDebounce = 100 * time.Millisecond

// Watcher keeps a Config in sync with its file. A reload that fails to load
// or validate leaves the previous config in place.
type Watcher struct {
	path     string
	onChange func(*Config)
	logger   *slog.Logger
	debounce time.Duration

	fs      *fsnotify.Watcher
	done    chan struct{}
	stopped chan struct{}

	mu     sync.RWMutex
	cfg    *Config
	digest [sha256.Size]byte
}

// WatchOption configures a Watcher.
type WatchOption func(*Watcher)

// WithWatchLogger sets the logger.
func WithWatchLogger(l *slog.Logger) WatchOption {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets how long the file must stay quiet before a reload.
func WithDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) { w.debounce = d }
}

// NewWatcher loads path and reloads it on change. onChange runs on the
// watcher goroutine for every reload that yields a different file.
func NewWatcher(path string, onChange func(*Config), opts ...WatchOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		onChange: onChange,
		logger:   slog.Default(),
		debounce: DefaultDebounce,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(slog.String("component", "config"))

	cfg, err := LoadWithEnv(path)
	if err != nil {
		return nil, err
	}
	w.cfg = cfg
	if data, err := os.ReadFile(path); err == nil {
		w.digest = sha256.Sum256(data)
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	// The directory is watched: editors often replace the file.
	dir := filepath.Dir(path)
	if err := fs.Add(dir); err != nil {
		fs.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	w.fs = fs

	go w.loop()
	return w, nil
}

// Config returns the current configuration.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

func (w *Watcher) loop() {
	defer close(w.stopped)

	name := filepath.Base(w.path)
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) == name && ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				timer.Reset(w.debounce)
			}
		case <-timer.C:
			w.reload()
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) reload() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		w.logger.Warn("config unreadable", slog.String("path", w.path), slog.String("error", err.Error()))
		return
	}
	digest := sha256.Sum256(data)

	w.mu.RLock()
	same := digest == w.digest
	w.mu.RUnlock()
	if same {
		return
	}

	cfg, err := LoadWithEnv(w.path)
	if err != nil {
		w.logger.Error("config reload rejected", slog.String("path", w.path), slog.String("error", err.Error()))
		return
	}

	w.mu.Lock()
	w.cfg, w.digest = cfg, digest
	w.mu.Unlock()

	w.logger.Info("config reloaded", slog.String("path", w.path))
	if w.onChange != nil {
		w.onChange(cfg)
	}
}

// Close stops the watcher and waits for its goroutine.
func (w *Watcher) Close() error {
	close(w.done)
	err := w.fs.Close()
	<-w.stopped
	return err
}
