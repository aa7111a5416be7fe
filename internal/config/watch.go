package config

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher reloads the config file when it changes and notifies listeners
type Watcher struct {
	path      string
	overrides Values

	mu       sync.RWMutex
	current  *Config
	onChange []func(*Config)
}

// NewWatcher wraps an already loaded config
func NewWatcher(cfg *Config, overrides Values) *Watcher {
	return &Watcher{path: cfg.Path, overrides: overrides, current: cfg}
}

// Config returns the latest configuration
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnChange registers a callback invoked whenever the config reloads
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

// Reload re-reads the config file and notifies listeners
func (w *Watcher) Reload() (*Config, error) {
	cfg, err := Load(w.path, w.overrides)
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	w.current = cfg
	callbacks := make([]func(*Config), len(w.onChange))
	copy(callbacks, w.onChange)
	w.mu.Unlock()
	for _, fn := range callbacks {
		fn(cfg)
	}
	return cfg, nil
}

// Watch starts a background goroutine that reloads on file changes.
// The directory is watched so editors that replace the file are picked up.
// Call the returned stop function to clean up.
func (w *Watcher) Watch() (stop func(), err error) {
	if w.path == "" {
		return func() {}, nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("config watcher add %s: %w", w.path, err)
	}

	target := filepath.Clean(w.path)
	done := make(chan struct{})
	go func() {
		defer fw.Close()
		for {
			select {
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					if _, err := w.Reload(); err != nil {
						log.Warn().Err(err).Str("path", w.path).Msg("Failed to reload config; keeping previous")
					} else {
						log.Info().Str("path", w.path).Msg("Config reloaded")
					}
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				log.Debug().Err(err).Msg("Config watcher error")
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }, nil
}
