package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// reloadDebounce is how long the watcher waits after the last filesystem
// event before re-reading the file. Editors commonly emit several events
// per save.
const reloadDebounce = 100 * time.Millisecond

// OnReload receives the previous and the freshly loaded config after each
// successful hot reload.
type OnReload func(old, new *Config)

// Watcher re-loads the config file whenever it changes on disk. A reload
// that fails to parse or validate is discarded and the active config stays
// in place.
type Watcher struct {
	fs   *fsnotify.Watcher
	path string
	stop chan struct{}

	mu   sync.Mutex
	subs []OnReload
}

// Watch begins watching the given config file. Each accepted change is
// stored through the package's global pointer and then announced to every
// subscriber registered via OnChange.
func Watch(filePath string) (*Watcher, error) {
	if filePath == "" {
		return nil, fmt.Errorf("config watcher: file path must not be empty")
	}
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("config watcher: resolving path: %w", err)
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: creating fsnotify watcher: %w", err)
	}

	// Atomic saves (write tmp + rename) swap the file's inode, which a
	// file-level watch loses track of. Watching the parent directory
	// survives the rename.
	if err := fs.Add(filepath.Dir(absPath)); err != nil {
		fs.Close()
		return nil, fmt.Errorf("config watcher: watching %s: %w", filepath.Dir(absPath), err)
	}

	w := &Watcher{fs: fs, path: absPath, stop: make(chan struct{})}
	go w.run()
	return w, nil
}

// OnChange subscribes a callback to successful reloads. Safe to call from
// any goroutine.
func (w *Watcher) OnChange(fn OnReload) {
	w.mu.Lock()
	w.subs = append(w.subs, fn)
	w.mu.Unlock()
}

// Close stops the watcher and releases resources.
func (w *Watcher) Close() error {
	close(w.stop)
	return w.fs.Close()
}

func (w *Watcher) run() {
	var pending <-chan time.Time
	for {
		select {
		case <-w.stop:
			return

		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if w.relevant(ev) {
				pending = time.After(reloadDebounce)
			}

		case <-pending:
			pending = nil
			w.reload()

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("config watcher: fsnotify error")
		}
	}
}

// relevant reports whether a directory event touches the watched file in a
// way that warrants a reload.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != w.path {
		return false
	}
	return ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}

func (w *Watcher) reload() {
	prev := Get()
	next, err := Load(w.path)
	if err != nil {
		log.Warn().Err(err).Str("path", w.path).
			Msg("config watcher: rejected updated file, keeping active config")
		return
	}
	log.Info().Str("path", w.path).Msg("config watcher: configuration reloaded")

	w.mu.Lock()
	subs := append([]OnReload(nil), w.subs...)
	w.mu.Unlock()

	for _, fn := range subs {
		w.notify(fn, prev, next)
	}
}

// notify runs one subscriber; a panicking subscriber must not take the
// watcher goroutine down with it.
func (w *Watcher) notify(fn OnReload, prev, next *Config) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("config watcher: reload callback panicked")
		}
	}()
	fn(prev, next)
}
