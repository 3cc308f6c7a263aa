// Package watcher reports the deletion of resident graph files.
//
// fsnotify watches directories, not files, so the Watcher registers the parent
// directory of every watched file and filters events by path. Watch calls are
// reference counted per file and per directory.
package watcher

import (
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// ErrClosed is returned by Watch after Close.
var ErrClosed = errors.New("watcher: closed")

// DeleteFunc is called with the path as passed to Watch.
type DeleteFunc func(path string)

type watchedFile struct {
	key  string
	refs int
}

// Watcher implements file deletion watching using fsnotify.
type Watcher struct {
	fsw      *fsnotify.Watcher
	onDelete DeleteFunc
	logger   *slog.Logger

	mu    sync.Mutex
	files map[string]*watchedFile
	dirs  map[string]int

	wg     sync.WaitGroup
	closed atomic.Bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// New starts a watcher that calls onDelete when a watched file is removed or
// renamed away.
func New(onDelete DeleteFunc, opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsw:      fsw,
		onDelete: onDelete,
		logger:   slog.New(slog.DiscardHandler),
		files:    make(map[string]*watchedFile),
		dirs:     make(map[string]int),
	}
	for _, opt := range opts {
		opt(w)
	}

	w.wg.Add(1)
	go w.processEvents()
	return w, nil
}

// Watch starts watching path.
func (w *Watcher) Watch(path string) error {
	if w.closed.Load() {
		return ErrClosed
	}
	name := filepath.Clean(path)

	w.mu.Lock()
	defer w.mu.Unlock()

	if f, ok := w.files[name]; ok {
		f.refs++
		return nil
	}

	dir := filepath.Dir(name)
	if w.dirs[dir] == 0 {
		if err := w.fsw.Add(dir); err != nil {
			return err
		}
	}
	w.dirs[dir]++
	w.files[name] = &watchedFile{key: path, refs: 1}
	return nil
}

// Unwatch releases one Watch of path.
func (w *Watcher) Unwatch(path string) {
	name := filepath.Clean(path)

	w.mu.Lock()
	defer w.mu.Unlock()

	f, ok := w.files[name]
	if !ok {
		return
	}
	f.refs--
	if f.refs > 0 {
		return
	}
	delete(w.files, name)

	dir := filepath.Dir(name)
	w.dirs[dir]--
	if w.dirs[dir] <= 0 {
		delete(w.dirs, dir)
		if !w.closed.Load() {
			// The directory may already be gone.
			_ = w.fsw.Remove(dir)
		}
	}
}

// Watched returns the number of distinct files being watched.
func (w *Watcher) Watched() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.files)
}

// Close stops the watcher and releases all resources.
func (w *Watcher) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := w.fsw.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}

			w.mu.Lock()
			f, watched := w.files[filepath.Clean(event.Name)]
			var key string
			if watched {
				key = f.key
			}
			w.mu.Unlock()

			if watched && w.onDelete != nil {
				w.logger.Info("watched graph file removed", "path", key, "op", event.Op.String())
				w.onDelete(key)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file system watch error", "error", err)
		}
	}
}
