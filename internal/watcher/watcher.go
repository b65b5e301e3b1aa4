// Package watcher observes session working directories and reports batched
// file-change notifications. Changes are debounced so a build touching
// hundreds of files produces one update, not hundreds.
package watcher

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

// skipDirs are directory names never watched; they churn constantly and
// never carry information a dashboard wants.
var skipDirs = map[string]struct{}{
	".git":         {},
	"node_modules": {},
	"vendor":       {},
	"dist":         {},
	".next":        {},
	"__pycache__":  {},
}

// Watcher multiplexes one fsnotify instance across every enrolled session.
type Watcher struct {
	fs       *fsnotify.Watcher
	onChange func(sessionID string, changes int)
	debounce time.Duration

	mu       sync.Mutex
	roots    map[string]string // session id -> watch root
	refs     map[string]int    // watch root -> enrolled sessions
	watched  map[string]string // watched dir -> its root
	pending  map[string]int    // session id -> changes since last flush
	timers   map[string]*time.Timer
	shutdown bool
}

// New starts the watcher loop. onChange runs off the watcher goroutine once
// per debounce window per session.
func New(debounce time.Duration, onChange func(sessionID string, changes int)) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	w := &Watcher{
		fs:       fs,
		onChange: onChange,
		debounce: debounce,
		roots:    make(map[string]string),
		refs:     make(map[string]int),
		watched:  make(map[string]string),
		pending:  make(map[string]int),
		timers:   make(map[string]*time.Timer),
	}
	go w.loop()
	return w, nil
}

// Watch enrolls a session's working directory, recursively.
func (w *Watcher) Watch(sessionID, dir string) {
	dir = filepath.Clean(dir)

	w.mu.Lock()
	if w.shutdown {
		w.mu.Unlock()
		return
	}
	w.roots[sessionID] = dir
	w.refs[dir]++
	first := w.refs[dir] == 1
	w.mu.Unlock()

	if !first {
		return
	}
	if err := w.addTree(dir, dir); err != nil {
		log.Printf("watcher: cannot watch %s: %v", dir, err)
	}
}

// Unwatch releases a session's enrollment. The directory tree stays watched
// while any other session shares the same root.
func (w *Watcher) Unwatch(sessionID string) {
	w.mu.Lock()
	root, ok := w.roots[sessionID]
	if !ok {
		w.mu.Unlock()
		return
	}
	delete(w.roots, sessionID)
	delete(w.pending, sessionID)
	if t, ok := w.timers[sessionID]; ok {
		t.Stop()
		delete(w.timers, sessionID)
	}

	w.refs[root]--
	var drop []string
	if w.refs[root] <= 0 {
		delete(w.refs, root)
		for dir, r := range w.watched {
			if r == root {
				drop = append(drop, dir)
				delete(w.watched, dir)
			}
		}
	}
	w.mu.Unlock()

	for _, dir := range drop {
		_ = w.fs.Remove(dir)
	}
}

// Shutdown stops the loop and drops every watch.
func (w *Watcher) Shutdown() {
	w.mu.Lock()
	if w.shutdown {
		w.mu.Unlock()
		return
	}
	w.shutdown = true
	for _, t := range w.timers {
		t.Stop()
	}
	w.mu.Unlock()
	w.fs.Close()
}

// addTree watches dir and every non-skipped subdirectory beneath it.
func (w *Watcher) addTree(dir, root string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if _, skip := skipDirs[d.Name()]; skip && path != dir {
			return filepath.SkipDir
		}
		if err := w.fs.Add(path); err != nil {
			return nil
		}
		w.mu.Lock()
		w.watched[path] = root
		w.mu.Unlock()
		return nil
	})
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.Printf("watcher: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	// New directories join the watch so nested creates keep reporting.
	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if _, skip := skipDirs[filepath.Base(ev.Name)]; !skip {
				if root, ok := w.rootFor(ev.Name); ok {
					if err := w.fs.Add(ev.Name); err == nil {
						w.mu.Lock()
						w.watched[ev.Name] = root
						w.mu.Unlock()
					}
				}
			}
		}
	}

	w.mu.Lock()
	for sessionID, root := range w.roots {
		if !underRoot(ev.Name, root) {
			continue
		}
		w.pending[sessionID]++
		if _, armed := w.timers[sessionID]; !armed {
			id := sessionID
			w.timers[id] = time.AfterFunc(w.debounce, func() { w.flush(id) })
		}
	}
	w.mu.Unlock()
}

func (w *Watcher) flush(sessionID string) {
	w.mu.Lock()
	changes := w.pending[sessionID]
	delete(w.pending, sessionID)
	delete(w.timers, sessionID)
	shutdown := w.shutdown
	w.mu.Unlock()

	if shutdown || changes == 0 || w.onChange == nil {
		return
	}
	w.onChange(sessionID, changes)
}

func (w *Watcher) rootFor(path string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, root := range w.roots {
		if underRoot(path, root) {
			return root, true
		}
	}
	return "", false
}

func underRoot(path, root string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}
