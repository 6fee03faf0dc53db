// Package watch is the platform-neutral Event Source: a recursive directory
// watcher exposing watch/unwatch/stop/set_callback/is_watching.
package watch

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rjeczalik/notify"

	"github.com/foldersync/agent/internal/agenterr"
	"github.com/foldersync/agent/internal/debounce"
)

// Event is one filesystem change reported for a watched subtree.
type Event struct {
	Path      string
	Action    debounce.Action
	Timestamp time.Time
}

// Callback receives events for every watched path. It must not block; slow
// consumers should hand off to their own queue.
type Callback func(Event)

type handle struct {
	root      string
	raw       chan notify.EventInfo
	usingNotify bool
	done      chan struct{}
}

// Watcher is a recursive, multi-root filesystem watcher. Zero value is not
// usable; construct with New.
type Watcher struct {
	mu       sync.Mutex
	handles  map[string]*handle
	wg       sync.WaitGroup
	stopped  bool

	callbackMu sync.RWMutex
	callback   Callback
}

func New() *Watcher {
	return &Watcher{handles: make(map[string]*handle)}
}

// SetCallback installs the function invoked for every delivered event. Safe
// to call before or after Watch.
func (w *Watcher) SetCallback(fn Callback) {
	w.callbackMu.Lock()
	defer w.callbackMu.Unlock()
	w.callback = fn
}

func (w *Watcher) emit(ev Event) {
	w.callbackMu.RLock()
	cb := w.callback
	w.callbackMu.RUnlock()
	if cb != nil {
		cb(ev)
	}
}

// IsWatching reports whether root is currently watched.
func (w *Watcher) IsWatching(root string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.handles[filepath.Clean(root)]
	return ok
}

// Watch starts recursively watching root for create/modify/delete/rename
// events. Re-watching an already-watched root fails with AlreadyExists; a
// path that does not exist or is not a directory fails with InvalidArgument;
// an operating system watch-descriptor refusal fails with ResourceExhausted.
func (w *Watcher) Watch(root string) error {
	root = filepath.Clean(root)

	info, err := os.Stat(root)
	if err != nil {
		return agenterr.Wrap(agenterr.InvalidArgument, "watch path not accessible", err)
	}
	if !info.IsDir() {
		return agenterr.New(agenterr.InvalidArgument, "watch path is not a directory: "+root)
	}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return agenterr.New(agenterr.Internal, "watcher is stopped")
	}
	if _, exists := w.handles[root]; exists {
		w.mu.Unlock()
		return agenterr.New(agenterr.AlreadyExists, "already watching: "+root)
	}

	h := &handle{root: root, raw: make(chan notify.EventInfo, 256), done: make(chan struct{})}
	w.handles[root] = h
	w.mu.Unlock()

	recursive := root + "/..."
	if err := notify.Watch(recursive, h.raw, notify.Create, notify.Write, notify.Remove, notify.Rename); err != nil {
		// Some environments can't establish a recursive watch; fall back to a
		// non-recursive watch on the root itself rather than failing outright.
		if fallbackErr := notify.Watch(root, h.raw, notify.Create, notify.Write, notify.Remove, notify.Rename); fallbackErr != nil {
			w.mu.Lock()
			delete(w.handles, root)
			w.mu.Unlock()
			return agenterr.Wrap(agenterr.ResourceExhausted, "failed to establish watch", fallbackErr)
		}
		slog.Warn("watch: recursive watch unavailable, using non-recursive", "path", root, "error", err)
	}
	h.usingNotify = true

	w.wg.Add(1)
	go w.pump(h)

	return nil
}

func (w *Watcher) pump(h *handle) {
	defer w.wg.Done()
	for {
		select {
		case <-h.done:
			return
		case ev, ok := <-h.raw:
			if !ok {
				return
			}
			w.emit(translate(ev))
		}
	}
}

func translate(ev notify.EventInfo) Event {
	path := ev.Path()
	action := debounce.Modified
	switch ev.Event() {
	case notify.Create:
		action = debounce.Created
	case notify.Remove:
		action = debounce.Deleted
	case notify.Rename:
		if _, err := os.Stat(path); err != nil {
			action = debounce.Deleted
		} else {
			action = debounce.Created
		}
	case notify.Write:
		action = debounce.Modified
	}
	return Event{Path: path, Action: action, Timestamp: time.Now()}
}

// Unwatch stops watching root. It is a no-op if root is not watched.
func (w *Watcher) Unwatch(root string) error {
	root = filepath.Clean(root)

	w.mu.Lock()
	h, exists := w.handles[root]
	if !exists {
		w.mu.Unlock()
		return nil
	}
	delete(w.handles, root)
	w.mu.Unlock()

	close(h.done)
	if h.usingNotify {
		notify.Stop(h.raw)
	}
	return nil
}

// Stop releases every watch and waits for delivery goroutines to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	handles := make([]*handle, 0, len(w.handles))
	for root, h := range w.handles {
		handles = append(handles, h)
		delete(w.handles, root)
	}
	w.mu.Unlock()

	for _, h := range handles {
		close(h.done)
		if h.usingNotify {
			notify.Stop(h.raw)
		}
	}
	w.wg.Wait()
}
