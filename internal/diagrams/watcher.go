package diagrams

import (
	"context"
	"os"
	"sync"
	"time"

	"archagent/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// Event describes a settled change to a diagram file.
type Event struct {
	Path string `json:"path"`
	Op   string `json:"op"` // create, modify, delete
	Time time.Time `json:"time"`
}

// Watcher monitors the diagrams directory with fsnotify and invokes a
// callback once events for a file have settled past the debounce window.
// Diagram tools write images in several chunks, so raw events are too noisy
// to forward directly.
type Watcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	dir         string
	onEvent     func(Event)
	debounceMap map[string]pendingEvent
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	stats WatcherStats
}

type pendingEvent struct {
	op   string
	seen time.Time
}

// WatcherStats tracks watcher activity for status output and tests.
type WatcherStats struct {
	FilesCreated  int       `json:"files_created"`
	FilesModified int       `json:"files_modified"`
	FilesDeleted  int       `json:"files_deleted"`
	Errors        int       `json:"errors"`
	LastEventTime time.Time `json:"last_event_time"`
	LastEventPath string    `json:"last_event_path"`
}

// NewWatcher creates a Watcher for dir. onEvent runs on the watcher
// goroutine and must not block.
func NewWatcher(dir string, onEvent func(Event)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:     fsw,
		dir:         dir,
		onEvent:     onEvent,
		debounceMap: make(map[string]pendingEvent),
		debounceDur: 500 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking; the event loop runs in a goroutine.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		logging.Get(logging.CategoryDiagrams).Warn("watcher: cannot create %s: %v", w.dir, err)
	}
	if err := w.watcher.Add(w.dir); err != nil {
		logging.Get(logging.CategoryDiagrams).Warn("watcher: initial watch failed: %v", err)
	} else {
		logging.Get(logging.CategoryDiagrams).Info("watcher: watching %s", w.dir)
	}

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.Get(logging.CategoryDiagrams).Error("watcher: close: %v", err)
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	flushTicker := time.NewTicker(100 * time.Millisecond)
	defer flushTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryDiagrams).Error("watcher: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
		case <-flushTicker.C:
			w.flushSettled()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !IsSupportedImage(event.Name) {
		return
	}

	var op string
	switch {
	case event.Op&fsnotify.Create != 0:
		op = "create"
	case event.Op&fsnotify.Write != 0:
		op = "modify"
	case event.Op&fsnotify.Remove != 0, event.Op&fsnotify.Rename != 0:
		op = "delete"
	default:
		return // chmod etc.
	}

	w.mu.Lock()
	w.stats.LastEventTime = time.Now()
	w.stats.LastEventPath = event.Name
	switch op {
	case "create":
		w.stats.FilesCreated++
	case "modify":
		w.stats.FilesModified++
	case "delete":
		w.stats.FilesDeleted++
	}

	// A create followed by writes stays a create until it settles.
	prev, ok := w.debounceMap[event.Name]
	if ok && prev.op == "create" && op == "modify" {
		op = "create"
	}
	w.debounceMap[event.Name] = pendingEvent{op: op, seen: time.Now()}
	w.mu.Unlock()
}

func (w *Watcher) flushSettled() {
	w.mu.Lock()
	now := time.Now()
	var settled []Event
	for path, pe := range w.debounceMap {
		if now.Sub(pe.seen) >= w.debounceDur {
			settled = append(settled, Event{Path: path, Op: pe.op, Time: pe.seen})
			delete(w.debounceMap, path)
		}
	}
	cb := w.onEvent
	w.mu.Unlock()

	if cb == nil {
		return
	}
	for _, ev := range settled {
		logging.Get(logging.CategoryDiagrams).Debug("watcher: %s %s", ev.Op, ev.Path)
		cb(ev)
	}
}

// Stats returns the current watcher statistics.
func (w *Watcher) Stats() WatcherStats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

// IsWatching reports whether the event loop is running.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}
