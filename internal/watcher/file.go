package watcher

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	agentlog "github.com/memorypilot/watchagent/internal/log"
)

// FileNotifier turns filesystem changes under a set of paths into wakes on a
// Queue. The watched set can be replaced while running.
type FileNotifier struct {
	queue    *Queue
	watcher  *fsnotify.Watcher
	stopChan chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	mu       sync.Mutex
	paths    map[string]struct{}
	initial  []string
}

// NewFileNotifier creates a notifier that feeds queue. The initial paths are
// added when the notifier starts.
func NewFileNotifier(queue *Queue, initial ...string) *FileNotifier {
	return &FileNotifier{
		queue:    queue,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
		paths:    make(map[string]struct{}),
		initial:  initial,
	}
}

// Start begins watching. Initial paths that cannot be watched are logged and
// skipped.
func (n *FileNotifier) Start() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	n.mu.Lock()
	n.watcher = w
	n.mu.Unlock()
	go n.watch()

	if len(n.initial) > 0 {
		if err := n.SetPaths(n.initial); err != nil {
			agentlog.Warn("some watch paths were skipped", "error", err)
		}
	}
	return nil
}

// Stop stops the notifier and waits for its goroutine to exit
func (n *FileNotifier) Stop() {
	if n.watcher == nil {
		return
	}
	n.stopOnce.Do(func() {
		close(n.stopChan)
		n.watcher.Close()
	})
	<-n.done
}

// SetPaths replaces the watched set. Paths that cannot be watched are
// reported together; the others are still applied.
func (n *FileNotifier) SetPaths(paths []string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.watcher == nil {
		return fmt.Errorf("file notifier not started")
	}

	want := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		want[filepath.Clean(p)] = struct{}{}
	}

	for p := range n.paths {
		if _, keep := want[p]; keep {
			continue
		}
		if err := n.watcher.Remove(p); err != nil {
			agentlog.Debug("failed to unwatch path", "path", p, "error", err)
		}
		delete(n.paths, p)
	}

	var failed []string
	for p := range want {
		if _, have := n.paths[p]; have {
			continue
		}
		if err := n.watcher.Add(p); err != nil {
			agentlog.Warn("failed to watch path", "path", p, "error", err)
			failed = append(failed, p)
			continue
		}
		n.paths[p] = struct{}{}
	}
	if len(failed) > 0 {
		return fmt.Errorf("failed to watch %d path(s): %v", len(failed), failed)
	}
	return nil
}

// Paths returns the currently watched paths
func (n *FileNotifier) Paths() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.paths))
	for p := range n.paths {
		out = append(out, p)
	}
	return out
}

func (n *FileNotifier) watch() {
	defer close(n.done)
	for {
		select {
		case <-n.stopChan:
			return

		case event, ok := <-n.watcher.Events:
			if !ok {
				return
			}
			if !isInteresting(event) {
				continue
			}
			if !n.queue.Notify() {
				agentlog.Debug("wake queue full, dropping file wake", "path", event.Name)
			}

		case err, ok := <-n.watcher.Errors:
			if !ok {
				return
			}
			agentlog.Error("file watcher error", "error", err)
		}
	}
}

func isInteresting(event fsnotify.Event) bool {
	return event.Op&(fsnotify.Write|fsnotify.Create) != 0
}
