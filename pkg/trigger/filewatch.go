package trigger

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/flotilla-dev/flotilla/pkg/compose"
)

// fileWatchTrigger monitors a set of directories and emits one event
// per changed file. Rapid changes to the same file within the debounce
// window are coalesced into a single event.
type fileWatchTrigger struct {
	service         string
	prompt          string
	paths           []string
	extensions      []string
	debounce        time.Duration
	processExisting bool

	watcher *fsnotify.Watcher

	mu      sync.Mutex
	started bool
	timers  map[string]*time.Timer

	closed   bool
	closeMu  sync.RWMutex
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func newFileWatch(service string, cfg compose.TriggerConfig) (Trigger, error) {
	return &fileWatchTrigger{
		service:         service,
		prompt:          cfg.Prompt,
		paths:           cfg.Paths,
		extensions:      cfg.Extensions,
		debounce:        cfg.Debounce(),
		processExisting: cfg.ProcessExisting,
		timers:          make(map[string]*time.Timer),
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}, nil
}

func (t *fileWatchTrigger) Start(onEvent Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return fmt.Errorf("file watch trigger for service %q already started", t.service)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	for _, path := range t.paths {
		if err := watcher.Add(path); err != nil {
			watcher.Close()
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
	}
	t.watcher = watcher
	t.started = true

	// One-time sorted scan of pre-existing files, before live events.
	if t.processExisting {
		for _, path := range t.existingFiles() {
			onEvent(t.fileEvent(path, "existing"))
		}
	}

	go t.run(onEvent)
	return nil
}

// existingFiles lists matching files already present in the watched
// directories, sorted by filename.
func (t *fileWatchTrigger) existingFiles() []string {
	var files []string
	for _, dir := range t.paths {
		entries, err := os.ReadDir(dir)
		if err != nil {
			slog.Warn("Failed to scan directory for existing files", "service", t.service, "dir", dir, "error", err)
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			full := filepath.Join(dir, entry.Name())
			if t.matches(full) {
				files = append(files, full)
			}
		}
	}
	sort.Strings(files)
	return files
}

func (t *fileWatchTrigger) run(onEvent Handler) {
	defer close(t.done)

	for {
		select {
		case <-t.stop:
			return

		case event, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !t.matches(event.Name) {
				continue
			}
			t.scheduleEmit(event.Name, onEvent)

		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("File watcher error", "service", t.service, "error", err)
		}
	}
}

func (t *fileWatchTrigger) matches(path string) bool {
	if len(t.extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, allowed := range t.extensions {
		if ext == "."+strings.ToLower(strings.TrimPrefix(allowed, ".")) {
			return true
		}
	}
	return false
}

// scheduleEmit resets the per-file debounce timer so a burst of writes
// to one file produces exactly one event.
func (t *fileWatchTrigger) scheduleEmit(path string, onEvent Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if timer, ok := t.timers[path]; ok {
		timer.Stop()
	}

	t.timers[path] = time.AfterFunc(t.debounce, func() {
		t.closeMu.RLock()
		defer t.closeMu.RUnlock()
		if t.closed {
			return
		}

		t.mu.Lock()
		delete(t.timers, path)
		t.mu.Unlock()

		slog.Debug("File change event", "service", t.service, "file", path)
		onEvent(t.fileEvent(path, "changed"))
	})
}

func (t *fileWatchTrigger) fileEvent(path, reason string) Event {
	prompt := t.prompt
	if prompt == "" {
		prompt = path
	}
	return NewEvent(TypeFileWatch, prompt, map[string]string{
		"file":   path,
		"reason": reason,
	})
}

func (t *fileWatchTrigger) Stop() {
	t.stopOnce.Do(func() {
		t.closeMu.Lock()
		t.closed = true
		t.closeMu.Unlock()

		t.mu.Lock()
		for _, timer := range t.timers {
			timer.Stop()
		}
		t.mu.Unlock()

		close(t.stop)
		if t.watcher != nil {
			if err := t.watcher.Close(); err != nil {
				slog.Warn("Failed to close file watcher", "service", t.service, "error", err)
			}
		}
	})
}

func (t *fileWatchTrigger) Done() <-chan struct{} {
	return t.done
}
