package daemon

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	// OpCreate indicates the file was created (or moved into place).
	OpCreate EventOp = iota
	// OpModify indicates the file was written.
	OpModify
	// OpDelete indicates the file was removed or moved away.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// FileEvent is a change to the watched file.
type FileEvent struct {
	Path string
	Op   EventOp
}

// FileWatcher watches a single file for changes.
//
// The parent directory is watched rather than the file itself: editors and
// config tools usually replace a file by renaming a temp file over it, which
// would silently drop a watch on the old inode.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	events  chan FileEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	stopped bool
	path    string
}

// NewFileWatcher creates a new FileWatcher instance.
// The watcher must be started with Start() before it will emit events.
func NewFileWatcher() (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &FileWatcher{
		watcher: watcher,
		events:  make(chan FileEvent, 16),
		errors:  make(chan error, 4),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching path.
func (fw *FileWatcher) Start(path string) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.running {
		return fmt.Errorf("watcher already running")
	}
	if fw.stopped {
		return fmt.Errorf("watcher already stopped")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	if err := fw.watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch directory of %s: %w", abs, err)
	}

	fw.path = abs
	fw.running = true
	fw.wg.Add(1)
	go fw.processEvents()

	return nil
}

// Stop stops watching and closes the Events and Errors channels.
// It blocks until the event goroutine has exited. Stop is idempotent.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	if fw.stopped {
		fw.mu.Unlock()
		return nil
	}
	wasRunning := fw.running
	fw.running = false
	fw.stopped = true
	fw.mu.Unlock()

	close(fw.done)

	err := fw.watcher.Close()
	if wasRunning {
		fw.wg.Wait()
	}

	close(fw.events)
	close(fw.errors)

	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// Events returns the channel that emits FileEvent notifications.
// This channel is closed when the watcher is stopped.
func (fw *FileWatcher) Events() <-chan FileEvent {
	return fw.events
}

// Errors returns the channel that emits watcher errors.
// This channel is closed when the watcher is stopped.
func (fw *FileWatcher) Errors() <-chan error {
	return fw.errors
}

// IsRunning returns true if the watcher is currently running.
func (fw *FileWatcher) IsRunning() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.running
}

func (fw *FileWatcher) processEvents() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.done:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if fe, ok := fw.convertEvent(event); ok {
				select {
				case fw.events <- fe:
				case <-fw.done:
					return
				}
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			select {
			case fw.errors <- err:
			case <-fw.done:
				return
			}
		}
	}
}

// convertEvent maps an fsnotify event on the watched file to a FileEvent.
// Events for sibling files and chmod-only events are dropped.
func (fw *FileWatcher) convertEvent(event fsnotify.Event) (FileEvent, bool) {
	abs, err := filepath.Abs(event.Name)
	if err != nil || abs != fw.path {
		return FileEvent{}, false
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		op = OpDelete
	default:
		return FileEvent{}, false
	}

	return FileEvent{Path: abs, Op: op}, true
}
