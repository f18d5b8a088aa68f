package tokenstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/imcphost/imcp/internal/fileutil"
	"github.com/imcphost/imcp/internal/logging"
)

// debounce mirrors the teacher's prompts watcher debounce window.
const debounce = 300 * time.Millisecond

// onDiskSnapshot is the JSON shape persisted by the external UI layer at
// the Token Store's on-disk path.
type onDiskSnapshot struct {
	Tokens []Token `json:"tokens"`
}

// FileWatcher loads a Store's snapshot from a JSON file and keeps it in sync
// with the file's contents, swapping a fresh Snapshot into the Store on every
// debounced change. Modeled on the teacher's PromptsWatcher: a single
// fsnotify.Watcher over the containing directory, a debounce timer, and a
// change callback.
type FileWatcher struct {
	path    string
	store   *Store
	onSwap  func()
	watcher *fsnotify.Watcher

	mu    sync.Mutex
	timer *time.Timer

	stop chan struct{}
	done chan struct{}
}

// NewFileWatcher creates a watcher for path, publishing loaded snapshots into
// store. onSwap, if non-nil, is invoked (not blocking the caller) after every
// successful reload — callers wire it to the Change Broadcaster.
func NewFileWatcher(path string, store *Store, onSwap func()) *FileWatcher {
	return &FileWatcher{
		path:   path,
		store:  store,
		onSwap: onSwap,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start performs the initial load and begins watching the containing
// directory for changes. Missing files are treated as an empty snapshot,
// not an error, so a fresh install can start before the UI has written
// anything.
func (w *FileWatcher) Start() error {
	if err := w.reload(); err != nil {
		logging.Dispatcher().Warn("token store initial load failed", "error", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create token store watcher: %w", err)
	}
	w.watcher = watcher

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch token store directory %s: %w", dir, err)
	}

	go w.eventLoop()
	return nil
}

// Stop cancels the watch and any pending debounce timer.
func (w *FileWatcher) Stop() {
	close(w.stop)
	if w.watcher != nil {
		w.watcher.Close()
	}
	<-w.done
}

func (w *FileWatcher) eventLoop() {
	defer close(w.done)

	for {
		select {
		case <-w.stop:
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Dispatcher().Warn("token store watch error", "error", err)
		}
	}
}

func (w *FileWatcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounce, func() {
		if err := w.reload(); err != nil {
			logging.Dispatcher().Warn("token store reload failed", "error", err)
			return
		}
		if w.onSwap != nil {
			w.onSwap()
		}
	})
}

func (w *FileWatcher) reload() error {
	var onDisk onDiskSnapshot

	if err := fileutil.ReadJSON(w.path, &onDisk); err != nil {
		if os.IsNotExist(err) {
			w.store.Swap(NewSnapshot(nil))
			return nil
		}
		return err
	}

	w.store.Swap(NewSnapshot(onDisk.Tokens))
	return nil
}

// Persist writes tokens to path atomically, the format FileWatcher reloads.
// Used by the local token-administration CLI.
func Persist(path string, tokens []Token) error {
	return fileutil.WriteJSONAtomic(path, onDiskSnapshot{Tokens: tokens}, 0600)
}

// Load reads tokens directly from path without installing a watch. Used by
// one-shot CLI commands.
func Load(path string) ([]Token, error) {
	var onDisk onDiskSnapshot
	if err := fileutil.ReadJSON(path, &onDisk); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return onDisk.Tokens, nil
}
