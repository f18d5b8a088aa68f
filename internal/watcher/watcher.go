// Package watcher implements the optional Message Watcher subsystem: it
// tracks a high-water-mark row id in the host messages database and invokes
// an external script when new rows appear (spec component I).
package watcher

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/shlex"
	_ "modernc.org/sqlite"

	"github.com/imcphost/imcp/internal/logging"
)

const (
	debounceWindow = 5 * time.Second
	pollInterval   = 60 * time.Second
	scriptTimeout  = 30 * time.Second

	query = `SELECT COALESCE(MAX(ROWID), 0) FROM message WHERE is_from_me = 0`
)

// Config configures a Watcher instance.
type Config struct {
	// DBPath is the host messages database file (or a UI-persisted
	// security-scoped bookmark resolution of it — both are external
	// contracts per spec §6 / §4.I).
	DBPath string
	// ScriptPath is the external script invoked on new-message detection.
	ScriptPath string
}

// Watcher polls and watches DBPath for new rows, invoking ScriptPath on
// every detected increase.
type Watcher struct {
	cfg Config
	hwm atomic.Int64

	// queryFn resolves the current MAX(ROWID); overridable in tests so
	// they don't need a real sqlite database file.
	queryFn func(dbPath string) (int64, error)

	fsw *fsnotify.Watcher

	mu          sync.Mutex
	debounceTmr *time.Timer

	stop chan struct{}
	done chan struct{}
}

// New creates a Watcher for cfg. Start must be called to begin operation.
func New(cfg Config) *Watcher {
	return &Watcher{
		cfg:     cfg,
		queryFn: queryMaxRowID,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start opens the database, establishes the initial high-water mark, and
// begins the debounced file watch plus polling fallback.
func (w *Watcher) Start(ctx context.Context) error {
	hwm, err := w.queryFn(w.cfg.DBPath)
	if err != nil {
		return fmt.Errorf("watcher: initial HWM query: %w", err)
	}
	w.hwm.Store(hwm)
	logging.Watcher().Info("watcher started", "hwm", hwm)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher: create fsnotify watcher: %w", err)
	}
	w.fsw = fsw

	dir := filepath.Dir(w.cfg.DBPath)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return fmt.Errorf("watcher: watch %s: %w", dir, err)
	}

	go w.loop(ctx)
	return nil
}

// Stop cancels all timers and closes file descriptors (spec §4.I).
func (w *Watcher) Stop() {
	close(w.stop)
	if w.fsw != nil {
		w.fsw.Close()
	}
	<-w.done
}

// HWM returns the current high-water mark. Exposed for tests.
func (w *Watcher) HWM() int64 {
	return w.hwm.Load()
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	poll := time.NewTicker(pollInterval)
	defer poll.Stop()

	relevant := func(name string) bool {
		base := filepath.Base(name)
		dbBase := filepath.Base(w.cfg.DBPath)
		return base == dbBase || base == dbBase+"-wal"
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			w.mu.Lock()
			if w.debounceTmr != nil {
				w.debounceTmr.Stop()
			}
			w.mu.Unlock()
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !relevant(ev.Name) {
				continue
			}
			w.scheduleCheck()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.Watcher().Warn("fsnotify error", "error", err)

		case <-poll.C:
			w.checkAndFire()
		}
	}
}

// scheduleCheck coalesces bursts of events within the debounce window into a
// single check (spec §8 invariant 8: "consecutive events within 5s
// coalesce").
func (w *Watcher) scheduleCheck() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounceTmr != nil {
		w.debounceTmr.Stop()
	}
	w.debounceTmr = time.AfterFunc(debounceWindow, w.checkAndFire)
}

func (w *Watcher) checkAndFire() {
	current, err := w.queryFn(w.cfg.DBPath)
	if err != nil {
		logging.Watcher().Warn("HWM query failed", "error", err)
		return
	}

	prev := w.hwm.Load()
	if current <= prev {
		return
	}
	if !w.hwm.CompareAndSwap(prev, current) {
		return // another trigger already advanced the HWM
	}

	delta := current - prev
	logging.Watcher().Info("new messages detected", "count", delta, "hwm", current)

	if w.cfg.ScriptPath == "" {
		return
	}
	if err := w.runScript(delta); err != nil {
		logging.Watcher().Warn("watcher script failed", "error", err)
	}
}

func (w *Watcher) runScript(count int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), scriptTimeout)
	defer cancel()

	argv, err := shlex.Split(w.cfg.ScriptPath)
	if err != nil || len(argv) == 0 {
		return fmt.Errorf("watcher: invalid script command %q: %w", w.cfg.ScriptPath, err)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), fmt.Sprintf("IMCP_NEW_MESSAGE_COUNT=%d", count))

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err = cmd.Run()
	if stderr.Len() > 0 {
		logging.Watcher().Debug("watcher script stderr", "stderr", stderr.String())
	}
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("watcher: script timed out after %s", scriptTimeout)
		}
		return fmt.Errorf("watcher: script exited with error: %w", err)
	}
	return nil
}

func queryMaxRowID(dbPath string) (int64, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	var max int64
	if err := db.QueryRow(query).Scan(&max); err != nil {
		return 0, err
	}
	return max, nil
}
