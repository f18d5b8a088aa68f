// Package listener implements the loopback-only TCP acceptor with
// self-healing restart on failure (spec component B).
package listener

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/imcphost/imcp/internal/appdir"
	"github.com/imcphost/imcp/internal/fileutil"
	"github.com/imcphost/imcp/internal/logging"
)

// State is one of the Listener's lifecycle states (spec §4.B).
type State int

const (
	StateSetup State = iota
	StateWaiting
	StateReady
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateSetup:
		return "setup"
	case StateWaiting:
		return "waiting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

const (
	restartDelayMin = 1 * time.Second
	restartDelayMax = 2 * time.Second
	supervisorTick  = 10 * time.Second
)

// Listener binds an ephemeral loopback port, publishes it through the Port
// File once ready, and restarts itself on a new port when the bind fails or
// the accept loop dies, as long as the server is still meant to be running.
type Listener struct {
	// Accept is called for every accepted connection from the currently
	// bound net.Listener. It must not block the accept loop for long.
	Accept func(net.Conn)

	mu        sync.Mutex
	state     State
	ln        net.Listener
	portPath  string
	restartRL *rate.Limiter

	wantRunning bool
	cancel      context.CancelFunc
	done        chan struct{}

	// kick lets supervise force waitBeforeRestart to return immediately,
	// skipping the rest of its backoff delay.
	kick chan struct{}

	// superviseInterval and stuckThreshold are overridable in tests so the
	// forced-restart path doesn't require a real 10-second wait.
	superviseInterval time.Duration
	stuckThreshold    int
}

// New returns a Listener that invokes onAccept for every accepted
// connection.
func New(onAccept func(net.Conn)) *Listener {
	return &Listener{
		Accept:            onAccept,
		state:             StateSetup,
		restartRL:         rate.NewLimiter(rate.Every(restartDelayMin), 1),
		kick:              make(chan struct{}, 1),
		superviseInterval: supervisorTick,
		stuckThreshold:    2,
	}
}

// State returns the Listener's current state.
func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Start binds the first ephemeral port and begins the supervised accept
// loop. It returns once the first bind attempt has been made (not
// necessarily ready — a failed first bind still restarts in the
// background).
func (l *Listener) Start(ctx context.Context) error {
	portPath, err := appdir.PortFilePath()
	if err != nil {
		return fmt.Errorf("listener: resolve port file path: %w", err)
	}
	if _, err := appdir.EnsureDir(); err != nil {
		return fmt.Errorf("listener: ensure app dir: %w", err)
	}
	l.portPath = portPath

	runCtx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.wantRunning = true
	l.cancel = cancel
	l.done = make(chan struct{})
	l.mu.Unlock()

	go l.supervise(runCtx)
	go l.run(runCtx)

	return nil
}

// Stop cancels the accept loop, closes the socket, and deletes the Port
// File (spec §4.B "Stopping the server deletes the Port File").
func (l *Listener) Stop() {
	l.mu.Lock()
	l.wantRunning = false
	cancel := l.cancel
	done := l.done
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	l.mu.Lock()
	if l.ln != nil {
		l.ln.Close()
		l.ln = nil
	}
	l.state = StateCancelled
	l.mu.Unlock()

	if l.portPath != "" {
		_ = os.Remove(l.portPath)
	}
}

func (l *Listener) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

func (l *Listener) isWantRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.wantRunning
}

// run binds and serves, restarting on a fresh ephemeral port whenever the
// bind or accept loop fails while the server is still meant to run.
func (l *Listener) run(ctx context.Context) {
	defer close(l.done)

	for {
		if ctx.Err() != nil {
			l.setState(StateCancelled)
			return
		}

		l.setState(StateSetup)
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			l.setState(StateWaiting)
			logging.Listener().Warn("bind failed, will retry", "error", err)
			if !l.waitBeforeRestart(ctx) {
				return
			}
			continue
		}

		l.mu.Lock()
		l.ln = ln
		l.mu.Unlock()

		if err := l.publishReady(ln); err != nil {
			logging.Listener().Error("failed to publish port file", "error", err)
			ln.Close()
			if !l.waitBeforeRestart(ctx) {
				return
			}
			continue
		}

		l.setState(StateReady)
		logging.Listener().Info("listening", "addr", ln.Addr().String())

		l.acceptLoop(ctx, ln)

		// acceptLoop returned: the listener died. Clean up and restart if
		// we're still meant to be running.
		ln.Close()
		_ = os.Remove(l.portPath)

		if !l.isWantRunning() || ctx.Err() != nil {
			l.setState(StateCancelled)
			return
		}
		l.setState(StateFailed)
		if !l.waitBeforeRestart(ctx) {
			return
		}
	}
}

func (l *Listener) publishReady(ln net.Listener) error {
	addr, ok := ln.Addr().(*net.TCPAddr)
	if !ok {
		return fmt.Errorf("listener: unexpected addr type %T", ln.Addr())
	}
	return fileutil.WriteJSONAtomic(l.portPath, addr.Port, 0600)
}

func (l *Listener) acceptLoop(ctx context.Context, ln net.Listener) {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			logging.Listener().Warn("accept failed", "error", err)
			return
		}
		go l.Accept(conn)
	}
}

// waitBeforeRestart sleeps the restart delay (rate-limited so a persistently
// failing bind cannot spin hot), returning false if the context was
// cancelled meanwhile.
func (l *Listener) waitBeforeRestart(ctx context.Context) bool {
	if !l.isWantRunning() {
		return false
	}
	_ = l.restartRL.Wait(ctx)

	delay := restartDelayMin + time.Duration(time.Now().UnixNano())%(restartDelayMax-restartDelayMin)
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-l.kick:
		return l.isWantRunning()
	case <-timer.C:
		return l.isWantRunning()
	}
}

// supervise forces a restart if the Listener is ever observed outside
// StateReady for stuckThreshold consecutive ticks, by kicking
// waitBeforeRestart past whatever is left of its normal backoff delay (spec
// §4.B supervisor loop: "forces a restart if the Listener ever leaves ready
// without recovering"). This is the independent safety net: run()'s own
// retry loop recovers on its own in the common case, but if it is ever stuck
// waiting out a backoff (or a bind keeps failing), the kick below makes the
// next retry attempt happen now instead of only logging the fact.
func (l *Listener) supervise(ctx context.Context) {
	ticker := time.NewTicker(l.superviseInterval)
	defer ticker.Stop()

	stuckTicks := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := l.State()
			if st != StateFailed && st != StateWaiting {
				stuckTicks = 0
				continue
			}
			stuckTicks++
			if stuckTicks < l.stuckThreshold {
				continue
			}
			stuckTicks = 0
			logging.Listener().Warn("supervisor forcing restart on stuck listener", "state", st.String())
			select {
			case l.kick <- struct{}{}:
			default:
			}
		}
	}
}
