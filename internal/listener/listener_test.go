package listener

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/imcphost/imcp/internal/appdir"
)

func withTempAppDir(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(appdir.DirEnv, dir)
	appdir.ResetCache()
	t.Cleanup(appdir.ResetCache)
}

func TestListenerPublishesPortFile(t *testing.T) {
	withTempAppDir(t)

	connCh := make(chan net.Conn, 1)
	l := New(func(c net.Conn) { connCh <- c })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := l.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if l.State() == StateReady {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if l.State() != StateReady {
		t.Fatalf("listener did not become ready, state=%v", l.State())
	}

	portPath, _ := appdir.PortFilePath()
	data, err := os.ReadFile(portPath)
	if err != nil {
		t.Fatalf("reading port file: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("port file is empty")
	}
}

func TestListenerStopDeletesPortFile(t *testing.T) {
	withTempAppDir(t)

	l := New(func(c net.Conn) { c.Close() })
	ctx := context.Background()
	if err := l.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && l.State() != StateReady {
		time.Sleep(10 * time.Millisecond)
	}

	l.Stop()

	portPath, _ := appdir.PortFilePath()
	if _, err := os.Stat(portPath); !os.IsNotExist(err) {
		t.Fatalf("expected port file to be removed, stat err=%v", err)
	}
}

func TestSuperviseForcesRestartWhenStuck(t *testing.T) {
	l := New(func(c net.Conn) { c.Close() })
	l.superviseInterval = 5 * time.Millisecond
	l.stuckThreshold = 2
	l.wantRunning = true
	l.setState(StateWaiting)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.supervise(ctx)

	select {
	case <-l.kick:
		// supervisor forced a restart attempt, as expected.
	case <-time.After(500 * time.Millisecond):
		t.Fatal("supervisor did not kick a stuck listener within the timeout")
	}
}

func TestSuperviseDoesNotKickWhileReady(t *testing.T) {
	l := New(func(c net.Conn) { c.Close() })
	l.superviseInterval = 5 * time.Millisecond
	l.stuckThreshold = 2
	l.wantRunning = true
	l.setState(StateReady)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.supervise(ctx)

	select {
	case <-l.kick:
		t.Fatal("supervisor kicked a healthy, ready listener")
	case <-time.After(100 * time.Millisecond):
		// no kick observed, as expected.
	}
}
