// Package server wires the Port File, Listener, Token Store, Auth Gate, MCP
// Session, Service Registry/Dispatcher, Broadcaster, and Watcher together
// into the running iMCP host process (spec §3 "Server state").
package server

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/imcphost/imcp/internal/authgate"
	"github.com/imcphost/imcp/internal/broadcaster"
	"github.com/imcphost/imcp/internal/listener"
	"github.com/imcphost/imcp/internal/logging"
	"github.com/imcphost/imcp/internal/mcpsession"
	"github.com/imcphost/imcp/internal/registry"
	"github.com/imcphost/imcp/internal/tokenstore"
	"github.com/imcphost/imcp/internal/watcher"
)

// Server owns the whole process-wide runtime state: {running, enabled}, the
// live Session set, the Token Store, the Service bindings, and the Listener.
type Server struct {
	enabled atomic.Bool

	store      *tokenstore.Store
	registry   *registry.Registry
	bindingsMu sync.Mutex
	bindings   *registry.Bindings
	dispatcher atomic.Pointer[registry.Dispatcher]

	gate        *authgate.Gate
	listener    *listener.Listener
	broadcaster *broadcaster.Broadcaster

	sessionsMu sync.Mutex
	sessions   map[string]*mcpsession.Session

	watcher *watcher.Watcher

	runCtx    context.Context
	runCancel context.CancelFunc
}

// New builds a Server over services, with all Services initially disabled
// until SetServiceBindings is called with an enabled map.
func New(services []registry.Service, store *tokenstore.Store) *Server {
	s := &Server{
		store:       store,
		registry:    registry.New(services),
		bindings:    registry.NewBindings(nil),
		gate:        authgate.New(store),
		broadcaster: broadcaster.New(),
		sessions:    make(map[string]*mcpsession.Session),
	}
	s.enabled.Store(true)
	s.rebuildDispatcher()
	return s
}

// rebuildDispatcher hands off a fresh Dispatcher reflecting the current
// bindings. The very first build (from New, before any Dispatcher exists)
// constructs one from scratch; every later rebuild — triggered by
// SetServiceBindings — instead derives it from the outgoing Dispatcher via
// WithBindings, an atomic copy-on-write swap that avoids re-deriving the
// registry/enabled wiring on every bindings change.
func (s *Server) rebuildDispatcher() {
	s.bindingsMu.Lock()
	bindings := s.bindings
	s.bindingsMu.Unlock()

	if current := s.dispatcher.Load(); current != nil {
		s.dispatcher.Store(current.WithBindings(bindings))
		return
	}
	s.dispatcher.Store(registry.NewDispatcher(s.registry, bindings, s.enabled.Load))
}

// Start begins accepting connections. It does not start the Message Watcher;
// SetWatcher does that.
func (s *Server) Start(ctx context.Context) error {
	s.runCtx, s.runCancel = context.WithCancel(ctx)

	s.listener = listener.New(s.handleConn)
	if err := s.listener.Start(s.runCtx); err != nil {
		return err
	}
	logging.Session().Info("server started")
	return nil
}

// Stop tears down the Listener, then every Session's transport in parallel
// (spec §5 "Cancellation").
func (s *Server) Stop() {
	if s.runCancel != nil {
		s.runCancel()
	}
	if s.listener != nil {
		s.listener.Stop()
	}
	if s.watcher != nil {
		s.watcher.Stop()
	}
	// Cancelling runCtx above already unblocks every Session's Serve
	// goroutine (spec §5 "every Session's transport in parallel"); they
	// remove themselves from s.sessions via their onClose callback.
}

// SetEnabled toggles the server-wide enabled flag. Disabled servers reject
// all CallTool and return an empty ListTools (spec §3) without tearing down
// sessions. A boundary crossing triggers a broadcast (spec §4.G).
func (s *Server) SetEnabled(enabled bool) {
	prev := s.enabled.Swap(enabled)
	if prev != enabled {
		s.broadcaster.Broadcast()
	}
}

// SetServiceBindings replaces the whole Service-enabled snapshot and
// broadcasts the change to all live sessions (spec §4.G).
func (s *Server) SetServiceBindings(enabled map[string]bool) {
	s.bindingsMu.Lock()
	s.bindings = registry.NewBindings(enabled)
	s.bindingsMu.Unlock()
	s.rebuildDispatcher()
	s.broadcaster.Broadcast()
}

// SetWatcher installs and starts the Message Watcher. Optional subsystem
// (spec §4.I).
func (s *Server) SetWatcher(w *watcher.Watcher) error {
	s.watcher = w
	return w.Start(s.runCtx)
}

// TokenStoreChanged should be called by the Token Store's FileWatcher
// on-swap hook: a permission change broadcasts the same way a binding
// change does (spec §4.G "any Token permission change").
func (s *Server) TokenStoreChanged() {
	s.broadcaster.Broadcast()
}

func (s *Server) handleConn(conn net.Conn) {
	tok, reader, err := s.gate.Authenticate(conn)
	if err != nil {
		conn.Close()
		return
	}

	dispatcher := s.dispatcher.Load()
	sess := mcpsession.New(conn, reader, tok, dispatcher)

	s.sessionsMu.Lock()
	s.sessions[sess.ID] = sess
	s.sessionsMu.Unlock()
	s.broadcaster.Register(sess.ID, sess)

	sess.Serve(s.runCtx, func(done *mcpsession.Session) {
		s.sessionsMu.Lock()
		delete(s.sessions, done.ID)
		s.sessionsMu.Unlock()
		s.broadcaster.Unregister(done.ID)
	})
}
