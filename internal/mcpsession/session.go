// Package mcpsession implements the per-connection MCP wire protocol:
// handshake, method dispatch, and notification delivery (spec component E).
package mcpsession

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"

	"github.com/imcphost/imcp/internal/logging"
	"github.com/imcphost/imcp/internal/registry"
	"github.com/imcphost/imcp/internal/tokenstore"
)

// State is one of the Session's lifecycle states (spec §4.E).
type State int

const (
	StateAuthed State = iota
	StateInitializing
	StateRunning
	StateClosed
)

const (
	setupTimeout    = 10 * time.Second
	livenessPoll    = 30 * time.Second
	serverName      = "imcp-host"
	serverVersion   = "1.0.0"
)

// Session owns one authenticated TCP connection and speaks the MCP wire
// protocol over it.
type Session struct {
	ID    string
	Token tokenstore.Token

	conn   net.Conn
	reader *bufio.Reader

	writeMu sync.Mutex

	dispatcher *registry.Dispatcher

	mu    sync.Mutex
	state State

	log *slog.Logger
}

// New creates a Session for an already-authenticated connection. reader must
// be the *bufio.Reader returned by authgate.Authenticate, which may already
// hold buffered bytes following the token preamble.
func New(conn net.Conn, reader *bufio.Reader, token tokenstore.Token, dispatcher *registry.Dispatcher) *Session {
	id := uuid.NewString()
	return &Session{
		ID:         id,
		Token:      token,
		conn:       conn,
		reader:     reader,
		dispatcher: dispatcher,
		state:      StateAuthed,
		log:        logging.WithSession(logging.Session(), id, token.ID),
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// State returns the Session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Serve runs the Session's read loop until the connection closes, the
// context is cancelled, or a protocol-fatal error occurs. onClose is invoked
// exactly once, after the Session transitions to CLOSED, so the owner can
// remove it from the live set (spec §4.E "On CLOSED the Session's id is
// removed from the live set").
func (s *Session) Serve(ctx context.Context, onClose func(*Session)) {
	defer func() {
		s.setState(StateClosed)
		s.conn.Close()
		if onClose != nil {
			onClose(s)
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.livenessWatcher(runCtx)
	go func() {
		<-runCtx.Done()
		s.conn.Close()
	}()

	if err := s.runSetup(); err != nil {
		s.log.Debug("setup failed", "error", err)
		return
	}

	s.setState(StateRunning)
	s.log.Info("session running")

	for {
		if err := s.handleNext(); err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug("session loop ended", "error", err)
			}
			return
		}
	}
}

// runSetup waits for the first "initialize" request, within the 10-second
// setup timeout, and acknowledges it.
func (s *Session) runSetup() error {
	s.setState(StateInitializing)

	type result struct {
		req *rpcRequest
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		req, err := s.readRequest()
		resCh <- result{req, err}
	}()

	select {
	case res := <-resCh:
		if res.err != nil {
			return res.err
		}
		if res.req.Method != "initialize" {
			return fmt.Errorf("mcpsession: expected initialize, got %q", res.req.Method)
		}
		return s.handleInitialize(res.req)
	case <-time.After(setupTimeout):
		return fmt.Errorf("mcpsession: setup timed out after %s", setupTimeout)
	}
}

func (s *Session) handleInitialize(req *rpcRequest) error {
	var params struct {
		ClientInfo struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"clientInfo"`
	}
	if len(req.Params) > 0 {
		_ = json.Unmarshal(req.Params, &params)
	}
	// Client-declared name is logged only, never used for permission
	// decisions (spec §9 Open Questions).
	s.log.Info("client connected", "client_name", params.ClientInfo.Name, "client_version", params.ClientInfo.Version)

	result := map[string]any{
		"protocolVersion": "2024-11-05",
		"serverInfo":      map[string]any{"name": serverName, "version": serverVersion},
		"capabilities": map[string]any{
			"tools":     map[string]any{"listChanged": true},
			"prompts":   map[string]any{},
			"resources": map[string]any{},
		},
	}
	return s.writeResponse(newResponse(req.ID, result))
}

// handleNext reads and dispatches one request or notification.
func (s *Session) handleNext() error {
	req, err := s.readRequest()
	if err != nil {
		return err
	}

	switch req.Method {
	case "prompts/list":
		return s.writeResponse(newResponse(req.ID, map[string]any{"prompts": []any{}}))
	case "resources/list":
		return s.writeResponse(newResponse(req.ID, map[string]any{"resources": []any{}}))
	case "tools/list":
		return s.handleListTools(req)
	case "tools/call":
		return s.handleCallTool(req)
	case "notifications/initialized":
		return nil // client-originated, no response required
	default:
		if req.ID == nil {
			return nil // unhandled notification: ignore
		}
		return s.writeResponse(newErrorResponse(req.ID, jsonrpc.CodeMethodNotFound, "method not found"))
	}
}

func (s *Session) handleListTools(req *rpcRequest) error {
	tools := s.dispatcher.ListTools(&s.Token)
	wire := make([]wireTool, 0, len(tools))
	for _, t := range tools {
		wire = append(wire, toWireTool(t))
	}
	return s.writeResponse(newResponse(req.ID, map[string]any{"tools": wire}))
}

func (s *Session) handleCallTool(req *rpcRequest) error {
	var params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.writeResponse(newErrorResponse(req.ID, jsonrpc.CodeInvalidParams, "invalid tools/call params"))
	}

	result, callErr := s.dispatcher.CallTool(&s.Token, params.Name, params.Arguments)
	if callErr != nil {
		return s.writeResponse(newResponse(req.ID, map[string]any{
			"content": []wireContent{{Type: "text", Text: callErr.Message}},
			"isError": true,
		}))
	}

	content, err := toWireContent(result)
	if err != nil {
		return s.writeResponse(newResponse(req.ID, map[string]any{
			"content": []wireContent{{Type: "text", Text: "failed to encode result"}},
			"isError": true,
		}))
	}
	return s.writeResponse(newResponse(req.ID, map[string]any{"content": content, "isError": false}))
}

// Notify sends notifications/tools/list_changed to the peer. Send errors
// that indicate a dead peer (connection-reset or not-connected classes)
// cause the Session to be torn down; other errors are logged only (spec
// §4.E, §4.G).
func (s *Session) Notify() error {
	err := s.writeNotification(rpcNotification{JSONRPC: "2.0", Method: "notifications/tools/list_changed"})
	if err == nil {
		return nil
	}
	if isDeadPeer(err) {
		s.conn.Close()
		return err
	}
	s.log.Warn("notification send failed", "error", err)
	return nil
}

func isDeadPeer(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection reset") || strings.Contains(msg, "broken pipe")
}

// livenessWatcher polls every 30 seconds and returns once the Session is
// CLOSED or ctx is cancelled. It does not probe the connection itself: a dead
// connection is detected by the read loop in Serve, whose read error ends the
// Session.
func (s *Session) livenessWatcher(ctx context.Context) {
	ticker := time.NewTicker(livenessPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.State() == StateClosed {
				return
			}
		}
	}
}

func (s *Session) readRequest() (*rpcRequest, error) {
	line, err := s.reader.ReadString('\n')
	if err != nil {
		if line == "" {
			return nil, err
		}
		// Fall through: treat the final unterminated line as complete.
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return s.readRequest()
	}

	var req rpcRequest
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		return nil, fmt.Errorf("mcpsession: malformed request: %w", err)
	}
	return &req, nil
}

func (s *Session) writeResponse(resp rpcResponse) error {
	return s.writeLine(resp)
}

func (s *Session) writeNotification(n rpcNotification) error {
	return s.writeLine(n)
}

func (s *Session) writeLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err = s.conn.Write(data)
	return err
}
