package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/imcphost/imcp/internal/registry"
	"github.com/imcphost/imcp/internal/tokenstore"
)

type fakePingService struct{}

func (fakePingService) ID() string          { return "ping" }
func (fakePingService) IsActivated() bool   { return true }
func (fakePingService) Activate() error     { return nil }
func (fakePingService) Tools() []registry.Tool {
	return []registry.Tool{{Name: "ping", Description: "replies pong", ReadOnlyHint: true}}
}
func (fakePingService) Call(tool string, args map[string]any) (registry.CallResult, error) {
	return registry.CallResult{Value: "pong"}, nil
}

func newTestServer(t *testing.T) (*Server, tokenstore.Token) {
	t.Helper()

	tok := tokenstore.Token{
		ID:          "tok-1",
		Name:        "test",
		Secret:      "s3cr3t",
		Permissions: map[string]tokenstore.Permission{"ping": tokenstore.PermissionFull},
	}

	store := tokenstore.New()
	store.Swap(tokenstore.NewSnapshot([]tokenstore.Token{tok}))

	srv := New([]registry.Service{fakePingService{}}, store)
	srv.runCtx, srv.runCancel = context.WithCancel(context.Background())
	srv.SetServiceBindings(map[string]bool{"ping": true})

	return srv, tok
}

func TestHandleConnServesAuthenticatedSession(t *testing.T) {
	srv, tok := newTestServer(t)
	defer srv.runCancel()

	client, serverSide := net.Pipe()
	defer client.Close()

	go srv.handleConn(serverSide)

	writeLine(t, client, tok.Secret)
	writeLine(t, client, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"clientInfo":{"name":"test-client"}}}`)

	r := bufio.NewReader(client)
	resp := readLineWithTimeout(t, r)
	var initResp map[string]any
	if err := json.Unmarshal([]byte(resp), &initResp); err != nil {
		t.Fatalf("unmarshal initialize response: %v (line=%q)", err, resp)
	}
	if _, ok := initResp["result"]; !ok {
		t.Fatalf("initialize response missing result: %v", initResp)
	}

	writeLine(t, client, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	resp = readLineWithTimeout(t, r)
	if !strings.Contains(resp, `"ping"`) {
		t.Fatalf("tools/list response missing ping tool: %s", resp)
	}
}

func TestHandleConnToolsCallPermissionDenied(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.runCancel()

	readOnlyTok := tokenstore.Token{
		ID:          "tok-readonly",
		Name:        "readonly",
		Secret:      "ro-s3cr3t",
		Permissions: map[string]tokenstore.Permission{"ping": tokenstore.PermissionOff},
	}
	srv.store.Swap(tokenstore.NewSnapshot([]tokenstore.Token{readOnlyTok}))

	client, serverSide := net.Pipe()
	defer client.Close()

	go srv.handleConn(serverSide)

	writeLine(t, client, readOnlyTok.Secret)
	writeLine(t, client, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"clientInfo":{"name":"test-client"}}}`)

	r := bufio.NewReader(client)
	readLineWithTimeout(t, r) // initialize response

	writeLine(t, client, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"ping","arguments":{}}}`)
	resp := readLineWithTimeout(t, r)

	var callResp map[string]any
	if err := json.Unmarshal([]byte(resp), &callResp); err != nil {
		t.Fatalf("unmarshal tools/call response: %v (line=%q)", err, resp)
	}
	result, _ := callResp["result"].(map[string]any)
	if result == nil {
		t.Fatalf("expected a result envelope (isError, not a protocol error): %v", callResp)
	}
	if isError, _ := result["isError"].(bool); !isError {
		t.Fatalf("expected isError=true for a permission-denied call, got %v", result)
	}
	if !strings.Contains(resp, "permission denied") {
		t.Fatalf("expected permission-denied message in response, got %s", resp)
	}
}

func TestBindingChangeDeliversListChangedNotificationOverSocket(t *testing.T) {
	srv, tok := newTestServer(t)
	defer srv.runCancel()

	client, serverSide := net.Pipe()
	defer client.Close()

	go srv.handleConn(serverSide)

	writeLine(t, client, tok.Secret)
	writeLine(t, client, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"clientInfo":{"name":"test-client"}}}`)

	r := bufio.NewReader(client)
	readLineWithTimeout(t, r) // initialize response

	// Give handleConn time to register the session with the broadcaster
	// before the binding change fires.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && srv.broadcaster.Count() == 0 {
		time.Sleep(5 * time.Millisecond)
	}

	srv.SetServiceBindings(map[string]bool{"ping": false})

	resp := readLineWithTimeout(t, r)
	if !strings.Contains(resp, "notifications/tools/list_changed") {
		t.Fatalf("expected a list_changed notification over the wire, got %s", resp)
	}
}

func TestHandleConnRejectsBadToken(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.runCancel()

	client, serverSide := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		srv.handleConn(serverSide)
		close(done)
	}()

	writeLine(t, client, "not-the-right-secret")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handleConn did not close a misauthenticated connection in time")
	}
}

func TestSetEnabledBroadcastsOnBoundaryCrossing(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.runCancel()

	count := 0
	srv.broadcaster.Register("watcher", notifierFunc(func() error {
		count++
		return nil
	}))

	srv.SetEnabled(true) // already true: no crossing, no broadcast
	if count != 0 {
		t.Fatalf("expected 0 broadcasts for a no-op toggle, got %d", count)
	}

	srv.SetEnabled(false)
	if count != 1 {
		t.Fatalf("expected 1 broadcast after disabling, got %d", count)
	}
}

type notifierFunc func() error

func (f notifierFunc) Notify() error { return f() }

func writeLine(t *testing.T, w net.Conn, s string) {
	t.Helper()
	if _, err := w.Write([]byte(s + "\n")); err != nil {
		t.Fatalf("write %q: %v", s, err)
	}
}

func readLineWithTimeout(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := r.ReadString('\n')
		ch <- result{line, err}
	}()
	select {
	case res := <-ch:
		if res.err != nil {
			t.Fatalf("read line: %v", res.err)
		}
		return strings.TrimSpace(res.line)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a response line")
		return ""
	}
}
