package authgate

import (
	"net"
	"testing"
	"time"

	"github.com/imcphost/imcp/internal/tokenstore"
)

func TestAuthenticateRejectsEmptyStore(t *testing.T) {
	store := tokenstore.New()
	gate := New(store)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	errCh := make(chan error, 1)
	go func() {
		_, _, err := gate.Authenticate(server)
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err != ErrNoTokens {
			t.Fatalf("expected ErrNoTokens, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Authenticate did not return for an empty store")
	}
}

func TestAuthenticateMatchesToken(t *testing.T) {
	store := tokenstore.New()
	store.Swap(tokenstore.NewSnapshot([]tokenstore.Token{{ID: "t1", Secret: "deadbeef"}}))
	gate := New(store)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	type result struct {
		tok tokenstore.Token
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		tok, _, err := gate.Authenticate(server)
		resCh <- result{tok, err}
	}()

	go func() {
		client.Write([]byte("deadbeef\n"))
	}()

	select {
	case res := <-resCh:
		if res.err != nil {
			t.Fatalf("unexpected error: %v", res.err)
		}
		if res.tok.ID != "t1" {
			t.Fatalf("expected t1, got %+v", res.tok)
		}
	case <-time.After(time.Second):
		t.Fatal("Authenticate did not return")
	}
}

func TestAuthenticateRejectsMismatch(t *testing.T) {
	store := tokenstore.New()
	store.Swap(tokenstore.NewSnapshot([]tokenstore.Token{{ID: "t1", Secret: "deadbeef"}}))
	gate := New(store)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	errCh := make(chan error, 1)
	go func() {
		_, _, err := gate.Authenticate(server)
		errCh <- err
	}()

	go func() {
		client.Write([]byte("wrongtoken\n"))
	}()

	select {
	case err := <-errCh:
		if err != ErrAuthFailed {
			t.Fatalf("expected ErrAuthFailed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Authenticate did not return")
	}
}
