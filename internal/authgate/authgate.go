// Package authgate implements the single-line token preamble authentication
// performed on every freshly accepted TCP connection before any JSON-RPC
// byte is read (spec component D).
package authgate

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/imcphost/imcp/internal/logging"
	"github.com/imcphost/imcp/internal/tokenstore"
)

const (
	// readTimeout bounds how long the gate waits for the token line.
	readTimeout = 5 * time.Second
	// maxLineBytes caps the preamble before the socket is closed outright.
	maxLineBytes = 256
)

// ErrNoTokens is returned when the Token Store snapshot is empty: the gate
// must reject all connections before attempting any read (spec §4.D
// "Failure mode").
var ErrNoTokens = errors.New("authgate: token store is empty")

// ErrAuthFailed is returned for any non-matching or malformed preamble.
var ErrAuthFailed = errors.New("authgate: authentication failed")

// Gate authenticates newly accepted connections against a tokenstore.Store.
type Gate struct {
	store   *tokenstore.Store
	limiter *rate.Limiter
}

// New returns a Gate reading tokens from store. The limiter throttles only
// the rejection log lines under a connection flood; it never delays a
// connection or a legitimate match.
func New(store *tokenstore.Store) *Gate {
	return &Gate{
		store:   store,
		limiter: rate.NewLimiter(rate.Limit(20), 40),
	}
}

// Authenticate reads one line from conn and matches it against the current
// Token Store snapshot. On success it returns the matched Token and a
// *bufio.Reader positioned right after the preamble newline — the caller
// must read all subsequent JSON-RPC traffic through this reader, not conn
// directly, since bytes following the token line may already be buffered.
// On any failure the connection is closed by the caller; Authenticate itself
// never writes to conn.
func (g *Gate) Authenticate(conn net.Conn) (tokenstore.Token, *bufio.Reader, error) {
	snap := g.store.Load()
	if snap.Empty() {
		if g.limiter.Allow() {
			logging.Auth().Warn("rejected connection: token store empty", "remote", conn.RemoteAddr())
		}
		return tokenstore.Token{}, nil, ErrNoTokens
	}

	if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return tokenstore.Token{}, nil, fmt.Errorf("authgate: set deadline: %w", err)
	}

	r := bufio.NewReaderSize(conn, maxLineBytes+1)
	line, err := readLine(r, maxLineBytes)
	if err != nil {
		if g.limiter.Allow() {
			logging.Auth().Warn("rejected connection: preamble read failed", "remote", conn.RemoteAddr(), "error", err)
		}
		return tokenstore.Token{}, nil, ErrAuthFailed
	}

	candidate := strings.TrimSpace(line)

	tok, ok := snap.Find(candidate)
	if !ok {
		if g.limiter.Allow() {
			logging.Auth().Warn("rejected connection: token mismatch", "remote", conn.RemoteAddr())
		}
		return tokenstore.Token{}, nil, ErrAuthFailed
	}

	_ = conn.SetReadDeadline(time.Time{})
	return tok, r, nil
}

// readLine reads up to the first '\n', failing if more than maxBytes are
// seen before one is found (spec §4.D / §6 "Length > 256 bytes ... closes
// the connection").
func readLine(r *bufio.Reader, maxBytes int) (string, error) {
	var sb strings.Builder
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		if b == '\n' {
			return sb.String(), nil
		}
		if sb.Len() >= maxBytes {
			return "", fmt.Errorf("authgate: preamble exceeds %d bytes", maxBytes)
		}
		sb.WriteByte(b)
	}
}
