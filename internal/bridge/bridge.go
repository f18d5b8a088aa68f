// Package bridge implements the stdio<->TCP proxy process assistant
// clients launch (spec component H). It preserves JSON-RPC message
// boundaries in both directions while stripping a binary heartbeat
// sideband from the network-inbound stream.
package bridge

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/imcphost/imcp/internal/logging"
)

const (
	portFilePollBudget = 30 * time.Second
	portFilePollEvery  = 100 * time.Millisecond

	reconnectDelay  = 5 * time.Second
	stdinYield      = 10 * time.Millisecond
	networkReadSize = 1 << 20 // 1 MiB, spec's "large bound (>=1 MiB)"

	// emptyReceiveThreshold bounds how many consecutive zero-byte/timeout
	// reads from the network side are tolerated before the bridge treats
	// the connection as stalled and reconnects (spec §4.H retry policy).
	emptyReceiveThreshold = 50
)

// heartbeatMagic is the 4-byte signature prefixing every 12-byte heartbeat
// frame (4-byte magic + 8-byte payload) interleaved in the TCP stream.
var heartbeatMagic = [4]byte{0xC0, 0xFF, 0xEE, 0x01}

const heartbeatFrameLen = 12

// Bridge proxies a client's stdin/stdout to a single TCP connection to the
// iMCP server.
type Bridge struct {
	Token       string
	PortFile    string
	DialAddress string // overrides port-file resolution in tests
}

// Run resolves the server's port, connects, writes the token preamble, and
// proxies until the remote end closes or an unrecoverable error occurs. Run
// returns nil on a clean remote close (spec §6 "Exit code 0 on clean remote
// close").
func (b *Bridge) Run(ctx context.Context) error {
	for {
		err := b.runOnce(ctx)
		if err == nil || errors.Is(err, io.EOF) {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if isFatalNetErr(err) {
			return err
		}
		logging.Bridge().Warn("bridge connection failed, reconnecting", "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

func (b *Bridge) runOnce(ctx context.Context) error {
	addr := b.DialAddress
	if addr == "" {
		port, err := b.awaitPort(ctx)
		if err != nil {
			return fmt.Errorf("bridge: %w", err)
		}
		addr = fmt.Sprintf("127.0.0.1:%d", port)
	}

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("bridge: dial %s: %w", addr, err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(b.Token + "\n")); err != nil {
		return fmt.Errorf("bridge: write token preamble: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)

	go func() {
		errCh <- stdinToNet(runCtx, os.Stdin, conn)
	}()
	go func() {
		errCh <- netToStdout(runCtx, conn, os.Stdout)
	}()

	// First task to finish cancels the other (spec §4.H "either task
	// completing ... cancels the other").
	first := <-errCh
	cancel()
	conn.Close()
	<-errCh

	return first
}

// awaitPort reads the Port File, polling up to 30 seconds (spec §4.A).
func (b *Bridge) awaitPort(ctx context.Context) (int, error) {
	deadline := time.Now().Add(portFilePollBudget)
	for {
		data, err := os.ReadFile(b.PortFile)
		if err == nil {
			port, perr := strconv.Atoi(strings.TrimSpace(string(data)))
			if perr == nil {
				return port, nil
			}
		}
		if time.Now().After(deadline) {
			return 0, fmt.Errorf("port file %s not ready after %s", b.PortFile, portFilePollBudget)
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(portFilePollEvery):
		}
	}
}

// stdinToNet reads stdin non-blockingly, suppressing whitespace-only
// chunks, and forwards accumulated non-whitespace data as one network
// write per flush (spec §4.H "Stdin direction").
func stdinToNet(ctx context.Context, in io.Reader, out io.Writer) error {
	buf := make([]byte, 64*1024)
	var pending []byte

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		n, err := in.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			if len(strings.TrimSpace(string(pending))) > 0 {
				if werr := writeAll(out, pending); werr != nil {
					return werr
				}
				pending = pending[:0]
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.EOF
			}
			if isWouldBlock(err) {
				time.Sleep(stdinYield)
				continue
			}
			return err
		}
	}
}

// netToStdout reads from the network connection, strips heartbeat frames,
// and writes complete newline-terminated messages to stdout as whole units
// (spec §4.H "Network direction").
func netToStdout(ctx context.Context, conn net.Conn, out io.Writer) error {
	reader := bufio.NewReaderSize(conn, networkReadSize)
	var rolling []byte
	emptyStreak := 0

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		chunk := make([]byte, networkReadSize)
		n, err := reader.Read(chunk)

		if n == 0 {
			if err != nil && !isTimeout(err) {
				if errors.Is(err, io.EOF) {
					return io.EOF
				}
				return err
			}
			emptyStreak++
			if emptyStreak > emptyReceiveThreshold {
				return fmt.Errorf("netToStdout: too many empty reads, reconnecting")
			}
			continue
		}
		emptyStreak = 0

		rolling = append(rolling, stripHeartbeats(chunk[:n])...)

		for {
			idx := indexByte(rolling, '\n')
			if idx < 0 {
				break
			}
			if err := writeAll(out, rolling[:idx+1]); err != nil {
				return err
			}
			rolling = rolling[idx+1:]
		}
	}
}

// stripHeartbeats removes any complete 12-byte heartbeat frames from data.
// A chunk containing only the 4-byte magic with fewer than 12 total bytes
// available is discarded entirely (partial heartbeat resync, spec §4.H).
func stripHeartbeats(data []byte) []byte {
	out := make([]byte, 0, len(data))
	i := 0
	for i < len(data) {
		if i+4 <= len(data) && matchesMagic(data[i:i+4]) {
			if i+heartbeatFrameLen <= len(data) {
				i += heartbeatFrameLen
				continue
			}
			// Signature present but fewer than 12 bytes remain: discard
			// the rest of this chunk.
			return out
		}
		out = append(out, data[i])
		i++
	}
	return out
}

func matchesMagic(b []byte) bool {
	return b[0] == heartbeatMagic[0] && b[1] == heartbeatMagic[1] && b[2] == heartbeatMagic[2] && b[3] == heartbeatMagic[3]
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

func writeAll(w io.Writer, data []byte) error {
	for len(data) > 0 {
		n, err := w.Write(data)
		if err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

func isWouldBlock(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded) || isTimeout(err)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isFatalNetErr reports the "well-known" connection-reset / not-connected
// error classes that terminate the bridge outright rather than triggering a
// reconnect (spec §4.H retry policy).
func isFatalNetErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		errors.Is(err, net.ErrClosed)
}
