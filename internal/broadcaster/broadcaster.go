// Package broadcaster fans out "tool list changed" notifications to every
// live MCP session when server-wide config changes (spec component G).
package broadcaster

import (
	"sync"

	"github.com/imcphost/imcp/internal/logging"
)

// Notifier is the subset of mcpsession.Session the Broadcaster needs. Kept
// as an interface so this package has no import-time dependency on
// mcpsession (which in turn depends on registry and tokenstore).
type Notifier interface {
	Notify() error
}

// Broadcaster tracks the live set of Sessions and notifies all of them on
// demand. Registration and broadcast are safe for concurrent use.
type Broadcaster struct {
	mu       sync.Mutex
	sessions map[string]Notifier
}

// New returns an empty Broadcaster.
func New() *Broadcaster {
	return &Broadcaster{sessions: make(map[string]Notifier)}
}

// Register adds a Session to the live set under id.
func (b *Broadcaster) Register(id string, n Notifier) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[id] = n
}

// Unregister removes a Session from the live set.
func (b *Broadcaster) Unregister(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, id)
}

// Count returns the number of currently-registered sessions. Used by tests
// and diagnostics.
func (b *Broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

// Broadcast notifies every Session live at the moment of this call (a
// snapshot taken at entry — spec §4.G "a snapshot taken at the entry of the
// broadcast"). Sessions registered after the snapshot is taken do not
// receive this broadcast.
func (b *Broadcaster) Broadcast() {
	b.mu.Lock()
	snapshot := make([]Notifier, 0, len(b.sessions))
	for _, n := range b.sessions {
		snapshot = append(snapshot, n)
	}
	b.mu.Unlock()

	for _, n := range snapshot {
		if err := n.Notify(); err != nil {
			logging.Broadcaster().Debug("session torn down during broadcast", "error", err)
		}
	}
}
