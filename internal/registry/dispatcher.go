package registry

import (
	"fmt"

	"github.com/imcphost/imcp/internal/logging"
	"github.com/imcphost/imcp/internal/tokenstore"
)

// ErrKind classifies a Dispatcher error result so callers (the MCP session)
// can render the exact distinct messages spec §7 requires.
type ErrKind int

const (
	ErrNone ErrKind = iota
	ErrServerDisabled
	ErrToolNotFound
	ErrPermissionDenied
	ErrServiceFailure
)

// Error is a user-visible tool-call failure: never a protocol-level
// JSON-RPC error, always an isError=true result (spec §4.F, §7).
type Error struct {
	Kind    ErrKind
	Message string
}

func (e *Error) Error() string { return e.Message }

// Dispatcher answers ListTools/CallTool against a Registry, consulting a
// token's permissions and this Dispatcher's Service bindings snapshot on every
// call (spec §4.F — checked twice: once at list time, once at call time).
type Dispatcher struct {
	registry *Registry
	bindings *Bindings
	enabled  func() bool // server-wide enabled flag
}

// NewDispatcher builds a Dispatcher over registry. enabled is called on every
// request and reflects the process-wide server state. bindings is fixed for
// the life of this Dispatcher; a new snapshot takes effect only through a new
// Dispatcher derived with WithBindings.
func NewDispatcher(reg *Registry, bindings *Bindings, enabled func() bool) *Dispatcher {
	return &Dispatcher{registry: reg, bindings: bindings, enabled: enabled}
}

// WithBindings returns a shallow copy of the Dispatcher using a new Bindings
// snapshot, for atomic hand-off from the server's config-change path.
func (d *Dispatcher) WithBindings(b *Bindings) *Dispatcher {
	return &Dispatcher{registry: d.registry, bindings: b, enabled: d.enabled}
}

// permits reports whether token grants access to toolName given the current
// bindings, applying both the service-enabled gate and the readOnlyHint
// restriction under PermissionReadOnly.
func (d *Dispatcher) permits(token *tokenstore.Token, tool Tool, serviceID string) bool {
	if !d.bindings.Enabled(serviceID) {
		return false
	}
	switch token.Permission(serviceID) {
	case tokenstore.PermissionFull:
		return true
	case tokenstore.PermissionReadOnly:
		return tool.ReadOnlyHint
	default:
		return false
	}
}

// ListTools returns, in registry order, every Tool whose Service is globally
// enabled and permitted for token. If the server is disabled, returns an
// empty list (not an error — spec §3 "disabled servers ... return an empty
// ListTools").
func (d *Dispatcher) ListTools(token *tokenstore.Token) []Tool {
	if d.enabled != nil && !d.enabled() {
		return nil
	}

	var out []Tool
	for _, svc := range d.registry.Services() {
		for _, tool := range svc.Tools() {
			if d.permits(token, tool, svc.ID()) {
				out = append(out, tool)
			}
		}
	}
	return out
}

// CallTool resolves name, re-validates permission, and invokes the owning
// Service, converting any failure into an *Error result rather than a
// protocol-level error (spec §4.F steps 1-6).
func (d *Dispatcher) CallTool(token *tokenstore.Token, name string, args map[string]any) (CallResult, *Error) {
	if d.enabled != nil && !d.enabled() {
		return CallResult{}, &Error{Kind: ErrServerDisabled, Message: "server is disabled"}
	}

	serviceID, ok := d.registry.Owner(name)
	if !ok {
		return CallResult{}, &Error{Kind: ErrToolNotFound, Message: "tool not found or service not enabled"}
	}

	svc, ok := d.registry.Lookup(serviceID)
	if !ok {
		return CallResult{}, &Error{Kind: ErrToolNotFound, Message: "tool not found or service not enabled"}
	}

	var tool Tool
	found := false
	for _, t := range svc.Tools() {
		if t.Name == name {
			tool = t
			found = true
			break
		}
	}
	if !found {
		return CallResult{}, &Error{Kind: ErrToolNotFound, Message: "tool not found or service not enabled"}
	}

	if !d.permits(token, tool, serviceID) {
		return CallResult{}, &Error{Kind: ErrPermissionDenied, Message: fmt.Sprintf("permission denied for '%s'", name)}
	}

	result, err := svc.Call(name, args)
	if err != nil {
		logging.Dispatcher().Warn("service call failed", "tool", name, "service", serviceID, "error", err)
		return CallResult{}, &Error{Kind: ErrServiceFailure, Message: err.Error()}
	}

	if result.NotHandled {
		// Spec §9 Open Questions: the precomputed tool->service map is
		// authoritative here, so fall-through is unreachable; treat it as
		// not-found rather than searching further services.
		return CallResult{}, &Error{Kind: ErrToolNotFound, Message: "tool not found or service not enabled"}
	}

	return result, nil
}
