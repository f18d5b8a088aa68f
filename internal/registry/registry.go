// Package registry holds the fixed, build-time catalog of Services and
// Tools and precomputes the tool-name lookup the Dispatcher needs (spec
// component F).
package registry

import "sort"

// Tool describes one named, schema-typed operation exposed by a Service.
// Name is unique across the whole catalog.
type Tool struct {
	Name         string
	Description  string
	InputSchema  map[string]any
	ReadOnlyHint bool
}

// CallResult is the tagged variant a Service's Call returns: exactly one of
// Value, Blob, or NotHandled is meaningful.
type CallResult struct {
	// Value is a JSON-marshalable structured result.
	Value any
	// Blob is a typed binary result (audio/image); MIME carries e.g.
	// "image/png". Bytes is raw, not base64-encoded yet.
	Blob *Blob
	// NotHandled signals "not mine, try the next Service" (spec §9 Open
	// Questions: unreachable when the ToolName->ServiceID map is
	// authoritative, which it is here, but Services may still return it).
	NotHandled bool
}

// Blob is a typed binary tool result.
type Blob struct {
	MIMEType string
	Bytes    []byte
}

// Service adapts one host subsystem. Implementations are thin, numerous, and
// mechanical — the spec calls out their individual semantics as out of
// scope.
type Service interface {
	ID() string
	IsActivated() bool
	Activate() error
	Tools() []Tool
	Call(toolName string, args map[string]any) (CallResult, error)
}

// Binding is the externally-governed enabled/disabled flag for one Service,
// independent of the per-token Permission model.
type Binding struct {
	Enabled bool
}

// Bindings is an atomically-swappable snapshot of per-service enablement,
// analogous to tokenstore.Snapshot (spec §9 "Global snapshots for config").
type Bindings struct {
	enabled map[string]bool
}

// NewBindings builds a Bindings snapshot from a serviceID->enabled map. A
// missing entry defaults to disabled.
func NewBindings(m map[string]bool) *Bindings {
	cp := make(map[string]bool, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return &Bindings{enabled: cp}
}

// Enabled reports whether serviceID is globally enabled in this snapshot.
func (b *Bindings) Enabled(serviceID string) bool {
	if b == nil {
		return false
	}
	return b.enabled[serviceID]
}

// Registry is the fixed ordered list of Services known at build time, with a
// precomputed Tool name -> Service ID lookup.
type Registry struct {
	services    []Service
	byID        map[string]Service
	toolToOwner map[string]string // tool name -> service id
}

// New builds a Registry from an ordered list of Services. Panics on a
// duplicate Service ID or duplicate Tool name across the whole catalog —
// these are build-time programmer errors, not runtime conditions.
func New(services []Service) *Registry {
	r := &Registry{
		services:    services,
		byID:        make(map[string]Service, len(services)),
		toolToOwner: make(map[string]string),
	}
	for _, svc := range services {
		if _, dup := r.byID[svc.ID()]; dup {
			panic("registry: duplicate service id " + svc.ID())
		}
		r.byID[svc.ID()] = svc
		for _, tool := range svc.Tools() {
			if _, dup := r.toolToOwner[tool.Name]; dup {
				panic("registry: duplicate tool name " + tool.Name)
			}
			r.toolToOwner[tool.Name] = svc.ID()
		}
	}
	return r
}

// Services returns the registry's services in catalog order.
func (r *Registry) Services() []Service {
	return r.services
}

// Owner returns the Service ID that owns toolName, and whether one exists.
func (r *Registry) Owner(toolName string) (string, bool) {
	id, ok := r.toolToOwner[toolName]
	return id, ok
}

// Lookup returns the Service with the given ID.
func (r *Registry) Lookup(serviceID string) (Service, bool) {
	svc, ok := r.byID[serviceID]
	return svc, ok
}

// ServiceIDs returns every registered Service ID in sorted order, for
// presenting the catalog in a stable, human-friendly order distinct from
// catalog (registration) order. Used by the `imcp-server tokens` admin shell
// to list and validate known service IDs.
func (r *Registry) ServiceIDs() []string {
	ids := make([]string, 0, len(r.services))
	for _, svc := range r.services {
		ids = append(ids, svc.ID())
	}
	sort.Strings(ids)
	return ids
}
