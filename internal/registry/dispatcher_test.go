package registry

import (
	"testing"

	"github.com/imcphost/imcp/internal/tokenstore"
)

type fakeService struct {
	id     string
	tools  []Tool
	calls  []string
	result CallResult
	err    error
}

func (f *fakeService) ID() string          { return f.id }
func (f *fakeService) IsActivated() bool   { return true }
func (f *fakeService) Activate() error     { return nil }
func (f *fakeService) Tools() []Tool       { return f.tools }
func (f *fakeService) Call(name string, args map[string]any) (CallResult, error) {
	f.calls = append(f.calls, name)
	return f.result, f.err
}

func newCalendarFixture() (*Registry, *Bindings) {
	svc := &fakeService{
		id: "CalendarService",
		tools: []Tool{
			{Name: "calendar_read", ReadOnlyHint: true},
			{Name: "calendar_create", ReadOnlyHint: false},
		},
		result: CallResult{Value: "ok"},
	}
	reg := New([]Service{svc})
	bindings := NewBindings(map[string]bool{"CalendarService": true})
	return reg, bindings
}

func TestListToolsReadOnlyPermission(t *testing.T) {
	reg, bindings := newCalendarFixture()
	d := NewDispatcher(reg, bindings, func() bool { return true })

	tok := &tokenstore.Token{Permissions: map[string]tokenstore.Permission{"CalendarService": tokenstore.PermissionReadOnly}}
	tools := d.ListTools(tok)
	if len(tools) != 1 || tools[0].Name != "calendar_read" {
		t.Fatalf("expected only calendar_read, got %+v", tools)
	}
}

func TestCallToolPermissionDenied(t *testing.T) {
	reg, bindings := newCalendarFixture()
	d := NewDispatcher(reg, bindings, func() bool { return true })
	tok := &tokenstore.Token{Permissions: map[string]tokenstore.Permission{"CalendarService": tokenstore.PermissionReadOnly}}

	_, errResult := d.CallTool(tok, "calendar_create", nil)
	if errResult == nil || errResult.Kind != ErrPermissionDenied {
		t.Fatalf("expected permission denied, got %+v", errResult)
	}
	if errResult.Message != "permission denied for 'calendar_create'" {
		t.Fatalf("unexpected message: %q", errResult.Message)
	}
}

func TestCallToolFullPermissionSucceeds(t *testing.T) {
	reg, bindings := newCalendarFixture()
	d := NewDispatcher(reg, bindings, func() bool { return true })
	tok := &tokenstore.Token{Permissions: map[string]tokenstore.Permission{"CalendarService": tokenstore.PermissionFull}}

	result, errResult := d.CallTool(tok, "calendar_create", nil)
	if errResult != nil {
		t.Fatalf("unexpected error: %+v", errResult)
	}
	if result.Value != "ok" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestCallToolNotFound(t *testing.T) {
	reg, bindings := newCalendarFixture()
	d := NewDispatcher(reg, bindings, func() bool { return true })
	tok := &tokenstore.Token{}

	_, errResult := d.CallTool(tok, "does_not_exist", nil)
	if errResult == nil || errResult.Kind != ErrToolNotFound {
		t.Fatalf("expected tool not found, got %+v", errResult)
	}
}

func TestServerDisabledEmptiesListAndBlocksCall(t *testing.T) {
	reg, bindings := newCalendarFixture()
	d := NewDispatcher(reg, bindings, func() bool { return false })
	tok := &tokenstore.Token{Permissions: map[string]tokenstore.Permission{"CalendarService": tokenstore.PermissionFull}}

	if tools := d.ListTools(tok); len(tools) != 0 {
		t.Fatalf("expected empty list while disabled, got %+v", tools)
	}
	_, errResult := d.CallTool(tok, "calendar_create", nil)
	if errResult == nil || errResult.Kind != ErrServerDisabled {
		t.Fatalf("expected server disabled error, got %+v", errResult)
	}
}

// TestListCallParity checks invariant 4: a tool excluded from ListTools
// never executes the underlying Service when called directly.
func TestListCallParity(t *testing.T) {
	reg, bindings := newCalendarFixture()
	d := NewDispatcher(reg, bindings, func() bool { return true })
	tok := &tokenstore.Token{Permissions: map[string]tokenstore.Permission{"CalendarService": tokenstore.PermissionReadOnly}}

	tools := d.ListTools(tok)
	for _, tool := range tools {
		if tool.Name == "calendar_create" {
			t.Fatal("calendar_create should not be listed under readOnly")
		}
	}

	svc, _ := reg.Lookup("CalendarService")
	fake := svc.(*fakeService)
	_, errResult := d.CallTool(tok, "calendar_create", nil)
	if errResult == nil {
		t.Fatal("expected an error result for excluded tool")
	}
	if len(fake.calls) != 0 {
		t.Fatalf("service Call must not run for an excluded tool, got calls=%v", fake.calls)
	}
}
