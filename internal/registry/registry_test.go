package registry

import (
	"reflect"
	"testing"

	"github.com/imcphost/imcp/internal/tokenstore"
)

func TestServiceIDsSortedRegardlessOfCatalogOrder(t *testing.T) {
	reg := New([]Service{
		&fakeService{id: "RemindersService"},
		&fakeService{id: "CalendarService"},
	})

	got := reg.ServiceIDs()
	want := []string{"CalendarService", "RemindersService"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ServiceIDs() = %v, want %v", got, want)
	}
}

func TestServiceIDsEmptyRegistry(t *testing.T) {
	reg := New(nil)
	if got := reg.ServiceIDs(); len(got) != 0 {
		t.Fatalf("expected no service ids, got %v", got)
	}
}

func TestWithBindingsSwapsEnablementWithoutMutatingOriginal(t *testing.T) {
	reg, bindings := newCalendarFixture()
	orig := NewDispatcher(reg, bindings, func() bool { return true })
	tok := &tokenstore.Token{Permissions: map[string]tokenstore.Permission{"CalendarService": tokenstore.PermissionFull}}

	if len(orig.ListTools(tok)) == 0 {
		t.Fatal("expected original dispatcher to list tools while CalendarService is enabled")
	}

	disabled := NewBindings(map[string]bool{"CalendarService": false})
	updated := orig.WithBindings(disabled)

	if len(updated.ListTools(tok)) != 0 {
		t.Fatalf("expected updated dispatcher to see no tools once CalendarService is disabled, got %+v", updated.ListTools(tok))
	}
	if len(orig.ListTools(tok)) == 0 {
		t.Fatal("WithBindings must not mutate the original dispatcher's bindings")
	}
}
