package tokenstore

import "testing"

func TestPermissionDefaultsOff(t *testing.T) {
	tok := Token{Permissions: map[string]Permission{"CalendarService": PermissionReadOnly}}
	if got := tok.Permission("CalendarService"); got != PermissionReadOnly {
		t.Fatalf("Permission(CalendarService) = %v, want readOnly", got)
	}
	if got := tok.Permission("MailService"); got != PermissionOff {
		t.Fatalf("Permission(MailService) = %v, want off", got)
	}
}

func TestSnapshotEmpty(t *testing.T) {
	s := NewSnapshot(nil)
	if !s.Empty() {
		t.Fatal("expected empty snapshot")
	}
	if _, ok := s.Find("anything"); ok {
		t.Fatal("Find on empty snapshot should never match")
	}
}

func TestSnapshotFind(t *testing.T) {
	secret := "aa"
	for len(secret) < 64 {
		secret += "aa"
	}
	s := NewSnapshot([]Token{{ID: "t1", Name: "Claude", Secret: secret}})
	tok, ok := s.Find(secret)
	if !ok || tok.ID != "t1" {
		t.Fatalf("expected to find t1, got %+v ok=%v", tok, ok)
	}
	if _, ok := s.Find("deadbeef"); ok {
		t.Fatal("unexpected match for wrong secret")
	}
}

func TestMatchSecretConstantShape(t *testing.T) {
	if !MatchSecret("abcd", "abcd") {
		t.Fatal("equal secrets should match")
	}
	if MatchSecret("abcd", "abce") {
		t.Fatal("differing last byte should not match")
	}
	if MatchSecret("abcd", "abcde") {
		t.Fatal("differing length should not match")
	}
	if MatchSecret("", "") != true {
		t.Fatal("two empty secrets are equal")
	}
}

func TestStoreSwap(t *testing.T) {
	st := New()
	if !st.Load().Empty() {
		t.Fatal("new store should start empty")
	}
	st.Swap(NewSnapshot([]Token{{ID: "t1"}}))
	if st.Load().Empty() {
		t.Fatal("store should reflect swapped snapshot")
	}
	if len(st.Load().Tokens()) != 1 {
		t.Fatalf("expected 1 token, got %d", len(st.Load().Tokens()))
	}
}
