package funnel

import "testing"

func TestIsDuplicate(t *testing.T) {
	s := &Session{UserKey: "telegram:1", LastSeenEventID: "42"}

	if !IsDuplicate(s, "42") {
		t.Error("same id should be a duplicate")
	}
	if s.LastSeenEventID != "42" {
		t.Errorf("marker changed to %q", s.LastSeenEventID)
	}

	if IsDuplicate(s, "43") {
		t.Error("new id reported as duplicate")
	}
	if s.LastSeenEventID != "43" {
		t.Errorf("marker = %q, want 43", s.LastSeenEventID)
	}
}

func TestIsDuplicate_EmptyID(t *testing.T) {
	s := &Session{LastSeenEventID: "7"}
	if IsDuplicate(s, "") {
		t.Error("empty id is never a duplicate")
	}
	if s.LastSeenEventID != "7" {
		t.Errorf("empty id must not be recorded, marker = %q", s.LastSeenEventID)
	}
	fresh := &Session{}
	if IsDuplicate(fresh, "") {
		t.Error("empty id on fresh session")
	}
}
