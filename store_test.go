package chatwire

import (
	"errors"
	"testing"
)

func TestStore(t *testing.T) {
	s := newStore[int]()

	if err := s.Create("a", 1); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := s.Create("a", 2); err == nil {
		t.Error("expected conflict on duplicate key")
	} else {
		var e *Error
		if !errors.As(err, &e) || e.Code != StatusConflict {
			t.Errorf("expected conflict code, got %v", err)
		}
	}

	value, err := s.Read("a")

	if err != nil || value != 1 {
		t.Errorf("expected 1, got %d %v", value, err)
	}
	if _, err := s.Read("missing"); err == nil {
		t.Error("expected not found")
	}

	if err := s.Delete("a"); err != nil {
		t.Errorf("delete failed: %v", err)
	}
	if err := s.Delete("a"); err == nil {
		t.Error("expected not found on double delete")
	}

	s.Create("x", 1)

	s.Create("y", 2)

	if s.Len() != 2 || len(s.Keys()) != 2 {
		t.Errorf("expected 2 entries, got len=%d keys=%v", s.Len(), s.Keys())
	}
}

func TestStringSet(t *testing.T) {
	set := newStringSet()

	set.add("a")

	set.add("a")

	set.add("b")

	if len(set) != 2 || !set.has("a") {
		t.Errorf("unexpected set state: %v", set)
	}

	set.remove("a")

	if set.has("a") {
		t.Error("expected a removed")
	}
	if got := set.values(); len(got) != 1 || got[0] != "b" {
		t.Errorf("unexpected values: %v", got)
	}
}
