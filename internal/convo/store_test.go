package convo

import (
	"fmt"
	"testing"
)

func TestAppendPreservesOrder(t *testing.T) {
	s := NewStore()
	for i := 0; i < 10; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		s.Append("alice", role, fmt.Sprintf("turn-%d", i))
	}
	turns := s.History("alice")
	if len(turns) != 10 {
		t.Fatalf("len = %d, want 10", len(turns))
	}
	for i, turn := range turns {
		if turn.Content != fmt.Sprintf("turn-%d", i) {
			t.Fatalf("turn %d = %q, out of order", i, turn.Content)
		}
	}
}

func TestHistoryReturnsCopy(t *testing.T) {
	s := NewStore()
	s.Append("alice", RoleUser, "original")
	turns := s.History("alice")
	turns[0].Content = "mutated"
	if got := s.History("alice")[0].Content; got != "original" {
		t.Fatalf("store was mutated through History copy: %q", got)
	}
}

func TestClearScopedToKey(t *testing.T) {
	s := NewStore()
	s.Append("alice", RoleUser, "hi")
	s.Append("bob", RoleUser, "yo")
	s.Clear("alice")
	if s.Len("alice") != 0 {
		t.Fatal("alice history should be cleared")
	}
	if s.Len("bob") != 1 {
		t.Fatal("bob history should survive")
	}
	s.ClearAll()
	if s.Len("bob") != 0 {
		t.Fatal("ClearAll should drop everything")
	}
}
