// Package convo keeps per-key conversation history handed to the AI backend
// so replies stay in context. Keys are speaker or channel IDs depending on
// the session topology. History grows until the owning session clears its
// keys on teardown.
package convo

import "sync"

// Role marks which side of the conversation produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one conversational exchange entry. Insertion order is turn order
// and must never be reordered.
type Turn struct {
	Role    Role
	Content string
}

// Store is a keyed, append-only history. Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	history map[string][]Turn
}

func NewStore() *Store {
	return &Store{history: make(map[string][]Turn)}
}

// History returns a copy of the turns recorded under key, oldest first.
func (s *Store) History(key string) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := s.history[key]
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

// Append records one turn under key.
func (s *Store) Append(key string, role Role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[key] = append(s.history[key], Turn{Role: role, Content: content})
}

// Clear drops all history under key.
func (s *Store) Clear(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.history, key)
}

// ClearAll drops every key. Called on session teardown.
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = make(map[string][]Turn)
}

// Len reports the number of turns under key.
func (s *Store) Len(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history[key])
}
