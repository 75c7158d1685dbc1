package session

import (
	"strings"
	"sync"
)

// Registry maps normalized phone numbers to conversation states. Get creates
// on first sight; Clear drops the conversation entirely (idle finalization).
type Registry struct {
	mu      sync.Mutex
	byPhone map[string]*State
}

func NewRegistry() *Registry {
	return &Registry{byPhone: make(map[string]*State)}
}

func normalizePhone(phone string) string {
	return strings.TrimPrefix(strings.TrimSpace(phone), "+")
}

// Get returns the state for phone, creating a fresh one when absent.
func (r *Registry) Get(phone string) *State {
	key := normalizePhone(phone)
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.byPhone[key]
	if !ok {
		st = &State{Phone: key}
		r.byPhone[key] = st
	}
	return st
}

// Peek returns the state only if the conversation already exists.
func (r *Registry) Peek(phone string) (*State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.byPhone[normalizePhone(phone)]
	return st, ok
}

// Clear removes the conversation state.
func (r *Registry) Clear(phone string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byPhone, normalizePhone(phone))
}

// Len reports the number of live conversations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byPhone)
}
