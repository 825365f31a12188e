package sessions

import (
	"sort"
	"sync"

	"github.com/jrsteele09/go-auth-session/internal/utils"
)

// StateListener receives the current Session, or nil once signed out.
type StateListener func(*Session)

// TokenListener receives the bundle returned by a token refresh.
type TokenListener func(Tokens)

// registry holds listeners keyed by a monotonically increasing id.
type registry[T any] struct {
	next    uint64
	entries map[uint64]T
}

func newRegistry[T any]() registry[T] {
	return registry[T]{entries: make(map[uint64]T)}
}

func (r *registry[T]) add(cb T) uint64 {
	r.next++
	r.entries[r.next] = cb
	return r.next
}

func (r *registry[T]) remove(id uint64) {
	delete(r.entries, id)
}

// snapshot copies the listeners out in subscription order.
func (r *registry[T]) snapshot() []T {
	ids := make([]uint64, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.entries[id])
	}
	return out
}

// Store is the authoritative in-memory session state.
//
// Every read and mutation happens under mu. Listeners are copied out under mu and
// invoked only after it is released, so a listener may call back into the Store.
type Store struct {
	mu      sync.Mutex
	current *Session
	scopes  []string
	state   registry[StateListener]
	tokens  registry[TokenListener]
}

// NewStore returns an empty, signed-out Store.
func NewStore() *Store {
	return &Store{
		scopes: []string{},
		state:  newRegistry[StateListener](),
		tokens: newRegistry[TokenListener](),
	}
}

// Get returns a copy of the current Session, or nil.
func (s *Store) Get() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}

// GetScopes returns a copy of the granted scopes.
func (s *Store) GetScopes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.scopes...)
}

// Replace installs session (nil signs out) and resets the granted scopes to its scopes.
func (s *Store) Replace(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = session.Clone()
	if session == nil {
		s.scopes = []string{}
		return
	}
	s.scopes = utils.UnionOrdered(nil, session.Scopes...)
}

// ReplaceMerged installs session while growing the granted scopes with added.
// Scopes the session itself reports are not granted by it. A nil session keeps
// the current one. It returns a copy of the resulting Session.
func (s *Store) ReplaceMerged(session *Session, added []string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session != nil {
		s.current = session.Clone()
	}
	s.scopes = utils.UnionOrdered(s.scopes, added...)
	s.syncScopes()
	return s.current.Clone()
}

// MergeScopes unions added into the granted scopes and returns the result.
func (s *Store) MergeScopes(added []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scopes = utils.UnionOrdered(s.scopes, added...)
	s.syncScopes()
	return append([]string{}, s.scopes...)
}

// RemoveScopes drops every member of removed from the granted scopes and returns the result.
func (s *Store) RemoveScopes(removed []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scopes = utils.Without(s.scopes, removed...)
	s.syncScopes()
	return append([]string{}, s.scopes...)
}

func (s *Store) syncScopes() {
	if s.current != nil {
		s.current.Scopes = append([]string{}, s.scopes...)
	}
}

// ApplyTokens merges t into the current Session.
func (s *Store) ApplyTokens(t Tokens) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil, ErrNoActiveSession
	}
	s.current.ApplyTokens(t.Clone())
	return s.current.Clone(), nil
}

// SubscribeState registers cb for state changes and returns its id.
func (s *Store) SubscribeState(cb StateListener) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.add(cb)
}

// UnsubscribeState removes the listener; unknown ids are ignored.
func (s *Store) UnsubscribeState(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.remove(id)
}

// SubscribeTokenRefresh registers cb for token refreshes and returns its id.
func (s *Store) SubscribeTokenRefresh(cb TokenListener) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens.add(cb)
}

// UnsubscribeTokenRefresh removes the listener; unknown ids are ignored.
func (s *Store) UnsubscribeTokenRefresh(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens.remove(id)
}

// NotifyState delivers the current Session to every state listener subscribed
// at the time of the call. It returns the number of listeners invoked.
func (s *Store) NotifyState() int {
	s.mu.Lock()
	current := s.current.Clone()
	listeners := s.state.snapshot()
	s.mu.Unlock()

	for _, l := range listeners {
		l(current.Clone())
	}
	return len(listeners)
}

// NotifyTokens delivers t to every token listener subscribed at the time of the call.
func (s *Store) NotifyTokens(t Tokens) int {
	s.mu.Lock()
	listeners := s.tokens.snapshot()
	s.mu.Unlock()

	for _, l := range listeners {
		l(t.Clone())
	}
	return len(listeners)
}
