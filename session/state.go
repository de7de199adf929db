// Package session provides an explicit session-state object with a
// narrow read/write contract and a Redis-backed store, decoupling the
// engine from any framework's session internals.
package session

import (
	"crypto/rand"
	"encoding/base64"
)

const idSize = 16

// State is one request's session: an identifier plus keyed string
// values. It is not safe for concurrent use; one State belongs to one
// request.
type State struct {
	id      string
	prevIDs []string
	values  map[string]string
	dirty   bool
}

// NewState creates an empty state under a fresh random identifier.
func NewState() (*State, error) {
	id, err := newID()
	if err != nil {
		return nil, err
	}
	return &State{id: id, values: map[string]string{}}, nil
}

// ID returns the current session identifier.
func (s *State) ID() string { return s.id }

// Get returns the value stored under key.
func (s *State) Get(key string) (string, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Set stores a value under key.
func (s *State) Set(key, value string) {
	s.values[key] = value
	s.dirty = true
}

// Remove deletes the value under key.
func (s *State) Remove(key string) {
	if _, ok := s.values[key]; ok {
		delete(s.values, key)
		s.dirty = true
	}
}

// RegenerateID swaps in a fresh session identifier while keeping the
// values. The store deletes superseded identifiers on the next Save,
// so a fixated pre-login ID cannot be replayed.
func (s *State) RegenerateID() error {
	id, err := newID()
	if err != nil {
		return err
	}
	s.prevIDs = append(s.prevIDs, s.id)
	s.id = id
	s.dirty = true
	return nil
}

func newID() (string, error) {
	buf := make([]byte, idSize)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
