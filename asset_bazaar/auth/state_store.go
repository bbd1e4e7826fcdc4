package auth

import (
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

type oauthState struct {
	clientIp string
	redirect string
}

// StateStore holds pending OAuth login states. Entries expire after the ttl
// and each state can be consumed at most once.
type StateStore struct {
	states *expirable.LRU[string, oauthState]
}

func NewStateStore(maxPending int, ttl time.Duration) *StateStore {
	return &StateStore{states: expirable.NewLRU[string, oauthState](maxPending, nil, ttl)}
}

func (s *StateStore) Create(clientIp, redirect string) string {
	stateId := uuid.NewString()
	s.states.Add(stateId, oauthState{clientIp: clientIp, redirect: redirect})
	return stateId
}

// Consume returns the redirect target registered for the state. The state
// must have been created from the same client ip.
func (s *StateStore) Consume(stateId, clientIp string) (string, bool) {
	state, ok := s.states.Peek(stateId)
	if !ok || state.clientIp != clientIp {
		return "", false
	}
	// Remove reports false if a concurrent callback consumed it first.
	if !s.states.Remove(stateId) {
		return "", false
	}
	return state.redirect, true
}

func (s *StateStore) Pending() int {
	return s.states.Len()
}
