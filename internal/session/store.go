// Package session keeps the last known state of each conflict scenario so
// the orchestrator can enforce conclusion and serve state lookups.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/Yates-Labs/kalki/internal/engine"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrBusy     = errors.New("session has a turn in progress")
)

// Store persists scenario state by session ID.
type Store interface {
	Get(ctx context.Context, sessionID string) (engine.ScenarioState, error)
	Put(ctx context.Context, state engine.ScenarioState) error
	Close() error
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]engine.ScenarioState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]engine.ScenarioState)}
}

func (s *MemoryStore) Get(_ context.Context, sessionID string) (engine.ScenarioState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.sessions[sessionID]
	if !ok {
		return engine.ScenarioState{}, ErrNotFound
	}
	return cloneState(state), nil
}

func (s *MemoryStore) Put(_ context.Context, state engine.ScenarioState) error {
	if state.SessionID == "" {
		return errors.New("session ID is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[state.SessionID] = cloneState(state)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func cloneState(s engine.ScenarioState) engine.ScenarioState {
	s.ChatHistory = append([]engine.ChatTurn(nil), s.ChatHistory...)
	if s.Score != nil {
		score := *s.Score
		s.Score = &score
	}
	return s
}

// Locker hands out one turn at a time per session.
type Locker struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func NewLocker() *Locker {
	return &Locker{active: make(map[string]struct{})}
}

// TryLock claims sessionID. It returns ErrBusy when another turn holds it;
// otherwise the returned func releases the claim.
func (l *Locker) TryLock(sessionID string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.active[sessionID]; busy {
		return nil, ErrBusy
	}
	l.active[sessionID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.active, sessionID)
			l.mu.Unlock()
		})
	}, nil
}
