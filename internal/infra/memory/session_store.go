package memory

import (
	"context"
	"sync"

	"training-portal/internal/app"
)

// SessionStore is an in-memory implementation of app.SessionRepository.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[app.SessionKey]*app.ExamSession
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[app.SessionKey]*app.ExamSession),
	}
}

func (s *SessionStore) GetOrCreate(key app.SessionKey, create func() *app.ExamSession) (*app.ExamSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[key]; ok {
		return session, false
	}
	session := create()
	s.sessions[key] = session
	return session, true
}

func (s *SessionStore) Get(key app.SessionKey) (*app.ExamSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[key]
	return session, ok
}

func (s *SessionStore) Delete(key app.SessionKey, session *app.ExamSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.sessions[key]; ok && current == session {
		delete(s.sessions, key)
	}
}

// Len reports how many sessions are live.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// LiveUsers lists the users with an open session on moduleID.
func (s *SessionStore) LiveUsers(_ context.Context, moduleID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := []string{}
	for key := range s.sessions {
		if key.ModuleID == moduleID {
			users = append(users, key.UserID)
		}
	}
	return users, nil
}
