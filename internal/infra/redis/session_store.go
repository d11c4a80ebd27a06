package redis

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"training-portal/internal/app"
)

// SessionStore is a Redis-aware implementation of app.SessionRepository.
// Sessions live in process so the timer and subscriptions keep working locally;
// Redis holds a liveness marker per (user, module) so other instances and operators
// can see which exams are open. Markers are best effort and expire with the ttl.
type SessionStore struct {
	client   *redis.Client
	ttl      time.Duration
	mu       sync.RWMutex
	sessions map[app.SessionKey]*app.ExamSession
	markers  map[app.SessionKey]string
	seq      atomic.Uint64
}

// deleteMarker removes the key only while it still holds the caller's marker, so a
// late delete cannot clear a newer session's entry.
var deleteMarker = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{
		client:   client,
		ttl:      ttl,
		sessions: make(map[app.SessionKey]*app.ExamSession),
		markers:  make(map[app.SessionKey]string),
	}
}

func (s *SessionStore) GetOrCreate(key app.SessionKey, create func() *app.ExamSession) (*app.ExamSession, bool) {
	s.mu.Lock()
	if session, ok := s.sessions[key]; ok {
		s.mu.Unlock()
		return session, false
	}
	session := create()
	marker := time.Now().UTC().Format(time.RFC3339Nano) + "#" + strconv.FormatUint(s.seq.Add(1), 10)
	s.sessions[key] = session
	s.markers[key] = marker
	s.mu.Unlock()

	_ = s.client.Set(context.Background(), s.key(key), marker, s.ttl).Err()
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
	current, ok := s.sessions[key]
	if !ok || current != session {
		s.mu.Unlock()
		return
	}
	marker := s.markers[key]
	delete(s.sessions, key)
	delete(s.markers, key)
	s.mu.Unlock()

	_ = deleteMarker.Run(context.Background(), s.client, []string{s.key(key)}, marker).Err()
}

// LiveUsers lists the users with an open exam on moduleID across every instance.
func (s *SessionStore) LiveUsers(ctx context.Context, moduleID string) ([]string, error) {
	users := []string{}
	suffix := ":" + moduleID
	iter := s.client.Scan(ctx, 0, "exam:session:*"+escapeGlob(suffix), 100).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		if !strings.HasSuffix(k, suffix) {
			continue
		}
		users = append(users, strings.TrimSuffix(strings.TrimPrefix(k, "exam:session:"), suffix))
	}
	return users, iter.Err()
}

func (s *SessionStore) key(key app.SessionKey) string {
	return "exam:session:" + key.String()
}

// escapeGlob quotes the characters SCAN MATCH treats as pattern syntax.
func escapeGlob(v string) string {
	var b strings.Builder
	for _, r := range v {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
