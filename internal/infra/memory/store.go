package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"training-portal/internal/domain"
)

// Store is an in-memory document store. It implements the user, course, attempt,
// progress, audit-log and note repositories and doubles as a QuizLoader.
type Store struct {
	mu          sync.RWMutex
	users       map[string]domain.User
	emails      map[string]string
	courses     map[string]domain.Course
	courseOrder []string
	quizzes     map[string]domain.Quiz
	auditLogs   []domain.AuditLog
	notes       map[string]map[string]domain.Note
}

func NewStore() *Store {
	return &Store{
		users:   make(map[string]domain.User),
		emails:  make(map[string]string),
		courses: make(map[string]domain.Course),
		quizzes: make(map[string]domain.Quiz),
		notes:   make(map[string]map[string]domain.Note),
	}
}

// PutCourse inserts or replaces a course. Courses list in insertion order.
func (s *Store) PutCourse(c domain.Course) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.courses[c.ID]; !ok {
		s.courseOrder = append(s.courseOrder, c.ID)
	}
	s.courses[c.ID] = c
}

// PutQuiz inserts or replaces a quiz.
func (s *Store) PutQuiz(q domain.Quiz) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quizzes[q.ID] = q
}

// PutUser inserts or replaces a user, bypassing the email uniqueness check.
func (s *Store) PutUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = cloneUser(u)
	s.emails[strings.ToLower(u.Email)] = u.ID
}

func (s *Store) GetUser(_ context.Context, userID string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emails[strings.ToLower(email)]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return cloneUser(s.users[id]), nil
}

func (s *Store) CreateUser(_ context.Context, u domain.User) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(u.Email)
	if _, ok := s.emails[email]; ok {
		return domain.User{}, domain.ErrEmailExists
	}
	if u.Progress == nil {
		u.Progress = map[string]domain.ModuleProgress{}
	}
	s.users[u.ID] = cloneUser(u)
	s.emails[email] = u.ID
	return cloneUser(u), nil
}

// ListUsers returns every user ordered by email.
func (s *Store) ListUsers(_ context.Context) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, cloneUser(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (s *Store) GetCourse(_ context.Context, courseID string) (domain.Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.courses[courseID]
	if !ok {
		return domain.Course{}, domain.ErrModuleNotFound
	}
	return c, nil
}

func (s *Store) ListCourses(_ context.Context) ([]domain.Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Course, 0, len(s.courseOrder))
	for _, id := range s.courseOrder {
		out = append(out, s.courses[id])
	}
	return out, nil
}

// LoadQuizForCourse returns the quiz bound to courseID. When several match, the
// lowest quiz ID wins.
func (s *Store) LoadQuizForCourse(_ context.Context, courseID string) (domain.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *domain.Quiz
	for _, q := range s.quizzes {
		q := q
		if q.CourseID != courseID {
			continue
		}
		if found == nil || q.ID < found.ID {
			found = &q
		}
	}
	if found == nil {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	return *found, nil
}

func (s *Store) AppendAttempt(_ context.Context, userID string, attempt domain.ExamAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.CompletedQuizzes = append(u.CompletedQuizzes, attempt)
	s.users[userID] = u
	return nil
}

// SaveProgress merges completed lessons with what is stored, recomputes the
// percentage over lessonIDs and returns the stored entry.
func (s *Store) SaveProgress(_ context.Context, userID, moduleID string, lessonIDs []string, p domain.ModuleProgress) (domain.ModuleProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return domain.ModuleProgress{}, domain.ErrUserNotFound
	}
	if u.Progress == nil {
		u.Progress = map[string]domain.ModuleProgress{}
	}
	merged := domain.MergeProgress(u.Progress[moduleID], p, lessonIDs)
	u.Progress[moduleID] = merged
	s.users[userID] = u
	out := merged
	out.CompletedLessons = append([]string(nil), merged.CompletedLessons...)
	return out, nil
}

func (s *Store) AppendAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

// AuditLogs returns a copy of every audit record in insertion order.
func (s *Store) AuditLogs() []domain.AuditLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.AuditLog, len(s.auditLogs))
	copy(out, s.auditLogs)
	return out
}

func (s *Store) ListNotes(_ context.Context, userID, moduleID string) ([]domain.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Note
	for _, n := range s.notes[userID] {
		if n.ModuleID == moduleID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LessonID < out[j].LessonID })
	return out, nil
}

func (s *Store) FindNote(_ context.Context, userID, moduleID, lessonID string) (domain.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range s.notes[userID] {
		if n.ModuleID == moduleID && n.LessonID == lessonID {
			return n, nil
		}
	}
	return domain.Note{}, domain.ErrNoteNotFound
}

func (s *Store) CreateNote(_ context.Context, n domain.Note) (domain.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.notes[n.UserID]
	if !ok {
		byID = make(map[string]domain.Note)
		s.notes[n.UserID] = byID
	}
	byID[n.ID] = n
	return n, nil
}

func (s *Store) UpdateNote(_ context.Context, userID, noteID, content string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notes[userID][noteID]
	if !ok {
		return domain.ErrNoteNotFound
	}
	n.Content = content
	n.LastUpdated = at
	s.notes[userID][noteID] = n
	return nil
}

func cloneUser(u domain.User) domain.User {
	progress := make(map[string]domain.ModuleProgress, len(u.Progress))
	for k, p := range u.Progress {
		lessons := make([]string, len(p.CompletedLessons))
		copy(lessons, p.CompletedLessons)
		p.CompletedLessons = lessons
		progress[k] = p
	}
	u.Progress = progress
	attempts := make([]domain.ExamAttempt, len(u.CompletedQuizzes))
	copy(attempts, u.CompletedQuizzes)
	u.CompletedQuizzes = attempts
	return u
}
