package app_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"training-portal/internal/app"
	"training-portal/internal/domain"
	"training-portal/internal/infra/memory"
)

var errWriteFailed = errors.New("store unavailable")

// manualScheduler fires registered jobs only when the test says so.
type manualScheduler struct {
	mu     sync.Mutex
	nextID int
	jobs   map[int]func()
	ever   []func()
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{jobs: make(map[int]func())}
}

func (m *manualScheduler) Every(_ time.Duration, fn func()) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.jobs[id] = fn
	m.ever = append(m.ever, fn)
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.jobs, id)
		m.mu.Unlock()
	}
}

// Tick fires every active job n times.
func (m *manualScheduler) Tick(n int) {
	for i := 0; i < n; i++ {
		m.mu.Lock()
		fns := make([]func(), 0, len(m.jobs))
		for _, fn := range m.jobs {
			fns = append(fns, fn)
		}
		m.mu.Unlock()
		for _, fn := range fns {
			fn()
		}
	}
}

// Job returns the i-th job ever registered, cancelled or not.
func (m *manualScheduler) Job(i int) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ever[i]
}

func (m *manualScheduler) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

type failingAttempts struct{}

func (failingAttempts) AppendAttempt(context.Context, string, domain.ExamAttempt) error {
	return errWriteFailed
}

type failingProgress struct{}

func (failingProgress) SaveProgress(context.Context, string, string, []string, domain.ModuleProgress) (domain.ModuleProgress, error) {
	return domain.ModuleProgress{}, errWriteFailed
}

type failingAudit struct{}

func (failingAudit) AppendAuditLog(context.Context, domain.AuditLog) error {
	return errWriteFailed
}

var fixedNow = time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

func securityCourse() domain.Course {
	return domain.Course{
		ID:     "security",
		Title:  "Security Awareness",
		Status: domain.DefaultCourseStatus,
		Lessons: []domain.Lesson{
			{ID: "l1", Title: "Passwords", Content: "# Passwords", Order: 1},
			{ID: "l2", Title: "Phishing", Content: "# Phishing", Order: 2},
			{ID: "l3", Title: "Devices", Content: "# Devices", Order: 3},
			{ID: "l4", Title: "Travel", Content: "# Travel", Order: 4},
			{ID: "l5", Title: "Reporting", Content: "# Reporting", Order: 5},
		},
	}
}

// securityQuiz has four questions worth 10, 20, 30 and 40 points; the correct answer
// is always "b".
func securityQuiz() domain.Quiz {
	q := func(text string, points int) domain.Question {
		return domain.Question{Question: text, Options: []string{"a", "b", "c"}, CorrectAnswer: "b", Points: points}
	}
	return domain.Quiz{
		ID:           "quiz-security",
		CourseID:     "security",
		CourseTitle:  "Security Awareness",
		PassingScore: 70,
		Questions:    []domain.Question{q("one", 10), q("two", 20), q("three", 30), q("four", 40)},
		TotalPoints:  100,
	}
}

func seededStore() *memory.Store {
	store := memory.NewStore()
	store.PutUser(domain.User{
		ID:        "u1",
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     "ada@example.com",
		Role:      domain.RoleLearner,
	})
	store.PutCourse(securityCourse())
	store.PutQuiz(securityQuiz())
	return store
}

type examFixture struct {
	svc      *app.ExamService
	store    *memory.Store
	sessions *memory.SessionStore
	sched    *manualScheduler
}

func newExamFixture(attempts app.AttemptRepository) examFixture {
	store := seededStore()
	if attempts == nil {
		attempts = store
	}
	sessions := memory.NewSessionStore()
	sched := newManualScheduler()
	svc := app.NewExamService(
		sessions,
		memory.NewQuizRepository(store, time.Minute),
		store,
		attempts,
		sched,
		app.ExamConfig{Duration: 5 * time.Second, Tick: time.Second},
		nil,
		nil,
	).WithClock(func() time.Time { return fixedNow })
	return examFixture{svc: svc, store: store, sessions: sessions, sched: sched}
}
