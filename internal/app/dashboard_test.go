package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"training-portal/internal/app"
	"training-portal/internal/domain"
)

type failingCourses struct{}

func (failingCourses) GetCourse(context.Context, string) (domain.Course, error) {
	return domain.Course{}, errWriteFailed
}

func (failingCourses) ListCourses(context.Context) ([]domain.Course, error) {
	return nil, errWriteFailed
}

func TestSummarizeStatus(t *testing.T) {
	course := securityCourse()
	day := func(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }

	cases := []struct {
		name     string
		user     domain.User
		status   string
		passed   bool
		progress int
	}{
		{
			name:   "untouched",
			user:   domain.User{},
			status: domain.StatusNotStarted,
		},
		{
			name:     "lessons done, exam failed",
			user:     domain.User{Progress: map[string]domain.ModuleProgress{"security": {Progress: 100}}, CompletedQuizzes: []domain.ExamAttempt{{CourseID: "security", Score: 40, Date: day(1)}}},
			status:   domain.StatusInProgress,
			progress: 100,
		},
		{
			name: "later failure overrides earlier pass",
			user: domain.User{Progress: map[string]domain.ModuleProgress{"security": {Progress: 100}}, CompletedQuizzes: []domain.ExamAttempt{
				{CourseID: "security", Score: 40, Date: day(5)},
				{CourseID: "security", Score: 90, Passed: true, Date: day(2)},
			}},
			status:   domain.StatusInProgress,
			progress: 100,
		},
		{
			name: "all done and passed",
			user: domain.User{Progress: map[string]domain.ModuleProgress{"security": {Progress: 100}}, CompletedQuizzes: []domain.ExamAttempt{
				{CourseID: "security", Score: 90, Passed: true, Date: day(3)},
			}},
			status:   domain.StatusCompleted,
			passed:   true,
			progress: 100,
		},
		{
			name:   "passed without lessons",
			user:   domain.User{CompletedQuizzes: []domain.ExamAttempt{{CourseID: "security", Score: 80, Passed: true, Date: day(3)}}},
			status: domain.StatusInProgress,
			passed: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := app.Summarize(course, tc.user)
			if s.Status != tc.status || s.ExamCompleted != tc.passed || s.Progress != tc.progress {
				t.Fatalf("got %+v", s)
			}
			if s.Description != domain.DefaultCourseDescription || s.LessonCount != 5 {
				t.Fatalf("unexpected card fields %+v", s)
			}
		})
	}
}

func TestListModules(t *testing.T) {
	ctx := context.Background()
	store := seededStore()
	_, _ = store.SaveProgress(ctx, "u1", "security", []string{"l1", "l2", "l3", "l4", "l5"}, domain.ModuleProgress{CompletedLessons: []string{"l1"}})
	svc := app.NewDashboardService(store, store, nil)

	modules, err := svc.ListModules(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(modules) != 1 || modules[0].Progress != 20 || modules[0].Status != domain.StatusInProgress {
		t.Fatalf("unexpected modules %+v", modules)
	}
}

func TestListModulesFailureIsReturned(t *testing.T) {
	store := seededStore()
	svc := app.NewDashboardService(failingCourses{}, store, nil)
	if _, err := svc.ListModules(context.Background(), "u1"); !errors.Is(err, errWriteFailed) {
		t.Fatalf("expected read failure to surface, got %v", err)
	}
}

func TestOverviewListsEveryUser(t *testing.T) {
	store := seededStore()
	store.PutUser(domain.User{ID: "u2", Email: "bob@example.com", FirstName: "Bob"})
	svc := app.NewDashboardService(store, store, nil)

	rows, err := svc.Overview(context.Background())
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if len(rows) != 2 || rows[0].Name != "Ada Lovelace" || rows[1].Name != "Bob" {
		t.Fatalf("unexpected rows %+v", rows)
	}
	if len(rows[0].Modules) != 1 {
		t.Fatalf("expected one module per user, got %+v", rows[0].Modules)
	}
}
