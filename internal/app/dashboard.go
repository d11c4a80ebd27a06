package app

import (
	"context"

	"go.uber.org/zap"

	"training-portal/internal/domain"
)

// DashboardService builds the learner's module list.
type DashboardService struct {
	courses CourseRepository
	users   UserRepository
	log     *zap.Logger
}

func NewDashboardService(courses CourseRepository, users UserRepository, log *zap.Logger) *DashboardService {
	if log == nil {
		log = zap.NewNop()
	}
	return &DashboardService{courses: courses, users: users, log: log}
}

// ListModules returns one summary per course. A module is completed only when every
// lesson is done and the most recent attempt for it passed. Read failures are returned
// so the caller can offer a retry.
func (s *DashboardService) ListModules(ctx context.Context, userID string) ([]domain.ModuleSummary, error) {
	courses, err := s.courses.ListCourses(ctx)
	if err != nil {
		s.log.Error("load modules failed", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}
	if len(courses) == 0 {
		return []domain.ModuleSummary{}, nil
	}

	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		s.log.Error("load user progress failed", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}

	summaries := make([]domain.ModuleSummary, 0, len(courses))
	for _, c := range courses {
		summaries = append(summaries, Summarize(c, user))
	}
	return summaries, nil
}

// Summarize derives one dashboard card from a course and the user's history.
func Summarize(course domain.Course, user domain.User) domain.ModuleSummary {
	progress := user.Progress[course.ID].Progress

	var examCompleted bool
	var examScore int
	if latest, ok := domain.LatestAttempt(user.CompletedQuizzes, course.ID); ok {
		examCompleted = latest.Passed
		examScore = latest.Score
	}

	description := course.Description
	if description == "" {
		description = domain.DefaultCourseDescription
	}

	return domain.ModuleSummary{
		ID:            course.ID,
		Title:         course.Title,
		Description:   description,
		ImageURL:      course.ImageURL,
		LessonCount:   len(course.Lessons),
		Progress:      progress,
		Status:        domain.ModuleStatus(progress, examCompleted),
		ExamCompleted: examCompleted,
		ExamScore:     examScore,
	}
}

// UserOverview is one row of the admin dashboard.
type UserOverview struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Email      string                 `json:"email"`
	Department string                 `json:"department"`
	Role       string                 `json:"role"`
	Modules    []domain.ModuleSummary `json:"modules"`
}

// Overview lists every user with their per-module summaries. Admin only; the route
// guard enforces the role.
func (s *DashboardService) Overview(ctx context.Context) ([]UserOverview, error) {
	courses, err := s.courses.ListCourses(ctx)
	if err != nil {
		return nil, err
	}
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]UserOverview, 0, len(users))
	for _, u := range users {
		modules := make([]domain.ModuleSummary, 0, len(courses))
		for _, c := range courses {
			modules = append(modules, Summarize(c, u))
		}
		rows = append(rows, UserOverview{
			ID:         u.ID,
			Name:       u.Name(),
			Email:      u.Email,
			Department: u.Department,
			Role:       u.Role,
			Modules:    modules,
		})
	}
	return rows, nil
}
