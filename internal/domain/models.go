package domain

import "time"

// Roles recognised by the route guard.
const (
	RoleLearner = "learner"
	RoleAdmin   = "admin"
)

// ModuleProgress is the per-module entry of a user's progress map.
type ModuleProgress struct {
	CompletedLessons []string  `json:"completedLessons"`
	Progress         int       `json:"progress"`
	LastUpdated      time.Time `json:"lastUpdated"`
}

// ExamAttempt is one scored quiz submission. Attempts are append-only.
type ExamAttempt struct {
	QuizID   string    `json:"quizId"`
	CourseID string    `json:"courseId"`
	Score    int       `json:"score"`
	Passed   bool      `json:"passed"`
	Date     time.Time `json:"date"`
}

// User is an authenticated learner or admin.
type User struct {
	ID               string                    `json:"id"`
	FirstName        string                    `json:"firstName"`
	LastName         string                    `json:"lastName"`
	Email            string                    `json:"email"`
	Department       string                    `json:"department"`
	Role             string                    `json:"role"`
	PasswordHash     []byte                    `json:"-"`
	Progress         map[string]ModuleProgress `json:"progress"`
	CompletedQuizzes []ExamAttempt             `json:"completedQuizzes"`
	CreatedAt        time.Time                 `json:"createdAt"`
}

// Name returns the display name, falling back to the email local part.
func (u User) Name() string {
	if u.FirstName != "" && u.LastName != "" {
		return u.FirstName + " " + u.LastName
	}
	if u.FirstName != "" {
		return u.FirstName
	}
	for i := 0; i < len(u.Email); i++ {
		if u.Email[i] == '@' {
			if i > 0 {
				return u.Email[:i]
			}
			break
		}
	}
	return ""
}

// Lesson is one content unit of a course. Content is markdown and stored verbatim.
type Lesson struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Order   int    `json:"order"`
}

// Course is a training module: an ordered set of lessons plus a quiz bound by course ID.
type Course struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Lessons     []Lesson `json:"modules"`
	Category    string   `json:"category"`
	Status      string   `json:"status"`
	ImageURL    string   `json:"imageUrl"`
}

// Question is a single quiz question. CorrectAnswer must match one option exactly.
type Question struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correctAnswer"`
	Points        int      `json:"points"`
}

// HasOption reports whether option is one of the question's choices.
func (q Question) HasOption(option string) bool {
	for _, o := range q.Options {
		if o == option {
			return true
		}
	}
	return false
}

// Quiz is the fixed question set bound to one course.
type Quiz struct {
	ID           string     `json:"id"`
	CourseID     string     `json:"courseId"`
	CourseTitle  string     `json:"courseTitle"`
	PassingScore int        `json:"passingScore"`
	Questions    []Question `json:"questions"`
	TotalPoints  int        `json:"totalPoints"`
}

// Title is the certificate and header title of the quiz.
func (q Quiz) Title() string {
	return q.CourseTitle + " Quiz"
}

// Note is a free-text annotation; at most one exists per (user, module, lesson).
type Note struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	ModuleID    string    `json:"moduleId"`
	LessonID    string    `json:"lessonId"`
	Content     string    `json:"content"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Audit actions.
const (
	ActionModuleCompleted = "module_completed"
)

// AuditLog records who completed what and when.
type AuditLog struct {
	ID           string            `json:"id"`
	UserID       string            `json:"userId"`
	Action       string            `json:"action"`
	ModuleID     string            `json:"moduleId"`
	ModuleItemID string            `json:"moduleItemId"`
	Timestamp    time.Time         `json:"timestamp"`
	Metadata     map[string]string `json:"metadata"`
}

// Certificate is a derived, read-only projection of a passed attempt.
type Certificate struct {
	LearnerName string    `json:"learnerName"`
	QuizTitle   string    `json:"quizTitle"`
	Score       int       `json:"score"`
	Date        time.Time `json:"date"`
}

// Module statuses shown on the dashboard.
const (
	StatusNotStarted = "not-started"
	StatusInProgress = "in-progress"
	StatusCompleted  = "completed"
)

// ModuleSummary is one dashboard card.
type ModuleSummary struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	ImageURL      string `json:"imageUrl"`
	LessonCount   int    `json:"lessonCount"`
	Progress      int    `json:"progress"`
	Status        string `json:"status"`
	ExamCompleted bool   `json:"examCompleted"`
	ExamScore     int    `json:"examScore"`
}
