package domain

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Defaults applied when stored documents omit a field.
const (
	DefaultCourseTitle       = "Untitled Module"
	DefaultCourseStatus      = "active"
	DefaultCourseDescription = "No description available"
	DefaultCourseImage       = "/default-module.jpg"
)

// The *Document types mirror what the document store holds. Every field is optional;
// Normalize* turns them into the strict domain types.

type LessonDocument struct {
	ID      string  `json:"id"`
	Title   *string `json:"title,omitempty"`
	Content *string `json:"content,omitempty"`
	Order   *int    `json:"order,omitempty"`
}

type CourseDocument struct {
	Title       *string          `json:"title,omitempty"`
	Description *string          `json:"description,omitempty"`
	Modules     []LessonDocument `json:"modules,omitempty"`
	Category    *string          `json:"category,omitempty"`
	Status      *string          `json:"status,omitempty"`
	ImageURL    *string          `json:"imageUrl,omitempty"`
}

type QuestionDocument struct {
	Question      *string  `json:"question,omitempty"`
	Options       []string `json:"options,omitempty"`
	CorrectAnswer *string  `json:"correctAnswer,omitempty"`
	Points        *int     `json:"points,omitempty"`
}

type QuizDocument struct {
	CourseID     *string            `json:"courseId,omitempty"`
	CourseTitle  *string            `json:"courseTitle,omitempty"`
	PassingScore *int               `json:"passingScore,omitempty"`
	Questions    []QuestionDocument `json:"questions,omitempty"`
	TotalPoints  *int               `json:"totalPoints,omitempty"`
}

type ProgressDocument struct {
	CompletedLessons []string `json:"completedLessons,omitempty"`
	Progress         *int     `json:"progress,omitempty"`
	LastUpdated      string   `json:"lastUpdated,omitempty"`
}

type AttemptDocument struct {
	QuizID   string `json:"quizId"`
	CourseID string `json:"courseId"`
	Score    any    `json:"score"`
	Passed   bool   `json:"passed"`
	Date     string `json:"date"`
}

type UserDocument struct {
	FirstName        *string                     `json:"firstName,omitempty"`
	LastName         *string                     `json:"lastName,omitempty"`
	Name             *string                     `json:"name,omitempty"`
	Email            *string                     `json:"email,omitempty"`
	Department       *string                     `json:"department,omitempty"`
	Role             *string                     `json:"role,omitempty"`
	PasswordHash     *string                     `json:"passwordHash,omitempty"`
	Progress         map[string]ProgressDocument `json:"progress,omitempty"`
	CompletedQuizzes []AttemptDocument           `json:"completedQuizzes,omitempty"`
	CreatedAt        string                      `json:"createdAt,omitempty"`
}

func str(p *string, fallback string) string {
	if p == nil || *p == "" {
		return fallback
	}
	return *p
}

func num(p *int, fallback int) int {
	if p == nil {
		return fallback
	}
	return *p
}

// NormalizeCourse applies course defaults and orders lessons by their order field.
func NormalizeCourse(id string, doc CourseDocument) Course {
	lessons := make([]Lesson, 0, len(doc.Modules))
	for i, l := range doc.Modules {
		lessons = append(lessons, Lesson{
			ID:      l.ID,
			Title:   str(l.Title, "Lesson "+strconv.Itoa(i+1)),
			Content: str(l.Content, ""),
			Order:   num(l.Order, i),
		})
	}
	sort.SliceStable(lessons, func(i, j int) bool { return lessons[i].Order < lessons[j].Order })

	return Course{
		ID:          id,
		Title:       str(doc.Title, DefaultCourseTitle),
		Description: str(doc.Description, ""),
		Lessons:     lessons,
		Category:    str(doc.Category, ""),
		Status:      str(doc.Status, DefaultCourseStatus),
		ImageURL:    str(doc.ImageURL, DefaultCourseImage),
	}
}

// CourseToDocument is the inverse of NormalizeCourse, used by stores and seeding.
func CourseToDocument(c Course) CourseDocument {
	lessons := make([]LessonDocument, 0, len(c.Lessons))
	for _, l := range c.Lessons {
		l := l
		lessons = append(lessons, LessonDocument{ID: l.ID, Title: &l.Title, Content: &l.Content, Order: &l.Order})
	}
	return CourseDocument{
		Title:       &c.Title,
		Description: &c.Description,
		Modules:     lessons,
		Category:    &c.Category,
		Status:      &c.Status,
		ImageURL:    &c.ImageURL,
	}
}

// NormalizeQuiz fills missing quiz fields. A missing or non-positive total is
// recomputed from the question points.
func NormalizeQuiz(id string, doc QuizDocument) Quiz {
	questions := make([]Question, 0, len(doc.Questions))
	sum := 0
	for _, q := range doc.Questions {
		options := q.Options
		if options == nil {
			options = []string{}
		}
		points := num(q.Points, 0)
		if points < 0 {
			points = 0
		}
		sum += points
		questions = append(questions, Question{
			Question:      str(q.Question, ""),
			Options:       options,
			CorrectAnswer: str(q.CorrectAnswer, ""),
			Points:        points,
		})
	}
	total := num(doc.TotalPoints, 0)
	if total <= 0 {
		total = sum
	}
	return Quiz{
		ID:           id,
		CourseID:     str(doc.CourseID, ""),
		CourseTitle:  str(doc.CourseTitle, DefaultCourseTitle),
		PassingScore: clampPercent(num(doc.PassingScore, 0)),
		Questions:    questions,
		TotalPoints:  total,
	}
}

// QuizToDocument is the inverse of NormalizeQuiz.
func QuizToDocument(q Quiz) QuizDocument {
	questions := make([]QuestionDocument, 0, len(q.Questions))
	for _, qq := range q.Questions {
		qq := qq
		questions = append(questions, QuestionDocument{
			Question:      &qq.Question,
			Options:       qq.Options,
			CorrectAnswer: &qq.CorrectAnswer,
			Points:        &qq.Points,
		})
	}
	return QuizDocument{
		CourseID:     &q.CourseID,
		CourseTitle:  &q.CourseTitle,
		PassingScore: &q.PassingScore,
		Questions:    questions,
		TotalPoints:  &q.TotalPoints,
	}
}

// NormalizeProgress turns a stored progress entry into ModuleProgress.
func NormalizeProgress(doc ProgressDocument) ModuleProgress {
	lessons := doc.CompletedLessons
	if lessons == nil {
		lessons = []string{}
	}
	return ModuleProgress{
		CompletedLessons: lessons,
		Progress:         clampPercent(num(doc.Progress, 0)),
		LastUpdated:      parseTime(doc.LastUpdated),
	}
}

// NormalizeUser applies user defaults. The legacy single "name" field is split into
// first and last name when those are absent.
func NormalizeUser(id string, doc UserDocument) User {
	first, last := str(doc.FirstName, ""), str(doc.LastName, "")
	if first == "" && last == "" && doc.Name != nil {
		parts := strings.Fields(*doc.Name)
		if len(parts) > 0 {
			first = parts[0]
			last = strings.Join(parts[1:], " ")
		}
	}

	progress := make(map[string]ModuleProgress, len(doc.Progress))
	for moduleID, p := range doc.Progress {
		progress[moduleID] = NormalizeProgress(p)
	}

	attempts := make([]ExamAttempt, 0, len(doc.CompletedQuizzes))
	for _, a := range doc.CompletedQuizzes {
		attempts = append(attempts, ExamAttempt{
			QuizID:   a.QuizID,
			CourseID: a.CourseID,
			Score:    parseScore(a.Score),
			Passed:   a.Passed,
			Date:     parseTime(a.Date),
		})
	}

	var hash []byte
	if doc.PasswordHash != nil {
		hash = []byte(*doc.PasswordHash)
	}

	return User{
		ID:               id,
		FirstName:        first,
		LastName:         last,
		Email:            str(doc.Email, ""),
		Department:       str(doc.Department, ""),
		Role:             str(doc.Role, RoleLearner),
		PasswordHash:     hash,
		Progress:         progress,
		CompletedQuizzes: attempts,
		CreatedAt:        parseTime(doc.CreatedAt),
	}
}

// UserToDocument is the inverse of NormalizeUser.
func UserToDocument(u User) UserDocument {
	progress := make(map[string]ProgressDocument, len(u.Progress))
	for moduleID, p := range u.Progress {
		progress[moduleID] = ProgressToDocument(p)
	}
	attempts := make([]AttemptDocument, 0, len(u.CompletedQuizzes))
	for _, a := range u.CompletedQuizzes {
		attempts = append(attempts, AttemptToDocument(a))
	}
	hash := string(u.PasswordHash)
	return UserDocument{
		FirstName:        &u.FirstName,
		LastName:         &u.LastName,
		Email:            &u.Email,
		Department:       &u.Department,
		Role:             &u.Role,
		PasswordHash:     &hash,
		Progress:         progress,
		CompletedQuizzes: attempts,
		CreatedAt:        formatTime(u.CreatedAt),
	}
}

func ProgressToDocument(p ModuleProgress) ProgressDocument {
	progress := p.Progress
	return ProgressDocument{
		CompletedLessons: p.CompletedLessons,
		Progress:         &progress,
		LastUpdated:      formatTime(p.LastUpdated),
	}
}

func AttemptToDocument(a ExamAttempt) AttemptDocument {
	return AttemptDocument{
		QuizID:   a.QuizID,
		CourseID: a.CourseID,
		Score:    a.Score,
		Passed:   a.Passed,
		Date:     formatTime(a.Date),
	}
}

// parseScore accepts numbers and numeric strings; anything else is 0.
func parseScore(raw any) int {
	switch v := raw.(type) {
	case int:
		return clampPercent(v)
	case float64:
		return clampPercent(int(math.Round(v)))
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || math.IsNaN(f) {
			return 0
		}
		return clampPercent(int(math.Round(f)))
	default:
		return 0
	}
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
