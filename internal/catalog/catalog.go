// Package catalog reads the course and quiz fixture used to seed a store.
package catalog

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"training-portal/internal/domain"
)

// Catalog is the fixture file layout.
type Catalog struct {
	Courses []Course `yaml:"courses"`
	Quizzes []Quiz   `yaml:"quizzes"`
	Admins  []Admin  `yaml:"admins"`
}

type Lesson struct {
	ID      string `yaml:"id"`
	Title   string `yaml:"title"`
	Content string `yaml:"content"`
	Order   int    `yaml:"order"`
}

type Course struct {
	ID          string   `yaml:"id"`
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	Category    string   `yaml:"category"`
	Status      string   `yaml:"status"`
	ImageURL    string   `yaml:"image_url"`
	Lessons     []Lesson `yaml:"lessons"`
}

type Question struct {
	Question      string   `yaml:"question"`
	Options       []string `yaml:"options"`
	CorrectAnswer string   `yaml:"correct_answer"`
	Points        int      `yaml:"points"`
}

type Quiz struct {
	ID           string     `yaml:"id"`
	CourseID     string     `yaml:"course_id"`
	CourseTitle  string     `yaml:"course_title"`
	PassingScore int        `yaml:"passing_score"`
	Questions    []Question `yaml:"questions"`
}

// Admin is a bootstrap account; the password is hashed at seed time.
type Admin struct {
	Email      string `yaml:"email"`
	Password   string `yaml:"password"`
	FirstName  string `yaml:"first_name"`
	LastName   string `yaml:"last_name"`
	Department string `yaml:"department"`
}

// Load parses a YAML fixture from path.
func Load(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, err
	}
	return Parse(data)
}

// Parse decodes and checks a YAML fixture.
func Parse(data []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("decode catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return Catalog{}, err
	}
	return c, nil
}

func (c Catalog) validate() error {
	courses := make(map[string]struct{}, len(c.Courses))
	for _, course := range c.Courses {
		if course.ID == "" {
			return fmt.Errorf("course %q: missing id", course.Title)
		}
		if _, dup := courses[course.ID]; dup {
			return fmt.Errorf("course %q: duplicate id", course.ID)
		}
		courses[course.ID] = struct{}{}
	}
	for _, q := range c.Quizzes {
		if q.ID == "" || q.CourseID == "" {
			return fmt.Errorf("quiz %q: id and course_id are required", q.ID)
		}
		if _, ok := courses[q.CourseID]; !ok {
			return fmt.Errorf("quiz %q: unknown course %q", q.ID, q.CourseID)
		}
		for i, question := range q.Questions {
			if !(domain.Question{Options: question.Options}).HasOption(question.CorrectAnswer) {
				return fmt.Errorf("quiz %q question %d: correct answer is not an option", q.ID, i)
			}
		}
	}
	return nil
}

// DomainCourses converts the fixture courses, applying the usual document defaults.
func (c Catalog) DomainCourses() []domain.Course {
	out := make([]domain.Course, 0, len(c.Courses))
	for _, course := range c.Courses {
		doc := domain.CourseDocument{
			Title:       optional(course.Title),
			Description: optional(course.Description),
			Category:    optional(course.Category),
			Status:      optional(course.Status),
			ImageURL:    optional(course.ImageURL),
		}
		for _, l := range course.Lessons {
			order := l.Order
			doc.Modules = append(doc.Modules, domain.LessonDocument{
				ID:      l.ID,
				Title:   optional(l.Title),
				Content: optional(l.Content),
				Order:   &order,
			})
		}
		out = append(out, domain.NormalizeCourse(course.ID, doc))
	}
	return out
}

// DomainQuizzes converts the fixture quizzes. TotalPoints is always derived from the questions.
func (c Catalog) DomainQuizzes() []domain.Quiz {
	out := make([]domain.Quiz, 0, len(c.Quizzes))
	for _, q := range c.Quizzes {
		courseID := q.CourseID
		passing := q.PassingScore
		doc := domain.QuizDocument{
			CourseID:     &courseID,
			CourseTitle:  optional(q.CourseTitle),
			PassingScore: &passing,
		}
		for _, question := range q.Questions {
			text, answer, points := question.Question, question.CorrectAnswer, question.Points
			doc.Questions = append(doc.Questions, domain.QuestionDocument{
				Question:      &text,
				Options:       question.Options,
				CorrectAnswer: &answer,
				Points:        &points,
			})
		}
		out = append(out, domain.NormalizeQuiz(q.ID, doc))
	}
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// AdminUsers hashes the bootstrap admin passwords. IDs derive from the email so
// reseeding never creates duplicates.
func (c Catalog) AdminUsers(cost int, now time.Time) ([]domain.User, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	users := make([]domain.User, 0, len(c.Admins))
	for _, a := range c.Admins {
		email := strings.ToLower(strings.TrimSpace(a.Email))
		if email == "" || a.Password == "" {
			return nil, fmt.Errorf("admin entry needs an email and a password")
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(a.Password), cost)
		if err != nil {
			return nil, fmt.Errorf("hash password for %s: %w", email, err)
		}
		users = append(users, domain.User{
			ID:           uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailto:"+email)).String(),
			FirstName:    a.FirstName,
			LastName:     a.LastName,
			Email:        email,
			Department:   a.Department,
			Role:         domain.RoleAdmin,
			PasswordHash: hash,
			Progress:     map[string]domain.ModuleProgress{},
			CreatedAt:    now.UTC(),
		})
	}
	return users, nil
}
