package app

import (
	"context"
	"time"

	"training-portal/internal/domain"
)

// UserRepository reads and creates user documents.
type UserRepository interface {
	GetUser(ctx context.Context, userID string) (domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)
	CreateUser(ctx context.Context, user domain.User) (domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
}

// CourseRepository loads course content. Courses are read-only here.
type CourseRepository interface {
	GetCourse(ctx context.Context, courseID string) (domain.Course, error)
	ListCourses(ctx context.Context) ([]domain.Course, error)
}

// QuizRepository loads the quiz bound to a course (from cache/backing store).
type QuizRepository interface {
	GetQuizForCourse(ctx context.Context, courseID string) (domain.Quiz, error)
}

// AttemptRepository appends exam attempts to a user's history.
type AttemptRepository interface {
	AppendAttempt(ctx context.Context, userID string, attempt domain.ExamAttempt) error
}

// ProgressRepository persists the per-module progress entry. Implementations merge
// CompletedLessons as a set union with what is already stored, recompute Progress over
// lessonIDs and return the entry as stored.
type ProgressRepository interface {
	SaveProgress(ctx context.Context, userID, moduleID string, lessonIDs []string, progress domain.ModuleProgress) (domain.ModuleProgress, error)
}

// AuditLogRepository appends audit records.
type AuditLogRepository interface {
	AppendAuditLog(ctx context.Context, entry domain.AuditLog) error
}

// NoteRepository stores per-lesson notes in the user's notes collection.
type NoteRepository interface {
	ListNotes(ctx context.Context, userID, moduleID string) ([]domain.Note, error)
	// FindNote returns domain.ErrNoteNotFound when no note matches.
	FindNote(ctx context.Context, userID, moduleID, lessonID string) (domain.Note, error)
	CreateNote(ctx context.Context, note domain.Note) (domain.Note, error)
	UpdateNote(ctx context.Context, userID, noteID, content string, at time.Time) error
}

// SessionRepository abstracts how live exam sessions are tracked (in-memory, Redis, etc).
type SessionRepository interface {
	// GetOrCreate returns the session for key, calling create when none exists.
	// The bool reports whether create was used.
	GetOrCreate(key SessionKey, create func() *ExamSession) (*ExamSession, bool)
	Get(key SessionKey) (*ExamSession, bool)
	// Delete removes the session only if it is still the one stored under key.
	Delete(key SessionKey, session *ExamSession)
	// LiveUsers lists users with an open exam on moduleID.
	LiveUsers(ctx context.Context, moduleID string) ([]string, error)
}

// RevocationStore remembers signed-out token IDs until they would have expired anyway.
type RevocationStore interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}
