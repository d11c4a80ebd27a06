package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"training-portal/internal/domain"
)

// Store keeps users, courses, quizzes, audit logs and notes in Postgres. Course, quiz
// and user documents are stored as JSONB and normalised on read.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) GetUser(ctx context.Context, userID string) (domain.User, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM users WHERE id=$1`, userID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	return decodeUser(userID, raw)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	var (
		id  string
		raw []byte
	)
	err := s.pool.QueryRow(ctx, `SELECT id, data FROM users WHERE email=$1`, strings.ToLower(email)).Scan(&id, &raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("load user by email: %w", err)
	}
	return decodeUser(id, raw)
}

func (s *Store) CreateUser(ctx context.Context, u domain.User) (domain.User, error) {
	u.Email = strings.ToLower(u.Email)
	data, err := json.Marshal(domain.UserToDocument(u))
	if err != nil {
		return domain.User{}, fmt.Errorf("marshal user: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, email, data, created_at) VALUES ($1, $2, $3::jsonb, $4) ON CONFLICT DO NOTHING`,
		u.ID, u.Email, string(data), u.CreatedAt,
	)
	if err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.User{}, domain.ErrEmailExists
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, data FROM users ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u, err := decodeUser(id, raw)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) GetCourse(ctx context.Context, courseID string) (domain.Course, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM courses WHERE id=$1`, courseID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Course{}, domain.ErrModuleNotFound
		}
		return domain.Course{}, fmt.Errorf("load course: %w", err)
	}
	return decodeCourse(courseID, raw)
}

func (s *Store) ListCourses(ctx context.Context) ([]domain.Course, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, data FROM courses ORDER BY position, id`)
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	defer rows.Close()

	courses := []domain.Course{}
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}
		c, err := decodeCourse(id, raw)
		if err != nil {
			return nil, err
		}
		courses = append(courses, c)
	}
	return courses, rows.Err()
}

// LoadQuizForCourse returns the quiz bound to courseID; the lowest quiz ID wins.
func (s *Store) LoadQuizForCourse(ctx context.Context, courseID string) (domain.Quiz, error) {
	var (
		id  string
		raw []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, data FROM quizzes WHERE course_id=$1 ORDER BY id LIMIT 1`, courseID,
	).Scan(&id, &raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Quiz{}, domain.ErrQuizNotFound
		}
		return domain.Quiz{}, fmt.Errorf("load quiz: %w", err)
	}
	var doc domain.QuizDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.Quiz{}, fmt.Errorf("unmarshal quiz: %w", err)
	}
	quiz := domain.NormalizeQuiz(id, doc)
	if quiz.CourseID == "" {
		quiz.CourseID = courseID
	}
	return quiz, nil
}

// AppendAttempt appends to completedQuizzes in a single statement so concurrent
// submissions never overwrite each other.
func (s *Store) AppendAttempt(ctx context.Context, userID string, attempt domain.ExamAttempt) error {
	data, err := json.Marshal([]domain.AttemptDocument{domain.AttemptToDocument(attempt)})
	if err != nil {
		return fmt.Errorf("marshal attempt: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE users
		SET data = jsonb_set(data, '{completedQuizzes}', COALESCE(data->'completedQuizzes', '[]'::jsonb) || $2::jsonb)
		WHERE id=$1`, userID, string(data))
	if err != nil {
		return fmt.Errorf("append attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// SaveProgress merges completed lessons with the stored entry under a row lock and
// recomputes the percentage over lessonIDs.
func (s *Store) SaveProgress(ctx context.Context, userID, moduleID string, lessonIDs []string, p domain.ModuleProgress) (domain.ModuleProgress, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.ModuleProgress{}, fmt.Errorf("begin progress tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var raw []byte
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(data->'progress'->$2::text, '{}'::jsonb) FROM users WHERE id=$1 FOR UPDATE`, userID, moduleID,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ModuleProgress{}, domain.ErrUserNotFound
		}
		return domain.ModuleProgress{}, fmt.Errorf("load progress: %w", err)
	}
	var existing domain.ProgressDocument
	if err := json.Unmarshal(raw, &existing); err != nil {
		return domain.ModuleProgress{}, fmt.Errorf("unmarshal progress: %w", err)
	}

	merged := domain.MergeProgress(domain.NormalizeProgress(existing), p, lessonIDs)
	data, err := json.Marshal(domain.ProgressToDocument(merged))
	if err != nil {
		return domain.ModuleProgress{}, fmt.Errorf("marshal progress: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE users
		SET data = jsonb_set(data, '{progress}', COALESCE(data->'progress', '{}'::jsonb) || jsonb_build_object($2::text, $3::jsonb))
		WHERE id=$1`, userID, moduleID, string(data)); err != nil {
		return domain.ModuleProgress{}, fmt.Errorf("update progress: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.ModuleProgress{}, fmt.Errorf("commit progress: %w", err)
	}
	return merged, nil
}

func (s *Store) AppendAuditLog(ctx context.Context, entry domain.AuditLog) error {
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_logs (id, user_id, action, module_id, module_item_id, "timestamp", metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)`,
		entry.ID, entry.UserID, entry.Action, entry.ModuleID, entry.ModuleItemID, entry.Timestamp, string(metadata),
	)
	if err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}
	return nil
}

// AuditLogsForUser returns the user's audit records, oldest first.
func (s *Store) AuditLogsForUser(ctx context.Context, userID string) ([]domain.AuditLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, action, module_id, module_item_id, "timestamp", metadata
		FROM audit_logs WHERE user_id=$1 ORDER BY "timestamp", id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	var logs []domain.AuditLog
	for rows.Next() {
		var (
			l   domain.AuditLog
			raw []byte
		)
		if err := rows.Scan(&l.ID, &l.UserID, &l.Action, &l.ModuleID, &l.ModuleItemID, &l.Timestamp, &raw); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		if err := json.Unmarshal(raw, &l.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal audit metadata: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

const noteColumns = `id, user_id, module_id, lesson_id, content, last_updated`

func (s *Store) ListNotes(ctx context.Context, userID, moduleID string) ([]domain.Note, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+noteColumns+` FROM notes WHERE user_id=$1 AND module_id=$2 ORDER BY lesson_id`, userID, moduleID)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	var notes []domain.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func (s *Store) FindNote(ctx context.Context, userID, moduleID, lessonID string) (domain.Note, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+noteColumns+` FROM notes WHERE user_id=$1 AND module_id=$2 AND lesson_id=$3`,
		userID, moduleID, lessonID)
	n, err := scanNote(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Note{}, domain.ErrNoteNotFound
	}
	return n, err
}

// CreateNote inserts a note; a racing insert for the same lesson turns into an update.
func (s *Store) CreateNote(ctx context.Context, n domain.Note) (domain.Note, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO notes (`+noteColumns+`) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, module_id, lesson_id)
		DO UPDATE SET content = EXCLUDED.content, last_updated = EXCLUDED.last_updated
		RETURNING `+noteColumns,
		n.ID, n.UserID, n.ModuleID, n.LessonID, n.Content, n.LastUpdated)
	return scanNote(row)
}

func (s *Store) UpdateNote(ctx context.Context, userID, noteID, content string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE notes SET content=$3, last_updated=$4 WHERE user_id=$1 AND id=$2`, userID, noteID, content, at)
	if err != nil {
		return fmt.Errorf("update note: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNoteNotFound
	}
	return nil
}

func scanNote(row pgx.Row) (domain.Note, error) {
	var n domain.Note
	if err := row.Scan(&n.ID, &n.UserID, &n.ModuleID, &n.LessonID, &n.Content, &n.LastUpdated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Note{}, err
		}
		return domain.Note{}, fmt.Errorf("scan note: %w", err)
	}
	return n, nil
}

func decodeUser(id string, raw []byte) (domain.User, error) {
	var doc domain.UserDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.User{}, fmt.Errorf("unmarshal user: %w", err)
	}
	return domain.NormalizeUser(id, doc), nil
}

func decodeCourse(id string, raw []byte) (domain.Course, error) {
	var doc domain.CourseDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.Course{}, fmt.Errorf("unmarshal course: %w", err)
	}
	return domain.NormalizeCourse(id, doc), nil
}

