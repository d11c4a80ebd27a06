package app

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"training-portal/internal/domain"
	"training-portal/internal/metrics"
)

// ProgressService loads modules for a learner and hands out trackers.
type ProgressService struct {
	courses  CourseRepository
	users    UserRepository
	progress ProgressRepository
	audit    AuditLogRepository
	notes    NoteRepository
	now      func() time.Time
	newID    func() string
	log      *zap.Logger
	metrics  *metrics.Metrics
}

func NewProgressService(
	courses CourseRepository,
	users UserRepository,
	progress ProgressRepository,
	audit AuditLogRepository,
	notes NoteRepository,
	log *zap.Logger,
	m *metrics.Metrics,
) *ProgressService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ProgressService{
		courses:  courses,
		users:    users,
		progress: progress,
		audit:    audit,
		notes:    notes,
		now:      time.Now,
		newID:    uuid.NewString,
		log:      log,
		metrics:  m,
	}
}

// WithClock overrides the clock used for progress, audit and note timestamps.
func (s *ProgressService) WithClock(now func() time.Time) *ProgressService {
	s.now = now
	return s
}

// LessonView is a lesson with the learner's completion flag.
type LessonView struct {
	domain.Lesson
	Completed bool `json:"completed"`
}

// ModuleView is the state a tracker presents.
type ModuleView struct {
	ID                 string            `json:"id"`
	Title              string            `json:"title"`
	Description        string            `json:"description"`
	Category           string            `json:"category"`
	Status             string            `json:"status"`
	Lessons            []LessonView      `json:"lessons"`
	CurrentLessonIndex int               `json:"currentLessonIndex"`
	Progress           int               `json:"progress"`
	ReadyForExam       bool              `json:"readyForExam"`
	Notes              map[string]string `json:"notes"`
}

// ModuleTracker tracks one learner's pass through one module's lessons.
// A tracker is confined to the request or view that loaded it.
type ModuleTracker struct {
	svc       *ProgressService
	userID    string
	course    domain.Course
	completed map[string]struct{}
	current   int
	progress  int
	notes     map[string]string
}

// LoadModule fetches the module, the learner's completed lessons and notes.
// A missing module yields domain.ErrModuleNotFound. A missing user or progress entry
// means nothing is complete yet; a failed notes read leaves notes empty.
func (s *ProgressService) LoadModule(ctx context.Context, userID, moduleID string) (*ModuleTracker, error) {
	course, err := s.courses.GetCourse(ctx, moduleID)
	if err != nil {
		if !errors.Is(err, domain.ErrModuleNotFound) {
			s.log.Error("load module failed", zap.String("user_id", userID), zap.String("module_id", moduleID), zap.Error(err))
		}
		return nil, err
	}

	completed := make(map[string]struct{})
	user, err := s.users.GetUser(ctx, userID)
	switch {
	case err == nil:
		for _, id := range user.Progress[moduleID].CompletedLessons {
			completed[id] = struct{}{}
		}
	case errors.Is(err, domain.ErrUserNotFound):
	default:
		s.log.Error("load progress failed", zap.String("user_id", userID), zap.String("module_id", moduleID), zap.Error(err))
		return nil, err
	}

	notes := make(map[string]string)
	stored, err := s.notes.ListNotes(ctx, userID, moduleID)
	if err != nil {
		s.log.Warn("load notes failed", zap.String("user_id", userID), zap.String("module_id", moduleID), zap.Error(err))
	}
	for _, n := range stored {
		if n.LessonID != "" {
			notes[n.LessonID] = n.Content
		}
	}

	t := &ModuleTracker{
		svc:       s,
		userID:    userID,
		course:    course,
		completed: completed,
		notes:     notes,
	}
	t.progress = t.computeProgress()
	return t, nil
}

// View returns the current state.
func (t *ModuleTracker) View() ModuleView {
	lessons := make([]LessonView, 0, len(t.course.Lessons))
	for _, l := range t.course.Lessons {
		_, done := t.completed[l.ID]
		lessons = append(lessons, LessonView{Lesson: l, Completed: done})
	}
	notes := make(map[string]string, len(t.notes))
	for k, v := range t.notes {
		notes[k] = v
	}
	return ModuleView{
		ID:                 t.course.ID,
		Title:              t.course.Title,
		Description:        t.course.Description,
		Category:           t.course.Category,
		Status:             t.course.Status,
		Lessons:            lessons,
		CurrentLessonIndex: t.current,
		Progress:           t.progress,
		ReadyForExam:       t.progress == 100,
		Notes:              notes,
	}
}

// Progress returns the current completion percentage.
func (t *ModuleTracker) Progress() int {
	return t.progress
}

// SelectLesson jumps to any lesson; viewing is never gated on completion.
func (t *ModuleTracker) SelectLesson(index int) error {
	if index < 0 || index >= len(t.course.Lessons) {
		return domain.ErrIndexOutOfRange
	}
	t.current = index
	return nil
}

// SelectLessonByID jumps to the lesson with the given ID.
func (t *ModuleTracker) SelectLessonByID(lessonID string) error {
	for i, l := range t.course.Lessons {
		if l.ID == lessonID {
			t.current = i
			return nil
		}
	}
	return domain.ErrLessonNotFound
}

// CompletionResult reports the outcome of MarkCurrentLessonComplete.
type CompletionResult struct {
	Changed      bool `json:"changed"`
	Progress     int  `json:"progress"`
	ReadyForExam bool `json:"readyForExam"`
	Persisted    bool `json:"persisted"`
	AuditLogged  bool `json:"auditLogged"`
}

// MarkCurrentLessonComplete adds the current lesson to the completed set, persists the
// module progress and then appends an audit record. The writes are independent and
// not rolled back; failures are logged and the local state is kept either way. When
// the progress write fails the audit write is skipped.
func (t *ModuleTracker) MarkCurrentLessonComplete(ctx context.Context) CompletionResult {
	res := CompletionResult{Progress: t.progress, ReadyForExam: t.progress == 100}
	if t.current < 0 || t.current >= len(t.course.Lessons) {
		return res
	}
	lesson := t.course.Lessons[t.current]
	if _, done := t.completed[lesson.ID]; done {
		return res
	}

	s := t.svc
	now := s.now()
	t.completed[lesson.ID] = struct{}{}
	t.progress = t.computeProgress()
	res = CompletionResult{Changed: true, Progress: t.progress, ReadyForExam: t.progress == 100}
	s.metrics.LessonCompleted()

	entry := domain.ModuleProgress{
		CompletedLessons: completedIDs(t.course, t.completed),
		Progress:         t.progress,
		LastUpdated:      now,
	}
	fields := []zap.Field{
		zap.String("user_id", t.userID),
		zap.String("module_id", t.course.ID),
		zap.String("lesson_id", lesson.ID),
	}
	stored, err := s.progress.SaveProgress(ctx, t.userID, t.course.ID, lessonIDs(t.course), entry)
	if err != nil {
		s.metrics.WriteFailed("progress")
		s.log.Error("update progress failed", append(fields, zap.Error(err))...)
		return res
	}
	// pick up lessons another tracker completed since this one loaded
	for _, id := range stored.CompletedLessons {
		t.completed[id] = struct{}{}
	}
	t.progress = t.computeProgress()
	res.Progress = t.progress
	res.ReadyForExam = t.progress == 100
	res.Persisted = true

	audit := domain.AuditLog{
		ID:           s.newID(),
		UserID:       t.userID,
		Action:       domain.ActionModuleCompleted,
		ModuleID:     t.course.ID,
		ModuleItemID: lesson.ID,
		Timestamp:    now,
		Metadata: map[string]string{
			"moduleTitle": lesson.Title,
			"courseTitle": t.course.Title,
		},
	}
	if err := s.audit.AppendAuditLog(ctx, audit); err != nil {
		s.metrics.WriteFailed("audit")
		s.log.Error("append audit log failed", append(fields, zap.Error(err))...)
		return res
	}
	res.AuditLogged = true
	return res
}

// SaveNote upserts the note for (module, lessonID): an existing note is updated,
// otherwise one is created. The note is kept locally even when the write fails;
// the returned bool reports whether it was stored.
func (t *ModuleTracker) SaveNote(ctx context.Context, lessonID, content string) bool {
	s := t.svc
	now := s.now()
	t.notes[lessonID] = content

	existing, err := s.notes.FindNote(ctx, t.userID, t.course.ID, lessonID)
	switch {
	case err == nil:
		err = s.notes.UpdateNote(ctx, t.userID, existing.ID, content, now)
	case errors.Is(err, domain.ErrNoteNotFound):
		_, err = s.notes.CreateNote(ctx, domain.Note{
			ID:          s.newID(),
			UserID:      t.userID,
			ModuleID:    t.course.ID,
			LessonID:    lessonID,
			Content:     content,
			LastUpdated: now,
		})
	}
	if err != nil {
		s.metrics.WriteFailed("note")
		s.log.Error("save note failed",
			zap.String("user_id", t.userID),
			zap.String("module_id", t.course.ID),
			zap.String("lesson_id", lessonID),
			zap.Error(err),
		)
		return false
	}
	return true
}

func (t *ModuleTracker) computeProgress() int {
	return progressOf(t.course, t.completed)
}

// progressOf counts only lessons that still exist in the module.
func progressOf(course domain.Course, completed map[string]struct{}) int {
	done := 0
	for _, l := range course.Lessons {
		if _, ok := completed[l.ID]; ok {
			done++
		}
	}
	return domain.ProgressPercent(done, len(course.Lessons))
}

func lessonIDs(course domain.Course) []string {
	ids := make([]string, 0, len(course.Lessons))
	for _, l := range course.Lessons {
		ids = append(ids, l.ID)
	}
	return ids
}

func completedIDs(course domain.Course, completed map[string]struct{}) []string {
	ids := make([]string, 0, len(completed))
	for _, l := range course.Lessons {
		if _, ok := completed[l.ID]; ok {
			ids = append(ids, l.ID)
		}
	}
	return ids
}
