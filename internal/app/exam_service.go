package app

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"training-portal/internal/domain"
	"training-portal/internal/metrics"
)

// ExamConfig tunes the exam countdown.
type ExamConfig struct {
	Duration time.Duration
	Tick     time.Duration
	// PersistTimeout bounds the attempt write issued by a timeout auto-submit.
	PersistTimeout time.Duration
}

// ExamService drives exam sessions: loading, answering, timing, scoring and persisting.
type ExamService struct {
	sessions  SessionRepository
	quizzes   QuizRepository
	users     UserRepository
	attempts  AttemptRepository
	scheduler Scheduler
	cfg       ExamConfig
	now       func() time.Time
	log       *zap.Logger
	metrics   *metrics.Metrics
}

func NewExamService(
	sessions SessionRepository,
	quizzes QuizRepository,
	users UserRepository,
	attempts AttemptRepository,
	scheduler Scheduler,
	cfg ExamConfig,
	log *zap.Logger,
	m *metrics.Metrics,
) *ExamService {
	if cfg.Duration <= 0 {
		cfg.Duration = DefaultExamDuration
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 10 * time.Second
	}
	if scheduler == nil {
		scheduler = TickerScheduler{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ExamService{
		sessions:  sessions,
		quizzes:   quizzes,
		users:     users,
		attempts:  attempts,
		scheduler: scheduler,
		cfg:       cfg,
		now:       time.Now,
		log:       log,
		metrics:   m,
	}
}

// WithClock overrides the clock used for result and certificate timestamps.
func (s *ExamService) WithClock(now func() time.Time) *ExamService {
	s.now = now
	return s
}

// Start opens (or resumes) the exam for moduleID. When no quiz is bound to the module
// the snapshot is in StateNotFound and domain.ErrQuizNotFound is returned.
func (s *ExamService) Start(ctx context.Context, userID, moduleID string) (ExamSnapshot, error) {
	key := SessionKey{UserID: userID, ModuleID: moduleID}
	session, created := s.sessions.GetOrCreate(key, func() *ExamSession {
		return NewExamSession(key, s.cfg.Duration, s.now)
	})
	if !created {
		return session.Snapshot(), nil
	}
	s.metrics.SessionOpened()

	quiz, err := s.quizzes.GetQuizForCourse(ctx, moduleID)
	if err != nil {
		s.discard(key, session)
		if errors.Is(err, domain.ErrQuizNotFound) {
			session.markNotFound()
			return session.Snapshot(), domain.ErrQuizNotFound
		}
		s.log.Error("load quiz failed", zap.String("user_id", userID), zap.String("module_id", moduleID), zap.Error(err))
		return ExamSnapshot{}, err
	}

	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		// certificate falls back to "Participant"; the exam itself does not need the profile
		s.log.Warn("load user for exam failed", zap.String("user_id", userID), zap.Error(err))
		user = domain.User{ID: userID}
	}

	// the session may have been closed while we were loading
	if current, ok := s.sessions.Get(key); !ok || current != session {
		return session.Snapshot(), domain.ErrSessionNotFound
	}

	gen, err := session.begin(quiz, user)
	if err != nil {
		return session.Snapshot(), err
	}
	s.startTimer(session, gen)
	s.log.Info("exam started",
		zap.String("user_id", userID),
		zap.String("module_id", moduleID),
		zap.String("quiz_id", quiz.ID),
		zap.Int("questions", len(quiz.Questions)),
	)
	return session.Snapshot(), nil
}

// Get returns the live session snapshot.
func (s *ExamService) Get(_ context.Context, userID, moduleID string) (ExamSnapshot, error) {
	session, err := s.session(userID, moduleID)
	if err != nil {
		return ExamSnapshot{}, err
	}
	return session.Snapshot(), nil
}

// Answer records or changes the answer for questionIndex.
func (s *ExamService) Answer(_ context.Context, userID, moduleID string, questionIndex int, option string) (ExamSnapshot, error) {
	session, err := s.session(userID, moduleID)
	if err != nil {
		return ExamSnapshot{}, err
	}
	return session.answer(questionIndex, option)
}

// Previous moves to the previous question, staying on the first one.
func (s *ExamService) Previous(_ context.Context, userID, moduleID string) (ExamSnapshot, error) {
	session, err := s.session(userID, moduleID)
	if err != nil {
		return ExamSnapshot{}, err
	}
	return session.previous()
}

// Next moves to the next question, staying on the last one.
func (s *ExamService) Next(_ context.Context, userID, moduleID string) (ExamSnapshot, error) {
	session, err := s.session(userID, moduleID)
	if err != nil {
		return ExamSnapshot{}, err
	}
	return session.next()
}

// Jump moves straight to index, which must be a valid question index.
func (s *ExamService) Jump(_ context.Context, userID, moduleID string, index int) (ExamSnapshot, error) {
	session, err := s.session(userID, moduleID)
	if err != nil {
		return ExamSnapshot{}, err
	}
	return session.jump(index)
}

// RequestSubmit asks for confirmation. It is gated on being at the last question
// with every question answered.
func (s *ExamService) RequestSubmit(_ context.Context, userID, moduleID string) (ExamSnapshot, error) {
	session, err := s.session(userID, moduleID)
	if err != nil {
		return ExamSnapshot{}, err
	}
	return session.requestSubmit()
}

// CancelSubmit returns from the confirmation step to answering.
func (s *ExamService) CancelSubmit(_ context.Context, userID, moduleID string) (ExamSnapshot, error) {
	session, err := s.session(userID, moduleID)
	if err != nil {
		return ExamSnapshot{}, err
	}
	return session.cancelSubmit()
}

// ConfirmSubmit scores the attempt and persists it. A failed write is logged and the
// result is still returned.
func (s *ExamService) ConfirmSubmit(ctx context.Context, userID, moduleID string) (ExamSnapshot, error) {
	session, err := s.session(userID, moduleID)
	if err != nil {
		return ExamSnapshot{}, err
	}
	return s.submit(ctx, session, 0, false)
}

// Retry resets a failed attempt: answers, question index and timer go back to the start.
func (s *ExamService) Retry(_ context.Context, userID, moduleID string) (ExamSnapshot, error) {
	session, err := s.session(userID, moduleID)
	if err != nil {
		return ExamSnapshot{}, err
	}
	gen, snap, err := session.retry()
	if err != nil {
		return snap, err
	}
	s.startTimer(session, gen)
	return session.Snapshot(), nil
}

// Certificate is only available once the attempt passed.
func (s *ExamService) Certificate(_ context.Context, userID, moduleID string) (domain.Certificate, error) {
	session, err := s.session(userID, moduleID)
	if err != nil {
		return domain.Certificate{}, err
	}
	return session.certificate()
}

// Subscribe returns a channel that receives a snapshot on every change and tick.
// The channel is closed when the session closes; callers must invoke cancel.
func (s *ExamService) Subscribe(_ context.Context, userID, moduleID string) (<-chan ExamSnapshot, func(), error) {
	session, err := s.session(userID, moduleID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := session.subscribe()
	return ch, cancel, nil
}

// Close tears the session down. Closing a missing session is a no-op.
func (s *ExamService) Close(_ context.Context, userID, moduleID string) {
	key := SessionKey{UserID: userID, ModuleID: moduleID}
	session, ok := s.sessions.Get(key)
	if !ok {
		return
	}
	s.discard(key, session)
}

// LiveLearners lists the users who currently have moduleID's exam open.
func (s *ExamService) LiveLearners(ctx context.Context, moduleID string) ([]string, error) {
	users, err := s.sessions.LiveUsers(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	sort.Strings(users)
	return users, nil
}

func (s *ExamService) discard(key SessionKey, session *ExamSession) {
	session.close()
	s.sessions.Delete(key, session)
	s.metrics.SessionClosed()
}

func (s *ExamService) session(userID, moduleID string) (*ExamSession, error) {
	session, ok := s.sessions.Get(SessionKey{UserID: userID, ModuleID: moduleID})
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

func (s *ExamService) startTimer(session *ExamSession, gen uint64) {
	cancel := s.scheduler.Every(s.cfg.Tick, func() {
		if !session.tick(gen) {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PersistTimeout)
		defer cancel()
		if _, err := s.submit(ctx, session, gen, true); err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
			s.log.Error("auto-submit failed", zap.String("session", session.Key().String()), zap.Error(err))
		}
	})
	session.attachTimer(gen, cancel)
}

func (s *ExamService) submit(ctx context.Context, session *ExamSession, gen uint64, auto bool) (ExamSnapshot, error) {
	result, err := session.beginSubmit(gen, auto)
	if err != nil {
		return session.Snapshot(), err
	}

	key := session.Key()
	quiz := session.Quiz()

	attempt := domain.ExamAttempt{
		QuizID:   quiz.ID,
		CourseID: quiz.CourseID,
		Score:    result.Score,
		Passed:   result.Passed,
		Date:     result.SubmittedAt,
	}
	if err := s.attempts.AppendAttempt(ctx, key.UserID, attempt); err != nil {
		s.metrics.WriteFailed("attempt")
		s.log.Error("save quiz result failed",
			zap.String("user_id", key.UserID),
			zap.String("module_id", key.ModuleID),
			zap.String("quiz_id", quiz.ID),
			zap.Error(err),
		)
	} else {
		result.Persisted = true
	}

	s.metrics.ExamSubmitted(result.Score, result.Passed, auto)
	s.log.Info("exam submitted",
		zap.String("user_id", key.UserID),
		zap.String("module_id", key.ModuleID),
		zap.Int("score", result.Score),
		zap.Bool("passed", result.Passed),
		zap.Bool("auto", auto),
	)
	return session.finishSubmit(result), nil
}
