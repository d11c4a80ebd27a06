package app

import (
	"fmt"
	"sync"
	"time"

	"training-portal/internal/domain"
)

// ExamState is the lifecycle state of one quiz attempt.
type ExamState string

const (
	StateLoading          ExamState = "loading"
	StateInProgress       ExamState = "in_progress"
	StateConfirmingSubmit ExamState = "confirming_submit"
	StateSubmitting       ExamState = "submitting"
	StatePassed           ExamState = "passed"
	StateFailed           ExamState = "failed"
	StateNotFound         ExamState = "not_found"
)

// DefaultExamDuration is the countdown a quiz starts with.
const DefaultExamDuration = 1800 * time.Second

// SessionKey identifies an exam session. Sessions are never shared across users or modules.
type SessionKey struct {
	UserID   string
	ModuleID string
}

func (k SessionKey) String() string {
	return k.UserID + ":" + k.ModuleID
}

// QuestionView is the learner-facing form of the current question; the correct answer is withheld.
type QuestionView struct {
	Index    int      `json:"index"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Points   int      `json:"points"`
	Selected string   `json:"selected,omitempty"`
}

// QuestionOutcome is one row of the results summary.
type QuestionOutcome struct {
	Index         int    `json:"index"`
	Question      string `json:"question"`
	Answer        string `json:"answer"`
	Answered      bool   `json:"answered"`
	CorrectAnswer string `json:"correctAnswer"`
	Correct       bool   `json:"correct"`
}

// ExamResult is computed once on submission.
type ExamResult struct {
	Score         int               `json:"score"`
	EarnedPoints  int               `json:"earnedPoints"`
	TotalPoints   int               `json:"totalPoints"`
	PassingScore  int               `json:"passingScore"`
	Passed        bool              `json:"passed"`
	AutoSubmitted bool              `json:"autoSubmitted"`
	Persisted     bool              `json:"persisted"`
	SubmittedAt   time.Time         `json:"submittedAt"`
	Summary       []QuestionOutcome `json:"summary"`
}

// ExamSnapshot is an immutable view of a session, safe to hand to other goroutines.
type ExamSnapshot struct {
	UserID          string         `json:"userId"`
	ModuleID        string         `json:"moduleId"`
	QuizID          string         `json:"quizId,omitempty"`
	QuizTitle       string         `json:"quizTitle,omitempty"`
	State           ExamState      `json:"state"`
	QuestionIndex   int            `json:"questionIndex"`
	QuestionCount   int            `json:"questionCount"`
	Question        *QuestionView  `json:"question,omitempty"`
	Answers         map[int]string `json:"answers"`
	AnsweredCount   int            `json:"answeredCount"`
	AnsweredPercent int            `json:"answeredPercent"`
	TimeRemaining   int            `json:"timeRemaining"`
	TimeDisplay     string         `json:"timeDisplay"`
	PassingScore    int            `json:"passingScore"`
	Result          *ExamResult    `json:"result,omitempty"`
}

// ExamSession owns one learner's attempt at a module quiz. Every event runs to
// completion under mu, so events within a session apply in the order received.
type ExamSession struct {
	key SessionKey
	now func() time.Time

	mu          sync.Mutex
	state       ExamState
	quiz        domain.Quiz
	user        domain.User
	answers     map[int]string
	index       int
	duration    int
	remaining   int
	generation  uint64
	stopTimer   func()
	result      *ExamResult
	closed      bool
	subscribers map[chan ExamSnapshot]struct{}
}

// NewExamSession returns a session in StateLoading. A non-positive duration falls back to
// DefaultExamDuration.
func NewExamSession(key SessionKey, duration time.Duration, now func() time.Time) *ExamSession {
	secs := int(duration / time.Second)
	if secs <= 0 {
		secs = int(DefaultExamDuration / time.Second)
	}
	return &ExamSession{
		key:         key,
		now:         now,
		state:       StateLoading,
		answers:     make(map[int]string),
		duration:    secs,
		remaining:   secs,
		subscribers: make(map[chan ExamSnapshot]struct{}),
	}
}

// Key returns the (user, module) pair the session belongs to.
func (s *ExamSession) Key() SessionKey {
	return s.key
}

// State returns the current lifecycle state.
func (s *ExamSession) State() ExamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Quiz returns the quiz loaded into the session.
func (s *ExamSession) Quiz() domain.Quiz {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quiz
}

// Snapshot returns the current view of the session.
func (s *ExamSession) Snapshot() ExamSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// begin moves Loading to InProgress and returns the generation the timer must carry.
func (s *ExamSession) begin(quiz domain.Quiz, user domain.User) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateLoading || s.closed {
		return 0, domain.ErrInvalidTransition
	}
	s.quiz = quiz
	s.user = user
	s.state = StateInProgress
	s.generation++
	s.broadcastLocked()
	return s.generation, nil
}

func (s *ExamSession) markNotFound() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateNotFound
	s.broadcastLocked()
}

// attachTimer stores the cancel func of the timer started for gen. If the session has
// already moved on, the timer is stopped right away.
func (s *ExamSession) attachTimer(gen uint64, cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation || !s.unsubmittedLocked() || s.closed {
		cancel()
		return
	}
	s.stopTimer = cancel
}

func (s *ExamSession) stopTimerLocked() {
	if s.stopTimer != nil {
		s.stopTimer()
		s.stopTimer = nil
	}
}

func (s *ExamSession) unsubmittedLocked() bool {
	return s.state == StateInProgress || s.state == StateConfirmingSubmit
}

// tick decrements the countdown for gen and reports whether it has run out.
// Ticks from an older generation or after submission are ignored.
func (s *ExamSession) tick(gen uint64) (expired bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation || !s.unsubmittedLocked() || s.closed {
		return false
	}
	if s.remaining > 0 {
		s.remaining--
	}
	s.broadcastLocked()
	return s.remaining == 0
}

func (s *ExamSession) answer(questionIndex int, option string) (ExamSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInProgress {
		return s.snapshotLocked(), domain.ErrInvalidTransition
	}
	if questionIndex < 0 || questionIndex >= len(s.quiz.Questions) {
		return s.snapshotLocked(), domain.ErrIndexOutOfRange
	}
	if !s.quiz.Questions[questionIndex].HasOption(option) {
		return s.snapshotLocked(), domain.ErrInvalidOption
	}
	s.answers[questionIndex] = option
	return s.broadcastLocked(), nil
}

func (s *ExamSession) previous() (ExamSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInProgress {
		return s.snapshotLocked(), domain.ErrInvalidTransition
	}
	if s.index > 0 {
		s.index--
	}
	return s.broadcastLocked(), nil
}

func (s *ExamSession) next() (ExamSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInProgress {
		return s.snapshotLocked(), domain.ErrInvalidTransition
	}
	if s.index < len(s.quiz.Questions)-1 {
		s.index++
	}
	return s.broadcastLocked(), nil
}

func (s *ExamSession) jump(index int) (ExamSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInProgress {
		return s.snapshotLocked(), domain.ErrInvalidTransition
	}
	if index < 0 || index >= len(s.quiz.Questions) {
		return s.snapshotLocked(), domain.ErrIndexOutOfRange
	}
	s.index = index
	return s.broadcastLocked(), nil
}

func (s *ExamSession) requestSubmit() (ExamSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInProgress {
		return s.snapshotLocked(), domain.ErrInvalidTransition
	}
	if s.index != len(s.quiz.Questions)-1 {
		return s.snapshotLocked(), domain.ErrNotOnLastQuestion
	}
	if len(s.answers) < len(s.quiz.Questions) {
		return s.snapshotLocked(), domain.ErrIncompleteAnswers
	}
	s.state = StateConfirmingSubmit
	return s.broadcastLocked(), nil
}

func (s *ExamSession) cancelSubmit() (ExamSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConfirmingSubmit {
		return s.snapshotLocked(), domain.ErrInvalidTransition
	}
	s.state = StateInProgress
	return s.broadcastLocked(), nil
}

// beginSubmit moves the session into Submitting and computes the result. A learner
// submit is only accepted from ConfirmingSubmit; a timeout (auto) from any unsubmitted
// state of generation gen.
func (s *ExamSession) beginSubmit(gen uint64, auto bool) (ExamResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ExamResult{}, domain.ErrInvalidTransition
	}
	if auto {
		if gen != s.generation || !s.unsubmittedLocked() {
			return ExamResult{}, domain.ErrInvalidTransition
		}
	} else if s.state != StateConfirmingSubmit {
		return ExamResult{}, domain.ErrInvalidTransition
	}

	s.stopTimerLocked()
	s.state = StateSubmitting

	score, earned := domain.ScoreAnswers(s.quiz, s.answers)
	summary := make([]QuestionOutcome, 0, len(s.quiz.Questions))
	for i, q := range s.quiz.Questions {
		a, ok := s.answers[i]
		summary = append(summary, QuestionOutcome{
			Index:         i,
			Question:      q.Question,
			Answer:        a,
			Answered:      ok,
			CorrectAnswer: q.CorrectAnswer,
			Correct:       ok && a == q.CorrectAnswer,
		})
	}
	result := ExamResult{
		Score:         score,
		EarnedPoints:  earned,
		TotalPoints:   s.quiz.TotalPoints,
		PassingScore:  s.quiz.PassingScore,
		Passed:        domain.Passed(s.quiz, score),
		AutoSubmitted: auto,
		SubmittedAt:   s.now(),
		Summary:       summary,
	}
	s.broadcastLocked()
	return result, nil
}

// finishSubmit shows the result whether or not it was persisted.
func (s *ExamSession) finishSubmit(result ExamResult) ExamSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result = &result
	if result.Passed {
		s.state = StatePassed
	} else {
		s.state = StateFailed
	}
	return s.broadcastLocked()
}

// retry resets a failed attempt and returns the new timer generation.
func (s *ExamSession) retry() (uint64, ExamSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateFailed || s.closed {
		return 0, s.snapshotLocked(), domain.ErrInvalidTransition
	}
	s.answers = make(map[int]string)
	s.index = 0
	s.remaining = s.duration
	s.result = nil
	s.state = StateInProgress
	s.generation++
	return s.generation, s.broadcastLocked(), nil
}

func (s *ExamSession) certificate() (domain.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePassed || s.result == nil {
		return domain.Certificate{}, domain.ErrInvalidTransition
	}
	name := s.user.Name()
	if name == "" {
		name = "Participant"
	}
	return domain.Certificate{
		LearnerName: name,
		QuizTitle:   s.quiz.Title(),
		Score:       s.result.Score,
		Date:        s.now(),
	}, nil
}

// close tears the session down: stops the timer and ends every subscription.
func (s *ExamSession) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.generation++
	s.stopTimerLocked()
	for ch := range s.subscribers {
		delete(s.subscribers, ch)
		close(ch)
	}
}

func (s *ExamSession) subscribe() (<-chan ExamSnapshot, func()) {
	ch := make(chan ExamSnapshot, 8)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subscribers[ch] = struct{}{}
	ch <- s.snapshotLocked()
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *ExamSession) broadcastLocked() ExamSnapshot {
	snap := s.snapshotLocked()
	for ch := range s.subscribers {
		select {
		case ch <- snap:
		default:
			// slow subscriber: drop its oldest update so the newest state always lands
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
	return snap
}

func (s *ExamSession) snapshotLocked() ExamSnapshot {
	answers := make(map[int]string, len(s.answers))
	for k, v := range s.answers {
		answers[k] = v
	}
	count := len(s.quiz.Questions)
	snap := ExamSnapshot{
		UserID:          s.key.UserID,
		ModuleID:        s.key.ModuleID,
		QuizID:          s.quiz.ID,
		State:           s.state,
		QuestionIndex:   s.index,
		QuestionCount:   count,
		Answers:         answers,
		AnsweredCount:   len(answers),
		AnsweredPercent: domain.ProgressPercent(len(answers), count),
		TimeRemaining:   s.remaining,
		TimeDisplay:     FormatCountdown(s.remaining),
		PassingScore:    s.quiz.PassingScore,
	}
	if s.quiz.ID != "" {
		snap.QuizTitle = s.quiz.Title()
	}
	if s.unsubmittedLocked() && s.index < count {
		q := s.quiz.Questions[s.index]
		options := make([]string, len(q.Options))
		copy(options, q.Options)
		snap.Question = &QuestionView{
			Index:    s.index,
			Question: q.Question,
			Options:  options,
			Points:   q.Points,
			Selected: s.answers[s.index],
		}
	}
	if s.result != nil {
		r := *s.result
		snap.Result = &r
	}
	return snap
}

// FormatCountdown renders seconds as m:ss.
func FormatCountdown(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
