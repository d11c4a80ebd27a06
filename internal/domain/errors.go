package domain

import "errors"

var (
	// ErrSessionNotFound is returned when no exam session is live for (user, module).
	ErrSessionNotFound = errors.New("exam session not found")
	// ErrQuizNotFound indicates no quiz is bound to the requested module.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrModuleNotFound indicates the course document does not exist.
	ErrModuleNotFound = errors.New("module not found")
	// ErrUserNotFound indicates the user document does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrNoteNotFound is returned by note lookups with no match.
	ErrNoteNotFound = errors.New("note not found")
	// ErrLessonNotFound indicates a lesson ID outside the loaded module.
	ErrLessonNotFound = errors.New("lesson not found")

	// ErrIndexOutOfRange is returned for question or lesson jumps outside [0, last].
	ErrIndexOutOfRange = errors.New("index out of range")
	// ErrInvalidOption indicates the chosen answer is not one of the question's options.
	ErrInvalidOption = errors.New("option not offered by question")
	// ErrIncompleteAnswers blocks a submit request while questions are unanswered.
	ErrIncompleteAnswers = errors.New("all questions must be answered before submitting")
	// ErrNotOnLastQuestion blocks a submit request away from the final question.
	ErrNotOnLastQuestion = errors.New("submit is only available on the last question")
	// ErrInvalidTransition is returned when an operation is not allowed in the current state.
	ErrInvalidTransition = errors.New("operation not allowed in current exam state")

	// ErrEmailExists is returned on sign up with a registered email.
	ErrEmailExists = errors.New("a user with this email already exists")
	// ErrInvalidCredentials is returned on failed sign in.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrUnauthenticated indicates a missing, invalid, expired or revoked token.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden indicates the identity lacks the required role.
	ErrForbidden = errors.New("forbidden")
)
