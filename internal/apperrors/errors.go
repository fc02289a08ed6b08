package apperrors

import (
	"errors"
	"net/http"
)

// Exam and attempt errors. The error text doubles as the wire code.
var (
	ErrExamNotFound         = errors.New("exam_not_found")
	ErrOverdueDoingExam     = errors.New("overdue_doing_exam")
	ErrNoMoreTurns          = errors.New("no_more_turns")
	ErrExistInvalidQuestion = errors.New("exist_invalid_question")
	ErrAttemptInProgress    = errors.New("exam_attempt_in_progress")
	ErrSubmissionClosed     = errors.New("exam_submission_closed")
	ErrAttemptNotFound      = errors.New("exam_attempt_not_found")
	ErrAttemptUnauthorized  = errors.New("exam_attempt_unauthorized_access")
	ErrAttemptNotFinished   = errors.New("exam_attempt_not_finished")
	ErrValidationFailed     = errors.New("validation_failed")
	ErrInvalidExamWindow    = errors.New("invalid_exam_window")
	ErrSchedulerUnavailable = errors.New("scheduler_unavailable")
)

// CustomError carries a code and structured details next to the underlying error.
type CustomError struct {
	Err     error
	Message string
	Code    string
	Details map[string]interface{}
}

func (e *CustomError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "unknown error"
}

func (e *CustomError) Unwrap() error { return e.Err }

// New wraps a sentinel; the code defaults to the sentinel text.
func New(err error) *CustomError {
	return &CustomError{Err: err, Code: err.Error()}
}

// NewCustomError creates a CustomError with a human readable message.
func NewCustomError(err error, message string) *CustomError {
	return &CustomError{Err: err, Message: message, Code: err.Error()}
}

// WithDetails adds context details to the error
func (e *CustomError) WithDetails(details map[string]interface{}) *CustomError {
	e.Details = details
	return e
}

// WithCode overrides the error code
func (e *CustomError) WithCode(code string) *CustomError {
	e.Code = code
	return e
}

// Is reports whether err matches target or any of errList.
func Is(err, target error, errList ...error) bool {
	if errors.Is(err, target) {
		return true
	}
	for _, e := range errList {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

// Code extracts the wire code of err, or "internal_error" for unknown errors.
func Code(err error) string {
	var ce *CustomError
	if errors.As(err, &ce) && ce.Code != "" {
		return ce.Code
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal_error"
}

// Details returns the structured details attached to err, if any.
func Details(err error) map[string]interface{} {
	var ce *CustomError
	if errors.As(err, &ce) {
		return ce.Details
	}
	return nil
}

// HTTPStatus maps err onto a response status.
func HTTPStatus(err error) int {
	switch {
	case Is(err, ErrExamNotFound, ErrAttemptNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAttemptUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrAttemptInProgress):
		return http.StatusConflict
	case Is(err, ErrOverdueDoingExam, ErrNoMoreTurns, ErrExistInvalidQuestion,
		ErrSubmissionClosed, ErrAttemptNotFinished, ErrValidationFailed, ErrInvalidExamWindow):
		return http.StatusBadRequest
	case errors.Is(err, ErrSchedulerUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

var sentinels = []error{
	ErrExamNotFound,
	ErrOverdueDoingExam,
	ErrNoMoreTurns,
	ErrExistInvalidQuestion,
	ErrAttemptInProgress,
	ErrSubmissionClosed,
	ErrAttemptNotFound,
	ErrAttemptUnauthorized,
	ErrAttemptNotFinished,
	ErrValidationFailed,
	ErrInvalidExamWindow,
	ErrSchedulerUnavailable,
}
