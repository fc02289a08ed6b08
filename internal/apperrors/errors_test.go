package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestCodeAndStatus(t *testing.T) {
	cases := []struct {
		err    error
		code   string
		status int
	}{
		{ErrExamNotFound, "exam_not_found", http.StatusNotFound},
		{fmt.Errorf("load: %w", ErrAttemptNotFound), "exam_attempt_not_found", http.StatusNotFound},
		{New(ErrNoMoreTurns).WithDetails(map[string]interface{}{"current_attempts": 2}), "no_more_turns", http.StatusBadRequest},
		{New(ErrAttemptUnauthorized), "exam_attempt_unauthorized_access", http.StatusForbidden},
		{New(ErrAttemptInProgress), "exam_attempt_in_progress", http.StatusConflict},
		{errors.New("boom"), "internal_error", http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := Code(c.err); got != c.code {
			t.Errorf("Code(%v)=%q want %q", c.err, got, c.code)
		}
		if got := HTTPStatus(c.err); got != c.status {
			t.Errorf("HTTPStatus(%v)=%d want %d", c.err, got, c.status)
		}
	}
}

func TestCustomErrorUnwrap(t *testing.T) {
	err := fmt.Errorf("create: %w", New(ErrNoMoreTurns).WithDetails(map[string]interface{}{
		"current_attempts": 2,
		"max_attempts":     2,
	}))
	if !errors.Is(err, ErrNoMoreTurns) {
		t.Fatalf("expected errors.Is to match sentinel")
	}
	d := Details(err)
	if d["current_attempts"] != 2 || d["max_attempts"] != 2 {
		t.Fatalf("details lost: %#v", d)
	}
	if err.Error() != "create: no_more_turns" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
