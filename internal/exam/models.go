package exam

import (
	"time"

	"github.com/mind-engage/mindengage-exams/internal/apperrors"
)

type Choice struct {
	ID          int64  `json:"id"`
	QuestionID  int64  `json:"question_id"`
	Content     string `json:"content"`
	Explanation string `json:"explanation,omitempty"`
	IsCorrect   bool   `json:"is_correct"`
}

type Question struct {
	ID          int64    `json:"id"`
	CreatorID   int64    `json:"creator_id,omitempty"`
	Content     string   `json:"content"`
	Description string   `json:"description,omitempty"`
	Type        string   `json:"type"` // single_choice|multiple_choice
	Score       float64  `json:"score"`
	Choices     []Choice `json:"choices,omitempty"`
}

// CorrectChoiceIDs lists the ids flagged correct, in catalog order.
func (q Question) CorrectChoiceIDs() []int64 {
	var out []int64
	for _, c := range q.Choices {
		if c.IsCorrect {
			out = append(out, c.ID)
		}
	}
	return out
}

// QuestionRef is one entry of an exam's question list with its per-exam score.
type QuestionRef struct {
	QuestionID int64   `json:"question_id"`
	Score      float64 `json:"score"`
}

type Exam struct {
	ID                int64         `json:"id"`
	CreatorID         int64         `json:"creator_id"`
	Title             string        `json:"title"`
	Note              string        `json:"note,omitempty"`
	Duration          int           `json:"duration"` // minutes
	TotalQuestion     int           `json:"total_question"`
	EarliestStartTime *time.Time    `json:"earliest_start_time,omitempty"`
	LatestStartTime   *time.Time    `json:"latest_start_time,omitempty"`
	MaxAttempt        int           `json:"max_attempt,omitempty"` // 0 = unlimited
	IsPublic          bool          `json:"is_public"`
	Questions         []QuestionRef `json:"list_question"`
	CreatedAt         time.Time     `json:"created_at"`
}

const DefaultDuration = 30

// Validate checks the start window and fills defaults.
func (e *Exam) Validate() error {
	if e.Duration <= 0 {
		e.Duration = DefaultDuration
	}
	if e.MaxAttempt < 0 {
		return apperrors.NewCustomError(apperrors.ErrValidationFailed, "max_attempt must not be negative")
	}
	if e.EarliestStartTime != nil && e.LatestStartTime != nil && e.EarliestStartTime.After(*e.LatestStartTime) {
		return apperrors.New(apperrors.ErrInvalidExamWindow)
	}
	e.TotalQuestion = len(e.Questions)
	return nil
}

// QuestionIDs returns the question ids in exam order.
func (e Exam) QuestionIDs() []int64 {
	ids := make([]int64, len(e.Questions))
	for i, q := range e.Questions {
		ids[i] = q.QuestionID
	}
	return ids
}

// Deadline is the close time of an attempt started at start.
func Deadline(start time.Time, durationMinutes int) time.Time {
	return start.Add(time.Duration(durationMinutes) * time.Minute)
}
