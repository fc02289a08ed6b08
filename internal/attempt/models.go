package attempt

import (
	"time"

	"github.com/mind-engage/mindengage-exams/internal/exam"
)

// AnswerSlot is one question position in an attempt's frozen snapshot.
type AnswerSlot struct {
	QuestionID int64   `json:"question_id"`
	Order      int     `json:"order"` // 1-based
	Score      float64 `json:"score"`
	ChoiceIDs  []int64 `json:"choice_ids"` // empty = unanswered
}

type Attempt struct {
	ID         int64        `json:"id"`
	ExamID     int64        `json:"exam_id"`
	UserID     int64        `json:"user_id"`
	StartedAt  time.Time    `json:"started_at"`
	Duration   int          `json:"duration"` // minutes
	FinishedAt *time.Time   `json:"finished_at"`
	DeletedAt  *time.Time   `json:"-"`
	Slots      []AnswerSlot `json:"list_answer"`

	TotalQuestion   *int     `json:"total_question"`
	CorrectQuestion *int     `json:"correct_question"`
	WrongQuestion   *int     `json:"wrong_question"`
	Score           *float64 `json:"score"`

	JobID     string    `json:"-"`
	Version   int       `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a *Attempt) Deadline() time.Time { return exam.Deadline(a.StartedAt, a.Duration) }

func (a *Attempt) IsFinished() bool { return a.FinishedAt != nil }

// AcceptsAnswers reports whether the attempt is open at now.
func (a *Attempt) AcceptsAnswers(now time.Time) bool {
	return a.FinishedAt == nil && a.DeletedAt == nil && now.Before(a.Deadline())
}

// QuestionIDs returns the snapshot's question ids in slot order.
func (a *Attempt) QuestionIDs() []int64 {
	ids := make([]int64, len(a.Slots))
	for i, s := range a.Slots {
		ids[i] = s.QuestionID
	}
	return ids
}

// AnswerInput is one entry of a client answer payload. ChoiceID is the
// single-select shorthand; both forms may be combined.
type AnswerInput struct {
	QuestionID int64   `json:"question_id" validate:"required,gt=0"`
	ChoiceID   *int64  `json:"choice_id,omitempty"`
	ChoiceIDs  []int64 `json:"choice_ids,omitempty" validate:"omitempty,dive,gt=0"`
}

func (in AnswerInput) selected() []int64 {
	out := make([]int64, 0, len(in.ChoiceIDs)+1)
	seen := map[int64]bool{}
	add := func(id int64) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	if in.ChoiceID != nil {
		add(*in.ChoiceID)
	}
	for _, id := range in.ChoiceIDs {
		add(id)
	}
	return out
}

// mergeAnswers applies answers onto a copy of slots. Entries for questions outside
// the snapshot are ignored; an entry with no choices clears that slot. When a
// question appears more than once, the last entry wins.
func mergeAnswers(slots []AnswerSlot, answers []AnswerInput) []AnswerSlot {
	byQ := make(map[int64][]int64, len(answers))
	for _, in := range answers {
		byQ[in.QuestionID] = in.selected()
	}
	out := make([]AnswerSlot, len(slots))
	for i, s := range slots {
		if sel, ok := byQ[s.QuestionID]; ok {
			s.ChoiceIDs = sel
		} else {
			s.ChoiceIDs = append([]int64(nil), s.ChoiceIDs...)
		}
		out[i] = s
	}
	return out
}

// Summary is a history row.
type Summary struct {
	ID              int64      `json:"id"`
	ExamID          int64      `json:"exam_id"`
	ExamTitle       string     `json:"exam_title"`
	UserID          int64      `json:"user_id"`
	StartedAt       time.Time  `json:"started_at"`
	Duration        int        `json:"duration"`
	FinishedAt      *time.Time `json:"finished_at"`
	TotalQuestion   *int       `json:"total_question"`
	CorrectQuestion *int       `json:"correct_question"`
	WrongQuestion   *int       `json:"wrong_question"`
	Score           *float64   `json:"score"`
	IsFinished      bool       `json:"is_finished"`
}

type Page struct {
	Items  []Summary `json:"items"`
	Total  int       `json:"total"`
	Limit  int       `json:"limit"`
	Offset int       `json:"offset"`
}
