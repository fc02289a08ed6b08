package attempt

import (
	"context"
	"errors"
	"time"

	"github.com/mind-engage/mindengage-exams/internal/apperrors"
	"github.com/mind-engage/mindengage-exams/internal/exam"
)

type ExamInfo struct {
	ID            int64  `json:"id"`
	Title         string `json:"title"`
	Note          string `json:"note,omitempty"`
	Duration      int    `json:"duration"`
	TotalQuestion int    `json:"total_question"`
}

type ChoiceView struct {
	ID          int64  `json:"id"`
	Content     string `json:"content"`
	IsSelected  bool   `json:"is_selected"`
	IsCorrect   *bool  `json:"is_correct,omitempty"`
	Explanation string `json:"explanation,omitempty"`
}

type QuestionView struct {
	ID          int64        `json:"id"`
	Order       int          `json:"order"`
	Content     string       `json:"content"`
	Description string       `json:"description,omitempty"`
	Type        string       `json:"type"`
	Score       float64      `json:"score"`
	Missing     bool         `json:"missing,omitempty"` // removed from the catalog after the snapshot
	Choices     []ChoiceView `json:"choices"`
}

// View is the user-facing projection of an attempt. Answer keys appear only
// once the attempt is finished.
type View struct {
	Attempt    *Attempt       `json:"attempt"`
	Exam       ExamInfo       `json:"exam"`
	Questions  []QuestionView `json:"list_question"`
	TotalScore float64        `json:"total_score"`
	Deadline   time.Time      `json:"deadline"`
	IsFinished bool           `json:"is_finished"`
}

// Detail returns the owner's view of an attempt in any state.
func (s *Service) Detail(ctx context.Context, attemptID, userID int64) (*View, error) {
	a, err := s.loadOwned(ctx, attemptID, userID)
	if err != nil {
		return nil, err
	}
	return s.buildView(ctx, a)
}

// DetailAfterSubmit returns the graded view; the attempt must be finished.
func (s *Service) DetailAfterSubmit(ctx context.Context, attemptID, userID int64) (*View, error) {
	a, err := s.loadOwned(ctx, attemptID, userID)
	if err != nil {
		return nil, err
	}
	if !a.IsFinished() {
		return nil, apperrors.New(apperrors.ErrAttemptNotFinished)
	}
	return s.buildView(ctx, a)
}

func (s *Service) loadOwned(ctx context.Context, attemptID, userID int64) (*Attempt, error) {
	a, err := s.store.Get(ctx, attemptID, 0)
	if err != nil {
		return nil, err
	}
	if a.UserID != userID {
		return nil, apperrors.New(apperrors.ErrAttemptUnauthorized)
	}
	return a, nil
}

func (s *Service) buildView(ctx context.Context, a *Attempt) (*View, error) {
	ex, err := s.catalog.GetExam(ctx, a.ExamID)
	switch {
	case errors.Is(err, apperrors.ErrExamNotFound):
		ex = exam.Exam{ID: a.ExamID, Duration: a.Duration}
	case err != nil:
		return nil, err
	}
	questions, err := s.catalog.ListQuestions(ctx, a.QuestionIDs())
	if err != nil {
		return nil, err
	}
	return s.project(a, ex, questions), nil
}

// project joins the slots with catalog content in slot order.
func (s *Service) project(a *Attempt, ex exam.Exam, questions []exam.Question) *View {
	byID := make(map[int64]exam.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}
	finished := a.IsFinished()

	v := &View{
		Attempt: a,
		Exam: ExamInfo{
			ID:            ex.ID,
			Title:         ex.Title,
			Note:          ex.Note,
			Duration:      a.Duration,
			TotalQuestion: len(a.Slots),
		},
		Questions:  make([]QuestionView, 0, len(a.Slots)),
		Deadline:   a.Deadline(),
		IsFinished: finished,
	}
	for _, slot := range a.Slots {
		v.TotalScore += slot.Score
		q, ok := byID[slot.QuestionID]
		if !ok {
			s.log.Warn().Int64("attempt_id", a.ID).Int64("question_id", slot.QuestionID).Msg("question missing from catalog")
			v.Questions = append(v.Questions, QuestionView{
				ID: slot.QuestionID, Order: slot.Order, Score: slot.Score, Missing: true, Choices: []ChoiceView{},
			})
			continue
		}
		picked := make(map[int64]bool, len(slot.ChoiceIDs))
		for _, id := range slot.ChoiceIDs {
			picked[id] = true
		}
		qv := QuestionView{
			ID:          q.ID,
			Order:       slot.Order,
			Content:     q.Content,
			Description: q.Description,
			Type:        q.Type,
			Score:       slot.Score,
			Choices:     make([]ChoiceView, 0, len(q.Choices)),
		}
		for _, c := range q.Choices {
			cv := ChoiceView{ID: c.ID, Content: c.Content, IsSelected: picked[c.ID]}
			if finished {
				correct := c.IsCorrect
				cv.IsCorrect = &correct
				cv.Explanation = c.Explanation
			}
			qv.Choices = append(qv.Choices, cv)
		}
		v.Questions = append(v.Questions, qv)
	}
	return v
}
