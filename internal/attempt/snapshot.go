package attempt

import (
	"context"

	"github.com/mind-engage/mindengage-exams/internal/apperrors"
	"github.com/mind-engage/mindengage-exams/internal/exam"
)

// buildSnapshot shuffles the exam's questions into answer slots and returns the
// catalog questions in slot order for the creation response.
func (s *Service) buildSnapshot(ctx context.Context, ex exam.Exam) ([]AnswerSlot, []exam.Question, error) {
	refs := append([]exam.QuestionRef(nil), ex.Questions...)
	s.shuffle(len(refs), func(i, j int) { refs[i], refs[j] = refs[j], refs[i] })

	found, err := s.catalog.ListQuestions(ctx, ex.QuestionIDs())
	if err != nil {
		return nil, nil, err
	}
	byID := make(map[int64]exam.Question, len(found))
	for _, q := range found {
		byID[q.ID] = q
	}

	slots := make([]AnswerSlot, 0, len(refs))
	ordered := make([]exam.Question, 0, len(refs))
	for i, ref := range refs {
		q, ok := byID[ref.QuestionID]
		if !ok {
			return nil, nil, apperrors.New(apperrors.ErrExistInvalidQuestion).WithDetails(map[string]interface{}{
				"question_id": ref.QuestionID,
			})
		}
		score := ref.Score
		if score == 0 {
			score = q.Score
		}
		slots = append(slots, AnswerSlot{QuestionID: q.ID, Order: i + 1, Score: score})
		ordered = append(ordered, q)
	}
	return slots, ordered, nil
}
