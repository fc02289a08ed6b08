package attempt

import (
	"context"
	"errors"
	"time"

	"github.com/mind-engage/mindengage-exams/internal/apperrors"
	"github.com/mind-engage/mindengage-exams/internal/grading"
)

// Submit merges the final answers, grades and closes the attempt before its deadline.
func (s *Service) Submit(ctx context.Context, attemptID, userID int64, answers []AnswerInput) (*Attempt, error) {
	for try := 0; try < maxWriteRetries; try++ {
		a, err := s.store.Get(ctx, attemptID, userID)
		if err != nil {
			return nil, err
		}
		now := s.now()
		if !a.AcceptsAnswers(now) {
			return nil, apperrors.New(apperrors.ErrSubmissionClosed)
		}
		a.Slots = mergeAnswers(a.Slots, answers)
		won, err := s.finalize(ctx, a, FinalizeOpts{Now: now, EnforceDeadline: true, By: "user"}, now)
		if err != nil {
			return nil, err
		}
		if won {
			return a, nil
		}
		// lost to a concurrent save or closer; the next read decides
	}
	return nil, errContention
}

// SystemSubmit closes the attempt when its deadline job fires. Finished, deleted
// and unknown attempts are a no-op. Only infrastructure errors are returned so the
// queue can redeliver.
func (s *Service) SystemSubmit(ctx context.Context, attemptID int64) error {
	for try := 0; try < maxWriteRetries; try++ {
		a, err := s.store.Get(ctx, attemptID, 0)
		if errors.Is(err, apperrors.ErrAttemptNotFound) {
			s.log.Debug().Int64("attempt_id", attemptID).Msg("system submit: attempt gone")
			return nil
		}
		if err != nil {
			return err
		}
		if a.IsFinished() {
			return nil
		}
		now := s.now()
		finishedAt := now
		if d := a.Deadline(); d.Before(now) {
			finishedAt = d
		}
		won, err := s.finalize(ctx, a, FinalizeOpts{Now: now, By: "system"}, finishedAt)
		if err != nil {
			return err
		}
		if won {
			return nil
		}
	}
	return errContention
}

// finalize grades a against the live catalog and attempts the one-time write.
// On success a carries the result and the deadline job is cancelled.
func (s *Service) finalize(ctx context.Context, a *Attempt, opts FinalizeOpts, finishedAt time.Time) (bool, error) {
	res, err := s.grade(ctx, a)
	if err != nil {
		return false, err
	}
	total, correct, wrong, score := res.TotalQuestion, res.Correct, res.Wrong, res.Score
	a.FinishedAt = &finishedAt
	a.TotalQuestion, a.CorrectQuestion, a.WrongQuestion, a.Score = &total, &correct, &wrong, &score

	won, err := s.store.Finalize(ctx, a, opts)
	if err != nil || !won {
		a.FinishedAt = nil
		a.TotalQuestion, a.CorrectQuestion, a.WrongQuestion, a.Score = nil, nil, nil, nil
		return false, err
	}
	s.log.Info().Int64("attempt_id", a.ID).Str("by", opts.By).Int("correct", correct).Int("wrong", wrong).
		Int("total", total).Float64("score", score).Msg("attempt finished")
	if a.JobID != "" {
		s.cancelJob(ctx, a.JobID, a.ID)
	}
	return true, nil
}

// grade scores the slots against correct sets fetched fresh from the catalog.
// Questions missing from the catalog are left out of the result.
func (s *Service) grade(ctx context.Context, a *Attempt) (grading.Result, error) {
	found, err := s.catalog.ListQuestions(ctx, a.QuestionIDs())
	if err != nil {
		return grading.Result{}, err
	}
	byID := make(map[int64]grading.Q, len(found))
	for _, q := range found {
		byID[q.ID] = grading.Q{ID: q.ID, Type: q.Type, Score: q.Score, Correct: q.CorrectChoiceIDs()}
	}

	qs := make([]grading.Q, 0, len(found))
	selected := make(map[int64][]int64, len(a.Slots))
	for _, slot := range a.Slots {
		q, ok := byID[slot.QuestionID]
		if !ok {
			s.log.Warn().Int64("attempt_id", a.ID).Int64("question_id", slot.QuestionID).Msg("question missing at grading, skipped")
			continue
		}
		q.Score = slot.Score
		qs = append(qs, q)
		selected[q.ID] = slot.ChoiceIDs
	}
	return s.grader.Grade(qs, selected), nil
}
