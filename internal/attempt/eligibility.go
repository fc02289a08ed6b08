package attempt

import (
	"context"

	"github.com/mind-engage/mindengage-exams/internal/apperrors"
	"github.com/mind-engage/mindengage-exams/internal/exam"
)

// checkEligibility decides whether userID may start a new attempt on ex.
// The exam creator skips the start-window and quota checks.
func (s *Service) checkEligibility(ctx context.Context, ex exam.Exam, userID int64) error {
	now := s.now()

	ongoing, err := s.store.FindOngoing(ctx, ex.ID, userID)
	if err != nil {
		return err
	}
	if ongoing != nil && !now.Before(ongoing.Deadline()) {
		// deadline job never ran; close it the way the job would have
		s.log.Warn().Int64("attempt_id", ongoing.ID).Msg("finalizing expired attempt before create")
		if err := s.SystemSubmit(ctx, ongoing.ID); err != nil {
			return err
		}
		ongoing = nil
	}

	if ex.CreatorID != userID {
		if ex.LatestStartTime != nil && !now.Before(*ex.LatestStartTime) {
			return apperrors.New(apperrors.ErrOverdueDoingExam)
		}
		if ex.MaxAttempt > 0 {
			n, err := s.store.CountFinished(ctx, ex.ID, userID)
			if err != nil {
				return err
			}
			if n >= ex.MaxAttempt {
				return apperrors.New(apperrors.ErrNoMoreTurns).WithDetails(map[string]interface{}{
					"current_attempts": n,
					"max_attempts":     ex.MaxAttempt,
				})
			}
		}
	}

	if ongoing != nil {
		return apperrors.New(apperrors.ErrAttemptInProgress).WithDetails(map[string]interface{}{
			"attempt_id": ongoing.ID,
		})
	}
	return nil
}
