package attempt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jinzhu/copier"
	"github.com/rs/zerolog"

	"github.com/mind-engage/mindengage-exams/internal/apperrors"
	"github.com/mind-engage/mindengage-exams/internal/exam"
	"github.com/mind-engage/mindengage-exams/internal/grading"
	"github.com/mind-engage/mindengage-exams/internal/schedule"
)

// JobSubmitExam is the deadline job that system-submits an attempt.
const JobSubmitExam = "submit_exam"

// optimistic retries for concurrent writers on the same attempt
const maxWriteRetries = 3

var errContention = errors.New("attempt: too many concurrent updates, retry")

// Service owns the attempt lifecycle.
type Service struct {
	store    Store
	catalog  exam.Catalog
	sched    schedule.Scheduler
	grader   *grading.Grader
	log      zerolog.Logger
	now      func() time.Time
	shuffle  func(n int, swap func(i, j int))
	jobTries int
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithShuffle replaces the question shuffle, e.g. with an identity for tests.
func WithShuffle(f func(n int, swap func(i, j int))) Option {
	return func(s *Service) { s.shuffle = f }
}

func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.log = l } }

func WithGrader(g *grading.Grader) Option { return func(s *Service) { s.grader = g } }

// WithJobMaxAttempts sets how many times the deadline job is delivered on failure.
func WithJobMaxAttempts(n int) Option { return func(s *Service) { s.jobTries = n } }

func NewService(store Store, catalog exam.Catalog, sched schedule.Scheduler, opts ...Option) *Service {
	s := &Service{
		store:    store,
		catalog:  catalog,
		sched:    sched,
		grader:   grading.NewDefaultGrader(),
		log:      zerolog.Nop(),
		now:      time.Now,
		shuffle:  rand.Shuffle,
		jobTries: schedule.DefaultMaxAttempts,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type submitPayload struct {
	ID int64 `json:"id"`
}

// CreateAttempt checks eligibility, freezes a shuffled snapshot of the exam and
// schedules the deadline job in the same transaction as the insert.
func (s *Service) CreateAttempt(ctx context.Context, examID, userID int64) (*View, error) {
	ex, err := s.catalog.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	if err := s.checkEligibility(ctx, ex, userID); err != nil {
		return nil, err
	}
	slots, questions, err := s.buildSnapshot(ctx, ex)
	if err != nil {
		return nil, err
	}

	now := s.now()
	a := &Attempt{
		ExamID:    ex.ID,
		UserID:    userID,
		StartedAt: now,
		Duration:  ex.Duration,
		Slots:     slots,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	var jobID string
	err = s.store.Create(ctx, a, func(ctx context.Context, a *Attempt) (string, error) {
		payload, err := json.Marshal(submitPayload{ID: a.ID})
		if err != nil {
			return "", err
		}
		id, err := s.sched.Enqueue(ctx, JobSubmitExam, payload, schedule.EnqueueOptions{
			Delay:       a.Deadline().Sub(now),
			MaxAttempts: s.jobTries,
		})
		if err != nil {
			return "", fmt.Errorf("schedule submit: %w", apperrors.NewCustomError(apperrors.ErrSchedulerUnavailable, err.Error()))
		}
		jobID = id
		return id, nil
	})
	if err != nil {
		if jobID != "" {
			// enqueued but the row never committed
			s.cancelJob(ctx, jobID, a.ID)
		}
		return nil, err
	}
	s.log.Info().Int64("attempt_id", a.ID).Int64("exam_id", a.ExamID).Int64("user_id", userID).
		Str("job_id", a.JobID).Time("deadline", a.Deadline()).Msg("attempt created")
	return s.project(a, ex, questions), nil
}

// GetOngoingAttempt returns the user's open attempt for the exam, or nil.
func (s *Service) GetOngoingAttempt(ctx context.Context, examID, userID int64) (*Attempt, error) {
	return s.store.FindOngoing(ctx, examID, userID)
}

// SaveAnswers merges answers into the snapshot while the attempt is open.
func (s *Service) SaveAnswers(ctx context.Context, attemptID, userID int64, answers []AnswerInput) (*Attempt, error) {
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
		ok, err := s.store.SaveAnswers(ctx, a, now)
		if err != nil {
			return nil, err
		}
		if ok {
			return a, nil
		}
	}
	return nil, errContention
}

// Destroy soft-deletes the user's attempt and cancels its pending deadline job.
// The attempt keeps counting toward the exam quota once finished.
func (s *Service) Destroy(ctx context.Context, attemptID, userID int64) error {
	a, err := s.store.SoftDelete(ctx, attemptID, userID, s.now())
	if err != nil {
		return err
	}
	if !a.IsFinished() && a.JobID != "" {
		s.cancelJob(ctx, a.JobID, a.ID)
	}
	s.log.Info().Int64("attempt_id", a.ID).Int64("user_id", userID).Msg("attempt deleted")
	return nil
}

// ListAttempts returns a page of attempt history.
func (s *Service) ListAttempts(ctx context.Context, opts ListOpts) (*Page, error) {
	rows, total, err := s.store.List(ctx, opts)
	if err != nil {
		return nil, err
	}
	items := make([]Summary, 0, len(rows))
	if err := copier.Copy(&items, &rows); err != nil {
		return nil, fmt.Errorf("map attempts: %w", err)
	}
	for i := range items {
		items[i].IsFinished = items[i].FinishedAt != nil
	}
	limit := opts.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return &Page{Items: items, Total: total, Limit: limit, Offset: opts.Offset}, nil
}

// SweepOverdue system-submits open attempts whose deadline passed more than grace ago.
// It covers deadline jobs lost by a restarted in-memory scheduler.
func (s *Service) SweepOverdue(ctx context.Context, grace time.Duration) (int, error) {
	ids, err := s.store.ListOverdue(ctx, s.now().Add(-grace), 100)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if err := s.SystemSubmit(ctx, id); err != nil {
			s.log.Error().Err(err).Int64("attempt_id", id).Msg("sweep submit failed")
			continue
		}
		n++
	}
	if n > 0 {
		s.log.Info().Int("count", n).Msg("swept overdue attempts")
	}
	return n, nil
}

func (s *Service) cancelJob(ctx context.Context, jobID string, attemptID int64) {
	if err := s.sched.Cancel(ctx, jobID); err != nil {
		s.log.Warn().Err(err).Str("job_id", jobID).Int64("attempt_id", attemptID).Msg("cancel deadline job failed")
	}
}
