package attempt

import (
	"context"
	"time"
)

// ListOpts filters the attempt history. Soft-deleted attempts are never listed.
type ListOpts struct {
	ExamID     int64 // 0 = any
	UserID     int64 // 0 = any
	IsFinished *bool
	Limit      int
	Offset     int
}

// Listed is a flat history row as read from storage.
type Listed struct {
	ID              int64
	ExamID          int64
	ExamTitle       string
	UserID          int64
	StartedAt       time.Time
	Duration        int
	FinishedAt      *time.Time
	TotalQuestion   *int
	CorrectQuestion *int
	WrongQuestion   *int
	Score           *float64
}

type FinalizeOpts struct {
	Now time.Time
	// EnforceDeadline makes the write fail once Now is past the attempt deadline.
	EnforceDeadline bool
	By              string // "user" or "system"
}

// BindFunc runs inside the creation transaction after the row has an id.
// Its returned job id is stored on the row; an error rolls the creation back.
type BindFunc func(ctx context.Context, a *Attempt) (jobID string, err error)

type Store interface {
	// Create inserts a, runs bind, stores the job id and commits, all or nothing.
	Create(ctx context.Context, a *Attempt, bind BindFunc) error
	// Get loads a non-deleted attempt. userID 0 skips the owner filter.
	Get(ctx context.Context, id, userID int64) (*Attempt, error)
	// FindOngoing returns the non-finished, non-deleted attempt, or nil.
	FindOngoing(ctx context.Context, examID, userID int64) (*Attempt, error)
	// SaveAnswers writes a.Slots if the row is still open at a.Version and now is
	// before the deadline. It reports whether the write happened.
	SaveAnswers(ctx context.Context, a *Attempt, now time.Time) (bool, error)
	// Finalize writes the graded result once. It reports whether this call won.
	Finalize(ctx context.Context, a *Attempt, opts FinalizeOpts) (bool, error)
	// CountFinished counts finished attempts, soft-deleted ones included.
	CountFinished(ctx context.Context, examID, userID int64) (int, error)
	// SoftDelete marks the user's attempt deleted and returns its last state.
	SoftDelete(ctx context.Context, id, userID int64, now time.Time) (*Attempt, error)
	List(ctx context.Context, opts ListOpts) ([]Listed, int, error)
	// ListOverdue returns open attempts whose deadline is at or before cutoff.
	ListOverdue(ctx context.Context, cutoff time.Time, limit int) ([]int64, error)
}
