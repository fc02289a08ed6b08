package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const DefaultMaxAttempts = 3

type EnqueueOptions struct {
	Delay       time.Duration
	MaxAttempts int // <= 0 means DefaultMaxAttempts
}

// Scheduler runs named jobs after a delay with at-least-once delivery.
type Scheduler interface {
	Enqueue(ctx context.Context, name string, payload []byte, opts EnqueueOptions) (string, error)
	// Cancel removes a pending job. Unknown or already consumed ids are not an error.
	Cancel(ctx context.Context, jobID string) error
}

// Runner is a Scheduler that also owns its worker loop.
type Runner interface {
	Scheduler
	Run(ctx context.Context) error
}

// Job is one delivery of an enqueued job.
type Job struct {
	ID          string
	Name        string
	Payload     []byte
	Attempt     int // 1-based
	MaxAttempts int
}

// Handler processes a job. A non-nil error triggers a retry while attempts remain.
type Handler func(ctx context.Context, job Job) error

// Registry dispatches jobs to handlers by name.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	log      zerolog.Logger
}

func NewRegistry(l zerolog.Logger) *Registry {
	return &Registry{handlers: map[string]Handler{}, log: l}
}

func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Dispatch runs the handler for job.Name. Jobs with no handler are dropped.
func (r *Registry) Dispatch(ctx context.Context, job Job) (err error) {
	r.mu.RLock()
	h, ok := r.handlers[job.Name]
	r.mu.RUnlock()
	if !ok {
		r.log.Warn().Str("job_id", job.ID).Str("job", job.Name).Msg("no handler registered, dropping job")
		return nil
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name, p)
		}
	}()
	return h(ctx, job)
}

func normalize(opts EnqueueOptions) EnqueueOptions {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Delay < 0 {
		opts.Delay = 0
	}
	return opts
}

// backoffFor grows linearly with the number of failed attempts.
func backoffFor(base time.Duration, attempt int) time.Duration {
	return base * time.Duration(attempt)
}
