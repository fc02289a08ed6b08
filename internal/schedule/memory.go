package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MemoryQueue keeps jobs in process timers. Pending jobs are lost on restart.
type MemoryQueue struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
	reg     *Registry
	backoff time.Duration
	log     zerolog.Logger

	base   context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

func NewMemoryQueue(reg *Registry, backoff time.Duration, l zerolog.Logger) *MemoryQueue {
	base, stop := context.WithCancel(context.Background())
	return &MemoryQueue{
		timers:  map[string]*time.Timer{},
		reg:     reg,
		backoff: backoff,
		log:     l.With().Str("component", "memory-queue").Logger(),
		base:    base,
		stop:    stop,
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, name string, payload []byte, opts EnqueueOptions) (string, error) {
	opts = normalize(opts)
	job := Job{
		ID:          uuid.NewString(),
		Name:        name,
		Payload:     append([]byte(nil), payload...),
		MaxAttempts: opts.MaxAttempts,
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", context.Canceled
	}
	q.schedule(job, opts.Delay)
	return job.ID, nil
}

// schedule must be called with q.mu held.
func (q *MemoryQueue) schedule(job Job, delay time.Duration) {
	q.timers[job.ID] = time.AfterFunc(delay, func() { q.fire(job) })
}

func (q *MemoryQueue) fire(job Job) {
	q.mu.Lock()
	if _, ok := q.timers[job.ID]; !ok || q.closed {
		q.mu.Unlock()
		return
	}
	delete(q.timers, job.ID)
	q.wg.Add(1)
	q.mu.Unlock()
	defer q.wg.Done()

	job.Attempt++
	err := q.reg.Dispatch(q.base, job)
	if err == nil {
		return
	}
	l := q.log.With().Str("job_id", job.ID).Str("job", job.Name).Int("attempt", job.Attempt).Logger()
	if job.Attempt >= job.MaxAttempts {
		l.Error().Err(err).Msg("job failed, no attempts left")
		return
	}
	l.Warn().Err(err).Msg("job failed, retrying")
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.schedule(job, backoffFor(q.backoff, job.Attempt))
	}
}

func (q *MemoryQueue) Cancel(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t, ok := q.timers[jobID]; ok {
		t.Stop()
		delete(q.timers, jobID)
	}
	return nil
}

// Pending reports how many jobs are waiting to fire.
func (q *MemoryQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.timers)
}

// Run blocks until ctx is done, then stops timers and waits for running handlers.
func (q *MemoryQueue) Run(ctx context.Context) error {
	<-ctx.Done()
	q.mu.Lock()
	q.closed = true
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
	q.mu.Unlock()
	q.stop()
	q.wg.Wait()
	return nil
}
