package schedule

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type RedisOptions struct {
	Prefix       string        // key namespace, e.g. "exams:jobs"
	PollInterval time.Duration // how often due jobs are claimed
	Backoff      time.Duration // base retry delay
	Batch        int64         // max jobs claimed per poll
}

// RedisQueue is a delayed job queue on a sorted set keyed by run time.
// Job bodies live in one hash per job. A worker claims a due job by removing
// it from the sorted set, so concurrent workers never run the same delivery.
type RedisQueue struct {
	rdb  redis.UniversalClient
	reg  *Registry
	opts RedisOptions
	log  zerolog.Logger
	now  func() time.Time
}

func NewRedisQueue(rdb redis.UniversalClient, reg *Registry, opts RedisOptions, l zerolog.Logger) *RedisQueue {
	if opts.Prefix == "" {
		opts.Prefix = "exams:jobs"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 5 * time.Second
	}
	if opts.Batch <= 0 {
		opts.Batch = 50
	}
	return &RedisQueue{
		rdb:  rdb,
		reg:  reg,
		opts: opts,
		log:  l.With().Str("component", "redis-queue").Logger(),
		now:  time.Now,
	}
}

func (q *RedisQueue) delayedKey() string { return q.opts.Prefix + ":delayed" }
func (q *RedisQueue) jobKey(id string) string { return q.opts.Prefix + ":job:" + id }

func (q *RedisQueue) Enqueue(ctx context.Context, name string, payload []byte, opts EnqueueOptions) (string, error) {
	opts = normalize(opts)
	id := uuid.NewString()
	runAt := q.now().Add(opts.Delay).UnixMilli()
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, q.jobKey(id),
			"name", name,
			"payload", string(payload),
			"attempts", 0,
			"max_attempts", opts.MaxAttempts)
		p.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(runAt), Member: id})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", name, err)
	}
	return id, nil
}

func (q *RedisQueue) Cancel(ctx context.Context, jobID string) error {
	if jobID == "" {
		return nil
	}
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, q.delayedKey(), jobID)
		p.Del(ctx, q.jobKey(jobID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("cancel %s: %w", jobID, err)
	}
	return nil
}

// Run polls for due jobs until ctx is cancelled.
func (q *RedisQueue) Run(ctx context.Context) error {
	t := time.NewTicker(q.opts.PollInterval)
	defer t.Stop()
	for {
		if _, err := q.poll(ctx); err != nil && !errors.Is(err, context.Canceled) {
			q.log.Error().Err(err).Msg("poll failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// poll claims and runs the jobs due now. It returns the number dispatched.
func (q *RedisQueue) poll(ctx context.Context) (int, error) {
	now := q.now()
	ids, err := q.rdb.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: q.opts.Batch,
	}).Result()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		claimed, err := q.rdb.ZRem(ctx, q.delayedKey(), id).Result()
		if err != nil {
			return n, err
		}
		if claimed == 0 {
			continue // another worker or a cancel got there first
		}
		job, ok, err := q.load(ctx, id)
		if err != nil {
			return n, err
		}
		if !ok {
			continue
		}
		n++
		q.run(ctx, job)
	}
	return n, nil
}

func (q *RedisQueue) load(ctx context.Context, id string) (Job, bool, error) {
	fields, err := q.rdb.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return Job{}, false, err
	}
	if fields["name"] == "" {
		// cancelled while claimed; drop leftovers
		q.rdb.Del(ctx, q.jobKey(id))
		return Job{}, false, nil
	}
	attempts, _ := strconv.Atoi(fields["attempts"])
	maxAttempts, _ := strconv.Atoi(fields["max_attempts"])
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return Job{
		ID:          id,
		Name:        fields["name"],
		Payload:     []byte(fields["payload"]),
		Attempt:     attempts + 1,
		MaxAttempts: maxAttempts,
	}, true, nil
}

func (q *RedisQueue) run(ctx context.Context, job Job) {
	l := q.log.With().Str("job_id", job.ID).Str("job", job.Name).Int("attempt", job.Attempt).Logger()
	err := q.reg.Dispatch(ctx, job)
	if err == nil {
		if err := q.rdb.Del(ctx, q.jobKey(job.ID)).Err(); err != nil {
			l.Warn().Err(err).Msg("cleanup failed")
		}
		return
	}
	if job.Attempt >= job.MaxAttempts {
		l.Error().Err(err).Msg("job failed, no attempts left")
		q.rdb.Del(ctx, q.jobKey(job.ID))
		return
	}
	l.Warn().Err(err).Msg("job failed, retrying")

	// a cancel during the run deletes the hash; do not resurrect it
	exists, xerr := q.rdb.Exists(ctx, q.jobKey(job.ID)).Result()
	if xerr != nil || exists == 0 {
		return
	}
	runAt := q.now().Add(backoffFor(q.opts.Backoff, job.Attempt)).UnixMilli()
	_, xerr = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, q.jobKey(job.ID), "attempts", job.Attempt)
		p.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(runAt), Member: job.ID})
		return nil
	})
	if xerr != nil {
		l.Error().Err(xerr).Msg("reschedule failed, job lost")
	}
}

// Pending reports how many jobs are waiting, due or not.
func (q *RedisQueue) Pending(ctx context.Context) (int64, error) {
	return q.rdb.ZCard(ctx, q.delayedKey()).Result()
}
