package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
)

// claimScript moves a still-due member to its lease score in one step. It returns 0 when
// the member is gone or another claimer already leased it.
var claimScript = redis.NewScript(`
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if not score or tonumber(score) > tonumber(ARGV[2]) then
  return 0
end
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[1])
return 1
`)

// Options tune the Redis job queue.
type Options struct {
	Prefix string
	// Lease is how long a claimed job stays invisible before it is delivered again.
	Lease time.Duration
	// DoneTTL is how long acknowledged job ids are remembered to ignore re-registration.
	DoneTTL time.Duration
}

// RedisQueue stores SLA jobs in a sorted set scored by run time, with payloads in a hash.
// Delivery is at-least-once: a claimed job reappears after its lease unless acknowledged.
type RedisQueue struct {
	client  redis.Cmdable
	due     string
	payload string
	done    string
	lease   time.Duration
	doneTTL time.Duration
	now     func() time.Time
}

// NewRedisQueue builds the queue.
func NewRedisQueue(client redis.Cmdable, opts Options) *RedisQueue {
	if opts.Prefix == "" {
		opts.Prefix = "sla:jobs"
	}
	if opts.Lease <= 0 {
		opts.Lease = 5 * time.Minute
	}
	if opts.DoneTTL <= 0 {
		opts.DoneTTL = 30 * 24 * time.Hour
	}
	return &RedisQueue{
		client:  client,
		due:     opts.Prefix + ":due",
		payload: opts.Prefix + ":payload",
		done:    opts.Prefix + ":done:",
		lease:   opts.Lease,
		doneTTL: opts.DoneTTL,
		now:     time.Now,
	}
}

// Enqueue registers job once per job id; known or already completed ids are ignored.
func (q *RedisQueue) Enqueue(ctx context.Context, job domain.SlaJob) error {
	completed, err := q.client.Exists(ctx, q.done+job.JobID).Result()
	if err != nil {
		return err
	}
	if completed > 0 {
		return nil
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	added, err := q.client.HSetNX(ctx, q.payload, job.JobID, raw).Result()
	if err != nil {
		return err
	}
	if !added {
		return nil
	}
	return q.client.ZAddNX(ctx, q.due, redis.Z{Score: score(job.RunAt), Member: job.JobID}).Err()
}

// ClaimDue claims up to limit jobs whose run time is not after now. A job is claimed by
// atomically re-scoring it to now+lease, its redelivery point, so it never leaves the set
// and only one caller wins it.
func (q *RedisQueue) ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.SlaJob, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.due, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}

	jobs := make([]domain.SlaJob, 0, len(ids))
	for _, id := range ids {
		claimed, err := q.claim(ctx, id, now)
		if err != nil {
			return jobs, err
		}
		if !claimed {
			continue
		}
		raw, err := q.client.HGet(ctx, q.payload, id).Result()
		if errors.Is(err, redis.Nil) {
			_ = q.client.ZRem(ctx, q.due, id).Err()
			continue
		}
		if err != nil {
			return jobs, err
		}
		var job domain.SlaJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			_ = q.client.ZRem(ctx, q.due, id).Err()
			_ = q.client.HDel(ctx, q.payload, id).Err()
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (q *RedisQueue) claim(ctx context.Context, id string, now time.Time) (bool, error) {
	n, err := claimScript.Run(ctx, q.client, []string{q.due}, id, now.UnixMilli(), now.Add(q.lease).UnixMilli()).Int()
	if err != nil {
		return false, fmt.Errorf("claim job %s: %w", id, err)
	}
	return n == 1, nil
}

// Ack removes a handled job and remembers its id so it is not registered again.
func (q *RedisQueue) Ack(ctx context.Context, job domain.SlaJob) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.due, job.JobID)
		pipe.HDel(ctx, q.payload, job.JobID)
		pipe.Set(ctx, q.done+job.JobID, 1, q.doneTTL)
		return nil
	})
	return err
}

// Discard removes a job without remembering it; the scheduler may register it again.
func (q *RedisQueue) Discard(ctx context.Context, job domain.SlaJob) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.due, job.JobID)
		pipe.HDel(ctx, q.payload, job.JobID)
		return nil
	})
	return err
}

// Retry makes a claimed job visible again after delay.
func (q *RedisQueue) Retry(ctx context.Context, job domain.SlaJob, delay time.Duration) error {
	return q.client.ZAdd(ctx, q.due, redis.Z{Score: score(q.now().Add(delay)), Member: job.JobID}).Err()
}

// Pending returns how many jobs are registered.
func (q *RedisQueue) Pending(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.due).Result()
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}
