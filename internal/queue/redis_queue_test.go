package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
)

var base = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestQueue(t *testing.T) *RedisQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q := NewRedisQueue(client, Options{Lease: time.Minute})
	q.now = func() time.Time { return base }
	return q
}

func job(ticketID string, runAt time.Time) domain.SlaJob {
	return domain.SlaJob{
		JobID:          domain.SlaJobID(ticketID, domain.SlaJobResolve, runAt),
		JobType:        domain.SlaJobResolve,
		TicketID:       ticketID,
		OrganizationID: "org-1",
		DueAt:          runAt,
		Priority:       domain.TicketPriorityHigh,
		RunAt:          runAt,
	}
}

func TestEnqueueIsIdempotentPerJobID(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	j := job("t-1", base)

	require.NoError(t, q.Enqueue(ctx, j))
	require.NoError(t, q.Enqueue(ctx, j))
	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
}

func TestClaimDueOnlyReturnsDueJobsOnce(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, job("t-1", base.Add(-time.Minute))))
	require.NoError(t, q.Enqueue(ctx, job("t-2", base.Add(time.Hour))))

	claimed, err := q.ClaimDue(ctx, base, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "t-1", claimed[0].TicketID)
	assert.True(t, claimed[0].DueAt.Equal(base.Add(-time.Minute)))

	// Leased: invisible until the lease runs out.
	again, err := q.ClaimDue(ctx, base.Add(30*time.Second), 10)
	require.NoError(t, err)
	assert.Empty(t, again)

	redelivered, err := q.ClaimDue(ctx, base.Add(2*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, redelivered, 1)
	assert.Equal(t, claimed[0].JobID, redelivered[0].JobID)
}

func TestClaimRescoresInPlaceAndLosesToEarlierClaimer(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q := NewRedisQueue(client, Options{Lease: time.Minute})
	ctx := context.Background()
	j := job("t-1", base.Add(-time.Minute))
	require.NoError(t, q.Enqueue(ctx, j))

	claimed, err := q.ClaimDue(ctx, base, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	leaseScore, err := mr.ZScore("sla:jobs:due", j.JobID)
	require.NoError(t, err)
	assert.Equal(t, float64(base.Add(time.Minute).UnixMilli()), leaseScore)

	// A second worker that listed the job before the lease was written does not win it.
	won, err := q.claim(ctx, j.JobID, base)
	require.NoError(t, err)
	assert.False(t, won)
	unchanged, err := mr.ZScore("sla:jobs:due", j.JobID)
	require.NoError(t, err)
	assert.Equal(t, leaseScore, unchanged)

	won, err = q.claim(ctx, "missing", base)
	require.NoError(t, err)
	assert.False(t, won)
	assert.False(t, contains(t, mr, "missing"))
}

func contains(t *testing.T, mr *miniredis.Miniredis, member string) bool {
	t.Helper()
	members, err := mr.ZMembers("sla:jobs:due")
	require.NoError(t, err)
	for _, m := range members {
		if m == member {
			return true
		}
	}
	return false
}

func TestAckForgetsJobAndIgnoresReRegistration(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	j := job("t-1", base)
	require.NoError(t, q.Enqueue(ctx, j))

	claimed, err := q.ClaimDue(ctx, base, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, q.Ack(ctx, claimed[0]))

	require.NoError(t, q.Enqueue(ctx, j))
	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestRetryDelaysRedelivery(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, job("t-1", base)))

	claimed, err := q.ClaimDue(ctx, base, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, q.Retry(ctx, claimed[0], 10*time.Minute))

	early, err := q.ClaimDue(ctx, base.Add(5*time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, early)

	later, err := q.ClaimDue(ctx, base.Add(11*time.Minute), 10)
	require.NoError(t, err)
	assert.Len(t, later, 1)
}

func TestDiscardAllowsReRegistration(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	j := job("t-1", base)
	require.NoError(t, q.Enqueue(ctx, j))

	claimed, err := q.ClaimDue(ctx, base, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, q.Discard(ctx, claimed[0]))

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)

	require.NoError(t, q.Enqueue(ctx, j))
	pending, err = q.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
}
