package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/observability"
	"github.com/spec-kit/ticket-lifecycle/internal/sla"
)

var fixedNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type stubSource struct {
	jobs     []domain.SlaJob
	claimErr error
	acked    []string
	dropped  []string
	retried  map[string]time.Duration
	limit    int
}

func (s *stubSource) ClaimDue(_ context.Context, _ time.Time, limit int) ([]domain.SlaJob, error) {
	s.limit = limit
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	jobs := s.jobs
	s.jobs = nil
	return jobs, nil
}

func (s *stubSource) Ack(_ context.Context, job domain.SlaJob) error {
	s.acked = append(s.acked, job.JobID)
	return nil
}

func (s *stubSource) Discard(_ context.Context, job domain.SlaJob) error {
	s.dropped = append(s.dropped, job.JobID)
	return nil
}

func (s *stubSource) Retry(_ context.Context, job domain.SlaJob, delay time.Duration) error {
	if s.retried == nil {
		s.retried = map[string]time.Duration{}
	}
	s.retried[job.JobID] = delay
	return nil
}

type stubHandler struct {
	calls  []string
	result domain.SlaJobResult
	err    error
}

func (h *stubHandler) Handle(_ context.Context, job domain.SlaJob, _ time.Time) (domain.SlaJobResult, error) {
	h.calls = append(h.calls, job.JobID)
	return h.result, h.err
}

func slaJob(id string, jobType domain.SlaJobType) domain.SlaJob {
	return domain.SlaJob{JobID: id, JobType: jobType, TicketID: "t-1", OrganizationID: "org-1", DueAt: fixedNow}
}

func TestRunOnceRoutesByJobType(t *testing.T) {
	source := &stubSource{jobs: []domain.SlaJob{
		slaJob("a", domain.SlaJobFirstResponse),
		slaJob("b", domain.SlaJobReminder),
		slaJob("c", domain.SlaJobResolve),
	}}
	deadline := &stubHandler{}
	reminder := &stubHandler{}
	metrics := observability.NewMetrics()
	runner := NewSlaRunner(source, deadline, reminder,
		WithClock(func() time.Time { return fixedNow }),
		WithBatchSize(10),
		WithMetrics(metrics))

	n, err := runner.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 10, source.limit)
	assert.Equal(t, []string{"a", "c"}, deadline.calls)
	assert.Equal(t, []string{"b"}, reminder.calls)
	assert.Equal(t, []string{"a", "b", "c"}, source.acked)
	count, err := testutil.GatherAndCount(metrics.Registry(), "ticket_lifecycle_sla_jobs_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestRunOnceRetriesFailedJobs(t *testing.T) {
	source := &stubSource{jobs: []domain.SlaJob{slaJob("a", domain.SlaJobResolve)}}
	deadline := &stubHandler{err: errors.New("db down")}
	runner := NewSlaRunner(source, deadline, &stubHandler{},
		WithClock(func() time.Time { return fixedNow }),
		WithRetryDelay(2*time.Minute))

	_, err := runner.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, source.acked)
	assert.Equal(t, 2*time.Minute, source.retried["a"])
}

func TestRunOnceDiscardsSkippedJobs(t *testing.T) {
	source := &stubSource{jobs: []domain.SlaJob{slaJob("a", domain.SlaJobResolve)}}
	deadline := &stubHandler{result: domain.SlaJobResult{Skipped: true, Reason: sla.ReasonAlreadyResolved}}
	runner := NewSlaRunner(source, deadline, &stubHandler{}, WithClock(func() time.Time { return fixedNow }))

	_, err := runner.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, source.acked)
	assert.Equal(t, []string{"a"}, source.dropped)
}

func TestRunOnceRequeuesEarlyDeliveryAtDueTime(t *testing.T) {
	job := slaJob("a", domain.SlaJobResolve)
	job.DueAt = fixedNow.Add(90 * time.Second)
	source := &stubSource{jobs: []domain.SlaJob{job}}
	deadline := &stubHandler{result: domain.SlaJobResult{Skipped: true, Reason: sla.ReasonDueNotReached}}
	runner := NewSlaRunner(source, deadline, &stubHandler{}, WithClock(func() time.Time { return fixedNow }))

	_, err := runner.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, source.dropped)
	assert.Equal(t, 90*time.Second, source.retried["a"])
}

func TestRunOnceSurfacesClaimErrors(t *testing.T) {
	source := &stubSource{claimErr: errors.New("redis down")}
	runner := NewSlaRunner(source, &stubHandler{}, &stubHandler{})

	_, err := runner.RunOnce(context.Background())
	assert.ErrorContains(t, err, "redis down")
}

func TestOutcomeClassification(t *testing.T) {
	assert.Equal(t, OutcomeSkipped, outcome(slaJob("a", domain.SlaJobResolve), domain.SlaJobResult{Skipped: true}))
	assert.Equal(t, OutcomeBreached, outcome(slaJob("a", domain.SlaJobResolve), domain.SlaJobResult{AuditID: "x"}))
	assert.Equal(t, OutcomeSent, outcome(slaJob("a", domain.SlaJobReminder), domain.SlaJobResult{NotificationID: "n"}))
}

func TestStartRegistersPollOnCron(t *testing.T) {
	cronEngine := cron.New(cron.WithLocation(time.UTC))
	runner := NewSlaRunner(&stubSource{}, &stubHandler{}, &stubHandler{},
		WithCron(cronEngine),
		WithSchedule("@every 1h"))

	require.NoError(t, runner.Start(context.Background()))
	t.Cleanup(runner.Stop)
	assert.Len(t, cronEngine.Entries(), 1)
	assert.Error(t, runner.Start(context.Background()))
}

func TestStartRejectsBadSchedule(t *testing.T) {
	runner := NewSlaRunner(&stubSource{}, &stubHandler{}, &stubHandler{},
		WithCron(cron.New()),
		WithSchedule("not a schedule"))

	assert.Error(t, runner.Start(context.Background()))
}
