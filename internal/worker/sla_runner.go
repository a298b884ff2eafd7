package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/observability"
	"github.com/spec-kit/ticket-lifecycle/internal/sla"
)

// JobSource is the queue the runner drains.
type JobSource interface {
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.SlaJob, error)
	Ack(ctx context.Context, job domain.SlaJob) error
	Discard(ctx context.Context, job domain.SlaJob) error
	Retry(ctx context.Context, job domain.SlaJob, delay time.Duration) error
}

// JobHandler processes one SLA job.
type JobHandler interface {
	Handle(ctx context.Context, job domain.SlaJob, now time.Time) (domain.SlaJobResult, error)
}

// Job outcomes recorded in metrics.
const (
	OutcomeBreached = "breached"
	OutcomeSent     = "sent"
	OutcomeSkipped  = "skipped"
	OutcomeRetried  = "retried"
	OutcomeFailed   = "failed"
)

type options struct {
	Logger     *zap.Logger
	Metrics    *observability.Metrics
	Cron       *cron.Cron
	Schedule   string
	BatchSize  int
	RetryDelay time.Duration
	Now        func() time.Time
}

// Option configures the runner.
type Option func(*options)

func defaultOptions() options {
	return options{
		Logger:     zap.NewNop(),
		Schedule:   "@every 15s",
		BatchSize:  50,
		RetryDelay: time.Minute,
		Now:        time.Now,
	}
}

// WithLogger injects the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.Logger = l
		}
	}
}

// WithMetrics injects the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) {
		o.Metrics = m
	}
}

// WithCron supplies a preconfigured cron scheduler instance.
func WithCron(c *cron.Cron) Option {
	return func(o *options) {
		o.Cron = c
	}
}

// WithSchedule sets the poll spec, e.g. "@every 15s".
func WithSchedule(spec string) Option {
	return func(o *options) {
		if spec != "" {
			o.Schedule = spec
		}
	}
}

// WithBatchSize caps how many jobs one poll claims.
func WithBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.BatchSize = n
		}
	}
}

// WithRetryDelay sets how long a failed job waits before redelivery.
func WithRetryDelay(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.RetryDelay = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.Now = now
		}
	}
}

// SlaRunner polls the job queue and routes jobs to the deadline or reminder handler.
type SlaRunner struct {
	source   JobSource
	deadline JobHandler
	reminder JobHandler
	opts     options

	mu      sync.Mutex
	running bool
	entry   cron.EntryID
}

// NewSlaRunner builds a runner.
func NewSlaRunner(source JobSource, deadline, reminder JobHandler, opts ...Option) *SlaRunner {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.Cron == nil {
		o.Cron = cron.New(cron.WithLocation(time.UTC))
	}
	return &SlaRunner{source: source, deadline: deadline, reminder: reminder, opts: o}
}

// Start registers the poll on the cron scheduler and starts it.
func (r *SlaRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("sla runner already started")
	}
	id, err := r.opts.Cron.AddFunc(r.opts.Schedule, func() {
		if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.opts.Logger.Error("sla poll failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("register sla poll %q: %w", r.opts.Schedule, err)
	}
	r.entry = id
	r.running = true
	r.opts.Cron.Start()
	r.opts.Logger.Info("sla runner started", zap.String("schedule", r.opts.Schedule))
	return nil
}

// Stop halts polling and waits for a running poll to finish.
func (r *SlaRunner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.opts.Cron.Remove(r.entry)
	r.mu.Unlock()

	<-r.opts.Cron.Stop().Done()
	r.opts.Logger.Info("sla runner stopped")
}

// RunOnce claims one batch of due jobs and handles them in order. It returns how many
// jobs were claimed.
func (r *SlaRunner) RunOnce(ctx context.Context) (int, error) {
	now := r.opts.Now()
	jobs, err := r.source.ClaimDue(ctx, now, r.opts.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("claim sla jobs: %w", err)
	}
	for _, job := range jobs {
		if ctx.Err() != nil {
			return len(jobs), ctx.Err()
		}
		r.process(ctx, job, now)
	}
	return len(jobs), nil
}

func (r *SlaRunner) process(ctx context.Context, job domain.SlaJob, now time.Time) {
	logger := r.opts.Logger.With(
		zap.String("job_id", job.JobID),
		zap.String("job_type", string(job.JobType)),
		zap.String("ticket_id", job.TicketID))

	handler := r.deadline
	if job.JobType == domain.SlaJobReminder {
		handler = r.reminder
	}

	result, err := handler.Handle(ctx, job, now)
	if err != nil {
		logger.Warn("sla job failed, retrying", zap.Error(err), zap.Duration("delay", r.opts.RetryDelay))
		if retryErr := r.source.Retry(ctx, job, r.opts.RetryDelay); retryErr != nil {
			// The lease still redelivers the job.
			logger.Error("sla job retry not scheduled", zap.Error(retryErr))
			r.opts.Metrics.RecordSlaJob(string(job.JobType), OutcomeFailed)
			return
		}
		r.opts.Metrics.RecordSlaJob(string(job.JobType), OutcomeRetried)
		return
	}

	switch {
	case result.Skipped && result.Reason == sla.ReasonDueNotReached:
		// Delivered early; run again at the due time.
		if err := r.source.Retry(ctx, job, job.DueAt.Sub(now)); err != nil {
			logger.Error("early sla job not rescheduled", zap.Error(err))
		}
	case result.Skipped:
		if err := r.source.Discard(ctx, job); err != nil {
			logger.Error("sla job discard failed", zap.Error(err))
		}
	default:
		if err := r.source.Ack(ctx, job); err != nil {
			logger.Error("sla job ack failed", zap.Error(err))
		}
	}
	r.opts.Metrics.RecordSlaJob(string(job.JobType), outcome(job, result))
}

func outcome(job domain.SlaJob, result domain.SlaJobResult) string {
	switch {
	case result.Skipped:
		return OutcomeSkipped
	case job.JobType == domain.SlaJobReminder:
		return OutcomeSent
	default:
		return OutcomeBreached
	}
}
