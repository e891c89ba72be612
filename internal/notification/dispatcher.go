package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/contract-scheduler/internal/persistence"
)

// Config bounds the dispatcher's retry behavior.
type Config struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	BatchSize   int
}

// DefaultConfig is the retry policy used unless configuration overrides it.
var DefaultConfig = Config{
	MaxAttempts: 5,
	BaseBackoff: time.Minute,
	MaxBackoff:  time.Hour,
	BatchSize:   20,
}

// Dispatcher drains due notification jobs and hands them to the mailer.
// Delivery is at-least-once: a crash after send but before the status write
// re-sends, which is the acceptable failure mode for email.
type Dispatcher struct {
	jobs   persistence.NotificationJobRepository
	mailer Mailer
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

func NewDispatcher(jobs persistence.NotificationJobRepository, mailer Mailer, cfg Config, now func() time.Time, logger *slog.Logger) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig.MaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultConfig.BaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultConfig.MaxBackoff
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig.BatchSize
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{jobs: jobs, mailer: mailer, cfg: cfg, now: now, logger: logger}
}

// Run delivers due jobs on every tick until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.RunOnce(ctx); err != nil {
				d.logger.ErrorContext(ctx, "notification pass failed", "error", err)
			}
		}
	}
}

// RunOnce delivers one batch of due jobs and reports how many it handled.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	due, err := d.jobs.DueJobs(ctx, d.now().UTC(), d.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("notification: listing due jobs: %w", err)
	}
	for _, job := range due {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		d.deliver(ctx, job)
	}
	return len(due), nil
}

func (d *Dispatcher) deliver(ctx context.Context, job persistence.NotificationJob) {
	logger := d.logger.With("job_id", job.ID, "kind", job.Kind, "recipient", job.Recipient)

	msg, err := Render(job.Recipient, job.Kind, job.Payload)
	if err != nil {
		// A job that cannot render will never render; fail it for good.
		logger.ErrorContext(ctx, "notification job is malformed", "error", err)
		d.markFailed(ctx, job.ID, err, logger)
		return
	}

	if err := d.mailer.Send(ctx, msg); err != nil {
		d.fail(ctx, job, err, logger)
		return
	}
	if err := d.jobs.MarkSent(ctx, job.ID, d.now().UTC()); err != nil {
		logger.ErrorContext(ctx, "marking job sent", "error", err)
		return
	}
	logger.InfoContext(ctx, "notification delivered")
}

func (d *Dispatcher) fail(ctx context.Context, job persistence.NotificationJob, cause error, logger *slog.Logger) {
	attempts := job.Attempts + 1
	if temporary(cause) && attempts < d.cfg.MaxAttempts {
		delay := d.backoff(attempts)
		if err := d.jobs.RescheduleJob(ctx, job.ID, attempts, d.now().UTC().Add(delay), cause.Error(), d.now().UTC()); err != nil {
			logger.ErrorContext(ctx, "rescheduling job", "error", err)
			return
		}
		logger.WarnContext(ctx, "notification delivery failed, will retry",
			"attempts", attempts, "retry_in", delay.String(), "error", cause)
		return
	}
	d.markFailed(ctx, job.ID, cause, logger)
	logger.ErrorContext(ctx, "notification delivery exhausted", "attempts", attempts, "error", cause)
}

func (d *Dispatcher) markFailed(ctx context.Context, jobID string, cause error, logger *slog.Logger) {
	if err := d.jobs.MarkFailed(ctx, jobID, cause.Error(), d.now().UTC()); err != nil {
		logger.ErrorContext(ctx, "marking job failed", "error", err)
	}
}

func (d *Dispatcher) backoff(attempt int) time.Duration {
	delay := d.cfg.BaseBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= d.cfg.MaxBackoff {
			return d.cfg.MaxBackoff
		}
	}
	if delay > d.cfg.MaxBackoff {
		return d.cfg.MaxBackoff
	}
	return delay
}
