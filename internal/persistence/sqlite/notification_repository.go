package sqlite

import (
	"context"
	"time"

	"github.com/example/contract-scheduler/internal/persistence"
)

// CreateJob persists a notification job before any delivery attempt.
func (s *Storage) CreateJob(ctx context.Context, job persistence.NotificationJob) error {
	payload := string(job.Payload)
	if payload == "" {
		payload = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_jobs
			(id, recipient, kind, payload, status, attempts, next_attempt_at, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.Recipient, job.Kind, payload, string(job.Status), job.Attempts,
		fmtTime(job.NextAttemptAt), job.LastError, fmtTime(job.CreatedAt), fmtTime(job.UpdatedAt))
	return mapError(err)
}

// GetJob retrieves a notification job by id.
func (s *Storage) GetJob(ctx context.Context, id string) (persistence.NotificationJob, error) {
	var row notificationJobRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM notification_jobs WHERE id = ?`, id); err != nil {
		return persistence.NotificationJob{}, mapError(err)
	}
	return row.convert()
}

// DueJobs returns pending jobs whose next attempt is due, oldest first.
func (s *Storage) DueJobs(ctx context.Context, now time.Time, limit int) ([]persistence.NotificationJob, error) {
	var rows []notificationJobRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM notification_jobs
		WHERE status = ? AND next_attempt_at <= ?
		ORDER BY next_attempt_at, created_at
		LIMIT ?
	`, string(persistence.NotificationPending), fmtTime(now), limit)
	if err != nil {
		return nil, mapError(err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	jobs := make([]persistence.NotificationJob, 0, len(rows))
	for _, row := range rows {
		job, err := row.convert()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// MarkSent finalizes a delivered job.
func (s *Storage) MarkSent(ctx context.Context, id string, now time.Time) error {
	return s.setStatus(ctx, id, persistence.NotificationSent, "", now)
}

// MarkFailed finalizes a permanently failed job.
func (s *Storage) MarkFailed(ctx context.Context, id, lastError string, now time.Time) error {
	return s.setStatus(ctx, id, persistence.NotificationFailed, lastError, now)
}

// RescheduleJob records a transient failure and the next eligible time.
func (s *Storage) RescheduleJob(ctx context.Context, id string, attempts int, nextAttemptAt time.Time, lastError string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notification_jobs
		SET attempts = ?, next_attempt_at = ?, last_error = ?, updated_at = ?
		WHERE id = ?
	`, attempts, fmtTime(nextAttemptAt), lastError, fmtTime(now), id)
	if err != nil {
		return mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func (s *Storage) setStatus(ctx context.Context, id string, status persistence.NotificationStatus, lastError string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notification_jobs SET status = ?, last_error = ?, updated_at = ? WHERE id = ?
	`, string(status), lastError, fmtTime(now), id)
	if err != nil {
		return mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}
