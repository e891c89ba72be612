package sqlite

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/example/contract-scheduler/internal/persistence"
)

// EnqueueTask persists a sync task, assigning the next position in the
// meeting's sequence inside a transaction.
func (s *Storage) EnqueueTask(ctx context.Context, task persistence.SyncTask) (persistence.SyncTask, error) {
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		return enqueueTaskRow(ctx, tx, &task)
	})
	if err != nil {
		return persistence.SyncTask{}, err
	}
	return task, nil
}

// UpdateMeetingWithTask applies the meeting update and enqueues the sync task
// it owes in one transaction. Either both land or neither does, so a
// confirmed status can never exist without its calendar write queued.
func (s *Storage) UpdateMeetingWithTask(ctx context.Context, meeting persistence.Meeting, task persistence.SyncTask) (persistence.SyncTask, error) {
	row, err := meetingToRow(meeting)
	if err != nil {
		return persistence.SyncTask{}, err
	}
	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := updateMeetingRow(ctx, tx, row); err != nil {
			return err
		}
		return enqueueTaskRow(ctx, tx, &task)
	})
	if err != nil {
		return persistence.SyncTask{}, err
	}
	return task, nil
}

func enqueueTaskRow(ctx context.Context, ext sqlx.ExtContext, task *persistence.SyncTask) error {
	var position int64
	err := sqlx.GetContext(ctx, ext, &position, `
		SELECT COALESCE(MAX(position), 0) + 1 FROM sync_tasks WHERE meeting_id = ?
	`, task.MeetingID)
	if err != nil {
		return mapError(err)
	}
	task.Position = position

	_, err = ext.ExecContext(ctx, `
		INSERT INTO sync_tasks (id, meeting_id, op, position, attempts, next_attempt_at, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, task.ID, task.MeetingID, string(task.Op), task.Position, task.Attempts,
		fmtTime(task.NextAttemptAt), task.LastError, fmtTime(task.CreatedAt))
	return mapError(err)
}

// DueTasks returns runnable tasks: attempt due, and first in line for their
// meeting. The head-of-line join keeps per-meeting order strict even when a
// retry pushes a task's next attempt past a younger sibling's.
func (s *Storage) DueTasks(ctx context.Context, now time.Time, limit int) ([]persistence.SyncTask, error) {
	var rows []syncTaskRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT t.* FROM sync_tasks t
		JOIN (
			SELECT meeting_id, MIN(position) AS head FROM sync_tasks GROUP BY meeting_id
		) h ON h.meeting_id = t.meeting_id AND h.head = t.position
		WHERE t.next_attempt_at <= ?
		ORDER BY t.next_attempt_at, t.created_at
		LIMIT ?
	`, fmtTime(now), limit)
	if err != nil {
		return nil, mapError(err)
	}
	return convertTasks(rows)
}

// RescheduleTask records a failed attempt and its next eligible time.
func (s *Storage) RescheduleTask(ctx context.Context, id string, attempts int, nextAttemptAt time.Time, lastError string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_tasks SET attempts = ?, next_attempt_at = ?, last_error = ? WHERE id = ?
	`, attempts, fmtTime(nextAttemptAt), lastError, id)
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

// DeleteTask removes a completed or superseded task.
func (s *Storage) DeleteTask(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sync_tasks WHERE id = ?`, id)
	return mapError(err)
}

// ListTasksForMeeting returns a meeting's pending tasks in position order.
func (s *Storage) ListTasksForMeeting(ctx context.Context, meetingID string) ([]persistence.SyncTask, error) {
	var rows []syncTaskRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM sync_tasks WHERE meeting_id = ? ORDER BY position
	`, meetingID)
	if err != nil {
		return nil, mapError(err)
	}
	return convertTasks(rows)
}

func convertTasks(rows []syncTaskRow) ([]persistence.SyncTask, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	tasks := make([]persistence.SyncTask, 0, len(rows))
	for _, row := range rows {
		task, err := row.convert()
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// CreateDeadLetter records a task that exhausted its retries.
func (s *Storage) CreateDeadLetter(ctx context.Context, letter persistence.DeadLetter) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dead_letters (id, meeting_id, op, attempts, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, letter.ID, letter.MeetingID, string(letter.Op), letter.Attempts, letter.Reason, fmtTime(letter.CreatedAt))
	return mapError(err)
}

// GetDeadLetter retrieves a dead letter by id.
func (s *Storage) GetDeadLetter(ctx context.Context, id string) (persistence.DeadLetter, error) {
	var row deadLetterRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM dead_letters WHERE id = ?`, id); err != nil {
		return persistence.DeadLetter{}, mapError(err)
	}
	return row.convert()
}

// ListDeadLettersForMeeting returns a meeting's dead letters, oldest first.
func (s *Storage) ListDeadLettersForMeeting(ctx context.Context, meetingID string) ([]persistence.DeadLetter, error) {
	var rows []deadLetterRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM dead_letters WHERE meeting_id = ? ORDER BY created_at, id
	`, meetingID)
	if err != nil {
		return nil, mapError(err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	letters := make([]persistence.DeadLetter, 0, len(rows))
	for _, row := range rows {
		letter, err := row.convert()
		if err != nil {
			return nil, err
		}
		letters = append(letters, letter)
	}
	return letters, nil
}

// DeleteDeadLetter removes a dead letter, typically after a manual requeue.
func (s *Storage) DeleteDeadLetter(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dead_letters WHERE id = ?`, id)
	return mapError(err)
}
