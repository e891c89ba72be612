package syncworker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/example/contract-scheduler/internal/calendar/google"
	"github.com/example/contract-scheduler/internal/credential"
	"github.com/example/contract-scheduler/internal/interval"
	"github.com/example/contract-scheduler/internal/persistence"
)

// TokenSource hands out valid access tokens for a user's connected calendar.
type TokenSource interface {
	ValidToken(ctx context.Context, userID string) (credential.Access, error)
}

// CalendarWriter is the provider surface the worker writes through.
type CalendarWriter interface {
	PrimaryCalendarID(ctx context.Context, tok *oauth2.Token) (string, error)
	CreateEvent(ctx context.Context, tok *oauth2.Token, calendarID string, ev google.Event) (string, error)
	UpdateEvent(ctx context.Context, tok *oauth2.Token, calendarID, eventID string, ev google.Event) error
	DeleteEvent(ctx context.Context, tok *oauth2.Token, calendarID, eventID string) error
}

// FailureNotifier enqueues the user-visible notification when a meeting's
// sync is exhausted.
type FailureNotifier interface {
	SyncFailed(ctx context.Context, meeting persistence.Meeting, reason string) error
}

// Config bounds the worker's retry behavior.
type Config struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	BatchSize   int
}

// DefaultConfig is the retry policy used unless configuration overrides it.
var DefaultConfig = Config{
	MaxAttempts: 5,
	BaseBackoff: 30 * time.Second,
	MaxBackoff:  30 * time.Minute,
	BatchSize:   20,
}

// Worker drains the sync task queue. Tasks for one meeting run strictly in
// enqueue order; tasks for different meetings are independent.
type Worker struct {
	tasks       persistence.SyncTaskRepository
	meetings    persistence.MeetingRepository
	tokens      TokenSource
	provider    CalendarWriter
	notifier    FailureNotifier
	cfg         Config
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

func NewWorker(
	tasks persistence.SyncTaskRepository,
	meetings persistence.MeetingRepository,
	tokens TokenSource,
	provider CalendarWriter,
	notifier FailureNotifier,
	cfg Config,
	idGenerator func() string,
	now func() time.Time,
	logger *slog.Logger,
) *Worker {
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
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		tasks:       tasks,
		meetings:    meetings,
		tokens:      tokens,
		provider:    provider,
		notifier:    notifier,
		cfg:         cfg,
		idGenerator: idGenerator,
		now:         now,
		logger:      logger,
	}
}

// Run drains due tasks on every tick until the context is cancelled.
func (w *Worker) Run(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.logger.ErrorContext(ctx, "sync pass failed", "error", err)
			}
		}
	}
}

// RunOnce processes one batch of due tasks and reports how many it handled.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	due, err := w.tasks.DueTasks(ctx, w.now().UTC(), w.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("syncworker: listing due tasks: %w", err)
	}
	for _, task := range due {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		w.process(ctx, task)
	}
	return len(due), nil
}

func (w *Worker) process(ctx context.Context, task persistence.SyncTask) {
	logger := w.logger.With("task_id", task.ID, "meeting_id", task.MeetingID, "op", string(task.Op))

	meeting, err := w.meetings.GetMeeting(ctx, task.MeetingID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			logger.WarnContext(ctx, "dropping task for missing meeting")
			w.dropTask(ctx, task, logger)
			return
		}
		logger.ErrorContext(ctx, "loading meeting", "error", err)
		return
	}

	// A create or update owed to a meeting that has since been cancelled is
	// superseded: the follow-up delete task (if an event exists) is the only
	// write still worth making.
	if meeting.Status == persistence.MeetingCancelled && task.Op != persistence.SyncOpDelete {
		logger.InfoContext(ctx, "dropping superseded task")
		w.dropTask(ctx, task, logger)
		return
	}

	if err := w.apply(ctx, meeting, task); err != nil {
		w.fail(ctx, meeting, task, err, logger)
		return
	}
	w.succeed(ctx, meeting, task, logger)
}

func (w *Worker) apply(ctx context.Context, meeting persistence.Meeting, task persistence.SyncTask) error {
	acc, err := w.tokens.ValidToken(ctx, meeting.OrganizerID)
	if err != nil {
		return fmt.Errorf("organizer token: %w", err)
	}
	calendarID, err := w.provider.PrimaryCalendarID(ctx, acc.Token)
	if err != nil {
		return fmt.Errorf("primary calendar: %w", err)
	}

	// The meeting row in hand predates the provider call. Only the event id
	// column may be written back: a cancel that lands while the call is in
	// flight must survive.
	switch task.Op {
	case persistence.SyncOpCreate:
		eventID, err := w.provider.CreateEvent(ctx, acc.Token, calendarID, calendarEvent(meeting))
		if err != nil {
			return err
		}
		return w.meetings.SetExternalEventID(ctx, meeting.ID, eventID, w.now().UTC())
	case persistence.SyncOpUpdate:
		if meeting.ExternalEventID == "" {
			return fmt.Errorf("meeting %s has no external event to update", meeting.ID)
		}
		return w.provider.UpdateEvent(ctx, acc.Token, calendarID, meeting.ExternalEventID, calendarEvent(meeting))
	case persistence.SyncOpDelete:
		if meeting.ExternalEventID == "" {
			return nil
		}
		if err := w.provider.DeleteEvent(ctx, acc.Token, calendarID, meeting.ExternalEventID); err != nil {
			return err
		}
		return w.meetings.SetExternalEventID(ctx, meeting.ID, "", w.now().UTC())
	default:
		return fmt.Errorf("unknown sync op %q", task.Op)
	}
}

// succeed removes the task and, when a calendar write cleared a previous
// exhaustion, restores the meeting to confirmed.
func (w *Worker) succeed(ctx context.Context, meeting persistence.Meeting, task persistence.SyncTask, logger *slog.Logger) {
	if err := w.tasks.DeleteTask(ctx, task.ID); err != nil {
		logger.ErrorContext(ctx, "removing completed task", "error", err)
		return
	}

	if meeting.Status == persistence.MeetingSyncFailed {
		current, err := w.meetings.GetMeeting(ctx, meeting.ID)
		if err == nil && current.Status == persistence.MeetingSyncFailed {
			current.Status = persistence.MeetingConfirmed
			current.UpdatedAt = w.now().UTC()
			if err := w.meetings.UpdateMeeting(ctx, current); err != nil {
				logger.ErrorContext(ctx, "restoring meeting after sync recovery", "error", err)
				return
			}
			logger.InfoContext(ctx, "meeting restored to confirmed after sync recovery")
		}
	}
	logger.InfoContext(ctx, "sync task completed")
}

// fail reschedules the task with exponential backoff, or dead-letters it when
// retries are exhausted or the failure cannot heal on its own.
func (w *Worker) fail(ctx context.Context, meeting persistence.Meeting, task persistence.SyncTask, cause error, logger *slog.Logger) {
	attempts := task.Attempts + 1
	if retryable(cause) && attempts < w.cfg.MaxAttempts {
		delay := w.backoff(attempts)
		if err := w.tasks.RescheduleTask(ctx, task.ID, attempts, w.now().UTC().Add(delay), cause.Error()); err != nil {
			logger.ErrorContext(ctx, "rescheduling task", "error", err)
			return
		}
		logger.WarnContext(ctx, "sync task failed, will retry",
			"attempts", attempts, "retry_in", delay.String(), "error", cause)
		return
	}

	w.exhaust(ctx, meeting, task, attempts, cause, logger)
}

func (w *Worker) exhaust(ctx context.Context, meeting persistence.Meeting, task persistence.SyncTask, attempts int, cause error, logger *slog.Logger) {
	letter := persistence.DeadLetter{
		ID:        w.idGenerator(),
		MeetingID: task.MeetingID,
		Op:        task.Op,
		Attempts:  attempts,
		Reason:    cause.Error(),
		CreatedAt: w.now().UTC(),
	}
	if err := w.tasks.CreateDeadLetter(ctx, letter); err != nil {
		logger.ErrorContext(ctx, "recording dead letter", "error", err)
		return
	}
	if err := w.tasks.DeleteTask(ctx, task.ID); err != nil {
		logger.ErrorContext(ctx, "removing exhausted task", "error", err)
		return
	}

	// Cancelled meetings stay cancelled: sync_failed only makes sense for a
	// meeting users still expect on their calendars.
	if meeting.Status == persistence.MeetingConfirmed || meeting.Status == persistence.MeetingSyncFailed {
		current, err := w.meetings.GetMeeting(ctx, meeting.ID)
		if err != nil {
			logger.ErrorContext(ctx, "loading meeting for sync_failed transition", "error", err)
			return
		}
		if current.Status == persistence.MeetingConfirmed {
			current.Status = persistence.MeetingSyncFailed
			current.UpdatedAt = w.now().UTC()
			if err := w.meetings.UpdateMeeting(ctx, current); err != nil {
				logger.ErrorContext(ctx, "marking meeting sync_failed", "error", err)
				return
			}
		}
		if w.notifier != nil {
			if err := w.notifier.SyncFailed(ctx, current, cause.Error()); err != nil {
				logger.ErrorContext(ctx, "enqueueing sync failure notification", "error", err)
			}
		}
	}

	logger.ErrorContext(ctx, "sync task exhausted",
		"attempts", attempts, "dead_letter_id", letter.ID, "error", cause)
}

// RequeueDeadLetter puts a dead-lettered write back on the queue with a fresh
// attempt budget and removes the letter.
func (w *Worker) RequeueDeadLetter(ctx context.Context, deadLetterID string) error {
	letter, err := w.tasks.GetDeadLetter(ctx, deadLetterID)
	if err != nil {
		return err
	}
	now := w.now().UTC()
	_, err = w.tasks.EnqueueTask(ctx, persistence.SyncTask{
		ID:            w.idGenerator(),
		MeetingID:     letter.MeetingID,
		Op:            letter.Op,
		NextAttemptAt: now,
		CreatedAt:     now,
	})
	if err != nil {
		return fmt.Errorf("syncworker: requeueing dead letter %s: %w", deadLetterID, err)
	}
	if err := w.tasks.DeleteDeadLetter(ctx, deadLetterID); err != nil {
		return err
	}
	w.logger.InfoContext(ctx, "dead letter requeued",
		"dead_letter_id", deadLetterID, "meeting_id", letter.MeetingID, "op", string(letter.Op))
	return nil
}

func (w *Worker) dropTask(ctx context.Context, task persistence.SyncTask, logger *slog.Logger) {
	if err := w.tasks.DeleteTask(ctx, task.ID); err != nil {
		logger.ErrorContext(ctx, "dropping task", "error", err)
	}
}

// backoff is base·2^(attempt-1), capped. Attempt counts live on the task row,
// so the schedule survives restarts.
func (w *Worker) backoff(attempt int) time.Duration {
	delay := w.cfg.BaseBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= w.cfg.MaxBackoff {
			return w.cfg.MaxBackoff
		}
	}
	if delay > w.cfg.MaxBackoff {
		return w.cfg.MaxBackoff
	}
	return delay
}

// retryable distinguishes failures worth another attempt from ones that need
// a human: a revoked grant or a disconnected calendar cannot heal by waiting.
func retryable(err error) bool {
	switch {
	case errors.Is(err, credential.ErrRevoked), errors.Is(err, credential.ErrNotConnected):
		return false
	}
	return true
}

func calendarEvent(meeting persistence.Meeting) google.Event {
	var slot interval.Slot
	if meeting.ConfirmedSlot != nil {
		slot = *meeting.ConfirmedSlot
	}
	return google.Event{
		MeetingID:   meeting.ID,
		Summary:     fmt.Sprintf("Contract meeting (%s)", meeting.ContractID),
		Description: fmt.Sprintf("Meeting for contract %s, scheduled via contract-scheduler.", meeting.ContractID),
		Slot:        slot,
		Attendees:   meeting.ParticipantIDs,
	}
}
