package persistence

import (
	"context"
	"time"

	"github.com/example/contract-scheduler/internal/interval"
)

// CredentialRepository stores OAuth credentials, indexed by (user, provider
// account) for refresh lookups.
type CredentialRepository interface {
	// UpsertCredential inserts the credential or, when a row for the same
	// (user, provider account) exists, replaces its token pair and scopes.
	UpsertCredential(ctx context.Context, cred CalendarCredential) (CalendarCredential, error)
	GetCredential(ctx context.Context, id string) (CalendarCredential, error)
	GetCredentialForUser(ctx context.Context, userID string) (CalendarCredential, error)
	// RotateTokens atomically replaces the stored token pair. The old pair is
	// unreadable once the call returns.
	RotateTokens(ctx context.Context, id, accessToken, refreshToken, tokenType string, expiry, now time.Time) error
	MarkRevoked(ctx context.Context, id string, now time.Time) error
}

// MeetingFilter narrows meeting queries.
type MeetingFilter struct {
	ContractID    string
	ParticipantID string
	Statuses      []MeetingStatus
	Window        *interval.Window
}

// MeetingRepository stores meetings.
type MeetingRepository interface {
	CreateMeeting(ctx context.Context, meeting Meeting) error
	GetMeeting(ctx context.Context, id string) (Meeting, error)
	UpdateMeeting(ctx context.Context, meeting Meeting) error
	// SetExternalEventID records (or, with an empty id, clears) the provider
	// event id without touching the rest of the row. Callers holding a row
	// read from before a slow provider call must use this instead of
	// UpdateMeeting so a status change that landed meanwhile survives.
	SetExternalEventID(ctx context.Context, meetingID, eventID string, now time.Time) error
	ListMeetings(ctx context.Context, filter MeetingFilter) ([]Meeting, error)
}

// MeetingTaskRepository applies a meeting update and enqueues its sync task
// in one transaction: the status write and the calendar write it owes land
// together or not at all.
type MeetingTaskRepository interface {
	UpdateMeetingWithTask(ctx context.Context, meeting Meeting, task SyncTask) (SyncTask, error)
}

// SyncTaskRepository stores the durable calendar write queue and its dead
// letters.
type SyncTaskRepository interface {
	// EnqueueTask persists the task, assigning the next per-meeting position.
	EnqueueTask(ctx context.Context, task SyncTask) (SyncTask, error)
	// DueTasks returns tasks eligible to run: next attempt due, and holding
	// the lowest position among their meeting's pending tasks, so per-meeting
	// order is strict even across restarts.
	DueTasks(ctx context.Context, now time.Time, limit int) ([]SyncTask, error)
	RescheduleTask(ctx context.Context, id string, attempts int, nextAttemptAt time.Time, lastError string) error
	DeleteTask(ctx context.Context, id string) error
	ListTasksForMeeting(ctx context.Context, meetingID string) ([]SyncTask, error)

	CreateDeadLetter(ctx context.Context, letter DeadLetter) error
	GetDeadLetter(ctx context.Context, id string) (DeadLetter, error)
	ListDeadLettersForMeeting(ctx context.Context, meetingID string) ([]DeadLetter, error)
	DeleteDeadLetter(ctx context.Context, id string) error
}

// NotificationJobRepository stores durable notification jobs.
type NotificationJobRepository interface {
	CreateJob(ctx context.Context, job NotificationJob) error
	GetJob(ctx context.Context, id string) (NotificationJob, error)
	// DueJobs returns pending jobs whose next attempt is due.
	DueJobs(ctx context.Context, now time.Time, limit int) ([]NotificationJob, error)
	MarkSent(ctx context.Context, id string, now time.Time) error
	MarkFailed(ctx context.Context, id, lastError string, now time.Time) error
	RescheduleJob(ctx context.Context, id string, attempts int, nextAttemptAt time.Time, lastError string, now time.Time) error
}
