package persistence

import (
	"time"

	"github.com/example/contract-scheduler/internal/interval"
)

// CalendarCredential holds the OAuth token pair for one user's external
// calendar account. Rows are owned by the credential store; no other
// component writes them.
type CalendarCredential struct {
	ID              string
	UserID          string
	ProviderAccount string
	AccessToken     string
	RefreshToken    string
	TokenType       string
	Expiry          time.Time
	Scopes          []string
	Revoked         bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// MeetingStatus enumerates the meeting state machine states.
type MeetingStatus string

const (
	MeetingProposed   MeetingStatus = "proposed"
	MeetingConflicted MeetingStatus = "conflicted"
	MeetingConfirmed  MeetingStatus = "confirmed"
	MeetingCancelled  MeetingStatus = "cancelled"
	MeetingSyncFailed MeetingStatus = "sync_failed"
)

// Meeting is a contract-linked meeting. Cancellation is a soft delete: rows
// are never removed while ExternalEventID is set, so calendar events cannot
// be orphaned.
type Meeting struct {
	ID              string
	ContractID      string
	OrganizerID     string
	ParticipantIDs  []string
	CandidateSlots  []interval.Slot
	Status          MeetingStatus
	ConfirmedSlot   *interval.Slot
	ExternalEventID string
	FlaggedAt       *time.Time
	FlagReason      string
	CancelledAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SyncOp names the calendar write a sync task performs.
type SyncOp string

const (
	SyncOpCreate SyncOp = "create"
	SyncOpUpdate SyncOp = "update"
	SyncOpDelete SyncOp = "delete"
)

// SyncTask is one pending calendar write for a meeting. Position is a
// per-meeting monotonic sequence; tasks for the same meeting are processed in
// position order. Retry state lives on the row so it survives restarts.
type SyncTask struct {
	ID            string
	MeetingID     string
	Op            SyncOp
	Position      int64
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
}

// DeadLetter records a sync task that exhausted its retries, retained for
// manual inspection and requeueing.
type DeadLetter struct {
	ID        string
	MeetingID string
	Op        SyncOp
	Attempts  int
	Reason    string
	CreatedAt time.Time
}

// NotificationStatus enumerates notification job states.
type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

// NotificationJob is one durable email to deliver. The job is persisted
// before any delivery attempt.
type NotificationJob struct {
	ID            string
	Recipient     string
	Kind          string
	Payload       []byte
	Status        NotificationStatus
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
