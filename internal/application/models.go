package application

import (
	"context"
	"time"

	"github.com/example/contract-scheduler/internal/interval"
	"github.com/example/contract-scheduler/internal/persistence"
	"github.com/example/contract-scheduler/internal/scheduler"
)

// ProposeParams wraps the data required to propose a meeting.
type ProposeParams struct {
	ContractID     string
	OrganizerID    string
	ParticipantIDs []string
	CandidateSlots []interval.Slot
}

// ConfirmResult is the outcome of a confirm or reschedule attempt. A
// non-empty conflict report is an expected outcome, not an error: the meeting
// has moved to conflicted and the report says why.
type ConfirmResult struct {
	Meeting   persistence.Meeting
	Conflicts scheduler.Report
}

// ListMeetingsParams narrows contract meeting listings.
type ListMeetingsParams struct {
	ContractID string
	Statuses   []persistence.MeetingStatus
	From       *time.Time
	To         *time.Time
}

// AvailabilityResolver resolves a participant's busy timeline for a window.
type AvailabilityResolver interface {
	ResolveExcluding(ctx context.Context, userID string, window interval.Window, excludeMeetingID string) ([]interval.BusyInterval, error)
}

// SyncQueue enqueues durable calendar writes. The meeting update and its
// task land in the same transaction boundary.
type SyncQueue interface {
	EnqueueWithMeeting(ctx context.Context, meeting persistence.Meeting, op persistence.SyncOp) error
}

// Notifier enqueues durable participant notifications. Failures to enqueue
// are logged, never allowed to roll back a meeting transition.
type Notifier interface {
	MeetingConfirmed(ctx context.Context, meeting persistence.Meeting) error
	MeetingRescheduled(ctx context.Context, meeting persistence.Meeting, previous interval.Slot) error
	MeetingCancelled(ctx context.Context, meeting persistence.Meeting) error
}

// ContractDirectory is the read-only view of contract state this service
// needs. Contract lifecycle is owned elsewhere.
type ContractDirectory interface {
	ContractActive(ctx context.Context, contractID string) (bool, error)
}
