// Package notification delivers meeting lifecycle emails through a durable
// job queue. Jobs are persisted before any delivery attempt, so an SMTP
// outage delays mail instead of losing it.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/contract-scheduler/internal/interval"
	"github.com/example/contract-scheduler/internal/persistence"
)

// Notification kinds. The kind selects the template a job is rendered with.
const (
	KindMeetingConfirmed   = "meeting_confirmed"
	KindMeetingRescheduled = "meeting_rescheduled"
	KindMeetingCancelled   = "meeting_cancelled"
	KindSyncFailed         = "sync_failed"
)

// Payload carries the template data for one job, serialized onto the job row.
type Payload struct {
	MeetingID     string     `json:"meeting_id"`
	ContractID    string     `json:"contract_id"`
	Start         *time.Time `json:"start,omitempty"`
	End           *time.Time `json:"end,omitempty"`
	PreviousStart *time.Time `json:"previous_start,omitempty"`
	PreviousEnd   *time.Time `json:"previous_end,omitempty"`
	Reason        string     `json:"reason,omitempty"`
}

// Queue persists notification jobs. It implements the notifier interfaces of
// the meeting service and the sync worker.
type Queue struct {
	jobs        persistence.NotificationJobRepository
	idGenerator func() string
	now         func() time.Time
}

func NewQueue(jobs persistence.NotificationJobRepository, idGenerator func() string, now func() time.Time) *Queue {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &Queue{jobs: jobs, idGenerator: idGenerator, now: now}
}

// MeetingConfirmed enqueues a confirmation email to every attendee.
func (q *Queue) MeetingConfirmed(ctx context.Context, meeting persistence.Meeting) error {
	payload := meetingPayload(meeting)
	return q.enqueueAll(ctx, KindMeetingConfirmed, recipients(meeting), payload)
}

// MeetingRescheduled enqueues a reschedule email carrying both the old and
// the new slot.
func (q *Queue) MeetingRescheduled(ctx context.Context, meeting persistence.Meeting, previous interval.Slot) error {
	payload := meetingPayload(meeting)
	prevStart, prevEnd := previous.Start, previous.End
	payload.PreviousStart = &prevStart
	payload.PreviousEnd = &prevEnd
	return q.enqueueAll(ctx, KindMeetingRescheduled, recipients(meeting), payload)
}

// MeetingCancelled enqueues a cancellation email to every attendee.
func (q *Queue) MeetingCancelled(ctx context.Context, meeting persistence.Meeting) error {
	return q.enqueueAll(ctx, KindMeetingCancelled, recipients(meeting), meetingPayload(meeting))
}

// SyncFailed tells the organizer their calendar could not be updated.
func (q *Queue) SyncFailed(ctx context.Context, meeting persistence.Meeting, reason string) error {
	payload := meetingPayload(meeting)
	payload.Reason = reason
	return q.enqueueAll(ctx, KindSyncFailed, []string{meeting.OrganizerID}, payload)
}

func (q *Queue) enqueueAll(ctx context.Context, kind string, to []string, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notification: encoding %s payload: %w", kind, err)
	}
	now := q.now().UTC()
	for _, recipient := range to {
		job := persistence.NotificationJob{
			ID:            q.idGenerator(),
			Recipient:     recipient,
			Kind:          kind,
			Payload:       body,
			Status:        persistence.NotificationPending,
			NextAttemptAt: now,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := q.jobs.CreateJob(ctx, job); err != nil {
			return fmt.Errorf("notification: enqueueing %s for %s: %w", kind, recipient, err)
		}
	}
	return nil
}

func meetingPayload(meeting persistence.Meeting) Payload {
	payload := Payload{MeetingID: meeting.ID, ContractID: meeting.ContractID}
	if meeting.ConfirmedSlot != nil {
		start, end := meeting.ConfirmedSlot.Start, meeting.ConfirmedSlot.End
		payload.Start = &start
		payload.End = &end
	}
	return payload
}

// recipients is the organizer plus every participant, deduplicated.
// Participant identifiers are email addresses.
func recipients(meeting persistence.Meeting) []string {
	seen := make(map[string]struct{}, len(meeting.ParticipantIDs)+1)
	out := make([]string, 0, len(meeting.ParticipantIDs)+1)
	for _, addr := range append([]string{meeting.OrganizerID}, meeting.ParticipantIDs...) {
		if addr == "" {
			continue
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out
}
