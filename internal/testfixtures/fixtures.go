package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/contract-scheduler/internal/interval"
	"github.com/example/contract-scheduler/internal/persistence"
)

var (
	meetingCounter    uint64
	credentialCounter uint64
	taskCounter       uint64
	jobCounter        uint64
)

var referenceTime = time.Date(2026, time.March, 2, 15, 4, 5, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// ReferenceSlot returns a one hour slot offset from the reference time by the
// given number of hours.
func ReferenceSlot(hourOffset int) interval.Slot {
	start := referenceTime.Add(time.Duration(hourOffset) * time.Hour)
	return interval.Slot{Start: start, End: start.Add(time.Hour)}
}

// --------------------------- Meeting fixtures ----------------------------

// MeetingOption configures the generated meeting fixture.
type MeetingOption func(*persistence.Meeting)

// NewMeetingFixture returns a deterministic proposed meeting with optional
// overrides.
func NewMeetingFixture(opts ...MeetingOption) persistence.Meeting {
	idx := atomic.AddUint64(&meetingCounter, 1)
	created := referenceTime.Add(time.Duration(idx) * time.Minute)
	meeting := persistence.Meeting{
		ID:             fmt.Sprintf("meeting-%03d", idx),
		ContractID:     fmt.Sprintf("contract-%03d", idx),
		OrganizerID:    fmt.Sprintf("organizer-%03d", idx),
		ParticipantIDs: []string{fmt.Sprintf("participant-%03d", idx)},
		CandidateSlots: []interval.Slot{ReferenceSlot(24), ReferenceSlot(48)},
		Status:         persistence.MeetingProposed,
		CreatedAt:      created,
		UpdatedAt:      created,
	}
	for _, opt := range opts {
		opt(&meeting)
	}
	return meeting
}

// WithMeetingID overrides the meeting identifier.
func WithMeetingID(id string) MeetingOption {
	return func(meeting *persistence.Meeting) {
		meeting.ID = id
	}
}

// WithContractID overrides the owning contract.
func WithContractID(contractID string) MeetingOption {
	return func(meeting *persistence.Meeting) {
		meeting.ContractID = contractID
	}
}

// WithParticipants overrides the participant list.
func WithParticipants(participantIDs ...string) MeetingOption {
	return func(meeting *persistence.Meeting) {
		meeting.ParticipantIDs = participantIDs
	}
}

// WithCandidateSlots overrides the candidate slots.
func WithCandidateSlots(slots ...interval.Slot) MeetingOption {
	return func(meeting *persistence.Meeting) {
		meeting.CandidateSlots = slots
	}
}

// Confirmed marks the meeting confirmed at the given slot.
func Confirmed(slot interval.Slot) MeetingOption {
	return func(meeting *persistence.Meeting) {
		meeting.Status = persistence.MeetingConfirmed
		meeting.ConfirmedSlot = &slot
	}
}

// WithExternalEvent records the synced calendar event identifier.
func WithExternalEvent(eventID string) MeetingOption {
	return func(meeting *persistence.Meeting) {
		meeting.ExternalEventID = eventID
	}
}

// -------------------------- Credential fixtures --------------------------

// CredentialOption configures the generated credential fixture.
type CredentialOption func(*persistence.CalendarCredential)

// NewCredentialFixture returns a deterministic stored credential with a token
// pair that expires one hour after the reference time.
func NewCredentialFixture(opts ...CredentialOption) persistence.CalendarCredential {
	idx := atomic.AddUint64(&credentialCounter, 1)
	created := referenceTime.Add(time.Duration(idx) * time.Minute)
	cred := persistence.CalendarCredential{
		ID:              fmt.Sprintf("credential-%03d", idx),
		UserID:          fmt.Sprintf("user-%03d", idx),
		ProviderAccount: fmt.Sprintf("user-%03d@example.com", idx),
		AccessToken:     fmt.Sprintf("access-%03d", idx),
		RefreshToken:    fmt.Sprintf("refresh-%03d", idx),
		TokenType:       "Bearer",
		Expiry:          referenceTime.Add(time.Hour),
		Scopes:          []string{"https://www.googleapis.com/auth/calendar"},
		CreatedAt:       created,
		UpdatedAt:       created,
	}
	for _, opt := range opts {
		opt(&cred)
	}
	return cred
}

// WithCredentialUser overrides the owning user.
func WithCredentialUser(userID string) CredentialOption {
	return func(cred *persistence.CalendarCredential) {
		cred.UserID = userID
	}
}

// WithExpiry overrides the access token expiry.
func WithExpiry(expiry time.Time) CredentialOption {
	return func(cred *persistence.CalendarCredential) {
		cred.Expiry = expiry
	}
}

// Revoked marks the credential revoked.
func Revoked() CredentialOption {
	return func(cred *persistence.CalendarCredential) {
		cred.Revoked = true
	}
}

// --------------------------- Sync task fixtures --------------------------

// SyncTaskOption configures the generated sync task fixture.
type SyncTaskOption func(*persistence.SyncTask)

// NewSyncTaskFixture returns a deterministic due sync task.
func NewSyncTaskFixture(meetingID string, op persistence.SyncOp, opts ...SyncTaskOption) persistence.SyncTask {
	idx := atomic.AddUint64(&taskCounter, 1)
	task := persistence.SyncTask{
		ID:            fmt.Sprintf("task-%03d", idx),
		MeetingID:     meetingID,
		Op:            op,
		Position:      int64(idx),
		NextAttemptAt: referenceTime,
		CreatedAt:     referenceTime,
	}
	for _, opt := range opts {
		opt(&task)
	}
	return task
}

// WithAttempts overrides the recorded attempt count.
func WithAttempts(attempts int) SyncTaskOption {
	return func(task *persistence.SyncTask) {
		task.Attempts = attempts
	}
}

// DueAt overrides when the task becomes eligible.
func DueAt(at time.Time) SyncTaskOption {
	return func(task *persistence.SyncTask) {
		task.NextAttemptAt = at
	}
}

// ------------------------ Notification job fixtures ----------------------

// NotificationJobOption configures the generated notification job fixture.
type NotificationJobOption func(*persistence.NotificationJob)

// NewNotificationJobFixture returns a deterministic pending notification job.
func NewNotificationJobFixture(recipient, kind string, payload []byte, opts ...NotificationJobOption) persistence.NotificationJob {
	idx := atomic.AddUint64(&jobCounter, 1)
	job := persistence.NotificationJob{
		ID:            fmt.Sprintf("job-%03d", idx),
		Recipient:     recipient,
		Kind:          kind,
		Payload:       payload,
		Status:        persistence.NotificationPending,
		NextAttemptAt: referenceTime,
		CreatedAt:     referenceTime,
		UpdatedAt:     referenceTime,
	}
	for _, opt := range opts {
		opt(&job)
	}
	return job
}
