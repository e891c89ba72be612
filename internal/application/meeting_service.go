package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/contract-scheduler/internal/interval"
	"github.com/example/contract-scheduler/internal/persistence"
	"github.com/example/contract-scheduler/internal/scheduler"
)

// MeetingService drives the meeting state machine: proposed → conflicted or
// confirmed, confirmed → cancelled, with sync_failed as a recoverable detour
// owned by the sync worker. The service is the only writer of meeting status
// on the user-facing path.
type MeetingService struct {
	meetings    persistence.MeetingRepository
	contracts   ContractDirectory
	resolver    AvailabilityResolver
	syncQueue   SyncQueue
	notifier    Notifier
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewMeetingService wires dependencies for meeting operations.
func NewMeetingService(
	meetings persistence.MeetingRepository,
	contracts ContractDirectory,
	resolver AvailabilityResolver,
	syncQueue SyncQueue,
	notifier Notifier,
	idGenerator func() string,
	now func() time.Time,
	logger *slog.Logger,
) *MeetingService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MeetingService{
		meetings:    meetings,
		contracts:   contracts,
		resolver:    resolver,
		syncQueue:   syncQueue,
		notifier:    notifier,
		idGenerator: idGenerator,
		now:         now,
		logger:      logger,
	}
}

// Propose creates a meeting in proposed with the given candidate slots. No
// conflict check runs here: creation is cheap and optimistic, conflicts are
// detected at confirm time.
func (s *MeetingService) Propose(ctx context.Context, params ProposeParams) (persistence.Meeting, error) {
	if s == nil {
		return persistence.Meeting{}, fmt.Errorf("MeetingService is nil")
	}

	vErr := &ValidationError{}
	if params.ContractID == "" {
		vErr.add("contract_id", "contract is required")
	}
	if params.OrganizerID == "" {
		vErr.add("organizer_id", "organizer is required")
	}
	if len(params.ParticipantIDs) == 0 {
		vErr.add("participants", "at least one participant is required")
	}
	if len(params.CandidateSlots) == 0 {
		vErr.add("candidate_slots", "at least one candidate slot is required")
	}
	for _, slot := range params.CandidateSlots {
		if !slot.Valid() {
			vErr.add("candidate_slots", "slot start must be before end")
			break
		}
	}
	if vErr.HasErrors() {
		return persistence.Meeting{}, vErr
	}

	if s.contracts != nil {
		active, err := s.contracts.ContractActive(ctx, params.ContractID)
		if err != nil {
			return persistence.Meeting{}, fmt.Errorf("checking contract %s: %w", params.ContractID, err)
		}
		if !active {
			return persistence.Meeting{}, fmt.Errorf("%w: %s", ErrContractInactive, params.ContractID)
		}
	}

	createdAt := s.now().UTC()
	meeting := persistence.Meeting{
		ID:             s.idGenerator(),
		ContractID:     params.ContractID,
		OrganizerID:    params.OrganizerID,
		ParticipantIDs: uniqueStrings(params.ParticipantIDs),
		CandidateSlots: append([]interval.Slot(nil), params.CandidateSlots...),
		Status:         persistence.MeetingProposed,
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}
	if err := s.meetings.CreateMeeting(ctx, meeting); err != nil {
		return persistence.Meeting{}, mapMeetingRepoError(err)
	}

	serviceLogger(ctx, s.logger, "meeting", "propose").InfoContext(ctx, "meeting proposed",
		"meeting_id", meeting.ID, "contract_id", meeting.ContractID, "candidate_slots", len(meeting.CandidateSlots))
	return meeting, nil
}

// Confirm attempts to lock in one of the meeting's candidate slots. Every
// participant's timeline is resolved first; resolution errors abort the
// operation and leave the meeting in proposed, with no partial confirmation.
// A conflict is not an error: the meeting moves to conflicted and the report
// is returned as data for the caller to act on.
func (s *MeetingService) Confirm(ctx context.Context, meetingID string, slot interval.Slot) (ConfirmResult, error) {
	if s == nil {
		return ConfirmResult{}, fmt.Errorf("MeetingService is nil")
	}

	meeting, err := s.meetings.GetMeeting(ctx, meetingID)
	if err != nil {
		return ConfirmResult{}, mapMeetingRepoError(err)
	}
	if meeting.Status != persistence.MeetingProposed {
		return ConfirmResult{}, fmt.Errorf("%w: cannot confirm a %s meeting", ErrInvalidTransition, meeting.Status)
	}
	if !isCandidate(meeting, slot) {
		return ConfirmResult{}, fmt.Errorf("%w: %s", ErrInvalidSlot, slot)
	}

	report, err := s.detectConflicts(ctx, meeting, slot)
	if err != nil {
		return ConfirmResult{}, err
	}

	now := s.now().UTC()
	if !report.Empty() {
		meeting.Status = persistence.MeetingConflicted
		meeting.UpdatedAt = now
		if err := s.meetings.UpdateMeeting(ctx, meeting); err != nil {
			return ConfirmResult{}, mapMeetingRepoError(err)
		}
		serviceLogger(ctx, s.logger, "meeting", "confirm").InfoContext(ctx, "meeting conflicted",
			"meeting_id", meeting.ID, "slot", slot.String(), "conflicts", len(report.Conflicts))
		return ConfirmResult{Meeting: meeting, Conflicts: report}, nil
	}

	confirmed := slot
	meeting.Status = persistence.MeetingConfirmed
	meeting.ConfirmedSlot = &confirmed
	meeting.UpdatedAt = now
	// One transaction: a confirmed status never lands without the create
	// task it owes. A failure leaves the meeting in proposed.
	if err := s.syncQueue.EnqueueWithMeeting(ctx, meeting, persistence.SyncOpCreate); err != nil {
		return ConfirmResult{}, mapMeetingRepoError(err)
	}
	s.notify(ctx, meeting.ID, func() error { return s.notifier.MeetingConfirmed(ctx, meeting) })

	serviceLogger(ctx, s.logger, "meeting", "confirm").InfoContext(ctx, "meeting confirmed", "meeting_id", meeting.ID, "slot", slot.String())
	return ConfirmResult{Meeting: meeting}, nil
}

// Reschedule moves a confirmed meeting to another candidate slot, re-running
// the confirm pipeline. On conflict the meeting moves to conflicted while the
// prior confirmed slot and external event stay on the record untouched.
func (s *MeetingService) Reschedule(ctx context.Context, meetingID string, newSlot interval.Slot) (ConfirmResult, error) {
	if s == nil {
		return ConfirmResult{}, fmt.Errorf("MeetingService is nil")
	}

	meeting, err := s.meetings.GetMeeting(ctx, meetingID)
	if err != nil {
		return ConfirmResult{}, mapMeetingRepoError(err)
	}
	if meeting.Status != persistence.MeetingConfirmed {
		return ConfirmResult{}, fmt.Errorf("%w: cannot reschedule a %s meeting", ErrInvalidTransition, meeting.Status)
	}
	if !isCandidate(meeting, newSlot) {
		return ConfirmResult{}, fmt.Errorf("%w: %s", ErrInvalidSlot, newSlot)
	}

	report, err := s.detectConflicts(ctx, meeting, newSlot)
	if err != nil {
		return ConfirmResult{}, err
	}

	now := s.now().UTC()
	if !report.Empty() {
		meeting.Status = persistence.MeetingConflicted
		meeting.UpdatedAt = now
		if err := s.meetings.UpdateMeeting(ctx, meeting); err != nil {
			return ConfirmResult{}, mapMeetingRepoError(err)
		}
		serviceLogger(ctx, s.logger, "meeting", "reschedule").InfoContext(ctx, "reschedule conflicted",
			"meeting_id", meeting.ID, "slot", newSlot.String(), "conflicts", len(report.Conflicts))
		return ConfirmResult{Meeting: meeting, Conflicts: report}, nil
	}

	previous := *meeting.ConfirmedSlot
	confirmed := newSlot
	meeting.ConfirmedSlot = &confirmed
	meeting.UpdatedAt = now
	// Same transaction boundary as confirm: slot write and update task
	// together or not at all.
	if err := s.syncQueue.EnqueueWithMeeting(ctx, meeting, persistence.SyncOpUpdate); err != nil {
		return ConfirmResult{}, mapMeetingRepoError(err)
	}
	s.notify(ctx, meeting.ID, func() error { return s.notifier.MeetingRescheduled(ctx, meeting, previous) })

	serviceLogger(ctx, s.logger, "meeting", "reschedule").InfoContext(ctx, "meeting rescheduled",
		"meeting_id", meeting.ID, "from", previous.String(), "to", newSlot.String())
	return ConfirmResult{Meeting: meeting}, nil
}

// Cancel soft-deletes the meeting from any non-terminal state. Cancellation
// is immediate and never waits on calendar availability; the external event,
// if one exists, is removed asynchronously by the sync worker.
func (s *MeetingService) Cancel(ctx context.Context, meetingID string) (persistence.Meeting, error) {
	if s == nil {
		return persistence.Meeting{}, fmt.Errorf("MeetingService is nil")
	}

	meeting, err := s.meetings.GetMeeting(ctx, meetingID)
	if err != nil {
		return persistence.Meeting{}, mapMeetingRepoError(err)
	}
	if meeting.Status == persistence.MeetingCancelled {
		return persistence.Meeting{}, fmt.Errorf("%w: meeting is already cancelled", ErrInvalidTransition)
	}

	now := s.now().UTC()
	meeting.Status = persistence.MeetingCancelled
	meeting.CancelledAt = &now
	meeting.UpdatedAt = now
	if meeting.ExternalEventID != "" {
		if err := s.syncQueue.EnqueueWithMeeting(ctx, meeting, persistence.SyncOpDelete); err != nil {
			return persistence.Meeting{}, mapMeetingRepoError(err)
		}
	} else if err := s.meetings.UpdateMeeting(ctx, meeting); err != nil {
		return persistence.Meeting{}, mapMeetingRepoError(err)
	}
	s.notify(ctx, meeting.ID, func() error { return s.notifier.MeetingCancelled(ctx, meeting) })

	serviceLogger(ctx, s.logger, "meeting", "cancel").InfoContext(ctx, "meeting cancelled", "meeting_id", meeting.ID)
	return meeting, nil
}

// Get returns a meeting by id.
func (s *MeetingService) Get(ctx context.Context, meetingID string) (persistence.Meeting, error) {
	if s == nil {
		return persistence.Meeting{}, fmt.Errorf("MeetingService is nil")
	}
	meeting, err := s.meetings.GetMeeting(ctx, meetingID)
	if err != nil {
		return persistence.Meeting{}, mapMeetingRepoError(err)
	}
	return meeting, nil
}

// ListByContract enumerates a contract's meetings.
func (s *MeetingService) ListByContract(ctx context.Context, params ListMeetingsParams) ([]persistence.Meeting, error) {
	if s == nil {
		return nil, fmt.Errorf("MeetingService is nil")
	}
	if params.ContractID == "" {
		vErr := &ValidationError{}
		vErr.add("contract_id", "contract is required")
		return nil, vErr
	}

	filter := persistence.MeetingFilter{
		ContractID: params.ContractID,
		Statuses:   params.Statuses,
	}
	if params.From != nil && params.To != nil {
		filter.Window = &interval.Window{From: params.From.UTC(), To: params.To.UTC()}
	}
	meetings, err := s.meetings.ListMeetings(ctx, filter)
	if err != nil {
		return nil, mapMeetingRepoError(err)
	}
	return meetings, nil
}

// detectConflicts resolves every participant's timeline for the slot window
// and runs the conflict check. The meeting's own busy intervals are excluded
// so a meeting never conflicts with itself.
func (s *MeetingService) detectConflicts(ctx context.Context, meeting persistence.Meeting, slot interval.Slot) (scheduler.Report, error) {
	window := interval.Window{From: slot.Start, To: slot.End}
	timelines := make(map[string][]interval.BusyInterval)
	for _, participant := range conflictParticipants(meeting) {
		timeline, err := s.resolver.ResolveExcluding(ctx, participant, window, meeting.ID)
		if err != nil {
			return scheduler.Report{}, fmt.Errorf("resolving availability for %s: %w", participant, err)
		}
		timelines[participant] = timeline
	}
	return scheduler.CheckConflicts(slot, timelines), nil
}

// conflictParticipants is the set of people whose calendars must be clear:
// the participants plus the organizer hosting the event.
func conflictParticipants(meeting persistence.Meeting) []string {
	ids := make([]string, 0, len(meeting.ParticipantIDs)+1)
	ids = append(ids, meeting.OrganizerID)
	ids = append(ids, meeting.ParticipantIDs...)
	return uniqueStrings(ids)
}

// notify enqueues a notification, logging enqueue failures. Notification
// problems never roll back a meeting transition.
func (s *MeetingService) notify(ctx context.Context, meetingID string, enqueue func() error) {
	if s.notifier == nil {
		return
	}
	if err := enqueue(); err != nil {
		serviceLogger(ctx, s.logger, "meeting", "").ErrorContext(ctx, "failed to enqueue notification", "meeting_id", meetingID, "error", err)
	}
}

func isCandidate(meeting persistence.Meeting, slot interval.Slot) bool {
	for _, candidate := range meeting.CandidateSlots {
		if candidate.Equal(slot) {
			return true
		}
	}
	return false
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, value := range values {
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		result = append(result, value)
	}
	return result
}

func mapMeetingRepoError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, persistence.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
