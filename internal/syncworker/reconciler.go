package syncworker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/example/contract-scheduler/internal/credential"
	"github.com/example/contract-scheduler/internal/interval"
	"github.com/example/contract-scheduler/internal/persistence"
)

// BusyReader is the provider surface reconciliation reads through.
type BusyReader interface {
	PrimaryCalendarID(ctx context.Context, tok *oauth2.Token) (string, error)
	BusyIntervals(ctx context.Context, tok *oauth2.Token, calendarID string, window interval.Window) ([]interval.BusyInterval, error)
}

// Reconciler periodically re-checks confirmed meetings against the external
// calendar. The confirm pipeline cannot be atomic with the external service,
// so a double-booking can slip in between the conflict check and the calendar
// write; reconciliation surfaces it. Flagged meetings are never auto-
// cancelled: a confirmed contract meeting is only unwound by a human.
type Reconciler struct {
	meetings persistence.MeetingRepository
	tokens   TokenSource
	provider BusyReader
	now      func() time.Time
	logger   *slog.Logger

	kick chan struct{}
}

func NewReconciler(meetings persistence.MeetingRepository, tokens TokenSource, provider BusyReader, now func() time.Time, logger *slog.Logger) *Reconciler {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		meetings: meetings,
		tokens:   tokens,
		provider: provider,
		now:      now,
		logger:   logger,
		kick:     make(chan struct{}, 1),
	}
}

// Kick requests an immediate reconciliation pass, coalescing with any pass
// already requested. Webhook deliveries call this.
func (r *Reconciler) Kick() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Run reconciles on every tick and on every Kick until the context is
// cancelled.
func (r *Reconciler) Run(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-r.kick:
		}
		if err := r.ReconcileAll(ctx); err != nil {
			r.logger.ErrorContext(ctx, "reconciliation pass failed", "error", err)
		}
	}
}

// ReconcileAll re-checks every confirmed meeting.
func (r *Reconciler) ReconcileAll(ctx context.Context) error {
	meetings, err := r.meetings.ListMeetings(ctx, persistence.MeetingFilter{
		Statuses: []persistence.MeetingStatus{persistence.MeetingConfirmed},
	})
	if err != nil {
		return fmt.Errorf("syncworker: listing confirmed meetings: %w", err)
	}
	for _, meeting := range meetings {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := r.ReconcileMeeting(ctx, meeting); err != nil {
			r.logger.ErrorContext(ctx, "reconciling meeting", "meeting_id", meeting.ID, "error", err)
		}
	}
	return nil
}

// ReconcileMeeting flags the meeting when any attendee's calendar holds an
// overlapping event that this service did not create for it. Attendees whose
// calendars are not connected are skipped: there is nothing to read there.
func (r *Reconciler) ReconcileMeeting(ctx context.Context, meeting persistence.Meeting) error {
	if meeting.ConfirmedSlot == nil {
		return nil
	}
	slot := *meeting.ConfirmedSlot
	window := interval.Window{From: slot.Start, To: slot.End}

	for _, attendee := range attendees(meeting) {
		acc, err := r.tokens.ValidToken(ctx, attendee)
		if err != nil {
			if errors.Is(err, credential.ErrNotConnected) {
				continue
			}
			return fmt.Errorf("token for %s: %w", attendee, err)
		}
		calendarID, err := r.provider.PrimaryCalendarID(ctx, acc.Token)
		if err != nil {
			return fmt.Errorf("primary calendar for %s: %w", attendee, err)
		}
		busy, err := r.provider.BusyIntervals(ctx, acc.Token, calendarID, window)
		if err != nil {
			return fmt.Errorf("listing events for %s: %w", attendee, err)
		}

		for _, iv := range busy {
			if !slot.Overlaps(iv.Slot) {
				continue
			}
			if iv.EventID != "" && iv.EventID == meeting.ExternalEventID {
				continue
			}
			if iv.MeetingID == meeting.ID {
				continue
			}
			return r.flag(ctx, meeting, iv)
		}
	}
	return nil
}

// attendees is the organizer plus the participants, deduplicated. The same
// set the confirm-time conflict check walks.
func attendees(meeting persistence.Meeting) []string {
	ids := make([]string, 0, len(meeting.ParticipantIDs)+1)
	seen := make(map[string]struct{}, len(meeting.ParticipantIDs)+1)
	for _, id := range append([]string{meeting.OrganizerID}, meeting.ParticipantIDs...) {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

func (r *Reconciler) flag(ctx context.Context, meeting persistence.Meeting, intruder interval.BusyInterval) error {
	current, err := r.meetings.GetMeeting(ctx, meeting.ID)
	if err != nil {
		return err
	}
	if current.Status != persistence.MeetingConfirmed {
		return nil
	}

	reason := fmt.Sprintf("overlapping external event %s %s", intruder.EventID, intruder.Slot)
	if intruder.Summary != "" {
		reason = fmt.Sprintf("%s (%q)", reason, intruder.Summary)
	}
	if current.FlaggedAt != nil && current.FlagReason == reason {
		return nil
	}

	now := r.now().UTC()
	current.FlaggedAt = &now
	current.FlagReason = reason
	current.UpdatedAt = now
	if err := r.meetings.UpdateMeeting(ctx, current); err != nil {
		return err
	}
	r.logger.WarnContext(ctx, "confirmed meeting flagged for review",
		"meeting_id", current.ID, "reason", reason)
	return nil
}
