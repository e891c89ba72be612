// Package availability builds a participant's busy timeline for a window,
// combining the external calendar with meetings tracked internally.
package availability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"

	"github.com/example/contract-scheduler/internal/credential"
	"github.com/example/contract-scheduler/internal/interval"
	"github.com/example/contract-scheduler/internal/persistence"
)

// ErrCalendarUnavailable is returned when the external calendar cannot be
// queried. Callers must treat the window as unresolved, never as free: a
// false "free" answer risks double-booking a confirmed meeting.
var ErrCalendarUnavailable = errors.New("availability: external calendar unavailable")

// TokenSource hands out valid access tokens for a user's connected calendar.
type TokenSource interface {
	ValidToken(ctx context.Context, userID string) (credential.Access, error)
}

// Provider queries a user's external calendar.
type Provider interface {
	PrimaryCalendarID(ctx context.Context, tok *oauth2.Token) (string, error)
	BusyIntervals(ctx context.Context, tok *oauth2.Token, calendarID string, window interval.Window) ([]interval.BusyInterval, error)
}

// Resolver resolves a participant's merged busy timeline.
type Resolver struct {
	tokens   TokenSource
	provider Provider
	meetings persistence.MeetingRepository
	logger   *slog.Logger
}

func NewResolver(tokens TokenSource, provider Provider, meetings persistence.MeetingRepository, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		tokens:   tokens,
		provider: provider,
		meetings: meetings,
		logger:   logger,
	}
}

// Resolve returns the participant's busy intervals in the window, ordered by
// start, with overlapping intervals from the same source merged.
func (r *Resolver) Resolve(ctx context.Context, userID string, window interval.Window) ([]interval.BusyInterval, error) {
	return r.ResolveExcluding(ctx, userID, window, "")
}

// ResolveExcluding works like Resolve but leaves out the busy intervals of
// one internal meeting. Confirmation uses this so a meeting's own candidate
// slots do not conflict with themselves.
func (r *Resolver) ResolveExcluding(ctx context.Context, userID string, window interval.Window, excludeMeetingID string) ([]interval.BusyInterval, error) {
	external, err := r.externalBusy(ctx, userID, window)
	if err != nil {
		return nil, err
	}
	internal, err := r.internalBusy(ctx, userID, window, excludeMeetingID)
	if err != nil {
		return nil, err
	}

	timeline := append(external, internal...)
	timeline = interval.Merge(timeline)
	r.logger.DebugContext(ctx, "availability resolved",
		"user_id", userID, "from", window.From, "to", window.To, "busy_intervals", len(timeline))
	return timeline, nil
}

func (r *Resolver) externalBusy(ctx context.Context, userID string, window interval.Window) ([]interval.BusyInterval, error) {
	acc, err := r.tokens.ValidToken(ctx, userID)
	if err != nil {
		// Credential problems propagate untranslated so callers can tell
		// a revoked grant from a flaky provider.
		return nil, err
	}
	calendarID, err := r.provider.PrimaryCalendarID(ctx, acc.Token)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving primary calendar for %s: %v", ErrCalendarUnavailable, userID, err)
	}
	busy, err := r.provider.BusyIntervals(ctx, acc.Token, calendarID, window)
	if err != nil {
		return nil, fmt.Errorf("%w: listing events for %s: %v", ErrCalendarUnavailable, userID, err)
	}
	return busy, nil
}

// internalBusy collects busy intervals from the participant's own meetings.
// Proposed meetings block every candidate slot; confirmed meetings block the
// confirmed slot. Conflicted, cancelled and sync_failed-from-cancel states
// hold no time.
func (r *Resolver) internalBusy(ctx context.Context, userID string, window interval.Window, excludeMeetingID string) ([]interval.BusyInterval, error) {
	meetings, err := r.meetings.ListMeetings(ctx, persistence.MeetingFilter{
		ParticipantID: userID,
		Statuses: []persistence.MeetingStatus{
			persistence.MeetingProposed,
			persistence.MeetingConfirmed,
			persistence.MeetingSyncFailed,
		},
		Window: &window,
	})
	if err != nil {
		return nil, fmt.Errorf("availability: listing internal meetings for %s: %w", userID, err)
	}

	var busy []interval.BusyInterval
	for _, meeting := range meetings {
		if meeting.ID == excludeMeetingID {
			continue
		}
		for _, slot := range meetingSlots(meeting) {
			if !window.Contains(slot) {
				continue
			}
			busy = append(busy, interval.BusyInterval{
				Slot:      slot,
				Source:    interval.SourceInternal,
				MeetingID: meeting.ID,
			})
		}
	}
	return busy, nil
}

func meetingSlots(meeting persistence.Meeting) []interval.Slot {
	if meeting.ConfirmedSlot != nil {
		return []interval.Slot{*meeting.ConfirmedSlot}
	}
	if meeting.Status == persistence.MeetingProposed {
		return meeting.CandidateSlots
	}
	return nil
}
