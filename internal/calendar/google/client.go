// Package google talks to the Google Calendar API on behalf of connected
// users. Every call takes an access token obtained from the credential store;
// the client never holds or refreshes tokens itself.
package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/example/contract-scheduler/internal/interval"
)

// ErrUnavailable is returned for transient provider failures: rate limits,
// quota exhaustion, timeouts and server errors. Callers may retry later.
var ErrUnavailable = errors.New("google: calendar temporarily unavailable")

// meetingIDProperty is the private extended property that tags events this
// service created, so reconciliation can tell its own events apart from ones
// the user added by hand.
const meetingIDProperty = "contract_scheduler_meeting_id"

// Event is the provider-facing shape of a scheduled meeting.
type Event struct {
	MeetingID   string
	Summary     string
	Description string
	Slot        interval.Slot
	Attendees   []string
}

// Client wraps the Calendar API. The service factory is injectable so tests
// can point it at a fake transport.
type Client struct {
	newService func(ctx context.Context, tok *oauth2.Token) (*calendar.Service, error)
}

func NewClient() *Client {
	return &Client{
		newService: func(ctx context.Context, tok *oauth2.Token) (*calendar.Service, error) {
			return calendar.NewService(ctx, option.WithTokenSource(oauth2.StaticTokenSource(tok)))
		},
	}
}

// PrimaryCalendarID resolves the id of the account's primary calendar, which
// is the calendar the service schedules into.
func (c *Client) PrimaryCalendarID(ctx context.Context, tok *oauth2.Token) (string, error) {
	svc, err := c.newService(ctx, tok)
	if err != nil {
		return "", err
	}
	entry, err := svc.CalendarList.Get("primary").Context(ctx).Do()
	if err != nil {
		return "", classify(err)
	}
	return entry.Id, nil
}

// BusyIntervals lists the busy intervals on a calendar within the window.
// Recurring events are expanded, cancelled and transparent (free) events are
// skipped, and pagination is followed to the end.
func (c *Client) BusyIntervals(ctx context.Context, tok *oauth2.Token, calendarID string, window interval.Window) ([]interval.BusyInterval, error) {
	svc, err := c.newService(ctx, tok)
	if err != nil {
		return nil, err
	}

	var (
		busy      []interval.BusyInterval
		pageToken string
	)
	for {
		call := svc.Events.List(calendarID).
			Context(ctx).
			SingleEvents(true).
			TimeMin(window.From.Format(time.RFC3339)).
			TimeMax(window.To.Format(time.RFC3339)).
			OrderBy("startTime")
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		events, err := call.Do()
		if err != nil {
			return nil, classify(err)
		}
		for _, item := range events.Items {
			iv, ok := busyInterval(item)
			if !ok {
				continue
			}
			busy = append(busy, iv)
		}
		pageToken = events.NextPageToken
		if pageToken == "" {
			break
		}
	}
	return busy, nil
}

// CreateEvent inserts the meeting's event and returns the provider event id.
func (c *Client) CreateEvent(ctx context.Context, tok *oauth2.Token, calendarID string, ev Event) (string, error) {
	svc, err := c.newService(ctx, tok)
	if err != nil {
		return "", err
	}
	created, err := svc.Events.Insert(calendarID, googleEvent(ev)).Context(ctx).Do()
	if err != nil {
		return "", classify(err)
	}
	return created.Id, nil
}

// UpdateEvent replaces the event's times and details in place.
func (c *Client) UpdateEvent(ctx context.Context, tok *oauth2.Token, calendarID, eventID string, ev Event) error {
	svc, err := c.newService(ctx, tok)
	if err != nil {
		return err
	}
	_, err = svc.Events.Update(calendarID, eventID, googleEvent(ev)).Context(ctx).Do()
	return classify(err)
}

// DeleteEvent removes the event. An event that is already gone is treated as
// success so deletes stay idempotent across retries.
func (c *Client) DeleteEvent(ctx context.Context, tok *oauth2.Token, calendarID, eventID string) error {
	svc, err := c.newService(ctx, tok)
	if err != nil {
		return err
	}
	err = svc.Events.Delete(calendarID, eventID).Context(ctx).Do()
	if err == nil || alreadyDeleted(err) {
		return nil
	}
	return classify(err)
}

// WatchCalendar registers a push channel so calendar changes hit the webhook
// instead of waiting for the next poll. The returned channel carries the
// provider-assigned resource id and expiry.
func (c *Client) WatchCalendar(ctx context.Context, tok *oauth2.Token, calendarID, channelID, webhookURL, channelToken string) (*calendar.Channel, error) {
	svc, err := c.newService(ctx, tok)
	if err != nil {
		return nil, err
	}
	channel, err := svc.Events.Watch(calendarID, &calendar.Channel{
		Id:      channelID,
		Type:    "web_hook",
		Address: webhookURL,
		Token:   channelToken,
	}).Context(ctx).Do()
	if err != nil {
		return nil, classify(err)
	}
	return channel, nil
}

// StopChannel tears down a push channel registered with WatchCalendar.
func (c *Client) StopChannel(ctx context.Context, tok *oauth2.Token, channelID, resourceID string) error {
	svc, err := c.newService(ctx, tok)
	if err != nil {
		return err
	}
	err = svc.Channels.Stop(&calendar.Channel{Id: channelID, ResourceId: resourceID}).Context(ctx).Do()
	return classify(err)
}

func googleEvent(ev Event) *calendar.Event {
	gev := &calendar.Event{
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Slot.Location,
		Start:       &calendar.EventDateTime{DateTime: ev.Slot.Start.Format(time.RFC3339)},
		End:         &calendar.EventDateTime{DateTime: ev.Slot.End.Format(time.RFC3339)},
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{meetingIDProperty: ev.MeetingID},
		},
	}
	for _, email := range ev.Attendees {
		gev.Attendees = append(gev.Attendees, &calendar.EventAttendee{Email: email})
	}
	return gev
}

// busyInterval converts an API event into a busy interval, reporting false
// for events that do not block time.
func busyInterval(item *calendar.Event) (interval.BusyInterval, bool) {
	if item.Status == "cancelled" || item.Transparency == "transparent" {
		return interval.BusyInterval{}, false
	}
	if item.Start == nil || item.End == nil {
		return interval.BusyInterval{}, false
	}
	start, ok := eventTime(item.Start)
	if !ok {
		return interval.BusyInterval{}, false
	}
	end, ok := eventTime(item.End)
	if !ok {
		return interval.BusyInterval{}, false
	}
	slot, err := interval.NewSlot(start, end, item.Location)
	if err != nil {
		return interval.BusyInterval{}, false
	}
	return interval.BusyInterval{
		Slot:      slot,
		Source:    interval.SourceExternal,
		MeetingID: ownMeetingID(item),
		EventID:   item.Id,
		Summary:   item.Summary,
	}, true
}

// eventTime parses either a timed or an all-day boundary.
func eventTime(edt *calendar.EventDateTime) (time.Time, bool) {
	if edt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, edt.DateTime)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
	if edt.Date != "" {
		t, err := time.Parse("2006-01-02", edt.Date)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
	return time.Time{}, false
}

// ownMeetingID extracts the meeting tag this service stamps on its events.
// Empty for events created outside the service.
func ownMeetingID(item *calendar.Event) string {
	if item.ExtendedProperties == nil {
		return ""
	}
	return item.ExtendedProperties.Private[meetingIDProperty]
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if shouldRetry(err) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

// shouldRetry reports whether the failure is worth another attempt: rate
// limiting, quota exhaustion, timeouts and server-side errors.
func shouldRetry(err error) bool {
	var gErr *googleapi.Error
	if !errors.As(err, &gErr) {
		return false
	}
	for _, e := range gErr.Errors {
		switch e.Reason {
		case "rateLimitExceeded", "quotaExceeded", "userRateLimitExceeded", "backendError":
			return true
		}
	}
	switch gErr.Code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return gErr.Code >= 500
}

func alreadyDeleted(err error) bool {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		if gErr.Code == http.StatusGone || gErr.Code == http.StatusNotFound {
			return true
		}
		for _, e := range gErr.Errors {
			if e.Reason == "deleted" {
				return true
			}
		}
	}
	return false
}
