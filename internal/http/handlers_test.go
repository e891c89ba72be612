package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/example/contract-scheduler/internal/application"
	"github.com/example/contract-scheduler/internal/interval"
	"github.com/example/contract-scheduler/internal/persistence"
	"github.com/example/contract-scheduler/internal/scheduler"
)

var testLogger = slog.New(slog.DiscardHandler)

type meetingServiceStub struct {
	proposeFn    func(ctx context.Context, params application.ProposeParams) (persistence.Meeting, error)
	confirmFn    func(ctx context.Context, meetingID string, slot interval.Slot) (application.ConfirmResult, error)
	rescheduleFn func(ctx context.Context, meetingID string, slot interval.Slot) (application.ConfirmResult, error)
	cancelFn     func(ctx context.Context, meetingID string) (persistence.Meeting, error)
	getFn        func(ctx context.Context, meetingID string) (persistence.Meeting, error)
	listFn       func(ctx context.Context, params application.ListMeetingsParams) ([]persistence.Meeting, error)
}

func (s *meetingServiceStub) Propose(ctx context.Context, params application.ProposeParams) (persistence.Meeting, error) {
	if s.proposeFn == nil {
		return persistence.Meeting{}, errors.New("unexpected Propose call")
	}
	return s.proposeFn(ctx, params)
}

func (s *meetingServiceStub) Confirm(ctx context.Context, meetingID string, slot interval.Slot) (application.ConfirmResult, error) {
	if s.confirmFn == nil {
		return application.ConfirmResult{}, errors.New("unexpected Confirm call")
	}
	return s.confirmFn(ctx, meetingID, slot)
}

func (s *meetingServiceStub) Reschedule(ctx context.Context, meetingID string, slot interval.Slot) (application.ConfirmResult, error) {
	if s.rescheduleFn == nil {
		return application.ConfirmResult{}, errors.New("unexpected Reschedule call")
	}
	return s.rescheduleFn(ctx, meetingID, slot)
}

func (s *meetingServiceStub) Cancel(ctx context.Context, meetingID string) (persistence.Meeting, error) {
	if s.cancelFn == nil {
		return persistence.Meeting{}, errors.New("unexpected Cancel call")
	}
	return s.cancelFn(ctx, meetingID)
}

func (s *meetingServiceStub) Get(ctx context.Context, meetingID string) (persistence.Meeting, error) {
	if s.getFn == nil {
		return persistence.Meeting{}, errors.New("unexpected Get call")
	}
	return s.getFn(ctx, meetingID)
}

func (s *meetingServiceStub) ListByContract(ctx context.Context, params application.ListMeetingsParams) ([]persistence.Meeting, error) {
	if s.listFn == nil {
		return nil, errors.New("unexpected ListByContract call")
	}
	return s.listFn(ctx, params)
}

type syncInspectorStub struct {
	tasks   []persistence.SyncTask
	letters []persistence.DeadLetter
	err     error
}

func (s *syncInspectorStub) ListTasksForMeeting(_ context.Context, _ string) ([]persistence.SyncTask, error) {
	return s.tasks, s.err
}

func (s *syncInspectorStub) ListDeadLettersForMeeting(_ context.Context, _ string) ([]persistence.DeadLetter, error) {
	return s.letters, s.err
}

type requeuerStub struct {
	requeued []string
	err      error
}

func (s *requeuerStub) RequeueDeadLetter(_ context.Context, deadLetterID string) error {
	if s.err != nil {
		return s.err
	}
	s.requeued = append(s.requeued, deadLetterID)
	return nil
}

type resolverHTTPStub struct {
	busy []interval.BusyInterval
	err  error

	userID string
	window interval.Window
}

func (s *resolverHTTPStub) Resolve(_ context.Context, userID string, window interval.Window) ([]interval.BusyInterval, error) {
	s.userID = userID
	s.window = window
	return s.busy, s.err
}

type exchangerStub struct {
	exchanged struct {
		userID string
		code   string
	}
	err error
}

func (s *exchangerStub) AuthCodeURL(state string) string {
	return "https://accounts.example.com/auth?state=" + state
}

func (s *exchangerStub) Exchange(_ context.Context, userID, code string) (persistence.CalendarCredential, error) {
	if s.err != nil {
		return persistence.CalendarCredential{}, s.err
	}
	s.exchanged.userID = userID
	s.exchanged.code = code
	return persistence.CalendarCredential{UserID: userID, ProviderAccount: userID + "@example.com"}, nil
}

type kickerStub struct {
	kicks int
}

func (s *kickerStub) Kick() { s.kicks++ }

func mustSlot(t *testing.T, start, end string) interval.Slot {
	t.Helper()
	from, err := time.Parse(time.RFC3339, start)
	if err != nil {
		t.Fatalf("parse start: %v", err)
	}
	to, err := time.Parse(time.RFC3339, end)
	if err != nil {
		t.Fatalf("parse end: %v", err)
	}
	slot, err := interval.NewSlot(from, to, "")
	if err != nil {
		t.Fatalf("new slot: %v", err)
	}
	return slot
}

func sampleMeeting(t *testing.T) persistence.Meeting {
	t.Helper()
	return persistence.Meeting{
		ID:             "meeting-1",
		ContractID:     "contract-1",
		OrganizerID:    "user-1",
		ParticipantIDs: []string{"user-2"},
		CandidateSlots: []interval.Slot{mustSlot(t, "2026-09-01T09:00:00Z", "2026-09-01T10:00:00Z")},
		Status:         persistence.MeetingProposed,
		CreatedAt:      time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
		UpdatedAt:      time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}
}

func serveRequest(handler http.Handler, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	for key, value := range header {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
}

func TestProposeMeeting(t *testing.T) {
	service := &meetingServiceStub{
		proposeFn: func(_ context.Context, params application.ProposeParams) (persistence.Meeting, error) {
			if params.ContractID != "contract-1" {
				t.Fatalf("unexpected contract id %q", params.ContractID)
			}
			if len(params.CandidateSlots) != 1 {
				t.Fatalf("expected 1 candidate slot, got %d", len(params.CandidateSlots))
			}
			meeting := persistence.Meeting{
				ID:             "meeting-1",
				ContractID:     params.ContractID,
				OrganizerID:    params.OrganizerID,
				ParticipantIDs: params.ParticipantIDs,
				CandidateSlots: params.CandidateSlots,
				Status:         persistence.MeetingProposed,
			}
			return meeting, nil
		},
	}
	router := NewRouter(RouterConfig{Meetings: NewMeetingHandler(service, &syncInspectorStub{}, &requeuerStub{}, testLogger)})

	body := `{
		"contract_id": "contract-1",
		"organizer_id": "user-1",
		"participant_ids": ["user-2"],
		"candidate_slots": [{"start": "2026-09-01T09:00:00Z", "end": "2026-09-01T10:00:00Z"}]
	}`
	rec := serveRequest(router, http.MethodPost, "/meetings", body, nil)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp meetingResponse
	decodeBody(t, rec, &resp)
	if resp.Meeting.ID != "meeting-1" || resp.Meeting.Status != "proposed" {
		t.Fatalf("unexpected meeting payload: %+v", resp.Meeting)
	}
}

func TestProposeMeetingRejectsMalformedBody(t *testing.T) {
	router := NewRouter(RouterConfig{Meetings: NewMeetingHandler(&meetingServiceStub{}, &syncInspectorStub{}, &requeuerStub{}, testLogger)})

	rec := serveRequest(router, http.MethodPost, "/meetings", "{not json", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestProposeMeetingValidationErrors(t *testing.T) {
	service := &meetingServiceStub{
		proposeFn: func(context.Context, application.ProposeParams) (persistence.Meeting, error) {
			return persistence.Meeting{}, &application.ValidationError{
				FieldErrors: map[string]string{"contract_id": "contract_id is required"},
			}
		},
	}
	router := NewRouter(RouterConfig{Meetings: NewMeetingHandler(service, &syncInspectorStub{}, &requeuerStub{}, testLogger)})

	rec := serveRequest(router, http.MethodPost, "/meetings", `{"organizer_id": "user-1"}`, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	var resp errorResponse
	decodeBody(t, rec, &resp)
	if resp.Errors["contract_id"] == "" {
		t.Fatalf("expected contract_id field error, got %+v", resp.Errors)
	}
}

func TestConfirmMeetingReportsConflicts(t *testing.T) {
	meeting := sampleMeeting(t)
	meeting.Status = persistence.MeetingConflicted
	service := &meetingServiceStub{
		confirmFn: func(_ context.Context, meetingID string, slot interval.Slot) (application.ConfirmResult, error) {
			if meetingID != "meeting-1" {
				t.Fatalf("unexpected meeting id %q", meetingID)
			}
			report := scheduler.Report{Conflicts: []scheduler.Conflict{{
				ParticipantID: "user-2",
				Interval: interval.BusyInterval{
					Slot:   slot,
					Source: interval.SourceExternal,
				},
			}}}
			return application.ConfirmResult{Meeting: meeting, Conflicts: report}, nil
		},
	}
	router := NewRouter(RouterConfig{Meetings: NewMeetingHandler(service, &syncInspectorStub{}, &requeuerStub{}, testLogger)})

	body := `{"slot": {"start": "2026-09-01T09:00:00Z", "end": "2026-09-01T10:00:00Z"}}`
	rec := serveRequest(router, http.MethodPost, "/meetings/meeting-1/confirm", body, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp confirmResponse
	decodeBody(t, rec, &resp)
	if resp.Meeting.Status != "conflicted" {
		t.Fatalf("expected conflicted meeting, got %q", resp.Meeting.Status)
	}
	if len(resp.Conflicts) != 1 || resp.Conflicts[0].ParticipantID != "user-2" {
		t.Fatalf("unexpected conflicts: %+v", resp.Conflicts)
	}
}

func TestConfirmMeetingInvalidTransition(t *testing.T) {
	service := &meetingServiceStub{
		confirmFn: func(context.Context, string, interval.Slot) (application.ConfirmResult, error) {
			return application.ConfirmResult{}, application.ErrInvalidTransition
		},
	}
	router := NewRouter(RouterConfig{Meetings: NewMeetingHandler(service, &syncInspectorStub{}, &requeuerStub{}, testLogger)})

	body := `{"slot": {"start": "2026-09-01T09:00:00Z", "end": "2026-09-01T10:00:00Z"}}`
	rec := serveRequest(router, http.MethodPost, "/meetings/meeting-1/confirm", body, nil)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var resp errorResponse
	decodeBody(t, rec, &resp)
	if resp.ErrorCode != "INVALID_TRANSITION" {
		t.Fatalf("unexpected error code %q", resp.ErrorCode)
	}
}

func TestRescheduleMeetingRejectsBadSlot(t *testing.T) {
	router := NewRouter(RouterConfig{Meetings: NewMeetingHandler(&meetingServiceStub{}, &syncInspectorStub{}, &requeuerStub{}, testLogger)})

	body := `{"slot": {"start": "2026-09-01T10:00:00Z", "end": "2026-09-01T09:00:00Z"}}`
	rec := serveRequest(router, http.MethodPost, "/meetings/meeting-1/reschedule", body, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetMeetingNotFound(t *testing.T) {
	service := &meetingServiceStub{
		getFn: func(context.Context, string) (persistence.Meeting, error) {
			return persistence.Meeting{}, application.ErrNotFound
		},
	}
	router := NewRouter(RouterConfig{Meetings: NewMeetingHandler(service, &syncInspectorStub{}, &requeuerStub{}, testLogger)})

	rec := serveRequest(router, http.MethodGet, "/meetings/missing", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCancelMeeting(t *testing.T) {
	meeting := sampleMeeting(t)
	meeting.Status = persistence.MeetingCancelled
	cancelled := time.Date(2026, 8, 30, 13, 0, 0, 0, time.UTC)
	meeting.CancelledAt = &cancelled
	service := &meetingServiceStub{
		cancelFn: func(_ context.Context, meetingID string) (persistence.Meeting, error) {
			if meetingID != "meeting-1" {
				t.Fatalf("unexpected meeting id %q", meetingID)
			}
			return meeting, nil
		},
	}
	router := NewRouter(RouterConfig{Meetings: NewMeetingHandler(service, &syncInspectorStub{}, &requeuerStub{}, testLogger)})

	rec := serveRequest(router, http.MethodPost, "/meetings/meeting-1/cancel", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp meetingResponse
	decodeBody(t, rec, &resp)
	if resp.Meeting.Status != "cancelled" || resp.Meeting.CancelledAt == "" {
		t.Fatalf("unexpected meeting payload: %+v", resp.Meeting)
	}
}

func TestListMeetingsByContract(t *testing.T) {
	service := &meetingServiceStub{
		listFn: func(_ context.Context, params application.ListMeetingsParams) ([]persistence.Meeting, error) {
			if params.ContractID != "contract-1" {
				t.Fatalf("unexpected contract id %q", params.ContractID)
			}
			if len(params.Statuses) != 1 || params.Statuses[0] != persistence.MeetingConfirmed {
				t.Fatalf("unexpected statuses %+v", params.Statuses)
			}
			meeting := sampleMeeting(t)
			meeting.Status = persistence.MeetingConfirmed
			return []persistence.Meeting{meeting}, nil
		},
	}
	router := NewRouter(RouterConfig{Meetings: NewMeetingHandler(service, &syncInspectorStub{}, &requeuerStub{}, testLogger)})

	rec := serveRequest(router, http.MethodGet, "/contracts/contract-1/meetings?status=confirmed", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp listMeetingsResponse
	decodeBody(t, rec, &resp)
	if len(resp.Meetings) != 1 {
		t.Fatalf("expected 1 meeting, got %d", len(resp.Meetings))
	}
}

func TestSyncStatus(t *testing.T) {
	meeting := sampleMeeting(t)
	meeting.Status = persistence.MeetingSyncFailed
	service := &meetingServiceStub{
		getFn: func(context.Context, string) (persistence.Meeting, error) { return meeting, nil },
	}
	inspector := &syncInspectorStub{
		tasks: []persistence.SyncTask{{
			ID: "task-1", MeetingID: "meeting-1", Op: persistence.SyncOpCreate,
			Position: 1, Attempts: 2, NextAttemptAt: time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC),
			LastError: "rate limited",
		}},
		letters: []persistence.DeadLetter{{
			ID: "letter-1", MeetingID: "meeting-1", Op: persistence.SyncOpUpdate,
			Attempts: 5, Reason: "backend error",
			CreatedAt: time.Date(2026, 8, 30, 13, 0, 0, 0, time.UTC),
		}},
	}
	router := NewRouter(RouterConfig{Meetings: NewMeetingHandler(service, inspector, &requeuerStub{}, testLogger)})

	rec := serveRequest(router, http.MethodGet, "/meetings/meeting-1/sync", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp syncStatusResponse
	decodeBody(t, rec, &resp)
	if resp.Status != "sync_failed" {
		t.Fatalf("unexpected status %q", resp.Status)
	}
	if len(resp.Tasks) != 1 || resp.Tasks[0].LastError != "rate limited" {
		t.Fatalf("unexpected tasks: %+v", resp.Tasks)
	}
	if len(resp.DeadLetters) != 1 || resp.DeadLetters[0].ID != "letter-1" {
		t.Fatalf("unexpected dead letters: %+v", resp.DeadLetters)
	}
}

func TestRetrySyncSpecificDeadLetter(t *testing.T) {
	requeuer := &requeuerStub{}
	router := NewRouter(RouterConfig{Meetings: NewMeetingHandler(&meetingServiceStub{}, &syncInspectorStub{}, requeuer, testLogger)})

	rec := serveRequest(router, http.MethodPost, "/meetings/meeting-1/sync/retry", `{"dead_letter_id": "letter-1"}`, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(requeuer.requeued) != 1 || requeuer.requeued[0] != "letter-1" {
		t.Fatalf("unexpected requeues: %+v", requeuer.requeued)
	}
}

func TestRetrySyncAllDeadLetters(t *testing.T) {
	requeuer := &requeuerStub{}
	inspector := &syncInspectorStub{letters: []persistence.DeadLetter{
		{ID: "letter-1", MeetingID: "meeting-1"},
		{ID: "letter-2", MeetingID: "meeting-1"},
	}}
	router := NewRouter(RouterConfig{Meetings: NewMeetingHandler(&meetingServiceStub{}, inspector, requeuer, testLogger)})

	rec := serveRequest(router, http.MethodPost, "/meetings/meeting-1/sync/retry", "", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp retrySyncResponse
	decodeBody(t, rec, &resp)
	if resp.Requeued != 2 || len(requeuer.requeued) != 2 {
		t.Fatalf("expected 2 requeues, got %+v / %+v", resp, requeuer.requeued)
	}
}

func TestRetrySyncWithoutDeadLetters(t *testing.T) {
	router := NewRouter(RouterConfig{Meetings: NewMeetingHandler(&meetingServiceStub{}, &syncInspectorStub{}, &requeuerStub{}, testLogger)})

	rec := serveRequest(router, http.MethodPost, "/meetings/meeting-1/sync/retry", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAvailability(t *testing.T) {
	resolver := &resolverHTTPStub{busy: []interval.BusyInterval{{
		Slot:    mustSlot(t, "2026-09-01T09:00:00Z", "2026-09-01T10:00:00Z"),
		Source:  interval.SourceExternal,
		EventID: "evt-1",
	}}}
	router := NewRouter(RouterConfig{Availability: NewAvailabilityHandler(resolver, testLogger)})

	rec := serveRequest(router, http.MethodGet, "/users/user-1/availability?from=2026-09-01T00:00:00Z&to=2026-09-02T00:00:00Z", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if resolver.userID != "user-1" {
		t.Fatalf("unexpected user id %q", resolver.userID)
	}
	var resp availabilityResponse
	decodeBody(t, rec, &resp)
	if len(resp.Busy) != 1 || resp.Busy[0].EventID != "evt-1" {
		t.Fatalf("unexpected busy list: %+v", resp.Busy)
	}
}

func TestAvailabilityRejectsInvalidWindow(t *testing.T) {
	router := NewRouter(RouterConfig{Availability: NewAvailabilityHandler(&resolverHTTPStub{}, testLogger)})

	for _, target := range []string{
		"/users/user-1/availability",
		"/users/user-1/availability?from=bogus&to=2026-09-02T00:00:00Z",
		"/users/user-1/availability?from=2026-09-02T00:00:00Z&to=2026-09-01T00:00:00Z",
	} {
		rec := serveRequest(router, http.MethodGet, target, "", nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", target, rec.Code)
		}
	}
}

func TestOAuthAuthorizeURLAndCallback(t *testing.T) {
	store := &exchangerStub{}
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	handler := NewOAuthHandler(store, func() string { return "state-1" }, func() time.Time { return now }, testLogger)
	router := NewRouter(RouterConfig{OAuth: handler})

	rec := serveRequest(router, http.MethodGet, "/oauth/authorize-url?user_id=user-1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var authResp authorizeURLResponse
	decodeBody(t, rec, &authResp)
	if !strings.Contains(authResp.URL, "state=state-1") {
		t.Fatalf("expected state in consent URL, got %q", authResp.URL)
	}

	rec = serveRequest(router, http.MethodGet, "/oauth/callback?state=state-1&code=code-1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if store.exchanged.userID != "user-1" || store.exchanged.code != "code-1" {
		t.Fatalf("unexpected exchange: %+v", store.exchanged)
	}

	// The state is single use.
	rec = serveRequest(router, http.MethodGet, "/oauth/callback?state=state-1&code=code-2", "", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 on reused state, got %d", rec.Code)
	}
}

func TestOAuthCallbackRejectsExpiredState(t *testing.T) {
	store := &exchangerStub{}
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	handler := NewOAuthHandler(store, func() string { return "state-1" }, func() time.Time { return now }, testLogger)
	router := NewRouter(RouterConfig{OAuth: handler})

	rec := serveRequest(router, http.MethodGet, "/oauth/authorize-url?user_id=user-1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	now = now.Add(stateTTL + time.Second)
	rec = serveRequest(router, http.MethodGet, "/oauth/callback?state=state-1&code=code-1", "", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 on expired state, got %d", rec.Code)
	}
}

func TestOAuthAuthorizeURLRequiresUserID(t *testing.T) {
	handler := NewOAuthHandler(&exchangerStub{}, func() string { return "state-1" }, nil, testLogger)
	router := NewRouter(RouterConfig{OAuth: handler})

	rec := serveRequest(router, http.MethodGet, "/oauth/authorize-url", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestWebhookRequiresChannelToken(t *testing.T) {
	kicker := &kickerStub{}
	router := NewRouter(RouterConfig{Webhooks: NewWebhookHandler("secret-token", kicker, testLogger)})

	rec := serveRequest(router, http.MethodPost, "/webhooks/google", "", map[string]string{"X-Goog-Channel-Token": "wrong"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if kicker.kicks != 0 {
		t.Fatalf("expected no kicks, got %d", kicker.kicks)
	}
}

func TestWebhookKicksReconciliation(t *testing.T) {
	kicker := &kickerStub{}
	router := NewRouter(RouterConfig{Webhooks: NewWebhookHandler("secret-token", kicker, testLogger)})

	rec := serveRequest(router, http.MethodPost, "/webhooks/google", "", map[string]string{
		"X-Goog-Channel-Token":  "secret-token",
		"X-Goog-Resource-State": "exists",
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if kicker.kicks != 1 {
		t.Fatalf("expected 1 kick, got %d", kicker.kicks)
	}
}

func TestWebhookSyncMessageSkipsReconciliation(t *testing.T) {
	kicker := &kickerStub{}
	router := NewRouter(RouterConfig{Webhooks: NewWebhookHandler("secret-token", kicker, testLogger)})

	rec := serveRequest(router, http.MethodPost, "/webhooks/google", "", map[string]string{
		"X-Goog-Channel-Token":  "secret-token",
		"X-Goog-Resource-State": "sync",
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if kicker.kicks != 0 {
		t.Fatalf("expected no kicks, got %d", kicker.kicks)
	}
}

func TestRouterMethodNotAllowed(t *testing.T) {
	router := NewRouter(RouterConfig{
		Meetings: NewMeetingHandler(&meetingServiceStub{}, &syncInspectorStub{}, &requeuerStub{}, testLogger),
		Webhooks: NewWebhookHandler("secret-token", &kickerStub{}, testLogger),
	})

	cases := []struct {
		method string
		target string
	}{
		{http.MethodGet, "/meetings"},
		{http.MethodDelete, "/meetings/meeting-1"},
		{http.MethodGet, "/meetings/meeting-1/confirm"},
		{http.MethodGet, "/webhooks/google"},
	}
	for _, tc := range cases {
		rec := serveRequest(router, tc.method, tc.target, "", nil)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s %s: expected 405, got %d", tc.method, tc.target, rec.Code)
		}
	}
}

func TestRequestLoggerInjectsContextLogger(t *testing.T) {
	var sawLogger bool
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawLogger = LoggerFromContext(r.Context()) != nil
		w.WriteHeader(http.StatusNoContent)
	})
	handler := RequestLogger(testLogger)(inner)

	rec := serveRequest(handler, http.MethodGet, "/meetings/meeting-1", "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if !sawLogger {
		t.Fatal("expected request-scoped logger in context")
	}
}
