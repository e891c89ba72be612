package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/contract-scheduler/internal/interval"
	"github.com/example/contract-scheduler/internal/persistence"
)

func openStorage(t *testing.T) *Storage {
	t.Helper()
	storage, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() { storage.Close() })
	if err := storage.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate returned error: %v", err)
	}
	return storage
}

func testTime(t *testing.T, hour, minute int) time.Time {
	t.Helper()
	return time.Date(2026, time.March, 10, hour, minute, 0, 0, time.UTC)
}

func testSlot(t *testing.T, startHour, endHour int) interval.Slot {
	t.Helper()
	return interval.Slot{Start: testTime(t, startHour, 0), End: testTime(t, endHour, 0), Location: "UTC"}
}

func TestCredentialUpsertReplacesTokenPair(t *testing.T) {
	storage := openStorage(t)
	ctx := context.Background()
	now := testTime(t, 9, 0)

	first := persistence.CalendarCredential{
		ID:              "cred-1",
		UserID:          "alice@example.com",
		ProviderAccount: "alice@gmail.com",
		AccessToken:     "access-1",
		RefreshToken:    "refresh-1",
		TokenType:       "Bearer",
		Expiry:          now.Add(time.Hour),
		Scopes:          []string{"calendar.events"},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if _, err := storage.UpsertCredential(ctx, first); err != nil {
		t.Fatalf("UpsertCredential returned error: %v", err)
	}

	second := first
	second.ID = "cred-2"
	second.AccessToken = "access-2"
	second.RefreshToken = "refresh-2"
	stored, err := storage.UpsertCredential(ctx, second)
	if err != nil {
		t.Fatalf("second UpsertCredential returned error: %v", err)
	}

	if stored.ID != "cred-1" {
		t.Fatalf("upsert should keep the original row id, got %s", stored.ID)
	}
	if stored.AccessToken != "access-2" || stored.RefreshToken != "refresh-2" {
		t.Fatalf("upsert did not replace the token pair: %+v", stored)
	}

	byUser, err := storage.GetCredentialForUser(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("GetCredentialForUser returned error: %v", err)
	}
	if byUser.AccessToken != "access-2" {
		t.Fatalf("lookup by user returned stale tokens: %+v", byUser)
	}
}

func TestRotateTokensReplacesStoredPair(t *testing.T) {
	storage := openStorage(t)
	ctx := context.Background()
	now := testTime(t, 9, 0)

	cred := persistence.CalendarCredential{
		ID:              "cred-1",
		UserID:          "alice@example.com",
		ProviderAccount: "alice@gmail.com",
		AccessToken:     "old-access",
		RefreshToken:    "old-refresh",
		TokenType:       "Bearer",
		Expiry:          now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if _, err := storage.UpsertCredential(ctx, cred); err != nil {
		t.Fatalf("UpsertCredential returned error: %v", err)
	}

	expiry := now.Add(time.Hour)
	if err := storage.RotateTokens(ctx, "cred-1", "new-access", "new-refresh", "Bearer", expiry, now); err != nil {
		t.Fatalf("RotateTokens returned error: %v", err)
	}

	stored, err := storage.GetCredential(ctx, "cred-1")
	if err != nil {
		t.Fatalf("GetCredential returned error: %v", err)
	}
	if stored.AccessToken != "new-access" || stored.RefreshToken != "new-refresh" {
		t.Fatalf("rotation left stale tokens: %+v", stored)
	}
	if !stored.Expiry.Equal(expiry) {
		t.Fatalf("unexpected expiry: %v", stored.Expiry)
	}

	if err := storage.RotateTokens(ctx, "missing", "a", "b", "Bearer", expiry, now); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown credential, got %v", err)
	}
}

func TestMeetingRoundTrip(t *testing.T) {
	storage := openStorage(t)
	ctx := context.Background()
	now := testTime(t, 8, 0)

	meeting := persistence.Meeting{
		ID:             "mtg-1",
		ContractID:     "contract-1",
		OrganizerID:    "alice@example.com",
		ParticipantIDs: []string{"alice@example.com", "bob@example.com"},
		CandidateSlots: []interval.Slot{testSlot(t, 10, 11), testSlot(t, 14, 15)},
		Status:         persistence.MeetingProposed,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := storage.CreateMeeting(ctx, meeting); err != nil {
		t.Fatalf("CreateMeeting returned error: %v", err)
	}

	stored, err := storage.GetMeeting(ctx, "mtg-1")
	if err != nil {
		t.Fatalf("GetMeeting returned error: %v", err)
	}
	if len(stored.CandidateSlots) != 2 {
		t.Fatalf("expected 2 candidate slots, got %d", len(stored.CandidateSlots))
	}
	if !stored.CandidateSlots[0].Equal(testSlot(t, 10, 11)) {
		t.Fatalf("candidate slot order not preserved: %+v", stored.CandidateSlots)
	}
	if stored.ConfirmedSlot != nil {
		t.Fatalf("proposed meeting should have no confirmed slot")
	}

	confirmed := testSlot(t, 10, 11)
	stored.Status = persistence.MeetingConfirmed
	stored.ConfirmedSlot = &confirmed
	stored.ExternalEventID = "ev-1"
	stored.UpdatedAt = now.Add(time.Minute)
	if err := storage.UpdateMeeting(ctx, stored); err != nil {
		t.Fatalf("UpdateMeeting returned error: %v", err)
	}

	updated, err := storage.GetMeeting(ctx, "mtg-1")
	if err != nil {
		t.Fatalf("GetMeeting after update returned error: %v", err)
	}
	if updated.Status != persistence.MeetingConfirmed || updated.ConfirmedSlot == nil {
		t.Fatalf("confirmation not persisted: %+v", updated)
	}
	if !updated.ConfirmedSlot.Equal(confirmed) {
		t.Fatalf("unexpected confirmed slot: %v", updated.ConfirmedSlot)
	}
	if updated.ExternalEventID != "ev-1" {
		t.Fatalf("external event id not persisted: %q", updated.ExternalEventID)
	}
}

func TestSetExternalEventIDLeavesOtherColumnsAlone(t *testing.T) {
	storage := openStorage(t)
	ctx := context.Background()
	now := testTime(t, 8, 0)

	confirmed := testSlot(t, 10, 11)
	meeting := persistence.Meeting{
		ID: "mtg-1", ContractID: "contract-1", OrganizerID: "alice@example.com",
		ParticipantIDs: []string{"alice@example.com"},
		CandidateSlots: []interval.Slot{confirmed},
		Status:         persistence.MeetingConfirmed, ConfirmedSlot: &confirmed,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := storage.CreateMeeting(ctx, meeting); err != nil {
		t.Fatalf("CreateMeeting returned error: %v", err)
	}

	// A cancel lands between a reader's snapshot and the event id write.
	cancelledAt := now.Add(time.Minute)
	meeting.Status = persistence.MeetingCancelled
	meeting.CancelledAt = &cancelledAt
	meeting.UpdatedAt = cancelledAt
	if err := storage.UpdateMeeting(ctx, meeting); err != nil {
		t.Fatalf("UpdateMeeting returned error: %v", err)
	}

	if err := storage.SetExternalEventID(ctx, "mtg-1", "ev-1", now.Add(2*time.Minute)); err != nil {
		t.Fatalf("SetExternalEventID returned error: %v", err)
	}
	stored, err := storage.GetMeeting(ctx, "mtg-1")
	if err != nil {
		t.Fatalf("GetMeeting returned error: %v", err)
	}
	if stored.ExternalEventID != "ev-1" {
		t.Fatalf("external event id not recorded: %q", stored.ExternalEventID)
	}
	if stored.Status != persistence.MeetingCancelled || stored.CancelledAt == nil {
		t.Fatalf("the cancellation must survive the event id write: %+v", stored)
	}

	if err := storage.SetExternalEventID(ctx, "mtg-1", "", now.Add(3*time.Minute)); err != nil {
		t.Fatalf("clearing the event id returned error: %v", err)
	}
	stored, _ = storage.GetMeeting(ctx, "mtg-1")
	if stored.ExternalEventID != "" {
		t.Fatalf("external event id not cleared: %q", stored.ExternalEventID)
	}

	if err := storage.SetExternalEventID(ctx, "missing", "ev-2", now); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown meeting, got %v", err)
	}
}

func TestUpdateMeetingWithTaskIsAtomic(t *testing.T) {
	storage := openStorage(t)
	ctx := context.Background()
	now := testTime(t, 8, 0)

	meeting := persistence.Meeting{
		ID: "mtg-1", ContractID: "contract-1", OrganizerID: "alice@example.com",
		ParticipantIDs: []string{"alice@example.com"},
		CandidateSlots: []interval.Slot{testSlot(t, 10, 11)},
		Status:         persistence.MeetingProposed, CreatedAt: now, UpdatedAt: now,
	}
	if err := storage.CreateMeeting(ctx, meeting); err != nil {
		t.Fatalf("CreateMeeting returned error: %v", err)
	}
	if _, err := storage.EnqueueTask(ctx, persistence.SyncTask{
		ID: "task-1", MeetingID: "mtg-1", Op: persistence.SyncOpCreate,
		NextAttemptAt: now, CreatedAt: now,
	}); err != nil {
		t.Fatalf("EnqueueTask returned error: %v", err)
	}

	confirmed := testSlot(t, 10, 11)
	meeting.Status = persistence.MeetingConfirmed
	meeting.ConfirmedSlot = &confirmed
	meeting.UpdatedAt = now.Add(time.Minute)

	// A task insert that violates the primary key must roll the meeting
	// update back with it.
	_, err := storage.UpdateMeetingWithTask(ctx, meeting, persistence.SyncTask{
		ID: "task-1", MeetingID: "mtg-1", Op: persistence.SyncOpUpdate,
		NextAttemptAt: now, CreatedAt: now,
	})
	if !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	stored, _ := storage.GetMeeting(ctx, "mtg-1")
	if stored.Status != persistence.MeetingProposed {
		t.Fatalf("status = %q, the failed enqueue must roll the status write back", stored.Status)
	}

	task, err := storage.UpdateMeetingWithTask(ctx, meeting, persistence.SyncTask{
		ID: "task-2", MeetingID: "mtg-1", Op: persistence.SyncOpUpdate,
		NextAttemptAt: now, CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("UpdateMeetingWithTask returned error: %v", err)
	}
	if task.Position != 2 {
		t.Fatalf("position = %d, want the next per-meeting position", task.Position)
	}
	stored, _ = storage.GetMeeting(ctx, "mtg-1")
	if stored.Status != persistence.MeetingConfirmed {
		t.Fatalf("status = %q, want confirmed after the coupled write", stored.Status)
	}
}

func TestListMeetingsFilters(t *testing.T) {
	storage := openStorage(t)
	ctx := context.Background()
	now := testTime(t, 8, 0)

	seed := []persistence.Meeting{
		{
			ID: "mtg-1", ContractID: "contract-1", OrganizerID: "alice@example.com",
			ParticipantIDs: []string{"alice@example.com", "bob@example.com"},
			CandidateSlots: []interval.Slot{testSlot(t, 10, 11)},
			Status:         persistence.MeetingProposed, CreatedAt: now, UpdatedAt: now,
		},
		{
			ID: "mtg-2", ContractID: "contract-1", OrganizerID: "alice@example.com",
			ParticipantIDs: []string{"alice@example.com"},
			CandidateSlots: []interval.Slot{testSlot(t, 12, 13)},
			Status:         persistence.MeetingCancelled, CreatedAt: now.Add(time.Minute), UpdatedAt: now,
		},
		{
			ID: "mtg-3", ContractID: "contract-2", OrganizerID: "bob@example.com",
			ParticipantIDs: []string{"bob@example.com"},
			CandidateSlots: []interval.Slot{testSlot(t, 16, 17)},
			Status:         persistence.MeetingConfirmed, CreatedAt: now.Add(2 * time.Minute), UpdatedAt: now,
		},
	}
	for _, meeting := range seed {
		if err := storage.CreateMeeting(ctx, meeting); err != nil {
			t.Fatalf("CreateMeeting(%s) returned error: %v", meeting.ID, err)
		}
	}

	byContract, err := storage.ListMeetings(ctx, persistence.MeetingFilter{ContractID: "contract-1"})
	if err != nil {
		t.Fatalf("ListMeetings by contract returned error: %v", err)
	}
	if len(byContract) != 2 {
		t.Fatalf("expected 2 meetings for contract-1, got %d", len(byContract))
	}

	active, err := storage.ListMeetings(ctx, persistence.MeetingFilter{
		ParticipantID: "bob@example.com",
		Statuses:      []persistence.MeetingStatus{persistence.MeetingProposed, persistence.MeetingConfirmed},
	})
	if err != nil {
		t.Fatalf("ListMeetings by participant returned error: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active meetings for bob, got %d", len(active))
	}

	window := &interval.Window{From: testTime(t, 15, 0), To: testTime(t, 18, 0)}
	inWindow, err := storage.ListMeetings(ctx, persistence.MeetingFilter{ParticipantID: "bob@example.com", Window: window})
	if err != nil {
		t.Fatalf("ListMeetings with window returned error: %v", err)
	}
	if len(inWindow) != 1 || inWindow[0].ID != "mtg-3" {
		t.Fatalf("expected only mtg-3 in the window, got %+v", inWindow)
	}
}

func TestSyncTaskOrderingSurvivesRoundTrip(t *testing.T) {
	storage := openStorage(t)
	ctx := context.Background()
	now := testTime(t, 8, 0)

	meeting := persistence.Meeting{
		ID: "mtg-1", ContractID: "contract-1", OrganizerID: "alice@example.com",
		ParticipantIDs: []string{"alice@example.com"},
		CandidateSlots: []interval.Slot{testSlot(t, 10, 11)},
		Status:         persistence.MeetingConfirmed, CreatedAt: now, UpdatedAt: now,
	}
	if err := storage.CreateMeeting(ctx, meeting); err != nil {
		t.Fatalf("CreateMeeting returned error: %v", err)
	}

	ops := []persistence.SyncOp{persistence.SyncOpCreate, persistence.SyncOpUpdate, persistence.SyncOpDelete}
	for i, op := range ops {
		task := persistence.SyncTask{
			ID: "task-" + string(op), MeetingID: "mtg-1", Op: op,
			NextAttemptAt: now, CreatedAt: now.Add(time.Duration(i) * time.Second),
		}
		if _, err := storage.EnqueueTask(ctx, task); err != nil {
			t.Fatalf("EnqueueTask(%s) returned error: %v", op, err)
		}
	}

	// Only the head of the meeting's queue may run, even though all three
	// tasks are due.
	due, err := storage.DueTasks(ctx, now.Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("DueTasks returned error: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("expected only the head task to be due, got %d", len(due))
	}
	if due[0].Op != persistence.SyncOpCreate {
		t.Fatalf("expected the create task first, got %s", due[0].Op)
	}

	// A retried head still blocks its siblings.
	if err := storage.RescheduleTask(ctx, due[0].ID, 1, now.Add(time.Hour), "rate limited"); err != nil {
		t.Fatalf("RescheduleTask returned error: %v", err)
	}
	due, err = storage.DueTasks(ctx, now.Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("DueTasks after reschedule returned error: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("expected no due tasks while the head is backing off, got %+v", due)
	}

	// Completing the head unblocks the next op in enqueue order.
	if err := storage.DeleteTask(ctx, "task-create"); err != nil {
		t.Fatalf("DeleteTask returned error: %v", err)
	}
	due, err = storage.DueTasks(ctx, now.Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("DueTasks after completion returned error: %v", err)
	}
	if len(due) != 1 || due[0].Op != persistence.SyncOpUpdate {
		t.Fatalf("expected the update task next, got %+v", due)
	}
}

func TestDeadLetterRoundTrip(t *testing.T) {
	storage := openStorage(t)
	ctx := context.Background()
	now := testTime(t, 8, 0)

	letter := persistence.DeadLetter{
		ID: "dl-1", MeetingID: "mtg-1", Op: persistence.SyncOpCreate,
		Attempts: 5, Reason: "calendar unavailable", CreatedAt: now,
	}
	if err := storage.CreateDeadLetter(ctx, letter); err != nil {
		t.Fatalf("CreateDeadLetter returned error: %v", err)
	}

	letters, err := storage.ListDeadLettersForMeeting(ctx, "mtg-1")
	if err != nil {
		t.Fatalf("ListDeadLettersForMeeting returned error: %v", err)
	}
	if len(letters) != 1 || letters[0].Reason != "calendar unavailable" {
		t.Fatalf("unexpected dead letters: %+v", letters)
	}

	if err := storage.DeleteDeadLetter(ctx, "dl-1"); err != nil {
		t.Fatalf("DeleteDeadLetter returned error: %v", err)
	}
	if _, err := storage.GetDeadLetter(ctx, "dl-1"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestNotificationJobLifecycle(t *testing.T) {
	storage := openStorage(t)
	ctx := context.Background()
	now := testTime(t, 8, 0)

	job := persistence.NotificationJob{
		ID: "job-1", Recipient: "alice@example.com", Kind: "meeting_confirmed",
		Payload: []byte(`{"meeting_id":"mtg-1"}`), Status: persistence.NotificationPending,
		NextAttemptAt: now, CreatedAt: now, UpdatedAt: now,
	}
	if err := storage.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob returned error: %v", err)
	}

	due, err := storage.DueJobs(ctx, now, 10)
	if err != nil {
		t.Fatalf("DueJobs returned error: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("expected 1 due job, got %d", len(due))
	}

	if err := storage.RescheduleJob(ctx, "job-1", 1, now.Add(time.Minute), "connection refused", now); err != nil {
		t.Fatalf("RescheduleJob returned error: %v", err)
	}
	due, err = storage.DueJobs(ctx, now, 10)
	if err != nil {
		t.Fatalf("DueJobs after reschedule returned error: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("rescheduled job should not be due yet, got %+v", due)
	}

	if err := storage.MarkSent(ctx, "job-1", now.Add(2*time.Minute)); err != nil {
		t.Fatalf("MarkSent returned error: %v", err)
	}
	stored, err := storage.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetJob returned error: %v", err)
	}
	if stored.Status != persistence.NotificationSent {
		t.Fatalf("expected sent status, got %s", stored.Status)
	}
}
