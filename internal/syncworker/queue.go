// Package syncworker applies meeting changes to the external calendar through
// a durable task queue, and reconciles confirmed meetings against the
// calendar's actual contents.
package syncworker

import (
	"context"
	"time"

	"github.com/example/contract-scheduler/internal/persistence"
)

// Store is the durable surface the queue writes through.
type Store interface {
	persistence.SyncTaskRepository
	persistence.MeetingTaskRepository
}

// Queue enqueues calendar writes. Tasks are durable: they are persisted with
// a per-meeting position before the worker ever sees them, so a crash between
// confirmation and sync loses nothing.
type Queue struct {
	store       Store
	idGenerator func() string
	now         func() time.Time
}

func NewQueue(store Store, idGenerator func() string, now func() time.Time) *Queue {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &Queue{store: store, idGenerator: idGenerator, now: now}
}

// Enqueue persists one calendar write for the meeting, due immediately.
func (q *Queue) Enqueue(ctx context.Context, meetingID string, op persistence.SyncOp) error {
	now := q.now().UTC()
	_, err := q.store.EnqueueTask(ctx, persistence.SyncTask{
		ID:            q.idGenerator(),
		MeetingID:     meetingID,
		Op:            op,
		NextAttemptAt: now,
		CreatedAt:     now,
	})
	return err
}

// EnqueueWithMeeting persists the meeting update and the calendar write it
// owes in one transaction, due immediately. A failure leaves the meeting row
// untouched.
func (q *Queue) EnqueueWithMeeting(ctx context.Context, meeting persistence.Meeting, op persistence.SyncOp) error {
	now := q.now().UTC()
	_, err := q.store.UpdateMeetingWithTask(ctx, meeting, persistence.SyncTask{
		ID:            q.idGenerator(),
		MeetingID:     meeting.ID,
		Op:            op,
		NextAttemptAt: now,
		CreatedAt:     now,
	})
	return err
}
