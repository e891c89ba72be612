package sqlite

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/example/contract-scheduler/internal/interval"
	"github.com/example/contract-scheduler/internal/persistence"
)

// CreateMeeting inserts a new meeting.
func (s *Storage) CreateMeeting(ctx context.Context, meeting persistence.Meeting) error {
	row, err := meetingToRow(meeting)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO meetings
			(id, contract_id, organizer_id, participants, candidate_slots, status,
			 confirmed_start, confirmed_end, confirmed_location, external_event_id,
			 flagged_at, flag_reason, cancelled_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, row.ID, row.ContractID, row.OrganizerID, row.Participants, row.CandidateSlots, row.Status,
		row.ConfirmedStart, row.ConfirmedEnd, row.ConfirmedLocation, row.ExternalEventID,
		row.FlaggedAt, row.FlagReason, row.CancelledAt, row.CreatedAt, row.UpdatedAt)
	return mapError(err)
}

// GetMeeting retrieves a meeting by id.
func (s *Storage) GetMeeting(ctx context.Context, id string) (persistence.Meeting, error) {
	var row meetingRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM meetings WHERE id = ?`, id); err != nil {
		return persistence.Meeting{}, mapError(err)
	}
	return row.convert()
}

// UpdateMeeting rewrites a meeting row.
func (s *Storage) UpdateMeeting(ctx context.Context, meeting persistence.Meeting) error {
	row, err := meetingToRow(meeting)
	if err != nil {
		return err
	}
	return updateMeetingRow(ctx, s.db, row)
}

func updateMeetingRow(ctx context.Context, ext sqlx.ExtContext, row meetingRow) error {
	res, err := ext.ExecContext(ctx, `
		UPDATE meetings SET
			contract_id = ?, organizer_id = ?, participants = ?, candidate_slots = ?, status = ?,
			confirmed_start = ?, confirmed_end = ?, confirmed_location = ?, external_event_id = ?,
			flagged_at = ?, flag_reason = ?, cancelled_at = ?, updated_at = ?
		WHERE id = ?
	`, row.ContractID, row.OrganizerID, row.Participants, row.CandidateSlots, row.Status,
		row.ConfirmedStart, row.ConfirmedEnd, row.ConfirmedLocation, row.ExternalEventID,
		row.FlaggedAt, row.FlagReason, row.CancelledAt, row.UpdatedAt, row.ID)
	if err != nil {
		return mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// SetExternalEventID moves only the external_event_id and updated_at columns.
// An empty id clears the column.
func (s *Storage) SetExternalEventID(ctx context.Context, meetingID, eventID string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE meetings SET external_event_id = ?, updated_at = ? WHERE id = ?
	`, nullString(eventID), fmtTime(now), meetingID)
	if err != nil {
		return mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// ListMeetings returns meetings matching the filter, ordered by creation
// time. Window filtering happens after scanning because slots are stored as
// JSON documents.
func (s *Storage) ListMeetings(ctx context.Context, filter persistence.MeetingFilter) ([]persistence.Meeting, error) {
	query := `SELECT * FROM meetings`
	where := make([]string, 0, 3)
	args := make([]interface{}, 0, 4)

	if filter.ContractID != "" {
		where = append(where, `contract_id = ?`)
		args = append(args, filter.ContractID)
	}
	if filter.ParticipantID != "" {
		where = append(where, `EXISTS (SELECT 1 FROM json_each(meetings.participants) WHERE json_each.value = ?)`)
		args = append(args, filter.ParticipantID)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			placeholders = append(placeholders, "?")
			args = append(args, string(status))
		}
		where = append(where, `status IN (`+strings.Join(placeholders, ", ")+`)`)
	}

	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at, id`

	var rows []meetingRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, mapError(err)
	}

	meetings := make([]persistence.Meeting, 0, len(rows))
	for _, row := range rows {
		meeting, err := row.convert()
		if err != nil {
			return nil, err
		}
		if filter.Window != nil && !meetingInWindow(meeting, *filter.Window) {
			continue
		}
		meetings = append(meetings, meeting)
	}
	if len(meetings) == 0 {
		return nil, nil
	}
	return meetings, nil
}

// meetingInWindow reports whether any slot of the meeting intersects the
// window: the confirmed slot when one exists, otherwise every candidate.
func meetingInWindow(meeting persistence.Meeting, window interval.Window) bool {
	if meeting.ConfirmedSlot != nil {
		return window.Contains(*meeting.ConfirmedSlot)
	}
	for _, slot := range meeting.CandidateSlots {
		if window.Contains(slot) {
			return true
		}
	}
	return false
}

func meetingToRow(meeting persistence.Meeting) (meetingRow, error) {
	participants, err := encodeStrings(meeting.ParticipantIDs)
	if err != nil {
		return meetingRow{}, err
	}
	slots, err := encodeSlots(meeting.CandidateSlots)
	if err != nil {
		return meetingRow{}, err
	}

	row := meetingRow{
		ID:              meeting.ID,
		ContractID:      meeting.ContractID,
		OrganizerID:     meeting.OrganizerID,
		Participants:    participants,
		CandidateSlots:  slots,
		Status:          string(meeting.Status),
		ExternalEventID: nullString(meeting.ExternalEventID),
		FlaggedAt:       fmtNullTime(meeting.FlaggedAt),
		FlagReason:      nullString(meeting.FlagReason),
		CancelledAt:     fmtNullTime(meeting.CancelledAt),
		CreatedAt:       fmtTime(meeting.CreatedAt),
		UpdatedAt:       fmtTime(meeting.UpdatedAt),
	}
	if meeting.ConfirmedSlot != nil {
		row.ConfirmedStart = nullString(fmtTime(meeting.ConfirmedSlot.Start))
		row.ConfirmedEnd = nullString(fmtTime(meeting.ConfirmedSlot.End))
		row.ConfirmedLocation = nullString(meeting.ConfirmedSlot.Location)
	}
	return row, nil
}
