package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/contract-scheduler/internal/interval"
	"github.com/example/contract-scheduler/internal/persistence"
)

type credentialRow struct {
	ID              string `db:"id"`
	UserID          string `db:"user_id"`
	ProviderAccount string `db:"provider_account"`
	AccessToken     string `db:"access_token"`
	RefreshToken    string `db:"refresh_token"`
	TokenType       string `db:"token_type"`
	Expiry          string `db:"expiry"`
	Scopes          string `db:"scopes"`
	Revoked         bool   `db:"revoked"`
	CreatedAt       string `db:"created_at"`
	UpdatedAt       string `db:"updated_at"`
}

func (r credentialRow) convert() (persistence.CalendarCredential, error) {
	expiry, err := parseTime(r.Expiry)
	if err != nil {
		return persistence.CalendarCredential{}, err
	}
	createdAt, err := parseTime(r.CreatedAt)
	if err != nil {
		return persistence.CalendarCredential{}, err
	}
	updatedAt, err := parseTime(r.UpdatedAt)
	if err != nil {
		return persistence.CalendarCredential{}, err
	}
	var scopes []string
	if err := json.Unmarshal([]byte(r.Scopes), &scopes); err != nil {
		return persistence.CalendarCredential{}, fmt.Errorf("sqlite: decoding credential scopes: %w", err)
	}
	return persistence.CalendarCredential{
		ID:              r.ID,
		UserID:          r.UserID,
		ProviderAccount: r.ProviderAccount,
		AccessToken:     r.AccessToken,
		RefreshToken:    r.RefreshToken,
		TokenType:       r.TokenType,
		Expiry:          expiry,
		Scopes:          scopes,
		Revoked:         r.Revoked,
		CreatedAt:       createdAt,
		UpdatedAt:       updatedAt,
	}, nil
}

type slotJSON struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Location string    `json:"location,omitempty"`
}

func encodeSlots(slots []interval.Slot) (string, error) {
	out := make([]slotJSON, 0, len(slots))
	for _, s := range slots {
		out = append(out, slotJSON{Start: s.Start.UTC(), End: s.End.UTC(), Location: s.Location})
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("sqlite: encoding slots: %w", err)
	}
	return string(raw), nil
}

func decodeSlots(raw string) ([]interval.Slot, error) {
	var decoded []slotJSON
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("sqlite: decoding slots: %w", err)
	}
	slots := make([]interval.Slot, 0, len(decoded))
	for _, s := range decoded {
		slots = append(slots, interval.Slot{Start: s.Start.UTC(), End: s.End.UTC(), Location: s.Location})
	}
	return slots, nil
}

func encodeStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("sqlite: encoding string list: %w", err)
	}
	return string(raw), nil
}

func decodeStrings(raw string) ([]string, error) {
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("sqlite: decoding string list: %w", err)
	}
	return values, nil
}

type meetingRow struct {
	ID                string         `db:"id"`
	ContractID        string         `db:"contract_id"`
	OrganizerID       string         `db:"organizer_id"`
	Participants      string         `db:"participants"`
	CandidateSlots    string         `db:"candidate_slots"`
	Status            string         `db:"status"`
	ConfirmedStart    sql.NullString `db:"confirmed_start"`
	ConfirmedEnd      sql.NullString `db:"confirmed_end"`
	ConfirmedLocation sql.NullString `db:"confirmed_location"`
	ExternalEventID   sql.NullString `db:"external_event_id"`
	FlaggedAt         sql.NullString `db:"flagged_at"`
	FlagReason        sql.NullString `db:"flag_reason"`
	CancelledAt       sql.NullString `db:"cancelled_at"`
	CreatedAt         string         `db:"created_at"`
	UpdatedAt         string         `db:"updated_at"`
}

func (r meetingRow) convert() (persistence.Meeting, error) {
	participants, err := decodeStrings(r.Participants)
	if err != nil {
		return persistence.Meeting{}, err
	}
	slots, err := decodeSlots(r.CandidateSlots)
	if err != nil {
		return persistence.Meeting{}, err
	}
	createdAt, err := parseTime(r.CreatedAt)
	if err != nil {
		return persistence.Meeting{}, err
	}
	updatedAt, err := parseTime(r.UpdatedAt)
	if err != nil {
		return persistence.Meeting{}, err
	}
	flaggedAt, err := parseNullTime(r.FlaggedAt)
	if err != nil {
		return persistence.Meeting{}, err
	}
	cancelledAt, err := parseNullTime(r.CancelledAt)
	if err != nil {
		return persistence.Meeting{}, err
	}

	meeting := persistence.Meeting{
		ID:              r.ID,
		ContractID:      r.ContractID,
		OrganizerID:     r.OrganizerID,
		ParticipantIDs:  participants,
		CandidateSlots:  slots,
		Status:          persistence.MeetingStatus(r.Status),
		ExternalEventID: r.ExternalEventID.String,
		FlaggedAt:       flaggedAt,
		FlagReason:      r.FlagReason.String,
		CancelledAt:     cancelledAt,
		CreatedAt:       createdAt,
		UpdatedAt:       updatedAt,
	}

	if r.ConfirmedStart.Valid && r.ConfirmedEnd.Valid {
		start, err := parseTime(r.ConfirmedStart.String)
		if err != nil {
			return persistence.Meeting{}, err
		}
		end, err := parseTime(r.ConfirmedEnd.String)
		if err != nil {
			return persistence.Meeting{}, err
		}
		meeting.ConfirmedSlot = &interval.Slot{Start: start, End: end, Location: r.ConfirmedLocation.String}
	}

	return meeting, nil
}

type syncTaskRow struct {
	ID            string `db:"id"`
	MeetingID     string `db:"meeting_id"`
	Op            string `db:"op"`
	Position      int64  `db:"position"`
	Attempts      int    `db:"attempts"`
	NextAttemptAt string `db:"next_attempt_at"`
	LastError     string `db:"last_error"`
	CreatedAt     string `db:"created_at"`
}

func (r syncTaskRow) convert() (persistence.SyncTask, error) {
	nextAt, err := parseTime(r.NextAttemptAt)
	if err != nil {
		return persistence.SyncTask{}, err
	}
	createdAt, err := parseTime(r.CreatedAt)
	if err != nil {
		return persistence.SyncTask{}, err
	}
	return persistence.SyncTask{
		ID:            r.ID,
		MeetingID:     r.MeetingID,
		Op:            persistence.SyncOp(r.Op),
		Position:      r.Position,
		Attempts:      r.Attempts,
		NextAttemptAt: nextAt,
		LastError:     r.LastError,
		CreatedAt:     createdAt,
	}, nil
}

type deadLetterRow struct {
	ID        string `db:"id"`
	MeetingID string `db:"meeting_id"`
	Op        string `db:"op"`
	Attempts  int    `db:"attempts"`
	Reason    string `db:"reason"`
	CreatedAt string `db:"created_at"`
}

func (r deadLetterRow) convert() (persistence.DeadLetter, error) {
	createdAt, err := parseTime(r.CreatedAt)
	if err != nil {
		return persistence.DeadLetter{}, err
	}
	return persistence.DeadLetter{
		ID:        r.ID,
		MeetingID: r.MeetingID,
		Op:        persistence.SyncOp(r.Op),
		Attempts:  r.Attempts,
		Reason:    r.Reason,
		CreatedAt: createdAt,
	}, nil
}

type notificationJobRow struct {
	ID            string `db:"id"`
	Recipient     string `db:"recipient"`
	Kind          string `db:"kind"`
	Payload       string `db:"payload"`
	Status        string `db:"status"`
	Attempts      int    `db:"attempts"`
	NextAttemptAt string `db:"next_attempt_at"`
	LastError     string `db:"last_error"`
	CreatedAt     string `db:"created_at"`
	UpdatedAt     string `db:"updated_at"`
}

func (r notificationJobRow) convert() (persistence.NotificationJob, error) {
	nextAt, err := parseTime(r.NextAttemptAt)
	if err != nil {
		return persistence.NotificationJob{}, err
	}
	createdAt, err := parseTime(r.CreatedAt)
	if err != nil {
		return persistence.NotificationJob{}, err
	}
	updatedAt, err := parseTime(r.UpdatedAt)
	if err != nil {
		return persistence.NotificationJob{}, err
	}
	return persistence.NotificationJob{
		ID:            r.ID,
		Recipient:     r.Recipient,
		Kind:          r.Kind,
		Payload:       []byte(r.Payload),
		Status:        persistence.NotificationStatus(r.Status),
		Attempts:      r.Attempts,
		NextAttemptAt: nextAt,
		LastError:     r.LastError,
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
	}, nil
}
