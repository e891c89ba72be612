package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/contract-scheduler/internal/application"
	"github.com/example/contract-scheduler/internal/interval"
	"github.com/example/contract-scheduler/internal/persistence"
	"github.com/example/contract-scheduler/internal/scheduler"
)

type meetingService interface {
	Propose(ctx context.Context, params application.ProposeParams) (persistence.Meeting, error)
	Confirm(ctx context.Context, meetingID string, slot interval.Slot) (application.ConfirmResult, error)
	Reschedule(ctx context.Context, meetingID string, newSlot interval.Slot) (application.ConfirmResult, error)
	Cancel(ctx context.Context, meetingID string) (persistence.Meeting, error)
	Get(ctx context.Context, meetingID string) (persistence.Meeting, error)
	ListByContract(ctx context.Context, params application.ListMeetingsParams) ([]persistence.Meeting, error)
}

type syncInspector interface {
	ListTasksForMeeting(ctx context.Context, meetingID string) ([]persistence.SyncTask, error)
	ListDeadLettersForMeeting(ctx context.Context, meetingID string) ([]persistence.DeadLetter, error)
}

type deadLetterRequeuer interface {
	RequeueDeadLetter(ctx context.Context, deadLetterID string) error
}

type MeetingHandler struct {
	service   meetingService
	sync      syncInspector
	requeuer  deadLetterRequeuer
	responder responder
	logger    *slog.Logger
}

func NewMeetingHandler(service meetingService, sync syncInspector, requeuer deadLetterRequeuer, logger *slog.Logger) *MeetingHandler {
	base := defaultLogger(logger)
	return &MeetingHandler{service: service, sync: sync, requeuer: requeuer, responder: newResponder(base), logger: base}
}

func (h *MeetingHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "MeetingHandler", operation, attrs...)
}

func (h *MeetingHandler) Propose(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req proposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log(r.Context(), "Propose", "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode propose request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	params, err := req.toParams()
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	logger := h.log(r.Context(), "Propose", "contract_id", params.ContractID)
	meeting, err := h.service.Propose(r.Context(), params)
	if err != nil {
		logger.ErrorContext(r.Context(), "meeting proposal failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("meeting_id", meeting.ID).InfoContext(r.Context(), "meeting proposed")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, meetingResponse{Meeting: toMeetingDTO(meeting)})
}

func (h *MeetingHandler) Get(w http.ResponseWriter, r *http.Request) {
	meetingID, ok := h.meetingID(w, r, "Get")
	if !ok {
		return
	}

	meeting, err := h.service.Get(r.Context(), meetingID)
	if err != nil {
		h.log(r.Context(), "Get", "meeting_id", meetingID).ErrorContext(r.Context(), "meeting lookup failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, meetingResponse{Meeting: toMeetingDTO(meeting)})
}

func (h *MeetingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.confirmPipeline(w, r, "Confirm", h.service.Confirm)
}

func (h *MeetingHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	h.confirmPipeline(w, r, "Reschedule", h.service.Reschedule)
}

func (h *MeetingHandler) confirmPipeline(w http.ResponseWriter, r *http.Request, operation string, run func(context.Context, string, interval.Slot) (application.ConfirmResult, error)) {
	meetingID, ok := h.meetingID(w, r, operation)
	if !ok {
		return
	}

	var req slotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log(r.Context(), operation, "meeting_id", meetingID, "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode slot request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	slot, err := req.Slot.toSlot()
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	logger := h.log(r.Context(), operation, "meeting_id", meetingID)
	result, err := run(r.Context(), meetingID, slot)
	if err != nil {
		logger.ErrorContext(r.Context(), "slot confirmation failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("status", string(result.Meeting.Status), "conflicts", len(result.Conflicts.Conflicts)).InfoContext(r.Context(), "slot confirmation finished")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, confirmResponse{
		Meeting:   toMeetingDTO(result.Meeting),
		Conflicts: toConflictDTOs(result.Conflicts),
	})
}

func (h *MeetingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	meetingID, ok := h.meetingID(w, r, "Cancel")
	if !ok {
		return
	}

	logger := h.log(r.Context(), "Cancel", "meeting_id", meetingID)
	meeting, err := h.service.Cancel(r.Context(), meetingID)
	if err != nil {
		logger.ErrorContext(r.Context(), "meeting cancel failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "meeting cancelled")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, meetingResponse{Meeting: toMeetingDTO(meeting)})
}

func (h *MeetingHandler) ListByContract(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	contractID, ok := ContractIDFromContext(r.Context())
	if !ok || strings.TrimSpace(contractID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidContractID)
		return
	}

	params := application.ListMeetingsParams{ContractID: contractID}
	for _, status := range r.URL.Query()["status"] {
		params.Statuses = append(params.Statuses, persistence.MeetingStatus(status))
	}
	if from, to, err := parseWindow(r, false); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	} else if from != nil && to != nil {
		params.From = from
		params.To = to
	}

	logger := h.log(r.Context(), "ListByContract", "contract_id", contractID)
	meetings, err := h.service.ListByContract(r.Context(), params)
	if err != nil {
		logger.ErrorContext(r.Context(), "meeting list failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("result_count", len(meetings)).InfoContext(r.Context(), "meetings listed")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listMeetingsResponse{Meetings: toMeetingDTOs(meetings)})
}

func (h *MeetingHandler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	meetingID, ok := h.meetingID(w, r, "SyncStatus")
	if !ok {
		return
	}
	if h.sync == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	meeting, err := h.service.Get(r.Context(), meetingID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	tasks, err := h.sync.ListTasksForMeeting(r.Context(), meetingID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	letters, err := h.sync.ListDeadLettersForMeeting(r.Context(), meetingID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, syncStatusResponse{
		MeetingID:   meetingID,
		Status:      string(meeting.Status),
		Tasks:       toSyncTaskDTOs(tasks),
		DeadLetters: toDeadLetterDTOs(letters),
	})
}

func (h *MeetingHandler) RetrySync(w http.ResponseWriter, r *http.Request) {
	meetingID, ok := h.meetingID(w, r, "RetrySync")
	if !ok {
		return
	}
	if h.requeuer == nil || h.sync == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	// The body is optional; without a dead_letter_id every dead letter for
	// the meeting is requeued.
	var req retrySyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		req = retrySyncRequest{}
	}

	logger := h.log(r.Context(), "RetrySync", "meeting_id", meetingID)

	deadLetterID := strings.TrimSpace(req.DeadLetterID)
	if deadLetterID == "" {
		// Requeue every dead letter for the meeting.
		letters, err := h.sync.ListDeadLettersForMeeting(r.Context(), meetingID)
		if err != nil {
			h.responder.handleServiceError(r.Context(), w, err)
			return
		}
		if len(letters) == 0 {
			h.responder.writeError(r.Context(), w, http.StatusNotFound, errors.New("no dead letters to retry"))
			return
		}
		for _, letter := range letters {
			if err := h.requeuer.RequeueDeadLetter(r.Context(), letter.ID); err != nil {
				logger.ErrorContext(r.Context(), "dead letter requeue failed", "dead_letter_id", letter.ID, "error", err)
				h.responder.handleServiceError(r.Context(), w, mapRepoError(err))
				return
			}
		}
		logger.With("requeued", len(letters)).InfoContext(r.Context(), "dead letters requeued")
		h.responder.writeJSON(r.Context(), w, http.StatusAccepted, retrySyncResponse{Requeued: len(letters)})
		return
	}

	if err := h.requeuer.RequeueDeadLetter(r.Context(), deadLetterID); err != nil {
		logger.ErrorContext(r.Context(), "dead letter requeue failed", "dead_letter_id", deadLetterID, "error", err)
		h.responder.handleServiceError(r.Context(), w, mapRepoError(err))
		return
	}
	logger.With("dead_letter_id", deadLetterID).InfoContext(r.Context(), "dead letter requeued")
	h.responder.writeJSON(r.Context(), w, http.StatusAccepted, retrySyncResponse{Requeued: 1})
}

func (h *MeetingHandler) meetingID(w http.ResponseWriter, r *http.Request, operation string) (string, bool) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return "", false
	}
	meetingID, ok := MeetingIDFromContext(r.Context())
	if !ok || strings.TrimSpace(meetingID) == "" {
		h.log(r.Context(), operation, "error_kind", "bad_request").ErrorContext(r.Context(), "missing meeting id")
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidMeetingID)
		return "", false
	}
	return meetingID, true
}

func mapRepoError(err error) error {
	if errors.Is(err, persistence.ErrNotFound) {
		return application.ErrNotFound
	}
	return err
}

func parseWindow(r *http.Request, required bool) (*time.Time, *time.Time, error) {
	fromRaw := strings.TrimSpace(r.URL.Query().Get("from"))
	toRaw := strings.TrimSpace(r.URL.Query().Get("to"))
	if fromRaw == "" && toRaw == "" && !required {
		return nil, nil, nil
	}
	from, err := time.Parse(time.RFC3339, fromRaw)
	if err != nil {
		return nil, nil, errInvalidWindow
	}
	to, err := time.Parse(time.RFC3339, toRaw)
	if err != nil {
		return nil, nil, errInvalidWindow
	}
	if !from.Before(to) {
		return nil, nil, errInvalidWindow
	}
	return &from, &to, nil
}

type slotDTO struct {
	Start    string `json:"start"`
	End      string `json:"end"`
	Location string `json:"location,omitempty"`
}

func (s slotDTO) toSlot() (interval.Slot, error) {
	start, err := time.Parse(time.RFC3339, s.Start)
	if err != nil {
		return interval.Slot{}, errors.New("slot start must be an RFC 3339 timestamp")
	}
	end, err := time.Parse(time.RFC3339, s.End)
	if err != nil {
		return interval.Slot{}, errors.New("slot end must be an RFC 3339 timestamp")
	}
	slot, err := interval.NewSlot(start, end, s.Location)
	if err != nil {
		return interval.Slot{}, errors.New("slot start must be before end")
	}
	return slot, nil
}

func toSlotDTO(slot interval.Slot) slotDTO {
	return slotDTO{
		Start:    slot.Start.UTC().Format(time.RFC3339Nano),
		End:      slot.End.UTC().Format(time.RFC3339Nano),
		Location: slot.Location,
	}
}

type proposeRequest struct {
	ContractID     string    `json:"contract_id"`
	OrganizerID    string    `json:"organizer_id"`
	ParticipantIDs []string  `json:"participant_ids"`
	CandidateSlots []slotDTO `json:"candidate_slots"`
}

func (r proposeRequest) toParams() (application.ProposeParams, error) {
	params := application.ProposeParams{
		ContractID:     strings.TrimSpace(r.ContractID),
		OrganizerID:    strings.TrimSpace(r.OrganizerID),
		ParticipantIDs: r.ParticipantIDs,
	}
	for _, dto := range r.CandidateSlots {
		slot, err := dto.toSlot()
		if err != nil {
			return application.ProposeParams{}, err
		}
		params.CandidateSlots = append(params.CandidateSlots, slot)
	}
	return params, nil
}

type slotRequest struct {
	Slot slotDTO `json:"slot"`
}

type meetingDTO struct {
	ID              string    `json:"id"`
	ContractID      string    `json:"contract_id"`
	OrganizerID     string    `json:"organizer_id"`
	ParticipantIDs  []string  `json:"participant_ids"`
	CandidateSlots  []slotDTO `json:"candidate_slots"`
	Status          string    `json:"status"`
	ConfirmedSlot   *slotDTO  `json:"confirmed_slot,omitempty"`
	ExternalEventID string    `json:"external_event_id,omitempty"`
	FlaggedAt       string    `json:"flagged_at,omitempty"`
	FlagReason      string    `json:"flag_reason,omitempty"`
	CancelledAt     string    `json:"cancelled_at,omitempty"`
	CreatedAt       string    `json:"created_at"`
	UpdatedAt       string    `json:"updated_at"`
}

func toMeetingDTO(meeting persistence.Meeting) meetingDTO {
	dto := meetingDTO{
		ID:              meeting.ID,
		ContractID:      meeting.ContractID,
		OrganizerID:     meeting.OrganizerID,
		ParticipantIDs:  meeting.ParticipantIDs,
		Status:          string(meeting.Status),
		ExternalEventID: meeting.ExternalEventID,
		FlagReason:      meeting.FlagReason,
		CreatedAt:       meeting.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:       meeting.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	for _, slot := range meeting.CandidateSlots {
		dto.CandidateSlots = append(dto.CandidateSlots, toSlotDTO(slot))
	}
	if meeting.ConfirmedSlot != nil {
		confirmed := toSlotDTO(*meeting.ConfirmedSlot)
		dto.ConfirmedSlot = &confirmed
	}
	if meeting.FlaggedAt != nil {
		dto.FlaggedAt = meeting.FlaggedAt.UTC().Format(time.RFC3339Nano)
	}
	if meeting.CancelledAt != nil {
		dto.CancelledAt = meeting.CancelledAt.UTC().Format(time.RFC3339Nano)
	}
	return dto
}

func toMeetingDTOs(meetings []persistence.Meeting) []meetingDTO {
	if len(meetings) == 0 {
		return nil
	}
	out := make([]meetingDTO, 0, len(meetings))
	for _, meeting := range meetings {
		out = append(out, toMeetingDTO(meeting))
	}
	return out
}

type meetingResponse struct {
	Meeting meetingDTO `json:"meeting"`
}

type listMeetingsResponse struct {
	Meetings []meetingDTO `json:"meetings"`
}

type conflictDTO struct {
	ParticipantID string  `json:"participant_id"`
	Source        string  `json:"source"`
	Slot          slotDTO `json:"slot"`
	EventID       string  `json:"event_id,omitempty"`
	MeetingID     string  `json:"meeting_id,omitempty"`
	Summary       string  `json:"summary,omitempty"`
}

func toConflictDTOs(report scheduler.Report) []conflictDTO {
	if report.Empty() {
		return nil
	}
	out := make([]conflictDTO, 0, len(report.Conflicts))
	for _, conflict := range report.Conflicts {
		out = append(out, conflictDTO{
			ParticipantID: conflict.ParticipantID,
			Source:        string(conflict.Interval.Source),
			Slot:          toSlotDTO(conflict.Interval.Slot),
			EventID:       conflict.Interval.EventID,
			MeetingID:     conflict.Interval.MeetingID,
			Summary:       conflict.Interval.Summary,
		})
	}
	return out
}

type confirmResponse struct {
	Meeting   meetingDTO    `json:"meeting"`
	Conflicts []conflictDTO `json:"conflicts,omitempty"`
}

type syncTaskDTO struct {
	ID            string `json:"id"`
	Op            string `json:"op"`
	Position      int64  `json:"position"`
	Attempts      int    `json:"attempts"`
	NextAttemptAt string `json:"next_attempt_at"`
	LastError     string `json:"last_error,omitempty"`
}

func toSyncTaskDTOs(tasks []persistence.SyncTask) []syncTaskDTO {
	if len(tasks) == 0 {
		return nil
	}
	out := make([]syncTaskDTO, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, syncTaskDTO{
			ID:            task.ID,
			Op:            string(task.Op),
			Position:      task.Position,
			Attempts:      task.Attempts,
			NextAttemptAt: task.NextAttemptAt.UTC().Format(time.RFC3339Nano),
			LastError:     task.LastError,
		})
	}
	return out
}

type deadLetterDTO struct {
	ID        string `json:"id"`
	Op        string `json:"op"`
	Attempts  int    `json:"attempts"`
	Reason    string `json:"reason"`
	CreatedAt string `json:"created_at"`
}

func toDeadLetterDTOs(letters []persistence.DeadLetter) []deadLetterDTO {
	if len(letters) == 0 {
		return nil
	}
	out := make([]deadLetterDTO, 0, len(letters))
	for _, letter := range letters {
		out = append(out, deadLetterDTO{
			ID:        letter.ID,
			Op:        string(letter.Op),
			Attempts:  letter.Attempts,
			Reason:    letter.Reason,
			CreatedAt: letter.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	return out
}

type syncStatusResponse struct {
	MeetingID   string          `json:"meeting_id"`
	Status      string          `json:"status"`
	Tasks       []syncTaskDTO   `json:"tasks,omitempty"`
	DeadLetters []deadLetterDTO `json:"dead_letters,omitempty"`
}

type retrySyncRequest struct {
	DeadLetterID string `json:"dead_letter_id"`
}

type retrySyncResponse struct {
	Requeued int `json:"requeued"`
}
