package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachdesk/backend/internal/lifecycle"
	"github.com/coachdesk/backend/internal/meeting"
	"github.com/coachdesk/backend/internal/models"
	"github.com/coachdesk/backend/internal/repository"
	eventws "github.com/coachdesk/backend/internal/websocket"
)

var (
	ErrForbidden        = errors.New("forbidden")
	ErrConflict         = errors.New("conflict")
	ErrInvalidInput     = errors.New("invalid input")
	ErrCoachNotFound    = errors.New("coach not found")
	ErrNoMeeting        = errors.New("no meeting provisioned")
	ErrJoinWindowClosed = errors.New("join window closed")
)

// MeetingConflictError is returned when a join is refused because a
// different meeting already holds the actor's slot.
type MeetingConflictError struct {
	ActiveMeetingID string
}

func (e *MeetingConflictError) Error() string {
	return fmt.Sprintf("another meeting is active: %s", e.ActiveMeetingID)
}

type appointmentStore interface {
	GetByID(ctx context.Context, appointmentID int64) (*models.Appointment, error)
	ListByActor(ctx context.Context, actorID int64, role string) ([]models.Appointment, error)
	UpdateStatusIfCurrent(ctx context.Context, appointmentID int64, currentStatus, nextStatus string) (*models.Appointment, error)
	UpdateScheduleIfConfirmed(ctx context.Context, appointmentID int64, startsAt time.Time, endsAt *time.Time) (*models.Appointment, error)
	UpdateNotes(ctx context.Context, appointmentID int64, notes *string) (*models.Appointment, error)
	HasConflictExcludingAppointment(ctx context.Context, coachID int64, startsAt, endsAt time.Time, excludedID int64) (bool, error)
}

type participantReader interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetParticipants(ctx context.Context, userIDs []int64) (map[int64]models.Participant, error)
}

type eventNotifier interface {
	Notify(notification *eventws.Notification)
}

type AppointmentService struct {
	db           *pgxpool.Pool
	appointments appointmentStore
	users        participantReader
	meetings     meeting.Registry
	events       eventNotifier
	now          func() time.Time
}

func NewAppointmentService(
	db *pgxpool.Pool,
	appointments appointmentStore,
	users participantReader,
	meetings meeting.Registry,
	events eventNotifier,
) *AppointmentService {
	return &AppointmentService{
		db:           db,
		appointments: appointments,
		users:        users,
		meetings:     meetings,
		events:       events,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

type ListOptions struct {
	Filter string
	Query  string
	Range  string
	SortBy string
	Order  string
}

type AppointmentPage struct {
	Appointments []models.AppointmentDetail `json:"appointments"`
	Counts       lifecycle.Counts           `json:"counts"`
}

// ListAppointments fetches the actor's full collection and applies the
// view predicates in memory: query and date range narrow the working
// set, bucket counts are taken from that set, then the bucket filter
// and sort produce the page.
func (s *AppointmentService) ListAppointments(
	ctx context.Context,
	actorID int64,
	role string,
	opts ListOptions,
) (*AppointmentPage, error) {
	appointments, err := s.appointments.ListByActor(ctx, actorID, role)
	if err != nil {
		return nil, err
	}

	details, err := s.attachParticipants(ctx, role, appointments)
	if err != nil {
		return nil, err
	}

	now := s.now()
	working := make([]models.AppointmentDetail, 0, len(details))
	for i := range details {
		if !lifecycle.InDateRange(&details[i].Appointment, opts.Range, now) {
			continue
		}
		if !lifecycle.MatchesQuery(&details[i], opts.Query) {
			continue
		}
		working = append(working, details[i])
	}

	counts := lifecycle.CountBuckets(working)

	page := make([]models.AppointmentDetail, 0, len(working))
	for i := range working {
		if lifecycle.MatchesFilter(&working[i].Appointment, opts.Filter) {
			page = append(page, working[i])
		}
	}

	lifecycle.Sort(page, opts.SortBy, opts.Order)

	return &AppointmentPage{Appointments: page, Counts: counts}, nil
}

func (s *AppointmentService) GetAppointment(
	ctx context.Context,
	actorID int64,
	role string,
	appointmentID int64,
) (*models.AppointmentDetail, error) {
	apt, err := s.appointments.GetByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !canAccessAppointment(role, actorID, apt) {
		return nil, ErrForbidden
	}
	return s.detailFor(ctx, role, apt), nil
}

// Actions reports the currently permitted action set for one record.
func (s *AppointmentService) Actions(
	ctx context.Context,
	actorID int64,
	role string,
	appointmentID int64,
) (*lifecycle.Actions, error) {
	apt, err := s.appointments.GetByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !canAccessAppointment(role, actorID, apt) {
		return nil, ErrForbidden
	}
	actions := lifecycle.ActionsFor(apt, s.now())
	return &actions, nil
}

// UpdateStatus applies confirm, cancel or complete through the state
// machine. The write is compare-and-swap guarded on the status the
// transition was validated against; a concurrent writer surfaces as an
// invalid transition rather than silently double-applying.
func (s *AppointmentService) UpdateStatus(
	ctx context.Context,
	actorID int64,
	role string,
	appointmentID int64,
	requestedStatus string,
) (*models.AppointmentDetail, error) {
	apt, err := s.appointments.GetByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !canAccessAppointment(role, actorID, apt) {
		return nil, ErrForbidden
	}

	nextStatus, err := lifecycle.NormalizeRequestedStatus(requestedStatus)
	if err != nil {
		return nil, err
	}
	if role == "client" && nextStatus != lifecycle.StatusCancelled {
		return nil, ErrForbidden
	}
	if err := lifecycle.ValidateTransition(apt, nextStatus, s.now()); err != nil {
		return nil, err
	}

	updated, err := s.appointments.UpdateStatusIfCurrent(ctx, appointmentID, apt.Status, nextStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, lifecycle.ErrInvalidStateTransition
		}
		return nil, err
	}

	eventType := eventws.EventSessionStatusUpdated
	if nextStatus == lifecycle.StatusCancelled {
		eventType = eventws.EventSessionCancelled
	}
	s.notify(updated, eventType, &nextStatus, nil)

	return s.detailFor(ctx, role, updated), nil
}

// Reschedule moves a confirmed appointment to new times. The status is
// untouched; scheduled appointments expose accept/reject instead.
func (s *AppointmentService) Reschedule(
	ctx context.Context,
	actorID int64,
	role string,
	appointmentID int64,
	startsAt time.Time,
	endsAt *time.Time,
) (*models.AppointmentDetail, error) {
	if role != "coach" {
		return nil, ErrForbidden
	}
	if endsAt != nil && !startsAt.Before(*endsAt) {
		return nil, ErrInvalidInput
	}

	apt, err := s.appointments.GetByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if apt.CoachID != actorID {
		return nil, ErrForbidden
	}
	if !lifecycle.CanReschedule(apt) {
		return nil, lifecycle.ErrInvalidStateTransition
	}

	effectiveEnd := startsAt.Add(lifecycle.DefaultSessionDuration)
	if endsAt != nil {
		effectiveEnd = *endsAt
	}
	hasConflict, err := s.appointments.HasConflictExcludingAppointment(
		ctx,
		apt.CoachID,
		startsAt.UTC(),
		effectiveEnd.UTC(),
		appointmentID,
	)
	if err != nil {
		return nil, err
	}
	if hasConflict {
		return nil, ErrConflict
	}

	updated, err := s.appointments.UpdateScheduleIfConfirmed(ctx, appointmentID, startsAt.UTC(), utcPtr(endsAt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, lifecycle.ErrInvalidStateTransition
		}
		return nil, err
	}

	scheduledAt := eventws.FormatEventTimestamp(updated.StartsAt)
	s.notify(updated, eventws.EventSessionRescheduled, nil, &scheduledAt)

	return s.detailFor(ctx, role, updated), nil
}

// UpdateNotes is coach-only and remains allowed after an appointment
// reaches a terminal status.
func (s *AppointmentService) UpdateNotes(
	ctx context.Context,
	actorID int64,
	role string,
	appointmentID int64,
	notes *string,
) (*models.AppointmentDetail, error) {
	if role != "coach" {
		return nil, ErrForbidden
	}

	apt, err := s.appointments.GetByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if apt.CoachID != actorID {
		return nil, ErrForbidden
	}

	updated, err := s.appointments.UpdateNotes(ctx, appointmentID, notes)
	if err != nil {
		return nil, err
	}
	return s.detailFor(ctx, role, updated), nil
}

type JoinResult struct {
	MeetingID string `json:"meeting_id"`
	Rejoined  bool   `json:"rejoined"`
}

// JoinMeeting admits the actor into the appointment's meeting when the
// session window is open and the actor's single meeting slot is free or
// already holds this meeting (rejoin).
func (s *AppointmentService) JoinMeeting(
	ctx context.Context,
	actorID int64,
	role string,
	appointmentID int64,
) (*JoinResult, error) {
	apt, err := s.appointments.GetByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !canAccessAppointment(role, actorID, apt) {
		return nil, ErrForbidden
	}
	if apt.Status != lifecycle.StatusConfirmed {
		return nil, lifecycle.ErrInvalidStateTransition
	}
	if apt.MeetingID == nil {
		return nil, ErrNoMeeting
	}
	if !lifecycle.IsJoinAvailable(apt, s.now()) {
		return nil, ErrJoinWindowClosed
	}

	previous, err := s.meetings.Active(ctx, actorID)
	if err != nil {
		return nil, err
	}
	ok, active, err := s.meetings.TryAcquire(ctx, actorID, *apt.MeetingID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &MeetingConflictError{ActiveMeetingID: active}
	}

	return &JoinResult{MeetingID: *apt.MeetingID, Rejoined: previous == *apt.MeetingID}, nil
}

func (s *AppointmentService) LeaveMeeting(ctx context.Context, actorID int64) error {
	return s.meetings.Release(ctx, actorID)
}

type BookAppointmentInput struct {
	CoachID  int64
	StartsAt time.Time
	EndsAt   *time.Time
	Notes    *string
}

// BookAppointment creates a scheduled appointment for a client,
// provisioning a meeting token up front. The coach's calendar is
// guarded by an advisory lock so concurrent bookings cannot both pass
// the overlap check.
func (s *AppointmentService) BookAppointment(
	ctx context.Context,
	clientID int64,
	input BookAppointmentInput,
) (*models.AppointmentDetail, error) {
	if input.CoachID <= 0 || clientID == input.CoachID {
		return nil, ErrInvalidInput
	}
	if input.StartsAt.Before(s.now().Add(-1 * time.Minute)) {
		return nil, ErrInvalidInput
	}
	if input.EndsAt != nil && !input.StartsAt.Before(*input.EndsAt) {
		return nil, ErrInvalidInput
	}

	coach, err := s.users.GetByID(ctx, input.CoachID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCoachNotFound
		}
		return nil, err
	}
	if coach.Role != "coach" {
		return nil, ErrInvalidInput
	}

	startsAt := input.StartsAt.UTC()
	endsAt := utcPtr(input.EndsAt)
	effectiveEnd := startsAt.Add(lifecycle.DefaultSessionDuration)
	if endsAt != nil {
		effectiveEnd = *endsAt
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txRepo := repository.NewAppointmentRepository(tx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", input.CoachID); err != nil {
		return nil, err
	}

	hasConflict, err := txRepo.HasConflict(ctx, input.CoachID, startsAt, effectiveEnd)
	if err != nil {
		return nil, err
	}
	if hasConflict {
		return nil, ErrConflict
	}

	meetingID := uuid.NewString()
	apt, err := txRepo.Create(ctx, repository.CreateAppointmentInput{
		ClientID:  clientID,
		CoachID:   input.CoachID,
		StartsAt:  startsAt,
		EndsAt:    endsAt,
		MeetingID: &meetingID,
		Notes:     input.Notes,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	// The coach sees a new record appear; the client gets the booking ack.
	s.notifyTo([]int64{apt.CoachID}, apt, eventws.EventSessionCreated, &apt.Status, nil)
	s.notifyTo([]int64{apt.ClientID}, apt, eventws.EventSessionBooked, &apt.Status, nil)

	return s.detailFor(ctx, "client", apt), nil
}

func (s *AppointmentService) notify(apt *models.Appointment, eventType string, newStatus, newScheduledAt *string) {
	s.notifyTo([]int64{apt.ClientID, apt.CoachID}, apt, eventType, newStatus, newScheduledAt)
}

func (s *AppointmentService) notifyTo(recipients []int64, apt *models.Appointment, eventType string, newStatus, newScheduledAt *string) {
	if s.events == nil {
		return
	}
	s.events.Notify(&eventws.Notification{
		Event: eventws.Event{
			Type:           eventType,
			SessionID:      apt.ID,
			NewStatus:      newStatus,
			NewScheduledAt: newScheduledAt,
		},
		Recipients: recipients,
	})
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// detailFor attaches the other party's display summary. A missing
// participant record degrades to a nil summary, never to an error.
func (s *AppointmentService) detailFor(
	ctx context.Context,
	role string,
	apt *models.Appointment,
) *models.AppointmentDetail {
	detail := &models.AppointmentDetail{Appointment: *apt}

	otherID := apt.CoachID
	if role == "coach" {
		otherID = apt.ClientID
	}
	participants, err := s.users.GetParticipants(ctx, []int64{otherID})
	if err != nil {
		return detail
	}
	if participant, ok := participants[otherID]; ok {
		detail.Participant = &participant
	}
	return detail
}

func (s *AppointmentService) attachParticipants(
	ctx context.Context,
	role string,
	appointments []models.Appointment,
) ([]models.AppointmentDetail, error) {
	otherIDs := make([]int64, 0, len(appointments))
	for i := range appointments {
		if role == "coach" {
			otherIDs = append(otherIDs, appointments[i].ClientID)
		} else {
			otherIDs = append(otherIDs, appointments[i].CoachID)
		}
	}

	participants, err := s.users.GetParticipants(ctx, otherIDs)
	if err != nil {
		return nil, err
	}

	details := make([]models.AppointmentDetail, 0, len(appointments))
	for i := range appointments {
		detail := models.AppointmentDetail{Appointment: appointments[i]}
		otherID := appointments[i].CoachID
		if role == "coach" {
			otherID = appointments[i].ClientID
		}
		if participant, ok := participants[otherID]; ok {
			participantCopy := participant
			detail.Participant = &participantCopy
		}
		details = append(details, detail)
	}

	return details, nil
}

func canAccessAppointment(role string, actorID int64, apt *models.Appointment) bool {
	if role == "client" {
		return apt.ClientID == actorID
	}
	if role == "coach" {
		return apt.CoachID == actorID
	}
	return false
}
