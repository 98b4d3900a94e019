package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/coachdesk/backend/internal/lifecycle"
	"github.com/coachdesk/backend/internal/meeting"
	"github.com/coachdesk/backend/internal/models"
	eventws "github.com/coachdesk/backend/internal/websocket"
)

type stubAppointmentStore struct {
	appointments map[int64]*models.Appointment
	listResult   []models.Appointment
	listErr      error
	conflict     bool

	lastCASCurrent string
	lastCASNext    string
}

func (s *stubAppointmentStore) GetByID(_ context.Context, id int64) (*models.Appointment, error) {
	apt, ok := s.appointments[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	aptCopy := *apt
	return &aptCopy, nil
}

func (s *stubAppointmentStore) ListByActor(_ context.Context, _ int64, _ string) ([]models.Appointment, error) {
	return s.listResult, s.listErr
}

func (s *stubAppointmentStore) UpdateStatusIfCurrent(_ context.Context, id int64, currentStatus, nextStatus string) (*models.Appointment, error) {
	s.lastCASCurrent = currentStatus
	s.lastCASNext = nextStatus
	apt, ok := s.appointments[id]
	if !ok || apt.Status != currentStatus {
		return nil, pgx.ErrNoRows
	}
	apt.Status = nextStatus
	aptCopy := *apt
	return &aptCopy, nil
}

func (s *stubAppointmentStore) UpdateScheduleIfConfirmed(_ context.Context, id int64, startsAt time.Time, endsAt *time.Time) (*models.Appointment, error) {
	apt, ok := s.appointments[id]
	if !ok || apt.Status != lifecycle.StatusConfirmed {
		return nil, pgx.ErrNoRows
	}
	apt.StartsAt = startsAt
	apt.EndsAt = endsAt
	aptCopy := *apt
	return &aptCopy, nil
}

func (s *stubAppointmentStore) UpdateNotes(_ context.Context, id int64, notes *string) (*models.Appointment, error) {
	apt, ok := s.appointments[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	apt.Notes = notes
	aptCopy := *apt
	return &aptCopy, nil
}

func (s *stubAppointmentStore) HasConflictExcludingAppointment(_ context.Context, _ int64, _, _ time.Time, _ int64) (bool, error) {
	return s.conflict, nil
}

type stubParticipantReader struct {
	users        map[int64]*models.User
	participants map[int64]models.Participant
}

func (s *stubParticipantReader) GetByID(_ context.Context, id int64) (*models.User, error) {
	user, ok := s.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return user, nil
}

func (s *stubParticipantReader) GetParticipants(_ context.Context, userIDs []int64) (map[int64]models.Participant, error) {
	result := make(map[int64]models.Participant)
	for _, id := range userIDs {
		if participant, ok := s.participants[id]; ok {
			result[id] = participant
		}
	}
	return result, nil
}

type stubNotifier struct {
	notifications []*eventws.Notification
}

func (s *stubNotifier) Notify(notification *eventws.Notification) {
	s.notifications = append(s.notifications, notification)
}

func newTestService(store *stubAppointmentStore, users *stubParticipantReader, notifier *stubNotifier, now time.Time) *AppointmentService {
	if users == nil {
		users = &stubParticipantReader{}
	}
	if notifier == nil {
		notifier = &stubNotifier{}
	}
	service := NewAppointmentService(nil, store, users, meeting.NewMemoryRegistry(), notifier)
	service.now = func() time.Time { return now }
	return service
}

func strPtr(s string) *string {
	return &s
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func buildStoredAppointment(id int64, status string, startsAt time.Time) *models.Appointment {
	return &models.Appointment{
		ID:        id,
		ClientID:  42,
		CoachID:   7,
		StartsAt:  startsAt,
		Status:    status,
		CreatedAt: startsAt.Add(-48 * time.Hour),
	}
}

func TestUpdateStatusConfirmThenCancel(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	store := &stubAppointmentStore{appointments: map[int64]*models.Appointment{
		1: buildStoredAppointment(1, lifecycle.StatusScheduled, now.Add(24*time.Hour)),
	}}
	notifier := &stubNotifier{}
	service := newTestService(store, nil, notifier, now)

	detail, err := service.UpdateStatus(context.Background(), 7, "coach", 1, "confirm")
	if err != nil {
		t.Fatalf("UpdateStatus confirm: %v", err)
	}
	if detail.Status != lifecycle.StatusConfirmed {
		t.Fatalf("expected confirmed, got %q", detail.Status)
	}
	if store.lastCASCurrent != lifecycle.StatusScheduled {
		t.Fatalf("CAS must guard on the validated status, got %q", store.lastCASCurrent)
	}

	detail, err = service.UpdateStatus(context.Background(), 7, "coach", 1, "cancel")
	if err != nil {
		t.Fatalf("UpdateStatus cancel: %v", err)
	}
	if detail.Status != lifecycle.StatusCancelled {
		t.Fatalf("expected cancelled, got %q", detail.Status)
	}

	if len(notifier.notifications) != 2 {
		t.Fatalf("expected two events, got %d", len(notifier.notifications))
	}
	if notifier.notifications[0].Event.Type != eventws.EventSessionStatusUpdated {
		t.Fatalf("expected status_updated event, got %q", notifier.notifications[0].Event.Type)
	}
	if notifier.notifications[1].Event.Type != eventws.EventSessionCancelled {
		t.Fatalf("expected cancelled event, got %q", notifier.notifications[1].Event.Type)
	}
}

func TestUpdateStatusRejectsEarlyComplete(t *testing.T) {
	now := time.Date(2026, 4, 1, 9, 10, 0, 0, time.UTC)
	apt := buildStoredAppointment(1, lifecycle.StatusConfirmed, time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))
	apt.EndsAt = timePtr(apt.StartsAt.Add(50 * time.Minute))
	store := &stubAppointmentStore{appointments: map[int64]*models.Appointment{1: apt}}
	service := newTestService(store, nil, nil, now)

	if _, err := service.UpdateStatus(context.Background(), 7, "coach", 1, "complete"); !errors.Is(err, lifecycle.ErrInvalidStateTransition) {
		t.Fatalf("expected invalid transition before session end, got %v", err)
	}

	service.now = func() time.Time { return apt.StartsAt.Add(50 * time.Minute) }
	detail, err := service.UpdateStatus(context.Background(), 7, "coach", 1, "complete")
	if err != nil {
		t.Fatalf("UpdateStatus complete at end: %v", err)
	}
	if detail.Status != lifecycle.StatusCompleted {
		t.Fatalf("expected completed, got %q", detail.Status)
	}
}

func TestUpdateStatusClientMayOnlyCancel(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	store := &stubAppointmentStore{appointments: map[int64]*models.Appointment{
		1: buildStoredAppointment(1, lifecycle.StatusScheduled, now.Add(24*time.Hour)),
	}}
	service := newTestService(store, nil, nil, now)

	if _, err := service.UpdateStatus(context.Background(), 42, "client", 1, "confirm"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for client confirm, got %v", err)
	}
	detail, err := service.UpdateStatus(context.Background(), 42, "client", 1, "cancel")
	if err != nil {
		t.Fatalf("client cancel: %v", err)
	}
	if detail.Status != lifecycle.StatusCancelled {
		t.Fatalf("expected cancelled, got %q", detail.Status)
	}
}

func TestUpdateStatusForbiddenForOtherCoach(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	store := &stubAppointmentStore{appointments: map[int64]*models.Appointment{
		1: buildStoredAppointment(1, lifecycle.StatusScheduled, now.Add(24*time.Hour)),
	}}
	service := newTestService(store, nil, nil, now)

	if _, err := service.UpdateStatus(context.Background(), 99, "coach", 1, "confirm"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestRescheduleOnlyWhileConfirmed(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	store := &stubAppointmentStore{appointments: map[int64]*models.Appointment{
		1: buildStoredAppointment(1, lifecycle.StatusScheduled, now.Add(24*time.Hour)),
		2: buildStoredAppointment(2, lifecycle.StatusConfirmed, now.Add(24*time.Hour)),
	}}
	notifier := &stubNotifier{}
	service := newTestService(store, nil, notifier, now)

	newStart := now.Add(48 * time.Hour)
	if _, err := service.Reschedule(context.Background(), 7, "coach", 1, newStart, nil); !errors.Is(err, lifecycle.ErrInvalidStateTransition) {
		t.Fatalf("expected invalid transition for scheduled appointment, got %v", err)
	}

	detail, err := service.Reschedule(context.Background(), 7, "coach", 2, newStart, timePtr(newStart.Add(45*time.Minute)))
	if err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	if detail.Status != lifecycle.StatusConfirmed {
		t.Fatalf("reschedule must not change status, got %q", detail.Status)
	}
	if !detail.StartsAt.Equal(newStart) {
		t.Fatalf("expected new start %v, got %v", newStart, detail.StartsAt)
	}

	if len(notifier.notifications) != 1 || notifier.notifications[0].Event.Type != eventws.EventSessionRescheduled {
		t.Fatalf("expected one rescheduled event, got %+v", notifier.notifications)
	}
	if notifier.notifications[0].Event.NewScheduledAt == nil {
		t.Fatal("rescheduled event must carry the new time")
	}
}

func TestRescheduleStoresTimesInUTC(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	store := &stubAppointmentStore{appointments: map[int64]*models.Appointment{
		2: buildStoredAppointment(2, lifecycle.StatusConfirmed, now.Add(24*time.Hour)),
	}}
	service := newTestService(store, nil, nil, now)

	zone := time.FixedZone("UTC+2", 2*60*60)
	newStart := time.Date(2026, 4, 3, 11, 0, 0, 0, zone)
	newEnd := newStart.Add(45 * time.Minute)

	detail, err := service.Reschedule(context.Background(), 7, "coach", 2, newStart, &newEnd)
	if err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	if detail.StartsAt.Location() != time.UTC || !detail.StartsAt.Equal(newStart) {
		t.Fatalf("expected start stored as UTC instant, got %v", detail.StartsAt)
	}
	if detail.EndsAt == nil || detail.EndsAt.Location() != time.UTC || !detail.EndsAt.Equal(newEnd) {
		t.Fatalf("expected end stored as UTC instant, got %v", detail.EndsAt)
	}
}

func TestRescheduleRejectsCalendarConflict(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	store := &stubAppointmentStore{
		appointments: map[int64]*models.Appointment{
			2: buildStoredAppointment(2, lifecycle.StatusConfirmed, now.Add(24*time.Hour)),
		},
		conflict: true,
	}
	service := newTestService(store, nil, nil, now)

	if _, err := service.Reschedule(context.Background(), 7, "coach", 2, now.Add(48*time.Hour), nil); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestUpdateNotesAllowedOnTerminalAppointment(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	store := &stubAppointmentStore{appointments: map[int64]*models.Appointment{
		1: buildStoredAppointment(1, lifecycle.StatusCompleted, now.Add(-48*time.Hour)),
	}}
	service := newTestService(store, nil, nil, now)

	detail, err := service.UpdateNotes(context.Background(), 7, "coach", 1, strPtr("Anxiety management focus"))
	if err != nil {
		t.Fatalf("UpdateNotes: %v", err)
	}
	if detail.Notes == nil || *detail.Notes != "Anxiety management focus" {
		t.Fatalf("expected notes to be stored, got %v", detail.Notes)
	}

	if _, err := service.UpdateNotes(context.Background(), 42, "client", 1, strPtr("x")); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for client notes edit, got %v", err)
	}
}

func TestJoinMeetingEnforcesSingleSlot(t *testing.T) {
	start := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	now := start.Add(5 * time.Minute)

	first := buildStoredAppointment(1, lifecycle.StatusConfirmed, start)
	first.MeetingID = strPtr("meeting-a")
	second := buildStoredAppointment(2, lifecycle.StatusConfirmed, start)
	second.MeetingID = strPtr("meeting-b")
	store := &stubAppointmentStore{appointments: map[int64]*models.Appointment{1: first, 2: second}}
	service := newTestService(store, nil, nil, now)

	result, err := service.JoinMeeting(context.Background(), 7, "coach", 1)
	if err != nil {
		t.Fatalf("JoinMeeting: %v", err)
	}
	if result.MeetingID != "meeting-a" || result.Rejoined {
		t.Fatalf("expected fresh join of meeting-a, got %+v", result)
	}

	_, err = service.JoinMeeting(context.Background(), 7, "coach", 2)
	var conflict *MeetingConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected meeting conflict, got %v", err)
	}
	if conflict.ActiveMeetingID != "meeting-a" {
		t.Fatalf("conflict must name the active meeting, got %q", conflict.ActiveMeetingID)
	}

	result, err = service.JoinMeeting(context.Background(), 7, "coach", 1)
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if !result.Rejoined {
		t.Fatal("joining the active meeting again must be a rejoin")
	}

	if err := service.LeaveMeeting(context.Background(), 7); err != nil {
		t.Fatalf("LeaveMeeting: %v", err)
	}
	result, err = service.JoinMeeting(context.Background(), 7, "coach", 2)
	if err != nil {
		t.Fatalf("join after leave: %v", err)
	}
	if result.MeetingID != "meeting-b" {
		t.Fatalf("expected meeting-b after release, got %+v", result)
	}
}

func TestJoinMeetingOutsideWindow(t *testing.T) {
	start := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	apt := buildStoredAppointment(1, lifecycle.StatusConfirmed, start)
	apt.MeetingID = strPtr("meeting-a")
	store := &stubAppointmentStore{appointments: map[int64]*models.Appointment{1: apt}}

	service := newTestService(store, nil, nil, start.Add(-time.Minute))
	if _, err := service.JoinMeeting(context.Background(), 7, "coach", 1); !errors.Is(err, ErrJoinWindowClosed) {
		t.Fatalf("expected join window closed before start, got %v", err)
	}

	service.now = func() time.Time { return start.Add(61 * time.Minute) }
	if _, err := service.JoinMeeting(context.Background(), 7, "coach", 1); !errors.Is(err, ErrJoinWindowClosed) {
		t.Fatalf("expected join window closed after end, got %v", err)
	}
}

func TestJoinMeetingWithoutProvisionedMeeting(t *testing.T) {
	start := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	apt := buildStoredAppointment(1, lifecycle.StatusConfirmed, start)
	store := &stubAppointmentStore{appointments: map[int64]*models.Appointment{1: apt}}
	service := newTestService(store, nil, nil, start.Add(5*time.Minute))

	if _, err := service.JoinMeeting(context.Background(), 7, "coach", 1); !errors.Is(err, ErrNoMeeting) {
		t.Fatalf("expected no meeting error, got %v", err)
	}
}

func TestListAppointmentsFiltersAndCounts(t *testing.T) {
	now := time.Date(2026, 4, 15, 13, 0, 0, 0, time.UTC)
	mkApt := func(id int64, status string, clientID int64) models.Appointment {
		return models.Appointment{
			ID:        id,
			ClientID:  clientID,
			CoachID:   7,
			StartsAt:  now.Add(24 * time.Hour),
			Status:    status,
			CreatedAt: now.Add(-time.Duration(id) * time.Hour),
		}
	}
	store := &stubAppointmentStore{listResult: []models.Appointment{
		mkApt(1, lifecycle.StatusScheduled, 41),
		mkApt(2, lifecycle.StatusConfirmed, 42),
		mkApt(3, lifecycle.StatusCompleted, 43),
		mkApt(4, lifecycle.StatusCancelled, 44),
	}}
	users := &stubParticipantReader{participants: map[int64]models.Participant{
		41: {UserID: 41, DisplayName: "Avery"},
		42: {UserID: 42, DisplayName: "Blake"},
	}}
	service := newTestService(store, users, nil, now)

	page, err := service.ListAppointments(context.Background(), 7, "coach", ListOptions{Filter: lifecycle.FilterPending})
	if err != nil {
		t.Fatalf("ListAppointments: %v", err)
	}
	if len(page.Appointments) != 1 || page.Appointments[0].ID != 2 {
		t.Fatalf("expected only the confirmed appointment in pending, got %+v", page.Appointments)
	}
	if page.Counts.All != 4 || page.Counts.Upcoming != 1 || page.Counts.Pending != 1 || page.Counts.Past != 2 {
		t.Fatalf("unexpected counts: %+v", page.Counts)
	}
	if page.Appointments[0].Participant == nil || page.Appointments[0].Participant.DisplayName != "Blake" {
		t.Fatalf("expected participant summary, got %+v", page.Appointments[0].Participant)
	}
}

func TestListAppointmentsSearchByNotes(t *testing.T) {
	now := time.Date(2026, 4, 15, 13, 0, 0, 0, time.UTC)
	withNotes := models.Appointment{
		ID: 1, ClientID: 41, CoachID: 7,
		StartsAt:  now.Add(24 * time.Hour),
		Status:    lifecycle.StatusConfirmed,
		Notes:     strPtr("Anxiety management focus"),
		CreatedAt: now,
	}
	other := models.Appointment{
		ID: 2, ClientID: 42, CoachID: 7,
		StartsAt:  now.Add(48 * time.Hour),
		Status:    lifecycle.StatusConfirmed,
		CreatedAt: now,
	}
	store := &stubAppointmentStore{listResult: []models.Appointment{withNotes, other}}
	service := newTestService(store, nil, nil, now)

	page, err := service.ListAppointments(context.Background(), 7, "coach", ListOptions{Query: "anxiety"})
	if err != nil {
		t.Fatalf("ListAppointments: %v", err)
	}
	if len(page.Appointments) != 1 || page.Appointments[0].ID != 1 {
		t.Fatalf("expected the anxiety note to match, got %+v", page.Appointments)
	}
	if page.Counts.All != 1 {
		t.Fatalf("counts must reflect the searched set, got %+v", page.Counts)
	}
}

func TestActionsReflectsRequestTime(t *testing.T) {
	start := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	apt := buildStoredAppointment(1, lifecycle.StatusConfirmed, start)
	apt.MeetingID = strPtr("meeting-a")
	store := &stubAppointmentStore{appointments: map[int64]*models.Appointment{1: apt}}
	service := newTestService(store, nil, nil, start.Add(5*time.Minute))

	actions, err := service.Actions(context.Background(), 7, "coach", 1)
	if err != nil {
		t.Fatalf("Actions: %v", err)
	}
	if !actions.CanJoin || actions.CanComplete {
		t.Fatalf("expected live-session action set, got %+v", actions)
	}
	if actions.Countdown != "Live now" {
		t.Fatalf("expected \"Live now\", got %q", actions.Countdown)
	}
}
