package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"

	"github.com/coachdesk/backend/internal/lifecycle"
	"github.com/coachdesk/backend/internal/models"
	"github.com/coachdesk/backend/internal/services"
)

type AppointmentHandler struct {
	service appointmentApplicationService
}

type appointmentApplicationService interface {
	ListAppointments(ctx context.Context, actorID int64, role string, opts services.ListOptions) (*services.AppointmentPage, error)
	GetAppointment(ctx context.Context, actorID int64, role string, appointmentID int64) (*models.AppointmentDetail, error)
	Actions(ctx context.Context, actorID int64, role string, appointmentID int64) (*lifecycle.Actions, error)
	UpdateStatus(ctx context.Context, actorID int64, role string, appointmentID int64, requestedStatus string) (*models.AppointmentDetail, error)
	Reschedule(ctx context.Context, actorID int64, role string, appointmentID int64, startsAt time.Time, endsAt *time.Time) (*models.AppointmentDetail, error)
	UpdateNotes(ctx context.Context, actorID int64, role string, appointmentID int64, notes *string) (*models.AppointmentDetail, error)
	JoinMeeting(ctx context.Context, actorID int64, role string, appointmentID int64) (*services.JoinResult, error)
	LeaveMeeting(ctx context.Context, actorID int64) error
	BookAppointment(ctx context.Context, clientID int64, input services.BookAppointmentInput) (*models.AppointmentDetail, error)
}

func NewAppointmentHandler(service *services.AppointmentService) *AppointmentHandler {
	return &AppointmentHandler{service: service}
}

type bookAppointmentRequest struct {
	CoachID  int64   `json:"coach_id"`
	StartsAt string  `json:"starts_at"`
	EndsAt   *string `json:"ends_at"`
	Notes    *string `json:"notes"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type rescheduleRequest struct {
	StartsAt string  `json:"starts_at"`
	EndsAt   *string `json:"ends_at"`
}

type updateNotesRequest struct {
	Notes *string `json:"notes"`
}

func (h *AppointmentHandler) ListAppointments(c *fiber.Ctx) error {
	actorID, role, errResp := requireParticipant(c)
	if errResp != nil {
		return errResp
	}

	filter := strings.TrimSpace(c.Query("filter", lifecycle.FilterAll))
	if !lifecycle.IsValidFilter(filter) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "filter must be all, upcoming, past or pending"})
	}
	dateRange := strings.TrimSpace(c.Query("range", lifecycle.RangeAll))
	if !lifecycle.IsValidRange(dateRange) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "range must be all, thisWeek, thisMonth or last3Months"})
	}
	sortBy := strings.TrimSpace(c.Query("sort", lifecycle.SortByCreatedAt))
	if sortBy != lifecycle.SortByCreatedAt && sortBy != lifecycle.SortByName {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "sort must be created_at or name"})
	}
	order := strings.TrimSpace(c.Query("order", lifecycle.OrderAsc))
	if order != lifecycle.OrderAsc && order != lifecycle.OrderDesc {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "order must be asc or desc"})
	}

	page, err := h.service.ListAppointments(c.Context(), actorID, role, services.ListOptions{
		Filter: filter,
		Query:  strings.TrimSpace(c.Query("query")),
		Range:  dateRange,
		SortBy: sortBy,
		Order:  order,
	})
	if err != nil {
		return mapAppointmentError(c, err)
	}

	return c.JSON(fiber.Map{
		"appointments": page.Appointments,
		"counts":       page.Counts,
	})
}

func (h *AppointmentHandler) GetAppointment(c *fiber.Ctx) error {
	actorID, role, errResp := requireParticipant(c)
	if errResp != nil {
		return errResp
	}
	appointmentID, err := parseAppointmentID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid appointment id"})
	}

	detail, err := h.service.GetAppointment(c.Context(), actorID, role, appointmentID)
	if err != nil {
		return mapAppointmentError(c, err)
	}
	return c.JSON(fiber.Map{"appointment": detail})
}

func (h *AppointmentHandler) GetActions(c *fiber.Ctx) error {
	actorID, role, errResp := requireParticipant(c)
	if errResp != nil {
		return errResp
	}
	appointmentID, err := parseAppointmentID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid appointment id"})
	}

	actions, err := h.service.Actions(c.Context(), actorID, role, appointmentID)
	if err != nil {
		return mapAppointmentError(c, err)
	}
	return c.JSON(fiber.Map{"actions": actions})
}

func (h *AppointmentHandler) UpdateStatus(c *fiber.Ctx) error {
	actorID, role, errResp := requireParticipant(c)
	if errResp != nil {
		return errResp
	}
	appointmentID, err := parseAppointmentID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid appointment id"})
	}

	var req updateStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	detail, err := h.service.UpdateStatus(c.Context(), actorID, role, appointmentID, req.Status)
	if err != nil {
		return mapAppointmentError(c, err)
	}
	return c.JSON(fiber.Map{"appointment": detail})
}

func (h *AppointmentHandler) Reschedule(c *fiber.Ctx) error {
	actorID, role, errResp := requireParticipant(c)
	if errResp != nil {
		return errResp
	}
	appointmentID, err := parseAppointmentID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid appointment id"})
	}

	var req rescheduleRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	startsAt, err := time.Parse(time.RFC3339, strings.TrimSpace(req.StartsAt))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "starts_at must be a valid RFC3339 timestamp"})
	}
	endsAt, errResp2 := parseOptionalTime(c, req.EndsAt, "ends_at")
	if errResp2 != nil {
		return errResp2
	}

	detail, err := h.service.Reschedule(c.Context(), actorID, role, appointmentID, startsAt, endsAt)
	if err != nil {
		return mapAppointmentError(c, err)
	}
	return c.JSON(fiber.Map{"appointment": detail})
}

func (h *AppointmentHandler) UpdateNotes(c *fiber.Ctx) error {
	actorID, role, errResp := requireParticipant(c)
	if errResp != nil {
		return errResp
	}
	appointmentID, err := parseAppointmentID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid appointment id"})
	}

	var req updateNotesRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	detail, err := h.service.UpdateNotes(c.Context(), actorID, role, appointmentID, req.Notes)
	if err != nil {
		return mapAppointmentError(c, err)
	}
	return c.JSON(fiber.Map{"appointment": detail})
}

func (h *AppointmentHandler) JoinMeeting(c *fiber.Ctx) error {
	actorID, role, errResp := requireParticipant(c)
	if errResp != nil {
		return errResp
	}
	appointmentID, err := parseAppointmentID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid appointment id"})
	}

	result, err := h.service.JoinMeeting(c.Context(), actorID, role, appointmentID)
	if err != nil {
		return mapAppointmentError(c, err)
	}
	return c.JSON(fiber.Map{"meeting": result})
}

func (h *AppointmentHandler) LeaveMeeting(c *fiber.Ctx) error {
	actorID, _, errResp := requireParticipant(c)
	if errResp != nil {
		return errResp
	}

	if err := h.service.LeaveMeeting(c.Context(), actorID); err != nil {
		return mapAppointmentError(c, err)
	}
	return c.JSON(fiber.Map{"status": "left"})
}

func (h *AppointmentHandler) BookAppointment(c *fiber.Ctx) error {
	role, ok := c.Locals("role").(string)
	if !ok || role != "client" {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}
	clientID, err := parseActorID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var req bookAppointmentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	startsAt, err := time.Parse(time.RFC3339, strings.TrimSpace(req.StartsAt))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "starts_at must be a valid RFC3339 timestamp"})
	}
	endsAt, errResp := parseOptionalTime(c, req.EndsAt, "ends_at")
	if errResp != nil {
		return errResp
	}
	if req.Notes != nil && strings.TrimSpace(*req.Notes) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "notes must not be empty"})
	}

	detail, err := h.service.BookAppointment(c.Context(), clientID, services.BookAppointmentInput{
		CoachID:  req.CoachID,
		StartsAt: startsAt,
		EndsAt:   endsAt,
		Notes:    req.Notes,
	})
	if err != nil {
		return mapAppointmentError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"appointment": detail})
}

func requireParticipant(c *fiber.Ctx) (int64, string, error) {
	role, ok := c.Locals("role").(string)
	if !ok || (role != "client" && role != "coach") {
		return 0, "", c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}
	actorID, err := parseActorID(c)
	if err != nil {
		return 0, "", c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}
	return actorID, role, nil
}

func parseActorID(c *fiber.Ctx) (int64, error) {
	raw, ok := c.Locals("user_id").(string)
	if !ok {
		return 0, errors.New("missing user id")
	}
	actorID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || actorID <= 0 {
		return 0, errors.New("invalid user id")
	}
	return actorID, nil
}

func parseAppointmentID(c *fiber.Ctx) (int64, error) {
	appointmentID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || appointmentID <= 0 {
		return 0, errors.New("invalid appointment id")
	}
	return appointmentID, nil
}

func parseOptionalTime(c *fiber.Ctx, raw *string, field string) (*time.Time, error) {
	if raw == nil {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(*raw))
	if err != nil {
		return nil, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": field + " must be a valid RFC3339 timestamp"})
	}
	return &parsed, nil
}

func mapAppointmentError(c *fiber.Ctx, err error) error {
	var meetingConflict *services.MeetingConflictError
	switch {
	case errors.Is(err, services.ErrInvalidInput), errors.Is(err, lifecycle.ErrInvalidStatus):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	case errors.Is(err, services.ErrConflict):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Requested time conflicts with another appointment"})
	case errors.As(err, &meetingConflict):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":             "Another meeting is already active",
			"active_meeting_id": meetingConflict.ActiveMeetingID,
		})
	case errors.Is(err, lifecycle.ErrInvalidStateTransition), errors.Is(err, services.ErrJoinWindowClosed):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrCoachNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Coach not found"})
	case errors.Is(err, services.ErrNoMeeting):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "No meeting provisioned for this appointment"})
	case errors.Is(err, pgx.ErrNoRows):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Appointment not found"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process appointment request"})
	}
}
