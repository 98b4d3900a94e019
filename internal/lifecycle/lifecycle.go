package lifecycle

import (
	"errors"
	"strings"
	"time"

	"github.com/coachdesk/backend/internal/models"
)

const (
	StatusScheduled = "scheduled"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"
)

// DefaultSessionDuration is the effective length of an appointment
// whose ends_at was never set.
const DefaultSessionDuration = 60 * time.Minute

var (
	ErrInvalidStatus          = errors.New("invalid status")
	ErrInvalidStateTransition = errors.New("invalid state transition")
)

func IsTerminal(status string) bool {
	return status == StatusCancelled || status == StatusCompleted
}

func NormalizeRequestedStatus(status string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "confirm", "confirmed", "accept", "accepted":
		return StatusConfirmed, nil
	case "complete", "completed":
		return StatusCompleted, nil
	case "cancel", "cancelled", "canceled", "reject", "rejected":
		return StatusCancelled, nil
	default:
		return "", ErrInvalidStatus
	}
}

// ValidateTransition checks whether an appointment may move to nextStatus
// at the given instant. Completion is gated on the session's effective end:
// a confirmed appointment cannot be marked completed before its scheduled
// window has elapsed.
func ValidateTransition(apt *models.Appointment, nextStatus string, now time.Time) error {
	switch nextStatus {
	case StatusConfirmed:
		if apt.Status != StatusScheduled {
			return ErrInvalidStateTransition
		}
	case StatusCompleted:
		if apt.Status != StatusConfirmed {
			return ErrInvalidStateTransition
		}
		if !IsCompleteAvailable(apt, now) {
			return ErrInvalidStateTransition
		}
	case StatusCancelled:
		if IsTerminal(apt.Status) {
			return ErrInvalidStateTransition
		}
	default:
		return ErrInvalidStatus
	}
	return nil
}

// CanReschedule reports whether the appointment's times may be changed.
// Scheduled appointments expose accept/reject instead of reschedule.
func CanReschedule(apt *models.Appointment) bool {
	return apt.Status == StatusConfirmed
}
