package lifecycle

import (
	"fmt"
	"time"

	"github.com/coachdesk/backend/internal/models"
)

func EffectiveEnd(apt *models.Appointment) time.Time {
	if apt.EndsAt != nil {
		return *apt.EndsAt
	}
	return apt.StartsAt.Add(DefaultSessionDuration)
}

// IsJoinAvailable reports whether now falls inside the session window,
// both endpoints inclusive.
func IsJoinAvailable(apt *models.Appointment, now time.Time) bool {
	return !now.Before(apt.StartsAt) && !now.After(EffectiveEnd(apt))
}

// IsCompleteAvailable reports whether the session's effective end has
// passed. Independent of status: the caller decides whether "complete"
// is a legal transition.
func IsCompleteAvailable(apt *models.Appointment, now time.Time) bool {
	return !now.Before(EffectiveEnd(apt))
}

// CountdownLabel renders the display label for an appointment relative
// to now: whole days when the session is more than a day out, an
// HH:MM:SS countdown inside the last day, "Live now" inside the window
// and "Completed" after it. The label is independent of status.
func CountdownLabel(apt *models.Appointment, now time.Time) string {
	if now.Before(apt.StartsAt) {
		until := apt.StartsAt.Sub(now)
		if until > 24*time.Hour {
			days := int(until / (24 * time.Hour))
			if until%(24*time.Hour) != 0 {
				days++
			}
			if days == 1 {
				return "In 1 day"
			}
			return fmt.Sprintf("In %d days", days)
		}
		total := int(until.Seconds())
		return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
	}
	if now.Before(EffectiveEnd(apt)) {
		return "Live now"
	}
	return "Completed"
}

type Actions struct {
	CanConfirm    bool   `json:"can_confirm"`
	CanCancel     bool   `json:"can_cancel"`
	CanComplete   bool   `json:"can_complete"`
	CanReschedule bool   `json:"can_reschedule"`
	CanJoin       bool   `json:"can_join"`
	Countdown     string `json:"countdown"`
}

// ActionsFor computes the action set a coach may take on an appointment
// at the given instant. Join additionally requires a provisioned meeting.
func ActionsFor(apt *models.Appointment, now time.Time) Actions {
	return Actions{
		CanConfirm:    apt.Status == StatusScheduled,
		CanCancel:     !IsTerminal(apt.Status),
		CanComplete:   apt.Status == StatusConfirmed && IsCompleteAvailable(apt, now),
		CanReschedule: CanReschedule(apt),
		CanJoin:       apt.Status == StatusConfirmed && apt.MeetingID != nil && IsJoinAvailable(apt, now),
		Countdown:     CountdownLabel(apt, now),
	}
}
