package models

import "time"

type Appointment struct {
	ID        int64      `json:"id"`
	ClientID  int64      `json:"client_id"`
	CoachID   int64      `json:"coach_id"`
	StartsAt  time.Time  `json:"starts_at"`
	EndsAt    *time.Time `json:"ends_at"`
	Status    string     `json:"status"`
	MeetingID *string    `json:"meeting_id"`
	Notes     *string    `json:"notes"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Participant is the display summary of the other party on an appointment.
// The underlying profile record may be missing; consumers fall back to
// zero values rather than failing.
type Participant struct {
	UserID      int64   `json:"user_id"`
	DisplayName string  `json:"display_name"`
	Email       *string `json:"email,omitempty"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
}

type AppointmentDetail struct {
	Appointment
	Participant *Participant `json:"participant,omitempty"`
}
