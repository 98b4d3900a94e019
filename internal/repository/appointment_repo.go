package repository

import (
	"context"
	"time"

	"github.com/coachdesk/backend/internal/models"
)

const appointmentColumns = "id, client_id, coach_id, starts_at, ends_at, status, meeting_id, notes, created_at, updated_at"

type CreateAppointmentInput struct {
	ClientID  int64
	CoachID   int64
	StartsAt  time.Time
	EndsAt    *time.Time
	MeetingID *string
	Notes     *string
}

type AppointmentRepository struct {
	db DBTX
}

func NewAppointmentRepository(db DBTX) *AppointmentRepository {
	return &AppointmentRepository{db: db}
}

func scanAppointment(row interface{ Scan(dest ...any) error }) (*models.Appointment, error) {
	var apt models.Appointment
	err := row.Scan(
		&apt.ID,
		&apt.ClientID,
		&apt.CoachID,
		&apt.StartsAt,
		&apt.EndsAt,
		&apt.Status,
		&apt.MeetingID,
		&apt.Notes,
		&apt.CreatedAt,
		&apt.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &apt, nil
}

func (r *AppointmentRepository) Create(
	ctx context.Context,
	input CreateAppointmentInput,
) (*models.Appointment, error) {
	query := `
		INSERT INTO appointments (client_id, coach_id, starts_at, ends_at, status, meeting_id, notes)
		VALUES ($1, $2, $3, $4, 'scheduled', $5, $6)
		RETURNING ` + appointmentColumns

	return scanAppointment(r.db.QueryRow(
		ctx,
		query,
		input.ClientID,
		input.CoachID,
		input.StartsAt,
		input.EndsAt,
		input.MeetingID,
		input.Notes,
	))
}

func (r *AppointmentRepository) GetByID(ctx context.Context, appointmentID int64) (*models.Appointment, error) {
	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE id = $1
	`
	return scanAppointment(r.db.QueryRow(ctx, query, appointmentID))
}

// ListByActor returns the actor's full collection ordered by insertion.
// Bucket, query and range filtering happen above this layer so a single
// fetch can serve every view.
func (r *AppointmentRepository) ListByActor(
	ctx context.Context,
	actorID int64,
	role string,
) ([]models.Appointment, error) {
	actorColumn := "client_id"
	if role == "coach" {
		actorColumn = "coach_id"
	}

	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE ` + actorColumn + ` = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	appointments := make([]models.Appointment, 0)
	for rows.Next() {
		apt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appointments = append(appointments, *apt)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return appointments, nil
}

// UpdateStatusIfCurrent applies a transition only when the stored status
// still matches what the caller validated against. Returns pgx.ErrNoRows
// when another writer got there first.
func (r *AppointmentRepository) UpdateStatusIfCurrent(
	ctx context.Context,
	appointmentID int64,
	currentStatus string,
	nextStatus string,
) (*models.Appointment, error) {
	query := `
		UPDATE appointments
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING ` + appointmentColumns

	return scanAppointment(r.db.QueryRow(ctx, query, appointmentID, currentStatus, nextStatus))
}

// UpdateScheduleIfConfirmed moves a confirmed appointment to new times
// without touching its status.
func (r *AppointmentRepository) UpdateScheduleIfConfirmed(
	ctx context.Context,
	appointmentID int64,
	startsAt time.Time,
	endsAt *time.Time,
) (*models.Appointment, error) {
	query := `
		UPDATE appointments
		SET starts_at = $2, ends_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'confirmed'
		RETURNING ` + appointmentColumns

	return scanAppointment(r.db.QueryRow(ctx, query, appointmentID, startsAt, endsAt))
}

func (r *AppointmentRepository) UpdateNotes(
	ctx context.Context,
	appointmentID int64,
	notes *string,
) (*models.Appointment, error) {
	query := `
		UPDATE appointments
		SET notes = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + appointmentColumns

	return scanAppointment(r.db.QueryRow(ctx, query, appointmentID, notes))
}

func (r *AppointmentRepository) HasConflict(
	ctx context.Context,
	coachID int64,
	startsAt time.Time,
	endsAt time.Time,
) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM appointments
			WHERE coach_id = $1
			  AND status NOT IN ('cancelled', 'completed')
			  AND starts_at < $3::timestamptz
			  AND COALESCE(ends_at, starts_at + INTERVAL '60 minutes') > $2::timestamptz
		)
	`
	var hasConflict bool
	if err := r.db.QueryRow(ctx, query, coachID, startsAt, endsAt).Scan(&hasConflict); err != nil {
		return false, err
	}
	return hasConflict, nil
}

func (r *AppointmentRepository) HasConflictExcludingAppointment(
	ctx context.Context,
	coachID int64,
	startsAt time.Time,
	endsAt time.Time,
	excludedID int64,
) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM appointments
			WHERE coach_id = $1
			  AND id <> $4
			  AND status NOT IN ('cancelled', 'completed')
			  AND starts_at < $3::timestamptz
			  AND COALESCE(ends_at, starts_at + INTERVAL '60 minutes') > $2::timestamptz
		)
	`
	var hasConflict bool
	if err := r.db.QueryRow(ctx, query, coachID, startsAt, endsAt, excludedID).Scan(&hasConflict); err != nil {
		return false, err
	}
	return hasConflict, nil
}
