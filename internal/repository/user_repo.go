package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/coachdesk/backend/internal/models"
)

type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type UserRepository struct {
	db DBTX
}

func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (email, password_hash, role, display_name)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`
	return r.db.QueryRow(ctx, query, user.Email, user.PasswordHash, user.Role, user.DisplayName).
		Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	query := `
		SELECT id, email, password_hash, role, display_name, avatar_url, created_at, updated_at
		FROM users
		WHERE id = $1
	`
	var user models.User
	err := r.db.QueryRow(ctx, query, id).Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.DisplayName,
		&user.AvatarURL,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetParticipants resolves display summaries for a set of user ids.
// Missing users are simply absent from the result; callers fall back to
// empty display values.
func (r *UserRepository) GetParticipants(
	ctx context.Context,
	userIDs []int64,
) (map[int64]models.Participant, error) {
	participants := make(map[int64]models.Participant)
	if len(userIDs) == 0 {
		return participants, nil
	}

	query := `
		SELECT id, COALESCE(display_name, ''), email, avatar_url
		FROM users
		WHERE id = ANY($1)
	`
	rows, err := r.db.Query(ctx, query, userIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var participant models.Participant
		var email string
		if err := rows.Scan(
			&participant.UserID,
			&participant.DisplayName,
			&email,
			&participant.AvatarURL,
		); err != nil {
			return nil, err
		}
		participant.Email = &email
		participants[participant.UserID] = participant
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return participants, nil
}
