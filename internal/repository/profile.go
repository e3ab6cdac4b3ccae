package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"live_spaces/internal/domain"
	apperrors "live_spaces/pkg/errors"
	"live_spaces/pkg/logger"
)

// ProfileRepository mirrors users of the hosted auth provider.
type ProfileRepository interface {
	Upsert(ctx context.Context, profile *domain.Profile) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Profile, error)
}

type profileRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewProfileRepository(db *pgxpool.Pool, log logger.Logger) ProfileRepository {
	return &profileRepository{db: db, log: log}
}

// Upsert inserts the profile or refreshes email and display name of an
// existing one.
func (r *profileRepository) Upsert(ctx context.Context, profile *domain.Profile) error {
	query := `
		INSERT INTO profiles (user_id, email, display_name, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET email = EXCLUDED.email,
		    display_name = COALESCE(NULLIF(EXCLUDED.display_name, ''), profiles.display_name),
		    updated_at = NOW()
		RETURNING display_name, created_at, updated_at
	`

	email := strings.ToLower(strings.TrimSpace(profile.Email))
	err := r.db.QueryRow(ctx, query, profile.UserID, email, profile.DisplayName).
		Scan(&profile.DisplayName, &profile.CreatedAt, &profile.UpdatedAt)
	if err != nil {
		r.log.Error("Failed to upsert profile", "error", err, "user_id", profile.UserID)
		return err
	}
	profile.Email = email
	return nil
}

func (r *profileRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Profile, error) {
	query := `
		SELECT user_id, email, display_name, created_at, updated_at
		FROM profiles
		WHERE user_id = $1
	`

	p := &domain.Profile{}
	err := r.db.QueryRow(ctx, query, id).Scan(&p.UserID, &p.Email, &p.DisplayName, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		r.log.Error("Failed to get profile", "error", err)
		return nil, err
	}
	return p, nil
}
