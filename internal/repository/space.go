package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"live_spaces/internal/domain"
	apperrors "live_spaces/pkg/errors"
	"live_spaces/pkg/logger"
)

type SpaceRepository interface {
	Create(ctx context.Context, space *domain.Space) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Space, error)
	GetByCode(ctx context.Context, code string) (*domain.Space, error)
	CountActiveByHost(ctx context.Context, hostID uuid.UUID) (int, error)
	ListLiveStartedBefore(ctx context.Context, before time.Time) ([]*domain.Space, error)
	End(ctx context.Context, id uuid.UUID, endedAt time.Time) error
	AddParticipant(ctx context.Context, participant *domain.SpaceParticipant) error
	GetActiveParticipant(ctx context.Context, spaceID, userID uuid.UUID) (*domain.SpaceParticipant, error)
	ListActiveParticipants(ctx context.Context, spaceID uuid.UUID) ([]*domain.SpaceParticipant, error)
	MarkParticipantLeft(ctx context.Context, spaceID, userID uuid.UUID, leftAt time.Time) error
}

type spaceRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewSpaceRepository(db *pgxpool.Pool, log logger.Logger) SpaceRepository {
	return &spaceRepository{db: db, log: log}
}

const spaceColumns = `
	id, code, livekit_room_name, host_user_id, title, description, type, audio_only,
	status, invite_code_hash, created_at, updated_at, ended_at`

func scanSpace(row pgx.Row) (*domain.Space, error) {
	space := &domain.Space{}
	err := row.Scan(
		&space.ID, &space.Code, &space.LiveKitRoomName, &space.HostUserID, &space.Title,
		&space.Description, &space.Type, &space.AudioOnly, &space.Status, &space.InviteCodeHash,
		&space.CreatedAt, &space.UpdatedAt, &space.EndedAt,
	)
	if err != nil {
		return nil, err
	}
	return space, nil
}

func (r *spaceRepository) Create(ctx context.Context, space *domain.Space) error {
	query := `
		INSERT INTO spaces (id, code, livekit_room_name, host_user_id, title, description, type,
		                    audio_only, status, invite_code_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		space.ID, space.Code, space.LiveKitRoomName, space.HostUserID, space.Title, space.Description,
		space.Type, space.AudioOnly, space.Status, space.InviteCodeHash, space.CreatedAt, space.UpdatedAt,
	).Scan(&space.CreatedAt, &space.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			r.log.Warn("Space code collision", "code", space.Code, "constraint", pgErr.ConstraintName)
			return fmt.Errorf("space code %s: %w", space.Code, apperrors.ErrConflict)
		}
		r.log.Error("Failed to create space", "error", err)
		return err
	}

	return nil
}

func (r *spaceRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Space, error) {
	query := `SELECT` + spaceColumns + ` FROM spaces WHERE id = $1`

	space, err := scanSpace(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrSpaceNotFound
		}
		r.log.Error("Failed to get space by ID", "error", err)
		return nil, err
	}
	return space, nil
}

func (r *spaceRepository) GetByCode(ctx context.Context, code string) (*domain.Space, error) {
	query := `SELECT` + spaceColumns + ` FROM spaces WHERE code = $1`

	space, err := scanSpace(r.db.QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrSpaceNotFound
		}
		r.log.Error("Failed to get space by code", "error", err, "code", code)
		return nil, err
	}
	return space, nil
}

func (r *spaceRepository) CountActiveByHost(ctx context.Context, hostID uuid.UUID) (int, error) {
	query := `SELECT COUNT(*) FROM spaces WHERE host_user_id = $1 AND status = $2`

	var count int
	if err := r.db.QueryRow(ctx, query, hostID, domain.SpaceStatusLive).Scan(&count); err != nil {
		r.log.Error("Failed to count active spaces", "error", err)
		return 0, err
	}
	return count, nil
}

func (r *spaceRepository) ListLiveStartedBefore(ctx context.Context, before time.Time) ([]*domain.Space, error) {
	query := `SELECT` + spaceColumns + ` FROM spaces WHERE status = $1 AND created_at < $2 ORDER BY created_at`

	rows, err := r.db.Query(ctx, query, domain.SpaceStatusLive, before)
	if err != nil {
		r.log.Error("Failed to list stale spaces", "error", err)
		return nil, err
	}
	defer rows.Close()

	var spaces []*domain.Space
	for rows.Next() {
		space, err := scanSpace(rows)
		if err != nil {
			r.log.Error("Failed to scan space", "error", err)
			return nil, err
		}
		spaces = append(spaces, space)
	}
	return spaces, rows.Err()
}

// End marks the space ended and closes every open participation in one
// transaction. Ending an already ended space is a no-op.
func (r *spaceRepository) End(ctx context.Context, id uuid.UUID, endedAt time.Time) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE spaces SET status = $2, ended_at = $3, updated_at = $3
		WHERE id = $1 AND status = $4
	`, id, domain.SpaceStatusEnded, endedAt, domain.SpaceStatusLive)
	if err != nil {
		r.log.Error("Failed to end space", "error", err, "space_id", id)
		return err
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	if _, err := tx.Exec(ctx, `
		UPDATE space_participants SET left_at = $2
		WHERE space_id = $1 AND left_at IS NULL
	`, id, endedAt); err != nil {
		r.log.Error("Failed to close participations", "error", err, "space_id", id)
		return err
	}

	return tx.Commit(ctx)
}

func (r *spaceRepository) AddParticipant(ctx context.Context, p *domain.SpaceParticipant) error {
	query := `
		INSERT INTO space_participants (id, space_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.Exec(ctx, query, p.ID, p.SpaceID, p.UserID, p.Role, p.JoinedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// already an active participant
			return apperrors.ErrConflict
		}
		r.log.Error("Failed to add participant", "error", err)
		return err
	}
	return nil
}

func (r *spaceRepository) GetActiveParticipant(ctx context.Context, spaceID, userID uuid.UUID) (*domain.SpaceParticipant, error) {
	query := `
		SELECT id, space_id, user_id, role, joined_at, left_at
		FROM space_participants
		WHERE space_id = $1 AND user_id = $2 AND left_at IS NULL
	`

	p := &domain.SpaceParticipant{}
	err := r.db.QueryRow(ctx, query, spaceID, userID).Scan(
		&p.ID, &p.SpaceID, &p.UserID, &p.Role, &p.JoinedAt, &p.LeftAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrParticipantNotFound
		}
		r.log.Error("Failed to get participant", "error", err)
		return nil, err
	}
	return p, nil
}

func (r *spaceRepository) ListActiveParticipants(ctx context.Context, spaceID uuid.UUID) ([]*domain.SpaceParticipant, error) {
	query := `
		SELECT id, space_id, user_id, role, joined_at, left_at
		FROM space_participants
		WHERE space_id = $1 AND left_at IS NULL
		ORDER BY joined_at
	`

	rows, err := r.db.Query(ctx, query, spaceID)
	if err != nil {
		r.log.Error("Failed to list participants", "error", err)
		return nil, err
	}
	defer rows.Close()

	var participants []*domain.SpaceParticipant
	for rows.Next() {
		p := &domain.SpaceParticipant{}
		if err := rows.Scan(&p.ID, &p.SpaceID, &p.UserID, &p.Role, &p.JoinedAt, &p.LeftAt); err != nil {
			r.log.Error("Failed to scan participant", "error", err)
			return nil, err
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

func (r *spaceRepository) MarkParticipantLeft(ctx context.Context, spaceID, userID uuid.UUID, leftAt time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE space_participants SET left_at = $3
		WHERE space_id = $1 AND user_id = $2 AND left_at IS NULL
	`, spaceID, userID, leftAt)
	if err != nil {
		r.log.Error("Failed to mark participant left", "error", err)
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrParticipantNotFound
	}
	return nil
}
