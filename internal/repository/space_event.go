package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"live_spaces/internal/domain"
	"live_spaces/pkg/logger"
)

type SpaceEventRepository interface {
	Append(ctx context.Context, event *domain.SpaceEvent) error
}

type spaceEventRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewSpaceEventRepository(db *pgxpool.Pool, log logger.Logger) SpaceEventRepository {
	return &spaceEventRepository{db: db, log: log}
}

func (r *spaceEventRepository) Append(ctx context.Context, event *domain.SpaceEvent) error {
	detail, err := json.Marshal(event.Detail)
	if err != nil {
		return fmt.Errorf("failed to marshal event detail: %w", err)
	}

	query := `
		INSERT INTO space_events (space_id, kind, actor_id, detail, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err = r.db.QueryRow(ctx, query,
		event.SpaceID, string(event.Kind), event.Actor, detail, event.At,
	).Scan(&event.ID)
	if err != nil {
		r.log.Error("Failed to append space event", "error", err, "space_id", event.SpaceID, "kind", event.Kind)
		return err
	}
	return nil
}
