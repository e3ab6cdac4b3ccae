package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"live_spaces/internal/domain"
	"live_spaces/internal/repository"
	"live_spaces/pkg/logger"
)

// SpaceHistory records lifecycle events of spaces.
type SpaceHistory interface {
	Record(ctx context.Context, event domain.SpaceEvent) error
}

type spaceHistory struct {
	events repository.SpaceEventRepository
	now    func() time.Time
	log    logger.Logger
}

func NewSpaceHistory(events repository.SpaceEventRepository, log logger.Logger) SpaceHistory {
	return &spaceHistory{events: events, now: time.Now, log: log}
}

func (h *spaceHistory) Record(ctx context.Context, event domain.SpaceEvent) error {
	if !event.Kind.Valid() {
		return fmt.Errorf("unknown space event kind %q", event.Kind)
	}
	if event.SpaceID == uuid.Nil {
		return fmt.Errorf("space event %s without a space", event.Kind)
	}
	if event.At.IsZero() {
		event.At = h.now().UTC()
	}

	if err := h.events.Append(ctx, &event); err != nil {
		return err
	}
	h.log.Debug("Space event recorded", "space_id", event.SpaceID, "kind", event.Kind, "id", event.ID)
	return nil
}
