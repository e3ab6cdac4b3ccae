package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"live_spaces/internal/domain"
	"live_spaces/internal/repository"
	"live_spaces/pkg/logger"
)

// PresenceService relays the lightweight roster of a space. Writes are
// stamped with the server clock so per-field last-write-wins does not depend
// on client clocks.
type PresenceService interface {
	Snapshot(ctx context.Context, spaceID uuid.UUID) ([]domain.PresenceState, error)
	Publish(ctx context.Context, spaceID uuid.UUID, userID uuid.UUID, update domain.PresenceUpdate) (domain.PresenceState, error)
	MarkOnline(ctx context.Context, spaceID uuid.UUID, userID uuid.UUID, role, displayName string) error
	MarkOffline(ctx context.Context, spaceID uuid.UUID, userID uuid.UUID) error
	Subscribe(ctx context.Context, spaceID uuid.UUID) (*repository.PresenceFeed, error)
}

type presenceService struct {
	presenceRepo repository.PresenceRepository
	metrics      *Metrics
	log          logger.Logger
	now          func() time.Time
}

func NewPresenceService(presenceRepo repository.PresenceRepository, metrics *Metrics, log logger.Logger) PresenceService {
	return &presenceService{
		presenceRepo: presenceRepo,
		metrics:      metrics,
		log:          log,
		now:          time.Now,
	}
}

func (s *presenceService) Snapshot(ctx context.Context, spaceID uuid.UUID) ([]domain.PresenceState, error) {
	return s.presenceRepo.Snapshot(ctx, spaceID)
}

// Publish applies a caller's own update. Role is server-owned and ignored.
func (s *presenceService) Publish(ctx context.Context, spaceID uuid.UUID, userID uuid.UUID, update domain.PresenceUpdate) (domain.PresenceState, error) {
	update.UserID = userID.String()
	update.Role = nil
	update.At = s.now()

	state, changed, err := s.presenceRepo.Apply(ctx, spaceID, update)
	if err != nil {
		return domain.PresenceState{}, err
	}
	if changed {
		s.metrics.PresenceUpdates.Inc()
	}
	return state, nil
}

func (s *presenceService) MarkOnline(ctx context.Context, spaceID uuid.UUID, userID uuid.UUID, role, displayName string) error {
	online := true
	update := domain.PresenceUpdate{
		UserID: userID.String(),
		Online: &online,
		Role:   &role,
		At:     s.now(),
	}
	if displayName != "" {
		update.DisplayName = &displayName
	}
	_, _, err := s.presenceRepo.Apply(ctx, spaceID, update)
	return err
}

func (s *presenceService) MarkOffline(ctx context.Context, spaceID uuid.UUID, userID uuid.UUID) error {
	online := false
	_, _, err := s.presenceRepo.Apply(ctx, spaceID, domain.PresenceUpdate{
		UserID: userID.String(),
		Online: &online,
		At:     s.now(),
	})
	return err
}

func (s *presenceService) Subscribe(ctx context.Context, spaceID uuid.UUID) (*repository.PresenceFeed, error) {
	return s.presenceRepo.Subscribe(ctx, spaceID)
}
