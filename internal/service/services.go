package service

import (
	"live_spaces/internal/config"
	"live_spaces/internal/repository"
	"live_spaces/pkg/logger"
)

type Services struct {
	Auth      AuthService
	Space     SpaceService
	Media     MediaService
	Presence  PresenceService
	RateLimit RateLimitService
	History   SpaceHistory
	Metrics   *Metrics
}

func NewServices(repos *repository.Repositories, cfg *config.Config, metrics *Metrics, log logger.Logger) *Services {
	history := NewSpaceHistory(repos.Events, log.With("component", "history"))
	spaces := NewSpaceService(repos.Space, repos.Presence, history, metrics, cfg.Spaces, log.With("component", "spaces"))

	services := &Services{
		Auth:      NewAuthService(repos.Profile, cfg.JWT, log),
		Space:     spaces,
		Media:     NewMediaService(spaces, repos.Profile, history, metrics, cfg, log.With("component", "media")),
		Presence:  NewPresenceService(repos.Presence, metrics, log.With("component", "presence")),
		RateLimit: NewRateLimitService(repos.RateLimit, cfg.RateLimit, log),
		History:   history,
		Metrics:   metrics,
	}

	log.Info("Services initialized")

	return services
}
