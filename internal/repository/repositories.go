package repository

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"live_spaces/internal/config"
	"live_spaces/pkg/logger"
)

type Repositories struct {
	Space     SpaceRepository
	Profile   ProfileRepository
	Presence  PresenceRepository
	Events    SpaceEventRepository
	RateLimit RateLimitRepository
}

func NewRepositories(db *pgxpool.Pool, redis *redis.Client, cfg *config.Config, log logger.Logger) *Repositories {
	repos := &Repositories{
		Space:     NewSpaceRepository(db, log),
		Profile:   NewProfileRepository(db, log),
		Presence:  NewPresenceRepository(redis, cfg.Presence.TTL, log),
		Events:    NewSpaceEventRepository(db, log),
		RateLimit: NewRateLimitRepository(redis, log),
	}

	log.Info("Repositories initialized")

	return repos
}
