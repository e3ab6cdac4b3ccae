package service

import (
	"context"
	"time"

	"live_spaces/internal/config"
	"live_spaces/internal/repository"
	"live_spaces/pkg/logger"
)

// RateLimitDecision is the outcome of one Allow call.
type RateLimitDecision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type RateLimitService interface {
	Allow(ctx context.Context, key string) (*RateLimitDecision, error)
}

type rateLimitService struct {
	rateLimitRepo repository.RateLimitRepository
	cfg           config.RateLimitConfig
	log           logger.Logger
}

func NewRateLimitService(rateLimitRepo repository.RateLimitRepository, cfg config.RateLimitConfig, log logger.Logger) RateLimitService {
	return &rateLimitService{
		rateLimitRepo: rateLimitRepo,
		cfg:           cfg,
		log:           log,
	}
}

func (s *rateLimitService) Allow(ctx context.Context, key string) (*RateLimitDecision, error) {
	key = "ratelimit:" + key
	d := &RateLimitDecision{Limit: s.cfg.Requests}

	allowed, err := s.rateLimitRepo.CheckLimit(ctx, key, s.cfg.Requests)
	if err != nil {
		return nil, err
	}
	if !allowed {
		ttl, err := s.rateLimitRepo.TTL(ctx, key)
		if err != nil {
			s.log.Warn("Failed to read rate limit window", "error", err)
		}
		d.RetryAfter = ttl
		return d, nil
	}

	count, err := s.rateLimitRepo.Increment(ctx, key, s.cfg.Window)
	if err != nil {
		return nil, err
	}

	d.Allowed = true
	d.Remaining = s.cfg.Requests - int(count)
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	return d, nil
}
