package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"live_spaces/internal/config"
	"live_spaces/internal/domain"
	"live_spaces/internal/repository"
	apperrors "live_spaces/pkg/errors"
	"live_spaces/pkg/logger"
)

type fakeSpaceRepo struct {
	mu           sync.Mutex
	spaces       map[uuid.UUID]*domain.Space
	participants []*domain.SpaceParticipant
	createErrs   []error
}

func newFakeSpaceRepo() *fakeSpaceRepo {
	return &fakeSpaceRepo{spaces: make(map[uuid.UUID]*domain.Space)}
}

func (r *fakeSpaceRepo) Create(_ context.Context, space *domain.Space) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.createErrs) > 0 {
		err := r.createErrs[0]
		r.createErrs = r.createErrs[1:]
		return err
	}
	cp := *space
	r.spaces[space.ID] = &cp
	return nil
}

func (r *fakeSpaceRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Space, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.spaces[id]
	if !ok {
		return nil, apperrors.ErrSpaceNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *fakeSpaceRepo) GetByCode(_ context.Context, code string) (*domain.Space, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.spaces {
		if s.Code == code {
			cp := *s
			return &cp, nil
		}
	}
	return nil, apperrors.ErrSpaceNotFound
}

func (r *fakeSpaceRepo) CountActiveByHost(_ context.Context, hostID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.spaces {
		if s.HostUserID == hostID && s.IsLive() {
			n++
		}
	}
	return n, nil
}

func (r *fakeSpaceRepo) ListLiveStartedBefore(_ context.Context, before time.Time) ([]*domain.Space, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Space
	for _, s := range r.spaces {
		if s.IsLive() && s.CreatedAt.Before(before) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeSpaceRepo) End(_ context.Context, id uuid.UUID, endedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.spaces[id]
	if !ok || !s.IsLive() {
		return nil
	}
	s.Status = domain.SpaceStatusEnded
	s.EndedAt = &endedAt
	for _, p := range r.participants {
		if p.SpaceID == id && p.LeftAt == nil {
			at := endedAt
			p.LeftAt = &at
		}
	}
	return nil
}

func (r *fakeSpaceRepo) AddParticipant(_ context.Context, p *domain.SpaceParticipant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.participants {
		if existing.SpaceID == p.SpaceID && existing.UserID == p.UserID && existing.LeftAt == nil {
			return apperrors.ErrConflict
		}
	}
	cp := *p
	r.participants = append(r.participants, &cp)
	return nil
}

func (r *fakeSpaceRepo) GetActiveParticipant(_ context.Context, spaceID, userID uuid.UUID) (*domain.SpaceParticipant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.participants {
		if p.SpaceID == spaceID && p.UserID == userID && p.LeftAt == nil {
			cp := *p
			return &cp, nil
		}
	}
	return nil, apperrors.ErrParticipantNotFound
}

func (r *fakeSpaceRepo) ListActiveParticipants(_ context.Context, spaceID uuid.UUID) ([]*domain.SpaceParticipant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.SpaceParticipant
	for _, p := range r.participants {
		if p.SpaceID == spaceID && p.LeftAt == nil {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeSpaceRepo) MarkParticipantLeft(_ context.Context, spaceID, userID uuid.UUID, leftAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.participants {
		if p.SpaceID == spaceID && p.UserID == userID && p.LeftAt == nil {
			p.LeftAt = &leftAt
			return nil
		}
	}
	return apperrors.ErrParticipantNotFound
}

type fakeProfileRepo struct {
	mu       sync.Mutex
	profiles map[uuid.UUID]*domain.Profile
}

func newFakeProfileRepo() *fakeProfileRepo {
	return &fakeProfileRepo{profiles: make(map[uuid.UUID]*domain.Profile)}
}

func (r *fakeProfileRepo) Upsert(_ context.Context, p *domain.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.profiles[p.UserID]; ok && p.DisplayName == "" {
		p.DisplayName = existing.DisplayName
	}
	cp := *p
	r.profiles[p.UserID] = &cp
	return nil
}

func (r *fakeProfileRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

type fakeEventRepo struct {
	mu     sync.Mutex
	err    error
	events []domain.SpaceEvent
}

func (r *fakeEventRepo) Append(_ context.Context, event *domain.SpaceEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	event.ID = int64(len(r.events) + 1)
	r.events = append(r.events, *event)
	return nil
}

func (r *fakeEventRepo) find(kind domain.SpaceEventKind) (domain.SpaceEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Kind == kind {
			return e, true
		}
	}
	return domain.SpaceEvent{}, false
}

func (r *fakeEventRepo) has(kind domain.SpaceEventKind) bool {
	_, ok := r.find(kind)
	return ok
}

type testEnv struct {
	spaceRepo *fakeSpaceRepo
	profiles  *fakeProfileRepo
	presence  repository.PresenceRepository
	events    *fakeEventRepo
	metrics   *Metrics
	cfg       *config.Config
	mr        *miniredis.Miniredis
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return &testEnv{
		spaceRepo: newFakeSpaceRepo(),
		profiles:  newFakeProfileRepo(),
		presence:  repository.NewPresenceRepository(rdb, time.Hour, logger.Nop()),
		events:    &fakeEventRepo{},
		metrics:   NewMetrics(prometheus.NewRegistry()),
		cfg: &config.Config{
			LiveKit: config.LiveKitConfig{
				URL:       "ws://livekit:7880",
				APIKey:    "devkey",
				APISecret: "devsecret-devsecret-devsecret-01",
				Port:      "7880",
			},
			Spaces: config.SpacesConfig{
				MaxActivePerHost: 5,
				MaxDuration:      12 * time.Hour,
				TokenTTL:         time.Hour,
			},
			RateLimit: config.RateLimitConfig{Requests: 3, Window: time.Minute},
		},
		mr: mr,
	}
}

func (e *testEnv) history() SpaceHistory {
	return NewSpaceHistory(e.events, logger.Nop())
}

func (e *testEnv) spaces() *spaceService {
	return NewSpaceService(e.spaceRepo, e.presence, e.history(), e.metrics, e.cfg.Spaces, logger.Nop()).(*spaceService)
}
