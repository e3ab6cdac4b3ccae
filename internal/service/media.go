package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/livekit/protocol/auth"
	"live_spaces/internal/config"
	"live_spaces/internal/domain"
	"live_spaces/internal/repository"
	apperrors "live_spaces/pkg/errors"
	"live_spaces/pkg/logger"
)

// TokenGrant is what a client needs to connect to the media server.
type TokenGrant struct {
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	Role      string    `json:"role"`
	SpaceID   uuid.UUID `json:"space_id"`
	Code      string    `json:"code"`
	Title     string    `json:"title"`
	AudioOnly bool      `json:"audio_only"`
	Identity  string    `json:"identity"`
	ExpiresAt time.Time `json:"expires_at"`
}

type MediaService interface {
	GetToken(ctx context.Context, ref string, userID uuid.UUID, inviteCode string) (*TokenGrant, error)
}

type mediaService struct {
	spaces      SpaceService
	profileRepo repository.ProfileRepository
	history     SpaceHistory
	metrics     *Metrics
	cfg         config.LiveKitConfig
	ttl         time.Duration
	log         logger.Logger
}

func NewMediaService(
	spaces SpaceService,
	profileRepo repository.ProfileRepository,
	history SpaceHistory,
	metrics *Metrics,
	cfg *config.Config,
	log logger.Logger,
) MediaService {
	return &mediaService{
		spaces:      spaces,
		profileRepo: profileRepo,
		history:     history,
		metrics:     metrics,
		cfg:         cfg.LiveKit,
		ttl:         cfg.Spaces.TokenTTL,
		log:         log,
	}
}

// GetToken joins the caller to the space (or reuses the open participation)
// and mints a LiveKit access token for its room.
func (s *mediaService) GetToken(ctx context.Context, ref string, userID uuid.UUID, inviteCode string) (*TokenGrant, error) {
	joined, err := s.spaces.Join(ctx, ref, userID, inviteCode)
	if err != nil {
		return nil, err
	}

	displayName := userID.String()
	profile, err := s.profileRepo.GetByID(ctx, userID)
	switch {
	case err == nil && profile.DisplayName != "":
		displayName = profile.DisplayName
	case err != nil && !errors.Is(err, apperrors.ErrNotFound):
		s.log.Warn("Failed to load profile for token", "user_id", userID, "error", err)
	}

	space := joined.Space
	token, err := s.mint(space.LiveKitRoomName, userID.String(), displayName)
	if err != nil {
		s.log.Error("Failed to generate LiveKit token", "error", err, "space_id", space.ID)
		return nil, fmt.Errorf("%w: failed to generate token", apperrors.ErrInternalServer)
	}

	role := joined.Participant.Role
	s.metrics.TokensIssued.WithLabelValues(role).Inc()
	issued := domain.SpaceEvent{SpaceID: space.ID, Kind: domain.SpaceEventTokenIssued, Actor: &userID, Detail: domain.SpaceEventDetail{Role: role}}
	if err := s.history.Record(ctx, issued); err != nil {
		s.log.Warn("Failed to record space event", "space_id", space.ID, "error", err)
	}

	return &TokenGrant{
		Token:     token,
		URL:       buildFrontendURL(s.cfg),
		Role:      role,
		SpaceID:   space.ID,
		Code:      space.Code,
		Title:     space.Title,
		AudioOnly: space.AudioOnly,
		Identity:  userID.String(),
		ExpiresAt: time.Now().Add(s.ttl),
	}, nil
}

func (s *mediaService) mint(room, identity, name string) (string, error) {
	canPublish := true
	canSubscribe := true
	canPublishData := true

	at := auth.NewAccessToken(s.cfg.APIKey, s.cfg.APISecret)
	at.AddGrant(&auth.VideoGrant{
		RoomJoin:       true,
		Room:           room,
		CanPublish:     &canPublish,
		CanSubscribe:   &canSubscribe,
		CanPublishData: &canPublishData,
	}).
		SetIdentity(identity).
		SetName(name).
		SetValidFor(s.ttl)

	return at.ToJWT()
}

// buildFrontendURL picks the URL clients should dial and forces a ws/wss
// scheme. The docker-internal host name is swapped for localhost.
func buildFrontendURL(cfg config.LiveKitConfig) string {
	url := cfg.FrontendURL
	if url == "" {
		url = cfg.URL
	}
	if url == "" {
		url = "ws://localhost:" + cfg.Port
	}

	url = strings.Replace(url, "://livekit:", "://localhost:", 1)
	switch {
	case strings.HasPrefix(url, "https://"):
		url = "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		url = "ws://" + strings.TrimPrefix(url, "http://")
	case strings.HasPrefix(url, "ws://"), strings.HasPrefix(url, "wss://"):
	default:
		if strings.HasPrefix(url, "livekit:") {
			url = "localhost:" + strings.TrimPrefix(url, "livekit:")
		}
		url = "ws://" + url
	}
	return strings.TrimRight(url, "/")
}
