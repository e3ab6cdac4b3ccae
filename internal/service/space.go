package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"live_spaces/internal/config"
	"live_spaces/internal/domain"
	"live_spaces/internal/repository"
	apperrors "live_spaces/pkg/errors"
	"live_spaces/pkg/logger"
)

const (
	codeAlphabet     = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	spaceCodeLength  = 6
	inviteCodeLength = 8
	maxTitleLength   = 200
	createAttempts   = 5
)

type CreateSpaceInput struct {
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Type        string  `json:"type,omitempty"`
	AudioOnly   *bool   `json:"audio_only,omitempty"`
}

// CreatedSpace carries the plain invite code, which is only ever returned
// here. The database keeps its bcrypt hash.
type CreatedSpace struct {
	Space      *domain.Space `json:"space"`
	InviteCode string        `json:"invite_code,omitempty"`
}

type JoinResult struct {
	Space       *domain.Space
	Participant *domain.SpaceParticipant
}

type SpaceService interface {
	Create(ctx context.Context, hostID uuid.UUID, in CreateSpaceInput) (*CreatedSpace, error)
	Resolve(ctx context.Context, ref string) (*domain.Space, error)
	Join(ctx context.Context, ref string, userID uuid.UUID, inviteCode string) (*JoinResult, error)
	Leave(ctx context.Context, ref string, userID uuid.UUID) error
	End(ctx context.Context, ref string, userID uuid.UUID) (*domain.Space, error)
	Participants(ctx context.Context, ref string) ([]*domain.SpaceParticipant, error)
	ExpireStale(ctx context.Context) (int, error)
}

type spaceService struct {
	spaceRepo    repository.SpaceRepository
	presenceRepo repository.PresenceRepository
	history      SpaceHistory
	metrics      *Metrics
	cfg          config.SpacesConfig
	log          logger.Logger
	now          func() time.Time
}

func NewSpaceService(
	spaceRepo repository.SpaceRepository,
	presenceRepo repository.PresenceRepository,
	history SpaceHistory,
	metrics *Metrics,
	cfg config.SpacesConfig,
	log logger.Logger,
) SpaceService {
	return &spaceService{
		spaceRepo:    spaceRepo,
		presenceRepo: presenceRepo,
		history:      history,
		metrics:      metrics,
		cfg:          cfg,
		log:          log,
		now:          time.Now,
	}
}

func (s *spaceService) Create(ctx context.Context, hostID uuid.UUID, in CreateSpaceInput) (*CreatedSpace, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", apperrors.ErrBadRequest)
	}
	if len(title) > maxTitleLength {
		return nil, fmt.Errorf("%w: title is too long (max %d characters)", apperrors.ErrBadRequest, maxTitleLength)
	}

	spaceType := strings.ToLower(strings.TrimSpace(in.Type))
	switch spaceType {
	case "":
		spaceType = domain.SpaceTypePublic
	case domain.SpaceTypePublic, domain.SpaceTypeInvite:
	default:
		return nil, fmt.Errorf("%w: unknown space type %q", apperrors.ErrBadRequest, in.Type)
	}

	audioOnly := true
	if in.AudioOnly != nil {
		audioOnly = *in.AudioOnly
	}

	active, err := s.spaceRepo.CountActiveByHost(ctx, hostID)
	if err != nil {
		return nil, err
	}
	if active >= s.cfg.MaxActivePerHost {
		return nil, fmt.Errorf("%w: at most %d active spaces per host", apperrors.ErrRateLimited, s.cfg.MaxActivePerHost)
	}

	now := s.now()
	space := &domain.Space{
		HostUserID:  hostID,
		Title:       title,
		Description: in.Description,
		Type:        spaceType,
		AudioOnly:   audioOnly,
		Status:      domain.SpaceStatusLive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var inviteCode string
	if spaceType == domain.SpaceTypeInvite {
		inviteCode, err = randomCode(inviteCodeLength)
		if err != nil {
			return nil, err
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(inviteCode), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash invite code: %w", err)
		}
		h := string(hash)
		space.InviteCodeHash = &h
	}

	for attempt := 1; ; attempt++ {
		space.ID = uuid.New()
		space.LiveKitRoomName = "space-" + space.ID.String()
		space.Code, err = randomCode(spaceCodeLength)
		if err != nil {
			return nil, err
		}

		err = s.spaceRepo.Create(ctx, space)
		if err == nil {
			break
		}
		if !errors.Is(err, apperrors.ErrConflict) || attempt >= createAttempts {
			return nil, err
		}
	}

	host := &domain.SpaceParticipant{
		ID:       uuid.New(),
		SpaceID:  space.ID,
		UserID:   hostID,
		Role:     domain.ParticipantRoleHost,
		JoinedAt: now,
	}
	if err := s.spaceRepo.AddParticipant(ctx, host); err != nil && !errors.Is(err, apperrors.ErrConflict) {
		return nil, err
	}

	s.metrics.SpacesCreated.Inc()
	s.record(ctx, space.ID, domain.SpaceEventCreated, &hostID, domain.SpaceEventDetail{
		Code:      space.Code,
		SpaceType: space.Type,
	})
	s.log.Info("Space created", "space_id", space.ID, "code", space.Code, "host", hostID)

	return &CreatedSpace{Space: space, InviteCode: inviteCode}, nil
}

// Resolve accepts either the space UUID or its room code.
func (s *spaceService) Resolve(ctx context.Context, ref string) (*domain.Space, error) {
	ref = strings.TrimSpace(ref)
	if id, err := uuid.Parse(ref); err == nil {
		return s.spaceRepo.GetByID(ctx, id)
	}

	code := strings.ToUpper(ref)
	if len(code) < 4 || len(code) > 16 {
		return nil, apperrors.ErrSpaceNotFound
	}
	for _, r := range code {
		if !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return nil, apperrors.ErrSpaceNotFound
		}
	}
	return s.spaceRepo.GetByCode(ctx, code)
}

// Join returns the caller's open participation, creating it when allowed.
// The host and anyone on a public space join directly. Invite-only spaces
// need the invite code.
func (s *spaceService) Join(ctx context.Context, ref string, userID uuid.UUID, inviteCode string) (*JoinResult, error) {
	space, err := s.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !space.IsLive() {
		return nil, apperrors.ErrSpaceEnded
	}

	existing, err := s.spaceRepo.GetActiveParticipant(ctx, space.ID, userID)
	if err == nil {
		return &JoinResult{Space: space, Participant: existing}, nil
	}
	if !errors.Is(err, apperrors.ErrParticipantNotFound) {
		return nil, err
	}

	role := domain.ParticipantRoleParticipant
	if space.IsHost(userID) {
		role = domain.ParticipantRoleHost
	} else if space.Type == domain.SpaceTypeInvite {
		if !checkInviteCode(space, inviteCode) {
			return nil, apperrors.ErrInvalidInviteCode
		}
	}

	p := &domain.SpaceParticipant{
		ID:       uuid.New(),
		SpaceID:  space.ID,
		UserID:   userID,
		Role:     role,
		JoinedAt: s.now(),
	}
	if err := s.spaceRepo.AddParticipant(ctx, p); err != nil {
		if !errors.Is(err, apperrors.ErrConflict) {
			return nil, err
		}
		// concurrent join from another device won the insert
		p, err = s.spaceRepo.GetActiveParticipant(ctx, space.ID, userID)
		if err != nil {
			return nil, err
		}
	}

	s.record(ctx, space.ID, domain.SpaceEventJoined, &userID, domain.SpaceEventDetail{Role: p.Role})
	return &JoinResult{Space: space, Participant: p}, nil
}

func (s *spaceService) Leave(ctx context.Context, ref string, userID uuid.UUID) error {
	space, err := s.Resolve(ctx, ref)
	if err != nil {
		return err
	}

	if err := s.spaceRepo.MarkParticipantLeft(ctx, space.ID, userID, s.now()); err != nil {
		if errors.Is(err, apperrors.ErrParticipantNotFound) {
			return apperrors.ErrNotParticipant
		}
		return err
	}

	offline := false
	if _, _, err := s.presenceRepo.Apply(ctx, space.ID, domain.PresenceUpdate{
		UserID: userID.String(),
		Online: &offline,
		At:     s.now(),
	}); err != nil {
		s.log.Warn("Failed to mark participant offline", "space_id", space.ID, "user_id", userID, "error", err)
	}

	s.record(ctx, space.ID, domain.SpaceEventLeft, &userID, domain.SpaceEventDetail{})
	return nil
}

// End is host only. Ending an ended space returns it unchanged.
func (s *spaceService) End(ctx context.Context, ref string, userID uuid.UUID) (*domain.Space, error) {
	space, err := s.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !space.IsHost(userID) {
		return nil, apperrors.ErrNotHost
	}
	if !space.IsLive() {
		return space, nil
	}

	if err := s.finish(ctx, space, "host"); err != nil {
		return nil, err
	}

	s.record(ctx, space.ID, domain.SpaceEventEnded, &userID, domain.SpaceEventDetail{Role: domain.ParticipantRoleHost})
	s.log.Info("Space ended by host", "space_id", space.ID, "host", userID)
	return space, nil
}

func (s *spaceService) Participants(ctx context.Context, ref string) ([]*domain.SpaceParticipant, error) {
	space, err := s.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.spaceRepo.ListActiveParticipants(ctx, space.ID)
}

// ExpireStale ends every space that has been live longer than MaxDuration.
func (s *spaceService) ExpireStale(ctx context.Context) (int, error) {
	if s.cfg.MaxDuration <= 0 {
		return 0, nil
	}

	stale, err := s.spaceRepo.ListLiveStartedBefore(ctx, s.now().Add(-s.cfg.MaxDuration))
	if err != nil {
		return 0, err
	}

	ended := 0
	for _, space := range stale {
		if err := s.finish(ctx, space, "expired"); err != nil {
			s.log.Error("Failed to expire space", "space_id", space.ID, "error", err)
			continue
		}
		ended++
		s.record(ctx, space.ID, domain.SpaceEventExpired, nil, domain.SpaceEventDetail{
			MaxDuration: s.cfg.MaxDuration.String(),
		})
	}

	if ended > 0 {
		s.log.Info("Expired stale spaces", "count", ended)
	}
	return ended, nil
}

func (s *spaceService) finish(ctx context.Context, space *domain.Space, reason string) error {
	now := s.now()
	if err := s.spaceRepo.End(ctx, space.ID, now); err != nil {
		return err
	}
	space.Status = domain.SpaceStatusEnded
	space.EndedAt = &now
	space.UpdatedAt = now

	if err := s.presenceRepo.Clear(ctx, space.ID); err != nil {
		s.log.Warn("Failed to clear presence", "space_id", space.ID, "error", err)
	}
	s.metrics.SpacesEnded.WithLabelValues(reason).Inc()
	return nil
}

// record is best effort: a lost history entry never fails the caller.
func (s *spaceService) record(ctx context.Context, spaceID uuid.UUID, kind domain.SpaceEventKind, actor *uuid.UUID, detail domain.SpaceEventDetail) {
	event := domain.SpaceEvent{SpaceID: spaceID, Kind: kind, Actor: actor, Detail: detail, At: s.now().UTC()}
	if err := s.history.Record(ctx, event); err != nil {
		s.log.Warn("Failed to record space event", "space_id", spaceID, "kind", kind, "error", err)
	}
}

func checkInviteCode(space *domain.Space, code string) bool {
	if space.InviteCodeHash == nil || code == "" {
		return false
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	return bcrypt.CompareHashAndPassword([]byte(*space.InviteCodeHash), []byte(code)) == nil
}

func randomCode(n int) (string, error) {
	var sb strings.Builder
	sb.Grow(n)
	base := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, base)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		sb.WriteByte(codeAlphabet[idx.Int64()])
	}
	return sb.String(), nil
}
