package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"live_spaces/internal/config"
	"live_spaces/internal/domain"
	"live_spaces/internal/repository"
	apperrors "live_spaces/pkg/errors"
	"live_spaces/pkg/logger"
)

// Identity is the caller as asserted by the hosted auth provider.
type Identity struct {
	UserID      uuid.UUID
	Email       string
	DisplayName string
}

// AuthClaims are the claims carried by provider-issued access tokens. Some
// providers put the user id in "sub", others in "user_id".
type AuthClaims struct {
	UserID      string `json:"user_id,omitempty"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	jwt.RegisteredClaims
}

type AuthService interface {
	ValidateToken(tokenString string) (*Identity, error)
	EnsureProfile(ctx context.Context, id *Identity) (*domain.Profile, error)
}

type authService struct {
	profileRepo repository.ProfileRepository
	jwtCfg      config.JWTConfig
	log         logger.Logger
}

func NewAuthService(profileRepo repository.ProfileRepository, jwtCfg config.JWTConfig, log logger.Logger) AuthService {
	return &authService{
		profileRepo: profileRepo,
		jwtCfg:      jwtCfg,
		log:         log,
	}
}

func (s *authService) ValidateToken(tokenString string) (*Identity, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if s.jwtCfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.jwtCfg.Issuer))
	}

	claims := &AuthClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtCfg.Secret), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperrors.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, apperrors.ErrInvalidToken
	}

	rawID := claims.UserID
	if rawID == "" {
		rawID = claims.Subject
	}
	userID, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("%w: bad user id %q", apperrors.ErrInvalidToken, rawID)
	}

	return &Identity{
		UserID:      userID,
		Email:       claims.Email,
		DisplayName: strings.TrimSpace(claims.DisplayName),
	}, nil
}

// EnsureProfile provisions the local profile on first sight and keeps email
// and display name in sync with the token afterwards.
func (s *authService) EnsureProfile(ctx context.Context, id *Identity) (*domain.Profile, error) {
	profile := &domain.Profile{
		UserID:      id.UserID,
		Email:       id.Email,
		DisplayName: id.DisplayName,
	}
	if profile.DisplayName == "" && id.Email != "" {
		profile.DisplayName = strings.SplitN(id.Email, "@", 2)[0]
	}

	if err := s.profileRepo.Upsert(ctx, profile); err != nil {
		s.log.Error("Failed to provision profile", "user_id", id.UserID, "error", err)
		return nil, err
	}
	return profile, nil
}
