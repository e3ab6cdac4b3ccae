package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"live_spaces/internal/service"
	apperrors "live_spaces/pkg/errors"
	"live_spaces/pkg/logger"
)

const (
	ContextUserID      = "user_id"
	ContextEmail       = "user_email"
	ContextDisplayName = "user_display_name"
)

// AuthMiddleware accepts access tokens minted by the hosted auth provider and
// provisions a local profile for callers seen for the first time.
type AuthMiddleware struct {
	authService service.AuthService
	log         logger.Logger
}

func NewAuthMiddleware(authService service.AuthService, log logger.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		authService: authService,
		log:         log,
	}
}

func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		identity, err := m.authService.ValidateToken(token)
		if err != nil {
			m.log.Debug("Token validation failed", "error", err)
			msg := "Invalid or expired token"
			if errors.Is(err, apperrors.ErrTokenExpired) {
				msg = "Token expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}

		profile, err := m.authService.EnsureProfile(c.Request.Context(), identity)
		if err != nil {
			m.log.Error("Failed to ensure profile", "user_id", identity.UserID, "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to provision user"})
			return
		}

		c.Set(ContextUserID, identity.UserID)
		c.Set(ContextEmail, profile.Email)
		c.Set(ContextDisplayName, profile.DisplayName)

		c.Next()
	}
}

// bearerToken reads "Authorization: Bearer <token>". Browsers cannot set
// headers on a websocket upgrade, so the access_token query parameter is
// accepted as well.
func bearerToken(c *gin.Context) (string, bool) {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			return "", false
		}
		return strings.TrimSpace(parts[1]), true
	}
	if token := c.Query("access_token"); token != "" {
		return token, true
	}
	return "", false
}

// UserID returns the authenticated caller set by RequireAuth.
func UserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(ContextUserID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
