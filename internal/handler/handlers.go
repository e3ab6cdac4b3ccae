package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"live_spaces/internal/config"
	"live_spaces/internal/service"
	apperrors "live_spaces/pkg/errors"
	"live_spaces/pkg/logger"
)

type Handlers struct {
	Health   *HealthHandler
	Space    *SpaceHandler
	Media    *MediaHandler
	Presence *PresenceHandler
}

func NewHandlers(services *service.Services, cfg *config.Config, log logger.Logger) *Handlers {
	return &Handlers{
		Health:   NewHealthHandler(cfg),
		Space:    NewSpaceHandler(services.Space, log),
		Media:    NewMediaHandler(services.Media, log),
		Presence: NewPresenceHandler(services.Space, services.Presence, services.Metrics, log),
	}
}

// respondError maps err onto a status code. Internal details never leave
// the server.
func respondError(c *gin.Context, log logger.Logger, err error) {
	status := apperrors.HTTPStatusFromError(err)
	if status >= http.StatusInternalServerError {
		log.Error("Request failed", "path", c.FullPath(), "error", err)
		c.JSON(status, gin.H{"error": apperrors.ErrInternalServer.Error()})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
