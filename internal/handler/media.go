package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"live_spaces/internal/middleware"
	"live_spaces/internal/service"
	"live_spaces/pkg/logger"
)

type MediaHandler struct {
	mediaService service.MediaService
	log          logger.Logger
}

func NewMediaHandler(mediaService service.MediaService, log logger.Logger) *MediaHandler {
	return &MediaHandler{
		mediaService: mediaService,
		log:          log,
	}
}

type GetTokenRequest struct {
	InviteCode string `json:"invite_code"`
}

// GetToken issues a media token for the space named by :ref. The body is
// optional and only needed for invite-only spaces.
func (h *MediaHandler) GetToken(c *gin.Context) {
	userID, _ := middleware.UserID(c)

	var req GetTokenRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	grant, err := h.mediaService.GetToken(c.Request.Context(), c.Param("ref"), userID, req.InviteCode)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, grant)
}
