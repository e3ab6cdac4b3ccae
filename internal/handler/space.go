package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"live_spaces/internal/middleware"
	"live_spaces/internal/service"
	"live_spaces/pkg/logger"
)

type SpaceHandler struct {
	spaceService service.SpaceService
	log          logger.Logger
}

func NewSpaceHandler(spaceService service.SpaceService, log logger.Logger) *SpaceHandler {
	return &SpaceHandler{
		spaceService: spaceService,
		log:          log,
	}
}

func (h *SpaceHandler) Create(c *gin.Context) {
	userID, _ := middleware.UserID(c)

	var req service.CreateSpaceInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, err := h.spaceService.Create(c.Request.Context(), userID, req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, created)
}

func (h *SpaceHandler) Get(c *gin.Context) {
	space, err := h.spaceService.Resolve(c.Request.Context(), c.Param("ref"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, space)
}

func (h *SpaceHandler) Leave(c *gin.Context) {
	userID, _ := middleware.UserID(c)

	if err := h.spaceService.Leave(c.Request.Context(), c.Param("ref"), userID); err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "left"})
}

func (h *SpaceHandler) End(c *gin.Context) {
	userID, _ := middleware.UserID(c)

	space, err := h.spaceService.End(c.Request.Context(), c.Param("ref"), userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, space)
}

func (h *SpaceHandler) Participants(c *gin.Context) {
	participants, err := h.spaceService.Participants(c.Request.Context(), c.Param("ref"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"participants": participants})
}
