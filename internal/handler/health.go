package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"live_spaces/internal/config"
)

type HealthHandler struct {
	hostIP      string
	liveKitPort string
	liveKitURL  string
}

func NewHealthHandler(cfg *config.Config) *HealthHandler {
	hostIP := cfg.LiveKit.HostIP
	if hostIP == "" {
		hostIP = config.GetLocalIP()
	}

	liveKitPort := cfg.LiveKit.Port
	if liveKitPort == "" {
		liveKitPort = "7880"
	}

	liveKitURL := cfg.LiveKit.FrontendURL
	if liveKitURL == "" {
		liveKitURL = "ws://" + hostIP + ":" + liveKitPort
	}

	return &HealthHandler{
		hostIP:      hostIP,
		liveKitPort: liveKitPort,
		liveKitURL:  liveKitURL,
	}
}

func (h *HealthHandler) Check(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "live-spaces",
	})
}

// ServerInfo tells clients where the media server and API live.
func (h *HealthHandler) ServerInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"host_ip":      h.hostIP,
		"livekit_port": h.liveKitPort,
		"livekit_url":  h.liveKitURL,
		"api_base":     "/api/v1",
	})
}
