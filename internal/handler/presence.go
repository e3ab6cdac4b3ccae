package handler

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"live_spaces/internal/domain"
	"live_spaces/internal/middleware"
	"live_spaces/internal/repository"
	"live_spaces/internal/service"
	"live_spaces/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// auth is the bearer token, not cookies
		return true
	},
}

type PresenceHandler struct {
	spaceService    service.SpaceService
	presenceService service.PresenceService
	metrics         *service.Metrics
	log             logger.Logger
}

func NewPresenceHandler(spaceService service.SpaceService, presenceService service.PresenceService, metrics *service.Metrics, log logger.Logger) *PresenceHandler {
	return &PresenceHandler{
		spaceService:    spaceService,
		presenceService: presenceService,
		metrics:         metrics,
		log:             log,
	}
}

func (h *PresenceHandler) Snapshot(c *gin.Context) {
	space, err := h.spaceService.Resolve(c.Request.Context(), c.Param("ref"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	states, err := h.presenceService.Snapshot(c.Request.Context(), space.ID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"participants": states})
}

// Stream serves the presence channel of one space over a websocket. The
// caller must be allowed to join the space. It gets a snapshot, then every
// accepted change. Its own entry is marked online for the lifetime of the
// socket.
func (h *PresenceHandler) Stream(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	displayName := c.GetString(middleware.ContextDisplayName)

	joined, err := h.spaceService.Join(c.Request.Context(), c.Param("ref"), userID, c.Query("invite_code"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	spaceID := joined.Space.ID

	// the feed outlives the upgrade request context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed, err := h.presenceService.Subscribe(ctx, spaceID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	defer feed.Close()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "error", err)
		return
	}
	defer conn.Close()

	log := h.log.With("space_id", spaceID, "user_id", userID)
	h.metrics.PresenceSockets.Inc()
	defer h.metrics.PresenceSockets.Dec()

	if err := h.presenceService.MarkOnline(ctx, spaceID, userID, joined.Participant.Role, displayName); err != nil {
		log.Warn("Failed to mark online", "error", err)
	}
	var ended atomic.Bool
	defer func() {
		if ended.Load() {
			return
		}
		offCtx, offCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer offCancel()
		if err := h.presenceService.MarkOffline(offCtx, spaceID, userID); err != nil {
			log.Warn("Failed to mark offline", "error", err)
		}
	}()

	states, err := h.presenceService.Snapshot(ctx, spaceID)
	if err != nil {
		log.Error("Failed to read snapshot", "error", err)
		return
	}

	out := make(chan domain.PresenceFrame, 64)
	out <- domain.PresenceFrame{Type: domain.PresenceFrameSnapshot, Participants: states}

	writerDone := make(chan struct{})
	go h.writeLoop(ctx, conn, out, writerDone, log)

	go func() {
		for ev := range feed.Events() {
			frame := domain.PresenceFrame{Type: domain.PresenceFrameUpdate, State: ev.State}
			if ev.Type == repository.PresenceEventEnded {
				ended.Store(true)
				frame = domain.PresenceFrame{Type: domain.PresenceFrameEnded}
			}
			select {
			case out <- frame:
			case <-ctx.Done():
				return
			}
			if frame.Type == domain.PresenceFrameEnded {
				return
			}
		}
	}()

	h.readLoop(ctx, conn, spaceID, userID, out, log)
	cancel()
	<-writerDone
}

func (h *PresenceHandler) readLoop(ctx context.Context, conn *websocket.Conn, spaceID, userID uuid.UUID, out chan<- domain.PresenceFrame, log logger.Logger) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go func() {
		<-ctx.Done()
		_ = conn.SetReadDeadline(time.Now())
	}()

	for {
		var frame domain.PresenceFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && ctx.Err() == nil {
				log.Debug("Presence socket closed", "error", err)
			}
			return
		}

		if frame.Type != domain.PresenceFramePublish || frame.Update == nil {
			h.reply(ctx, out, domain.PresenceFrame{Type: domain.PresenceFrameError, Error: "expected publish frame"})
			continue
		}

		if _, err := h.presenceService.Publish(ctx, spaceID, userID, *frame.Update); err != nil {
			log.Warn("Failed to publish presence", "error", err)
			h.reply(ctx, out, domain.PresenceFrame{Type: domain.PresenceFrameError, Error: "publish failed"})
		}
	}
}

func (h *PresenceHandler) reply(ctx context.Context, out chan<- domain.PresenceFrame, frame domain.PresenceFrame) {
	select {
	case out <- frame:
	case <-ctx.Done():
	}
}

// writeLoop is the only writer on conn.
func (h *PresenceHandler) writeLoop(ctx context.Context, conn *websocket.Conn, out <-chan domain.PresenceFrame, done chan<- struct{}, log logger.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(frame); err != nil {
				log.Debug("Presence write failed", "error", err)
				return
			}
			if frame.Type == domain.PresenceFrameEnded {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "space ended"),
					time.Now().Add(writeWait))
				// unblock the reader
				_ = conn.SetReadDeadline(time.Now())
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
