package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"live_spaces/internal/domain"
	"live_spaces/internal/middleware"
	"live_spaces/internal/repository"
	"live_spaces/internal/service"
	apperrors "live_spaces/pkg/errors"
	"live_spaces/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubSpaces struct {
	space *domain.Space
}

func (s *stubSpaces) Create(_ context.Context, hostID uuid.UUID, in service.CreateSpaceInput) (*service.CreatedSpace, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, apperrors.ErrBadRequest
	}
	sp := *s.space
	sp.HostUserID = hostID
	sp.Title = in.Title
	return &service.CreatedSpace{Space: &sp}, nil
}

func (s *stubSpaces) Resolve(_ context.Context, ref string) (*domain.Space, error) {
	if ref != s.space.Code && ref != s.space.ID.String() {
		return nil, apperrors.ErrSpaceNotFound
	}
	return s.space, nil
}

func (s *stubSpaces) Join(ctx context.Context, ref string, userID uuid.UUID, _ string) (*service.JoinResult, error) {
	sp, err := s.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !sp.IsLive() {
		return nil, apperrors.ErrSpaceEnded
	}
	role := domain.ParticipantRoleParticipant
	if sp.IsHost(userID) {
		role = domain.ParticipantRoleHost
	}
	return &service.JoinResult{Space: sp, Participant: &domain.SpaceParticipant{SpaceID: sp.ID, UserID: userID, Role: role}}, nil
}

func (s *stubSpaces) Leave(context.Context, string, uuid.UUID) error { return nil }

func (s *stubSpaces) End(ctx context.Context, ref string, userID uuid.UUID) (*domain.Space, error) {
	sp, err := s.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !sp.IsHost(userID) {
		return nil, apperrors.ErrNotHost
	}
	sp.Status = domain.SpaceStatusEnded
	return sp, nil
}

func (s *stubSpaces) Participants(context.Context, string) ([]*domain.SpaceParticipant, error) {
	return nil, nil
}

func (s *stubSpaces) ExpireStale(context.Context) (int, error) { return 0, nil }

type stubMedia struct{}

func (stubMedia) GetToken(_ context.Context, ref string, userID uuid.UUID, _ string) (*service.TokenGrant, error) {
	if ref != "ABC123" {
		return nil, apperrors.ErrSpaceNotFound
	}
	return &service.TokenGrant{Token: "lk-token", URL: "ws://localhost:7880", Role: "participant", Identity: userID.String()}, nil
}

type testServer struct {
	router   *gin.Engine
	space    *domain.Space
	host     uuid.UUID
	caller   uuid.UUID
	presence repository.PresenceRepository
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	host := uuid.New()
	space := &domain.Space{
		ID:         uuid.New(),
		Code:       "ABC123",
		HostUserID: host,
		Title:      "demo",
		Type:       domain.SpaceTypePublic,
		AudioOnly:  true,
		Status:     domain.SpaceStatusLive,
	}

	metrics := service.NewMetrics(prometheus.NewRegistry())
	presenceRepo := repository.NewPresenceRepository(rdb, time.Hour, logger.Nop())
	spaces := &stubSpaces{space: space}

	ts := &testServer{space: space, host: host, caller: uuid.New(), presence: presenceRepo}

	h := &Handlers{
		Space:    NewSpaceHandler(spaces, logger.Nop()),
		Media:    NewMediaHandler(stubMedia{}, logger.Nop()),
		Presence: NewPresenceHandler(spaces, service.NewPresenceService(presenceRepo, metrics, logger.Nop()), metrics, logger.Nop()),
	}

	fakeAuth := func(c *gin.Context) {
		id := ts.caller
		if c.GetHeader("X-Test-Host") != "" {
			id = host
		}
		c.Set(middleware.ContextUserID, id)
		c.Set(middleware.ContextDisplayName, "Tester")
		c.Next()
	}

	r := gin.New()
	api := r.Group("/api/v1", fakeAuth)
	api.POST("/spaces", h.Space.Create)
	api.GET("/spaces/:ref", h.Space.Get)
	api.POST("/spaces/:ref/end", h.Space.End)
	api.POST("/spaces/:ref/token", h.Media.GetToken)
	api.GET("/spaces/:ref/presence", h.Presence.Snapshot)
	r.GET("/ws/spaces/:ref/presence", fakeAuth, h.Presence.Stream)

	ts.router = r
	return ts
}

func (ts *testServer) do(method, path, body string, host bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if host {
		req.Header.Set("X-Test-Host", "1")
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func TestSpaceHandler_Create(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/api/v1/spaces", `{"title":"hello"}`, false)
	require.Equal(t, http.StatusCreated, w.Code)

	var created service.CreatedSpace
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "hello", created.Space.Title)
	assert.Equal(t, ts.caller, created.Space.HostUserID)

	w = ts.do(http.MethodPost, "/api/v1/spaces", `{"title":""}`, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(http.MethodPost, "/api/v1/spaces", `{not json`, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSpaceHandler_GetAndEnd(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/api/v1/spaces/NOPE42", "", false)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(http.MethodGet, "/api/v1/spaces/ABC123", "", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "invite_code_hash")

	w = ts.do(http.MethodPost, "/api/v1/spaces/ABC123/end", "", false)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(http.MethodPost, "/api/v1/spaces/ABC123/end", "", true)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ended"`)
}

func TestMediaHandler_GetToken(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/api/v1/spaces/ABC123/token", "", false)
	require.Equal(t, http.StatusOK, w.Code)

	var grant service.TokenGrant
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &grant))
	assert.Equal(t, "lk-token", grant.Token)
	assert.Equal(t, ts.caller.String(), grant.Identity)

	w = ts.do(http.MethodPost, "/api/v1/spaces/ZZZ999/token", `{"invite_code":"X"}`, false)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func readFrame(t *testing.T, conn *websocket.Conn) domain.PresenceFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var frame domain.PresenceFrame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

// readUntil skips frames (for example the caller's own online update) until
// one matches.
func readUntil(t *testing.T, conn *websocket.Conn, match func(domain.PresenceFrame) bool) domain.PresenceFrame {
	t.Helper()
	for i := 0; i < 10; i++ {
		if f := readFrame(t, conn); match(f) {
			return f
		}
	}
	t.Fatal("expected frame never arrived")
	return domain.PresenceFrame{}
}

func TestPresenceHandler_Stream(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/spaces/ABC123/presence"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	snap := readFrame(t, conn)
	assert.Equal(t, domain.PresenceFrameSnapshot, snap.Type)

	online := readUntil(t, conn, func(f domain.PresenceFrame) bool {
		return f.Type == domain.PresenceFrameUpdate && f.State != nil && f.State.Online
	})
	assert.Equal(t, ts.caller.String(), online.State.UserID)
	assert.Equal(t, "Tester", online.State.DisplayName)
	assert.True(t, online.State.Muted)

	muted := false
	require.NoError(t, conn.WriteJSON(domain.PresenceFrame{
		Type:   domain.PresenceFramePublish,
		Update: &domain.PresenceUpdate{UserID: "someone-else", Muted: &muted},
	}))

	upd := readUntil(t, conn, func(f domain.PresenceFrame) bool {
		return f.Type == domain.PresenceFrameUpdate && f.State != nil && !f.State.Muted
	})
	assert.Equal(t, ts.caller.String(), upd.State.UserID, "publish only touches the caller's own entry")

	require.NoError(t, conn.WriteJSON(domain.PresenceFrame{Type: "bogus"}))
	errFrame := readUntil(t, conn, func(f domain.PresenceFrame) bool { return f.Type == domain.PresenceFrameError })
	assert.NotEmpty(t, errFrame.Error)

	require.NoError(t, ts.presence.Clear(context.Background(), ts.space.ID))
	readUntil(t, conn, func(f domain.PresenceFrame) bool { return f.Type == domain.PresenceFrameEnded })
}

func TestPresenceHandler_StreamRejectsEndedSpace(t *testing.T) {
	ts := newTestServer(t)
	ts.space.Status = domain.SpaceStatusEnded

	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/spaces/ABC123/presence"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}
