package presence

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"live_spaces/internal/domain"
	"live_spaces/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
	publishBuffer  = 16
)

var ErrClosed = errors.New("presence subscription closed")

// Channel opens presence subscriptions against the spaces API.
type Channel struct {
	serverURL  string
	token      string
	inviteCode string
	dialer     *websocket.Dialer
	log        logger.Logger
}

// NewChannel takes the http(s) base URL of the spaces API and the bearer
// token of the local user.
func NewChannel(serverURL, accessToken string, log logger.Logger) *Channel {
	return &Channel{
		serverURL: strings.TrimRight(serverURL, "/"),
		token:     accessToken,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		log: log,
	}
}

// WithInviteCode sets the code sent when subscribing to invite-only spaces.
func (c *Channel) WithInviteCode(code string) *Channel {
	c.inviteCode = code
	return c
}

func (c *Channel) streamURL(sessionID string) (string, error) {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/spaces/" + url.PathEscape(sessionID) + "/presence"
	if c.inviteCode != "" {
		q := u.Query()
		q.Set("invite_code", c.inviteCode)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Subscribe opens the presence stream of a space. The returned
// Subscription must be closed by the caller.
func (c *Channel) Subscribe(ctx context.Context, sessionID string) (*Subscription, error) {
	target, err := c.streamURL(sessionID)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	conn, resp, err := c.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("subscribe presence: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("subscribe presence: %w", err)
	}

	sub := newSubscription(conn, c.log.With("space", sessionID))
	go sub.readLoop()
	go sub.writeLoop()
	return sub, nil
}

// Subscription is one open presence stream.
type Subscription struct {
	conn    *websocket.Conn
	roster  *Roster
	updates chan []domain.Participant
	writes  chan domain.PresenceFrame
	done    chan struct{}
	once    sync.Once
	ended   atomic.Bool
	log     logger.Logger
}

func newSubscription(conn *websocket.Conn, log logger.Logger) *Subscription {
	return &Subscription{
		conn:    conn,
		roster:  NewRoster(),
		updates: make(chan []domain.Participant, 1),
		writes:  make(chan domain.PresenceFrame, publishBuffer),
		done:    make(chan struct{}),
		log:     log,
	}
}

// Updates delivers the whole roster after every change. Only the latest
// roster is kept for a slow reader. Closed when the stream ends.
func (s *Subscription) Updates() <-chan []domain.Participant {
	return s.updates
}

// Ended reports whether the server announced the end of the space.
func (s *Subscription) Ended() bool {
	return s.ended.Load()
}

func (s *Subscription) Roster() []domain.Participant {
	return s.roster.Participants()
}

// Publish queues a change to the caller's own presence entry. Delivery is
// best effort: write failures are only logged.
func (s *Subscription) Publish(ctx context.Context, update domain.PresenceUpdate) error {
	frame := domain.PresenceFrame{Type: domain.PresenceFramePublish, Update: &update}
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.writes <- frame:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}

func (s *Subscription) emit() {
	roster := s.roster.Participants()
	select {
	case s.updates <- roster:
		return
	default:
	}
	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- roster:
	default:
	}
}

func (s *Subscription) readLoop() {
	defer close(s.updates)
	defer s.Close()

	s.conn.SetReadLimit(maxMessageSize)
	for {
		var frame domain.PresenceFrame
		if err := s.conn.ReadJSON(&frame); err != nil {
			select {
			case <-s.done:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.log.Warn("Presence stream closed", "error", err)
				}
			}
			return
		}

		switch frame.Type {
		case domain.PresenceFrameSnapshot:
			s.roster.MergeAll(frame.Participants)
			s.emit()
		case domain.PresenceFrameUpdate:
			if frame.State != nil && s.roster.Merge(*frame.State) {
				s.emit()
			}
		case domain.PresenceFrameEnded:
			s.ended.Store(true)
			s.log.Info("Space ended")
			return
		case domain.PresenceFrameError:
			s.log.Warn("Presence server rejected a frame", "error", frame.Error)
		default:
			s.log.Debug("Ignoring presence frame", "type", frame.Type)
		}
	}
}

func (s *Subscription) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.writes:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(frame); err != nil {
				s.log.Warn("Failed to publish presence", "error", err)
			}
		}
	}
}
