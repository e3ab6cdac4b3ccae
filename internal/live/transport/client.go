package transport

import (
	"context"
	"errors"
	"sync"

	"live_spaces/internal/domain"
	"live_spaces/pkg/logger"
)

var (
	ErrNotConnected = errors.New("no live media session")
	ErrSuperseded   = errors.New("media connect superseded")
)

type EventKind int

const (
	EventParticipantJoined EventKind = iota + 1
	EventParticipantLeft
	EventQualityChanged
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventParticipantJoined:
		return "participant_joined"
	case EventParticipantLeft:
		return "participant_left"
	case EventQualityChanged:
		return "quality_changed"
	case EventDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Event is something the media server told us about the room.
type Event struct {
	Kind        EventKind
	Participant string
	Local       bool
	Quality     domain.QualitySignal
	Err         error
}

// SDK is the media transport the client drives.
type SDK interface {
	Connect(ctx context.Context, url, token string) (Conn, error)
}

// Conn is one live connection of an SDK. Events must be delivered in the
// order they happened and the channel closed once the connection is gone.
type Conn interface {
	SetMicrophoneEnabled(ctx context.Context, enabled bool) error
	SetCameraEnabled(ctx context.Context, enabled bool) error
	Events() <-chan Event
	Close() error
}

// Client owns at most one Session at a time.
type Client struct {
	sdk SDK
	log logger.Logger

	mu      sync.Mutex
	session *Session
	// gen advances on every Connect and Disconnect; a dial that finishes
	// under an older gen is discarded.
	gen uint64
}

func NewClient(sdk SDK, log logger.Logger) *Client {
	return &Client{sdk: sdk, log: log}
}

// Connect dials the media server. A previous session is disconnected
// first. New sessions start muted with the camera off. If another Connect
// or a Disconnect happens while dialing, the new connection is closed and
// ErrSuperseded returned.
func (c *Client) Connect(ctx context.Context, url, token string) (*Session, error) {
	gen, _ := c.disconnect()

	conn, err := c.sdk.Connect(ctx, url, token)
	if err != nil {
		return nil, err
	}

	s := &Session{conn: conn, client: c, muted: true}
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		c.log.Debug("Discarding superseded media session", "url", url)
		_ = conn.Close()
		return nil, ErrSuperseded
	}
	c.session = s
	c.mu.Unlock()

	c.log.Info("Media session connected", "url", url)
	return s, nil
}

// Session returns the live session, or nil.
func (c *Client) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Disconnect closes the live session, if any. Safe to call at any time.
// A Connect still dialing is superseded.
func (c *Client) Disconnect() error {
	_, err := c.disconnect()
	return err
}

func (c *Client) disconnect() (uint64, error) {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	s := c.session
	c.session = nil
	c.mu.Unlock()

	if s == nil {
		return gen, nil
	}
	return gen, s.Close()
}

func (c *Client) release(s *Session) {
	c.mu.Lock()
	if c.session == s {
		c.session = nil
	}
	c.mu.Unlock()
}

func (c *Client) current() (*Session, error) {
	s := c.Session()
	if s == nil {
		return nil, ErrNotConnected
	}
	return s, nil
}

func (c *Client) EnableVideo(ctx context.Context) error {
	s, err := c.current()
	if err != nil {
		return err
	}
	return s.SetVideo(ctx, true)
}

func (c *Client) DisableVideo(ctx context.Context) error {
	s, err := c.current()
	if err != nil {
		return err
	}
	return s.SetVideo(ctx, false)
}

// ToggleMute flips the microphone and returns the new muted state.
func (c *Client) ToggleMute(ctx context.Context) (bool, error) {
	s, err := c.current()
	if err != nil {
		return false, err
	}
	return s.ToggleMute(ctx)
}

// Session is one live connection to a room.
type Session struct {
	conn   Conn
	client *Client

	mu     sync.Mutex
	muted  bool
	video  bool
	closed bool
}

func (s *Session) Events() <-chan Event {
	return s.conn.Events()
}

func (s *Session) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

func (s *Session) VideoEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.video
}

// ToggleMute returns the muted state after the toggle. On error the state
// is unchanged and the old value is returned.
func (s *Session) ToggleMute(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return s.muted, ErrNotConnected
	}
	next := !s.muted
	if err := s.conn.SetMicrophoneEnabled(ctx, !next); err != nil {
		return s.muted, err
	}
	s.muted = next
	return s.muted, nil
}

func (s *Session) SetVideo(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrNotConnected
	}
	if s.video == enabled {
		return nil
	}
	if err := s.conn.SetCameraEnabled(ctx, enabled); err != nil {
		return err
	}
	s.video = enabled
	return nil
}

// Close ends the session. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.client.release(s)
	return s.conn.Close()
}
