package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"live_spaces/internal/domain"
	"live_spaces/internal/live/network"
	"live_spaces/internal/live/transport"
	"live_spaces/pkg/logger"
)

var (
	wifi     = domain.NetworkStatus{Connected: true, Type: domain.NetworkWifi}
	cellular = domain.NetworkStatus{Connected: true, Type: domain.NetworkCellular}
	offline  = domain.NetworkStatus{Connected: false, Type: domain.NetworkNone}
)

type fakeIssuer struct {
	mu    sync.Mutex
	calls int
	err   error
	role  string
	gate  chan struct{}
}

func (f *fakeIssuer) RequestToken(ctx context.Context, sessionID string) (*Grant, error) {
	f.mu.Lock()
	f.calls++
	gate, err, role := f.gate, f.err, f.role
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &Grant{URL: "wss://media.test", Token: "tok", Role: role, SpaceID: sessionID, Identity: "me"}, nil
}

func (f *fakeIssuer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeIssuer) setGate(gate chan struct{}) {
	f.mu.Lock()
	f.gate = gate
	f.mu.Unlock()
}

type fakeEnder struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func (f *fakeEnder) EndSession(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sessionID)
	return f.err
}

type fakeConn struct {
	mu     sync.Mutex
	micErr error
	camErr error
	mic    []bool
	cam    []bool
	closed int
	events chan transport.Event
}

func (f *fakeConn) SetMicrophoneEnabled(_ context.Context, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.micErr != nil {
		return f.micErr
	}
	f.mic = append(f.mic, enabled)
	return nil
}

func (f *fakeConn) SetCameraEnabled(_ context.Context, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.camErr != nil {
		return f.camErr
	}
	f.cam = append(f.cam, enabled)
	return nil
}

func (f *fakeConn) Events() <-chan transport.Event { return f.events }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeConn) cameraCalls() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.cam...)
}

func (f *fakeConn) closedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) setMicErr(err error) {
	f.mu.Lock()
	f.micErr = err
	f.mu.Unlock()
}

func (f *fakeConn) setCamErr(err error) {
	f.mu.Lock()
	f.camErr = err
	f.mu.Unlock()
}

type fakeSDK struct {
	mu    sync.Mutex
	conns []*fakeConn
	err   error
	// gate holds Connect until closed, ignoring cancellation
	gate chan struct{}
}

func (s *fakeSDK) Connect(_ context.Context, _, _ string) (transport.Conn, error) {
	s.mu.Lock()
	gate, err := s.gate, s.err
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}

	c := &fakeConn{events: make(chan transport.Event, 16)}
	s.mu.Lock()
	s.conns = append(s.conns, c)
	s.mu.Unlock()
	return c, nil
}

func (s *fakeSDK) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *fakeSDK) last() *fakeConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		return nil
	}
	return s.conns[len(s.conns)-1]
}

type fakeFeed struct {
	mu        sync.Mutex
	updates   chan []domain.Participant
	published []domain.PresenceUpdate
	closed    bool
	ended     bool
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{updates: make(chan []domain.Participant, 4)}
}

func (f *fakeFeed) Updates() <-chan []domain.Participant { return f.updates }

func (f *fakeFeed) Publish(_ context.Context, u domain.PresenceUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("closed")
	}
	f.published = append(f.published, u)
	return nil
}

func (f *fakeFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeFeed) Ended() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ended
}

func (f *fakeFeed) lastPublished() (domain.PresenceUpdate, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.published) == 0 {
		return domain.PresenceUpdate{}, false
	}
	return f.published[len(f.published)-1], true
}

func (f *fakeFeed) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type harness struct {
	t       *testing.T
	ctrl    *Controller
	issuer  *fakeIssuer
	ender   *fakeEnder
	sdk     *fakeSDK
	monitor *network.Monitor
	feed    *fakeFeed
	seen    []Notice

	feedMu sync.Mutex
	feeds  []*fakeFeed
	markers int
}

type option func(*harness)

func withNetwork(status domain.NetworkStatus) option {
	return func(h *harness) { h.monitor = network.NewMonitor(status) }
}

func withRole(role string) option {
	return func(h *harness) { h.issuer.role = role }
}

func withPresence() option {
	return func(h *harness) { h.feed = newFakeFeed() }
}

func newHarness(t *testing.T, opts ...option) *harness {
	h := &harness{
		t:       t,
		issuer:  &fakeIssuer{role: domain.ParticipantRoleParticipant},
		ender:   &fakeEnder{},
		sdk:     &fakeSDK{},
		monitor: network.NewMonitor(wifi),
	}
	for _, opt := range opts {
		opt(h)
	}

	cfg := Config{
		Tokens:    h.issuer,
		Ender:     h.ender,
		Transport: transport.NewClient(h.sdk, logger.Nop()),
		Network:   h.monitor,
		Log:       logger.Nop(),
	}
	if h.feed != nil {
		cfg.Presence = func(context.Context, string) (PresenceFeed, error) {
			h.feedMu.Lock()
			defer h.feedMu.Unlock()
			feed := h.feed
			if len(h.feeds) > 0 {
				feed = newFakeFeed()
			}
			h.feeds = append(h.feeds, feed)
			return feed, nil
		}
	}
	h.ctrl = New(cfg)
	t.Cleanup(func() { h.ctrl.Close() })
	return h
}

// opened returns every feed handed out so far, first one included.
func (h *harness) opened() []*fakeFeed {
	h.feedMu.Lock()
	defer h.feedMu.Unlock()
	return append([]*fakeFeed(nil), h.feeds...)
}

func (h *harness) waitState(want domain.ConnectionState) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.ctrl.Snapshot().State == want },
		2*time.Second, 5*time.Millisecond, "state never became %s (is %s)", want, h.ctrl.Snapshot().State)
}

func (h *harness) connect() *fakeConn {
	h.t.Helper()
	require.NoError(h.t, h.ctrl.Join(context.Background(), "ABC123"))
	h.waitState(domain.StateConnected)
	return h.sdk.last()
}

func (h *harness) emit(ev transport.Event) {
	h.sdk.last().events <- ev
}

func (h *harness) quality(q domain.QualitySignal) {
	h.emit(transport.Event{Kind: transport.EventQualityChanged, Local: true, Quality: q})
}

// settle waits until every transport event emitted so far is handled.
func (h *harness) settle() {
	h.t.Helper()
	h.markers++
	id := fmt.Sprintf("~marker-%d", h.markers)
	h.emit(transport.Event{Kind: transport.EventParticipantJoined, Participant: id})
	require.Eventually(h.t, func() bool {
		for _, p := range h.ctrl.Snapshot().Participants {
			if p.UserID == id {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
}

func (h *harness) drain() {
	for {
		select {
		case n, ok := <-h.ctrl.Notices():
			if !ok {
				return
			}
			h.seen = append(h.seen, n)
		default:
			return
		}
	}
}

func (h *harness) notices(kind NoticeKind) int {
	h.drain()
	count := 0
	for _, n := range h.seen {
		if n.Kind == kind {
			count++
		}
	}
	return count
}
