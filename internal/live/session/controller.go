package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"live_spaces/internal/domain"
	"live_spaces/internal/live/network"
	"live_spaces/internal/live/transport"
	"live_spaces/pkg/logger"
)

const (
	commandTimeout = 10 * time.Second
	opQueueSize    = 32
	noticeBuffer   = 32
)

// MediaTransport is the part of transport.Client the controller drives.
type MediaTransport interface {
	Connect(ctx context.Context, url, token string) (*transport.Session, error)
	Disconnect() error
	EnableVideo(ctx context.Context) error
	DisableVideo(ctx context.Context) error
	ToggleMute(ctx context.Context) (bool, error)
}

// PresenceFeed is an open presence subscription.
type PresenceFeed interface {
	Updates() <-chan []domain.Participant
	Publish(ctx context.Context, update domain.PresenceUpdate) error
	Close() error
}

// PresenceFunc opens the presence feed of a session.
type PresenceFunc func(ctx context.Context, sessionID string) (PresenceFeed, error)

type Config struct {
	Tokens    TokenIssuer
	Ender     SessionEnder
	Transport MediaTransport
	Network   network.Signal
	// Presence is optional.
	Presence PresenceFunc
	Log      logger.Logger
}

// Controller runs the live session state machine. Every transition happens
// on one goroutine: network changes, transport events, join results and
// user commands are all serialized through it.
type Controller struct {
	tokens    TokenIssuer
	ender     SessionEnder
	transport MediaTransport
	network   network.Signal
	presence  PresenceFunc
	log       logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	inbox     chan func()
	ops       chan mediaOp
	updates   chan Snapshot
	notices   chan Notice
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	snapMu sync.Mutex
	snap   Snapshot

	// owned by the loop goroutine
	state       domain.ConnectionState
	sessionID   string
	grant       *Grant
	netStatus   domain.NetworkStatus
	pendingJoin bool
	attempt     int
	cancelJoin  context.CancelFunc
	session     *transport.Session
	sessionEvts <-chan transport.Event
	muted       bool
	hasVideo    bool
	quality     domain.QualitySignal
	muteBusy    bool
	videoBusy   bool
	videoSeq    int
	remote      map[string]bool
	roster      []domain.Participant
	feed        PresenceFeed
	feedUpdates <-chan []domain.Participant
	feedOpening bool
	lastErr     error
}

func New(cfg Config) *Controller {
	log := cfg.Log
	if log == nil {
		log = logger.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	c := &Controller{
		tokens:    cfg.Tokens,
		ender:     cfg.Ender,
		transport: cfg.Transport,
		network:   cfg.Network,
		presence:  cfg.Presence,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
		inbox:     make(chan func()),
		ops:       make(chan mediaOp, opQueueSize),
		updates:   make(chan Snapshot, 1),
		notices:   make(chan Notice, noticeBuffer),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
		state:     domain.StateIdle,
		netStatus: cfg.Network.Current(),
		muted:     true,
		remote:    make(map[string]bool),
	}
	c.snap = c.buildSnapshot()

	netCh, cancelNet := cfg.Network.Subscribe()
	go c.run(netCh, cancelNet)
	go c.worker()
	return c
}

// Snapshot returns the latest published state.
func (c *Controller) Snapshot() Snapshot {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()
	return c.snap
}

// Updates delivers a Snapshot after every change, keeping only the latest
// one for a slow reader. Closed by Close.
func (c *Controller) Updates() <-chan Snapshot {
	return c.updates
}

// Notices delivers user-facing messages. Closed by Close.
func (c *Controller) Notices() <-chan Notice {
	return c.notices
}

// Join starts joining sessionID. The connection itself happens in the
// background; watch Updates for the outcome. Offline, the controller stays
// Idle, returns ErrNetworkUnavailable and joins once the network is back.
func (c *Controller) Join(ctx context.Context, sessionID string) error {
	var err error
	if e := c.do(ctx, func() { err = c.join(sessionID) }); e != nil {
		return e
	}
	return err
}

// Leave disconnects for good. It always succeeds locally.
func (c *Controller) Leave(ctx context.Context) error {
	if err := c.do(ctx, c.leave); err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	return nil
}

// EndSession ends the session for everyone, then leaves. The local leave
// happens even when the API call fails; that error is returned.
func (c *Controller) EndSession(ctx context.Context) error {
	var (
		sessionID string
		host      bool
	)
	if err := c.do(ctx, func() {
		sessionID = c.sessionID
		host = c.grant != nil && c.grant.Role == domain.ParticipantRoleHost
	}); err != nil {
		return err
	}
	if !host {
		return ErrNotHost
	}

	endErr := c.ender.EndSession(ctx, sessionID)
	if endErr != nil {
		endErr = fmt.Errorf("end session: %w", endErr)
		c.log.Warn("Failed to end session", "error", endErr, "session_id", sessionID)
	}

	_ = c.do(context.Background(), func() {
		if endErr != nil {
			c.lastErr = endErr
			c.notify(NoticeEndFailed, "could not end the session for everyone", endErr)
		}
		c.leave()
	})
	return endErr
}

// ToggleMute flips the microphone and returns the new muted state. The
// flag flips right away and is reverted if the transport fails.
func (c *Controller) ToggleMute(ctx context.Context) (bool, error) {
	reply := make(chan toggleResult, 1)
	if err := c.do(ctx, func() { c.toggleMute(reply) }); err != nil {
		return false, err
	}
	return c.await(ctx, reply)
}

// ToggleVideo turns the camera on or off and returns the new state.
// Turning it on over a metered network needs confirmed.
func (c *Controller) ToggleVideo(ctx context.Context, confirmed bool) (bool, error) {
	reply := make(chan toggleResult, 1)
	if err := c.do(ctx, func() { c.toggleVideo(confirmed, reply) }); err != nil {
		return false, err
	}
	return c.await(ctx, reply)
}

// Close cancels any join in flight, disconnects the transport and stops
// the controller. Safe to call more than once.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() { close(c.closing) })
	<-c.done
	return nil
}

type toggleResult struct {
	on  bool
	err error
}

func (c *Controller) await(ctx context.Context, reply <-chan toggleResult) (bool, error) {
	select {
	case r := <-reply:
		return r.on, r.err
	case <-ctx.Done():
		return false, ctx.Err()
	case <-c.done:
		return false, ErrClosed
	}
}

// do runs fn on the loop and waits for it.
func (c *Controller) do(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	select {
	case c.inbox <- func() { fn(); close(ran) }:
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-ran
	return nil
}

// post hands fn to the loop without waiting. False once the loop is gone.
func (c *Controller) post(fn func()) bool {
	select {
	case c.inbox <- fn:
		return true
	case <-c.done:
		return false
	}
}

func (c *Controller) run(netCh <-chan domain.NetworkStatus, cancelNet func()) {
	defer close(c.done)
	defer close(c.updates)
	defer close(c.notices)
	defer cancelNet()

	for {
		select {
		case <-c.closing:
			c.leave()
			c.cancel()
			return

		case fn := <-c.inbox:
			fn()

		case status, ok := <-netCh:
			if !ok {
				netCh = nil
				continue
			}
			c.onNetwork(status)

		case ev, ok := <-c.sessionEvts:
			if !ok {
				c.sessionEvts = nil
				c.onTransportLost(errors.New("media session closed"))
				continue
			}
			c.onTransportEvent(ev)

		case roster, ok := <-c.feedUpdates:
			if !ok {
				c.onPresenceClosed()
				continue
			}
			c.roster = roster
			c.publish()
		}
	}
}

func (c *Controller) join(sessionID string) error {
	if c.state != domain.StateIdle {
		return ErrAlreadyJoined
	}
	if sessionID == "" {
		return errors.New("session id is required")
	}

	c.sessionID = sessionID
	c.openPresence()

	if !c.netStatus.Connected {
		c.pendingJoin = true
		c.notify(NoticeWaitingForNetwork, "waiting for network", nil)
		c.publish()
		return ErrNetworkUnavailable
	}

	c.startJoin()
	return nil
}

func (c *Controller) startJoin() {
	c.pendingJoin = false
	c.attempt++
	attempt := c.attempt
	sessionID := c.sessionID

	ctx, cancel := context.WithCancel(c.ctx)
	c.cancelJoin = cancel
	c.setState(domain.StateConnecting)
	c.log.Info("Joining session", "session_id", sessionID, "attempt", attempt)
	// the presence socket may have dropped with the previous session
	c.openPresence()

	go func() {
		grant, sess, err := c.connect(ctx, sessionID)
		delivered := c.post(func() { c.onJoinResult(attempt, grant, sess, err) })
		if !delivered && sess != nil {
			_ = sess.Close()
		}
	}()
}

func (c *Controller) connect(ctx context.Context, sessionID string) (*Grant, *transport.Session, error) {
	grant, err := c.tokens.RequestToken(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("request token: %w", err)
	}
	sess, err := c.transport.Connect(ctx, grant.URL, grant.Token)
	if err != nil {
		return grant, nil, fmt.Errorf("connect media: %w", err)
	}
	return grant, sess, nil
}

func (c *Controller) onJoinResult(attempt int, grant *Grant, sess *transport.Session, err error) {
	if attempt != c.attempt || c.state != domain.StateConnecting {
		if sess != nil {
			c.log.Debug("Discarding stale join", "attempt", attempt)
			_ = sess.Close()
		}
		return
	}
	c.stopJoin()

	if err != nil {
		c.log.Warn("Join failed", "error", err, "session_id", c.sessionID)
		c.lastErr = err
		c.closePresence()
		c.setState(domain.StateDisconnected)
		c.notify(NoticeConnectionError, "could not connect to the session", err)
		return
	}

	c.grant = grant
	c.session = sess
	c.sessionEvts = sess.Events()
	c.muted = sess.Muted()
	c.hasVideo = sess.VideoEnabled()
	c.quality = domain.QualityUnknown
	c.lastErr = nil
	c.setState(domain.StateConnected)
	c.publishPresence(true)
}

// stopJoin invalidates the join in flight, if any.
func (c *Controller) stopJoin() {
	if c.cancelJoin != nil {
		c.cancelJoin()
		c.cancelJoin = nil
	}
}

func (c *Controller) abortJoin() {
	c.attempt++
	c.stopJoin()
}

func (c *Controller) leave() {
	c.pendingJoin = false
	c.abortJoin()

	c.session = nil
	c.sessionEvts = nil
	if err := c.transport.Disconnect(); err != nil {
		c.log.Warn("Failed to disconnect media", "error", err)
	}
	c.closePresence()

	if c.state != domain.StateDisconnected {
		c.setState(domain.StateDisconnected)
	}
}

func (c *Controller) onNetwork(status domain.NetworkStatus) {
	prev := c.netStatus
	c.netStatus = status

	switch {
	case !status.Connected:
		switch c.state {
		case domain.StateConnected, domain.StateDegraded:
			c.setState(domain.StateReconnecting)
			c.notify(NoticeReconnecting, "connection lost, reconnecting", nil)
		case domain.StateConnecting:
			c.abortJoin()
			c.setState(domain.StateReconnecting)
			c.notify(NoticeReconnecting, "connection lost, reconnecting", nil)
		}

	case !prev.Connected:
		switch c.state {
		case domain.StateIdle:
			if c.pendingJoin {
				c.startJoin()
			}
		case domain.StateReconnecting:
			if c.session != nil {
				c.resume()
			} else {
				c.startJoin()
			}
		}
	}
	c.publish()
}

// resume returns to the live state after an outage the transport survived.
func (c *Controller) resume() {
	c.openPresence()
	if c.quality == domain.QualityPoor {
		c.setState(domain.StateDegraded)
		return
	}
	c.setState(domain.StateConnected)
}

func (c *Controller) onTransportEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventParticipantJoined:
		c.remote[ev.Participant] = true
	case transport.EventParticipantLeft:
		delete(c.remote, ev.Participant)
	case transport.EventQualityChanged:
		if ev.Local {
			c.onQuality(ev.Quality)
		}
	case transport.EventDisconnected:
		c.onTransportLost(ev.Err)
		return
	}
	c.publish()
}

// onQuality applies the degradation policy. Video is forced off once per
// transition into Poor and never turned back on.
func (c *Controller) onQuality(q domain.QualitySignal) {
	prev := c.quality
	c.quality = q

	switch {
	case q == domain.QualityPoor && prev != domain.QualityPoor:
		if c.hasVideo {
			c.forceVideoOff()
		}
		if c.state == domain.StateConnected {
			c.setState(domain.StateDegraded)
		}
	case q != domain.QualityPoor && prev == domain.QualityPoor:
		if c.state == domain.StateDegraded {
			c.setState(domain.StateConnected)
		}
	}
}

func (c *Controller) forceVideoOff() {
	c.hasVideo = false
	c.videoSeq++
	c.notify(NoticeVideoDisabled, "video disabled to protect connection", nil)
	c.enqueue(mediaOp{
		name: "disable_video",
		run:  c.transport.DisableVideo,
		done: func(err error) {
			if err != nil {
				c.log.Warn("Failed to disable video", "error", err)
				c.notify(NoticeMediaError, "could not turn the camera off", err)
				return
			}
			c.publishPresence(true)
		},
	})
	c.publishPresence(true)
}

func (c *Controller) onTransportLost(err error) {
	if c.session == nil {
		return
	}
	c.log.Warn("Media session dropped", "error", err)
	_ = c.session.Close()
	c.session = nil
	c.sessionEvts = nil
	c.quality = domain.QualityUnknown
	c.remote = make(map[string]bool)

	switch c.state {
	case domain.StateConnected, domain.StateDegraded:
		c.setState(domain.StateReconnecting)
		c.notify(NoticeReconnecting, "connection lost, reconnecting", err)
	}
	// reconnection is level-triggered: no backoff, no cap
	if c.state == domain.StateReconnecting && c.netStatus.Connected {
		c.startJoin()
	}
	c.publish()
}

func (c *Controller) toggleMute(reply chan<- toggleResult) {
	if !c.state.Live() {
		reply <- toggleResult{on: c.muted, err: ErrNotConnected}
		return
	}
	if c.muteBusy {
		reply <- toggleResult{on: c.muted, err: ErrBusy}
		return
	}

	prev := c.muted
	c.muted = !prev
	c.muteBusy = true
	c.publish()

	var next bool
	ok := c.enqueue(mediaOp{
		name: "toggle_mute",
		run: func(ctx context.Context) error {
			var err error
			next, err = c.transport.ToggleMute(ctx)
			return err
		},
		done: func(err error) {
			c.muteBusy = false
			if err != nil {
				c.muted = prev
				c.lastErr = err
				c.notify(NoticeMediaError, "could not change the microphone", err)
			} else {
				c.muted = next
				c.publishPresence(true)
			}
			c.publish()
			reply <- toggleResult{on: c.muted, err: err}
		},
	})
	if !ok {
		c.muted = prev
		c.muteBusy = false
		c.publish()
		reply <- toggleResult{on: c.muted, err: ErrBusy}
	}
}

func (c *Controller) toggleVideo(confirmed bool, reply chan<- toggleResult) {
	if !c.state.Live() {
		reply <- toggleResult{on: c.hasVideo, err: ErrNotConnected}
		return
	}
	if c.videoBusy {
		reply <- toggleResult{on: c.hasVideo, err: ErrBusy}
		return
	}

	enable := !c.hasVideo
	if enable {
		if c.netStatus.Metered() && !confirmed {
			reply <- toggleResult{on: false, err: ErrConfirmationRequired}
			return
		}
		if c.quality == domain.QualityPoor {
			reply <- toggleResult{on: false, err: ErrPoorQuality}
			return
		}
	}

	prev := c.hasVideo
	c.hasVideo = enable
	c.videoBusy = true
	c.videoSeq++
	seq := c.videoSeq
	c.publish()

	run := c.transport.DisableVideo
	if enable {
		run = c.transport.EnableVideo
	}
	ok := c.enqueue(mediaOp{
		name: "toggle_video",
		run:  run,
		done: func(err error) {
			c.videoBusy = false
			switch {
			case seq != c.videoSeq:
				// quality forced the camera off meanwhile
				if err == nil && enable {
					err = ErrPoorQuality
				}
			case err != nil:
				c.hasVideo = prev
				c.lastErr = err
				c.notify(NoticeMediaError, "could not change the camera", err)
			default:
				c.publishPresence(true)
			}
			c.publish()
			reply <- toggleResult{on: c.hasVideo, err: err}
		},
	})
	if !ok {
		c.hasVideo = prev
		c.videoBusy = false
		c.publish()
		reply <- toggleResult{on: c.hasVideo, err: ErrBusy}
	}
}

// mediaOp is a transport call. Ops run one at a time in submission order
// so a forced camera-off can never overtake an earlier camera-on.
type mediaOp struct {
	name string
	run  func(ctx context.Context) error
	// done runs on the loop with the result.
	done func(err error)
}

func (c *Controller) enqueue(op mediaOp) bool {
	select {
	case c.ops <- op:
		return true
	default:
		c.log.Warn("Media command queue full", "op", op.name)
		return false
	}
}

func (c *Controller) worker() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case op := <-c.ops:
			ctx, cancel := context.WithTimeout(c.ctx, commandTimeout)
			err := op.run(ctx)
			cancel()
			if op.done != nil {
				c.post(func() { op.done(err) })
			}
		}
	}
}

func (c *Controller) openPresence() {
	if c.presence == nil || c.feed != nil || c.feedOpening {
		return
	}
	c.feedOpening = true
	sessionID := c.sessionID

	go func() {
		feed, err := c.presence(c.ctx, sessionID)
		delivered := c.post(func() { c.onPresenceOpened(feed, err) })
		if !delivered && feed != nil {
			_ = feed.Close()
		}
	}()
}

func (c *Controller) onPresenceOpened(feed PresenceFeed, err error) {
	c.feedOpening = false
	if err != nil {
		// presence is best effort
		c.log.Warn("Presence unavailable", "error", err)
		return
	}
	if c.state == domain.StateDisconnected {
		_ = feed.Close()
		return
	}
	c.feed = feed
	c.feedUpdates = feed.Updates()
	if c.state.Live() {
		c.publishPresence(true)
	}
}

type endedFeed interface {
	Ended() bool
}

func (c *Controller) onPresenceClosed() {
	feed := c.feed
	c.feed = nil
	c.feedUpdates = nil
	if feed == nil {
		return
	}
	_ = feed.Close()

	if e, ok := feed.(endedFeed); ok && e.Ended() && c.state != domain.StateDisconnected {
		c.log.Info("Session ended by host", "session_id", c.sessionID)
		c.notify(NoticeSessionEnded, "the host ended the session", nil)
		c.leave()
	}
}

func (c *Controller) closePresence() {
	if c.feed != nil {
		_ = c.feed.Close()
	}
	c.feed = nil
	c.feedUpdates = nil
}

// publishPresence queues the local media flags on the presence feed.
// Failures are logged only.
func (c *Controller) publishPresence(online bool) {
	feed := c.feed
	if feed == nil {
		return
	}
	muted, video := c.muted, c.hasVideo
	update := domain.PresenceUpdate{Muted: &muted, HasVideo: &video, Online: &online}
	c.enqueue(mediaOp{
		name: "presence",
		run: func(ctx context.Context) error {
			if err := feed.Publish(ctx, update); err != nil {
				c.log.Debug("Presence publish failed", "error", err)
			}
			return nil
		},
	})
}

func (c *Controller) setState(s domain.ConnectionState) {
	if c.state == s {
		return
	}
	c.log.Info("Session state changed", "from", c.state.String(), "to", s.String(), "session_id", c.sessionID)
	c.state = s
	c.publish()
}

func (c *Controller) notify(kind NoticeKind, msg string, err error) {
	n := Notice{Kind: kind, Message: msg, Err: err}
	select {
	case c.notices <- n:
	default:
		c.log.Warn("Dropping notice, nobody is reading", "kind", kind.String())
	}
}

func (c *Controller) publish() {
	snap := c.buildSnapshot()

	c.snapMu.Lock()
	c.snap = snap
	c.snapMu.Unlock()

	select {
	case c.updates <- snap:
		return
	default:
	}
	select {
	case <-c.updates:
	default:
	}
	select {
	case c.updates <- snap:
	default:
	}
}

func (c *Controller) buildSnapshot() Snapshot {
	snap := Snapshot{
		State:             c.state,
		SessionID:         c.sessionID,
		Muted:             c.muted,
		HasVideo:          c.hasVideo,
		Quality:           c.quality,
		Network:           c.netStatus,
		WaitingForNetwork: c.pendingJoin,
		Participants:      c.participants(),
		Err:               c.lastErr,
	}
	if c.grant != nil {
		snap.Role = c.grant.Role
		snap.Identity = c.grant.Identity
	}
	return snap
}

// participants joins the presence roster with who the media server sees.
func (c *Controller) participants() []domain.Participant {
	out := make([]domain.Participant, 0, len(c.roster)+len(c.remote))
	seen := make(map[string]bool, len(c.roster))

	for _, p := range c.roster {
		seen[p.UserID] = true
		switch {
		case c.grant != nil && p.UserID == c.grant.Identity:
			p.Connection = c.state
		case c.remote[p.UserID]:
			p.Connection = domain.StateConnected
		default:
			p.Connection = domain.StateDisconnected
		}
		out = append(out, p)
	}
	for id := range c.remote {
		if seen[id] {
			continue
		}
		out = append(out, domain.Participant{
			UserID:     id,
			Role:       domain.ParticipantRoleParticipant,
			Muted:      true,
			Online:     true,
			Connection: domain.StateConnected,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
