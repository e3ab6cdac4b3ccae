package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/livekit/protocol/livekit"
	"github.com/pion/webrtc/v4"
	"google.golang.org/protobuf/proto"
	"live_spaces/internal/domain"
	"live_spaces/pkg/logger"
)

const (
	signalPingInterval = 10 * time.Second
	signalWriteWait    = 5 * time.Second
	eventBuffer        = 64

	microphoneTrackID = "microphone"
	cameraTrackID     = "camera"
)

// LiveKit connects to a LiveKit server: protobuf signalling over a
// websocket, one publisher and one subscriber peer connection. Capture is
// not done here; feed samples into AudioTrack/VideoTrack of the connection.
type LiveKit struct {
	api    *webrtc.API
	dialer *websocket.Dialer
	log    logger.Logger
}

func NewLiveKit(log logger.Logger, debug bool) (*LiveKit, error) {
	media := &webrtc.MediaEngine{}
	if err := media.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	settings := webrtc.SettingEngine{}
	settings.LoggerFactory = logger.NewPionFactory(log.With("component", "webrtc"), debug)

	return &LiveKit{
		api: webrtc.NewAPI(webrtc.WithMediaEngine(media), webrtc.WithSettingEngine(settings)),
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		log: log,
	}, nil
}

func signalURL(base, token string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("parse media url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/rtc"
	q := u.Query()
	q.Set("access_token", token)
	q.Set("auto_subscribe", "1")
	q.Set("sdk", "go")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (l *LiveKit) Connect(ctx context.Context, base, token string) (Conn, error) {
	target, err := signalURL(base, token)
	if err != nil {
		return nil, err
	}

	ws, _, err := l.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("dial signal: %w", err)
	}

	c := &livekitConn{
		ws:           ws,
		log:          l.log,
		events:       make(chan Event, eventBuffer),
		done:         make(chan struct{}),
		readerDone:   make(chan struct{}),
		connected:    make(chan struct{}),
		participants: make(map[string]string),
		trackSids:    make(map[string]string),
	}

	join, err := c.readJoin(ctx)
	if err != nil {
		ws.Close()
		return nil, err
	}

	if err := c.setup(l.api, join); err != nil {
		c.Close()
		return nil, err
	}

	go c.readLoop()
	go c.pingLoop()

	if err := c.publish(); err != nil {
		c.Close()
		return nil, err
	}

	select {
	case <-c.connected:
		return c, nil
	case <-c.readerDone:
		c.Close()
		return nil, errors.New("media connection closed during setup")
	case <-ctx.Done():
		c.Close()
		return nil, ctx.Err()
	}
}

type livekitConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	log     logger.Logger

	publisher  *webrtc.PeerConnection
	subscriber *webrtc.PeerConnection
	audio      *webrtc.TrackLocalStaticSample
	video      *webrtc.TrackLocalStaticSample

	events        chan Event
	done          chan struct{}
	readerDone    chan struct{}
	connected     chan struct{}
	connectedOnce sync.Once
	closeOnce     sync.Once

	mu           sync.Mutex
	localSid     string
	participants map[string]string // sid -> identity
	trackSids    map[string]string // client track id -> server sid
	initial      []*livekit.ParticipantInfo
}

func (c *livekitConn) Events() <-chan Event { return c.events }

// AudioTrack is where captured microphone samples go.
func (c *livekitConn) AudioTrack() *webrtc.TrackLocalStaticSample { return c.audio }

// VideoTrack is where captured camera frames go.
func (c *livekitConn) VideoTrack() *webrtc.TrackLocalStaticSample { return c.video }

func (c *livekitConn) readJoin(ctx context.Context) (*livekit.JoinResponse, error) {
	// unblocks the read below when the caller gives up
	stop := context.AfterFunc(ctx, func() { _ = c.ws.Close() })
	defer stop()

	res, err := c.read()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("read join: %w", ctxErr)
		}
		return nil, fmt.Errorf("read join: %w", err)
	}
	join := res.GetJoin()
	if join == nil {
		return nil, fmt.Errorf("expected join response, got %T", res.Message)
	}
	return join, nil
}

func (c *livekitConn) setup(api *webrtc.API, join *livekit.JoinResponse) error {
	cfg := webrtc.Configuration{}
	for _, s := range join.GetIceServers() {
		cfg.ICEServers = append(cfg.ICEServers, webrtc.ICEServer{
			URLs:       s.GetUrls(),
			Username:   s.GetUsername(),
			Credential: s.GetCredential(),
		})
	}

	c.mu.Lock()
	c.localSid = join.GetParticipant().GetSid()
	c.mu.Unlock()

	var err error
	if c.publisher, err = api.NewPeerConnection(cfg); err != nil {
		return fmt.Errorf("publisher: %w", err)
	}
	if c.subscriber, err = api.NewPeerConnection(cfg); err != nil {
		return fmt.Errorf("subscriber: %w", err)
	}
	c.watch(c.publisher, livekit.SignalTarget_PUBLISHER)
	c.watch(c.subscriber, livekit.SignalTarget_SUBSCRIBER)

	c.audio, err = webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, microphoneTrackID, "local")
	if err != nil {
		return err
	}
	c.video, err = webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, cameraTrackID, "local")
	if err != nil {
		return err
	}
	for _, track := range []webrtc.TrackLocal{c.audio, c.video} {
		if _, err := c.publisher.AddTransceiverFromTrack(track, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionSendonly,
		}); err != nil {
			return fmt.Errorf("add track %s: %w", track.ID(), err)
		}
	}

	c.initial = join.GetOtherParticipants()
	return nil
}

func (c *livekitConn) watch(pc *webrtc.PeerConnection, target livekit.SignalTarget) {
	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		init, err := json.Marshal(cand.ToJSON())
		if err != nil {
			return
		}
		_ = c.send(&livekit.SignalRequest{Message: &livekit.SignalRequest_Trickle{
			Trickle: &livekit.TrickleRequest{CandidateInit: string(init), Target: target},
		}})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.log.Debug("Peer connection state changed", "target", target.String(), "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateConnected:
			c.connectedOnce.Do(func() { close(c.connected) })
		case webrtc.PeerConnectionStateFailed:
			// the read loop reports the drop once the socket is gone
			c.ws.Close()
		}
	})
}

// publish announces both local tracks muted and negotiates the publisher.
func (c *livekitConn) publish() error {
	for _, t := range []struct {
		cid    string
		kind   livekit.TrackType
		source livekit.TrackSource
	}{
		{microphoneTrackID, livekit.TrackType_AUDIO, livekit.TrackSource_MICROPHONE},
		{cameraTrackID, livekit.TrackType_VIDEO, livekit.TrackSource_CAMERA},
	} {
		err := c.send(&livekit.SignalRequest{Message: &livekit.SignalRequest_AddTrack{
			AddTrack: &livekit.AddTrackRequest{Cid: t.cid, Name: t.cid, Type: t.kind, Source: t.source, Muted: true},
		}})
		if err != nil {
			return err
		}
	}

	offer, err := c.publisher.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := c.publisher.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set offer: %w", err)
	}
	return c.send(&livekit.SignalRequest{Message: &livekit.SignalRequest_Offer{
		Offer: &livekit.SessionDescription{Type: offer.Type.String(), Sdp: offer.SDP},
	}})
}

func (c *livekitConn) read() (*livekit.SignalResponse, error) {
	kind, payload, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	if kind != websocket.BinaryMessage {
		return nil, fmt.Errorf("unexpected signal message type %d", kind)
	}
	res := &livekit.SignalResponse{}
	if err := proto.Unmarshal(payload, res); err != nil {
		return nil, fmt.Errorf("decode signal: %w", err)
	}
	return res, nil
}

func (c *livekitConn) send(req *livekit.SignalRequest) error {
	payload, err := proto.Marshal(req)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(signalWriteWait))
	return c.ws.WriteMessage(websocket.BinaryMessage, payload)
}

func (c *livekitConn) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *livekitConn) readLoop() {
	defer close(c.readerDone)
	defer close(c.events)

	for _, p := range c.initial {
		c.trackParticipant(p)
	}

	for {
		res, err := c.read()
		if err != nil {
			c.emit(Event{Kind: EventDisconnected, Err: err})
			return
		}
		if !c.handle(res) {
			c.emit(Event{Kind: EventDisconnected, Err: errors.New("server closed the session")})
			c.ws.Close()
			return
		}
	}
}

// handle applies one signal message and reports whether the session is
// still up.
func (c *livekitConn) handle(res *livekit.SignalResponse) bool {
	switch msg := res.Message.(type) {
	case *livekit.SignalResponse_Answer:
		answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: msg.Answer.GetSdp()}
		if err := c.publisher.SetRemoteDescription(answer); err != nil {
			c.log.Warn("Failed to apply publisher answer", "error", err)
		}

	case *livekit.SignalResponse_Offer:
		if err := c.answer(msg.Offer.GetSdp()); err != nil {
			c.log.Warn("Failed to answer subscriber offer", "error", err)
		}

	case *livekit.SignalResponse_Trickle:
		var cand webrtc.ICECandidateInit
		if err := json.Unmarshal([]byte(msg.Trickle.GetCandidateInit()), &cand); err != nil {
			return true
		}
		pc := c.publisher
		if msg.Trickle.GetTarget() == livekit.SignalTarget_SUBSCRIBER {
			pc = c.subscriber
		}
		if err := pc.AddICECandidate(cand); err != nil {
			c.log.Debug("Dropping ICE candidate", "error", err)
		}

	case *livekit.SignalResponse_TrackPublished:
		c.mu.Lock()
		c.trackSids[msg.TrackPublished.GetCid()] = msg.TrackPublished.GetTrack().GetSid()
		c.mu.Unlock()

	case *livekit.SignalResponse_Update:
		for _, p := range msg.Update.GetParticipants() {
			c.trackParticipant(p)
		}

	case *livekit.SignalResponse_ConnectionQuality:
		c.mu.Lock()
		local := c.localSid
		c.mu.Unlock()
		for _, info := range msg.ConnectionQuality.GetUpdates() {
			c.emit(Event{
				Kind:        EventQualityChanged,
				Participant: c.identity(info.GetParticipantSid()),
				Local:       info.GetParticipantSid() == local,
				Quality:     QualityFromProto(info.GetQuality()),
			})
		}

	case *livekit.SignalResponse_Leave:
		return false
	}
	return true
}

func (c *livekitConn) answer(sdp string) error {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := c.subscriber.SetRemoteDescription(offer); err != nil {
		return err
	}
	answer, err := c.subscriber.CreateAnswer(nil)
	if err != nil {
		return err
	}
	if err := c.subscriber.SetLocalDescription(answer); err != nil {
		return err
	}
	return c.send(&livekit.SignalRequest{Message: &livekit.SignalRequest_Answer{
		Answer: &livekit.SessionDescription{Type: answer.Type.String(), Sdp: answer.SDP},
	}})
}

func (c *livekitConn) trackParticipant(p *livekit.ParticipantInfo) {
	c.mu.Lock()
	if p.GetSid() == c.localSid {
		c.mu.Unlock()
		return
	}
	_, known := c.participants[p.GetSid()]
	gone := p.GetState() == livekit.ParticipantInfo_DISCONNECTED
	if gone {
		delete(c.participants, p.GetSid())
	} else {
		c.participants[p.GetSid()] = p.GetIdentity()
	}
	c.mu.Unlock()

	switch {
	case gone && known:
		c.emit(Event{Kind: EventParticipantLeft, Participant: p.GetIdentity()})
	case !gone && !known:
		c.emit(Event{Kind: EventParticipantJoined, Participant: p.GetIdentity()})
	}
}

func (c *livekitConn) identity(sid string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.participants[sid]; ok {
		return id
	}
	return sid
}

func (c *livekitConn) pingLoop() {
	ticker := time.NewTicker(signalPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.send(&livekit.SignalRequest{Message: &livekit.SignalRequest_Ping{Ping: time.Now().UnixMilli()}}); err != nil {
				c.log.Debug("Signal ping failed", "error", err)
			}
		}
	}
}

func (c *livekitConn) SetMicrophoneEnabled(_ context.Context, enabled bool) error {
	return c.mute(microphoneTrackID, !enabled)
}

func (c *livekitConn) SetCameraEnabled(_ context.Context, enabled bool) error {
	return c.mute(cameraTrackID, !enabled)
}

func (c *livekitConn) mute(trackID string, muted bool) error {
	c.mu.Lock()
	sid := c.trackSids[trackID]
	c.mu.Unlock()
	if sid == "" {
		return fmt.Errorf("track %s is not published yet", trackID)
	}
	return c.send(&livekit.SignalRequest{Message: &livekit.SignalRequest_Mute{
		Mute: &livekit.MuteTrackRequest{Sid: sid, Muted: muted},
	}})
}

func (c *livekitConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.send(&livekit.SignalRequest{Message: &livekit.SignalRequest_Leave{Leave: &livekit.LeaveRequest{}}})
		_ = c.ws.Close()
		if c.publisher != nil {
			_ = c.publisher.Close()
		}
		if c.subscriber != nil {
			_ = c.subscriber.Close()
		}
	})
	return nil
}

// QualityFromProto maps LiveKit's connection quality onto QualitySignal.
func QualityFromProto(q livekit.ConnectionQuality) domain.QualitySignal {
	switch q {
	case livekit.ConnectionQuality_POOR:
		return domain.QualityPoor
	case livekit.ConnectionQuality_GOOD:
		return domain.QualityGood
	case livekit.ConnectionQuality_EXCELLENT:
		return domain.QualityExcellent
	}
	return domain.QualityUnknown
}
