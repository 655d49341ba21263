// Package session owns one browser peer connection per Session: its
// state machine, its inbound sink and outbound source, and its control
// channel. Sessions are tracked in an explicit Registry instead of
// module-level state so lifecycle is create/lookup/remove, nothing
// implicit.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"

	"gesture-bridge/internal/logger"
	"gesture-bridge/internal/operator/gateway"
	"gesture-bridge/internal/operator/sink"
	"gesture-bridge/internal/operator/source"
)

// ErrAnswerTimeout is returned when ICE gathering does not finish
// within the signaling request's bounded wait.
var ErrAnswerTimeout = errors.New("timed out waiting for answer candidates")

// WriterFactory supplies the optional device writer for a new session.
// Returning nil means the session runs without the capability.
type WriterFactory func(sessionID string) sink.FrameWriter

// EncoderFactory supplies the optional outbound encoder for a new
// session. Returning nil means raw fallback frames are dropped rather
// than sent to the browser un-encoded.
type EncoderFactory func(sessionID string) source.Encoder

// Config is the template every new Session is built from.
type Config struct {
	STUNServer string

	VideoWidth  int
	VideoHeight int
	VideoFPS    int

	Hub         *gateway.Hub
	Writers     WriterFactory
	Encoders    EncoderFactory
	ControlSink ControlSink
	HelloGrace  time.Duration
}

// Session is one browser-to-bridge connection instance and the
// resources it owns. It is the only component that mutates its own
// connection-state fields; everything else reads them.
type Session struct {
	ID        string
	CreatedAt time.Time

	log     *logrus.Entry
	pc      *webrtc.PeerConnection
	hub     *gateway.Hub
	source  *source.Source
	sink    *sink.Sink
	control *ControlForwarder

	onTerminal func(*Session)

	mu         sync.Mutex
	state      webrtc.PeerConnectionState
	negotiated bool

	closeOnce sync.Once
	done      chan struct{}
}

// New wires up a Session: peer connection, gateway subscription,
// outbound track, inbound sink and control forwarder. The session is
// not yet negotiated; the caller applies the offer via Negotiate.
// onTerminal runs exactly once when the session closes.
func New(cfg Config, onTerminal func(*Session)) (*Session, error) {
	id := uuid.NewString()
	log := logger.Logger.WithField("session", id)

	var iceServers []webrtc.ICEServer
	if cfg.STUNServer != "" {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{cfg.STUNServer}})
	}

	pc, err := newPeerConnection(iceServers)
	if err != nil {
		return nil, fmt.Errorf("creating peer connection: %w", err)
	}

	var enc source.Encoder
	if cfg.Encoders != nil {
		enc = cfg.Encoders(id)
	}

	tap := cfg.Hub.Subscribe(id)
	src, err := source.New(id, tap, enc, cfg.VideoWidth, cfg.VideoHeight, cfg.VideoFPS)
	if err != nil {
		cfg.Hub.Unsubscribe(id)
		_ = pc.Close()
		return nil, fmt.Errorf("creating outbound source: %w", err)
	}

	sender, err := pc.AddTrack(src.Track())
	if err != nil {
		cfg.Hub.Unsubscribe(id)
		src.Stop()
		_ = pc.Close()
		return nil, fmt.Errorf("registering outbound track: %w", err)
	}
	go drainRTCP(sender)

	var writer sink.FrameWriter
	if cfg.Writers != nil {
		writer = cfg.Writers(id)
	}

	s := &Session{
		ID:         id,
		CreatedAt:  time.Now(),
		log:        log,
		pc:         pc,
		hub:        cfg.Hub,
		source:     src,
		sink:       sink.New(writer),
		control:    NewControlForwarder(log, cfg.ControlSink, cfg.HelloGrace),
		onTerminal: onTerminal,
		state:      webrtc.PeerConnectionStateNew,
		done:       make(chan struct{}),
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeVideo {
			return
		}
		go s.sink.ConsumeTrack(track)
	})

	pc.OnDataChannel(s.control.Bind)
	pc.OnConnectionStateChange(s.handleConnectionState)

	log.Info("Session created")
	return s, nil
}

// newPeerConnection restricts the media engine to VP8 so the inbound
// depacketizer, the device pipeline and the outbound encoder all agree
// on the codec.
func newPeerConnection(iceServers []webrtc.ICEServer) (*webrtc.PeerConnection, error) {
	engine := &webrtc.MediaEngine{}
	if err := engine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
		},
		PayloadType: 96,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, err
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(engine, registry); err != nil {
		return nil, err
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(engine), webrtc.WithInterceptorRegistry(registry))
	return api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
}

// drainRTCP consumes sender reports until the peer connection closes
// so interceptor feedback keeps flowing; the reports themselves are
// not interesting here.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// Negotiate applies the browser's offer and produces the answer,
// waiting at most timeout for ICE gathering to complete so the answer
// carries its candidates.
func (s *Session) Negotiate(offer webrtc.SessionDescription, timeout time.Duration) (*webrtc.SessionDescription, error) {
	if err := s.pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("applying remote offer: %w", err)
	}

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("creating answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(s.pc)
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("applying local answer: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-time.After(timeout):
		return nil, ErrAnswerTimeout
	}

	s.mu.Lock()
	s.negotiated = true
	s.mu.Unlock()

	go s.source.Run()

	s.log.Info("Session negotiated")
	return s.pc.LocalDescription(), nil
}

func (s *Session) handleConnectionState(state webrtc.PeerConnectionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()

	s.log.WithField("state", state.String()).Info("Peer connection state changed")

	switch state {
	case webrtc.PeerConnectionStateDisconnected:
		// Transient network loss; the connection may come back.
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		s.Close()
	}
}

// State returns the session's connection state. A freshly negotiated
// session reports connecting until ICE reaches connected.
func (s *Session) State() webrtc.PeerConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == webrtc.PeerConnectionStateNew && s.negotiated {
		return webrtc.PeerConnectionStateConnecting
	}
	return s.state
}

// ChannelState returns the control channel's state.
func (s *Session) ChannelState() string {
	return s.control.ChannelState()
}

// ControlStats exposes the forwarder's counters.
func (s *Session) ControlStats() ControlStats {
	return s.control.Stats()
}

// Close releases everything the session owns: the outbound feeder, the
// gateway subscription, the device writer and the control forwarder,
// then the peer connection itself. Closing twice is a no-op.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.log.Info("Session closing")

		s.source.Stop()
		s.sink.Stop()
		s.hub.Unsubscribe(s.ID)
		s.control.Stop()
		_ = s.pc.Close()

		if s.onTerminal != nil {
			s.onTerminal(s)
		}
		close(s.done)
	})
}

// Done is closed once the session has fully shut down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}
