package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"

	"gesture-bridge/internal/model"
)

// DefaultHelloGrace is how long after channel open the browser gets to
// send its hello before a warning is logged. Advisory only, never
// fatal.
const DefaultHelloGrace = 5 * time.Second

// Channel states as reported by ChannelState.
const (
	ChannelConnecting = "connecting"
	ChannelOpen       = "open"
	ChannelClosed     = "closed"
	ChannelError      = "error"
)

// ControlSink receives every well-formed key and command message in
// arrival order. raw is the verbatim channel record. A returned error
// drops the message and bumps a counter, nothing more: human input
// tolerates loss far better than a stalled transport.
type ControlSink interface {
	ConsumeControl(msg *model.ControlMessage, raw []byte) error
}

// ControlStats is a snapshot of the forwarder's counters.
type ControlStats struct {
	Forwarded        uint64
	DroppedMalformed uint64
	DroppedSink      uint64
}

// ControlForwarder owns the session's control channel: it binds the
// data channel the browser opens, tracks hello, and forwards events to
// the sink. Message order is preserved because the channel is reliable
// and ordered and pion delivers OnMessage callbacks serially.
type ControlForwarder struct {
	log   *logrus.Entry
	sink  ControlSink
	grace time.Duration

	mu         sync.Mutex
	channel    *webrtc.DataChannel
	state      string
	helloSeen  bool
	graceTimer *time.Timer
	stopped    bool

	forwarded        atomic.Uint64
	droppedMalformed atomic.Uint64
	droppedSink      atomic.Uint64
}

// NewControlForwarder builds a forwarder; grace <= 0 selects
// DefaultHelloGrace. sink may be nil, in which case every event is
// counted as dropped.
func NewControlForwarder(log *logrus.Entry, sink ControlSink, grace time.Duration) *ControlForwarder {
	if grace <= 0 {
		grace = DefaultHelloGrace
	}
	return &ControlForwarder{
		log:   log.WithField("operator", "control"),
		sink:  sink,
		grace: grace,
		state: ChannelConnecting,
	}
}

// Bind attaches the forwarder to the data channel negotiated for this
// session. Called from the peer connection's OnDataChannel handler.
func (f *ControlForwarder) Bind(channel *webrtc.DataChannel) {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	f.channel = channel
	f.mu.Unlock()

	log := f.log.WithField("label", channel.Label())
	log.Info("Control channel bound")

	channel.OnOpen(func() {
		f.mu.Lock()
		f.state = ChannelOpen
		f.graceTimer = time.AfterFunc(f.grace, f.helloGraceExpired)
		f.mu.Unlock()
		log.Info("Control channel open")
	})

	channel.OnMessage(func(msg webrtc.DataChannelMessage) {
		f.HandleRaw(msg.Data)
	})

	channel.OnClose(func() {
		f.mu.Lock()
		if f.state != ChannelError {
			f.state = ChannelClosed
		}
		f.mu.Unlock()
		log.Info("Control channel closed")
	})

	channel.OnError(func(err error) {
		f.mu.Lock()
		f.state = ChannelError
		f.mu.Unlock()
		log.WithError(err).Warn("Control channel error")
	})
}

// HandleRaw processes one channel record. Malformed records are dropped
// and counted, never fatal to the session.
func (f *ControlForwarder) HandleRaw(data []byte) {
	msg, err := model.ParseControl(data)
	if err != nil {
		f.droppedMalformed.Add(1)
		f.log.WithError(err).Warn("Dropping malformed control message")
		return
	}

	if msg.Type == model.ControlHello {
		f.handleHello()
		return
	}

	if msg.Type == model.ControlCommand && !model.KnownCommand(msg.Command) {
		f.log.WithField("command", msg.Command).Warn("Forwarding command outside known vocabulary")
	}

	if f.sink == nil {
		f.droppedSink.Add(1)
		return
	}
	if err := f.sink.ConsumeControl(msg, data); err != nil {
		f.droppedSink.Add(1)
		f.log.WithError(err).Warn("Control sink unavailable, dropping message")
		return
	}
	f.forwarded.Add(1)
}

// handleHello marks (re)establishment. Counters reset because a hello
// after a channel re-open starts a fresh delivery epoch.
func (f *ControlForwarder) handleHello() {
	f.mu.Lock()
	f.helloSeen = true
	if f.graceTimer != nil {
		f.graceTimer.Stop()
		f.graceTimer = nil
	}
	f.mu.Unlock()

	f.forwarded.Store(0)
	f.droppedMalformed.Store(0)
	f.droppedSink.Store(0)
	f.log.Info("Control channel hello received")
}

func (f *ControlForwarder) helloGraceExpired() {
	f.mu.Lock()
	seen := f.helloSeen
	f.mu.Unlock()
	if !seen {
		f.log.WithField("grace", f.grace).Warn("No hello within grace period, channel stays usable")
	}
}

// Stop ends forwarding. Idempotent; the channel itself is torn down by
// the peer connection.
func (f *ControlForwarder) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return
	}
	f.stopped = true
	f.state = ChannelClosed
	if f.graceTimer != nil {
		f.graceTimer.Stop()
		f.graceTimer = nil
	}
}

// ChannelState returns the control channel's current state.
func (f *ControlForwarder) ChannelState() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Stats returns a snapshot of the forwarder's counters.
func (f *ControlForwarder) Stats() ControlStats {
	return ControlStats{
		Forwarded:        f.forwarded.Load(),
		DroppedMalformed: f.droppedMalformed.Load(),
		DroppedSink:      f.droppedSink.Load(),
	}
}
