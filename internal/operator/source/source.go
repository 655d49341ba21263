// Package source adapts gateway frames into a session's outbound video
// track, falling back to the synthetic generator when no producer frame
// is available. The track carries VP8, so raw frames are routed through
// the session's encoder before they touch the wire.
package source

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v3"
	pionmedia "github.com/pion/webrtc/v3/pkg/media"
	"github.com/sirupsen/logrus"

	"gesture-bridge/internal/logger"
	"gesture-bridge/internal/media"
)

// Encoder compresses raw frames into VP8 access units for the track.
// Implementations run their own pipeline; encoded units surface on
// Units at the encoder's pace, and Units is closed after Close.
type Encoder interface {
	Encode(f *media.Frame) error
	Units() <-chan []byte
	Close() error
}

// Stats is a snapshot of the source's counters.
type Stats struct {
	Skipped      uint64
	EncodeErrors uint64
}

// Source is the per-session outbound adapter. The track pacer pulls
// frames through NextFrame at its own cadence; the source holds no
// history beyond the single most recent gateway frame in its tap.
type Source struct {
	log   *logrus.Entry
	tap   *media.LatestSlot
	synth *media.SyntheticGenerator
	track *webrtc.TrackLocalStaticSample
	enc   Encoder

	interval time.Duration

	skipped      atomic.Uint64
	encodeErrors atomic.Uint64

	// writeMu serializes track writes between the pacer and the
	// encoded-unit relay.
	writeMu  sync.Mutex
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds a source over the given gateway tap and negotiates a VP8
// sample track for it. enc may be nil; without one, frames that are
// not already VP8 are dropped instead of being sent as bytes the
// browser cannot decode.
func New(id string, tap *media.LatestSlot, enc Encoder, width, height, fps int) (*Source, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", "gesture-bridge",
	)
	if err != nil {
		return nil, err
	}

	return &Source{
		log:      logger.Logger.WithField("operator", "source").WithField("session", id),
		tap:      tap,
		synth:    media.NewSyntheticGenerator(width, height, time.Now()),
		track:    track,
		enc:      enc,
		interval: time.Second / time.Duration(fps),
		stopCh:   make(chan struct{}),
	}, nil
}

// Track returns the outbound track to register on the peer connection.
func (s *Source) Track() *webrtc.TrackLocalStaticSample {
	return s.track
}

// NextFrame returns the frame to send for the given instant: the most
// recent gateway frame if one arrived since the last pull, otherwise a
// synthetic frame. It never blocks waiting for a producer.
func (s *Source) NextFrame(now time.Time) *media.Frame {
	if frame, ok := s.tap.Take(); ok {
		return frame
	}
	return s.synth.Next(now)
}

// Run paces the pipeline at the negotiated frame interval until Stop.
// VP8 frames go straight onto the track; everything else goes through
// the encoder. Sample write failures end the feeder; the session
// notices through its own connection state, not through the source.
func (s *Source) Run() {
	if s.enc != nil {
		go s.relayEncoded()
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			frame := s.NextFrame(now)
			switch {
			case frame.Format == media.FormatVP8:
				if !s.writeUnit(frame.Payload) {
					return
				}
			case s.enc != nil:
				if err := s.enc.Encode(frame); err != nil {
					s.encodeErrors.Add(1)
					s.log.WithError(err).Warn("Encoding outbound frame failed")
				}
			default:
				if s.skipped.Add(1) == 1 {
					s.log.Warn("No outbound encoder, dropping raw frames")
				}
			}
		}
	}
}

// relayEncoded feeds encoded access units onto the track as the
// encoder produces them. Ends when the encoder closes its output.
func (s *Source) relayEncoded() {
	for unit := range s.enc.Units() {
		if !s.writeUnit(unit) {
			return
		}
	}
}

func (s *Source) writeUnit(data []byte) bool {
	s.writeMu.Lock()
	err := s.track.WriteSample(pionmedia.Sample{
		Data:     data,
		Duration: s.interval,
	})
	s.writeMu.Unlock()
	if err != nil {
		s.log.WithError(err).Info("Outbound track write failed, stopping feeder")
		return false
	}
	return true
}

// Stats returns a snapshot of the source's counters.
func (s *Source) Stats() Stats {
	return Stats{
		Skipped:      s.skipped.Load(),
		EncodeErrors: s.encodeErrors.Load(),
	}
}

// Stop ends the feeder and the encoder pipeline. Idempotent.
func (s *Source) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.enc != nil {
			_ = s.enc.Close()
		}
	})
}
