// Package sink consumes decoded frames arriving on a session's inbound
// track and hands them to the optional device writer.
package sink

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media/samplebuilder"
	"github.com/sirupsen/logrus"

	"gesture-bridge/internal/logger"
	"gesture-bridge/internal/media"
)

const (
	videoClockRate = 90000

	// sampleBuilderMaxLate is how many RTP packets may arrive late
	// before an access unit is given up on.
	sampleBuilderMaxLate = 64
)

// FrameWriter is the narrow capability the sink pushes frames into.
// The device writer implements it; tests substitute a recorder.
type FrameWriter interface {
	Write(f *media.Frame) error
	Stop()
}

// Stats is a snapshot of the sink's counters.
type Stats struct {
	Frames      uint64
	WriteErrors uint64
}

// Sink reassembles the browser's webcam RTP stream into access-unit
// frames and forwards each one to the writer. It runs at the peer
// connection's own decode cadence; the writer absorbs any rate
// mismatch with its latest-frame-wins input.
type Sink struct {
	log    *logrus.Entry
	writer FrameWriter

	seq         atomic.Uint64
	frames      atomic.Uint64
	writeErrors atomic.Uint64
	stopped     atomic.Bool
}

// New builds a sink. writer may be nil when the session runs without
// the device write-back capability.
func New(writer FrameWriter) *Sink {
	return &Sink{
		log:    logger.Logger.WithField("operator", "sink"),
		writer: writer,
	}
}

// depacketizerFor maps a negotiated mime type onto the matching
// depacketizer and frame format. Anything else means the track cannot
// be reassembled and must be ignored rather than mislabeled.
func depacketizerFor(mimeType string) (rtp.Depacketizer, media.Format, error) {
	switch {
	case strings.EqualFold(mimeType, webrtc.MimeTypeVP8):
		return &codecs.VP8Packet{}, media.FormatVP8, nil
	case strings.EqualFold(mimeType, webrtc.MimeTypeH264):
		return &codecs.H264Packet{}, media.FormatH264, nil
	}
	return nil, 0, fmt.Errorf("unsupported inbound codec %q", mimeType)
}

// ConsumeTrack reads the remote track until it ends. Intended to run as
// the session's per-track goroutine.
func (s *Sink) ConsumeTrack(track *webrtc.TrackRemote) {
	log := s.log.WithFields(logrus.Fields{
		"track": track.ID(),
		"codec": track.Codec().MimeType,
	})

	depacketizer, format, err := depacketizerFor(track.Codec().MimeType)
	if err != nil {
		log.WithError(err).Warn("Ignoring inbound track")
		return
	}

	log.Info("Inbound track started")
	defer log.Info("Inbound track ended")

	builder := samplebuilder.New(sampleBuilderMaxLate, depacketizer, videoClockRate)

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.WithError(err).Info("Inbound track read ended")
			}
			return
		}

		builder.Push(pkt)
		for sample := builder.Pop(); sample != nil; sample = builder.Pop() {
			s.consumeSample(sample.Data, format)
		}
	}
}

// consumeSample wraps one reassembled access unit as a Frame and hands
// it to the writer, if any.
func (s *Sink) consumeSample(data []byte, format media.Format) {
	s.frames.Add(1)
	if s.writer == nil || s.stopped.Load() {
		return
	}

	frame := &media.Frame{
		Format:  format,
		Seq:     s.seq.Add(1),
		Payload: data,
	}
	if err := s.writer.Write(frame); err != nil {
		s.writeErrors.Add(1)
		s.log.WithError(err).Warn("Device writer rejected frame")
	}
}

// Stop releases the writer. Idempotent.
func (s *Sink) Stop() {
	if s.stopped.Swap(true) {
		return
	}
	if s.writer != nil {
		s.writer.Stop()
	}
}

// Stats returns a snapshot of the sink's counters.
func (s *Sink) Stats() Stats {
	return Stats{
		Frames:      s.frames.Load(),
		WriteErrors: s.writeErrors.Load(),
	}
}
