package sink

import (
	"errors"
	"sync"
	"testing"

	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/require"

	"gesture-bridge/internal/media"
)

type recordingWriter struct {
	mu     sync.Mutex
	frames []*media.Frame
	stops  int
	err    error
}

func (r *recordingWriter) Write(f *media.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.frames = append(r.frames, f)
	return nil
}

func (r *recordingWriter) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
}

func (r *recordingWriter) recorded() []*media.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

func TestDepacketizerMatchesNegotiatedCodec(t *testing.T) {
	dp, format, err := depacketizerFor(webrtc.MimeTypeVP8)
	require.NoError(t, err)
	require.IsType(t, &codecs.VP8Packet{}, dp)
	require.Equal(t, media.FormatVP8, format)

	dp, format, err = depacketizerFor("video/h264")
	require.NoError(t, err)
	require.IsType(t, &codecs.H264Packet{}, dp)
	require.Equal(t, media.FormatH264, format)

	_, _, err = depacketizerFor(webrtc.MimeTypeOpus)
	require.Error(t, err, "audio tracks have no frame reassembly path")
}

func TestSinkForwardsSamplesAsFrames(t *testing.T) {
	writer := &recordingWriter{}
	s := New(writer)

	s.consumeSample([]byte("frame-a"), media.FormatVP8)
	s.consumeSample([]byte("frame-b"), media.FormatVP8)

	frames := writer.recorded()
	require.Len(t, frames, 2)
	require.Equal(t, media.FormatVP8, frames[0].Format)
	require.Equal(t, uint64(1), frames[0].Seq)
	require.Equal(t, uint64(2), frames[1].Seq, "sink sequence numbers strictly increase")
	require.Equal(t, []byte("frame-b"), frames[1].Payload)
	require.Equal(t, uint64(2), s.Stats().Frames)
}

func TestSinkWithoutWriterCountsFrames(t *testing.T) {
	s := New(nil)

	s.consumeSample([]byte("frame"), media.FormatVP8)
	require.Equal(t, uint64(1), s.Stats().Frames)
}

func TestSinkCountsWriterErrors(t *testing.T) {
	writer := &recordingWriter{err: errors.New("writer saturated")}
	s := New(writer)

	s.consumeSample([]byte("frame"), media.FormatVP8)
	require.Equal(t, uint64(1), s.Stats().WriteErrors)
}

func TestSinkStopIdempotent(t *testing.T) {
	writer := &recordingWriter{}
	s := New(writer)

	s.Stop()
	s.Stop()
	require.Equal(t, 1, writer.stops, "the writer is released exactly once")

	s.consumeSample([]byte("late frame"), media.FormatVP8)
	require.Empty(t, writer.recorded(), "no writes after stop")
}
