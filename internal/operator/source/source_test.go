package source

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gesture-bridge/internal/media"
)

type fakeEncoder struct {
	mu     sync.Mutex
	frames []*media.Frame
	units  chan []byte

	closeOnce sync.Once
}

func newFakeEncoder() *fakeEncoder {
	return &fakeEncoder{units: make(chan []byte, 4)}
}

func (e *fakeEncoder) Encode(f *media.Frame) error {
	e.mu.Lock()
	e.frames = append(e.frames, f)
	e.mu.Unlock()
	return nil
}

func (e *fakeEncoder) Units() <-chan []byte { return e.units }

func (e *fakeEncoder) Close() error {
	e.closeOnce.Do(func() { close(e.units) })
	return nil
}

func (e *fakeEncoder) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.frames)
}

func (e *fakeEncoder) frame(i int) *media.Frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frames[i]
}

func newTestSource(t *testing.T, tap *media.LatestSlot) *Source {
	t.Helper()
	s, err := New("test-session", tap, nil, 320, 240, 20)
	require.NoError(t, err)
	t.Cleanup(s.Stop)
	return s
}

func TestNextFrameFallsBackToSynthetic(t *testing.T) {
	tap := &media.LatestSlot{}
	s := newTestSource(t, tap)

	frame := s.NextFrame(time.Now())
	require.NotNil(t, frame, "a source never blocks waiting for a producer")
	require.Equal(t, media.FormatRGB24, frame.Format)
	require.Equal(t, 320, frame.Width)
	require.Equal(t, 240, frame.Height)
}

func TestNextFramePrefersProducerFrame(t *testing.T) {
	tap := &media.LatestSlot{}
	s := newTestSource(t, tap)

	published := &media.Frame{Seq: 7, Format: media.FormatJPEG, Width: 640, Height: 480}
	tap.Put(published)

	frame := s.NextFrame(time.Now())
	require.Same(t, published, frame)

	// The tap is drained, so the next pull falls back again.
	frame = s.NextFrame(time.Now())
	require.Equal(t, media.FormatRGB24, frame.Format)
}

func TestNextFrameAfterProducerGone(t *testing.T) {
	tap := &media.LatestSlot{}
	s := newTestSource(t, tap)

	tap.Put(&media.Frame{Seq: 1, Format: media.FormatJPEG})
	tap.Clear() // producer disconnected before the pacer pulled

	frame := s.NextFrame(time.Now())
	require.Equal(t, media.FormatRGB24, frame.Format, "stale producer frames are not served")
}

func TestSyntheticSequencesAreIndependentPerSource(t *testing.T) {
	a := newTestSource(t, &media.LatestSlot{})
	b := newTestSource(t, &media.LatestSlot{})

	now := time.Now()
	a.NextFrame(now)
	a.NextFrame(now)
	frameB := b.NextFrame(now)

	require.Equal(t, uint64(1), frameB.Seq, "each session owns its own fallback generator")
}

func TestRunRoutesRawFramesThroughEncoder(t *testing.T) {
	enc := newFakeEncoder()
	s, err := New("test-session", &media.LatestSlot{}, enc, 64, 48, 50)
	require.NoError(t, err)
	t.Cleanup(s.Stop)

	go s.Run()

	// The track is VP8; synthetic rgb24 fallback frames must reach the
	// encoder instead of going onto the wire raw.
	require.Eventually(t, func() bool {
		return enc.count() > 0
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, media.FormatRGB24, enc.frame(0).Format)
	require.Zero(t, s.Stats().Skipped)
}

func TestRunDropsRawFramesWithoutEncoder(t *testing.T) {
	s, err := New("test-session", &media.LatestSlot{}, nil, 64, 48, 50)
	require.NoError(t, err)
	t.Cleanup(s.Stop)

	go s.Run()

	require.Eventually(t, func() bool {
		return s.Stats().Skipped > 0
	}, 2*time.Second, 5*time.Millisecond,
		"un-encodable frames are dropped, never written to the track")
}

func TestSourceStopIdempotent(t *testing.T) {
	s := newTestSource(t, &media.LatestSlot{})
	s.Stop()
	s.Stop()
}

func TestStopClosesEncoder(t *testing.T) {
	enc := newFakeEncoder()
	s, err := New("test-session", &media.LatestSlot{}, enc, 64, 48, 20)
	require.NoError(t, err)

	s.Stop()

	select {
	case _, open := <-enc.units:
		require.False(t, open, "stop must tear the encoder pipeline down")
	default:
		t.Fatal("encoder output should be closed after Stop")
	}
}

func TestSourceRunStopsOnStop(t *testing.T) {
	s := newTestSource(t, &media.LatestSlot{})

	done := make(chan struct{})
	go func() {
		s.Run()
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	s.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run must return once Stop is called")
	}
}
