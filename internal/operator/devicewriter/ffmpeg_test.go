package devicewriter

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"gesture-bridge/internal/media"
)

func TestIVFStdinFramesEachWrite(t *testing.T) {
	var buf bytes.Buffer
	stdin := &ivfStdin{w: &buf, width: 640, height: 480, fps: 20}

	n, err := stdin.Write([]byte("access-unit-1"))
	require.NoError(t, err)
	require.Equal(t, len("access-unit-1"), n)

	_, err = stdin.Write([]byte("access-unit-2"))
	require.NoError(t, err)

	// The subprocess must see a valid IVF stream: one header, then the
	// encoded units in order with increasing timestamps.
	require.NoError(t, media.ReadIVFFileHeader(&buf))

	payload, pts, err := media.ReadIVFFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, []byte("access-unit-1"), payload)
	require.Equal(t, uint64(0), pts)

	payload, pts, err = media.ReadIVFFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, []byte("access-unit-2"), payload)
	require.Equal(t, uint64(1), pts)

	require.Zero(t, buf.Len(), "no trailing bytes between frames")
}
