package media

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIVFStreamRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteIVFFileHeader(&buf, 640, 480, 20))
	require.NoError(t, WriteIVFFrame(&buf, []byte("unit-a"), 0))
	require.NoError(t, WriteIVFFrame(&buf, []byte("unit-b"), 1))

	require.NoError(t, ReadIVFFileHeader(&buf))

	payload, pts, err := ReadIVFFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, []byte("unit-a"), payload)
	require.Equal(t, uint64(0), pts)

	payload, pts, err = ReadIVFFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, []byte("unit-b"), payload)
	require.Equal(t, uint64(1), pts)
}

func TestReadIVFFileHeaderRejectsWrongMagic(t *testing.T) {
	junk := bytes.Repeat([]byte{0xab}, 32)
	err := ReadIVFFileHeader(bytes.NewReader(junk))
	require.ErrorIs(t, err, ErrBadIVFHeader)
}
