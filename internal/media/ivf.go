package media

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// IVF is the container ffmpeg speaks for VP8 streams on a pipe: a
// 32-byte stream header followed by length-prefixed access units. Both
// the device writer (feeding ffmpeg) and the outbound encoder (reading
// ffmpeg) use it, so the helpers live here.
const (
	ivfFileHeaderSize  = 32
	ivfFrameHeaderSize = 12
)

var ErrBadIVFHeader = errors.New("bad ivf stream header")

// WriteIVFFileHeader emits the stream preamble for a VP8 sequence of
// the given dimensions and rate.
func WriteIVFFileHeader(w io.Writer, width, height, fps int) error {
	var h [ivfFileHeaderSize]byte
	copy(h[0:4], "DKIF")
	binary.LittleEndian.PutUint16(h[6:8], ivfFileHeaderSize)
	copy(h[8:12], "VP80")
	binary.LittleEndian.PutUint16(h[12:14], uint16(width))
	binary.LittleEndian.PutUint16(h[14:16], uint16(height))
	binary.LittleEndian.PutUint32(h[16:20], uint32(fps))
	binary.LittleEndian.PutUint32(h[20:24], 1)
	_, err := w.Write(h[:])
	return err
}

// WriteIVFFrame emits one access unit prefixed with its frame header.
func WriteIVFFrame(w io.Writer, payload []byte, pts uint64) error {
	var h [ivfFrameHeaderSize]byte
	binary.LittleEndian.PutUint32(h[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint64(h[4:12], pts)
	if _, err := w.Write(h[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadIVFFileHeader consumes and validates the stream preamble.
func ReadIVFFileHeader(r io.Reader) error {
	var h [ivfFileHeaderSize]byte
	if _, err := io.ReadFull(r, h[:]); err != nil {
		return err
	}
	if string(h[0:4]) != "DKIF" {
		return fmt.Errorf("%w: magic %q", ErrBadIVFHeader, h[0:4])
	}
	return nil
}

// ReadIVFFrame returns the next access unit and its timestamp.
func ReadIVFFrame(r io.Reader) ([]byte, uint64, error) {
	var h [ivfFrameHeaderSize]byte
	if _, err := io.ReadFull(r, h[:]); err != nil {
		return nil, 0, err
	}
	size := binary.LittleEndian.Uint32(h[0:4])
	if size > MaxPayloadSize {
		return nil, 0, fmt.Errorf("%w: frame of %d bytes", ErrBadIVFHeader, size)
	}
	pts := binary.LittleEndian.Uint64(h[4:12])
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, 0, err
	}
	return payload, pts, nil
}
