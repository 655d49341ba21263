package media

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Frame record wire layout, one record per gateway message. Every record
// is self-describing; no state is carried between records beyond the
// per-connection sequence check.
//
//	offset 0   4 bytes  magic "GBF1"
//	offset 4   4 bytes  width, big endian
//	offset 8   4 bytes  height, big endian
//	offset 12  1 byte   format tag
//	offset 13  3 bytes  reserved, zero
//	offset 16  8 bytes  sequence number, big endian
//	offset 24  4 bytes  payload length, big endian
//	offset 28  N bytes  payload
const (
	HeaderSize = 28

	// MaxDimension bounds declared width/height so a corrupt header
	// cannot drive a huge allocation downstream.
	MaxDimension = 8192

	// MaxPayloadSize matches the 64 MiB message cap of the gateway.
	MaxPayloadSize = 64 << 20
)

var wireMagic = [4]byte{'G', 'B', 'F', '1'}

var (
	ErrShortRecord   = errors.New("frame record shorter than header")
	ErrBadMagic      = errors.New("frame record has wrong magic")
	ErrBadFormat     = errors.New("frame record has unknown format tag")
	ErrBadDimensions = errors.New("frame record dimensions out of range")
	ErrPayloadSize   = errors.New("frame record payload length mismatch")
)

// EncodeFrame serializes f into a single wire record.
func EncodeFrame(f *Frame) []byte {
	buf := make([]byte, HeaderSize+len(f.Payload))
	copy(buf[0:4], wireMagic[:])
	binary.BigEndian.PutUint32(buf[4:8], uint32(f.Width))
	binary.BigEndian.PutUint32(buf[8:12], uint32(f.Height))
	buf[12] = byte(f.Format)
	binary.BigEndian.PutUint64(buf[16:24], f.Seq)
	binary.BigEndian.PutUint32(buf[24:28], uint32(len(f.Payload)))
	copy(buf[HeaderSize:], f.Payload)
	return buf
}

// DecodeFrame parses one wire record. The returned Frame references a
// copy of the payload, so the input buffer may be reused by the caller.
func DecodeFrame(b []byte) (*Frame, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortRecord, len(b))
	}
	if [4]byte(b[0:4]) != wireMagic {
		return nil, ErrBadMagic
	}

	width := binary.BigEndian.Uint32(b[4:8])
	height := binary.BigEndian.Uint32(b[8:12])
	format := Format(b[12])
	seq := binary.BigEndian.Uint64(b[16:24])
	payloadLen := binary.BigEndian.Uint32(b[24:28])

	if !format.Valid() {
		return nil, fmt.Errorf("%w: tag %d", ErrBadFormat, b[12])
	}
	if width == 0 || height == 0 || width > MaxDimension || height > MaxDimension {
		return nil, fmt.Errorf("%w: %dx%d", ErrBadDimensions, width, height)
	}
	if payloadLen > MaxPayloadSize || int(payloadLen) != len(b)-HeaderSize {
		return nil, fmt.Errorf("%w: declared %d, have %d", ErrPayloadSize, payloadLen, len(b)-HeaderSize)
	}

	payload := make([]byte, payloadLen)
	copy(payload, b[HeaderSize:])

	return &Frame{
		Width:   int(width),
		Height:  int(height),
		Format:  format,
		Seq:     seq,
		Payload: payload,
	}, nil
}
