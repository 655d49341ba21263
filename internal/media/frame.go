// Package media defines the frame types that flow through the bridge,
// from gateway ingestion through track delivery and device write-back.
package media

import (
	"sync"
	"time"
)

// Format tags the encoding of a Frame's payload bytes.
type Format uint8

const (
	FormatRGB24 Format = iota + 1
	FormatJPEG
	FormatVP8
	FormatH264
)

func (f Format) String() string {
	switch f {
	case FormatRGB24:
		return "rgb24"
	case FormatJPEG:
		return "jpeg"
	case FormatVP8:
		return "vp8"
	case FormatH264:
		return "h264"
	}
	return "unknown"
}

// Valid reports whether f is one of the known format tags.
func (f Format) Valid() bool {
	return f >= FormatRGB24 && f <= FormatH264
}

// Frame is one image buffer with its sequence number and arrival time.
// A Frame is immutable once published; consumers hold read-only
// references and must not modify Payload.
type Frame struct {
	Width      int
	Height     int
	Format     Format
	Seq        uint64
	ReceivedAt time.Time
	Payload    []byte
}

// LatestSlot is a single-frame handoff cell with latest-frame-wins
// semantics: Put replaces any unconsumed frame and never blocks the
// producer, Take removes the stored frame if any.
type LatestSlot struct {
	mu      sync.Mutex
	frame   *Frame
	dropped uint64
}

// Put stores f, replacing and counting any frame that was never taken.
func (s *LatestSlot) Put(f *Frame) {
	s.mu.Lock()
	if s.frame != nil {
		s.dropped++
	}
	s.frame = f
	s.mu.Unlock()
}

// Take removes and returns the stored frame, if any.
func (s *LatestSlot) Take() (*Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame == nil {
		return nil, false
	}
	f := s.frame
	s.frame = nil
	return f, true
}

// Clear discards the stored frame without counting it as dropped.
// Used when a producer goes away and stale frames must not linger.
func (s *LatestSlot) Clear() {
	s.mu.Lock()
	s.frame = nil
	s.mu.Unlock()
}

// Dropped returns how many frames were replaced before being taken.
func (s *LatestSlot) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
