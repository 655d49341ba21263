package media

import (
	"time"
)

// SyntheticGenerator produces deterministic rgb24 fallback frames: a
// slowly moving color gradient with the sequence number and timestamp
// stamped into the top rows as a bit strip. Each Session's outbound
// source owns its own generator, so fallback is per-Session.
type SyntheticGenerator struct {
	width  int
	height int
	start  time.Time
	seq    uint64
	grad   []uint8
}

// NewSyntheticGenerator returns a generator anchored at start; frames
// produced for the same (start, now, seq) triple are byte-identical.
func NewSyntheticGenerator(width, height int, start time.Time) *SyntheticGenerator {
	grad := make([]uint8, width)
	for x := 0; x < width; x++ {
		if width > 1 {
			grad[x] = uint8(x * 255 / (width - 1))
		}
	}
	return &SyntheticGenerator{
		width:  width,
		height: height,
		start:  start,
		grad:   grad,
	}
}

// Next renders the pattern for the given instant and advances the
// generator's sequence counter.
func (g *SyntheticGenerator) Next(now time.Time) *Frame {
	t := now.Sub(g.start).Seconds()
	w, h := g.width, g.height

	shiftR := int(t * 50)
	shiftG := int(t * 10)
	shiftB := int(t * 20)

	buf := make([]byte, w*h*3)
	row := make([]byte, w*3)
	for x := 0; x < w; x++ {
		row[x*3] = uint8(int(g.grad[x]) + shiftR)
		row[x*3+1] = g.grad[mod(x+shiftG, w)]
		row[x*3+2] = g.grad[mod(x-shiftB, w)]
	}
	for y := 0; y < h; y++ {
		copy(buf[y*w*3:], row)
	}

	g.seq++
	stampBits(buf, w, h, 0, g.seq)
	stampBits(buf, w, h, 1, uint64(now.UnixMilli()))

	return &Frame{
		Width:      w,
		Height:     h,
		Format:     FormatRGB24,
		Seq:        g.seq,
		ReceivedAt: now,
		Payload:    buf,
	}
}

// stampBits overlays value as 64 black/white cells on one stripe of
// rows, most significant bit first. Stands in for the text overlay of
// a real renderer while staying deterministic.
func stampBits(buf []byte, w, h, stripe int, value uint64) {
	const cell = 4
	y0 := stripe * cell
	if y0+cell > h || 64*cell > w {
		return
	}
	for bit := 0; bit < 64; bit++ {
		var v byte
		if value&(1<<(63-bit)) != 0 {
			v = 0xff
		}
		for dy := 0; dy < cell; dy++ {
			for dx := 0; dx < cell; dx++ {
				off := ((y0+dy)*w + bit*cell + dx) * 3
				buf[off] = v
				buf[off+1] = v
				buf[off+2] = v
			}
		}
	}
}

func mod(v, m int) int {
	v %= m
	if v < 0 {
		v += m
	}
	return v
}
