package source

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/sirupsen/logrus"

	"gesture-bridge/internal/logger"
	"gesture-bridge/internal/media"
)

// ErrUnencodableFrame is returned for frames the pipeline cannot take:
// anything that is not raw rgb24 at the configured dimensions.
var ErrUnencodableFrame = errors.New("frame does not match the encoder input")

// FFmpegEncoder compresses raw rgb24 frames to VP8 through an ffmpeg
// pipeline: raw frames in on stdin, an IVF stream out on stdout. One
// encoder serves one session's outbound track.
type FFmpegEncoder struct {
	log    *logrus.Entry
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	units  chan []byte
	width  int
	height int

	closeOnce sync.Once
}

// NewFFmpegEncoder starts the pipeline. path defaults to "ffmpeg".
func NewFFmpegEncoder(path string, width, height, fps int) (*FFmpegEncoder, error) {
	if path == "" {
		path = "ffmpeg"
	}

	cmd := exec.Command(path,
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", fmt.Sprintf("%d", fps),
		"-i", "-",
		"-c:v", "libvpx",
		"-deadline", "realtime",
		"-cpu-used", "4",
		"-f", "ivf",
		"-",
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	e := &FFmpegEncoder{
		log:    logger.Logger.WithField("operator", "encoder"),
		cmd:    cmd,
		stdin:  stdin,
		units:  make(chan []byte, 1),
		width:  width,
		height: height,
	}
	go e.readUnits(stdout)
	return e, nil
}

func (e *FFmpegEncoder) Encode(f *media.Frame) error {
	if f.Format != media.FormatRGB24 || len(f.Payload) != e.width*e.height*3 {
		return fmt.Errorf("%w: format %s, %d bytes", ErrUnencodableFrame, f.Format, len(f.Payload))
	}
	_, err := e.stdin.Write(f.Payload)
	return err
}

func (e *FFmpegEncoder) Units() <-chan []byte {
	return e.units
}

// readUnits parses the IVF stream, keeping only the newest unit when
// the track pacer lags behind the encoder.
func (e *FFmpegEncoder) readUnits(r io.Reader) {
	defer close(e.units)

	br := bufio.NewReader(r)
	if err := media.ReadIVFFileHeader(br); err != nil {
		e.log.WithError(err).Warn("Encoder output ended before the stream header")
		return
	}

	for {
		unit, _, err := media.ReadIVFFrame(br)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				e.log.WithError(err).Warn("Encoder output ended")
			}
			return
		}
		select {
		case e.units <- unit:
		default:
			select {
			case <-e.units:
			default:
			}
			select {
			case e.units <- unit:
			default:
			}
		}
	}
}

// Close tears the pipeline down; the output channel closes once the
// reader drains. Idempotent.
func (e *FFmpegEncoder) Close() error {
	e.closeOnce.Do(func() {
		_ = e.stdin.Close()
		if e.cmd.Process != nil {
			_ = e.cmd.Process.Kill()
		}
		go func() { _ = e.cmd.Wait() }()
	})
	return nil
}
