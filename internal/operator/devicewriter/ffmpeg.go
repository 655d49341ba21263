package devicewriter

import (
	"io"
	"os/exec"

	"gesture-bridge/internal/media"
)

// FFmpegRunner launches ffmpeg decoding an IVF-wrapped VP8 stream on
// stdin to a v4l2 device. The sink delivers encoded VP8 access units,
// so the process's Stdin frames each write as one IVF frame; the
// writer itself only sees Process.
type FFmpegRunner struct {
	Path   string // ffmpeg binary, defaults to "ffmpeg"
	Width  int
	Height int
	FPS    int
}

func (r FFmpegRunner) Start(device string) (Process, error) {
	path := r.Path
	if path == "" {
		path = "ffmpeg"
	}

	cmd := exec.Command(path,
		"-y",
		"-f", "ivf",
		"-i", "-",
		"-pix_fmt", "yuv420p",
		"-f", "v4l2",
		device,
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	return &ffmpegProcess{
		cmd:   cmd,
		pipe:  stdin,
		stdin: &ivfStdin{w: stdin, width: r.Width, height: r.Height, fps: r.FPS},
	}, nil
}

type ffmpegProcess struct {
	cmd   *exec.Cmd
	pipe  io.WriteCloser
	stdin *ivfStdin
}

func (p *ffmpegProcess) Stdin() io.Writer {
	return p.stdin
}

func (p *ffmpegProcess) Wait() error {
	return p.cmd.Wait()
}

func (p *ffmpegProcess) Kill() error {
	_ = p.pipe.Close()
	if p.cmd.Process != nil {
		return p.cmd.Process.Kill()
	}
	return nil
}

// ivfStdin frames each Write as one IVF frame, emitting the stream
// header ahead of the first. Only the pump goroutine writes.
type ivfStdin struct {
	w      io.Writer
	width  int
	height int
	fps    int

	started bool
	pts     uint64
}

func (s *ivfStdin) Write(b []byte) (int, error) {
	if !s.started {
		if err := media.WriteIVFFileHeader(s.w, s.width, s.height, s.fps); err != nil {
			return 0, err
		}
		s.started = true
	}
	if err := media.WriteIVFFrame(s.w, b, s.pts); err != nil {
		return 0, err
	}
	s.pts++
	return len(b), nil
}
