// Package devicewriter streams inbound frames to a virtual camera
// device through a managed external subprocess. The subprocess is an
// opaque capability: bytes in, device updated, no return channel beyond
// exit status.
package devicewriter

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"gesture-bridge/internal/logger"
	"gesture-bridge/internal/media"
)

// DefaultMaxRestarts bounds how often a crashed subprocess is
// relaunched before the writer degrades for good.
const DefaultMaxRestarts = 5

// State of the writer's subprocess pump.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateDegraded
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDegraded:
		return "degraded"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

var (
	ErrDeviceUnavailable = errors.New("device path not writable")
	ErrDeviceBusy        = errors.New("device path already has a writer")

	errStopRequested = errors.New("stop requested")
	errDeviceRemoved = errors.New("device node removed")
)

// One writer per device path: two subprocesses must never contend for
// the same v4l2 node. The claim is held until Stop.
var (
	devicesMu     sync.Mutex
	activeDevices = make(map[string]struct{})
)

func claimDevice(device string) error {
	devicesMu.Lock()
	defer devicesMu.Unlock()
	if _, taken := activeDevices[device]; taken {
		return ErrDeviceBusy
	}
	activeDevices[device] = struct{}{}
	return nil
}

func releaseDevice(device string) {
	devicesMu.Lock()
	delete(activeDevices, device)
	devicesMu.Unlock()
}

// Process is one running subprocess incarnation.
type Process interface {
	Stdin() io.Writer
	Wait() error
	Kill() error
}

// Runner launches subprocess incarnations; swappable so tests never
// spawn a real encoder.
type Runner interface {
	Start(device string) (Process, error)
}

// Stats is a snapshot of the writer's counters.
type Stats struct {
	Written   uint64
	Discarded uint64
	Restarts  uint64
	State     State
}

// Writer owns one subprocess bound to one device path. Frames are
// handed off through a latest-frame-wins slot: a saturated subprocess
// drops the oldest unsent frame in favor of the newest. A crashed
// subprocess is restarted with backoff up to maxRestarts times, after
// which the writer is degraded and silently discards frames.
type Writer struct {
	log         *logrus.Entry
	device      string
	runner      Runner
	maxRestarts int

	in     media.LatestSlot
	notify chan struct{}
	stopCh chan struct{}

	stopOnce sync.Once
	state    atomic.Int32
	watcher  *fsnotify.Watcher

	written   atomic.Uint64
	discarded atomic.Uint64
	restarts  atomic.Uint64
}

// New verifies the device path is writable, claims it and starts the
// subprocess pump. When the device cannot be opened, or another writer
// already holds the path, the writer is never created and the caller
// proceeds without the capability.
func New(device string, runner Runner, maxRestarts int) (*Writer, error) {
	f, err := os.OpenFile(device, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	_ = f.Close()

	if err := claimDevice(device); err != nil {
		return nil, err
	}

	if maxRestarts <= 0 {
		maxRestarts = DefaultMaxRestarts
	}

	w := &Writer{
		log:         logger.Logger.WithField("operator", "device-writer").WithField("device", device),
		device:      device,
		runner:      runner,
		maxRestarts: maxRestarts,
		notify:      make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
	}

	// Watch the device node so removal degrades the writer instead of
	// burning the restart budget against a missing device.
	if watcher, err := fsnotify.NewWatcher(); err == nil {
		if err := watcher.Add(filepath.Dir(device)); err == nil {
			w.watcher = watcher
		} else {
			_ = watcher.Close()
			w.log.WithError(err).Warn("Device watch unavailable")
		}
	}

	go w.run()
	return w, nil
}

// Write hands a frame to the subprocess pump. It never blocks and
// never fails the caller: frames sent to a degraded or stopped writer
// are discarded and counted.
func (w *Writer) Write(f *media.Frame) error {
	if State(w.state.Load()) != StateRunning {
		w.discarded.Add(1)
		return nil
	}

	w.in.Put(f)
	select {
	case w.notify <- struct{}{}:
	default:
	}
	return nil
}

// Stop terminates the pump and subprocess. Idempotent.
func (w *Writer) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		if w.watcher != nil {
			_ = w.watcher.Close()
		}
		releaseDevice(w.device)
	})
}

// State returns the writer's current state.
func (w *Writer) State() State {
	return State(w.state.Load())
}

// Stats returns a snapshot of the writer's counters.
func (w *Writer) Stats() Stats {
	return Stats{
		Written:   w.written.Load(),
		Discarded: w.discarded.Load(),
		Restarts:  w.restarts.Load(),
		State:     w.State(),
	}
}

func (w *Writer) run() {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 5 * time.Second

	attempts := 0
	for {
		select {
		case <-w.stopCh:
			w.state.Store(int32(StateStopped))
			return
		default:
		}

		proc, err := w.runner.Start(w.device)
		if err != nil {
			w.log.WithError(err).Warn("Subprocess start failed")
			attempts++
			if attempts > w.maxRestarts {
				w.degrade()
				return
			}
			if !w.sleep(bo.NextBackOff()) {
				return
			}
			continue
		}

		w.state.Store(int32(StateRunning))
		w.log.Info("Subprocess started")

		err = w.pump(proc)
		_ = proc.Kill()

		switch {
		case errors.Is(err, errStopRequested):
			w.state.Store(int32(StateStopped))
			return
		case errors.Is(err, errDeviceRemoved):
			w.log.Warn("Device node removed, degrading")
			w.degrade()
			return
		}

		w.log.WithError(err).Warn("Subprocess ended unexpectedly")
		w.restarts.Add(1)
		attempts++
		if attempts > w.maxRestarts {
			w.degrade()
			return
		}
		w.state.Store(int32(StateStarting))
		if !w.sleep(bo.NextBackOff()) {
			return
		}
	}
}

// pump drains the frame slot into the subprocess until it exits, stop
// is requested or the device node disappears.
func (w *Writer) pump(proc Process) error {
	exited := make(chan error, 1)
	go func() {
		exited <- proc.Wait()
	}()

	var events chan fsnotify.Event
	if w.watcher != nil {
		events = w.watcher.Events
	}

	stdin := proc.Stdin()
	for {
		select {
		case <-w.stopCh:
			return errStopRequested
		case err := <-exited:
			return fmt.Errorf("subprocess exited: %w", err)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Name == w.device && ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				return errDeviceRemoved
			}
		case <-w.notify:
			for {
				frame, ok := w.in.Take()
				if !ok {
					break
				}
				if _, err := stdin.Write(frame.Payload); err != nil {
					return fmt.Errorf("writing frame to subprocess: %w", err)
				}
				w.written.Add(1)
			}
		}
	}
}

func (w *Writer) degrade() {
	w.state.Store(int32(StateDegraded))
	w.log.WithField("restarts", w.restarts.Load()).Warn("Device writer degraded, discarding frames")
}

// sleep waits for d unless stop arrives first.
func (w *Writer) sleep(d time.Duration) bool {
	select {
	case <-w.stopCh:
		w.state.Store(int32(StateStopped))
		return false
	case <-time.After(d):
		return true
	}
}
