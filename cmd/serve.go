package cmd

import (
	"context"
	"errors"
	"net/http"
	ossignal "os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"gesture-bridge/config"
	"gesture-bridge/internal/logger"
	"gesture-bridge/internal/operator/devicewriter"
	"gesture-bridge/internal/operator/gateway"
	"gesture-bridge/internal/operator/session"
	"gesture-bridge/internal/operator/signal"
	"gesture-bridge/internal/operator/sink"
	"gesture-bridge/internal/operator/source"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Runs the signaling endpoint and the frame ingestion gateway",
	Long: `Starts both listeners of the bridge: the HTTP signaling endpoint browsers
POST their WebRTC offers to, and the loopback-guarded frame gateway the host
application pushes rendered frames into. If a virtual camera device is
configured, inbound webcam frames are streamed to it through ffmpeg.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return runServe(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cfg *config.BridgeConfig) error {
	ctx, stop := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := gateway.NewHub()
	gw, err := gateway.New(cfg.GatewayBind, cfg.GatewayTrust, hub)
	if err != nil {
		return err
	}

	registry := session.NewRegistry()
	endpoint := signal.New(cfg.SignalingBind, registry, session.Config{
		STUNServer:  cfg.STUNServer,
		VideoWidth:  cfg.VideoWidth,
		VideoHeight: cfg.VideoHeight,
		VideoFPS:    cfg.VideoFPS,
		Hub:         hub,
		Writers:     writerFactory(cfg),
		Encoders:    encoderFactory(cfg),
		ControlSink: &session.TCPControlSink{Address: cfg.ConsumerAddress},
	}, signal.DefaultAnswerTimeout)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return endpoint.Run(ctx) })
	g.Go(func() error { return gw.Run(ctx) })

	err = g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, http.ErrServerClosed) {
		logger.Logger.Info("Bridge stopped")
		return nil
	}
	return err
}

// encoderFactory yields per-session outbound encoders so synthetic and
// raw producer frames can ride the VP8 track. A session without an
// encoder drops raw frames instead of sending bytes the browser cannot
// decode.
func encoderFactory(cfg *config.BridgeConfig) session.EncoderFactory {
	return func(sessionID string) source.Encoder {
		enc, err := source.NewFFmpegEncoder("", cfg.VideoWidth, cfg.VideoHeight, cfg.VideoFPS)
		if err != nil {
			logger.Logger.WithError(err).WithField("session", sessionID).
				Warn("Outbound encoder unavailable, raw frames will be dropped")
			return nil
		}
		return enc
	}
}

// writerFactory yields per-session device writers, or nil writers when
// no device is configured, the device is not writable, or another
// session already holds it. v4l2 write-back is an optional capability,
// never required for a session.
func writerFactory(cfg *config.BridgeConfig) session.WriterFactory {
	if cfg.DevicePath == "" {
		return func(string) sink.FrameWriter { return nil }
	}

	runner := devicewriter.FFmpegRunner{
		Width:  cfg.VideoWidth,
		Height: cfg.VideoHeight,
		FPS:    cfg.VideoFPS,
	}

	return func(sessionID string) sink.FrameWriter {
		w, err := devicewriter.New(cfg.DevicePath, runner, devicewriter.DefaultMaxRestarts)
		if err != nil {
			logger.Logger.WithError(err).WithField("session", sessionID).
				Warn("Device writer unavailable, session proceeds without it")
			return nil
		}
		return w
	}
}
