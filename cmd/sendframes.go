package cmd

import (
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"gesture-bridge/internal/logger"
	"gesture-bridge/internal/media"
	"gesture-bridge/internal/operator/gateway"
)

var sendFramesConfig = SendFramesConfig{}

type SendFramesConfig struct {
	GatewayAddress string
	Width          int
	Height         int
	FPS            int
	Count          int
}

// sendFramesCmd represents the sendframes command
var sendFramesCmd = &cobra.Command{
	Use:   "sendframes",
	Short: "Pushes synthetic frames into a running bridge's frame gateway",
	Long: `Connects to the frame ingestion gateway the way the host application does
and streams the deterministic test pattern at a fixed rate. Useful for
checking by hand that the gateway, the hub and the outbound tracks are
wired up before the real frame producer exists.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSendFrames(sendFramesConfig)
	},
}

func init() {
	rootCmd.AddCommand(sendFramesCmd)

	sendFramesCmd.Flags().StringVar(&sendFramesConfig.GatewayAddress, "gateway_address", "127.0.0.1:8090", "host:port of the frame gateway")
	sendFramesCmd.Flags().IntVar(&sendFramesConfig.Width, "width", 640, "frame width")
	sendFramesCmd.Flags().IntVar(&sendFramesConfig.Height, "height", 480, "frame height")
	sendFramesCmd.Flags().IntVar(&sendFramesConfig.FPS, "fps", 20, "frames per second")
	sendFramesCmd.Flags().IntVar(&sendFramesConfig.Count, "count", 0, "number of frames to send, 0 for unlimited")
}

func runSendFrames(cfg SendFramesConfig) error {
	target := url.URL{Scheme: "ws", Host: cfg.GatewayAddress, Path: gateway.FramepipePath}

	conn, _, err := websocket.DefaultDialer.Dial(target.String(), nil)
	if err != nil {
		return fmt.Errorf("connecting to gateway: %w", err)
	}
	defer conn.Close()

	logger.Logger.WithField("url", target.String()).Info("Connected to frame gateway")

	generator := media.NewSyntheticGenerator(cfg.Width, cfg.Height, time.Now())
	ticker := time.NewTicker(time.Second / time.Duration(cfg.FPS))
	defer ticker.Stop()

	sent := 0
	for now := range ticker.C {
		frame := generator.Next(now)
		if err := conn.WriteMessage(websocket.BinaryMessage, media.EncodeFrame(frame)); err != nil {
			return fmt.Errorf("sending frame %d: %w", frame.Seq, err)
		}

		sent++
		if sent%100 == 0 {
			logger.Logger.WithField("sent", sent).Info("Frames pushed")
		}
		if cfg.Count > 0 && sent >= cfg.Count {
			break
		}
	}

	logger.Logger.WithField("sent", sent).Info("Frame push finished")
	return nil
}
