package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// BridgeConfig carries every externally injected value the bridge needs:
// bind addresses, the frame-gateway trust policy, the optional virtual
// camera device and the address of the local command consumer.
type BridgeConfig struct {
	SignalingBind string
	GatewayBind   string
	GatewayTrust  []string

	DevicePath      string
	ConsumerAddress string

	STUNServer  string
	VideoWidth  int
	VideoHeight int
	VideoFPS    int
}

// Load reads configuration from defaults, an optional bridge.yaml and
// BRIDGE_* environment variables, in increasing order of precedence.
func Load() (*BridgeConfig, error) {
	v := viper.New()

	v.SetDefault("signaling.bind", ":8080")
	v.SetDefault("gateway.bind", "127.0.0.1:8090")
	v.SetDefault("gateway.trust", []string{})
	v.SetDefault("device.path", "")
	v.SetDefault("consumer.address", "127.0.0.1:5001")
	v.SetDefault("stun.server", "stun:stun.l.google.com:19302")
	v.SetDefault("video.width", 640)
	v.SetDefault("video.height", 480)
	v.SetDefault("video.fps", 20)

	v.SetEnvPrefix("BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("bridge")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/gesture-bridge")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	cfg := &BridgeConfig{
		SignalingBind:   v.GetString("signaling.bind"),
		GatewayBind:     v.GetString("gateway.bind"),
		GatewayTrust:    v.GetStringSlice("gateway.trust"),
		DevicePath:      v.GetString("device.path"),
		ConsumerAddress: v.GetString("consumer.address"),
		STUNServer:      v.GetString("stun.server"),
		VideoWidth:      v.GetInt("video.width"),
		VideoHeight:     v.GetInt("video.height"),
		VideoFPS:        v.GetInt("video.fps"),
	}

	if cfg.VideoWidth <= 0 || cfg.VideoHeight <= 0 || cfg.VideoFPS <= 0 {
		return nil, fmt.Errorf("video dimensions and fps must be positive, got %vx%v@%v",
			cfg.VideoWidth, cfg.VideoHeight, cfg.VideoFPS)
	}

	return cfg, nil
}
