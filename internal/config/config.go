package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/genricoloni/mediapanel/internal/domain"
	"github.com/hyp3rd/ewrap"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix = "MEDIAPANEL"
	// ConfigEnv names the environment variable holding an optional YAML config path
	ConfigEnv = envPrefix + "_CONFIG"

	defaultOutputDir   = "/tmp/mediapanel"
	defaultMode        = ModeSnapshot
	defaultTopicPrefix = "hass.agent/media_player"
	defaultDevice      = "desktop"
)

// Output modes of the panel
const (
	ModeSnapshot = "snapshot"
	ModeTerminal = "terminal"
	ModeBoth     = "both"
)

// MQTTConfig holds the broker connection settings
type MQTTConfig struct {
	Broker   string `mapstructure:"broker" yaml:"broker"`
	ClientID string `mapstructure:"client_id" yaml:"client_id"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	TLS      bool   `mapstructure:"tls" yaml:"tls"`
	// FragmentSize is the receive buffer size; larger messages are delivered in fragments
	FragmentSize int `mapstructure:"fragment_size" yaml:"fragment_size"`
}

// TopicsConfig names the feed channels. Empty topics are derived from Prefix and Device.
type TopicsConfig struct {
	Prefix      string `mapstructure:"prefix" yaml:"prefix"`
	Device      string `mapstructure:"device" yaml:"device"`
	State       string `mapstructure:"state" yaml:"state"`
	Image       string `mapstructure:"image" yaml:"image"`
	Command     string `mapstructure:"command" yaml:"command"`
	SourceImage string `mapstructure:"source_image" yaml:"source_image"`
}

// EngineConfig sizes the reassembly buffer
type EngineConfig struct {
	BufferCapacity int `mapstructure:"buffer_capacity" yaml:"buffer_capacity"`
}

// DecoderConfig bounds decoder memory. MaxImageBytes covers the RGB565
// destination plus the codec working set reported in the header.
type DecoderConfig struct {
	MaxImageBytes int `mapstructure:"max_image_bytes" yaml:"max_image_bytes"`
	BandRows      int `mapstructure:"band_rows" yaml:"band_rows"`
}

// RenderConfig tunes the render handoff and loop
type RenderConfig struct {
	LockTimeout time.Duration `mapstructure:"lock_timeout" yaml:"lock_timeout"`
	MinDelay    time.Duration `mapstructure:"min_delay" yaml:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
}

// PanelConfig describes the display geometry
type PanelConfig struct {
	Width         int `mapstructure:"width" yaml:"width"`
	Height        int `mapstructure:"height" yaml:"height"`
	TitleMaxChars int `mapstructure:"title_max_chars" yaml:"title_max_chars"`
}

// OutputConfig selects where rendered frames go
type OutputConfig struct {
	Dir  string `mapstructure:"dir" yaml:"dir"`
	Mode string `mapstructure:"mode" yaml:"mode"`
}

// BridgeConfig tunes the host-side publisher
type BridgeConfig struct {
	Debounce         time.Duration `mapstructure:"debounce" yaml:"debounce"`
	ThumbnailSize    int           `mapstructure:"thumbnail_size" yaml:"thumbnail_size"`
	JPEGQuality      int           `mapstructure:"jpeg_quality" yaml:"jpeg_quality"`
	PositionInterval time.Duration `mapstructure:"position_interval" yaml:"position_interval"`
}

// Compile-time interface check.
var _ domain.Config = (*AppConfig)(nil)

// AppConfig holds application configuration
type AppConfig struct {
	MQTT    MQTTConfig    `mapstructure:"mqtt" yaml:"mqtt"`
	Topics  TopicsConfig  `mapstructure:"topics" yaml:"topics"`
	Engine  EngineConfig  `mapstructure:"engine" yaml:"engine"`
	Decoder DecoderConfig `mapstructure:"decoder" yaml:"decoder"`
	Render  RenderConfig  `mapstructure:"render" yaml:"render"`
	Panel   PanelConfig   `mapstructure:"panel" yaml:"panel"`
	Output  OutputConfig  `mapstructure:"output" yaml:"output"`
	Bridge  BridgeConfig  `mapstructure:"bridge" yaml:"bridge"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.tls", false)
	v.SetDefault("mqtt.fragment_size", 4096)

	v.SetDefault("topics.prefix", defaultTopicPrefix)
	v.SetDefault("topics.device", defaultDevice)
	v.SetDefault("topics.state", "")
	v.SetDefault("topics.image", "")
	v.SetDefault("topics.command", "")
	v.SetDefault("topics.source_image", "")

	// 64x64 to 170x170 JPEG thumbnails typically stay well under this
	v.SetDefault("engine.buffer_capacity", 20*1024)

	v.SetDefault("decoder.max_image_bytes", 512*1024)
	v.SetDefault("decoder.band_rows", 16)

	v.SetDefault("render.lock_timeout", time.Second)
	v.SetDefault("render.min_delay", time.Millisecond)
	v.SetDefault("render.max_delay", 500*time.Millisecond)

	v.SetDefault("panel.width", 320)
	v.SetDefault("panel.height", 170)
	v.SetDefault("panel.title_max_chars", 25)

	v.SetDefault("output.dir", defaultOutputDir)
	v.SetDefault("output.mode", defaultMode)

	v.SetDefault("bridge.debounce", 500*time.Millisecond)
	v.SetDefault("bridge.thumbnail_size", 170)
	v.SetDefault("bridge.jpeg_quality", 85)
	v.SetDefault("bridge.position_interval", time.Second)
}

// Load reads defaults, an optional YAML file and MEDIAPANEL_* environment overrides.
// An empty path falls back to the MEDIAPANEL_CONFIG environment variable.
func Load(path string, logger *zap.Logger) (*AppConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(ConfigEnv)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, ewrap.Wrap(err, "failed to read configuration file").
				WithMetadata("path", path)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, ewrap.Wrap(err, "failed to decode configuration")
	}

	cfg.Topics.resolve()
	cfg.Output.Dir = expandPath(cfg.Output.Dir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Info("Configuration loaded",
		zap.String("broker", cfg.MQTT.Broker),
		zap.String("stateTopic", cfg.Topics.State),
		zap.String("imageTopic", cfg.Topics.Image),
		zap.String("commandTopic", cfg.Topics.Command),
		zap.Int("bufferCapacity", cfg.Engine.BufferCapacity),
		zap.String("outputDir", cfg.Output.Dir),
		zap.String("mode", cfg.Output.Mode))

	return &cfg, nil
}

// resolve fills unset topics from the HASS.Agent style prefix/device layout
func (t *TopicsConfig) resolve() {
	base := strings.TrimSuffix(t.Prefix, "/") + "/" + t.Device
	if t.State == "" {
		t.State = base + "/state"
	}
	if t.Image == "" {
		t.Image = base + "/thumbnail_small"
	}
	if t.Command == "" {
		t.Command = base + "/cmd"
	}
	if t.SourceImage == "" {
		t.SourceImage = base + "/thumbnail"
	}
}

// Validate rejects settings the engine cannot run with
func (c *AppConfig) Validate() error {
	switch {
	case c.MQTT.Broker == "":
		return ewrap.New("mqtt broker cannot be empty")
	case c.MQTT.FragmentSize <= 0:
		return ewrap.New("mqtt fragment size must be positive").
			WithMetadata("fragment_size", c.MQTT.FragmentSize)
	case c.Engine.BufferCapacity <= 0:
		return ewrap.New("reassembly buffer capacity must be positive").
			WithMetadata("buffer_capacity", c.Engine.BufferCapacity)
	case c.Decoder.MaxImageBytes <= 0 || c.Decoder.BandRows <= 0:
		return ewrap.New("decoder limits must be positive")
	case c.Panel.Width <= 0 || c.Panel.Height <= 0:
		return ewrap.New("panel geometry must be positive")
	case c.Render.MinDelay <= 0 || c.Render.MaxDelay < c.Render.MinDelay:
		return ewrap.New("render delays must satisfy 0 < min_delay <= max_delay")
	case c.Bridge.JPEGQuality < 1 || c.Bridge.JPEGQuality > 100:
		return ewrap.New("jpeg quality must be within 1..100").
			WithMetadata("jpeg_quality", c.Bridge.JPEGQuality)
	case c.Bridge.ThumbnailSize <= 0:
		return ewrap.New("thumbnail size must be positive")
	}

	switch c.Output.Mode {
	case ModeSnapshot, ModeTerminal, ModeBoth:
	default:
		return ewrap.New("invalid output mode: " + c.Output.Mode)
	}
	return nil
}

// expandPath expands environment variables and a leading ~
func expandPath(p string) string {
	p = os.ExpandEnv(p)
	if len(p) > 0 && p[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			p = filepath.Join(home, p[1:])
		}
	}
	return p
}

// YAML renders the effective configuration with the password redacted
func (c *AppConfig) YAML() ([]byte, error) {
	redacted := *c
	if redacted.MQTT.Password != "" {
		redacted.MQTT.Password = "********"
	}
	out, err := yaml.Marshal(&redacted)
	if err != nil {
		return nil, ewrap.Wrap(err, "failed to encode configuration")
	}
	return out, nil
}

// GetMode returns the panel output mode
func (c *AppConfig) GetMode() string {
	return c.Output.Mode
}

// GetOutputDir returns the directory for rendered frames
func (c *AppConfig) GetOutputDir() string {
	return c.Output.Dir
}
