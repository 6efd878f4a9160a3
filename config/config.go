package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/soocke/pixel-cast-go/domain/sender"
)

// EnvPrefix is prepended to every environment override, e.g.
// PIXELCAST_STREAM_NAME.
const EnvPrefix = "PIXELCAST"

// Config holds runtime configuration for the sender and the HTTP surface.
// Fields may be loaded from a JSON file and overridden by environment
// variables or command-line flags.
type Config struct {
	Debug    bool   `json:"debug" mapstructure:"debug"`
	LogLevel string `json:"log_level" mapstructure:"log_level"`

	// Transport
	ListenAddr     string `json:"listen_addr" mapstructure:"listen_addr"`
	Compress       bool   `json:"compress" mapstructure:"compress"`
	WriteTimeoutMs int    `json:"write_timeout_ms" mapstructure:"write_timeout_ms"`

	// Sender
	StreamName     string  `json:"stream_name" mapstructure:"stream_name"`
	KeepAlpha      bool    `json:"keep_alpha" mapstructure:"keep_alpha"`
	RGBAChannel    bool    `json:"rgba_channel" mapstructure:"rgba_channel"`
	SendOnThread   bool    `json:"send_on_thread" mapstructure:"send_on_thread"`
	FetchScreen    bool    `json:"fetch_screen" mapstructure:"fetch_screen"`
	ScreenMaxWidth int     `json:"screen_max_width" mapstructure:"screen_max_width"`
	FrameRate      float64 `json:"frame_rate" mapstructure:"frame_rate"`
	Metadata       string  `json:"metadata" mapstructure:"metadata"`

	// Source is "pattern", "none" or a path to an image file.
	Source       string `json:"source" mapstructure:"source"`
	SourceWidth  int    `json:"source_width" mapstructure:"source_width"`
	SourceHeight int    `json:"source_height" mapstructure:"source_height"`
}

// DefaultConfig returns a Config populated with standard defaults.
func DefaultConfig() *Config {
	return &Config{
		Debug:          false,
		LogLevel:       "info",
		ListenAddr:     ":8765",
		Compress:       false,
		WriteTimeoutMs: 2000,
		StreamName:     "pixel-cast",
		KeepAlpha:      false,
		RGBAChannel:    false,
		SendOnThread:   false,
		FetchScreen:    false,
		ScreenMaxWidth: 1280,
		FrameRate:      30000.0 / 1001.0,
		Source:         "pattern",
		SourceWidth:    640,
		SourceHeight:   360,
	}
}

// Validate clamps/normalizes values to safe ranges.
func (c *Config) Validate() error {
	d := DefaultConfig()
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		c.LogLevel = d.LogLevel
	}
	if c.ListenAddr == "" {
		c.ListenAddr = d.ListenAddr
	}
	if c.WriteTimeoutMs <= 0 {
		c.WriteTimeoutMs = d.WriteTimeoutMs
	}
	c.StreamName = strings.TrimSpace(c.StreamName)
	if c.StreamName == "" {
		c.StreamName = d.StreamName
	}
	if strings.ContainsAny(c.StreamName, "/?#") {
		return fmt.Errorf("config: stream name %q contains reserved characters", c.StreamName)
	}
	if c.ScreenMaxWidth < 0 {
		c.ScreenMaxWidth = 0
	}
	if c.FrameRate <= 0 || c.FrameRate > 240 {
		c.FrameRate = d.FrameRate
	}
	if c.Source == "" {
		c.Source = d.Source
	}
	if c.SourceWidth <= 0 {
		c.SourceWidth = d.SourceWidth
	}
	if c.SourceHeight <= 0 {
		c.SourceHeight = d.SourceHeight
	}
	return nil
}

// SenderSettings converts the sender-related fields.
func (c *Config) SenderSettings() sender.Settings {
	return sender.Settings{
		Name:         c.StreamName,
		KeepAlpha:    c.KeepAlpha,
		RGBAChannel:  c.RGBAChannel,
		SendOnThread: c.SendOnThread,
		FetchScreen:  c.FetchScreen,
		Metadata:     c.Metadata,
	}
}

// FrameInterval is the sender cycle period.
func (c *Config) FrameInterval() time.Duration {
	return time.Duration(float64(time.Second) / c.FrameRate)
}

// WriteTimeout is the per-client websocket write deadline.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMs) * time.Millisecond
}

// DefaultPath returns the per-user config location.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, "pixel-cast", "config.json")
}

// SetDefaults registers every default on v so env overrides apply even
// without a config file.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("debug", d.Debug)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("listen_addr", d.ListenAddr)
	v.SetDefault("compress", d.Compress)
	v.SetDefault("write_timeout_ms", d.WriteTimeoutMs)
	v.SetDefault("stream_name", d.StreamName)
	v.SetDefault("keep_alpha", d.KeepAlpha)
	v.SetDefault("rgba_channel", d.RGBAChannel)
	v.SetDefault("send_on_thread", d.SendOnThread)
	v.SetDefault("fetch_screen", d.FetchScreen)
	v.SetDefault("screen_max_width", d.ScreenMaxWidth)
	v.SetDefault("frame_rate", d.FrameRate)
	v.SetDefault("metadata", d.Metadata)
	v.SetDefault("source", d.Source)
	v.SetDefault("source_width", d.SourceWidth)
	v.SetDefault("source_height", d.SourceHeight)
}

// NewViper returns a viper instance with defaults and env overrides
// registered, reading from path when it is non-empty.
func NewViper(path string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("json")
	}
	return v
}

// Load attempts to read configuration from the given JSON file path. If the
// file does not exist defaults (plus env overrides) are returned. On a
// decode error it returns defaults with the error.
func Load(path string) (*Config, error) {
	return LoadViper(NewViper(path))
}

// LoadViper decodes v into a validated Config.
func LoadViper(v *viper.Viper) (*Config, error) {
	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil && !isNotExist(err) {
			return DefaultConfig(), err
		}
	}
	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return DefaultConfig(), err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func isNotExist(err error) bool {
	var nf viper.ConfigFileNotFoundError
	return errors.As(err, &nf) || errors.Is(err, os.ErrNotExist)
}

// Save writes the configuration to the given path in JSON format.
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(c)
}
