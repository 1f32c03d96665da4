// ABOUTME: YAML configuration for the lc3cast broadcaster
// ABOUTME: Loads a config file over built-in defaults and validates it
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every configuration validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete broadcaster configuration
type Config struct {
	Name        string `yaml:"name"`         // broadcast name, defaults to the preset's
	Preset      string `yaml:"preset"`       // 16_2_1 or 24_2_1
	Channels    int    `yaml:"channels"`     // concurrent output channels
	Container   string `yaml:"container"`    // path to the .lc3 file
	BroadcastID string `yaml:"broadcast_id"` // hex override of the derived ID

	EnqueueCount        int `yaml:"enqueue_count"`         // buffers in flight per channel
	PresentationDelayUS int `yaml:"presentation_delay_us"` // 0 uses the preset's

	Listen string `yaml:"listen"`
	Path   string `yaml:"path"`
	MDNS   bool   `yaml:"mdns"`

	LogFile string `yaml:"log_file"`
	Debug   bool   `yaml:"debug"`
	TUI     bool   `yaml:"tui"`

	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// TelemetryConfig contains MQTT stats publishing settings
type TelemetryConfig struct {
	Broker    string `yaml:"broker"` // host:port, empty disables telemetry
	ClientID  string `yaml:"client_id"`
	Topic     string `yaml:"topic"`
	Format    string `yaml:"format"` // json or msgpack
	IntervalS int    `yaml:"interval_s"`
	QoS       byte   `yaml:"qos"`
}

// Interval returns the publish interval
func (t TelemetryConfig) Interval() time.Duration {
	return time.Duration(t.IntervalS) * time.Second
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Preset:       "16_2_1",
		Channels:     1,
		EnqueueCount: 3,
		Listen:       ":8928",
		Path:         "/lc3cast",
		MDNS:         true,
		LogFile:      "lc3cast.log",
		Telemetry: TelemetryConfig{
			Format:    "json",
			IntervalS: 5,
		},
	}
}

// Load reads a YAML file over the defaults and validates the result
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Read reads a YAML file over the defaults without validating, so callers
// can apply overrides first
func Read(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %v", ErrInvalidConfig, path, err)
	}

	return cfg, nil
}

// Validate checks the configuration and fills derived defaults
func Validate(cfg *Config) error {
	preset, err := LookupPreset(cfg.Preset)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if cfg.Channels < 1 || cfg.Channels > MaxChannels {
		return fmt.Errorf("%w: channels must be between 1 and %d, got %d", ErrInvalidConfig, MaxChannels, cfg.Channels)
	}
	if cfg.EnqueueCount < 1 {
		return fmt.Errorf("%w: enqueue_count must be > 0", ErrInvalidConfig)
	}
	if cfg.Container == "" {
		return fmt.Errorf("%w: container is required", ErrInvalidConfig)
	}
	if cfg.Listen == "" {
		return fmt.Errorf("%w: listen is required", ErrInvalidConfig)
	}
	if cfg.PresentationDelayUS < 0 {
		return fmt.Errorf("%w: presentation_delay_us must be >= 0", ErrInvalidConfig)
	}
	if cfg.BroadcastID != "" {
		if _, err := ParseBroadcastID(cfg.BroadcastID); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}

	if cfg.Name == "" {
		cfg.Name = preset.BroadcastName
	}
	if cfg.Path == "" {
		cfg.Path = "/lc3cast"
	}
	if cfg.PresentationDelayUS == 0 {
		cfg.PresentationDelayUS = int(preset.PresentationDelay.Microseconds())
	}

	t := &cfg.Telemetry
	if t.Format == "" {
		t.Format = "json"
	}
	if t.Format != "json" && t.Format != "msgpack" {
		return fmt.Errorf("%w: telemetry.format must be json or msgpack, got %q", ErrInvalidConfig, t.Format)
	}
	if t.QoS > 2 {
		return fmt.Errorf("%w: telemetry.qos must be 0, 1 or 2", ErrInvalidConfig)
	}
	if t.IntervalS <= 0 {
		t.IntervalS = 5
	}
	if t.Topic == "" {
		t.Topic = "lc3cast/stats"
	}

	return nil
}

// ParseBroadcastID parses a hex broadcast identifier such as "DEADBF" or "0xDEADBF"
func ParseBroadcastID(s string) (uint32, error) {
	hex := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	id, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("broadcast_id %q is not hex", s)
	}
	if id > 0xFFFFFF {
		return 0, fmt.Errorf("broadcast_id %q exceeds 24 bits", s)
	}
	return uint32(id), nil
}
