// ABOUTME: Tests for configuration loading and validation
// ABOUTME: Tests defaults, presets and rejected values
package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lc3cast.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "container: sample.lc3\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Preset != "16_2_1" {
		t.Errorf("expected preset 16_2_1, got %s", cfg.Preset)
	}
	if cfg.Name != "Hold on a Sec" {
		t.Errorf("expected preset broadcast name, got %s", cfg.Name)
	}
	if cfg.EnqueueCount != 3 {
		t.Errorf("expected enqueue count 3, got %d", cfg.EnqueueCount)
	}
	if cfg.PresentationDelayUS != 40000 {
		t.Errorf("expected presentation delay 40000us, got %d", cfg.PresentationDelayUS)
	}
	if cfg.Telemetry.Topic != "lc3cast/stats" || cfg.Telemetry.Format != "json" {
		t.Errorf("unexpected telemetry defaults: %+v", cfg.Telemetry)
	}
	if !cfg.MDNS {
		t.Error("expected mDNS enabled by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
name: Lobby
preset: 24_2_1
channels: 2
container: /srv/lobby.lc3
broadcast_id: "0x123456"
enqueue_count: 4
mdns: false
telemetry:
  broker: localhost:1883
  format: msgpack
  interval_s: 10
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Name != "Lobby" || cfg.Channels != 2 || cfg.EnqueueCount != 4 {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if p := cfg.PresetInfo(); p.SDUSize != 60 || p.SampleRate != 24000 {
		t.Errorf("unexpected preset: %+v", p)
	}
	if cfg.MDNS {
		t.Error("expected mDNS disabled")
	}
	if cfg.Telemetry.Interval().Seconds() != 10 {
		t.Errorf("expected 10s interval, got %v", cfg.Telemetry.Interval())
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown preset", func(c *Config) { c.Preset = "48_6_2" }},
		{"zero channels", func(c *Config) { c.Channels = 0 }},
		{"too many channels", func(c *Config) { c.Channels = MaxChannels + 1 }},
		{"zero enqueue", func(c *Config) { c.EnqueueCount = 0 }},
		{"no container", func(c *Config) { c.Container = "" }},
		{"no listen", func(c *Config) { c.Listen = "" }},
		{"bad broadcast id", func(c *Config) { c.BroadcastID = "xyz" }},
		{"wide broadcast id", func(c *Config) { c.BroadcastID = "1000000" }},
		{"bad format", func(c *Config) { c.Telemetry.Format = "xml" }},
		{"bad qos", func(c *Config) { c.Telemetry.QoS = 3 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Container = "sample.lc3"
			tt.mutate(cfg)

			if err := Validate(cfg); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "channels: [1, 2\n")
	if _, err := Load(path); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestParseBroadcastID(t *testing.T) {
	tests := []struct {
		in   string
		want uint32
	}{
		{"DEADBF", 0xDEADBF},
		{"0xdeadbf", 0xDEADBF},
		{"0X000001", 1},
	}
	for _, tt := range tests {
		got, err := ParseBroadcastID(tt.in)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s: expected 0x%06X, got 0x%06X", tt.in, tt.want, got)
		}
	}
}

func TestPresetNames(t *testing.T) {
	names := PresetNames()
	if len(names) != 2 || names[0] != "16_2_1" || names[1] != "24_2_1" {
		t.Errorf("unexpected presets: %v", names)
	}
}
