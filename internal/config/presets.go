// ABOUTME: LC3 broadcast audio presets
// ABOUTME: Codec parameters for the supported quality levels
package config

import (
	"fmt"
	"sort"
	"time"
)

// MaxChannels is the most channels one broadcast can carry
const MaxChannels = 31

// Preset is a broadcast audio configuration
type Preset struct {
	Name              string
	SampleRate        int // Hz
	FrameDuration     time.Duration
	SDUSize           int // octets per frame
	Bitrate           int // bit/s
	PresentationDelay time.Duration
	BroadcastName     string
}

var presets = map[string]Preset{
	"16_2_1": {
		Name:              "16_2_1",
		SampleRate:        16000,
		FrameDuration:     10 * time.Millisecond,
		SDUSize:           40,
		Bitrate:           32000,
		PresentationDelay: 40 * time.Millisecond,
		BroadcastName:     "Hold on a Sec",
	},
	"24_2_1": {
		Name:              "24_2_1",
		SampleRate:        24000,
		FrameDuration:     10 * time.Millisecond,
		SDUSize:           60,
		Bitrate:           48000,
		PresentationDelay: 40 * time.Millisecond,
		BroadcastName:     "24Khz Stream",
	},
}

// LookupPreset returns the named preset
func LookupPreset(name string) (Preset, error) {
	p, ok := presets[name]
	if !ok {
		return Preset{}, fmt.Errorf("unknown preset %q (available: %v)", name, PresetNames())
	}
	return p, nil
}

// PresetNames lists the supported presets
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PresetInfo returns the preset selected by the configuration
func (c *Config) PresetInfo() Preset {
	p, _ := LookupPreset(c.Preset)
	return p
}
