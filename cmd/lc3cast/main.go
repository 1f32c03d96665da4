// ABOUTME: Entry point for the lc3cast broadcast server
// ABOUTME: Parses CLI flags and config, then streams an LC3 container until stopped
package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/Resonate-Protocol/lc3cast/internal/broadcast"
	"github.com/Resonate-Protocol/lc3cast/internal/config"
	"github.com/Resonate-Protocol/lc3cast/internal/identity"
	"github.com/Resonate-Protocol/lc3cast/internal/server"
	"github.com/Resonate-Protocol/lc3cast/internal/version"
	"github.com/Resonate-Protocol/lc3cast/pkg/lc3bin"
	"github.com/alecthomas/kong"
)

// Exit codes
const (
	exitFailure   = 1
	exitContainer = 2
	exitConfig    = 3
)

var CLI struct {
	Container    string `arg:"" name:"container" help:"LC3 container (.lc3) to broadcast" optional:"" type:"path"`
	Config       string `short:"c" help:"YAML configuration file" type:"path"`
	Preset       string `help:"Broadcast preset (${presets})"`
	Channels     int    `help:"Number of output channels"`
	Name         string `help:"Broadcast name (default: the preset's)"`
	BroadcastID  string `name:"broadcast-id" help:"24-bit broadcast ID in hex (default: derived from machine ID)"`
	Listen       string `help:"WebSocket listen address"`
	EnqueueCount int    `name:"enqueue-count" help:"Buffers in flight per channel"`
	LogFile      string `name:"log-file" help:"Log file path"`
	MQTT         string `name:"mqtt" help:"MQTT broker for telemetry (host:port)"`
	Debug        bool   `help:"Enable debug logging"`
	TUI          bool   `name:"tui" help:"Show the status TUI instead of streaming logs"`
	NoMDNS       bool   `name:"no-mdns" help:"Disable mDNS advertisement"`
	Version      bool   `help:"Show version information"`
}

func main() {
	kong.Parse(&CLI,
		kong.Name("lc3cast"),
		kong.Description("Broadcast a pre-encoded LC3 file to listeners on the local network, looping forever."),
		kong.Vars{"presets": strings.Join(config.PresetNames(), ", ")},
		kong.UsageOnError(),
	)

	if CLI.Version {
		fmt.Printf("%s %s\n", version.Product, version.Version)
		os.Exit(0)
	}

	os.Exit(run())
}

// run starts the broadcast and returns the process exit status
func run() int {
	cfg, err := loadConfig()
	if err != nil {
		log.Printf("Configuration error: %v", err)
		return exitConfig
	}

	broadcastID, err := resolveBroadcastID(cfg)
	if err != nil {
		log.Printf("Configuration error: %v", err)
		return exitConfig
	}

	// Set up logging (file, plus stdout unless the TUI owns the terminal)
	f, err := os.OpenFile(cfg.LogFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Printf("error opening log file: %v", err)
		return exitFailure
	}
	defer f.Close()

	if cfg.TUI {
		log.SetOutput(f)
	} else {
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	}

	log.Printf("Starting %s %s", version.Product, version.Version)
	if cfg.Debug {
		log.Printf("Debug logging enabled")
	}
	log.Printf("Logging to: %s", cfg.LogFile)

	blob, err := os.ReadFile(cfg.Container)
	if err != nil {
		log.Printf("Unable to read container: %v", err)
		return exitContainer
	}

	srv, err := server.New(server.Config{
		Name:              cfg.Name,
		Preset:            cfg.PresetInfo(),
		Channels:          cfg.Channels,
		Container:         blob,
		ContainerName:     filepath.Base(cfg.Container),
		BroadcastID:       broadcastID,
		EnqueueCount:      cfg.EnqueueCount,
		PresentationDelay: time.Duration(cfg.PresentationDelayUS) * time.Microsecond,
		Listen:            cfg.Listen,
		Path:              cfg.Path,
		EnableMDNS:        cfg.MDNS,
		Debug:             cfg.Debug,
		UseTUI:            cfg.TUI,
		Telemetry:         cfg.Telemetry,
	})
	if err != nil {
		log.Printf("Unable to set up broadcast: %v", err)
		return exitCode(err)
	}

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		sig := <-sigChan
		log.Printf("Received %v signal, shutting down gracefully...", sig)
		srv.Stop()

		sig = <-sigChan
		log.Printf("Received %v signal again, no longer waiting for channels", sig)
		srv.Stop()
	}()

	if !cfg.TUI {
		log.Printf("Press Ctrl-C to stop")
	}

	if err := srv.Start(); err != nil {
		log.Printf("Broadcast error: %v", err)
		return exitCode(err)
	}

	log.Printf("Broadcast stopped")
	return 0
}

// resolveBroadcastID returns the configured ID, or derives one from the machine ID
func resolveBroadcastID(cfg *config.Config) (uint32, error) {
	if cfg.BroadcastID == "" {
		return identity.DeriveBroadcastID(identity.MachineID{}), nil
	}

	id, err := config.ParseBroadcastID(cfg.BroadcastID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	return id, nil
}

// loadConfig reads the config file (if any) and applies flag overrides
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if CLI.Config != "" {
		loaded, err := config.Read(CLI.Config)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if CLI.Container != "" {
		cfg.Container = CLI.Container
	}
	if CLI.Preset != "" && CLI.Preset != cfg.Preset {
		// Let the new preset pick its own defaults
		if cfg.Name == cfg.PresetInfo().BroadcastName {
			cfg.Name = ""
		}
		cfg.Preset = CLI.Preset
		cfg.PresentationDelayUS = 0
	}
	if CLI.Channels != 0 {
		cfg.Channels = CLI.Channels
	}
	if CLI.Name != "" {
		cfg.Name = CLI.Name
	}
	if CLI.BroadcastID != "" {
		cfg.BroadcastID = CLI.BroadcastID
	}
	if CLI.Listen != "" {
		cfg.Listen = CLI.Listen
	}
	if CLI.EnqueueCount != 0 {
		cfg.EnqueueCount = CLI.EnqueueCount
	}
	if CLI.LogFile != "" {
		cfg.LogFile = CLI.LogFile
	}
	if CLI.MQTT != "" {
		cfg.Telemetry.Broker = CLI.MQTT
	}
	if CLI.Debug {
		cfg.Debug = true
	}
	if CLI.TUI {
		cfg.TUI = true
	}
	if CLI.NoMDNS {
		cfg.MDNS = false
	}

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// exitCode maps startup errors to the process exit status
func exitCode(err error) int {
	switch {
	case errors.Is(err, lc3bin.ErrTruncatedContainer),
		errors.Is(err, lc3bin.ErrMalformedFrame),
		errors.Is(err, broadcast.ErrFrameSizeMismatch):
		return exitContainer
	case errors.Is(err, config.ErrInvalidConfig):
		return exitConfig
	default:
		return exitFailure
	}
}
