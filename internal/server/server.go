// ABOUTME: lc3cast broadcast server
// ABOUTME: Wires container, buffer pool, pipeline, transport, discovery and telemetry
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Resonate-Protocol/lc3cast/internal/broadcast"
	"github.com/Resonate-Protocol/lc3cast/internal/config"
	"github.com/Resonate-Protocol/lc3cast/internal/discovery"
	"github.com/Resonate-Protocol/lc3cast/internal/identity"
	"github.com/Resonate-Protocol/lc3cast/internal/telemetry"
	"github.com/Resonate-Protocol/lc3cast/internal/transport"
	"github.com/Resonate-Protocol/lc3cast/internal/txpool"
	"github.com/Resonate-Protocol/lc3cast/pkg/lc3bin"
	"github.com/Resonate-Protocol/lc3cast/pkg/protocol"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 5 * time.Second
	statusInterval  = time.Second
)

// Config holds server configuration
type Config struct {
	Name              string
	Preset            config.Preset
	Channels          int
	Container         []byte // complete .lc3 file contents
	ContainerName     string
	BroadcastID       uint32
	EnqueueCount      int
	PresentationDelay time.Duration

	Listen     string
	Path       string
	EnableMDNS bool
	Debug      bool
	UseTUI     bool

	Telemetry config.TelemetryConfig
}

// Server is the broadcast source
type Server struct {
	config Config
	header lc3bin.Header
	frames int

	pool        *txpool.Pool
	pipeline    *broadcast.Pipeline
	broadcaster *transport.Broadcaster

	httpServer *http.Server
	mux        *http.ServeMux
	addr       net.Addr

	mdnsManager *discovery.Manager
	publisher   *telemetry.MQTTPublisher
	reporter    *telemetry.Reporter

	tui       *ServerTUI
	startTime time.Time

	ready     chan struct{}
	stopChan  chan struct{}
	forceChan chan struct{} // closed by a second Stop
	stops     int
	mu        sync.RWMutex
}

// New parses and validates the container and builds the pipeline.
// Container errors wrap lc3bin.ErrTruncatedContainer, lc3bin.ErrMalformedFrame
// or broadcast.ErrFrameSizeMismatch.
func New(cfg Config) (*Server, error) {
	if cfg.EnqueueCount <= 0 {
		cfg.EnqueueCount = broadcast.DefaultEnqueueCount
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.Path == "" {
		cfg.Path = "/lc3cast"
	}

	header, err := lc3bin.ReadHeader(cfg.Container)
	if err != nil {
		return nil, fmt.Errorf("failed to read container header: %w", err)
	}
	logHeader(header, len(cfg.Container))

	if header.SampleRate != cfg.Preset.SampleRate {
		log.Printf("Warning: container sample rate %d Hz does not match preset %s (%d Hz)",
			header.SampleRate, cfg.Preset.Name, cfg.Preset.SampleRate)
	}

	frames, err := broadcast.Validate(cfg.Container, cfg.Preset.SDUSize)
	if err != nil {
		return nil, fmt.Errorf("container rejected for preset %s: %w", cfg.Preset.Name, err)
	}
	log.Printf("Container holds %d frames of %d bytes", frames, cfg.Preset.SDUSize)

	reader, err := lc3bin.NewReader(cfg.Container)
	if err != nil {
		return nil, fmt.Errorf("failed to open container: %w", err)
	}

	pool := txpool.New(cfg.EnqueueCount*cfg.Channels, cfg.Preset.SDUSize, transport.SendReserve)

	broadcaster := transport.NewBroadcaster(transport.Config{
		Channels:          cfg.Channels,
		Interval:          cfg.Preset.FrameDuration,
		QueueDepth:        cfg.EnqueueCount,
		PresentationDelay: cfg.PresentationDelay,
		Debug:             cfg.Debug,
		Hello: protocol.BroadcastHello{
			BroadcastID: cfg.BroadcastID,
			Name:        cfg.Name,
			Channels:    cfg.Channels,
			Codec: protocol.CodecConfig{
				Codec:             "lc3",
				SampleRate:        cfg.Preset.SampleRate,
				FrameDuration:     int(cfg.Preset.FrameDuration.Microseconds()),
				OctetsPerFrame:    cfg.Preset.SDUSize,
				Bitrate:           cfg.Preset.Bitrate,
				PresentationDelay: int(cfg.PresentationDelay.Microseconds()),
			},
		},
	})

	pipeline, err := broadcast.New(broadcast.Config{
		Channels:     cfg.Channels,
		EnqueueCount: cfg.EnqueueCount,
		SDUSize:      cfg.Preset.SDUSize,
		Debug:        cfg.Debug,
	}, reader, pool, broadcaster)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	broadcaster.SetHandler(pipeline)

	return &Server{
		config:      cfg,
		header:      header,
		frames:      frames,
		pool:        pool,
		pipeline:    pipeline,
		broadcaster: broadcaster,
		mux:         http.NewServeMux(),
		startTime:   time.Now(),
		ready:       make(chan struct{}),
		stopChan:    make(chan struct{}),
		forceChan:   make(chan struct{}),
	}, nil
}

// logHeader prints the container header block
func logHeader(h lc3bin.Header, size int) {
	log.Printf("LC3 container header:")
	log.Printf("  Frame duration: %dus", h.FrameDuration)
	log.Printf("  Sample rate: %dHz", h.SampleRate)
	log.Printf("  Bitrate: %dbps", h.Bitrate)
	log.Printf("  Channels: %d", h.Channels)
	log.Printf("  Samples: %d (%v)", h.Samples, h.Duration().Round(time.Millisecond))
	log.Printf("  Data length: %d bytes", size)
}

// Start runs the broadcast until Stop is called, the TUI quits, or a
// fatal error occurs
func (s *Server) Start() error {
	if s.config.UseTUI {
		s.tui = NewServerTUI()
		go func() {
			if err := s.tui.Start(s.config.Name, s.config.Listen); err != nil {
				log.Printf("TUI error: %v", err)
			}
		}()
		time.Sleep(100 * time.Millisecond)
	}

	log.Printf("Broadcast starting: %s (ID 0x%06X, preset %s, %d channels)",
		s.config.Name, s.config.BroadcastID, s.config.Preset.Name, s.config.Channels)
	log.Printf("Broadcast Audio URI string: %q",
		identity.BroadcastAudioURI(s.config.Name, identity.InterfaceAddress(), 0, s.config.BroadcastID))

	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Listen, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	s.mux.Handle(s.config.Path, s.broadcaster)
	s.httpServer = &http.Server{Handler: s.mux}
	log.Printf("WebSocket server listening on %s%s", ln.Addr(), s.config.Path)

	if s.config.EnableMDNS {
		s.startMDNS(ln.Addr())
	}
	if s.config.Telemetry.Broker != "" {
		s.startTelemetry()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	if err := s.broadcaster.Start(); err != nil {
		s.httpServer.Close()
		g.Wait()
		return fmt.Errorf("failed to start transport: %w", err)
	}

	g.Go(func() error {
		if err := s.pipeline.Start(gctx); err != nil {
			if gctx.Err() != nil {
				return nil
			}
			return err
		}
		log.Printf("Broadcast source started")
		close(s.ready)
		return nil
	})

	g.Go(func() error {
		select {
		case err := <-s.pipeline.Err():
			return fmt.Errorf("streaming stopped: %w", err)
		case <-gctx.Done():
			return nil
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(statusInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				s.updateTUI()
			}
		}
	})

	if s.reporter != nil {
		g.Go(func() error {
			return s.reporter.Run(gctx)
		})
	}

	var tuiQuitChan <-chan struct{}
	if s.tui != nil {
		tuiQuitChan = s.tui.QuitChan()
	}

	select {
	case <-s.stopChan:
		log.Printf("Server shutting down...")
	case <-tuiQuitChan:
		log.Printf("TUI quit requested, shutting down...")
	case <-gctx.Done():
		log.Printf("Broadcast failed, shutting down...")
	}

	s.shutdown()
	cancel()

	err = g.Wait()
	if err == nil {
		log.Printf("Server stopped cleanly")
	}
	return err
}

// shutdown stops production first so no new buffers reach the transport,
// then tears channels down and waits for every stop notification
func (s *Server) shutdown() {
	if s.tui != nil {
		s.tui.Stop()
	}

	s.pipeline.Drain()
	s.broadcaster.Stop()

	if s.waitChannelsStopped() {
		s.broadcaster.Wait()
	}

	if s.mdnsManager != nil {
		s.mdnsManager.Stop()
	}
	if s.publisher != nil {
		s.publisher.Disconnect()
	}

	s.broadcaster.CloseListeners()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	st := s.pool.Stats()
	log.Printf("Buffer pool: %d acquires, %d waited, high water %d/%d", st.Acquires, st.Waits, st.HighWater, st.Capacity)
}

// waitChannelsStopped blocks until every channel has reported stopped.
// There is no timeout: only a second Stop abandons the wait, and then it
// returns false.
func (s *Server) waitChannelsStopped() bool {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-s.forceChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	log.Printf("Waiting for %d channels to stop (stop again to abandon)", s.config.Channels)
	if err := s.pipeline.WaitStopped(ctx); err != nil {
		log.Printf("Abandoned waiting for channels to stop")
		return false
	}
	return true
}

// startMDNS advertises the broadcast; failure is logged, not fatal
func (s *Server) startMDNS(addr net.Addr) {
	port := 0
	if tcp, ok := addr.(*net.TCPAddr); ok {
		port = tcp.Port
	}

	s.mdnsManager = discovery.NewManager(discovery.Config{
		ServiceName: s.config.Name,
		Port:        port,
		Path:        s.config.Path,
		BroadcastID: s.config.BroadcastID,
		Channels:    s.config.Channels,
	})

	if err := s.mdnsManager.Advertise(); err != nil {
		log.Printf("Failed to start mDNS advertisement: %v", err)
	} else {
		log.Printf("mDNS advertisement started")
	}
}

// startTelemetry connects the MQTT publisher; failure disables telemetry
func (s *Server) startTelemetry() {
	t := s.config.Telemetry

	clientID := t.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("lc3cast-%06x", s.config.BroadcastID)
	}

	publisher := telemetry.NewMQTTPublisher(t.Broker, clientID)
	if err := publisher.Connect(); err != nil {
		log.Printf("Telemetry disabled: %v", err)
		return
	}

	s.publisher = publisher
	s.reporter = telemetry.NewReporter(telemetry.Config{
		Topic:    t.Topic,
		QoS:      t.QoS,
		Format:   t.Format,
		Interval: t.Interval(),
		Debug:    s.config.Debug,
	}, publisher, s.Snapshot)

	log.Printf("Publishing %s telemetry to %s every %v", t.Format, t.Topic, t.Interval())
}

// Stop requests a graceful shutdown. A second call stops waiting for
// channels that never report stopped.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stops++
	switch s.stops {
	case 1:
		close(s.stopChan)
	case 2:
		close(s.forceChan)
	}
}

// Ready is closed once every channel has started and been primed
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the listening address, or nil before Start
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Snapshot collects pipeline, pool and transport statistics
func (s *Server) Snapshot() telemetry.Snapshot {
	stats := s.pipeline.Stats()
	channels := s.broadcaster.Channels()

	snap := telemetry.Snapshot{
		BroadcastID: s.config.BroadcastID,
		Name:        s.config.Name,
		Uptime:      time.Since(s.startTime).Seconds(),
		Loops:       stats.Loops,
		Listeners:   len(s.broadcaster.Listeners()),
		Pool: telemetry.PoolSnapshot{
			Capacity:  stats.Pool.Capacity,
			InUse:     stats.Pool.InUse,
			HighWater: stats.Pool.HighWater,
			Acquires:  stats.Pool.Acquires,
			Waits:     stats.Pool.Waits,
		},
	}

	for i, st := range stats.Streams {
		ch := telemetry.ChannelSnapshot{
			Channel:  st.Channel,
			State:    st.State.String(),
			Sequence: st.Sequence,
			Sent:     st.Sent,
			Failures: st.Failures,
		}
		if i < len(channels) {
			ch.Transmitted = channels[i].Transmitted
			ch.Underruns = channels[i].Underruns
		}
		snap.Channels = append(snap.Channels, ch)
	}

	return snap
}
