// ABOUTME: Entry point for the lc3cast listener
// ABOUTME: Joins a broadcast and records one channel to an LC3 container
package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Resonate-Protocol/lc3cast/internal/client"
	"github.com/Resonate-Protocol/lc3cast/internal/discovery"
	clocksync "github.com/Resonate-Protocol/lc3cast/internal/sync"
	"github.com/Resonate-Protocol/lc3cast/internal/version"
	"github.com/Resonate-Protocol/lc3cast/pkg/lc3bin"
	"github.com/Resonate-Protocol/lc3cast/pkg/protocol"
	"github.com/alecthomas/kong"
	"github.com/google/uuid"
)

var CLI struct {
	Output   string        `arg:"" name:"output" help:"Container (.lc3) to record into" type:"path"`
	Server   string        `help:"Broadcast address host:port (default: discover via mDNS)"`
	Path     string        `help:"WebSocket path" default:"/lc3cast"`
	Channel  int           `help:"Channel to record" default:"0"`
	Name     string        `help:"Listener name (default: hostname-lc3cast-listener)"`
	Duration time.Duration `help:"Stop after this long (0 records until interrupted)" default:"0"`
	LogFile  string        `name:"log-file" help:"Log file path" default:"lc3cast-listen.log"`
	Debug    bool          `help:"Enable debug logging"`
}

const timeSyncInterval = 5 * time.Second

func main() {
	kong.Parse(&CLI,
		kong.Name("lc3cast-listen"),
		kong.Description("Record an lc3cast broadcast channel to an LC3 file."),
		kong.UsageOnError(),
	)

	f, err := os.OpenFile(CLI.LogFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()
	log.SetOutput(io.MultiWriter(os.Stdout, f))

	name := CLI.Name
	if name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		name = fmt.Sprintf("%s-lc3cast-listener", hostname)
	}

	addr, path := CLI.Server, CLI.Path
	if addr == "" {
		info, err := discover()
		if err != nil {
			log.Fatalf("Discovery failed: %v", err)
		}
		addr, path = info.Addr(), info.Path
	}

	c := client.NewClient(client.Config{
		ServerAddr: addr,
		Path:       path,
		ListenerID: uuid.New().String(),
		Name:       name,
		DeviceInfo: protocol.DeviceInfo{
			ProductName:     version.Product,
			Manufacturer:    version.Manufacturer,
			SoftwareVersion: version.Version,
		},
	})
	if err := c.Connect(); err != nil {
		log.Fatalf("Unable to join broadcast: %v", err)
	}
	defer c.Close()

	hello := c.Hello()
	if CLI.Channel < 0 || CLI.Channel >= hello.Channels {
		log.Fatalf("Channel %d out of range, broadcast has %d", CLI.Channel, hello.Channels)
	}

	out, err := os.Create(CLI.Output)
	if err != nil {
		log.Fatalf("Unable to create %s: %v", CLI.Output, err)
	}
	defer out.Close()

	hdr := lc3bin.Header{
		SampleRate:    hello.Codec.SampleRate,
		Bitrate:       hello.Codec.Bitrate,
		Channels:      1,
		FrameDuration: hello.Codec.FrameDuration,
	}
	w := lc3bin.NewWriter(out, hdr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var deadline <-chan time.Time
	if CLI.Duration > 0 {
		deadline = time.After(CLI.Duration)
	}

	syncTicker := time.NewTicker(timeSyncInterval)
	defer syncTicker.Stop()
	start := time.Now()
	clock := clocksync.NewClockSync()
	var late int

	// Prime the clock before the first interval elapses
	if err := c.SendTimeSync(time.Since(start).Microseconds()); err != nil {
		log.Printf("Time sync failed: %v", err)
	}

	log.Printf("Recording channel %d of %q to %s", CLI.Channel, hello.Name, CLI.Output)

record:
	for {
		select {
		case pkt := <-c.Packets:
			if pkt.Channel != CLI.Channel {
				continue
			}
			if clock.Synced() {
				lead := clock.ToLocal(pkt.Timestamp) - time.Since(start).Microseconds()
				if lead < 0 {
					late++
					if CLI.Debug {
						log.Printf("[DEBUG] Frame %d arrived %dus past its presentation time", pkt.Sequence, -lead)
					}
				}
			}
			if err := w.WriteFrame(pkt.Data); err != nil {
				log.Printf("Unable to write frame: %v", err)
				break record
			}

		case <-syncTicker.C:
			if err := c.SendTimeSync(time.Since(start).Microseconds()); err != nil {
				log.Printf("Time sync failed: %v", err)
			}

		case t := <-c.TimeSyncResp:
			now := time.Since(start).Microseconds()
			clock.ProcessSyncResponse(t.ListenerTransmitted, t.BroadcastReceived, t.BroadcastTransmitted, now)
			if CLI.Debug {
				offset, rtt, quality := clock.Stats()
				log.Printf("[DEBUG] Time sync: rtt=%dus offset=%dus drift=%.2fppm quality=%s",
					rtt, offset, clock.Drift()*1e6, quality)
			}

		case <-c.Done():
			log.Printf("Broadcast connection closed")
			break record

		case <-deadline:
			break record

		case sig := <-sigChan:
			log.Printf("Received %v signal, finishing recording", sig)
			break record
		}
	}

	if err := finish(out, w, hdr); err != nil {
		log.Fatalf("Unable to finish %s: %v", CLI.Output, err)
	}

	stats := c.Stats()
	log.Printf("Recorded %d frames (%d packets received, %d lost, %d late)", w.Frames(), stats.Received, stats.Lost, late)
}

// finish writes the header with the final sample count
func finish(out *os.File, w *lc3bin.Writer, hdr lc3bin.Header) error {
	if err := w.Close(); err != nil {
		return err
	}

	samplesPerFrame := hdr.SampleRate * hdr.FrameDuration / 1000000
	hdr.Samples = w.Frames() * samplesPerFrame

	_, err := out.WriteAt(hdr.Encode(), 0)
	return err
}

// discover waits for the first broadcast advertised via mDNS
func discover() (*discovery.BroadcastInfo, error) {
	log.Printf("Searching for broadcasts via mDNS...")

	mgr := discovery.NewManager(discovery.Config{})
	defer mgr.Stop()

	if err := mgr.Browse(); err != nil {
		return nil, err
	}

	select {
	case info := <-mgr.Broadcasts():
		return info, nil
	case <-time.After(10 * time.Second):
		return nil, fmt.Errorf("no broadcast found")
	}
}
