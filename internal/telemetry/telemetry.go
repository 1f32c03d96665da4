// ABOUTME: Periodic publication of broadcast statistics
// ABOUTME: Encodes snapshots as JSON or MessagePack and hands them to a publisher
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Snapshot is one statistics report
type Snapshot struct {
	BroadcastID uint32            `json:"broadcast_id" msgpack:"broadcast_id"`
	Name        string            `json:"name" msgpack:"name"`
	Timestamp   int64             `json:"timestamp_ms" msgpack:"timestamp_ms"`
	Uptime      float64           `json:"uptime_s" msgpack:"uptime_s"`
	Loops       uint64            `json:"loops" msgpack:"loops"`
	Listeners   int               `json:"listeners" msgpack:"listeners"`
	Pool        PoolSnapshot      `json:"pool" msgpack:"pool"`
	Channels    []ChannelSnapshot `json:"channels" msgpack:"channels"`
}

// PoolSnapshot reports transmit buffer usage
type PoolSnapshot struct {
	Capacity  int    `json:"capacity" msgpack:"capacity"`
	InUse     int    `json:"in_use" msgpack:"in_use"`
	HighWater int    `json:"high_water" msgpack:"high_water"`
	Acquires  uint64 `json:"acquires" msgpack:"acquires"`
	Waits     uint64 `json:"waits" msgpack:"waits"`
}

// ChannelSnapshot reports one output channel
type ChannelSnapshot struct {
	Channel     int    `json:"channel" msgpack:"channel"`
	State       string `json:"state" msgpack:"state"`
	Sequence    uint16 `json:"sequence" msgpack:"sequence"`
	Sent        uint64 `json:"sent" msgpack:"sent"`
	Failures    uint64 `json:"failures" msgpack:"failures"`
	Transmitted uint64 `json:"transmitted" msgpack:"transmitted"`
	Underruns   uint64 `json:"underruns" msgpack:"underruns"`
}

// Encode serializes a snapshot in the given format ("json" or "msgpack")
func Encode(format string, snap Snapshot) ([]byte, error) {
	switch format {
	case "", "json":
		return json.Marshal(snap)
	case "msgpack":
		return msgpack.Marshal(snap)
	default:
		return nil, fmt.Errorf("unknown telemetry format %q", format)
	}
}

// Publisher delivers an encoded report
type Publisher interface {
	Publish(topic string, qos byte, payload []byte) error
}

// Config holds reporter configuration
type Config struct {
	Topic    string
	QoS      byte
	Format   string
	Interval time.Duration
	Debug    bool
}

// Reporter collects and publishes snapshots on an interval
type Reporter struct {
	config    Config
	publisher Publisher
	collect   func() Snapshot

	published uint64
	errors    uint64
}

// NewReporter creates a reporter; collect is called once per interval
func NewReporter(config Config, publisher Publisher, collect func() Snapshot) *Reporter {
	if config.Interval <= 0 {
		config.Interval = 5 * time.Second
	}
	return &Reporter{
		config:    config,
		publisher: publisher,
		collect:   collect,
	}
}

// Run publishes until ctx is cancelled. Publish failures are logged, not returned.
func (r *Reporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("Telemetry stopped (%d published, %d errors)", r.published, r.errors)
			return nil
		case <-ticker.C:
			if err := r.Report(); err != nil {
				log.Printf("Telemetry publish failed: %v", err)
			}
		}
	}
}

// Report publishes one snapshot immediately
func (r *Reporter) Report() error {
	snap := r.collect()
	snap.Timestamp = time.Now().UnixMilli()

	payload, err := Encode(r.config.Format, snap)
	if err != nil {
		r.errors++
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	if err := r.publisher.Publish(r.config.Topic, r.config.QoS, payload); err != nil {
		r.errors++
		return err
	}

	r.published++
	if r.config.Debug {
		log.Printf("[DEBUG] Published %d byte %s snapshot to %s", len(payload), r.config.Format, r.config.Topic)
	}
	return nil
}
