// ABOUTME: WebSocket broadcast transport with isochronous channel pacing
// ABOUTME: Transmits one queued SDU per interval per channel and reports completions
package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/lc3cast/internal/txpool"
	"github.com/Resonate-Protocol/lc3cast/pkg/protocol"
	"github.com/gorilla/websocket"
)

// SendReserve is the headroom every submitted buffer must reserve for the
// packet header
const SendReserve = protocol.PacketHeaderSize

var (
	// ErrChannelStopped is returned by Send when the channel is not streaming
	ErrChannelStopped = errors.New("transport: channel not streaming")
	// ErrQueueFull is returned by Send when the channel queue has no room
	ErrQueueFull = errors.New("transport: channel queue full")
	// ErrInvalidChannel is returned by Send for an unknown channel index
	ErrInvalidChannel = errors.New("transport: invalid channel")
	// ErrNoHeadroom is returned by Send for buffers without SendReserve bytes of headroom
	ErrNoHeadroom = errors.New("transport: insufficient buffer headroom")
)

// Config holds broadcaster configuration
type Config struct {
	Channels          int
	Interval          time.Duration // SDU interval
	QueueDepth        int           // SDUs queued per channel
	PresentationDelay time.Duration
	Hello             protocol.BroadcastHello
	Debug             bool
}

// Broadcaster is the transport: it paces SDUs per channel and fans every
// transmitted SDU out to all connected listeners
type Broadcaster struct {
	config  Config
	handler Handler

	upgrader websocket.Upgrader

	channels []*isoChannel

	listeners   map[string]*listener
	listenersMu sync.RWMutex

	clockStart time.Time

	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup // channel goroutines
	listenerWG sync.WaitGroup // listener writers
	started    atomic.Bool
	stopped    atomic.Bool
}

type isoChannel struct {
	index int
	queue chan pending

	mu        sync.Mutex
	streaming bool

	transmitted atomic.Uint64
	underruns   atomic.Uint64
}

type pending struct {
	buf *txpool.Buffer
	seq uint16
}

// ChannelStats is a snapshot of one channel's transmit counters
type ChannelStats struct {
	Index       int
	Streaming   bool
	Queued      int
	Transmitted uint64
	Underruns   uint64 // intervals with nothing queued
}

// NewBroadcaster creates a broadcaster; SetHandler must be called before Start
func NewBroadcaster(config Config) *Broadcaster {
	if config.Channels <= 0 {
		config.Channels = 1
	}
	if config.QueueDepth <= 0 {
		config.QueueDepth = 1
	}
	if config.Interval <= 0 {
		config.Interval = 10 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())

	b := &Broadcaster{
		config: config,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Listeners live on the local network
				return true
			},
		},
		listeners:  make(map[string]*listener),
		clockStart: time.Now(),
		ctx:        ctx,
		cancel:     cancel,
	}

	for i := 0; i < config.Channels; i++ {
		b.channels = append(b.channels, &isoChannel{
			index: i,
			queue: make(chan pending, config.QueueDepth),
		})
	}

	return b
}

// SetHandler registers the receiver of transport events
func (b *Broadcaster) SetHandler(h Handler) {
	b.handler = h
}

// Start establishes every channel. EventStarted is raised asynchronously
// for each channel once it accepts SDUs.
func (b *Broadcaster) Start() error {
	if b.handler == nil {
		return fmt.Errorf("transport: no event handler registered")
	}
	if !b.started.CompareAndSwap(false, true) {
		return fmt.Errorf("transport: already started")
	}

	for _, ch := range b.channels {
		b.wg.Add(1)
		go b.runChannel(ch)
	}
	return nil
}

// Stop tears every channel down. Queued SDUs are discarded and their
// buffers released; EventStopped is raised for each channel.
func (b *Broadcaster) Stop() {
	if b.stopped.CompareAndSwap(false, true) {
		b.cancel()
	}
}

// Wait blocks until every channel goroutine has exited
func (b *Broadcaster) Wait() {
	b.wg.Wait()
}

// Send queues buf for transmission on channel. On success the broadcaster
// owns buf and releases it once transmitted or discarded.
func (b *Broadcaster) Send(channel int, buf *txpool.Buffer, seq uint16) error {
	if channel < 0 || channel >= len(b.channels) {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, channel)
	}
	if len(buf.Headroom()) < SendReserve {
		return fmt.Errorf("%w: %d bytes, need %d", ErrNoHeadroom, len(buf.Headroom()), SendReserve)
	}

	ch := b.channels[channel]
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if !ch.streaming {
		return ErrChannelStopped
	}

	select {
	case ch.queue <- pending{buf: buf, seq: seq}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Channels returns per-channel transmit counters
func (b *Broadcaster) Channels() []ChannelStats {
	stats := make([]ChannelStats, 0, len(b.channels))
	for _, ch := range b.channels {
		ch.mu.Lock()
		streaming := ch.streaming
		ch.mu.Unlock()

		stats = append(stats, ChannelStats{
			Index:       ch.index,
			Streaming:   streaming,
			Queued:      len(ch.queue),
			Transmitted: ch.transmitted.Load(),
			Underruns:   ch.underruns.Load(),
		})
	}
	return stats
}

// runChannel is the isochronous loop of one channel
func (b *Broadcaster) runChannel(ch *isoChannel) {
	defer b.wg.Done()

	ch.mu.Lock()
	ch.streaming = true
	ch.mu.Unlock()

	log.Printf("Channel %d started (interval %v)", ch.index, b.config.Interval)
	b.handler.Handle(Event{Kind: EventStarted, Channel: ch.index})

	ticker := time.NewTicker(b.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			b.stopChannel(ch)
			return

		case <-ticker.C:
			select {
			case p := <-ch.queue:
				b.transmit(ch, p)
			default:
				if ch.underruns.Add(1)%100 == 1 && b.config.Debug {
					log.Printf("[DEBUG] Channel %d underrun (%d total)", ch.index, ch.underruns.Load())
				}
			}
		}
	}
}

// stopChannel rejects further submissions, discards the queue and reports the stop
func (b *Broadcaster) stopChannel(ch *isoChannel) {
	ch.mu.Lock()
	ch.streaming = false
	ch.mu.Unlock()

	discarded := 0
	for {
		select {
		case p := <-ch.queue:
			p.buf.Release()
			discarded++
			continue
		default:
		}
		break
	}

	log.Printf("Channel %d stopped (%d queued SDUs discarded)", ch.index, discarded)

	b.broadcastJSON(protocol.TypeBroadcastStop, protocol.BroadcastStop{
		Channel: ch.index,
		Reason:  ReasonLocalHostTerminated,
	})

	b.handler.Handle(Event{Kind: EventStopped, Channel: ch.index, Reason: ReasonLocalHostTerminated})
}

// transmit sends one SDU to every listener, frees its buffer and raises EventSent
func (b *Broadcaster) transmit(ch *isoChannel, p pending) {
	timestamp := b.clockMicros() + b.config.PresentationDelay.Microseconds()

	headroom := p.buf.Headroom()
	hdr := headroom[len(headroom)-SendReserve:]
	protocol.PutPacketHeader(hdr, ch.index, p.seq, timestamp)

	frame := p.buf.Frame()
	msg := make([]byte, SendReserve+p.buf.Len())
	copy(msg, frame[len(frame)-len(msg):])

	p.buf.Release()
	ch.transmitted.Add(1)

	b.listenersMu.RLock()
	for _, l := range b.listeners {
		if err := l.sendBinary(msg); err != nil && b.config.Debug {
			log.Printf("[DEBUG] Dropped SDU %d for %s: %v", p.seq, l.name, err)
		}
	}
	b.listenersMu.RUnlock()

	b.handler.Handle(Event{Kind: EventSent, Channel: ch.index})
}

// clockMicros returns the broadcaster clock in microseconds
func (b *Broadcaster) clockMicros() int64 {
	return time.Since(b.clockStart).Microseconds()
}
