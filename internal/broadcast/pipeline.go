// ABOUTME: Buffer-pool-driven streaming pipeline for LC3 broadcast channels
// ABOUTME: Produces one SDU per transport completion and coordinates channel lifecycle
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/Resonate-Protocol/lc3cast/internal/transport"
	"github.com/Resonate-Protocol/lc3cast/internal/txpool"
	"github.com/Resonate-Protocol/lc3cast/pkg/lc3bin"
)

const (
	// DefaultEnqueueCount keeps enough SDUs queued that the transport is never idle
	DefaultEnqueueCount = 3

	// DefaultReportEvery is the number of submissions between sent-count log lines
	DefaultReportEvery = 1000
)

var (
	// ErrFrameSizeMismatch means a frame does not match the negotiated SDU size
	ErrFrameSizeMismatch = errors.New("broadcast: frame size does not match SDU size")

	// ErrSubmissionFailed wraps a transport error for a single submission
	ErrSubmissionFailed = errors.New("broadcast: submission failed")
)

// Sender submits a filled buffer to the transport. On success the
// transport owns buf and releases it when the SDU has been handled.
type Sender interface {
	Send(channel int, buf *txpool.Buffer, seq uint16) error
}

// Config holds pipeline configuration
type Config struct {
	Channels     int
	EnqueueCount int // buffers in flight per channel
	SDUSize      int // negotiated bytes per submission
	ReportEvery  uint64
	Debug        bool
}

// Pipeline feeds container frames to the transport, one buffer per
// completion, and synchronizes channel start and stop
type Pipeline struct {
	config Config
	reader *lc3bin.Reader
	pool   *txpool.Pool
	sender Sender

	streams []*Stream

	stopping atomic.Bool
	started  *barrier
	stopped  *barrier

	errOnce sync.Once
	errCh   chan error
}

// Stats is a snapshot of the pipeline
type Stats struct {
	Streams  []StreamStats
	Pool     txpool.Stats
	Loops    uint64
	Stopping bool
}

// New creates a pipeline. The pool must hold EnqueueCount buffers per channel.
func New(config Config, reader *lc3bin.Reader, pool *txpool.Pool, sender Sender) (*Pipeline, error) {
	if config.Channels <= 0 {
		return nil, fmt.Errorf("invalid channel count: %d", config.Channels)
	}
	if config.EnqueueCount <= 0 {
		config.EnqueueCount = DefaultEnqueueCount
	}
	if config.ReportEvery == 0 {
		config.ReportEvery = DefaultReportEvery
	}
	if config.SDUSize <= 0 || config.SDUSize > lc3bin.MaxFrameBytes {
		return nil, fmt.Errorf("invalid SDU size: %d (max %d)", config.SDUSize, lc3bin.MaxFrameBytes)
	}
	if need := config.EnqueueCount * config.Channels; pool.Capacity() < need {
		return nil, fmt.Errorf("pool holds %d buffers, %d channels x %d enqueued need %d",
			pool.Capacity(), config.Channels, config.EnqueueCount, need)
	}
	if pool.BufferSize() < config.SDUSize {
		return nil, fmt.Errorf("pool buffers hold %d bytes, SDU is %d", pool.BufferSize(), config.SDUSize)
	}

	p := &Pipeline{
		config:  config,
		reader:  reader,
		pool:    pool,
		sender:  sender,
		started: newBarrier(config.Channels),
		stopped: newBarrier(config.Channels),
		errCh:   make(chan error, 1),
	}
	for i := 0; i < config.Channels; i++ {
		p.streams = append(p.streams, newStream(i))
	}

	return p, nil
}

// Handle is the single entry point for transport events
func (p *Pipeline) Handle(ev transport.Event) {
	if ev.Channel < 0 || ev.Channel >= len(p.streams) {
		log.Printf("Ignoring %s event for unknown channel %d", ev.Kind, ev.Channel)
		return
	}
	s := p.streams[ev.Channel]

	switch ev.Kind {
	case transport.EventStarted:
		s.reset()
		p.started.give()

	case transport.EventStopped:
		s.mu.Lock()
		s.state = StateStopped
		s.stopReason = ev.Reason
		s.mu.Unlock()
		log.Printf("Channel %d stopped (reason 0x%02x)", ev.Channel, ev.Reason)
		p.stopped.give()

	case transport.EventSent:
		p.produce(s)

	default:
		log.Printf("Ignoring unknown transport event %s on channel %d", ev.Kind, ev.Channel)
	}
}

// WaitStarted blocks until every channel has reported started.
// There is no timeout; a channel that never starts blocks forever unless
// ctx is cancelled.
func (p *Pipeline) WaitStarted(ctx context.Context) error {
	return p.started.wait(ctx, len(p.streams))
}

// Prime fills the pipeline with EnqueueCount submissions per channel
// before any completion has arrived
func (p *Pipeline) Prime() {
	for _, s := range p.streams {
		for i := 0; i < p.config.EnqueueCount; i++ {
			p.produce(s)
		}

		s.mu.Lock()
		if s.state == StateStarted {
			s.state = StateStreaming
		}
		s.mu.Unlock()
	}
}

// Start waits for all channels to start, then primes them
func (p *Pipeline) Start(ctx context.Context) error {
	if err := p.WaitStarted(ctx); err != nil {
		return fmt.Errorf("waiting for channels to start: %w", err)
	}
	log.Printf("All %d channels started, priming %d buffers each", len(p.streams), p.config.EnqueueCount)

	p.Prime()
	return nil
}

// Drain stops further production; completions that arrive afterwards are ignored
func (p *Pipeline) Drain() {
	p.stopping.Store(true)
}

// WaitStopped blocks until every channel has reported stopped
func (p *Pipeline) WaitStopped(ctx context.Context) error {
	return p.stopped.wait(ctx, len(p.streams))
}

// Err delivers the first fatal streaming error
func (p *Pipeline) Err() <-chan error {
	return p.errCh
}

// Stats returns a snapshot of all channels and the buffer pool
func (p *Pipeline) Stats() Stats {
	stats := Stats{
		Pool:     p.pool.Stats(),
		Loops:    p.reader.Loops(),
		Stopping: p.stopping.Load(),
	}
	for _, s := range p.streams {
		stats.Streams = append(stats.Streams, s.stats())
	}
	return stats
}

// produce submits the next frame on s
func (p *Pipeline) produce(s *Stream) {
	if p.stopping.Load() {
		return
	}

	// Block on the pool without holding s.mu so stats stay readable
	buf := p.pool.Acquire()
	if p.stopping.Load() {
		p.pool.Release(buf)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := p.reader.ReadFrame(s.scratch)
	if err != nil {
		p.pool.Release(buf)
		p.fail(fmt.Errorf("channel %d: %w", s.index, err))
		return
	}

	if n != p.config.SDUSize {
		p.pool.Release(buf)
		s.failures++
		log.Printf("Channel %d: dropping frame: %v (frame %d bytes, SDU %d bytes)",
			s.index, ErrFrameSizeMismatch, n, p.config.SDUSize)
		return
	}

	buf.Append(s.scratch[:p.config.SDUSize])

	if err := p.sender.Send(s.index, buf, s.seq); err != nil {
		// The transport owns recovery of the channel
		p.pool.Release(buf)
		s.failures++
		log.Printf("Unable to broadcast data on channel %d: %v", s.index,
			fmt.Errorf("%w: %w", ErrSubmissionFailed, err))
		return
	}

	s.seq++
	s.sent++
	if s.sent%p.config.ReportEvery == 0 {
		log.Printf("Channel %d: sent %d total SDUs", s.index, s.sent)
	} else if p.config.Debug && s.sent <= uint64(p.config.EnqueueCount) {
		log.Printf("[DEBUG] Channel %d: primed SDU seq=%d", s.index, s.seq-1)
	}
}

// fail records a fatal streaming error and stops production
func (p *Pipeline) fail(err error) {
	p.stopping.Store(true)
	p.errOnce.Do(func() {
		log.Printf("Fatal streaming error: %v", err)
		p.errCh <- err
	})
}

// Validate checks every frame in the container against the SDU size and
// returns the frame count. Run before streaming: a container that fails
// here would fail mid-stream.
func Validate(blob []byte, sduSize int) (int, error) {
	count, err := lc3bin.Scan(blob, func(index int, frame []byte) error {
		if len(frame) != sduSize {
			return fmt.Errorf("%w: frame %d is %d bytes, SDU is %d", ErrFrameSizeMismatch, index, len(frame), sduSize)
		}
		return nil
	})
	if err != nil {
		return count, err
	}
	if count == 0 {
		return 0, fmt.Errorf("%w: container holds no frames", lc3bin.ErrMalformedFrame)
	}
	return count, nil
}
