// ABOUTME: Fixed-capacity pool of transmit buffers
// ABOUTME: Blocking acquire is the pipeline's only backpressure point
package txpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Pool hands out a fixed set of reusable transmit buffers.
//
// Acquire blocks until a buffer is free; there is no timeout. Waiting
// longer than a frame interval means the transport stopped completing
// submissions, which Stats exposes through Waits.
type Pool struct {
	free     chan *Buffer
	capacity int
	size     int
	headroom int

	mu        sync.Mutex
	inUse     int
	highWater int

	acquires atomic.Uint64
	waits    atomic.Uint64
}

// Stats is a snapshot of pool usage
type Stats struct {
	Capacity  int
	InUse     int
	HighWater int
	Acquires  uint64
	Waits     uint64 // acquires that found the pool empty
}

// Buffer is a transmit buffer with a reserved prefix for transport headers
type Buffer struct {
	pool     *Pool
	id       int
	data     []byte
	headroom int
	length   int
	inFlight bool
}

// New creates a pool of capacity buffers, each with size payload bytes
// after headroom reserved bytes
func New(capacity, size, headroom int) *Pool {
	if capacity <= 0 {
		panic(fmt.Sprintf("txpool: invalid capacity %d", capacity))
	}

	p := &Pool{
		free:     make(chan *Buffer, capacity),
		capacity: capacity,
		size:     size,
		headroom: headroom,
	}

	for i := 0; i < capacity; i++ {
		p.free <- &Buffer{
			pool:     p,
			id:       i,
			data:     make([]byte, headroom+size),
			headroom: headroom,
		}
	}

	return p
}

// Capacity returns the number of buffers owned by the pool
func (p *Pool) Capacity() int {
	return p.capacity
}

// BufferSize returns the payload capacity of each buffer
func (p *Pool) BufferSize() int {
	return p.size
}

// Headroom returns the reserved prefix of each buffer
func (p *Pool) Headroom() int {
	return p.headroom
}

// Acquire returns a free buffer, suspending the caller until one is released
func (p *Pool) Acquire() *Buffer {
	buf, _ := p.AcquireContext(context.Background())
	return buf
}

// AcquireContext is Acquire with an abort path for process shutdown
func (p *Pool) AcquireContext(ctx context.Context) (*Buffer, error) {
	p.acquires.Add(1)

	var buf *Buffer
	select {
	case buf = <-p.free:
	default:
		p.waits.Add(1)
		select {
		case buf = <-p.free:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	buf.inFlight = true
	buf.length = 0
	p.inUse++
	if p.inUse > p.highWater {
		p.highWater = p.inUse
	}
	p.mu.Unlock()

	return buf, nil
}

// Release returns buf to the pool. Releasing a buffer that is not
// checked out is a programming error and panics.
func (p *Pool) Release(buf *Buffer) {
	if buf == nil || buf.pool != p {
		panic("txpool: release of foreign buffer")
	}

	p.mu.Lock()
	if !buf.inFlight {
		p.mu.Unlock()
		panic(fmt.Sprintf("txpool: double release of buffer %d", buf.id))
	}
	buf.inFlight = false
	p.inUse--
	p.mu.Unlock()

	p.free <- buf
}

// Stats returns a snapshot of pool usage
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		Capacity:  p.capacity,
		InUse:     p.inUse,
		HighWater: p.highWater,
		Acquires:  p.acquires.Load(),
		Waits:     p.waits.Load(),
	}
}

// Release returns the buffer to its pool
func (b *Buffer) Release() {
	b.pool.Release(b)
}

// ID identifies the buffer within its pool
func (b *Buffer) ID() int { return b.id }

// Append copies p after the current payload and returns the bytes written.
// Data beyond the buffer capacity is dropped.
func (b *Buffer) Append(p []byte) int {
	n := copy(b.data[b.headroom+b.length:], p)
	b.length += n
	return n
}

// Bytes returns the payload, excluding headroom
func (b *Buffer) Bytes() []byte {
	return b.data[b.headroom : b.headroom+b.length]
}

// Headroom returns the reserved prefix for transport headers
func (b *Buffer) Headroom() []byte {
	return b.data[:b.headroom]
}

// Frame returns headroom and payload as one contiguous slice
func (b *Buffer) Frame() []byte {
	return b.data[:b.headroom+b.length]
}

// Len returns the payload length
func (b *Buffer) Len() int { return b.length }

// Cap returns the payload capacity
func (b *Buffer) Cap() int { return len(b.data) - b.headroom }
