// ABOUTME: Per-channel stream state for the broadcast pipeline
// ABOUTME: Sequence numbering, sent counters and lifecycle state
package broadcast

import (
	"fmt"
	"sync"

	"github.com/Resonate-Protocol/lc3cast/pkg/lc3bin"
)

// State is the lifecycle state of one channel
type State int

const (
	StateIdle State = iota
	StateStarted
	StateStreaming
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarted:
		return "started"
	case StateStreaming:
		return "streaming"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Stream holds the state of one output channel.
// mu serializes production so sequence numbers follow submission order.
type Stream struct {
	index int

	mu         sync.Mutex
	state      State
	seq        uint16
	sent       uint64
	failures   uint64
	stopReason uint8
	scratch    []byte
}

// StreamStats is a snapshot of a channel's counters
type StreamStats struct {
	Channel    int
	State      State
	Sequence   uint16 // next sequence number
	Sent       uint64
	Failures   uint64
	StopReason uint8
}

func newStream(index int) *Stream {
	return &Stream{
		index:   index,
		scratch: make([]byte, lc3bin.MaxFrameBytes),
	}
}

// reset prepares the stream for a new start
func (s *Stream) reset() {
	s.mu.Lock()
	s.state = StateStarted
	s.seq = 0
	s.sent = 0
	s.failures = 0
	s.stopReason = 0
	s.mu.Unlock()
}

func (s *Stream) stats() StreamStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return StreamStats{
		Channel:    s.index,
		State:      s.state,
		Sequence:   s.seq,
		Sent:       s.sent,
		Failures:   s.failures,
		StopReason: s.stopReason,
	}
}
