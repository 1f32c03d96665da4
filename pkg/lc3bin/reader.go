// ABOUTME: Looping frame reader over an in-memory LC3 container
// ABOUTME: Extracts length-prefixed frames and wraps to the first frame at the end
package lc3bin

import (
	"encoding/binary"
	"fmt"
	"log"
	"sync"
)

// Reader extracts frames from a container held in memory.
// The blob is never modified and must outlive the Reader.
// ReadFrame calls are serialized, so one Reader may feed several channels.
type Reader struct {
	blob   []byte
	header Header
	start  int // offset of the first frame

	mu     sync.Mutex
	cursor int
	loops  uint64
	onLoop func(loops uint64)
}

// NewReader parses the header and positions the cursor on the first frame
func NewReader(blob []byte) (*Reader, error) {
	hdr, err := ReadHeader(blob)
	if err != nil {
		return nil, err
	}

	return &Reader{
		blob:   blob,
		header: hdr,
		start:  hdr.HeaderSize,
		cursor: hdr.HeaderSize,
	}, nil
}

// Header returns the parsed container header
func (r *Reader) Header() Header {
	return r.header
}

// OnLoop registers a hook invoked each time the reader wraps to the start
func (r *Reader) OnLoop(fn func(loops uint64)) {
	r.mu.Lock()
	r.onLoop = fn
	r.mu.Unlock()
}

// ReadFrame copies the next frame into dst and returns its length.
// dst should be MaxFrameBytes long. On ErrMalformedFrame the cursor is
// left where it was.
func (r *Reader) ReadFrame(dst []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pos := r.cursor
	if pos+lengthPrefixSize > len(r.blob) {
		return 0, fmt.Errorf("%w: length prefix at offset %d cut off (container is %d bytes)",
			ErrMalformedFrame, pos, len(r.blob))
	}

	n := int(binary.LittleEndian.Uint16(r.blob[pos:]))
	pos += lengthPrefixSize

	if n > len(dst) {
		return 0, fmt.Errorf("%w: frame at offset %d is %d bytes, buffer holds %d",
			ErrMalformedFrame, r.cursor, n, len(dst))
	}
	if pos+n > len(r.blob) {
		return 0, fmt.Errorf("%w: frame at offset %d is %d bytes, only %d remain",
			ErrMalformedFrame, r.cursor, n, len(r.blob)-pos)
	}

	copy(dst, r.blob[pos:pos+n])
	r.cursor = pos + n

	if r.cursor >= len(r.blob) {
		r.cursor = r.start
		r.loops++
		log.Printf("End of LC3 container reached, looping (pass %d)", r.loops)
		if r.onLoop != nil {
			r.onLoop(r.loops)
		}
	}

	return n, nil
}

// Rewind moves the cursor back to the first frame
func (r *Reader) Rewind() {
	r.mu.Lock()
	r.cursor = r.start
	r.mu.Unlock()
}

// Loops returns how many times the reader has wrapped
func (r *Reader) Loops() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loops
}

// Offset returns the current cursor position within the container
func (r *Reader) Offset() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor
}

// Scan walks every frame of the container once, in order.
// It stops at the first error returned by fn or at the first malformed
// frame, and returns the number of frames visited.
func Scan(blob []byte, fn func(index int, frame []byte) error) (int, error) {
	hdr, err := ReadHeader(blob)
	if err != nil {
		return 0, err
	}

	count := 0
	pos := hdr.HeaderSize
	for pos < len(blob) {
		if pos+lengthPrefixSize > len(blob) {
			return count, fmt.Errorf("%w: length prefix at offset %d cut off", ErrMalformedFrame, pos)
		}
		n := int(binary.LittleEndian.Uint16(blob[pos:]))
		if n > MaxFrameBytes || pos+lengthPrefixSize+n > len(blob) {
			return count, fmt.Errorf("%w: frame %d at offset %d claims %d bytes", ErrMalformedFrame, count, pos, n)
		}

		frame := blob[pos+lengthPrefixSize : pos+lengthPrefixSize+n]
		if fn != nil {
			if err := fn(count, frame); err != nil {
				return count, err
			}
		}

		pos += lengthPrefixSize + n
		count++
	}

	return count, nil
}
