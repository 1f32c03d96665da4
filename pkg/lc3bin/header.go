// ABOUTME: LC3 container header definition and parsing
// ABOUTME: Decodes the fixed 18-byte little-endian header
package lc3bin

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	// FileID is the format tag written by liblc3 tools ("\x1c\xcc")
	FileID = 0xCC1C

	// HeaderSize is the size of the fixed header in bytes
	HeaderSize = 18

	// Frame size bounds for a single LC3 frame
	MinFrameBytes = 20
	MaxFrameBytes = 400

	lengthPrefixSize = 2
)

var (
	// ErrTruncatedContainer means the blob cannot hold the header it claims
	ErrTruncatedContainer = errors.New("lc3bin: truncated container")

	// ErrMalformedFrame means a frame length prefix points outside the
	// container or beyond the destination buffer
	ErrMalformedFrame = errors.New("lc3bin: malformed frame")
)

// Header describes the stream stored in a container
type Header struct {
	FileID        uint16
	HeaderSize    int // Offset of the first frame
	SampleRate    int // Hz
	Bitrate       int // bit/s
	Channels      int
	FrameDuration int // microseconds
	Samples       int // total samples per channel
}

// FrameLength returns the frame duration as a time.Duration
func (h Header) FrameLength() time.Duration {
	return time.Duration(h.FrameDuration) * time.Microsecond
}

// Duration returns the playback length of the container
func (h Header) Duration() time.Duration {
	if h.SampleRate == 0 {
		return 0
	}
	return time.Duration(int64(h.Samples) * int64(time.Second) / int64(h.SampleRate))
}

// ReadHeader parses the container header.
// The header size field is honoured when it is larger than the fixed
// header, so containers with trailing header extensions stay readable.
func ReadHeader(blob []byte) (Header, error) {
	if len(blob) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes, header needs %d", ErrTruncatedContainer, len(blob), HeaderSize)
	}

	le := binary.LittleEndian
	hdr := Header{
		FileID:        le.Uint16(blob[0:2]),
		HeaderSize:    int(le.Uint16(blob[2:4])),
		SampleRate:    int(le.Uint16(blob[4:6])) * 100,
		Bitrate:       int(le.Uint16(blob[6:8])) * 100,
		Channels:      int(le.Uint16(blob[8:10])),
		FrameDuration: int(le.Uint16(blob[10:12])) * 10,
		// blob[12:14] is reserved
		Samples: int(uint32(le.Uint16(blob[14:16])) | uint32(le.Uint16(blob[16:18]))<<16),
	}

	if hdr.HeaderSize < HeaderSize {
		hdr.HeaderSize = HeaderSize
	}
	if hdr.HeaderSize > len(blob) {
		return Header{}, fmt.Errorf("%w: header declares %d bytes, container has %d",
			ErrTruncatedContainer, hdr.HeaderSize, len(blob))
	}

	return hdr, nil
}

// Encode serializes the header into its 18-byte wire form.
// HeaderSize is always written as 18.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	le := binary.LittleEndian

	fileID := h.FileID
	if fileID == 0 {
		fileID = FileID
	}

	le.PutUint16(buf[0:2], fileID)
	le.PutUint16(buf[2:4], HeaderSize)
	le.PutUint16(buf[4:6], uint16(h.SampleRate/100))
	le.PutUint16(buf[6:8], uint16(h.Bitrate/100))
	le.PutUint16(buf[8:10], uint16(h.Channels))
	le.PutUint16(buf[10:12], uint16(h.FrameDuration/10))
	le.PutUint16(buf[14:16], uint16(uint32(h.Samples)&0xFFFF))
	le.PutUint16(buf[16:18], uint16(uint32(h.Samples)>>16))
	return buf
}
