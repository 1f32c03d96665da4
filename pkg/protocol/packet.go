// ABOUTME: Binary SDU packet layout
// ABOUTME: Encodes and decodes the fixed packet header in front of each SDU
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// PacketMessageType marks a binary message carrying one SDU
	PacketMessageType = 1

	// PacketHeaderSize is the number of bytes in front of the SDU
	PacketHeaderSize = 12
)

// ErrShortPacket is returned for binary messages smaller than the header
var ErrShortPacket = errors.New("protocol: packet too short")

// Packet is one SDU received on a channel
type Packet struct {
	Channel   int
	Sequence  uint16
	Timestamp int64 // broadcaster clock, microseconds
	Data      []byte
}

// PutPacketHeader writes the packet header into dst, which must be at
// least PacketHeaderSize bytes
func PutPacketHeader(dst []byte, channel int, seq uint16, timestamp int64) {
	dst[0] = PacketMessageType
	dst[1] = byte(channel)
	binary.BigEndian.PutUint16(dst[2:4], seq)
	binary.BigEndian.PutUint64(dst[4:12], uint64(timestamp))
}

// ParsePacket decodes a binary message. Data aliases msg.
func ParsePacket(msg []byte) (Packet, error) {
	if len(msg) < PacketHeaderSize {
		return Packet{}, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(msg))
	}
	if msg[0] != PacketMessageType {
		return Packet{}, fmt.Errorf("protocol: unknown binary message type %d", msg[0])
	}

	return Packet{
		Channel:   int(msg[1]),
		Sequence:  binary.BigEndian.Uint16(msg[2:4]),
		Timestamp: int64(binary.BigEndian.Uint64(msg[4:12])),
		Data:      msg[PacketHeaderSize:],
	}, nil
}
