// ABOUTME: Broadcast identifier derivation from a hardware identifier
// ABOUTME: Takes 3 bytes of device ID little-endian with a fixed fallback
package identity

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"strings"

	"github.com/google/uuid"
)

const (
	// FallbackBroadcastID is used when no hardware identifier can be read
	FallbackBroadcastID uint32 = 0xDEADBF

	// BroadcastIDBytes is the width of a broadcast identifier
	BroadcastIDBytes = 3
)

// ErrHardwareIDUnavailable means the platform exposes no usable device ID
var ErrHardwareIDUnavailable = errors.New("identity: hardware id unavailable")

// HardwareIDSource reads up to n bytes of a device-unique identifier
type HardwareIDSource interface {
	HardwareID(n int) ([]byte, error)
}

// DeriveBroadcastID builds the 24-bit broadcast identifier from the first
// three bytes of the hardware ID, least significant first. Any failure,
// or a read of any other length, yields FallbackBroadcastID.
func DeriveBroadcastID(src HardwareIDSource) uint32 {
	if src == nil {
		log.Printf("No hardware ID source, using fallback broadcast ID 0x%06X", FallbackBroadcastID)
		return FallbackBroadcastID
	}

	id, err := src.HardwareID(BroadcastIDBytes)
	if err != nil {
		log.Printf("Unable to read device ID: %v, using fallback broadcast ID 0x%06X", err, FallbackBroadcastID)
		return FallbackBroadcastID
	}
	if len(id) != BroadcastIDBytes {
		log.Printf("Device ID read returned %d bytes, want %d, using fallback broadcast ID 0x%06X",
			len(id), BroadcastIDBytes, FallbackBroadcastID)
		return FallbackBroadcastID
	}

	return uint32(id[0]) | uint32(id[1])<<8 | uint32(id[2])<<16
}

// Static is a fixed hardware identifier
type Static []byte

// HardwareID returns a copy of s regardless of the requested length
func (s Static) HardwareID(int) ([]byte, error) {
	if len(s) == 0 {
		return nil, ErrHardwareIDUnavailable
	}
	return append([]byte(nil), s...), nil
}

// FromBroadcastID returns a source that derives exactly id
func FromBroadcastID(id uint32) Static {
	return Static{byte(id), byte(id >> 8), byte(id >> 16)}
}

// machineIDPaths are checked in order
var machineIDPaths = []string{"/etc/machine-id", "/var/lib/dbus/machine-id"}

// MachineID reads the systemd/dbus machine identifier
type MachineID struct {
	Paths []string // overrides machineIDPaths when set
}

// HardwareID returns the first n bytes of the parsed machine ID
func (m MachineID) HardwareID(n int) ([]byte, error) {
	paths := m.Paths
	if len(paths) == 0 {
		paths = machineIDPaths
	}

	var lastErr error
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			lastErr = err
			continue
		}

		id, err := uuid.Parse(strings.TrimSpace(string(data)))
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", path, err)
			continue
		}

		if n > len(id) {
			n = len(id)
		}
		return append([]byte(nil), id[:n]...), nil
	}

	if lastErr == nil {
		return nil, ErrHardwareIDUnavailable
	}
	return nil, fmt.Errorf("%w: %w", ErrHardwareIDUnavailable, lastErr)
}

// BroadcastAudioURI formats the broadcast audio URI advertised for QR codes
// and out-of-band sharing. addr is printed most significant byte first.
func BroadcastAudioURI(name string, addr net.HardwareAddr, sid uint8, broadcastID uint32) string {
	var ad strings.Builder
	for _, b := range addr {
		fmt.Fprintf(&ad, "%02X", b)
	}
	if ad.Len() == 0 {
		ad.WriteString("000000000000")
	}

	return fmt.Sprintf("BLUETOOTH:UUID:184F;BN:%s;SQ:1;AT:1;AD:%s;AS:%d;BI:%06X;PI:FFFF;NS:1;BS:1;;",
		base64.StdEncoding.EncodeToString([]byte(name)), ad.String(), sid, broadcastID)
}

// InterfaceAddress returns the hardware address of the first up,
// non-loopback interface, or nil
func InterfaceAddress() net.HardwareAddr {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) == 6 {
			return iface.HardwareAddr
		}
	}
	return nil
}
