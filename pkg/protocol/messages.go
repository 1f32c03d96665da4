// ABOUTME: lc3cast protocol message type definitions
// ABOUTME: Defines structs for JSON control messages exchanged with listeners
package protocol

// ProtocolVersion is the version of the wire protocol
const ProtocolVersion = 1

// Message types
const (
	TypeListenerHello  = "listener/hello"
	TypeListenerTime   = "listener/time"
	TypeBroadcastHello = "broadcast/hello"
	TypeBroadcastTime  = "broadcast/time"
	TypeBroadcastStop  = "broadcast/stop"
	TypeError          = "broadcast/error"
)

// Message is the top-level wrapper for all protocol messages
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// ListenerHello is sent by listeners to initiate the handshake
type ListenerHello struct {
	ListenerID string      `json:"listener_id"`
	Name       string      `json:"name"`
	Version    int         `json:"version"`
	DeviceInfo *DeviceInfo `json:"device_info,omitempty"`
}

// DeviceInfo contains device identification
type DeviceInfo struct {
	ProductName     string `json:"product_name"`
	Manufacturer    string `json:"manufacturer"`
	SoftwareVersion string `json:"software_version"`
}

// CodecConfig describes the LC3 stream carried by every channel
type CodecConfig struct {
	Codec             string `json:"codec"`             // always "lc3"
	SampleRate        int    `json:"sample_rate"`       // Hz
	FrameDuration     int    `json:"frame_duration_us"` // microseconds
	OctetsPerFrame    int    `json:"octets_per_frame"`  // SDU size
	Bitrate           int    `json:"bitrate,omitempty"` // bit/s
	PresentationDelay int    `json:"presentation_delay_us"`
}

// BroadcastHello is the broadcaster's response to listener/hello
type BroadcastHello struct {
	BroadcastID uint32      `json:"broadcast_id"`
	Name        string      `json:"name"`
	Version     int         `json:"version"`
	Channels    int         `json:"channels"`
	Codec       CodecConfig `json:"codec"`
}

// ListenerTime is sent for clock synchronization
type ListenerTime struct {
	ListenerTransmitted int64 `json:"listener_transmitted"` // microseconds
}

// BroadcastTime is the response to listener/time
type BroadcastTime struct {
	ListenerTransmitted  int64 `json:"listener_transmitted"`
	BroadcastReceived    int64 `json:"broadcast_received"`
	BroadcastTransmitted int64 `json:"broadcast_transmitted"`
}

// BroadcastStop tells listeners a channel stopped streaming
type BroadcastStop struct {
	Channel int   `json:"channel"`
	Reason  uint8 `json:"reason"`
}

// ErrorPayload reports a rejected handshake
type ErrorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
