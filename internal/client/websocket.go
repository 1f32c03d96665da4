// ABOUTME: WebSocket listener client for an lc3cast broadcast
// ABOUTME: Handles connection, handshake, packet delivery and sequence gap tracking
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/Resonate-Protocol/lc3cast/pkg/protocol"
	"github.com/gorilla/websocket"
)

// DefaultPath is the WebSocket endpoint served by the broadcaster
const DefaultPath = "/lc3cast"

// Config holds client configuration
type Config struct {
	ServerAddr string
	Path       string
	ListenerID string
	Name       string
	DeviceInfo protocol.DeviceInfo
}

// Client is a broadcast listener
type Client struct {
	config Config
	conn   *websocket.Conn
	mu     sync.RWMutex

	// Message channels
	Packets      chan protocol.Packet
	TimeSyncResp chan protocol.BroadcastTime
	Stops        chan protocol.BroadcastStop

	hello protocol.BroadcastHello

	statsMu  sync.Mutex
	received uint64
	lost     uint64
	lastSeq  map[int]uint16

	// State
	connected bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// Stats counts received packets and sequence gaps across all channels
type Stats struct {
	Received uint64
	Lost     uint64
}

// NewClient creates a new listener client
func NewClient(config Config) *Client {
	if config.Path == "" {
		config.Path = DefaultPath
	}
	if config.Name == "" {
		config.Name = config.ListenerID
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		config:       config,
		Packets:      make(chan protocol.Packet, 100),
		TimeSyncResp: make(chan protocol.BroadcastTime, 10),
		Stops:        make(chan protocol.BroadcastStop, 10),
		lastSeq:      make(map[int]uint16),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Connect establishes the WebSocket connection and performs the handshake
func (c *Client) Connect() error {
	u := url.URL{Scheme: "ws", Host: c.config.ServerAddr, Path: c.config.Path}
	log.Printf("Connecting to %s", u.String())

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	if err := c.handshake(); err != nil {
		c.Close()
		return fmt.Errorf("handshake failed: %w", err)
	}

	go c.readMessages()

	return nil
}

// handshake sends listener/hello and waits for broadcast/hello
func (c *Client) handshake() error {
	hello := protocol.ListenerHello{
		ListenerID: c.config.ListenerID,
		Name:       c.config.Name,
		Version:    protocol.ProtocolVersion,
		DeviceInfo: &c.config.DeviceInfo,
	}

	if err := c.sendJSON(protocol.Message{Type: protocol.TypeListenerHello, Payload: hello}); err != nil {
		return fmt.Errorf("failed to send %s: %w", protocol.TypeListenerHello, err)
	}

	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", protocol.TypeBroadcastHello, err)
	}
	c.conn.SetReadDeadline(time.Time{})

	var envelope struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("failed to parse %s: %w", protocol.TypeBroadcastHello, err)
	}

	switch envelope.Type {
	case protocol.TypeBroadcastHello:
	case protocol.TypeError:
		var e protocol.ErrorPayload
		json.Unmarshal(envelope.Payload, &e)
		return fmt.Errorf("rejected by broadcaster: %s (%s)", e.Message, e.Error)
	default:
		return fmt.Errorf("expected %s, got %s", protocol.TypeBroadcastHello, envelope.Type)
	}

	var bh protocol.BroadcastHello
	if err := json.Unmarshal(envelope.Payload, &bh); err != nil {
		return fmt.Errorf("failed to parse %s payload: %w", protocol.TypeBroadcastHello, err)
	}

	c.mu.Lock()
	c.hello = bh
	c.mu.Unlock()

	log.Printf("Joined broadcast %q (ID 0x%06X, %d channels, %d Hz, %d bytes/frame)",
		bh.Name, bh.BroadcastID, bh.Channels, bh.Codec.SampleRate, bh.Codec.OctetsPerFrame)

	return nil
}

// Hello returns the broadcast description received during the handshake
func (c *Client) Hello() protocol.BroadcastHello {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hello
}

// sendJSON sends a JSON message
func (c *Client) sendJSON(msg protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return fmt.Errorf("not connected")
	}

	return c.conn.WriteJSON(msg)
}

// readMessages reads and routes incoming messages
func (c *Client) readMessages() {
	defer c.Close()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			log.Printf("Read error: %v", err)
			return
		}

		if messageType == websocket.BinaryMessage {
			c.handleBinaryMessage(data)
		} else if messageType == websocket.TextMessage {
			c.handleJSONMessage(data)
		}
	}
}

// handleBinaryMessage handles SDU packets
func (c *Client) handleBinaryMessage(data []byte) {
	pkt, err := protocol.ParsePacket(data)
	if err != nil {
		log.Printf("Invalid binary message: %v", err)
		return
	}

	c.track(pkt)

	select {
	case c.Packets <- pkt:
	case <-c.ctx.Done():
	}
}

// track counts packets and the sequence numbers skipped since the last one
func (c *Client) track(pkt protocol.Packet) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()

	c.received++
	if last, ok := c.lastSeq[pkt.Channel]; ok {
		// uint16 arithmetic handles wraparound
		if gap := pkt.Sequence - last - 1; gap != 0 && gap < 0x8000 {
			c.lost += uint64(gap)
		}
	}
	c.lastSeq[pkt.Channel] = pkt.Sequence
}

// Stats returns packet counters
func (c *Client) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return Stats{Received: c.received, Lost: c.lost}
}

// handleJSONMessage routes JSON messages
func (c *Client) handleJSONMessage(data []byte) {
	var msg struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("Failed to parse JSON message: %v", err)
		return
	}

	switch msg.Type {
	case protocol.TypeBroadcastTime:
		var timeMsg protocol.BroadcastTime
		json.Unmarshal(msg.Payload, &timeMsg)
		select {
		case c.TimeSyncResp <- timeMsg:
		case <-c.ctx.Done():
		}

	case protocol.TypeBroadcastStop:
		var stop protocol.BroadcastStop
		json.Unmarshal(msg.Payload, &stop)
		log.Printf("Channel %d stopped by broadcaster (reason 0x%02x)", stop.Channel, stop.Reason)

		// A new start restarts numbering at zero
		c.statsMu.Lock()
		delete(c.lastSeq, stop.Channel)
		c.statsMu.Unlock()

		select {
		case c.Stops <- stop:
		default:
		}

	default:
		log.Printf("Unknown message type: %s", msg.Type)
	}
}

// SendTimeSync sends a listener/time message
func (c *Client) SendTimeSync(t1 int64) error {
	return c.sendJSON(protocol.Message{
		Type:    protocol.TypeListenerTime,
		Payload: protocol.ListenerTime{ListenerTransmitted: t1},
	})
}

// Done is closed once the connection is gone
func (c *Client) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Close closes the connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		c.connected = false
		c.cancel()
		c.conn.Close()
		log.Printf("Connection closed")
	}
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}
