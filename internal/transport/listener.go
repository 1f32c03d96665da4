// ABOUTME: Listener connections for the WebSocket broadcaster
// ABOUTME: Handshake, per-listener writer goroutine and clock sync replies
package transport

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/Resonate-Protocol/lc3cast/pkg/protocol"
	"github.com/gorilla/websocket"
)

const (
	listenerQueueSize = 100
	writeDeadline     = 10 * time.Second
	pingInterval      = 30 * time.Second
)

// listener is a connected receiver of the broadcast
type listener struct {
	id        string
	name      string
	conn      *websocket.Conn
	sendChan  chan interface{}
	connected time.Time
}

// ListenerInfo describes a connected listener
type ListenerInfo struct {
	ID        string
	Name      string
	Connected time.Time
	Backlog   int
}

// Listeners returns the currently connected listeners
func (b *Broadcaster) Listeners() []ListenerInfo {
	b.listenersMu.RLock()
	defer b.listenersMu.RUnlock()

	infos := make([]ListenerInfo, 0, len(b.listeners))
	for _, l := range b.listeners {
		infos = append(infos, ListenerInfo{
			ID:        l.id,
			Name:      l.name,
			Connected: l.connected,
			Backlog:   len(l.sendChan),
		})
	}
	return infos
}

// ServeHTTP upgrades the request and serves one listener
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if b.stopped.Load() {
		http.Error(w, "broadcast stopped", http.StatusServiceUnavailable)
		return
	}

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	log.Printf("New listener connection from %s", r.RemoteAddr)
	b.handleConnection(conn)
}

// handleConnection performs the handshake and runs the read loop
func (b *Broadcaster) handleConnection(conn *websocket.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		log.Printf("Error reading hello: %v", err)
		return
	}
	conn.SetReadDeadline(time.Time{})

	var hello protocol.ListenerHello
	msgType, err := decodeMessage(data, &hello)
	if err != nil {
		log.Printf("Error decoding hello: %v", err)
		return
	}
	if msgType != protocol.TypeListenerHello {
		log.Printf("Expected %s, got %s", protocol.TypeListenerHello, msgType)
		return
	}
	if hello.ListenerID == "" {
		log.Printf("Listener hello missing ListenerID")
		return
	}
	if hello.Name == "" {
		hello.Name = hello.ListenerID
	}

	l := &listener{
		id:        hello.ListenerID,
		name:      hello.Name,
		conn:      conn,
		sendChan:  make(chan interface{}, listenerQueueSize),
		connected: time.Now(),
	}

	b.listenersMu.Lock()
	if _, exists := b.listeners[l.id]; exists {
		b.listenersMu.Unlock()
		log.Printf("Listener ID %s already connected, rejecting duplicate", l.id)

		if data, err := json.Marshal(protocol.Message{
			Type: protocol.TypeError,
			Payload: protocol.ErrorPayload{
				Error:   "duplicate_listener_id",
				Message: "Listener ID already connected",
			},
		}); err == nil {
			conn.WriteMessage(websocket.TextMessage, data)
		}
		return
	}
	b.listeners[l.id] = l
	b.listenersMu.Unlock()

	done := make(chan struct{})
	defer func() {
		b.listenersMu.Lock()
		delete(b.listeners, l.id)
		b.listenersMu.Unlock()
		close(done)
		log.Printf("Listener disconnected: %s", l.name)
	}()

	log.Printf("Listener hello: %s (ID: %s)", l.name, l.id)

	info := b.config.Hello
	info.Version = protocol.ProtocolVersion
	if err := l.sendJSON(protocol.TypeBroadcastHello, info); err != nil {
		log.Printf("Error sending broadcast hello: %v", err)
		return
	}

	b.listenerWG.Add(1)
	go func() {
		defer b.listenerWG.Done()
		b.listenerWriter(l, done)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}
		b.handleListenerMessage(l, data)
	}
}

// listenerWriter sends queued messages to the listener
func (b *Broadcaster) listenerWriter(l *listener, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case msg := <-l.sendChan:
			l.conn.SetWriteDeadline(time.Now().Add(writeDeadline))

			switch v := msg.(type) {
			case []byte:
				if err := l.conn.WriteMessage(websocket.BinaryMessage, v); err != nil {
					log.Printf("Error writing SDU to %s: %v", l.name, err)
					l.conn.Close()
					return
				}
			default:
				data, err := json.Marshal(v)
				if err != nil {
					log.Printf("Error marshaling message: %v", err)
					continue
				}
				if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
					log.Printf("Error writing text message to %s: %v", l.name, err)
					l.conn.Close()
					return
				}
			}

		case <-ticker.C:
			if err := l.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeDeadline)); err != nil {
				return
			}
		}
	}
}

// handleListenerMessage processes control messages from a listener
func (b *Broadcaster) handleListenerMessage(l *listener, data []byte) {
	var payload json.RawMessage
	msgType, err := decodeMessage(data, &payload)
	if err != nil {
		log.Printf("Error decoding message from %s: %v", l.name, err)
		return
	}

	switch msgType {
	case protocol.TypeListenerTime:
		received := b.clockMicros()

		var lt protocol.ListenerTime
		if err := json.Unmarshal(payload, &lt); err != nil {
			log.Printf("Error decoding listener time: %v", err)
			return
		}

		if err := l.sendJSON(protocol.TypeBroadcastTime, protocol.BroadcastTime{
			ListenerTransmitted:  lt.ListenerTransmitted,
			BroadcastReceived:    received,
			BroadcastTransmitted: b.clockMicros(),
		}); err != nil {
			log.Printf("Error sending broadcast time: %v", err)
		}
	default:
		log.Printf("Unknown message type from %s: %s", l.name, msgType)
	}
}

// CloseListeners disconnects every listener and waits for their writers to exit
func (b *Broadcaster) CloseListeners() {
	b.listenersMu.RLock()
	for _, l := range b.listeners {
		l.conn.Close()
	}
	b.listenersMu.RUnlock()

	b.listenerWG.Wait()
}

// broadcastJSON queues a control message for every listener
func (b *Broadcaster) broadcastJSON(msgType string, payload interface{}) {
	b.listenersMu.RLock()
	defer b.listenersMu.RUnlock()

	for _, l := range b.listeners {
		if err := l.sendJSON(msgType, payload); err != nil {
			log.Printf("Error sending %s to %s: %v", msgType, l.name, err)
		}
	}
}

func (l *listener) sendJSON(msgType string, payload interface{}) error {
	select {
	case l.sendChan <- protocol.Message{Type: msgType, Payload: payload}:
		return nil
	default:
		return fmt.Errorf("listener send buffer full")
	}
}

func (l *listener) sendBinary(data []byte) error {
	select {
	case l.sendChan <- data:
		return nil
	default:
		return fmt.Errorf("listener send buffer full")
	}
}

// decodeMessage unmarshals the envelope and its payload into v
func decodeMessage(data []byte, v interface{}) (string, error) {
	var envelope struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", fmt.Errorf("invalid message: %w", err)
	}

	if raw, ok := v.(*json.RawMessage); ok {
		*raw = envelope.Payload
		return envelope.Type, nil
	}

	if len(envelope.Payload) > 0 {
		if err := json.Unmarshal(envelope.Payload, v); err != nil {
			return envelope.Type, fmt.Errorf("invalid %s payload: %w", envelope.Type, err)
		}
	}
	return envelope.Type, nil
}
