// ABOUTME: MQTT publisher for telemetry reports
// ABOUTME: Wraps a paho client with auto-reconnect and bounded publish waits
package telemetry

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// MQTTPublisher publishes reports to an MQTT broker
type MQTTPublisher struct {
	broker string
	client mqtt.Client

	mu        sync.RWMutex
	connected bool
}

// NewMQTTPublisher creates a publisher for broker (host:port or a full URL)
func NewMQTTPublisher(broker, clientID string) *MQTTPublisher {
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	p := &MQTTPublisher{broker: broker}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		p.setConnected(true)
		log.Printf("MQTT connected to %s (client %s)", broker, clientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		p.setConnected(false)
		log.Printf("MQTT connection lost: %v, reconnecting", err)
	}

	p.client = mqtt.NewClient(opts)
	return p
}

// Connect waits for the first broker connection
func (p *MQTTPublisher) Connect() error {
	log.Printf("Connecting to MQTT broker %s", p.broker)

	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		// Stop the background retry loop
		p.client.Disconnect(0)
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	p.setConnected(true)
	return nil
}

// Publish sends payload to topic
func (p *MQTTPublisher) Publish(topic string, qos byte, payload []byte) error {
	if !p.isConnected() {
		return fmt.Errorf("mqtt not connected")
	}

	token := p.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	return nil
}

// Disconnect closes the broker connection
func (p *MQTTPublisher) Disconnect() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
		log.Printf("MQTT disconnected")
	}
	p.setConnected(false)
}

func (p *MQTTPublisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

func (p *MQTTPublisher) isConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}
