// ABOUTME: Transport lifecycle and completion events
// ABOUTME: The callbacks a transport raises toward the streaming pipeline
package transport

import "fmt"

// EventKind identifies a transport notification
type EventKind int

const (
	// EventStarted means the channel is established and accepts SDUs
	EventStarted EventKind = iota
	// EventStopped means the channel was torn down
	EventStopped
	// EventSent means a previously submitted buffer has been handled
	EventSent
)

// ReasonLocalHostTerminated is the stop reason when the broadcaster shuts
// a channel down itself (HCI "connection terminated by local host")
const ReasonLocalHostTerminated uint8 = 0x16

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventStopped:
		return "stopped"
	case EventSent:
		return "sent"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is a notification from the transport about one channel
type Event struct {
	Kind    EventKind
	Channel int
	Reason  uint8 // EventStopped only
}

// Handler receives transport events. Events for one channel are never
// delivered concurrently; events for different channels may be.
type Handler interface {
	Handle(Event)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(Event)

// Handle calls f(ev)
func (f HandlerFunc) Handle(ev Event) { f(ev) }
