// Package realtime contains the relay WebSocket gateway, the live-connection
// registry, and the broadcast fan-out that pushes persisted messages to
// online recipients.
package realtime

import "sync"

// Conn represents one live websocket connection bound to exactly one identity.
//
// Design notes:
//   - send is intentionally NOT closed by the server to avoid panics from
//     concurrent broadcasters.
//   - done signals goroutines to stop; Close is idempotent.
type Conn struct {
	ID       string // ULID, unique per connection
	UserID   string
	DeviceID string

	send chan []byte // encoded outbound frames

	done      chan struct{}
	closeOnce sync.Once
}

// NewConn constructs a Conn with a bounded send queue.
func NewConn(id, userID, deviceID string, sendQueueSize int) *Conn {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Conn{
		ID:       id,
		UserID:   userID,
		DeviceID: deviceID,
		send:     make(chan []byte, sendQueueSize),
		done:     make(chan struct{}),
	}
}

// Outbox exposes the send queue to the connection's writer goroutine.
func (c *Conn) Outbox() <-chan []byte { return c.send }

// Enqueue offers a frame to the send queue without blocking. It reports false
// when the connection is shutting down or the queue is full (backpressure:
// drop rather than stall every other connection of the same identity).
func (c *Conn) Enqueue(frame []byte) bool {
	if c == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the connection is shutting down.
func (c *Conn) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the connection goroutines to stop (idempotent).
// It does NOT close the send queue to keep broadcast safe under concurrency.
func (c *Conn) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
