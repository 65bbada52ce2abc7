package gateway

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-proofcast/pkg/domain"
)

// Connection is one live streaming client. It carries a bounded outbound
// buffer; the transport pumps drain it. A connection belongs to exactly one
// channel for its whole lifetime.
type Connection struct {
	id      string
	siteID  string
	channel string
	sandbox bool

	state         atomic.Int32
	lastHeartbeat atomic.Int64
	createdAt     time.Time

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newConnection(siteID string, sandbox bool, bufferSize int) *Connection {
	if bufferSize <= 0 {
		bufferSize = defaultSendBuffer
	}
	c := &Connection{
		id:        uuid.NewString(),
		siteID:    siteID,
		channel:   domain.ChannelFor(siteID),
		sandbox:   sandbox,
		createdAt: time.Now().UTC(),
		send:      make(chan []byte, bufferSize),
		done:      make(chan struct{}),
	}
	c.state.Store(int32(domain.StateConnecting))
	c.touch()
	return c
}

func (c *Connection) ID() string      { return c.id }
func (c *Connection) SiteID() string  { return c.siteID }
func (c *Connection) Channel() string { return c.channel }
func (c *Connection) Sandbox() bool   { return c.sandbox }

// State reports the lifecycle state.
func (c *Connection) State() domain.ConnectionState {
	return domain.ConnectionState(c.state.Load())
}

// LastHeartbeatAt reports when the write path last succeeded.
func (c *Connection) LastHeartbeatAt() time.Time {
	return time.Unix(0, c.lastHeartbeat.Load()).UTC()
}

func (c *Connection) touch() {
	c.lastHeartbeat.Store(time.Now().UTC().UnixNano())
}

func (c *Connection) setOpen() {
	c.state.CompareAndSwap(int32(domain.StateConnecting), int32(domain.StateOpen))
}

// Deliver wraps the published event payload in a notification frame and hands
// it to the outbound buffer without blocking. On overflow the connection
// closes itself rather than delay delivery to siblings, and Deliver reports
// false.
func (c *Connection) Deliver(payload []byte) bool {
	return c.enqueue(notificationFrame(payload))
}

func (c *Connection) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		// Already closing; drop silently.
		return true
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.Close()
		return false
	}
}

// Close transitions to the terminal state. Idempotent; pumps observe done and
// exit.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(domain.StateClosed))
		close(c.done)
	})
}

// Done exposes the close signal to transport pumps.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}
