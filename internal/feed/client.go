package feed

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Client is one feed subscriber. GuildID is empty when the client follows
// every guild. Incident frames go through a bounded queue drained by the
// client's own writer, so a slow subscriber only delays itself.
type Client struct {
	ID        string
	GuildID   string
	Conn      net.Conn
	CreatedAt time.Time
	lastSeen  atomic.Int64 // unix nanos of the last frame read
	writeMu   sync.Mutex

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(id, guildID string, conn net.Conn, now time.Time, queue int) *Client {
	if queue < 1 {
		queue = 1
	}
	c := &Client{
		ID:        id,
		GuildID:   guildID,
		Conn:      conn,
		CreatedAt: now,
		send:      make(chan []byte, queue),
		done:      make(chan struct{}),
	}
	c.touch(now)
	return c
}

func (c *Client) touch(now time.Time) { c.lastSeen.Store(now.UnixNano()) }

// LastSeen returns when a frame was last read from the client.
func (c *Client) LastSeen() time.Time { return time.Unix(0, c.lastSeen.Load()) }

// follows reports whether the client wants incidents from guildID.
func (c *Client) follows(guildID string) bool {
	return c.GuildID == "" || c.GuildID == guildID
}

// enqueue queues a text frame for the writer. It never blocks and reports
// false when the queue is full.
func (c *Client) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// writeLoop writes queued frames until the client is closed or a write
// fails.
func (c *Client) writeLoop(timeout time.Duration, onError func(error)) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			if err := c.WriteMessage(data, timeout); err != nil {
				onError(err)
				return
			}
		}
	}
}

// WriteMessage sends a text frame. The write mutex keeps concurrent
// broadcasts and pings from interleaving frame bytes.
func (c *Client) WriteMessage(data []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if timeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(timeout))
		defer c.Conn.SetWriteDeadline(time.Time{})
	}
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// WritePing sends a protocol-level ping frame.
func (c *Client) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}

// Close stops the writer and closes the underlying connection.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if c.done != nil {
			close(c.done)
		}
	})
	return c.Conn.Close()
}
