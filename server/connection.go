package server

import (
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/beriberikix/usbipd-mac/internal/hook"
	"github.com/beriberikix/usbipd-mac/usbiperr"
)

var connectionSeq int64

// ClientConnection wraps one accepted TCP socket (spec.md §4.F). Each
// has a stable identifier for log correlation and fires on_data_received
// in arrival order, then exactly one on_error (if any) followed by
// disconnection.
type ClientConnection struct {
	id   string
	conn net.Conn

	mu     sync.Mutex
	closed bool

	onDataReceived hook.Slot[func([]byte)]
	onError        hook.Slot[func(error)]
}

func newClientConnection(conn net.Conn) *ClientConnection {
	id := atomic.AddInt64(&connectionSeq, 1)
	return &ClientConnection{id: formatConnID(id), conn: conn}
}

// ID returns the connection's stable identifier.
func (c *ClientConnection) ID() string { return c.id }

// RemoteAddr returns the peer address, for logging.
func (c *ClientConnection) RemoteAddr() string {
	if c.conn == nil {
		return ""
	}
	return c.conn.RemoteAddr().String()
}

// Send writes data to the socket. Raises ConnectionClosed if the
// connection has already been closed.
func (c *ClientConnection) Send(data []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return usbiperr.New(usbiperr.KindConnectionClosed, "send on closed connection "+c.id)
	}
	if _, err := c.conn.Write(data); err != nil {
		return usbiperr.Wrap(usbiperr.KindConnectionFailed, "write failed on connection "+c.id, err)
	}
	return nil
}

// Close closes the underlying socket. Idempotent.
func (c *ClientConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// OnDataReceived installs the callback fired with each chunk read from
// the socket, in arrival order. No implicit message framing is applied;
// the installed callback must handle whatever chunking arrives.
func (c *ClientConnection) OnDataReceived(fn func([]byte)) { c.onDataReceived.Set(fn) }

// OnError installs the callback fired on a transport error, before the
// connection's single on_disconnected notification.
func (c *ClientConnection) OnError(fn func(error)) { c.onError.Set(fn) }

func formatConnID(n int64) string {
	return "conn-" + strconv.FormatInt(n, 16)
}
