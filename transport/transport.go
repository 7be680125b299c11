// Package transport defines the small interface the core consumes from a
// byte-stream transport and a net.Conn-backed implementation for TCP and
// Unix domain stream sockets.
package transport

import (
	"errors"
	"net"
	"time"
)

// ErrCancelNotSupported is returned by Cancel on a transport whose
// underlying connection cannot interrupt an in-flight read. Sessions for
// non-cancelable transports must degrade gracefully; Go surfaces the
// absence at runtime via this sentinel, since there is no compile-time
// trait system to detect it earlier.
var ErrCancelNotSupported = errors.New("transport does not support cancellation")

// Transport is the abstract byte-stream contract consumed by rpcsession.
// TCP, Unix domain sockets, and framed adapters (TLS, WebSocket) all
// satisfy it without the core ever depending on a concrete transport type.
type Transport interface {
	// ReadSome performs one non-blocking-style read into buf, returning the
	// number of bytes read.
	ReadSome(buf []byte) (int, error)
	// WriteAll writes every buffer in bufs, in order, as a single logical
	// write.
	WriteAll(bufs [][]byte) (int, error)
	// Close closes the transport. Idempotent.
	Close() error
	// Cancel aborts an in-flight read, if the transport supports it.
	// Returns ErrCancelNotSupported otherwise.
	Cancel() error
	// IsOpen reports whether the transport has not yet been closed.
	IsOpen() bool
}

// Conn adapts a net.Conn (TCP or Unix stream socket) to Transport.
type Conn struct {
	conn   net.Conn
	closed bool
}

// NewConn wraps conn, disabling Nagle's algorithm when the connection
// supports it.
func NewConn(conn net.Conn) *Conn {
	setNoDelay(conn)
	return &Conn{conn: conn}
}

// ReadSome clears any read deadline left over from a prior Cancel before
// reading: Cancel aborts a blocked read by forcing the deadline into the
// past, and that past deadline would otherwise still be in effect the next
// time a read loop starts (e.g. Idle -> Reading re-entry after a cancel
// drains the pending table), failing the very next read instantly instead
// of blocking normally.
func (c *Conn) ReadSome(buf []byte) (int, error) {
	_ = c.conn.SetReadDeadline(time.Time{})
	return c.conn.Read(buf)
}

func (c *Conn) WriteAll(bufs [][]byte) (int, error) {
	total := 0
	for _, b := range bufs {
		n, err := c.conn.Write(b)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (c *Conn) Close() error {
	c.closed = true
	return c.conn.Close()
}

func (c *Conn) IsOpen() bool {
	return !c.closed
}

// Cancel aborts a blocked Read by forcing its deadline into the past, the
// standard net.Conn idiom for interrupting in-flight I/O.
func (c *Conn) Cancel() error {
	return c.conn.SetReadDeadline(time.Unix(0, 1))
}

func setNoDelay(conn net.Conn) {
	type noDelaySetter interface {
		SetNoDelay(bool) error
	}
	if nd, ok := conn.(noDelaySetter); ok {
		_ = nd.SetNoDelay(true)
	}
}
