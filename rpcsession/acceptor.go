package rpcsession

import (
	"net"

	"github.com/firi/packio/codec"
	"github.com/firi/packio/dispatch"
	"github.com/firi/packio/transport"
)

// Acceptor turns a net.Listener into a stream of ServerSessions, each
// wrapping one accepted connection with the dialect and Dispatcher supplied
// at construction time. Grounded on a daemon's accept loop
// (internal/daemon/daemon.go), generalized from a single hardcoded handler
// to an arbitrary Dispatcher.
type Acceptor struct {
	ln      net.Listener
	dialect codec.Dialect
	disp    *dispatch.Dispatcher
	opts    []ServerOption
}

// NewAcceptor builds an Acceptor around an already-listening net.Listener.
func NewAcceptor(ln net.Listener, dialect codec.Dialect, disp *dispatch.Dispatcher, opts ...ServerOption) *Acceptor {
	return &Acceptor{ln: ln, dialect: dialect, disp: disp, opts: opts}
}

// AcceptOne accepts a single connection and returns a ServerSession wrapping
// it. The caller is responsible for calling Start.
func (a *Acceptor) AcceptOne() (*ServerSession, error) {
	conn, err := a.ln.Accept()
	if err != nil {
		return nil, err
	}
	t := transport.NewConn(conn)
	return NewServerSession(t, a.dialect, a.disp, a.opts...), nil
}

// AcceptForever accepts connections in a loop, starting each session
// immediately and handing it to onSession (which may be nil) before
// accepting the next one. It returns the first Accept error, typically
// because the listener was closed.
func (a *Acceptor) AcceptForever(onSession func(*ServerSession)) error {
	for {
		s, err := a.AcceptOne()
		if err != nil {
			return err
		}
		s.Start()
		if onSession != nil {
			onSession(s)
		}
	}
}

// Close closes the underlying listener, causing any blocked AcceptForever
// call to return.
func (a *Acceptor) Close() error {
	return a.ln.Close()
}
