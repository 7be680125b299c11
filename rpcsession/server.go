package rpcsession

import (
	"fmt"
	"sync"

	"github.com/firi/packio/codec"
	"github.com/firi/packio/dispatch"
	"github.com/firi/packio/transport"
)

// ServerOption configures a ServerSession at construction time.
type ServerOption func(*ServerSession)

// WithServerLogger attaches a Logger used for debug-level tracing.
func WithServerLogger(l Logger) ServerOption {
	return func(s *ServerSession) { s.logger = l }
}

// WithServerExecutor overrides the Executor used to re-post dispatch off the
// read loop, so that the read loop stays free to keep draining the socket
// while the handler runs. Defaults to dispatch.GoExecutor{}.
func WithServerExecutor(e dispatch.Executor) ServerOption {
	return func(s *ServerSession) {
		if e != nil {
			s.executor = e
		}
	}
}

// WithServerReadBufferSize overrides the per-read buffer size.
func WithServerReadBufferSize(n int) ServerOption {
	return func(s *ServerSession) {
		if n > 0 {
			s.bufSize = n
		}
	}
}

// WithServerOnClose registers a callback fired exactly once when the
// session closes, so a caller (e.g. an Acceptor's owner) can drop it from
// a connection-tracking set.
func WithServerOnClose(f func(*ServerSession)) ServerOption {
	return func(s *ServerSession) { s.onClose = f }
}

// ServerSession is the server-side per-connection state machine: it reads
// frames off one transport, dispatches requests and notifications against
// a shared Dispatcher, and writes responses back through a write
// serializer. Grounded on packio's
// internal/server_session.h async_read/async_dispatch/async_write loop and
// a connection handler's read/dispatch/write cycle.
type ServerSession struct {
	t          transport.Transport
	dialect    codec.Dialect
	parser     codec.Parser
	dispatcher *dispatch.Dispatcher
	executor   dispatch.Executor
	wq         *writeQueue
	logger     Logger
	bufSize    int
	onClose    func(*ServerSession)

	closeOnce sync.Once
}

// NewServerSession builds a ServerSession around an already-open transport
// and a shared Dispatcher. Call Start to begin reading.
func NewServerSession(t transport.Transport, dialect codec.Dialect, disp *dispatch.Dispatcher, opts ...ServerOption) *ServerSession {
	s := &ServerSession{
		t:          t,
		dialect:    dialect,
		parser:     dialect.NewParser(),
		dispatcher: disp,
		executor:   dispatch.GoExecutor{},
		logger:     nopLogger{},
		bufSize:    4096,
	}
	s.wq = newWriteQueue(func(bufs [][]byte) error {
		_, err := t.WriteAll(bufs)
		return err
	})
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start spawns the session's read loop. It returns immediately; the session
// runs until the transport errors or is explicitly closed.
func (s *ServerSession) Start() {
	go s.readLoop()
}

// Close stops the write serializer and closes the transport exactly once.
func (s *ServerSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.wq.close()
		err = s.t.Close()
		if s.onClose != nil {
			s.onClose(s)
		}
	})
	return err
}

func (s *ServerSession) readLoop() {
	buf := make([]byte, s.bufSize)
	for {
		n, err := s.t.ReadSome(buf)
		if err != nil {
			s.logger.Debug("server session read: %v", err)
			_ = s.Close()
			return
		}

		frames, perr := s.parser.Feed(buf[:n])
		for _, f := range frames {
			frame := f
			// Re-post the dispatch onto the executor before invoking the
			// handler, so a slow or blocking handler never stalls draining
			// the socket.
			s.executor.Post(func() { s.dispatchFrame(frame) })
		}
		if perr != nil {
			// Malformed frame: close the session. No resync attempt — skipping
			// frames mid-stream to recover is not supported.
			s.logger.Debug("server session framing error: %v", perr)
			_ = s.Close()
			return
		}
	}
}

func (s *ServerSession) dispatchFrame(f codec.Frame) {
	switch f.Kind {
	case codec.KindRequest:
		s.handleRequest(f)
	case codec.KindNotification:
		s.handleNotification(f)
	default:
		s.logger.Debug("unexpected frame kind %v on server session", f.Kind)
		_ = s.Close()
	}
}

func (s *ServerSession) handleRequest(f codec.Frame) {
	handle := s.dispatcher.Get(f.Method)
	if handle == nil {
		s.writeError(f.ID, fmt.Sprintf("Unknown function %q", f.Method))
		return
	}
	if f.Args.Named() && s.dialect.RejectsNamedArgs() {
		s.writeError(f.ID, "incompatible arguments: named arguments are not supported by this dialect")
		return
	}
	sink := dispatch.NewSink(func(ok bool, value any) {
		if ok {
			s.writeSuccess(f.ID, value)
			return
		}
		s.writeError(f.ID, value)
	})
	handle.Invoke(sink, f.Args, s.dialect.Convert)
}

func (s *ServerSession) handleNotification(f codec.Frame) {
	handle := s.dispatcher.Get(f.Method)
	if handle == nil {
		// Silently ignored: notifications have no response channel (spec
		// §4.5 step 2).
		return
	}
	if f.Args.Named() && s.dialect.RejectsNamedArgs() {
		return
	}
	sink := dispatch.NewSink(func(bool, any) {})
	handle.Invoke(sink, f.Args, s.dialect.Convert)
}

func (s *ServerSession) writeSuccess(id any, result any) {
	data, err := s.dialect.SerializeResponseSuccess(id, result)
	if err != nil {
		s.logger.Error("serialize success response for %v: %v", id, err)
		return
	}
	s.writeResponse(data)
}

func (s *ServerSession) writeError(id any, errValue any) {
	data, err := s.dialect.SerializeResponseError(id, errValue)
	if err != nil {
		s.logger.Error("serialize error response for %v: %v", id, err)
		return
	}
	s.writeResponse(data)
}

// Notify sends a server-initiated notification down this session, e.g. a
// workspace change event pushed to an already-connected client. There is
// no response to wait for.
func (s *ServerSession) Notify(method string, args codec.Args) error {
	data, err := s.dialect.SerializeNotification(method, args)
	if err != nil {
		return err
	}
	s.writeResponse(data)
	return nil
}

func (s *ServerSession) writeResponse(data []byte) {
	s.wq.push([][]byte{data}, func(err error) {
		if err != nil {
			s.logger.Debug("server session write: %v", err)
			_ = s.Close()
		}
	})
}
