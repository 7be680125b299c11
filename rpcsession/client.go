// Package rpcsession implements the client and server session state
// machines, the Pending Table, the write serializer, and the Acceptor.
// Grounded on packio's client.h/internal/server_session.h and a connection
// handler's request/response loop.
package rpcsession

import (
	"errors"
	"fmt"
	"net"
	"os"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/firi/packio/codec"
	"github.com/firi/packio/errs"
	"github.com/firi/packio/transport"
)

type clientState int

const (
	stateIdle clientState = iota
	stateReading
	stateClosing
)

// RequestSink receives the single completion event for an outbound
// request: a status code, and — on Success or ErrorDuringCall — the
// dialect-native result or error payload.
type RequestSink func(code errs.Code, result any, errValue any)

// NotifySink receives the single completion event for an outbound
// notification: a status code only.
type NotifySink func(code errs.Code)

// ClientOption configures a Client at construction time.
type ClientOption func(*Client)

// WithClientLogger attaches a Logger used for debug-level tracing of
// dropped responses and transport errors.
func WithClientLogger(l Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithReadBufferSize overrides the per-read buffer size (default 4096
// bytes, mirroring packio's kDefaultBufferReserveSize).
func WithReadBufferSize(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.bufSize = n
		}
	}
}

// Client is the client-side session: it owns one transport, a Pending
// Table, and a write serializer. It is safe for concurrent use by multiple
// goroutines.
type Client struct {
	t       transport.Transport
	dialect codec.Dialect
	parser  codec.Parser
	pending *pendingTable
	wq      *writeQueue
	logger  Logger
	bufSize int

	counter uint64

	mu    sync.Mutex
	state clientState
}

// NewClient constructs a Client around an already-open transport, ready to
// issue requests and notifications. No I/O happens until the first call.
func NewClient(t transport.Transport, dialect codec.Dialect, opts ...ClientOption) *Client {
	c := &Client{
		t:       t,
		dialect: dialect,
		parser:  dialect.NewParser(),
		pending: newPendingTable(),
		logger:  nopLogger{},
		bufSize: 4096,
	}
	c.wq = newWriteQueue(func(bufs [][]byte) error {
		_, err := t.WriteAll(bufs)
		return err
	})
	for _, o := range opts {
		o(c)
	}
	return c
}

// Notify sends a fire-and-forget call. sink (optional) fires exactly once
// with the outcome of serializing and enqueueing the write; there is no
// server response to wait for.
func (c *Client) Notify(name string, args codec.Args, sink NotifySink) error {
	data, err := c.dialect.SerializeNotification(name, args)
	if err != nil {
		if sink != nil {
			sink(errs.CallError)
		}
		return err
	}

	c.wq.push([][]byte{data}, func(werr error) {
		if werr != nil {
			c.logger.Debug("notify %q: write failed: %v", name, werr)
			if sink != nil {
				sink(errs.CallError)
			}
			c.fail(werr)
			return
		}
		if sink != nil {
			sink(errs.Success)
		}
	})
	return nil
}

// Request issues a call and returns its identifier synchronously, before
// any I/O completes, so a caller can use it with Cancel immediately.
//
// Insertion into the Pending Table, starting the read loop if idle, and
// enqueueing the write all happen under the session's single serialization
// lock, in that order, so a fast response can never arrive and find the
// table empty.
func (c *Client) Request(name string, args codec.Args, sink RequestSink) (id any, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id = c.dialect.NewID(atomic.AddUint64(&c.counter, 1))
	data, serr := c.dialect.SerializeRequest(id, name, args)
	if serr != nil {
		return id, serr
	}

	c.pending.insert(id, c.completionFor(sink))
	c.ensureReadingLocked()

	c.wq.push([][]byte{data}, func(werr error) {
		if werr != nil {
			if comp, ok := c.pending.take(id); ok {
				comp(callResult{code: codeCallError})
			}
			c.fail(werr)
		}
	})
	return id, nil
}

// TypedRequestSink receives the single completion event for a typed
// outbound request: like RequestSink, but a successful response's result
// has already been decoded into out by the time it fires.
type TypedRequestSink func(code errs.Code, errValue any)

// RequestTyped behaves like Request, except the dialect-native result of a
// successful response is decoded into out (a non-nil pointer) before sink
// fires. A decode failure is local to this caller — it does not affect the
// wire exchange, which already completed successfully — and is reported as
// errs.BadResultType.
func (c *Client) RequestTyped(name string, args codec.Args, out any, sink TypedRequestSink) (id any, err error) {
	target := reflect.ValueOf(out)
	if target.Kind() != reflect.Ptr || target.IsNil() {
		return nil, fmt.Errorf("%w: RequestTyped requires a non-nil pointer", errs.ErrTypedResult)
	}

	return c.Request(name, args, func(code errs.Code, result any, errValue any) {
		if sink == nil {
			return
		}
		if code != errs.Success {
			sink(code, errValue)
			return
		}
		converted, cerr := c.dialect.Convert(result, target.Elem().Type())
		if cerr != nil {
			sink(errs.BadResultType, fmt.Errorf("%w: %v", errs.ErrTypedResult, cerr).Error())
			return
		}
		target.Elem().Set(converted)
		sink(errs.Success, nil)
	})
}

func (c *Client) completionFor(sink RequestSink) completion {
	return func(res callResult) {
		if sink == nil {
			return
		}
		code := toErrsCode(res.code)
		if res.frame == nil {
			sink(code, nil, nil)
			return
		}
		if res.frame.HasErr {
			sink(code, nil, res.frame.Err)
			return
		}
		sink(code, res.frame.Result, nil)
	}
}

func toErrsCode(c codeLike) errs.Code {
	switch c {
	case codeSuccess:
		return errs.Success
	case codeErrorDuringCall:
		return errs.ErrorDuringCall
	case codeCancelled:
		return errs.Cancelled
	case codeCallError:
		return errs.CallError
	default:
		return errs.CallError
	}
}

// Cancel removes id from the Pending Table and fires its sink with
// Cancelled. Returns false if id was not pending.
func (c *Client) Cancel(id any) bool {
	comp, ok := c.pending.take(id)
	if !ok {
		return false
	}
	comp(callResult{code: codeCancelled})
	c.maybeCancelReading()
	return true
}

// CancelAll cancels every currently pending call.
func (c *Client) CancelAll() {
	for _, comp := range c.pending.drain() {
		comp(callResult{code: codeCancelled})
	}
	c.maybeCancelReading()
}

// Close tears the session down: every pending call is failed with
// Cancelled, the write serializer is stopped, and the transport is closed
// exactly once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == stateClosing {
		c.mu.Unlock()
		return nil
	}
	c.state = stateClosing
	c.mu.Unlock()

	for _, comp := range c.pending.drain() {
		comp(callResult{code: codeCancelled})
	}
	c.wq.close()
	return c.t.Close()
}

func (c *Client) ensureReadingLocked() {
	if c.state != stateIdle {
		return
	}
	c.state = stateReading
	go c.readLoop()
}

// maybeCancelReading stops the read loop once the Pending Table is empty,
// so the session does not keep the host runtime alive with nothing to
// wait for.
func (c *Client) maybeCancelReading() {
	c.mu.Lock()
	reading := c.state == stateReading
	empty := c.pending.len() == 0
	c.mu.Unlock()

	if reading && empty {
		if err := c.t.Cancel(); err != nil && !errors.Is(err, transport.ErrCancelNotSupported) {
			c.logger.Debug("cancel read: %v", err)
		}
	}
}

func (c *Client) readLoop() {
	buf := make([]byte, c.bufSize)
	for {
		n, err := c.t.ReadSome(buf)
		if err != nil {
			if isIdleCancel(err) && c.pending.len() == 0 {
				c.mu.Lock()
				if c.state == stateReading {
					c.state = stateIdle
				}
				c.mu.Unlock()
				return
			}
			c.fail(err)
			return
		}

		frames, perr := c.parser.Feed(buf[:n])
		for _, f := range frames {
			c.dispatchResponse(f)
		}
		if perr != nil {
			c.fail(perr)
			return
		}

		c.mu.Lock()
		if c.pending.len() == 0 {
			c.state = stateIdle
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
	}
}

func (c *Client) dispatchResponse(f codec.Frame) {
	if f.Kind != codec.KindResponse {
		c.logger.Debug("unexpected frame kind %v on client session", f.Kind)
		return
	}
	comp, ok := c.pending.take(f.ID)
	if !ok {
		c.logger.Debug("dropped response for unknown or cancelled id %v", f.ID)
		return
	}
	if f.Err != nil {
		comp(callResult{code: codeErrorDuringCall, frame: &responseFrame{Err: f.Err, HasErr: true}})
		return
	}
	comp(callResult{code: codeSuccess, frame: &responseFrame{Result: f.Result}})
}

// fail transitions to Closing, fails every pending call with Cancelled (an
// aborted-by-peer equivalent), and closes the transport exactly once.
func (c *Client) fail(err error) {
	c.mu.Lock()
	already := c.state == stateClosing
	c.state = stateClosing
	c.mu.Unlock()
	if already {
		return
	}

	c.logger.Debug("session failing: %v", err)
	for _, comp := range c.pending.drain() {
		comp(callResult{code: codeCancelled})
	}
	c.wq.close()
	_ = c.t.Close()
}

// isIdleCancel reports whether err looks like the result of our own
// Transport.Cancel() call (a forced read-deadline expiry) rather than a
// genuine peer/transport failure.
func isIdleCancel(err error) bool {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}
