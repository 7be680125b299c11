package dispatch

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"sync"

	"github.com/firi/packio/errs"
)

// emptyError is the sentinel error value used when a completion sink is
// dropped without firing: destroying the sink without firing yields a
// response with an empty-error payload.
var emptyError = "empty_error"

// Sink is the one-shot completion callback handed to async handlers. It
// models packio's affine completion_handler: the handler must call
// Succeed or Fail exactly once. If the Sink is garbage
// collected while still unfired, its finalizer completes the call with
// emptyError so that callers never hang silently.
type Sink struct {
	mu       sync.Mutex
	fired    bool
	respond  func(ok bool, value any)
}

func newSink(respond func(ok bool, value any)) *Sink {
	s := &Sink{respond: respond}
	runtime.SetFinalizer(s, (*Sink).finalize)
	return s
}

// NewSink builds a completion Sink around respond, which is invoked
// exactly once: either when a handler calls Succeed/Fail, or — if the
// handler drops the sink without firing — from its finalizer with
// (false, "empty_error"). Server sessions use this to adapt a dispatcher
// Invoke call into a wire response.
func NewSink(respond func(ok bool, value any)) *Sink {
	return newSink(respond)
}

// Succeed fires the sink with a successful result value. Subsequent calls
// to Succeed/Fail are no-ops: the sink fires at most once.
func (s *Sink) Succeed(value any) { s.fire(true, value) }

// Fail fires the sink with an error payload.
func (s *Sink) Fail(value any) { s.fire(false, value) }

func (s *Sink) fire(ok bool, value any) {
	s.mu.Lock()
	if s.fired {
		s.mu.Unlock()
		return
	}
	s.fired = true
	s.mu.Unlock()
	runtime.SetFinalizer(s, nil)
	s.respond(ok, value)
}

func (s *Sink) finalize() {
	s.mu.Lock()
	if s.fired {
		s.mu.Unlock()
		return
	}
	s.fired = true
	s.mu.Unlock()
	s.respond(false, emptyError)
}

// Task is the unit of work produced by a deferred/coroutine handler: a
// function that runs to completion on an Executor and yields either a
// result value or an error.
type Task func(ctx context.Context) (any, error)

// Executor is the minimal scheduling contract the core requires from the
// host runtime: dispatch runs f on the executor, possibly inline; post
// runs f on the executor but never inline; spawn runs a task to
// completion.
type Executor interface {
	Dispatch(f func())
	Post(f func())
	Spawn(task func())
}

// GoExecutor is the default Executor, backed directly by goroutines. It
// satisfies a no-synchronous-blocking requirement trivially: every
// operation either runs inline (Dispatch) or is handed to a fresh
// goroutine (Post, Spawn).
type GoExecutor struct{}

func (GoExecutor) Dispatch(f func()) { f() }
func (GoExecutor) Post(f func())     { go f() }
func (GoExecutor) Spawn(task func()) { go task() }

// invoker is the uniform internal signature every handler shape is wrapped
// down to at registration time: (sink, raw bound args) -> (). This removes
// runtime type switches from the per-call hot path; the switch happens
// once, here, at Add/AddAsync/AddCoroutine time.
type invoker func(sink *Sink, bound []reflect.Value)

// wrapSync adapts a sync handler (returns a value, or (value, error), or
// error, or nothing) into the uniform invoker shape.
func wrapSync(fn reflect.Value) invoker {
	t := fn.Type()
	numOut := t.NumOut()

	return func(sink *Sink, bound []reflect.Value) {
		defer recoverIntoSink(sink)
		results := fn.Call(bound)

		switch numOut {
		case 0:
			sink.Succeed(nil)
		case 1:
			out := results[0]
			if out.Type() == errType {
				if err, _ := out.Interface().(error); err != nil {
					sink.Fail(err.Error())
					return
				}
				sink.Succeed(nil)
				return
			}
			sink.Succeed(out.Interface())
		default: // (value, error)
			if errv, _ := results[numOut-1].Interface().(error); errv != nil {
				sink.Fail(errv.Error())
				return
			}
			sink.Succeed(results[0].Interface())
		}
	}
}

// wrapAsync adapts an async handler (receives the sink as an explicit
// first parameter and is free to move it to another goroutine) into the
// uniform invoker shape.
func wrapAsync(fn reflect.Value) invoker {
	return func(sink *Sink, bound []reflect.Value) {
		defer recoverIntoSink(sink)
		args := make([]reflect.Value, 0, len(bound)+1)
		args = append(args, reflect.ValueOf(sink))
		args = append(args, bound...)
		fn.Call(args)
	}
}

// wrapCoroutine adapts a deferred/coroutine handler, which returns a Task,
// scheduling that task on executor and treating its eventual value or
// error like the sync case.
func wrapCoroutine(fn reflect.Value, executor Executor) invoker {
	return func(sink *Sink, bound []reflect.Value) {
		defer recoverIntoSink(sink)
		results := fn.Call(bound)
		task, ok := results[0].Interface().(Task)
		if !ok || task == nil {
			sink.Fail(fmt.Sprintf("%v: coroutine handler did not produce a task", errs.ErrHandler))
			return
		}
		executor.Spawn(func() {
			defer recoverIntoSink(sink)
			value, err := task(context.Background())
			if err != nil {
				sink.Fail(err.Error())
				return
			}
			sink.Succeed(value)
		})
	}
}

var errType = reflect.TypeOf((*error)(nil)).Elem()

func recoverIntoSink(sink *Sink) {
	if r := recover(); r != nil {
		sink.Fail(fmt.Sprintf("%v: handler panicked: %v", errs.ErrHandler, r))
	}
}
