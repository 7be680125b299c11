// Package dispatch implements the process-wide, thread-safe mapping from
// procedure name to invoker, along with the argument-binding machinery
// that converts a parsed codec.Args container into a typed argument tuple
// for a registered handler.
//
// Grounded on packio's include/packio/dispatcher.h: add/add_async/add_coro
// wrap the three handler shapes into one uniform invoker signature so that
// the dispatch hot path never branches on handler kind.
package dispatch

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/firi/packio/codec"
	"github.com/firi/packio/errs"
)

// Handle is a registered procedure: its name, argument spec list, and
// invoker, held behind a shared pointer so that replacing or removing a
// registration never invalidates an in-flight invocation obtained via Get.
type Handle struct {
	Name       string
	Spec       []codec.ArgSpec
	AllowExtra bool

	paramTypes []reflect.Type
	invoke     invoker
}

// Invoke binds args against the handle's spec using convert, then runs the
// handler, delivering its eventual outcome to sink. Binding failures are
// reported to sink as a Fail rather than returned, since the wire-level
// response path for a binding failure is identical to a handler failure.
func (h *Handle) Invoke(sink *Sink, args codec.Args, convert codec.Converter) {
	bound, err := codec.Bind(h.Spec, args, h.paramTypes, h.AllowExtra, convert)
	if err != nil {
		sink.Fail(err.Error())
		return
	}
	h.invoke(sink, bound)
}

// Dispatcher is a thread-safe, flat namespace from procedure name to
// Handle. All mutating operations (Add*, Remove, Clear) take an exclusive
// lock; Get and the other read operations take a shared lock and never
// hold it while a handler runs.
type Dispatcher struct {
	mu  sync.RWMutex
	fns map[string]*Handle
}

// New returns an empty Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{fns: make(map[string]*Handle)}
}

// Options configure a single registration call.
type Options struct {
	// Spec is the argument spec list. Pass nil to auto-generate "0","1",...
	// names with no defaults, sized to the handler's arity.
	Spec []codec.ArgSpec
	// AllowExtraArguments relaxes the "too many arguments" rule for
	// positional calls, silently ignoring the tail.
	AllowExtraArguments bool
}

// Add registers a synchronous procedure: fn returns a value (or nothing),
// or (value, error), or just error. Returns errs.ErrProcedureExists if name
// is already registered (registration does not replace), or errs.ErrArity
// if an explicit spec does not match fn's arity.
func (d *Dispatcher) Add(name string, fn any, opts Options) error {
	v := reflect.ValueOf(fn)
	if err := validateSyncSignature(v.Type()); err != nil {
		return err
	}
	return d.add(name, paramTypesOf(v.Type(), 0), opts, wrapSync(v))
}

// AddAsync registers an asynchronous procedure: fn's first parameter is
// *dispatch.Sink, followed by the bound arguments; fn has no return value
// and must fire the sink exactly once, possibly from another goroutine.
func (d *Dispatcher) AddAsync(name string, fn any, opts Options) error {
	v := reflect.ValueOf(fn)
	t := v.Type()
	if t.Kind() != reflect.Func || t.NumIn() == 0 || t.In(0) != reflect.TypeOf((*Sink)(nil)) {
		return fmt.Errorf("%w: async handler must take *dispatch.Sink as its first parameter", errs.ErrArity)
	}
	return d.add(name, paramTypesOf(t, 1), opts, wrapAsync(v))
}

// AddCoroutine registers a deferred/coroutine procedure: fn returns a Task
// which is scheduled on executor; its eventual value or error is treated
// like the sync case.
func (d *Dispatcher) AddCoroutine(name string, executor Executor, fn any, opts Options) error {
	v := reflect.ValueOf(fn)
	t := v.Type()
	if t.Kind() != reflect.Func || t.NumOut() != 1 || t.Out(0) != reflect.TypeOf(Task(nil)) {
		return fmt.Errorf("%w: coroutine handler must return a single dispatch.Task", errs.ErrArity)
	}
	if executor == nil {
		executor = GoExecutor{}
	}
	return d.add(name, paramTypesOf(t, 0), opts, wrapCoroutine(v, executor))
}

func paramTypesOf(t reflect.Type, skip int) []reflect.Type {
	out := make([]reflect.Type, t.NumIn()-skip)
	for i := range out {
		out[i] = t.In(i + skip)
	}
	return out
}

func (d *Dispatcher) add(name string, paramTypes []reflect.Type, opts Options, inv invoker) error {
	handlerArity := len(paramTypes)
	spec := opts.Spec
	if len(spec) == 0 {
		spec = autoSpec(handlerArity)
	} else if len(spec) != handlerArity {
		return fmt.Errorf("%w: procedure %q declares %d argument(s) but handler takes %d", errs.ErrArity, name, len(spec), handlerArity)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.fns[name]; exists {
		return fmt.Errorf("%w: %q", errs.ErrProcedureExists, name)
	}
	d.fns[name] = &Handle{
		Name:       name,
		Spec:       spec,
		AllowExtra: opts.AllowExtraArguments,
		paramTypes: paramTypes,
		invoke:     inv,
	}
	return nil
}

func validateSyncSignature(t reflect.Type) error {
	if t.Kind() != reflect.Func {
		return fmt.Errorf("%w: handler must be a function", errs.ErrArity)
	}
	if t.NumOut() > 2 {
		return fmt.Errorf("%w: sync handler may return at most (value, error)", errs.ErrArity)
	}
	if t.NumOut() == 2 && t.Out(1) != errType {
		return fmt.Errorf("%w: sync handler's second return value must be error", errs.ErrArity)
	}
	return nil
}

// Remove deletes a registered procedure. Reports whether it was present.
func (d *Dispatcher) Remove(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.fns[name]; !ok {
		return false
	}
	delete(d.fns, name)
	return true
}

// Has reports whether name is currently registered.
func (d *Dispatcher) Has(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.fns[name]
	return ok
}

// Clear removes every registered procedure and returns how many were removed.
func (d *Dispatcher) Clear() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.fns)
	d.fns = make(map[string]*Handle)
	return n
}

// Known returns the names of all currently registered procedures, sorted
// for deterministic output.
func (d *Dispatcher) Known() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.fns))
	for name := range d.fns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the shared Handle registered under name, or nil. The
// returned pointer remains valid and invocable even if the dispatcher's
// map is subsequently mutated.
func (d *Dispatcher) Get(name string) *Handle {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.fns[name]
}
