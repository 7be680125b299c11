package dispatch_test

import (
	"context"
	"errors"
	"reflect"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/nalgeon/be"

	"github.com/firi/packio/codec"
	"github.com/firi/packio/dispatch"
	"github.com/firi/packio/errs"
)

func identityConvert(raw any, target reflect.Type) (reflect.Value, error) {
	v := reflect.ValueOf(raw)
	if v.Type().AssignableTo(target) {
		return v, nil
	}
	if v.Type().ConvertibleTo(target) {
		return v.Convert(target), nil
	}
	return reflect.Value{}, errors.New("not assignable")
}

func invokeAndWait(t *testing.T, h *dispatch.Handle, args codec.Args) (ok bool, value any) {
	t.Helper()
	done := make(chan struct{})
	sink := dispatch.NewSink(func(o bool, v any) {
		ok, value = o, v
		close(done)
	})
	h.Invoke(sink, args, identityConvert)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sink never fired")
	}
	return
}

func TestAddSyncValueReturn(t *testing.T) {
	d := dispatch.New()
	err := d.Add("add", func(a, b int) int { return a + b }, dispatch.Options{})
	be.Err(t, err, nil)

	h := d.Get("add")
	ok, value := invokeAndWait(t, h, codec.Args{List: []any{42, 24}})
	be.Equal(t, ok, true)
	be.Equal(t, value.(int), 66)
}

func TestAddSyncValueErrorReturn(t *testing.T) {
	d := dispatch.New()
	boom := errors.New("boom")
	d.Add("fails", func() (int, error) { return 0, boom }, dispatch.Options{})

	h := d.Get("fails")
	ok, value := invokeAndWait(t, h, codec.Args{List: []any{}})
	be.Equal(t, ok, false)
	be.Equal(t, value.(string), "boom")
}

func TestAddSyncVoidReturn(t *testing.T) {
	d := dispatch.New()
	called := false
	d.Add("touch", func() { called = true }, dispatch.Options{})

	h := d.Get("touch")
	ok, _ := invokeAndWait(t, h, codec.Args{List: []any{}})
	be.Equal(t, ok, true)
	be.Equal(t, called, true)
}

func TestAddNamedBinding(t *testing.T) {
	d := dispatch.New()
	d.Add("concat", func(a, b string) string { return a + b }, dispatch.Options{
		Spec: []codec.ArgSpec{dispatch.Named("a"), dispatch.Named("b")},
	})

	h := d.Get("concat")
	ok, value := invokeAndWait(t, h, codec.Args{Map: map[string]any{"b": "titi", "a": "toto"}})
	be.Equal(t, ok, true)
	be.Equal(t, value.(string), "tototiti")
}

func TestAddWithDefaultArgument(t *testing.T) {
	d := dispatch.New()
	d.Add("greet", func(name string) string { return "hi " + name }, dispatch.Options{
		Spec: []codec.ArgSpec{dispatch.WithDefault("name", "world")},
	})

	h := d.Get("greet")
	ok, value := invokeAndWait(t, h, codec.Args{List: []any{}})
	be.Equal(t, ok, true)
	be.Equal(t, value.(string), "hi world")
}

func TestAddRejectsDuplicateName(t *testing.T) {
	d := dispatch.New()
	be.Err(t, d.Add("dup", func() {}, dispatch.Options{}), nil)

	err := d.Add("dup", func() {}, dispatch.Options{})
	if !errors.Is(err, errs.ErrProcedureExists) {
		t.Fatalf("expected ErrProcedureExists, got %v", err)
	}
	// The original registration must remain intact.
	if !d.Has("dup") {
		t.Fatal("expected original registration to survive")
	}
}

func TestAddRejectsSpecArityMismatch(t *testing.T) {
	d := dispatch.New()
	err := d.Add("add", func(a, b int) int { return a + b }, dispatch.Options{
		Spec: []codec.ArgSpec{dispatch.Named("a")},
	})
	if !errors.Is(err, errs.ErrArity) {
		t.Fatalf("expected ErrArity, got %v", err)
	}
}

func TestTooManyArgumentsFailsUnlessAllowed(t *testing.T) {
	d := dispatch.New()
	d.Add("add", func(a, b int) int { return a + b }, dispatch.Options{})
	h := d.Get("add")

	ok, _ := invokeAndWait(t, h, codec.Args{List: []any{1, 2, 3}})
	be.Equal(t, ok, false)

	d2 := dispatch.New()
	d2.Add("add", func(a, b int) int { return a + b }, dispatch.Options{AllowExtraArguments: true})
	h2 := d2.Get("add")
	ok2, value2 := invokeAndWait(t, h2, codec.Args{List: []any{1, 2, 3}})
	be.Equal(t, ok2, true)
	be.Equal(t, value2.(int), 3)
}

func TestAddAsyncReceivesSinkFirst(t *testing.T) {
	d := dispatch.New()
	d.AddAsync("block_then_add", func(sink *dispatch.Sink, a, b int) {
		go sink.Succeed(a + b)
	}, dispatch.Options{})

	h := d.Get("block_then_add")
	ok, value := invokeAndWait(t, h, codec.Args{List: []any{10, 5}})
	be.Equal(t, ok, true)
	be.Equal(t, value.(int), 15)
}

func TestAsyncSinkDroppedWithoutFiringYieldsEmptyError(t *testing.T) {
	d := dispatch.New()
	d.AddAsync("block", func(sink *dispatch.Sink) {
		// Intentionally never fires; drop the sink.
	}, dispatch.Options{})

	h := d.Get("block")

	var mu sync.Mutex
	var fired bool
	var ok bool
	var value any
	done := make(chan struct{})

	sink := dispatch.NewSink(func(o bool, v any) {
		mu.Lock()
		fired, ok, value = true, o, v
		mu.Unlock()
		close(done)
	})
	h.Invoke(sink, codec.Args{List: []any{}}, identityConvert)
	sink = nil

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		runtime.GC()
		select {
		case <-done:
			mu.Lock()
			defer mu.Unlock()
			be.Equal(t, fired, true)
			be.Equal(t, ok, false)
			be.Equal(t, value.(string), "empty_error")
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
	t.Fatal("finalizer never fired the dropped sink")
}

func TestAddCoroutineSchedulesTask(t *testing.T) {
	d := dispatch.New()
	d.AddCoroutine("double", dispatch.GoExecutor{}, func(n int) dispatch.Task {
		return func(ctx context.Context) (any, error) {
			return n * 2, nil
		}
	}, dispatch.Options{})

	h := d.Get("double")
	ok, value := invokeAndWait(t, h, codec.Args{List: []any{21}})
	be.Equal(t, ok, true)
	be.Equal(t, value.(int), 42)
}

func TestRemoveHasKnownClear(t *testing.T) {
	d := dispatch.New()
	d.Add("a", func() {}, dispatch.Options{})
	d.Add("b", func() {}, dispatch.Options{})

	be.Equal(t, d.Has("a"), true)
	known := d.Known()
	be.Equal(t, len(known), 2)

	be.Equal(t, d.Remove("a"), true)
	be.Equal(t, d.Has("a"), false)
	be.Equal(t, d.Remove("a"), false)

	be.Equal(t, d.Clear(), 1)
	be.Equal(t, len(d.Known()), 0)
}

func TestGetUnknownReturnsNil(t *testing.T) {
	d := dispatch.New()
	if d.Get("nope") != nil {
		t.Fatal("expected nil for unregistered name")
	}
}
