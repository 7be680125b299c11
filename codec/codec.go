// Package codec defines the dialect-independent wire model: frame kinds,
// argument containers, and the argument-binding machinery shared by the
// msgpack and JSON-RPC dialects.
package codec

import (
	"fmt"
	"reflect"

	"github.com/firi/packio/errs"
)

// Kind identifies what shape of frame was parsed or is being serialized.
type Kind int

const (
	KindRequest Kind = iota
	KindNotification
	KindResponse
)

// Frame is a fully parsed wire frame, dialect-agnostic. Exactly one of
// Result/Err is meaningful for a KindResponse frame.
type Frame struct {
	Kind   Kind
	ID     any
	Method string
	Args   Args
	Result any
	Err    any
}

// Args is the argument container carried by a request or notification
// frame: either a positional ordered sequence, or — for JSON dialects only
// — a mapping from parameter name to value. The two forms are mutually
// exclusive.
type Args struct {
	List []any
	Map  map[string]any
}

// Named reports whether this container uses the named-argument form.
func (a Args) Named() bool { return a.Map != nil }

// Len reports the number of supplied arguments, in either form.
func (a Args) Len() int {
	if a.Named() {
		return len(a.Map)
	}
	return len(a.List)
}

// ArgSpec describes one formal parameter of a registered procedure: its
// name (used for named-argument binding and auto-generated "0","1",...
// fallbacks) and an optional default value substituted when the argument
// is missing, ported from packio's arg_spec.h.
type ArgSpec struct {
	Name       string
	Default    any
	HasDefault bool
}

// Converter re-interprets a dialect-native decoded value (a JSON scalar/
// map/slice, or a msgpack-decoded value) as a Go value assignable to
// target. Each dialect supplies its own Converter; the binding algorithm
// below is otherwise dialect-agnostic.
type Converter func(raw any, target reflect.Type) (reflect.Value, error)

// Bind converts a parsed Args container into an ordered argument tuple for
// a handler whose parameter types are paramTypes:
//
//   - Positional container of length K: use positions 0..min(K,N)-1; for
//     indices >= K substitute the spec's default, else fail "missing
//     argument". K > N fails "too many arguments" unless allowExtra.
//   - Named container (rejected entirely by the msgpack dialect, which
//     never calls Bind with one): look up each spec's name; default or
//     fail "missing argument" if absent.
//   - Type conversion failures are reported as "incompatible arguments".
func Bind(spec []ArgSpec, args Args, paramTypes []reflect.Type, allowExtra bool, convert Converter) ([]reflect.Value, error) {
	n := len(spec)
	if len(paramTypes) != n {
		return nil, fmt.Errorf("%w: arg spec length %d does not match handler arity %d", errs.ErrBinding, n, len(paramTypes))
	}

	out := make([]reflect.Value, n)

	if args.Named() {
		for i, s := range spec {
			raw, ok := args.Map[s.Name]
			if !ok {
				v, err := defaultOrFail(s, paramTypes[i])
				if err != nil {
					return nil, err
				}
				out[i] = v
				continue
			}
			v, err := convert(raw, paramTypes[i])
			if err != nil {
				return nil, fmt.Errorf("%w: argument %q: %v", errs.ErrBinding, s.Name, err)
			}
			out[i] = v
		}
		return out, nil
	}

	k := len(args.List)
	if k > n && !allowExtra {
		return nil, fmt.Errorf("%w: too many arguments (got %d, want %d)", errs.ErrBinding, k, n)
	}

	limit := k
	if limit > n {
		limit = n
	}
	for i := 0; i < limit; i++ {
		v, err := convert(args.List[i], paramTypes[i])
		if err != nil {
			return nil, fmt.Errorf("%w: argument %d (%s): %v", errs.ErrBinding, i, spec[i].Name, err)
		}
		out[i] = v
	}
	for i := limit; i < n; i++ {
		v, err := defaultOrFail(spec[i], paramTypes[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func defaultOrFail(s ArgSpec, target reflect.Type) (reflect.Value, error) {
	if !s.HasDefault {
		return reflect.Value{}, fmt.Errorf("%w: missing argument %q", errs.ErrBinding, s.Name)
	}
	if s.Default == nil {
		return reflect.Zero(target), nil
	}
	dv := reflect.ValueOf(s.Default)
	if dv.Type().AssignableTo(target) {
		return dv, nil
	}
	if dv.Type().ConvertibleTo(target) {
		return dv.Convert(target), nil
	}
	return reflect.Value{}, fmt.Errorf("%w: default value for %q is not assignable to %s", errs.ErrBinding, s.Name, target)
}

// Dialect is the per-wire-format serializer, incremental parser, and value
// converter consumed by rpcsession and dispatch. One implementation exists
// per supported dialect (codec/msgpack, codec/jsonrpc).
type Dialect interface {
	// Name identifies the dialect for logging ("msgpack-rpc", "json-rpc-2.0").
	Name() string
	// SerializeRequest encodes a request frame. args must be positional;
	// named args are rejected by msgpack dialects at this boundary.
	SerializeRequest(id any, method string, args Args) ([]byte, error)
	SerializeNotification(method string, args Args) ([]byte, error)
	SerializeResponseSuccess(id any, result any) ([]byte, error)
	SerializeResponseError(id any, errValue any) ([]byte, error)
	// NewParser returns a fresh incremental parser bound to one connection.
	NewParser() Parser
	// NewID produces the next client-generated identifier from a
	// monotonic counter.
	NewID(counter uint64) any
	// Convert re-interprets a dialect-native decoded value as target.
	Convert(raw any, target reflect.Type) (reflect.Value, error)
	// RejectsNamedArgs is true for dialects (msgpack) whose wire format has
	// no named-argument container at all.
	RejectsNamedArgs() bool
}

// Parser incrementally consumes byte chunks and yields zero or more fully
// parsed frames as bytes accumulate. Partial frames are retained internally
// until enough bytes arrive.
type Parser interface {
	Feed(chunk []byte) ([]Frame, error)
}
