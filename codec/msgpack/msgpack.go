// Package msgpack implements the msgpack-RPC wire dialect, ported from
// packio's include/packio/msgpack_rpc/rpc.h: requests are
// [0, id, method, args], responses are [1, id, error, result], and
// notifications are [2, method, args]. Arguments must be an array; the
// named-argument container is rejected entirely.
package msgpack

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/firi/packio/codec"
	"github.com/firi/packio/errs"
)

const (
	tagRequest      = 0
	tagResponse     = 1
	tagNotification = 2
)

// Dialect is the msgpack-RPC implementation of codec.Dialect.
type Dialect struct{}

// New returns the msgpack-RPC dialect.
func New() Dialect { return Dialect{} }

func (Dialect) Name() string { return "msgpack-rpc" }

func (Dialect) RejectsNamedArgs() bool { return true }

// NewID truncates the client's monotonic counter to the dialect's 32-bit
// identifier space.
func (Dialect) NewID(counter uint64) any {
	return uint32(counter)
}

func (Dialect) SerializeRequest(id any, method string, args codec.Args) ([]byte, error) {
	if args.Named() {
		return nil, fmt.Errorf("%w: msgpack-rpc does not support named arguments", errs.ErrBinding)
	}
	list := args.List
	if list == nil {
		list = []any{}
	}
	return msgpack.Marshal([]any{tagRequest, id, method, list})
}

func (Dialect) SerializeNotification(method string, args codec.Args) ([]byte, error) {
	if args.Named() {
		return nil, fmt.Errorf("%w: msgpack-rpc does not support named arguments", errs.ErrBinding)
	}
	list := args.List
	if list == nil {
		list = []any{}
	}
	return msgpack.Marshal([]any{tagNotification, method, list})
}

func (Dialect) SerializeResponseSuccess(id any, result any) ([]byte, error) {
	return msgpack.Marshal([]any{tagResponse, id, nil, result})
}

func (Dialect) SerializeResponseError(id any, errValue any) ([]byte, error) {
	return msgpack.Marshal([]any{tagResponse, id, errValue, nil})
}

// Convert re-decodes a msgpack-native value (as produced by the decoder
// below) into target by round-tripping it through msgpack, mirroring the
// way packio's dispatcher.h uses msgpack::object::as<T>() for typed
// argument extraction.
func (Dialect) Convert(raw any, target reflect.Type) (reflect.Value, error) {
	buf, err := msgpack.Marshal(raw)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("%w: %v", errs.ErrBinding, err)
	}
	out := reflect.New(target)
	if err := msgpack.Unmarshal(buf, out.Interface()); err != nil {
		return reflect.Value{}, fmt.Errorf("%w: %v", errs.ErrBinding, err)
	}
	return out.Elem(), nil
}

func (Dialect) NewParser() codec.Parser { return &parser{} }

// parser is a length-prefixed msgpack streaming unpacker: it hands out
// fully assembled frames as bytes accumulate, retaining any partial frame
// until more bytes arrive.
type parser struct {
	buf []byte
}

type countingReader struct {
	r *bytes.Reader
	n int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += n
	return n, err
}

func (p *parser) Feed(chunk []byte) ([]codec.Frame, error) {
	p.buf = append(p.buf, chunk...)

	var frames []codec.Frame
	for len(p.buf) > 0 {
		cr := &countingReader{r: bytes.NewReader(p.buf)}
		dec := msgpack.NewDecoder(cr)

		var raw any
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break // partial frame, wait for more bytes
			}
			return frames, fmt.Errorf("%w: %v", errs.ErrFraming, err)
		}

		p.buf = p.buf[cr.n:]

		frame, err := frameFromRaw(raw)
		if err != nil {
			return frames, err
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

func frameFromRaw(raw any) (codec.Frame, error) {
	arr, ok := raw.([]any)
	if !ok {
		return codec.Frame{}, fmt.Errorf("%w: top-level msgpack value is not an array", errs.ErrFraming)
	}
	if len(arr) == 0 {
		return codec.Frame{}, fmt.Errorf("%w: empty array frame", errs.ErrFraming)
	}

	tag, ok := toInt(arr[0])
	if !ok {
		return codec.Frame{}, fmt.Errorf("%w: frame tag is not an integer", errs.ErrFraming)
	}

	switch tag {
	case tagRequest:
		if len(arr) != 4 {
			return codec.Frame{}, fmt.Errorf("%w: request frame must have 4 elements, got %d", errs.ErrFraming, len(arr))
		}
		id, ok := toUint32(arr[1])
		if !ok {
			return codec.Frame{}, fmt.Errorf("%w: request id is not a uint32", errs.ErrFraming)
		}
		method, ok := arr[2].(string)
		if !ok {
			return codec.Frame{}, fmt.Errorf("%w: method is not a string", errs.ErrFraming)
		}
		args, err := argsFromRaw(arr[3])
		if err != nil {
			return codec.Frame{}, err
		}
		return codec.Frame{Kind: codec.KindRequest, ID: id, Method: method, Args: args}, nil

	case tagResponse:
		if len(arr) != 4 {
			return codec.Frame{}, fmt.Errorf("%w: response frame must have 4 elements, got %d", errs.ErrFraming, len(arr))
		}
		id, ok := toUint32(arr[1])
		if !ok {
			return codec.Frame{}, fmt.Errorf("%w: response id is not a uint32", errs.ErrFraming)
		}
		return codec.Frame{Kind: codec.KindResponse, ID: id, Err: arr[2], Result: arr[3]}, nil

	case tagNotification:
		if len(arr) != 3 {
			return codec.Frame{}, fmt.Errorf("%w: notification frame must have 3 elements, got %d", errs.ErrFraming, len(arr))
		}
		method, ok := arr[1].(string)
		if !ok {
			return codec.Frame{}, fmt.Errorf("%w: method is not a string", errs.ErrFraming)
		}
		args, err := argsFromRaw(arr[2])
		if err != nil {
			return codec.Frame{}, err
		}
		return codec.Frame{Kind: codec.KindNotification, Method: method, Args: args}, nil

	default:
		return codec.Frame{}, fmt.Errorf("%w: unknown frame tag %d", errs.ErrFraming, tag)
	}
}

// argsFromRaw requires an array; a map (the would-be named-argument form)
// is preserved as Args.Map so that downstream binding rejects it with
// "incompatible arguments" rather than silently coercing it.
func argsFromRaw(raw any) (codec.Args, error) {
	switch v := raw.(type) {
	case []any:
		return codec.Args{List: v}, nil
	case map[string]any:
		return codec.Args{Map: v}, nil
	case nil:
		return codec.Args{List: []any{}}, nil
	default:
		return codec.Args{}, fmt.Errorf("%w: arguments must be an array", errs.ErrFraming)
	}
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case uint:
		return int64(n), true
	default:
		return 0, false
	}
}

func toUint32(v any) (uint32, bool) {
	n, ok := toInt(v)
	if !ok || n < 0 {
		return 0, false
	}
	return uint32(n), true
}
