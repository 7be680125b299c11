// Package jsonrpc implements the JSON-RPC 2.0 wire dialect. Unlike
// Content-Length-framed LSP transports, frames here are concatenated JSON
// values with no delimiter, as packio's nl_json_rpc/incremental_buffers.h
// parses them — see stream.go for the brace/bracket/string-escape tracker
// that finds frame boundaries.
package jsonrpc

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/firi/packio/codec"
	"github.com/firi/packio/errs"
)

// FrameworkErrorCode is the implementation-defined error code used for all
// framework-generated errors.
const FrameworkErrorCode = -32000

// wireError mirrors the JSON-RPC 2.0 error object.
type wireError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type wireMessage struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  *string         `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *wireError      `json:"error,omitempty"`
}

// Dialect is the JSON-RPC 2.0 implementation of codec.Dialect.
type Dialect struct{}

// New returns the JSON-RPC 2.0 dialect.
func New() Dialect { return Dialect{} }

func (Dialect) Name() string { return "json-rpc-2.0" }

func (Dialect) RejectsNamedArgs() bool { return false }

// NewID uses the counter to produce a distinct numeric identifier. The
// result is float64, not uint64: every id this dialect hands back is later
// round-tripped through encoding/json's generic decode (see frameFromJSON),
// which always produces float64 for a JSON number, and the Pending Table
// looks entries up by this value as a map key.
func (Dialect) NewID(counter uint64) any {
	return float64(counter)
}

func (Dialect) SerializeRequest(id any, method string, args codec.Args) ([]byte, error) {
	params, err := marshalParams(args)
	if err != nil {
		return nil, err
	}
	idRaw, err := json.Marshal(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrFraming, err)
	}
	return json.Marshal(wireMessage{Jsonrpc: "2.0", ID: idRaw, Method: &method, Params: params})
}

func (Dialect) SerializeNotification(method string, args codec.Args) ([]byte, error) {
	params, err := marshalParams(args)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireMessage{Jsonrpc: "2.0", Method: &method, Params: params})
}

func (Dialect) SerializeResponseSuccess(id any, result any) ([]byte, error) {
	idRaw, err := json.Marshal(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrFraming, err)
	}
	resultRaw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrFraming, err)
	}
	return json.Marshal(wireMessage{Jsonrpc: "2.0", ID: idRaw, Result: resultRaw})
}

// SerializeResponseError builds the error response object. message mirrors
// errValue when it is already a string; otherwise it is the fixed
// "Unknown error" string, and the full value travels in data.
func (Dialect) SerializeResponseError(id any, errValue any) ([]byte, error) {
	idRaw, err := json.Marshal(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrFraming, err)
	}

	message := "Unknown error"
	if s, ok := errValue.(string); ok {
		message = s
	}

	dataRaw, err := json.Marshal(errValue)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrFraming, err)
	}

	return json.Marshal(wireMessage{
		Jsonrpc: "2.0",
		ID:      idRaw,
		Error: &wireError{
			Code:    FrameworkErrorCode,
			Message: message,
			Data:    dataRaw,
		},
	})
}

func (Dialect) Convert(raw any, target reflect.Type) (reflect.Value, error) {
	buf, err := json.Marshal(raw)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("%w: %v", errs.ErrBinding, err)
	}
	out := reflect.New(target)
	if err := json.Unmarshal(buf, out.Interface()); err != nil {
		return reflect.Value{}, fmt.Errorf("%w: %v", errs.ErrBinding, err)
	}
	return out.Elem(), nil
}

func (Dialect) NewParser() codec.Parser { return &parser{} }

type parser struct {
	buf []byte
}

func (p *parser) Feed(chunk []byte) ([]codec.Frame, error) {
	p.buf = append(p.buf, chunk...)

	var frames []codec.Frame
	for {
		value, consumed, ok, err := extractOne(p.buf)
		if err != nil {
			return frames, fmt.Errorf("%w: %v", errs.ErrFraming, err)
		}
		if !ok {
			break
		}
		p.buf = p.buf[consumed:]

		frame, err := frameFromJSON(value)
		if err != nil {
			return frames, err
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

func frameFromJSON(raw []byte) (codec.Frame, error) {
	if len(raw) == 0 || raw[0] != '{' {
		return codec.Frame{}, fmt.Errorf("%w: batch/array frames are not supported", errs.ErrFraming)
	}

	var msg wireMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return codec.Frame{}, fmt.Errorf("%w: %v", errs.ErrFraming, err)
	}

	if msg.Method != nil {
		args, err := argsFromParams(msg.Params)
		if err != nil {
			return codec.Frame{}, err
		}

		if len(msg.ID) == 0 || string(msg.ID) == "null" {
			return codec.Frame{Kind: codec.KindNotification, Method: *msg.Method, Args: args}, nil
		}

		var id any
		if err := json.Unmarshal(msg.ID, &id); err != nil {
			return codec.Frame{}, fmt.Errorf("%w: %v", errs.ErrFraming, err)
		}
		return codec.Frame{Kind: codec.KindRequest, ID: id, Method: *msg.Method, Args: args}, nil
	}

	if msg.Result == nil && msg.Error == nil {
		return codec.Frame{}, fmt.Errorf("%w: response has neither result nor error", errs.ErrFraming)
	}
	if len(msg.ID) == 0 {
		return codec.Frame{}, fmt.Errorf("%w: response missing id field", errs.ErrFraming)
	}

	var id any
	if err := json.Unmarshal(msg.ID, &id); err != nil {
		return codec.Frame{}, fmt.Errorf("%w: %v", errs.ErrFraming, err)
	}

	frame := codec.Frame{Kind: codec.KindResponse, ID: id}
	if msg.Error != nil {
		if len(msg.Error.Data) > 0 {
			var data any
			if err := json.Unmarshal(msg.Error.Data, &data); err != nil {
				return codec.Frame{}, fmt.Errorf("%w: %v", errs.ErrFraming, err)
			}
			frame.Err = data
		} else {
			frame.Err = msg.Error.Message
		}
		return frame, nil
	}

	var result any
	if err := json.Unmarshal(msg.Result, &result); err != nil {
		return codec.Frame{}, fmt.Errorf("%w: %v", errs.ErrFraming, err)
	}
	frame.Result = result
	return frame, nil
}

// argsFromParams accepts params absent, null, an array (positional), or an
// object (named).
func argsFromParams(params json.RawMessage) (codec.Args, error) {
	if len(params) == 0 || string(params) == "null" {
		return codec.Args{List: []any{}}, nil
	}

	switch params[0] {
	case '[':
		var list []any
		if err := json.Unmarshal(params, &list); err != nil {
			return codec.Args{}, fmt.Errorf("%w: %v", errs.ErrFraming, err)
		}
		return codec.Args{List: list}, nil
	case '{':
		var m map[string]any
		if err := json.Unmarshal(params, &m); err != nil {
			return codec.Args{}, fmt.Errorf("%w: %v", errs.ErrFraming, err)
		}
		return codec.Args{Map: m}, nil
	default:
		return codec.Args{}, fmt.Errorf("%w: non-structured arguments are not supported", errs.ErrFraming)
	}
}

func marshalParams(args codec.Args) (json.RawMessage, error) {
	if args.Named() {
		return json.Marshal(args.Map)
	}
	list := args.List
	if list == nil {
		list = []any{}
	}
	return json.Marshal(list)
}
