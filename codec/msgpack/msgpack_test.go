package msgpack_test

import (
	"testing"

	"github.com/nalgeon/be"
	vmsgpack "github.com/vmihailenco/msgpack/v5"

	"github.com/firi/packio/codec"
	"github.com/firi/packio/codec/msgpack"
)

func TestSerializeParseRequestRoundTrip(t *testing.T) {
	d := msgpack.Dialect{}
	data, err := d.SerializeRequest(uint32(7), "add", codec.Args{List: []any{1, 2}})
	be.Err(t, err, nil)

	frames, err := d.NewParser().Feed(data)
	be.Err(t, err, nil)
	be.Equal(t, len(frames), 1)

	f := frames[0]
	be.Equal(t, f.Kind, codec.KindRequest)
	be.Equal(t, f.ID.(uint32), uint32(7))
	be.Equal(t, f.Method, "add")
	be.Equal(t, len(f.Args.List), 2)
}

func TestSerializeParseNotificationRoundTrip(t *testing.T) {
	d := msgpack.Dialect{}
	data, err := d.SerializeNotification("ping", codec.Args{List: []any{"hi"}})
	be.Err(t, err, nil)

	frames, err := d.NewParser().Feed(data)
	be.Err(t, err, nil)
	be.Equal(t, len(frames), 1)
	be.Equal(t, frames[0].Kind, codec.KindNotification)
	be.Equal(t, frames[0].Method, "ping")
}

func TestSerializeParseResponseSuccessAndError(t *testing.T) {
	d := msgpack.Dialect{}

	okData, err := d.SerializeResponseSuccess(uint32(1), 66)
	be.Err(t, err, nil)
	frames, err := d.NewParser().Feed(okData)
	be.Err(t, err, nil)
	be.Equal(t, len(frames), 1)
	be.Equal(t, frames[0].Err, nil)

	errData, err := d.SerializeResponseError(uint32(1), "boom")
	be.Err(t, err, nil)
	frames, err = d.NewParser().Feed(errData)
	be.Err(t, err, nil)
	be.Equal(t, frames[0].Err.(string), "boom")
}

func TestSerializeRequestRejectsNamedArgs(t *testing.T) {
	d := msgpack.Dialect{}
	_, err := d.SerializeRequest(uint32(1), "add", codec.Args{Map: map[string]any{"a": 1}})
	if err == nil {
		t.Fatal("expected error for named arguments")
	}
}

func TestIncrementalParsingAcrossArbitraryChunks(t *testing.T) {
	d := msgpack.Dialect{}
	var all []byte
	for i := 0; i < 5; i++ {
		data, err := d.SerializeNotification("tick", codec.Args{List: []any{i}})
		be.Err(t, err, nil)
		all = append(all, data...)
	}

	parser := d.NewParser()
	var got []codec.Frame
	for _, chunkSize := range []int{1, 3, 7, len(all)} {
		for i := 0; i < len(all); i += chunkSize {
			end := i + chunkSize
			if end > len(all) {
				end = len(all)
			}
			frames, err := parser.Feed(all[i:end])
			be.Err(t, err, nil)
			got = append(got, frames...)
		}
		if len(got) == 5 {
			break
		}
	}
	be.Equal(t, len(got), 5)
	for i, f := range got {
		be.Equal(t, asInt(f.Args.List[0]), i)
	}
}

// asInt normalizes any of msgpack's decoded integer kinds for comparison;
// the exact Go type the decoder picks for a small integer is an
// implementation detail of the library, not something this codec asserts on.
func asInt(v any) int {
	switch n := v.(type) {
	case int8:
		return int(n)
	case int16:
		return int(n)
	case int32:
		return int(n)
	case int64:
		return int(n)
	case int:
		return n
	case uint8:
		return int(n)
	case uint16:
		return int(n)
	case uint32:
		return int(n)
	case uint64:
		return int(n)
	default:
		panic("not an integer")
	}
}

func TestMalformedFrameReturnsFramingError(t *testing.T) {
	d := msgpack.Dialect{}
	// array of length 2: not a valid request/notification/response shape.
	data, err := vmsgpack.Marshal([]any{0, "oops"})
	be.Err(t, err, nil)

	_, err = d.NewParser().Feed(data)
	if err == nil {
		t.Fatal("expected a framing error for a malformed array")
	}
}
