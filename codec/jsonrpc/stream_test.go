package jsonrpc

import "testing"

func TestExtractOneSkipsLeadingWhitespace(t *testing.T) {
	value, consumed, ok, err := extractOne([]byte("  \n{\"a\":1}"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected a complete value")
	}
	if string(value) != `{"a":1}` {
		t.Fatalf("got %q", value)
	}
	if consumed != len("  \n{\"a\":1}") {
		t.Fatalf("consumed %d, want %d", consumed, len("  \n{\"a\":1}"))
	}
}

func TestExtractOneIncompleteReturnsNotOK(t *testing.T) {
	_, _, ok, err := extractOne([]byte(`{"a":`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected incomplete value")
	}
}

func TestExtractOneHandlesEscapedBraces(t *testing.T) {
	// A brace inside a string must not affect depth tracking.
	input := []byte(`{"a":"}","b":"\\"}` + `{"next":1}`)
	value, consumed, ok, err := extractOne(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected a complete value")
	}
	if string(value) != `{"a":"}","b":"\\"}` {
		t.Fatalf("got %q", value)
	}

	rest := input[consumed:]
	if string(rest) != `{"next":1}` {
		t.Fatalf("remainder got %q", rest)
	}
}

func TestExtractOneTwoFramesBackToBack(t *testing.T) {
	input := []byte(`{"a":1}{"b":2}`)
	v1, n1, ok, err := extractOne(input)
	if err != nil || !ok {
		t.Fatalf("first extract failed: ok=%v err=%v", ok, err)
	}
	if string(v1) != `{"a":1}` {
		t.Fatalf("got %q", v1)
	}

	v2, _, ok, err := extractOne(input[n1:])
	if err != nil || !ok {
		t.Fatalf("second extract failed: ok=%v err=%v", ok, err)
	}
	if string(v2) != `{"b":2}` {
		t.Fatalf("got %q", v2)
	}
}

func TestExtractOneRejectsTrailingJunkAtTopLevel(t *testing.T) {
	// After consuming the first complete value, a stray '}' at the top
	// level (not starting a new '{' or '[') is rejected.
	first := []byte(`{"a":1}`)
	_, consumed, ok, err := extractOne(append(append([]byte{}, first...), '}'))
	if err != nil || !ok {
		t.Fatalf("first extract failed: ok=%v err=%v", ok, err)
	}
	rest := append(append([]byte{}, first...), '}')[consumed:]
	_, _, _, err = extractOne(rest)
	if err == nil {
		t.Fatal("expected an error for a stray top-level '}'")
	}
}
