package resp

import (
	"bufio"
	"bytes"
	"errors"
	"testing"
)

func newR(b []byte) *bufio.Reader { return bufio.NewReader(bytes.NewReader(b)) }

func TestReadReplySimpleTypes(t *testing.T) {
	payload := append(
		append(EncodeSimpleString("OK"), EncodeError("ERR wrong type")...),
		EncodeInteger(123)...,
	)
	r := newR(payload)
	v, err := ReadReply(r)
	if err != nil || v.Type != SimpleString || v.Str != "OK" {
		t.Fatalf("simple string parse failed, got %#v err %v", v, err)
	}
	if !v.IsOK() {
		t.Fatal("expected IsOK for +OK")
	}
	v, err = ReadReply(r)
	if err != nil || v.Type != Error || v.Str != "ERR wrong type" {
		t.Fatalf("error parse failed, got %#v err %v", v, err)
	}
	v, err = ReadReply(r)
	if err != nil || v.Type != Integer || v.Int != 123 {
		t.Fatalf("integer parse failed, got %#v err %v", v, err)
	}
}

func TestReadReplyBulkStrings(t *testing.T) {
	r := newR(append(EncodeBulkString([]byte("hello")), EncodeBulkString(nil)...))
	v, err := ReadReply(r)
	if err != nil || v.Type != BulkString || v.Str != "hello" || v.IsNull {
		t.Fatalf("bulk parse failed, got %#v err %v", v, err)
	}
	v, err = ReadReply(r)
	if err != nil || v.Type != BulkString || !v.IsNull {
		t.Fatalf("null bulk parse failed, got %#v err %v", v, err)
	}
}

func TestReadReplyArrays(t *testing.T) {
	payload := EncodeArray([]byte("a"), []byte("b"), []byte("c"))
	v, err := ReadReply(newR(payload))
	if err != nil || v.Type != Array || len(v.Array) != 3 {
		t.Fatalf("array parse failed, got %#v err %v", v, err)
	}
	got := v.Strings()
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("array element %d mismatch: got %q want %q", i, got[i], want[i])
		}
	}

	v, err = ReadReply(newR(EncodeNullArray()))
	if err != nil || v.Type != Array || !v.IsNull {
		t.Fatalf("null array parse failed, got %#v err %v", v, err)
	}
	if v.Strings() != nil {
		t.Fatal("null array should flatten to nil")
	}
}

func TestReadReplyBadInput(t *testing.T) {
	if _, err := ReadReply(newR([]byte("?weird\r\n"))); !errors.Is(err, ErrUnknownPrefix) {
		t.Fatalf("expected ErrUnknownPrefix, got %v", err)
	}
	if _, err := ReadReply(newR([]byte("+OK\n"))); !errors.Is(err, ErrBadLineEnding) {
		t.Fatalf("expected ErrBadLineEnding, got %v", err)
	}
	if _, err := ReadReply(newR([]byte("$5\r\nab\r\n"))); err == nil {
		t.Fatal("expected error for truncated bulk string")
	}
	if _, err := ReadReply(newR([]byte("$-2\r\n"))); !errors.Is(err, ErrInvalidBulkLen) {
		t.Fatalf("expected ErrInvalidBulkLen, got %v", err)
	}
	if _, err := ReadReply(newR([]byte("*-3\r\n"))); !errors.Is(err, ErrInvalidArrayLen) {
		t.Fatalf("expected ErrInvalidArrayLen, got %v", err)
	}
}

func TestPackCommandRoundTrip(t *testing.T) {
	buf := PackCommand("SET", "key", "value")
	want := "*3\r\n$3\r\nSET\r\n$3\r\nkey\r\n$5\r\nvalue\r\n"
	if string(buf) != want {
		t.Fatalf("pack mismatch:\ngot  %q\nwant %q", buf, want)
	}
}

func TestPackCommandsPipeline(t *testing.T) {
	buf := PackCommands([][]string{
		{"GET", "a"},
		{"MGET", "b", "c"},
		{},
	})
	want := "*2\r\n$3\r\nGET\r\n$1\r\na\r\n" +
		"*3\r\n$4\r\nMGET\r\n$1\r\nb\r\n$1\r\nc\r\n"
	if string(buf) != want {
		t.Fatalf("pipeline pack mismatch:\ngot  %q\nwant %q", buf, want)
	}
}

func TestPackCommandEmptyArg(t *testing.T) {
	buf := PackCommand("SET", "k", "")
	want := "*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$0\r\n\r\n"
	if string(buf) != want {
		t.Fatalf("empty arg pack mismatch:\ngot  %q\nwant %q", buf, want)
	}
}
