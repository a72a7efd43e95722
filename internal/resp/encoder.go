package resp

import (
	"strconv"
)

type Type int

const (
	SimpleString Type = iota
	Error
	Integer
	BulkString
	Array
)

// Value is one decoded RESP reply.
type Value struct {
	Type   Type
	Str    string
	Int    int64
	Array  []Value
	IsNull bool
}

// IsOK reports whether the value is the +OK status reply.
func (v Value) IsOK() bool {
	return v.Type == SimpleString && v.Str == "OK"
}

// Strings flattens an array reply into its bulk string elements.  Null
// elements become empty strings.
func (v Value) Strings() []string {
	if v.Type != Array || v.IsNull {
		return nil
	}
	out := make([]string, len(v.Array))
	for i, el := range v.Array {
		out[i] = el.Str
	}
	return out
}

var crlf = []byte("\r\n")

// AppendCommand appends the RESP array form of a single command to dst.
// Every command and argument is written as a bulk string, which is the
// form servers accept for requests.
func AppendCommand(dst []byte, name string, args ...string) []byte {
	dst = append(dst, '*')
	dst = strconv.AppendInt(dst, int64(1+len(args)), 10)
	dst = append(dst, crlf...)
	dst = appendBulk(dst, name)
	for _, a := range args {
		dst = appendBulk(dst, a)
	}
	return dst
}

// PackCommand packs one command into a fresh wire buffer.
func PackCommand(name string, args ...string) []byte {
	return AppendCommand(nil, name, args...)
}

// PackCommands packs several commands into one contiguous pipeline
// payload.  Each row is the command name followed by its arguments.
func PackCommands(cmds [][]string) []byte {
	var dst []byte
	for _, row := range cmds {
		if len(row) == 0 {
			continue
		}
		dst = AppendCommand(dst, row[0], row[1:]...)
	}
	return dst
}

func appendBulk(dst []byte, s string) []byte {
	dst = append(dst, '$')
	dst = strconv.AppendInt(dst, int64(len(s)), 10)
	dst = append(dst, crlf...)
	dst = append(dst, s...)
	dst = append(dst, crlf...)
	return dst
}

// Encode helpers for tests and fixtures

func EncodeSimpleString(s string) []byte { return []byte("+" + s + "\r\n") }
func EncodeError(s string) []byte        { return []byte("-" + s + "\r\n") }
func EncodeInteger(n int64) []byte       { return []byte(":" + strconv.FormatInt(n, 10) + "\r\n") }

func EncodeBulkString(p []byte) []byte {
	if p == nil {
		return []byte("$-1\r\n")
	}
	var dst []byte
	return appendBulk(dst, string(p))
}

func EncodeArray(parts ...[]byte) []byte {
	dst := []byte("*" + strconv.Itoa(len(parts)) + "\r\n")
	for _, p := range parts {
		dst = appendBulk(dst, string(p))
	}
	return dst
}

func EncodeNullArray() []byte { return []byte("*-1\r\n") }
