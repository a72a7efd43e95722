package resp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
)

var (
	ErrUnknownPrefix   = errors.New("resp: unknown prefix")
	ErrBadLineEnding   = errors.New("resp: bad line ending, expected CRLF")
	ErrInvalidArrayLen = errors.New("resp: invalid array length")
	ErrInvalidBulkLen  = errors.New("resp: invalid bulk string length")
	ErrTooLarge        = errors.New("resp: frame too large")
	ErrPartialFrame    = errors.New("resp: partial frame")
)

// Limits

const (
	MaxBulkLen      = 512 * 1024 * 1024
	DefaultMaxFrame = 1024 * 1024 * 1024
)

// Buffer pool

var bufPool = sync.Pool{New: func() any { b := make([]byte, 0, 8192); return &b }}

func getBuf(n int) []byte {
	p := bufPool.Get().(*[]byte)
	b := *p
	if cap(b) < n {
		b = make([]byte, n)
	} else {
		b = b[:n]
	}
	*p = b
	return b
}

func putBuf(b []byte) {
	if cap(b) > 1<<20 {
		b = make([]byte, 0, 8192)
	} else {
		b = b[:0]
	}
	p := &b
	bufPool.Put(p)
}

// ReadReply reads one complete reply value from the reader.  It is the
// client-side counterpart of a server's response encoder: simple strings,
// errors, integers, bulk strings and arrays, including the null bulk and
// null array forms.
func ReadReply(r *bufio.Reader) (Value, error) {
	b, err := r.ReadByte()
	if err != nil {
		return Value{}, err
	}
	switch b {
	case '+':
		line, err := readLineCRLF(r)
		if err != nil {
			return Value{}, err
		}
		return Value{Type: SimpleString, Str: string(line)}, nil
	case '-':
		line, err := readLineCRLF(r)
		if err != nil {
			return Value{}, err
		}
		return Value{Type: Error, Str: string(line)}, nil
	case ':':
		line, err := readLineCRLF(r)
		if err != nil {
			return Value{}, err
		}
		n, err := parseInt(line)
		if err != nil {
			return Value{}, err
		}
		return Value{Type: Integer, Int: n}, nil
	case '$':
		s, isNull, err := readBulkBody(r)
		if err != nil {
			return Value{}, err
		}
		return Value{Type: BulkString, Str: s, IsNull: isNull}, nil
	case '*':
		n, err := readArrayLen(r)
		if err != nil {
			return Value{}, err
		}
		if n == -1 {
			return Value{Type: Array, IsNull: true}, nil
		}
		arr := make([]Value, n)
		for i := 0; i < n; i++ {
			el, err := ReadReply(r)
			if err != nil {
				return Value{}, err
			}
			arr[i] = el
		}
		return Value{Type: Array, Array: arr}, nil
	default:
		return Value{}, ErrUnknownPrefix
	}
}

// Helpers

func readLineCRLF(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	if len(line) < 2 || line[len(line)-2] != '\r' {
		return nil, ErrBadLineEnding
	}
	return line[:len(line)-2], nil
}

func parseInt(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, fmt.Errorf("resp: empty integer")
	}
	if b[0] != '-' {
		for _, c := range b {
			if c < '0' || c > '9' {
				return 0, fmt.Errorf("resp: invalid integer")
			}
		}
	} else {
		if len(b) == 1 {
			return 0, fmt.Errorf("resp: invalid integer")
		}
		for i := 1; i < len(b); i++ {
			c := b[i]
			if c < '0' || c > '9' {
				return 0, fmt.Errorf("resp: invalid integer")
			}
		}
	}
	return strconv.ParseInt(string(b), 10, 64)
}

func parsePositiveInt(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, fmt.Errorf("resp: empty integer")
	}
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("resp: invalid integer")
		}
	}
	n64, err := strconv.ParseInt(string(b), 10, 32)
	if err != nil {
		return 0, err
	}
	return int(n64), nil
}

func readArrayLen(r *bufio.Reader) (int, error) {
	line, err := readLineCRLF(r)
	if err != nil {
		return 0, err
	}
	if len(line) > 0 && line[0] == '-' {
		n64, err := parseInt(line)
		if err != nil {
			return 0, err
		}
		if n64 != -1 {
			return 0, ErrInvalidArrayLen
		}
		return -1, nil
	}
	n, err := parsePositiveInt(line)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// readBulkBody reads the length line and payload of a bulk string whose
// '$' prefix has already been consumed.
func readBulkBody(r *bufio.Reader) (string, bool, error) {
	line, err := readLineCRLF(r)
	if err != nil {
		return "", false, err
	}
	if len(line) > 0 && line[0] == '-' {
		n64, err := parseInt(line)
		if err != nil {
			return "", false, err
		}
		if n64 != -1 {
			return "", false, ErrInvalidBulkLen
		}
		return "", true, nil
	}
	n, err := parsePositiveInt(line)
	if err != nil {
		return "", false, err
	}
	if n > MaxBulkLen {
		return "", false, ErrTooLarge
	}
	buf := getBuf(n)
	defer putBuf(buf)
	_, err = io.ReadFull(r, buf[:n])
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return "", false, ErrPartialFrame
		}
		return "", false, err
	}
	cr, err := r.ReadByte()
	if err != nil {
		return "", false, err
	}
	lf, err := r.ReadByte()
	if err != nil {
		return "", false, err
	}
	if cr != '\r' || lf != '\n' {
		return "", false, ErrBadLineEnding
	}
	// Copy the buffer content to avoid unsafe string conversion
	// since the buffer will be returned to the pool
	s := string(buf[:n])
	return s, false, nil
}
