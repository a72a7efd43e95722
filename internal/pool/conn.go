// Package pool provides the per-host connection pool the routing layer
// draws from.  Pools are safe for concurrent use; individual connections
// are not and belong to exactly one owner at a time.
package pool

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"time"

	"shardpipe/internal/logger"
	"shardpipe/internal/resp"
)

// ErrConnClosed is returned for I/O on a disconnected connection.
var ErrConnClosed = errors.New("pool: connection is closed")

const defaultBufferSize = 64 * 1024

// Conn is a single client connection to one backend host.  It owns a
// buffered reader and writer over the socket and remembers the raw file
// descriptor so callers can multiplex readiness over several
// connections at once.
type Conn struct {
	addr string
	cfg  config

	nc     net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	fd     int
}

// Connect establishes the TCP connection.  Calling it on a live
// connection is a no-op.
func (c *Conn) Connect() error {
	if c.nc != nil {
		return nil
	}

	nc, err := net.DialTimeout("tcp", c.addr, c.cfg.dialTimeout)
	if err != nil {
		return fmt.Errorf("pool: dial %s: %w", c.addr, err)
	}

	fd := -1
	if tc, ok := nc.(*net.TCPConn); ok {
		if raw, err := tc.SyscallConn(); err == nil {
			_ = raw.Control(func(rawFd uintptr) { fd = int(rawFd) })
		}
	}

	c.nc = nc
	c.reader = bufio.NewReaderSize(nc, defaultBufferSize)
	c.writer = bufio.NewWriterSize(nc, defaultBufferSize)
	c.fd = fd

	logger.Debugf("connected to %s (fd %d)", c.addr, fd)
	return nil
}

// Connected reports whether the connection has a live socket.
func (c *Conn) Connected() bool { return c.nc != nil }

// Addr returns the remote address the connection dials.
func (c *Conn) Addr() string { return c.addr }

// Fd returns the raw file descriptor of the socket, or -1 when the
// connection is down or the descriptor could not be captured.
func (c *Conn) Fd() int {
	if c.nc == nil {
		return -1
	}
	return c.fd
}

// RetryOnTimeout reports whether the inline execute path may retry a
// command after a timeout on this connection.
func (c *Conn) RetryOnTimeout() bool { return c.cfg.retryOnTimeout }

// Write sends a packed payload, flushing it to the socket.
func (c *Conn) Write(b []byte) error {
	if c.nc == nil {
		return ErrConnClosed
	}
	if c.cfg.writeTimeout > 0 {
		if err := c.nc.SetWriteDeadline(time.Now().Add(c.cfg.writeTimeout)); err != nil {
			return fmt.Errorf("pool: set write deadline: %w", err)
		}
	}
	if _, err := c.writer.Write(b); err != nil {
		return fmt.Errorf("pool: write to %s: %w", c.addr, err)
	}
	if err := c.writer.Flush(); err != nil {
		return fmt.Errorf("pool: flush to %s: %w", c.addr, err)
	}
	return nil
}

// ReadReply reads and decodes one reply from the socket.
func (c *Conn) ReadReply() (resp.Value, error) {
	if c.nc == nil {
		return resp.Value{}, ErrConnClosed
	}
	if c.cfg.readTimeout > 0 {
		if err := c.nc.SetReadDeadline(time.Now().Add(c.cfg.readTimeout)); err != nil {
			return resp.Value{}, fmt.Errorf("pool: set read deadline: %w", err)
		}
	}
	return resp.ReadReply(c.reader)
}

// Buffered reports how many reply bytes are already sitting in the read
// buffer.  The poll registry consults this before blocking: buffered
// data never shows up as socket readiness.
func (c *Conn) Buffered() int {
	if c.reader == nil {
		return 0
	}
	return c.reader.Buffered()
}

// Close tears the connection down.  It is safe to call repeatedly.
func (c *Conn) Close() error {
	if c.nc == nil {
		return nil
	}
	err := c.nc.Close()
	c.nc = nil
	c.reader = nil
	c.writer = nil
	c.fd = -1
	return err
}

// IsTimeout reports whether err stems from an I/O deadline.
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
