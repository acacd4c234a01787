package transport

import (
	"errors"
	"io"
	"net"
	"os"
	"sync/atomic"
	"syscall"
)

// NewConn wraps an established net.Conn as a Connection. Each Read or
// Write call runs conn's blocking method on its own goroutine and
// delivers the result through queue, giving the synchronous net.Conn
// API the asynchronous, non-blocking shape the channel engine expects.
func NewConn(conn net.Conn) Connection {
	return &netConn{conn: conn}
}

type netConn struct {
	conn   net.Conn
	closed atomic.Bool
}

func (c *netConn) Read(length int, queue Queue, handler Handler) {
	if length == 0 {
		queue.Emit(func() { handler(true, []byte{}, 0) })
		return
	}
	go func() {
		buf := make([]byte, length)
		n, err := c.conn.Read(buf)
		queue.Emit(func() {
			switch {
			case err == nil:
				handler(true, buf[:n], 0)
			case errors.Is(err, io.EOF):
				if n > 0 {
					handler(true, buf[:n], 0)
					return
				}
				handler(true, nil, 0)
			default:
				handler(true, nil, errnoOf(err))
			}
		})
	}()
}

func (c *netConn) Write(data []byte, queue Queue, handler Handler) {
	if len(data) == 0 {
		queue.Emit(func() { handler(true, nil, 0) })
		return
	}
	go func() {
		_, err := c.conn.Write(data)
		queue.Emit(func() {
			if err != nil {
				handler(true, nil, errnoOf(err))
				return
			}
			handler(true, nil, 0)
		})
	}()
}

func (c *netConn) Fd() int {
	sc, ok := c.conn.(syscall.Conn)
	if !ok {
		return -1
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}
	var fd int
	_ = raw.Control(func(h uintptr) { fd = int(h) })
	return fd
}

func (c *netConn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *netConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// SetLowWater hints the kernel to hold back read completions until n
// bytes are available (SO_RCVLOWAT on linux); see sockopt_linux.go.
// Non-linux platforms have no portable equivalent and silently ignore
// the hint, like the TLS Channel's own SetLowWater, which is always a
// no-op.
func (c *netConn) SetLowWater(n int) error {
	return setLowWater(c.conn, n)
}

func (c *netConn) Close(force bool) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if force {
		if tcp, ok := c.conn.(*net.TCPConn); ok {
			_ = tcp.SetLinger(0)
		}
	}
	return c.conn.Close()
}

// errnoOf extracts a POSIX errno from err, falling back to EIO for
// errors the transport does not otherwise classify (timeouts, closed
// connections, anything without a syscall.Errno underneath).
func errnoOf(err error) int32 {
	var se *os.SyscallError
	if errors.As(err, &se) {
		var errno syscall.Errno
		if errors.As(se.Err, &errno) {
			return int32(errno)
		}
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return int32(errno)
	}
	return int32(syscall.EIO)
}
