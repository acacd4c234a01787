package adapter

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/brickworks/tlsrelay/internal/waker"
	"github.com/brickworks/tlsrelay/pkg/cbuffer"
)

// memConn is a net.Conn that never touches a real file descriptor: its
// Read side drains the adapter's ingress ciphertext buffer and its
// Write side appends to the egress one. It is what lets a stdlib
// *tls.Conn, which only knows how to talk to a net.Conn, run its
// handshake and record layer directly against the buffers the channel
// engine pumps ciphertext through.
//
// Read blocks until ingress has bytes or the conn is closed, backed by
// a Waker rather than a condition variable, since the engine's
// ciphertext pump signals from a different goroutine than the one
// blocked in Read. Write never blocks: it always appends to egress,
// mirroring the ciphertext buffer's own "writes never fail" contract.
type memConn struct {
	mu      sync.Mutex
	ingress *cbuffer.Buffer
	egress  *cbuffer.Buffer
	wake    *waker.Waker
	closed  bool
}

func newMemConn(ingress, egress *cbuffer.Buffer) (*memConn, error) {
	w, err := waker.New(5 * time.Second)
	if err != nil {
		return nil, err
	}
	return &memConn{ingress: ingress, egress: egress, wake: w}, nil
}

// deliver appends newly-arrived ciphertext to ingress and wakes any
// blocked Read. Called from the channel's serial queue when a
// transport read completes.
func (c *memConn) deliver(p []byte) {
	c.mu.Lock()
	c.ingress.Write(p)
	c.mu.Unlock()
	c.wake.Signal()
}

// drainEgress removes and returns up to max bytes buffered for
// transport write (everything when max<=0). Called from the channel's
// serial queue.
func (c *memConn) drainEgress(max int) (p []byte, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.egress.Read(max)
}

func (c *memConn) egressAvailable() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.egress.Len()
}

func (c *memConn) ingressAvailableSpace() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ingress.AvailableSpace()
}

func (c *memConn) Read(p []byte) (n int, err error) {
	for {
		c.mu.Lock()
		if data, ok := c.ingress.Read(len(p)); ok {
			n = copy(p, data)
			c.mu.Unlock()
			return n, nil
		}
		if c.closed {
			c.mu.Unlock()
			return 0, io.EOF
		}
		c.mu.Unlock()

		if err := c.wake.Wait(context.Background()); err != nil && err != context.DeadlineExceeded {
			return 0, err
		}
	}
}

func (c *memConn) Write(p []byte) (n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, net.ErrClosed
	}
	return c.egress.Write(p), nil
}

func (c *memConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.wake.Signal()
	return nil
}

func (c *memConn) LocalAddr() net.Addr                { return memAddr{} }
func (c *memConn) RemoteAddr() net.Addr               { return memAddr{} }
func (c *memConn) SetDeadline(t time.Time) error      { return nil }
func (c *memConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *memConn) SetWriteDeadline(t time.Time) error { return nil }

type memAddr struct{}

func (memAddr) Network() string { return "mem" }
func (memAddr) String() string  { return "mem" }
