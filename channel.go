// Package tlsrelay implements the secure-transport adaptation core: a
// streaming TLS channel that bridges an in-memory TLS adapter
// (package adapter) against an asynchronous, callback-driven byte
// transport (package transport), performing record encryption, flow
// control, and half-close shutdown on behalf of an application that
// only ever sees plaintext.
package tlsrelay

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/brickworks/tlsrelay/adapter"
	"github.com/brickworks/tlsrelay/internal/handle"
	"github.com/brickworks/tlsrelay/pkg/async"
	"github.com/brickworks/tlsrelay/pkg/ratelimit"
	"github.com/brickworks/tlsrelay/transport"
)

// ioRequest is one queued plaintext read or write. A read request
// carries its destination buffer, allocated once at enqueue time and
// reused across every readSubstep call while the request is
// outstanding, since adapter.ReadPlaintext's underlying operation may
// span several poll calls and must see the same buffer on each one. A
// write request carries its payload. Both carry the caller's dispatch
// queue and handler.
type ioRequest struct {
	buf     []byte
	data    []byte
	queue   transport.Queue
	handler transport.Handler
}

// Channel is a TLS-encrypted Connection. It implements
// transport.Connection so that it is substitutable anywhere a plain
// byte-stream transport is expected.
type Channel struct {
	queue *async.Queue
	trans transport.Connection
	ad    *adapter.Adapter
	tok   *handle.Token[*Channel]

	pendingReads  []*ioRequest
	pendingWrites []*ioRequest

	// readAhead holds plaintext decrypted by probeCloseNotify while no
	// read was queued to receive it; the next real read is served from
	// here before any new adapter.ReadPlaintext call.
	readAhead []byte

	// probeBuf is probeCloseNotify's scratch buffer, allocated once and
	// reused across calls (see probeCloseNotify for why).
	probeBuf []byte

	readingCiphertext bool
	writingCiphertext bool

	shutdown   shutdownState
	closeTimer *time.Timer
	closeWait  time.Duration

	err error

	// closedErrno mirrors err's boundary errno for Read/Write calls that
	// race a closed channel: tok.Severed() and closedErrno are both set
	// from transitionClosed before queue.Close(), so a caller on another
	// goroutine can fail fast instead of posting to a queue that may
	// already be dropping tasks silently.
	closedErrno atomic.Int32

	cleanupCB    func(errno int32)
	cleanupFired bool

	limiter *ratelimit.Limiter
}

var _ transport.Connection = (*Channel)(nil)

// Open takes ownership of trans, builds a TLS adapter for it, and
// begins pumping ciphertext. cleanupCB fires exactly once, with the
// channel's boundary errno, when the channel is fully closed.
func Open(trans transport.Connection, cleanupCB func(errno int32), opts ...Option) (*Channel, error) {
	options, err := newOptions(opts...)
	if err != nil {
		return nil, err
	}
	if options.TLSConfig == nil {
		return nil, ErrMissingTLSConfig
	}

	if options.Limiter != nil {
		if err := options.Limiter.Wait(context.Background()); err != nil {
			return nil, err
		}
	}

	ch := &Channel{trans: trans, cleanupCB: cleanupCB, closeWait: options.CloseTimeout, limiter: options.Limiter}
	ch.queue = async.NewQueue(context.Background())
	ch.tok = handle.New(ch)

	side := adapter.Client
	if options.Side == ServerSide {
		side = adapter.Server
	}
	ad, err := adapter.New(options.TLSConfig, side, options.CiphertextSoftCap, ch.wake)
	if err != nil {
		ch.queue.Close()
		if ch.limiter != nil {
			ch.limiter.Revert()
		}
		return nil, err
	}
	ch.ad = ad

	ch.queue.Emit(func(ctx context.Context) { ch.step() })
	return ch, nil
}

// wake re-enters step on the channel's serial queue. It is the
// callback the adapter invokes from its background worker goroutines
// once a previously would-block plaintext operation has a result.
func (ch *Channel) wake() {
	ch.queue.Emit(func(ctx context.Context) { ch.step() })
}

// Read enqueues a request for up to length plaintext bytes. handler
// fires on queue once the request completes, is failed, or is
// dropped by a forced close.
func (ch *Channel) Read(length int, queue transport.Queue, handler transport.Handler) {
	if length == 0 {
		queue.Emit(func() { handler(true, []byte{}, 0) })
		return
	}
	if ch.tok.Severed() {
		errno := ch.closedErrno.Load()
		queue.Emit(func() { handler(true, nil, errno) })
		return
	}
	ch.queue.Emit(func(ctx context.Context) {
		ch.pendingReads = append(ch.pendingReads, &ioRequest{buf: make([]byte, length), queue: queue, handler: handler})
		ch.step()
	})
}

// Write enqueues data to be encrypted and pumped out over the
// transport. handler fires once the entire payload has been absorbed
// by the TLS engine, failed, or dropped by a forced close.
func (ch *Channel) Write(data []byte, queue transport.Queue, handler transport.Handler) {
	if len(data) == 0 {
		queue.Emit(func() { handler(true, nil, 0) })
		return
	}
	if ch.tok.Severed() {
		errno := ch.closedErrno.Load()
		queue.Emit(func() { handler(true, nil, errno) })
		return
	}
	ch.queue.Emit(func(ctx context.Context) {
		ch.pendingWrites = append(ch.pendingWrites, &ioRequest{data: data, queue: queue, handler: handler})
		ch.step()
	})
}

// Close initiates shutdown. force=true abandons the connection with
// EIO rather than waiting for the peer's close-notify to arrive.
func (ch *Channel) Close(force bool) error {
	ch.queue.Emit(func(ctx context.Context) { ch.requestShutdown(force) })
	return nil
}

// SetLowWater is a no-op: it exists only so Channel satisfies
// transport.Connection's exact surface for interface compatibility
// with a plain transport. A TLS channel has no low-water mark of its
// own; the real knob lives on the transport it wraps.
func (ch *Channel) SetLowWater(n int) error { return nil }

func (ch *Channel) Fd() int              { return ch.trans.Fd() }
func (ch *Channel) LocalAddr() net.Addr  { return ch.trans.LocalAddr() }
func (ch *Channel) RemoteAddr() net.Addr { return ch.trans.RemoteAddr() }
