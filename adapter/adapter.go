// Package adapter implements the in-memory TLS adapter: the layer
// that drives a TLS engine's handshake and record I/O against a pair
// of ciphertext buffers it owns, exposing a plaintext read/write
// surface that never blocks.
//
// crypto/tls only speaks to a net.Conn, and its Read/Write both
// block, so the adapter runs the real *tls.Conn on background
// goroutines (one per direction, see worker.go) against a synthetic
// net.Conn (memconn.go) backed directly by the ciphertext buffers.
// ReadPlaintext and WritePlaintext poll those goroutines without
// blocking, giving the channel engine the would-block-and-retry shape
// spec'd for the underlying SSL engine.
package adapter

import (
	"crypto/tls"
	"errors"
	"io"

	"github.com/brickworks/tlsrelay/pkg/cbuffer"
)

// ErrWouldBlock is returned by ReadPlaintext/WritePlaintext when no
// result is ready yet: more ingress ciphertext must arrive, or egress
// ciphertext must drain, before progress can resume.
var ErrWouldBlock = errors.New("adapter: would block")

// Side selects which half of the handshake the adapter drives.
type Side int

const (
	Client Side = iota
	Server
)

// Adapter owns one TLS connection's handshake state plus the ingress
// and egress ciphertext buffers it reads from and writes to.
type Adapter struct {
	ingress *cbuffer.Buffer
	egress  *cbuffer.Buffer
	conn    *memConn
	tls     *tls.Conn

	readDir, writeDir, shutdownDir *direction
}

// New creates an adapter for one TLS connection. wake is invoked
// (from a worker goroutine, never synchronously) whenever a
// previously would-block plaintext operation has produced a result,
// so the caller can re-run the channel's step loop.
func New(cfg *tls.Config, side Side, softCap int, wake func()) (*Adapter, error) {
	ingress := cbuffer.New(softCap)
	egress := cbuffer.New(softCap)
	mc, err := newMemConn(ingress, egress)
	if err != nil {
		return nil, err
	}

	var conn *tls.Conn
	switch side {
	case Server:
		conn = tls.Server(mc, cfg)
	default:
		conn = tls.Client(mc, cfg)
	}

	a := &Adapter{ingress: ingress, egress: egress, conn: mc, tls: conn}
	a.readDir = newDirection(wake, func(buf []byte) (int, error) { return conn.Read(buf) })
	a.writeDir = newDirection(wake, func(buf []byte) (int, error) { return conn.Write(buf) })
	// CloseWrite fails with an error, sending nothing, while the
	// handshake is incomplete; once it has completed it queues our
	// close-notify. It runs on its own worker, polled like Read and
	// Write, so the channel's serial queue never calls it directly.
	a.shutdownDir = newDirection(wake, func(buf []byte) (int, error) { return 0, conn.CloseWrite() })
	return a, nil
}

// Ingress is the buffer transport reads deposit ciphertext into.
func (a *Adapter) Ingress() *cbuffer.Buffer { return a.ingress }

// Egress is the buffer the channel drains to hand ciphertext to the
// transport for writing.
func (a *Adapter) Egress() *cbuffer.Buffer { return a.egress }

// Feed delivers newly-arrived ciphertext into the ingress buffer and
// wakes any TLS read blocked waiting for it.
func (a *Adapter) Feed(p []byte) {
	a.conn.deliver(p)
}

// DrainEgress removes and returns up to max bytes of ciphertext ready
// for transport, or ok=false if egress is empty. max<=0 drains it all.
func (a *Adapter) DrainEgress(max int) (p []byte, ok bool) {
	return a.conn.drainEgress(max)
}

// EgressLen reports how much ciphertext is waiting to be written.
func (a *Adapter) EgressLen() int { return a.conn.egressAvailable() }

// IngressAvailableSpace reports how much room remains under the
// ingress buffer's soft cap, used by the channel's ciphertext-read
// pump to decide whether to schedule another transport read.
func (a *Adapter) IngressAvailableSpace() int { return a.conn.ingressAvailableSpace() }

// ReadPlaintext fills into with decrypted application bytes. It
// returns ErrWouldBlock if the handshake or record layer needs more
// ingress ciphertext or egress drain before it can produce data, a
// taxonomy error on protocol failure, or (0, nil) if the peer's
// close-notify was observed (no more plaintext will ever arrive).
func (a *Adapter) ReadPlaintext(into []byte) (n int, err error) {
	n, rerr, ok := a.readDir.poll(into)
	if !ok {
		return 0, ErrWouldBlock
	}
	if rerr != nil {
		if errors.Is(rerr, io.EOF) {
			return 0, nil
		}
		return 0, classify(rerr)
	}
	return n, nil
}

// WritePlaintext hands from to the TLS record layer to encrypt into
// egress. On success n always equals len(from): *tls.Conn.Write only
// returns a short count together with a non-nil error.
func (a *Adapter) WritePlaintext(from []byte) (n int, err error) {
	n, werr, ok := a.writeDir.poll(from)
	if !ok {
		return 0, ErrWouldBlock
	}
	if werr != nil {
		if errors.Is(werr, io.EOF) {
			return 0, nil
		}
		return 0, classify(werr)
	}
	return n, nil
}

// Shutdown sends our close-notify alert if one has not already been
// sent. sent=true means the alert is enqueued in egress (Write never
// blocks, so this is always true barring a protocol failure); it does
// NOT mean the peer has acknowledged its own half of the close — the
// caller (the channel's shutdown state machine) tracks that
// separately from observing the peer's close-notify on the read path,
// mirroring the two-phase shutdown idiom of memory-BIO SSL engines
// where a first call sends the alert and a second checks for the
// peer's.
func (a *Adapter) Shutdown(force bool) (sent bool, err error) {
	_, serr, ok := a.shutdownDir.poll(nil)
	if !ok {
		return false, nil
	}
	if serr != nil && !errors.Is(serr, io.EOF) {
		return false, classify(serr)
	}
	return true, nil
}

// Close tears down the background worker goroutines and the
// synthetic net.Conn they run against. It does not touch the real
// transport; the channel closes that separately.
func (a *Adapter) Close() {
	a.readDir.close()
	a.writeDir.close()
	a.shutdownDir.close()
	_ = a.conn.Close()
}
