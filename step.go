package tlsrelay

import (
	"context"
	"errors"

	"github.com/brickworks/tlsrelay/adapter"
	"github.com/brickworks/tlsrelay/errs"
)

// probeBufferSize is large enough to hold one maximal TLS record's
// worth of decrypted application data (16KB) in one probeCloseNotify
// poll.
const probeBufferSize = 16 * 1024

// queueAdapter lets Channel hand its internal async.Queue to the
// transport layer, which only knows the narrower transport.Queue
// shape (Emit(func()) rather than Emit(func(context.Context))).
type queueAdapter struct{ ch *Channel }

func (q queueAdapter) Emit(fn func()) {
	q.ch.queue.Emit(func(ctx context.Context) { fn() })
}

// step is the engine's fixed point: it repeatedly drives shutdown,
// plaintext reads and plaintext writes until nothing makes progress,
// then schedules whatever ciphertext pumping is now possible and
// returns. It always runs on ch.queue.
func (ch *Channel) step() {
	for {
		morePossible := false

		switch ch.shutdown.phase {
		case shutdownClosed:
			// terminal; only tryReadCiphertext/tryWriteCiphertext's early
			// exit below matters once we reach this case.
		case shutdownSent:
			// our write direction is closed, but half-close permits the
			// peer to keep writing: keep draining pendingReads so data
			// already in flight still gets delivered. No new writes are
			// attempted. With no read queued there is nobody to hand
			// decrypted bytes to, but the peer's close-notify still has
			// to be observed to finish the shutdown, so probe for it
			// directly; any plaintext it turns up waits in readAhead.
			if len(ch.pendingReads) > 0 {
				_, readMore := ch.readSubstep()
				morePossible = readMore
			} else if !ch.shutdown.closeNotifyReceived {
				ch.probeCloseNotify()
			}
		case shutdownRequested:
			morePossible = ch.runShutdownSubstep()
		default: // shutdownOpen
			_, readMore := ch.readSubstep()
			morePossible = readMore
			if ch.shutdown.phase == shutdownOpen {
				_, writeMore := ch.writeSubstep()
				morePossible = morePossible || writeMore
			}
		}

		if ch.shutdown.phase == shutdownClosed {
			return
		}

		ch.tryReadCiphertext()
		ch.tryWriteCiphertext()

		if !morePossible {
			return
		}
	}
}

// readSubstep attempts to satisfy the head of pendingReads.
func (ch *Channel) readSubstep() (progress, morePossible bool) {
	if len(ch.pendingReads) == 0 {
		return false, false
	}
	front := ch.pendingReads[0]

	if len(ch.readAhead) > 0 {
		n := len(front.buf)
		if n > len(ch.readAhead) {
			n = len(ch.readAhead)
		}
		data := ch.readAhead[:n]
		ch.readAhead = ch.readAhead[n:]
		ch.pendingReads = ch.pendingReads[1:]
		ch.complete(front, true, data, 0)
		return true, len(ch.pendingReads) > 0
	}

	// front.buf is reused unchanged across every call for this request:
	// the underlying TLS read may still be in flight on readDir's worker
	// goroutine, and that goroutine writes its result into whichever
	// buffer it was started against. Passing a freshly allocated buffer
	// here on a later call would make ReadPlaintext's byte count refer
	// to a buffer that was never actually written to.
	n, err := ch.ad.ReadPlaintext(front.buf)
	if errors.Is(err, adapter.ErrWouldBlock) {
		return false, false
	}
	if err != nil {
		ch.latchError(err)
		return true, false
	}
	ch.pendingReads = ch.pendingReads[1:]
	if n == 0 {
		ch.complete(front, true, nil, 0)
		ch.noteCloseNotify()
		return true, len(ch.pendingReads) > 0
	}
	ch.complete(front, true, front.buf[:n], 0)
	return true, len(ch.pendingReads) > 0
}

// writeSubstep attempts to satisfy the head of pendingWrites.
func (ch *Channel) writeSubstep() (progress, morePossible bool) {
	if len(ch.pendingWrites) == 0 {
		return false, false
	}
	if ch.ad.Egress().AvailableSpace() <= 0 {
		return false, false
	}
	front := ch.pendingWrites[0]
	n, err := ch.ad.WritePlaintext(front.data)
	if errors.Is(err, adapter.ErrWouldBlock) {
		return false, false
	}
	if err != nil {
		ch.latchError(err)
		return true, false
	}
	ch.pendingWrites = ch.pendingWrites[1:]
	if n == 0 {
		ch.complete(front, true, front.data, 0)
		ch.noteCloseNotify()
		return true, len(ch.pendingWrites) > 0
	}
	ch.complete(front, true, nil, 0)
	return true, len(ch.pendingWrites) > 0
}

// probeCloseNotify polls the adapter for decrypted plaintext when
// there is no queued read to hand it to. Its only real job while
// ShutdownSent is noticing the peer's close-notify so the shutdown can
// finish without the host issuing a read it has no further use for;
// any application data it turns up first is parked in readAhead for
// whatever read comes next, preserving read ordering.
func (ch *Channel) probeCloseNotify() {
	// probeBuf is allocated once and reused across every call the same
	// way a pending read's ioRequest.buf is: the read it starts may
	// still be in flight on readDir's worker goroutine, which only ever
	// writes into the buffer it was started against.
	if ch.probeBuf == nil {
		ch.probeBuf = make([]byte, probeBufferSize)
	}
	n, err := ch.ad.ReadPlaintext(ch.probeBuf)
	if errors.Is(err, adapter.ErrWouldBlock) {
		return
	}
	if err != nil {
		ch.latchError(err)
		return
	}
	if n == 0 {
		ch.noteCloseNotify()
		return
	}
	ch.readAhead = append(ch.readAhead, ch.probeBuf[:n]...)
}

// tryReadCiphertext schedules at most one outstanding transport read,
// sized to however much room remains under the ingress soft cap.
func (ch *Channel) tryReadCiphertext() {
	if ch.readingCiphertext {
		return
	}
	avail := ch.ad.IngressAvailableSpace()
	if avail <= 0 {
		return
	}
	ch.readingCiphertext = true
	tok := ch.tok
	ch.trans.Read(avail, queueAdapter{ch}, func(done bool, data []byte, errno int32) {
		c, ok := tok.Get()
		if !ok {
			return
		}
		if errno != 0 {
			c.readingCiphertext = false
			c.latchError(errs.TransportError(errno))
			return
		}
		if len(data) == 0 {
			// transport EOF: suppress further reads permanently, leave
			// reading_ciphertext latched per spec's ciphertext-read pump.
			c.step()
			return
		}
		c.readingCiphertext = false
		c.ad.Feed(data)
		c.step()
	})
}

// tryWriteCiphertext schedules at most one outstanding transport
// write, draining everything currently buffered in egress.
func (ch *Channel) tryWriteCiphertext() {
	if ch.writingCiphertext {
		return
	}
	drained, ok := ch.ad.DrainEgress(0)
	if !ok {
		return
	}
	// DrainEgress aliases the buffer's own backing array, which a write
	// accepted while this transport write is still in flight may reuse
	// (draining empties the buffer, so AvailableSpace reports room
	// again immediately). trans.Write outlives this call, so the bytes
	// it transmits must be copied out first rather than handed the live
	// backing array.
	p := append([]byte(nil), drained...)
	ch.writingCiphertext = true
	tok := ch.tok
	ch.trans.Write(p, queueAdapter{ch}, func(done bool, data []byte, errno int32) {
		c, ok := tok.Get()
		if !ok {
			return
		}
		c.writingCiphertext = false
		if errno != 0 {
			c.latchError(errs.TransportError(errno))
			return
		}
		c.step()
	})
}

// complete fires a request's handler on its own dispatch queue.
// Callers remove the request from its pending queue first, so no
// request is completed twice.
func (ch *Channel) complete(req *ioRequest, done bool, data []byte, errno int32) {
	req.queue.Emit(func() { req.handler(done, data, errno) })
}

// latchError records the first observed error, drains every pending
// request with EIO in one sweep, and closes the channel. See
// DESIGN.md for why this module resolves spec's drain-granularity
// open question toward "drain everything now" rather than one request
// per step tick.
func (ch *Channel) latchError(err error) {
	if ch.err != nil {
		return
	}
	ch.err = err
	ch.drainAll(errs.Errno(err))
	ch.transitionClosed(errs.Errno(err))
}

func (ch *Channel) drainAll(errno int32) {
	reads, writes := ch.pendingReads, ch.pendingWrites
	ch.pendingReads, ch.pendingWrites = nil, nil
	for _, r := range reads {
		ch.complete(r, true, nil, errno)
	}
	for _, w := range writes {
		ch.complete(w, true, nil, errno)
	}
}
