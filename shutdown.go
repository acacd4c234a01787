package tlsrelay

import (
	"context"
	"time"
)

type shutdownPhase int

const (
	shutdownOpen shutdownPhase = iota
	shutdownRequested
	shutdownSent
	shutdownClosed
)

type shutdownState struct {
	phase               shutdownPhase
	force               bool
	closeNotifyReceived bool
}

// requestShutdown moves the shutdown state machine from Open (or a
// weaker ShutdownRequested) toward ShutdownRequested(force), then
// lets step drive it. Closed ignores further requests; ShutdownSent
// only upgrades to a forced attempt, per spec's recommended reading
// of the force-while-sent open question.
func (ch *Channel) requestShutdown(force bool) {
	switch ch.shutdown.phase {
	case shutdownClosed:
		return
	case shutdownSent:
		if !force {
			return
		}
		ch.shutdown.phase = shutdownRequested
		ch.shutdown.force = true
	case shutdownRequested:
		if force {
			ch.shutdown.force = true
		}
	default: // shutdownOpen
		ch.shutdown.phase = shutdownRequested
		ch.shutdown.force = force
	}
	if !force {
		ch.armCloseTimer()
	}
	ch.step()
}

// armCloseTimer starts (once) the deadline after which an unforced
// Close gives up waiting for the peer's close-notify and force-closes
// with EIO instead. A zero closeWait disables the deadline.
func (ch *Channel) armCloseTimer() {
	if ch.closeTimer != nil || ch.closeWait <= 0 {
		return
	}
	ch.closeTimer = time.AfterFunc(ch.closeWait, func() {
		ch.queue.Emit(func(ctx context.Context) { ch.requestShutdown(true) })
	})
}

// runShutdownSubstep drives one attempt at sending close-notify. See
// spec.md §4.4's state table: "shutdown completes" means our alert is
// sent AND the peer's has already been observed on the read path,
// closing the channel cleanly; a forced attempt that still lacks the
// peer's alert closes anyway with EIO; an unforced one parks at
// ShutdownSent to wait for the peer's close-notify, which
// noteCloseNotify finishes off when it arrives.
//
// The returned progress bool mirrors readSubstep/writeSubstep's
// contract: it is true only when ad.Shutdown actually completed this
// call, never merely because the phase is still shutdownRequested.
// ad.Shutdown's underlying conn.CloseWrite() runs on shutdownDir's
// worker goroutine and may take one or more poll calls to finish; a
// "not ready yet" result must suspend step() rather than spin, since
// the worker calls ch.wake once it has something to report.
func (ch *Channel) runShutdownSubstep() (progress bool) {
	if ch.shutdown.phase != shutdownRequested {
		return false
	}
	sent, err := ch.ad.Shutdown(ch.shutdown.force)
	if err != nil {
		ch.latchError(err)
		return true
	}
	if !sent {
		return false
	}
	if ch.shutdown.closeNotifyReceived {
		ch.transitionClosed(0)
		return true
	}
	if ch.shutdown.force {
		const EIO int32 = 5
		ch.transitionClosed(EIO)
		return true
	}
	ch.shutdown.phase = shutdownSent
	return true
}

// noteCloseNotify runs whenever a plaintext read or write observes
// the peer's close-notify (result 0). If we have already sent our
// own close-notify, the connection is now fully closed in both
// directions; otherwise only the read direction is closed and the
// host must still call Close to finish the write direction.
func (ch *Channel) noteCloseNotify() {
	ch.shutdown.closeNotifyReceived = true
	switch ch.shutdown.phase {
	case shutdownSent, shutdownClosed:
		ch.transitionClosed(0)
	}
}

// transitionClosed is the one path to the terminal state: it closes
// the transport, tears down the adapter, drains anything left in the
// pending queues, and fires the cleanup callback exactly once.
func (ch *Channel) transitionClosed(errno int32) {
	if ch.shutdown.phase == shutdownClosed {
		return
	}
	ch.shutdown.phase = shutdownClosed
	ch.closedErrno.Store(errno)
	ch.tok.Sever()
	if ch.closeTimer != nil {
		ch.closeTimer.Stop()
	}
	_ = ch.trans.Close(errno != 0)
	ch.ad.Close()
	ch.drainAll(errno)
	if !ch.cleanupFired {
		ch.cleanupFired = true
		ch.cleanupCB(errno)
	}
	if ch.limiter != nil {
		ch.limiter.Revert()
	}
	ch.queue.Close()
}
