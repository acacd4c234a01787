// Package waker provides a single-slot wakeup primitive: exactly one
// goroutine blocks in Wait at a time, and Signal releases it early.
// It backs the blocking Read side of the in-memory net.Conn shim the
// TLS adapter runs its handshake and record I/O against, standing in
// for "more ciphertext may have arrived" without spinning.
package waker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

var ErrInvalidTimeout = errors.New("waker: timeout must be positive")

func New(timeout time.Duration) (*Waker, error) {
	if timeout < 1 {
		return nil, ErrInvalidTimeout
	}
	return &Waker{
		timeout: timeout,
		timer:   time.NewTimer(timeout),
		ch:      make(chan struct{}, 1),
	}, nil
}

type Waker struct {
	timeout time.Duration
	timer   *time.Timer
	ch      chan struct{}
	waiting atomic.Bool
}

// Signal wakes the current Wait call, if one is in progress. A Signal
// with nobody waiting is not queued.
func (w *Waker) Signal() {
	if w.waiting.CompareAndSwap(true, false) {
		w.ch <- struct{}{}
	}
}

// Wait blocks until Signal is called, ctx is done, or the configured
// timeout elapses, whichever comes first.
func (w *Waker) Wait(ctx context.Context) error {
	if !w.waiting.CompareAndSwap(false, true) {
		return nil
	}
	w.timer.Reset(w.timeout)
	defer w.timer.Stop()
	select {
	case <-ctx.Done():
		w.waiting.Store(false)
		return ctx.Err()
	case <-w.timer.C:
		w.waiting.Store(false)
		return context.DeadlineExceeded
	case _, ok := <-w.ch:
		if !ok {
			return context.Canceled
		}
		return nil
	}
}

func (w *Waker) Close() error {
	w.timer.Stop()
	close(w.ch)
	return nil
}
