// Package ratelimit caps how many holders of some shared resource may
// be admitted at once. A host application shares one Limiter across
// many calls that open a resource with a bounded capacity — e.g.
// capping how many TLS channels may be open (from Open until Closed)
// at once against one listener, the way a connection-accept path caps
// concurrent accepted connections.
package ratelimit

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"
)

const (
	ns500    = 500 * time.Nanosecond
	maxTimes = 10
)

// Limiter admits at most upperbound concurrent holders. An upperbound
// of 0 or less disables the limit entirely: Wait always returns
// immediately and Revert is a no-op.
type Limiter struct {
	upperbound int64
	tokens     atomic.Int64
}

func New(upperbound int64) *Limiter {
	if upperbound < 1 {
		upperbound = 0
	}
	return &Limiter{upperbound: upperbound}
}

// Wait blocks until a slot is free or ctx is done.
func (l *Limiter) Wait(ctx context.Context) (err error) {
	if !l.enabled() {
		return
	}
	times := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if n := l.tokens.Add(1); n <= l.upperbound {
				return nil
			}
			l.tokens.Add(-1)
			times++
			if times > maxTimes {
				times = 0
				runtime.Gosched()
			} else {
				time.Sleep(ns500)
			}
		}
	}
}

// Revert frees a slot acquired by Wait.
func (l *Limiter) Revert() {
	if !l.enabled() {
		return
	}
	l.tokens.Add(-1)
}

// InFlight reports the number of slots currently held.
func (l *Limiter) InFlight() int64 {
	return l.tokens.Load()
}

func (l *Limiter) enabled() bool {
	return l.upperbound > 0
}
