// Package handle inverts the retain cycle between a channel and the
// transport callbacks it registers with. The transport keeps a Token
// back to its channel instead of the channel itself; Sever drops the
// link explicitly instead of relying on both sides dropping references
// at the same time.
package handle

import "sync/atomic"

// Token is a severable handle to a value owned by someone else. Holding
// a Token does not keep the value's owner alive: once Sever is called,
// Get returns the zero value and ok=false for every caller, including
// ones racing Sever itself.
type Token[E any] struct {
	severed atomic.Bool
	value   E
}

// New wraps value in a Token that is live until Sever is called.
func New[E any](value E) *Token[E] {
	return &Token[E]{value: value}
}

// Get returns the held value, or the zero value and ok=false if the
// handle has been severed.
func (t *Token[E]) Get() (value E, ok bool) {
	if t.severed.Load() {
		return
	}
	return t.value, true
}

// Sever cuts the handle. Safe to call more than once; only the first
// call has any effect.
func (t *Token[E]) Sever() {
	t.severed.Store(true)
}

// Severed reports whether Sever has already run.
func (t *Token[E]) Severed() bool {
	return t.severed.Load()
}
