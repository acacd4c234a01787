// Package cbuffer implements the ciphertext buffer: an append-only FIFO
// of bytes with a soft capacity used as a back-pressure hint, mediating
// between the synchronous TLS engine and the asynchronous transport.
//
// Writes never fail — memory pressure is the caller's problem, not the
// buffer's — and a single write may push UsedSpace past SoftCap; callers
// are expected to stop enqueuing once AvailableSpace reports zero, not
// to rely on Write to refuse the data.
package cbuffer

import (
	"math"
	"os"
)

// DefaultSoftCap is the soft capacity applied when a Buffer is created
// with a non-positive softCap.
const DefaultSoftCap = 4096

var pageSize = os.Getpagesize()

// Buffer is a growable byte ring with a soft capacity hint. It is not
// safe for concurrent use; callers on the channel's serial context
// already serialize access to it.
type Buffer struct {
	b       []byte
	r, w    int
	softCap int
}

// New returns an empty Buffer with the given soft capacity.
func New(softCap int) *Buffer {
	if softCap <= 0 {
		softCap = DefaultSoftCap
	}
	return &Buffer{softCap: softCap}
}

// Len reports the number of unread bytes currently buffered. Equivalent
// to UsedSpace.
func (buf *Buffer) Len() int { return buf.w - buf.r }

// UsedSpace reports the number of unread bytes currently buffered.
func (buf *Buffer) UsedSpace() int { return buf.Len() }

// SoftCap reports the configured soft capacity.
func (buf *Buffer) SoftCap() int { return buf.softCap }

// AvailableSpace reports max(0, SoftCap-UsedSpace). A single Write may
// still exceed SoftCap; AvailableSpace merely stops reporting more room
// once that happens.
func (buf *Buffer) AvailableSpace() int {
	if n := buf.softCap - buf.Len(); n > 0 {
		return n
	}
	return 0
}

// Write appends p to the buffer in full. It never fails: growth that
// cannot be satisfied panics, the same way append would.
func (buf *Buffer) Write(p []byte) (n int) {
	n = len(p)
	if n == 0 {
		return
	}
	if m := buf.w + n - len(buf.b); m > 0 {
		buf.grow(m)
	}
	copy(buf.b[buf.w:], p)
	buf.w += n
	return
}

// Read returns up to max bytes from the front of the buffer, or
// ok=false if the buffer is empty. max<=0 means "everything buffered".
// The returned slice aliases internal storage and is only valid until
// the next Write or Read call.
func (buf *Buffer) Read(max int) (p []byte, ok bool) {
	n := buf.Len()
	if n == 0 {
		return nil, false
	}
	if max > 0 && max < n {
		n = max
	}
	p = buf.b[buf.r : buf.r+n]
	buf.r += n
	buf.tryReset()
	return p, true
}

// Discard drops the next n unread bytes without returning them. If n
// exceeds the number of unread bytes, everything buffered is dropped.
func (buf *Buffer) Discard(n int) {
	if n < 1 {
		return
	}
	if avail := buf.Len(); n > avail {
		n = avail
	}
	buf.r += n
	buf.tryReset()
}

// Reset discards all buffered bytes.
func (buf *Buffer) Reset() {
	buf.r, buf.w = 0, 0
}

func (buf *Buffer) tryReset() {
	if buf.r == buf.w {
		buf.Reset()
	}
}

func (buf *Buffer) grow(n int) {
	adjusted := int(math.Ceil(float64(n)/float64(pageSize)) * float64(pageSize))
	buf.b = append(buf.b, make([]byte, adjusted)...)
}
