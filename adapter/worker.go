package adapter

import (
	"crypto/tls"
	"errors"
	"io"
	"sync"

	"github.com/brickworks/tlsrelay/errs"
)

// direction runs one blocking *tls.Conn operation (Read, Write or
// CloseWrite) on its own goroutine, since *tls.Conn's Read and Write
// both block and
// the channel engine's serial queue must never block. At most one
// operation is outstanding at a time; ReadPlaintext/WritePlaintext
// poll the latest result without blocking and return "no result yet"
// until the goroutine produces one.
//
// crypto/tls documents Read and Write as safe to call from different
// goroutines concurrently (each guards its own half of the connection
// internally, and the handshake the first call triggers is guarded by
// the Conn's own handshake mutex), so a dedicated goroutine per
// direction needs no coordination with its sibling.
type direction struct {
	mu      sync.Mutex
	pending bool
	ready   bool
	n       int
	err     error

	reqCh chan []byte
	wake  func()
}

func newDirection(wake func(), run func(buf []byte) (int, error)) *direction {
	d := &direction{reqCh: make(chan []byte, 1), wake: wake}
	go func() {
		for buf := range d.reqCh {
			n, err := run(buf)
			d.mu.Lock()
			d.pending = false
			d.ready = true
			d.n, d.err = n, err
			d.mu.Unlock()
			d.wake()
		}
	}()
	return d
}

// poll returns the outstanding result if one is ready, starting a new
// operation against buf if none is in flight. ok=false means "still
// working, try again later" (spec's would-block nil result).
func (d *direction) poll(buf []byte) (n int, err error, ok bool) {
	d.mu.Lock()
	if d.ready {
		n, err = d.n, d.err
		d.ready = false
		d.mu.Unlock()
		return n, err, true
	}
	if d.pending {
		d.mu.Unlock()
		return 0, nil, false
	}
	d.pending = true
	d.mu.Unlock()

	d.reqCh <- buf
	return 0, nil, false
}

func (d *direction) close() {
	close(d.reqCh)
}

// classify maps a *tls.Conn error into the errs taxonomy the way the
// channel engine's errno boundary expects: a transport-side EOF
// without a close-notify is UncleanClose, record-header and alert
// errors are SslProtocolError, and anything else is UnexpectedError.
// A clean close-notify (io.EOF) is not an error; callers filter it out
// before calling classify.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return errs.UncleanClose
	}
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return errs.SslProtocolError
	}
	var alertErr tls.AlertError
	if errors.As(err, &alertErr) {
		return errs.SslProtocolError
	}
	return errs.UnexpectedError
}
