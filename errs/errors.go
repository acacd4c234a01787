// Package errs defines the error taxonomy shared by the adapter and
// the channel engine. It is kept separate from both so that neither
// needs to import the other just to classify an error.
package errs

import (
	"github.com/brickingsoft/errors"
)

var (
	// SslProtocolError is a TLS-library protocol failure: a malformed
	// record, a failed handshake, an alert from the peer.
	SslProtocolError = errors.Define("tls protocol error")
	// UnexpectedError is a failure the adapter could not classify into
	// one of the other three kinds.
	UnexpectedError = errors.Define("unexpected tls adapter error")
	// UncleanClose means the transport closed without delivering a
	// close-notify alert first.
	UncleanClose = errors.Define("transport closed without close-notify")
	// TransportErrorKind tags an error that originated from the byte
	// transport rather than the TLS layer. The concrete errno travels
	// wrapped underneath as an *errno (see TransportError/Errno below).
	TransportErrorKind = errors.Define("transport error")
)

// errno carries a POSIX errno value through the error chain so Errno
// can recover it with errors.As without depending on any metadata
// accessor the error library may or may not expose.
type errno int32

func (e errno) Error() string { return "errno" }

// TransportError wraps a transport errno into the taxonomy.
func TransportError(code int32) error {
	return errors.From(TransportErrorKind, errors.WithWrap(errno(code)))
}

// Errno extracts the POSIX errno an error maps to at the channel
// boundary. A latched TransportError yields its own errno; every
// other taxonomy kind and anything unclassified yields EIO, matching
// spec's "the only TLS-originated error surfaced is EIO".
func Errno(err error) int32 {
	if err == nil {
		return 0
	}
	var e errno
	if errors.As(err, &e) {
		return int32(e)
	}
	const EIO int32 = 5
	return EIO
}

// Is reports whether err is, or wraps, one of the four taxonomy kinds.
func Is(err error, kind error) bool {
	return errors.Is(err, kind)
}
