package errs_test

import (
	"testing"

	"github.com/brickworks/tlsrelay/errs"
)

func TestErrnoOfNil(t *testing.T) {
	if got := errs.Errno(nil); got != 0 {
		t.Fatalf("got %d, want 0", got)
	}
}

func TestErrnoOfTransportError(t *testing.T) {
	err := errs.TransportError(32)
	if got := errs.Errno(err); got != 32 {
		t.Fatalf("got %d, want 32", got)
	}
	if !errs.Is(err, errs.TransportErrorKind) {
		t.Fatal("TransportError must classify as TransportErrorKind")
	}
}

func TestErrnoOfUnclassified(t *testing.T) {
	if got := errs.Errno(errs.SslProtocolError); got != 5 {
		t.Fatalf("got %d, want EIO(5)", got)
	}
}
