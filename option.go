package tlsrelay

import (
	"crypto/tls"
	"time"

	"github.com/brickworks/tlsrelay/pkg/ratelimit"
)

const (
	// DefaultCiphertextSoftCap is the soft capacity applied to a
	// channel's ingress and egress ciphertext buffers when none is
	// configured.
	DefaultCiphertextSoftCap = 4096

	// DefaultCloseTimeout bounds how long Close(force=false) waits for
	// the peer's close-notify before giving up and force-closing.
	DefaultCloseTimeout = 5 * time.Second
)

// Side selects which half of the TLS handshake a Channel drives.
type Side int

const (
	ClientSide Side = iota
	ServerSide
)

// Options holds a Channel's resolved configuration. Use Open with a
// set of Option values to build one; the zero value is not meant to
// be constructed directly outside this package.
type Options struct {
	Side              Side
	CiphertextSoftCap int
	TLSConfig         *tls.Config
	CloseTimeout      time.Duration
	Limiter           *ratelimit.Limiter
}

// Option mutates Options while a Channel is being opened.
type Option func(options *Options) (err error)

func defaultOptions() Options {
	return Options{
		Side:              ClientSide,
		CiphertextSoftCap: DefaultCiphertextSoftCap,
		CloseTimeout:      DefaultCloseTimeout,
	}
}

// WithSide sets which side of the handshake the channel plays.
func WithSide(side Side) Option {
	return func(options *Options) (err error) {
		options.Side = side
		return
	}
}

// WithCiphertextSoftCap overrides the ingress/egress buffer's
// advisory soft capacity. Values below 1 are ignored.
func WithCiphertextSoftCap(n int) Option {
	return func(options *Options) (err error) {
		if n > 0 {
			options.CiphertextSoftCap = n
		}
		return
	}
}

// WithTLSConfig supplies the certificate/context factory. Certificate
// validation policy, SNI and session resumption all live in cfg and
// are opaque to the channel; cfg is cloned and MinVersion is raised to
// at least TLS 1.1, the engine's own floor, if cfg leaves it unset or
// lower.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(options *Options) (err error) {
		clone := cfg.Clone()
		if clone.MinVersion == 0 || clone.MinVersion < tls.VersionTLS11 {
			clone.MinVersion = tls.VersionTLS11
		}
		clone.DynamicRecordSizingDisabled = true
		options.TLSConfig = clone
		return
	}
}

// WithCloseTimeout overrides how long an unforced Close waits for the
// peer's close-notify before it gives up.
func WithCloseTimeout(d time.Duration) Option {
	return func(options *Options) (err error) {
		if d > 0 {
			options.CloseTimeout = d
		}
		return
	}
}

// NewLimiter builds a ratelimit.Limiter admitting at most
// maxConcurrent open channels at once (handshake through close).
// Share one Limiter across every Open call that draws from the same
// bounded resource — e.g. one listener's worth of accepted
// connections — via WithLimiter; an unshared Limiter just caps a
// single Open, which is rarely useful.
func NewLimiter(maxConcurrent int64) *ratelimit.Limiter {
	return ratelimit.New(maxConcurrent)
}

// WithLimiter admits this channel through l before opening, blocking
// the caller of Open until a slot is free, and releases its slot as
// soon as the channel reaches Closed. A nil Limiter (the default)
// imposes no cap.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(options *Options) (err error) {
		options.Limiter = l
		return
	}
}

func newOptions(opts ...Option) (Options, error) {
	options := defaultOptions()
	for _, opt := range opts {
		if err := opt(&options); err != nil {
			return Options{}, err
		}
	}
	return options, nil
}
