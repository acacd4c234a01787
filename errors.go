package tlsrelay

import "github.com/brickingsoft/errors"

// ErrMissingTLSConfig is returned by Open when no certificate/context
// factory was supplied via WithTLSConfig.
var ErrMissingTLSConfig = errors.Define("tlsrelay: missing tls config")
