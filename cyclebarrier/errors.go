package cyclebarrier

import "errors"

// ErrHandshakeTimeout is returned by Open when a follower exhausts its
// bounded retry budget waiting for the backing file to exist, reach its
// expected size, or become initialized.
var ErrHandshakeTimeout = errors.New("barrier handshake timeout")

// ErrUnsupported is returned on platforms without shared file mappings.
var ErrUnsupported = errors.New("shared memory mapping not supported on this platform")
