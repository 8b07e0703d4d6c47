package driver

import "errors"

// ErrUnknownKind is returned by build when a row names a driver kind
// outside the closed variant set; the registry logs a warning and skips the
// row rather than aborting the reload.
var ErrUnknownKind = errors.New("driver: unknown driver kind")

// ErrDriverNull mirrors the source's ERESOLVER_DRIVER_NULL: a driver kind
// that needs richer configuration than the row's detected shape can carry.
var ErrDriverNull = errors.New("driver: configuration shape cannot satisfy driver kind")
