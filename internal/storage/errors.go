package storage

import "errors"

// ErrUnavailable is returned when a backend refuses work without trying, for
// example while its circuit breaker is open.
var ErrUnavailable = errors.New("store unavailable")

// ErrUnsupportedType is returned by the factory for unknown store types.
var ErrUnsupportedType = errors.New("unsupported store type")
