package hook

import "errors"

// Errors returned by Engine and Site, usually wrapped with the address.
var (
	ErrConflict       = errors.New("address already hooked")
	ErrBoundary       = errors.New("no safe instruction boundary")
	ErrOutOfRange     = errors.New("displacement out of rel32 range")
	ErrUnsupported    = errors.New("native dispatch not supported on this platform")
	ErrContextExpired = errors.New("context used after callback returned")
	ErrRemoved        = errors.New("site already removed")
	ErrClosed         = errors.New("engine closed")
)
