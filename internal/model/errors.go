package model

import "errors"

// Error kinds surfaced by the engine and codec. Callers classify failures with
// errors.Is; every error returned across a package boundary wraps one of these.
var (
	ErrNotFound        = errors.New("not found")
	ErrOutOfRange      = errors.New("step index out of range")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidFormat   = errors.New("invalid format")
	ErrIO              = errors.New("io error")
)
