package ws

import "errors"

var (
	ErrInvalidConfig       = errors.New("invalid config")
	ErrCertificate         = errors.New("invalid pinned certificate")
	ErrResourceUnavailable = errors.New("resource unavailable")
	ErrMalformedEnvelope   = errors.New("malformed envelope")
	ErrNotOpen             = errors.New("connection not open")
	ErrConnectionClosed    = errors.New("connection closed")
)
