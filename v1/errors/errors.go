package errors

import "errors"

var (
	// ErrKeyNotFound is returned when a key has neither a stored value nor a
	// compute function able to produce one.
	ErrKeyNotFound      = errors.New("groundhog: key not found")
	ErrTimeout          = errors.New("timeout")
	ErrConnectionClosed = errors.New("connection closed")
)
