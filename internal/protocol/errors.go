package protocol

import "errors"

var (
	ErrMalformedHeader  = errors.New("protocol: malformed frame header")
	ErrMalformedCommand = errors.New("protocol: malformed command")
	ErrOutOfRange       = errors.New("protocol: field out of range")
	ErrFrameTooLarge    = errors.New("protocol: frame too large")
)
