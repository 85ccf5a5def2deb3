package beacon

import "errors"

// Errors returned by the codec.
var (
	// ErrBadSize is returned when a payload is not exactly PayloadSize
	// bytes.
	ErrBadSize = errors.New("beacon: invalid payload size")

	// ErrBadRange is returned by Validate when a decoded field is outside
	// its allowed range.
	ErrBadRange = errors.New("beacon: field out of range")

	// ErrNotPhoenix is returned when manufacturer data does not match the
	// Phoenix frame rules.
	ErrNotPhoenix = errors.New("beacon: not a phoenix frame")
)
