package drive

import "errors"

var (
	ErrInvalidDelta    = errors.New("delta time must be finite and non-negative")
	ErrInvalidSettings = errors.New("invalid drive settings")
	ErrDisabled        = errors.New("drive is disabled")
)
