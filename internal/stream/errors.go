package stream

import "codeberg.org/mutker/fluxdash/internal/errors"

const (
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInvalidURL    = errors.ErrInvalidURL
	ErrMissingToken  = errors.ErrMissingToken

	// Transport errors
	ErrDial         = errors.ErrorCode("stream_dial_failed")
	ErrUnauthorized = errors.ErrorCode("stream_unauthorized")
	ErrRead         = errors.ErrorCode("stream_read_failed")
	ErrClosed       = errors.ErrorCode("stream_closed")

	// ErrFrameTooLarge is returned by a FrameReader for one oversized frame.
	// The reader stays usable.
	ErrFrameTooLarge = errors.ErrorCode("stream_frame_too_large")
)
