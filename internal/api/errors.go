package api

import "codeberg.org/mutker/fluxdash/internal/errors"

const (
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInvalidURL    = errors.ErrInvalidURL
	ErrUnauthorized  = errors.ErrUnauthorized
	ErrTimeout       = errors.ErrTimeout
	ErrCanceled      = errors.ErrCanceled

	// Request errors
	ErrEncode           = errors.ErrorCode("api_encode_failed")
	ErrRequest          = errors.ErrorCode("api_request_failed")
	ErrUnexpectedStatus = errors.ErrorCode("api_unexpected_status")
	ErrDecode           = errors.ErrorCode("api_decode_failed")
)
