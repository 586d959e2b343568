package snapshot

import "codeberg.org/mutker/fluxdash/internal/errors"

const (
	ErrDecode  = errors.ErrorCode("snapshot_decode_failed")
	ErrInvalid = errors.ErrorCode("snapshot_invalid")
)
