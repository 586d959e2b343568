package series

import "codeberg.org/mutker/fluxdash/internal/errors"

const (
	ErrArityMismatch = errors.ErrorCode("series_arity_mismatch")
	ErrNoSeries      = errors.ErrorCode("series_none_defined")
)
