package history

import (
	"context"

	"codeberg.org/mutker/fluxdash/internal/snapshot"
)

// Recorder is the domain-facing history API.
type Recorder interface {
	Record(ctx context.Context, s snapshot.MetricSnapshot) error
	Close() error
}

// Reader is implemented by recorders that can return what they stored.
type Reader interface {
	// Recent returns up to n snapshots, oldest first.
	Recent(ctx context.Context, n int) ([]snapshot.MetricSnapshot, error)
}

// Repository is a storage backend.
type Repository interface {
	Reader
	Record(ctx context.Context, s snapshot.MetricSnapshot) error
	Close() error
}
