package stream

import (
	"context"
	"time"

	"codeberg.org/mutker/fluxdash/internal/snapshot"
)

// Transport opens one connection to the metrics stream.
type Transport interface {
	// Open dials the stream with token and returns once the server has
	// accepted the subscription.
	Open(ctx context.Context, token string) (FrameReader, error)
}

// FrameReader yields raw frame payloads from an open connection.
type FrameReader interface {
	// ReadFrame blocks until the next frame arrives. Any error other than
	// ErrFrameTooLarge ends the connection.
	ReadFrame() ([]byte, error)
	// Close releases the connection and unblocks ReadFrame. It is safe to call more than once.
	Close() error
}

// Listener receives connector events. Calls come from a single goroutine, in order.
type Listener interface {
	OnState(State)
	OnSnapshot(snapshot.MetricSnapshot)
}

// Policy decides when to retry after a failed or dropped connection.
type Policy interface {
	// NextDelay returns the wait before attempt number failures+1, or false
	// to stop retrying until the connector is started again.
	NextDelay(failures int, err error) (time.Duration, bool)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	State    func(State)
	Snapshot func(snapshot.MetricSnapshot)
}

func (l ListenerFuncs) OnState(s State) {
	if l.State != nil {
		l.State(s)
	}
}

func (l ListenerFuncs) OnSnapshot(s snapshot.MetricSnapshot) {
	if l.Snapshot != nil {
		l.Snapshot(s)
	}
}
