package history

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/fluxdash/internal/logger"
	"codeberg.org/mutker/fluxdash/internal/snapshot"
)

const recordTimeout = 5 * time.Second

// Sink hands snapshots to a Recorder from its own goroutine so the stream
// never waits on storage. When the queue is full new snapshots are dropped.
type Sink struct {
	rec     Recorder
	log     logger.Logger
	ch      chan snapshot.MetricSnapshot
	dropped atomic.Uint64
	failed  atomic.Uint64

	mu      sync.Mutex
	started bool
	closed  bool
	done    chan struct{}
}

func NewSink(rec Recorder, queueSize int, log logger.Logger) *Sink {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if log == nil {
		log = logger.Default()
	}
	return &Sink{
		rec:  rec,
		log:  log.With("history"),
		ch:   make(chan snapshot.MetricSnapshot, queueSize),
		done: make(chan struct{}),
	}
}

func (s *Sink) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started || s.closed {
		return
	}
	s.started = true

	go s.run()
}

func (s *Sink) run() {
	defer close(s.done)

	for snap := range s.ch {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		if err := s.rec.Record(ctx, snap); err != nil {
			s.failed.Add(1)
			s.log.Warn().Err(err).Msg("Failed to record snapshot")
		}
		cancel()
	}
}

// Offer queues a snapshot without blocking and reports whether it was taken.
func (s *Sink) Offer(snap snapshot.MetricSnapshot) bool {
	if s == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	select {
	case s.ch <- snap.Clone():
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Dropped is the number of snapshots refused because the queue was full.
func (s *Sink) Dropped() uint64 {
	return s.dropped.Load()
}

// Failed is the number of snapshots the recorder rejected.
func (s *Sink) Failed() uint64 {
	return s.failed.Load()
}

// Close drains the queue, waits for the worker and closes the recorder.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	close(s.ch)
	s.mu.Unlock()

	if started {
		<-s.done
	}

	return s.rec.Close()
}
