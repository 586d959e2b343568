package history_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/fluxdash/internal/history"
	"codeberg.org/mutker/fluxdash/internal/logger"
	"codeberg.org/mutker/fluxdash/internal/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecorder struct {
	mu      sync.Mutex
	got     []float64
	closed  bool
	entered chan struct{}
	gate    chan struct{}
	err     error
}

func (f *fakeRecorder) Record(_ context.Context, s snapshot.MetricSnapshot) error {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, s.QPS)
	return f.err
}

func (f *fakeRecorder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeRecorder) recorded() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float64(nil), f.got...)
}

func TestSinkDropsWhenFull(t *testing.T) {
	rec := &fakeRecorder{entered: make(chan struct{}, 4), gate: make(chan struct{})}
	sink := history.NewSink(rec, 1, logger.Nop())
	sink.Start()

	require.True(t, sink.Offer(snap(1000, 1)))
	select {
	case <-rec.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("recorder never called")
	}

	assert.True(t, sink.Offer(snap(2000, 2)))
	assert.False(t, sink.Offer(snap(3000, 3)))
	assert.Equal(t, uint64(1), sink.Dropped())

	close(rec.gate)
	require.NoError(t, sink.Close())

	assert.Equal(t, []float64{1, 2}, rec.recorded())
	assert.True(t, rec.closed)
	assert.False(t, sink.Offer(snap(4000, 4)), "closed sink refuses snapshots")
	assert.NoError(t, sink.Close())
}

func TestSinkCountsRecorderFailures(t *testing.T) {
	rec := &fakeRecorder{err: errors.New("disk full")}
	sink := history.NewSink(rec, 8, logger.Nop())
	sink.Start()

	sink.Offer(snap(1000, 1))
	sink.Offer(snap(2000, 2))
	require.NoError(t, sink.Close())

	assert.Equal(t, uint64(2), sink.Failed())
}

func TestNilSinkOffer(t *testing.T) {
	var sink *history.Sink
	assert.False(t, sink.Offer(snap(1000, 1)))
}
