package stream_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/fluxdash/internal/snapshot"
	"codeberg.org/mutker/fluxdash/internal/stream"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fakeConn struct {
	frames chan []byte
	fail   chan error
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan []byte),
		fail:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) ReadFrame() ([]byte, error) {
	select {
	case fr := <-f.frames:
		return fr, nil
	case err := <-f.fail:
		return nil, err
	case <-f.closed:
		return nil, io.ErrClosedPipe
	}
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// send delivers a frame, failing the test if the connector does not read it.
func (f *fakeConn) send(t *testing.T, frame string) {
	t.Helper()
	select {
	case f.frames <- []byte(frame):
	case <-time.After(waitFor):
		t.Fatal("frame not consumed")
	}
}

type fakeTransport struct {
	mu       sync.Mutex
	tokens   []string
	openErrs []error
	conns    chan *fakeConn
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{conns: make(chan *fakeConn, 16)}
}

// failNext makes the next Open calls return errs in order.
func (t *fakeTransport) failNext(errs ...error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.openErrs = append(t.openErrs, errs...)
}

func (t *fakeTransport) Open(ctx context.Context, token string) (stream.FrameReader, error) {
	t.mu.Lock()
	t.tokens = append(t.tokens, token)
	var err error
	if len(t.openErrs) > 0 {
		err, t.openErrs = t.openErrs[0], t.openErrs[1:]
	}
	t.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	c := newFakeConn()
	t.conns <- c
	return c, nil
}

func (t *fakeTransport) opens() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tokens)
}

func (t *fakeTransport) seenTokens() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.tokens...)
}

func (t *fakeTransport) nextConn(tb testing.TB) *fakeConn {
	tb.Helper()
	select {
	case c := <-t.conns:
		return c
	case <-time.After(waitFor):
		tb.Fatal("no connection attempt")
		return nil
	}
}

type recorder struct {
	mu     sync.Mutex
	states []stream.State
	snaps  []snapshot.MetricSnapshot
}

func (r *recorder) OnState(s stream.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) OnSnapshot(s snapshot.MetricSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) stateLog() []stream.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]stream.State(nil), r.states...)
}

func (r *recorder) snapshots() []snapshot.MetricSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]snapshot.MetricSnapshot(nil), r.snaps...)
}

func (r *recorder) events() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states) + len(r.snaps)
}

func waitState(t *testing.T, c *stream.Connector, want stream.State) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == want }, waitFor, tick,
		"state never became %s (now %s)", want, c.State())
}
