// Package poll keeps a value fresh by refetching it on a fixed interval.
// A failed fetch keeps the previous value; only the first load since Start
// reports Loading.
package poll

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/fluxdash/internal/logger"
)

// FetchFunc loads the current value. It should honour ctx cancellation.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// View is a point-in-time copy of a refresher's state.
type View[T any] struct {
	Value     T
	Loaded    bool
	Loading   bool
	UpdatedAt time.Time
	// Failures counts consecutive failed fetches; a success resets it.
	Failures  int
	LastError error
}

type Option[T any] func(*Refresher[T])

// WithTimeout bounds every fetch.
func WithTimeout[T any](d time.Duration) Option[T] {
	return func(r *Refresher[T]) { r.timeout = d }
}

// WithClone copies values handed out by View so callers cannot alias the
// stored one.
func WithClone[T any](clone func(T) T) Option[T] {
	return func(r *Refresher[T]) { r.clone = clone }
}

// WithOnUpdate is called from the refresh goroutine after every fetch that
// was not discarded.
func WithOnUpdate[T any](fn func(View[T])) Option[T] {
	return func(r *Refresher[T]) { r.onUpdate = fn }
}

func WithLogger[T any](log logger.Logger) Option[T] {
	return func(r *Refresher[T]) { r.log = log }
}

type Refresher[T any] struct {
	name     string
	interval time.Duration
	fetch    FetchFunc[T]
	timeout  time.Duration
	clone    func(T) T
	onUpdate func(View[T])
	log      logger.Logger

	mu   sync.RWMutex
	view View[T]
	gen  uint64

	life   sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type outcome[T any] struct {
	value T
	err   error
}

func New[T any](name string, interval time.Duration, fetch FetchFunc[T], opts ...Option[T]) *Refresher[T] {
	r := &Refresher[T]{
		name:     name,
		interval: interval,
		fetch:    fetch,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.Default()
	}
	r.log = r.log.With("poll")

	return r
}

func (r *Refresher[T]) Name() string {
	return r.name
}

// Start resets the view, fetches immediately and then on every tick.
// Calling Start on a running refresher does nothing.
func (r *Refresher[T]) Start() {
	r.life.Lock()
	defer r.life.Unlock()

	if r.cancel != nil {
		return
	}

	r.mu.Lock()
	r.gen++
	gen := r.gen
	r.view = View[T]{}
	r.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done

	go r.loop(ctx, gen, done)
}

// Stop cancels the ticker and any fetch in flight and waits for the loop to
// exit. Results that arrive afterwards are discarded.
func (r *Refresher[T]) Stop() {
	r.life.Lock()
	defer r.life.Unlock()

	if r.cancel == nil {
		return
	}

	r.mu.Lock()
	r.gen++
	r.view.Loading = false
	r.mu.Unlock()

	r.cancel()
	<-r.done
	r.cancel = nil
	r.done = nil
}

func (r *Refresher[T]) View() View[T] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.copyView()
}

// copyView must be called with mu held.
func (r *Refresher[T]) copyView() View[T] {
	v := r.view
	if r.clone != nil && v.Loaded {
		v.Value = r.clone(v.Value)
	}
	return v
}

func (r *Refresher[T]) loop(ctx context.Context, gen uint64, done chan<- struct{}) {
	defer close(done)

	r.refresh(ctx, gen)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refresh(ctx, gen)
		}
	}
}

func (r *Refresher[T]) refresh(ctx context.Context, gen uint64) {
	r.mu.Lock()
	if r.gen != gen {
		r.mu.Unlock()
		return
	}
	r.view.Loading = !r.view.Loaded
	r.mu.Unlock()

	fctx, cancel := ctx, context.CancelFunc(func() {})
	if r.timeout > 0 {
		fctx, cancel = context.WithTimeout(ctx, r.timeout)
	}
	defer cancel()

	results := make(chan outcome[T], 1)
	go func() {
		v, err := r.fetch(fctx)
		results <- outcome[T]{value: v, err: err}
	}()

	var res outcome[T]
	select {
	case <-ctx.Done():
		return
	case res = <-results:
	}

	r.mu.Lock()
	if r.gen != gen {
		r.mu.Unlock()
		return
	}
	r.view.Loading = false
	if res.err != nil {
		r.view.Failures++
		r.view.LastError = res.err
	} else {
		r.view.Value = res.value
		r.view.Loaded = true
		r.view.UpdatedAt = time.Now()
		r.view.Failures = 0
		r.view.LastError = nil
	}
	view := r.copyView()
	r.mu.Unlock()

	if res.err != nil {
		r.log.Warn().
			Err(res.err).
			Str("name", r.name).
			Int("failures", view.Failures).
			Bool("stale", view.Loaded).
			Msg("Refresh failed, keeping previous data")
	} else {
		r.log.Debug().Str("name", r.name).Msg("Refreshed")
	}

	if r.onUpdate != nil {
		r.onUpdate(view)
	}
}
