package stream

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/fluxdash/internal/errors"
	"codeberg.org/mutker/fluxdash/internal/logger"
	"codeberg.org/mutker/fluxdash/internal/session"
	"codeberg.org/mutker/fluxdash/internal/snapshot"
	"github.com/google/uuid"
)

// Stats counts connector activity since construction.
type Stats struct {
	Attempts      uint64
	Connects      uint64
	Frames        uint64
	FramesDropped uint64
	LastError     errors.ErrorCode
	LastConnected time.Time
}

// Connector holds at most one live subscription to the metrics stream and
// reconnects according to its Policy until stopped.
//
// All state transitions happen on one goroutine. Dial and read goroutines
// report to it over a channel, tagged with their attempt number so that
// reports from a superseded attempt are ignored.
type Connector struct {
	transport Transport
	tokens    session.TokenProvider
	policy    Policy
	log       logger.Logger
	now       func() time.Time

	mu        sync.RWMutex
	state     State
	latest    snapshot.MetricSnapshot
	hasLatest bool
	stats     Stats
	listeners []Listener

	life   sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	kick   chan struct{}
}

type eventKind int

const (
	evOpened eventKind = iota
	evFrame
	evDropped
	evClosed
)

type event struct {
	attempt uint64
	kind    eventKind
	frame   []byte
	err     error
}

// NewConnector builds a connector. A nil policy retries every 5 seconds; a nil
// token provider makes every attempt fail with a missing token.
func NewConnector(transport Transport, tokens session.TokenProvider, policy Policy, log logger.Logger) *Connector {
	if policy == nil {
		policy = FixedDelay{Delay: defaultReconnect}
	}
	if tokens == nil {
		tokens = session.Static("")
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Connector{
		transport: transport,
		tokens:    tokens,
		policy:    policy,
		log:       log,
		now:       time.Now,
	}
}

// NewFromConfig builds the transport and policy described by cfg.
func NewFromConfig(cfg Config, tokens session.TokenProvider, log logger.Logger) (*Connector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	transport, err := NewTransport(cfg)
	if err != nil {
		return nil, err
	}
	policy, err := NewPolicy(cfg.Reconnect)
	if err != nil {
		return nil, err
	}
	return NewConnector(transport, tokens, policy, log), nil
}

// Subscribe registers l for state changes and snapshots. Listeners must not
// call Start or Stop from inside a callback.
func (c *Connector) Subscribe(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners[:len(c.listeners):len(c.listeners)], l)
}

// Start begins connecting. It is a no-op while connecting or connected; while
// waiting to reconnect it cancels the wait and connects at once.
func (c *Connector) Start() {
	c.life.Lock()
	defer c.life.Unlock()

	if c.done != nil {
		select {
		case c.kick <- struct{}{}:
		default:
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.kick = make(chan struct{}, 1)

	go c.run(ctx, c.kick, c.done)
}

// Stop closes the connection, cancels any pending reconnect and returns once
// the connector is Idle. Calling it again, or before Start, does nothing.
func (c *Connector) Stop() {
	c.life.Lock()
	defer c.life.Unlock()

	if c.done == nil {
		return
	}

	c.cancel()
	<-c.done
	c.cancel, c.done, c.kick = nil, nil, nil
}

// State returns the current connection state.
func (c *Connector) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Latest returns a copy of the most recent snapshot, if any was received.
func (c *Connector) Latest() (snapshot.MetricSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest.Clone(), c.hasLatest
}

// Stats returns a copy of the activity counters.
func (c *Connector) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

func (c *Connector) run(ctx context.Context, kick <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	events := make(chan event)

	var (
		wg       sync.WaitGroup
		attempt  uint64
		connID   string
		abort    context.CancelFunc
		timer    *time.Timer
		retry    <-chan time.Time
		failures int
	)

	disarm := func() {
		if timer != nil {
			timer.Stop()
			timer, retry = nil, nil
		}
	}

	connect := func() {
		disarm()
		if abort != nil {
			abort()
		}

		attempt++
		connID = uuid.NewString()
		var actx context.Context
		actx, abort = context.WithCancel(ctx)

		c.mu.Lock()
		c.stats.Attempts++
		c.mu.Unlock()
		c.setState(Connecting)
		c.log.Debug().Str("conn_id", connID).Uint64("attempt", attempt).Msg("Connecting to stream")

		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			c.dial(actx, id, events)
		}(attempt)
	}

	defer func() {
		disarm()
		if abort != nil {
			abort()
		}
		wg.Wait()
		c.setState(Idle)
		c.log.Debug().Msg("Stream connector stopped")
	}()

	connect()

	for {
		select {
		case <-ctx.Done():
			return

		case <-retry:
			timer, retry = nil, nil
			connect()

		case <-kick:
			if c.State() == Disconnected {
				c.log.Debug().Msg("Manual start, reconnecting now")
				connect()
			}

		case ev := <-events:
			if ev.attempt != attempt || ctx.Err() != nil {
				continue
			}

			switch ev.kind {
			case evOpened:
				failures = 0
				c.mu.Lock()
				c.stats.Connects++
				c.stats.LastConnected = c.now()
				c.mu.Unlock()
				c.log.Info().Str("conn_id", connID).Msg("Stream connected")
				c.setState(Connected)

			case evFrame:
				c.handleFrame(ev.frame)

			case evDropped:
				c.dropFrame(ev.err, 0)

			case evClosed:
				abort()
				abort = nil
				failures++

				code := errors.CodeOf(ev.err)
				c.mu.Lock()
				c.stats.LastError = code
				c.mu.Unlock()
				c.setState(Disconnected)

				delay, ok := c.policy.NextDelay(failures, ev.err)
				if !ok {
					c.log.Error().Err(ev.err).
						Str("conn_id", connID).
						Str("error_code", string(code)).
						Msg("Stream disconnected, not retrying until restarted")
					continue
				}

				c.log.Warn().Err(ev.err).
					Str("conn_id", connID).
					Str("error_code", string(code)).
					Int("failures", failures).
					Dur("retry_in", delay).
					Msg("Stream disconnected")

				timer = time.NewTimer(delay)
				retry = timer.C
			}
		}
	}
}

// dial runs one connection attempt and reports its lifecycle on events.
func (c *Connector) dial(ctx context.Context, id uint64, events chan<- event) {
	emit := func(ev event) bool {
		ev.attempt = id
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	token, ok := c.tokens.Token()
	if !ok {
		emit(event{kind: evClosed, err: errors.New().New(ErrMissingToken)})
		return
	}

	r, err := c.transport.Open(ctx, token)
	if err != nil {
		if ctx.Err() == nil {
			emit(event{kind: evClosed, err: err})
		}
		return
	}

	stop := context.AfterFunc(ctx, func() { r.Close() })
	defer func() {
		stop()
		r.Close()
	}()

	if !emit(event{kind: evOpened}) {
		return
	}

	for {
		frame, err := r.ReadFrame()
		if errors.HasCode(err, ErrFrameTooLarge) {
			if !emit(event{kind: evDropped, err: err}) {
				return
			}
			continue
		}
		if err != nil {
			if ctx.Err() == nil {
				emit(event{kind: evClosed, err: err})
			}
			return
		}
		if !emit(event{kind: evFrame, frame: frame}) {
			return
		}
	}
}

func (c *Connector) handleFrame(frame []byte) {
	s, err := snapshot.Decode(frame, c.now())

	if err != nil {
		c.dropFrame(err, len(frame))
		return
	}

	c.mu.Lock()
	c.stats.Frames++
	c.latest = s
	c.hasLatest = true
	listeners := c.listeners
	c.mu.Unlock()

	for _, l := range listeners {
		l.OnSnapshot(s.Clone())
	}
}

func (c *Connector) dropFrame(err error, size int) {
	c.mu.Lock()
	c.stats.Frames++
	c.stats.FramesDropped++
	c.mu.Unlock()

	c.log.Warn().Err(err).
		Str("error_code", string(errors.CodeOf(err))).
		Int("bytes", size).
		Msg("Dropping malformed frame")
}

func (c *Connector) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	listeners := c.listeners
	c.mu.Unlock()

	if prev == s {
		return
	}

	c.log.Debug().Str("from", prev.String()).Str("to", s.String()).Msg("Stream state changed")
	for _, l := range listeners {
		l.OnState(s)
	}
}
