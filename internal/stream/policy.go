package stream

import (
	"math/rand"
	"time"

	"codeberg.org/mutker/fluxdash/internal/errors"
)

// FixedDelay retries forever with the same wait.
type FixedDelay struct {
	Delay time.Duration
}

func (p FixedDelay) NextDelay(int, error) (time.Duration, bool) {
	return p.Delay, true
}

// Backoff doubles the wait after every consecutive failure up to Max, then
// spreads it by ±Jitter (a fraction of the delay).
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  float64
	// Rand returns a value in [0,1). Nil uses math/rand.
	Rand func() float64
}

func (b Backoff) NextDelay(failures int, _ error) (time.Duration, bool) {
	d := b.Initial
	for i := 1; i < failures && d < b.Max; i++ {
		d *= 2
	}
	if d > b.Max {
		d = b.Max
	}

	if b.Jitter > 0 {
		r := b.Rand
		if r == nil {
			r = rand.Float64
		}
		spread := float64(d) * b.Jitter
		d = time.Duration(float64(d) - spread + 2*spread*r())
		if d > b.Max {
			d = b.Max
		}
		if d < 0 {
			d = 0
		}
	}

	return d, true
}

// haltOnUnauthorized stops retrying when the server rejected the credential.
type haltOnUnauthorized struct {
	Policy
}

func (p haltOnUnauthorized) NextDelay(failures int, err error) (time.Duration, bool) {
	if errors.HasCode(err, ErrUnauthorized) {
		return 0, false
	}
	return p.Policy.NextDelay(failures, err)
}

// NewPolicy builds the policy described by cfg.
func NewPolicy(cfg ReconnectConfig) (Policy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var p Policy = FixedDelay{Delay: cfg.Delay}
	if cfg.Strategy == "backoff" {
		p = Backoff{Initial: cfg.Delay, Max: cfg.MaxDelay, Jitter: cfg.Jitter}
	}
	if cfg.StopOnUnauthorized {
		p = haltOnUnauthorized{Policy: p}
	}

	return p, nil
}
