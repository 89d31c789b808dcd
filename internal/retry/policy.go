// Package retry drives one stage call through the breaker and the external
// adapter with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"mealgen/internal/breaker"
	"mealgen/internal/domain"
	"mealgen/internal/external"
)

// ErrDeadline is reported when the next retry would cross the stage deadline.
var ErrDeadline = errors.New("stage deadline reached")

// Policy bounds the attempts of one stage.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Deadline bounds the whole stage including backoff; zero disables it.
	Deadline time.Duration
	// Jitter is the randomization factor applied to each delay.
	Jitter float64

	// Sleep and Now are replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// DefaultPolicy returns the documented defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Deadline:    3 * time.Minute,
		Jitter:      0.2,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 100 * time.Millisecond
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		p.Jitter = 0
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return p
}

func (p Policy) backoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.BaseDelay
	bo.MaxInterval = p.MaxDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = p.Jitter
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// Attempt describes one try, including short-circuited ones.
type Attempt struct {
	Number         int
	Status         domain.StageStatus
	Err            error
	Latency        time.Duration
	ShortCircuited bool
	// Exhausted is set on the final attempt when retries ran out.
	Exhausted bool
	At        time.Time
}

// Result is the terminal outcome of a stage.
type Result[O any] struct {
	Value     O
	Status    domain.StageStatus
	Err       error
	Attempts  int
	Exhausted bool
}

// Failed reports whether the stage ended without a value.
func (r Result[O]) Failed() bool {
	return r.Status != domain.StageStatusOk
}

// Invoker is satisfied by *external.Adapter.
type Invoker[I, O any] interface {
	Invoke(ctx context.Context, in I) external.Outcome[O]
}

// Gate admits calls. *breaker.Breaker satisfies it; nil disables gating.
type Gate interface {
	Allow() (func(success bool), error)
}

var _ Gate = (*breaker.Breaker)(nil)

// Do runs the call until it succeeds, fails permanently or runs out of
// attempts. onAttempt, when set, sees every attempt in order.
//
// Attempts refused by an open gate count toward MaxAttempts and skip the
// backoff sleep. Only Retryable outcomes count as gate failures; a Fatal
// result says nothing about the dependency's health.
func Do[I, O any](ctx context.Context, p Policy, gate Gate, inv Invoker[I, O], in I, onAttempt func(Attempt)) Result[O] {
	p = p.normalized()
	bo := p.backoff()

	start := p.Now()
	var deadline time.Time
	if p.Deadline > 0 {
		deadline = start.Add(p.Deadline)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Deadline)
		defer cancel()
	}

	var res Result[O]
	for attempt := 1; ; attempt++ {
		res.Attempts = attempt
		a := Attempt{Number: attempt, At: p.Now()}

		var outcome external.Outcome[O]
		var done func(bool)
		var err error
		if gate != nil {
			done, err = gate.Allow()
		}
		if err != nil {
			outcome = external.Outcome[O]{Status: domain.StageStatusRetryable, Err: err}
			a.ShortCircuited = true
		} else {
			outcome = inv.Invoke(ctx, in)
			if done != nil {
				done(outcome.Status != domain.StageStatusRetryable)
			}
		}
		a.Status, a.Err, a.Latency = outcome.Status, outcome.Err, outcome.Latency
		res.Status, res.Err = outcome.Status, outcome.Err

		if outcome.Status != domain.StageStatusRetryable {
			if outcome.Status == domain.StageStatusOk {
				res.Value = outcome.Value
			}
			report(onAttempt, a)
			return res
		}

		stop := stopReason(ctx, p, attempt)
		var delay time.Duration
		if stop == nil && !a.ShortCircuited {
			delay = bo.NextBackOff()
			if delay == backoff.Stop {
				stop = fmt.Errorf("backoff stopped")
			} else if !deadline.IsZero() && p.Now().Add(delay).After(deadline) {
				stop = ErrDeadline
			}
		}
		if stop != nil {
			a.Exhausted = true
			res.Exhausted = true
			if !errors.Is(res.Err, stop) && stop != errAttempts {
				res.Err = fmt.Errorf("%w (last error: %v)", stop, res.Err)
			}
			report(onAttempt, a)
			return res
		}
		report(onAttempt, a)

		if delay > 0 {
			if err := p.Sleep(ctx, delay); err != nil {
				res.Exhausted = true
				res.Err = fmt.Errorf("%w (last error: %v)", err, res.Err)
				return res
			}
		}
	}
}

var errAttempts = errors.New("attempts exhausted")

func stopReason(ctx context.Context, p Policy, attempt int) error {
	if attempt >= p.MaxAttempts {
		return errAttempts
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

func report(fn func(Attempt), a Attempt) {
	if fn != nil {
		fn(a)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
