// Package external wraps slow third-party calls behind a uniform adapter: a
// hard timeout, an optional rate limiter and an outcome normalized to
// Ok/Retryable/Fatal.
package external

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"mealgen/internal/domain"
	"mealgen/internal/metrics"
)

// Kind names an external dependency. One breaker and one limiter exist per kind.
type Kind string

const (
	KindConcept   Kind = "concept"
	KindNutrition Kind = "nutrition"
	KindImage     Kind = "image"
	KindStorage   Kind = "storage"
	KindPersist   Kind = "persist"
)

// Call performs exactly one network call.
type Call[I, O any] func(ctx context.Context, in I) (O, error)

// Outcome is the normalized result of one invocation.
type Outcome[O any] struct {
	Status  domain.StageStatus
	Value   O
	Err     error
	Latency time.Duration
}

// Ok reports whether the call succeeded.
func (o Outcome[O]) Ok() bool { return o.Status == domain.StageStatusOk }

// Config tunes one adapter.
type Config struct {
	Kind    Kind
	Timeout time.Duration
	// RPS <= 0 disables rate limiting.
	RPS   float64
	Burst int
}

// Adapter invokes a Call with a timeout and classifies its result.
type Adapter[I, O any] struct {
	kind    Kind
	call    Call[I, O]
	timeout time.Duration
	limiter *rate.Limiter
	now     func() time.Time
}

// New builds an adapter around call.
func New[I, O any](cfg Config, call Call[I, O]) *Adapter[I, O] {
	a := &Adapter[I, O]{
		kind:    cfg.Kind,
		call:    call,
		timeout: cfg.Timeout,
		now:     time.Now,
	}
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return a
}

// Kind returns the dependency this adapter talks to.
func (a *Adapter[I, O]) Kind() Kind { return a.kind }

// Invoke performs the call under the adapter timeout. Waiting for a rate
// limiter token counts against the same timeout.
func (a *Adapter[I, O]) Invoke(ctx context.Context, in I) Outcome[O] {
	start := a.now()
	callCtx := ctx
	cancel := func() {}
	if a.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, a.timeout)
	}
	defer cancel()

	var out Outcome[O]
	if a.limiter != nil {
		if err := a.limiter.Wait(callCtx); err != nil {
			out.Status = domain.StageStatusRetryable
			out.Err = fmt.Errorf("%s: rate limiter: %w", a.kind, err)
			out.Latency = a.now().Sub(start)
			a.observe(out.Status, out.Latency)
			return out
		}
	}

	value, err := a.call(callCtx, in)
	out.Latency = a.now().Sub(start)
	if err == nil && callCtx.Err() != nil {
		// The provider returned after the deadline without noticing it.
		err = fmt.Errorf("%w: %v", ErrTimeout, callCtx.Err())
	}
	out.Status = Classify(err)
	if out.Status == domain.StageStatusOk {
		out.Value = value
	} else {
		out.Err = fmt.Errorf("%s: %w", a.kind, err)
	}
	a.observe(out.Status, out.Latency)
	return out
}

func (a *Adapter[I, O]) observe(status domain.StageStatus, latency time.Duration) {
	metrics.AdapterCallDuration.WithLabelValues(string(a.kind), string(status)).Observe(latency.Seconds())
}

var (
	// ErrTimeout marks a call that outlived its deadline.
	ErrTimeout = errors.New("external call timed out")
	// ErrMalformedResponse marks a response that could not be decoded.
	ErrMalformedResponse = errors.New("malformed response")
)

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as deterministic: retrying cannot help.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// StatusError carries a non-success HTTP status from a provider.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream status %d", e.Code)
	}
	return fmt.Sprintf("upstream status %d: %s", e.Code, e.Body)
}

// Retryable reports whether the status may succeed on a later attempt.
func (e *StatusError) Retryable() bool {
	switch e.Code {
	case 408, 409, 425, 429:
		return true
	}
	return e.Code < 400 || e.Code >= 500
}

// Classify maps an error returned by a Call to a stage status.
func Classify(err error) domain.StageStatus {
	if err == nil {
		return domain.StageStatusOk
	}
	if IsPermanent(err) {
		return domain.StageStatusFatal
	}
	var se *StatusError
	if errors.As(err, &se) && !se.Retryable() {
		return domain.StageStatusFatal
	}
	return domain.StageStatusRetryable
}
