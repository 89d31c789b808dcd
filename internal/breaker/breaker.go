// Package breaker implements a count-based circuit breaker per external
// dependency.
package breaker

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrOpen is returned by Allow while the breaker short-circuits calls.
var ErrOpen = errors.New("circuit open")

// State of a breaker. Values match the breaker gauge.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config holds the trip thresholds.
type Config struct {
	// Window is the number of most recent outcomes considered.
	Window int
	// MinSamples outcomes must be in the window before the breaker may trip.
	MinSamples int
	// FailureRate in (0, 1); the breaker trips once the window's failure
	// rate exceeds it. Exactly FailureRate keeps it closed.
	FailureRate float64
	Cooldown    time.Duration
	MaxCooldown time.Duration
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = 20
	}
	if c.MinSamples <= 0 {
		c.MinSamples = 5
	}
	if c.MinSamples > c.Window {
		c.MinSamples = c.Window
	}
	if c.FailureRate <= 0 || c.FailureRate >= 1 {
		c.FailureRate = 0.5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 15 * time.Second
	}
	if c.MaxCooldown < c.Cooldown {
		c.MaxCooldown = c.Cooldown
	}
	return c
}

// CircuitState is a point-in-time copy of a breaker.
type CircuitState struct {
	Name         string        `json:"name"`
	State        State         `json:"state"`
	FailureCount int           `json:"failure_count"`
	SuccessCount int           `json:"success_count"`
	OpenedAt     *time.Time    `json:"opened_at,omitempty"`
	Cooldown     time.Duration `json:"cooldown"`
}

// StateChangeFunc observes transitions. It runs outside the breaker lock.
type StateChangeFunc func(name string, from, to State)

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithStateChange registers a transition hook.
func WithStateChange(fn StateChangeFunc) Option {
	return func(b *Breaker) { b.onChange = fn }
}

// Breaker tracks the failure rate of one dependency. The mutex guards
// transitions only and is never held while the protected call runs.
type Breaker struct {
	name     string
	cfg      Config
	now      func() time.Time
	onChange StateChangeFunc

	mu         sync.Mutex
	state      State
	window     []bool // true = failure
	next       int
	filled     int
	failures   int
	openedAt   time.Time
	cooldown   time.Duration
	probing    bool
	generation uint64
}

// New returns a closed breaker.
func New(name string, cfg Config, opts ...Option) *Breaker {
	cfg = cfg.withDefaults()
	b := &Breaker{
		name:     name,
		cfg:      cfg,
		now:      time.Now,
		window:   make([]bool, cfg.Window),
		cooldown: cfg.Cooldown,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the dependency name.
func (b *Breaker) Name() string { return b.name }

// Allow asks permission for one call. On success the caller must invoke done
// exactly once with the call result. While open, or while a half-open probe
// is in flight, Allow returns ErrOpen.
func (b *Breaker) Allow() (done func(success bool), err error) {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case StateClosed:
		gen := b.generation
		b.mu.Unlock()
		return b.doneFunc(func(success bool) { b.recordClosed(gen, success) }), nil
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return nil, ErrOpen
		}
		b.state = StateHalfOpen
		b.probing = true
		b.generation++
		gen := b.generation
		b.mu.Unlock()
		b.notify(from, StateHalfOpen)
		return b.doneFunc(func(success bool) { b.recordProbe(gen, success) }), nil
	default:
		if b.probing {
			b.mu.Unlock()
			return nil, ErrOpen
		}
		b.probing = true
		gen := b.generation
		b.mu.Unlock()
		return b.doneFunc(func(success bool) { b.recordProbe(gen, success) }), nil
	}
}

func (b *Breaker) doneFunc(record func(bool)) func(bool) {
	var once sync.Once
	return func(success bool) {
		once.Do(func() { record(success) })
	}
}

func (b *Breaker) recordClosed(gen uint64, success bool) {
	b.mu.Lock()
	if b.state != StateClosed || gen != b.generation {
		// Admitted before a transition; the window it belonged to is gone.
		b.mu.Unlock()
		return
	}
	if b.filled == len(b.window) && b.window[b.next] {
		b.failures--
	}
	b.window[b.next] = !success
	if !success {
		b.failures++
	}
	b.next = (b.next + 1) % len(b.window)
	if b.filled < len(b.window) {
		b.filled++
	}
	tripped := false
	if b.filled >= b.cfg.MinSamples && float64(b.failures)/float64(b.filled) > b.cfg.FailureRate {
		b.open(b.cfg.Cooldown)
		tripped = true
	}
	b.mu.Unlock()
	if tripped {
		b.notify(StateClosed, StateOpen)
	}
}

func (b *Breaker) recordProbe(gen uint64, success bool) {
	b.mu.Lock()
	if b.state != StateHalfOpen || gen != b.generation {
		b.mu.Unlock()
		return
	}
	b.probing = false
	var to State
	if success {
		b.reset()
		to = StateClosed
	} else {
		next := b.cooldown * 2
		if next > b.cfg.MaxCooldown {
			next = b.cfg.MaxCooldown
		}
		b.open(next)
		to = StateOpen
	}
	b.mu.Unlock()
	b.notify(StateHalfOpen, to)
}

// open must be called with the lock held.
func (b *Breaker) open(cooldown time.Duration) {
	b.state = StateOpen
	b.openedAt = b.now()
	b.cooldown = cooldown
	b.probing = false
	b.generation++
}

// reset must be called with the lock held.
func (b *Breaker) reset() {
	b.state = StateClosed
	for i := range b.window {
		b.window[i] = false
	}
	b.next, b.filled, b.failures = 0, 0, 0
	b.openedAt = time.Time{}
	b.cooldown = b.cfg.Cooldown
	b.generation++
}

func (b *Breaker) notify(from, to State) {
	if b.onChange != nil && from != to {
		b.onChange(b.name, from, to)
	}
}

// State reports the current state without transitioning.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot copies the breaker's counters.
func (b *Breaker) Snapshot() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	cs := CircuitState{
		Name:         b.name,
		State:        b.state,
		FailureCount: b.failures,
		SuccessCount: b.filled - b.failures,
		Cooldown:     b.cooldown,
	}
	if !b.openedAt.IsZero() {
		ts := b.openedAt
		cs.OpenedAt = &ts
	}
	return cs
}

// Registry holds one breaker per dependency name.
type Registry struct {
	cfg  Config
	opts []Option

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates breakers lazily with a shared configuration.
func NewRegistry(cfg Config, opts ...Option) *Registry {
	return &Registry{cfg: cfg, opts: opts, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	if !ok {
		b = New(name, r.cfg, r.opts...)
		r.breakers[name] = b
	}
	return b
}

// Degraded lists dependencies whose breaker is not closed, sorted.
func (r *Registry) Degraded() []string {
	r.mu.Lock()
	list := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		list = append(list, b)
	}
	r.mu.Unlock()

	var out []string
	for _, b := range list {
		if b.State() != StateClosed {
			out = append(out, b.name)
		}
	}
	sort.Strings(out)
	return out
}

// Snapshots returns the state of every known breaker, sorted by name.
func (r *Registry) Snapshots() []CircuitState {
	r.mu.Lock()
	list := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		list = append(list, b)
	}
	r.mu.Unlock()

	out := make([]CircuitState, 0, len(list))
	for _, b := range list {
		out = append(out, b.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
