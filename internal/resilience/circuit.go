package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

var quietLogger = zerolog.Nop()

// ErrOpenCircuit means the backend is considered down and the call was not sent.
var ErrOpenCircuit = errors.New("resilience: circuit breaker open")

// State is the breaker position for one backend target.
type State int

const (
	// Closed sends every backend call.
	Closed State = iota
	// Open fails backend calls fast until the cool-off ends.
	Open
	// HalfOpen lets one trial call decide whether the backend recovered.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// gauge is the numeric value exported on the breaker state gauge.
func (s State) gauge() float64 {
	switch s {
	case Closed:
		return 0
	case Open:
		return 1
	case HalfOpen:
		return 2
	default:
		return -1
	}
}

// window counts call outcomes while the breaker is closed.
type window struct {
	ok, failed int
}

func (w window) total() int { return w.ok + w.failed }

func (w window) failureRatio() float64 {
	if w.total() == 0 {
		return 0
	}
	return float64(w.failed) / float64(w.total())
}

// halve keeps the ratio while bounding the counters.
func (w *window) halve() {
	w.ok = int(math.Ceil(float64(w.ok) / 2))
	w.failed = int(math.Ceil(float64(w.failed) / 2))
}

// Breaker guards calls to the MediHub backend (pharmacy lookups and order
// placement). Once enough calls fail it opens and checkout sees
// ErrOpenCircuit without waiting on the network. After the cool-off a single
// trial call is let through; its outcome closes or reopens the breaker.
type Breaker struct {
	mu        sync.Mutex
	state     State
	counts    window
	minCalls  int
	tripRatio float64
	coolOff   time.Duration
	openedAt  time.Time
	trial     bool
	target    string
	logger    *zerolog.Logger
	now       func() time.Time
}

// NewBreaker returns a closed breaker that trips once at least minCalls
// outcomes are recorded and the failed share reaches tripRatio. It stays open
// for coolOff. Out-of-range arguments fall back to 1 call, 50% and 30s.
func NewBreaker(minCalls int, tripRatio float64, coolOff time.Duration) *Breaker {
	if minCalls <= 0 {
		minCalls = 1
	}
	switch {
	case tripRatio <= 0:
		tripRatio = 0.5
	case tripRatio > 1:
		tripRatio = 1
	}
	if coolOff <= 0 {
		coolOff = 30 * time.Second
	}
	return &Breaker{
		state:     Closed,
		minCalls:  minCalls,
		tripRatio: tripRatio,
		coolOff:   coolOff,
		now:       time.Now,
	}
}

// State returns the current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// WithClock swaps the time source used for the cool-off.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if now != nil {
		b.now = now
	}
	return b
}

// WithTarget names the backend in metrics and logs.
func (b *Breaker) WithTarget(target string) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.target = strings.TrimSpace(target)
	b.exportStateLocked()
	return b
}

// WithLogger sets the fallback logger for transition events. A logger carried
// on the request context takes precedence.
func (b *Breaker) WithLogger(logger zerolog.Logger) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = &logger
	return b
}

// Allow reports whether a backend call may be sent now. Every refusal is
// counted on the rejected metric.
func (b *Breaker) Allow(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.admitLocked(ctx) {
		return true
	}
	if BreakerRejectedTotal != nil {
		BreakerRejectedTotal.WithLabelValues(b.label()).Inc()
	}
	return false
}

func (b *Breaker) admitLocked(ctx context.Context) bool {
	switch b.state {
	case Closed:
		return true
	case Open:
		if b.now().Sub(b.openedAt) < b.coolOff {
			return false
		}
		b.moveLocked(ctx, HalfOpen)
	}
	if b.trial {
		return false
	}
	b.trial = true
	return true
}

// Report records the outcome of a call admitted by Allow.
func (b *Breaker) Report(ctx context.Context, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		return
	case HalfOpen:
		b.trial = false
		if success {
			b.moveLocked(ctx, Closed)
		} else {
			b.moveLocked(ctx, Open)
		}
		return
	}

	if success {
		b.counts.ok++
	} else {
		b.counts.failed++
	}
	if b.counts.total() < b.minCalls {
		return
	}
	if b.counts.failureRatio() >= b.tripRatio {
		b.moveLocked(ctx, Open)
		return
	}
	if b.counts.total() > 2*b.minCalls {
		b.counts.halve()
	}
}

// Backoff is the delay before retry number attempt (1-based): base doubled per
// attempt, spread by ±jitterPct of itself.
func Backoff(base time.Duration, attempt int, jitterPct float64) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	d := base << uint(max(attempt, 1)-1)
	if jitterPct <= 0 {
		return d
	}
	spread := (rand.Float64()*2 - 1) * jitterPct * float64(d)
	return d + time.Duration(spread)
}

func (b *Breaker) moveLocked(ctx context.Context, next State) {
	prev := b.state
	b.state = next
	b.counts = window{}
	switch next {
	case Open:
		b.openedAt = b.now()
	case Closed:
		b.openedAt = time.Time{}
	}
	b.exportStateLocked()
	if prev != next {
		b.announce(ctx, prev, next)
	}
}

func (b *Breaker) exportStateLocked() {
	if BreakerState != nil {
		BreakerState.WithLabelValues(b.label()).Set(b.state.gauge())
	}
}

func (b *Breaker) announce(ctx context.Context, from, to State) {
	target := b.label()
	if BreakerTransitions != nil {
		BreakerTransitions.WithLabelValues(target, from.String(), to.String()).Inc()
	}
	if to == Open && BreakerOpenedTotal != nil {
		BreakerOpenedTotal.WithLabelValues(target).Inc()
	}
	evt := b.loggerFor(ctx).Info().
		Str("target", target).
		Str("from_state", from.String()).
		Str("to_state", to.String())
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		evt = evt.Str("trace_id", sc.TraceID().String())
	}
	evt.Msg("breaker_transition")
}

func (b *Breaker) label() string {
	if b.target == "" {
		return "default"
	}
	return b.target
}

func (b *Breaker) loggerFor(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	if b.logger == nil {
		return &quietLogger
	}
	return b.logger
}
