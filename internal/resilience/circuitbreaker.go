// Package resilience keeps a call alive when a speech or dialogue backend
// goes bad. A [CircuitBreaker] watches consecutive failures and stops
// sending traffic to a backend that keeps erroring, so one sick upstream
// cannot stall every call on the trunk while its requests time out.
// [FallbackGroup] chains several backends of one provider type behind
// per-entry breakers and fails over to the next healthy one.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// refuses traffic: either the cooldown is still running, or the half-open
// probe budget is already spoken for.
var ErrCircuitOpen = errors.New("resilience: circuit breaker open")

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call; the breaker only counts failures.
	StateClosed State = iota

	// StateOpen rejects every call with [ErrCircuitOpen]. Entered after
	// FailureThreshold consecutive failures, left when the cooldown expires.
	StateOpen

	// StateHalfOpen lets a small budget of probe calls through to test
	// whether the backend has recovered. All probes succeeding closes the
	// breaker; a single probe failure re-opens it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels the breaker in log output, typically the provider name.
	Name string

	// FailureThreshold is how many consecutive failures trip the breaker
	// from closed to open. Default: 5.
	FailureThreshold int

	// Cooldown is how long a tripped breaker rejects calls before letting
	// probes through. Default: 30s.
	Cooldown time.Duration

	// ProbeBudget caps the number of half-open probe calls. Default: 3.
	ProbeBudget int

	// Logger receives state-transition events. Defaults to slog.Default().
	Logger *slog.Logger
}

// CircuitBreaker implements the three-state circuit breaker pattern.
// It is safe for concurrent use from multiple goroutines.
type CircuitBreaker struct {
	name        string
	threshold   int
	cooldown    time.Duration
	probeBudget int
	log         *slog.Logger

	mu              sync.Mutex
	state           State
	consecutiveFail int
	lastFailure     time.Time
	probeCalls      int
	probeFails      int
}

// NewCircuitBreaker creates a [CircuitBreaker] with the supplied
// configuration. Zero-value config fields are replaced with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.ProbeBudget <= 0 {
		cfg.ProbeBudget = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CircuitBreaker{
		name:        cfg.Name,
		threshold:   cfg.FailureThreshold,
		cooldown:    cfg.Cooldown,
		probeBudget: cfg.ProbeBudget,
		log:         cfg.Logger,
		state:       StateClosed,
	}
}

// Execute runs fn if the breaker admits the call and folds the outcome back
// into the breaker state. While open it returns [ErrCircuitOpen] without
// calling fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.settle(err, probe)
	return err
}

// admit decides whether a call may proceed right now. It performs the
// open → half-open transition once the cooldown has elapsed and claims a
// probe slot when in half-open. probe reports whether the admitted call
// counts against the probe budget.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastFailure) < cb.cooldown {
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probeCalls = 0
		cb.probeFails = 0
		cb.log.Info("circuit breaker transitioning to half-open",
			"name", cb.name)

	case StateHalfOpen:
		if cb.probeCalls >= cb.probeBudget {
			// Probe budget exhausted, stay open.
			return false, ErrCircuitOpen
		}
	}

	if cb.state == StateHalfOpen {
		cb.probeCalls++
		return true, nil
	}
	return false, nil
}

// settle records the outcome of an admitted call. probe must be the value
// returned by admit for that same call.
func (cb *CircuitBreaker) settle(err error, probe bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch {
	case err == nil:
		if !probe {
			cb.consecutiveFail = 0
			return
		}
		// probeFails can be non-zero here if a concurrent probe failed
		// while this one was in flight; only a clean sweep closes.
		if cb.probeCalls-cb.probeFails >= cb.probeBudget {
			cb.state = StateClosed
			cb.consecutiveFail = 0
			cb.probeCalls = 0
			cb.probeFails = 0
			cb.log.Info("circuit breaker closed after successful probes",
				"name", cb.name)
		}

	case errors.Is(err, context.Canceled):
		// A hung-up caller cancels in-flight work; that is not the
		// provider's fault and must neither trip nor heal the breaker.
		// Return the probe slot so half-open cannot wedge on hangups.
		if probe {
			cb.probeCalls--
		}

	case probe:
		cb.lastFailure = time.Now()
		cb.probeFails++
		// Any probe failure immediately re-opens.
		cb.state = StateOpen
		cb.consecutiveFail = cb.threshold
		cb.log.Warn("circuit breaker re-opened from half-open",
			"name", cb.name)

	default:
		cb.lastFailure = time.Now()
		cb.consecutiveFail++
		if cb.consecutiveFail >= cb.threshold {
			cb.state = StateOpen
			cb.log.Warn("circuit breaker opened",
				"name", cb.name,
				"consecutive_failures", cb.consecutiveFail)
		}
	}
}

// State returns the current [State] of the breaker. An open breaker whose
// cooldown has elapsed reports [StateHalfOpen]; the stored state changes on
// the next [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.lastFailure) >= cb.cooldown {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to [StateClosed] and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.consecutiveFail = 0
	cb.probeCalls = 0
	cb.probeFails = 0
	cb.log.Info("circuit breaker manually reset", "name", cb.name)
}
