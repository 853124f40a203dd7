package circuit

import (
	"sync"
	"time"

	"decisiongate/internal/logger"

	"github.com/benbjohnson/clock"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

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

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Settings configures thresholds. Zero values fall back to DefaultAPI.
type Settings struct {
	FailureThreshold int
	SuccessThreshold int
	OpenTimeout      time.Duration
}

// DefaultAPI suits a remote API that usually recovers within seconds.
func DefaultAPI() Settings {
	return Settings{FailureThreshold: 5, SuccessThreshold: 3, OpenTimeout: 30 * time.Second}
}

// CriticalService trips sooner and demands a longer recovery streak.
func CriticalService() Settings {
	return Settings{FailureThreshold: 3, SuccessThreshold: 5, OpenTimeout: 60 * time.Second}
}

func (s Settings) normalized() Settings {
	def := DefaultAPI()
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = def.FailureThreshold
	}
	if s.SuccessThreshold <= 0 {
		s.SuccessThreshold = def.SuccessThreshold
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = def.OpenTimeout
	}
	return s
}

// counters is the whole mutable state; it only changes under CircuitBreaker.mu.
type counters struct {
	state          State
	failures       int
	successes      int
	trips          uint64
	lastTransition time.Time
}

type CircuitBreaker struct {
	name     string
	settings Settings
	clock    clock.Clock

	mu            sync.Mutex
	c             counters
	onStateChange func(name string, from, to State)
}

// Snapshot is a consistent copy of the breaker taken under its lock.
type Snapshot struct {
	Name              string        `json:"name"`
	State             State         `json:"state"`
	Failures          int           `json:"consecutive_failures"`
	Successes         int           `json:"consecutive_successes"`
	FailureThreshold  int           `json:"failure_threshold"`
	SuccessThreshold  int           `json:"success_threshold"`
	OpenTimeout       time.Duration `json:"open_timeout"`
	Trips             uint64        `json:"trips"`
	LastTransition    time.Time     `json:"last_transition"`
	TimeUntilHalfOpen time.Duration `json:"time_until_half_open"`
}

func NewCircuitBreaker(name string, settings Settings, clk clock.Clock) *CircuitBreaker {
	if clk == nil {
		clk = clock.New()
	}
	return &CircuitBreaker{
		name:     name,
		settings: settings.normalized(),
		clock:    clk,
		c:        counters{state: StateClosed, lastTransition: clk.Now()},
	}
}

func (cb *CircuitBreaker) SetStateChangeHandler(handler func(name string, from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = handler
}

// Allow reports whether a call may be issued now. An open breaker whose
// timeout has elapsed moves to half-open and admits the caller as a probe.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.c.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if cb.clock.Since(cb.c.lastTransition) >= cb.settings.OpenTimeout {
			cb.transition(StateHalfOpen)
			return true
		}
		return false
	default:
		return false
	}
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.c.state {
	case StateClosed:
		cb.c.failures = 0
	case StateHalfOpen:
		cb.c.successes++
		logger.Debugf("CircuitBreaker %s half-open success %d/%d", cb.name, cb.c.successes, cb.settings.SuccessThreshold)
		if cb.c.successes >= cb.settings.SuccessThreshold {
			cb.transition(StateClosed)
		}
	case StateOpen:
		// A call admitted before the breaker opened finished late; it says
		// nothing about the current outage.
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.c.state {
	case StateClosed:
		cb.c.failures++
		if cb.c.failures >= cb.settings.FailureThreshold {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.transition(StateOpen)
	case StateOpen:
		// late failure from a call admitted earlier; the timer is not restarted
	}
}

// ForceOpen trips the breaker regardless of counters (operator override).
func (cb *CircuitBreaker) ForceOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateOpen)
}

// ForceClose resets the breaker to closed with clean counters.
func (cb *CircuitBreaker) ForceClose() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateClosed)
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.c.state
}

func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	snap := Snapshot{
		Name:             cb.name,
		State:            cb.c.state,
		Failures:         cb.c.failures,
		Successes:        cb.c.successes,
		FailureThreshold: cb.settings.FailureThreshold,
		SuccessThreshold: cb.settings.SuccessThreshold,
		OpenTimeout:      cb.settings.OpenTimeout,
		Trips:            cb.c.trips,
		LastTransition:   cb.c.lastTransition,
	}
	if cb.c.state == StateOpen {
		if remaining := cb.settings.OpenTimeout - cb.clock.Since(cb.c.lastTransition); remaining > 0 {
			snap.TimeUntilHalfOpen = remaining
		}
	}
	return snap
}

// transition must be called with mu held. Every transition resets both
// counters and restarts the timer, including open -> open.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.c.state
	failures := cb.c.failures
	cb.c.state = to
	cb.c.failures = 0
	cb.c.successes = 0
	cb.c.lastTransition = cb.clock.Now()
	if to == StateOpen && from != StateOpen {
		cb.c.trips++
	}
	if from == to {
		return
	}
	if cb.onStateChange != nil {
		go cb.onStateChange(cb.name, from, to)
		return
	}
	logger.Warnf("CircuitBreaker %s state change: %s -> %s (failures=%d/%d, open_timeout=%s)",
		cb.name, from, to, failures, cb.settings.FailureThreshold, cb.settings.OpenTimeout)
}
