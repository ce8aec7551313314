package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/anthanhphan/gosdk/logger"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitOpenError is returned while a peer is short-circuited.
type CircuitOpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	wait := max(e.RetryAfter, 0)
	if e.Name == "" {
		return fmt.Sprintf("%v: retry in %s", ErrCircuitOpen, wait)
	}
	return fmt.Sprintf("%v for %s: retry in %s", ErrCircuitOpen, e.Name, wait)
}

func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

type CircuitBreakerState string

const (
	CircuitClosed   CircuitBreakerState = "closed"
	CircuitOpen     CircuitBreakerState = "open"
	CircuitHalfOpen CircuitBreakerState = "half_open"
)

// RemoteFailure reports whether err says something about the health of the
// remote node. Cancellation and answers about the request itself do not.
func RemoteFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	switch status.Code(err) {
	case codes.Canceled, codes.InvalidArgument, codes.NotFound, codes.AlreadyExists,
		codes.FailedPrecondition, codes.OutOfRange:
		return false
	}
	return true
}

type CircuitBreakerConfig struct {
	Name string
	// FailureThreshold consecutive failures open a closed breaker.
	FailureThreshold int
	// SuccessThreshold trial successes close a half-open breaker.
	SuccessThreshold int
	OpenTimeout      time.Duration
	// HalfOpenMaxFlight caps concurrent trial calls while half-open.
	HalfOpenMaxFlight int
	// IsFailure classifies errors. Defaults to RemoteFailure.
	IsFailure func(error) bool
}

// BreakerStats is a point-in-time view of one breaker.
type BreakerStats struct {
	Name       string              `json:"name"`
	State      CircuitBreakerState `json:"state"`
	Failures   int                 `json:"failures"`
	Trips      int64               `json:"trips"`
	RetryAfter time.Duration       `json:"retry_after"`
	LastError  string              `json:"last_error,omitempty"`
}

// CircuitBreaker guards calls to one peer. Outcomes of calls that started
// under an earlier state are discarded.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu        sync.Mutex
	state     CircuitBreakerState
	epoch     uint64
	failures  int
	successes int
	trials    int
	openUntil time.Time
	trips     int64
	lastErr   string
}

// NewCircuitBreaker returns a closed breaker. Zero config fields take defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 10 * time.Second
	}
	if cfg.HalfOpenMaxFlight <= 0 {
		cfg.HalfOpenMaxFlight = 1
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = RemoteFailure
	}
	return &CircuitBreaker{cfg: cfg, state: CircuitClosed}
}

func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.expireLocked(time.Now())
	return cb.state
}

// Stats returns the breaker's current counters.
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	now := time.Now()
	cb.expireLocked(now)
	out := BreakerStats{
		Name:      cb.cfg.Name,
		State:     cb.state,
		Failures:  cb.failures,
		Trips:     cb.trips,
		LastError: cb.lastErr,
	}
	if cb.state == CircuitOpen {
		out.RetryAfter = cb.openUntil.Sub(now)
	}
	return out
}

// Execute runs fn unless the breaker is open and records its outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	epoch, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	cb.record(epoch, err)
	return err
}

func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	cb.expireLocked(now)
	switch cb.state {
	case CircuitOpen:
		return 0, cb.openErrLocked(now)
	case CircuitHalfOpen:
		if cb.trials >= cb.cfg.HalfOpenMaxFlight {
			return 0, cb.openErrLocked(now)
		}
		cb.trials++
	}
	return cb.epoch, nil
}

func (cb *CircuitBreaker) record(epoch uint64, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if epoch != cb.epoch {
		return
	}
	if cb.state == CircuitHalfOpen && cb.trials > 0 {
		cb.trials--
	}

	switch {
	case errors.Is(err, context.Canceled):
		// Neither healthy nor failing.
	case err != nil && cb.cfg.IsFailure(err):
		cb.lastErr = err.Error()
		cb.failures++
		if cb.state == CircuitHalfOpen || cb.failures >= cb.cfg.FailureThreshold {
			cb.setStateLocked(CircuitOpen, time.Now())
		}
	case cb.state == CircuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.setStateLocked(CircuitClosed, time.Now())
		}
	default:
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) expireLocked(now time.Time) {
	if cb.state == CircuitOpen && !now.Before(cb.openUntil) {
		cb.setStateLocked(CircuitHalfOpen, now)
	}
}

// setStateLocked moves to next and starts a new epoch with fresh counters.
func (cb *CircuitBreaker) setStateLocked(next CircuitBreakerState, now time.Time) {
	prev := cb.state
	cb.state = next
	cb.epoch++
	cb.failures, cb.successes, cb.trials = 0, 0, 0
	if next == CircuitOpen {
		cb.trips++
		cb.openUntil = now.Add(cb.cfg.OpenTimeout)
		logger.Warnw("Circuit breaker opened", "peer", cb.cfg.Name, "from", prev, "retry_in", cb.cfg.OpenTimeout.String(), "error", cb.lastErr)
		return
	}
	logger.Debugw("Circuit breaker state changed", "peer", cb.cfg.Name, "from", prev, "to", next)
}

func (cb *CircuitBreaker) openErrLocked(now time.Time) error {
	return &CircuitOpenError{
		Name:       cb.cfg.Name,
		RetryAfter: max(cb.openUntil.Sub(now), 0),
	}
}
