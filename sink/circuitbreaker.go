package sink

import (
	"context"
	"sync"
	"time"

	"github.com/ResuBaka/sinkpipe/utils"
)

// CircuitState is one of the three states of a CircuitBreaker's state
// machine.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// CircuitBreakerConfig tunes the optional CircuitBreaker layer.
// FailureThreshold of 0 disables the breaker entirely.
type CircuitBreakerConfig struct {
	FailureThreshold int
	FailureWindow    time.Duration
	RecoveryTimeout  time.Duration
	HalfOpenMaxCalls int
	SuccessThreshold float64
}

// DefaultCircuitBreakerConfig returns the breaker disabled; it is an
// opt-in layer.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 0,
		FailureWindow:    60 * time.Second,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenMaxCalls: 3,
		SuccessThreshold: 0.6,
	}
}

// CircuitBreaker is an optional outermost layer that fails fast when
// the downstream has been uniformly failing: a Closed/Open/HalfOpen
// state machine over a sliding window of recent outcomes.
type CircuitBreaker[Req any, Resp any] struct {
	inner  Service[Req, Resp]
	logic  RetryLogic[Resp]
	config CircuitBreakerConfig
	logger *utils.Logger
	name   string

	mu          sync.Mutex
	state       CircuitState
	failures    []time.Time
	successes   []time.Time
	lastFailure time.Time

	// Probe accounting for the current HalfOpen episode. The close
	// decision is made over completed probes, not admitted ones, so
	// concurrent probes cannot close the circuit while siblings are
	// still in flight. The epoch identifies the episode a probe was
	// admitted in; a probe returning after its episode ended is stale.
	halfOpenEpoch     uint64
	halfOpenAdmitted  int
	halfOpenDone      int
	halfOpenSuccesses int
}

// NewCircuitBreaker wraps inner with a CircuitBreaker. A config with
// FailureThreshold <= 0 makes the breaker a transparent passthrough.
func NewCircuitBreaker[Req any, Resp any](inner Service[Req, Resp], logic RetryLogic[Resp], config CircuitBreakerConfig, logger *utils.Logger, name string) *CircuitBreaker[Req, Resp] {
	return &CircuitBreaker[Req, Resp]{
		inner:  inner,
		logic:  logic,
		config: config,
		logger: logger,
		name:   name,
		state:  CircuitClosed,
	}
}

func (cb *CircuitBreaker[Req, Resp]) Ready(ctx context.Context) error {
	return cb.inner.Ready(ctx)
}

// Call rejects immediately with a circuit-open error while the
// breaker is open, otherwise calls inner and records the outcome.
func (cb *CircuitBreaker[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	var zero Resp

	if cb.config.FailureThreshold <= 0 {
		return cb.inner.Call(ctx, req)
	}

	allowed, probeEpoch := cb.allow()
	if !allowed {
		return zero, utils.NewCategorizedError(utils.KindCircuitOpen, utils.ErrCircuitOpen)
	}

	resp, err := cb.inner.Call(ctx, req)
	cb.record(resp, err, probeEpoch)
	return resp, err
}

// State returns the breaker's current state.
func (cb *CircuitBreaker[Req, Resp]) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// allow reports whether the call may proceed. A non-zero probeEpoch
// marks the call as a HalfOpen probe and names the episode it was
// admitted in; probe admissions are capped at HalfOpenMaxCalls per
// episode.
func (cb *CircuitBreaker[Req, Resp]) allow() (allowed bool, probeEpoch uint64) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	switch cb.state {
	case CircuitClosed:
		return true, 0
	case CircuitOpen:
		if now.Sub(cb.lastFailure) >= cb.config.RecoveryTimeout {
			cb.transitionTo(CircuitHalfOpen)
			cb.halfOpenAdmitted++
			return true, cb.halfOpenEpoch
		}
		return false, 0
	case CircuitHalfOpen:
		if cb.halfOpenAdmitted < cb.config.HalfOpenMaxCalls {
			cb.halfOpenAdmitted++
			return true, cb.halfOpenEpoch
		}
		return false, 0
	default:
		return false, 0
	}
}

// record feeds a completed call's outcome back into the state machine.
// probeEpoch identifies the HalfOpen episode the call was admitted in
// as a probe (zero for ordinary calls); the circuit only closes once
// all HalfOpenMaxCalls probes of the episode have returned and their
// completed success rate meets SuccessThreshold.
func (cb *CircuitBreaker[Req, Resp]) record(resp Resp, err error, probeEpoch uint64) {
	success := err == nil
	if success && cb.logic != nil {
		if action := cb.logic.ShouldRetryResponse(resp); action.Kind != ActionSuccessful {
			success = false
		}
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()

	if probeEpoch != 0 {
		if cb.state != CircuitHalfOpen || probeEpoch != cb.halfOpenEpoch {
			// The episode this probe belonged to is already over
			// (a sibling probe failed and reopened the circuit).
			return
		}
		cb.halfOpenDone++
		if !success {
			cb.lastFailure = now
			cb.transitionTo(CircuitOpen)
			return
		}
		cb.halfOpenSuccesses++
		if cb.halfOpenDone >= cb.config.HalfOpenMaxCalls {
			rate := float64(cb.halfOpenSuccesses) / float64(cb.halfOpenDone)
			if rate >= cb.config.SuccessThreshold {
				cb.transitionTo(CircuitClosed)
			} else {
				cb.lastFailure = now
				cb.transitionTo(CircuitOpen)
			}
		}
		return
	}

	if cb.state != CircuitClosed {
		// A call admitted before the circuit tripped; its outcome is
		// stale and must not disturb the current episode.
		return
	}

	if success {
		cb.successes = append(cb.successes, now)
		cb.cleanOldLocked(&cb.successes, now)
		return
	}

	cb.lastFailure = now
	cb.failures = append(cb.failures, now)
	cb.cleanOldLocked(&cb.failures, now)
	if len(cb.failures) >= cb.config.FailureThreshold {
		cb.transitionTo(CircuitOpen)
	}
}

func (cb *CircuitBreaker[Req, Resp]) cleanOldLocked(entries *[]time.Time, now time.Time) {
	cutoff := now.Add(-cb.config.FailureWindow)
	i := 0
	for i < len(*entries) && !(*entries)[i].After(cutoff) {
		i++
	}
	*entries = (*entries)[i:]
}

// transitionTo must be called with cb.mu held.
func (cb *CircuitBreaker[Req, Resp]) transitionTo(newState CircuitState) {
	if cb.state == newState {
		return
	}
	old := cb.state
	cb.state = newState
	cb.halfOpenAdmitted = 0
	cb.halfOpenDone = 0
	cb.halfOpenSuccesses = 0
	if newState == CircuitHalfOpen {
		cb.halfOpenEpoch++
	}
	if newState == CircuitClosed || newState == CircuitHalfOpen {
		cb.failures = cb.failures[:0]
		cb.successes = cb.successes[:0]
	}
	cb.logger.WithComponent("circuit_breaker").
		WithField("sink", cb.name).
		WithField("old_state", string(old)).
		WithField("new_state", string(newState)).
		Info("circuit breaker state transition")
}
