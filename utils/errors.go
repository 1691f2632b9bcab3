package utils

import (
	"errors"
	"fmt"
)

// ErrorKind identifies which of the sink pipeline's failure modes
// produced a CategorizedError.
type ErrorKind string

const (
	// KindTransientTransport is a transport-level error the retry
	// policy's classifier marked retriable.
	KindTransientTransport ErrorKind = "transient_transport"
	// KindNonRetriable is a terminal error the classifier marked
	// as a service failure, not a transport failure.
	KindNonRetriable ErrorKind = "non_retriable"
	// KindTimeout is a per-attempt deadline exceeded.
	KindTimeout ErrorKind = "timeout"
	// KindBudgetExhausted means the retry attempts or total retry
	// duration budget ran out.
	KindBudgetExhausted ErrorKind = "budget_exhausted"
	// KindCancellation means the in-flight request's context was
	// cancelled (caller dropped the future).
	KindCancellation ErrorKind = "cancellation"
	// KindConfiguration is a fatal startup configuration rejection.
	KindConfiguration ErrorKind = "configuration"
	// KindCircuitOpen means a CircuitBreaker layer rejected the call
	// before it reached the inner service.
	KindCircuitOpen ErrorKind = "circuit_open"
)

// CategorizedError pairs an underlying error with the kind of failure
// it represents, so that retry, finalizer, and logging logic can
// switch on it without re-deriving the classification.
type CategorizedError struct {
	Original error
	Kind     ErrorKind
	Message  string
}

func (ce *CategorizedError) Error() string {
	return fmt.Sprintf("[%s] %s", ce.Kind, ce.Message)
}

func (ce *CategorizedError) Unwrap() error {
	return ce.Original
}

// NewCategorizedError wraps err with the given kind.
func NewCategorizedError(kind ErrorKind, err error) *CategorizedError {
	return &CategorizedError{Original: err, Kind: kind, Message: err.Error()}
}

// IsRetriable reports whether the error kind is one the retry policy
// should act on.
func (ce *CategorizedError) IsRetriable() bool {
	return ce.Kind == KindTransientTransport || ce.Kind == KindTimeout
}

// Sentinel errors for conditions that are always terminal and never
// need per-error categorization at the call site.
var (
	// ErrBudgetExhausted is surfaced when a retry loop gives up
	// because attempts or total duration ran out.
	ErrBudgetExhausted = errors.New("retry budget exhausted")
	// ErrCancelled is surfaced when an in-flight request's future is
	// dropped or its context is cancelled.
	ErrCancelled = errors.New("request cancelled")
	// ErrCircuitOpen is surfaced by the CircuitBreaker layer when it
	// rejects a call without reaching the inner service.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrNoPermit is surfaced when a concurrency limiter or rate
	// limiter is polled for readiness and has no permit or token
	// available.
	ErrNoPermit = errors.New("no concurrency permit available")
)

// NewConfigError builds a fatal configuration-rejection error, the
// kind that must abort startup rather than construct a partial
// pipeline.
func NewConfigError(field string, reason string) error {
	return &CategorizedError{
		Original: fmt.Errorf("invalid configuration for %s: %s", field, reason),
		Kind:     KindConfiguration,
		Message:  fmt.Sprintf("invalid configuration for %s: %s", field, reason),
	}
}
