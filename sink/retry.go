package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ResuBaka/sinkpipe/utils"
)

// RetryActionKind classifies how a successfully-returned response
// should be treated by the retry policy, distinct from a transport
// error returned alongside it.
type RetryActionKind int

const (
	// ActionSuccessful means the response is terminal and good.
	ActionSuccessful RetryActionKind = iota
	// ActionRetry means the response counts as a retriable failure.
	ActionRetry
	// ActionDontRetry means the response is terminal but bad: the
	// service's own failure semantics, not a transport error.
	ActionDontRetry
)

// RetryAction is the classifier's verdict on a response.
type RetryAction struct {
	Kind   RetryActionKind
	Reason string
}

// RetryLogic is the per-sink hook classifying both transport errors
// and successfully-decoded responses.
type RetryLogic[Resp any] interface {
	IsRetriableError(err error) bool
	ShouldRetryResponse(resp Resp) RetryAction
}

// RetryPolicy bounds retry attempts within a total time budget, with
// exponential backoff between attempts, driven by a RetryLogic
// classifier. It is stateless across calls: state lives only for the
// duration of one Call, so retrying is per-request, not per-service.
type RetryPolicy[Req any, Resp any] struct {
	inner          Service[Req, Resp]
	logic          RetryLogic[Resp]
	maxAttempts    uint64
	initialBackoff time.Duration
	maxDuration    time.Duration
	logger         *utils.Logger
}

// NewRetryPolicy builds a RetryPolicy wrapping inner.
func NewRetryPolicy[Req any, Resp any](
	inner Service[Req, Resp],
	logic RetryLogic[Resp],
	maxAttempts uint64,
	initialBackoff time.Duration,
	maxDuration time.Duration,
	logger *utils.Logger,
) *RetryPolicy[Req, Resp] {
	return &RetryPolicy[Req, Resp]{
		inner:          inner,
		logic:          logic,
		maxAttempts:    maxAttempts,
		initialBackoff: initialBackoff,
		maxDuration:    maxDuration,
		logger:         logger,
	}
}

func (r *RetryPolicy[Req, Resp]) Ready(ctx context.Context) error {
	return r.inner.Ready(ctx)
}

// Call attempts req up to maxAttempts times within maxDuration,
// backing off by initialBackoff * 2^(attempt-1) capped at the
// remaining budget between attempts. A DontRetry response and a
// Successful response are both terminal and returned without error;
// only the classifier-marked retriable outcomes spend the budget.
func (r *RetryPolicy[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	var zero, lastResp Resp
	var lastErr error

	start := time.Now()
	var attempt uint64

	for {
		attempt++
		resp, err := r.inner.Call(ctx, req)

		if err == nil {
			action := r.logic.ShouldRetryResponse(resp)
			if action.Kind != ActionRetry {
				return resp, nil
			}
			lastResp = resp
			lastErr = fmt.Errorf("retriable response: %s", action.Reason)
		} else {
			if ctx.Err() != nil {
				return zero, utils.ErrCancelled
			}
			if !r.logic.IsRetriableError(err) {
				return zero, err
			}
			lastResp = resp
			lastErr = err
		}

		elapsed := time.Since(start)
		if attempt >= r.maxAttempts || elapsed >= r.maxDuration {
			r.logger.WithComponent("retry").
				WithField("attempts", attempt).
				WithField("elapsed", elapsed).
				WithError(lastErr).
				Warn("retry budget exhausted")
			return lastResp, fmt.Errorf("%w: %v", utils.ErrBudgetExhausted, lastErr)
		}

		remaining := r.maxDuration - elapsed
		delay := backoffDelay(r.initialBackoff, attempt, remaining)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, utils.ErrCancelled
		case <-timer.C:
		}
	}
}

func backoffDelay(initial time.Duration, attempt uint64, remaining time.Duration) time.Duration {
	shift := attempt - 1
	if shift > 32 {
		shift = 32
	}
	delay := initial * time.Duration(uint64(1)<<shift)
	if delay <= 0 || delay > remaining {
		delay = remaining
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

// IsRetriableCategorized is a convenience RetryLogic helper: a
// transport error is retriable when it categorizes as transient
// transport or timeout.
func IsRetriableCategorized(err error) bool {
	var catErr *utils.CategorizedError
	if errors.As(err, &catErr) {
		return catErr.IsRetriable()
	}
	return false
}
