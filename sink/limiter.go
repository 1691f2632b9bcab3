package sink

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ResuBaka/sinkpipe/utils"
)

// AdaptiveConcurrencyLimit enforces an in-flight budget around inner,
// either a fixed cap or one driven by an AdaptiveConcurrencyController.
// Each Call holds one permit for the duration of the inner attempt;
// the per-attempt timeout boundary lives in the wrapped TimeoutService,
// one layer further in.
type AdaptiveConcurrencyLimit[Req any, Resp any] struct {
	inner      Service[Req, Resp]
	controller *AdaptiveConcurrencyController // nil for a fixed limit
	fixedLimit uint
	logic      RetryLogic[Resp] // nil when unused (fixed limit doesn't classify)
	logger     *utils.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	inFlight uint
}

// NewAdaptiveConcurrencyLimit builds a wrapper whose budget is driven
// by controller, reporting each completion's outcome back to it.
func NewAdaptiveConcurrencyLimit[Req any, Resp any](
	inner Service[Req, Resp],
	controller *AdaptiveConcurrencyController,
	logic RetryLogic[Resp],
	logger *utils.Logger,
) *AdaptiveConcurrencyLimit[Req, Resp] {
	l := &AdaptiveConcurrencyLimit[Req, Resp]{inner: inner, controller: controller, logic: logic, logger: logger}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// NewFixedConcurrencyLimit builds a wrapper with a static in-flight
// cap and no controller feedback.
func NewFixedConcurrencyLimit[Req any, Resp any](
	inner Service[Req, Resp],
	limit uint,
	logger *utils.Logger,
) *AdaptiveConcurrencyLimit[Req, Resp] {
	l := &AdaptiveConcurrencyLimit[Req, Resp]{inner: inner, fixedLimit: limit, logger: logger}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *AdaptiveConcurrencyLimit[Req, Resp]) limit() uint {
	if l.controller != nil {
		return l.controller.CurrentLimit()
	}
	return l.fixedLimit
}

// Ready implements the cooperative readiness contract: a caller
// polling Ready before submitting can back off without blocking.
func (l *AdaptiveConcurrencyLimit[Req, Resp]) Ready(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inFlight >= l.limit() {
		return utils.ErrNoPermit
	}
	return nil
}

// acquire blocks until a permit is available or ctx is done. The
// returned waited flag reports whether the caller experienced
// back-pressure, i.e. a permit was not immediately available.
func (l *AdaptiveConcurrencyLimit[Req, Resp]) acquire(ctx context.Context) (waited bool, err error) {
	l.mu.Lock()
	if l.inFlight < l.limit() {
		l.inFlight++
		l.mu.Unlock()
		return false, nil
	}
	l.mu.Unlock()

	// Translate ctx cancellation into a cond broadcast so the waiter
	// below isn't blocked forever on a cond.Wait with no signaler.
	stop := make(chan struct{})
	defer close(stop)
	if done := ctx.Done(); done != nil {
		go func() {
			select {
			case <-done:
				l.cond.L.Lock()
				l.cond.Broadcast()
				l.cond.L.Unlock()
			case <-stop:
			}
		}()
	}

	l.cond.L.Lock()
	defer l.cond.L.Unlock()
	for l.inFlight >= l.limit() {
		if err := ctx.Err(); err != nil {
			return true, err
		}
		l.cond.Wait()
	}
	l.inFlight++
	return true, nil
}

func (l *AdaptiveConcurrencyLimit[Req, Resp]) release() {
	l.cond.L.Lock()
	l.inFlight--
	l.cond.L.Unlock()
	l.cond.Broadcast()
}

// Call acquires a permit, runs inner, and releases the permit; for the
// adaptive variant it then reports the completion's RTT, classified
// outcome, and the in-flight count sampled just before the release to
// the controller.
func (l *AdaptiveConcurrencyLimit[Req, Resp]) Call(ctx context.Context, req Req) (resp Resp, err error) {
	waited, acqErr := l.acquire(ctx)
	if acqErr != nil {
		var zero Resp
		return zero, utils.ErrCancelled
	}

	sendTime := time.Now()
	defer func() {
		l.mu.Lock()
		snapshot := l.inFlight
		l.mu.Unlock()
		l.release()

		// A cancelled attempt is not a latency sample; it only needed
		// its permit released.
		if l.controller != nil && !isCancellation(err) {
			rtt := time.Since(sendTime)
			outcome := classifyOutcome(resp, err, l.logic)
			l.controller.Observe(rtt, outcome, snapshot, waited)
		}
	}()

	resp, err = l.inner.Call(ctx, req)
	return resp, err
}

func isCancellation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, utils.ErrCancelled) || errors.Is(err, context.Canceled) {
		return true
	}
	var catErr *utils.CategorizedError
	return errors.As(err, &catErr) && catErr.Kind == utils.KindCancellation
}

// classifyOutcome derives the Outcome the adaptive controller needs
// from a completed attempt's response/error pair and its RetryLogic.
func classifyOutcome[Resp any](resp Resp, err error, logic RetryLogic[Resp]) Outcome {
	if err != nil {
		var catErr *utils.CategorizedError
		if errors.As(err, &catErr) && catErr.Kind == utils.KindTimeout {
			return OutcomeTimeout
		}
		if logic != nil && logic.IsRetriableError(err) {
			return OutcomeRetriableError
		}
		return OutcomeNonRetriableError
	}
	if logic != nil {
		if action := logic.ShouldRetryResponse(resp); action.Kind == ActionRetry {
			return OutcomeRetriableError
		}
	}
	return OutcomeSuccess
}
