package sink

import (
	"context"
	"time"

	"github.com/ResuBaka/sinkpipe/utils"
	"golang.org/x/time/rate"
)

// Service is the layered-service abstraction every composition stage
// implements: Ready reports whether the service currently has
// capacity to accept a Call, and Call dispatches a single request.
// Callers that poll Ready and find the service not ready must not
// submit.
//
// Callers are expected to treat Req as cheap to pass by value or as an
// already-immutable handle; the retry layer may call Call more than
// once with the same Req.
type Service[Req any, Resp any] interface {
	Ready(ctx context.Context) error
	Call(ctx context.Context, req Req) (Resp, error)
}

// ServiceFunc adapts a plain function into a Service with no backpressure
// of its own (Ready always succeeds). Used for the innermost, user-supplied
// downstream call.
type ServiceFunc[Req any, Resp any] func(ctx context.Context, req Req) (Resp, error)

func (f ServiceFunc[Req, Resp]) Ready(ctx context.Context) error { return nil }

func (f ServiceFunc[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	return f(ctx, req)
}

// TimeoutService bounds every Call to a fixed per-attempt deadline,
// the innermost layer of the composition. It runs the inner call on
// its own goroutine and races it against the deadline.
type TimeoutService[Req any, Resp any] struct {
	inner   Service[Req, Resp]
	timeout time.Duration
}

// NewTimeoutService wraps inner with a per-call timeout.
func NewTimeoutService[Req any, Resp any](inner Service[Req, Resp], timeout time.Duration) *TimeoutService[Req, Resp] {
	return &TimeoutService[Req, Resp]{inner: inner, timeout: timeout}
}

func (t *TimeoutService[Req, Resp]) Ready(ctx context.Context) error {
	return t.inner.Ready(ctx)
}

func (t *TimeoutService[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	var zero Resp

	cctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	type result struct {
		resp Resp
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := t.inner.Call(cctx, req)
		done <- result{resp, err}
	}()

	select {
	case res := <-done:
		return res.resp, res.err
	case <-cctx.Done():
		if ctx.Err() != nil {
			return zero, utils.NewCategorizedError(utils.KindCancellation, ctx.Err())
		}
		return zero, utils.NewCategorizedError(utils.KindTimeout, cctx.Err())
	}
}

// RateLimitService throttles Call to at most rateLimitNum events per
// rateLimitDuration using a token-bucket limiter, the outermost layer
// of the composition: the configured rate caps submissions, not retry
// attempts.
type RateLimitService[Req any, Resp any] struct {
	inner   Service[Req, Resp]
	limiter *rate.Limiter
}

// NewRateLimitService wraps inner with a golang.org/x/time/rate
// token-bucket limiter sized for num events per window.
func NewRateLimitService[Req any, Resp any](inner Service[Req, Resp], num uint64, window time.Duration) *RateLimitService[Req, Resp] {
	limit := rate.Limit(float64(num) / window.Seconds())
	burst := num
	const maxBurst = 1 << 30
	if burst > maxBurst {
		burst = maxBurst
	}
	return &RateLimitService[Req, Resp]{
		inner:   inner,
		limiter: rate.NewLimiter(limit, int(burst)),
	}
}

func (s *RateLimitService[Req, Resp]) Ready(ctx context.Context) error {
	// Tokens is a read-only probe; the token itself is only spent by
	// the Wait in Call.
	if s.limiter.Tokens() < 1 {
		return utils.ErrNoPermit
	}
	return s.inner.Ready(ctx)
}

func (s *RateLimitService[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	var zero Resp
	if err := s.limiter.Wait(ctx); err != nil {
		return zero, utils.ErrCancelled
	}
	return s.inner.Call(ctx, req)
}

// MapService adapts a Service[Out, Resp] into a Service[In, Resp] by
// transforming each request before it reaches inner, so a caller can
// feed batch items to a stack built around the downstream's own wire
// request type.
type MapService[In any, Out any, Resp any] struct {
	inner Service[Out, Resp]
	f     func(In) Out
}

// NewMapService wraps inner, transforming each In request via f.
func NewMapService[In any, Out any, Resp any](inner Service[Out, Resp], f func(In) Out) *MapService[In, Out, Resp] {
	return &MapService[In, Out, Resp]{inner: inner, f: f}
}

func (m *MapService[In, Out, Resp]) Ready(ctx context.Context) error {
	return m.inner.Ready(ctx)
}

func (m *MapService[In, Out, Resp]) Call(ctx context.Context, req In) (Resp, error) {
	return m.inner.Call(ctx, m.f(req))
}

// BuildService composes the full layered stack:
//
//	RateLimit(Retry(AdaptiveConcurrencyLimit(Timeout(inner))))
//
// Timeout is innermost so each attempt gets its own deadline; the
// concurrency limit sits outside timeout so permits are held only for
// the attempt itself; retry sits outside concurrency so each attempt
// re-acquires a permit; rate limiting is outermost.
//
// Concurrency is adaptive when settings.Concurrency is nil, fixed
// otherwise. logic drives both retry classification and (when
// adaptive) the concurrency controller's outcome classification.
func BuildService[Req any, Resp any](
	settings *RequestSettings,
	logic RetryLogic[Resp],
	inner Service[Req, Resp],
	logger *utils.Logger,
	name string,
) Service[Req, Resp] {
	timeoutSvc := NewTimeoutService[Req, Resp](inner, settings.Timeout)

	var limited Service[Req, Resp]
	if settings.Concurrency == nil {
		controller := NewAdaptiveConcurrencyController(settings.Adaptive, DefaultMaxAdaptiveLimit, logger, name)
		limited = NewAdaptiveConcurrencyLimit[Req, Resp](timeoutSvc, controller, logic, logger)
	} else {
		limited = NewFixedConcurrencyLimit[Req, Resp](timeoutSvc, *settings.Concurrency, logger)
	}

	retried := NewRetryPolicy[Req, Resp](limited, logic, settings.RetryAttempts, settings.RetryInitialBackoff, settings.RetryMaxDuration, logger)

	return NewRateLimitService[Req, Resp](retried, settings.RateLimitNum, settings.RateLimitDuration)
}

// BuildServiceWithCircuitBreaker composes BuildService's stack further
// wrapped by an outermost CircuitBreaker. Passing a
// CircuitBreakerConfig with FailureThreshold 0 makes the breaker a
// no-op passthrough.
func BuildServiceWithCircuitBreaker[Req any, Resp any](
	settings *RequestSettings,
	logic RetryLogic[Resp],
	inner Service[Req, Resp],
	cbConfig CircuitBreakerConfig,
	logger *utils.Logger,
	name string,
) Service[Req, Resp] {
	composed := BuildService[Req, Resp](settings, logic, inner, logger, name)
	return NewCircuitBreaker[Req, Resp](composed, logic, cbConfig, logger, name)
}
