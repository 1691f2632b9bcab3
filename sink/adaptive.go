package sink

import (
	"math"
	"sync"
	"time"

	"github.com/ResuBaka/sinkpipe/utils"
	"github.com/VividCortex/ewma"
)

// Outcome classifies a completed attempt for the adaptive concurrency
// controller: Timeout and RetriableError signal overload, Success and
// NonRetriableError are judged against the RTT baseline. Every
// outcome's RTT is added to the RTT moving average.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRetriableError
	OutcomeNonRetriableError
	OutcomeTimeout
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetriableError:
		return "retriable_error"
	case OutcomeNonRetriableError:
		return "non_retriable_error"
	case OutcomeTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// newEWMA returns a VividCortex/ewma MovingAverage tuned so that its
// per-sample decay equals alpha, i.e. Add computes
// value = alpha*sample + (1-alpha)*value, matching the library's
// age-based VariableEWMA (decay = 2/(age+1)) solved for the desired
// alpha instead of a hand-written recurrence.
func newEWMA(alpha float64) ewma.MovingAverage {
	age := 2/alpha - 1
	return ewma.NewMovingAverage(age)
}

// AdaptiveConcurrencyController is an AIMD-style controller: it tracks
// an EWMA of RTT and of RTT deviation and adjusts a shared in-flight
// budget down on overload signals and up by one when the pipe is
// saturated and healthy.
type AdaptiveConcurrencyController struct {
	mu sync.Mutex

	currentLimit uint
	maxLimit     uint

	decreaseRatio     float64
	rttDeviationScale float64

	rttEWMA          ewma.MovingAverage
	rttDeviationEWMA ewma.MovingAverage
	lastRTT          time.Duration

	// Window state since the last limit change.
	rttMin          float64
	rttMinSet       bool
	hadBackPressure bool

	logger *utils.Logger
	name   string

	increases    uint64
	decreases    uint64
	observations uint64
}

// NewAdaptiveConcurrencyController builds a controller starting at a
// budget of 1 in-flight request.
func NewAdaptiveConcurrencyController(settings AdaptiveSettings, maxLimit uint, logger *utils.Logger, name string) *AdaptiveConcurrencyController {
	if maxLimit == 0 {
		maxLimit = DefaultMaxAdaptiveLimit
	}
	return &AdaptiveConcurrencyController{
		currentLimit:      1,
		maxLimit:          maxLimit,
		decreaseRatio:     settings.DecreaseRatio,
		rttDeviationScale: settings.RTTDeviationScale,
		rttEWMA:           newEWMA(settings.EWMAAlpha),
		rttDeviationEWMA:  newEWMA(settings.EWMAAlpha),
		logger:            logger,
		name:              name,
	}
}

// CurrentLimit returns the controller's current in-flight budget.
func (c *AdaptiveConcurrencyController) CurrentLimit() uint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentLimit
}

// Observe records one completed attempt's round-trip time, outcome,
// and whether the attempt had to wait for a permit, then adjusts the
// budget:
//
//  1. Timeout or RetriableError is treated as overload: decrease.
//  2. Otherwise compare rtt against rtt_ewma + scale*rtt_deviation_ewma
//     (computed from state *before* this sample): over threshold
//     decreases, at-capacity-and-healthy increases by one, otherwise
//     unchanged.
//  3. The RTT EWMA is updated with this sample last, regardless of
//     which branch fired; the deviation EWMA is updated too, but only
//     once the RTT EWMA has warmed up and reports a baseline.
//
// inFlightAtCompletion is the in-flight count including this request,
// sampled just before its permit is released.
func (c *AdaptiveConcurrencyController) Observe(rtt time.Duration, outcome Outcome, inFlightAtCompletion uint, backPressure bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.observations++
	c.lastRTT = rtt
	if backPressure {
		c.hadBackPressure = true
	}

	rttSample := rtt.Seconds()
	if !c.rttMinSet || rttSample < c.rttMin {
		c.rttMin = rttSample
		c.rttMinSet = true
	}

	// The moving average reports zero until it has warmed up; until
	// then there is no latency baseline to judge congestion against.
	rttEWMABefore := c.rttEWMA.Value()
	rttDeviationEWMABefore := c.rttDeviationEWMA.Value()
	baselineSet := rttEWMABefore > 0

	switch outcome {
	case OutcomeTimeout, OutcomeRetriableError:
		c.decrease()
	default:
		threshold := rttEWMABefore + c.rttDeviationScale*rttDeviationEWMABefore
		switch {
		case baselineSet && rttSample > threshold:
			c.decrease()
		case inFlightAtCompletion >= c.currentLimit && c.currentLimit < c.maxLimit:
			c.increase()
		}
	}

	c.rttEWMA.Add(rttSample)
	if baselineSet {
		c.rttDeviationEWMA.Add(math.Abs(rttSample - rttEWMABefore))
	}

	c.logger.WithComponent("adaptive_concurrency").
		WithField("sink", c.name).
		WithField("current_limit", c.currentLimit).
		WithField("in_flight", inFlightAtCompletion).
		WithField("rtt", rtt).
		WithField("outcome", outcome.String()).
		WithField("back_pressure", backPressure).
		Debug("adaptive concurrency observation")
}

func (c *AdaptiveConcurrencyController) decrease() {
	newLimit := uint(math.Floor(float64(c.currentLimit) * c.decreaseRatio))
	if newLimit < 1 {
		newLimit = 1
	}
	c.currentLimit = newLimit
	c.decreases++
	c.resetWindow()
}

func (c *AdaptiveConcurrencyController) increase() {
	c.currentLimit++
	c.increases++
	c.resetWindow()
}

// resetWindow clears the per-window minimum RTT and back-pressure flag
// after a limit change. Must be called with c.mu held.
func (c *AdaptiveConcurrencyController) resetWindow() {
	c.rttMin = 0
	c.rttMinSet = false
	c.hadBackPressure = false
}
