package sink

import "time"

// ControllerMetrics is a point-in-time snapshot of an
// AdaptiveConcurrencyController's observability counters. MinRTT and
// HadBackPressure cover the window since the last limit change.
type ControllerMetrics struct {
	CurrentLimit    uint
	MaxLimit        uint
	LastRTT         time.Duration
	MinRTT          time.Duration
	HadBackPressure bool
	Increases       uint64
	Decreases       uint64
	Observations    uint64
}

// Metrics returns a snapshot of the controller's current state.
func (c *AdaptiveConcurrencyController) Metrics() ControllerMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := ControllerMetrics{
		CurrentLimit:    c.currentLimit,
		MaxLimit:        c.maxLimit,
		LastRTT:         c.lastRTT,
		HadBackPressure: c.hadBackPressure,
		Increases:       c.increases,
		Decreases:       c.decreases,
		Observations:    c.observations,
	}
	if c.rttMinSet {
		m.MinRTT = time.Duration(c.rttMin * float64(time.Second))
	}
	return m
}

// LimiterMetrics is a point-in-time snapshot of an
// AdaptiveConcurrencyLimit wrapper's queueing state.
type LimiterMetrics struct {
	InFlight uint
	Limit    uint
}

// Metrics returns a snapshot of the limiter's current queueing state.
func (l *AdaptiveConcurrencyLimit[Req, Resp]) Metrics() LimiterMetrics {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LimiterMetrics{InFlight: l.inFlight, Limit: l.limit()}
}
