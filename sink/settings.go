package sink

import (
	"math"
	"time"

	"github.com/ResuBaka/sinkpipe/utils"
)

// Hardcoded defaults used when neither a sink nor its shared default
// config configure a given field.
const (
	DefaultTimeout             = 60 * time.Second
	DefaultRateLimitDuration   = 1 * time.Second
	DefaultRetryMaxDuration    = 3600 * time.Second
	DefaultRetryInitialBackoff = 1 * time.Second

	// DefaultRateLimitNum mirrors i64::MAX: effectively unlimited.
	DefaultRateLimitNum uint64 = math.MaxInt64
	// DefaultRetryAttempts mirrors isize::MAX: effectively unlimited.
	DefaultRetryAttempts uint64 = math.MaxInt64

	// DefaultMaxAdaptiveLimit bounds how high the adaptive controller
	// may grow the in-flight budget absent an explicit ceiling.
	DefaultMaxAdaptiveLimit uint = 200
)

// AdaptiveSettings tunes the AdaptiveConcurrencyController.
type AdaptiveSettings struct {
	DecreaseRatio     float64
	EWMAAlpha         float64
	RTTDeviationScale float64
}

// DefaultAdaptiveSettings returns the stock controller tuning.
func DefaultAdaptiveSettings() AdaptiveSettings {
	return AdaptiveSettings{
		DecreaseRatio:     0.9,
		EWMAAlpha:         0.7,
		RTTDeviationScale: 2.5,
	}
}

// Validate rejects out-of-range adaptive tuning values before they
// reach the controller.
func (a AdaptiveSettings) Validate() error {
	if a.DecreaseRatio <= 0 || a.DecreaseRatio > 1 {
		return utils.NewConfigError("adaptive_concurrency.decrease_ratio", "must be in (0, 1]")
	}
	if a.EWMAAlpha <= 0 || a.EWMAAlpha > 1 {
		return utils.NewConfigError("adaptive_concurrency.ewma_alpha", "must be in (0, 1]")
	}
	if a.RTTDeviationScale < 0 {
		return utils.NewConfigError("adaptive_concurrency.rtt_deviation_scale", "must be >= 0")
	}
	return nil
}

// RequestConfig is the unresolved, per-sink "self" configuration,
// overlaid on a shared default RequestConfig and then hardcoded
// defaults.
type RequestConfig struct {
	Concurrency   Concurrency
	InFlightLimit Concurrency // deprecated alias for Concurrency

	Timeout             *time.Duration
	RateLimitDuration   *time.Duration
	RateLimitNum        *uint64
	RetryAttempts       *uint64
	RetryMaxDuration    *time.Duration
	RetryInitialBackoff *time.Duration

	Adaptive AdaptiveSettings
}

// RequestSettings is the fully resolved, immutable policy a sink's
// layered service is built from.
type RequestSettings struct {
	// Concurrency is nil for adaptive, or the fixed in-flight cap.
	Concurrency *uint

	Timeout             time.Duration
	RateLimitDuration   time.Duration
	RateLimitNum        uint64
	RetryAttempts       uint64
	RetryMaxDuration    time.Duration
	RetryInitialBackoff time.Duration

	Adaptive AdaptiveSettings
}

// Resolve overlays c on def (def may be nil) and fills in hardcoded
// defaults for anything still unset, validating the result. warn is
// invoked at most once if both concurrency and in_flight_limit are set
// on c.
func (c RequestConfig) Resolve(def *RequestConfig, warn ConcurrencyWarner) (*RequestSettings, error) {
	effective := ResolveConcurrencyAlias(c.Concurrency, c.InFlightLimit, warn)

	defaultConcurrency := UnsetConcurrency
	if def != nil {
		defaultConcurrency = ResolveConcurrencyAlias(def.Concurrency, def.InFlightLimit, nil)
	}
	concurrencyLimit := effective.ResolveLimit(defaultConcurrency)

	adaptive := c.Adaptive
	if adaptive == (AdaptiveSettings{}) && def != nil {
		adaptive = def.Adaptive
	}

	settings := &RequestSettings{
		Concurrency:         concurrencyLimit,
		Timeout:             firstDuration(c.Timeout, defField(def, func(d *RequestConfig) *time.Duration { return d.Timeout }), DefaultTimeout),
		RateLimitDuration:   firstDuration(c.RateLimitDuration, defField(def, func(d *RequestConfig) *time.Duration { return d.RateLimitDuration }), DefaultRateLimitDuration),
		RateLimitNum:        firstUint64(c.RateLimitNum, defUint64Field(def, func(d *RequestConfig) *uint64 { return d.RateLimitNum }), DefaultRateLimitNum),
		RetryAttempts:       firstUint64(c.RetryAttempts, defUint64Field(def, func(d *RequestConfig) *uint64 { return d.RetryAttempts }), DefaultRetryAttempts),
		RetryMaxDuration:    firstDuration(c.RetryMaxDuration, defField(def, func(d *RequestConfig) *time.Duration { return d.RetryMaxDuration }), DefaultRetryMaxDuration),
		RetryInitialBackoff: firstDuration(c.RetryInitialBackoff, defField(def, func(d *RequestConfig) *time.Duration { return d.RetryInitialBackoff }), DefaultRetryInitialBackoff),
		Adaptive:            resolveAdaptive(adaptive),
	}

	if err := settings.validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

func resolveAdaptive(a AdaptiveSettings) AdaptiveSettings {
	if a == (AdaptiveSettings{}) {
		return DefaultAdaptiveSettings()
	}
	return a
}

func (s *RequestSettings) validate() error {
	if s.Timeout <= 0 {
		return utils.NewConfigError("timeout", "must be greater than zero")
	}
	if s.RateLimitDuration <= 0 {
		return utils.NewConfigError("rate_limit_duration", "must be greater than zero")
	}
	if s.RateLimitNum == 0 {
		return utils.NewConfigError("rate_limit_num", "must be at least 1")
	}
	if s.RetryAttempts == 0 {
		return utils.NewConfigError("retry_attempts", "must be at least 1")
	}
	if s.RetryMaxDuration <= 0 {
		return utils.NewConfigError("retry_max_duration", "must be greater than zero")
	}
	if s.RetryInitialBackoff <= 0 {
		return utils.NewConfigError("retry_initial_backoff", "must be greater than zero")
	}
	if s.RetryInitialBackoff > s.RetryMaxDuration {
		return utils.NewConfigError("retry_initial_backoff", "must not exceed retry_max_duration")
	}
	if s.Concurrency != nil && *s.Concurrency == 0 {
		return utils.NewConfigError("concurrency", "must be at least 1")
	}
	return s.Adaptive.Validate()
}

func defField(def *RequestConfig, get func(*RequestConfig) *time.Duration) *time.Duration {
	if def == nil {
		return nil
	}
	return get(def)
}

func defUint64Field(def *RequestConfig, get func(*RequestConfig) *uint64) *uint64 {
	if def == nil {
		return nil
	}
	return get(def)
}

func firstDuration(self, def *time.Duration, hardcoded time.Duration) time.Duration {
	if self != nil {
		return *self
	}
	if def != nil {
		return *def
	}
	return hardcoded
}

func firstUint64(self, def *uint64, hardcoded uint64) uint64 {
	if self != nil {
		return *self
	}
	if def != nil {
		return *def
	}
	return hardcoded
}
