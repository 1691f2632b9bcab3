// Package sinkenv loads sink.RequestConfig and
// sink.CircuitBreakerConfig from environment variables, optionally
// populated from a .env file by utils.LoadConfig.
package sinkenv

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ResuBaka/sinkpipe/sink"
	"github.com/ResuBaka/sinkpipe/utils"
)

// LoadRequestConfig reads the request-policy keys
// (CONCURRENCY, IN_FLIGHT_LIMIT, TIMEOUT_SECS, RATE_LIMIT_DURATION_SECS,
// RATE_LIMIT_NUM, RETRY_ATTEMPTS, RETRY_MAX_DURATION_SECS,
// RETRY_INITIAL_BACKOFF_SECS, ADAPTIVE_CONCURRENCY_DECREASE_RATIO,
// ADAPTIVE_CONCURRENCY_EWMA_ALPHA, ADAPTIVE_CONCURRENCY_RTT_DEVIATION_SCALE),
// all optional, prefixed by prefix (e.g. "METRICS" reads
// "METRICS_TIMEOUT_SECS"). Omitted keys are left unset on the
// returned RequestConfig so Resolve can fall through to a shared
// default and then the hardcoded defaults. The exception is the
// adaptive-concurrency tuning: it starts from
// sink.DefaultAdaptiveSettings() and each ADAPTIVE_CONCURRENCY_* key
// overrides one field, so it never falls through to a shared default.
func LoadRequestConfig(prefix string) (*sink.RequestConfig, error) {
	cfg := &sink.RequestConfig{}

	if raw := lookup(prefix, "CONCURRENCY"); raw != "" {
		c, err := sink.ParseConcurrencyValue(raw)
		if err != nil {
			return nil, utils.NewConfigError(envKey(prefix, "CONCURRENCY"), err.Error())
		}
		cfg.Concurrency = c
	}
	if raw := lookup(prefix, "IN_FLIGHT_LIMIT"); raw != "" {
		c, err := sink.ParseConcurrencyValue(raw)
		if err != nil {
			return nil, utils.NewConfigError(envKey(prefix, "IN_FLIGHT_LIMIT"), err.Error())
		}
		cfg.InFlightLimit = c
	}

	var err error
	if cfg.Timeout, err = lookupSecondsPtr(prefix, "TIMEOUT_SECS"); err != nil {
		return nil, err
	}
	if cfg.RateLimitDuration, err = lookupSecondsPtr(prefix, "RATE_LIMIT_DURATION_SECS"); err != nil {
		return nil, err
	}
	if cfg.RetryMaxDuration, err = lookupSecondsPtr(prefix, "RETRY_MAX_DURATION_SECS"); err != nil {
		return nil, err
	}
	if cfg.RetryInitialBackoff, err = lookupSecondsPtr(prefix, "RETRY_INITIAL_BACKOFF_SECS"); err != nil {
		return nil, err
	}
	if cfg.RateLimitNum, err = lookupUint64Ptr(prefix, "RATE_LIMIT_NUM"); err != nil {
		return nil, err
	}
	if cfg.RetryAttempts, err = lookupUint64Ptr(prefix, "RETRY_ATTEMPTS"); err != nil {
		return nil, err
	}

	cfg.Adaptive = sink.DefaultAdaptiveSettings()
	if v, ok, ferr := lookupFloat(prefix, "ADAPTIVE_CONCURRENCY_DECREASE_RATIO"); ferr != nil {
		return nil, ferr
	} else if ok {
		cfg.Adaptive.DecreaseRatio = v
	}
	if v, ok, ferr := lookupFloat(prefix, "ADAPTIVE_CONCURRENCY_EWMA_ALPHA"); ferr != nil {
		return nil, ferr
	} else if ok {
		cfg.Adaptive.EWMAAlpha = v
	}
	if v, ok, ferr := lookupFloat(prefix, "ADAPTIVE_CONCURRENCY_RTT_DEVIATION_SCALE"); ferr != nil {
		return nil, ferr
	} else if ok {
		cfg.Adaptive.RTTDeviationScale = v
	}

	return cfg, nil
}

// LoadCircuitBreakerConfig reads the circuit breaker keys, all
// optional; an absent CIRCUIT_FAILURE_THRESHOLD leaves the breaker
// disabled, matching DefaultCircuitBreakerConfig.
func LoadCircuitBreakerConfig(prefix string) (sink.CircuitBreakerConfig, error) {
	cfg := sink.DefaultCircuitBreakerConfig()

	if raw := lookup(prefix, "CIRCUIT_FAILURE_THRESHOLD"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return cfg, utils.NewConfigError(envKey(prefix, "CIRCUIT_FAILURE_THRESHOLD"), "must be a non-negative integer")
		}
		cfg.FailureThreshold = n
	}
	if v, ok, err := lookupSeconds(prefix, "CIRCUIT_FAILURE_WINDOW_SECS"); err != nil {
		return cfg, err
	} else if ok {
		cfg.FailureWindow = v
	}
	if v, ok, err := lookupSeconds(prefix, "CIRCUIT_RECOVERY_TIMEOUT_SECS"); err != nil {
		return cfg, err
	} else if ok {
		cfg.RecoveryTimeout = v
	}
	if raw := lookup(prefix, "CIRCUIT_HALF_OPEN_MAX_CALLS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return cfg, utils.NewConfigError(envKey(prefix, "CIRCUIT_HALF_OPEN_MAX_CALLS"), "must be a positive integer")
		}
		cfg.HalfOpenMaxCalls = n
	}
	if v, ok, err := lookupFloat(prefix, "CIRCUIT_SUCCESS_THRESHOLD"); err != nil {
		return cfg, err
	} else if ok {
		if v <= 0 || v > 1 {
			return cfg, utils.NewConfigError(envKey(prefix, "CIRCUIT_SUCCESS_THRESHOLD"), "must be in (0, 1]")
		}
		cfg.SuccessThreshold = v
	}

	return cfg, nil
}

func envKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return strings.ToUpper(prefix) + "_" + key
}

func lookup(prefix, key string) string {
	return strings.TrimSpace(os.Getenv(envKey(prefix, key)))
}

func lookupSeconds(prefix, key string) (time.Duration, bool, error) {
	raw := lookup(prefix, key)
	if raw == "" {
		return 0, false, nil
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil || n <= 0 {
		return 0, false, utils.NewConfigError(envKey(prefix, key), "must be a positive number of seconds")
	}
	return time.Duration(n * float64(time.Second)), true, nil
}

func lookupSecondsPtr(prefix, key string) (*time.Duration, error) {
	v, ok, err := lookupSeconds(prefix, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func lookupUint64Ptr(prefix, key string) (*uint64, error) {
	raw := lookup(prefix, key)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || n == 0 {
		return nil, utils.NewConfigError(envKey(prefix, key), "must be a positive integer")
	}
	return &n, nil
}

func lookupFloat(prefix, key string) (float64, bool, error) {
	raw := lookup(prefix, key)
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, utils.NewConfigError(envKey(prefix, key), "must be a number")
	}
	return v, true, nil
}
