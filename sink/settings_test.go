package sink

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func durationPtr(d time.Duration) *time.Duration { return &d }
func uint64Ptr(v uint64) *uint64                 { return &v }

func TestRequestConfig_Resolve_Defaults(t *testing.T) {
	cfg := RequestConfig{}
	settings, err := cfg.Resolve(nil, nil)
	require.NoError(t, err)

	require.NotNil(t, settings.Concurrency) // unset resolves to the fixed fallback
	assert.Equal(t, uint(DefaultFixedConcurrency), *settings.Concurrency)
	assert.Equal(t, DefaultTimeout, settings.Timeout)
	assert.Equal(t, DefaultRateLimitDuration, settings.RateLimitDuration)
	assert.Equal(t, DefaultRateLimitNum, settings.RateLimitNum)
	assert.Equal(t, DefaultRetryAttempts, settings.RetryAttempts)
	assert.Equal(t, DefaultRetryMaxDuration, settings.RetryMaxDuration)
	assert.Equal(t, DefaultRetryInitialBackoff, settings.RetryInitialBackoff)
	assert.Equal(t, DefaultAdaptiveSettings(), settings.Adaptive)
}

func TestRequestConfig_Resolve_SelfOverridesDefault(t *testing.T) {
	def := &RequestConfig{Timeout: durationPtr(30 * time.Second)}
	self := RequestConfig{Concurrency: FixedConcurrency(10), Timeout: durationPtr(5 * time.Second)}

	settings, err := self.Resolve(def, nil)
	require.NoError(t, err)

	require.NotNil(t, settings.Concurrency)
	assert.Equal(t, uint(10), *settings.Concurrency)
	assert.Equal(t, 5*time.Second, settings.Timeout)
}

func TestRequestConfig_Resolve_FallsThroughToDefaultConfig(t *testing.T) {
	def := &RequestConfig{Timeout: durationPtr(30 * time.Second), RetryAttempts: uint64Ptr(5)}
	self := RequestConfig{}

	settings, err := self.Resolve(def, nil)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, settings.Timeout)
	assert.Equal(t, uint64(5), settings.RetryAttempts)
	// Untouched fields still fall to the hardcoded default.
	assert.Equal(t, DefaultRetryMaxDuration, settings.RetryMaxDuration)
}

func TestRequestConfig_Resolve_RejectsBackoffLongerThanBudget(t *testing.T) {
	self := RequestConfig{
		RetryInitialBackoff: durationPtr(10 * time.Second),
		RetryMaxDuration:    durationPtr(5 * time.Second),
	}
	_, err := self.Resolve(nil, nil)
	assert.Error(t, err)
}

func TestAdaptiveSettings_Validate(t *testing.T) {
	assert.NoError(t, DefaultAdaptiveSettings().Validate())
	assert.Error(t, AdaptiveSettings{DecreaseRatio: 0, EWMAAlpha: 0.5, RTTDeviationScale: 1}.Validate())
	assert.Error(t, AdaptiveSettings{DecreaseRatio: 1.5, EWMAAlpha: 0.5, RTTDeviationScale: 1}.Validate())
	assert.Error(t, AdaptiveSettings{DecreaseRatio: 0.9, EWMAAlpha: 0.5, RTTDeviationScale: -1}.Validate())
}
