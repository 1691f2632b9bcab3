package sink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConcurrencyValue_Fixed(t *testing.T) {
	c, err := ParseConcurrencyValue("10")
	require.NoError(t, err)
	assert.Equal(t, ConcurrencyFixed, c.Kind)
	assert.Equal(t, uint(10), c.Fixed)

	c, err = ParseConcurrencyValue(10)
	require.NoError(t, err)
	assert.Equal(t, FixedConcurrency(10), c)
}

func TestParseConcurrencyValue_Adaptive(t *testing.T) {
	c, err := ParseConcurrencyValue("adaptive")
	require.NoError(t, err)
	assert.Equal(t, AdaptiveConcurrency, c)
}

func TestParseConcurrencyValue_Invalid(t *testing.T) {
	for _, raw := range []any{"broken", 0, -9, "0", "-9"} {
		_, err := ParseConcurrencyValue(raw)
		assert.Errorf(t, err, "expected error for %v", raw)
	}
}

func TestConcurrency_ConfigValueRoundTrips(t *testing.T) {
	for _, c := range []Concurrency{UnsetConcurrency, AdaptiveConcurrency, FixedConcurrency(10), FixedConcurrency(1024)} {
		parsed, err := ParseConcurrencyValue(c.ConfigValue())
		require.NoError(t, err)
		assert.Equal(t, c, parsed)
	}
}

func TestResolveConcurrencyAlias_LegacyAloneWins(t *testing.T) {
	resolved := ResolveConcurrencyAlias(UnsetConcurrency, FixedConcurrency(10), nil)
	assert.Equal(t, FixedConcurrency(10), resolved)
}

func TestResolveConcurrencyAlias_BothSetWarnsAndCanonicalWins(t *testing.T) {
	var warned string
	resolved := ResolveConcurrencyAlias(FixedConcurrency(5), FixedConcurrency(10), func(msg string) {
		warned = msg
	})
	assert.Equal(t, FixedConcurrency(5), resolved)
	assert.Contains(t, warned, "in_flight_limit")
}

func TestConcurrency_ResolveLimit(t *testing.T) {
	// Adaptive resolves to no fixed cap.
	assert.Nil(t, AdaptiveConcurrency.ResolveLimit(UnsetConcurrency))

	// A fixed value resolves directly.
	limit := FixedConcurrency(10).ResolveLimit(UnsetConcurrency)
	require.NotNil(t, limit)
	assert.Equal(t, uint(10), *limit)

	// Unset falls through to the default, then the hardcoded fallback.
	limit = UnsetConcurrency.ResolveLimit(UnsetConcurrency)
	require.NotNil(t, limit)
	assert.Equal(t, uint(DefaultFixedConcurrency), *limit)

	limit = UnsetConcurrency.ResolveLimit(FixedConcurrency(42))
	require.NotNil(t, limit)
	assert.Equal(t, uint(42), *limit)
}
