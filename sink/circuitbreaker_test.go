package sink

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_TripsAfterThresholdFailures(t *testing.T) {
	logger, _ := newTestLogger()
	failing := ServiceFunc[string, string](func(ctx context.Context, req string) (string, error) {
		return "", errors.New("downstream down")
	})

	config := CircuitBreakerConfig{
		FailureThreshold: 3,
		FailureWindow:    time.Minute,
		RecoveryTimeout:  time.Hour,
		HalfOpenMaxCalls: 2,
		SuccessThreshold: 0.5,
	}
	cb := NewCircuitBreaker[string, string](failing, fixedLogic{action: RetryAction{Kind: ActionSuccessful}}, config, logger, "test")

	for i := 0; i < 3; i++ {
		_, err := cb.Call(context.Background(), "req")
		require.Error(t, err)
	}
	assert.Equal(t, CircuitOpen, cb.State())

	_, err := cb.Call(context.Background(), "req")
	assert.ErrorContains(t, err, "circuit")
}

func TestCircuitBreaker_DisabledPassesThrough(t *testing.T) {
	logger, _ := newTestLogger()
	calls := 0
	failing := ServiceFunc[string, string](func(ctx context.Context, req string) (string, error) {
		calls++
		return "", errors.New("downstream down")
	})

	cb := NewCircuitBreaker[string, string](failing, nil, DefaultCircuitBreakerConfig(), logger, "test")
	for i := 0; i < 10; i++ {
		_, _ = cb.Call(context.Background(), "req")
	}

	assert.Equal(t, 10, calls)
	assert.Equal(t, CircuitClosed, cb.State())
}

// With concurrent probes, the circuit must stay half-open until every
// admitted probe has returned, even if the first completions succeed.
func TestCircuitBreaker_HalfOpenWaitsForAllProbesToComplete(t *testing.T) {
	logger, _ := newTestLogger()
	block := make(chan struct{})
	var failing int32 = 1
	svc := ServiceFunc[string, string](func(ctx context.Context, req string) (string, error) {
		if atomic.LoadInt32(&failing) == 1 {
			return "", errors.New("down")
		}
		if req == "slow" {
			<-block
		}
		return "ok", nil
	})

	config := CircuitBreakerConfig{
		FailureThreshold: 1,
		FailureWindow:    time.Minute,
		RecoveryTimeout:  5 * time.Millisecond,
		HalfOpenMaxCalls: 2,
		SuccessThreshold: 1.0,
	}
	cb := NewCircuitBreaker[string, string](svc, fixedLogic{action: RetryAction{Kind: ActionSuccessful}}, config, logger, "test")

	_, err := cb.Call(context.Background(), "req")
	require.Error(t, err)
	assert.Equal(t, CircuitOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	atomic.StoreInt32(&failing, 0)

	done := make(chan struct{})
	go func() {
		_, _ = cb.Call(context.Background(), "slow")
		close(done)
	}()
	// Let the slow probe get admitted before issuing the fast one.
	time.Sleep(20 * time.Millisecond)

	_, err = cb.Call(context.Background(), "fast")
	require.NoError(t, err)
	assert.Equal(t, CircuitHalfOpen, cb.State(), "one probe still in flight")

	close(block)
	<-done
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_RecoversThroughHalfOpen(t *testing.T) {
	logger, _ := newTestLogger()
	shouldFail := true
	svc := ServiceFunc[string, string](func(ctx context.Context, req string) (string, error) {
		if shouldFail {
			return "", errors.New("down")
		}
		return "ok", nil
	})

	config := CircuitBreakerConfig{
		FailureThreshold: 1,
		FailureWindow:    time.Minute,
		RecoveryTimeout:  10 * time.Millisecond,
		HalfOpenMaxCalls: 1,
		SuccessThreshold: 0.5,
	}
	cb := NewCircuitBreaker[string, string](svc, fixedLogic{action: RetryAction{Kind: ActionSuccessful}}, config, logger, "test")

	_, err := cb.Call(context.Background(), "req")
	require.Error(t, err)
	assert.Equal(t, CircuitOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	shouldFail = false

	_, err = cb.Call(context.Background(), "req")
	require.NoError(t, err)
	assert.Equal(t, CircuitClosed, cb.State())
}
