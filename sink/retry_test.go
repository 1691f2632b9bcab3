package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ResuBaka/sinkpipe/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type alwaysRetriableLogic struct{}

func (alwaysRetriableLogic) IsRetriableError(err error) bool { return true }
func (alwaysRetriableLogic) ShouldRetryResponse(resp string) RetryAction {
	return RetryAction{Kind: ActionSuccessful}
}

type failingService struct {
	err error
}

func (s failingService) Ready(ctx context.Context) error { return nil }
func (s failingService) Call(ctx context.Context, req string) (string, error) {
	return "", s.err
}

// With retry_attempts=3, initial_backoff=1s and max_duration=10s, an
// always-failing service gets exactly 3 attempts (at roughly t=0, t=1,
// t=3) before a budget-exhausted error surfaces.
func TestRetryPolicy_ExhaustsAfterFixedAttempts(t *testing.T) {
	downstreamErr := errors.New("boom")
	svc := failingService{err: downstreamErr}
	logger, _ := newTestLogger()

	var callTimes []time.Duration
	start := time.Now()
	counting := ServiceFunc[string, string](func(ctx context.Context, req string) (string, error) {
		callTimes = append(callTimes, time.Since(start))
		return svc.Call(ctx, req)
	})

	policy := NewRetryPolicy[string, string](counting, alwaysRetriableLogic{}, 3, time.Second, 10*time.Second, logger)

	_, err := policy.Call(context.Background(), "req")
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrBudgetExhausted)
	require.Len(t, callTimes, 3)

	assert.InDelta(t, 0, callTimes[0].Seconds(), 0.2)
	assert.InDelta(t, 1, callTimes[1].Seconds(), 0.3)
	assert.InDelta(t, 3, callTimes[2].Seconds(), 0.5)
}

func TestRetryPolicy_NonRetriableErrorReturnsImmediately(t *testing.T) {
	logger, _ := newTestLogger()
	calls := 0
	svc := ServiceFunc[string, string](func(ctx context.Context, req string) (string, error) {
		calls++
		return "", errors.New("fatal")
	})

	logic := fixedLogic{retriableErr: false, action: RetryAction{Kind: ActionSuccessful}}
	policy := NewRetryPolicy[string, string](svc, logic, 5, time.Millisecond, time.Second, logger)

	_, err := policy.Call(context.Background(), "req")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_DontRetryResponseIsTerminalWithoutError(t *testing.T) {
	logger, _ := newTestLogger()
	calls := 0
	svc := ServiceFunc[string, string](func(ctx context.Context, req string) (string, error) {
		calls++
		return "rejected", nil
	})

	logic := fixedLogic{action: RetryAction{Kind: ActionDontRetry}}
	policy := NewRetryPolicy[string, string](svc, logic, 5, time.Millisecond, time.Second, logger)

	resp, err := policy.Call(context.Background(), "req")
	require.NoError(t, err)
	assert.Equal(t, "rejected", resp)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_RetriableResponseEventuallySucceeds(t *testing.T) {
	logger, _ := newTestLogger()
	calls := 0
	svc := ServiceFunc[string, string](func(ctx context.Context, req string) (string, error) {
		calls++
		if calls < 3 {
			return "retry-me", nil
		}
		return "ok", nil
	})

	logic := retryUntilOKLogic{}
	policy := NewRetryPolicy[string, string](svc, logic, 5, time.Millisecond, time.Second, logger)

	resp, err := policy.Call(context.Background(), "req")
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
	assert.Equal(t, 3, calls)
}

type fixedLogic struct {
	retriableErr bool
	action       RetryAction
}

func (l fixedLogic) IsRetriableError(err error) bool           { return l.retriableErr }
func (l fixedLogic) ShouldRetryResponse(resp string) RetryAction { return l.action }

type retryUntilOKLogic struct{}

func (retryUntilOKLogic) IsRetriableError(err error) bool { return true }
func (retryUntilOKLogic) ShouldRetryResponse(resp string) RetryAction {
	if resp == "ok" {
		return RetryAction{Kind: ActionSuccessful}
	}
	return RetryAction{Kind: ActionRetry, Reason: "not ok yet"}
}
