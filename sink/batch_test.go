package sink

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Completing sequences 0..4 in the order 2,0,1,4,3 only ever credits
// the acker by contiguous prefix.
func TestSequenceTracker_OutOfOrderCompletionAdvancesByContiguousPrefix(t *testing.T) {
	var mu sync.Mutex
	var credits []uint64
	acker := FuncAcker(func(n uint64) {
		mu.Lock()
		defer mu.Unlock()
		credits = append(credits, n)
	})

	tracker := NewSequenceTracker(acker)

	tracker.Complete(2)
	mu.Lock()
	assert.Empty(t, credits) // 0 and 1 haven't completed yet
	mu.Unlock()

	tracker.Complete(0)
	mu.Lock()
	require.Len(t, credits, 1)
	assert.Equal(t, uint64(1), credits[0]) // only 0 credited
	mu.Unlock()

	tracker.Complete(1)
	mu.Lock()
	require.Len(t, credits, 2)
	assert.Equal(t, uint64(2), credits[1]) // 1 and 2 both now contiguous
	mu.Unlock()

	tracker.Complete(4)
	mu.Lock()
	assert.Len(t, credits, 2) // 3 still missing, no further credit
	mu.Unlock()

	tracker.Complete(3)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, credits, 3)
	assert.Equal(t, uint64(2), credits[2]) // 3 and 4 credited together
}

type echoService struct{}

func (echoService) Ready(ctx context.Context) error { return nil }

func (echoService) Call(ctx context.Context, req string) (string, error) {
	return req, nil
}

type alwaysDeliveredLogic struct{}

func (alwaysDeliveredLogic) EventStatus(resp string, err error) EventStatus {
	if err != nil {
		return StatusFailed
	}
	return StatusDelivered
}

func TestBatchSink_CreditsAckerAsCompletionsArrive(t *testing.T) {
	var credited uint64
	var mu sync.Mutex
	acker := FuncAcker(func(n uint64) {
		mu.Lock()
		defer mu.Unlock()
		credited += n
	})

	logger, _ := newTestLogger()
	bsink := NewBatchSink[string, string](echoService{}, alwaysDeliveredLogic{}, acker, logger)

	var acks []EventStatus
	var acksMu sync.Mutex
	notifier := NewBatchNotifier(func() {
		acksMu.Lock()
		acks = append(acks, StatusDelivered)
		acksMu.Unlock()
	}, func() {})

	for i := 0; i < 5; i++ {
		f := NewEventFinalizer(notifier)
		bsink.Submit(context.Background(), "req", EventFinalizers{f})
	}
	bsink.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, uint64(5), credited)

	acksMu.Lock()
	defer acksMu.Unlock()
	assert.Len(t, acks, 5)
}
