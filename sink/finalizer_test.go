package sink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventMetadata_Merge_PreservesSelfAPIKeyWhenSet(t *testing.T) {
	notifierA := NewBatchNotifier(func() {}, func() {})
	notifierB := NewBatchNotifier(func() {}, func() {})
	finalizerA := NewEventFinalizer(notifierA)
	finalizerB := NewEventFinalizer(notifierB)

	self := NewEventMetadata().WithAPIKey(NewAPIKeyHandle("self-key")).WithFinalizer(finalizerA)
	other := NewEventMetadata().WithAPIKey(NewAPIKeyHandle("other-key")).WithFinalizer(finalizerB)

	merged := self.Merge(other)

	key, ok := merged.APIKey()
	require.True(t, ok)
	assert.Equal(t, "self-key", key)
	assert.Equal(t, EventFinalizers{finalizerA, finalizerB}, merged.finalizers)
}

func TestEventMetadata_Merge_FillsAPIKeyFromOtherWhenSelfUnset(t *testing.T) {
	self := NewEventMetadata()
	other := NewEventMetadata().WithAPIKey(NewAPIKeyHandle("other-key"))

	merged := self.Merge(other)

	key, ok := merged.APIKey()
	require.True(t, ok)
	assert.Equal(t, "other-key", key)
}

func TestBatchNotifier_DeliveredCallsAck(t *testing.T) {
	var acked, redelivered int
	notifier := NewBatchNotifier(func() { acked++ }, func() { redelivered++ })
	finalizer := NewEventFinalizer(notifier)

	finalizer.UpdateStatus(StatusDelivered)

	assert.Equal(t, 1, acked)
	assert.Equal(t, 0, redelivered)
}

func TestBatchNotifier_FailedCallsRedeliver(t *testing.T) {
	var acked, redelivered int
	notifier := NewBatchNotifier(func() { acked++ }, func() { redelivered++ })
	finalizer := NewEventFinalizer(notifier)

	finalizer.UpdateStatus(StatusFailed)

	assert.Equal(t, 0, acked)
	assert.Equal(t, 1, redelivered)
}

func TestBatchNotifier_DroppedCallsNeither(t *testing.T) {
	var acked, redelivered int
	notifier := NewBatchNotifier(func() { acked++ }, func() { redelivered++ })
	finalizer := NewEventFinalizer(notifier)

	finalizer.UpdateStatus(StatusDropped)

	assert.Equal(t, 0, acked)
	assert.Equal(t, 0, redelivered)
}

func TestEventFinalizer_ZeroValueIsNoop(t *testing.T) {
	var f EventFinalizer
	assert.NotPanics(t, func() { f.UpdateStatus(StatusDelivered) })
}
