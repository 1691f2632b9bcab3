package sink

import (
	"sync"

	"github.com/google/uuid"
)

// EventStatus is the delivery outcome an EventFinalizer reports back
// upstream.
type EventStatus int

const (
	// StatusDelivered means the event was accepted downstream.
	StatusDelivered EventStatus = iota
	// StatusErrored means a non-retriable failure; the upstream
	// source may redeliver or dead-letter the event.
	StatusErrored
	// StatusFailed means the retry/resilience budget was exhausted;
	// the upstream source may redeliver.
	StatusFailed
	// StatusDropped means the event was intentionally discarded
	// (e.g. the request was cancelled) and should not be redelivered.
	StatusDropped
	// StatusRecorded means the event was durably recorded without a
	// delivery attempt (e.g. deduplicated or merged into a batch that
	// already succeeded).
	StatusRecorded
)

func (s EventStatus) String() string {
	switch s {
	case StatusDelivered:
		return "delivered"
	case StatusErrored:
		return "errored"
	case StatusFailed:
		return "failed"
	case StatusDropped:
		return "dropped"
	case StatusRecorded:
		return "recorded"
	default:
		return "unknown"
	}
}

// BatchNotifier is the shared sink for one or more EventFinalizers'
// status updates: Delivered/Recorded credit the upstream buffer,
// Errored/Failed request redelivery, Dropped does neither.
type BatchNotifier struct {
	mu          sync.Mutex
	onAck       func()
	onRedeliver func()
}

// NewBatchNotifier builds a notifier invoking onAck for a terminal
// success and onRedeliver for a terminal failure that should be
// retried upstream.
func NewBatchNotifier(onAck, onRedeliver func()) *BatchNotifier {
	return &BatchNotifier{onAck: onAck, onRedeliver: onRedeliver}
}

func (n *BatchNotifier) updateStatus(status EventStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch status {
	case StatusDelivered, StatusRecorded:
		if n.onAck != nil {
			n.onAck()
		}
	case StatusErrored, StatusFailed:
		if n.onRedeliver != nil {
			n.onRedeliver()
		}
	case StatusDropped:
		// Intentionally discarded: neither acked nor redelivered.
	}
}

// EventFinalizer is a single event's handle back to its BatchNotifier,
// identified by a UUID in its ID field.
type EventFinalizer struct {
	ID       string
	notifier *BatchNotifier
}

// NewEventFinalizer creates a finalizer reporting into notifier.
func NewEventFinalizer(notifier *BatchNotifier) EventFinalizer {
	return EventFinalizer{ID: uuid.NewString(), notifier: notifier}
}

// UpdateStatus reports status to the owning notifier, a no-op for a
// zero-value finalizer (no notifier attached).
func (f EventFinalizer) UpdateStatus(status EventStatus) {
	if f.notifier == nil {
		return
	}
	f.notifier.updateStatus(status)
}

// EventFinalizers is an ordered set of finalizers attached to a single
// event or merged across events.
type EventFinalizers []EventFinalizer

// UpdateStatus reports status to every finalizer in the set.
func (fs EventFinalizers) UpdateStatus(status EventStatus) {
	for _, f := range fs {
		f.UpdateStatus(status)
	}
}

// MergeFinalizers concatenates two finalizer sets in order.
func MergeFinalizers(a, b EventFinalizers) EventFinalizers {
	merged := make(EventFinalizers, 0, len(a)+len(b))
	merged = append(merged, a...)
	merged = append(merged, b...)
	return merged
}

// APIKeyHandle is a cheap-to-clone shared handle to an optional API
// key: copying the handle copies a pointer, not the string's backing
// bytes, and the key is immutable once set.
type APIKeyHandle struct {
	value *string
}

// NewAPIKeyHandle wraps key in a shareable handle.
func NewAPIKeyHandle(key string) APIKeyHandle {
	v := key
	return APIKeyHandle{value: &v}
}

// Get returns the wrapped key and whether one is set.
func (h APIKeyHandle) Get() (string, bool) {
	if h.value == nil {
		return "", false
	}
	return *h.value, true
}

// EventMetadata travels alongside an event through the pipeline,
// carrying its finalizers and an optional shared API key.
// It is deliberately excluded from any event equality comparison the
// caller might define: metadata never participates in "are these the
// same event" decisions.
type EventMetadata struct {
	apiKey     APIKeyHandle
	finalizers EventFinalizers
}

// NewEventMetadata builds empty metadata.
func NewEventMetadata() EventMetadata {
	return EventMetadata{}
}

// WithFinalizer returns a copy of m carrying f as its sole finalizer.
func (m EventMetadata) WithFinalizer(f EventFinalizer) EventMetadata {
	m.finalizers = EventFinalizers{f}
	return m
}

// WithAPIKey returns a copy of m carrying key.
func (m EventMetadata) WithAPIKey(key APIKeyHandle) EventMetadata {
	m.apiKey = key
	return m
}

// APIKey returns m's API key handle and whether one is set.
func (m EventMetadata) APIKey() (string, bool) {
	return m.apiKey.Get()
}

// Merge combines m with other: finalizers concatenate in order
// (m's first), and the API key is m's own if set, otherwise other's.
func (m EventMetadata) Merge(other EventMetadata) EventMetadata {
	merged := EventMetadata{
		apiKey:     m.apiKey,
		finalizers: MergeFinalizers(m.finalizers, other.finalizers),
	}
	if _, ok := merged.apiKey.Get(); !ok {
		merged.apiKey = other.apiKey
	}
	return merged
}

// UpdateStatus reports status to every finalizer m carries.
func (m EventMetadata) UpdateStatus(status EventStatus) {
	m.finalizers.UpdateStatus(status)
}
