package sink

import (
	"errors"

	"github.com/ResuBaka/sinkpipe/utils"
)

// ServiceLogic classifies a completed call's response/error pair into
// the EventStatus its finalizers should be updated with.
// Per-sink implementations typically inspect the downstream's own
// response shape (e.g. a partial-batch-rejection payload); composing
// with DefaultServiceLogic covers the transport-level classification.
type ServiceLogic[Resp any] interface {
	EventStatus(resp Resp, err error) EventStatus
}

// DefaultServiceLogic classifies purely from err via its
// CategorizedError kind, the fallback when a sink has no
// response-body-specific status to report.
type DefaultServiceLogic[Resp any] struct{}

// EventStatus implements ServiceLogic.
func (DefaultServiceLogic[Resp]) EventStatus(resp Resp, err error) EventStatus {
	if err == nil {
		return StatusDelivered
	}

	if errors.Is(err, utils.ErrCancelled) {
		return StatusDropped
	}
	if errors.Is(err, utils.ErrBudgetExhausted) {
		return StatusFailed
	}

	var catErr *utils.CategorizedError
	if errors.As(err, &catErr) {
		switch catErr.Kind {
		case utils.KindNonRetriable:
			return StatusErrored
		case utils.KindCircuitOpen:
			return StatusFailed
		case utils.KindCancellation:
			return StatusDropped
		}
	}
	return StatusErrored
}
