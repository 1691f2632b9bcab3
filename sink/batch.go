package sink

import (
	"container/heap"
	"context"
	"sync"

	"github.com/ResuBaka/sinkpipe/utils"
)

// Acker receives strict-FIFO delivery credit: Ack(n) means "the next
// n not-yet-credited events in submission order are accounted for",
// regardless of which underlying request actually finished last.
type Acker interface {
	Ack(n uint64)
}

// FuncAcker adapts a plain function into an Acker.
type FuncAcker func(n uint64)

// Ack implements Acker.
func (f FuncAcker) Ack(n uint64) { f(n) }

// seqHeap is a min-heap of pending sequence numbers.
type seqHeap []uint64

func (h seqHeap) Len() int            { return len(h) }
func (h seqHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h seqHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *seqHeap) Push(x any)         { *h = append(*h, x.(uint64)) }
func (h *seqHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// SequenceTracker advances an Acker by contiguous prefix as completions
// arrive out of order: a sequence number only credits the acker once
// every lower sequence number has also completed.
type SequenceTracker struct {
	mu      sync.Mutex
	nextAck uint64
	pending seqHeap
	acker   Acker
}

// NewSequenceTracker builds a tracker crediting acker starting at
// sequence 0.
func NewSequenceTracker(acker Acker) *SequenceTracker {
	st := &SequenceTracker{acker: acker}
	heap.Init(&st.pending)
	return st
}

// Complete marks seq as finished, advancing the acker by however much
// of the contiguous run starting at the last-acked sequence number is
// now available.
func (st *SequenceTracker) Complete(seq uint64) {
	st.mu.Lock()
	defer st.mu.Unlock()

	heap.Push(&st.pending, seq)

	var advanced uint64
	for st.pending.Len() > 0 && st.pending[0] == st.nextAck {
		heap.Pop(&st.pending)
		st.nextAck++
		advanced++
	}
	if advanced > 0 {
		st.acker.Ack(advanced)
	}
}

// BatchSink drives a single stream of submitted requests through one
// Service instance, updating each request's finalizers on completion
// and crediting a shared Acker in strict FIFO order.
type BatchSink[Req any, Resp any] struct {
	svc     Service[Req, Resp]
	logic   ServiceLogic[Resp]
	tracker *SequenceTracker
	logger  *utils.Logger

	mu      sync.Mutex
	nextSeq uint64
	wg      sync.WaitGroup
}

// NewBatchSink builds a BatchSink dispatching through svc and crediting acker.
func NewBatchSink[Req any, Resp any](svc Service[Req, Resp], logic ServiceLogic[Resp], acker Acker, logger *utils.Logger) *BatchSink[Req, Resp] {
	return &BatchSink[Req, Resp]{
		svc:     svc,
		logic:   logic,
		tracker: NewSequenceTracker(acker),
		logger:  logger,
	}
}

// Submit assigns req the next submission sequence number and
// dispatches it asynchronously, returning immediately with its
// sequence number. finalizers is updated with the resulting
// EventStatus once the call completes.
func (b *BatchSink[Req, Resp]) Submit(ctx context.Context, req Req, finalizers EventFinalizers) uint64 {
	b.mu.Lock()
	seq := b.nextSeq
	b.nextSeq++
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		resp, err := b.svc.Call(ctx, req)
		status := b.logic.EventStatus(resp, err)
		finalizers.UpdateStatus(status)
		if err != nil {
			b.logger.WithComponent("batch_sink").
				WithField("seq", seq).
				WithField("status", status.String()).
				WithError(err).
				Debug("request completed with error")
		}
		b.tracker.Complete(seq)
	}()
	return seq
}

// Wait blocks until every submitted request has completed.
func (b *BatchSink[Req, Resp]) Wait() {
	b.wg.Wait()
}

// partitionEntry holds the independent Service instance for one
// partition key (its own rate limiter, concurrency budget, and retry
// state).
type partitionEntry[Req any, Resp any] struct {
	svc Service[Req, Resp]
}

// PartitionBatchSink fans a single submission stream out across
// per-key Service instances while crediting one shared Acker in the
// stream's overall FIFO submission order: partitioning
// isolates backpressure and retry state per key without fragmenting
// the delivery-acknowledgement sequence.
type PartitionBatchSink[K comparable, Req any, Resp any] struct {
	newSvc  func() Service[Req, Resp]
	logic   ServiceLogic[Resp]
	tracker *SequenceTracker
	logger  *utils.Logger

	mu      sync.Mutex
	entries map[K]*partitionEntry[Req, Resp]
	nextSeq uint64
	wg      sync.WaitGroup
}

// NewPartitionBatchSink builds a PartitionBatchSink that lazily
// constructs a Service via newSvc for each distinct key it observes.
func NewPartitionBatchSink[K comparable, Req any, Resp any](
	newSvc func() Service[Req, Resp],
	logic ServiceLogic[Resp],
	acker Acker,
	logger *utils.Logger,
) *PartitionBatchSink[K, Req, Resp] {
	return &PartitionBatchSink[K, Req, Resp]{
		newSvc:  newSvc,
		logic:   logic,
		tracker: NewSequenceTracker(acker),
		logger:  logger,
		entries: make(map[K]*partitionEntry[Req, Resp]),
	}
}

// Submit assigns req the next global submission sequence number and
// dispatches it through key's Service instance, creating one on first
// use.
func (p *PartitionBatchSink[K, Req, Resp]) Submit(ctx context.Context, key K, req Req, finalizers EventFinalizers) uint64 {
	p.mu.Lock()
	entry, ok := p.entries[key]
	if !ok {
		entry = &partitionEntry[Req, Resp]{svc: p.newSvc()}
		p.entries[key] = entry
	}
	seq := p.nextSeq
	p.nextSeq++
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		resp, err := entry.svc.Call(ctx, req)
		status := p.logic.EventStatus(resp, err)
		finalizers.UpdateStatus(status)
		if err != nil {
			p.logger.WithComponent("partition_batch_sink").
				WithField("seq", seq).
				WithField("status", status.String()).
				WithError(err).
				Debug("request completed with error")
		}
		p.tracker.Complete(seq)
	}()
	return seq
}

// Wait blocks until every submitted request across all partitions has
// completed.
func (p *PartitionBatchSink[K, Req, Resp]) Wait() {
	p.wg.Wait()
}
