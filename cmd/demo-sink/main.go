// Command demo-sink wires a toy downstream HTTP-shaped call through
// the full layered sink pipeline and submits a burst of synthetic
// events through a PartitionBatchSink, acknowledging them back to a
// console-logging Acker. It is a runnable illustration of composing
// sink.BuildServiceWithCircuitBreaker, not a production sink.
package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ResuBaka/sinkpipe/sink"
	"github.com/ResuBaka/sinkpipe/sinkenv"
	"github.com/ResuBaka/sinkpipe/utils"
)

// telemetryRequest is the toy outbound request shape: a batch key and
// a payload size used only to simulate variable latency.
type telemetryRequest struct {
	partitionKey string
	payloadBytes int
}

// telemetryResponse is the toy downstream acknowledgement.
type telemetryResponse struct {
	accepted int
}

// retryLogic classifies the toy downstream's errors: deadline errors
// and a synthetic "overloaded" sentinel are retriable, everything else
// is terminal.
type retryLogic struct{}

var errOverloaded = errors.New("downstream overloaded")

func (retryLogic) IsRetriableError(err error) bool {
	return errors.Is(err, errOverloaded) || errors.Is(err, context.DeadlineExceeded)
}

func (retryLogic) ShouldRetryResponse(resp telemetryResponse) sink.RetryAction {
	if resp.accepted == 0 {
		return sink.RetryAction{Kind: sink.ActionRetry, Reason: "downstream accepted 0 events"}
	}
	return sink.RetryAction{Kind: sink.ActionSuccessful}
}

// toyDownstream simulates a flaky network service: after a random
// 20-99ms delay it reports overload on about one call in twenty and
// otherwise "delivers". It returns early only when ctx ends.
func toyDownstream(ctx context.Context, req telemetryRequest) (telemetryResponse, error) {
	delay := time.Duration(20+rand.Intn(80)) * time.Millisecond
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return telemetryResponse{}, ctx.Err()
	}

	switch {
	case rand.Intn(20) == 0:
		return telemetryResponse{}, errOverloaded
	default:
		return telemetryResponse{accepted: req.payloadBytes}, nil
	}
}

func main() {
	config, err := utils.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	requestConfig, err := sinkenv.LoadRequestConfig("DEMO_SINK")
	if err != nil {
		logger.WithComponent("startup").WithError(err).Fatal("invalid request configuration")
	}
	settings, err := requestConfig.Resolve(nil, func(msg string) {
		logger.WithComponent("startup").Warn(msg)
	})
	if err != nil {
		logger.WithComponent("startup").WithError(err).Fatal("invalid request settings")
	}

	cbConfig, err := sinkenv.LoadCircuitBreakerConfig("DEMO_SINK")
	if err != nil {
		logger.WithComponent("startup").WithError(err).Fatal("invalid circuit breaker configuration")
	}

	logic := retryLogic{}
	newService := func() sink.Service[telemetryRequest, telemetryResponse] {
		return sink.BuildServiceWithCircuitBreaker[telemetryRequest, telemetryResponse](
			settings,
			logic,
			sink.ServiceFunc[telemetryRequest, telemetryResponse](toyDownstream),
			cbConfig,
			logger,
			"demo-sink",
		)
	}

	var credited uint64
	acker := sink.FuncAcker(func(n uint64) {
		total := atomic.AddUint64(&credited, n)
		logger.WithComponent("acker").WithField("credited_total", total).Debug("acked events")
	})

	partitioned := sink.NewPartitionBatchSink[string, telemetryRequest, telemetryResponse](
		newService,
		sink.DefaultServiceLogic[telemetryResponse]{},
		acker,
		logger,
	)

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.WithComponent("startup").WithField("signal", sig.String()).Info("shutting down")
		cancel()
	}()

	notifier := sink.NewBatchNotifier(
		func() {},
		func() { logger.WithComponent("demo").Warn("event requires redelivery") },
	)

	const eventCount = 50
	for i := 0; i < eventCount && ctx.Err() == nil; i++ {
		finalizer := sink.NewEventFinalizer(notifier)
		partitionKey := fmt.Sprintf("partition-%d", i%4)
		req := telemetryRequest{partitionKey: partitionKey, payloadBytes: 1 + rand.Intn(100)}
		partitioned.Submit(ctx, partitionKey, req, sink.EventFinalizers{finalizer})
	}

	partitioned.Wait()
	cancel()
	logger.WithComponent("startup").WithField("credited_total", credited).Info("demo run complete")
}
