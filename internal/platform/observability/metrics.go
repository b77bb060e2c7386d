package observability

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const meterName = "github.com/hanko-field/checkout"

// OutcomeRecorder counts operation outcomes on an OpenTelemetry counter per operation, e.g.
// checkout.session{outcome="created"}.
type OutcomeRecorder struct {
	meter  metric.Meter
	logger *zap.Logger

	mu       sync.Mutex
	counters map[string]metric.Int64Counter
}

// NewOutcomeRecorder uses the global meter provider when meter is nil.
func NewOutcomeRecorder(meter metric.Meter, logger *zap.Logger) *OutcomeRecorder {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OutcomeRecorder{meter: meter, logger: logger, counters: make(map[string]metric.Int64Counter)}
}

func (r *OutcomeRecorder) RecordOutcome(ctx context.Context, operation, outcome string) {
	counter := r.counter(operation)
	if counter == nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (r *OutcomeRecorder) counter(operation string) metric.Int64Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if counter, ok := r.counters[operation]; ok {
		return counter
	}
	counter, err := r.meter.Int64Counter(operation, metric.WithDescription("Outcomes of "+operation))
	if err != nil {
		r.logger.Warn("metric registration failed", zap.String("metric", operation), zap.Error(err))
		return nil
	}
	r.counters[operation] = counter
	return counter
}
