package pace

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce     sync.Once
	firingCounter   metric.Int64Counter
	absorbedCounter metric.Int64Counter
)

func ensureMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("reactive/pace")
		var err error
		firingCounter, err = meter.Int64Counter(
			"pace.firings",
			metric.WithDescription("Payload deliveries released by a rate-control policy"),
			metric.WithUnit("{firing}"),
		)
		if err != nil {
			firingCounter = nil
		}
		absorbedCounter, err = meter.Int64Counter(
			"pace.absorbed",
			metric.WithDescription("Inputs coalesced into a pending or future firing"),
			metric.WithUnit("{input}"),
		)
		if err != nil {
			absorbedCounter = nil
		}
	})
}

func recordFiring(policy, edge string) {
	ensureMetrics()
	if firingCounter == nil {
		return
	}
	firingCounter.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("policy", policy),
		attribute.String("edge", edge),
	))
}

func recordAbsorbed(policy string) {
	ensureMetrics()
	if absorbedCounter == nil {
		return
	}
	absorbedCounter.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("policy", policy),
	))
}
