package postgres

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/commons-dev-open/reactive/internal/infra/telemetry"
)

var (
	kvMetricsOnce sync.Once
	kvOpsCounter  metric.Int64Counter
)

func recordKVOperation(operation, result string) {
	kvMetricsOnce.Do(func() {
		meter := otel.Meter("postgres.kv")
		counter, err := meter.Int64Counter("reactive_kv_operations_total",
			metric.WithDescription("Durable mirror operations by kind and result"),
			metric.WithUnit("{operation}"))
		if err == nil {
			kvOpsCounter = counter
		}
	})
	if kvOpsCounter == nil {
		return
	}
	kvOpsCounter.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("environment", telemetry.Environment()),
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
}
