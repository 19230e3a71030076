package mirror

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce      sync.Once
	deliveredCounter metric.Int64Counter
	lostCounter      metric.Int64Counter
	fanoutHistogram  metric.Int64Histogram
)

func ensureMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("reactive/mirror")
		var err error
		deliveredCounter, err = meter.Int64Counter(
			"mirror.changes_delivered",
			metric.WithDescription("Changes delivered to hub watchers"),
			metric.WithUnit("{change}"),
		)
		if err != nil {
			deliveredCounter = nil
		}
		lostCounter, err = meter.Int64Counter(
			"mirror.changes_lost",
			metric.WithDescription("Changes dropped because a watcher buffer was full"),
			metric.WithUnit("{change}"),
		)
		if err != nil {
			lostCounter = nil
		}
		fanoutHistogram, err = meter.Int64Histogram(
			"mirror.fanout.size",
			metric.WithDescription("Watchers considered per published change"),
			metric.WithUnit("1"),
		)
		if err != nil {
			fanoutHistogram = nil
		}
	})
}

func recordHubDelivery(area string, fanout, delivered, lost int) {
	ensureMetrics()
	attrs := metric.WithAttributes(attribute.String("area", area))
	if fanoutHistogram != nil {
		fanoutHistogram.Record(context.Background(), int64(fanout), attrs)
	}
	if deliveredCounter != nil && delivered > 0 {
		deliveredCounter.Add(context.Background(), int64(delivered), attrs)
	}
	if lostCounter != nil && lost > 0 {
		lostCounter.Add(context.Background(), int64(lost), attrs)
	}
}
