package replay

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/commons-dev-open/reactive/internal/infra/telemetry"
)

var (
	metricsOnce       sync.Once
	scenarioHistogram metric.Float64Histogram
)

func ensureMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("reactive/replay")
		var err error
		scenarioHistogram, err = meter.Float64Histogram(
			"replay.scenario.duration",
			metric.WithDescription("Replay scenario duration"),
			metric.WithUnit("ms"),
		)
		if err != nil {
			scenarioHistogram = nil
		}
	})
}

// recordScenarioDuration reports script evaluation wall time, not virtual
// elapsed time.
func recordScenarioDuration(scenario, mode string, elapsed time.Duration) {
	ensureMetrics()
	if scenarioHistogram == nil {
		return
	}
	scenarioHistogram.Record(context.Background(),
		float64(elapsed)/float64(time.Millisecond),
		metric.WithAttributes(
			telemetry.AttrEnvironment.String(telemetry.Environment()),
			telemetry.AttrScenario.String(scenario),
			attribute.String("mode", mode),
		))
}
