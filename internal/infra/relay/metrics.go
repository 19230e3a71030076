package relay

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/commons-dev-open/reactive/internal/infra/telemetry"
)

var (
	metricsOnce        sync.Once
	broadcastHistogram metric.Float64Histogram
	framesCounter      metric.Int64Counter
	connectionsGauge   metric.Int64UpDownCounter
	transitionsCounter metric.Int64Counter
	reconnectsCounter  metric.Int64Counter
	shedCounter        metric.Int64Counter
)

func ensureMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("reactive/relay")
		var err error
		broadcastHistogram, err = meter.Float64Histogram(
			"relay.broadcast.duration",
			metric.WithDescription("Latency fanning one change out to subscribed connections"),
			metric.WithUnit("ms"),
		)
		if err != nil {
			broadcastHistogram = nil
		}
		framesCounter, err = meter.Int64Counter(
			"relay.frames",
			metric.WithDescription("Frames read from relay connections"),
			metric.WithUnit("{frame}"),
		)
		if err != nil {
			framesCounter = nil
		}
		connectionsGauge, err = meter.Int64UpDownCounter(
			"relay.connections",
			metric.WithDescription("Open relay connections"),
			metric.WithUnit("{connection}"),
		)
		if err != nil {
			connectionsGauge = nil
		}
		transitionsCounter, err = meter.Int64Counter(
			"relay.connection_transitions",
			metric.WithDescription("Client connection state transitions"),
			metric.WithUnit("{transition}"),
		)
		if err != nil {
			transitionsCounter = nil
		}
		reconnectsCounter, err = meter.Int64Counter(
			"relay.reconnects",
			metric.WithDescription("Client dial attempts by result"),
			metric.WithUnit("{attempt}"),
		)
		if err != nil {
			reconnectsCounter = nil
		}
		shedCounter, err = meter.Int64Counter(
			"relay.frames_shed",
			metric.WithDescription("Frames dropped or coalesced because a connection could not keep up"),
			metric.WithUnit("{frame}"),
		)
		if err != nil {
			shedCounter = nil
		}
	})
}

func recordBroadcast(area string, elapsed time.Duration) {
	ensureMetrics()
	if broadcastHistogram == nil {
		return
	}
	attrs := telemetry.AreaAttributes(telemetry.Environment(), area)
	broadcastHistogram.Record(context.Background(),
		float64(elapsed)/float64(time.Millisecond), metric.WithAttributes(attrs...))
}

func recordFrame(kind FrameKind) {
	ensureMetrics()
	if framesCounter == nil {
		return
	}
	attrs := telemetry.FrameAttributes(telemetry.Environment(), string(kind))
	framesCounter.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

func recordConnectionOpen(open bool) {
	ensureMetrics()
	if connectionsGauge == nil {
		return
	}
	delta := int64(1)
	if !open {
		delta = -1
	}
	connectionsGauge.Add(context.Background(), delta,
		metric.WithAttributes(telemetry.AttrEnvironment.String(telemetry.Environment())))
}

func recordTransition(state string) {
	ensureMetrics()
	if transitionsCounter == nil {
		return
	}
	attrs := telemetry.ConnectionAttributes(telemetry.Environment(), state)
	transitionsCounter.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

func recordReconnect(result string) {
	ensureMetrics()
	if reconnectsCounter == nil {
		return
	}
	attrs := telemetry.OperationResultAttributes(telemetry.Environment(), "dial", result)
	reconnectsCounter.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

func recordShed(kind FrameKind) {
	ensureMetrics()
	if shedCounter == nil {
		return
	}
	attrs := telemetry.FrameAttributes(telemetry.Environment(), string(kind))
	shedCounter.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}
