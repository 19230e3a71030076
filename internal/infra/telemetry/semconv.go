package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic convention attribute keys for reactive-specific telemetry.
// Following OpenTelemetry naming conventions: namespace.attribute_name

const (
	// AttrEnvironment specifies the deployment environment (dev/staging/prod) for every metric.
	AttrEnvironment = attribute.Key("environment")
	// AttrArea identifies the mirror area a change belongs to. Keys never
	// become labels; their cardinality is unbounded.
	AttrArea = attribute.Key("area")
	// AttrOperation differentiates specific store or server operations (read, write, remove, ...).
	AttrOperation = attribute.Key("operation")
	// AttrResult records the outcome of an operation (ok, miss, error class, etc.).
	AttrResult = attribute.Key("result")
	// AttrConnectionState labels relay connection lifecycle signals (connected, reconnecting, ...).
	AttrConnectionState = attribute.Key("connection.state")
	// AttrFrameKind differentiates relay protocol frame classes inside a single socket stream.
	AttrFrameKind = attribute.Key("frame.kind")
	// AttrScenario names the replay scenario being evaluated.
	AttrScenario = attribute.Key("scenario")
	// AttrErrorType categorizes failures by canonical error family.
	AttrErrorType = attribute.Key("error.type")
	// AttrReason provides additional free-form context for errors/rejections.
	AttrReason = attribute.Key("reason")
)

// Connection state values
const (
	ConnectionStateConnected    = "connected"
	ConnectionStateReconnecting = "reconnecting"
	ConnectionStateClosed       = "closed"
)

// Helper functions for creating common attribute sets

// OperationResultAttributes returns attributes for operation metrics with result classification.
func OperationResultAttributes(environment, operation, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrOperation.String(operation),
		AttrResult.String(result),
	}
}

// AreaAttributes returns common attributes for mirror change metrics.
func AreaAttributes(environment, area string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrArea.String(area),
	}
}

// ConnectionAttributes returns attributes for relay connection state metrics.
func ConnectionAttributes(environment, state string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrConnectionState.String(state),
	}
}

// FrameAttributes returns attributes for relay frame metrics.
func FrameAttributes(environment, kind string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrFrameKind.String(kind),
	}
}

// ErrorAttributes returns attributes for error metrics.
func ErrorAttributes(environment, errorType, reason string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrErrorType.String(errorType),
		AttrReason.String(reason),
	}
}
