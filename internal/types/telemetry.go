package types

// Telemetry metric names.
// All components MUST use these constants.
const (
	// Metric Names
	MetricDeliveryAttempt = "DeliveryAttempt"
	MetricDecodeFailure   = "DecodeFailure"
	MetricBrokerReconnect = "BrokerReconnect"
	MetricAlertStored     = "AlertStored"
	MetricNotificationLag = "NotificationQueueLag"
	MetricDeliveryLatency = "DeliveryAttemptLatency"

	// Dimension Keys
	DimSink   = "Sink"
	DimResult = "Result"
	DimQueue  = "Queue"

	// Metric Namespace
	MetricNamespace = "NotifyRelay"
)

// SinkName identifies a downstream delivery channel in logs and metrics.
type SinkName string

const (
	SinkRealtime SinkName = "realtime"
	SinkChat     SinkName = "chat"
)

// RealtimeEventName is the event name under which notifications are pushed to
// browser sessions.
const RealtimeEventName = "notification"
