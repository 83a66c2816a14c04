package core

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"notifyrelay/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchNotificationMetrics implements NotificationMetrics by emitting
// metrics to AWS CloudWatch.
//
// Metrics emitted:
//   - DeliveryAttempt: Dims {Sink, Result}
//   - DeliveryAttemptLatency: Dims {Sink}
//   - NotificationQueueLag: Dims {Queue}
//   - DecodeFailure: Dims {Queue}
//   - AlertStored: Dims {Result}
//   - BrokerReconnect: no dims
type CloudWatchNotificationMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

var _ NotificationMetrics = (*CloudWatchNotificationMetrics)(nil)

// NewCloudWatchNotificationMetrics creates metrics that publish to namespace.
// An empty namespace uses types.MetricNamespace.
func NewCloudWatchNotificationMetrics(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchNotificationMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &CloudWatchNotificationMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

func (m *CloudWatchNotificationMetrics) RecordDelivery(ctx context.Context, sink types.SinkName, result MetricResult) {
	m.put(ctx, types.MetricDeliveryAttempt, 1, cwtypes.StandardUnitCount,
		dim(types.DimSink, string(sink)),
		dim(types.DimResult, string(result)),
	)
}

// RecordLatency records milliseconds for CloudWatch precision.
func (m *CloudWatchNotificationMetrics) RecordLatency(ctx context.Context, sink types.SinkName, duration time.Duration) {
	m.put(ctx, types.MetricDeliveryLatency, float64(duration.Milliseconds()), cwtypes.StandardUnitMilliseconds,
		dim(types.DimSink, string(sink)),
	)
}

// RecordQueueLag tracks the time between enqueue and handling, including any
// backlog built up while the relay was disconnected.
func (m *CloudWatchNotificationMetrics) RecordQueueLag(ctx context.Context, queue string, lag time.Duration) {
	m.put(ctx, types.MetricNotificationLag, float64(lag.Milliseconds()), cwtypes.StandardUnitMilliseconds,
		dim(types.DimQueue, queue),
	)
}

func (m *CloudWatchNotificationMetrics) RecordDecodeFailure(ctx context.Context, queue string) {
	m.put(ctx, types.MetricDecodeFailure, 1, cwtypes.StandardUnitCount, dim(types.DimQueue, queue))
}

func (m *CloudWatchNotificationMetrics) RecordAlertStored(ctx context.Context, result MetricResult) {
	m.put(ctx, types.MetricAlertStored, 1, cwtypes.StandardUnitCount, dim(types.DimResult, string(result)))
}

func (m *CloudWatchNotificationMetrics) RecordReconnect(ctx context.Context) {
	m.put(ctx, types.MetricBrokerReconnect, 1, cwtypes.StandardUnitCount)
}

func (m *CloudWatchNotificationMetrics) put(ctx context.Context, name string, value float64, unit cwtypes.StandardUnit, dims ...cwtypes.Dimension) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(name),
				Value:      aws.Float64(value),
				Unit:       unit,
				Dimensions: dims,
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record metric",
			"error", err.Error(),
			"metric", name,
		)
	}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}
