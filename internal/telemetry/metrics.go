// Package telemetry records engine metrics. The production implementation
// publishes to CloudWatch; a no-op implementation serves tests and local mode.
// All call sites tolerate a nil collector.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Metric and dimension names.
const (
	metricAdmission      = "SessionAdmission"
	metricSettlement     = "SessionSettlement"
	metricChargedSeconds = "ChargedSeconds"
	metricAPILatency     = "APILatency"

	dimOutcome  = "Outcome"
	dimEndpoint = "Endpoint"
)

// MetricsCollector records engine telemetry. Implementations must be safe for
// concurrent use and must never fail the calling operation.
type MetricsCollector interface {
	// RecordAdmission counts an admission attempt by outcome
	// (admitted, rate_limited, concurrency_limited, payment_required,
	// quota_exceeded, upstream_error, forbidden).
	RecordAdmission(ctx context.Context, outcome string)

	// RecordSettlement counts a settlement and its charged seconds.
	RecordSettlement(ctx context.Context, chargedSeconds int64)

	// RecordRequest records API request latency for an endpoint/status pair.
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchCollector implements MetricsCollector by emitting metrics to AWS
// CloudWatch. Publish failures are logged and swallowed; metrics are never
// allowed to fail a request.
type CloudWatchCollector struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchCollector creates a collector publishing to the given namespace.
func NewCloudWatchCollector(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchCollector{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordAdmission emits a SessionAdmission count with the Outcome dimension.
func (m *CloudWatchCollector) RecordAdmission(ctx context.Context, outcome string) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(metricAdmission),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(dimOutcome), Value: aws.String(outcome)},
		},
	})
}

// RecordSettlement emits a SessionSettlement count and the charged seconds.
func (m *CloudWatchCollector) RecordSettlement(ctx context.Context, chargedSeconds int64) {
	m.put(ctx,
		cwtypes.MetricDatum{
			MetricName: aws.String(metricSettlement),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
		},
		cwtypes.MetricDatum{
			MetricName: aws.String(metricChargedSeconds),
			Value:      aws.Float64(float64(chargedSeconds)),
			Unit:       cwtypes.StandardUnitSeconds,
		},
	)
}

// RecordRequest emits API latency with an Endpoint dimension. The request
// context is not available here (the middleware outlives it), so a background
// context is used.
func (m *CloudWatchCollector) RecordRequest(method, endpoint, status string, duration time.Duration) {
	m.put(context.Background(), cwtypes.MetricDatum{
		MetricName: aws.String(metricAPILatency),
		Value:      aws.Float64(float64(duration.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(dimEndpoint), Value: aws.String(method + " " + endpoint)},
		},
	})
}

func (m *CloudWatchCollector) put(ctx context.Context, data ...cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to publish metrics", "error", err.Error())
	}
}

// Noop is a MetricsCollector that discards everything.
type Noop struct{}

func (Noop) RecordAdmission(ctx context.Context, outcome string)                   {}
func (Noop) RecordSettlement(ctx context.Context, chargedSeconds int64)            {}
func (Noop) RecordRequest(method, endpoint, status string, duration time.Duration) {}

// Compile-time interface compliance checks.
var (
	_ MetricsCollector = (*CloudWatchCollector)(nil)
	_ MetricsCollector = Noop{}
)
