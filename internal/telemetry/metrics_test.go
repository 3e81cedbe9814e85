package telemetry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// fakeCloudWatch records PutMetricData calls and optionally fails.
type fakeCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
	putErr error
}

func (f *fakeCloudWatch) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.inputs = append(f.inputs, params)
	if f.putErr != nil {
		return nil, f.putErr
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func newTestCollector(client CloudWatchClient) *CloudWatchCollector {
	return NewCloudWatchCollector(client, "AirtimeTest", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func findDatum(t *testing.T, data []cwtypes.MetricDatum, name string) cwtypes.MetricDatum {
	t.Helper()
	for _, d := range data {
		if d.MetricName != nil && *d.MetricName == name {
			return d
		}
	}
	t.Fatalf("metric %q not found", name)
	return cwtypes.MetricDatum{}
}

func TestRecordAdmission_EmitsOutcomeDimension(t *testing.T) {
	client := &fakeCloudWatch{}
	collector := newTestCollector(client)

	collector.RecordAdmission(context.Background(), "quota_exceeded")

	if len(client.inputs) != 1 {
		t.Fatalf("expected 1 PutMetricData call, got %d", len(client.inputs))
	}

	input := client.inputs[0]
	if *input.Namespace != "AirtimeTest" {
		t.Errorf("unexpected namespace: %s", *input.Namespace)
	}

	datum := findDatum(t, input.MetricData, "SessionAdmission")
	if *datum.Value != 1 {
		t.Errorf("expected count 1, got %v", *datum.Value)
	}
	if len(datum.Dimensions) != 1 || *datum.Dimensions[0].Value != "quota_exceeded" {
		t.Errorf("expected Outcome dimension 'quota_exceeded', got %+v", datum.Dimensions)
	}
}

func TestRecordSettlement_EmitsCountAndChargedSeconds(t *testing.T) {
	client := &fakeCloudWatch{}
	collector := newTestCollector(client)

	collector.RecordSettlement(context.Background(), 480)

	if len(client.inputs) != 1 {
		t.Fatalf("expected 1 PutMetricData call, got %d", len(client.inputs))
	}

	data := client.inputs[0].MetricData
	if len(data) != 2 {
		t.Fatalf("expected 2 metric data points, got %d", len(data))
	}

	charged := findDatum(t, data, "ChargedSeconds")
	if *charged.Value != 480 {
		t.Errorf("expected charged seconds 480, got %v", *charged.Value)
	}
	if charged.Unit != cwtypes.StandardUnitSeconds {
		t.Errorf("expected unit Seconds, got %s", charged.Unit)
	}
}

func TestRecordRequest_EmitsLatencyWithEndpoint(t *testing.T) {
	client := &fakeCloudWatch{}
	collector := newTestCollector(client)

	collector.RecordRequest("POST", "/v1/sessions", "201", 250*time.Millisecond)

	if len(client.inputs) != 1 {
		t.Fatalf("expected 1 PutMetricData call, got %d", len(client.inputs))
	}

	datum := findDatum(t, client.inputs[0].MetricData, "APILatency")
	if *datum.Value != 250 {
		t.Errorf("expected 250ms, got %v", *datum.Value)
	}
	if len(datum.Dimensions) != 1 || *datum.Dimensions[0].Value != "POST /v1/sessions" {
		t.Errorf("expected Endpoint dimension 'POST /v1/sessions', got %+v", datum.Dimensions)
	}
}

func TestPut_PublishFailureSwallowed(t *testing.T) {
	client := &fakeCloudWatch{putErr: errors.New("cloudwatch: throttled")}
	collector := newTestCollector(client)

	// Must not panic or propagate; metrics never fail the caller.
	collector.RecordAdmission(context.Background(), "admitted")
	collector.RecordSettlement(context.Background(), 60)
}
