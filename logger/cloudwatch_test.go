package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type fakeMetrics struct {
	batches    [][]cwtypes.MetricDatum
	namespaces []string
	dashboards map[string]string
}

func (f *fakeMetrics) PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.batches = append(f.batches, in.MetricData)
	f.namespaces = append(f.namespaces, aws.ToString(in.Namespace))
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func (f *fakeMetrics) PutDashboard(ctx context.Context, in *cloudwatch.PutDashboardInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutDashboardOutput, error) {
	f.dashboards[aws.ToString(in.DashboardName)] = aws.ToString(in.DashboardBody)
	return &cloudwatch.PutDashboardOutput{}, nil
}

func useFakeMetrics(t *testing.T, namespace string) *fakeMetrics {
	t.Helper()
	prev := cw
	cw = &metricsSink{namespace: "APTE"}
	t.Cleanup(func() { cw = prev })

	fake := &fakeMetrics{dashboards: map[string]string{}}
	useMetricsClient(context.Background(), fake, namespace)
	return fake
}

func TestPublishDisabledWithoutClient(t *testing.T) {
	prev := cw
	cw = &metricsSink{namespace: "APTE"}
	defer func() { cw = prev }()

	publishMetrics(context.Background(), []cwtypes.MetricDatum{{MetricName: aws.String("store_writes")}})
}

func TestDashboardListsStoreMetrics(t *testing.T) {
	fake := useFakeMetrics(t, "APTE-test")

	body, ok := fake.dashboards["APTE-test"]
	if !ok {
		t.Fatalf("dashboard not created: %v", fake.dashboards)
	}
	var parsed struct {
		Widgets []dashboardWidget `json:"widgets"`
	}
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		t.Fatalf("dashboard body is not JSON: %v", err)
	}
	if len(parsed.Widgets) != 2 {
		t.Fatalf("expected 2 widgets, got %d", len(parsed.Widgets))
	}
	store := parsed.Widgets[0].Properties.Metrics
	if len(store) != 5 || store[0][0] != "APTE-test" || store[0][1] != "store_writes" {
		t.Fatalf("unexpected store widget metrics: %v", store)
	}
}

func TestPublishSplitsLargeBatches(t *testing.T) {
	fake := useFakeMetrics(t, "")

	data := make([]cwtypes.MetricDatum, maxDatumsPerCall+5)
	for i := range data {
		data[i] = cwtypes.MetricDatum{MetricName: aws.String(fmt.Sprintf("m%d", i)), Value: aws.Float64(1)}
	}
	publishMetrics(context.Background(), data)

	if len(fake.batches) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(fake.batches))
	}
	if len(fake.batches[0]) != maxDatumsPerCall || len(fake.batches[1]) != 5 {
		t.Fatalf("batch sizes %d and %d", len(fake.batches[0]), len(fake.batches[1]))
	}
	if fake.namespaces[0] != "APTE" {
		t.Fatalf("default namespace not used: %s", fake.namespaces[0])
	}
}
