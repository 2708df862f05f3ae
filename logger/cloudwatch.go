package logger

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// PutMetricData accepts at most this many datums per call.
const maxDatumsPerCall = 1000

// metricsAPI is the part of the CloudWatch client the report uses.
type metricsAPI interface {
	PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
	PutDashboard(ctx context.Context, in *cloudwatch.PutDashboardInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutDashboardOutput, error)
}

type metricsSink struct {
	mu        sync.RWMutex
	client    metricsAPI
	namespace string
}

var cw = &metricsSink{namespace: "APTE"}

// InitCloudWatch enables metric publishing for the runtime report. An empty
// region falls back to AWS_REGION; when no client can be built publishing
// stays off and a warning is logged.
func InitCloudWatch(ctx context.Context, region, namespace string) {
	log := GetLogger().WithComponent("cloudwatch")

	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		log.WithError(err).Warn("failed to load AWS configuration; CloudWatch metrics disabled")
		return
	}

	useMetricsClient(ctx, cloudwatch.NewFromConfig(awsCfg), namespace)
	log.WithFields(Fields{"region": region, "namespace": namespace}).Info("initialized CloudWatch client")
}

// useMetricsClient installs client and publishes the store dashboard.
func useMetricsClient(ctx context.Context, client metricsAPI, namespace string) {
	cw.mu.Lock()
	cw.client = client
	if namespace != "" {
		cw.namespace = namespace
	}
	cw.mu.Unlock()
	putDashboard(ctx)
}

func (s *metricsSink) get() (metricsAPI, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client, s.namespace
}

// publishMetrics sends data in batches the API accepts. It is a no-op until
// InitCloudWatch has succeeded.
func publishMetrics(ctx context.Context, data []cwtypes.MetricDatum) {
	client, namespace := cw.get()
	if client == nil || len(data) == 0 {
		return
	}
	log := GetLogger().WithComponent("cloudwatch")

	for start := 0; start < len(data); start += maxDatumsPerCall {
		end := start + maxDatumsPerCall
		if end > len(data) {
			end = len(data)
		}
		batch := data[start:end]
		if _, err := client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(namespace),
			MetricData: batch,
		}); err != nil {
			log.WithError(err).Warn("failed to publish CloudWatch metrics")
			return
		}
	}

	names := make([]string, 0, len(data))
	for _, datum := range data {
		names = append(names, aws.ToString(datum.MetricName))
	}
	log.WithField("metrics", strings.Join(names, ",")).Debug("published metrics to CloudWatch")
}

type dashboardWidget struct {
	Type       string           `json:"type"`
	Width      int              `json:"width"`
	Height     int              `json:"height"`
	Properties widgetProperties `json:"properties"`
}

type widgetProperties struct {
	Metrics [][]string `json:"metrics"`
	Period  int        `json:"period"`
	Stat    string     `json:"stat"`
	Title   string     `json:"title"`
}

func metricWidget(namespace, title, stat string, names ...string) dashboardWidget {
	metrics := make([][]string, len(names))
	for i, name := range names {
		metrics[i] = []string{namespace, name}
	}
	return dashboardWidget{
		Type:   "metric",
		Width:  12,
		Height: 6,
		Properties: widgetProperties{
			Metrics: metrics,
			Period:  60,
			Stat:    stat,
			Title:   title,
		},
	}
}

// dashboardBody lays out store traffic next to process health.
func dashboardBody(namespace string) (string, error) {
	body, err := json.Marshal(struct {
		Widgets []dashboardWidget `json:"widgets"`
	}{
		Widgets: []dashboardWidget{
			metricWidget(namespace, "State store operations", "Maximum",
				"store_writes", "store_reads", "store_queries", "store_retries", "store_failures"),
			metricWidget(namespace, "Agent process", "Average", "CPUPercent", "MemoryMB"),
		},
	})
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func putDashboard(ctx context.Context) {
	client, namespace := cw.get()
	if client == nil {
		return
	}
	log := GetLogger().WithComponent("cloudwatch")

	body, err := dashboardBody(namespace)
	if err != nil {
		log.WithError(err).Warn("failed to render CloudWatch dashboard")
		return
	}
	if _, err := client.PutDashboard(ctx, &cloudwatch.PutDashboardInput{
		DashboardName: aws.String(namespace),
		DashboardBody: aws.String(body),
	}); err != nil {
		log.WithError(err).Warn("failed to create CloudWatch dashboard")
	}
}
