package logger

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Counters accumulated since process start.
var (
	storeWrites   int64
	storeReads    int64
	storeQueries  int64
	storeRetries  int64
	storeFailures int64
	componentErrs sync.Map // map[string]*int64
	componentWarn sync.Map // map[string]*int64
)

func bump(m *sync.Map, component string) {
	v, _ := m.LoadOrStore(component, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

func recordWarn(component string) {
	bump(&componentWarn, component)
}

func recordError(component string) {
	bump(&componentErrs, component)
}

// IncrementStoreOp counts a completed store call by operation name.
func IncrementStoreOp(op string) {
	switch op {
	case "write":
		atomic.AddInt64(&storeWrites, 1)
	case "read":
		atomic.AddInt64(&storeReads, 1)
	case "query":
		atomic.AddInt64(&storeQueries, 1)
	}
}

func IncrementStoreRetry() {
	atomic.AddInt64(&storeRetries, 1)
}

func IncrementStoreFailure() {
	atomic.AddInt64(&storeFailures, 1)
}

// StoreCounters returns the current store counters keyed by name.
func StoreCounters() map[string]int64 {
	return map[string]int64{
		"store_writes":   atomic.LoadInt64(&storeWrites),
		"store_reads":    atomic.LoadInt64(&storeReads),
		"store_queries":  atomic.LoadInt64(&storeQueries),
		"store_retries":  atomic.LoadInt64(&storeRetries),
		"store_failures": atomic.LoadInt64(&storeFailures),
	}
}

func snapshotMap(m *sync.Map) map[string]int64 {
	out := map[string]int64{}
	m.Range(func(k, v any) bool {
		out[k.(string)] = atomic.LoadInt64(v.(*int64))
		return true
	})
	return out
}

// StartReport logs a runtime report every interval until ctx is cancelled.
// The agent uses its heartbeat interval here.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}
	memMB := 0.0
	if memStats, err := mem.VirtualMemory(); err == nil {
		memMB = float64(memStats.Used) / 1024 / 1024
	}

	counters := StoreCounters()
	fields := Fields{
		"goroutines":  runtime.NumGoroutine(),
		"cpu_percent": cpuPct,
		"memory_mb":   memMB,
		"errors":      snapshotMap(&componentErrs),
		"warnings":    snapshotMap(&componentWarn),
	}
	for k, v := range counters {
		fields[k] = v
	}
	log.WithComponent("heartbeat").WithFields(fields).Info("runtime report")

	data := []cwtypes.MetricDatum{
		{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(memMB)},
	}
	for name, v := range counters {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(name),
			Unit:       cwtypes.StandardUnitCount,
			Value:      aws.Float64(float64(v)),
		})
	}
	publishMetrics(ctx, data)
}
