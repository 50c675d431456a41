package logger

import (
	"context"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

var (
	errorsTrade   int64
	errorsSync    int64
	warnsTrade    int64
	warnsSync     int64
	ordersPlaced  int64
	auditAppends  int64
	streamEvents  int64
	snapshotsDone int64
)

func recordWarn(component string) {
	if strings.Contains(component, "sync") || strings.Contains(component, "snapshot") {
		atomic.AddInt64(&warnsSync, 1)
	} else {
		atomic.AddInt64(&warnsTrade, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "sync") || strings.Contains(component, "snapshot") {
		atomic.AddInt64(&errorsSync, 1)
	} else {
		atomic.AddInt64(&errorsTrade, 1)
	}
}

// IncrementOrderPlaced records one successfully submitted order.
func IncrementOrderPlaced() {
	atomic.AddInt64(&ordersPlaced, 1)
}

// IncrementAuditAppend records one audit trail append.
func IncrementAuditAppend() {
	atomic.AddInt64(&auditAppends, 1)
}

// IncrementStreamEvent records one inbound user-data stream event.
func IncrementStreamEvent() {
	atomic.AddInt64(&streamEvents, 1)
}

// IncrementSnapshotPass records one completed background snapshot pass.
func IncrementSnapshotPass() {
	atomic.AddInt64(&snapshotsDone, 1)
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of runtime statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	fields := Fields{
		"errors_trade":    atomic.LoadInt64(&errorsTrade),
		"errors_sync":     atomic.LoadInt64(&errorsSync),
		"warns_trade":     atomic.LoadInt64(&warnsTrade),
		"warns_sync":      atomic.LoadInt64(&warnsSync),
		"orders_placed":   atomic.LoadInt64(&ordersPlaced),
		"audit_appends":   atomic.LoadInt64(&auditAppends),
		"stream_events":   atomic.LoadInt64(&streamEvents),
		"snapshot_passes": atomic.LoadInt64(&snapshotsDone),
		"goroutines":      runtime.NumGoroutine(),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	data := []cwtypes.MetricDatum{
		{MetricName: aws.String("OrdersPlaced"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["orders_placed"].(int64)))},
		{MetricName: aws.String("AuditAppends"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["audit_appends"].(int64)))},
		{MetricName: aws.String("StreamEvents"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["stream_events"].(int64)))},
		{MetricName: aws.String("SnapshotPasses"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["snapshot_passes"].(int64)))},
		{MetricName: aws.String("ErrorsTrade"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_trade"].(int64)))},
		{MetricName: aws.String("ErrorsSync"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_sync"].(int64)))},
		{MetricName: aws.String("WarnsTrade"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_trade"].(int64)))},
		{MetricName: aws.String("WarnsSync"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_sync"].(int64)))},
	}

	publishMetrics(ctx, data)
}
