package ratelimit

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"

	"github.com/thelab33/futurefunded/internal/config"
	obsmetrics "github.com/thelab33/futurefunded/internal/observability/metrics"
)

func TestIntentLimiterLocalWindow(t *testing.T) {
	ctx := context.Background()
	limiter := NewIntentLimiter(Params{Cfg: config.Config{}, Log: zap.NewNop()})

	for i := 0; i < limiter.burst; i++ {
		if !limiter.Allow(ctx, "203.0.113.7") {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if limiter.Allow(ctx, "203.0.113.7") {
		t.Fatalf("request above the burst should be denied")
	}

	// other clients have their own budget
	if !limiter.Allow(ctx, "203.0.113.8") {
		t.Fatalf("different client should be allowed")
	}
}

func TestIntentLimiterEmptyKeyAllowed(t *testing.T) {
	limiter := NewIntentLimiter(Params{Cfg: config.Config{}, Log: zap.NewNop()})
	if !limiter.Allow(context.Background(), "  ") {
		t.Fatalf("blank client key must not be throttled")
	}
}

func TestLocalWindowResets(t *testing.T) {
	w := newLocalWindow(2, 50*time.Millisecond)
	if !w.allow("k") || !w.allow("k") {
		t.Fatalf("first two should pass")
	}
	if w.allow("k") {
		t.Fatalf("third should be denied")
	}

	time.Sleep(60 * time.Millisecond)
	if !w.allow("k") {
		t.Fatalf("window should have reset")
	}
}

func TestIntentLimiterRecordsOutcomes(t *testing.T) {
	ctx := context.Background()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := obsmetrics.New(obsmetrics.Config{ServiceName: "limiter-test"}, provider)
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}

	limiter := NewIntentLimiter(Params{Cfg: config.Config{}, Log: zap.NewNop(), Metrics: m})
	for i := 0; i < limiter.burst; i++ {
		if !limiter.Allow(ctx, "198.51.100.4") {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if limiter.Allow(ctx, "198.51.100.4") {
		t.Fatalf("request above the burst should be denied")
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}

	if got := counterTotal(t, rm, "futurefunded_rate_limit_allowed_total"); got != int64(limiter.burst) {
		t.Fatalf("expected %d allowed samples, got %d", limiter.burst, got)
	}
	if got := counterTotal(t, rm, "futurefunded_rate_limit_denied_total"); got != 1 {
		t.Fatalf("expected 1 denied sample, got %d", got)
	}
}

func counterTotal(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, scope := range rm.ScopeMetrics {
		for _, item := range scope.Metrics {
			if item.Name != name {
				continue
			}
			sum, ok := item.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("unexpected data type for %s: %T", name, item.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}
