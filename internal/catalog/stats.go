package catalog

import (
	"context"
	"math"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce     sync.Once
	requestsCounter metric.Int64Counter
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("github.com/soundline/catalog-bridge/internal/catalog")

		var err error
		requestsCounter, err = meter.Int64Counter(
			"catalog.requests",
			metric.WithDescription("Catalog API request attempts"),
		)
		if err != nil {
			otel.Handle(err)
		}
	})
}

// Stats accumulates call counts for the lifetime of the process. Total and
// outcome are updated together so that Successful + Failed == Total holds for
// every snapshot.
type Stats struct {
	mu         sync.Mutex
	total      int64
	successful int64
	failed     int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	TotalCalls      int64 `json:"totalCalls"`
	SuccessfulCalls int64 `json:"successfulCalls"`
	FailedCalls     int64 `json:"failedCalls"`
}

// SuccessRate is the percentage of successful calls, rounded to two decimal
// places. Zero when no calls have been made.
func (s StatsSnapshot) SuccessRate() float64 {
	if s.TotalCalls == 0 {
		return 0
	}
	rate := float64(s.SuccessfulCalls) / float64(s.TotalCalls) * 100
	return math.Round(rate*100) / 100
}

func (s *Stats) record(ctx context.Context, endpoint string, success bool) {
	s.mu.Lock()
	s.total++
	if success {
		s.successful++
	} else {
		s.failed++
	}
	s.mu.Unlock()

	if requestsCounter != nil {
		status := "failure"
		if success {
			status = "success"
		}
		requestsCounter.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("catalog.endpoint", endpointLabel(endpoint)),
				attribute.String("catalog.status", status),
			),
		)
	}
}

func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return StatsSnapshot{
		TotalCalls:      s.total,
		SuccessfulCalls: s.successful,
		FailedCalls:     s.failed,
	}
}
