package supervisor

import (
	"context"
	"log"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/mijahauan/signal-recorder-sub002/internal/metrics"
)

// ResourceReporter periodically samples host-wide CPU load and
// exposes it as a Prometheus gauge, grounded on the teacher's
// LoadHistoryTracker (load_history.go), which polls gopsutil's
// cpu.Info()/cpu.Percent() on a timer rather than per-request.
type ResourceReporter struct {
	Metrics  *metrics.Metrics
	Interval time.Duration
	Logger   *log.Logger
}

// NewResourceReporter returns a reporter sampling every 30s, matching
// the teacher's load-history cadence.
func NewResourceReporter(m *metrics.Metrics, logger *log.Logger) *ResourceReporter {
	return &ResourceReporter{Metrics: m, Interval: 30 * time.Second, Logger: logger}
}

// Run samples CPU utilisation until ctx is cancelled.
func (rr *ResourceReporter) Run(ctx context.Context) {
	ticker := time.NewTicker(rr.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			percents, err := cpu.PercentWithContext(ctx, 0, false)
			if err != nil {
				if rr.Logger != nil {
					rr.Logger.Printf("resource reporter: cpu.Percent failed: %v", err)
				}
				continue
			}
			if len(percents) > 0 && rr.Metrics != nil {
				rr.Metrics.ProcessCPUPercent.Set(percents[0])
			}
		}
	}
}
