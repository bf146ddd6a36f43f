package worker

import (
	"context"
	"time"

	"github.com/danielbchen/raker/internal/events"
)

// statsLoop periodically publishes aggregate run counts so dashboards can
// watch queue depth without polling the admin API. Only started when an
// events client is configured.
func (w *Worker) statsLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.publishStats(ctx)
		}
	}
}

func (w *Worker) publishStats(ctx context.Context) {
	stats, err := w.store.GetStats(ctx)
	if err != nil {
		w.logger.Error("failed to get run stats", "error", err)
		return
	}
	_ = w.events.Publish(events.SubjectStats, events.StatsEvent{
		Pending:      stats.TotalPending,
		Running:      stats.TotalRunning,
		Converged:    stats.TotalConverged,
		NonConverged: stats.TotalNonConverged,
		Failed:       stats.TotalFailed,
		AvgRuntimeMs: stats.AvgRuntimeMs,
		Timestamp:    time.Now().UTC(),
	})
}
