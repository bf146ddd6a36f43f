package worker

import (
	"context"
	"time"

	"github.com/danielbchen/raker/internal/events"
	"github.com/danielbchen/raker/internal/store"
)

func (w *Worker) staleLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweepStale(ctx)
		}
	}
}

// sweepStale fails runs stuck in running long past the run timeout, which
// happens when a worker process dies mid-run. The in-process timeout covers
// normal overruns; this covers orphans.
func (w *Worker) sweepStale(ctx context.Context) {
	cutoff := time.Now().Add(-w.cfg.StaleAfter())
	runs, err := w.store.GetStaleRuns(ctx, cutoff)
	if err != nil {
		w.logger.Error("failed to get stale runs", "error", err)
		return
	}

	for _, run := range runs {
		w.logger.Warn("failing stale run", "run_id", run.ID, "started_at", run.StartedAt)
		now := time.Now().UTC()
		run.Status = store.StatusFailed
		run.Error = "run abandoned: worker did not finish within the stale window"
		run.CompletedAt = &now
		if err := w.store.UpdateRun(ctx, run); err != nil {
			w.logger.Error("failed to mark stale run", "run_id", run.ID, "error", err)
			continue
		}
		_ = w.store.CreateRunEvent(ctx, &store.RunEvent{RunID: run.ID, Event: "stale", Actor: "worker"})
		if w.events != nil {
			_ = w.events.Publish(events.SubjectRunStale(run.ID.String()), events.RunFailedEvent{
				RunID: run.ID.String(),
				Error: run.Error,
			})
		}
	}
}
