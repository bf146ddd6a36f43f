package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/danielbchen/raker/internal/events"
	"github.com/danielbchen/raker/internal/metrics"
	"github.com/danielbchen/raker/internal/rake"
	"github.com/danielbchen/raker/internal/store"
)

// execute runs one claimed run to a terminal status. Raking is bounded by
// the run timeout and by ctx, the worker lifecycle: a shutdown interrupts
// the engine at the next pass boundary and the partial state is persisted
// as non_converged. Persistence itself uses a background context so the
// outcome of work already done is never lost.
func (w *Worker) execute(ctx context.Context, run *store.Run) {
	persist := context.Background()
	started := time.Now().UTC()
	run.StartedAt = &started

	w.logger.Info("run started", "run_id", run.ID, "name", run.Name, "respondents", run.RespondentCount)
	_ = w.store.CreateRunEvent(persist, &store.RunEvent{RunID: run.ID, Event: "started", Actor: "worker"})
	if w.events != nil {
		_ = w.events.Publish(events.SubjectRunStarted(run.ID.String()), events.RunStartedEvent{RunID: run.ID.String()})
	}

	targets, err := rake.NewTargets(run.Targets)
	if err != nil {
		w.markFailed(persist, run, started, err)
		return
	}
	ds, err := rake.NewDataset(targets, run.Respondents)
	if err != nil {
		w.markFailed(persist, run, started, err)
		return
	}

	engine, err := rake.NewEngine(w.rakeOptions(run.Options), w.logger)
	if err != nil {
		w.markFailed(persist, run, started, err)
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, w.cfg.RunTimeout())
	defer cancel()
	res, err := engine.Rake(runCtx, ds)
	if err != nil {
		w.markFailed(persist, run, started, err)
		return
	}
	if res.Cancelled {
		if runCtx.Err() == context.DeadlineExceeded {
			w.markFailed(persist, run, started,
				fmt.Errorf("run exceeded timeout %s after %d iterations", w.cfg.RunTimeout(), res.Iterations))
			return
		}
		w.logger.Info("run interrupted by shutdown", "run_id", run.ID, "iterations", res.Iterations)
	}

	decimals := run.Options.MatchDecimals
	if decimals <= 0 {
		decimals = w.cfg.Raking.MatchDecimals
	}
	report, err := rake.BuildReport(ds, res, decimals)
	if err != nil {
		w.markFailed(persist, run, started, err)
		return
	}

	respondents := ds.Respondents()
	weights := make([]store.WeightRecord, len(res.Weights))
	for i, wt := range res.Weights {
		weights[i] = store.WeightRecord{ID: respondents[i].ID, Weight: wt}
	}

	completed := time.Now().UTC()
	status := store.StatusConverged
	if !res.Converged {
		status = store.StatusNonConverged
	}

	run.Status = status
	run.Converged = res.Converged
	run.Iterations = res.Iterations
	run.MaxDeviation = res.MaxDeviation
	run.DesignEffect = report.DesignEffect
	run.Weights = weights
	run.Report = report
	run.CompletedAt = &completed

	if err := w.store.UpdateRun(persist, run); err != nil {
		w.logger.Error("failed to persist run result", "run_id", run.ID, "error", err)
		return
	}

	_ = w.store.CreateRunEvent(persist, &store.RunEvent{
		RunID: run.ID,
		Event: string(status),
		Actor: "worker",
		Payload: map[string]interface{}{
			"iterations":    res.Iterations,
			"max_deviation": res.MaxDeviation,
			"design_effect": report.DesignEffect,
		},
	})
	if w.events != nil {
		_ = w.events.Publish(events.SubjectRunCompleted(run.ID.String()), events.RunCompletedEvent{
			RunID:        run.ID.String(),
			Status:       string(status),
			Converged:    res.Converged,
			Iterations:   res.Iterations,
			MaxDeviation: res.MaxDeviation,
			DesignEffect: report.DesignEffect,
		})
	}
	metrics.RecordRun(string(status), completed.Sub(started), res.Iterations, report.DesignEffect)

	w.logger.Info("run finished",
		"run_id", run.ID,
		"status", status,
		"iterations", res.Iterations,
		"max_deviation", res.MaxDeviation,
		"design_effect", report.DesignEffect,
		"duration_ms", completed.Sub(started).Milliseconds(),
	)
}

func (w *Worker) markFailed(ctx context.Context, run *store.Run, started time.Time, cause error) {
	completed := time.Now().UTC()
	run.Status = store.StatusFailed
	run.Error = cause.Error()
	run.CompletedAt = &completed

	if err := w.store.UpdateRun(ctx, run); err != nil {
		w.logger.Error("failed to persist failed run", "run_id", run.ID, "error", err)
	}
	_ = w.store.CreateRunEvent(ctx, &store.RunEvent{
		RunID:   run.ID,
		Event:   "failed",
		Actor:   "worker",
		Payload: map[string]interface{}{"error": cause.Error()},
	})
	if w.events != nil {
		_ = w.events.Publish(events.SubjectRunFailed(run.ID.String()), events.RunFailedEvent{
			RunID: run.ID.String(),
			Error: cause.Error(),
		})
	}
	metrics.RecordRun(string(store.StatusFailed), completed.Sub(started), 0, 0)
	w.logger.Warn("run failed", "run_id", run.ID, "error", cause)
}

// rakeOptions merges per-run overrides onto the service defaults. A nil
// pointer field means "use the default"; an explicit zero is honored, so a
// run can disable trimming even when the service default trims.
func (w *Worker) rakeOptions(o store.RunOptions) rake.Options {
	opts := rake.DefaultOptions()
	if w.cfg.Raking.Tolerance > 0 {
		opts.Tolerance = w.cfg.Raking.Tolerance
	}
	if w.cfg.Raking.MaxIterations > 0 {
		opts.MaxIterations = w.cfg.Raking.MaxIterations
	}
	opts.Trim = rake.TrimPolicy{Cap: w.cfg.Raking.TrimCap, Floor: w.cfg.Raking.TrimFloor}
	if w.cfg.Raking.Workers > 0 {
		opts.Workers = w.cfg.Raking.Workers
	}

	if o.Tolerance > 0 {
		opts.Tolerance = o.Tolerance
	}
	if o.MaxIterations != nil {
		opts.MaxIterations = *o.MaxIterations
	}
	if o.TrimCap != nil {
		opts.Trim.Cap = *o.TrimCap
	}
	if o.TrimFloor != nil {
		opts.Trim.Floor = *o.TrimFloor
	}
	return opts
}
