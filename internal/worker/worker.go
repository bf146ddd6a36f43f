package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/danielbchen/raker/internal/config"
	"github.com/danielbchen/raker/internal/events"
	"github.com/danielbchen/raker/internal/store"
)

// Worker claims pending runs and executes them. A single process can work
// several runs at once, bounded by worker.max_concurrent_runs.
type Worker struct {
	store  store.Store
	events events.Client
	cfg    *config.Config
	logger *slog.Logger

	sem chan struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func New(s store.Store, ev events.Client, cfg *config.Config, logger *slog.Logger) *Worker {
	slots := cfg.Worker.MaxConcurrentRuns
	if slots <= 0 {
		slots = 1
	}
	return &Worker{
		store:  s,
		events: ev,
		cfg:    cfg,
		logger: logger,
		sem:    make(chan struct{}, slots),
		stopCh: make(chan struct{}),
	}
}

func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(2)
	go w.runLoop(ctx)
	go w.staleLoop(ctx)
	if w.events != nil {
		w.wg.Add(1)
		go w.statsLoop(ctx)
	}
}

// Stop waits for in-flight runs to finish before returning. Cancelling the
// context passed to Start interrupts them at the next pass boundary first.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *Worker) runLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.TickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.processPending(ctx)
		}
	}
}

func (w *Worker) processPending(ctx context.Context) {
	runs, err := w.store.GetPendingRuns(ctx, cap(w.sem))
	if err != nil {
		w.logger.Error("failed to get pending runs", "error", err)
		return
	}

	for _, run := range runs {
		select {
		case w.sem <- struct{}{}:
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}

		claimed, err := w.store.ClaimRun(ctx, run.ID, time.Now().UTC())
		if err != nil || !claimed {
			// claim races with other workers and with cancellation; both
			// are routine, only a store error is worth a log line.
			<-w.sem
			if err != nil {
				w.logger.Error("failed to claim run", "run_id", run.ID, "error", err)
			}
			continue
		}

		w.wg.Add(1)
		go func(run *store.Run) {
			defer w.wg.Done()
			defer func() { <-w.sem }()
			w.execute(ctx, run)
		}(run)
	}
}

// SetupSubscriptions registers the NATS intake: run requests published to
// survey.run.request become pending runs, picked up on the next tick. Input
// problems surface when the run executes, not here.
func (w *Worker) SetupSubscriptions() {
	if w.events == nil {
		return
	}

	_ = w.events.Subscribe(events.SubjectRunRequest, func(_ string, data []byte) {
		var req events.RunRequestEvent
		if err := json.Unmarshal(data, &req); err != nil {
			w.logger.Warn("invalid run request event", "error", err)
			return
		}
		if req.Name == "" || len(req.Respondents) == 0 {
			w.logger.Warn("run request missing name or respondents", "name", req.Name)
			return
		}

		run := &store.Run{
			Name:        req.Name,
			RequestedBy: req.RequestedBy,
			Status:      store.StatusPending,
			Targets:     req.Targets,
			Respondents: req.Respondents,
			Options: store.RunOptions{
				Tolerance:     req.Tolerance,
				MaxIterations: req.MaxIterations,
				TrimCap:       req.TrimCap,
				TrimFloor:     req.TrimFloor,
			},
		}
		if run.RequestedBy == "" {
			run.RequestedBy = "nats"
		}
		if err := w.store.CreateRun(context.Background(), run); err != nil {
			w.logger.Error("failed to create run from request event", "error", err)
			return
		}
		_ = w.store.CreateRunEvent(context.Background(), &store.RunEvent{
			RunID: run.ID,
			Event: "created",
			Actor: run.RequestedBy,
		})
		if w.events != nil {
			_ = w.events.Publish(events.SubjectRunCreated(run.ID.String()), events.RunCreatedEvent{
				RunID:       run.ID.String(),
				Name:        run.Name,
				Respondents: run.RespondentCount,
			})
		}
		w.logger.Info("run created from request event", "run_id", run.ID, "name", run.Name)
	})
}
