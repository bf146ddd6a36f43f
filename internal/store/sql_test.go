package store

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/danielbchen/raker/internal/rake"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "raker_test.db")
	s, err := Open(context.Background(), DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRun(name string) *Run {
	maxIter := 25
	return &Run{
		Name:        name,
		RequestedBy: "panel-team",
		Targets: map[string]map[string]float64{
			"gender": {"male": 0.49, "female": 0.51},
		},
		Respondents: []rake.Respondent{
			{ID: "r1", Categories: map[string]string{"gender": "male"}},
			{ID: "r2", Categories: map[string]string{"gender": "female"}},
		},
		Options: RunOptions{
			Tolerance:     0.001,
			MaxIterations: &maxIter,
		},
	}
}

func TestCreateAndGetRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := sampleRun("wave 12")
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if run.ID == uuid.Nil {
		t.Fatal("CreateRun did not assign an id")
	}
	if run.Status != StatusPending {
		t.Errorf("status = %s, want pending", run.Status)
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got == nil {
		t.Fatal("GetRun returned nil for an existing run")
	}
	if got.Name != "wave 12" || got.RequestedBy != "panel-team" {
		t.Errorf("roundtrip lost fields: %+v", got)
	}
	if got.RespondentCount != 2 {
		t.Errorf("RespondentCount = %d, want 2", got.RespondentCount)
	}
	if !reflect.DeepEqual(got.Targets, run.Targets) {
		t.Errorf("targets roundtrip: %v", got.Targets)
	}
	if !reflect.DeepEqual(got.Respondents, run.Respondents) {
		t.Errorf("respondents roundtrip: %v", got.Respondents)
	}
	if got.Options.MaxIterations == nil || *got.Options.MaxIterations != 25 {
		t.Errorf("options roundtrip: %+v", got.Options)
	}
	if got.Options.Tolerance != 0.001 {
		t.Errorf("tolerance = %f, want 0.001", got.Options.Tolerance)
	}
	if got.StartedAt != nil || got.CompletedAt != nil {
		t.Error("fresh run has started/completed timestamps")
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("created/updated timestamps missing")
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetRun(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got != nil {
		t.Fatalf("GetRun = %+v, want nil", got)
	}
}

func TestUpdateRunOutcome(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := sampleRun("wave 13")
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	started := time.Now().UTC().Add(-2 * time.Second)
	completed := time.Now().UTC()
	run.Status = StatusConverged
	run.Converged = true
	run.Iterations = 7
	run.MaxDeviation = 0.0003
	run.DesignEffect = 1.08
	run.Weights = []WeightRecord{{ID: "r1", Weight: 1.2}, {ID: "r2", Weight: 0.8}}
	run.Report = &rake.Report{N: 2, Converged: true, Iterations: 7}
	run.StartedAt = &started
	run.CompletedAt = &completed
	if err := s.UpdateRun(ctx, run); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != StatusConverged || !got.Converged {
		t.Errorf("status/converged = %s/%v", got.Status, got.Converged)
	}
	if got.Iterations != 7 {
		t.Errorf("iterations = %d, want 7", got.Iterations)
	}
	if got.MaxDeviation != 0.0003 || got.DesignEffect != 1.08 {
		t.Errorf("deviation/deff = %f/%f", got.MaxDeviation, got.DesignEffect)
	}
	if len(got.Weights) != 2 || got.Weights[0].ID != "r1" || got.Weights[0].Weight != 1.2 {
		t.Errorf("weights roundtrip: %+v", got.Weights)
	}
	if got.Report == nil || got.Report.N != 2 || !got.Report.Converged {
		t.Errorf("report roundtrip: %+v", got.Report)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Fatal("timestamps lost on update")
	}
	if !got.StartedAt.Equal(started.Truncate(time.Millisecond)) {
		t.Errorf("started_at = %v, want %v", got.StartedAt, started)
	}
}

func TestUpdateRunNotFound(t *testing.T) {
	s := newTestStore(t)

	run := sampleRun("ghost")
	run.ID = uuid.New()
	if err := s.UpdateRun(context.Background(), run); err == nil {
		t.Fatal("expected error updating a missing run")
	}
}

func TestListRunsFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := sampleRun("wave 1")
	if err := s.CreateRun(ctx, first); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	second := sampleRun("wave 2")
	second.RequestedBy = "methods-team"
	if err := s.CreateRun(ctx, second); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	third := sampleRun("wave 3")
	if err := s.CreateRun(ctx, third); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if ok, err := s.ClaimRun(ctx, third.ID, time.Now()); err != nil || !ok {
		t.Fatalf("ClaimRun: %v/%v", ok, err)
	}

	all, err := s.ListRuns(ctx, RunFilter{})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("ListRuns returned %d runs, want 3", len(all))
	}
	// Summaries leave the respondent and weight blobs behind.
	if all[0].Respondents != nil || all[0].Weights != nil {
		t.Error("list entries should not carry respondents or weights")
	}
	if all[0].Targets == nil {
		t.Error("list entries should keep targets")
	}

	pending := StatusPending
	filtered, err := s.ListRuns(ctx, RunFilter{Status: &pending})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(filtered) != 2 {
		t.Errorf("pending filter returned %d runs, want 2", len(filtered))
	}

	byTeam, err := s.ListRuns(ctx, RunFilter{RequestedBy: "methods-team"})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(byTeam) != 1 || byTeam[0].Name != "wave 2" {
		t.Errorf("requested_by filter returned %+v", byTeam)
	}

	limited, err := s.ListRuns(ctx, RunFilter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limit/offset returned %d runs, want 1", len(limited))
	}

	offsetOnly, err := s.ListRuns(ctx, RunFilter{Offset: 1})
	if err != nil {
		t.Fatalf("ListRuns with offset only: %v", err)
	}
	if len(offsetOnly) != 2 {
		t.Errorf("offset-only returned %d runs, want 2", len(offsetOnly))
	}
}

func TestClaimRunTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := sampleRun("wave 14")
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	ok, err := s.ClaimRun(ctx, run.ID, time.Now())
	if err != nil {
		t.Fatalf("ClaimRun: %v", err)
	}
	if !ok {
		t.Fatal("first claim failed")
	}

	again, err := s.ClaimRun(ctx, run.ID, time.Now())
	if err != nil {
		t.Fatalf("ClaimRun: %v", err)
	}
	if again {
		t.Fatal("second claim succeeded, want refusal")
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != StatusRunning {
		t.Errorf("status = %s, want running", got.Status)
	}
	if got.StartedAt == nil {
		t.Error("claim did not record started_at")
	}
}

func TestCancelRunOnlyWhilePending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := sampleRun("wave 15")
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	ok, err := s.CancelRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("CancelRun: %v", err)
	}
	if !ok {
		t.Fatal("cancel of a pending run failed")
	}

	again, _ := s.CancelRun(ctx, run.ID)
	if again {
		t.Error("second cancel succeeded")
	}
	claimed, _ := s.ClaimRun(ctx, run.ID, time.Now())
	if claimed {
		t.Error("claimed a cancelled run")
	}

	got, _ := s.GetRun(ctx, run.ID)
	if got.Status != StatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("cancel did not record completed_at")
	}

	running := sampleRun("wave 16")
	if err := s.CreateRun(ctx, running); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if ok, _ := s.ClaimRun(ctx, running.ID, time.Now()); !ok {
		t.Fatal("claim failed")
	}
	if ok, _ := s.CancelRun(ctx, running.ID); ok {
		t.Error("cancelled a running run")
	}
}

func TestGetPendingRunsOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	oldest := sampleRun("oldest")
	oldest.CreatedAt = time.Now().UTC().Add(-time.Hour)
	if err := s.CreateRun(ctx, oldest); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	newest := sampleRun("newest")
	if err := s.CreateRun(ctx, newest); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	pending, err := s.GetPendingRuns(ctx, 10)
	if err != nil {
		t.Fatalf("GetPendingRuns: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("got %d pending runs, want 2", len(pending))
	}
	if pending[0].Name != "oldest" {
		t.Errorf("pending[0] = %s, want oldest first", pending[0].Name)
	}
	if pending[0].Respondents == nil {
		t.Error("pending runs must include respondents for execution")
	}

	one, err := s.GetPendingRuns(ctx, 1)
	if err != nil {
		t.Fatalf("GetPendingRuns: %v", err)
	}
	if len(one) != 1 {
		t.Errorf("limit 1 returned %d runs", len(one))
	}
}

func TestGetStaleRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stale := sampleRun("stuck")
	if err := s.CreateRun(ctx, stale); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if ok, _ := s.ClaimRun(ctx, stale.ID, time.Now().Add(-time.Hour)); !ok {
		t.Fatal("claim failed")
	}

	fresh := sampleRun("fresh")
	if err := s.CreateRun(ctx, fresh); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if ok, _ := s.ClaimRun(ctx, fresh.ID, time.Now()); !ok {
		t.Fatal("claim failed")
	}

	got, err := s.GetStaleRuns(ctx, time.Now().Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("GetStaleRuns: %v", err)
	}
	if len(got) != 1 || got[0].ID != stale.ID {
		t.Fatalf("stale runs = %+v, want just the stuck one", got)
	}
}

func TestRunEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := sampleRun("wave 17")
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	first := &RunEvent{
		RunID:     run.ID,
		Event:     "created",
		Actor:     "panel-team",
		Payload:   map[string]interface{}{"respondents": float64(2)},
		CreatedAt: time.Now().UTC().Add(-time.Second),
	}
	if err := s.CreateRunEvent(ctx, first); err != nil {
		t.Fatalf("CreateRunEvent: %v", err)
	}
	second := &RunEvent{RunID: run.ID, Event: "started"}
	if err := s.CreateRunEvent(ctx, second); err != nil {
		t.Fatalf("CreateRunEvent: %v", err)
	}

	events, err := s.GetRunEvents(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRunEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Event != "created" || events[1].Event != "started" {
		t.Errorf("event order: %s, %s", events[0].Event, events[1].Event)
	}
	if !reflect.DeepEqual(events[0].Payload, first.Payload) {
		t.Errorf("payload roundtrip: %v", events[0].Payload)
	}
	if events[1].Payload != nil {
		t.Errorf("empty payload came back as %v", events[1].Payload)
	}
}

func TestGetStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pending := sampleRun("p")
	if err := s.CreateRun(ctx, pending); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	done := sampleRun("d")
	if err := s.CreateRun(ctx, done); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	started := time.Now().UTC().Add(-10 * time.Second)
	completed := started.Add(4 * time.Second)
	done.Status = StatusConverged
	done.Converged = true
	done.Iterations = 8
	done.DesignEffect = 1.5
	done.StartedAt = &started
	done.CompletedAt = &completed
	if err := s.UpdateRun(ctx, done); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	failed := sampleRun("f")
	if err := s.CreateRun(ctx, failed); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	failed.Status = StatusFailed
	failed.Error = "bad targets"
	if err := s.UpdateRun(ctx, failed); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	stats, err := s.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.TotalPending != 1 {
		t.Errorf("TotalPending = %d, want 1", stats.TotalPending)
	}
	if stats.TotalConverged != 1 {
		t.Errorf("TotalConverged = %d, want 1", stats.TotalConverged)
	}
	if stats.TotalFailed != 1 {
		t.Errorf("TotalFailed = %d, want 1", stats.TotalFailed)
	}
	if stats.AvgRuntimeMs != 4000 {
		t.Errorf("AvgRuntimeMs = %f, want 4000", stats.AvgRuntimeMs)
	}
	if stats.AvgIterations != 8 {
		t.Errorf("AvgIterations = %f, want 8", stats.AvgIterations)
	}
	if stats.AvgDesignEffect != 1.5 {
		t.Errorf("AvgDesignEffect = %f, want 1.5", stats.AvgDesignEffect)
	}
}

func TestRunStatusFinished(t *testing.T) {
	finished := []RunStatus{StatusConverged, StatusNonConverged, StatusFailed, StatusCancelled}
	for _, st := range finished {
		if !st.Finished() {
			t.Errorf("%s.Finished() = false, want true", st)
		}
	}
	for _, st := range []RunStatus{StatusPending, StatusRunning} {
		if st.Finished() {
			t.Errorf("%s.Finished() = true, want false", st)
		}
	}
}
