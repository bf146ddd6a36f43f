package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/danielbchen/raker/internal/events"
	"github.com/danielbchen/raker/internal/ingest"
	"github.com/danielbchen/raker/internal/metrics"
	"github.com/danielbchen/raker/internal/rake"
	"github.com/danielbchen/raker/internal/store"
)

type RunsHandler struct {
	store  store.Store
	events events.Client
}

func NewRunsHandler(s store.Store, ev events.Client) *RunsHandler {
	return &RunsHandler{store: s, events: ev}
}

type CreateRunRequest struct {
	Name          string                        `json:"name"`
	Targets       map[string]map[string]float64 `json:"targets"`
	Respondents   []rake.Respondent             `json:"respondents"`
	Tolerance     float64                       `json:"tolerance,omitempty"`
	MaxIterations *int                          `json:"max_iterations,omitempty"`
	TrimCap       *float64                      `json:"trim_cap,omitempty"`
	TrimFloor     *float64                      `json:"trim_floor,omitempty"`
	MatchDecimals int                           `json:"match_decimals,omitempty"`
}

// Create validates the targets against the sample before accepting the run,
// so bad requests fail here with the offending variable named instead of
// surfacing later as a failed run.
func (h *RunsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name required"})
		return
	}
	if len(req.Respondents) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "respondents required"})
		return
	}

	targets, err := rake.NewTargets(req.Targets)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if _, err := rake.NewDataset(targets, req.Respondents); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Tolerance < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tolerance must not be negative"})
		return
	}
	if req.MaxIterations != nil && *req.MaxIterations < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "max_iterations must not be negative"})
		return
	}
	trim := rake.TrimPolicy{}
	if req.TrimCap != nil {
		trim.Cap = *req.TrimCap
	}
	if req.TrimFloor != nil {
		trim.Floor = *req.TrimFloor
	}
	if err := trim.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	clientID := r.Header.Get("X-Client-ID")
	run := &store.Run{
		Name:        req.Name,
		RequestedBy: clientID,
		Status:      store.StatusPending,
		Targets:     req.Targets,
		Respondents: req.Respondents,
		Options: store.RunOptions{
			Tolerance:     req.Tolerance,
			MaxIterations: req.MaxIterations,
			TrimCap:       req.TrimCap,
			TrimFloor:     req.TrimFloor,
			MatchDecimals: req.MatchDecimals,
		},
	}

	if err := h.store.CreateRun(r.Context(), run); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	_ = h.store.CreateRunEvent(r.Context(), &store.RunEvent{
		RunID:   run.ID,
		Event:   "created",
		Actor:   clientID,
		Payload: map[string]interface{}{"respondents": run.RespondentCount},
	})

	if h.events != nil {
		_ = h.events.Publish(events.SubjectRunCreated(run.ID.String()), events.RunCreatedEvent{
			RunID:       run.ID.String(),
			Name:        run.Name,
			Respondents: run.RespondentCount,
		})
	}

	writeJSON(w, http.StatusCreated, withoutRespondents(run))
}

func (h *RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{
		RequestedBy: q.Get("requested_by"),
	}
	if s := q.Get("status"); s != "" {
		status := store.RunStatus(s)
		filter.Status = &status
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	runs, err := h.store.ListRuns(r.Context(), filter)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if runs == nil {
		runs = []*store.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *RunsHandler) Get(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, withoutRespondents(run))
}

func (h *RunsHandler) Report(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if run.Report == nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "run not finished"})
		return
	}
	writeJSON(w, http.StatusOK, run.Report)
}

func (h *RunsHandler) Weights(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if run.Weights == nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "run not finished"})
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		ids := make([]string, len(run.Weights))
		weights := make([]float64, len(run.Weights))
		for i, rec := range run.Weights {
			ids[i] = rec.ID
			weights[i] = rec.Weight
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="weights-`+run.ID.String()+`.csv"`)
		_ = ingest.WriteWeightsCSV(w, ids, weights)
		return
	}

	writeJSON(w, http.StatusOK, run.Weights)
}

func (h *RunsHandler) Events(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookup(w, r)
	if !ok {
		return
	}

	evs, err := h.store.GetRunEvents(r.Context(), run.ID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if evs == nil {
		evs = []*store.RunEvent{}
	}
	writeJSON(w, http.StatusOK, evs)
}

// Cancel withdraws a pending run. Runs the worker already picked up keep
// going; callers get a 409 and can check the run state.
func (h *RunsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookup(w, r)
	if !ok {
		return
	}

	cancelled, err := h.store.CancelRun(r.Context(), run.ID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !cancelled {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "run already started or finished"})
		return
	}

	clientID := r.Header.Get("X-Client-ID")
	_ = h.store.CreateRunEvent(r.Context(), &store.RunEvent{
		RunID: run.ID,
		Event: "cancelled",
		Actor: clientID,
	})
	if h.events != nil {
		_ = h.events.Publish(events.SubjectRunCancelled(run.ID.String()), events.RunCancelledEvent{
			RunID: run.ID.String(),
			Actor: clientID,
		})
	}
	metrics.RecordRunCancelled()

	updated, err := h.store.GetRun(r.Context(), run.ID)
	if err != nil || updated == nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "run cancelled but could not be reloaded"})
		return
	}
	writeJSON(w, http.StatusOK, withoutRespondents(updated))
}

// lookup parses the id path param and loads the run, writing the error
// response itself when either step fails.
func (h *RunsHandler) lookup(w http.ResponseWriter, r *http.Request) (*store.Run, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid run id"})
		return nil, false
	}

	run, err := h.store.GetRun(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return nil, false
	}
	if run == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return nil, false
	}
	return run, true
}

// withoutRespondents shallow-copies a run minus the input rows, which can be
// six figures long and belong to the caller anyway.
func withoutRespondents(run *store.Run) *store.Run {
	out := *run
	out.Respondents = nil
	return &out
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
