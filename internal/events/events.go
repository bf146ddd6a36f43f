package events

import (
	"time"

	"github.com/danielbchen/raker/internal/rake"
)

// RunRequestEvent asks the worker to create and execute a raking run. It
// mirrors the POST /runs request body so producers can use either path.
type RunRequestEvent struct {
	Name          string                        `json:"name"`
	RequestedBy   string                        `json:"requested_by,omitempty"`
	Targets       map[string]map[string]float64 `json:"targets"`
	Respondents   []rake.Respondent             `json:"respondents"`
	Tolerance     float64                       `json:"tolerance,omitempty"`
	MaxIterations *int                          `json:"max_iterations,omitempty"`
	TrimCap       *float64                      `json:"trim_cap,omitempty"`
	TrimFloor     *float64                      `json:"trim_floor,omitempty"`
}

type RunCreatedEvent struct {
	RunID       string `json:"run_id"`
	Name        string `json:"name"`
	Respondents int    `json:"respondents"`
}

type RunStartedEvent struct {
	RunID string `json:"run_id"`
}

type RunCompletedEvent struct {
	RunID        string  `json:"run_id"`
	Status       string  `json:"status"`
	Converged    bool    `json:"converged"`
	Iterations   int     `json:"iterations"`
	MaxDeviation float64 `json:"max_deviation"`
	DesignEffect float64 `json:"design_effect"`
}

type RunFailedEvent struct {
	RunID string `json:"run_id"`
	Error string `json:"error"`
}

type RunCancelledEvent struct {
	RunID string `json:"run_id"`
	Actor string `json:"actor,omitempty"`
}

type StatsEvent struct {
	Pending      int       `json:"pending"`
	Running      int       `json:"running"`
	Converged    int       `json:"converged"`
	NonConverged int       `json:"non_converged"`
	Failed       int       `json:"failed"`
	AvgRuntimeMs float64   `json:"avg_runtime_ms"`
	Timestamp    time.Time `json:"timestamp"`
}
