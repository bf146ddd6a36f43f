package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/danielbchen/raker/internal/rake"
)

type RunStatus string

const (
	StatusPending      RunStatus = "pending"
	StatusRunning      RunStatus = "running"
	StatusConverged    RunStatus = "converged"
	StatusNonConverged RunStatus = "non_converged"
	StatusFailed       RunStatus = "failed"
	StatusCancelled    RunStatus = "cancelled"
)

// Finished reports whether the status is terminal.
func (s RunStatus) Finished() bool {
	switch s {
	case StatusConverged, StatusNonConverged, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// RunOptions are the per-run raking knobs. Unset fields fall back to the
// service configuration; pointers distinguish an explicit zero (a meaningful
// value for iterations and trim bounds) from absent.
type RunOptions struct {
	Tolerance     float64  `json:"tolerance,omitempty"`
	MaxIterations *int     `json:"max_iterations,omitempty"`
	TrimCap       *float64 `json:"trim_cap,omitempty"`
	TrimFloor     *float64 `json:"trim_floor,omitempty"`
	MatchDecimals int      `json:"match_decimals,omitempty"`
}

// WeightRecord is one respondent's final weight.
type WeightRecord struct {
	ID     string  `json:"id"`
	Weight float64 `json:"weight"`
}

type Run struct {
	ID          uuid.UUID `json:"run_id"`
	Name        string    `json:"name"`
	RequestedBy string    `json:"requested_by,omitempty"`
	Status      RunStatus `json:"status"`

	// Input
	Targets         map[string]map[string]float64 `json:"targets,omitempty"`
	Respondents     []rake.Respondent             `json:"respondents,omitempty"`
	Options         RunOptions                    `json:"options"`
	RespondentCount int                           `json:"respondent_count"`

	// Outcome
	Converged    bool           `json:"converged"`
	Iterations   int            `json:"iterations"`
	MaxDeviation float64        `json:"max_deviation,omitempty"`
	DesignEffect float64        `json:"design_effect,omitempty"`
	Weights      []WeightRecord `json:"weights,omitempty"`
	Report       *rake.Report   `json:"report,omitempty"`
	Error        string         `json:"error,omitempty"`

	// Timestamps
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type RunFilter struct {
	Status      *RunStatus
	RequestedBy string
	Limit       int
	Offset      int
}

type RunEvent struct {
	ID        uuid.UUID              `json:"id"`
	RunID     uuid.UUID              `json:"run_id"`
	Event     string                 `json:"event"`
	Actor     string                 `json:"actor,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

type RunStats struct {
	TotalPending      int     `json:"total_pending"`
	TotalRunning      int     `json:"total_running"`
	TotalConverged    int     `json:"total_converged"`
	TotalNonConverged int     `json:"total_non_converged"`
	TotalFailed       int     `json:"total_failed"`
	TotalCancelled    int     `json:"total_cancelled"`
	AvgRuntimeMs      float64 `json:"avg_runtime_ms"`
	AvgIterations     float64 `json:"avg_iterations"`
	AvgDesignEffect   float64 `json:"avg_design_effect"`
}

type Store interface {
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id uuid.UUID) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)
	UpdateRun(ctx context.Context, run *Run) error

	GetPendingRuns(ctx context.Context, limit int) ([]*Run, error)
	ClaimRun(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error)
	CancelRun(ctx context.Context, id uuid.UUID) (bool, error)
	GetStaleRuns(ctx context.Context, startedBefore time.Time) ([]*Run, error)

	CreateRunEvent(ctx context.Context, event *RunEvent) error
	GetRunEvents(ctx context.Context, runID uuid.UUID) ([]*RunEvent, error)

	GetStats(ctx context.Context) (*RunStats, error)

	Close() error
}
