package rake

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Options controls a raking run.
type Options struct {
	// Tolerance is the convergence threshold: the run converges once every
	// category's weighted proportion is within Tolerance of its target.
	Tolerance float64 `json:"tolerance"`
	// MaxIterations caps the number of full passes over the variables. Zero
	// means measure only: the weights are returned untouched.
	MaxIterations int `json:"max_iterations"`
	// Trim bounds the weights after each pass. Disabled by default.
	Trim TrimPolicy `json:"trim"`
	// Workers sets the parallelism of the weighted-proportion reduction.
	// Values below 2 keep it sequential.
	Workers int `json:"workers,omitempty"`
}

// DefaultOptions returns the standard run configuration.
func DefaultOptions() Options {
	return Options{
		Tolerance:     0.0005,
		MaxIterations: 50,
		Trim:          NoTrim(),
		Workers:       1,
	}
}

// Validate checks the options for values the engine cannot run with.
func (o Options) Validate() error {
	if !(o.Tolerance > 0) {
		return fmt.Errorf("tolerance is %f, must be positive", o.Tolerance)
	}
	if o.MaxIterations < 0 {
		return fmt.Errorf("max iterations is %d, must not be negative", o.MaxIterations)
	}
	return o.Trim.Validate()
}

// PassState records the convergence measure after one full pass.
type PassState struct {
	Pass               int                `json:"pass"`
	MaxDeviation       float64            `json:"max_deviation"`
	WorstVariable      string             `json:"worst_variable"`
	VariableDeviations map[string]float64 `json:"variable_deviations"`
}

// Result is the outcome of a raking run. Non-convergence is reported here,
// not as an error: the weights and diagnostics are still valid output.
type Result struct {
	Converged     bool        `json:"converged"`
	Cancelled     bool        `json:"cancelled,omitempty"`
	Iterations    int         `json:"iterations"`
	MaxDeviation  float64     `json:"max_deviation"`
	WorstVariable string      `json:"worst_variable,omitempty"`
	History       []PassState `json:"history,omitempty"`
	Weights       []float64   `json:"weights,omitempty"`
}

// Err returns a NonConvergenceError when the run did not converge, for
// callers that want the error form. A converged result returns nil.
func (r *Result) Err() error {
	if r.Converged {
		return nil
	}
	return &NonConvergenceError{
		Iterations:   r.Iterations,
		MaxDeviation: r.MaxDeviation,
		Variable:     r.WorstVariable,
	}
}

// Engine runs iterative proportional fitting over a dataset: each pass
// rescales the weights variable by variable so the weighted marginals match
// the targets, until every deviation is inside tolerance or the iteration
// budget runs out.
type Engine struct {
	opts   Options
	logger *slog.Logger
}

// NewEngine creates an engine with validated options.
func NewEngine(opts Options, logger *slog.Logger) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{opts: opts, logger: logger}, nil
}

// Options returns the engine's run configuration.
func (e *Engine) Options() Options {
	return e.opts
}

// Rake adjusts the dataset's weights in place until its weighted marginals
// match the targets. The dataset's current weights are the starting point.
// Cancelling ctx stops the run at the next pass boundary with the partial
// state flagged in the result.
func (e *Engine) Rake(ctx context.Context, ds *Dataset) (*Result, error) {
	if ds == nil {
		return nil, fmt.Errorf("nil dataset")
	}
	if err := ds.checkDegenerate(); err != nil {
		return nil, err
	}

	res := &Result{}
	varDevs, maxDev, worst := e.measure(ds)
	if maxDev < e.opts.Tolerance {
		res.Converged = true
		res.MaxDeviation = maxDev
		res.WorstVariable = worst
		ds.normalizeMean()
		res.Weights = ds.Weights()
		e.logger.Debug("marginals already within tolerance", "max_deviation", maxDev)
		return res, nil
	}

	order := ds.targets.Variables()
	for pass := 1; pass <= e.opts.MaxIterations; pass++ {
		select {
		case <-ctx.Done():
			res.Cancelled = true
		default:
		}
		if res.Cancelled {
			e.logger.Warn("raking cancelled", "pass", pass-1, "max_deviation", maxDev)
			break
		}

		for _, name := range order {
			e.adjustVariable(ds, name)
		}
		ds.applyTrim(e.opts.Trim)

		res.Iterations = pass
		varDevs, maxDev, worst = e.measure(ds)
		res.History = append(res.History, PassState{
			Pass:               pass,
			MaxDeviation:       maxDev,
			WorstVariable:      worst,
			VariableDeviations: varDevs,
		})
		e.logger.Debug("raking pass complete", "pass", pass, "max_deviation", maxDev, "worst_variable", worst)

		if maxDev < e.opts.Tolerance {
			res.Converged = true
			break
		}
	}

	res.MaxDeviation = maxDev
	res.WorstVariable = worst
	if res.Iterations > 0 || res.Converged {
		ds.normalizeMean()
	}
	res.Weights = ds.Weights()

	if res.Converged {
		e.logger.Info("raking converged", "iterations", res.Iterations, "max_deviation", res.MaxDeviation)
	} else {
		e.logger.Warn("raking did not converge",
			"iterations", res.Iterations,
			"max_deviation", res.MaxDeviation,
			"worst_variable", res.WorstVariable)
	}
	return res, nil
}

// adjustVariable rescales every respondent's weight by target/current for its
// category of one variable. Categories with no weight are left alone: they
// have no respondents to adjust.
func (e *Engine) adjustVariable(ds *Dataset, variable string) {
	vi := ds.vars[variable]
	totals := ds.categoryWeights(vi, e.opts.Workers)
	total := floats.Sum(totals)

	factors := make([]float64, len(vi.cats))
	for ord, cat := range vi.cats {
		if totals[ord] == 0 {
			factors[ord] = 1
			continue
		}
		target := ds.targets.vars[variable][cat]
		factors[ord] = target * total / totals[ord]
	}
	ds.applyFactors(vi, factors)
}

// measure computes the per-variable and overall maximum absolute deviation of
// the weighted marginals from the targets.
func (e *Engine) measure(ds *Dataset) (map[string]float64, float64, string) {
	varDevs := make(map[string]float64, len(ds.targets.order))
	maxDev := 0.0
	worst := ""
	for _, name := range ds.targets.order {
		vi := ds.vars[name]
		totals := ds.categoryWeights(vi, e.opts.Workers)
		total := floats.Sum(totals)
		dev := 0.0
		for ord, cat := range vi.cats {
			target := ds.targets.vars[name][cat]
			got := totals[ord] / total
			if d := math.Abs(got - target); d > dev {
				dev = d
			}
		}
		varDevs[name] = dev
		if dev > maxDev || worst == "" {
			maxDev = dev
			worst = name
		}
	}
	return varDevs, maxDev, worst
}
