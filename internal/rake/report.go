package rake

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// weightInvariantTol is the tolerance for the terminal weight invariants:
// mean 1.0 and sum equal to the respondent count (relative).
const weightInvariantTol = 1e-9

// defaultMatchDecimals is the rounding precision for the per-category match
// flag when the caller does not specify one.
const defaultMatchDecimals = 4

// CategoryReport compares one category's achieved marginal to its target.
type CategoryReport struct {
	Category   string  `json:"category"`
	Target     float64 `json:"target"`
	Weighted   float64 `json:"weighted"`
	Unweighted float64 `json:"unweighted"`
	Deviation  float64 `json:"deviation"`
	Match      bool    `json:"match"`
}

// VariableReport holds the per-category comparison for one raked variable.
type VariableReport struct {
	Variable     string           `json:"variable"`
	Categories   []CategoryReport `json:"categories"`
	MaxDeviation float64          `json:"max_deviation"`
	Match        bool             `json:"match"`
}

// WeightSummary condenses the final weight distribution.
type WeightSummary struct {
	Mean float64 `json:"mean"`
	Sum  float64 `json:"sum"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// Report is the diagnostic summary of a raking run, converged or not.
type Report struct {
	N            int              `json:"n"`
	Converged    bool             `json:"converged"`
	Iterations   int              `json:"iterations"`
	MaxDeviation float64          `json:"max_deviation"`
	Variables    []VariableReport `json:"variables"`
	Weights      WeightSummary    `json:"weights"`
	DesignEffect float64          `json:"design_effect"`
	EffectiveN   float64          `json:"effective_n"`
	History      []PassState      `json:"history,omitempty"`
}

// DesignEffect returns Kish's design effect n*sum(w^2)/sum(w)^2 for a weight
// vector. Equal weights give exactly 1.0.
func DesignEffect(weights []float64) float64 {
	if len(weights) == 0 {
		return 0
	}
	sum := floats.Sum(weights)
	if sum == 0 {
		return 0
	}
	sumSq := floats.Dot(weights, weights)
	return float64(len(weights)) * sumSq / (sum * sum)
}

// BuildReport assembles the diagnostic report for a finished run. It verifies
// the terminal weight invariants first and fails with WeightInvariantError if
// they do not hold; that means the engine produced a bad vector, and a report
// built from it would be quietly wrong.
func BuildReport(ds *Dataset, res *Result, decimals int) (*Report, error) {
	if ds == nil || res == nil {
		return nil, fmt.Errorf("nil dataset or result")
	}
	if decimals <= 0 {
		decimals = defaultMatchDecimals
	}

	n := ds.Len()
	mean := stat.Mean(ds.weights, nil)
	sum := floats.Sum(ds.weights)
	if math.Abs(mean-1.0) > weightInvariantTol || math.Abs(sum-float64(n)) > weightInvariantTol*float64(n) {
		return nil, &WeightInvariantError{Mean: mean, Sum: sum, N: n}
	}

	rep := &Report{
		N:            n,
		Converged:    res.Converged,
		Iterations:   res.Iterations,
		MaxDeviation: res.MaxDeviation,
		Weights: WeightSummary{
			Mean: mean,
			Sum:  sum,
			Min:  floats.Min(ds.weights),
			Max:  floats.Max(ds.weights),
		},
		DesignEffect: DesignEffect(ds.weights),
		History:      res.History,
	}
	if rep.DesignEffect > 0 {
		rep.EffectiveN = float64(n) / rep.DesignEffect
	}

	scale := math.Pow(10, float64(decimals))
	for _, name := range ds.targets.Variables() {
		weighted, err := ds.WeightedProportions(name)
		if err != nil {
			return nil, err
		}
		unweighted, err := ds.UnweightedProportions(name)
		if err != nil {
			return nil, err
		}
		cats, _ := ds.targets.Categories(name)

		vr := VariableReport{Variable: name, Match: true}
		for _, cat := range cats {
			target := ds.targets.vars[name][cat]
			got := weighted[cat]
			cr := CategoryReport{
				Category:   cat,
				Target:     target,
				Weighted:   got,
				Unweighted: unweighted[cat],
				Deviation:  math.Abs(got - target),
				Match:      math.Round(got*scale) == math.Round(target*scale),
			}
			if cr.Deviation > vr.MaxDeviation {
				vr.MaxDeviation = cr.Deviation
			}
			if !cr.Match {
				vr.Match = false
			}
			vr.Categories = append(vr.Categories, cr)
		}
		rep.Variables = append(rep.Variables, vr)
	}
	return rep, nil
}
