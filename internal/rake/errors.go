package rake

import "fmt"

// MalformedTargetError reports a target variable whose proportions are not a
// valid distribution: a category outside [0, 1], or a total away from 1.0.
type MalformedTargetError struct {
	Variable   string
	Category   string
	Proportion float64
	Sum        float64
}

func (e *MalformedTargetError) Error() string {
	if e.Category != "" {
		return fmt.Sprintf("target %s/%s has proportion %.6f, must be in [0, 1]", e.Variable, e.Category, e.Proportion)
	}
	return fmt.Sprintf("targets for %q sum to %.6f, must sum to 1.0", e.Variable, e.Sum)
}

// UnknownCategoryError reports a category value that does not exist in the
// target specification. RespondentID is set when the value came from a
// respondent record rather than a direct lookup.
type UnknownCategoryError struct {
	Variable     string
	Category     string
	RespondentID string
}

func (e *UnknownCategoryError) Error() string {
	if e.RespondentID != "" {
		return fmt.Sprintf("respondent %q has unknown category %q for variable %q", e.RespondentID, e.Category, e.Variable)
	}
	return fmt.Sprintf("unknown category %q for variable %q", e.Category, e.Variable)
}

// DegenerateTargetError reports a category with a zero target proportion that
// still has respondents in the sample. Raking would have to drive those
// weights to zero, so the run is rejected up front.
type DegenerateTargetError struct {
	Variable    string
	Category    string
	Respondents int
}

func (e *DegenerateTargetError) Error() string {
	return fmt.Sprintf("target %s/%s is zero but %d respondents fall in it", e.Variable, e.Category, e.Respondents)
}

// WeightInvariantError reports a weight vector that violates the raking
// invariants (mean 1.0, sum equal to the respondent count). It indicates a
// bug in the engine, not bad input.
type WeightInvariantError struct {
	Mean float64
	Sum  float64
	N    int
}

func (e *WeightInvariantError) Error() string {
	return fmt.Sprintf("weight invariant violated: mean=%.12f sum=%.12f n=%d", e.Mean, e.Sum, e.N)
}

// NonConvergenceError reports a run that exhausted its iteration budget with
// at least one marginal still outside tolerance. The engine itself returns
// this condition as a flagged Result; the error form is for callers that
// want to propagate it.
type NonConvergenceError struct {
	Iterations   int
	MaxDeviation float64
	Variable     string
}

func (e *NonConvergenceError) Error() string {
	return fmt.Sprintf("raking did not converge after %d iterations: max deviation %.6f on %q", e.Iterations, e.MaxDeviation, e.Variable)
}
