package rake

import (
	"errors"
	"math"
	"sort"
)

// TargetSumTolerance bounds how far a variable's proportions may drift from
// summing to exactly 1.0 before the specification is rejected.
const TargetSumTolerance = 1e-6

// Targets holds the population marginal distributions the sample is raked
// toward: one categorical distribution per variable. Construction validates
// every distribution, so a Targets value is always well formed.
type Targets struct {
	order []string
	vars  map[string]map[string]float64
}

// NewTargets validates and freezes a target specification. Each variable's
// proportions must lie in [0, 1] and sum to 1.0 within TargetSumTolerance.
// Variables are ordered lexicographically so raking passes are deterministic.
func NewTargets(vars map[string]map[string]float64) (*Targets, error) {
	if len(vars) == 0 {
		return nil, errors.New("target specification has no variables")
	}

	t := &Targets{
		order: make([]string, 0, len(vars)),
		vars:  make(map[string]map[string]float64, len(vars)),
	}
	for name := range vars {
		t.order = append(t.order, name)
	}
	sort.Strings(t.order)

	for _, name := range t.order {
		cats := vars[name]
		if len(cats) == 0 {
			return nil, &MalformedTargetError{Variable: name, Sum: 0}
		}
		sum := 0.0
		for cat, p := range cats {
			if p < 0 || p > 1 || math.IsNaN(p) {
				return nil, &MalformedTargetError{Variable: name, Category: cat, Proportion: p}
			}
			sum += p
		}
		if math.Abs(sum-1.0) > TargetSumTolerance {
			return nil, &MalformedTargetError{Variable: name, Sum: sum}
		}
		copied := make(map[string]float64, len(cats))
		for cat, p := range cats {
			copied[cat] = p
		}
		t.vars[name] = copied
	}
	return t, nil
}

// Variables returns the raked variable names in their fixed raking order.
func (t *Targets) Variables() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Categories returns the category names of one variable, sorted.
func (t *Targets) Categories(variable string) ([]string, error) {
	cats, ok := t.vars[variable]
	if !ok {
		return nil, &UnknownCategoryError{Variable: variable}
	}
	out := make([]string, 0, len(cats))
	for cat := range cats {
		out = append(out, cat)
	}
	sort.Strings(out)
	return out, nil
}

// Proportion returns the target proportion for one variable/category pair.
func (t *Targets) Proportion(variable, category string) (float64, error) {
	cats, ok := t.vars[variable]
	if !ok {
		return 0, &UnknownCategoryError{Variable: variable, Category: category}
	}
	p, ok := cats[category]
	if !ok {
		return 0, &UnknownCategoryError{Variable: variable, Category: category}
	}
	return p, nil
}

// Has reports whether the variable/category pair exists in the specification.
func (t *Targets) Has(variable, category string) bool {
	cats, ok := t.vars[variable]
	if !ok {
		return false
	}
	_, ok = cats[category]
	return ok
}

// Map returns a deep copy of the specification, suitable for persistence.
func (t *Targets) Map() map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(t.vars))
	for name, cats := range t.vars {
		copied := make(map[string]float64, len(cats))
		for cat, p := range cats {
			copied[cat] = p
		}
		out[name] = copied
	}
	return out
}
