package rake

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Respondent is one survey case: a unique identifier plus one category value
// for every raked variable.
type Respondent struct {
	ID         string            `json:"id"`
	Categories map[string]string `json:"categories"`
}

// varIndex is the per-variable column view of the sample: sorted category
// names and each respondent's category encoded as an ordinal into that list.
type varIndex struct {
	cats  []string
	pos   map[string]int
	codes []int
	count []int
}

// Dataset binds a respondent sample to its mutable raking weights. All
// respondents are validated against the target specification at
// construction, so category lookups inside the raking loop cannot fail.
type Dataset struct {
	targets     *Targets
	respondents []Respondent
	weights     []float64
	index       map[string]int
	vars        map[string]*varIndex
}

// NewDataset validates respondents against the targets and returns a dataset
// with every weight initialized to 1.0. It rejects duplicate respondent IDs,
// missing or unknown category values, and zero-proportion targets that still
// have respondents in the sample.
func NewDataset(targets *Targets, respondents []Respondent) (*Dataset, error) {
	if targets == nil {
		return nil, fmt.Errorf("nil target specification")
	}
	if len(respondents) == 0 {
		return nil, fmt.Errorf("dataset has no respondents")
	}

	d := &Dataset{
		targets:     targets,
		respondents: respondents,
		weights:     make([]float64, len(respondents)),
		index:       make(map[string]int, len(respondents)),
		vars:        make(map[string]*varIndex, len(targets.order)),
	}

	for _, name := range targets.order {
		cats, _ := targets.Categories(name)
		vi := &varIndex{
			cats:  cats,
			pos:   make(map[string]int, len(cats)),
			codes: make([]int, len(respondents)),
			count: make([]int, len(cats)),
		}
		for i, cat := range cats {
			vi.pos[cat] = i
		}
		d.vars[name] = vi
	}

	for i, r := range respondents {
		if r.ID == "" {
			return nil, fmt.Errorf("respondent at position %d has an empty id", i)
		}
		if _, dup := d.index[r.ID]; dup {
			return nil, fmt.Errorf("duplicate respondent id %q", r.ID)
		}
		d.index[r.ID] = i
		d.weights[i] = 1.0

		for _, name := range targets.order {
			vi := d.vars[name]
			cat, ok := r.Categories[name]
			if !ok || cat == "" {
				return nil, fmt.Errorf("respondent %q is missing a value for variable %q", r.ID, name)
			}
			ord, ok := vi.pos[cat]
			if !ok {
				return nil, &UnknownCategoryError{Variable: name, Category: cat, RespondentID: r.ID}
			}
			vi.codes[i] = ord
			vi.count[ord]++
		}
	}

	if err := d.checkDegenerate(); err != nil {
		return nil, err
	}
	return d, nil
}

// checkDegenerate rejects any zero-proportion target category that has
// respondents: their weights would be driven to zero.
func (d *Dataset) checkDegenerate() error {
	for _, name := range d.targets.order {
		vi := d.vars[name]
		for ord, cat := range vi.cats {
			p := d.targets.vars[name][cat]
			if p == 0 && vi.count[ord] > 0 {
				return &DegenerateTargetError{Variable: name, Category: cat, Respondents: vi.count[ord]}
			}
		}
	}
	return nil
}

// Len returns the number of respondents.
func (d *Dataset) Len() int {
	return len(d.respondents)
}

// Targets returns the specification the dataset was validated against.
func (d *Dataset) Targets() *Targets {
	return d.targets
}

// Respondents returns the respondent records in dataset order. The slice is
// shared; callers must not modify it.
func (d *Dataset) Respondents() []Respondent {
	return d.respondents
}

// Weights returns a copy of the current weight vector in respondent order.
func (d *Dataset) Weights() []float64 {
	out := make([]float64, len(d.weights))
	copy(out, d.weights)
	return out
}

// Weight returns the current weight for one respondent.
func (d *Dataset) Weight(id string) (float64, bool) {
	i, ok := d.index[id]
	if !ok {
		return 0, false
	}
	return d.weights[i], true
}

// SetWeight overwrites one respondent's weight. It returns false if the id
// is unknown or the weight is not a positive finite number.
func (d *Dataset) SetWeight(id string, w float64) bool {
	i, ok := d.index[id]
	if !ok || !(w > 0) || math.IsInf(w, 0) {
		return false
	}
	d.weights[i] = w
	return true
}

// SetWeights replaces the whole weight vector, in respondent order.
func (d *Dataset) SetWeights(ws []float64) error {
	if len(ws) != len(d.weights) {
		return fmt.Errorf("weight vector has %d entries, dataset has %d respondents", len(ws), len(d.weights))
	}
	for i, w := range ws {
		if !(w > 0) || math.IsInf(w, 0) {
			return fmt.Errorf("weight for respondent %q is %f, must be a positive finite number", d.respondents[i].ID, w)
		}
	}
	copy(d.weights, ws)
	return nil
}

// ResetWeights sets every weight back to 1.0.
func (d *Dataset) ResetWeights() {
	for i := range d.weights {
		d.weights[i] = 1.0
	}
}

// TotalWeight returns the sum of all weights.
func (d *Dataset) TotalWeight() float64 {
	return floats.Sum(d.weights)
}

// MeanWeight returns the mean of all weights.
func (d *Dataset) MeanWeight() float64 {
	return stat.Mean(d.weights, nil)
}

// WeightedProportions returns each category's share of the total weight for
// one variable.
func (d *Dataset) WeightedProportions(variable string) (map[string]float64, error) {
	vi, ok := d.vars[variable]
	if !ok {
		return nil, &UnknownCategoryError{Variable: variable}
	}
	totals := d.categoryWeights(vi, 1)
	total := floats.Sum(totals)
	out := make(map[string]float64, len(vi.cats))
	for ord, cat := range vi.cats {
		out[cat] = totals[ord] / total
	}
	return out, nil
}

// UnweightedProportions returns each category's share of the raw respondent
// count for one variable.
func (d *Dataset) UnweightedProportions(variable string) (map[string]float64, error) {
	vi, ok := d.vars[variable]
	if !ok {
		return nil, &UnknownCategoryError{Variable: variable}
	}
	n := float64(len(d.respondents))
	out := make(map[string]float64, len(vi.cats))
	for ord, cat := range vi.cats {
		out[cat] = float64(vi.count[ord]) / n
	}
	return out, nil
}

// categoryWeights sums the current weights per category ordinal. With
// workers > 1 the respondent range is split into contiguous chunks whose
// partial sums are merged in chunk order, keeping the result deterministic.
func (d *Dataset) categoryWeights(vi *varIndex, workers int) []float64 {
	totals := make([]float64, len(vi.cats))
	n := len(d.weights)

	if workers > n {
		workers = n
	}
	if workers > runtime.GOMAXPROCS(0) {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers <= 1 {
		for i, ord := range vi.codes {
			totals[ord] += d.weights[i]
		}
		return totals
	}

	partials := make([][]float64, workers)
	chunk := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := start + chunk
		if end > n {
			end = n
		}
		if start >= end {
			break
		}
		wg.Add(1)
		go func(w, start, end int) {
			defer wg.Done()
			part := make([]float64, len(vi.cats))
			for i := start; i < end; i++ {
				part[vi.codes[i]] += d.weights[i]
			}
			partials[w] = part
		}(w, start, end)
	}
	wg.Wait()

	for _, part := range partials {
		if part == nil {
			continue
		}
		floats.Add(totals, part)
	}
	return totals
}

// applyFactors multiplies each respondent's weight by the factor for its
// category ordinal. Single pass over the sample.
func (d *Dataset) applyFactors(vi *varIndex, factors []float64) {
	for i, ord := range vi.codes {
		d.weights[i] *= factors[ord]
	}
}

// normalizeMean rescales all weights so their mean is exactly 1.0.
func (d *Dataset) normalizeMean() {
	mean := stat.Mean(d.weights, nil)
	if mean == 0 {
		return
	}
	floats.Scale(1/mean, d.weights)
}
