package rake

import "fmt"

// trimMaxRounds bounds the clamp/renormalize loop inside applyTrim. The loop
// contracts geometrically, so 32 rounds puts the residual below float noise.
const trimMaxRounds = 32

// TrimPolicy bounds respondent weights relative to the mean weight after each
// raking pass. Cap is the maximum weight as a multiple of the mean, Floor the
// minimum as a fraction of it. A zero field disables that side.
type TrimPolicy struct {
	Cap   float64 `json:"cap,omitempty"`
	Floor float64 `json:"floor,omitempty"`
}

// NoTrim returns a policy with both sides disabled.
func NoTrim() TrimPolicy {
	return TrimPolicy{}
}

// Enabled reports whether either bound is active.
func (p TrimPolicy) Enabled() bool {
	return p.Cap > 0 || p.Floor > 0
}

// Validate checks that the bounds can hold simultaneously with a mean of 1.0.
func (p TrimPolicy) Validate() error {
	if p.Cap < 0 {
		return fmt.Errorf("trim cap is %f, must not be negative", p.Cap)
	}
	if p.Floor < 0 {
		return fmt.Errorf("trim floor is %f, must not be negative", p.Floor)
	}
	if p.Cap > 0 && p.Cap < 1 {
		return fmt.Errorf("trim cap is %f, must be at least 1x the mean weight", p.Cap)
	}
	if p.Floor > 1 {
		return fmt.Errorf("trim floor is %f, must be at most 1x the mean weight", p.Floor)
	}
	return nil
}

// applyTrim clamps weights to the policy bounds. Clamping moves the mean, so
// the bounds are re-derived and re-applied until they hold at a mean of 1.0.
func (d *Dataset) applyTrim(p TrimPolicy) {
	if !p.Enabled() {
		return
	}
	for round := 0; round < trimMaxRounds; round++ {
		mean := d.MeanWeight()
		hi := p.Cap * mean
		lo := p.Floor * mean
		clamped := false
		for i, w := range d.weights {
			if p.Cap > 0 && w > hi {
				d.weights[i] = hi
				clamped = true
			}
			if p.Floor > 0 && w < lo {
				d.weights[i] = lo
				clamped = true
			}
		}
		if !clamped {
			return
		}
		d.normalizeMean()
	}
}
