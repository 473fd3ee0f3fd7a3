package survinng

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// NewBaselineHazard builds a validated baseline hazard table. Times and
// hazards must have equal nonzero length, times strictly increasing and
// nonnegative, hazards nonnegative and finite. The slices are copied.
func NewBaselineHazard(time, hazard []float64) (*BaselineHazard, error) {
	bh := &BaselineHazard{
		Time:   append([]float64(nil), time...),
		Hazard: append([]float64(nil), hazard...),
	}
	if err := bh.validate(); err != nil {
		return nil, err
	}
	return bh, nil
}

func (bh *BaselineHazard) validate() error {
	if len(bh.Time) == 0 {
		return fmt.Errorf("baseline hazard: time vector must be non-empty")
	}
	if len(bh.Time) != len(bh.Hazard) {
		return fmt.Errorf("baseline hazard: time and hazard must have equal length, got %d and %d",
			len(bh.Time), len(bh.Hazard))
	}
	for i, t := range bh.Time {
		if math.IsNaN(t) || math.IsInf(t, 0) || t < 0 {
			return fmt.Errorf("baseline hazard: time[%d] must be finite and nonnegative, got %v", i, t)
		}
		if i > 0 && t <= bh.Time[i-1] {
			return fmt.Errorf("baseline hazard: time must be strictly increasing, time[%d]=%v <= time[%d]=%v",
				i, t, i-1, bh.Time[i-1])
		}
	}
	for i, h := range bh.Hazard {
		if math.IsNaN(h) || math.IsInf(h, 0) || h < 0 {
			return fmt.Errorf("baseline hazard: hazard[%d] must be finite and nonnegative, got %v", i, h)
		}
	}
	return nil
}

// Len returns the number of timepoints in the table
func (bh *BaselineHazard) Len() int { return len(bh.Time) }

// CumHazard returns the cumulative baseline hazard as a fresh slice
func (bh *BaselineHazard) CumHazard() []float64 {
	out := make([]float64, len(bh.Hazard))
	floats.CumSum(out, bh.Hazard)
	return out
}

// cumsum returns the running sum of v as a fresh slice
func cumsum(v []float64) []float64 {
	out := make([]float64, len(v))
	floats.CumSum(out, v)
	return out
}

// ones returns a slice of n ones
func ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}
