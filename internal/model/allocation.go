package model

import "time"

// AllocationWeights is one approved capital allocation snapshot. Weights map
// strategy id to a percent of equity; their sum never exceeds
// max_leverage * 100. Fallback marks an equal-weight result produced after a
// solver failure.
type AllocationWeights struct {
	Version     uint64             `json:"version"`
	Weights     map[string]float64 `json:"weights"`
	Fallback    bool               `json:"fallback"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// Weight returns the percent allocated to a strategy, and whether the
// strategy is part of the allocation at all.
func (a AllocationWeights) Weight(strategyID string) (float64, bool) {
	w, ok := a.Weights[strategyID]
	return w, ok
}

// Sum returns the total allocated percent.
func (a AllocationWeights) Sum() float64 {
	var sum float64
	for _, w := range a.Weights {
		sum += w
	}
	return sum
}
