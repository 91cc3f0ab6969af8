package allocation

import "math"

// cagr annualizes a daily return series. Returns the large negative sentinel
// when compounding wipes the portfolio out (growth factor <= 0), which the
// optimizer treats as an immediate penalty.
func cagr(returns []float64, periodsPerYear float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	growth := 1.0
	for _, r := range returns {
		growth *= 1 + r
	}
	if growth <= 0 {
		return -1
	}
	return math.Pow(growth, periodsPerYear/float64(len(returns))) - 1
}

// maxDrawdown returns the worst peak-to-trough decline of the compounded
// series as a non-positive fraction (e.g. -0.25 for a 25% drawdown).
func maxDrawdown(returns []float64) float64 {
	equity := 1.0
	peak := 1.0
	worst := 0.0
	for _, r := range returns {
		equity *= 1 + r
		if equity > peak {
			peak = equity
		}
		if dd := equity/peak - 1; dd < worst {
			worst = dd
		}
	}
	return worst
}

// alignTrailing trims every series to the most recent n samples.
func alignTrailing(series [][]float64, n int) [][]float64 {
	out := make([][]float64, len(series))
	for i, s := range series {
		out[i] = s[len(s)-n:]
	}
	return out
}
