// Package allocation solves for portfolio weights maximizing compounded
// annual growth subject to leverage, drawdown, and per-strategy bounds.
package allocation

import (
	"math"
	"sort"
	"time"

	"github.com/yanun0323/logs"
	"gonum.org/v1/gonum/optimize"

	"main/internal/model"
	"main/pkg/exception"
)

const (
	tradingDaysPerYear = 252

	// Weights below this percent are noise from the solver and dropped.
	weightEpsilonPct = 0.01

	// Constraint violations dominate any achievable objective value.
	penalty = 1e6

	minWindow = 20
)

// Config bounds the solve. All weight fields are fractions of equity
// (0.25 = 25%), MaxDrawdownLimit a positive fraction (0.3 = tolerate -30%).
type Config struct {
	MinAllocation     float64 `json:"min_allocation"`
	MaxSingleStrategy float64 `json:"max_single_strategy"`
	MaxLeverage       float64 `json:"max_leverage"`
	MaxDrawdownLimit  float64 `json:"max_drawdown_limit"`

	// Window caps the trailing sample count; 0 means the longest window
	// common to every series.
	Window int `json:"window"`
}

func (cfg Config) validate() error {
	if cfg.MinAllocation < 0 ||
		cfg.MaxSingleStrategy <= cfg.MinAllocation ||
		cfg.MaxSingleStrategy > cfg.MaxLeverage {
		return exception.ErrAllocationBadBounds
	}
	return nil
}

// Optimize computes allocation weights from daily strategy return series.
// Solver failure or a degenerate optimum degrade to an equal-weight
// allocation flagged Fallback, never an error and never invalid weights.
func Optimize(returns map[string][]float64, cfg Config) (model.AllocationWeights, error) {
	if err := cfg.validate(); err != nil {
		return model.AllocationWeights{}, err
	}
	if len(returns) == 0 {
		return model.AllocationWeights{}, exception.ErrAllocationNoSeries
	}

	ids := make([]string, 0, len(returns))
	for id := range returns {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	window := math.MaxInt
	series := make([][]float64, len(ids))
	for i, id := range ids {
		series[i] = returns[id]
		if len(series[i]) < window {
			window = len(series[i])
		}
	}
	if cfg.Window > 0 && cfg.Window < window {
		window = cfg.Window
	}
	if window < minWindow {
		return model.AllocationWeights{}, exception.ErrAllocationShortWindow
	}
	series = alignTrailing(series, window)

	objective := func(x []float64) float64 {
		w := clampWeights(x, cfg)
		portfolio := make([]float64, window)
		sum := 0.0
		for i, wi := range w {
			sum += wi
			for t, r := range series[i] {
				portfolio[t] += wi * r
			}
		}

		obj := -cagr(portfolio, tradingDaysPerYear)
		if sum > cfg.MaxLeverage {
			obj += penalty * (sum - cfg.MaxLeverage)
		}
		if dd := -maxDrawdown(portfolio); dd > cfg.MaxDrawdownLimit {
			obj += penalty * (dd - cfg.MaxDrawdownLimit)
		}
		return obj
	}

	guess := equalGuess(len(ids), cfg)
	problem := optimize.Problem{Func: objective}
	result, err := optimize.Minimize(problem, guess, nil, &optimize.NelderMead{})

	if err != nil || result == nil || objective(result.X) >= penalty {
		logs.Warnf("allocation solve degraded to equal-weight fallback: %v", err)
		return fallbackWeights(ids, cfg), nil
	}

	final := clampWeights(result.X, cfg)
	if sum := sumOf(final); sum > cfg.MaxLeverage {
		// Clamping can push the sum past the leverage cap even when the
		// solver respected it; rescale rather than publish invalid weights.
		scale := cfg.MaxLeverage / sum
		for i := range final {
			final[i] *= scale
		}
	}

	weights := make(map[string]float64, len(ids))
	for i, id := range ids {
		pct := final[i] * 100
		if pct < weightEpsilonPct {
			continue
		}
		weights[id] = pct
	}
	if len(weights) == 0 {
		logs.Warn("allocation solve produced empty weights, falling back")
		return fallbackWeights(ids, cfg), nil
	}

	return model.AllocationWeights{
		Weights:     weights,
		GeneratedAt: time.Now().UTC(),
	}, nil
}

// clampWeights maps raw solver coordinates into the feasible per-weight box.
func clampWeights(x []float64, cfg Config) []float64 {
	w := make([]float64, len(x))
	for i, v := range x {
		switch {
		case math.IsNaN(v), v < cfg.MinAllocation:
			w[i] = cfg.MinAllocation
		case v > cfg.MaxSingleStrategy:
			w[i] = cfg.MaxSingleStrategy
		default:
			w[i] = v
		}
	}
	return w
}

func equalGuess(n int, cfg Config) []float64 {
	w := cfg.MaxLeverage / float64(n)
	if w > cfg.MaxSingleStrategy {
		w = cfg.MaxSingleStrategy
	}
	if w < cfg.MinAllocation {
		w = cfg.MinAllocation
	}
	guess := make([]float64, n)
	for i := range guess {
		guess[i] = w
	}
	return guess
}

func fallbackWeights(ids []string, cfg Config) model.AllocationWeights {
	guess := equalGuess(len(ids), cfg)
	weights := make(map[string]float64, len(ids))
	for i, id := range ids {
		weights[id] = guess[i] * 100
	}
	return model.AllocationWeights{
		Weights:     weights,
		Fallback:    true,
		GeneratedAt: time.Now().UTC(),
	}
}

func sumOf(w []float64) float64 {
	var sum float64
	for _, v := range w {
		sum += v
	}
	return sum
}
