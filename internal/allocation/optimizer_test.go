package allocation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/pkg/exception"
)

func testConfig() Config {
	return Config{
		MinAllocation:     0,
		MaxSingleStrategy: 0.6,
		MaxLeverage:       1.0,
		MaxDrawdownLimit:  0.30,
	}
}

func constantSeries(r float64, n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = r
	}
	return s
}

func TestOptimizeRespectsBounds(t *testing.T) {
	returns := map[string][]float64{
		"winner": constantSeries(0.004, 120),
		"loser":  constantSeries(-0.002, 120),
	}

	w, err := Optimize(returns, testConfig())
	require.NoError(t, err)
	assert.False(t, w.Fallback)

	var sum float64
	for id, pct := range w.Weights {
		assert.GreaterOrEqual(t, pct, weightEpsilonPct, "weight for %s", id)
		assert.LessOrEqual(t, pct, 60.0+1e-6, "weight for %s", id)
		sum += pct
	}
	assert.LessOrEqual(t, sum, 100.0+1e-6)

	// All of the edge is in one strategy; the solver should load it up to
	// its per-strategy cap and starve the losing one.
	assert.Greater(t, w.Weights["winner"], w.Weights["loser"]+30.0)
}

func TestOptimizeDrawdownConstraint(t *testing.T) {
	// High return but a violent crash in the middle of the window.
	crash := constantSeries(0.01, 120)
	for i := 55; i < 65; i++ {
		crash[i] = -0.08
	}
	returns := map[string][]float64{
		"crash":  crash,
		"steady": constantSeries(0.0005, 120),
	}

	cfg := testConfig()
	cfg.MaxDrawdownLimit = 0.10

	w, err := Optimize(returns, cfg)
	require.NoError(t, err)

	// Recompute the portfolio drawdown at the published weights.
	portfolio := make([]float64, 120)
	for id, pct := range w.Weights {
		for t0, r := range returns[id] {
			portfolio[t0] += pct / 100 * r
		}
	}
	dd := -maxDrawdown(portfolio)
	assert.LessOrEqual(t, dd, cfg.MaxDrawdownLimit+0.01, "drawdown %f", dd)
}

func TestOptimizeFallbackOnDegenerateInput(t *testing.T) {
	// Every strategy loses everything: no feasible weights produce a valid
	// growth factor, so the result must be the flagged equal-weight fallback.
	returns := map[string][]float64{
		"a": constantSeries(-0.5, 40),
		"b": constantSeries(-0.5, 40),
	}

	w, err := Optimize(returns, testConfig())
	require.NoError(t, err)
	assert.True(t, w.Fallback)
	assert.InDelta(t, 50.0, w.Weights["a"], 1e-9)
	assert.InDelta(t, 50.0, w.Weights["b"], 1e-9)
}

func TestOptimizeInputValidation(t *testing.T) {
	_, err := Optimize(nil, testConfig())
	assert.ErrorIs(t, err, exception.ErrAllocationNoSeries)

	_, err = Optimize(map[string][]float64{"a": constantSeries(0.01, 5)}, testConfig())
	assert.ErrorIs(t, err, exception.ErrAllocationShortWindow)

	bad := testConfig()
	bad.MaxSingleStrategy = 0
	_, err = Optimize(map[string][]float64{"a": constantSeries(0.01, 40)}, bad)
	assert.ErrorIs(t, err, exception.ErrAllocationBadBounds)
}

func TestOptimizeAlignsTrailingWindow(t *testing.T) {
	// Mismatched lengths must not error; series align to the shortest.
	returns := map[string][]float64{
		"long":  constantSeries(0.001, 300),
		"short": constantSeries(0.002, 60),
	}
	w, err := Optimize(returns, testConfig())
	require.NoError(t, err)
	assert.False(t, w.Fallback)
}

func TestCAGR(t *testing.T) {
	// 1% per day over 252 days compounds to (1.01)^252 - 1 annualized.
	got := cagr(constantSeries(0.01, 252), 252)
	want := math.Pow(1.01, 252) - 1
	assert.InDelta(t, want, got, 1e-9)

	assert.Equal(t, -1.0, cagr([]float64{-1.5}, 252))
	assert.Equal(t, 0.0, cagr(nil, 252))
}

func TestMaxDrawdown(t *testing.T) {
	// Up 10%, down 20%, recover: trough is 0.88x the 1.10 peak.
	dd := maxDrawdown([]float64{0.10, -0.20, 0.30})
	assert.InDelta(t, -0.20, dd, 1e-9)

	assert.Equal(t, 0.0, maxDrawdown(constantSeries(0.01, 10)))
}

func TestStoreVersionsMonotonic(t *testing.T) {
	s := NewStore(fallbackWeights([]string{"a", "b"}, testConfig()))
	first := s.Current()
	assert.EqualValues(t, 1, first.Version)

	installed := s.Replace(fallbackWeights([]string{"a"}, testConfig()))
	assert.EqualValues(t, 2, installed.Version)
	assert.EqualValues(t, 2, s.Current().Version)

	// Mutating a returned copy must not leak into the store.
	got := s.Current()
	got.Weights["a"] = 0
	assert.NotEqual(t, 0.0, s.Current().Weights["a"])
}
