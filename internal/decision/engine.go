// Package decision sizes incoming signals against the approved allocation
// and the account's margin headroom. Business rejections are results, not
// errors.
package decision

import (
	"github.com/shopspring/decimal"

	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/obs"
)

var hundred = decimal.NewFromInt(100)

// Policy holds the sizing constants. Margin requirement fractions are policy
// inputs, not invariants; defaults are 0.5 for equities and 1.0 for
// everything non-marginable.
type Policy struct {
	MaxMarginUtilizationPct decimal.Decimal
	MarginFractions         map[enum.InstrumentType]decimal.Decimal
}

// DefaultPolicy returns the observed production constants.
func DefaultPolicy() Policy {
	return Policy{
		MaxMarginUtilizationPct: decimal.NewFromInt(40),
		MarginFractions: map[enum.InstrumentType]decimal.Decimal{
			enum.InstrumentTypeEquity: decimal.NewFromFloat(0.5),
		},
	}
}

func (p Policy) marginFraction(t enum.InstrumentType) decimal.Decimal {
	if f, ok := p.MarginFractions[t]; ok && f.IsPositive() {
		return f
	}
	return decimal.NewFromInt(1)
}

// Result is the typed decision outcome emitted for every signal.
type Result struct {
	Decision         enum.Decision     `json:"decision"`
	FinalQuantity    decimal.Decimal   `json:"final_quantity"`
	AllocatedCapital decimal.Decimal   `json:"allocated_capital"`
	MarginRequired   decimal.Decimal   `json:"margin_required"`
	Reason           string            `json:"reason,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// PositionReader is the ledger lookup exits are checked against.
type PositionReader interface {
	OpenPosition(strategyID, instrument string) (model.Position, bool)
}

// Engine applies the RECEIVED -> SIZED -> {APPROVED | RESIZED | REJECTED}
// state machine per signal.
type Engine struct {
	policy    Policy
	positions PositionReader
}

// NewEngine creates an engine with the given policy and position lookup.
func NewEngine(policy Policy, positions PositionReader) *Engine {
	return &Engine{policy: policy, positions: positions}
}

// Decide sizes one signal against the current allocation and account state.
// price is the reference price used for sizing.
func (e *Engine) Decide(sig model.Signal, weights model.AllocationWeights, account model.AccountSnapshot, price decimal.Decimal) Result {
	var res Result
	if sig.Action.IsExit() {
		res = e.decideExit(sig)
	} else {
		res = e.decideEntry(sig, weights, account, price)
	}
	obs.Decisions.WithLabelValues(res.Decision.String()).Inc()
	return res
}

func (e *Engine) decideEntry(sig model.Signal, weights model.AllocationWeights, account model.AccountSnapshot, price decimal.Decimal) Result {
	pct, ok := weights.Weight(sig.StrategyID)
	if !ok || pct <= 0 {
		return rejected("not in current allocation")
	}
	if !price.IsPositive() {
		return rejected("non-positive reference price")
	}
	if !account.Equity.IsPositive() {
		return rejected("non-positive account equity")
	}

	allocatedPct := decimal.NewFromFloat(pct)
	allocatedCapital := account.Equity.Mul(allocatedPct).Div(hundred)
	quantity := allocatedCapital.Div(price)

	marginFraction := e.policy.marginFraction(sig.InstrumentType)
	marginRequired := allocatedCapital.Mul(marginFraction)
	projectedPct := account.MarginUsed.Add(marginRequired).Div(account.Equity).Mul(hundred)

	if projectedPct.GreaterThan(e.policy.MaxMarginUtilizationPct) {
		// Headroom left under the cap, in margin currency.
		maxAdditional := account.Equity.Mul(e.policy.MaxMarginUtilizationPct).Div(hundred).
			Sub(account.MarginUsed)
		if !maxAdditional.IsPositive() {
			return rejected("insufficient margin")
		}

		reduction := maxAdditional.Div(marginRequired)
		return Result{
			Decision:         enum.DecisionResized,
			FinalQuantity:    quantity.Mul(reduction),
			AllocatedCapital: allocatedCapital.Mul(reduction),
			MarginRequired:   maxAdditional,
			Reason:           "margin utilization cap",
			Metadata: map[string]string{
				"reduction_factor":       reduction.String(),
				"requested_quantity":     quantity.String(),
				"projected_margin_pct":   projectedPct.String(),
				"max_margin_pct":         e.policy.MaxMarginUtilizationPct.String(),
				"margin_required_before": marginRequired.String(),
			},
		}
	}

	return Result{
		Decision:         enum.DecisionApproved,
		FinalQuantity:    quantity,
		AllocatedCapital: allocatedCapital,
		MarginRequired:   marginRequired,
	}
}

// decideExit sizes an exit against the open position. An exit with no
// matching open position is rejected loudly rather than approved naked.
func (e *Engine) decideExit(sig model.Signal) Result {
	pos, ok := e.positions.OpenPosition(sig.StrategyID, sig.Instrument)
	if !ok {
		return rejected("no open position for exit")
	}

	quantity := sig.Quantity
	if !quantity.IsPositive() || sig.Action == enum.SignalActionExit {
		quantity = pos.Quantity
	}
	if quantity.GreaterThan(pos.Quantity) {
		quantity = pos.Quantity
	}

	return Result{
		Decision:      enum.DecisionApproved,
		FinalQuantity: quantity,
		Metadata: map[string]string{
			"open_quantity": pos.Quantity.String(),
			"exit":          "true",
		},
	}
}

func rejected(reason string) Result {
	return Result{Decision: enum.DecisionRejected, Reason: reason}
}
